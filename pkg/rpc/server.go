// Package rpc implements the JSON-RPC 2.0 server of the sale node.
//
// The API follows the Solana JSON-RPC conventions so existing clients can
// talk to the node.
//
// Supported methods:
//   - Account: getAccountInfo, getBalance, getMultipleAccounts, getTokenAccountBalance
//   - Sale: getSaleConfig
//   - Transaction: sendTransaction, simulateTransaction, getTransaction,
//     getSignaturesForAddress, getSignatureStatuses
//   - Cluster: getSlot, getHealth, getVersion, getTransactionCount
//   - Info: getLatestBlockhash, isBlockhashValid, getMinimumBalanceForRentExemption
package rpc

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/fortiblox/x1-sale/internal/types"
	"github.com/fortiblox/x1-sale/pkg/accounts"
	"github.com/fortiblox/x1-sale/pkg/bank"
	"github.com/fortiblox/x1-sale/pkg/blockstore"
	"github.com/fortiblox/x1-sale/pkg/transaction"
)

// Ledger is the bank as seen by the RPC server.
type Ledger interface {
	GetAccount(key types.Pubkey) (*accounts.Account, error)
	GetBalance(key types.Pubkey) (uint64, error)
	LatestBlockhash() (types.Hash, uint64)
	IsBlockhashValid(hash types.Hash) bool
	Slot() uint64
	Stats() bank.Stats
	MinimumBalanceForRentExemption(dataLen uint64) uint64
	ProcessTransaction(ctx context.Context, tx *transaction.Transaction) (*bank.ExecutionResult, error)
	SimulateTransaction(ctx context.Context, tx *transaction.Transaction, verifySignatures bool) (*bank.ExecutionResult, error)
}

// Journal is the transaction history as seen by the RPC server.
type Journal interface {
	GetTransaction(signature types.Signature) (*blockstore.TransactionRecord, error)
	GetSignaturesForAddress(address types.Pubkey, opts *blockstore.SignatureQueryOptions) ([]blockstore.SignatureInfo, error)
}

var _ Ledger = (*bank.Bank)(nil)
var _ Journal = (*blockstore.BoltStore)(nil)

// Config holds RPC server configuration.
type Config struct {
	// Addr is the listen address (host:port).
	Addr string

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum duration before timing out writes of the response.
	WriteTimeout time.Duration

	// RequestTimeout bounds the execution of a single request.
	RequestTimeout time.Duration

	// MaxRequestSize is the maximum allowed request body size in bytes.
	MaxRequestSize int64

	// EnableCORS enables CORS headers for browser access.
	EnableCORS bool

	// AllowedOrigins specifies allowed CORS origins (empty means all).
	AllowedOrigins []string

	// LogRequests enables request logging.
	LogRequests bool
}

// DefaultConfig returns a default RPC server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:           "127.0.0.1:8899",
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		RequestTimeout: 10 * time.Second,
		MaxRequestSize: 50 * 1024, // 50KB
		EnableCORS:     true,
		LogRequests:    false,
	}
}

// Server is the JSON-RPC 2.0 server.
type Server struct {
	log    *logrus.Entry
	config Config

	ledger  Ledger
	journal Journal

	healthy  bool
	healthMu sync.RWMutex

	server *http.Server

	// Method handlers
	handlers map[string]handlerFunc

	mu      sync.Mutex
	running bool
}

// handlerFunc is a JSON-RPC method handler.
type handlerFunc func(ctx context.Context, params json.RawMessage) (interface{}, *RPCError)

// New creates a new RPC server. journal may be nil, in which case the
// history methods report that history is unavailable.
func New(config Config, ledger Ledger, journal Journal) *Server {
	s := &Server{
		log:      logrus.StandardLogger().WithField("type", "rpc"),
		config:   config,
		ledger:   ledger,
		journal:  journal,
		healthy:  true,
		handlers: make(map[string]handlerFunc),
	}

	s.registerHandlers()

	return s
}

// registerHandlers registers all RPC method handlers.
func (s *Server) registerHandlers() {
	// Account methods
	s.handlers["getAccountInfo"] = s.getAccountInfo
	s.handlers["getBalance"] = s.getBalance
	s.handlers["getMultipleAccounts"] = s.getMultipleAccounts
	s.handlers["getTokenAccountBalance"] = s.getTokenAccountBalance

	// Sale methods
	s.handlers["getSaleConfig"] = s.getSaleConfig

	// Transaction methods
	s.handlers["sendTransaction"] = s.sendTransaction
	s.handlers["simulateTransaction"] = s.simulateTransaction
	s.handlers["getTransaction"] = s.getTransaction
	s.handlers["getSignaturesForAddress"] = s.getSignaturesForAddress
	s.handlers["getSignatureStatuses"] = s.getSignatureStatuses

	// Cluster methods
	s.handlers["getSlot"] = s.getSlot
	s.handlers["getHealth"] = s.getHealth
	s.handlers["getVersion"] = s.getVersion
	s.handlers["getTransactionCount"] = s.getTransactionCount

	// Info methods
	s.handlers["getLatestBlockhash"] = s.getLatestBlockhash
	s.handlers["isBlockhashValid"] = s.isBlockhashValid
	s.handlers["getMinimumBalanceForRentExemption"] = s.getMinimumBalanceForRentExemption
}

// Handler returns the HTTP handler serving the API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRPC)
	return s.corsMiddleware(mux)
}

// Start serves on the configured address until ctx is done or Stop is
// called.
func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", s.config.Addr)
	}
	return s.Serve(ctx, lis)
}

// Serve serves on lis until ctx is done or Stop is called.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	server := s.server
	s.mu.Unlock()

	// Handle graceful shutdown
	go func() {
		<-ctx.Done()
		_ = s.Stop()
	}()

	s.log.WithField("addr", lis.Addr().String()).Info("rpc server listening")

	err := server.Serve(lis)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop stops the RPC server.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	s.running = false
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(ctx)
	}
	return nil
}

// SetHealthy sets the server health status.
func (s *Server) SetHealthy(healthy bool) {
	s.healthMu.Lock()
	s.healthy = healthy
	s.healthMu.Unlock()
}

// IsHealthy returns the current health status.
func (s *Server) IsHealthy() bool {
	s.healthMu.RLock()
	defer s.healthMu.RUnlock()
	return s.healthy
}

// corsMiddleware adds CORS headers if enabled.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	if !s.config.EnableCORS {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			allowed := len(s.config.AllowedOrigins) == 0
			for _, allowedOrigin := range s.config.AllowedOrigins {
				if allowedOrigin == origin || allowedOrigin == "*" {
					allowed = true
					break
				}
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, solana-client")
				w.Header().Set("Access-Control-Max-Age", "3600")
			}
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleRPC handles incoming JSON-RPC requests.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, s.config.MaxRequestSize+1))
	if err != nil {
		s.writeJSON(w, errorResponse(nil, ErrParseError))
		return
	}
	if int64(len(body)) > s.config.MaxRequestSize {
		http.Error(w, "Request too large", http.StatusRequestEntityTooLarge)
		return
	}

	ctx := r.Context()
	if s.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.RequestTimeout)
		defer cancel()
	}

	// Check if this is a batch request
	if len(body) > 0 && body[0] == '[' {
		s.handleBatchRequest(ctx, w, body)
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeJSON(w, errorResponse(nil, ErrParseError))
		return
	}

	s.writeJSON(w, s.call(ctx, req))
}

// handleBatchRequest handles batch JSON-RPC requests.
func (s *Server) handleBatchRequest(ctx context.Context, w http.ResponseWriter, body []byte) {
	var requests []Request
	if err := json.Unmarshal(body, &requests); err != nil {
		s.writeJSON(w, errorResponse(nil, ErrParseError))
		return
	}

	if len(requests) == 0 {
		s.writeJSON(w, errorResponse(nil, ErrInvalidRequest))
		return
	}

	responses := make([]Response, len(requests))
	for i, req := range requests {
		responses[i] = s.call(ctx, req)
	}

	s.writeJSON(w, responses)
}

func (s *Server) call(ctx context.Context, req Request) Response {
	if req.JSONRPC != JSONRPCVersion {
		return errorResponse(req.ID, ErrInvalidRequest)
	}

	if s.config.LogRequests {
		s.log.WithFields(logrus.Fields{"method": req.Method, "id": req.ID}).Debug("rpc request")
	}

	result, rpcErr := s.dispatch(ctx, req.Method, req.Params)
	if rpcErr != nil {
		return errorResponse(req.ID, rpcErr)
	}
	return Response{
		JSONRPC: JSONRPCVersion,
		ID:      req.ID,
		Result:  result,
	}
}

// dispatch routes RPC methods to their handlers.
func (s *Server) dispatch(ctx context.Context, method string, params json.RawMessage) (interface{}, *RPCError) {
	handler, ok := s.handlers[method]
	if !ok {
		return nil, NewRPCError(MethodNotFound, "Method not found: "+method)
	}

	return handler(ctx, params)
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Warn("failed to write rpc response")
	}
}

func errorResponse(id interface{}, err *RPCError) Response {
	return Response{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error:   err,
	}
}
