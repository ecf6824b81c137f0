// Package node provides the orchestrator of a sale node.
//
// The Node ties together all components:
// - AccountsDB (memory or badger) holding the ledger state
// - Bank executing transactions with the system, token and sale programs
// - Blockstore journaling every executed transaction
// - Geyser server streaming account updates and transaction statuses
// - JSON-RPC server
//
// The node manages the lifecycle of these components: New opens storage
// and applies genesis, Run serves until its context is cancelled and Close
// shuts everything down in reverse order.
package node

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/fortiblox/x1-sale/internal/types"
	"github.com/fortiblox/x1-sale/pkg/accounts"
	"github.com/fortiblox/x1-sale/pkg/bank"
	"github.com/fortiblox/x1-sale/pkg/blockstore"
	"github.com/fortiblox/x1-sale/pkg/config"
	"github.com/fortiblox/x1-sale/pkg/geyser"
	"github.com/fortiblox/x1-sale/pkg/rpc"
	"github.com/fortiblox/x1-sale/pkg/svm/programs/sale"
	"github.com/fortiblox/x1-sale/pkg/svm/programs/system"
	"github.com/fortiblox/x1-sale/pkg/svm/programs/token"
)

// Node errors.
var (
	ErrAlreadyRunning = errors.New("node is already running")
	ErrClosed         = errors.New("node is closed")
	ErrInitFailed     = errors.New("node initialization failed")
)

// Node is a single sale node.
type Node struct {
	log    *logrus.Entry
	config config.Config

	// Core components
	accounts  accounts.DB
	bank      *bank.Bank
	journal   *blockstore.BoltStore
	rpcServer *rpc.Server
	stream    *geyser.Server

	// State management
	mu         sync.Mutex
	running    atomic.Bool
	closed     bool
	startTime  time.Time
	rpcAddr    net.Addr
	streamAddr net.Addr

	lastError   error
	lastErrorMu sync.RWMutex
}

// New opens storage, applies genesis on an empty store and builds the
// bank and servers. Nothing listens until Run is called.
func New(cfg *config.Config) (*Node, error) {
	if cfg == nil {
		d := config.Default()
		cfg = &d
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	n := &Node{
		log:    logrus.StandardLogger().WithField("type", "node"),
		config: *cfg,
	}
	if err := n.initialize(); err != nil {
		n.closeStorage()
		return nil, errors.Wrapf(ErrInitFailed, "%v", err)
	}
	return n, nil
}

// initialize sets up all storage backends and components.
func (n *Node) initialize() error {
	db, err := n.openAccounts()
	if err != nil {
		return err
	}
	n.accounts = db

	if err := n.loadInitialState(); err != nil {
		return err
	}

	bankConfig := bank.DefaultConfig()
	bankConfig.LamportsPerSignature = n.config.Ledger.LamportsPerSignature
	bankConfig.ComputeUnitLimit = n.config.Ledger.ComputeUnitLimit
	if n.config.Ledger.MaxBlockhashAge > 0 {
		bankConfig.MaxBlockhashAge = n.config.Ledger.MaxBlockhashAge
	}

	b, err := bank.New(db, bankConfig)
	if err != nil {
		return errors.Wrap(err, "open bank")
	}
	b.RegisterProgram(system.ProgramID, system.NewProcessor())
	b.RegisterProgram(token.ProgramID, token.NewProcessor())
	b.RegisterProgram(sale.ProgramID, sale.NewProcessor())
	n.bank = b

	if n.config.Journal.Enabled {
		journalConfig := blockstore.DefaultConfig(n.config.Journal.Path)
		journalConfig.PruneEnabled = n.config.Journal.RetainSlots > 0
		journalConfig.RetainSlots = n.config.Journal.RetainSlots
		if n.config.Journal.PruneInterval > 0 {
			journalConfig.PruneInterval = n.config.Journal.PruneInterval
		}

		journal, err := blockstore.Open(journalConfig)
		if err != nil {
			return errors.Wrap(err, "open journal")
		}
		n.journal = journal
		b.AddListener(journal)
	}

	if n.config.Stream.Enabled {
		stream, err := geyser.NewServer(geyser.ServerConfig{
			Addr:           n.config.Stream.Addr,
			Token:          n.config.Stream.Token,
			BufferSize:     n.config.Stream.BufferSize,
			MaxSubscribers: n.config.Stream.MaxSubscribers,
		})
		if err != nil {
			return errors.Wrap(err, "create event stream")
		}
		n.stream = stream
		b.AddListener(stream)
	}

	if n.config.RPC.Enabled {
		rpcConfig := rpc.DefaultConfig()
		rpcConfig.Addr = n.config.RPC.Addr
		rpcConfig.ReadTimeout = n.config.RPC.ReadTimeout
		rpcConfig.WriteTimeout = n.config.RPC.WriteTimeout
		rpcConfig.RequestTimeout = n.config.RPC.RequestTimeout
		if n.config.RPC.MaxRequestSize > 0 {
			rpcConfig.MaxRequestSize = n.config.RPC.MaxRequestSize
		}
		rpcConfig.EnableCORS = n.config.RPC.EnableCORS
		rpcConfig.AllowedOrigins = n.config.RPC.AllowedOrigins
		rpcConfig.LogRequests = n.config.RPC.LogRequests

		// A nil *BoltStore must not become a non-nil interface.
		var journal rpc.Journal
		if n.journal != nil {
			journal = n.journal
		}
		n.rpcServer = rpc.New(rpcConfig, b, journal)
	}

	return nil
}

func (n *Node) openAccounts() (accounts.DB, error) {
	if n.config.Ledger.Storage != config.StorageBadger {
		return accounts.NewMemoryDB(), nil
	}

	if err := os.MkdirAll(n.config.Ledger.DataDir, 0755); err != nil {
		return nil, errors.Wrap(err, "create data directory")
	}
	dbConfig := accounts.DefaultBadgerDBConfig(filepath.Join(n.config.Ledger.DataDir, "accounts"))
	dbConfig.Logger = logrus.StandardLogger().WithField("type", "badger")
	db, err := accounts.NewBadgerDB(dbConfig)
	if err != nil {
		return nil, errors.Wrap(err, "open accounts database")
	}
	return db, nil
}

// loadInitialState seeds an empty store from the configured snapshot when
// it exists, otherwise from the genesis accounts.
func (n *Node) loadInitialState() error {
	count, err := n.accounts.AccountsCount()
	if err != nil {
		return errors.Wrap(err, "count accounts")
	}
	if count > 0 {
		n.log.WithFields(logrus.Fields{
			"accounts": count,
			"slot":     n.accounts.GetSlot(),
		}).Info("resuming from existing ledger")
		return nil
	}

	if path := n.config.Ledger.SnapshotPath; path != "" {
		if _, err := os.Stat(path); err == nil {
			header, err := accounts.LoadSnapshotFile(path, n.accounts)
			if err != nil {
				return errors.Wrapf(err, "load snapshot %s", path)
			}
			n.log.WithFields(logrus.Fields{
				"path":     path,
				"slot":     header.Slot,
				"accounts": header.AccountsCount,
			}).Info("restored snapshot")
			return nil
		}
	}

	return n.applyGenesis()
}

// applyGenesis funds the configured system accounts.
func (n *Node) applyGenesis() error {
	for i, ga := range n.config.Genesis.Accounts {
		key, err := ga.Key()
		if err != nil {
			return errors.Wrapf(err, "genesis account %d", i)
		}
		account := &accounts.Account{
			Lamports: ga.Lamports,
			Owner:    types.SystemProgramAddr,
		}
		if err := n.accounts.SetAccount(key, account); err != nil {
			return errors.Wrapf(err, "fund genesis account %s", key)
		}
	}
	if len(n.config.Genesis.Accounts) > 0 {
		n.log.WithField("accounts", len(n.config.Genesis.Accounts)).Info("applied genesis")
	}
	return nil
}

// Run starts the RPC server and the event stream and blocks until ctx is
// cancelled or a server fails.
func (n *Node) Run(ctx context.Context) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return ErrClosed
	}
	if n.running.Load() {
		n.mu.Unlock()
		return ErrAlreadyRunning
	}

	var rpcLis, streamLis net.Listener
	if n.rpcServer != nil {
		lis, err := net.Listen("tcp", n.config.RPC.Addr)
		if err != nil {
			n.mu.Unlock()
			return errors.Wrapf(err, "listen rpc %s", n.config.RPC.Addr)
		}
		rpcLis = lis
		n.rpcAddr = lis.Addr()
	}
	if n.stream != nil {
		lis, err := net.Listen("tcp", n.config.Stream.Addr)
		if err != nil {
			if rpcLis != nil {
				rpcLis.Close()
			}
			n.mu.Unlock()
			return errors.Wrapf(err, "listen stream %s", n.config.Stream.Addr)
		}
		streamLis = lis
		n.streamAddr = lis.Addr()
	}

	n.running.Store(true)
	n.startTime = time.Now()
	n.mu.Unlock()
	defer n.running.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	if rpcLis != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := n.rpcServer.Serve(ctx, rpcLis); err != nil {
				errCh <- errors.Wrap(err, "rpc server")
			}
		}()
	}
	if streamLis != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := n.stream.Serve(streamLis); err != nil && !errors.Is(err, geyser.ErrServerClosed) {
				errCh <- errors.Wrap(err, "event stream")
			}
		}()
	}

	n.log.WithFields(logrus.Fields{
		"slot":   n.bank.Slot(),
		"rpc":    addrString(n.rpcAddr),
		"stream": addrString(n.streamAddr),
	}).Info("node started")

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		n.setLastError(runErr)
		n.log.WithError(runErr).Error("server failed")
	}

	cancel()
	if n.rpcServer != nil {
		_ = n.rpcServer.Stop()
	}
	if n.stream != nil {
		n.stream.Stop()
	}
	wg.Wait()

	n.log.Info("node stopped")
	return runErr
}

// Close stops the bank and closes storage. When configured, a snapshot of
// the account store is written first.
func (n *Node) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true

	if n.rpcServer != nil {
		_ = n.rpcServer.Stop()
	}
	if n.stream != nil {
		n.stream.Stop()
	}
	if n.bank != nil {
		n.bank.Close()
	}

	var err error
	if n.config.Ledger.SnapshotOnShutdown && n.accounts != nil {
		header, snapErr := accounts.SaveSnapshotFile(n.config.Ledger.SnapshotPath, n.accounts)
		if snapErr != nil {
			err = errors.Wrap(snapErr, "write snapshot")
		} else {
			n.log.WithFields(logrus.Fields{
				"path":     n.config.Ledger.SnapshotPath,
				"slot":     header.Slot,
				"accounts": header.AccountsCount,
			}).Info("wrote snapshot")
		}
	}

	if closeErr := n.closeStorage(); err == nil {
		err = closeErr
	}
	return err
}

// closeStorage closes all storage backends.
func (n *Node) closeStorage() error {
	var err error
	if n.journal != nil {
		if closeErr := n.journal.Close(); closeErr != nil {
			err = errors.Wrap(closeErr, "close journal")
		}
	}
	if n.accounts != nil {
		if closeErr := n.accounts.Close(); closeErr != nil && err == nil {
			err = errors.Wrap(closeErr, "close accounts")
		}
	}
	return err
}

// Bank returns the node's bank.
func (n *Node) Bank() *bank.Bank {
	return n.bank
}

// Journal returns the transaction journal, or nil when disabled.
func (n *Node) Journal() *blockstore.BoltStore {
	return n.journal
}

// RPCAddr returns the address the RPC server listens on while running.
func (n *Node) RPCAddr() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return addrString(n.rpcAddr)
}

// StreamAddr returns the address the event stream listens on while running.
func (n *Node) StreamAddr() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return addrString(n.streamAddr)
}

// Status returns the current node status.
func (n *Node) Status() *Status {
	stats := n.bank.Stats()

	var accountsCount uint64
	if n.accounts != nil {
		accountsCount, _ = n.accounts.AccountsCount()
	}

	var journalStats *blockstore.Stats
	if n.journal != nil {
		journalStats, _ = n.journal.GetStats()
	}

	var subscribers int
	if n.stream != nil {
		subscribers = n.stream.Stats().Subscribers
	}

	var uptime time.Duration
	if n.running.Load() {
		uptime = time.Since(n.startTime)
	}

	return &Status{
		Slot:                  stats.Slot,
		AccountsCount:         accountsCount,
		IsRunning:             n.running.Load(),
		Uptime:                uptime,
		TransactionsProcessed: stats.TransactionsProcessed,
		TransactionsFailed:    stats.TransactionsFailed,
		FeesCollected:         stats.FeesCollected,
		JournalStats:          journalStats,
		Subscribers:           subscribers,
		RPCAddr:               n.RPCAddr(),
		StreamAddr:            n.StreamAddr(),
		LastError:             n.getLastError(),
	}
}

// Status contains the current node status.
type Status struct {
	// Slot is the latest committed slot.
	Slot uint64

	// AccountsCount is the total number of accounts in the database.
	AccountsCount uint64

	// IsRunning indicates if the node is serving.
	IsRunning bool

	// Uptime is how long the node has been serving.
	Uptime time.Duration

	TransactionsProcessed uint64
	TransactionsFailed    uint64
	FeesCollected         uint64

	// JournalStats is nil when the journal is disabled.
	JournalStats *blockstore.Stats

	// Subscribers is the number of event stream subscribers.
	Subscribers int

	RPCAddr    string
	StreamAddr string

	// LastError is the most recent server failure.
	LastError error
}

// setLastError safely sets the last error.
func (n *Node) setLastError(err error) {
	n.lastErrorMu.Lock()
	n.lastError = err
	n.lastErrorMu.Unlock()
}

// getLastError safely gets the last error.
func (n *Node) getLastError() error {
	n.lastErrorMu.RLock()
	defer n.lastErrorMu.RUnlock()
	return n.lastError
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}
