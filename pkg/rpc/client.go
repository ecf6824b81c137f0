package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"

	"github.com/fortiblox/x1-sale/internal/types"
	"github.com/fortiblox/x1-sale/pkg/transaction"
)

// DefaultClientTimeout bounds a single client call.
const DefaultClientTimeout = 30 * time.Second

// Client is a JSON-RPC client for a sale node.
type Client struct {
	endpoint   string
	httpClient *http.Client
	nextID     atomic.Uint64
}

// NewClient creates a client for endpoint, e.g. "http://127.0.0.1:8899".
func NewClient(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultClientTimeout
	}
	return &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// clientResponse is a response with the result left undecoded.
type clientResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// Call invokes method and decodes the result into result. A server side
// failure is returned as *RPCError.
func (c *Client) Call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	req := struct {
		JSONRPC string        `json:"jsonrpc"`
		ID      uint64        `json:"id"`
		Method  string        `json:"method"`
		Params  []interface{} `json:"params,omitempty"`
	}{
		JSONRPC: JSONRPCVersion,
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return errors.Wrap(err, "marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return errors.Wrap(err, "http request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read response")
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("http status %d: %s", resp.StatusCode, string(respBody))
	}

	var rpcResp clientResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return errors.Wrap(err, "unmarshal response")
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}

	if result != nil && len(rpcResp.Result) > 0 {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return errors.Wrap(err, "unmarshal result")
		}
	}
	return nil
}

// GetSlot returns the latest committed slot.
func (c *Client) GetSlot(ctx context.Context) (uint64, error) {
	var slot uint64
	err := c.Call(ctx, "getSlot", nil, &slot)
	return slot, err
}

// GetBalance returns the lamport balance of key.
func (c *Client) GetBalance(ctx context.Context, key types.Pubkey) (uint64, error) {
	var resp struct {
		Value uint64 `json:"value"`
	}
	err := c.Call(ctx, "getBalance", []interface{}{key.String()}, &resp)
	return resp.Value, err
}

// GetLatestBlockhash returns the blockhash new transactions should
// reference.
func (c *Client) GetLatestBlockhash(ctx context.Context) (types.Hash, error) {
	var resp struct {
		Value LatestBlockhash `json:"value"`
	}
	if err := c.Call(ctx, "getLatestBlockhash", nil, &resp); err != nil {
		return types.Hash{}, err
	}
	return types.HashFromBase58(resp.Value.Blockhash)
}

// GetTokenAccountBalance returns the balance of a token account.
func (c *Client) GetTokenAccountBalance(ctx context.Context, key types.Pubkey) (*TokenAmount, error) {
	var resp struct {
		Value TokenAmount `json:"value"`
	}
	if err := c.Call(ctx, "getTokenAccountBalance", []interface{}{key.String()}, &resp); err != nil {
		return nil, err
	}
	return &resp.Value, nil
}

// GetSaleConfig returns the sale configuration at the canonical sale
// address, or nil when the sale is not initialized.
func (c *Client) GetSaleConfig(ctx context.Context) (*SaleConfigInfo, error) {
	var resp struct {
		Value *SaleConfigInfo `json:"value"`
	}
	if err := c.Call(ctx, "getSaleConfig", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Value, nil
}

// SendTransaction submits a signed transaction and returns its signature.
func (c *Client) SendTransaction(ctx context.Context, tx *transaction.Transaction) (types.Signature, error) {
	var sig string
	if err := c.Call(ctx, "sendTransaction", []interface{}{base58.Encode(tx.Marshal())}, &sig); err != nil {
		return types.Signature{}, err
	}
	return types.SignatureFromBase58(sig)
}

// GetTransaction returns a journaled transaction, or nil when unknown.
func (c *Client) GetTransaction(ctx context.Context, sig types.Signature) (*TransactionResponse, error) {
	var resp *TransactionResponse
	if err := c.Call(ctx, "getTransaction", []interface{}{sig.String()}, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}
