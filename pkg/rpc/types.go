package rpc

import (
	"encoding/json"
)

// JSON-RPC 2.0 constants.
const (
	JSONRPCVersion = "2.0"
)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Context provides slot context for RPC responses.
type Context struct {
	Slot uint64 `json:"slot"`
}

// ResponseWithContext wraps a value with context.
type ResponseWithContext struct {
	Context Context     `json:"context"`
	Value   interface{} `json:"value"`
}

// Encoding types for account data and wire transactions.
type Encoding string

const (
	EncodingBase58     Encoding = "base58"
	EncodingBase64     Encoding = "base64"
	EncodingBase64Zstd Encoding = "base64+zstd"
)

// DataSlice specifies a portion of account data to return.
type DataSlice struct {
	Offset uint64 `json:"offset"`
	Length uint64 `json:"length"`
}

// AccountInfoConfig configures getAccountInfo and getMultipleAccounts.
type AccountInfoConfig struct {
	Encoding       Encoding   `json:"encoding,omitempty"`
	DataSlice      *DataSlice `json:"dataSlice,omitempty"`
	MinContextSlot *uint64    `json:"minContextSlot,omitempty"`
}

// ContextConfig configures methods that only take a minimum slot.
type ContextConfig struct {
	MinContextSlot *uint64 `json:"minContextSlot,omitempty"`
}

// TransactionConfig configures getTransaction.
type TransactionConfig struct {
	Encoding Encoding `json:"encoding,omitempty"`
}

// SignaturesForAddressConfig configures getSignaturesForAddress.
type SignaturesForAddressConfig struct {
	Limit  int    `json:"limit,omitempty"`
	Before string `json:"before,omitempty"`
	Until  string `json:"until,omitempty"`
}

// SignatureStatusConfig configures getSignatureStatuses.
type SignatureStatusConfig struct {
	SearchTransactionHistory bool `json:"searchTransactionHistory,omitempty"`
}

// SendTransactionConfig configures sendTransaction.
type SendTransactionConfig struct {
	Encoding      Encoding `json:"encoding,omitempty"`
	SkipPreflight bool     `json:"skipPreflight,omitempty"`
}

// SimulateTransactionConfig configures simulateTransaction.
type SimulateTransactionConfig struct {
	Encoding  Encoding `json:"encoding,omitempty"`
	SigVerify bool     `json:"sigVerify,omitempty"`
}

// AccountInfo represents account information returned by RPC.
type AccountInfo struct {
	Data       []string `json:"data"` // [encoded, encoding]
	Executable bool     `json:"executable"`
	Lamports   uint64   `json:"lamports"`
	Owner      string   `json:"owner"`
	RentEpoch  uint64   `json:"rentEpoch"`
	Space      uint64   `json:"space"`
}

// TransactionResponse represents a journaled transaction.
type TransactionResponse struct {
	Slot        uint64           `json:"slot"`
	BlockTime   *int64           `json:"blockTime"`
	Transaction []string         `json:"transaction"` // [encoded, encoding]
	Meta        *TransactionMeta `json:"meta"`
}

// TransactionMeta contains transaction execution metadata.
type TransactionMeta struct {
	Err                  interface{} `json:"err"`
	Fee                  uint64      `json:"fee"`
	PreBalances          []uint64    `json:"preBalances"`
	PostBalances         []uint64    `json:"postBalances"`
	LogMessages          []string    `json:"logMessages"`
	ComputeUnitsConsumed uint64      `json:"computeUnitsConsumed"`
}

// SignatureInfo is an entry of getSignaturesForAddress.
type SignatureInfo struct {
	Signature          string      `json:"signature"`
	Slot               uint64      `json:"slot"`
	Err                interface{} `json:"err"`
	BlockTime          *int64      `json:"blockTime"`
	ConfirmationStatus string      `json:"confirmationStatus"`
}

// SignatureStatus is an entry of getSignatureStatuses.
type SignatureStatus struct {
	Slot               uint64      `json:"slot"`
	Confirmations      *uint64     `json:"confirmations"`
	Err                interface{} `json:"err"`
	ConfirmationStatus string      `json:"confirmationStatus"`
}

// VersionInfo represents node version information.
type VersionInfo struct {
	Core       string `json:"x1-sale-core"`
	FeatureSet uint32 `json:"feature-set"`
}

// LatestBlockhash represents the latest blockhash.
type LatestBlockhash struct {
	Blockhash            string `json:"blockhash"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

// SimulationResult represents transaction simulation results.
type SimulationResult struct {
	Err           interface{} `json:"err"`
	Logs          []string    `json:"logs"`
	UnitsConsumed uint64      `json:"unitsConsumed"`
}

// TokenAmount is the balance of a token account.
type TokenAmount struct {
	Amount         string  `json:"amount"`
	Decimals       uint8   `json:"decimals"`
	UIAmount       float64 `json:"uiAmount"`
	UIAmountString string  `json:"uiAmountString"`
}

// SaleConfigInfo is the decoded sale configuration.
type SaleConfigInfo struct {
	Address            string   `json:"address"`
	Authority          string   `json:"authority"`
	TokenMint          string   `json:"tokenMint"`
	TokenVault         string   `json:"tokenVault"`
	PricePerToken      uint64   `json:"pricePerToken"`
	MaxTokensPerWallet uint64   `json:"maxTokensPerWallet"`
	Bump               uint8    `json:"bump"`
	Whitelist          []string `json:"whitelist"`
}
