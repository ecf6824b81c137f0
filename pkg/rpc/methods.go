package rpc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"

	"github.com/fortiblox/x1-sale/internal/types"
	"github.com/fortiblox/x1-sale/internal/version"
	"github.com/fortiblox/x1-sale/pkg/accounts"
	"github.com/fortiblox/x1-sale/pkg/bank"
	"github.com/fortiblox/x1-sale/pkg/blockstore"
	"github.com/fortiblox/x1-sale/pkg/svm/programs/sale"
	"github.com/fortiblox/x1-sale/pkg/svm/programs/token"
	"github.com/fortiblox/x1-sale/pkg/transaction"
)

// Request limits.
const (
	maxMultipleAccounts  = 100
	maxSignatureStatuses = 256
	maxSignaturesLimit   = 1000
)

// parseArgs splits positional params. Missing params are an empty list.
func parseArgs(params json.RawMessage) ([]json.RawMessage, *RPCError) {
	var args []json.RawMessage
	if len(params) == 0 || string(params) == "null" {
		return args, nil
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, InvalidParamsError("invalid params")
	}
	return args, nil
}

// parseConfig decodes the optional config object at index i.
func parseConfig(args []json.RawMessage, i int, config interface{}) *RPCError {
	if len(args) <= i || string(args[i]) == "null" {
		return nil
	}
	if err := json.Unmarshal(args[i], config); err != nil {
		return InvalidParamsError("invalid config")
	}
	return nil
}

func parsePubkey(args []json.RawMessage, i int, name string) (types.Pubkey, *RPCError) {
	if len(args) <= i {
		return types.Pubkey{}, InvalidParamsErrorf("missing %s parameter", name)
	}
	var s string
	if err := json.Unmarshal(args[i], &s); err != nil {
		return types.Pubkey{}, InvalidParamsErrorf("invalid %s", name)
	}
	pubkey, err := types.PubkeyFromBase58(s)
	if err != nil {
		return types.Pubkey{}, InvalidParamsErrorf("invalid %s format", name)
	}
	return pubkey, nil
}

func parseSignature(s string) (types.Signature, *RPCError) {
	sig, err := types.SignatureFromBase58(s)
	if err != nil {
		return types.Signature{}, InvalidParamsError("invalid signature format")
	}
	return sig, nil
}

func (s *Server) checkMinContextSlot(minSlot *uint64) (uint64, *RPCError) {
	slot := s.ledger.Slot()
	if minSlot != nil && *minSlot > slot {
		return slot, MinContextSlotError(*minSlot, slot)
	}
	return slot, nil
}

// Account Methods

// getAccountInfo retrieves account information.
func (s *Server) getAccountInfo(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	pubkey, rpcErr := parsePubkey(args, 0, "pubkey")
	if rpcErr != nil {
		return nil, rpcErr
	}
	var config AccountInfoConfig
	if rpcErr := parseConfig(args, 1, &config); rpcErr != nil {
		return nil, rpcErr
	}

	slot, rpcErr := s.checkMinContextSlot(config.MinContextSlot)
	if rpcErr != nil {
		return nil, rpcErr
	}

	info, rpcErr := s.accountInfo(pubkey, config)
	if rpcErr != nil {
		return nil, rpcErr
	}
	return ResponseWithContext{
		Context: Context{Slot: slot},
		Value:   info,
	}, nil
}

// getBalance retrieves account balance.
func (s *Server) getBalance(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	pubkey, rpcErr := parsePubkey(args, 0, "pubkey")
	if rpcErr != nil {
		return nil, rpcErr
	}
	var config ContextConfig
	if rpcErr := parseConfig(args, 1, &config); rpcErr != nil {
		return nil, rpcErr
	}

	slot, rpcErr := s.checkMinContextSlot(config.MinContextSlot)
	if rpcErr != nil {
		return nil, rpcErr
	}

	balance, err := s.ledger.GetBalance(pubkey)
	if err != nil {
		return nil, InternalServerErrorf("failed to get balance: %v", err)
	}
	return ResponseWithContext{
		Context: Context{Slot: slot},
		Value:   balance,
	}, nil
}

// getMultipleAccounts retrieves multiple accounts.
func (s *Server) getMultipleAccounts(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if len(args) < 1 {
		return nil, InvalidParamsError("missing pubkeys parameter")
	}

	var keys []string
	if err := json.Unmarshal(args[0], &keys); err != nil {
		return nil, InvalidParamsError("invalid pubkeys")
	}
	if len(keys) > maxMultipleAccounts {
		return nil, InvalidParamsErrorf("too many pubkeys: %d > %d", len(keys), maxMultipleAccounts)
	}

	var config AccountInfoConfig
	if rpcErr := parseConfig(args, 1, &config); rpcErr != nil {
		return nil, rpcErr
	}
	slot, rpcErr := s.checkMinContextSlot(config.MinContextSlot)
	if rpcErr != nil {
		return nil, rpcErr
	}

	values := make([]*AccountInfo, len(keys))
	for i, k := range keys {
		pubkey, err := types.PubkeyFromBase58(k)
		if err != nil {
			return nil, InvalidParamsErrorf("invalid pubkey at index %d", i)
		}
		if values[i], rpcErr = s.accountInfo(pubkey, config); rpcErr != nil {
			return nil, rpcErr
		}
	}

	return ResponseWithContext{
		Context: Context{Slot: slot},
		Value:   values,
	}, nil
}

// getTokenAccountBalance returns the balance of a token account.
func (s *Server) getTokenAccountBalance(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	pubkey, rpcErr := parsePubkey(args, 0, "pubkey")
	if rpcErr != nil {
		return nil, rpcErr
	}

	tokenAccount, rpcErr := s.loadTokenAccount(pubkey)
	if rpcErr != nil {
		return nil, rpcErr
	}

	mintAccount, err := s.ledger.GetAccount(tokenAccount.Mint)
	if err != nil {
		return nil, InvalidParamsErrorf("failed to load mint %s: %v", tokenAccount.Mint, err)
	}
	var mint token.Mint
	if mintAccount.Owner != token.ProgramID || !mint.Unmarshal(mintAccount.Data) {
		return nil, InvalidParamsErrorf("invalid mint %s", tokenAccount.Mint)
	}

	return ResponseWithContext{
		Context: Context{Slot: s.ledger.Slot()},
		Value:   newTokenAmount(tokenAccount.Amount, mint.Decimals),
	}, nil
}

// Sale Methods

// getSaleConfig decodes the sale configuration account. Without an
// address the program's canonical sale address is used.
func (s *Server) getSaleConfig(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params)
	if rpcErr != nil {
		return nil, rpcErr
	}

	var address types.Pubkey
	if len(args) > 0 {
		if address, rpcErr = parsePubkey(args, 0, "address"); rpcErr != nil {
			return nil, rpcErr
		}
	} else {
		var err error
		if address, _, err = sale.GetSaleAddress(); err != nil {
			return nil, InternalServerErrorf("failed to derive sale address: %v", err)
		}
	}

	slot := s.ledger.Slot()
	account, err := s.ledger.GetAccount(address)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return ResponseWithContext{Context: Context{Slot: slot}, Value: nil}, nil
	}
	if err != nil {
		return nil, InternalServerErrorf("failed to get account: %v", err)
	}
	if account.Owner != sale.ProgramID {
		return nil, InvalidParamsErrorf("account %s is not owned by the sale program", address)
	}

	config, err := sale.UnmarshalSaleConfig(account.Data)
	if err != nil {
		return nil, InvalidParamsErrorf("invalid sale config: %v", err)
	}

	whitelist := make([]string, len(config.Whitelist))
	for i, w := range config.Whitelist {
		whitelist[i] = w.String()
	}
	return ResponseWithContext{
		Context: Context{Slot: slot},
		Value: SaleConfigInfo{
			Address:            address.String(),
			Authority:          config.Authority.String(),
			TokenMint:          config.TokenMint.String(),
			TokenVault:         config.TokenVault.String(),
			PricePerToken:      config.Price,
			MaxTokensPerWallet: config.MaxTokensPerWallet,
			Bump:               config.Bump,
			Whitelist:          whitelist,
		},
	}, nil
}

// Transaction Methods

// sendTransaction executes a signed transaction and returns its
// signature. Unless preflight is skipped, a transaction that would fail
// is reported as an error without being executed.
func (s *Server) sendTransaction(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var config SendTransactionConfig
	if rpcErr := parseConfig(args, 1, &config); rpcErr != nil {
		return nil, rpcErr
	}
	tx, rpcErr := decodeTransactionArg(args, config.Encoding)
	if rpcErr != nil {
		return nil, rpcErr
	}

	log := s.log.WithField("signature", tx.Signature().String())

	if !config.SkipPreflight {
		sim, err := s.ledger.SimulateTransaction(ctx, tx, true)
		if err != nil {
			return nil, rejectionError(err)
		}
		if sim.Err != nil {
			log.WithError(sim.Err).Debug("preflight failed")
			return nil, NewRPCErrorWithData(SendTransactionPreflightFailure,
				"Transaction simulation failed: "+sim.Err.Error(),
				simulationResult(sim))
		}
	}

	result, err := s.ledger.ProcessTransaction(ctx, tx)
	if err != nil {
		log.WithError(err).Debug("transaction rejected")
		return nil, rejectionError(err)
	}
	if result.Err != nil {
		log.WithError(result.Err).Debug("transaction failed")
	}
	return tx.Signature().String(), nil
}

// simulateTransaction executes a transaction without committing it.
func (s *Server) simulateTransaction(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var config SimulateTransactionConfig
	if rpcErr := parseConfig(args, 1, &config); rpcErr != nil {
		return nil, rpcErr
	}
	tx, rpcErr := decodeTransactionArg(args, config.Encoding)
	if rpcErr != nil {
		return nil, rpcErr
	}

	result, err := s.ledger.SimulateTransaction(ctx, tx, config.SigVerify)
	if err != nil {
		return nil, rejectionError(err)
	}
	return ResponseWithContext{
		Context: Context{Slot: result.Slot},
		Value:   simulationResult(result),
	}, nil
}

// getTransaction retrieves a journaled transaction.
func (s *Server) getTransaction(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	if s.journal == nil {
		return nil, ErrHistoryDisabled
	}
	args, rpcErr := parseArgs(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if len(args) < 1 {
		return nil, InvalidParamsError("missing signature parameter")
	}
	var sigStr string
	if err := json.Unmarshal(args[0], &sigStr); err != nil {
		return nil, InvalidParamsError("invalid signature")
	}
	sig, rpcErr := parseSignature(sigStr)
	if rpcErr != nil {
		return nil, rpcErr
	}

	var config TransactionConfig
	if rpcErr := parseConfig(args, 1, &config); rpcErr != nil {
		return nil, rpcErr
	}

	var encode func([]byte) string
	switch config.Encoding {
	case EncodingBase64, "":
		config.Encoding = EncodingBase64
		encode = base64.StdEncoding.EncodeToString
	case EncodingBase58:
		encode = base58.Encode
	default:
		return nil, InvalidParamsErrorf("unsupported encoding %q", config.Encoding)
	}

	record, err := s.journal.GetTransaction(sig)
	if err != nil {
		if errors.Is(err, blockstore.ErrTransactionNotFound) {
			return nil, nil // Return null for not found
		}
		return nil, InternalServerErrorf("failed to get transaction: %v", err)
	}

	blockTime := record.BlockTime
	return TransactionResponse{
		Slot:        record.Slot,
		BlockTime:   &blockTime,
		Transaction: []string{encode(record.Transaction), string(config.Encoding)},
		Meta: &TransactionMeta{
			Err:                  recordError(record),
			Fee:                  record.Fee,
			PreBalances:          nonNilBalances(record.PreBalances),
			PostBalances:         nonNilBalances(record.PostBalances),
			LogMessages:          nonNilLogs(record.LogMessages),
			ComputeUnitsConsumed: record.ComputeUnitsConsumed,
		},
	}, nil
}

// getSignaturesForAddress retrieves signatures for transactions involving an address.
func (s *Server) getSignaturesForAddress(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	if s.journal == nil {
		return nil, ErrHistoryDisabled
	}
	args, rpcErr := parseArgs(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	addr, rpcErr := parsePubkey(args, 0, "address")
	if rpcErr != nil {
		return nil, rpcErr
	}
	var config SignaturesForAddressConfig
	if rpcErr := parseConfig(args, 1, &config); rpcErr != nil {
		return nil, rpcErr
	}

	if config.Limit <= 0 || config.Limit > maxSignaturesLimit {
		config.Limit = maxSignaturesLimit
	}
	opts := &blockstore.SignatureQueryOptions{Limit: config.Limit}
	if config.Before != "" {
		sig, rpcErr := parseSignature(config.Before)
		if rpcErr != nil {
			return nil, rpcErr
		}
		opts.Before = &sig
	}
	if config.Until != "" {
		sig, rpcErr := parseSignature(config.Until)
		if rpcErr != nil {
			return nil, rpcErr
		}
		opts.Until = &sig
	}

	signatures, err := s.journal.GetSignaturesForAddress(addr, opts)
	if err != nil {
		return nil, InternalServerErrorf("failed to get signatures: %v", err)
	}

	results := make([]SignatureInfo, len(signatures))
	for i, sig := range signatures {
		blockTime := sig.BlockTime
		results[i] = SignatureInfo{
			Signature:          sig.Signature.String(),
			Slot:               sig.Slot,
			Err:                journalError(sig.Err, sig.InstructionIndex, sig.CustomCode),
			BlockTime:          &blockTime,
			ConfirmationStatus: "finalized",
		}
	}
	return results, nil
}

// getSignatureStatuses retrieves the status of signatures.
func (s *Server) getSignatureStatuses(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	if s.journal == nil {
		return nil, ErrHistoryDisabled
	}
	args, rpcErr := parseArgs(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if len(args) < 1 {
		return nil, InvalidParamsError("missing signatures parameter")
	}
	var sigs []string
	if err := json.Unmarshal(args[0], &sigs); err != nil {
		return nil, InvalidParamsError("invalid signatures")
	}
	if len(sigs) > maxSignatureStatuses {
		return nil, InvalidParamsErrorf("too many signatures: %d > %d", len(sigs), maxSignatureStatuses)
	}
	var config SignatureStatusConfig
	if rpcErr := parseConfig(args, 1, &config); rpcErr != nil {
		return nil, rpcErr
	}

	statuses := make([]*SignatureStatus, len(sigs))
	for i, sigStr := range sigs {
		sig, rpcErr := parseSignature(sigStr)
		if rpcErr != nil {
			return nil, rpcErr
		}
		record, err := s.journal.GetTransaction(sig)
		if errors.Is(err, blockstore.ErrTransactionNotFound) {
			continue
		}
		if err != nil {
			return nil, InternalServerErrorf("failed to get transaction: %v", err)
		}
		statuses[i] = &SignatureStatus{
			Slot:               record.Slot,
			Err:                recordError(record),
			ConfirmationStatus: "finalized",
		}
	}

	return ResponseWithContext{
		Context: Context{Slot: s.ledger.Slot()},
		Value:   statuses,
	}, nil
}

// Cluster Methods

// getSlot returns the latest committed slot.
func (s *Server) getSlot(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var config ContextConfig
	if rpcErr := parseConfig(args, 0, &config); rpcErr != nil {
		return nil, rpcErr
	}
	slot, rpcErr := s.checkMinContextSlot(config.MinContextSlot)
	if rpcErr != nil {
		return nil, rpcErr
	}
	return slot, nil
}

// getHealth returns the node health status.
func (s *Server) getHealth(_ context.Context, _ json.RawMessage) (interface{}, *RPCError) {
	if !s.IsHealthy() {
		return nil, ErrNodeUnhealthy
	}
	return "ok", nil
}

// getVersion returns the node version.
func (s *Server) getVersion(_ context.Context, _ json.RawMessage) (interface{}, *RPCError) {
	return VersionInfo{
		Core:       version.Version,
		FeatureSet: version.FeatureSet,
	}, nil
}

// getTransactionCount returns the number of committed transactions.
func (s *Server) getTransactionCount(_ context.Context, _ json.RawMessage) (interface{}, *RPCError) {
	return s.ledger.Stats().TransactionsProcessed, nil
}

// Info Methods

// getLatestBlockhash returns the latest blockhash.
func (s *Server) getLatestBlockhash(_ context.Context, _ json.RawMessage) (interface{}, *RPCError) {
	blockhash, lastValid := s.ledger.LatestBlockhash()
	return ResponseWithContext{
		Context: Context{Slot: s.ledger.Slot()},
		Value: LatestBlockhash{
			Blockhash:            blockhash.String(),
			LastValidBlockHeight: lastValid,
		},
	}, nil
}

// isBlockhashValid checks if a blockhash is still accepted.
func (s *Server) isBlockhashValid(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if len(args) < 1 {
		return nil, InvalidParamsError("missing blockhash parameter")
	}
	var blockhashStr string
	if err := json.Unmarshal(args[0], &blockhashStr); err != nil {
		return nil, InvalidParamsError("invalid blockhash")
	}
	blockhash, err := types.HashFromBase58(blockhashStr)
	if err != nil {
		return nil, InvalidParamsError("invalid blockhash format")
	}

	return ResponseWithContext{
		Context: Context{Slot: s.ledger.Slot()},
		Value:   s.ledger.IsBlockhashValid(blockhash),
	}, nil
}

// getMinimumBalanceForRentExemption returns the minimum balance for rent exemption.
func (s *Server) getMinimumBalanceForRentExemption(_ context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if len(args) < 1 {
		return nil, InvalidParamsError("missing data length parameter")
	}
	var dataLen uint64
	if err := json.Unmarshal(args[0], &dataLen); err != nil {
		return nil, InvalidParamsError("invalid data length")
	}
	if dataLen > accounts.MaxAccountDataSize {
		return nil, InvalidParamsErrorf("data length %d exceeds %d", dataLen, accounts.MaxAccountDataSize)
	}

	return s.ledger.MinimumBalanceForRentExemption(dataLen), nil
}

// Helper methods

// accountInfo loads an account. A missing account is nil.
func (s *Server) accountInfo(pubkey types.Pubkey, config AccountInfoConfig) (*AccountInfo, *RPCError) {
	account, err := s.ledger.GetAccount(pubkey)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, InternalServerErrorf("failed to get account: %v", err)
	}

	data, err := EncodeAccountData(ApplyDataSlice(account.Data, config.DataSlice), config.Encoding)
	if err != nil {
		return nil, InvalidParamsError(err.Error())
	}

	return &AccountInfo{
		Data:       data,
		Executable: account.Executable,
		Lamports:   account.Lamports,
		Owner:      account.Owner.String(),
		RentEpoch:  account.RentEpoch,
		Space:      uint64(len(account.Data)),
	}, nil
}

func (s *Server) loadTokenAccount(pubkey types.Pubkey) (*token.Account, *RPCError) {
	account, err := s.ledger.GetAccount(pubkey)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return nil, InvalidParamsErrorf("could not find account %s", pubkey)
	}
	if err != nil {
		return nil, InternalServerErrorf("failed to get account: %v", err)
	}

	var tokenAccount token.Account
	if account.Owner != token.ProgramID || !tokenAccount.Unmarshal(account.Data) || !tokenAccount.IsInitialized() {
		return nil, InvalidParamsErrorf("account %s is not a token account", pubkey)
	}
	return &tokenAccount, nil
}

func decodeTransactionArg(args []json.RawMessage, encoding Encoding) (*transaction.Transaction, *RPCError) {
	if len(args) < 1 {
		return nil, InvalidParamsError("missing transaction parameter")
	}
	var encoded string
	if err := json.Unmarshal(args[0], &encoded); err != nil {
		return nil, InvalidParamsError("invalid transaction")
	}
	tx, err := DecodeTransaction(encoded, encoding)
	if err != nil {
		return nil, InvalidParamsErrorf("invalid transaction: %v", err)
	}
	return tx, nil
}

func simulationResult(result *bank.ExecutionResult) SimulationResult {
	return SimulationResult{
		Err:           TransactionError(result.Err),
		Logs:          nonNilLogs(result.Logs),
		UnitsConsumed: result.ComputeUnitsConsumed,
	}
}

func newTokenAmount(amount uint64, decimals uint8) TokenAmount {
	return TokenAmount{
		Amount:         strconv.FormatUint(amount, 10),
		Decimals:       decimals,
		UIAmount:       float64(amount) / math.Pow10(int(decimals)),
		UIAmountString: formatTokenAmount(amount, decimals),
	}
}

// formatTokenAmount renders amount with decimals fractional digits,
// without trailing zeros.
func formatTokenAmount(amount uint64, decimals uint8) string {
	s := strconv.FormatUint(amount, 10)
	if decimals == 0 {
		return s
	}
	d := int(decimals)
	if len(s) <= d {
		s = strings.Repeat("0", d-len(s)+1) + s
	}
	whole, frac := s[:len(s)-d], strings.TrimRight(s[len(s)-d:], "0")
	if frac == "" {
		return whole
	}
	return whole + "." + frac
}

func nonNilLogs(logs []string) []string {
	if logs == nil {
		return []string{}
	}
	return logs
}

func nonNilBalances(balances []uint64) []uint64 {
	if balances == nil {
		return []uint64{}
	}
	return balances
}
