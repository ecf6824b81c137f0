package rpc

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/fortiblox/x1-sale/pkg/bank"
	"github.com/fortiblox/x1-sale/pkg/blockstore"
	"github.com/fortiblox/x1-sale/pkg/transaction"
)

// JSON-RPC 2.0 standard error codes.
const (
	// ParseError indicates invalid JSON was received.
	ParseError = -32700

	// InvalidRequest indicates the JSON sent is not a valid Request object.
	InvalidRequest = -32600

	// MethodNotFound indicates the method does not exist.
	MethodNotFound = -32601

	// InvalidParams indicates invalid method parameters.
	InvalidParams = -32602

	// InternalError indicates an internal JSON-RPC error.
	InternalError = -32603
)

// Server error codes, shared with Solana clients.
const (
	// SendTransactionPreflightFailure indicates preflight simulation failed
	// or the transaction was rejected.
	SendTransactionPreflightFailure = -32002

	// TransactionSignatureVerificationFailure indicates signature verification failed.
	TransactionSignatureVerificationFailure = -32003

	// NodeUnhealthy indicates the node is unhealthy.
	NodeUnhealthy = -32005

	// TransactionHistoryNotAvailable indicates the journal is disabled.
	TransactionHistoryNotAvailable = -32011

	// MinContextSlotNotReached indicates min context slot not yet reached.
	MinContextSlotNotReached = -32016
)

// Common error messages.
var (
	ErrParseError      = NewRPCError(ParseError, "Parse error")
	ErrInvalidRequest  = NewRPCError(InvalidRequest, "Invalid Request")
	ErrNodeUnhealthy   = NewRPCError(NodeUnhealthy, "Node is unhealthy")
	ErrHistoryDisabled = NewRPCError(TransactionHistoryNotAvailable, "Transaction history is not available from this node")
)

// NewRPCError creates a new RPC error.
func NewRPCError(code int, message string) *RPCError {
	return &RPCError{
		Code:    code,
		Message: message,
	}
}

// NewRPCErrorWithData creates a new RPC error with additional data.
func NewRPCErrorWithData(code int, message string, data interface{}) *RPCError {
	return &RPCError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("RPC error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// InvalidParamsError creates an invalid params error with a custom message.
func InvalidParamsError(msg string) *RPCError {
	return NewRPCError(InvalidParams, msg)
}

// InvalidParamsErrorf creates an invalid params error with a formatted message.
func InvalidParamsErrorf(format string, args ...interface{}) *RPCError {
	return NewRPCError(InvalidParams, fmt.Sprintf(format, args...))
}

// InternalServerErrorf creates an internal server error with a formatted message.
func InternalServerErrorf(format string, args ...interface{}) *RPCError {
	return NewRPCError(InternalError, fmt.Sprintf(format, args...))
}

// MinContextSlotError creates an error for min context slot not reached.
func MinContextSlotError(minSlot, currentSlot uint64) *RPCError {
	return NewRPCErrorWithData(MinContextSlotNotReached,
		fmt.Sprintf("Minimum context slot %d has not been reached, current slot is %d", minSlot, currentSlot),
		map[string]uint64{"minSlot": minSlot, "currentSlot": currentSlot})
}

// rejectionNames are the wire names of bank rejections.
var rejectionNames = []struct {
	err  error
	name string
}{
	{bank.ErrAlreadyProcessed, "AlreadyProcessed"},
	{bank.ErrBlockhashNotFound, "BlockhashNotFound"},
	{bank.ErrAccountNotFound, "AccountNotFound"},
	{bank.ErrInsufficientFundsForFee, "InsufficientFundsForFee"},
	{bank.ErrInvalidFeePayer, "InvalidAccountForFee"},
	{bank.ErrSanitizeFailure, "SanitizeFailure"},
}

// TransactionError renders a transaction failure the way Solana clients
// expect it: {"InstructionError":[index,{"Custom":code}]} for program
// errors with a code, {"InstructionError":[index,"message"]} for other
// instruction failures and a bare string otherwise.
func TransactionError(err error) interface{} {
	if err == nil {
		return nil
	}

	var rentErr *bank.AccountRentError
	if errors.As(err, &rentErr) {
		return map[string]interface{}{
			"InsufficientFundsForRent": map[string]int{"account_index": rentErr.Index},
		}
	}

	var ixErr *bank.InstructionError
	if errors.As(err, &ixErr) {
		index := ixErr.Index
		var code *uint32
		if c, ok := bank.CustomErrorCode(ixErr.Err); ok {
			code = &c
		}
		return instructionError(&index, code, ixErr.Error())
	}

	for _, r := range rejectionNames {
		if errors.Is(err, r.err) {
			return r.name
		}
	}
	return err.Error()
}

// journalError renders the error of a journaled transaction from its
// message, failed instruction and custom code.
func journalError(msg string, index *int, code *uint32) interface{} {
	if msg == "" {
		return nil
	}
	if index != nil {
		return instructionError(index, code, msg)
	}
	return msg
}

// recordError renders the error of a journaled transaction.
func recordError(record *blockstore.TransactionRecord) interface{} {
	if record.Success {
		return nil
	}
	return journalError(record.Err, record.InstructionIndex, record.CustomCode)
}

func instructionError(index *int, code *uint32, msg string) interface{} {
	var detail interface{} = msg
	if code != nil {
		detail = map[string]uint32{"Custom": *code}
	}
	return map[string]interface{}{
		"InstructionError": []interface{}{*index, detail},
	}
}

// rejectionError converts a bank rejection into an RPC error.
func rejectionError(err error) *RPCError {
	switch {
	case errors.Is(err, transaction.ErrSignatureFailure), errors.Is(err, transaction.ErrMissingSignature):
		return NewRPCError(TransactionSignatureVerificationFailure, "Transaction signature verification failure")
	case errors.Is(err, bank.ErrClosed):
		return ErrNodeUnhealthy
	case errors.Is(err, bank.ErrSanitizeFailure):
		return InvalidParamsErrorf("invalid transaction: %v", err)
	}
	return NewRPCErrorWithData(SendTransactionPreflightFailure,
		fmt.Sprintf("Transaction simulation failed: %v", err),
		SimulationResult{Err: TransactionError(err), Logs: []string{}})
}
