package bank

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/fortiblox/x1-sale/internal/types"
	"github.com/fortiblox/x1-sale/pkg/accounts"
	"github.com/fortiblox/x1-sale/pkg/transaction"
)

// Transaction rejections. A rejected transaction is never executed,
// recorded or journaled.
var (
	ErrSanitizeFailure         = errors.New("transaction failed to sanitize")
	ErrAlreadyProcessed        = errors.New("transaction already processed")
	ErrBlockhashNotFound       = errors.New("blockhash not found")
	ErrAccountNotFound         = errors.New("attempt to debit an account but found no record of a prior credit")
	ErrInsufficientFundsForFee = errors.New("insufficient funds for fee")
	ErrInvalidFeePayer         = errors.New("fee payer must be a system account without data")
	ErrClosed                  = errors.New("bank is closed")
)

// Execution failures. These are reported in ExecutionResult.Err, usually
// inside an InstructionError.
var (
	ErrReadonlyModified         = errors.New("instruction modified data of a read-only account")
	ErrReadonlyLamportChange    = errors.New("instruction changed the balance of a read-only account")
	ErrExternalDataModified     = errors.New("instruction modified data of an account it does not own")
	ErrExternalLamportSpend     = errors.New("instruction spent from the balance of an account it does not own")
	ErrModifiedProgramID        = errors.New("instruction illegally modified the program id of an account")
	ErrExecutableModified       = errors.New("instruction changed executable bit of an account")
	ErrUnbalancedInstruction    = errors.New("sum of account balances before and after instruction do not match")
	ErrInvalidRealloc           = errors.New("failed to reallocate account data")
	ErrInsufficientFundsForRent = errors.New("transaction results in an account with insufficient funds for rent")
	ErrProgramPanicked          = errors.New("program panicked")
)

// InstructionError reports the failure of one top level instruction.
type InstructionError struct {
	Index int
	Err   error
}

func (e *InstructionError) Error() string {
	return fmt.Sprintf("error processing instruction %d: %v", e.Index, e.Err)
}

func (e *InstructionError) Unwrap() error {
	return e.Err
}

// Cause lets errors.Cause reach the program error.
func (e *InstructionError) Cause() error {
	return e.Err
}

// AccountRentError reports an account left below the rent exempt minimum.
type AccountRentError struct {
	Index int
}

func (e *AccountRentError) Error() string {
	return fmt.Sprintf("%v: account index %d", ErrInsufficientFundsForRent, e.Index)
}

func (e *AccountRentError) Unwrap() error {
	return ErrInsufficientFundsForRent
}

// CustomError is a program error with a stable numeric code.
type CustomError interface {
	error
	Code() uint32
}

// CustomErrorCode returns the code of the program error wrapped in err.
func CustomErrorCode(err error) (uint32, bool) {
	var custom CustomError
	if errors.As(err, &custom) {
		return custom.Code(), true
	}
	return 0, false
}

// InstructionIndex returns the index of the failed instruction, if err
// reports one.
func InstructionIndex(err error) (int, bool) {
	var ixErr *InstructionError
	if errors.As(err, &ixErr) {
		return ixErr.Index, true
	}
	return 0, false
}

// ExecutionResult is the outcome of an executed transaction.
type ExecutionResult struct {
	Signature types.Signature

	// Slot is the slot the transaction was committed in, or the latest
	// committed slot when the transaction failed.
	Slot uint64

	// Err is nil on success.
	Err error

	Logs                 []string
	ComputeUnitsConsumed uint64

	// Fee is charged only when the transaction succeeds.
	Fee uint64

	// Accounts are the writable accounts the transaction changed.
	Accounts []types.Pubkey

	// PreBalances and PostBalances follow the message account order.
	PreBalances  []uint64
	PostBalances []uint64

	// BankHash is the bank hash after commit. Zero on failure.
	BankHash types.Hash
}

// Succeeded reports whether the transaction executed without error.
func (r *ExecutionResult) Succeeded() bool {
	return r.Err == nil
}

// TransactionStatus is published to listeners for every executed
// transaction.
type TransactionStatus struct {
	Transaction *transaction.Transaction
	Result      *ExecutionResult
	BlockTime   int64

	// Updates holds the committed account writes. Empty on failure.
	Updates []accounts.Update
}
