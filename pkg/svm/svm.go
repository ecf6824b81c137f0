// Package svm defines the contract between the ledger runtime and the
// native programs it executes.
//
// A program receives an InvokeContext exposing the accounts of the current
// instruction by index. A program writes through the returned AccountInfo
// views; the runtime verifies ownership rules for those writes when the
// program returns or invokes another program, and refreshes the views
// after a nested invocation. Every change is discarded if the transaction
// fails.
package svm

import (
	"github.com/pkg/errors"

	"github.com/fortiblox/x1-sale/internal/types"
	"github.com/fortiblox/x1-sale/pkg/transaction"
)

var (
	// ErrNotEnoughAccountKeys is returned when an instruction is missing
	// required accounts.
	ErrNotEnoughAccountKeys = errors.New("insufficient account keys for instruction")

	// ErrInvalidInstructionData is returned for malformed instruction data.
	ErrInvalidInstructionData = errors.New("invalid instruction data")

	// ErrMissingRequiredSignature is returned when a required signer did
	// not sign.
	ErrMissingRequiredSignature = errors.New("missing required signature for instruction")

	// ErrAccountNotWritable is returned when an instruction needs to modify
	// a readonly account.
	ErrAccountNotWritable = errors.New("instruction requires a writable account")

	// ErrIncorrectProgramID is returned when an account is not owned by
	// the expected program.
	ErrIncorrectProgramID = errors.New("incorrect program id for instruction")

	// ErrUnsupportedProgram is returned when no native program is
	// registered for an address.
	ErrUnsupportedProgram = errors.New("unsupported program id")

	// ErrInvalidArgument is returned when an account is not the one an
	// instruction expects at its position.
	ErrInvalidArgument = errors.New("invalid argument")
)

// AccountInfo is the runtime view of an account during execution.
type AccountInfo struct {
	Key        types.Pubkey
	Owner      types.Pubkey
	Lamports   uint64
	Data       []byte
	Executable bool
	RentEpoch  uint64
	IsSigner   bool
	IsWritable bool
}

// InvokeContext is provided to a program for one invocation.
type InvokeContext interface {
	// ProgramID returns the address of the executing program.
	ProgramID() types.Pubkey

	// AccountCount returns the number of instruction accounts.
	AccountCount() int

	// GetAccount returns the instruction account at index.
	GetAccount(index int) (*AccountInfo, error)

	// GetRentMinimum returns the rent exempt balance for dataLen bytes.
	GetRentMinimum(dataLen uint64) uint64

	// ConsumeCompute charges compute units to the transaction budget.
	ConsumeCompute(units uint64) error

	// Log appends a program log line.
	Log(format string, args ...interface{})

	// Invoke runs a nested instruction. Every account it references must
	// be an account of the current instruction. Each seed set in
	// signerSeeds derives an address of the calling program that is
	// granted signer privilege.
	Invoke(instruction transaction.Instruction, signerSeeds ...[][]byte) error
}

// Program is a natively executed program.
type Program interface {
	Process(ctx InvokeContext, data []byte) error
}

// ProgramFunc adapts a function to Program.
type ProgramFunc func(ctx InvokeContext, data []byte) error

// Process implements Program.
func (f ProgramFunc) Process(ctx InvokeContext, data []byte) error {
	return f(ctx, data)
}

// RequireAccounts returns ErrNotEnoughAccountKeys unless ctx has at least
// n accounts.
func RequireAccounts(ctx InvokeContext, n int) error {
	if ctx.AccountCount() < n {
		return errors.Wrapf(ErrNotEnoughAccountKeys, "need %d, got %d", n, ctx.AccountCount())
	}
	return nil
}
