// Package system implements the native currency program.
//
// The system program owns every wallet account. It moves lamports between
// accounts, creates new accounts and hands them over to another owner
// program.
package system

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	"github.com/fortiblox/x1-sale/internal/types"
	"github.com/fortiblox/x1-sale/pkg/accounts"
	"github.com/fortiblox/x1-sale/pkg/svm"
)

// ProgramID is the system program address.
var ProgramID = types.SystemProgramAddr

// Instruction discriminants, encoded as a little endian u32.
const (
	InstructionCreateAccount uint32 = 0
	InstructionAssign        uint32 = 1
	InstructionTransfer      uint32 = 2
	InstructionAllocate      uint32 = 8
)

var (
	ErrInsufficientFunds        = errors.New("insufficient funds")
	ErrInsufficientFundsForRent = errors.New("insufficient funds for rent")
	ErrAccountAlreadyInUse      = errors.New("account already in use")
	ErrInvalidAccountOwner      = errors.New("invalid account owner")
	ErrAccountNotRentExempt     = errors.New("account not rent exempt")
	ErrAccountDataTooLarge      = errors.New("account data too large")
	ErrTransferFromDataAccount  = errors.New("transfer: `from` must not carry data")
	ErrLamportOverflow          = errors.New("lamport balance overflow")
)

// Processor executes system program instructions.
type Processor struct{}

// NewProcessor creates a new system program processor.
func NewProcessor() *Processor {
	return &Processor{}
}

var _ svm.Program = (*Processor)(nil)

// Process implements svm.Program.
func (p *Processor) Process(ctx svm.InvokeContext, data []byte) error {
	if len(data) < 4 {
		return svm.ErrInvalidInstructionData
	}
	if err := ctx.ConsumeCompute(svm.CUSystemProgramDefault); err != nil {
		return err
	}

	switch binary.LittleEndian.Uint32(data[:4]) {
	case InstructionCreateAccount:
		return p.processCreateAccount(ctx, data[4:])
	case InstructionAssign:
		return p.processAssign(ctx, data[4:])
	case InstructionTransfer:
		return p.processTransfer(ctx, data[4:])
	case InstructionAllocate:
		return p.processAllocate(ctx, data[4:])
	default:
		return svm.ErrInvalidInstructionData
	}
}

// processCreateAccount: [0] funder (w, s), [1] new account (w, s).
func (p *Processor) processCreateAccount(ctx svm.InvokeContext, data []byte) error {
	if len(data) != 48 {
		return svm.ErrInvalidInstructionData
	}
	lamports := binary.LittleEndian.Uint64(data[0:8])
	space := binary.LittleEndian.Uint64(data[8:16])
	var owner types.Pubkey
	copy(owner[:], data[16:48])

	if space > accounts.MaxAccountDataSize {
		return ErrAccountDataTooLarge
	}
	if err := svm.RequireAccounts(ctx, 2); err != nil {
		return err
	}
	funder, _ := ctx.GetAccount(0)
	newAccount, _ := ctx.GetAccount(1)

	if !funder.IsSigner || !newAccount.IsSigner {
		return svm.ErrMissingRequiredSignature
	}
	if !funder.IsWritable || !newAccount.IsWritable {
		return svm.ErrAccountNotWritable
	}
	if newAccount.Owner != ProgramID || len(newAccount.Data) > 0 || newAccount.Lamports > 0 {
		return errors.Wrapf(ErrAccountAlreadyInUse, "create account %s", newAccount.Key)
	}
	if lamports < ctx.GetRentMinimum(space) {
		return ErrAccountNotRentExempt
	}
	if err := debit(ctx, funder, lamports); err != nil {
		return err
	}

	newAccount.Lamports = lamports
	newAccount.Data = make([]byte, space)
	newAccount.Owner = owner

	ctx.Log("CreateAccount: %s space %d owner %s", newAccount.Key, space, owner)
	return nil
}

// processAssign: [0] account (w, s).
func (p *Processor) processAssign(ctx svm.InvokeContext, data []byte) error {
	if len(data) != 32 {
		return svm.ErrInvalidInstructionData
	}
	if err := svm.RequireAccounts(ctx, 1); err != nil {
		return err
	}
	account, _ := ctx.GetAccount(0)

	var newOwner types.Pubkey
	copy(newOwner[:], data)

	if account.Owner == newOwner {
		return nil
	}
	if !account.IsSigner {
		return svm.ErrMissingRequiredSignature
	}
	if account.Owner != ProgramID {
		return ErrInvalidAccountOwner
	}

	account.Owner = newOwner
	return nil
}

// processTransfer: [0] from (w, s), [1] to (w).
func (p *Processor) processTransfer(ctx svm.InvokeContext, data []byte) error {
	if len(data) != 8 {
		return svm.ErrInvalidInstructionData
	}
	lamports := binary.LittleEndian.Uint64(data)

	if err := svm.RequireAccounts(ctx, 2); err != nil {
		return err
	}
	from, _ := ctx.GetAccount(0)
	to, _ := ctx.GetAccount(1)

	if !from.IsSigner {
		return svm.ErrMissingRequiredSignature
	}
	if !from.IsWritable || !to.IsWritable {
		return svm.ErrAccountNotWritable
	}
	if len(from.Data) > 0 {
		return ErrTransferFromDataAccount
	}
	if from.Owner != ProgramID {
		return ErrInvalidAccountOwner
	}
	if from.Key == to.Key {
		if from.Lamports < lamports {
			return ErrInsufficientFunds
		}
		return nil
	}
	if to.Lamports > math.MaxUint64-lamports {
		return ErrLamportOverflow
	}
	if err := debit(ctx, from, lamports); err != nil {
		return err
	}
	to.Lamports += lamports

	ctx.Log("Transfer: %d lamports %s -> %s", lamports, from.Key, to.Key)
	return nil
}

// processAllocate: [0] account (w, s).
func (p *Processor) processAllocate(ctx svm.InvokeContext, data []byte) error {
	if len(data) != 8 {
		return svm.ErrInvalidInstructionData
	}
	space := binary.LittleEndian.Uint64(data)
	if space > accounts.MaxAccountDataSize {
		return ErrAccountDataTooLarge
	}
	if err := svm.RequireAccounts(ctx, 1); err != nil {
		return err
	}
	account, _ := ctx.GetAccount(0)

	if !account.IsSigner {
		return svm.ErrMissingRequiredSignature
	}
	if account.Owner != ProgramID {
		return ErrInvalidAccountOwner
	}
	if len(account.Data) > 0 {
		return errors.Wrapf(ErrAccountAlreadyInUse, "allocate %s", account.Key)
	}

	account.Data = make([]byte, space)
	return nil
}

// debit removes lamports from a system account. The account must either
// be drained completely or keep the rent exempt minimum for its size.
func debit(ctx svm.InvokeContext, from *svm.AccountInfo, lamports uint64) error {
	if from.Lamports < lamports {
		return errors.Wrapf(ErrInsufficientFunds, "%s has %d lamports, needs %d", from.Key, from.Lamports, lamports)
	}
	remaining := from.Lamports - lamports
	if remaining != 0 && remaining < ctx.GetRentMinimum(uint64(len(from.Data))) {
		return errors.Wrapf(ErrInsufficientFundsForRent, "%s would keep %d lamports", from.Key, remaining)
	}
	from.Lamports = remaining
	return nil
}
