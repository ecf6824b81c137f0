package system

import (
	"encoding/binary"

	"github.com/fortiblox/x1-sale/internal/types"
	"github.com/fortiblox/x1-sale/pkg/transaction"
)

// CreateAccount builds a CreateAccount instruction.
//
// Account references
//  0. [WRITE, SIGNER] Funding account
//  1. [WRITE, SIGNER] New account
func CreateAccount(funder, address, owner types.Pubkey, lamports, space uint64) transaction.Instruction {
	data := make([]byte, 4+8+8+32)
	binary.LittleEndian.PutUint32(data, InstructionCreateAccount)
	binary.LittleEndian.PutUint64(data[4:], lamports)
	binary.LittleEndian.PutUint64(data[12:], space)
	copy(data[20:], owner[:])

	return transaction.NewInstruction(
		ProgramID,
		data,
		transaction.NewAccountMeta(funder, true),
		transaction.NewAccountMeta(address, true),
	)
}

// Assign builds an Assign instruction.
//
// Account references
//  0. [WRITE, SIGNER] Assigned account
func Assign(account, owner types.Pubkey) transaction.Instruction {
	data := make([]byte, 4+32)
	binary.LittleEndian.PutUint32(data, InstructionAssign)
	copy(data[4:], owner[:])

	return transaction.NewInstruction(
		ProgramID,
		data,
		transaction.NewAccountMeta(account, true),
	)
}

// Transfer builds a Transfer instruction.
//
// Account references
//  0. [WRITE, SIGNER] Funding account
//  1. [WRITE] Recipient account
func Transfer(from, to types.Pubkey, lamports uint64) transaction.Instruction {
	data := make([]byte, 4+8)
	binary.LittleEndian.PutUint32(data, InstructionTransfer)
	binary.LittleEndian.PutUint64(data[4:], lamports)

	return transaction.NewInstruction(
		ProgramID,
		data,
		transaction.NewAccountMeta(from, true),
		transaction.NewAccountMeta(to, false),
	)
}

// Allocate builds an Allocate instruction.
//
// Account references
//  0. [WRITE, SIGNER] Account to allocate
func Allocate(account types.Pubkey, space uint64) transaction.Instruction {
	data := make([]byte, 4+8)
	binary.LittleEndian.PutUint32(data, InstructionAllocate)
	binary.LittleEndian.PutUint64(data[4:], space)

	return transaction.NewInstruction(
		ProgramID,
		data,
		transaction.NewAccountMeta(account, true),
	)
}
