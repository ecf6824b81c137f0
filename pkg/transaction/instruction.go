// Package transaction builds, signs and encodes ledger transactions.
//
// The wire format is the legacy Solana transaction format: a shortvec of
// signatures followed by the message (header, account keys, recent
// blockhash, compiled instructions).
package transaction

import (
	"github.com/fortiblox/x1-sale/internal/types"
)

// AccountMeta describes how an instruction uses an account.
type AccountMeta struct {
	PublicKey  types.Pubkey
	IsSigner   bool
	IsWritable bool
	isPayer    bool
	isProgram  bool
}

// NewAccountMeta creates a new AccountMeta representing a writable
// account.
func NewAccountMeta(pub types.Pubkey, isSigner bool) AccountMeta {
	return AccountMeta{
		PublicKey:  pub,
		IsSigner:   isSigner,
		IsWritable: true,
	}
}

// NewReadonlyAccountMeta creates a new AccountMeta representing a readonly
// account.
func NewReadonlyAccountMeta(pub types.Pubkey, isSigner bool) AccountMeta {
	return AccountMeta{
		PublicKey: pub,
		IsSigner:  isSigner,
	}
}

// SortableAccountMeta sorts metas into message order: payer first, then
// writable signers, readonly signers, writable non-signers, readonly
// non-signers, programs last.
type SortableAccountMeta []AccountMeta

func (s SortableAccountMeta) Len() int {
	return len(s)
}

func (s SortableAccountMeta) Less(i int, j int) bool {
	if s[i].isPayer != s[j].isPayer {
		return s[i].isPayer
	}
	if s[i].isProgram != s[j].isProgram {
		return !s[i].isProgram
	}
	if s[i].IsSigner != s[j].IsSigner {
		return s[i].IsSigner
	}
	if s[i].IsWritable != s[j].IsWritable {
		return s[i].IsWritable
	}
	return s[i].PublicKey.Compare(s[j].PublicKey) < 0
}

func (s SortableAccountMeta) Swap(i int, j int) {
	s[i], s[j] = s[j], s[i]
}

// Instruction is a single program invocation.
type Instruction struct {
	Program  types.Pubkey
	Accounts []AccountMeta
	Data     []byte
}

// NewInstruction creates a new instruction.
func NewInstruction(program types.Pubkey, data []byte, accounts ...AccountMeta) Instruction {
	return Instruction{
		Program:  program,
		Data:     data,
		Accounts: accounts,
	}
}

// CompiledInstruction references accounts by their index in the message.
type CompiledInstruction struct {
	ProgramIndex byte
	Accounts     []byte
	Data         []byte
}
