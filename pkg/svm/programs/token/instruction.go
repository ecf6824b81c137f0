package token

import (
	"encoding/binary"

	"github.com/fortiblox/x1-sale/internal/types"
	"github.com/fortiblox/x1-sale/pkg/transaction"
)

// Instruction tags, encoded as the first data byte.
const (
	InstructionInitializeMint    uint8 = 0
	InstructionInitializeAccount uint8 = 1
	InstructionTransfer          uint8 = 3
	InstructionApprove           uint8 = 4
	InstructionSetAuthority      uint8 = 6
	InstructionMintTo            uint8 = 7
)

// AuthorityType selects the authority changed by SetAuthority.
type AuthorityType uint8

const (
	AuthorityTypeMintTokens AuthorityType = iota
	AuthorityTypeFreezeAccount
	AuthorityTypeAccountOwner
	AuthorityTypeCloseAccount
)

// InitializeMint builds an InitializeMint instruction. freezeAuthority may
// be nil.
//
// Account references
//  0. [WRITE] The mint to initialize
//  1. [] Rent sysvar
func InitializeMint(mint, mintAuthority types.Pubkey, freezeAuthority *types.Pubkey, decimals uint8) transaction.Instruction {
	data := make([]byte, 1+1+32+1+32)
	data[0] = InstructionInitializeMint
	data[1] = decimals
	copy(data[2:], mintAuthority[:])
	if freezeAuthority != nil {
		data[34] = 1
		copy(data[35:], freezeAuthority[:])
	}

	return transaction.NewInstruction(
		ProgramID,
		data,
		transaction.NewAccountMeta(mint, false),
		transaction.NewReadonlyAccountMeta(types.SysvarRentAddr, false),
	)
}

// InitializeAccount builds an InitializeAccount instruction.
//
// Account references
//  0. [WRITE] The account to initialize
//  1. [] The mint this account will hold
//  2. [] The new account's owner
//  3. [] Rent sysvar
func InitializeAccount(account, mint, owner types.Pubkey) transaction.Instruction {
	return transaction.NewInstruction(
		ProgramID,
		[]byte{InstructionInitializeAccount},
		transaction.NewAccountMeta(account, false),
		transaction.NewReadonlyAccountMeta(mint, false),
		transaction.NewReadonlyAccountMeta(owner, false),
		transaction.NewReadonlyAccountMeta(types.SysvarRentAddr, false),
	)
}

// Transfer builds a Transfer instruction.
//
// Account references
//  0. [WRITE] The source account
//  1. [WRITE] The destination account
//  2. [SIGNER] The source account's owner or delegate
func Transfer(source, destination, authority types.Pubkey, amount uint64) transaction.Instruction {
	data := make([]byte, 1+8)
	data[0] = InstructionTransfer
	binary.LittleEndian.PutUint64(data[1:], amount)

	return transaction.NewInstruction(
		ProgramID,
		data,
		transaction.NewAccountMeta(source, false),
		transaction.NewAccountMeta(destination, false),
		transaction.NewReadonlyAccountMeta(authority, true),
	)
}

// Approve builds an Approve instruction.
//
// Account references
//  0. [WRITE] The source account
//  1. [] The delegate
//  2. [SIGNER] The source account owner
func Approve(source, delegate, owner types.Pubkey, amount uint64) transaction.Instruction {
	data := make([]byte, 1+8)
	data[0] = InstructionApprove
	binary.LittleEndian.PutUint64(data[1:], amount)

	return transaction.NewInstruction(
		ProgramID,
		data,
		transaction.NewAccountMeta(source, false),
		transaction.NewReadonlyAccountMeta(delegate, false),
		transaction.NewReadonlyAccountMeta(owner, true),
	)
}

// SetAuthority builds a SetAuthority instruction. A nil newAuthority
// removes the authority.
//
// Account references
//  0. [WRITE] The mint or account to change the authority of
//  1. [SIGNER] The current authority
func SetAuthority(account, currentAuthority types.Pubkey, authorityType AuthorityType, newAuthority *types.Pubkey) transaction.Instruction {
	data := make([]byte, 1+1+1+32)
	data[0] = InstructionSetAuthority
	data[1] = byte(authorityType)
	if newAuthority != nil {
		data[2] = 1
		copy(data[3:], newAuthority[:])
	}

	return transaction.NewInstruction(
		ProgramID,
		data,
		transaction.NewAccountMeta(account, false),
		transaction.NewReadonlyAccountMeta(currentAuthority, true),
	)
}

// MintTo builds a MintTo instruction.
//
// Account references
//  0. [WRITE] The mint
//  1. [WRITE] The account to mint tokens to
//  2. [SIGNER] The mint's minting authority
func MintTo(mint, destination, authority types.Pubkey, amount uint64) transaction.Instruction {
	data := make([]byte, 1+8)
	data[0] = InstructionMintTo
	binary.LittleEndian.PutUint64(data[1:], amount)

	return transaction.NewInstruction(
		ProgramID,
		data,
		transaction.NewAccountMeta(mint, false),
		transaction.NewAccountMeta(destination, false),
		transaction.NewReadonlyAccountMeta(authority, true),
	)
}
