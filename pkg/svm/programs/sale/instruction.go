package sale

import (
	"bytes"
	"encoding/binary"

	"github.com/fortiblox/x1-sale/internal/types"
	"github.com/fortiblox/x1-sale/pkg/svm"
	"github.com/fortiblox/x1-sale/pkg/transaction"
)

var (
	// sha256("global:initialize")[:8]
	initializeInstructionDiscriminator = []byte{175, 175, 109, 31, 13, 152, 155, 237}

	// sha256("global:buy_tokens")[:8]
	buyTokensInstructionDiscriminator = []byte{189, 21, 230, 133, 247, 2, 110, 42}
)

type InitializeInstructionArgs struct {
	Price              uint64
	MaxTokensPerWallet uint64
	Whitelist          []types.Pubkey
}

type InitializeInstructionAccounts struct {
	Sale       types.Pubkey
	Authority  types.Pubkey
	TokenMint  types.Pubkey
	TokenVault types.Pubkey
}

// NewInitializeInstruction builds an Initialize instruction.
//
// Account references
//  0. [WRITE] Sale config, created at the sale address
//  1. [WRITE, SIGNER] Authority, pays rent and receives proceeds
//  2. [] Token mint
//  3. [WRITE] Token vault
//  4. [] System program
//  5. [] Token program
//  6. [] Rent sysvar
func NewInitializeInstruction(accounts *InitializeInstructionAccounts, args *InitializeInstructionArgs) transaction.Instruction {
	data := make([]byte, 8+8+8+4+32*len(args.Whitelist))

	offset := copy(data, initializeInstructionDiscriminator)
	binary.LittleEndian.PutUint64(data[offset:], args.Price)
	offset += 8
	binary.LittleEndian.PutUint64(data[offset:], args.MaxTokensPerWallet)
	offset += 8
	binary.LittleEndian.PutUint32(data[offset:], uint32(len(args.Whitelist)))
	offset += 4
	for _, key := range args.Whitelist {
		offset += copy(data[offset:], key[:])
	}

	return transaction.NewInstruction(
		ProgramID,
		data,
		transaction.NewAccountMeta(accounts.Sale, false),
		transaction.NewAccountMeta(accounts.Authority, true),
		transaction.NewReadonlyAccountMeta(accounts.TokenMint, false),
		transaction.NewAccountMeta(accounts.TokenVault, false),
		transaction.NewReadonlyAccountMeta(types.SystemProgramAddr, false),
		transaction.NewReadonlyAccountMeta(types.TokenProgramAddr, false),
		transaction.NewReadonlyAccountMeta(types.SysvarRentAddr, false),
	)
}

type BuyTokensInstructionArgs struct {
	Amount uint64
}

type BuyTokensInstructionAccounts struct {
	Sale              types.Pubkey
	Buyer             types.Pubkey
	Authority         types.Pubkey
	TokenVault        types.Pubkey
	BuyerTokenAccount types.Pubkey
}

// NewBuyTokensInstruction builds a BuyTokens instruction.
//
// Account references
//  0. [] Sale config
//  1. [WRITE, SIGNER] Buyer, pays the total cost
//  2. [WRITE] Sale authority, receives the total cost
//  3. [WRITE] Token vault
//  4. [WRITE] Buyer token account
//  5. [] System program
//  6. [] Token program
func NewBuyTokensInstruction(accounts *BuyTokensInstructionAccounts, args *BuyTokensInstructionArgs) transaction.Instruction {
	data := make([]byte, 8+8)
	offset := copy(data, buyTokensInstructionDiscriminator)
	binary.LittleEndian.PutUint64(data[offset:], args.Amount)

	return transaction.NewInstruction(
		ProgramID,
		data,
		transaction.NewReadonlyAccountMeta(accounts.Sale, false),
		transaction.NewAccountMeta(accounts.Buyer, true),
		transaction.NewAccountMeta(accounts.Authority, false),
		transaction.NewAccountMeta(accounts.TokenVault, false),
		transaction.NewAccountMeta(accounts.BuyerTokenAccount, false),
		transaction.NewReadonlyAccountMeta(types.SystemProgramAddr, false),
		transaction.NewReadonlyAccountMeta(types.TokenProgramAddr, false),
	)
}

// InitializeInstructionArgsFromBinary decodes Initialize arguments,
// discriminator included.
func InitializeInstructionArgsFromBinary(data []byte) (*InitializeInstructionArgs, error) {
	if len(data) < 8+8+8+4 || !bytes.Equal(data[:8], initializeInstructionDiscriminator) {
		return nil, svm.ErrInvalidInstructionData
	}

	var args InitializeInstructionArgs
	args.Price = binary.LittleEndian.Uint64(data[8:])
	args.MaxTokensPerWallet = binary.LittleEndian.Uint64(data[16:])
	count := binary.LittleEndian.Uint32(data[24:])

	rest := data[28:]
	if uint64(len(rest)) != uint64(count)*32 {
		return nil, svm.ErrInvalidInstructionData
	}
	args.Whitelist = make([]types.Pubkey, count)
	for i := range args.Whitelist {
		copy(args.Whitelist[i][:], rest[i*32:])
	}

	return &args, nil
}

// BuyTokensInstructionArgsFromBinary decodes BuyTokens arguments,
// discriminator included.
func BuyTokensInstructionArgsFromBinary(data []byte) (*BuyTokensInstructionArgs, error) {
	if len(data) != 8+8 || !bytes.Equal(data[:8], buyTokensInstructionDiscriminator) {
		return nil, svm.ErrInvalidInstructionData
	}
	return &BuyTokensInstructionArgs{Amount: binary.LittleEndian.Uint64(data[8:])}, nil
}
