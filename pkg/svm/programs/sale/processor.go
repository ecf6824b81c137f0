// Package sale implements the whitelisted token sale program.
//
// Initialize creates the singleton sale config at the sale address and
// places the custody vault under the control of that address. BuyTokens
// sells vault tokens to whitelisted wallets at a fixed price, capping the
// token balance any one wallet can reach through the sale. Both operations
// validate everything before the first transfer, and the runtime discards
// every change of a failed transaction.
package sale

import (
	"math"

	"github.com/pkg/errors"

	"github.com/fortiblox/x1-sale/internal/types"
	"github.com/fortiblox/x1-sale/pkg/svm"
	"github.com/fortiblox/x1-sale/pkg/svm/programs/system"
	"github.com/fortiblox/x1-sale/pkg/svm/programs/token"
	"github.com/fortiblox/x1-sale/pkg/svm/syscall"
)

const (
	initializeAccountCount = 7
	buyTokensAccountCount  = 7
)

// Processor executes sale program instructions.
type Processor struct{}

// NewProcessor creates a new sale program processor.
func NewProcessor() *Processor {
	return &Processor{}
}

var _ svm.Program = (*Processor)(nil)

// Process implements svm.Program.
func (p *Processor) Process(ctx svm.InvokeContext, data []byte) error {
	if len(data) < 8 {
		return svm.ErrInvalidInstructionData
	}
	if err := ctx.ConsumeCompute(svm.CUSaleProgramDefault); err != nil {
		return err
	}

	if args, err := InitializeInstructionArgsFromBinary(data); err == nil {
		ctx.Log("Instruction: Initialize")
		return p.processInitialize(ctx, args)
	}
	if args, err := BuyTokensInstructionArgsFromBinary(data); err == nil {
		ctx.Log("Instruction: BuyTokens")
		return p.processBuyTokens(ctx, args)
	}
	return svm.ErrInvalidInstructionData
}

func (p *Processor) processInitialize(ctx svm.InvokeContext, args *InitializeInstructionArgs) error {
	if err := svm.RequireAccounts(ctx, initializeAccountCount); err != nil {
		return err
	}
	saleInfo, _ := ctx.GetAccount(0)
	authorityInfo, _ := ctx.GetAccount(1)
	mintInfo, _ := ctx.GetAccount(2)
	vaultInfo, _ := ctx.GetAccount(3)
	systemInfo, _ := ctx.GetAccount(4)
	tokenInfo, _ := ctx.GetAccount(5)
	rentInfo, _ := ctx.GetAccount(6)

	if !authorityInfo.IsSigner {
		return errors.Wrap(svm.ErrMissingRequiredSignature, "authority")
	}
	if !authorityInfo.IsWritable || !saleInfo.IsWritable || !vaultInfo.IsWritable {
		return svm.ErrAccountNotWritable
	}
	if err := checkPrograms(systemInfo, tokenInfo); err != nil {
		return err
	}
	if rentInfo.Key != types.SysvarRentAddr {
		return errors.Wrapf(svm.ErrInvalidArgument, "rent sysvar %s", rentInfo.Key)
	}

	if err := ctx.ConsumeCompute(svm.CUCreateProgramAddress); err != nil {
		return err
	}
	saleAddress, bump, err := GetSaleAddress()
	if err != nil {
		return err
	}
	if saleInfo.Key != saleAddress {
		return errors.Wrapf(ErrAccountMismatch, "sale %s is not the sale address %s", saleInfo.Key, saleAddress)
	}
	if len(saleInfo.Data) > 0 || saleInfo.Owner != system.ProgramID {
		return ErrAlreadyInitialized
	}

	if args.Price == 0 {
		return errors.Wrap(ErrInvalidParameters, "price must be greater than zero")
	}
	if args.MaxTokensPerWallet == 0 {
		return errors.Wrap(ErrInvalidParameters, "max tokens per wallet must be greater than zero")
	}
	if len(args.Whitelist) > MaxWhitelistSize {
		return errors.Wrapf(ErrInvalidParameters, "whitelist has %d entries, max %d", len(args.Whitelist), MaxWhitelistSize)
	}

	if _, err := token.LoadMint(mintInfo); err != nil {
		return errors.Wrapf(ErrAccountMismatch, "token mint: %v", err)
	}
	vault, err := token.LoadAccount(vaultInfo)
	if err != nil {
		return errors.Wrapf(ErrAccountMismatch, "token vault: %v", err)
	}
	if vault.Mint != mintInfo.Key {
		return errors.Wrapf(ErrAccountMismatch, "token vault holds mint %s, not %s", vault.Mint, mintInfo.Key)
	}

	switch vault.Owner {
	case saleAddress:
	case authorityInfo.Key:
		setAuthority := token.SetAuthority(vaultInfo.Key, authorityInfo.Key, token.AuthorityTypeAccountOwner, &saleAddress)
		if err := ctx.Invoke(setAuthority); err != nil {
			return err
		}
	default:
		return errors.Wrapf(ErrAccountMismatch, "token vault is controlled by %s", vault.Owner)
	}

	if err := createSaleAccount(ctx, saleInfo, authorityInfo, bump); err != nil {
		return err
	}

	config := SaleConfig{
		Authority:          authorityInfo.Key,
		TokenMint:          mintInfo.Key,
		TokenVault:         vaultInfo.Key,
		Price:              args.Price,
		MaxTokensPerWallet: args.MaxTokensPerWallet,
		Bump:               bump,
		Whitelist:          args.Whitelist,
	}
	copy(saleInfo.Data, config.Marshal())

	ctx.Log("Sale initialized: price %d, max %d per wallet, %d whitelisted", args.Price, args.MaxTokensPerWallet, len(args.Whitelist))
	return nil
}

// createSaleAccount allocates the sale config at the sale address, paid for
// by the authority. An address that already holds lamports is topped up,
// allocated and assigned instead of created.
func createSaleAccount(ctx svm.InvokeContext, saleInfo, payer *svm.AccountInfo, bump uint8) error {
	seeds := saleSignerSeeds(bump)
	required := ctx.GetRentMinimum(SaleConfigSize)

	if saleInfo.Lamports == 0 {
		return ctx.Invoke(system.CreateAccount(payer.Key, saleInfo.Key, ProgramID, required, SaleConfigSize), seeds)
	}

	if saleInfo.Lamports < required {
		if err := ctx.Invoke(system.Transfer(payer.Key, saleInfo.Key, required-saleInfo.Lamports)); err != nil {
			return err
		}
	}
	if err := ctx.Invoke(system.Allocate(saleInfo.Key, SaleConfigSize), seeds); err != nil {
		return err
	}
	return ctx.Invoke(system.Assign(saleInfo.Key, ProgramID), seeds)
}

func (p *Processor) processBuyTokens(ctx svm.InvokeContext, args *BuyTokensInstructionArgs) error {
	if err := svm.RequireAccounts(ctx, buyTokensAccountCount); err != nil {
		return err
	}
	saleInfo, _ := ctx.GetAccount(0)
	buyerInfo, _ := ctx.GetAccount(1)
	authorityInfo, _ := ctx.GetAccount(2)
	vaultInfo, _ := ctx.GetAccount(3)
	buyerTokenInfo, _ := ctx.GetAccount(4)
	systemInfo, _ := ctx.GetAccount(5)
	tokenInfo, _ := ctx.GetAccount(6)

	if err := checkPrograms(systemInfo, tokenInfo); err != nil {
		return err
	}

	config, err := loadSaleConfig(ctx, saleInfo)
	if err != nil {
		return err
	}

	if !buyerInfo.IsSigner {
		return errors.Wrap(svm.ErrMissingRequiredSignature, "buyer")
	}
	if !buyerInfo.IsWritable || !authorityInfo.IsWritable || !vaultInfo.IsWritable || !buyerTokenInfo.IsWritable {
		return svm.ErrAccountNotWritable
	}
	if authorityInfo.Key != config.Authority {
		return errors.Wrapf(ErrAccountMismatch, "authority %s, sale authority %s", authorityInfo.Key, config.Authority)
	}
	if vaultInfo.Key != config.TokenVault {
		return errors.Wrapf(ErrAccountMismatch, "token vault %s, sale vault %s", vaultInfo.Key, config.TokenVault)
	}
	vault, err := token.LoadAccount(vaultInfo)
	if err != nil {
		return errors.Wrapf(ErrAccountMismatch, "token vault: %v", err)
	}
	if vault.Mint != config.TokenMint {
		return errors.Wrapf(ErrAccountMismatch, "token vault holds mint %s", vault.Mint)
	}
	buyerTokens, err := token.LoadAccount(buyerTokenInfo)
	if err != nil {
		return errors.Wrapf(ErrAccountMismatch, "buyer token account: %v", err)
	}
	if buyerTokens.Mint != config.TokenMint {
		return errors.Wrapf(ErrAccountMismatch, "buyer token account holds mint %s", buyerTokens.Mint)
	}
	if buyerTokens.Owner != buyerInfo.Key {
		return errors.Wrapf(ErrAccountMismatch, "buyer token account is owned by %s", buyerTokens.Owner)
	}

	if !config.IsWhitelisted(buyerInfo.Key) {
		return errors.Wrapf(ErrNotWhitelisted, "buyer %s", buyerInfo.Key)
	}
	if args.Amount == 0 {
		return ErrInvalidAmount
	}
	if buyerTokens.Amount > math.MaxUint64-args.Amount || buyerTokens.Amount+args.Amount > config.MaxTokensPerWallet {
		return errors.Wrapf(ErrExceedsMaxPerWallet, "holds %d, buying %d, max %d", buyerTokens.Amount, args.Amount, config.MaxTokensPerWallet)
	}
	if args.Amount > math.MaxUint64/config.Price {
		return errors.Wrapf(ErrArithmeticOverflow, "price %d * amount %d", config.Price, args.Amount)
	}
	totalCost := config.Price * args.Amount
	if vault.Amount < args.Amount {
		return errors.Wrapf(ErrInsufficientVaultSupply, "vault holds %d, requested %d", vault.Amount, args.Amount)
	}

	err = ctx.Invoke(system.Transfer(buyerInfo.Key, authorityInfo.Key, totalCost))
	if errors.Is(err, system.ErrInsufficientFunds) || errors.Is(err, system.ErrInsufficientFundsForRent) {
		return errors.Wrapf(ErrInsufficientFunds, "buyer cannot pay %d lamports: %v", totalCost, err)
	} else if err != nil {
		return err
	}

	transfer := token.Transfer(vaultInfo.Key, buyerTokenInfo.Key, saleInfo.Key, args.Amount)
	if err := ctx.Invoke(transfer, saleSignerSeeds(config.Bump)); err != nil {
		return err
	}

	ctx.Log("Sold %d tokens for %d lamports", args.Amount, totalCost)
	return nil
}

// loadSaleConfig decodes the sale config and checks that it lives at the
// sale address.
func loadSaleConfig(ctx svm.InvokeContext, saleInfo *svm.AccountInfo) (*SaleConfig, error) {
	if saleInfo.Owner != ProgramID {
		return nil, errors.Wrapf(ErrAccountMismatch, "sale %s is owned by %s", saleInfo.Key, saleInfo.Owner)
	}
	config, err := UnmarshalSaleConfig(saleInfo.Data)
	if err != nil {
		return nil, errors.Wrapf(ErrAccountMismatch, "sale %s: %v", saleInfo.Key, err)
	}

	if err := ctx.ConsumeCompute(svm.CUCreateProgramAddress); err != nil {
		return nil, err
	}
	address, err := syscall.CreateProgramAddress(saleSignerSeeds(config.Bump), ProgramID)
	if err != nil || address != saleInfo.Key {
		return nil, errors.Wrapf(ErrAccountMismatch, "sale %s is not the sale address", saleInfo.Key)
	}
	return config, nil
}

func checkPrograms(systemInfo, tokenInfo *svm.AccountInfo) error {
	if systemInfo.Key != system.ProgramID {
		return errors.Wrapf(svm.ErrIncorrectProgramID, "system program %s", systemInfo.Key)
	}
	if tokenInfo.Key != token.ProgramID {
		return errors.Wrapf(svm.ErrIncorrectProgramID, "token program %s", tokenInfo.Key)
	}
	return nil
}
