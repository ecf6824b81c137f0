// Package token implements the fungible token program.
//
// Mints and token accounts use the classic 82 and 165 byte layouts. The
// program supports the subset of instructions the sale needs: creating
// mints and accounts, minting, transfers, delegation and authority
// changes.
package token

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	"github.com/fortiblox/x1-sale/internal/types"
	"github.com/fortiblox/x1-sale/pkg/svm"
)

// ProgramID is the token program address.
var ProgramID = types.TokenProgramAddr

var (
	ErrNotRentExempt         = errors.New("lamport balance below rent-exempt threshold")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrInvalidMint           = errors.New("invalid mint")
	ErrMintMismatch          = errors.New("account not associated with this mint")
	ErrOwnerMismatch         = errors.New("owner does not match")
	ErrFixedSupply           = errors.New("fixed supply")
	ErrAlreadyInUse          = errors.New("already in use")
	ErrUninitializedState    = errors.New("state is uninitialized")
	ErrAccountFrozen         = errors.New("account is frozen")
	ErrOverflow              = errors.New("operation overflowed")
	ErrAuthorityTypeNotValid = errors.New("authority type not supported for this account")
	ErrInvalidAccountData    = errors.New("invalid account data")
)

// Processor executes token program instructions.
type Processor struct{}

// NewProcessor creates a new token program processor.
func NewProcessor() *Processor {
	return &Processor{}
}

var _ svm.Program = (*Processor)(nil)

// Process implements svm.Program.
func (p *Processor) Process(ctx svm.InvokeContext, data []byte) error {
	if len(data) < 1 {
		return svm.ErrInvalidInstructionData
	}
	if err := ctx.ConsumeCompute(svm.CUTokenProgramDefault); err != nil {
		return err
	}

	switch data[0] {
	case InstructionInitializeMint:
		return p.processInitializeMint(ctx, data[1:])
	case InstructionInitializeAccount:
		return p.processInitializeAccount(ctx, data[1:])
	case InstructionTransfer:
		return p.processTransfer(ctx, data[1:])
	case InstructionApprove:
		return p.processApprove(ctx, data[1:])
	case InstructionSetAuthority:
		return p.processSetAuthority(ctx, data[1:])
	case InstructionMintTo:
		return p.processMintTo(ctx, data[1:])
	default:
		return svm.ErrInvalidInstructionData
	}
}

func (p *Processor) processInitializeMint(ctx svm.InvokeContext, data []byte) error {
	if len(data) < 1+32+1 {
		return svm.ErrInvalidInstructionData
	}
	decimals := data[0]
	var authority types.Pubkey
	copy(authority[:], data[1:33])

	var freeze *types.Pubkey
	if data[33] == 1 {
		if len(data) < 1+32+1+32 {
			return svm.ErrInvalidInstructionData
		}
		var key types.Pubkey
		copy(key[:], data[34:66])
		freeze = &key
	}

	if err := svm.RequireAccounts(ctx, 2); err != nil {
		return err
	}
	mintInfo, _ := ctx.GetAccount(0)
	if err := checkOwnedWritable(mintInfo); err != nil {
		return err
	}

	var mint Mint
	if !mint.Unmarshal(mintInfo.Data) {
		return errors.Wrapf(ErrInvalidAccountData, "mint %s", mintInfo.Key)
	}
	if mint.IsInitialized {
		return errors.Wrapf(ErrAlreadyInUse, "mint %s", mintInfo.Key)
	}
	if mintInfo.Lamports < ctx.GetRentMinimum(MintSize) {
		return ErrNotRentExempt
	}

	mint = Mint{
		MintAuthority:   &authority,
		Decimals:        decimals,
		IsInitialized:   true,
		FreezeAuthority: freeze,
	}
	copy(mintInfo.Data, mint.Marshal())

	ctx.Log("Instruction: InitializeMint")
	return nil
}

func (p *Processor) processInitializeAccount(ctx svm.InvokeContext, _ []byte) error {
	if err := svm.RequireAccounts(ctx, 3); err != nil {
		return err
	}
	accountInfo, _ := ctx.GetAccount(0)
	mintInfo, _ := ctx.GetAccount(1)
	ownerInfo, _ := ctx.GetAccount(2)

	if err := checkOwnedWritable(accountInfo); err != nil {
		return err
	}

	var account Account
	if !account.Unmarshal(accountInfo.Data) {
		return errors.Wrapf(ErrInvalidAccountData, "account %s", accountInfo.Key)
	}
	if account.IsInitialized() {
		return errors.Wrapf(ErrAlreadyInUse, "account %s", accountInfo.Key)
	}
	if accountInfo.Lamports < ctx.GetRentMinimum(AccountSize) {
		return ErrNotRentExempt
	}
	if _, err := loadMint(mintInfo); err != nil {
		return err
	}

	account = Account{
		Mint:  mintInfo.Key,
		Owner: ownerInfo.Key,
		State: AccountStateInitialized,
	}
	copy(accountInfo.Data, account.Marshal())

	ctx.Log("Instruction: InitializeAccount")
	return nil
}

func (p *Processor) processTransfer(ctx svm.InvokeContext, data []byte) error {
	if len(data) != 8 {
		return svm.ErrInvalidInstructionData
	}
	amount := binary.LittleEndian.Uint64(data)

	if err := svm.RequireAccounts(ctx, 3); err != nil {
		return err
	}
	sourceInfo, _ := ctx.GetAccount(0)
	destInfo, _ := ctx.GetAccount(1)
	authorityInfo, _ := ctx.GetAccount(2)

	if err := checkOwnedWritable(sourceInfo); err != nil {
		return err
	}
	if err := checkOwnedWritable(destInfo); err != nil {
		return err
	}

	source, err := loadAccount(sourceInfo)
	if err != nil {
		return err
	}
	dest, err := loadAccount(destInfo)
	if err != nil {
		return err
	}
	if source.IsFrozen() || dest.IsFrozen() {
		return ErrAccountFrozen
	}
	if source.Amount < amount {
		return errors.Wrapf(ErrInsufficientFunds, "%s holds %d, needs %d", sourceInfo.Key, source.Amount, amount)
	}
	if source.Mint != dest.Mint {
		return ErrMintMismatch
	}

	switch {
	case source.Delegate != nil && *source.Delegate == authorityInfo.Key && source.Owner != authorityInfo.Key:
		if !authorityInfo.IsSigner {
			return svm.ErrMissingRequiredSignature
		}
		if source.DelegatedAmount < amount {
			return errors.Wrap(ErrInsufficientFunds, "delegated amount")
		}
		source.DelegatedAmount -= amount
		if source.DelegatedAmount == 0 {
			source.Delegate = nil
		}
	default:
		if source.Owner != authorityInfo.Key {
			return errors.Wrapf(ErrOwnerMismatch, "source %s", sourceInfo.Key)
		}
		if !authorityInfo.IsSigner {
			return svm.ErrMissingRequiredSignature
		}
	}

	if sourceInfo.Key == destInfo.Key {
		copy(sourceInfo.Data, source.Marshal())
		return nil
	}
	if dest.Amount > math.MaxUint64-amount {
		return ErrOverflow
	}

	source.Amount -= amount
	dest.Amount += amount
	copy(sourceInfo.Data, source.Marshal())
	copy(destInfo.Data, dest.Marshal())

	ctx.Log("Instruction: Transfer")
	return nil
}

func (p *Processor) processApprove(ctx svm.InvokeContext, data []byte) error {
	if len(data) != 8 {
		return svm.ErrInvalidInstructionData
	}
	amount := binary.LittleEndian.Uint64(data)

	if err := svm.RequireAccounts(ctx, 3); err != nil {
		return err
	}
	sourceInfo, _ := ctx.GetAccount(0)
	delegateInfo, _ := ctx.GetAccount(1)
	ownerInfo, _ := ctx.GetAccount(2)

	if err := checkOwnedWritable(sourceInfo); err != nil {
		return err
	}
	source, err := loadAccount(sourceInfo)
	if err != nil {
		return err
	}
	if source.IsFrozen() {
		return ErrAccountFrozen
	}
	if source.Owner != ownerInfo.Key {
		return ErrOwnerMismatch
	}
	if !ownerInfo.IsSigner {
		return svm.ErrMissingRequiredSignature
	}

	delegate := delegateInfo.Key
	source.Delegate = &delegate
	source.DelegatedAmount = amount
	copy(sourceInfo.Data, source.Marshal())

	ctx.Log("Instruction: Approve")
	return nil
}

func (p *Processor) processSetAuthority(ctx svm.InvokeContext, data []byte) error {
	if len(data) < 2 {
		return svm.ErrInvalidInstructionData
	}
	authorityType := AuthorityType(data[0])
	var newAuthority *types.Pubkey
	if data[1] == 1 {
		if len(data) < 2+32 {
			return svm.ErrInvalidInstructionData
		}
		var key types.Pubkey
		copy(key[:], data[2:34])
		newAuthority = &key
	}

	if err := svm.RequireAccounts(ctx, 2); err != nil {
		return err
	}
	targetInfo, _ := ctx.GetAccount(0)
	currentInfo, _ := ctx.GetAccount(1)

	if err := checkOwnedWritable(targetInfo); err != nil {
		return err
	}

	switch len(targetInfo.Data) {
	case AccountSize:
		account, err := loadAccount(targetInfo)
		if err != nil {
			return err
		}
		if account.IsFrozen() {
			return ErrAccountFrozen
		}

		switch authorityType {
		case AuthorityTypeAccountOwner:
			if err := validateAuthority(&account.Owner, currentInfo); err != nil {
				return err
			}
			if newAuthority == nil {
				return svm.ErrInvalidInstructionData
			}
			account.Owner = *newAuthority
			account.Delegate = nil
			account.DelegatedAmount = 0
		case AuthorityTypeCloseAccount:
			current := account.Owner
			if account.CloseAuthority != nil {
				current = *account.CloseAuthority
			}
			if err := validateAuthority(&current, currentInfo); err != nil {
				return err
			}
			account.CloseAuthority = newAuthority
		default:
			return ErrAuthorityTypeNotValid
		}
		copy(targetInfo.Data, account.Marshal())

	case MintSize:
		mint, err := loadMint(targetInfo)
		if err != nil {
			return err
		}

		switch authorityType {
		case AuthorityTypeMintTokens:
			if mint.MintAuthority == nil {
				return ErrFixedSupply
			}
			if err := validateAuthority(mint.MintAuthority, currentInfo); err != nil {
				return err
			}
			mint.MintAuthority = newAuthority
		case AuthorityTypeFreezeAccount:
			if mint.FreezeAuthority == nil {
				return ErrAuthorityTypeNotValid
			}
			if err := validateAuthority(mint.FreezeAuthority, currentInfo); err != nil {
				return err
			}
			mint.FreezeAuthority = newAuthority
		default:
			return ErrAuthorityTypeNotValid
		}
		copy(targetInfo.Data, mint.Marshal())

	default:
		return errors.Wrapf(ErrInvalidAccountData, "set authority on %s", targetInfo.Key)
	}

	ctx.Log("Instruction: SetAuthority")
	return nil
}

func (p *Processor) processMintTo(ctx svm.InvokeContext, data []byte) error {
	if len(data) != 8 {
		return svm.ErrInvalidInstructionData
	}
	amount := binary.LittleEndian.Uint64(data)

	if err := svm.RequireAccounts(ctx, 3); err != nil {
		return err
	}
	mintInfo, _ := ctx.GetAccount(0)
	destInfo, _ := ctx.GetAccount(1)
	authorityInfo, _ := ctx.GetAccount(2)

	if err := checkOwnedWritable(mintInfo); err != nil {
		return err
	}
	if err := checkOwnedWritable(destInfo); err != nil {
		return err
	}

	dest, err := loadAccount(destInfo)
	if err != nil {
		return err
	}
	if dest.IsFrozen() {
		return ErrAccountFrozen
	}
	if dest.Mint != mintInfo.Key {
		return ErrMintMismatch
	}

	mint, err := loadMint(mintInfo)
	if err != nil {
		return err
	}
	if mint.MintAuthority == nil {
		return ErrFixedSupply
	}
	if err := validateAuthority(mint.MintAuthority, authorityInfo); err != nil {
		return err
	}

	if mint.Supply > math.MaxUint64-amount || dest.Amount > math.MaxUint64-amount {
		return ErrOverflow
	}
	mint.Supply += amount
	dest.Amount += amount
	copy(mintInfo.Data, mint.Marshal())
	copy(destInfo.Data, dest.Marshal())

	ctx.Log("Instruction: MintTo")
	return nil
}

// LoadAccount decodes an initialized token account owned by this program.
func LoadAccount(info *svm.AccountInfo) (*Account, error) {
	if info.Owner != ProgramID {
		return nil, errors.Wrapf(svm.ErrIncorrectProgramID, "token account %s", info.Key)
	}
	return loadAccount(info)
}

// LoadMint decodes an initialized mint owned by this program.
func LoadMint(info *svm.AccountInfo) (*Mint, error) {
	if info.Owner != ProgramID {
		return nil, errors.Wrapf(svm.ErrIncorrectProgramID, "mint %s", info.Key)
	}
	return loadMint(info)
}

func loadAccount(info *svm.AccountInfo) (*Account, error) {
	var account Account
	if !account.Unmarshal(info.Data) {
		return nil, errors.Wrapf(ErrInvalidAccountData, "token account %s", info.Key)
	}
	if !account.IsInitialized() {
		return nil, errors.Wrapf(ErrUninitializedState, "token account %s", info.Key)
	}
	return &account, nil
}

func loadMint(info *svm.AccountInfo) (*Mint, error) {
	if info.Owner != ProgramID {
		return nil, errors.Wrapf(ErrInvalidMint, "%s not owned by token program", info.Key)
	}
	var mint Mint
	if !mint.Unmarshal(info.Data) {
		return nil, errors.Wrapf(ErrInvalidMint, "%s", info.Key)
	}
	if !mint.IsInitialized {
		return nil, errors.Wrapf(ErrUninitializedState, "mint %s", info.Key)
	}
	return &mint, nil
}

func checkOwnedWritable(info *svm.AccountInfo) error {
	if info.Owner != ProgramID {
		return errors.Wrapf(svm.ErrIncorrectProgramID, "%s", info.Key)
	}
	if !info.IsWritable {
		return errors.Wrapf(svm.ErrAccountNotWritable, "%s", info.Key)
	}
	return nil
}

func validateAuthority(expected *types.Pubkey, authority *svm.AccountInfo) error {
	if *expected != authority.Key {
		return errors.Wrapf(ErrOwnerMismatch, "expected %s, got %s", *expected, authority.Key)
	}
	if !authority.IsSigner {
		return svm.ErrMissingRequiredSignature
	}
	return nil
}
