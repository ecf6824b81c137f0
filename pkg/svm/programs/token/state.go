package token

import (
	"github.com/fortiblox/x1-sale/internal/layout"
	"github.com/fortiblox/x1-sale/internal/types"
)

const (
	// MintSize is the data length of a mint account.
	MintSize = 82

	// AccountSize is the data length of a token account.
	AccountSize = 165
)

// AccountState is the lifecycle state of a token account.
type AccountState uint8

const (
	AccountStateUninitialized AccountState = iota
	AccountStateInitialized
	AccountStateFrozen
)

// Mint describes a token.
type Mint struct {
	MintAuthority   *types.Pubkey
	Supply          uint64
	Decimals        uint8
	IsInitialized   bool
	FreezeAuthority *types.Pubkey
}

// Marshal encodes the mint into its 82 byte layout.
func (m *Mint) Marshal() []byte {
	b := make([]byte, MintSize)

	var offset int
	layout.PutOptionalKey32(b, m.MintAuthority, &offset)
	layout.PutUint64(b, m.Supply, &offset)
	layout.PutUint8(b, m.Decimals, &offset)
	layout.PutBool(b, m.IsInitialized, &offset)
	layout.PutOptionalKey32(b, m.FreezeAuthority, &offset)

	return b
}

// Unmarshal decodes a mint. It returns false if b is not a mint layout.
func (m *Mint) Unmarshal(b []byte) bool {
	if len(b) != MintSize {
		return false
	}

	var offset int
	layout.GetOptionalKey32(b, &m.MintAuthority, &offset)
	layout.GetUint64(b, &m.Supply, &offset)
	layout.GetUint8(b, &m.Decimals, &offset)
	layout.GetBool(b, &m.IsInitialized, &offset)
	layout.GetOptionalKey32(b, &m.FreezeAuthority, &offset)

	return true
}

// Account is a token balance held for an owner.
type Account struct {
	Mint            types.Pubkey
	Owner           types.Pubkey
	Amount          uint64
	Delegate        *types.Pubkey
	State           AccountState
	IsNative        *uint64
	DelegatedAmount uint64
	CloseAuthority  *types.Pubkey
}

// Marshal encodes the account into its 165 byte layout.
func (a *Account) Marshal() []byte {
	b := make([]byte, AccountSize)

	var offset int
	layout.PutKey32(b, a.Mint, &offset)
	layout.PutKey32(b, a.Owner, &offset)
	layout.PutUint64(b, a.Amount, &offset)
	layout.PutOptionalKey32(b, a.Delegate, &offset)
	layout.PutUint8(b, uint8(a.State), &offset)
	layout.PutOptionalUint64(b, a.IsNative, &offset)
	layout.PutUint64(b, a.DelegatedAmount, &offset)
	layout.PutOptionalKey32(b, a.CloseAuthority, &offset)

	return b
}

// Unmarshal decodes a token account. It returns false if b is not an
// account layout.
func (a *Account) Unmarshal(b []byte) bool {
	if len(b) != AccountSize {
		return false
	}

	var offset int
	var state uint8
	layout.GetKey32(b, &a.Mint, &offset)
	layout.GetKey32(b, &a.Owner, &offset)
	layout.GetUint64(b, &a.Amount, &offset)
	layout.GetOptionalKey32(b, &a.Delegate, &offset)
	layout.GetUint8(b, &state, &offset)
	layout.GetOptionalUint64(b, &a.IsNative, &offset)
	layout.GetUint64(b, &a.DelegatedAmount, &offset)
	layout.GetOptionalKey32(b, &a.CloseAuthority, &offset)
	a.State = AccountState(state)

	return true
}

// IsInitialized reports whether the account has been initialized.
func (a *Account) IsInitialized() bool {
	return a.State != AccountStateUninitialized
}

// IsFrozen reports whether the account is frozen.
func (a *Account) IsFrozen() bool {
	return a.State == AccountStateFrozen
}
