package sale

import (
	"bytes"

	"github.com/pkg/errors"

	"github.com/fortiblox/x1-sale/internal/layout"
	"github.com/fortiblox/x1-sale/internal/types"
)

// MaxWhitelistSize is the number of whitelist slots in a sale config.
const MaxWhitelistSize = 10

const SaleConfigSize = (8 + // discriminator
	32 + // authority
	32 + // token_mint
	32 + // token_vault
	8 + // price
	8 + // max_tokens_per_wallet
	1 + // bump
	1 + // whitelist_len
	MaxWhitelistSize*32) // whitelist

// sha256("account:Sale")[:8]
var saleConfigDiscriminator = []byte{202, 64, 232, 171, 178, 172, 34, 183}

// ErrInvalidSaleConfig is returned when bytes do not hold a sale config.
var ErrInvalidSaleConfig = errors.New("invalid sale config")

// SaleConfig is the singleton sale record.
type SaleConfig struct {
	Authority          types.Pubkey
	TokenMint          types.Pubkey
	TokenVault         types.Pubkey
	Price              uint64
	MaxTokensPerWallet uint64
	Bump               uint8
	Whitelist          []types.Pubkey
}

// Marshal encodes the config into its fixed width layout. Unused
// whitelist slots are zero.
func (c *SaleConfig) Marshal() []byte {
	b := make([]byte, SaleConfigSize)

	var offset int
	offset += copy(b, saleConfigDiscriminator)
	layout.PutKey32(b, c.Authority, &offset)
	layout.PutKey32(b, c.TokenMint, &offset)
	layout.PutKey32(b, c.TokenVault, &offset)
	layout.PutUint64(b, c.Price, &offset)
	layout.PutUint64(b, c.MaxTokensPerWallet, &offset)
	layout.PutUint8(b, c.Bump, &offset)
	layout.PutUint8(b, uint8(len(c.Whitelist)), &offset)
	for _, key := range c.Whitelist {
		layout.PutKey32(b, key, &offset)
	}

	return b
}

// UnmarshalSaleConfig decodes a sale config.
func UnmarshalSaleConfig(b []byte) (*SaleConfig, error) {
	if len(b) != SaleConfigSize {
		return nil, errors.Wrapf(ErrInvalidSaleConfig, "size %d", len(b))
	}
	if !bytes.Equal(b[:8], saleConfigDiscriminator) {
		return nil, errors.Wrap(ErrInvalidSaleConfig, "discriminator")
	}

	var c SaleConfig
	var whitelistLen uint8
	offset := 8
	layout.GetKey32(b, &c.Authority, &offset)
	layout.GetKey32(b, &c.TokenMint, &offset)
	layout.GetKey32(b, &c.TokenVault, &offset)
	layout.GetUint64(b, &c.Price, &offset)
	layout.GetUint64(b, &c.MaxTokensPerWallet, &offset)
	layout.GetUint8(b, &c.Bump, &offset)
	layout.GetUint8(b, &whitelistLen, &offset)

	if whitelistLen > MaxWhitelistSize {
		return nil, errors.Wrapf(ErrInvalidSaleConfig, "whitelist length %d", whitelistLen)
	}
	c.Whitelist = make([]types.Pubkey, whitelistLen)
	for i := range c.Whitelist {
		layout.GetKey32(b, &c.Whitelist[i], &offset)
	}

	return &c, nil
}

// IsWhitelisted reports whether key may buy. Duplicate entries are
// harmless.
func (c *SaleConfig) IsWhitelisted(key types.Pubkey) bool {
	for _, w := range c.Whitelist {
		if w == key {
			return true
		}
	}
	return false
}
