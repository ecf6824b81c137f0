package bank

import (
	"encoding/binary"
	"math"

	"github.com/fortiblox/x1-sale/internal/types"
	"github.com/fortiblox/x1-sale/pkg/accounts"
	"github.com/fortiblox/x1-sale/pkg/svm"
)

// builtinAccount returns the account of a registered program or sysvar
// that is not present in the store.
func (b *Bank) builtinAccount(key types.Pubkey) (*accounts.Account, bool) {
	b.programsMu.RLock()
	_, isProgram := b.programs[key]
	b.programsMu.RUnlock()

	switch {
	case isProgram:
		return &accounts.Account{
			Lamports:   1,
			Owner:      types.NativeLoaderAddr,
			Executable: true,
		}, true
	case key == types.SysvarRentAddr:
		return &accounts.Account{
			Lamports: 1,
			Owner:    types.SysvarOwnerAddr,
			Data:     encodeRent(b.cfg.Rent),
		}, true
	default:
		return nil, false
	}
}

// encodeRent encodes the rent sysvar: lamports per byte year (u64),
// exemption threshold in years (f64) and burn percent (u8).
func encodeRent(rent svm.Rent) []byte {
	data := make([]byte, 8+8+1)
	binary.LittleEndian.PutUint64(data, rent.LamportsPerByteYear)
	binary.LittleEndian.PutUint64(data[8:], math.Float64bits(float64(rent.ExemptionYears)))
	data[16] = 50
	return data
}
