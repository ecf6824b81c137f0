// Package syscall implements the address derivation and privilege checks
// the runtime performs on behalf of programs.
package syscall

import (
	"crypto/sha256"
	"math"

	"github.com/jdgcs/ed25519/edwards25519"
	"github.com/pkg/errors"

	"github.com/fortiblox/x1-sale/internal/types"
)

// PDA constants.
const (
	MaxSeeds   = 16
	MaxSeedLen = 32
)

var pdaMarker = []byte("ProgramDerivedAddress")

var (
	ErrMaxSeedsExceeded      = errors.New("max seeds exceeded")
	ErrMaxSeedLengthExceeded = errors.New("max seed length exceeded")

	// ErrInvalidSeeds is returned when seeds hash to a point on the curve,
	// which would have a private key.
	ErrInvalidSeeds = errors.New("provided seeds do not result in a valid address")

	// ErrNoViableBump is returned when no bump seed yields an off-curve
	// address.
	ErrNoViableBump = errors.New("unable to find a viable program address bump seed")
)

// CreateProgramAddress derives sha256(seeds || programID || "ProgramDerivedAddress")
// and rejects results that are valid ed25519 points.
func CreateProgramAddress(seeds [][]byte, programID types.Pubkey) (types.Pubkey, error) {
	if len(seeds) > MaxSeeds {
		return types.Pubkey{}, ErrMaxSeedsExceeded
	}

	h := sha256.New()
	for _, s := range seeds {
		if len(s) > MaxSeedLen {
			return types.Pubkey{}, ErrMaxSeedLengthExceeded
		}
		_, _ = h.Write(s)
	}
	_, _ = h.Write(programID[:])
	_, _ = h.Write(pdaMarker)

	var pub [32]byte
	copy(pub[:], h.Sum(nil))

	// A successful decompression means the hash is a point on the curve.
	var A edwards25519.ExtendedGroupElement
	if A.FromBytes(&pub) {
		return types.Pubkey{}, ErrInvalidSeeds
	}

	return types.Pubkey(pub), nil
}

// FindProgramAddress searches bump seeds from 255 down and returns the first
// off-curve address with its bump.
func FindProgramAddress(seeds [][]byte, programID types.Pubkey) (types.Pubkey, uint8, error) {
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)

	for bump := math.MaxUint8; bump > 0; bump-- {
		withBump[len(seeds)] = []byte{byte(bump)}

		addr, err := CreateProgramAddress(withBump, programID)
		if err == nil {
			return addr, uint8(bump), nil
		}
		if !errors.Is(err, ErrInvalidSeeds) {
			return types.Pubkey{}, 0, err
		}
	}

	return types.Pubkey{}, 0, ErrNoViableBump
}

// IsOnCurve reports whether key is a valid ed25519 public key.
func IsOnCurve(key types.Pubkey) bool {
	var A edwards25519.ExtendedGroupElement
	b := [32]byte(key)
	return A.FromBytes(&b)
}
