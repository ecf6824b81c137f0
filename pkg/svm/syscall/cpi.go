package syscall

import (
	"github.com/pkg/errors"

	"github.com/fortiblox/x1-sale/internal/types"
)

// CPI limits.
const (
	MaxCPIInstructionSize = 10 * 1024
	MaxCPIAccounts        = 128
	MaxCPISignerSeeds     = 16
)

var (
	ErrCPIDepthExceeded       = errors.New("cross-program invocation depth exceeded")
	ErrCPIDataTooLarge        = errors.New("cross-program invocation data too large")
	ErrCPITooManyAccounts     = errors.New("too many accounts in cross-program invocation")
	ErrCPITooManySignerSeeds  = errors.New("too many signer seeds")
	ErrCPIPrivilegeEscalation = errors.New("cross-program invocation with unauthorized signer or writable account")
	ErrCPIAccountNotFound     = errors.New("cross-program invocation references an unknown account")
	ErrCPIReentrancy          = errors.New("cross-program invocation reentrancy not allowed")
)

// CallerAccount is the privilege a caller holds over one of its accounts.
type CallerAccount struct {
	Key        types.Pubkey
	IsSigner   bool
	IsWritable bool
}

// CalleeAccount is a privilege requested by a nested instruction.
type CalleeAccount struct {
	Key        types.Pubkey
	IsSigner   bool
	IsWritable bool
}

// DeriveSigners derives the PDA of callerProgram for every seed set.
func DeriveSigners(callerProgram types.Pubkey, signerSeeds [][][]byte) ([]types.Pubkey, error) {
	if len(signerSeeds) > MaxCPISignerSeeds {
		return nil, ErrCPITooManySignerSeeds
	}

	signers := make([]types.Pubkey, 0, len(signerSeeds))
	for _, seeds := range signerSeeds {
		addr, err := CreateProgramAddress(seeds, callerProgram)
		if err != nil {
			return nil, errors.Wrap(err, "derive signer")
		}
		signers = append(signers, addr)
	}
	return signers, nil
}

// CheckPrivileges verifies that a nested instruction asks for no more than
// the caller holds. A callee signer must be a caller signer or one of the
// derived PDA signers; a callee writable account must be writable for the
// caller.
func CheckPrivileges(caller []CallerAccount, callee []CalleeAccount, pdaSigners []types.Pubkey) error {
	if len(callee) > MaxCPIAccounts {
		return ErrCPITooManyAccounts
	}

	for _, want := range callee {
		have, ok := findCaller(caller, want.Key)
		if !ok {
			return errors.Wrapf(ErrCPIAccountNotFound, "account %s", want.Key)
		}

		if want.IsWritable && !have.IsWritable {
			return errors.Wrapf(ErrCPIPrivilegeEscalation, "%s writable privilege escalated", want.Key)
		}
		if want.IsSigner && !have.IsSigner && !containsKey(pdaSigners, want.Key) {
			return errors.Wrapf(ErrCPIPrivilegeEscalation, "%s signer privilege escalated", want.Key)
		}
	}
	return nil
}

func findCaller(caller []CallerAccount, key types.Pubkey) (CallerAccount, bool) {
	for _, c := range caller {
		if c.Key == key {
			return c, true
		}
	}
	return CallerAccount{}, false
}

func containsKey(keys []types.Pubkey, key types.Pubkey) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}
