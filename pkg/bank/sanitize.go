package bank

import (
	"github.com/pkg/errors"

	"github.com/fortiblox/x1-sale/internal/types"
	"github.com/fortiblox/x1-sale/pkg/transaction"
)

// sanitize checks the structure of tx before anything is loaded.
func sanitize(tx *transaction.Transaction) error {
	msg := &tx.Message
	h := msg.Header

	switch {
	case len(tx.Signatures) == 0:
		return errors.Wrap(ErrSanitizeFailure, "no signatures")
	case len(tx.Signatures) != int(h.NumSignatures):
		return errors.Wrapf(ErrSanitizeFailure, "%d signatures for %d signers", len(tx.Signatures), h.NumSignatures)
	case int(h.NumSignatures) > len(msg.Accounts):
		return errors.Wrap(ErrSanitizeFailure, "more signers than accounts")
	case h.NumReadonlySigned >= h.NumSignatures:
		return errors.Wrap(ErrSanitizeFailure, "fee payer must be writable")
	case int(h.NumSignatures)+int(h.NumReadOnly) > len(msg.Accounts):
		return errors.Wrap(ErrSanitizeFailure, "readonly accounts out of range")
	}

	seen := make(map[types.Pubkey]struct{}, len(msg.Accounts))
	for _, key := range msg.Accounts {
		if _, ok := seen[key]; ok {
			return errors.Wrapf(ErrSanitizeFailure, "duplicate account %s", key)
		}
		seen[key] = struct{}{}
	}

	for i, ix := range msg.Instructions {
		programIndex := int(ix.ProgramIndex)
		if programIndex == 0 || programIndex >= len(msg.Accounts) {
			return errors.Wrapf(ErrSanitizeFailure, "instruction %d: invalid program index %d", i, programIndex)
		}
		if msg.IsWritable(programIndex) {
			return errors.Wrapf(ErrSanitizeFailure, "instruction %d: program account is writable", i)
		}
		for _, index := range ix.Accounts {
			if int(index) >= len(msg.Accounts) {
				return errors.Wrapf(ErrSanitizeFailure, "instruction %d: account index %d out of range", i, index)
			}
		}
	}

	for i, key := range msg.Accounts {
		if types.IsSysvar(key) && msg.IsWritable(i) {
			return errors.Wrapf(ErrSanitizeFailure, "sysvar %s is writable", key)
		}
	}
	return nil
}

// lockKeys splits the message accounts into the keys to lock exclusively
// and the keys to share.
func lockKeys(tx *transaction.Transaction) (writable, readonly []types.Pubkey) {
	for i, key := range tx.Message.Accounts {
		if tx.Message.IsWritable(i) {
			writable = append(writable, key)
		} else {
			readonly = append(readonly, key)
		}
	}
	return writable, readonly
}
