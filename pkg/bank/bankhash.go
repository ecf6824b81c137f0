package bank

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/fortiblox/x1-sale/internal/types"
	"github.com/fortiblox/x1-sale/pkg/accounts"
)

// BankHashInfo contains the components of a bank hash.
type BankHashInfo struct {
	// ParentBankHash is the bank hash of the parent slot.
	ParentBankHash types.Hash

	// AccountsDeltaHash is the merkle root of the accounts written in the
	// slot.
	AccountsDeltaHash types.Hash

	// SignatureCount is the number of signatures in the slot.
	SignatureCount uint64

	// LastBlockhash is the blockhash of the slot.
	LastBlockhash types.Hash
}

// ComputeBankHash computes
//
//	sha256(parent_bank_hash || accounts_delta_hash || signature_count || last_blockhash)
//
// with the signature count as a little endian u64.
func ComputeBankHash(info *BankHashInfo) types.Hash {
	buf := make([]byte, 32+32+8+32)
	offset := 0

	copy(buf[offset:], info.ParentBankHash[:])
	offset += 32

	copy(buf[offset:], info.AccountsDeltaHash[:])
	offset += 32

	binary.LittleEndian.PutUint64(buf[offset:], info.SignatureCount)
	offset += 8

	copy(buf[offset:], info.LastBlockhash[:])

	return sha256.Sum256(buf)
}

// VerifyBankHash verifies a bank hash against expected components.
func VerifyBankHash(expected types.Hash, info *BankHashInfo) bool {
	return ComputeBankHash(info) == expected
}

// slotHashes computes the delta hash, blockhash and bank hash of a
// committed batch.
func slotHashes(parentBankHash, parentBlockhash types.Hash, batch *accounts.Batch, signatures uint64) (bankHash, blockhash types.Hash) {
	info := &BankHashInfo{
		ParentBankHash:    parentBankHash,
		AccountsDeltaHash: accounts.DeltaHash(batch),
		SignatureCount:    signatures,
	}
	info.LastBlockhash = nextBlockhash(parentBlockhash, batch.Slot, info.AccountsDeltaHash)
	return ComputeBankHash(info), info.LastBlockhash
}
