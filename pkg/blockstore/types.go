package blockstore

import (
	"encoding/binary"

	"github.com/fortiblox/x1-sale/internal/types"
)

// TransactionRecord is the journaled outcome of one executed transaction.
type TransactionRecord struct {
	// Signature is the first transaction signature.
	Signature types.Signature

	// Slot is the slot the transaction committed in. A failed transaction
	// is recorded at the latest committed slot.
	Slot uint64

	// BlockTime is the unix time at which the transaction executed.
	BlockTime int64

	// Transaction is the wire encoded transaction.
	Transaction []byte

	// Accounts lists every account key of the message.
	Accounts []types.Pubkey

	Success bool

	// Err is the error message of a failed transaction.
	Err string

	// InstructionIndex is the failed top level instruction, when known.
	InstructionIndex *int

	// CustomCode is the program error code of the failure, when the
	// program reports one.
	CustomCode *uint32

	Fee                  uint64
	ComputeUnitsConsumed uint64
	LogMessages          []string
	PreBalances          []uint64
	PostBalances         []uint64
}

// SignatureInfo is stored in the address to signature index.
type SignatureInfo struct {
	// Signature is the transaction signature.
	Signature types.Signature

	// Slot is the slot containing this transaction.
	Slot uint64

	// Err is present if the transaction failed.
	Err string

	InstructionIndex *int
	CustomCode       *uint32

	// BlockTime is the execution timestamp.
	BlockTime int64
}

// SignatureQueryOptions configures signature queries.
type SignatureQueryOptions struct {
	// Limit is the maximum number of signatures to return.
	Limit int

	// Before returns signatures older than (not including) this signature.
	Before *types.Signature

	// Until stops at (not including) this signature.
	Until *types.Signature
}

// Stats contains journal statistics.
type Stats struct {
	// LatestSlot is the most recent slot journaled.
	LatestSlot uint64

	// OldestSlot is the oldest slot still retained.
	OldestSlot uint64

	// TransactionCount is the number of journaled transactions.
	TransactionCount uint64

	// DatabaseSize is the size of the database file in bytes.
	DatabaseSize int64
}

// EncodeSlotKey encodes a slot number as a big-endian 8-byte key.
// Big-endian keeps keys in slot order.
func EncodeSlotKey(slot uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, slot)
	return key
}

// DecodeSlotKey decodes a slot number from a big-endian 8-byte key.
func DecodeSlotKey(key []byte) uint64 {
	if len(key) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(key)
}

// EncodeSlotSignatureKey encodes a slot+signature composite key.
// Format: [8-byte slot big-endian][64-byte signature]
func EncodeSlotSignatureKey(slot uint64, sig types.Signature) []byte {
	key := make([]byte, 8+types.SignatureSize)
	binary.BigEndian.PutUint64(key, slot)
	copy(key[8:], sig[:])
	return key
}

// EncodeSignatureKey encodes a signature as a key (raw bytes).
func EncodeSignatureKey(sig types.Signature) []byte {
	return sig[:]
}

// EncodeAddressSlotKey encodes an address+slot+signature composite key.
// Format: [32-byte address][8-byte slot big-endian][64-byte signature]
func EncodeAddressSlotKey(addr types.Pubkey, slot uint64, sig types.Signature) []byte {
	key := make([]byte, types.PubkeySize+8+types.SignatureSize)
	copy(key, addr[:])
	binary.BigEndian.PutUint64(key[types.PubkeySize:], slot)
	copy(key[types.PubkeySize+8:], sig[:])
	return key
}

// DecodeAddressSlotKey decodes an address+slot+signature composite key.
func DecodeAddressSlotKey(key []byte) (types.Pubkey, uint64, types.Signature) {
	var (
		addr types.Pubkey
		sig  types.Signature
	)
	if len(key) < types.PubkeySize+8+types.SignatureSize {
		return addr, 0, sig
	}
	copy(addr[:], key)
	slot := binary.BigEndian.Uint64(key[types.PubkeySize:])
	copy(sig[:], key[types.PubkeySize+8:])
	return addr, slot, sig
}

// DefaultRetainSlots is the number of slots kept by pruning.
const DefaultRetainSlots uint64 = 864_000
