package accounts

import (
	"encoding/binary"

	"github.com/zeebo/blake3"

	"github.com/fortiblox/x1-sale/internal/types"
)

// HashAccount computes the blake3 hash of an account:
//
//	blake3(lamports || rent_epoch || data || executable || owner || pubkey)
//
// Zero accounts hash to the zero hash so that deletions are visible in a
// delta hash.
func HashAccount(pubkey types.Pubkey, account *Account) types.Hash {
	if account == nil || account.IsZero() {
		return types.Hash{}
	}

	h := blake3.New()
	var u64 [8]byte

	binary.LittleEndian.PutUint64(u64[:], account.Lamports)
	_, _ = h.Write(u64[:])
	binary.LittleEndian.PutUint64(u64[:], account.RentEpoch)
	_, _ = h.Write(u64[:])
	_, _ = h.Write(account.Data)
	if account.Executable {
		_, _ = h.Write([]byte{1})
	} else {
		_, _ = h.Write([]byte{0})
	}
	_, _ = h.Write(account.Owner[:])
	_, _ = h.Write(pubkey[:])

	var out types.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// DeltaHash is the merkle root of the account hashes written by a batch, in
// pubkey order.
func DeltaHash(batch *Batch) types.Hash {
	updates := batch.Sorted()
	hashes := make([]types.Hash, len(updates))
	for i, u := range updates {
		hashes[i] = HashAccount(u.Pubkey, u.Account)
	}
	return MerkleRoot(hashes)
}

// StateHash is the merkle root over every account stored in db.
func StateHash(db DB) (types.Hash, error) {
	var hashes []types.Hash
	err := db.Iterate(func(pubkey types.Pubkey, account *Account) error {
		hashes = append(hashes, HashAccount(pubkey, account))
		return nil
	})
	if err != nil {
		return types.Hash{}, err
	}
	return MerkleRoot(hashes), nil
}

// MerkleRoot computes a binary merkle root. Leaves are prefixed with 0x00
// and inner nodes with 0x01; an odd node is paired with the zero hash.
func MerkleRoot(hashes []types.Hash) types.Hash {
	if len(hashes) == 0 {
		return types.Hash{}
	}

	level := make([]types.Hash, len(hashes))
	for i, h := range hashes {
		level[i] = leafHash(h)
	}

	for len(level) > 1 {
		next := make([]types.Hash, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			var right types.Hash
			if i+1 < len(level) {
				right = level[i+1]
			}
			next[i/2] = nodeHash(level[i], right)
		}
		level = next
	}

	return level[0]
}

func leafHash(data types.Hash) types.Hash {
	var buf [1 + 32]byte
	copy(buf[1:], data[:])
	return blake3.Sum256(buf[:])
}

func nodeHash(left, right types.Hash) types.Hash {
	var buf [1 + 32 + 32]byte
	buf[0] = 0x01
	copy(buf[1:], left[:])
	copy(buf[33:], right[:])
	return blake3.Sum256(buf[:])
}
