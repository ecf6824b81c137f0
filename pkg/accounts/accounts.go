// Package accounts provides the account record and the account databases
// backing the ledger.
//
// An account is identified by its Pubkey and holds a lamport balance, an
// opaque data buffer interpreted by its owner program, and the owner itself.
// Accounts with zero lamports and no data do not exist: writing one deletes
// the record.
//
// Every DB implementation applies the writes of a committed transaction as
// one atomic Batch, so readers never observe a partially applied
// transaction.
package accounts

import (
	"encoding/binary"
	"sort"

	"github.com/pkg/errors"

	"github.com/fortiblox/x1-sale/internal/types"
)

// MaxAccountDataSize bounds the data buffer of a single account.
const MaxAccountDataSize = 10 * 1024 * 1024

var (
	// ErrAccountNotFound is returned when an account does not exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrClosed is returned when the database has been closed.
	ErrClosed = errors.New("database closed")

	// ErrInvalidData is returned when a serialized account is malformed.
	ErrInvalidData = errors.New("invalid account data")
)

// Account is the on-ledger state of a single address.
type Account struct {
	// Lamports is the native currency balance.
	Lamports uint64

	// Data is owned and interpreted by the Owner program.
	Data []byte

	// Owner is the program allowed to debit lamports and modify Data.
	Owner types.Pubkey

	// Executable marks native program accounts.
	Executable bool

	RentEpoch uint64
}

// Clone creates a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	dataCopy := make([]byte, len(a.Data))
	copy(dataCopy, a.Data)
	return &Account{
		Lamports:   a.Lamports,
		Data:       dataCopy,
		Owner:      a.Owner,
		Executable: a.Executable,
		RentEpoch:  a.RentEpoch,
	}
}

// IsZero reports whether the account holds nothing and can be purged.
func (a *Account) IsZero() bool {
	return a.Lamports == 0 && len(a.Data) == 0 && !a.Executable
}

// Size returns the serialized size of the account.
func (a *Account) Size() int {
	// lamports(8) + data_len(8) + data + owner(32) + executable(1) + rent_epoch(8)
	return 8 + 8 + len(a.Data) + 32 + 1 + 8
}

// Serialize encodes the account into its storage layout.
func (a *Account) Serialize() []byte {
	buf := make([]byte, a.Size())
	offset := 0

	binary.LittleEndian.PutUint64(buf[offset:], a.Lamports)
	offset += 8

	binary.LittleEndian.PutUint64(buf[offset:], uint64(len(a.Data)))
	offset += 8

	copy(buf[offset:], a.Data)
	offset += len(a.Data)

	copy(buf[offset:], a.Owner[:])
	offset += 32

	if a.Executable {
		buf[offset] = 1
	}
	offset++

	binary.LittleEndian.PutUint64(buf[offset:], a.RentEpoch)

	return buf
}

// DeserializeAccount decodes an account produced by Serialize.
func DeserializeAccount(data []byte) (*Account, error) {
	if len(data) < 57 {
		return nil, ErrInvalidData
	}

	offset := 0
	lamports := binary.LittleEndian.Uint64(data[offset:])
	offset += 8

	dataLen := binary.LittleEndian.Uint64(data[offset:])
	offset += 8

	if dataLen > MaxAccountDataSize {
		return nil, ErrInvalidData
	}
	if uint64(len(data)-offset) != dataLen+41 {
		return nil, ErrInvalidData
	}

	accountData := make([]byte, dataLen)
	copy(accountData, data[offset:offset+int(dataLen)])
	offset += int(dataLen)

	var owner types.Pubkey
	copy(owner[:], data[offset:offset+32])
	offset += 32

	executable := data[offset] != 0
	offset++

	return &Account{
		Lamports:   lamports,
		Data:       accountData,
		Owner:      owner,
		Executable: executable,
		RentEpoch:  binary.LittleEndian.Uint64(data[offset:]),
	}, nil
}

// Update is a single account write inside a Batch.
type Update struct {
	Pubkey  types.Pubkey
	Account *Account
}

// Batch is the set of account writes produced by one committed transaction.
type Batch struct {
	// Slot is stored alongside the writes.
	Slot uint64

	Updates []Update
}

// Put adds or replaces the write for pubkey.
func (b *Batch) Put(pubkey types.Pubkey, account *Account) {
	for i := range b.Updates {
		if b.Updates[i].Pubkey == pubkey {
			b.Updates[i].Account = account.Clone()
			return
		}
	}
	b.Updates = append(b.Updates, Update{Pubkey: pubkey, Account: account.Clone()})
}

// Sorted returns the updates ordered by pubkey.
func (b *Batch) Sorted() []Update {
	sorted := make([]Update, len(b.Updates))
	copy(sorted, b.Updates)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Pubkey.Compare(sorted[j].Pubkey) < 0
	})
	return sorted
}

// DB is the account database interface used by the bank.
type DB interface {
	// GetAccount returns a copy of the account or ErrAccountNotFound.
	GetAccount(pubkey types.Pubkey) (*Account, error)

	// SetAccount writes a single account outside of a batch. Used for
	// genesis and snapshot restore.
	SetAccount(pubkey types.Pubkey, account *Account) error

	// HasAccount reports whether the account exists.
	HasAccount(pubkey types.Pubkey) (bool, error)

	// Commit atomically applies every update in the batch and records
	// the batch slot. Zero accounts are deleted.
	Commit(batch *Batch) error

	// Iterate calls fn for every stored account in pubkey order.
	Iterate(fn func(pubkey types.Pubkey, account *Account) error) error

	// GetSlot returns the slot of the last committed batch.
	GetSlot() uint64

	// AccountsCount returns the number of stored accounts.
	AccountsCount() (uint64, error)

	Close() error
}
