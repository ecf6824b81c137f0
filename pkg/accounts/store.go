package accounts

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/fortiblox/x1-sale/internal/types"
)

// Key prefixes for BadgerDB storage.
var (
	// prefixAccount + pubkey (32 bytes) -> serialized Account
	prefixAccount = []byte{0x01}

	// prefixMeta + key name -> metadata value
	prefixMeta = []byte{0x02}

	metaSlot          = append(append([]byte{}, prefixMeta...), []byte("slot")...)
	metaAccountsCount = append(append([]byte{}, prefixMeta...), []byte("count")...)
)

// BadgerDBConfig contains configuration for BadgerDB.
type BadgerDBConfig struct {
	// Path is the directory path for the database.
	Path string

	// InMemory runs the database without touching disk.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	NumCompactors    int
	NumMemtables     int
	ValueLogFileSize int64

	// Logger receives badger's internal logs. Nil disables them.
	Logger *logrus.Entry
}

// DefaultBadgerDBConfig returns default configuration.
func DefaultBadgerDBConfig(path string) BadgerDBConfig {
	return BadgerDBConfig{
		Path:             path,
		SyncWrites:       true,
		NumCompactors:    2,
		NumMemtables:     5,
		ValueLogFileSize: 64 << 20,
	}
}

// BadgerDB is a BadgerDB-backed accounts database.
//
// Each Commit is a single badger transaction covering every account write,
// the slot and the account count.
type BadgerDB struct {
	db *badger.DB

	slot          atomic.Uint64
	accountsCount atomic.Uint64

	// mu serializes commits so the cached count stays exact.
	mu sync.Mutex

	closed atomic.Bool
}

var _ DB = (*BadgerDB)(nil)

// badgerLogger adapts a logrus entry to badger.Logger.
type badgerLogger struct {
	*logrus.Entry
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.Entry.Warnf(format, args...)
}

// NewBadgerDB opens a BadgerDB-backed accounts database.
func NewBadgerDB(cfg BadgerDBConfig) (*BadgerDB, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = opts.WithInMemory(true).WithDir("").WithValueDir("")
	}

	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(nil)
	if cfg.NumCompactors > 0 {
		opts = opts.WithNumCompactors(cfg.NumCompactors)
	}
	if cfg.NumMemtables > 0 {
		opts = opts.WithNumMemtables(cfg.NumMemtables)
	}
	if cfg.ValueLogFileSize > 0 {
		opts = opts.WithValueLogFileSize(cfg.ValueLogFileSize)
	}
	if cfg.Logger != nil {
		opts = opts.WithLogger(badgerLogger{cfg.Logger})
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "open badger")
	}

	bdb := &BadgerDB{db: db}
	if err := bdb.loadMetadata(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "load metadata")
	}

	return bdb, nil
}

func (b *BadgerDB) loadMetadata() error {
	return b.db.View(func(txn *badger.Txn) error {
		slot, err := readUint64(txn, metaSlot)
		if err != nil {
			return err
		}
		count, err := readUint64(txn, metaAccountsCount)
		if err != nil {
			return err
		}
		b.slot.Store(slot)
		b.accountsCount.Store(count)
		return nil
	})
}

func readUint64(txn *badger.Txn, key []byte) (uint64, error) {
	item, err := txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var v uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return ErrInvalidData
		}
		v = binary.LittleEndian.Uint64(val)
		return nil
	})
	return v, err
}

func uint64Bytes(v uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	return buf
}

func accountKey(pubkey types.Pubkey) []byte {
	key := make([]byte, 1+32)
	key[0] = prefixAccount[0]
	copy(key[1:], pubkey[:])
	return key
}

// GetAccount implements DB.
func (b *BadgerDB) GetAccount(pubkey types.Pubkey) (*Account, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	var account *Account
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(accountKey(pubkey))
		if err == badger.ErrKeyNotFound {
			return ErrAccountNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			acc, err := DeserializeAccount(val)
			if err != nil {
				return err
			}
			account = acc
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// SetAccount implements DB.
func (b *BadgerDB) SetAccount(pubkey types.Pubkey, account *Account) error {
	return b.Commit(&Batch{
		Slot:    b.slot.Load(),
		Updates: []Update{{Pubkey: pubkey, Account: account}},
	})
}

// HasAccount implements DB.
func (b *BadgerDB) HasAccount(pubkey types.Pubkey) (bool, error) {
	if b.closed.Load() {
		return false, ErrClosed
	}

	var exists bool
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		exists, err = hasKey(txn, accountKey(pubkey))
		return err
	})
	return exists, err
}

func hasKey(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Commit implements DB. Either every update in the batch is persisted or
// none is.
func (b *BadgerDB) Commit(batch *Batch) error {
	if b.closed.Load() {
		return ErrClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	count := b.accountsCount.Load()
	slot := b.slot.Load()
	if batch.Slot > slot {
		slot = batch.Slot
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		for _, u := range batch.Updates {
			key := accountKey(u.Pubkey)
			exists, err := hasKey(txn, key)
			if err != nil {
				return err
			}

			if u.Account == nil || u.Account.IsZero() {
				if exists {
					if err := txn.Delete(key); err != nil {
						return err
					}
					count--
				}
				continue
			}

			if err := txn.Set(key, u.Account.Serialize()); err != nil {
				return err
			}
			if !exists {
				count++
			}
		}

		if err := txn.Set(metaSlot, uint64Bytes(slot)); err != nil {
			return err
		}
		return txn.Set(metaAccountsCount, uint64Bytes(count))
	})
	if err != nil {
		return errors.Wrap(err, "commit batch")
	}

	b.slot.Store(slot)
	b.accountsCount.Store(count)
	return nil
}

// Iterate implements DB.
func (b *BadgerDB) Iterate(fn func(pubkey types.Pubkey, account *Account) error) error {
	if b.closed.Load() {
		return ErrClosed
	}

	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixAccount
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := item.Key()
			if len(key) != 33 {
				continue
			}
			var pubkey types.Pubkey
			copy(pubkey[:], key[1:])

			err := item.Value(func(val []byte) error {
				account, err := DeserializeAccount(val)
				if err != nil {
					return err
				}
				return fn(pubkey, account)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// GetSlot implements DB.
func (b *BadgerDB) GetSlot() uint64 {
	return b.slot.Load()
}

// AccountsCount implements DB.
func (b *BadgerDB) AccountsCount() (uint64, error) {
	if b.closed.Load() {
		return 0, ErrClosed
	}
	return b.accountsCount.Load(), nil
}

// RunGC runs garbage collection on the value log.
func (b *BadgerDB) RunGC() error {
	if b.closed.Load() {
		return ErrClosed
	}
	err := b.db.RunValueLogGC(0.5)
	if err == badger.ErrNoRewrite {
		return nil
	}
	return err
}

// Close implements DB.
func (b *BadgerDB) Close() error {
	if b.closed.Swap(true) {
		return ErrClosed
	}
	return b.db.Close()
}
