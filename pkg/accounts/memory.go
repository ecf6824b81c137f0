package accounts

import (
	"sort"
	"sync"

	"github.com/fortiblox/x1-sale/internal/types"
)

// MemoryDB is an in-memory accounts database for tests and ephemeral
// nodes.
type MemoryDB struct {
	mu       sync.RWMutex
	accounts map[types.Pubkey]*Account
	slot     uint64
	closed   bool
}

var _ DB = (*MemoryDB)(nil)

// NewMemoryDB creates an empty in-memory database.
func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		accounts: make(map[types.Pubkey]*Account),
	}
}

// GetAccount implements DB.
func (m *MemoryDB) GetAccount(pubkey types.Pubkey) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	acc, ok := m.accounts[pubkey]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return acc.Clone(), nil
}

// SetAccount implements DB.
func (m *MemoryDB) SetAccount(pubkey types.Pubkey, account *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.put(pubkey, account)
	return nil
}

func (m *MemoryDB) put(pubkey types.Pubkey, account *Account) {
	if account == nil || account.IsZero() {
		delete(m.accounts, pubkey)
		return
	}
	m.accounts[pubkey] = account.Clone()
}

// HasAccount implements DB.
func (m *MemoryDB) HasAccount(pubkey types.Pubkey) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return false, ErrClosed
	}
	_, ok := m.accounts[pubkey]
	return ok, nil
}

// Commit implements DB.
func (m *MemoryDB) Commit(batch *Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	for _, u := range batch.Updates {
		m.put(u.Pubkey, u.Account)
	}
	if batch.Slot > m.slot {
		m.slot = batch.Slot
	}
	return nil
}

// Iterate implements DB.
func (m *MemoryDB) Iterate(fn func(pubkey types.Pubkey, account *Account) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	keys := make([]types.Pubkey, 0, len(m.accounts))
	for k := range m.accounts {
		keys = append(keys, k)
	}
	accs := make(map[types.Pubkey]*Account, len(keys))
	for _, k := range keys {
		accs[k] = m.accounts[k].Clone()
	}
	m.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool { return keys[i].Compare(keys[j]) < 0 })
	for _, k := range keys {
		if err := fn(k, accs[k]); err != nil {
			return err
		}
	}
	return nil
}

// GetSlot implements DB.
func (m *MemoryDB) GetSlot() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.slot
}

// AccountsCount implements DB.
func (m *MemoryDB) AccountsCount() (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrClosed
	}
	return uint64(len(m.accounts)), nil
}

// Close implements DB.
func (m *MemoryDB) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
