package bank

import (
	"context"
	"sync"

	"github.com/fortiblox/x1-sale/internal/types"
)

// AccountLocks serializes transactions that touch the same accounts. A
// writable account is held exclusively; a read-only account may be shared
// by any number of readers.
type AccountLocks struct {
	mu       sync.Mutex
	writers  map[types.Pubkey]struct{}
	readers  map[types.Pubkey]int
	released chan struct{}
}

// NewAccountLocks creates an empty lock table.
func NewAccountLocks() *AccountLocks {
	return &AccountLocks{
		writers:  make(map[types.Pubkey]struct{}),
		readers:  make(map[types.Pubkey]int),
		released: make(chan struct{}),
	}
}

// Lock acquires every lock or none. It blocks until all of them are free or
// ctx is done. A key listed as both writable and readonly is locked
// writable.
func (l *AccountLocks) Lock(ctx context.Context, writable, readonly []types.Pubkey) error {
	readonly = withoutKeys(readonly, writable)

	for {
		l.mu.Lock()
		if l.available(writable, readonly) {
			for _, key := range writable {
				l.writers[key] = struct{}{}
			}
			for _, key := range readonly {
				l.readers[key]++
			}
			l.mu.Unlock()
			return nil
		}
		released := l.released
		l.mu.Unlock()

		select {
		case <-released:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// TryLock acquires every lock if all are free, without blocking.
func (l *AccountLocks) TryLock(writable, readonly []types.Pubkey) bool {
	readonly = withoutKeys(readonly, writable)

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.available(writable, readonly) {
		return false
	}
	for _, key := range writable {
		l.writers[key] = struct{}{}
	}
	for _, key := range readonly {
		l.readers[key]++
	}
	return true
}

// Unlock releases locks taken by Lock or TryLock with the same arguments.
func (l *AccountLocks) Unlock(writable, readonly []types.Pubkey) {
	readonly = withoutKeys(readonly, writable)

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, key := range writable {
		delete(l.writers, key)
	}
	for _, key := range readonly {
		if l.readers[key] <= 1 {
			delete(l.readers, key)
		} else {
			l.readers[key]--
		}
	}

	close(l.released)
	l.released = make(chan struct{})
}

func (l *AccountLocks) available(writable, readonly []types.Pubkey) bool {
	for _, key := range writable {
		if _, ok := l.writers[key]; ok {
			return false
		}
		if l.readers[key] > 0 {
			return false
		}
	}
	for _, key := range readonly {
		if _, ok := l.writers[key]; ok {
			return false
		}
	}
	return true
}

func withoutKeys(keys, exclude []types.Pubkey) []types.Pubkey {
	filtered := keys[:0:0]
	for _, key := range keys {
		if !containsKey(exclude, key) {
			filtered = append(filtered, key)
		}
	}
	return filtered
}

func containsKey(keys []types.Pubkey, key types.Pubkey) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}
