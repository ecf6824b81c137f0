package bank

import (
	"crypto/sha256"
	"encoding/binary"
	"sync"

	"github.com/fortiblox/x1-sale/internal/types"
)

// DefaultMaxBlockhashAge is the number of recent blockhashes a transaction
// may reference.
const DefaultMaxBlockhashAge = 150

// blockhashQueue holds the most recent blockhashes, oldest first.
type blockhashQueue struct {
	maxAge int
	hashes []types.Hash
	index  map[types.Hash]uint64 // blockhash -> slot
}

func newBlockhashQueue(maxAge int) *blockhashQueue {
	if maxAge <= 0 {
		maxAge = DefaultMaxBlockhashAge
	}
	return &blockhashQueue{
		maxAge: maxAge,
		index:  make(map[types.Hash]uint64),
	}
}

// register appends a blockhash and returns the one evicted, if any.
func (q *blockhashQueue) register(hash types.Hash, slot uint64) (types.Hash, bool) {
	q.hashes = append(q.hashes, hash)
	q.index[hash] = slot

	if len(q.hashes) <= q.maxAge {
		return types.Hash{}, false
	}
	evicted := q.hashes[0]
	q.hashes = q.hashes[1:]
	delete(q.index, evicted)
	return evicted, true
}

func (q *blockhashQueue) contains(hash types.Hash) bool {
	_, ok := q.index[hash]
	return ok
}

func (q *blockhashQueue) latest() types.Hash {
	if len(q.hashes) == 0 {
		return types.Hash{}
	}
	return q.hashes[len(q.hashes)-1]
}

// lastValidSlot is the last slot at which a transaction referencing hash
// is still accepted.
func (q *blockhashQueue) lastValidSlot(hash types.Hash) uint64 {
	return q.index[hash] + uint64(q.maxAge)
}

// nextBlockhash derives the blockhash of a committed slot from the previous
// blockhash and the new bank hash.
func nextBlockhash(prev types.Hash, slot uint64, bankHash types.Hash) types.Hash {
	buf := make([]byte, 32+8+32)
	copy(buf, prev[:])
	binary.LittleEndian.PutUint64(buf[32:], slot)
	copy(buf[40:], bankHash[:])
	return sha256.Sum256(buf)
}

// statusCache remembers the signatures of executed transactions for as
// long as their blockhash can be referenced.
type statusCache struct {
	mu          sync.RWMutex
	statuses    map[types.Signature]uint64 // signature -> slot
	byBlockhash map[types.Hash][]types.Signature
}

func newStatusCache() *statusCache {
	return &statusCache{
		statuses:    make(map[types.Signature]uint64),
		byBlockhash: make(map[types.Hash][]types.Signature),
	}
}

func (c *statusCache) insert(sig types.Signature, blockhash types.Hash, slot uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.statuses[sig]; ok {
		return
	}
	c.statuses[sig] = slot
	c.byBlockhash[blockhash] = append(c.byBlockhash[blockhash], sig)
}

func (c *statusCache) contains(sig types.Signature) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.statuses[sig]
	return ok
}

// purge forgets every signature that referenced blockhash.
func (c *statusCache) purge(blockhash types.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, sig := range c.byBlockhash[blockhash] {
		delete(c.statuses, sig)
	}
	delete(c.byBlockhash, blockhash)
}

func (c *statusCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.statuses)
}
