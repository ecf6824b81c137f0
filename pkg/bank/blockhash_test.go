package bank

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/x1-sale/internal/types"
)

func TestBlockhashQueue(t *testing.T) {
	q := newBlockhashQueue(2)
	assert.True(t, q.latest().IsZero())

	_, evicted := q.register(types.Hash{1}, 0)
	assert.False(t, evicted)
	_, evicted = q.register(types.Hash{2}, 1)
	assert.False(t, evicted)
	assert.Equal(t, types.Hash{2}, q.latest())
	assert.EqualValues(t, 3, q.lastValidSlot(types.Hash{2}))

	old, evicted := q.register(types.Hash{3}, 2)
	require.True(t, evicted)
	assert.Equal(t, types.Hash{1}, old)

	assert.False(t, q.contains(types.Hash{1}))
	assert.True(t, q.contains(types.Hash{2}))
	assert.True(t, q.contains(types.Hash{3}))
}

func TestNextBlockhash(t *testing.T) {
	h := nextBlockhash(types.Hash{1}, 5, types.Hash{2})
	assert.Equal(t, h, nextBlockhash(types.Hash{1}, 5, types.Hash{2}))
	assert.NotEqual(t, h, nextBlockhash(types.Hash{1}, 6, types.Hash{2}))
	assert.NotEqual(t, h, nextBlockhash(types.Hash{9}, 5, types.Hash{2}))
}

func TestStatusCache(t *testing.T) {
	c := newStatusCache()

	c.insert(types.Signature{1}, types.Hash{1}, 1)
	c.insert(types.Signature{2}, types.Hash{1}, 1)
	c.insert(types.Signature{3}, types.Hash{2}, 2)
	c.insert(types.Signature{3}, types.Hash{1}, 3)
	assert.Equal(t, 3, c.len())

	c.purge(types.Hash{1})
	assert.False(t, c.contains(types.Signature{1}))
	assert.False(t, c.contains(types.Signature{2}))
	assert.True(t, c.contains(types.Signature{3}))

	c.purge(types.Hash{2})
	assert.Zero(t, c.len())
}
