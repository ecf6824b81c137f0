package svm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeMeter(t *testing.T) {
	cm := NewComputeMeter(1_000)
	require.NoError(t, cm.Consume(400))
	assert.EqualValues(t, 600, cm.Remaining())
	assert.EqualValues(t, 400, cm.Consumed())

	assert.ErrorIs(t, cm.Consume(601), ErrComputeExceeded)
	assert.EqualValues(t, 0, cm.Remaining())
	assert.EqualValues(t, 1_000, cm.Consumed())
	assert.ErrorIs(t, cm.Consume(1), ErrComputeExceeded)
}

func TestComputeMeter_Limit(t *testing.T) {
	assert.Equal(t, CUMax, NewComputeMeter(0).Limit())
	assert.Equal(t, CUMax, NewComputeMeter(CUMax+1).Limit())
	assert.Equal(t, CUDefault, NewComputeMeter(CUDefault).Limit())
}

func TestRent_MinimumBalance(t *testing.T) {
	assert.EqualValues(t, 890_880, DefaultRent.MinimumBalance(0))
	assert.EqualValues(t, 2_039_280, DefaultRent.MinimumBalance(165))
	assert.True(t, DefaultRent.IsExempt(890_880, 0))
	assert.False(t, DefaultRent.IsExempt(890_879, 0))
}
