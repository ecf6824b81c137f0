package svm

import (
	"sync/atomic"

	"github.com/pkg/errors"
)

// Compute unit costs charged by the runtime and the native programs.
const (
	CUDefault = uint64(200_000)
	CUMax     = uint64(1_400_000)

	CUSignatureVerify      = uint64(720)
	CUInvokeBase           = uint64(1_000)
	CUCreateProgramAddress = uint64(1_500)

	CUSystemProgramDefault = uint64(150)
	CUTokenProgramDefault  = uint64(2_000)
	CUSaleProgramDefault   = uint64(3_000)
)

// CPIDepthMax is the maximum nesting of cross program invocations.
const CPIDepthMax = 4

// ErrComputeExceeded is returned when compute units are exhausted.
var ErrComputeExceeded = errors.New("compute budget exceeded")

// ComputeMeter tracks compute unit consumption for one transaction.
type ComputeMeter struct {
	remaining atomic.Uint64
	consumed  atomic.Uint64
	limit     uint64
}

// NewComputeMeter creates a meter with the given limit, capped at CUMax.
func NewComputeMeter(limit uint64) *ComputeMeter {
	if limit == 0 || limit > CUMax {
		limit = CUMax
	}
	cm := &ComputeMeter{limit: limit}
	cm.remaining.Store(limit)
	return cm
}

// Consume charges cost units. Once the budget is exceeded the meter is
// drained and every later call fails too.
func (cm *ComputeMeter) Consume(cost uint64) error {
	for {
		remaining := cm.remaining.Load()
		if remaining < cost {
			cm.consumed.Add(remaining)
			cm.remaining.Store(0)
			return ErrComputeExceeded
		}
		if cm.remaining.CompareAndSwap(remaining, remaining-cost) {
			cm.consumed.Add(cost)
			return nil
		}
	}
}

// Remaining returns the units left.
func (cm *ComputeMeter) Remaining() uint64 {
	return cm.remaining.Load()
}

// Consumed returns the units used so far.
func (cm *ComputeMeter) Consumed() uint64 {
	return cm.consumed.Load()
}

// Limit returns the meter's budget.
func (cm *ComputeMeter) Limit() uint64 {
	return cm.limit
}
