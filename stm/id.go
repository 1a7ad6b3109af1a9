package stm

import (
	"math"

	"go.uber.org/atomic"
)

// Allocator hands out unique, strictly increasing ids for accessor keys. Ids are never recycled: a
// transaction sorting its keys must never see two cells share an id. Once the id space is used up
// the allocator stays exhausted.
type Allocator struct {
	last *atomic.Uint64
	max  uint64
}

func NewAllocator() *Allocator {
	return newAllocator(0, math.MaxUint64)
}

func newAllocator(last, max uint64) *Allocator {
	return &Allocator{
		last: atomic.NewUint64(last),
		max:  max,
	}
}

// Alloc returns the next id, or ErrIdentifierOverflow.
func (a *Allocator) Alloc() (uint64, error) {
	for {
		cur := a.last.Load()
		if cur >= a.max {
			return 0, ErrIdentifierOverflow
		}
		if a.last.CompareAndSwap(cur, cur+1) {
			idGauge.WithLabelValues("key").Set(float64(cur + 1))
			return cur + 1, nil
		}
	}
}
