package indexer

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// ConcurrencyBound clamps hardware parallelism into [2, 8], the process-
// global indexing permit size chosen to avoid
// stampedes when one daemon serves many project roots at once.
func ConcurrencyBound() int {
	return clamp(runtime.GOMAXPROCS(0), 2, 8)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Permit is the process-global indexing permit: a weighted semaphore
// shared by every concurrent index_* call in this process, regardless of
// which project root they target.
type Permit struct {
	sem *semaphore.Weighted
}

// NewPermit returns a Permit sized by ConcurrencyBound.
func NewPermit() *Permit {
	return &Permit{sem: semaphore.NewWeighted(int64(ConcurrencyBound()))}
}

// Acquire blocks until a slot is free or ctx is canceled.
func (p *Permit) Acquire(ctx context.Context) error {
	return p.sem.Acquire(ctx, 1)
}

// Release returns the slot.
func (p *Permit) Release() {
	p.sem.Release(1)
}
