// Package memory accounts for the Arrow buffers built when results are
// exported as Arrow IPC.
package memory

import (
	"sync/atomic"

	"github.com/apache/arrow-go/v18/arrow/memory"
)

var shared = NewTrackedAllocator(memory.NewGoAllocator())

// TrackedAllocator counts the bytes held by an underlying allocator.
type TrackedAllocator struct {
	underlying memory.Allocator
	inUse      atomic.Int64
	peak       atomic.Int64
	total      atomic.Int64
}

// NewTrackedAllocator wraps underlying.
func NewTrackedAllocator(underlying memory.Allocator) *TrackedAllocator {
	return &TrackedAllocator{underlying: underlying}
}

func (a *TrackedAllocator) Allocate(size int) []byte {
	a.grow(int64(size))
	return a.underlying.Allocate(size)
}

func (a *TrackedAllocator) Reallocate(size int, b []byte) []byte {
	a.grow(int64(size - len(b)))
	return a.underlying.Reallocate(size, b)
}

func (a *TrackedAllocator) Free(b []byte) {
	a.inUse.Add(-int64(len(b)))
	a.underlying.Free(b)
}

func (a *TrackedAllocator) grow(delta int64) {
	now := a.inUse.Add(delta)
	if delta > 0 {
		a.total.Add(delta)
	}
	for {
		peak := a.peak.Load()
		if now <= peak || a.peak.CompareAndSwap(peak, now) {
			return
		}
	}
}

// BytesUsed is the number of bytes currently allocated.
func (a *TrackedAllocator) BytesUsed() int64 { return a.inUse.Load() }

// PeakBytes is the high-water mark of BytesUsed.
func (a *TrackedAllocator) PeakBytes() int64 { return a.peak.Load() }

// TotalBytes is the number of bytes ever allocated.
func (a *TrackedAllocator) TotalBytes() int64 { return a.total.Load() }

// Shared returns the allocator used for every Arrow export.
func Shared() *TrackedAllocator {
	return shared
}
