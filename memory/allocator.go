// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package memory provides the host-memory collaborators shared by the event
// pool and the command buffers: an injectable host allocator, a pool of
// fixed-size blocks and a bump arena drawing from that pool.
//
// All three are borrowed, never owned, by their users. The device context
// creates them once and hands the same instances to every component.
package memory

import (
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"
)

// Allocation errors.
var (
	// ErrOutOfMemory is returned when host memory cannot be obtained.
	ErrOutOfMemory = errors.New("memory: out of host memory")

	// ErrInvalidSize is returned for negative allocation sizes.
	ErrInvalidSize = errors.New("memory: invalid allocation size")

	// ErrInvalidAlignment is returned when the alignment is not a power of two.
	ErrInvalidAlignment = errors.New("memory: alignment must be a power of two")
)

// HostAllocator allocates and frees host memory with a size and alignment.
//
// Implementations must be safe for concurrent use.
type HostAllocator interface {
	// Allocate returns a slice of exactly size bytes whose first byte is
	// aligned to alignment. A zero alignment means the natural alignment.
	Allocate(size, alignment int) ([]byte, error)

	// Free returns memory obtained from Allocate.
	Free(b []byte)
}

// naturalAlignment is the alignment the Go heap guarantees for byte slices
// large enough to matter for bookkeeping structures.
const naturalAlignment = 8

// heapAllocator allocates from the Go heap. Free is a no-op.
type heapAllocator struct{}

// Heap returns the default allocator backed by the Go heap.
func Heap() HostAllocator { return heapAllocator{} }

func (heapAllocator) Allocate(size, alignment int) ([]byte, error) {
	return allocateAligned(size, alignment)
}

func (heapAllocator) Free([]byte) {}

// allocateAligned allocates size bytes with the requested alignment,
// over-allocating when the alignment exceeds the heap guarantee.
func allocateAligned(size, alignment int) ([]byte, error) {
	if size < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	if alignment == 0 {
		alignment = naturalAlignment
	}
	if alignment&(alignment-1) != 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidAlignment, alignment)
	}
	if size == 0 {
		return []byte{}, nil
	}
	if alignment <= naturalAlignment {
		return make([]byte, size), nil
	}

	raw := make([]byte, size+alignment-1)
	addr := uintptr(unsafe.Pointer(&raw[0]))
	off := int((uintptr(alignment) - addr%uintptr(alignment)) % uintptr(alignment))
	return raw[off : off+size : off+size], nil
}

// BudgetAllocator enforces an upper bound on outstanding bytes on top of a
// parent allocator. It is the allocator used to exercise out-of-memory
// paths and to cap host bookkeeping of a device.
type BudgetAllocator struct {
	parent HostAllocator
	limit  int64
	used   atomic.Int64
	peak   atomic.Int64
	fails  atomic.Int64
}

// NewBudgetAllocator returns an allocator that fails once more than limit
// bytes are outstanding. A nil parent uses the Go heap.
func NewBudgetAllocator(parent HostAllocator, limit int64) *BudgetAllocator {
	if parent == nil {
		parent = Heap()
	}
	return &BudgetAllocator{parent: parent, limit: limit}
}

// Allocate reserves size bytes from the budget before delegating to the parent.
func (a *BudgetAllocator) Allocate(size, alignment int) ([]byte, error) {
	if size < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	n := int64(size)
	for {
		used := a.used.Load()
		if used+n > a.limit {
			a.fails.Add(1)
			return nil, fmt.Errorf("%w: requested %d bytes, %d of %d in use",
				ErrOutOfMemory, size, used, a.limit)
		}
		if a.used.CompareAndSwap(used, used+n) {
			a.notePeak(used + n)
			break
		}
	}

	b, err := a.parent.Allocate(size, alignment)
	if err != nil {
		a.used.Add(-n)
		return nil, err
	}
	return b, nil
}

// Free returns b to the parent and releases its bytes from the budget.
func (a *BudgetAllocator) Free(b []byte) {
	if b == nil {
		return
	}
	a.used.Add(-int64(len(b)))
	a.parent.Free(b)
}

func (a *BudgetAllocator) notePeak(v int64) {
	for {
		p := a.peak.Load()
		if v <= p || a.peak.CompareAndSwap(p, v) {
			return
		}
	}
}

// Used returns the number of bytes currently outstanding.
func (a *BudgetAllocator) Used() int64 { return a.used.Load() }

// Peak returns the highest number of bytes ever outstanding.
func (a *BudgetAllocator) Peak() int64 { return a.peak.Load() }

// Limit returns the configured budget.
func (a *BudgetAllocator) Limit() int64 { return a.limit }

// Failures returns how many allocations were refused.
func (a *BudgetAllocator) Failures() int64 { return a.fails.Load() }
