// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package event

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"github.com/gogpu/gpugraph/driver"
	"github.com/gogpu/gpugraph/internal/logging"
	"github.com/gogpu/gpugraph/memory"
)

// Pool errors.
var (
	// ErrInvalidCapacity is returned for a negative pool capacity.
	ErrInvalidCapacity = errors.New("event: invalid pool capacity")

	// ErrNilSymbols is returned when a pool is created without a driver.
	ErrNilSymbols = errors.New("event: nil event symbols")

	// ErrCreateEvent is returned when the driver fails to create an event.
	// The driver error is wrapped alongside it.
	ErrCreateEvent = errors.New("event: driver event creation failed")
)

// PoolStats is a snapshot of pool counters.
type PoolStats struct {
	Capacity        int
	Available       int
	Outstanding     int
	Created         uint64
	Destroyed       uint64
	PeakOutstanding int
}

// Pool recycles driver events.
//
// The free-list never holds more than Capacity events. Acquire takes events
// from the free-list first (most recently released first) and creates the
// rest through the driver. Pool is safe for concurrent use.
type Pool struct {
	symbols  driver.EventSymbols
	alloc    memory.HostAllocator
	capacity int

	// storage charges the free-list's size to alloc. It is never read: the
	// free-list holds *Event pointers, which must stay visible to the
	// garbage collector, so it lives in a Go slice.
	storage []byte

	mu          sync.Mutex
	free        []*Event
	outstanding int
	peak        int
	created     uint64
	destroyed   uint64
	freed       bool
}

// NewPool creates an empty pool that keeps up to capacity released events.
// No driver events are created until the first Acquire.
func NewPool(symbols driver.EventSymbols, capacity int, alloc memory.HostAllocator) (*Pool, error) {
	if symbols == nil {
		return nil, ErrNilSymbols
	}
	if capacity < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}
	if alloc == nil {
		alloc = memory.Heap()
	}

	slot := int(unsafe.Sizeof((*Event)(nil)))
	var storage []byte
	if capacity > 0 {
		var err error
		storage, err = alloc.Allocate(capacity*slot, slot)
		if err != nil {
			return nil, fmt.Errorf("event: pool bookkeeping (%d slots): %w", capacity, err)
		}
	}

	logging.Logger().Debug("event: pool created", "capacity", capacity)
	return &Pool{
		symbols:  symbols,
		alloc:    alloc,
		capacity: capacity,
		storage:  storage,
		free:     make([]*Event, 0, capacity),
	}, nil
}

// Capacity returns the maximum number of events kept for reuse.
func (p *Pool) Capacity() int {
	return p.capacity
}

// Acquire returns count events, each holding one reference.
//
// Reused events may still carry driver state from their previous use;
// callers must re-record them before waiting on them. If the driver fails
// to create an event, every event obtained by this call is released back
// before the error is returned.
func (p *Pool) Acquire(count int) ([]*Event, error) {
	if count <= 0 {
		return nil, nil
	}

	evs := make([]*Event, 0, count)

	p.mu.Lock()
	if p.freed {
		p.mu.Unlock()
		panic("event: acquire from a freed pool")
	}
	reuse := min(count, len(p.free))
	for range reuse {
		last := len(p.free) - 1
		ev := p.free[last]
		p.free[last] = nil
		p.free = p.free[:last]
		evs = append(evs, ev)
	}
	p.outstanding += count
	p.peak = max(p.peak, p.outstanding)
	p.mu.Unlock()

	for _, ev := range evs {
		ev.refs.Store(1)
	}

	// Driver creation happens outside the lock.
	for len(evs) < count {
		h, err := p.symbols.CreateEvent()
		if err != nil {
			p.mu.Lock()
			p.outstanding -= count - len(evs)
			p.mu.Unlock()
			for _, ev := range evs {
				ev.Release()
			}
			return nil, fmt.Errorf("%w: acquired %d of %d: %w", ErrCreateEvent, len(evs), count, err)
		}
		ev := &Event{handle: h, pool: p}
		ev.refs.Store(1)
		evs = append(evs, ev)

		p.mu.Lock()
		p.created++
		p.mu.Unlock()
	}

	logging.Logger().Debug("event: acquired", "count", count, "reused", reuse)
	return evs, nil
}

// recycle takes back an event whose last reference was released.
func (p *Pool) recycle(ev *Event) {
	p.mu.Lock()
	p.outstanding--
	if len(p.free) < p.capacity && !p.freed {
		p.free = append(p.free, ev)
		p.mu.Unlock()
		return
	}
	p.destroyed++
	p.mu.Unlock()

	if err := p.symbols.DestroyEvent(ev.handle); err != nil {
		logging.Logger().Warn("event: destroy on release failed", "event", uint64(ev.handle), "err", err)
	}
}

// Free destroys every pooled event and returns the bookkeeping storage.
//
// Every acquired event must have been released. Free panics if events are
// still outstanding or if the pool was already freed.
func (p *Pool) Free() {
	p.mu.Lock()
	if p.freed {
		p.mu.Unlock()
		panic("event: pool freed twice")
	}
	if p.outstanding > 0 {
		n := p.outstanding
		p.mu.Unlock()
		panic(fmt.Sprintf("event: pool freed with %d outstanding events", n))
	}
	p.freed = true
	pooled := p.free
	p.free = nil
	p.destroyed += uint64(len(pooled))
	p.mu.Unlock()

	for _, ev := range pooled {
		if err := p.symbols.DestroyEvent(ev.handle); err != nil {
			logging.Logger().Warn("event: destroy on pool free failed", "event", uint64(ev.handle), "err", err)
		}
	}
	if p.storage != nil {
		p.alloc.Free(p.storage)
		p.storage = nil
	}
	logging.Logger().Debug("event: pool freed", "destroyed", len(pooled))
}

// Stats returns a snapshot of pool counters.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Capacity:        p.capacity,
		Available:       len(p.free),
		Outstanding:     p.outstanding,
		Created:         p.created,
		Destroyed:       p.destroyed,
		PeakOutstanding: p.peak,
	}
}
