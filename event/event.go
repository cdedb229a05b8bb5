// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package event provides reference-counted driver synchronization events
// and a thread-safe pool that recycles them.
//
// Creating and destroying driver events is expensive, so a Pool keeps a
// bounded free-list of released events and hands them out again on the
// next Acquire. Events beyond the free-list capacity are destroyed as soon
// as their last reference is released.
//
// Basic usage:
//
//	pool, err := event.NewPool(symbols, 32, memory.Heap())
//	evs, err := pool.Acquire(2)
//	// record signal/wait commands referencing evs[0].Handle()
//	for _, ev := range evs {
//	    ev.Release()
//	}
//	pool.Free()
package event

import (
	"fmt"
	"sync/atomic"

	"github.com/gogpu/gpugraph/driver"
)

// Event wraps one driver event handle with an atomic reference count.
//
// An Event is created only by a Pool and is returned to it when the count
// drops to zero. Retain and Release are safe for concurrent use.
type Event struct {
	handle driver.EventHandle
	refs   atomic.Int32
	pool   *Pool
}

// Handle returns the driver event handle. The handle is valid for as long
// as the caller holds a reference.
func (e *Event) Handle() driver.EventHandle {
	return e.handle
}

// Retain adds a reference. The caller must already hold one.
//
// Retaining an event that holds no references panics: the event may sit in
// its pool's free list and be handed to another owner.
func (e *Event) Retain() {
	if e.refs.Add(1) <= 1 {
		e.refs.Add(-1)
		panic(fmt.Sprintf("event: retain of event %d with no references", e.handle))
	}
}

// Release drops a reference. The last release returns the event to its
// pool, which either keeps it for reuse or destroys the driver event.
//
// Releasing an event that holds no references panics.
func (e *Event) Release() {
	n := e.refs.Add(-1)
	switch {
	case n > 0:
		return
	case n < 0:
		panic(fmt.Sprintf("event: release of event %d with no references", e.handle))
	}
	e.pool.recycle(e)
}

// RefCount returns the current reference count.
func (e *Event) RefCount() int32 {
	return e.refs.Load()
}
