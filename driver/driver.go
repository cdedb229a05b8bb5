// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package driver defines the symbol binding through which gpugraph talks to
// an accelerator driver.
//
// The binding is a narrow capability: create and destroy synchronization
// events, build a dependency graph of GPU operations, compile it into an
// executable and launch that executable. Everything above this package
// (event pool, command buffers, device context) is driver-agnostic.
//
// Two bindings ship with the module:
//
//   - driver/cpu: a software reference driver executing graphs on host
//     memory, used by tests and the demo.
//   - driver/wgpu: a binding on top of github.com/gogpu/wgpu/hal, mapping
//     events to HAL fences and replaying executables through HAL command
//     encoders.
//
// Handles are opaque integers. The zero value of every handle type is
// invalid; drivers start numbering at 1.
package driver

import (
	"errors"
	"fmt"
)

// Driver errors shared by all bindings.
var (
	// ErrInvalidHandle is returned when a handle is unknown to the driver.
	ErrInvalidHandle = errors.New("driver: invalid handle")

	// ErrResourceExhausted is returned when the driver cannot create more
	// primitives of a kind.
	ErrResourceExhausted = errors.New("driver: resources exhausted")

	// ErrInvalidGraph is returned when a graph cannot be instantiated.
	ErrInvalidGraph = errors.New("driver: invalid graph")

	// ErrUnsupported is returned for operations a binding does not implement.
	ErrUnsupported = errors.New("driver: operation not supported")

	// ErrOutOfRange is returned when a buffer access exceeds the buffer.
	ErrOutOfRange = errors.New("driver: buffer range out of bounds")
)

// ContextHandle identifies the driver context a graph is built in.
type ContextHandle uint64

// EventHandle identifies a driver synchronization event.
type EventHandle uint64

// GraphHandle identifies a graph under construction.
type GraphHandle uint64

// NodeHandle identifies a node inside a driver graph.
type NodeHandle uint64

// ExecHandle identifies a compiled, launchable graph.
type ExecHandle uint64

// BufferHandle identifies a device buffer.
type BufferHandle uint64

// KernelHandle identifies a loaded compute kernel.
type KernelHandle uint64

// WholeBuffer as a BufferRef length selects everything from the offset to
// the end of the buffer.
const WholeBuffer = ^uint64(0)

// BufferRef references a byte range of a device buffer.
//
// A non-zero Buffer is a direct reference. A zero Buffer is an indirect
// reference to binding-table Slot, resolved when the executable is launched.
type BufferRef struct {
	Buffer BufferHandle
	Slot   uint32
	Offset uint64
	Length uint64
}

// Direct returns a reference to [offset, offset+length) of buffer.
func Direct(buffer BufferHandle, offset, length uint64) BufferRef {
	return BufferRef{Buffer: buffer, Offset: offset, Length: length}
}

// Indirect returns a reference to [offset, offset+length) of the buffer bound
// at binding-table slot.
func Indirect(slot uint32, offset, length uint64) BufferRef {
	return BufferRef{Slot: slot, Offset: offset, Length: length}
}

// IsIndirect reports whether r refers to a binding-table slot.
func (r BufferRef) IsIndirect() bool { return r.Buffer == 0 }

// Resolve returns r with an indirect slot replaced by the buffer bound in
// table. Direct references are returned unchanged.
func (r BufferRef) Resolve(table []BufferHandle) (BufferRef, error) {
	if !r.IsIndirect() {
		return r, nil
	}
	if int(r.Slot) >= len(table) || table[r.Slot] == 0 {
		return r, fmt.Errorf("%w: binding slot %d not bound (table has %d entries)",
			ErrInvalidHandle, r.Slot, len(table))
	}
	r.Buffer = table[r.Slot]
	return r, nil
}

// Span returns the concrete length of r within a buffer of size bytes,
// expanding WholeBuffer, or ErrOutOfRange when r does not fit.
func (r BufferRef) Span(size uint64) (uint64, error) {
	if r.Offset > size {
		return 0, fmt.Errorf("%w: offset %d > size %d", ErrOutOfRange, r.Offset, size)
	}
	n := r.Length
	if n == WholeBuffer {
		n = size - r.Offset
	}
	if n > size-r.Offset {
		return 0, fmt.Errorf("%w: offset %d + length %d > size %d", ErrOutOfRange, r.Offset, n, size)
	}
	return n, nil
}

// String implements fmt.Stringer.
func (r BufferRef) String() string {
	target := fmt.Sprintf("buffer#%d", r.Buffer)
	if r.IsIndirect() {
		target = fmt.Sprintf("slot[%d]", r.Slot)
	}
	if r.Length == WholeBuffer {
		return fmt.Sprintf("%s[%d:]", target, r.Offset)
	}
	return fmt.Sprintf("%s[%d:%d]", target, r.Offset, r.Offset+r.Length)
}

// EventSymbols creates and destroys driver events.
type EventSymbols interface {
	CreateEvent() (EventHandle, error)
	DestroyEvent(EventHandle) error
}

// GraphSymbols builds, compiles and launches driver graphs.
//
// AddGraphNode receives dependencies that were all returned by earlier
// AddGraphNode calls on the same graph. Drivers may keep references to the
// byte slices inside a NodeDesc until the graph and every executable
// instantiated from it are destroyed.
type GraphSymbols interface {
	CreateGraph(ctx ContextHandle) (GraphHandle, error)
	AddGraphNode(g GraphHandle, desc NodeDesc, deps []NodeHandle) (NodeHandle, error)
	InstantiateGraph(g GraphHandle) (ExecHandle, error)
	DestroyGraph(g GraphHandle) error
	DestroyGraphExec(e ExecHandle) error

	// LaunchGraph runs e once with the given binding table and returns
	// after the work has been submitted.
	LaunchGraph(e ExecHandle, bindings []BufferHandle) error
}

// Symbols is the complete binding consumed by a device context.
type Symbols interface {
	EventSymbols
	GraphSymbols
}

// Streamer is implemented by bindings able to issue operations immediately,
// outside of any graph.
type Streamer interface {
	IssueNode(desc NodeDesc) error
	Synchronize() error
}
