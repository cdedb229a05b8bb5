// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package cpu implements a software reference driver for gpugraph.
//
// Buffers live in host memory, kernels are Go functions and executables run
// their nodes level by level, dispatching independent nodes of a level
// concurrently. The driver follows the same contracts as a hardware
// binding, including validation at instantiation, which makes it the
// backend of choice for tests and for hosts without a GPU.
//
// Driver is safe for concurrent use.
package cpu

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gpugraph/driver"
)

// ErrEventNotSignaled is returned when a wait node runs before the event it
// waits on has been recorded.
var ErrEventNotSignaled = errors.New("cpu: event not signaled")

// Config configures a Driver.
type Config struct {
	// MaxEvents caps the number of live events. Zero means unlimited.
	MaxEvents int

	// Workers is the number of nodes of one level executed concurrently.
	// Values below 1 execute nodes sequentially.
	Workers int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxEvents: 0,
		Workers:   4,
	}
}

// Stats is a snapshot of driver counters.
type Stats struct {
	EventsCreated     uint64
	EventsDestroyed   uint64
	LiveEvents        int
	GraphsCreated     uint64
	ExecsInstantiated uint64
	LiveExecs         int
	Launches          uint64
	NodesExecuted     uint64
}

// KernelFunc is the body of a software kernel.
type KernelFunc func(inv Invocation) error

// Invocation carries the resolved arguments of one kernel dispatch.
// Buffers[i] aliases the bytes selected by binding i.
type Invocation struct {
	Workgroups [3]uint32
	Constants  []uint32
	Buffers    [][]byte
}

// cpuEvent is a software event.
type cpuEvent struct {
	signaled atomic.Bool
}

// graphNode is one node of a graph under construction.
type graphNode struct {
	desc driver.NodeDesc
	deps []int
}

// cpuGraph is a graph under construction.
type cpuGraph struct {
	ctx   driver.ContextHandle
	nodes []graphNode
	index map[driver.NodeHandle]int
}

// Driver is the software reference binding.
type Driver struct {
	cfg Config

	// ID generation. Starts at 1; 0 is invalid.
	nextID atomic.Uint64

	mu      sync.Mutex
	events  map[driver.EventHandle]*cpuEvent
	buffers map[driver.BufferHandle][]byte
	kernels map[driver.KernelHandle]kernelEntry
	graphs  map[driver.GraphHandle]*cpuGraph
	execs   map[driver.ExecHandle]*executable

	eventsCreated     atomic.Uint64
	eventsDestroyed   atomic.Uint64
	graphsCreated     atomic.Uint64
	execsInstantiated atomic.Uint64
	launches          atomic.Uint64
	nodesExecuted     atomic.Uint64
}

type kernelEntry struct {
	name string
	fn   KernelFunc
}

var (
	_ driver.Symbols  = (*Driver)(nil)
	_ driver.Streamer = (*Driver)(nil)
)

// New creates a software driver.
func New(cfg Config) *Driver {
	d := &Driver{
		cfg:     cfg,
		events:  make(map[driver.EventHandle]*cpuEvent),
		buffers: make(map[driver.BufferHandle][]byte),
		kernels: make(map[driver.KernelHandle]kernelEntry),
		graphs:  make(map[driver.GraphHandle]*cpuGraph),
		execs:   make(map[driver.ExecHandle]*executable),
	}
	d.nextID.Store(1)
	return d
}

// newID generates a unique handle value.
func (d *Driver) newID() uint64 {
	return d.nextID.Add(1) - 1
}

// === Events ===

// CreateEvent creates a software event in the unsignaled state.
func (d *Driver) CreateEvent() (driver.EventHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cfg.MaxEvents > 0 && len(d.events) >= d.cfg.MaxEvents {
		return 0, fmt.Errorf("%w: %d live events", driver.ErrResourceExhausted, len(d.events))
	}
	h := driver.EventHandle(d.newID())
	d.events[h] = &cpuEvent{}
	d.eventsCreated.Add(1)
	return h, nil
}

// DestroyEvent destroys an event.
func (d *Driver) DestroyEvent(h driver.EventHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.events[h]; !ok {
		return fmt.Errorf("%w: event %d", driver.ErrInvalidHandle, h)
	}
	delete(d.events, h)
	d.eventsDestroyed.Add(1)
	return nil
}

// QueryEvent reports whether the event has been signaled.
func (d *Driver) QueryEvent(h driver.EventHandle) (bool, error) {
	ev, err := d.event(h)
	if err != nil {
		return false, err
	}
	return ev.signaled.Load(), nil
}

// ResetEvent returns the event to the unsignaled state.
func (d *Driver) ResetEvent(h driver.EventHandle) error {
	ev, err := d.event(h)
	if err != nil {
		return err
	}
	ev.signaled.Store(false)
	return nil
}

func (d *Driver) event(h driver.EventHandle) (*cpuEvent, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ev, ok := d.events[h]
	if !ok {
		return nil, fmt.Errorf("%w: event %d", driver.ErrInvalidHandle, h)
	}
	return ev, nil
}

// === Buffers and kernels ===

// CreateBuffer allocates a zeroed host buffer of size bytes.
func (d *Driver) CreateBuffer(size uint64) (driver.BufferHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	h := driver.BufferHandle(d.newID())
	d.buffers[h] = make([]byte, size)
	return h, nil
}

// DestroyBuffer frees a buffer.
func (d *Driver) DestroyBuffer(h driver.BufferHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.buffers[h]; !ok {
		return fmt.Errorf("%w: buffer %d", driver.ErrInvalidHandle, h)
	}
	delete(d.buffers, h)
	return nil
}

// WriteBuffer copies data into the buffer at offset.
func (d *Driver) WriteBuffer(h driver.BufferHandle, offset uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	dst, err := d.sliceLocked(driver.Direct(h, offset, uint64(len(data))))
	if err != nil {
		return err
	}
	copy(dst, data)
	return nil
}

// ReadBuffer returns a copy of length bytes of the buffer at offset.
func (d *Driver) ReadBuffer(h driver.BufferHandle, offset, length uint64) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	src, err := d.sliceLocked(driver.Direct(h, offset, length))
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), src...), nil
}

// RegisterKernel makes fn dispatchable under the returned handle.
func (d *Driver) RegisterKernel(name string, fn KernelFunc) driver.KernelHandle {
	d.mu.Lock()
	defer d.mu.Unlock()

	h := driver.KernelHandle(d.newID())
	d.kernels[h] = kernelEntry{name: name, fn: fn}
	return h
}

// sliceLocked returns the bytes selected by a direct reference.
// The caller must hold d.mu.
func (d *Driver) sliceLocked(ref driver.BufferRef) ([]byte, error) {
	buf, ok := d.buffers[ref.Buffer]
	if !ok {
		return nil, fmt.Errorf("%w: buffer %d", driver.ErrInvalidHandle, ref.Buffer)
	}
	n, err := ref.Span(uint64(len(buf)))
	if err != nil {
		return nil, fmt.Errorf("%v: %w", ref, err)
	}
	return buf[ref.Offset : ref.Offset+n : ref.Offset+n], nil
}

// === Graphs ===

// CreateGraph starts an empty graph.
func (d *Driver) CreateGraph(ctx driver.ContextHandle) (driver.GraphHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	h := driver.GraphHandle(d.newID())
	d.graphs[h] = &cpuGraph{ctx: ctx, index: make(map[driver.NodeHandle]int)}
	d.graphsCreated.Add(1)
	return h, nil
}

// AddGraphNode appends a node depending on deps.
func (d *Driver) AddGraphNode(g driver.GraphHandle, desc driver.NodeDesc, deps []driver.NodeHandle) (driver.NodeHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	gr, ok := d.graphs[g]
	if !ok {
		return 0, fmt.Errorf("%w: graph %d", driver.ErrInvalidHandle, g)
	}
	idx := make([]int, len(deps))
	for i, dep := range deps {
		j, ok := gr.index[dep]
		if !ok {
			return 0, fmt.Errorf("%w: node %d is not part of graph %d", driver.ErrInvalidHandle, dep, g)
		}
		idx[i] = j
	}

	h := driver.NodeHandle(d.newID())
	gr.index[h] = len(gr.nodes)
	gr.nodes = append(gr.nodes, graphNode{desc: desc, deps: idx})
	return h, nil
}

// DestroyGraph destroys a graph. Executables instantiated from it stay valid.
func (d *Driver) DestroyGraph(g driver.GraphHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.graphs[g]; !ok {
		return fmt.Errorf("%w: graph %d", driver.ErrInvalidHandle, g)
	}
	delete(d.graphs, g)
	return nil
}

// DependenciesOf returns the dependency node handles of n in graph g, in
// the order they were declared. Intended for diagnostics and tests.
func (d *Driver) DependenciesOf(g driver.GraphHandle, n driver.NodeHandle) ([]driver.NodeHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	gr, ok := d.graphs[g]
	if !ok {
		return nil, fmt.Errorf("%w: graph %d", driver.ErrInvalidHandle, g)
	}
	i, ok := gr.index[n]
	if !ok {
		return nil, fmt.Errorf("%w: node %d", driver.ErrInvalidHandle, n)
	}
	handles := make(map[int]driver.NodeHandle, len(gr.index))
	for h, j := range gr.index {
		handles[j] = h
	}
	deps := make([]driver.NodeHandle, len(gr.nodes[i].deps))
	for k, j := range gr.nodes[i].deps {
		deps[k] = handles[j]
	}
	return deps, nil
}

// Stats returns a snapshot of driver counters.
func (d *Driver) Stats() Stats {
	d.mu.Lock()
	live, execs := len(d.events), len(d.execs)
	d.mu.Unlock()

	return Stats{
		EventsCreated:     d.eventsCreated.Load(),
		EventsDestroyed:   d.eventsDestroyed.Load(),
		LiveEvents:        live,
		GraphsCreated:     d.graphsCreated.Load(),
		ExecsInstantiated: d.execsInstantiated.Load(),
		LiveExecs:         execs,
		Launches:          d.launches.Load(),
		NodesExecuted:     d.nodesExecuted.Load(),
	}
}
