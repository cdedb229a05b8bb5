// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpugraph

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gpugraph/command"
	"github.com/gogpu/gpugraph/driver"
	"github.com/gogpu/gpugraph/event"
	"github.com/gogpu/gpugraph/graph"
	"github.com/gogpu/gpugraph/internal/logging"
	"github.com/gogpu/gpugraph/memory"
	"github.com/gogpu/gpugraph/stream"
)

// Device errors.
var (
	// ErrNilSymbols is returned when a device is created without a driver.
	ErrNilSymbols = errors.New("gpugraph: nil driver symbols")

	// ErrDeviceClosed is returned by operations on a closed device.
	ErrDeviceClosed = errors.New("gpugraph: device is closed")

	// ErrNotGraph is returned when Launch receives a command buffer that does
	// not record an execution graph.
	ErrNotGraph = errors.New("gpugraph: command buffer is not a graph command buffer")

	// ErrTooManyBindings is returned when a binding table exceeds the
	// command buffer's binding capacity.
	ErrTooManyBindings = errors.New("gpugraph: binding table exceeds capacity")

	// ErrOneShotRelaunch is returned when a one-shot command buffer is
	// launched a second time.
	ErrOneShotRelaunch = errors.New("gpugraph: one-shot command buffer already launched")
)

// DeviceStats is a snapshot of device counters.
type DeviceStats struct {
	Launches uint64
	Events   event.PoolStats
	Blocks   memory.BlockPoolStats

	// CommandBuffers counts the buffers created by the device that Close
	// will destroy.
	CommandBuffers int
}

// Device binds a driver to the host-side resources shared by its command
// buffers. Device is safe for concurrent use.
type Device struct {
	name    string
	symbols driver.Symbols
	ctx     driver.ContextHandle
	alloc   memory.HostAllocator
	blocks  *memory.BlockPool
	events  *event.Pool

	mu      sync.Mutex
	closed  bool
	buffers map[command.CommandBuffer]struct{}

	launches atomic.Uint64
}

var (
	_ command.Device          = (*Device)(nil)
	_ command.DestroyObserver = (*Device)(nil)
)

// NewDevice creates a device on top of symbols.
func NewDevice(name string, symbols driver.Symbols, opts ...DeviceOption) (*Device, error) {
	if symbols == nil {
		return nil, ErrNilSymbols
	}
	o := defaultDeviceOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.alloc == nil {
		o.alloc = memory.Heap()
	}

	blocks, err := memory.NewBlockPool(o.blockSize, o.alloc)
	if err != nil {
		return nil, fmt.Errorf("gpugraph: device %q: %w", name, err)
	}
	events, err := event.NewPool(symbols, o.eventPoolCapacity, o.alloc)
	if err != nil {
		_ = blocks.Close()
		return nil, fmt.Errorf("gpugraph: device %q: %w", name, err)
	}

	d := &Device{
		name:    name,
		symbols: symbols,
		ctx:     o.ctx,
		alloc:   o.alloc,
		blocks:  blocks,
		events:  events,
		buffers: make(map[command.CommandBuffer]struct{}),
	}
	registerDevice(d)

	logging.Logger().Info("gpugraph: device created",
		"name", name, "eventPool", o.eventPoolCapacity, "blockSize", o.blockSize)
	return d, nil
}

// Name returns the device name.
func (d *Device) Name() string { return d.name }

// Symbols returns the driver binding.
func (d *Device) Symbols() driver.Symbols { return d.symbols }

// EventPool returns the device's event pool.
func (d *Device) EventPool() *event.Pool { return d.events }

// BlockPool returns the block pool command buffers draw payload memory from.
func (d *Device) BlockPool() *memory.BlockPool { return d.blocks }

// HostAllocator returns the allocator used for host bookkeeping.
func (d *Device) HostAllocator() memory.HostAllocator { return d.alloc }

// AcquireEvents acquires n events from the device's event pool.
func (d *Device) AcquireEvents(n int) ([]*event.Event, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	return d.events.Acquire(n)
}

// CreateGraphCommandBuffer creates a graph command buffer whose indirect
// references may use bindingCapacity binding-table slots.
func (d *Device) CreateGraphCommandBuffer(
	mode command.Mode,
	categories command.Category,
	affinity command.QueueAffinity,
	bindingCapacity int,
) (*graph.CommandBuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrDeviceClosed
	}
	cb, err := graph.New(d, d.symbols, d.ctx, mode, categories, affinity, bindingCapacity, d.blocks, d.alloc)
	if err != nil {
		return nil, err
	}
	d.buffers[cb] = struct{}{}
	return cb, nil
}

// CreateStreamCommandBuffer creates an immediate command buffer. The driver
// must implement driver.Streamer.
func (d *Device) CreateStreamCommandBuffer(
	mode command.Mode,
	categories command.Category,
	affinity command.QueueAffinity,
) (*stream.CommandBuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrDeviceClosed
	}
	s, ok := d.symbols.(driver.Streamer)
	if !ok {
		return nil, fmt.Errorf("%w: driver of device %q cannot issue commands immediately", driver.ErrUnsupported, d.name)
	}
	cb, err := stream.New(d, s, mode, categories, affinity, d.alloc)
	if err != nil {
		return nil, err
	}
	d.buffers[cb] = struct{}{}
	return cb, nil
}

// Launch replays the executable of a graph command buffer with the given
// binding table. Slot i of the table resolves indirect references to slot i.
func (d *Device) Launch(cb command.CommandBuffer, bindings []driver.BufferHandle) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	if !graph.IsGraphCommandBuffer(cb) {
		return fmt.Errorf("%w: got %T", ErrNotGraph, cb)
	}
	gcb := cb.(*graph.CommandBuffer)
	if len(bindings) > gcb.BindingCapacity() {
		return fmt.Errorf("%w: %d entries, capacity %d", ErrTooManyBindings, len(bindings), gcb.BindingCapacity())
	}
	exec, err := gcb.Handle()
	if err != nil {
		return err
	}

	if !gcb.ClaimLaunch() {
		return fmt.Errorf("%w: %s", ErrOneShotRelaunch, gcb.ID())
	}
	if err := d.symbols.LaunchGraph(exec, bindings); err != nil {
		gcb.UnclaimLaunch()
		return fmt.Errorf("gpugraph: launch %s: %w", gcb.ID(), err)
	}
	d.launches.Add(1)
	logging.Logger().Debug("gpugraph: launched", "device", d.name, "buffer", gcb.ID(), "bindings", len(bindings))
	return nil
}

// CommandBufferDestroyed forgets a command buffer destroyed by its owner.
func (d *Device) CommandBufferDestroyed(cb command.CommandBuffer) {
	d.mu.Lock()
	delete(d.buffers, cb)
	d.mu.Unlock()
}

// Stats returns a snapshot of device counters.
func (d *Device) Stats() DeviceStats {
	d.mu.Lock()
	n := len(d.buffers)
	d.mu.Unlock()
	return DeviceStats{
		Launches:       d.launches.Load(),
		Events:         d.events.Stats(),
		Blocks:         d.blocks.Stats(),
		CommandBuffers: n,
	}
}

// Close destroys every command buffer created by the device, frees the
// event pool and closes the block pool.
//
// Every acquired event must have been released: Close panics otherwise.
// Closing an already closed device is a no-op.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	buffers := d.buffers
	d.buffers = nil
	d.mu.Unlock()

	for cb := range buffers {
		cb.Destroy()
	}
	unregisterDevice(d)
	d.events.Free()
	if err := d.blocks.Close(); err != nil {
		return fmt.Errorf("gpugraph: close device %q: %w", d.name, err)
	}
	logging.Logger().Info("gpugraph: device closed", "name", d.name, "launches", d.launches.Load())
	return nil
}

func (d *Device) checkOpen() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("%w: %s", ErrDeviceClosed, d.name)
	}
	return nil
}
