// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

// Package wgpu binds gpugraph to a gogpu/wgpu HAL device.
//
// Buffers are HAL storage buffers, kernels are WGSL compute shaders compiled
// to SPIR-V with naga, and executables are replayed by encoding their nodes
// into HAL command encoders and submitting them to the device queue.
//
// Events are tied to queue submissions: recording an event stores the index
// of the submission that carries the work before it, and an event counts as
// signaled once the queue reports that submission complete.
//
// Driver is safe for concurrent use.
package wgpu

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpugraph/driver"
	"github.com/gogpu/gpugraph/internal/cache"
	"github.com/gogpu/gpugraph/internal/logging"
)

var (
	// ErrEventNotSignaled is returned when a wait node runs before the event
	// it waits on has been recorded.
	ErrEventNotSignaled = errors.New("wgpu: event not signaled")

	// ErrTimeout is returned when a submission does not complete within
	// Config.WaitTimeout.
	ErrTimeout = errors.New("wgpu: timed out waiting for submission")

	// ErrNilDevice is returned when a driver is created without a HAL device
	// or queue.
	ErrNilDevice = errors.New("wgpu: nil HAL device or queue")
)

// Config configures a Driver.
type Config struct {
	// Label prefixes the debug labels of HAL objects created by the driver.
	Label string

	// WaitTimeout bounds how long a launch waits for its submissions.
	WaitTimeout time.Duration

	// PollInterval is the delay between completion polls.
	PollInterval time.Duration

	// SPIRVCacheSize is the number of compiled kernel sources kept for
	// reuse by LoadKernel. Negative disables the cache.
	SPIRVCacheSize int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Label:        "gpugraph",
		WaitTimeout:  5 * time.Second,
		PollInterval: 50 * time.Microsecond,

		SPIRVCacheSize: 32,
	}
}

// Stats is a snapshot of driver counters.
type Stats struct {
	EventsCreated   uint64
	EventsDestroyed uint64
	LiveEvents      int
	LiveBuffers     int
	Kernels         int
	LiveExecs       int
	Launches        uint64
	Submissions     uint64

	// SPIRV reports the compiled kernel source cache.
	SPIRV cache.Stats
}

// halEvent records the queue submission that signals it. Zero means the
// event has not been recorded since creation or its last reset.
type halEvent struct {
	submission atomic.Uint64
}

// halBuffer is a HAL buffer known to the driver.
type halBuffer struct {
	buf  hal.Buffer
	size uint64

	// owned buffers are destroyed with the handle; imported ones are not.
	owned bool
}

// Driver is a driver.Symbols binding for a HAL device and queue.
type Driver struct {
	cfg    Config
	device hal.Device
	queue  hal.Queue

	// instance is set when Open created the device.
	instance hal.Instance

	// ID generation. Starts at 1; 0 is invalid.
	nextID atomic.Uint64

	logger atomic.Pointer[slog.Logger]

	// spirv maps WGSL source to SPIR-V words. Nil when disabled.
	spirv *cache.Cache[string, []uint32]

	mu      sync.Mutex
	events  map[driver.EventHandle]*halEvent
	buffers map[driver.BufferHandle]*halBuffer
	kernels map[driver.KernelHandle]*kernel
	graphs  map[driver.GraphHandle]*halGraph
	execs   map[driver.ExecHandle]*executable

	// streamMu serializes immediate submissions. stream holds the
	// resources of issued nodes until the next Synchronize.
	streamMu sync.Mutex
	stream   *submitter

	eventsCreated   atomic.Uint64
	eventsDestroyed atomic.Uint64
	launches        atomic.Uint64
	submissions     atomic.Uint64
}

var (
	_ driver.Symbols  = (*Driver)(nil)
	_ driver.Streamer = (*Driver)(nil)
)

// New creates a driver for device and queue.
func New(device hal.Device, queue hal.Queue, cfg Config) (*Driver, error) {
	if device == nil || queue == nil {
		return nil, ErrNilDevice
	}
	def := DefaultConfig()
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = def.WaitTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.Label == "" {
		cfg.Label = def.Label
	}
	if cfg.SPIRVCacheSize == 0 {
		cfg.SPIRVCacheSize = def.SPIRVCacheSize
	}

	d := &Driver{
		cfg:     cfg,
		device:  device,
		queue:   queue,
		events:  make(map[driver.EventHandle]*halEvent),
		buffers: make(map[driver.BufferHandle]*halBuffer),
		kernels: make(map[driver.KernelHandle]*kernel),
		graphs:  make(map[driver.GraphHandle]*halGraph),
		execs:   make(map[driver.ExecHandle]*executable),
	}
	if cfg.SPIRVCacheSize > 0 {
		d.spirv = cache.New[string, []uint32](cfg.SPIRVCacheSize, nil)
	}
	d.nextID.Store(1)
	return d, nil
}

// newID generates a unique handle value.
func (d *Driver) newID() uint64 {
	return d.nextID.Add(1) - 1
}

// SetLogger sets the logger used by the driver. Passing nil falls back to
// the package-wide gpugraph logger.
func (d *Driver) SetLogger(l *slog.Logger) {
	d.logger.Store(l)
}

func (d *Driver) log() *slog.Logger {
	if l := d.logger.Load(); l != nil {
		return l
	}
	return logging.Logger()
}

// Device returns the HAL device.
func (d *Driver) Device() hal.Device { return d.device }

// Queue returns the HAL queue.
func (d *Driver) Queue() hal.Queue { return d.queue }

// === Events ===

// CreateEvent creates an unsignaled event.
func (d *Driver) CreateEvent() (driver.EventHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	h := driver.EventHandle(d.newID())
	d.events[h] = &halEvent{}
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

// QueryEvent reports whether the submission that recorded the event has
// completed.
func (d *Driver) QueryEvent(h driver.EventHandle) (bool, error) {
	ev, err := d.event(h)
	if err != nil {
		return false, err
	}
	s := ev.submission.Load()
	return s != 0 && d.queue.PollCompleted() >= s, nil
}

// ResetEvent returns the event to the unsignaled state.
func (d *Driver) ResetEvent(h driver.EventHandle) error {
	ev, err := d.event(h)
	if err != nil {
		return err
	}
	ev.submission.Store(0)
	return nil
}

func (d *Driver) event(h driver.EventHandle) (*halEvent, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ev, ok := d.events[h]
	if !ok {
		return nil, fmt.Errorf("%w: event %d", driver.ErrInvalidHandle, h)
	}
	return ev, nil
}

// === Buffers ===

// CreateBuffer creates a storage buffer of size bytes that can be the
// source and target of copies.
func (d *Driver) CreateBuffer(size uint64) (driver.BufferHandle, error) {
	buf, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: d.cfg.Label + "_buffer",
		Size:  size,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return 0, fmt.Errorf("wgpu: create buffer of %d bytes: %w", size, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	h := driver.BufferHandle(d.newID())
	d.buffers[h] = &halBuffer{buf: buf, size: size, owned: true}
	return h, nil
}

// ImportBuffer makes an existing HAL buffer addressable by graph nodes.
// The buffer stays owned by the caller: DestroyBuffer only forgets it.
func (d *Driver) ImportBuffer(buf hal.Buffer, size uint64) driver.BufferHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := driver.BufferHandle(d.newID())
	d.buffers[h] = &halBuffer{buf: buf, size: size}
	return h
}

// DestroyBuffer releases a buffer handle.
func (d *Driver) DestroyBuffer(h driver.BufferHandle) error {
	d.mu.Lock()
	b, ok := d.buffers[h]
	delete(d.buffers, h)
	d.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: buffer %d", driver.ErrInvalidHandle, h)
	}
	if b.owned {
		d.device.DestroyBuffer(b.buf)
	}
	return nil
}

// WriteBuffer writes data into the buffer at offset.
func (d *Driver) WriteBuffer(h driver.BufferHandle, offset uint64, data []byte) error {
	r, err := d.rangeOf(driver.Direct(h, offset, uint64(len(data))))
	if err != nil {
		return err
	}
	if err := d.queue.WriteBuffer(r.buf.buf, r.offset, data); err != nil {
		return fmt.Errorf("wgpu: write %v: %w", driver.Direct(h, offset, uint64(len(data))), err)
	}
	return nil
}

// ReadBuffer copies length bytes at offset back to the host through a
// mappable staging buffer.
func (d *Driver) ReadBuffer(h driver.BufferHandle, offset, length uint64) ([]byte, error) {
	r, err := d.rangeOf(driver.Direct(h, offset, length))
	if err != nil {
		return nil, err
	}
	out := make([]byte, r.size)
	if r.size == 0 {
		return out, nil
	}

	staging, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: d.cfg.Label + "_readback",
		Size:  r.size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create staging buffer: %w", err)
	}
	defer d.device.DestroyBuffer(staging)

	s := d.newSubmitter("readback")
	enc, err := s.encoder()
	if err != nil {
		return nil, err
	}
	enc.CopyBufferToBuffer(r.buf.buf, staging, []hal.BufferCopy{
		{SrcOffset: r.offset, DstOffset: 0, Size: r.size},
	})
	if err := s.finish(); err != nil {
		return nil, err
	}

	m, err := d.device.MapBuffer(staging, 0, r.size)
	if err != nil {
		return nil, fmt.Errorf("wgpu: map staging buffer: %w", err)
	}
	copy(out, unsafe.Slice((*byte)(m.Ptr), r.size)) //nolint:gosec // mapping covers r.size bytes
	if err := d.device.UnmapBuffer(staging); err != nil {
		return nil, fmt.Errorf("wgpu: unmap staging buffer: %w", err)
	}
	return out, nil
}

// bufferRange is a resolved, bounds-checked buffer reference.
type bufferRange struct {
	buf    *halBuffer
	offset uint64
	size   uint64
}

// rangeOf resolves a direct reference.
func (d *Driver) rangeOf(ref driver.BufferRef) (bufferRange, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rangeLocked(ref)
}

// rangeLocked resolves a direct reference. The caller must hold d.mu.
func (d *Driver) rangeLocked(ref driver.BufferRef) (bufferRange, error) {
	b, ok := d.buffers[ref.Buffer]
	if !ok {
		return bufferRange{}, fmt.Errorf("%w: buffer %d", driver.ErrInvalidHandle, ref.Buffer)
	}
	n, err := ref.Span(b.size)
	if err != nil {
		return bufferRange{}, fmt.Errorf("%v: %w", ref, err)
	}
	return bufferRange{buf: b, offset: ref.Offset, size: n}, nil
}

// Stats returns a snapshot of driver counters.
func (d *Driver) Stats() Stats {
	var spirv cache.Stats
	if d.spirv != nil {
		spirv = d.spirv.Stats()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		EventsCreated:   d.eventsCreated.Load(),
		EventsDestroyed: d.eventsDestroyed.Load(),
		LiveEvents:      len(d.events),
		LiveBuffers:     len(d.buffers),
		Kernels:         len(d.kernels),
		LiveExecs:       len(d.execs),
		Launches:        d.launches.Load(),
		Submissions:     d.submissions.Load(),
		SPIRV:           spirv,
	}
}

// Close releases every kernel and owned buffer. Handles become invalid.
func (d *Driver) Close() {
	d.streamMu.Lock()
	if d.stream != nil {
		if err := d.stream.finish(); err != nil {
			d.log().Warn("wgpu: pending stream work failed", "err", err)
		}
		d.stream = nil
	}
	d.streamMu.Unlock()

	d.mu.Lock()
	defer d.mu.Unlock()
	for h, k := range d.kernels {
		k.destroy(d.device)
		delete(d.kernels, h)
	}
	for h, b := range d.buffers {
		if b.owned {
			d.device.DestroyBuffer(b.buf)
		}
		delete(d.buffers, h)
	}
	clear(d.graphs)
	clear(d.execs)
}
