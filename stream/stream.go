// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package stream implements the immediate command-buffer variant: every
// command is issued to the driver as soon as it is recorded.
//
// A stream CommandBuffer has no binding table, so commands may only use
// direct buffer references. Barriers synchronize the driver stream.
package stream

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gogpu/gpugraph/command"
	"github.com/gogpu/gpugraph/driver"
	"github.com/gogpu/gpugraph/internal/logging"
	"github.com/gogpu/gpugraph/memory"
)

// Stream command buffer errors.
var (
	// ErrInvalidState is returned when an operation is not allowed in the
	// current state.
	ErrInvalidState = errors.New("stream: invalid command buffer state")

	// ErrCategoryNotAllowed is returned when a command's category is not in
	// the buffer's category mask.
	ErrCategoryNotAllowed = errors.New("stream: command category not allowed")

	// ErrInvalidArgument is returned for malformed arguments.
	ErrInvalidArgument = command.ErrInvalidArgument
)

// headerSize is charged to the host allocator per command buffer for
// accounting only.
const headerSize = 64

type state uint8

const (
	stateInitial state = iota
	stateRecording
	stateEnded
	stateDestroyed
)

func (s state) String() string {
	switch s {
	case stateInitial:
		return "Initial"
	case stateRecording:
		return "Recording"
	case stateEnded:
		return "Ended"
	case stateDestroyed:
		return "Destroyed"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// CommandBuffer issues commands immediately through a driver.Streamer.
type CommandBuffer struct {
	mu sync.Mutex

	device     command.Device
	streamer   driver.Streamer
	mode       command.Mode
	categories command.Category
	affinity   command.QueueAffinity

	alloc  memory.HostAllocator
	header []byte

	state  state
	groups []string
	issued int
}

var _ command.CommandBuffer = (*CommandBuffer)(nil)

// New creates a stream command buffer in the Initial state.
func New(
	device command.Device,
	streamer driver.Streamer,
	mode command.Mode,
	categories command.Category,
	affinity command.QueueAffinity,
	alloc memory.HostAllocator,
) (*CommandBuffer, error) {
	switch {
	case streamer == nil:
		return nil, fmt.Errorf("%w: nil streamer", ErrInvalidArgument)
	case categories&command.CategoryAny == 0:
		return nil, fmt.Errorf("%w: empty command category mask", ErrInvalidArgument)
	case affinity == 0:
		return nil, fmt.Errorf("%w: zero queue affinity", ErrInvalidArgument)
	}
	if alloc == nil {
		alloc = memory.Heap()
	}
	header, err := alloc.Allocate(headerSize, 8)
	if err != nil {
		return nil, fmt.Errorf("stream: command buffer header: %w", err)
	}
	return &CommandBuffer{
		device:     device,
		streamer:   streamer,
		mode:       mode,
		categories: categories,
		affinity:   affinity,
		alloc:      alloc,
		header:     header,
	}, nil
}

// Kind returns command.KindStream.
func (cb *CommandBuffer) Kind() command.Kind { return command.KindStream }

func (cb *CommandBuffer) Mode() command.Mode                   { return cb.mode }
func (cb *CommandBuffer) Categories() command.Category         { return cb.categories }
func (cb *CommandBuffer) QueueAffinity() command.QueueAffinity { return cb.affinity }

// BindingCapacity returns 0: stream buffers have no binding table.
func (cb *CommandBuffer) BindingCapacity() int { return 0 }

// Issued returns the number of commands issued since the last Begin.
func (cb *CommandBuffer) Issued() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.issued
}

// Begin starts a recording session. An ended buffer may be begun again.
func (cb *CommandBuffer) Begin() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != stateInitial && cb.state != stateEnded {
		return fmt.Errorf("%w: begin in state %s", ErrInvalidState, cb.state)
	}
	cb.state = stateRecording
	cb.issued = 0
	return nil
}

// End waits for every issued command to complete.
func (cb *CommandBuffer) End() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err := cb.checkRecordingLocked(); err != nil {
		return err
	}
	if len(cb.groups) > 0 {
		return fmt.Errorf("%w: %d debug groups still open", ErrInvalidState, len(cb.groups))
	}
	if err := cb.streamer.Synchronize(); err != nil {
		return fmt.Errorf("stream: synchronize: %w", err)
	}
	cb.state = stateEnded
	logging.Logger().Debug("stream: ended", "issued", cb.issued)
	return nil
}

// Destroy releases the buffer. Calling Destroy more than once is a no-op.
func (cb *CommandBuffer) Destroy() {
	cb.mu.Lock()
	if cb.state == stateDestroyed {
		cb.mu.Unlock()
		return
	}
	cb.alloc.Free(cb.header)
	cb.header = nil
	cb.state = stateDestroyed
	cb.mu.Unlock()

	command.NotifyDestroyed(cb.device, cb)
}

// ExecutionBarrier waits for every command issued so far.
func (cb *CommandBuffer) ExecutionBarrier(command.Barrier) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err := cb.checkRecordingLocked(); err != nil {
		return err
	}
	if err := cb.streamer.Synchronize(); err != nil {
		return fmt.Errorf("stream: barrier: %w", err)
	}
	return nil
}

// SignalEvent issues an event record.
func (cb *CommandBuffer) SignalEvent(ev command.Event, _ command.ExecutionStage) error {
	if ev == nil {
		return fmt.Errorf("%w: nil event", ErrInvalidArgument)
	}
	return cb.issue(0, driver.NodeDesc{Kind: driver.NodeEventRecord, Event: ev.Handle()}, nil)
}

// WaitEvents issues one event wait per event.
func (cb *CommandBuffer) WaitEvents(evs []command.Event) error {
	for i, ev := range evs {
		if ev == nil {
			return fmt.Errorf("%w: nil event at index %d", ErrInvalidArgument, i)
		}
	}
	for _, ev := range evs {
		if err := cb.issue(0, driver.NodeDesc{Kind: driver.NodeEventWait, Event: ev.Handle()}, nil); err != nil {
			return err
		}
	}
	return nil
}

// FillBuffer issues a fill of target with a repeating pattern.
func (cb *CommandBuffer) FillBuffer(target command.BufferRef, pattern []byte) error {
	return cb.issue(command.CategoryTransfer,
		driver.NodeDesc{Kind: driver.NodeFill, Fill: driver.FillParams{Target: target, Pattern: pattern}},
		func() error { return command.ValidateFill(target, pattern) })
}

// UpdateBuffer issues a write of source into target.
func (cb *CommandBuffer) UpdateBuffer(source []byte, target command.BufferRef) error {
	return cb.issue(command.CategoryTransfer,
		driver.NodeDesc{Kind: driver.NodeUpdate, Update: driver.UpdateParams{Target: target, Data: source}},
		func() error { return command.ValidateUpdate(source, target) })
}

// CopyBuffer issues a copy from source to target.
func (cb *CommandBuffer) CopyBuffer(source, target command.BufferRef) error {
	return cb.issue(command.CategoryTransfer,
		driver.NodeDesc{Kind: driver.NodeCopy, Copy: driver.CopyParams{Source: source, Target: target}},
		func() error { return command.ValidateCopy(source, target) })
}

// Dispatch issues a kernel dispatch.
func (cb *CommandBuffer) Dispatch(kernel driver.KernelHandle, workgroups [3]uint32, constants []uint32, bindings []command.BufferRef) error {
	return cb.issue(command.CategoryDispatch,
		driver.NodeDesc{Kind: driver.NodeKernel, Kernel: driver.KernelParams{
			Kernel: kernel, Workgroups: workgroups, Constants: constants, Bindings: bindings,
		}},
		func() error { return command.ValidateDispatch(kernel, workgroups) })
}

// BeginDebugGroup opens a labelled group.
func (cb *CommandBuffer) BeginDebugGroup(label string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err := cb.checkRecordingLocked(); err != nil {
		return err
	}
	cb.groups = append(cb.groups, label)
	return nil
}

// EndDebugGroup closes the innermost debug group.
func (cb *CommandBuffer) EndDebugGroup() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err := cb.checkRecordingLocked(); err != nil {
		return err
	}
	if len(cb.groups) == 0 {
		return fmt.Errorf("%w: no open debug group", ErrInvalidState)
	}
	cb.groups = cb.groups[:len(cb.groups)-1]
	return nil
}

// issue validates desc and hands it to the streamer. A zero category skips
// the category check.
func (cb *CommandBuffer) issue(category command.Category, desc driver.NodeDesc, validate func() error) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err := cb.checkRecordingLocked(); err != nil {
		return err
	}
	if !cb.mode.Has(command.ModeUnvalidated) {
		if category != 0 && !cb.categories.Allows(category) {
			return fmt.Errorf("%w: buffer allows %#x, command needs %#x", ErrCategoryNotAllowed, cb.categories, category)
		}
		if validate != nil {
			if err := validate(); err != nil {
				return err
			}
		}
	}
	refs, _ := desc.Refs()
	for _, ref := range refs {
		if ref.IsIndirect() {
			return fmt.Errorf("%w: %v: stream buffers have no binding table", ErrInvalidArgument, ref)
		}
	}

	desc.Label = strings.Join(cb.groups, "/")
	if err := cb.streamer.IssueNode(desc); err != nil {
		return fmt.Errorf("stream: issue %s: %w", desc.Kind, err)
	}
	cb.issued++
	return nil
}

func (cb *CommandBuffer) checkRecordingLocked() error {
	if cb.state != stateRecording {
		return fmt.Errorf("%w: state %s, want %s", ErrInvalidState, cb.state, stateRecording)
	}
	return nil
}
