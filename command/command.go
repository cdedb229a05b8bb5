// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package command defines the generic HAL command-buffer interface shared by
// every command-buffer variant.
//
// A command buffer is created for one device, begun, filled with transfer,
// dispatch and synchronization commands, and ended. What happens to the
// commands depends on the variant: the graph variant records them into a
// replayable execution graph, the stream variant issues them immediately.
// Callers that need variant-specific behavior use a capability check such
// as graph.IsGraphCommandBuffer.
package command

import (
	"fmt"
	"strings"

	"github.com/gogpu/gpugraph/driver"
)

// BufferRef references a byte range of a device buffer, either directly or
// through a binding-table slot.
type BufferRef = driver.BufferRef

// Kind identifies a command-buffer variant.
type Kind uint8

const (
	// KindGraph records commands into an execution graph.
	KindGraph Kind = iota + 1
	// KindStream issues commands immediately.
	KindStream
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case KindGraph:
		return "Graph"
	case KindStream:
		return "Stream"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// Mode is a set of command-buffer mode flags.
type Mode uint32

const (
	// ModeOneShot marks a buffer that is submitted at most once.
	ModeOneShot Mode = 1 << iota
	// ModeAllowInlineExecution lets the device execute the buffer inline.
	ModeAllowInlineExecution
	// ModeUnvalidated skips record-time argument validation.
	ModeUnvalidated
)

// Has reports whether every flag of f is set in m.
func (m Mode) Has(f Mode) bool { return m&f == f }

// String returns the flags joined with '|'.
func (m Mode) String() string {
	if m == 0 {
		return "Default"
	}
	var parts []string
	for _, f := range []struct {
		flag Mode
		name string
	}{
		{ModeOneShot, "OneShot"},
		{ModeAllowInlineExecution, "AllowInlineExecution"},
		{ModeUnvalidated, "Unvalidated"},
	} {
		if m.Has(f.flag) {
			parts = append(parts, f.name)
		}
	}
	return strings.Join(parts, "|")
}

// Category is a mask of the command categories a buffer accepts.
type Category uint32

const (
	// CategoryTransfer allows fill, update and copy commands.
	CategoryTransfer Category = 1 << iota
	// CategoryDispatch allows kernel dispatches.
	CategoryDispatch

	// CategoryAny allows every command.
	CategoryAny = CategoryTransfer | CategoryDispatch
)

// Allows reports whether every category of c is present in m.
func (m Category) Allows(c Category) bool { return m&c == c }

// QueueAffinity is a bitmask of the queues a buffer may be submitted to.
type QueueAffinity uint64

// QueueAffinityAny allows submission to any queue.
const QueueAffinityAny QueueAffinity = ^QueueAffinity(0)

// ExecutionStage is a mask of pipeline stages used to scope barriers and
// event signals.
type ExecutionStage uint32

const (
	StageCommandIssue ExecutionStage = 1 << iota
	StageTransfer
	StageDispatch
	StageHost
	StageCommandRetire

	// StageAll covers every stage.
	StageAll = StageCommandIssue | StageTransfer | StageDispatch | StageHost | StageCommandRetire
)

// Barrier orders every command recorded before it against every command
// recorded after it. Buffers optionally narrows the barrier to specific
// ranges; variants are free to treat it as a full barrier.
type Barrier struct {
	SourceStage ExecutionStage
	TargetStage ExecutionStage
	Buffers     []BufferRef
}

// Event is a synchronization event usable by signal and wait commands.
type Event interface {
	Handle() driver.EventHandle
}

// Device is the device a command buffer was created for.
type Device interface {
	Name() string
}

// DestroyObserver is implemented by devices that track the command buffers
// created for them. Variants call CommandBufferDestroyed once, after the
// first Destroy of a buffer has released its resources.
type DestroyObserver interface {
	CommandBufferDestroyed(cb CommandBuffer)
}

// NotifyDestroyed reports cb's destruction to device if it observes
// destruction.
func NotifyDestroyed(device Device, cb CommandBuffer) {
	if o, ok := device.(DestroyObserver); ok {
		o.CommandBufferDestroyed(cb)
	}
}

// CommandBuffer is the generic HAL command-buffer interface.
//
// Commands are only accepted between Begin and End. A CommandBuffer is not
// safe for concurrent recording.
type CommandBuffer interface {
	Kind() Kind
	Mode() Mode
	Categories() Category
	QueueAffinity() QueueAffinity
	BindingCapacity() int

	Begin() error
	End() error

	ExecutionBarrier(barrier Barrier) error
	SignalEvent(ev Event, scope ExecutionStage) error
	WaitEvents(evs []Event) error

	FillBuffer(target BufferRef, pattern []byte) error
	UpdateBuffer(source []byte, target BufferRef) error
	CopyBuffer(source, target BufferRef) error
	Dispatch(kernel driver.KernelHandle, workgroups [3]uint32, constants []uint32, bindings []BufferRef) error

	BeginDebugGroup(label string) error
	EndDebugGroup() error

	Destroy()
}
