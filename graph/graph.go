// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package graph implements a command buffer that records GPU operations into
// a replayable execution graph.
//
// Instead of issuing commands as they are recorded, a CommandBuffer appends
// one node per command to an in-memory graph. Nodes recorded between two
// barriers only depend on each other when they touch overlapping buffer
// ranges, so independent work may run concurrently on replay. End lowers
// the graph into a driver graph and instantiates it exactly once; the
// resulting executable can then be launched any number of times by the
// device.
//
// State machine:
//
//	Initial   -> Begin()   -> Recording
//	Recording -> End()     -> Executable
//	Recording -> End() err -> Invalid (terminal)
//	Executable/Recording -> Reset() -> Initial
//	any       -> Destroy() -> Destroyed
//
// A CommandBuffer is recorded by one goroutine at a time. After End
// returns, Handle may be called from any goroutine.
package graph

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/gogpu/gpugraph/command"
	"github.com/gogpu/gpugraph/driver"
	"github.com/gogpu/gpugraph/internal/logging"
	"github.com/gogpu/gpugraph/memory"
)

// Command buffer errors.
var (
	// ErrInvalidState is returned when an operation is not allowed in the
	// command buffer's current state.
	ErrInvalidState = errors.New("graph: invalid command buffer state")

	// ErrNotExecutable is returned by Handle before End succeeded.
	ErrNotExecutable = errors.New("graph: command buffer is not executable")

	// ErrCategoryNotAllowed is returned when a command's category is not in
	// the buffer's category mask.
	ErrCategoryNotAllowed = errors.New("graph: command category not allowed")

	// ErrCompile is returned when the recorded graph cannot be turned into a
	// driver executable. The buffer is left Invalid.
	ErrCompile = errors.New("graph: compilation failed")

	// ErrInvalidArgument is returned for malformed creation parameters and
	// command arguments.
	ErrInvalidArgument = command.ErrInvalidArgument
)

// headerSize is the host memory charged to the allocator per command
// buffer. The header is never read; it makes command buffers count against
// a limited host allocator.
const headerSize = 256

// State is the lifecycle state of a CommandBuffer.
type State uint8

const (
	StateInitial State = iota
	StateRecording
	StateExecutable
	StateInvalid
	StateDestroyed
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case StateInitial:
		return "Initial"
	case StateRecording:
		return "Recording"
	case StateExecutable:
		return "Executable"
	case StateInvalid:
		return "Invalid"
	case StateDestroyed:
		return "Destroyed"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// retainer is implemented by events whose lifetime a command buffer extends
// until it is reset or destroyed.
type retainer interface {
	Retain()
	Release()
}

// CommandBuffer records commands into an execution graph.
type CommandBuffer struct {
	mu sync.Mutex

	id              string
	device          command.Device
	symbols         driver.GraphSymbols
	ctx             driver.ContextHandle
	mode            command.Mode
	categories      command.Category
	affinity        command.QueueAffinity
	bindingCapacity int

	alloc  memory.HostAllocator
	header []byte
	arena  *memory.Arena

	state  State
	nodes  []node
	deps   tracker
	groups []string

	// retained holds events referenced by signal and wait nodes.
	retained []retainer

	graph   driver.GraphHandle
	exec    driver.ExecHandle
	handles []driver.NodeHandle

	// launched is set once a one-shot executable has been launched.
	// Cleared with the executable.
	launched atomic.Bool
}

var _ command.CommandBuffer = (*CommandBuffer)(nil)

// New creates a graph command buffer in the Initial state.
//
// Transient payloads recorded into the buffer are carved from blocks of
// blockPool. The buffer header is allocated from alloc.
func New(
	device command.Device,
	symbols driver.GraphSymbols,
	ctx driver.ContextHandle,
	mode command.Mode,
	categories command.Category,
	affinity command.QueueAffinity,
	bindingCapacity int,
	blockPool *memory.BlockPool,
	alloc memory.HostAllocator,
) (*CommandBuffer, error) {
	switch {
	case symbols == nil:
		return nil, fmt.Errorf("%w: nil graph symbols", ErrInvalidArgument)
	case blockPool == nil:
		return nil, fmt.Errorf("%w: nil block pool", ErrInvalidArgument)
	case categories&command.CategoryAny == 0:
		return nil, fmt.Errorf("%w: empty command category mask", ErrInvalidArgument)
	case affinity == 0:
		return nil, fmt.Errorf("%w: zero queue affinity", ErrInvalidArgument)
	case bindingCapacity < 0:
		return nil, fmt.Errorf("%w: binding capacity %d", ErrInvalidArgument, bindingCapacity)
	}
	if alloc == nil {
		alloc = blockPool.Allocator()
	}

	header, err := alloc.Allocate(headerSize, 8)
	if err != nil {
		return nil, fmt.Errorf("graph: command buffer header: %w", err)
	}

	cb := &CommandBuffer{
		id:              uuid.Must(uuid.NewV7()).String(),
		device:          device,
		symbols:         symbols,
		ctx:             ctx,
		mode:            mode,
		categories:      categories,
		affinity:        affinity,
		bindingCapacity: bindingCapacity,
		alloc:           alloc,
		header:          header,
		arena:           memory.NewArena(blockPool),
	}
	logging.Logger().Debug("graph: command buffer created",
		"id", cb.id, "mode", mode.String(), "bindings", bindingCapacity)
	return cb, nil
}

// IsGraphCommandBuffer reports whether cb is a graph command buffer.
func IsGraphCommandBuffer(cb command.CommandBuffer) bool {
	g, ok := cb.(interface{ isGraph() bool })
	return ok && g.isGraph()
}

func (cb *CommandBuffer) isGraph() bool { return cb != nil }

// ID returns the unique identifier of the command buffer, used to correlate
// log records.
func (cb *CommandBuffer) ID() string { return cb.id }

// Device returns the device the buffer was created for.
func (cb *CommandBuffer) Device() command.Device { return cb.device }

// Kind returns command.KindGraph.
func (cb *CommandBuffer) Kind() command.Kind { return command.KindGraph }

// Mode returns the mode flags.
func (cb *CommandBuffer) Mode() command.Mode { return cb.mode }

// Categories returns the allowed command categories.
func (cb *CommandBuffer) Categories() command.Category { return cb.categories }

// QueueAffinity returns the queue affinity.
func (cb *CommandBuffer) QueueAffinity() command.QueueAffinity { return cb.affinity }

// BindingCapacity returns the number of binding-table slots indirect
// references may use.
func (cb *CommandBuffer) BindingCapacity() int { return cb.bindingCapacity }

// State returns the current lifecycle state.
func (cb *CommandBuffer) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// NodeCount returns the number of recorded nodes.
func (cb *CommandBuffer) NodeCount() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return len(cb.nodes)
}

// Dependencies returns the nodes id depends on, in ascending order of
// recording.
func (cb *CommandBuffer) Dependencies(id NodeID) ([]NodeID, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if int(id) < 0 || int(id) >= len(cb.nodes) {
		return nil, fmt.Errorf("%w: node %d of %d", ErrInvalidArgument, id, len(cb.nodes))
	}
	return append([]NodeID(nil), cb.nodes[id].deps...), nil
}

// Node returns the description of a recorded node.
func (cb *CommandBuffer) Node(id NodeID) (driver.NodeDesc, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if int(id) < 0 || int(id) >= len(cb.nodes) {
		return driver.NodeDesc{}, fmt.Errorf("%w: node %d of %d", ErrInvalidArgument, id, len(cb.nodes))
	}
	return cb.nodes[id].desc, nil
}

// Begin starts a recording session.
func (cb *CommandBuffer) Begin() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != StateInitial {
		return fmt.Errorf("%w: begin in state %s", ErrInvalidState, cb.state)
	}
	cb.state = StateRecording
	return nil
}

// Handle returns the compiled executable. It is valid until the buffer is
// reset or destroyed.
func (cb *CommandBuffer) Handle() (driver.ExecHandle, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != StateExecutable {
		return 0, fmt.Errorf("%w: state %s", ErrNotExecutable, cb.state)
	}
	return cb.exec, nil
}

// Reset returns an Executable or Recording buffer to Initial, releasing the
// executable, retained events and payload memory. Invalid buffers cannot be
// reset.
func (cb *CommandBuffer) Reset() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case StateInitial:
		return nil
	case StateInvalid, StateDestroyed:
		return fmt.Errorf("%w: reset in state %s", ErrInvalidState, cb.state)
	}
	cb.releaseLocked()
	cb.state = StateInitial
	return nil
}

// Destroy releases every resource held by the buffer. Calling Destroy more
// than once is a no-op.
func (cb *CommandBuffer) Destroy() {
	cb.mu.Lock()
	if cb.state == StateDestroyed {
		cb.mu.Unlock()
		return
	}
	cb.releaseLocked()
	if cb.header != nil {
		cb.alloc.Free(cb.header)
		cb.header = nil
	}
	cb.state = StateDestroyed
	cb.mu.Unlock()

	logging.Logger().Debug("graph: command buffer destroyed", "id", cb.id)
	command.NotifyDestroyed(cb.device, cb)
}

// ClaimLaunch reserves the single launch of a one-shot buffer. It reports
// false when the current executable was already launched. Buffers without
// ModeOneShot can always be launched. A claim that did not lead to a
// launch is returned with UnclaimLaunch.
func (cb *CommandBuffer) ClaimLaunch() bool {
	if !cb.mode.Has(command.ModeOneShot) {
		return true
	}
	return cb.launched.CompareAndSwap(false, true)
}

// UnclaimLaunch gives back a claim taken by ClaimLaunch.
func (cb *CommandBuffer) UnclaimLaunch() {
	cb.launched.Store(false)
}

// releaseLocked drops driver objects, retained events and recorded nodes.
func (cb *CommandBuffer) releaseLocked() {
	cb.destroyDriverObjectsLocked()
	cb.launched.Store(false)
	for _, r := range cb.retained {
		r.Release()
	}
	cb.retained = nil
	cb.nodes = nil
	cb.groups = nil
	cb.deps.reset()
	cb.arena.Reset()
}

func (cb *CommandBuffer) destroyDriverObjectsLocked() {
	if cb.exec != 0 {
		if err := cb.symbols.DestroyGraphExec(cb.exec); err != nil {
			logging.Logger().Warn("graph: destroy executable failed", "id", cb.id, "err", err)
		}
		cb.exec = 0
	}
	if cb.graph != 0 {
		if err := cb.symbols.DestroyGraph(cb.graph); err != nil {
			logging.Logger().Warn("graph: destroy graph failed", "id", cb.id, "err", err)
		}
		cb.graph = 0
	}
	cb.handles = nil
}

// checkRecordingLocked returns an error unless the buffer is recording.
func (cb *CommandBuffer) checkRecordingLocked() error {
	if cb.state != StateRecording {
		return fmt.Errorf("%w: state %s, want %s", ErrInvalidState, cb.state, StateRecording)
	}
	return nil
}

// checkCategoryLocked enforces the category mask unless validation is off.
func (cb *CommandBuffer) checkCategoryLocked(c command.Category) error {
	if cb.mode.Has(command.ModeUnvalidated) || cb.categories.Allows(c) {
		return nil
	}
	return fmt.Errorf("%w: buffer allows %#x, command needs %#x", ErrCategoryNotAllowed, cb.categories, c)
}

func (cb *CommandBuffer) validated() bool {
	return !cb.mode.Has(command.ModeUnvalidated)
}

// label returns the debug label for a new node.
func (cb *CommandBuffer) label() string {
	return strings.Join(cb.groups, "/")
}

// appendLocked adds a node with explicit dependencies.
func (cb *CommandBuffer) appendLocked(desc driver.NodeDesc, deps []NodeID) NodeID {
	id := NodeID(len(cb.nodes))
	desc.Label = cb.label()
	cb.nodes = append(cb.nodes, node{desc: desc, deps: deps})
	return id
}

// recordLocked adds a data node to the open segment, deriving its
// dependencies from the frontier and data hazards.
func (cb *CommandBuffer) recordLocked(desc driver.NodeDesc) NodeID {
	accs := accessesOf(&desc)
	id := cb.appendLocked(desc, cb.deps.depsFor(accs))
	cb.deps.add(id, accs)
	return id
}

// closeSegmentLocked ends the open segment and makes its nodes the frontier.
// Multi-node segments are joined by an empty node.
func (cb *CommandBuffer) closeSegmentLocked() {
	seg := cb.deps.segment
	switch len(seg) {
	case 0:
		return
	case 1:
		cb.deps.frontier = []NodeID{seg[0]}
	default:
		join := cb.appendLocked(driver.NodeDesc{Kind: driver.NodeEmpty}, append([]NodeID(nil), seg...))
		cb.deps.frontier = []NodeID{join}
	}
	cb.deps.segment = nil
	clear(cb.deps.accesses)
}
