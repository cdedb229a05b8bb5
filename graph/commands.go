// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package graph

import (
	"fmt"
	"unsafe"

	"github.com/gogpu/gpugraph/command"
	"github.com/gogpu/gpugraph/driver"
)

// ExecutionBarrier closes the open segment. Every command recorded after the
// barrier depends on every command recorded before it. Stage masks and
// buffer ranges are ignored: every barrier is a full barrier.
func (cb *CommandBuffer) ExecutionBarrier(command.Barrier) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err := cb.checkRecordingLocked(); err != nil {
		return err
	}
	cb.closeSegmentLocked()
	return nil
}

// SignalEvent records a node that signals ev once every command of the open
// segment completed, or once the frontier completed when the segment is
// empty. The event is retained until the buffer is reset or destroyed.
func (cb *CommandBuffer) SignalEvent(ev command.Event, scope command.ExecutionStage) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err := cb.checkRecordingLocked(); err != nil {
		return err
	}
	if ev == nil {
		return fmt.Errorf("%w: nil event", ErrInvalidArgument)
	}

	deps := cb.deps.segmentOrFrontier()
	id := cb.appendLocked(driver.NodeDesc{Kind: driver.NodeEventRecord, Event: ev.Handle()}, deps)
	cb.deps.add(id, nil)
	cb.retainLocked(ev)
	return nil
}

// WaitEvents closes the open segment and records one wait node per event.
// Commands recorded afterwards depend on every wait.
func (cb *CommandBuffer) WaitEvents(evs []command.Event) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err := cb.checkRecordingLocked(); err != nil {
		return err
	}
	for i, ev := range evs {
		if ev == nil {
			return fmt.Errorf("%w: nil event at index %d", ErrInvalidArgument, i)
		}
	}
	if len(evs) == 0 {
		return nil
	}

	cb.closeSegmentLocked()
	waits := make([]NodeID, 0, len(evs))
	for _, ev := range evs {
		deps := append([]NodeID(nil), cb.deps.frontier...)
		waits = append(waits, cb.appendLocked(driver.NodeDesc{Kind: driver.NodeEventWait, Event: ev.Handle()}, deps))
		cb.retainLocked(ev)
	}
	if len(waits) == 1 {
		cb.deps.frontier = waits
		return nil
	}
	join := cb.appendLocked(driver.NodeDesc{Kind: driver.NodeEmpty}, waits)
	cb.deps.frontier = []NodeID{join}
	return nil
}

func (cb *CommandBuffer) retainLocked(ev command.Event) {
	if r, ok := ev.(retainer); ok {
		r.Retain()
		cb.retained = append(cb.retained, r)
	}
}

// FillBuffer records a fill of target with a repeating 1, 2 or 4 byte
// pattern.
func (cb *CommandBuffer) FillBuffer(target command.BufferRef, pattern []byte) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err := cb.checkRecordingLocked(); err != nil {
		return err
	}
	if err := cb.checkCategoryLocked(command.CategoryTransfer); err != nil {
		return err
	}
	if cb.validated() {
		if err := command.ValidateFill(target, pattern); err != nil {
			return err
		}
	}

	p, err := cb.arena.Clone(pattern)
	if err != nil {
		return fmt.Errorf("graph: fill pattern: %w", err)
	}
	cb.recordLocked(driver.NodeDesc{Kind: driver.NodeFill, Fill: driver.FillParams{Target: target, Pattern: p}})
	return nil
}

// UpdateBuffer records a write of source into target. The bytes are copied
// at record time; the caller may reuse source immediately.
func (cb *CommandBuffer) UpdateBuffer(source []byte, target command.BufferRef) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err := cb.checkRecordingLocked(); err != nil {
		return err
	}
	if err := cb.checkCategoryLocked(command.CategoryTransfer); err != nil {
		return err
	}
	if cb.validated() {
		if err := command.ValidateUpdate(source, target); err != nil {
			return err
		}
	}

	data, err := cb.arena.Clone(source)
	if err != nil {
		return fmt.Errorf("graph: update payload: %w", err)
	}
	cb.recordLocked(driver.NodeDesc{Kind: driver.NodeUpdate, Update: driver.UpdateParams{Target: target, Data: data}})
	return nil
}

// CopyBuffer records a copy from source to target.
func (cb *CommandBuffer) CopyBuffer(source, target command.BufferRef) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err := cb.checkRecordingLocked(); err != nil {
		return err
	}
	if err := cb.checkCategoryLocked(command.CategoryTransfer); err != nil {
		return err
	}
	if cb.validated() {
		if err := command.ValidateCopy(source, target); err != nil {
			return err
		}
	}
	cb.recordLocked(driver.NodeDesc{Kind: driver.NodeCopy, Copy: driver.CopyParams{Source: source, Target: target}})
	return nil
}

// Dispatch records a kernel dispatch over the given workgroup grid.
func (cb *CommandBuffer) Dispatch(kernel driver.KernelHandle, workgroups [3]uint32, constants []uint32, bindings []command.BufferRef) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err := cb.checkRecordingLocked(); err != nil {
		return err
	}
	if err := cb.checkCategoryLocked(command.CategoryDispatch); err != nil {
		return err
	}
	if cb.validated() {
		if err := command.ValidateDispatch(kernel, workgroups); err != nil {
			return err
		}
	}

	consts, err := cb.cloneConstants(constants)
	if err != nil {
		return fmt.Errorf("graph: dispatch constants: %w", err)
	}
	cb.recordLocked(driver.NodeDesc{Kind: driver.NodeKernel, Kernel: driver.KernelParams{
		Kernel:     kernel,
		Workgroups: workgroups,
		Constants:  consts,
		Bindings:   append([]command.BufferRef(nil), bindings...),
	}})
	return nil
}

// cloneConstants copies push constants into the arena. Arena allocations
// are 8-byte aligned, which satisfies uint32 alignment.
func (cb *CommandBuffer) cloneConstants(constants []uint32) ([]uint32, error) {
	if len(constants) == 0 {
		return nil, nil
	}
	b, err := cb.arena.Allocate(len(constants) * 4)
	if err != nil {
		return nil, err
	}
	out := unsafe.Slice((*uint32)(unsafe.Pointer(&b[0])), len(constants))
	copy(out, constants)
	return out, nil
}

// BeginDebugGroup opens a labelled group. Nodes recorded inside it carry the
// label path of every open group.
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
