// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package graph

import (
	"fmt"

	"github.com/gogpu/gpugraph/driver"
	"github.com/gogpu/gpugraph/internal/logging"
)

// End finishes recording and compiles the graph into a driver executable.
//
// Every node is validated against the binding capacity, lowered into a
// driver graph in recording order and instantiated. On failure the partial
// driver objects are destroyed, the buffer becomes Invalid and the error
// wraps ErrCompile. An Invalid buffer can only be destroyed.
func (cb *CommandBuffer) End() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err := cb.checkRecordingLocked(); err != nil {
		return err
	}
	if len(cb.groups) > 0 {
		return fmt.Errorf("%w: %d debug groups still open", ErrInvalidState, len(cb.groups))
	}

	if err := cb.compileLocked(); err != nil {
		cb.destroyDriverObjectsLocked()
		cb.state = StateInvalid
		logging.Logger().Warn("graph: compilation failed", "id", cb.id, "nodes", len(cb.nodes), "err", err)
		return fmt.Errorf("%w: %w", ErrCompile, err)
	}

	cb.state = StateExecutable
	logging.Logger().Info("graph: compiled",
		"id", cb.id, "nodes", len(cb.nodes), "exec", uint64(cb.exec),
		"payload", cb.arena.Allocated())
	return nil
}

func (cb *CommandBuffer) compileLocked() error {
	for i := range cb.nodes {
		if err := cb.checkBindingsLocked(&cb.nodes[i].desc); err != nil {
			return fmt.Errorf("node %d (%s): %w", i, cb.nodes[i].desc.Kind, err)
		}
	}

	g, err := cb.symbols.CreateGraph(cb.ctx)
	if err != nil {
		return fmt.Errorf("create graph: %w", err)
	}
	cb.graph = g

	cb.handles = make([]driver.NodeHandle, len(cb.nodes))
	for i, n := range cb.nodes {
		deps := make([]driver.NodeHandle, len(n.deps))
		for k, d := range n.deps {
			deps[k] = cb.handles[d]
		}
		h, err := cb.symbols.AddGraphNode(g, n.desc, deps)
		if err != nil {
			return fmt.Errorf("add node %d (%s): %w", i, n.desc.Kind, err)
		}
		cb.handles[i] = h
	}

	exec, err := cb.symbols.InstantiateGraph(g)
	if err != nil {
		return fmt.Errorf("instantiate: %w", err)
	}
	cb.exec = exec
	return nil
}

// checkBindingsLocked requires every indirect reference of desc to use a
// slot below the binding capacity.
func (cb *CommandBuffer) checkBindingsLocked(desc *driver.NodeDesc) error {
	refs, _ := desc.Refs()
	for _, ref := range refs {
		if ref.IsIndirect() && int(ref.Slot) >= cb.bindingCapacity {
			return fmt.Errorf("%v: binding slot %d exceeds capacity %d", ref, ref.Slot, cb.bindingCapacity)
		}
	}
	return nil
}

// DriverNode returns the driver node handle id was lowered to. It is only
// available while the buffer is Executable.
func (cb *CommandBuffer) DriverNode(id NodeID) (driver.NodeHandle, bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != StateExecutable || int(id) < 0 || int(id) >= len(cb.handles) {
		return 0, false
	}
	return cb.handles[id], true
}

// DriverGraph returns the driver graph backing the executable. It is only
// available while the buffer is Executable.
func (cb *CommandBuffer) DriverGraph() (driver.GraphHandle, bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.graph, cb.state == StateExecutable
}
