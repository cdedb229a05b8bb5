// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package graph

import "github.com/gogpu/gpugraph/driver"

// NodeID is the stable index of a node inside a command buffer. IDs grow in
// recording order and every dependency points to a smaller ID.
type NodeID int

// node is one recorded operation.
type node struct {
	desc driver.NodeDesc
	deps []NodeID
}

// access is a byte range touched by a node.
type access struct {
	ref   driver.BufferRef
	write bool
}

// tracker computes dependency edges for newly recorded nodes.
//
// Nodes recorded since the last barrier form the open segment. A new node
// depends on the frontier (the nodes that closed the previous segment) and
// on every node of the open segment it has a data hazard with.
type tracker struct {
	frontier []NodeID
	segment  []NodeID
	accesses map[NodeID][]access
}

func (t *tracker) reset() {
	t.frontier = nil
	t.segment = nil
	clear(t.accesses)
}

// depsFor returns the dependencies of a node touching accs.
func (t *tracker) depsFor(accs []access) []NodeID {
	deps := append([]NodeID(nil), t.frontier...)
	for _, prev := range t.segment {
		if conflicts(t.accesses[prev], accs) {
			deps = append(deps, prev)
		}
	}
	return deps
}

// add registers id as a member of the open segment.
func (t *tracker) add(id NodeID, accs []access) {
	if t.accesses == nil {
		t.accesses = make(map[NodeID][]access)
	}
	t.segment = append(t.segment, id)
	if len(accs) > 0 {
		t.accesses[id] = accs
	}
}

// segmentOrFrontier returns the nodes a signal must wait for: the whole open
// segment, or the frontier when nothing was recorded since the last barrier.
func (t *tracker) segmentOrFrontier() []NodeID {
	if len(t.segment) > 0 {
		return append([]NodeID(nil), t.segment...)
	}
	return append([]NodeID(nil), t.frontier...)
}

// accessesOf returns the buffer accesses of desc.
func accessesOf(desc *driver.NodeDesc) []access {
	refs, writes := desc.Refs()
	if len(refs) == 0 {
		return nil
	}
	accs := make([]access, len(refs))
	for i := range refs {
		accs[i] = access{ref: refs[i], write: writes[i]}
	}
	return accs
}

// conflicts reports whether any pair of accesses is a hazard: overlapping
// ranges of possibly the same buffer where at least one side writes.
func conflicts(a, b []access) bool {
	for _, x := range a {
		for _, y := range b {
			if (x.write || y.write) && mayAlias(x.ref, y.ref) {
				return true
			}
		}
	}
	return false
}

// mayAlias reports whether two references can select common bytes. Only
// two direct references to different buffers are known to be disjoint: a
// binding table may bind any buffer to any slot.
func mayAlias(a, b driver.BufferRef) bool {
	if !a.IsIndirect() && !b.IsIndirect() && a.Buffer != b.Buffer {
		return false
	}
	return overlaps(a, b)
}

func overlaps(a, b driver.BufferRef) bool {
	return a.Offset < end(b) && b.Offset < end(a)
}

func end(r driver.BufferRef) uint64 {
	if r.Length == driver.WholeBuffer || r.Offset+r.Length < r.Offset {
		return ^uint64(0)
	}
	return r.Offset + r.Length
}
