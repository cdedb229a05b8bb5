// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package cpu

import (
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/gogpu/gpugraph/driver"
	"github.com/gogpu/gpugraph/internal/logging"
)

// executable is a compiled graph: an immutable node list grouped into
// levels. Every node of a level depends only on nodes of earlier levels.
type executable struct {
	nodes  []graphNode
	levels [][]int
}

// boundNode is a node with every reference resolved to host memory.
type boundNode struct {
	desc    *driver.NodeDesc
	dst     []byte
	src     []byte
	kernel  KernelFunc
	inv     Invocation
	event   *cpuEvent
	nodeIdx int
}

// InstantiateGraph validates g and compiles it into an executable.
func (d *Driver) InstantiateGraph(g driver.GraphHandle) (driver.ExecHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	gr, ok := d.graphs[g]
	if !ok {
		return 0, fmt.Errorf("%w: graph %d", driver.ErrInvalidHandle, g)
	}

	for i := range gr.nodes {
		if err := d.validateLocked(&gr.nodes[i].desc); err != nil {
			return 0, fmt.Errorf("%w: node %d (%s %q): %w",
				driver.ErrInvalidGraph, i, gr.nodes[i].desc.Kind, gr.nodes[i].desc.Label, err)
		}
	}

	exe := &executable{nodes: append([]graphNode(nil), gr.nodes...)}
	level := make([]int, len(exe.nodes))
	for i, n := range exe.nodes {
		for _, dep := range n.deps {
			if dep >= i {
				return 0, fmt.Errorf("%w: node %d depends on later node %d", driver.ErrInvalidGraph, i, dep)
			}
			if level[dep]+1 > level[i] {
				level[i] = level[dep] + 1
			}
		}
		for len(exe.levels) <= level[i] {
			exe.levels = append(exe.levels, nil)
		}
		exe.levels[level[i]] = append(exe.levels[level[i]], i)
	}

	h := driver.ExecHandle(d.newID())
	d.execs[h] = exe
	d.execsInstantiated.Add(1)

	logging.Logger().Debug("cpu: graph instantiated",
		"graph", uint64(g), "exec", uint64(h),
		"nodes", len(exe.nodes), "levels", len(exe.levels))
	return h, nil
}

// DestroyGraphExec destroys an executable.
func (d *Driver) DestroyGraphExec(e driver.ExecHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.execs[e]; !ok {
		return fmt.Errorf("%w: exec %d", driver.ErrInvalidHandle, e)
	}
	delete(d.execs, e)
	return nil
}

// LaunchGraph runs every node of e, level by level, and returns when the
// last level completed.
func (d *Driver) LaunchGraph(e driver.ExecHandle, bindings []driver.BufferHandle) error {
	d.mu.Lock()
	exe, ok := d.execs[e]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("%w: exec %d", driver.ErrInvalidHandle, e)
	}
	bound := make([]boundNode, len(exe.nodes))
	for i := range exe.nodes {
		b, err := d.bindLocked(&exe.nodes[i].desc, bindings)
		if err != nil {
			d.mu.Unlock()
			return fmt.Errorf("cpu: launch exec %d: node %d: %w", e, i, err)
		}
		b.nodeIdx = i
		bound[i] = b
	}
	d.mu.Unlock()

	d.launches.Add(1)
	for _, lvl := range exe.levels {
		if err := d.runLevel(bound, lvl); err != nil {
			return fmt.Errorf("cpu: launch exec %d: %w", e, err)
		}
	}
	return nil
}

// runLevel executes the nodes of one level, concurrently when configured.
func (d *Driver) runLevel(bound []boundNode, lvl []int) error {
	if d.cfg.Workers <= 1 || len(lvl) == 1 {
		for _, i := range lvl {
			if err := d.run(&bound[i]); err != nil {
				return err
			}
		}
		return nil
	}

	var g errgroup.Group
	g.SetLimit(d.cfg.Workers)
	for _, i := range lvl {
		b := &bound[i]
		g.Go(func() error { return d.run(b) })
	}
	return g.Wait()
}

// IssueNode executes a single node immediately.
func (d *Driver) IssueNode(desc driver.NodeDesc) error {
	d.mu.Lock()
	if err := d.validateLocked(&desc); err != nil {
		d.mu.Unlock()
		return fmt.Errorf("cpu: issue %s: %w", desc.Kind, err)
	}
	b, err := d.bindLocked(&desc, nil)
	d.mu.Unlock()
	if err != nil {
		return fmt.Errorf("cpu: issue %s: %w", desc.Kind, err)
	}
	return d.run(&b)
}

// Synchronize returns immediately: every issued node completes before
// IssueNode returns.
func (d *Driver) Synchronize() error { return nil }

// run executes one bound node.
func (d *Driver) run(b *boundNode) error {
	desc := b.desc
	switch desc.Kind {
	case driver.NodeEmpty:
	case driver.NodeCopy:
		copy(b.dst, b.src)
	case driver.NodeUpdate:
		copy(b.dst, desc.Update.Data)
	case driver.NodeFill:
		p := desc.Fill.Pattern
		for off := 0; off < len(b.dst); off += len(p) {
			copy(b.dst[off:], p)
		}
	case driver.NodeKernel:
		if err := b.kernel(b.inv); err != nil {
			return fmt.Errorf("kernel %q (node %d): %w", desc.Label, b.nodeIdx, err)
		}
	case driver.NodeEventRecord:
		b.event.signaled.Store(true)
	case driver.NodeEventWait:
		if !b.event.signaled.Load() {
			return fmt.Errorf("%w: event %d (node %d)", ErrEventNotSignaled, desc.Event, b.nodeIdx)
		}
	default:
		return fmt.Errorf("%w: node kind %s", driver.ErrUnsupported, desc.Kind)
	}
	d.nodesExecuted.Add(1)
	return nil
}

// validateLocked checks everything about a node that does not depend on a
// binding table. The caller must hold d.mu.
func (d *Driver) validateLocked(desc *driver.NodeDesc) error {
	checkRef := func(ref driver.BufferRef) error {
		if ref.IsIndirect() {
			return nil
		}
		_, err := d.sliceLocked(ref)
		return err
	}

	switch desc.Kind {
	case driver.NodeEmpty:
		return nil
	case driver.NodeCopy:
		if err := checkRef(desc.Copy.Source); err != nil {
			return err
		}
		return checkRef(desc.Copy.Target)
	case driver.NodeFill:
		switch len(desc.Fill.Pattern) {
		case 1, 2, 4:
		default:
			return fmt.Errorf("%w: fill pattern of %d bytes", driver.ErrUnsupported, len(desc.Fill.Pattern))
		}
		return checkRef(desc.Fill.Target)
	case driver.NodeUpdate:
		return checkRef(desc.Update.Target)
	case driver.NodeKernel:
		if _, ok := d.kernels[desc.Kernel.Kernel]; !ok {
			return fmt.Errorf("%w: kernel %d", driver.ErrInvalidHandle, desc.Kernel.Kernel)
		}
		for _, ref := range desc.Kernel.Bindings {
			if err := checkRef(ref); err != nil {
				return err
			}
		}
		return nil
	case driver.NodeEventRecord, driver.NodeEventWait:
		if _, ok := d.events[desc.Event]; !ok {
			return fmt.Errorf("%w: event %d", driver.ErrInvalidHandle, desc.Event)
		}
		return nil
	default:
		return fmt.Errorf("%w: node kind %s", driver.ErrUnsupported, desc.Kind)
	}
}

// bindLocked resolves the references of desc against bindings.
// The caller must hold d.mu.
func (d *Driver) bindLocked(desc *driver.NodeDesc, bindings []driver.BufferHandle) (boundNode, error) {
	b := boundNode{desc: desc}
	resolve := func(ref driver.BufferRef) ([]byte, error) {
		r, err := ref.Resolve(bindings)
		if err != nil {
			return nil, err
		}
		return d.sliceLocked(r)
	}
	// exact resolves ref with an implicit length of n and requires the
	// selected range to be exactly n bytes.
	exact := func(ref driver.BufferRef, n int) ([]byte, error) {
		if ref.Length == driver.WholeBuffer {
			ref.Length = uint64(n)
		}
		s, err := resolve(ref)
		if err != nil {
			return nil, err
		}
		if len(s) != n {
			return nil, fmt.Errorf("%w: %v holds %d bytes, need %d", driver.ErrOutOfRange, ref, len(s), n)
		}
		return s, nil
	}

	var err error
	switch desc.Kind {
	case driver.NodeCopy:
		if b.src, err = resolve(desc.Copy.Source); err != nil {
			return b, err
		}
		b.dst, err = exact(desc.Copy.Target, len(b.src))
	case driver.NodeUpdate:
		b.dst, err = exact(desc.Update.Target, len(desc.Update.Data))
	case driver.NodeFill:
		if b.dst, err = resolve(desc.Fill.Target); err != nil {
			return b, err
		}
		if p := len(desc.Fill.Pattern); p == 0 || len(b.dst)%p != 0 {
			err = fmt.Errorf("%w: fill of %d bytes with %d-byte pattern", driver.ErrOutOfRange, len(b.dst), p)
		}
	case driver.NodeKernel:
		k, ok := d.kernels[desc.Kernel.Kernel]
		if !ok {
			return b, fmt.Errorf("%w: kernel %d", driver.ErrInvalidHandle, desc.Kernel.Kernel)
		}
		b.kernel = k.fn
		b.inv = Invocation{
			Workgroups: desc.Kernel.Workgroups,
			Constants:  desc.Kernel.Constants,
			Buffers:    make([][]byte, len(desc.Kernel.Bindings)),
		}
		for i, ref := range desc.Kernel.Bindings {
			if b.inv.Buffers[i], err = resolve(ref); err != nil {
				return b, err
			}
		}
	case driver.NodeEventRecord, driver.NodeEventWait:
		ev, ok := d.events[desc.Event]
		if !ok {
			return b, fmt.Errorf("%w: event %d", driver.ErrInvalidHandle, desc.Event)
		}
		b.event = ev
	}
	return b, err
}
