// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

package wgpu

import (
	"fmt"
	"time"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpugraph/driver"
)

// graphNode is one node of a graph under construction. Dependencies always
// refer to earlier nodes, so index order is a topological order.
type graphNode struct {
	desc driver.NodeDesc
	deps []int
}

type halGraph struct {
	ctx   driver.ContextHandle
	nodes []graphNode
	index map[driver.NodeHandle]int
}

// executable is a validated, immutable node list.
type executable struct {
	label string
	nodes []graphNode
}

// boundNode is a node whose references have been resolved for one launch.
type boundNode struct {
	desc   *driver.NodeDesc
	src    bufferRange
	dst    bufferRange
	ranges []bufferRange
	kernel *kernel
	event  *halEvent
}

// === Graphs ===

// CreateGraph starts an empty graph.
func (d *Driver) CreateGraph(ctx driver.ContextHandle) (driver.GraphHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	h := driver.GraphHandle(d.newID())
	d.graphs[h] = &halGraph{ctx: ctx, index: make(map[driver.NodeHandle]int)}
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

// InstantiateGraph validates g and freezes it into an executable.
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

	h := driver.ExecHandle(d.newID())
	d.execs[h] = &executable{
		label: fmt.Sprintf("%s_exec_%d", d.cfg.Label, h),
		nodes: append([]graphNode(nil), gr.nodes...),
	}
	d.log().Debug("wgpu: graph instantiated", "graph", uint64(g), "exec", uint64(h), "nodes", len(gr.nodes))
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

// LaunchGraph encodes and submits every node of e, then waits for the
// submissions to complete.
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
			return fmt.Errorf("wgpu: launch exec %d: node %d: %w", e, i, err)
		}
		bound[i] = b
	}
	d.mu.Unlock()

	s := d.newSubmitter(exe.label)
	for i := range bound {
		if err := s.encode(&bound[i]); err != nil {
			s.abandon()
			return fmt.Errorf("wgpu: launch exec %d: node %d (%s): %w", e, i, bound[i].desc.Kind, err)
		}
	}
	if err := s.finish(); err != nil {
		return fmt.Errorf("wgpu: launch exec %d: %w", e, err)
	}
	d.launches.Add(1)
	return nil
}

// === Streaming ===

// IssueNode encodes and submits a single node without waiting for it.
func (d *Driver) IssueNode(desc driver.NodeDesc) error {
	d.mu.Lock()
	if err := d.validateLocked(&desc); err != nil {
		d.mu.Unlock()
		return fmt.Errorf("wgpu: issue %s: %w", desc.Kind, err)
	}
	b, err := d.bindLocked(&desc, nil)
	d.mu.Unlock()
	if err != nil {
		return fmt.Errorf("wgpu: issue %s: %w", desc.Kind, err)
	}

	d.streamMu.Lock()
	defer d.streamMu.Unlock()
	if d.stream == nil {
		d.stream = d.newSubmitter(d.cfg.Label + "_stream")
	}
	if err := d.stream.encode(&b); err != nil {
		return fmt.Errorf("wgpu: issue %s: %w", desc.Kind, err)
	}
	return d.stream.flush()
}

// Synchronize waits for every issued node and releases their resources.
func (d *Driver) Synchronize() error {
	d.streamMu.Lock()
	defer d.streamMu.Unlock()
	if d.stream == nil {
		return nil
	}
	s := d.stream
	d.stream = nil
	return s.finish()
}

// === Validation and binding ===

// validateLocked checks everything about a node that does not depend on a
// binding table. The caller must hold d.mu.
func (d *Driver) validateLocked(desc *driver.NodeDesc) error {
	checkRef := func(ref driver.BufferRef) error {
		if ref.IsIndirect() {
			return nil
		}
		_, err := d.rangeLocked(ref)
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
		k, ok := d.kernels[desc.Kernel.Kernel]
		if !ok {
			return fmt.Errorf("%w: kernel %d", driver.ErrInvalidHandle, desc.Kernel.Kernel)
		}
		if len(desc.Kernel.Constants) > 0 {
			return fmt.Errorf("%w: kernel constants (pass them in a bound buffer)", driver.ErrUnsupported)
		}
		if len(desc.Kernel.Bindings) != k.bindings {
			return fmt.Errorf("%w: kernel %q takes %d bindings, got %d",
				driver.ErrInvalidGraph, k.label, k.bindings, len(desc.Kernel.Bindings))
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
	resolve := func(ref driver.BufferRef) (bufferRange, error) {
		r, err := ref.Resolve(bindings)
		if err != nil {
			return bufferRange{}, err
		}
		return d.rangeLocked(r)
	}
	// exact resolves ref with an implicit length of n and requires the
	// selected range to be exactly n bytes.
	exact := func(ref driver.BufferRef, n uint64) (bufferRange, error) {
		if ref.Length == driver.WholeBuffer {
			ref.Length = n
		}
		r, err := resolve(ref)
		if err != nil {
			return r, err
		}
		if r.size != n {
			return r, fmt.Errorf("%w: %v holds %d bytes, need %d", driver.ErrOutOfRange, ref, r.size, n)
		}
		return r, nil
	}

	var err error
	switch desc.Kind {
	case driver.NodeCopy:
		if b.src, err = resolve(desc.Copy.Source); err != nil {
			return b, err
		}
		b.dst, err = exact(desc.Copy.Target, b.src.size)
	case driver.NodeUpdate:
		b.dst, err = exact(desc.Update.Target, uint64(len(desc.Update.Data)))
	case driver.NodeFill:
		if b.dst, err = resolve(desc.Fill.Target); err != nil {
			return b, err
		}
		if p := uint64(len(desc.Fill.Pattern)); p == 0 || b.dst.size%p != 0 {
			err = fmt.Errorf("%w: fill of %d bytes with %d-byte pattern", driver.ErrOutOfRange, b.dst.size, p)
		}
	case driver.NodeKernel:
		k, ok := d.kernels[desc.Kernel.Kernel]
		if !ok {
			return b, fmt.Errorf("%w: kernel %d", driver.ErrInvalidHandle, desc.Kernel.Kernel)
		}
		b.kernel = k
		b.ranges = make([]bufferRange, len(desc.Kernel.Bindings))
		for i, ref := range desc.Kernel.Bindings {
			if b.ranges[i], err = resolve(ref); err != nil {
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

// === Submission ===

// submitter encodes bound nodes into command encoders and submits them in
// order. Encoders, command buffers and bind groups stay alive until the
// submissions that use them have completed.
type submitter struct {
	d     *Driver
	label string

	enc      hal.CommandEncoder
	encoders []hal.CommandEncoder
	cmdBufs  []hal.CommandBuffer
	groups   []hal.BindGroup

	// last is the index of the latest submission, zero before the first.
	last uint64
}

func (d *Driver) newSubmitter(label string) *submitter {
	return &submitter{d: d, label: label}
}

// encoder returns the open encoder, beginning one if needed.
func (s *submitter) encoder() (hal.CommandEncoder, error) {
	if s.enc != nil {
		return s.enc, nil
	}
	enc, err := s.d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: s.label})
	if err != nil {
		return nil, fmt.Errorf("create command encoder: %w", err)
	}
	s.encoders = append(s.encoders, enc)
	if err := enc.BeginEncoding(s.label); err != nil {
		return nil, fmt.Errorf("begin encoding: %w", err)
	}
	s.enc = enc
	return enc, nil
}

// flush submits the open encoder, if any.
func (s *submitter) flush() error {
	if s.enc == nil {
		return nil
	}
	enc := s.enc
	s.enc = nil
	cb, err := enc.EndEncoding()
	if err != nil {
		return fmt.Errorf("end encoding: %w", err)
	}
	s.cmdBufs = append(s.cmdBufs, cb)
	idx, err := s.d.queue.Submit([]hal.CommandBuffer{cb})
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	s.last = idx
	s.d.submissions.Add(1)
	return nil
}

// sync submits pending work and waits until the queue is idle with
// respect to this submitter.
func (s *submitter) sync() error {
	if err := s.flush(); err != nil {
		return err
	}
	return s.d.wait(s.last)
}

// finish submits pending work, waits for it and releases every resource.
func (s *submitter) finish() error {
	err := s.sync()
	s.release()
	return err
}

// abandon releases resources after a failed encode. Work that was already
// submitted is waited for first.
func (s *submitter) abandon() {
	if s.enc != nil {
		s.enc.DiscardEncoding()
		s.enc = nil
	}
	if err := s.d.wait(s.last); err != nil {
		s.d.log().Warn("wgpu: abandoned submission did not complete", "label", s.label, "err", err)
	}
	s.release()
}

func (s *submitter) release() {
	dev := s.d.device
	for _, cb := range s.cmdBufs {
		dev.FreeCommandBuffer(cb)
	}
	for _, g := range s.groups {
		dev.DestroyBindGroup(g)
	}
	for _, enc := range s.encoders {
		enc.Destroy()
	}
	s.cmdBufs, s.groups, s.encoders = nil, nil, nil
}

// encode records one bound node.
func (s *submitter) encode(b *boundNode) error {
	desc := b.desc
	switch desc.Kind {
	case driver.NodeEmpty:
		return nil

	case driver.NodeCopy:
		if b.src.size == 0 {
			return nil
		}
		enc, err := s.encoder()
		if err != nil {
			return err
		}
		enc.CopyBufferToBuffer(b.src.buf.buf, b.dst.buf.buf, []hal.BufferCopy{
			{SrcOffset: b.src.offset, DstOffset: b.dst.offset, Size: b.src.size},
		})
		return nil

	case driver.NodeUpdate:
		return s.write(b.dst, desc.Update.Data)

	case driver.NodeFill:
		if zeroPattern(desc.Fill.Pattern) && b.dst.offset%4 == 0 && b.dst.size%4 == 0 {
			enc, err := s.encoder()
			if err != nil {
				return err
			}
			enc.ClearBuffer(b.dst.buf.buf, b.dst.offset, b.dst.size)
			return nil
		}
		return s.write(b.dst, expandPattern(desc.Fill.Pattern, b.dst.size))

	case driver.NodeKernel:
		group, err := b.kernel.bindGroup(s.d.device, b.ranges)
		if err != nil {
			return fmt.Errorf("kernel %q: create bind group: %w", b.kernel.label, err)
		}
		s.groups = append(s.groups, group)
		enc, err := s.encoder()
		if err != nil {
			return err
		}
		wg := desc.Kernel.Workgroups
		pass := enc.BeginComputePass(&hal.ComputePassDescriptor{Label: desc.Label})
		pass.SetPipeline(b.kernel.pipeline)
		pass.SetBindGroup(0, group, nil)
		pass.Dispatch(wg[0], wg[1], wg[2])
		pass.End()
		return nil

	case driver.NodeEventRecord:
		// The event needs a submission of its own when nothing has been
		// submitted yet.
		if s.enc == nil && s.last == 0 {
			if _, err := s.encoder(); err != nil {
				return err
			}
		}
		if err := s.flush(); err != nil {
			return err
		}
		b.event.submission.Store(s.last)
		return nil

	case driver.NodeEventWait:
		sub := b.event.submission.Load()
		if sub == 0 {
			return fmt.Errorf("%w: event %d", ErrEventNotSignaled, desc.Event)
		}
		if err := s.flush(); err != nil {
			return err
		}
		return s.d.wait(sub)

	default:
		return fmt.Errorf("%w: node kind %s", driver.ErrUnsupported, desc.Kind)
	}
}

// write uploads host bytes. Queue writes are not ordered with encoded
// commands, so everything encoded before must complete first.
func (s *submitter) write(dst bufferRange, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if err := s.sync(); err != nil {
		return err
	}
	if err := s.d.queue.WriteBuffer(dst.buf.buf, dst.offset, data); err != nil {
		return fmt.Errorf("write buffer: %w", err)
	}
	return nil
}

// wait polls the queue until submission idx has completed.
func (d *Driver) wait(idx uint64) error {
	if idx == 0 || d.queue.PollCompleted() >= idx {
		return nil
	}
	deadline := time.Now().Add(d.cfg.WaitTimeout)
	for d.queue.PollCompleted() < idx {
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: submission %d after %v", ErrTimeout, idx, d.cfg.WaitTimeout)
		}
		time.Sleep(d.cfg.PollInterval)
	}
	return nil
}

func zeroPattern(p []byte) bool {
	for _, b := range p {
		if b != 0 {
			return false
		}
	}
	return true
}

// expandPattern repeats p to fill n bytes. n is a multiple of len(p).
func expandPattern(p []byte, n uint64) []byte {
	out := make([]byte, n)
	for off := 0; off < len(out); off += len(p) {
		copy(out[off:], p)
	}
	return out
}
