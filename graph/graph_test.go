// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package graph

import (
	"bytes"
	"encoding/binary"
	"errors"
	"slices"
	"testing"

	"github.com/gogpu/gpugraph/command"
	"github.com/gogpu/gpugraph/driver"
	"github.com/gogpu/gpugraph/driver/cpu"
	"github.com/gogpu/gpugraph/event"
	"github.com/gogpu/gpugraph/memory"
)

type testDevice struct{}

func (testDevice) Name() string { return "test" }

type fixture struct {
	drv   *cpu.Driver
	pool  *memory.BlockPool
	alloc *memory.BudgetAllocator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	alloc := memory.NewBudgetAllocator(nil, 1<<20)
	pool, err := memory.NewBlockPool(256, alloc)
	if err != nil {
		t.Fatalf("NewBlockPool: %v", err)
	}
	return &fixture{drv: cpu.New(cpu.DefaultConfig()), pool: pool, alloc: alloc}
}

func (f *fixture) newBuffer(t *testing.T, opts ...func(*bufferOpts)) *CommandBuffer {
	t.Helper()
	o := bufferOpts{categories: command.CategoryAny, bindings: 4}
	for _, opt := range opts {
		opt(&o)
	}
	cb, err := New(testDevice{}, f.drv, 0, o.mode, o.categories, command.QueueAffinityAny, o.bindings, f.pool, f.alloc)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(cb.Destroy)
	return cb
}

type bufferOpts struct {
	mode       command.Mode
	categories command.Category
	bindings   int
}

func withMode(m command.Mode) func(*bufferOpts)         { return func(o *bufferOpts) { o.mode = m } }
func withCategories(c command.Category) func(*bufferOpts) { return func(o *bufferOpts) { o.categories = c } }

func (f *fixture) buffer(t *testing.T, size uint64) driver.BufferHandle {
	t.Helper()
	h, err := f.drv.CreateBuffer(size)
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	return h
}

func mustOK(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func wantDeps(t *testing.T, cb *CommandBuffer, id NodeID, want ...NodeID) {
	t.Helper()
	got, err := cb.Dependencies(id)
	if err != nil {
		t.Fatalf("Dependencies(%d): %v", id, err)
	}
	if want == nil {
		want = []NodeID{}
	}
	if got == nil {
		got = []NodeID{}
	}
	if !slices.Equal(got, want) {
		t.Errorf("Dependencies(%d) = %v, want %v", id, got, want)
	}
}

func TestNewValidatesArguments(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		fn   func() (*CommandBuffer, error)
	}{
		{"nil symbols", func() (*CommandBuffer, error) {
			return New(testDevice{}, nil, 0, 0, command.CategoryAny, command.QueueAffinityAny, 0, f.pool, nil)
		}},
		{"nil block pool", func() (*CommandBuffer, error) {
			return New(testDevice{}, f.drv, 0, 0, command.CategoryAny, command.QueueAffinityAny, 0, nil, nil)
		}},
		{"no categories", func() (*CommandBuffer, error) {
			return New(testDevice{}, f.drv, 0, 0, 0, command.QueueAffinityAny, 0, f.pool, nil)
		}},
		{"zero affinity", func() (*CommandBuffer, error) {
			return New(testDevice{}, f.drv, 0, 0, command.CategoryAny, 0, 0, f.pool, nil)
		}},
		{"negative bindings", func() (*CommandBuffer, error) {
			return New(testDevice{}, f.drv, 0, 0, command.CategoryAny, command.QueueAffinityAny, -1, f.pool, nil)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.fn(); !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("New() error = %v, want ErrInvalidArgument", err)
			}
		})
	}

	tiny := memory.NewBudgetAllocator(nil, 16)
	if _, err := New(testDevice{}, f.drv, 0, 0, command.CategoryAny, command.QueueAffinityAny, 0, f.pool, tiny); !errors.Is(err, memory.ErrOutOfMemory) {
		t.Errorf("New() with exhausted allocator error = %v, want ErrOutOfMemory", err)
	}
}

func TestStateMachine(t *testing.T) {
	f := newFixture(t)
	buf := f.buffer(t, 16)
	cb := f.newBuffer(t)

	if cb.State() != StateInitial {
		t.Fatalf("initial state = %s", cb.State())
	}
	if err := cb.FillBuffer(driver.Direct(buf, 0, 16), []byte{1}); !errors.Is(err, ErrInvalidState) {
		t.Errorf("FillBuffer before Begin error = %v, want ErrInvalidState", err)
	}
	if err := cb.End(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("End before Begin error = %v, want ErrInvalidState", err)
	}
	if _, err := cb.Handle(); !errors.Is(err, ErrNotExecutable) {
		t.Errorf("Handle before End error = %v, want ErrNotExecutable", err)
	}

	mustOK(t, cb.Begin())
	if err := cb.Begin(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second Begin error = %v, want ErrInvalidState", err)
	}
	mustOK(t, cb.FillBuffer(driver.Direct(buf, 0, 16), []byte{1}))
	if _, err := cb.Handle(); !errors.Is(err, ErrNotExecutable) {
		t.Errorf("Handle while recording error = %v, want ErrNotExecutable", err)
	}
	mustOK(t, cb.End())

	h1, err := cb.Handle()
	if err != nil || h1 == 0 {
		t.Fatalf("Handle() = %d, %v", h1, err)
	}
	h2, _ := cb.Handle()
	if h1 != h2 {
		t.Errorf("Handle() not stable: %d then %d", h1, h2)
	}

	if err := cb.CopyBuffer(driver.Direct(buf, 0, 4), driver.Direct(buf, 4, 4)); !errors.Is(err, ErrInvalidState) {
		t.Errorf("CopyBuffer after End error = %v, want ErrInvalidState", err)
	}
	if err := cb.End(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second End error = %v, want ErrInvalidState", err)
	}

	cb.Destroy()
	cb.Destroy()
	if cb.State() != StateDestroyed {
		t.Errorf("state after Destroy = %s", cb.State())
	}
	if err := cb.Begin(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Begin after Destroy error = %v, want ErrInvalidState", err)
	}
	if st := f.drv.Stats(); st.LiveExecs != 0 {
		t.Errorf("driver still holds %d executables", st.LiveExecs)
	}
}

func TestIndependentCommandsHaveNoEdges(t *testing.T) {
	f := newFixture(t)
	a, b := f.buffer(t, 16), f.buffer(t, 16)
	cb := f.newBuffer(t)
	mustOK(t, cb.Begin())

	mustOK(t, cb.FillBuffer(driver.Direct(a, 0, 16), []byte{1}))        // 0
	mustOK(t, cb.FillBuffer(driver.Direct(b, 0, 16), []byte{2}))        // 1
	mustOK(t, cb.UpdateBuffer([]byte{9, 9, 9, 9}, driver.Direct(a, 0, 4))) // 2: WAW on a
	mustOK(t, cb.CopyBuffer(driver.Direct(b, 8, 4), driver.Direct(b, 12, 4))) // 3: RAW on b
	mustOK(t, cb.End())

	wantDeps(t, cb, 0)
	wantDeps(t, cb, 1)
	wantDeps(t, cb, 2, 0)
	wantDeps(t, cb, 3, 1)
}

func TestDisjointRangesAreIndependent(t *testing.T) {
	f := newFixture(t)
	a, c := f.buffer(t, 16), f.buffer(t, 16)
	cb := f.newBuffer(t)
	mustOK(t, cb.Begin())

	mustOK(t, cb.FillBuffer(driver.Direct(a, 0, 8), []byte{1}))
	mustOK(t, cb.FillBuffer(driver.Direct(a, 8, 8), []byte{2}))
	// Reads of overlapping ranges do not conflict.
	mustOK(t, cb.CopyBuffer(driver.Direct(a, 0, 4), driver.Direct(c, 0, 4)))
	mustOK(t, cb.CopyBuffer(driver.Direct(a, 0, 4), driver.Direct(c, 4, 4)))

	wantDeps(t, cb, 1)
	wantDeps(t, cb, 2, 0)
	wantDeps(t, cb, 3, 0)
}

func TestBarrierOrdersEverything(t *testing.T) {
	f := newFixture(t)
	a, b, c := f.buffer(t, 16), f.buffer(t, 16), f.buffer(t, 16)
	cb := f.newBuffer(t)
	mustOK(t, cb.Begin())

	mustOK(t, cb.FillBuffer(driver.Direct(a, 0, 16), []byte{1})) // 0
	mustOK(t, cb.FillBuffer(driver.Direct(b, 0, 16), []byte{2})) // 1
	mustOK(t, cb.ExecutionBarrier(command.Barrier{}))            // 2: join
	mustOK(t, cb.FillBuffer(driver.Direct(c, 0, 16), []byte{3})) // 3
	mustOK(t, cb.ExecutionBarrier(command.Barrier{}))            // single node, no join
	mustOK(t, cb.ExecutionBarrier(command.Barrier{}))            // empty segment, no-op
	mustOK(t, cb.FillBuffer(driver.Direct(a, 0, 16), []byte{4})) // 4
	mustOK(t, cb.End())

	if cb.NodeCount() != 5 {
		t.Fatalf("NodeCount() = %d, want 5", cb.NodeCount())
	}
	join, _ := cb.Node(2)
	if join.Kind != driver.NodeEmpty {
		t.Errorf("node 2 kind = %s, want Empty", join.Kind)
	}
	wantDeps(t, cb, 2, 0, 1)
	wantDeps(t, cb, 3, 2)
	wantDeps(t, cb, 4, 3)

	// The driver graph carries the same edges.
	g, ok := cb.DriverGraph()
	if !ok {
		t.Fatal("DriverGraph unavailable")
	}
	n3, _ := cb.DriverNode(3)
	n2, _ := cb.DriverNode(2)
	deps, err := f.drv.DependenciesOf(g, n3)
	if err != nil || len(deps) != 1 || deps[0] != n2 {
		t.Errorf("driver deps of node 3 = %v, %v; want [%d]", deps, err, n2)
	}
}

func TestEdgesPointBackwards(t *testing.T) {
	f := newFixture(t)
	a := f.buffer(t, 64)
	cb := f.newBuffer(t)
	mustOK(t, cb.Begin())
	for i := range 10 {
		mustOK(t, cb.FillBuffer(driver.Direct(a, uint64(i%4)*8, 8), []byte{byte(i)}))
		if i%3 == 2 {
			mustOK(t, cb.ExecutionBarrier(command.Barrier{}))
		}
	}
	for id := range cb.NodeCount() {
		deps, _ := cb.Dependencies(NodeID(id))
		for _, d := range deps {
			if d >= NodeID(id) {
				t.Errorf("node %d depends on later node %d", id, d)
			}
		}
	}
}

func TestSignalAndWaitEvents(t *testing.T) {
	f := newFixture(t)
	pool, err := event.NewPool(f.drv, 4, nil)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	evs, err := pool.Acquire(3)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	a, b := f.buffer(t, 16), f.buffer(t, 16)

	cb := f.newBuffer(t)
	mustOK(t, cb.Begin())
	mustOK(t, cb.SignalEvent(evs[0], command.StageAll))          // 0: no deps
	mustOK(t, cb.FillBuffer(driver.Direct(a, 0, 16), []byte{1})) // 1
	mustOK(t, cb.FillBuffer(driver.Direct(b, 0, 16), []byte{2})) // 2
	mustOK(t, cb.SignalEvent(evs[0], command.StageTransfer))     // 3: after 1 and 2
	mustOK(t, cb.WaitEvents([]command.Event{evs[1], evs[2]}))   // 4 join(0..3), 5, 6 waits, 7 join
	mustOK(t, cb.FillBuffer(driver.Direct(a, 0, 16), []byte{3})) // 8

	wantDeps(t, cb, 0)
	wantDeps(t, cb, 3, 0, 1, 2)
	wantDeps(t, cb, 4, 0, 1, 2, 3)
	wantDeps(t, cb, 5, 4)
	wantDeps(t, cb, 6, 4)
	wantDeps(t, cb, 7, 5, 6)
	wantDeps(t, cb, 8, 7)

	if n, _ := cb.Node(5); n.Kind != driver.NodeEventWait || n.Event != evs[1].Handle() {
		t.Errorf("node 5 = %+v", n)
	}

	// Events stay referenced by the buffer.
	if evs[0].RefCount() != 3 || evs[1].RefCount() != 2 {
		t.Errorf("ref counts = %d, %d", evs[0].RefCount(), evs[1].RefCount())
	}
	cb.Destroy()
	for i, ev := range evs {
		if ev.RefCount() != 1 {
			t.Errorf("event %d RefCount after Destroy = %d, want 1", i, ev.RefCount())
		}
		ev.Release()
	}
	pool.Free()
}

func TestCategoryEnforcement(t *testing.T) {
	f := newFixture(t)
	buf := f.buffer(t, 16)
	k := f.drv.RegisterKernel("noop", func(cpu.Invocation) error { return nil })

	transfer := f.newBuffer(t, withCategories(command.CategoryTransfer))
	mustOK(t, transfer.Begin())
	if err := transfer.Dispatch(k, [3]uint32{1, 1, 1}, nil, nil); !errors.Is(err, ErrCategoryNotAllowed) {
		t.Errorf("Dispatch on transfer buffer error = %v, want ErrCategoryNotAllowed", err)
	}

	dispatch := f.newBuffer(t, withCategories(command.CategoryDispatch))
	mustOK(t, dispatch.Begin())
	if err := dispatch.CopyBuffer(driver.Direct(buf, 0, 4), driver.Direct(buf, 4, 4)); !errors.Is(err, ErrCategoryNotAllowed) {
		t.Errorf("CopyBuffer on dispatch buffer error = %v, want ErrCategoryNotAllowed", err)
	}

	unvalidated := f.newBuffer(t, withCategories(command.CategoryTransfer), withMode(command.ModeUnvalidated))
	mustOK(t, unvalidated.Begin())
	if err := unvalidated.Dispatch(k, [3]uint32{1, 1, 1}, nil, nil); err != nil {
		t.Errorf("Dispatch on unvalidated buffer: %v", err)
	}
	if err := unvalidated.FillBuffer(driver.Direct(buf, 1, 3), []byte{1, 2}); err != nil {
		t.Errorf("misaligned fill on unvalidated buffer: %v", err)
	}
}

func TestRecordTimeValidation(t *testing.T) {
	f := newFixture(t)
	buf := f.buffer(t, 16)
	cb := f.newBuffer(t)
	mustOK(t, cb.Begin())

	if err := cb.FillBuffer(driver.Direct(buf, 0, 16), []byte{1, 2, 3}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("3-byte pattern error = %v", err)
	}
	if err := cb.FillBuffer(driver.Direct(buf, 2, 8), []byte{1, 2, 3, 4}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("misaligned fill error = %v", err)
	}
	if err := cb.Dispatch(0, [3]uint32{1, 1, 1}, nil, nil); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("nil kernel error = %v", err)
	}
	if err := cb.SignalEvent(nil, command.StageAll); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("nil event error = %v", err)
	}
	if cb.NodeCount() != 0 {
		t.Errorf("rejected commands recorded %d nodes", cb.NodeCount())
	}
}

func TestUpdateCopiesSourceAtRecordTime(t *testing.T) {
	f := newFixture(t)
	buf := f.buffer(t, 4)
	cb := f.newBuffer(t)
	mustOK(t, cb.Begin())

	src := []byte{1, 2, 3, 4}
	mustOK(t, cb.UpdateBuffer(src, driver.Direct(buf, 0, 4)))
	copy(src, []byte{0, 0, 0, 0})
	mustOK(t, cb.End())

	h, _ := cb.Handle()
	mustOK(t, f.drv.LaunchGraph(h, nil))
	got, _ := f.drv.ReadBuffer(buf, 0, 4)
	if !bytes.Equal(got, []byte{1, 2, 3, 4}) {
		t.Errorf("buffer = %v, want the bytes captured at record time", got)
	}
}

func TestReplayWithBindingTables(t *testing.T) {
	f := newFixture(t)
	scale := f.drv.RegisterKernel("scale", func(inv cpu.Invocation) error {
		b := inv.Buffers[0]
		for i := 0; i+4 <= len(b); i += 4 {
			binary.LittleEndian.PutUint32(b[i:], binary.LittleEndian.Uint32(b[i:])*inv.Constants[0])
		}
		return nil
	})

	cb := f.newBuffer(t)
	mustOK(t, cb.Begin())
	mustOK(t, cb.FillBuffer(driver.Indirect(0, 0, driver.WholeBuffer), []byte{5, 0, 0, 0}))
	mustOK(t, cb.ExecutionBarrier(command.Barrier{SourceStage: command.StageTransfer, TargetStage: command.StageDispatch}))
	mustOK(t, cb.Dispatch(scale, [3]uint32{1, 1, 1}, []uint32{3}, []command.BufferRef{driver.Indirect(0, 0, driver.WholeBuffer)}))
	mustOK(t, cb.End())
	h, _ := cb.Handle()

	x, y := f.buffer(t, 8), f.buffer(t, 16)
	for _, out := range []driver.BufferHandle{x, y, x} {
		mustOK(t, f.drv.LaunchGraph(h, []driver.BufferHandle{out}))
	}
	for _, out := range []driver.BufferHandle{x, y} {
		got, _ := f.drv.ReadBuffer(out, 0, 8)
		if v := binary.LittleEndian.Uint32(got); v != 15 {
			t.Errorf("buffer %d word 0 = %d, want 15", out, v)
		}
	}
}

func TestCompileFailureLeavesInvalid(t *testing.T) {
	f := newFixture(t)

	t.Run("binding slot beyond capacity", func(t *testing.T) {
		cb := f.newBuffer(t)
		mustOK(t, cb.Begin())
		mustOK(t, cb.FillBuffer(driver.Indirect(9, 0, 4), []byte{1}))
		if err := cb.End(); !errors.Is(err, ErrCompile) {
			t.Fatalf("End() error = %v, want ErrCompile", err)
		}
		if cb.State() != StateInvalid {
			t.Errorf("state = %s, want Invalid", cb.State())
		}
		if _, err := cb.Handle(); !errors.Is(err, ErrNotExecutable) {
			t.Errorf("Handle() error = %v, want ErrNotExecutable", err)
		}
		if err := cb.Reset(); !errors.Is(err, ErrInvalidState) {
			t.Errorf("Reset() error = %v, want ErrInvalidState", err)
		}
		if err := cb.Begin(); !errors.Is(err, ErrInvalidState) {
			t.Errorf("Begin() error = %v, want ErrInvalidState", err)
		}
	})

	t.Run("driver rejects graph", func(t *testing.T) {
		cb := f.newBuffer(t)
		mustOK(t, cb.Begin())
		mustOK(t, cb.CopyBuffer(driver.Direct(4242, 0, 4), driver.Direct(4243, 0, 4)))
		err := cb.End()
		if !errors.Is(err, ErrCompile) || !errors.Is(err, driver.ErrInvalidGraph) {
			t.Fatalf("End() error = %v, want ErrCompile wrapping ErrInvalidGraph", err)
		}
		if cb.State() != StateInvalid {
			t.Errorf("state = %s, want Invalid", cb.State())
		}
		if _, ok := cb.DriverGraph(); ok {
			t.Error("partial driver graph still reported")
		}
	})
}

func TestResetReleasesResources(t *testing.T) {
	f := newFixture(t)
	buf := f.buffer(t, 1024)
	cb := f.newBuffer(t)

	for round := range 3 {
		mustOK(t, cb.Begin())
		mustOK(t, cb.UpdateBuffer(bytes.Repeat([]byte{byte(round)}, 128), driver.Direct(buf, 0, 128)))
		mustOK(t, cb.End())
		if f.pool.Stats().Acquired == 0 {
			t.Fatal("payload did not use the block pool")
		}
		mustOK(t, cb.Reset())
		if cb.State() != StateInitial || cb.NodeCount() != 0 {
			t.Fatalf("after Reset: state %s, %d nodes", cb.State(), cb.NodeCount())
		}
		if s := f.pool.Stats(); s.Acquired != 0 {
			t.Fatalf("blocks still acquired after Reset: %+v", s)
		}
	}
	if st := f.drv.Stats(); st.LiveExecs != 0 || st.ExecsInstantiated != 3 {
		t.Errorf("driver stats = %+v", st)
	}
}

func TestDebugGroupsLabelNodes(t *testing.T) {
	f := newFixture(t)
	buf := f.buffer(t, 16)
	cb := f.newBuffer(t)
	mustOK(t, cb.Begin())

	mustOK(t, cb.BeginDebugGroup("frame"))
	mustOK(t, cb.BeginDebugGroup("clear"))
	mustOK(t, cb.FillBuffer(driver.Direct(buf, 0, 16), []byte{0}))
	mustOK(t, cb.EndDebugGroup())
	if err := cb.End(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("End with open group error = %v, want ErrInvalidState", err)
	}
	mustOK(t, cb.EndDebugGroup())
	if err := cb.EndDebugGroup(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("unbalanced EndDebugGroup error = %v", err)
	}
	mustOK(t, cb.FillBuffer(driver.Direct(buf, 0, 16), []byte{1}))
	mustOK(t, cb.End())

	n0, _ := cb.Node(0)
	n1, _ := cb.Node(1)
	if n0.Label != "frame/clear" || n1.Label != "" {
		t.Errorf("labels = %q, %q", n0.Label, n1.Label)
	}
}

type notGraph struct{ command.CommandBuffer }

func TestIsGraphCommandBuffer(t *testing.T) {
	f := newFixture(t)
	cb := f.newBuffer(t)
	if !IsGraphCommandBuffer(cb) {
		t.Error("IsGraphCommandBuffer(graph) = false")
	}
	if IsGraphCommandBuffer(notGraph{}) {
		t.Error("IsGraphCommandBuffer(other) = true")
	}
	if IsGraphCommandBuffer(nil) {
		t.Error("IsGraphCommandBuffer(nil) = true")
	}
	if cb.Kind() != command.KindGraph || cb.ID() == "" {
		t.Errorf("Kind() = %s, ID() = %q", cb.Kind(), cb.ID())
	}
}

func TestDestroyReturnsHeader(t *testing.T) {
	f := newFixture(t)
	before := f.alloc.Used()
	cb, err := New(testDevice{}, f.drv, 0, 0, command.CategoryAny, command.QueueAffinityAny, 0, f.pool, f.alloc)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if f.alloc.Used() <= before {
		t.Fatal("header not allocated from the host allocator")
	}
	cb.Destroy()
	if f.alloc.Used() != before {
		t.Errorf("Used() after Destroy = %d, want %d", f.alloc.Used(), before)
	}
}

func TestSlotMayAliasDirectBuffer(t *testing.T) {
	f := newFixture(t)
	a := f.buffer(t, 16)
	cb := f.newBuffer(t)
	mustOK(t, cb.Begin())

	mustOK(t, cb.FillBuffer(driver.Direct(a, 0, 8), []byte{1}))   // 0
	mustOK(t, cb.FillBuffer(driver.Indirect(0, 0, 8), []byte{2})) // 1: slot 0 may be a
	mustOK(t, cb.FillBuffer(driver.Indirect(1, 8, 8), []byte{3})) // 2: disjoint range
	mustOK(t, cb.FillBuffer(driver.Indirect(0, 8, 8), []byte{4})) // 3: slots 0 and 1 may bind the same buffer

	wantDeps(t, cb, 1, 0)
	wantDeps(t, cb, 2)
	wantDeps(t, cb, 3, 2)
}
