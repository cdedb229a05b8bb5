// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package event

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/gogpu/gpugraph/driver"
	"github.com/gogpu/gpugraph/memory"
)

// mockSymbols is an EventSymbols recording every driver call.
type mockSymbols struct {
	mu        sync.Mutex
	next      driver.EventHandle
	live      map[driver.EventHandle]bool
	created   int
	destroyed int
	failAfter int // fail CreateEvent once created reaches this; 0 never fails
}

func newMockSymbols() *mockSymbols {
	return &mockSymbols{live: make(map[driver.EventHandle]bool)}
}

var errMockCreate = errors.New("mock: out of events")

func (m *mockSymbols) CreateEvent() (driver.EventHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAfter > 0 && m.created >= m.failAfter {
		return 0, errMockCreate
	}
	m.next++
	m.created++
	m.live[m.next] = true
	return m.next, nil
}

func (m *mockSymbols) DestroyEvent(h driver.EventHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.live[h] {
		return driver.ErrInvalidHandle
	}
	delete(m.live, h)
	m.destroyed++
	return nil
}

func (m *mockSymbols) counts() (created, destroyed, live int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.created, m.destroyed, len(m.live)
}

func newTestPool(t *testing.T, sym *mockSymbols, capacity int) *Pool {
	t.Helper()
	p, err := NewPool(sym, capacity, memory.Heap())
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	return p
}

func mustPanic(t *testing.T, want string, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected panic containing %q", want)
		}
		if msg, _ := r.(string); !strings.Contains(msg, want) {
			t.Fatalf("panic = %v, want it to contain %q", r, want)
		}
	}()
	fn()
}

func TestNewPoolIsEmpty(t *testing.T) {
	sym := newMockSymbols()
	p := newTestPool(t, sym, 8)
	if created, _, _ := sym.counts(); created != 0 {
		t.Errorf("NewPool created %d events eagerly", created)
	}
	if p.Capacity() != 8 {
		t.Errorf("Capacity() = %d", p.Capacity())
	}
	p.Free()
}

func TestNewPoolErrors(t *testing.T) {
	if _, err := NewPool(newMockSymbols(), -1, nil); !errors.Is(err, ErrInvalidCapacity) {
		t.Errorf("negative capacity error = %v", err)
	}
	if _, err := NewPool(nil, 4, nil); !errors.Is(err, ErrNilSymbols) {
		t.Errorf("nil symbols error = %v", err)
	}
	budget := memory.NewBudgetAllocator(nil, 8)
	if _, err := NewPool(newMockSymbols(), 64, budget); !errors.Is(err, memory.ErrOutOfMemory) {
		t.Errorf("bookkeeping allocation error = %v, want ErrOutOfMemory", err)
	}
}

func TestAcquireRecyclesWithinCapacity(t *testing.T) {
	sym := newMockSymbols()
	p := newTestPool(t, sym, 4)

	evs, err := p.Acquire(3)
	if err != nil {
		t.Fatalf("Acquire(3): %v", err)
	}
	for _, ev := range evs {
		if ev.RefCount() != 1 {
			t.Errorf("RefCount() = %d, want 1", ev.RefCount())
		}
		ev.Release()
	}
	if s := p.Stats(); s.Available != 3 || s.Outstanding != 0 {
		t.Fatalf("Stats() after release = %+v", s)
	}

	again, err := p.Acquire(3)
	if err != nil {
		t.Fatalf("Acquire(3) again: %v", err)
	}
	if created, _, _ := sym.counts(); created != 3 {
		t.Errorf("driver created %d events, want 3 (all reused)", created)
	}
	// LIFO: the most recently released event comes back first.
	if again[0] != evs[2] {
		t.Errorf("first reacquired event = %d, want %d", again[0].Handle(), evs[2].Handle())
	}
	for _, ev := range again {
		ev.Release()
	}
	p.Free()

	if _, destroyed, live := sym.counts(); destroyed != 3 || live != 0 {
		t.Errorf("after Free destroyed=%d live=%d, want 3 and 0", destroyed, live)
	}
}

func TestReleaseBeyondCapacityDestroys(t *testing.T) {
	sym := newMockSymbols()
	p := newTestPool(t, sym, 2)

	evs, err := p.Acquire(5)
	if err != nil {
		t.Fatalf("Acquire(5): %v", err)
	}
	for _, ev := range evs {
		ev.Release()
	}
	if _, destroyed, _ := sym.counts(); destroyed != 3 {
		t.Errorf("destroyed on release = %d, want 3", destroyed)
	}
	s := p.Stats()
	if s.Available != 2 || s.Created != 5 || s.Destroyed != 3 || s.PeakOutstanding != 5 {
		t.Errorf("Stats() = %+v", s)
	}
	p.Free()
}

func TestZeroCapacityPool(t *testing.T) {
	sym := newMockSymbols()
	p := newTestPool(t, sym, 0)
	evs, err := p.Acquire(2)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	for _, ev := range evs {
		ev.Release()
	}
	if _, destroyed, live := sym.counts(); destroyed != 2 || live != 0 {
		t.Errorf("destroyed=%d live=%d", destroyed, live)
	}
	p.Free()
}

func TestRetainDelaysRecycle(t *testing.T) {
	sym := newMockSymbols()
	p := newTestPool(t, sym, 1)
	evs, _ := p.Acquire(1)
	ev := evs[0]

	ev.Retain()
	ev.Release()
	if s := p.Stats(); s.Outstanding != 1 || s.Available != 0 {
		t.Fatalf("event recycled while still referenced: %+v", s)
	}
	ev.Release()
	if s := p.Stats(); s.Outstanding != 0 || s.Available != 1 {
		t.Fatalf("event not recycled after last release: %+v", s)
	}
	p.Free()
}

func TestDoubleReleasePanics(t *testing.T) {
	sym := newMockSymbols()
	p := newTestPool(t, sym, 1)
	evs, _ := p.Acquire(1)
	evs[0].Release()
	mustPanic(t, "no references", evs[0].Release)
}

func TestRetainAfterRecyclePanics(t *testing.T) {
	sym := newMockSymbols()
	p := newTestPool(t, sym, 1)
	evs, _ := p.Acquire(1)
	stale := evs[0]
	stale.Release()

	mustPanic(t, "no references", stale.Retain)
	if got := stale.RefCount(); got != 0 {
		t.Errorf("RefCount after rejected retain = %d, want 0", got)
	}

	// The pooled event still goes to exactly one new owner.
	again, err := p.Acquire(1)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if again[0] != stale || again[0].RefCount() != 1 {
		t.Errorf("reacquired event refs = %d, want 1", again[0].RefCount())
	}
	again[0].Release()
	p.Free()
}

func TestFreeWithOutstandingPanics(t *testing.T) {
	sym := newMockSymbols()
	p := newTestPool(t, sym, 4)
	evs, _ := p.Acquire(2)
	mustPanic(t, "2 outstanding", p.Free)

	for _, ev := range evs {
		ev.Release()
	}
	p.Free()
	mustPanic(t, "freed twice", p.Free)
}

func TestAcquireFailureUnwinds(t *testing.T) {
	sym := newMockSymbols()
	sym.failAfter = 3
	p := newTestPool(t, sym, 8)

	evs, err := p.Acquire(5)
	if !errors.Is(err, ErrCreateEvent) || !errors.Is(err, errMockCreate) {
		t.Fatalf("Acquire error = %v, want ErrCreateEvent wrapping the driver error", err)
	}
	if evs != nil {
		t.Errorf("Acquire returned %d events on failure", len(evs))
	}
	s := p.Stats()
	if s.Outstanding != 0 || s.Available != 3 {
		t.Errorf("Stats() after failed acquire = %+v, want 0 outstanding and 3 pooled", s)
	}

	// The pooled events satisfy a smaller request without the driver.
	sym.mu.Lock()
	sym.failAfter = 0
	sym.mu.Unlock()
	evs, err = p.Acquire(3)
	if err != nil {
		t.Fatalf("Acquire(3): %v", err)
	}
	if created, _, _ := sym.counts(); created != 3 {
		t.Errorf("created = %d, want 3", created)
	}
	for _, ev := range evs {
		ev.Release()
	}
	p.Free()
}

func TestFreeReturnsBookkeeping(t *testing.T) {
	budget := memory.NewBudgetAllocator(nil, 1<<20)
	p, err := NewPool(newMockSymbols(), 16, budget)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	if budget.Used() == 0 {
		t.Fatal("pool did not reserve bookkeeping memory")
	}
	p.Free()
	if budget.Used() != 0 {
		t.Errorf("Used() after Free = %d, want 0", budget.Used())
	}
}

func TestConcurrentAcquireRelease(t *testing.T) {
	sym := newMockSymbols()
	p := newTestPool(t, sym, 8)

	var g errgroup.Group
	for range 16 {
		g.Go(func() error {
			for range 100 {
				evs, err := p.Acquire(3)
				if err != nil {
					return err
				}
				evs[0].Retain()
				for _, ev := range evs {
					ev.Release()
				}
				evs[0].Release()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("worker: %v", err)
	}

	s := p.Stats()
	if s.Outstanding != 0 {
		t.Errorf("Outstanding = %d, want 0", s.Outstanding)
	}
	if s.Available > s.Capacity {
		t.Errorf("Available %d exceeds capacity %d", s.Available, s.Capacity)
	}
	p.Free()

	created, destroyed, live := sym.counts()
	if live != 0 || created != destroyed {
		t.Errorf("driver created=%d destroyed=%d live=%d", created, destroyed, live)
	}
}
