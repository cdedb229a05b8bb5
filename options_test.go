// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpugraph

import (
	"errors"
	"testing"

	"github.com/gogpu/gpugraph/driver/cpu"
	"github.com/gogpu/gpugraph/memory"
)

func TestDefaultDeviceOptions(t *testing.T) {
	o := defaultDeviceOptions()
	if o.eventPoolCapacity != DefaultEventPoolCapacity {
		t.Errorf("eventPoolCapacity = %d, want %d", o.eventPoolCapacity, DefaultEventPoolCapacity)
	}
	if o.blockSize != memory.DefaultBlockSize {
		t.Errorf("blockSize = %d, want %d", o.blockSize, memory.DefaultBlockSize)
	}
	if o.alloc != nil || o.ctx != 0 {
		t.Errorf("unexpected defaults: %+v", o)
	}
}

func TestDeviceOptionsApplied(t *testing.T) {
	budget := memory.NewBudgetAllocator(nil, 1<<20)
	dev, _ := newTestDevice(t,
		WithEventPoolCapacity(5),
		WithBlockSize(4096),
		WithHostAllocator(budget),
		WithContext(7),
	)
	defer dev.Close()

	if got := dev.EventPool().Capacity(); got != 5 {
		t.Errorf("event pool capacity = %d, want 5", got)
	}
	if got := dev.BlockPool().BlockSize(); got != 4096 {
		t.Errorf("block size = %d, want 4096", got)
	}
	if dev.HostAllocator() != memory.HostAllocator(budget) {
		t.Error("host allocator option ignored")
	}
	if dev.ctx != 7 {
		t.Errorf("context = %d, want 7", dev.ctx)
	}
	if budget.Used() == 0 {
		t.Error("event pool bookkeeping did not use the configured allocator")
	}
}

func TestInvalidDeviceOptions(t *testing.T) {
	drv := cpu.New(cpu.DefaultConfig())
	if _, err := NewDevice("x", drv, WithBlockSize(0)); !errors.Is(err, memory.ErrInvalidBlockSize) {
		t.Errorf("zero block size error = %v, want ErrInvalidBlockSize", err)
	}
	if _, err := NewDevice("x", drv, WithEventPoolCapacity(-1)); err == nil {
		t.Error("negative event pool capacity accepted")
	}
}
