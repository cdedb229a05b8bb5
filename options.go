// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpugraph

import (
	"github.com/gogpu/gpugraph/driver"
	"github.com/gogpu/gpugraph/memory"
)

// DefaultEventPoolCapacity is the number of released events a device keeps
// for reuse unless WithEventPoolCapacity says otherwise.
const DefaultEventPoolCapacity = 32

// DeviceOption configures a Device during creation.
//
// Example:
//
//	dev, err := gpugraph.NewDevice("gpu0", drv,
//	    gpugraph.WithEventPoolCapacity(64),
//	    gpugraph.WithBlockSize(64*1024))
type DeviceOption func(*deviceOptions)

// deviceOptions holds optional configuration for Device creation.
type deviceOptions struct {
	eventPoolCapacity int
	blockSize         int
	alloc             memory.HostAllocator
	ctx               driver.ContextHandle
}

// defaultDeviceOptions returns the default device options.
func defaultDeviceOptions() deviceOptions {
	return deviceOptions{
		eventPoolCapacity: DefaultEventPoolCapacity,
		blockSize:         memory.DefaultBlockSize,
		alloc:             nil, // Go heap
		ctx:               0,
	}
}

// WithEventPoolCapacity sets how many released events the device's event
// pool keeps for reuse. Events released beyond the capacity are destroyed.
func WithEventPoolCapacity(n int) DeviceOption {
	return func(o *deviceOptions) {
		o.eventPoolCapacity = n
	}
}

// WithBlockSize sets the size of the blocks command buffers carve their
// transient payloads from.
func WithBlockSize(bytes int) DeviceOption {
	return func(o *deviceOptions) {
		o.blockSize = bytes
	}
}

// WithHostAllocator sets the allocator used for host bookkeeping memory:
// event pool storage, command buffer headers and payload blocks.
//
// Example:
//
//	// Cap host bookkeeping at 16 MiB.
//	budget := memory.NewBudgetAllocator(nil, 16<<20)
//	dev, err := gpugraph.NewDevice("gpu0", drv, gpugraph.WithHostAllocator(budget))
func WithHostAllocator(a memory.HostAllocator) DeviceOption {
	return func(o *deviceOptions) {
		o.alloc = a
	}
}

// WithContext sets the driver context graphs are created in.
func WithContext(ctx driver.ContextHandle) DeviceOption {
	return func(o *deviceOptions) {
		o.ctx = ctx
	}
}
