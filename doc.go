// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package gpugraph provides GPU execution support for a hardware
// abstraction layer: pooled synchronization events and command buffers that
// record GPU work into replayable execution graphs.
//
// # Overview
//
// A Device binds a driver (see package driver) together with the host-side
// resources every command buffer shares: an event pool, a block pool for
// transient command payloads and a host allocator for bookkeeping.
//
// # Quick Start
//
//	import (
//	    "github.com/gogpu/gpugraph"
//	    "github.com/gogpu/gpugraph/command"
//	    "github.com/gogpu/gpugraph/driver"
//	    "github.com/gogpu/gpugraph/driver/cpu"
//	)
//
//	drv := cpu.New(cpu.DefaultConfig())
//	dev, err := gpugraph.NewDevice("cpu", drv)
//	defer dev.Close()
//
//	cb, err := dev.CreateGraphCommandBuffer(0, command.CategoryAny, command.QueueAffinityAny, 1)
//	cb.Begin()
//	cb.FillBuffer(driver.Indirect(0, 0, driver.WholeBuffer), []byte{0})
//	cb.End()
//
//	// Replay the same graph against different buffers.
//	dev.Launch(cb, []driver.BufferHandle{bufA})
//	dev.Launch(cb, []driver.BufferHandle{bufB})
//
// # Architecture
//
// The module is organized into:
//   - event: reference-counted events and the recycling event pool
//   - graph: the graph command buffer (records, compiles, exposes executables)
//   - stream: the immediate command buffer variant
//   - command: the generic command-buffer interface both variants implement
//   - memory: host allocators, the block pool and the payload arena
//   - driver: the symbol binding, with driver/cpu and driver/wgpu bindings
//
// # Logging
//
// gpugraph is silent by default. See SetLogger.
package gpugraph
