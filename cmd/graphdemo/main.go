// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Command graphdemo records a small execution graph once and replays it
// concurrently against many target buffers.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gogpu/gpugraph"
	"github.com/gogpu/gpugraph/command"
	"github.com/gogpu/gpugraph/driver"
	"github.com/gogpu/gpugraph/driver/cpu"
)

// backend is a driver that can also move bytes between host and device.
type backend interface {
	driver.Symbols
	CreateBuffer(size uint64) (driver.BufferHandle, error)
	WriteBuffer(h driver.BufferHandle, offset uint64, data []byte) error
	ReadBuffer(h driver.BufferHandle, offset, length uint64) ([]byte, error)
}

func main() {
	var (
		backendName = flag.String("backend", "cpu", "driver: cpu, or a HAL backend (software, noop)")
		launches    = flag.Int("launches", 16, "number of replays")
		parallel    = flag.Int("parallel", 4, "concurrent replays")
		words       = flag.Int("words", 1024, "32-bit words per buffer")
		verbose     = flag.Bool("v", false, "debug logging")
		lang        = flag.String("lang", "en", "language for the summary")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	gpugraph.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	drv, kernel, closeBackend, err := openBackend(*backendName)
	if err != nil {
		log.Fatalf("open backend %q: %v", *backendName, err)
	}
	defer closeBackend()

	sum, stats, err := run(drv, kernel, *launches, *parallel, *words)
	if err != nil {
		log.Fatalf("graphdemo: %v", err)
	}

	p := message.NewPrinter(language.Make(*lang))
	p.Printf("backend %s: %d launches of %d words\n", *backendName, stats.Launches, *words)
	p.Printf("checksum %d\n", sum)
	p.Printf("events: %d created, %d pooled, peak %d outstanding\n",
		stats.Events.Created, stats.Events.Available, stats.Events.PeakOutstanding)
	p.Printf("payload blocks: %d of %d bytes\n", stats.Blocks.Total, stats.Blocks.BlockSize)
}

// openBackend returns the driver, an optional doubling kernel (zero when
// the backend cannot run it) and a cleanup function.
func openBackend(name string) (backend, driver.KernelHandle, func(), error) {
	if name == "cpu" {
		d := cpu.New(cpu.DefaultConfig())
		k := d.RegisterKernel("double", func(inv cpu.Invocation) error {
			buf := inv.Buffers[0]
			for i := 0; i+4 <= len(buf); i += 4 {
				binary.LittleEndian.PutUint32(buf[i:], 2*binary.LittleEndian.Uint32(buf[i:]))
			}
			return nil
		})
		return d, k, func() {}, nil
	}
	return openHAL(name)
}

// run records the demo graph and replays it launches times.
func run(drv backend, kernel driver.KernelHandle, launches, parallel, words int) (uint64, gpugraph.DeviceStats, error) {
	var stats gpugraph.DeviceStats
	size := uint64(words) * 4 //nolint:gosec // flag value

	dev, err := gpugraph.NewDevice("graphdemo", drv)
	if err != nil {
		return 0, stats, err
	}
	defer func() {
		if err := dev.Close(); err != nil {
			log.Printf("close device: %v", err)
		}
	}()

	seed := make([]byte, size)
	for i := range words {
		binary.LittleEndian.PutUint32(seed[i*4:], uint32(i)) //nolint:gosec // bounded by words
	}
	src, err := drv.CreateBuffer(size)
	if err != nil {
		return 0, stats, err
	}
	if err := drv.WriteBuffer(src, 0, seed); err != nil {
		return 0, stats, err
	}

	evs, err := dev.AcquireEvents(1)
	if err != nil {
		return 0, stats, err
	}
	defer evs[0].Release()

	cb, err := dev.CreateGraphCommandBuffer(0, command.CategoryAny, command.QueueAffinityAny, 1)
	if err != nil {
		return 0, stats, err
	}
	if err := record(cb, src, kernel, evs[0]); err != nil {
		return 0, stats, err
	}

	targets := make([]driver.BufferHandle, launches)
	for i := range targets {
		if targets[i], err = drv.CreateBuffer(size); err != nil {
			return 0, stats, err
		}
	}

	var g errgroup.Group
	g.SetLimit(parallel)
	for _, t := range targets {
		g.Go(func() error { return dev.Launch(cb, []driver.BufferHandle{t}) })
	}
	if err := g.Wait(); err != nil {
		return 0, stats, err
	}

	var sum uint64
	for _, t := range targets {
		out, err := drv.ReadBuffer(t, 0, size)
		if err != nil {
			return 0, stats, err
		}
		for i := 0; i+4 <= len(out); i += 4 {
			sum += uint64(binary.LittleEndian.Uint32(out[i:]))
		}
	}
	return sum, dev.Stats(), nil
}

// record builds the demo graph: clear the target, copy the seed into it,
// double it in place when a kernel is available, then signal ev.
func record(cb command.CommandBuffer, src driver.BufferHandle, kernel driver.KernelHandle, ev command.Event) error {
	target := driver.Indirect(0, 0, driver.WholeBuffer)
	steps := []func() error{
		cb.Begin,
		func() error { return cb.BeginDebugGroup("prepare") },
		func() error { return cb.FillBuffer(target, []byte{0}) },
		func() error { return cb.CopyBuffer(driver.Direct(src, 0, driver.WholeBuffer), target) },
		cb.EndDebugGroup,
		func() error {
			return cb.ExecutionBarrier(command.Barrier{
				SourceStage: command.StageTransfer,
				TargetStage: command.StageDispatch,
			})
		},
		func() error {
			if kernel == 0 {
				return nil
			}
			return cb.Dispatch(kernel, [3]uint32{1, 1, 1}, nil, []command.BufferRef{target})
		},
		func() error { return cb.SignalEvent(ev, command.StageAll) },
		cb.End,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return fmt.Errorf("record: %w", err)
		}
	}
	return nil
}
