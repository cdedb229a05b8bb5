// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

package wgpu

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpugraph/driver"
)

// ErrCompileKernel is returned when a kernel's WGSL source does not compile.
var ErrCompileKernel = errors.New("wgpu: kernel compilation failed")

// kernel is a compute pipeline whose bind group 0 holds one storage
// buffer per binding, numbered from 0.
type kernel struct {
	label    string
	bindings int

	module     hal.ShaderModule
	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	pipeline   hal.ComputePipeline
}

// compile returns the SPIR-V for source, reusing earlier compilations.
func (d *Driver) compile(source string) ([]uint32, error) {
	if d.spirv == nil {
		return compileWGSL(source)
	}
	return d.spirv.GetOrCreate(source, func() ([]uint32, error) {
		return compileWGSL(source)
	})
}

// compileWGSL compiles WGSL source to SPIR-V words.
func compileWGSL(source string) ([]uint32, error) {
	spirvBytes, err := naga.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCompileKernel, err)
	}
	if len(spirvBytes)%4 != 0 {
		return nil, fmt.Errorf("%w: SPIR-V of %d bytes is not word aligned", ErrCompileKernel, len(spirvBytes))
	}

	// SPIR-V is little-endian 32-bit words.
	words := make([]uint32, len(spirvBytes)/4)
	for i := range words {
		words[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}
	return words, nil
}

// LoadKernel compiles a WGSL compute shader and registers it as a kernel.
// The shader must declare bindings read-write storage buffers in group 0 at
// bindings 0 through bindings-1; dispatch node bindings map onto them in
// order.
func (d *Driver) LoadKernel(label, wgsl, entryPoint string, bindings int) (driver.KernelHandle, error) {
	if bindings < 0 {
		return 0, fmt.Errorf("wgpu: kernel %q: negative binding count %d", label, bindings)
	}
	spirv, err := d.compile(wgsl)
	if err != nil {
		return 0, fmt.Errorf("kernel %q: %w", label, err)
	}

	k := &kernel{label: label, bindings: bindings}
	if err := k.create(d.device, spirv, entryPoint); err != nil {
		k.destroy(d.device)
		return 0, fmt.Errorf("wgpu: kernel %q: %w", label, err)
	}

	d.mu.Lock()
	h := driver.KernelHandle(d.newID())
	d.kernels[h] = k
	d.mu.Unlock()

	d.log().Debug("wgpu: kernel loaded", "label", label, "bindings", bindings, "spirvWords", len(spirv))
	return h, nil
}

// UnloadKernel releases a kernel. Executables that dispatch it fail to
// launch afterwards.
func (d *Driver) UnloadKernel(h driver.KernelHandle) error {
	d.mu.Lock()
	k, ok := d.kernels[h]
	delete(d.kernels, h)
	d.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: kernel %d", driver.ErrInvalidHandle, h)
	}
	k.destroy(d.device)
	return nil
}

func (k *kernel) create(device hal.Device, spirv []uint32, entryPoint string) error {
	var err error
	k.module, err = device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  k.label,
		Source: hal.ShaderSource{SPIRV: spirv},
	})
	if err != nil {
		return fmt.Errorf("create shader module: %w", err)
	}

	entries := make([]gputypes.BindGroupLayoutEntry, k.bindings)
	for i := range entries {
		entries[i] = gputypes.BindGroupLayoutEntry{
			Binding:    uint32(i), //nolint:gosec // binding count is small
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage},
		}
	}
	k.bindLayout, err = device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   k.label + "_bind_layout",
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("create bind group layout: %w", err)
	}

	k.pipeLayout, err = device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            k.label + "_pipe_layout",
		BindGroupLayouts: []hal.BindGroupLayout{k.bindLayout},
	})
	if err != nil {
		return fmt.Errorf("create pipeline layout: %w", err)
	}

	k.pipeline, err = device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:   k.label + "_pipeline",
		Layout:  k.pipeLayout,
		Compute: hal.ComputeState{Module: k.module, EntryPoint: entryPoint},
	})
	if err != nil {
		return fmt.Errorf("create compute pipeline: %w", err)
	}
	return nil
}

// destroy releases whatever part of the kernel was created, in reverse
// creation order.
func (k *kernel) destroy(device hal.Device) {
	if k.pipeline != nil {
		device.DestroyComputePipeline(k.pipeline)
	}
	if k.pipeLayout != nil {
		device.DestroyPipelineLayout(k.pipeLayout)
	}
	if k.bindLayout != nil {
		device.DestroyBindGroupLayout(k.bindLayout)
	}
	if k.module != nil {
		device.DestroyShaderModule(k.module)
	}
	*k = kernel{label: k.label, bindings: k.bindings}
}

// bindGroup creates the bind group of one dispatch.
func (k *kernel) bindGroup(device hal.Device, ranges []bufferRange) (hal.BindGroup, error) {
	entries := make([]gputypes.BindGroupEntry, len(ranges))
	for i, r := range ranges {
		entries[i] = gputypes.BindGroupEntry{
			Binding: uint32(i), //nolint:gosec // binding count is small
			Resource: gputypes.BufferBinding{
				Buffer: r.buf.buf.NativeHandle(),
				Offset: r.offset,
				Size:   r.size,
			},
		}
	}
	return device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   k.label + "_bind",
		Layout:  k.bindLayout,
		Entries: entries,
	})
}
