// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

package wgpu

import (
	"errors"
	"fmt"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// ErrNoHALAccess is returned when a device provider does not expose its HAL
// device and queue.
var ErrNoHALAccess = errors.New("wgpu: provider does not expose HAL device and queue")

// halProvider is implemented by providers that expose their HAL objects.
type halProvider interface {
	HalDevice() any
	HalQueue() any
}

// FromProvider creates a driver sharing the GPU device of a host
// application. The provider must implement HalDevice() any and
// HalQueue() any returning hal.Device and hal.Queue.
func FromProvider(provider gpucontext.DeviceProvider, cfg Config) (*Driver, error) {
	if provider == nil {
		return nil, ErrNoHALAccess
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrNoHALAccess, provider)
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok {
		return nil, fmt.Errorf("%w: HalDevice returned %T", ErrNoHALAccess, hp.HalDevice())
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok {
		return nil, fmt.Errorf("%w: HalQueue returned %T", ErrNoHALAccess, hp.HalQueue())
	}
	return New(device, queue, cfg)
}

// Open creates a driver on the first adapter of backend. The driver owns
// the device: CloseDevice releases it together with the driver.
func Open(backend hal.Backend, cfg Config) (*Driver, error) {
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create instance: %w", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, fmt.Errorf("wgpu: no adapters for backend %v", backend.Variant())
	}

	selected := &adapters[0]
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	open, err := selected.Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("wgpu: open %s: %w", selected.Info.Name, err)
	}

	d, err := New(open.Device, open.Queue, cfg)
	if err != nil {
		open.Device.Destroy()
		instance.Destroy()
		return nil, err
	}
	d.instance = instance
	d.log().Info("wgpu: device opened", "adapter", selected.Info.Name, "backend", backend.Variant())
	return d, nil
}

// CloseDevice releases the driver and, for drivers created by Open, the
// HAL device and instance.
func (d *Driver) CloseDevice() {
	d.Close()
	if d.instance == nil {
		return
	}
	d.device.Destroy()
	d.instance.Destroy()
	d.instance = nil
}
