// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

package main

import (
	"fmt"
	"log/slog"

	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
	"github.com/gogpu/wgpu/hal/software"

	"github.com/gogpu/gpugraph"
	"github.com/gogpu/gpugraph/driver"
	"github.com/gogpu/gpugraph/driver/wgpu"
)

const doubleWGSL = `
@group(0) @binding(0) var<storage, read_write> data: array<u32>;

@compute @workgroup_size(64)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    data[gid.x] = data[gid.x] * 2u;
}
`

func openHAL(name string) (backend, driver.KernelHandle, func(), error) {
	var api hal.Backend
	switch name {
	case "software":
		api = software.API{}
	case "noop":
		api = noop.API{}
	default:
		return nil, 0, nil, fmt.Errorf("unknown backend %q", name)
	}

	d, err := wgpu.Open(api, wgpu.DefaultConfig())
	if err != nil {
		return nil, 0, nil, err
	}
	k, err := d.LoadKernel("double", doubleWGSL, "main", 1)
	if err != nil {
		gpugraph.Logger().Warn("graphdemo: running without the doubling kernel", slog.Any("err", err))
		k = 0
	}
	return d, k, d.CloseDevice, nil
}
