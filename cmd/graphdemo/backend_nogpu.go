// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build nogpu

package main

import (
	"fmt"

	"github.com/gogpu/gpugraph/driver"
)

func openHAL(name string) (backend, driver.KernelHandle, func(), error) {
	return nil, 0, nil, fmt.Errorf("backend %q needs a build without the nogpu tag", name)
}
