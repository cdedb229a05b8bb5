// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package main

import "testing"

func TestRunOnCPU(t *testing.T) {
	drv, kernel, closeBackend, err := openBackend("cpu")
	if err != nil {
		t.Fatalf("openBackend: %v", err)
	}
	defer closeBackend()

	sum, stats, err := run(drv, kernel, 4, 2, 64)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	// Every target holds 2*i for i in [0, 64).
	if want := uint64(4 * 2 * (63 * 64 / 2)); sum != want {
		t.Errorf("checksum = %d, want %d", sum, want)
	}
	if stats.Launches != 4 {
		t.Errorf("Launches = %d, want 4", stats.Launches)
	}
	if stats.Events.Created != 1 {
		t.Errorf("events created = %d, want 1", stats.Events.Created)
	}
}

func TestRunWithoutKernel(t *testing.T) {
	drv, _, closeBackend, err := openBackend("cpu")
	if err != nil {
		t.Fatalf("openBackend: %v", err)
	}
	defer closeBackend()

	sum, _, err := run(drv, 0, 3, 3, 16)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if want := uint64(3 * (15 * 16 / 2)); sum != want {
		t.Errorf("checksum = %d, want %d", sum, want)
	}
}
