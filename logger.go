// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpugraph

import (
	"log/slog"
	"sync"

	"github.com/gogpu/gpugraph/internal/logging"
)

// SetLogger configures the logger for gpugraph and all its sub-packages.
// By default, gpugraph produces no log output. Call SetLogger to enable
// logging.
//
// SetLogger is safe for concurrent use: it stores the new logger atomically.
// Pass nil to disable logging (restore default silent behavior).
//
// Log levels used by gpugraph:
//   - [slog.LevelDebug]: internal diagnostics (event acquisition, recording)
//   - [slog.LevelInfo]: important lifecycle events (device created, graph compiled)
//   - [slog.LevelWarn]: non-fatal issues (driver destroy failures on release)
//
// Example:
//
//	// Enable debug-level logging for full diagnostics:
//	gpugraph.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	logging.Set(l)
	l = logging.Logger()

	devicesMu.RLock()
	defer devicesMu.RUnlock()
	for d := range devices {
		propagateLogger(d.symbols, l)
	}
}

// Logger returns the current logger used by gpugraph.
//
// Logger is safe for concurrent use.
func Logger() *slog.Logger {
	return logging.Logger()
}

// loggerSetter is implemented by drivers that accept a logger.
type loggerSetter interface {
	SetLogger(*slog.Logger)
}

// propagateLogger passes the logger to a driver if it implements
// loggerSetter. Called from both SetLogger and NewDevice so a driver always
// has the current logger.
func propagateLogger(symbols any, l *slog.Logger) {
	if ls, ok := symbols.(loggerSetter); ok {
		ls.SetLogger(l)
	}
}

// devices tracks open devices for logger propagation.
var (
	devicesMu sync.RWMutex
	devices   = make(map[*Device]struct{})
)

func registerDevice(d *Device) {
	devicesMu.Lock()
	devices[d] = struct{}{}
	devicesMu.Unlock()
	propagateLogger(d.symbols, logging.Logger())
}

func unregisterDevice(d *Device) {
	devicesMu.Lock()
	delete(devices, d)
	devicesMu.Unlock()
}
