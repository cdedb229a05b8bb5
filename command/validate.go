// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package command

import (
	"errors"
	"fmt"

	"github.com/gogpu/gpugraph/driver"
)

// ErrInvalidArgument is returned when a command's arguments are malformed.
var ErrInvalidArgument = errors.New("command: invalid argument")

// ValidateFill checks the arguments of a fill command: the pattern is 1, 2
// or 4 bytes and the target range is aligned to the pattern length.
func ValidateFill(target BufferRef, pattern []byte) error {
	n := uint64(len(pattern))
	switch n {
	case 1, 2, 4:
	default:
		return fmt.Errorf("%w: fill pattern must be 1, 2 or 4 bytes, got %d", ErrInvalidArgument, n)
	}
	if target.Offset%n != 0 {
		return fmt.Errorf("%w: fill offset %d not aligned to pattern length %d", ErrInvalidArgument, target.Offset, n)
	}
	if target.Length != driver.WholeBuffer && target.Length%n != 0 {
		return fmt.Errorf("%w: fill length %d not a multiple of pattern length %d", ErrInvalidArgument, target.Length, n)
	}
	return nil
}

// ValidateUpdate checks the arguments of an update command.
func ValidateUpdate(source []byte, target BufferRef) error {
	if len(source) == 0 {
		return fmt.Errorf("%w: empty update", ErrInvalidArgument)
	}
	if target.Length != driver.WholeBuffer && target.Length != uint64(len(source)) {
		return fmt.Errorf("%w: update of %d bytes into %v", ErrInvalidArgument, len(source), target)
	}
	return nil
}

// ValidateCopy checks the arguments of a copy command.
func ValidateCopy(source, target BufferRef) error {
	if source.Length != driver.WholeBuffer && target.Length != driver.WholeBuffer && source.Length != target.Length {
		return fmt.Errorf("%w: copy from %v into %v", ErrInvalidArgument, source, target)
	}
	return nil
}

// ValidateDispatch checks the arguments of a dispatch command.
func ValidateDispatch(kernel driver.KernelHandle, workgroups [3]uint32) error {
	if kernel == 0 {
		return fmt.Errorf("%w: nil kernel", ErrInvalidArgument)
	}
	for i, n := range workgroups {
		if n == 0 {
			return fmt.Errorf("%w: workgroup count %d is zero in dimension %d", ErrInvalidArgument, n, i)
		}
	}
	return nil
}
