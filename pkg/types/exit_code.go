// SPDX-License-Identifier: MPL-2.0

package types

import (
	"errors"
	"fmt"
	"strconv"
)

const (
	// ExitCodeSignaled is reported for a process terminated by a signal,
	// where the OS provides no exit status.
	ExitCodeSignaled ExitCode = -1

	// ExitCodeGenericFailure is what the backend exits with when it cannot
	// start: the port is already bound, the working directory is wrong, or
	// the process was not launched inside a git repository.
	ExitCodeGenericFailure ExitCode = 1
	// ExitCodeDependencyFailure is what the backend exits with when a
	// required library cannot be imported.
	ExitCodeDependencyFailure ExitCode = 2
)

// ErrInvalidExitCode is the sentinel error wrapped by InvalidExitCodeError.
var ErrInvalidExitCode = errors.New("invalid exit code")

type (
	// ExitCode is a process exit status. ExitCodeSignaled (-1) marks a
	// signal-terminated process; other valid values are 0-255.
	ExitCode int

	// InvalidExitCodeError is returned for values outside -1..255.
	InvalidExitCodeError struct {
		Value ExitCode
	}
)

// Error implements the error interface.
func (e *InvalidExitCodeError) Error() string {
	return fmt.Sprintf("invalid exit code %d (must be -1 or in range 0-255)", e.Value)
}

// Unwrap returns ErrInvalidExitCode.
func (e *InvalidExitCodeError) Unwrap() error { return ErrInvalidExitCode }

// Validate returns an error if the code is outside -1..255.
func (c ExitCode) Validate() error {
	if c < ExitCodeSignaled || c > 255 {
		return &InvalidExitCodeError{Value: c}
	}
	return nil
}

// IsSuccess reports a zero exit.
func (c ExitCode) IsSuccess() bool { return c == 0 }

// IsSignaled reports a signal-terminated process.
func (c ExitCode) IsSignaled() bool { return c == ExitCodeSignaled }

func (c ExitCode) String() string {
	if c.IsSignaled() {
		return "signal"
	}
	return strconv.Itoa(int(c))
}
