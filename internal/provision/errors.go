// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"errors"
	"fmt"
)

var (
	// ErrProvisionFailed is wrapped by every ProvisionError.
	ErrProvisionFailed = errors.New("runtime provisioning failed")
	// ErrDownloadStalled is the cancellation cause when no bytes arrive
	// within the inactivity timeout.
	ErrDownloadStalled = errors.New("download stalled")
	// ErrTooManyRedirects is returned when the server redirects more than once.
	ErrTooManyRedirects = errors.New("too many redirects")
	// ErrUnsafeArchivePath is returned for archive entries escaping the
	// extraction directory.
	ErrUnsafeArchivePath = errors.New("unsafe path in archive")
)

// ProvisionError reports the stage a provisioning run failed in.
//
//nolint:revive // ProvisionError reads better at call sites than provision.Error
type ProvisionError struct {
	Stage Stage
	Err   error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("provision runtime (%s): %v", e.Stage, e.Err)
}

// Unwrap exposes both the sentinel and the cause to errors.Is/As.
func (e *ProvisionError) Unwrap() []error {
	return []error{ErrProvisionFailed, e.Err}
}
