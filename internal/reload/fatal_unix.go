// SPDX-License-Identifier: MPL-2.0

//go:build !windows

package reload

import (
	"errors"
	"syscall"
)

// isFatal reports inotify and descriptor exhaustion, after which no more
// events arrive.
func isFatal(err error) bool {
	return errors.Is(err, syscall.ENOSPC) ||
		errors.Is(err, syscall.EMFILE) ||
		errors.Is(err, syscall.ENFILE)
}
