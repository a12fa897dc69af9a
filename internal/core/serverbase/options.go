// SPDX-License-Identifier: MPL-2.0

package serverbase

import (
	"time"

	"github.com/charmbracelet/log"
)

const (
	DefaultStartupTimeout  = 5 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
)

// Option configures a Base.
type Option func(*Base)

// WithErrorChannel sets the buffer size of the Err channel (default 1).
func WithErrorChannel(size int) Option {
	return func(b *Base) {
		b.errCh = make(chan error, size)
	}
}

// WithStartupTimeout bounds Launch.
func WithStartupTimeout(d time.Duration) Option {
	return func(b *Base) {
		if d > 0 {
			b.startupTimeout = d
		}
	}
}

// WithShutdownTimeout bounds the graceful part of Shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(b *Base) {
		if d > 0 {
			b.shutdownTimeout = d
		}
	}
}

func WithLogger(l *log.Logger) Option {
	return func(b *Base) {
		if l != nil {
			b.logger = l
		}
	}
}
