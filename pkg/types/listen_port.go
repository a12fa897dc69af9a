// SPDX-License-Identifier: MPL-2.0

package types

import (
	"errors"
	"fmt"
	"net"
	"strconv"
)

// ErrInvalidListenPort is the sentinel error wrapped by InvalidListenPortError.
var ErrInvalidListenPort = errors.New("invalid listen port")

type (
	// ListenPort is a TCP port. Zero means "let the OS pick" and is only
	// meaningful for servers newrev binds itself; the backend port must be
	// a fixed value in 1-65535.
	ListenPort int

	// InvalidListenPortError is returned when a ListenPort is out of range.
	InvalidListenPortError struct {
		Value     ListenPort
		AllowZero bool
	}
)

func (p ListenPort) String() string { return strconv.Itoa(int(p)) }

// Validate accepts 0-65535.
func (p ListenPort) Validate() error {
	if p < 0 || p > 65535 {
		return &InvalidListenPortError{Value: p, AllowZero: true}
	}
	return nil
}

// ValidateFixed accepts 1-65535.
func (p ListenPort) ValidateFixed() error {
	if p < 1 || p > 65535 {
		return &InvalidListenPortError{Value: p}
	}
	return nil
}

// Addr joins host and port into a dialable address.
func (p ListenPort) Addr(host string) string {
	return net.JoinHostPort(host, p.String())
}

// Error implements the error interface.
func (e *InvalidListenPortError) Error() string {
	if e.AllowZero {
		return fmt.Sprintf("invalid listen port %d: must be 0 (auto-select) or 1-65535", e.Value)
	}
	return fmt.Sprintf("invalid listen port %d: must be 1-65535", e.Value)
}

// Unwrap returns ErrInvalidListenPort.
func (e *InvalidListenPortError) Unwrap() error { return ErrInvalidListenPort }
