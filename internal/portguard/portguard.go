// SPDX-License-Identifier: MPL-2.0

// Package portguard checks, before the backend is spawned, that nothing is
// already listening on its port.
//
// The check is a best-effort connect probe and is inherently racy: a port
// can be taken between the check and the backend's bind. Such late
// failures surface as the backend's exit code 1 instead.
package portguard

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/newrev/newrev/pkg/types"
)

// DefaultDialTimeout bounds the connect probe.
const DefaultDialTimeout = time.Second

// ErrPortInUse is the sentinel wrapped by PortInUseError.
var ErrPortInUse = errors.New("port in use")

type (
	// Owner identifies the process listening on a port.
	Owner struct {
		PID  int32
		Name string
	}

	// OwnerLookup finds the process listening on port. It is best-effort:
	// a zero Owner and nil error means "unknown".
	OwnerLookup func(ctx context.Context, port types.ListenPort) (Owner, error)

	// DialFunc matches net.Dialer.DialContext.
	DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

	// PortInUseError reports a port that accepted the probe connection.
	PortInUseError struct {
		Port  types.ListenPort
		Owner Owner
	}

	// Checker runs the pre-flight probe.
	Checker struct {
		host    string
		timeout time.Duration
		dial    DialFunc
		owner   OwnerLookup
	}

	// Option configures a Checker.
	Option func(*Checker)
)

// WithHost probes host instead of "localhost".
func WithHost(host string) Option {
	return func(c *Checker) { c.host = host }
}

// WithTimeout overrides DefaultDialTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Checker) { c.timeout = d }
}

// WithDialer replaces the network dialer.
func WithDialer(d DialFunc) Option {
	return func(c *Checker) { c.dial = d }
}

// WithOwnerLookup replaces the owner lookup. A nil lookup disables it.
func WithOwnerLookup(fn OwnerLookup) Option {
	return func(c *Checker) { c.owner = fn }
}

// New creates a Checker probing localhost with a 1s timeout and looking up
// listening processes through the OS connection table.
func New(opts ...Option) *Checker {
	c := &Checker{
		host:    "localhost",
		timeout: DefaultDialTimeout,
		owner:   LookupOwner,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dial == nil {
		d := &net.Dialer{}
		c.dial = d.DialContext
	}
	return c
}

// CheckFree returns nil when the port looks free, or a *PortInUseError when
// something accepted a connection on it. A dial error or timeout counts as
// free.
func (c *Checker) CheckFree(ctx context.Context, port types.ListenPort) error {
	if err := port.ValidateFixed(); err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, err := c.dial(dialCtx, "tcp", port.Addr(c.host))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("check port %s: %w", port, ctxErr)
		}
		return nil
	}
	_ = conn.Close()

	inUse := &PortInUseError{Port: port}
	if c.owner != nil {
		if owner, lookupErr := c.owner(ctx, port); lookupErr == nil {
			inUse.Owner = owner
		}
	}
	return inUse
}

// Error implements the error interface with an actionable message.
func (e *PortInUseError) Error() string {
	switch {
	case e.Owner.Name != "":
		return fmt.Sprintf("port %s is already in use by %s (pid %d); close it and try again", e.Port, e.Owner.Name, e.Owner.PID)
	case e.Owner.PID != 0:
		return fmt.Sprintf("port %s is already in use by pid %d; close it and try again", e.Port, e.Owner.PID)
	default:
		return fmt.Sprintf("port %s is already in use; close the program using it and try again", e.Port)
	}
}

// Unwrap returns ErrPortInUse.
func (e *PortInUseError) Unwrap() error { return ErrPortInUse }
