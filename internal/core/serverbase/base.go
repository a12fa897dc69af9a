// SPDX-License-Identifier: MPL-2.0

package serverbase

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

type (
	// ServeFunc serves connections on ln until the server is shut down.
	ServeFunc func(ln net.Listener) error

	// ShutdownFunc stops the concrete server gracefully within ctx.
	ShutdownFunc func(ctx context.Context) error

	// Base tracks the state, goroutines and errors of one server.
	Base struct {
		name            string
		logger          *log.Logger
		startupTimeout  time.Duration
		shutdownTimeout time.Duration

		state atomic.Int32

		mu       sync.Mutex
		lastErr  error
		listener net.Listener
		addr     string

		ctx    context.Context
		cancel context.CancelFunc
		wg     sync.WaitGroup
		ready  chan struct{}
		errCh  chan error
	}
)

// NewBase creates a Base for the server called name. The name prefixes
// log lines and error messages.
func NewBase(name string, opts ...Option) *Base {
	b := &Base{
		name:            name,
		startupTimeout:  DefaultStartupTimeout,
		shutdownTimeout: DefaultShutdownTimeout,
		ready:           make(chan struct{}),
		errCh:           make(chan error, 1),
	}
	b.state.Store(int32(StateCreated))
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: name, Level: log.WarnLevel})
	}
	return b
}

func (b *Base) State() State { return State(b.state.Load()) }

func (b *Base) IsRunning() bool { return b.State() == StateRunning }

// Err delivers errors from serving goroutines after Launch returned. It
// is closed once Shutdown has finished.
func (b *Base) Err() <-chan error { return b.errCh }

// LastError returns the error that put the server in StateFailed.
func (b *Base) LastError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastErr
}

// Ready is closed when the server reaches StateRunning.
func (b *Base) Ready() <-chan struct{} { return b.ready }

// Addr returns the bound address, or "" before Launch succeeded.
func (b *Base) Addr() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addr
}

// Context is cancelled when the server begins stopping. It is nil before
// Launch.
func (b *Base) Context() context.Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ctx
}

// Launch listens on addr and runs serve in a tracked goroutine. It returns
// once the server is Running, or with an error when ctx is already done,
// listening fails or the startup timeout passes. Errors in closed are
// treated as a normal end of serve.
func (b *Base) Launch(ctx context.Context, addr string, serve ServeFunc, closed ...error) error {
	if err := ctx.Err(); err != nil {
		return b.fail(fmt.Errorf("%s: context cancelled before start: %w", b.name, err))
	}
	if !b.state.CompareAndSwap(int32(StateCreated), int32(StateStarting)) {
		return fmt.Errorf("%s: cannot start in state %s", b.name, b.State())
	}

	startCtx, cancel := context.WithTimeout(ctx, b.startupTimeout)
	defer cancel()

	var lc net.ListenConfig
	ln, err := lc.Listen(startCtx, "tcp", addr)
	if err != nil {
		return b.fail(fmt.Errorf("%s: listen on %s: %w", b.name, addr, err))
	}

	b.mu.Lock()
	b.listener = ln
	b.addr = ln.Addr().String()
	b.ctx, b.cancel = context.WithCancel(context.Background())
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if b.state.CompareAndSwap(int32(StateStarting), int32(StateRunning)) {
			close(b.ready)
		}
		err := serve(ln)
		if err == nil || errors.Is(err, net.ErrClosed) {
			return
		}
		for _, c := range closed {
			if errors.Is(err, c) {
				return
			}
		}
		b.logger.Error("serve failed", "err", err)
		_ = b.fail(fmt.Errorf("%s: serve: %w", b.name, err))
	}()

	select {
	case <-b.ready:
		b.logger.Info("listening", "address", b.Addr())
		return nil
	case <-startCtx.Done():
		_ = ln.Close()
		return b.fail(fmt.Errorf("%s: startup: %w", b.name, startCtx.Err()))
	}
}

// Go runs fn in a goroutine that Shutdown waits for. fn receives the
// server context.
func (b *Base) Go(fn func(ctx context.Context)) {
	ctx := b.Context()
	if ctx == nil {
		return
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn(ctx)
	}()
}

// Shutdown stops a Starting or Running server: it cancels the server
// context, calls shutdown within the shutdown timeout, closes the listener
// and waits for every tracked goroutine. Calling it again, or on a server
// that never started, is a no-op.
func (b *Base) Shutdown(shutdown ShutdownFunc) error {
	for {
		cur := b.State()
		switch cur {
		case StateCreated:
			if b.state.CompareAndSwap(int32(StateCreated), int32(StateStopped)) {
				return nil
			}
			continue
		case StateStarting, StateRunning:
			if !b.state.CompareAndSwap(int32(cur), int32(StateStopping)) {
				continue
			}
		default:
			b.mu.Lock()
			ln := b.listener
			b.mu.Unlock()
			if ln != nil {
				_ = ln.Close()
			}
			b.wg.Wait()
			return nil
		}
		break
	}

	b.mu.Lock()
	cancel, ln := b.cancel, b.listener
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	ctx, done := context.WithTimeout(context.Background(), b.shutdownTimeout)
	defer done()
	var err error
	if shutdown != nil {
		if err = shutdown(ctx); errors.Is(err, net.ErrClosed) {
			err = nil
		}
	}
	if ln != nil {
		_ = ln.Close()
	}
	b.wg.Wait()

	b.state.Store(int32(StateStopped))
	close(b.errCh)
	b.logger.Info("stopped")
	if err != nil {
		return fmt.Errorf("%s: shutdown: %w", b.name, err)
	}
	return nil
}

// Wait blocks until every tracked goroutine has returned and reports the
// failure, if any.
func (b *Base) Wait() error {
	b.wg.Wait()
	if b.State() == StateFailed {
		return b.LastError()
	}
	return nil
}

// fail records err, cancels the server context and publishes err on Err.
func (b *Base) fail(err error) error {
	b.mu.Lock()
	b.lastErr = err
	cancel := b.cancel
	b.mu.Unlock()

	b.state.Store(int32(StateFailed))
	if cancel != nil {
		cancel()
	}
	select {
	case b.errCh <- err:
	default:
	}
	return err
}
