// SPDX-License-Identifier: MPL-2.0

package serverbase

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var errStopped = errors.New("stopped")

// acceptLoop serves until the listener closes.
func acceptLoop(ln net.Listener) error {
	for {
		c, err := ln.Accept()
		if err != nil {
			return err
		}
		_ = c.Close()
	}
}

func TestBase_Lifecycle(t *testing.T) {
	t.Parallel()

	b := NewBase("test")
	if b.State() != StateCreated {
		t.Fatalf("initial state = %s", b.State())
	}
	if err := b.Launch(context.Background(), "127.0.0.1:0", acceptLoop); err != nil {
		t.Fatalf("Launch() error: %v", err)
	}
	if !b.IsRunning() {
		t.Fatalf("state after Launch = %s", b.State())
	}
	select {
	case <-b.Ready():
	default:
		t.Error("Ready() should be closed")
	}

	conn, err := net.Dial("tcp", b.Addr())
	if err != nil {
		t.Fatalf("dial %s: %v", b.Addr(), err)
	}
	_ = conn.Close()

	var shutdownCalled atomic.Bool
	if err := b.Shutdown(func(ctx context.Context) error {
		shutdownCalled.Store(true)
		if _, ok := ctx.Deadline(); !ok {
			t.Error("shutdown context has no deadline")
		}
		return nil
	}); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	if !shutdownCalled.Load() {
		t.Error("shutdown func not called")
	}
	if b.State() != StateStopped {
		t.Errorf("state = %s, want stopped", b.State())
	}
	if _, ok := <-b.Err(); ok {
		t.Error("Err() should be closed after Shutdown")
	}
	if err := b.Wait(); err != nil {
		t.Errorf("Wait() = %v", err)
	}
}

func TestBase_LaunchTwice(t *testing.T) {
	t.Parallel()

	b := NewBase("test")
	if err := b.Launch(context.Background(), "127.0.0.1:0", acceptLoop); err != nil {
		t.Fatal(err)
	}
	defer b.Shutdown(nil)

	if err := b.Launch(context.Background(), "127.0.0.1:0", acceptLoop); err == nil {
		t.Error("second Launch should fail")
	}
}

func TestBase_LaunchCancelledContext(t *testing.T) {
	t.Parallel()

	b := NewBase("test")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Launch(ctx, "127.0.0.1:0", acceptLoop)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Launch() error = %v, want context.Canceled", err)
	}
	if b.State() != StateFailed || !errors.Is(b.LastError(), context.Canceled) {
		t.Errorf("state = %s, last error = %v", b.State(), b.LastError())
	}
}

func TestBase_ListenFailure(t *testing.T) {
	t.Parallel()

	taken, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer taken.Close()

	b := NewBase("test")
	if err := b.Launch(context.Background(), taken.Addr().String(), acceptLoop); err == nil {
		t.Fatal("Launch on a taken port should fail")
	}
	if b.State() != StateFailed {
		t.Errorf("state = %s, want failed", b.State())
	}
	select {
	case err := <-b.Err():
		if err == nil {
			t.Error("nil error on Err()")
		}
	default:
		t.Error("failure was not published on Err()")
	}
	if err := b.Shutdown(nil); err != nil {
		t.Errorf("Shutdown() after failure = %v", err)
	}
}

func TestBase_ServeErrorAfterStart(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	release := make(chan struct{})
	b := NewBase("test")
	err := b.Launch(context.Background(), "127.0.0.1:0", func(net.Listener) error {
		<-release
		return boom
	})
	if err != nil {
		t.Fatal(err)
	}
	close(release)

	select {
	case err := <-b.Err():
		if !errors.Is(err, boom) {
			t.Errorf("Err() = %v, want boom", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve error not published")
	}
	if err := b.Wait(); !errors.Is(err, boom) {
		t.Errorf("Wait() = %v", err)
	}
	if b.State() != StateFailed {
		t.Errorf("state = %s", b.State())
	}
}

func TestBase_ClosedErrorsAreNotFailures(t *testing.T) {
	t.Parallel()

	b := NewBase("test")
	err := b.Launch(context.Background(), "127.0.0.1:0", func(ln net.Listener) error {
		_ = acceptLoop(ln)
		return errStopped
	}, errStopped)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Shutdown(nil); err != nil {
		t.Fatalf("Shutdown() = %v", err)
	}
	if b.State() != StateStopped || b.LastError() != nil {
		t.Errorf("state = %s, last error = %v", b.State(), b.LastError())
	}
}

func TestBase_GoIsCancelledAndAwaited(t *testing.T) {
	t.Parallel()

	b := NewBase("test")
	b.Go(func(context.Context) { t.Error("Go before Launch must not run") })

	if err := b.Launch(context.Background(), "127.0.0.1:0", acceptLoop); err != nil {
		t.Fatal(err)
	}
	var exited atomic.Bool
	b.Go(func(ctx context.Context) {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		exited.Store(true)
	})

	if err := b.Shutdown(nil); err != nil {
		t.Fatal(err)
	}
	if !exited.Load() {
		t.Error("Shutdown returned before tracked goroutines exited")
	}
}

func TestBase_ShutdownIdempotent(t *testing.T) {
	t.Parallel()

	t.Run("never started", func(t *testing.T) {
		t.Parallel()
		b := NewBase("test")
		if err := b.Shutdown(nil); err != nil {
			t.Fatal(err)
		}
		if b.State() != StateStopped {
			t.Errorf("state = %s", b.State())
		}
		if err := b.Launch(context.Background(), "127.0.0.1:0", acceptLoop); err == nil {
			t.Error("Launch after Shutdown should fail")
		}
	})

	t.Run("concurrent", func(t *testing.T) {
		t.Parallel()
		b := NewBase("test")
		if err := b.Launch(context.Background(), "127.0.0.1:0", acceptLoop); err != nil {
			t.Fatal(err)
		}
		var calls atomic.Int32
		var wg sync.WaitGroup
		for range 5 {
			wg.Go(func() {
				_ = b.Shutdown(func(context.Context) error {
					calls.Add(1)
					return nil
				})
			})
		}
		wg.Wait()
		if calls.Load() != 1 {
			t.Errorf("shutdown func called %d times", calls.Load())
		}
	})
}

func TestBase_ShutdownError(t *testing.T) {
	t.Parallel()

	b := NewBase("test", WithShutdownTimeout(time.Second), WithErrorChannel(4))
	if err := b.Launch(context.Background(), "127.0.0.1:0", acceptLoop); err != nil {
		t.Fatal(err)
	}
	want := errors.New("drain failed")
	if err := b.Shutdown(func(context.Context) error { return want }); !errors.Is(err, want) {
		t.Errorf("Shutdown() = %v, want %v", err, want)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state    State
		want     string
		terminal bool
	}{
		{StateCreated, "created", false},
		{StateStarting, "starting", false},
		{StateRunning, "running", false},
		{StateStopping, "stopping", false},
		{StateStopped, "stopped", true},
		{StateFailed, "failed", true},
		{State(42), "unknown", false},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
		if got := tt.state.IsTerminal(); got != tt.terminal {
			t.Errorf("%s.IsTerminal() = %v", tt.state, got)
		}
	}
}
