// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"runtime"
	"sync"
	"time"
)

type (
	// Clock abstracts the time operations used by timer-gated code paths
	// (startup timeouts, stop escalation, restart pauses). Production code
	// uses RealClock; tests drive a FakeClock.
	Clock interface {
		Now() time.Time
		// After waits for the duration to elapse and then sends the current time.
		After(d time.Duration) <-chan time.Time
		Since(t time.Time) time.Duration
	}

	// RealClock implements Clock using the system clock.
	RealClock struct{}

	// FakeClock implements Clock with manually controlled time.
	// Time only moves when Advance or Set is called.
	FakeClock struct {
		mu      sync.Mutex
		current time.Time
		waiters []waiter
	}

	waiter struct {
		target time.Time
		ch     chan time.Time
	}
)

// Now returns the current system time.
func (RealClock) Now() time.Time { return time.Now() }

// After delegates to time.After.
func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Since delegates to time.Since.
func (RealClock) Since(t time.Time) time.Duration { return time.Since(t) }

// NewFakeClock creates a FakeClock set to initial, or to 2020-01-01 UTC when
// initial is the zero time.
func NewFakeClock(initial time.Time) *FakeClock {
	if initial.IsZero() {
		initial = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return &FakeClock{current: initial}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// After registers a waiter that fires once the fake time reaches now+d.
// Non-positive durations fire immediately.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.current
		return ch
	}
	c.waiters = append(c.waiters, waiter{target: c.current.Add(d), ch: ch})
	return ch
}

// Since returns the fake time elapsed since t.
func (c *FakeClock) Since(t time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current.Sub(t)
}

// Advance moves the fake time forward by d and fires every waiter whose
// target has been reached.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
	c.fireDue()
}

// Set moves the fake time to t and fires every due waiter.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = t
	c.fireDue()
}

// Pending reports how many After calls have not fired yet.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// BlockUntil waits until at least n waiters are pending, or until timeout
// elapses in real time. It reports whether the count was reached.
//
// Tests call it before Advance so the code under test has registered its
// timer; advancing first would let the timer start after the jump.
func (c *FakeClock) BlockUntil(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.Pending() >= n {
			return true
		}
		runtime.Gosched()
		time.Sleep(time.Millisecond)
	}
	return c.Pending() >= n
}

// fireDue must be called with mu held.
func (c *FakeClock) fireDue() {
	remaining := c.waiters[:0]
	for _, w := range c.waiters {
		if c.current.Before(w.target) {
			remaining = append(remaining, w)
			continue
		}
		select {
		case w.ch <- c.current:
		default:
		}
	}
	c.waiters = remaining
}
