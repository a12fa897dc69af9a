// SPDX-License-Identifier: MPL-2.0

package lifecyclelog

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/newrev/newrev/internal/testutil"
)

func newTestLog(t *testing.T, retain int) (*Log, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "logs", "backend.log")
	l, err := New(Options{Path: path, Retain: retain, Clock: testutil.NewFakeClock(time.Time{})})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l, path
}

func TestLog_ReadAllReturnsWritesInOrder(t *testing.T) {
	t.Parallel()

	l, _ := newTestLog(t, 0)
	levels := []Level{LevelInfo, LevelStdout, LevelStderr, LevelError}
	for i := range 20 {
		if err := l.Write(Event{Level: levels[i%4], Message: fmt.Sprintf("line %d", i)}); err != nil {
			t.Fatalf("Write() error: %v", err)
		}
	}

	got := l.ReadAll()
	if len(got) != 20 {
		t.Fatalf("ReadAll() returned %d events, want 20", len(got))
	}
	for i, e := range got {
		if e.Message != fmt.Sprintf("line %d", i) || e.Level != levels[i%4] {
			t.Errorf("event %d = %+v", i, e)
		}
		if e.Timestamp.IsZero() {
			t.Errorf("event %d has no timestamp", i)
		}
	}
}

func TestLog_ClearKeepsDurableFile(t *testing.T) {
	t.Parallel()

	l, path := newTestLog(t, 0)
	for i := range 5 {
		_ = l.Info("before clear %d", i)
	}
	l.Clear()
	if n := len(l.ReadAll()); n != 0 {
		t.Fatalf("ReadAll() after Clear returned %d events", n)
	}
	_ = l.Error("after clear")

	if got := l.ReadAll(); len(got) != 1 || got[0].Message != "after clear" {
		t.Errorf("ReadAll() = %+v, want only the post-clear event", got)
	}

	events, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	if len(events) != 6 {
		t.Fatalf("durable file has %d events, want 6", len(events))
	}
	for i := range 5 {
		if events[i].Message != fmt.Sprintf("before clear %d", i) {
			t.Errorf("durable event %d = %q", i, events[i].Message)
		}
	}
}

func TestLog_RetainsOnlyNewest(t *testing.T) {
	t.Parallel()

	l, _ := newTestLog(t, 3)
	for i := range 7 {
		_ = l.Info("e%d", i)
	}
	got := l.ReadAll()
	want := []string{"e4", "e5", "e6"}
	if len(got) != len(want) {
		t.Fatalf("ReadAll() returned %d events, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Message != want[i] {
			t.Errorf("event %d = %q, want %q", i, got[i].Message, want[i])
		}
	}
}

func TestLog_DefaultRetainIsOneThousand(t *testing.T) {
	t.Parallel()

	l, _ := newTestLog(t, 0)
	for i := range DefaultRetain + 10 {
		_ = l.Write(Event{Level: LevelStdout, Message: fmt.Sprint(i)})
	}
	got := l.ReadAll()
	if len(got) != DefaultRetain {
		t.Fatalf("ReadAll() returned %d events, want %d", len(got), DefaultRetain)
	}
	if got[0].Message != "10" {
		t.Errorf("oldest retained event = %q, want %q", got[0].Message, "10")
	}
}

func TestLog_Subscribe(t *testing.T) {
	t.Parallel()

	l, _ := newTestLog(t, 0)
	_ = l.Info("before subscribe")

	ch, cancel := l.Subscribe()
	_ = l.Write(Event{Level: LevelStderr, Message: "Running on http://127.0.0.1:5000"})

	select {
	case e := <-ch:
		if e.Level != LevelStderr || !strings.Contains(e.Message, "Running on") {
			t.Errorf("subscriber got %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive the event")
	}

	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after cancel")
	}
}

func TestLog_SlowSubscriberDoesNotBlockWriter(t *testing.T) {
	t.Parallel()

	l, _ := newTestLog(t, 0)
	_, cancel := l.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := range subscriberBuffer * 3 {
			_ = l.Info("%d", i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("writer blocked on an unread subscriber")
	}
}

func TestLog_ConcurrentWritersKeepWholeLines(t *testing.T) {
	t.Parallel()

	l, path := newTestLog(t, 0)
	var wg sync.WaitGroup
	for w := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 50 {
				_ = l.Info("writer %d line %d", w, i)
			}
		}()
	}
	wg.Wait()

	events, err := ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 200 {
		t.Errorf("durable file has %d parseable events, want 200", len(events))
	}
}

func TestLog_WriteAfterClose(t *testing.T) {
	t.Parallel()

	l, _ := newTestLog(t, 0)
	ch, _ := l.Subscribe()
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	if _, ok := <-ch; ok {
		t.Error("Close should close subscriber channels")
	}
	if err := l.Info("late"); !errors.Is(err, ErrClosed) {
		t.Errorf("Write after Close = %v, want ErrClosed", err)
	}
}

func TestParseLine(t *testing.T) {
	t.Parallel()

	orig := Event{
		Timestamp: time.Date(2024, 5, 1, 10, 0, 0, 123e6, time.UTC),
		Level:     LevelError,
		Message:   "backend exited with code 2\nTraceback:\n  C:\\app\\main.py",
	}
	line := orig.Line()
	if strings.Contains(line, "\n") {
		t.Fatalf("Line() contains a raw newline: %q", line)
	}
	got, err := ParseLine(line)
	if err != nil {
		t.Fatalf("ParseLine() error: %v", err)
	}
	if !got.Timestamp.Equal(orig.Timestamp) || got.Level != orig.Level || got.Message != orig.Message {
		t.Errorf("ParseLine(Line()) = %+v, want %+v", got, orig)
	}

	for _, bad := range []string{"", "no level here", "2024-05-01T10:00:00.000Z [BOGUS] x", "yesterday [INFO] x"} {
		if _, err := ParseLine(bad); !errors.Is(err, ErrMalformedLine) {
			t.Errorf("ParseLine(%q) error = %v, want ErrMalformedLine", bad, err)
		}
	}
}

func TestFollow(t *testing.T) {
	t.Parallel()

	l, path := newTestLog(t, 0)
	_ = l.Info("already written")

	var (
		mu  sync.Mutex
		got []string
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- Follow(ctx, path, func(e Event) {
			mu.Lock()
			got = append(got, e.Message)
			mu.Unlock()
		})
	}()

	// Give the watcher time to register before appending.
	time.Sleep(100 * time.Millisecond)
	_ = l.Info("first new")
	_ = l.Write(Event{Level: LevelStdout, Message: "second new"})

	testutil.Eventually(t, 5*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) >= 2
	}, "follower did not see appended events")

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Follow() returned %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if got[0] != "first new" || got[1] != "second new" {
		t.Errorf("followed events = %v", got)
	}
}
