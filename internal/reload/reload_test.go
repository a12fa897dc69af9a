// SPDX-License-Identifier: MPL-2.0

package reload

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/newrev/newrev/internal/testutil"
)

type recorder struct {
	mu    sync.Mutex
	calls [][]string
	fired chan struct{}
}

func newRecorder() *recorder { return &recorder{fired: make(chan struct{}, 16)} }

func (r *recorder) onChange(_ context.Context, changed []string) error {
	r.mu.Lock()
	r.calls = append(r.calls, changed)
	r.mu.Unlock()
	r.fired <- struct{}{}
	return nil
}

func (r *recorder) snapshot() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

func startWatcher(t *testing.T, root string, rec *recorder, mutate func(*Config)) {
	t.Helper()
	cfg := Config{
		Root:     root,
		Debounce: 100 * time.Millisecond,
		OnChange: rec.onChange,
		Logger:   log.New(testWriter{t}),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	w, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run() error: %v", err)
		}
	})
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func waitFired(t *testing.T, rec *recorder) {
	t.Helper()
	select {
	case <-rec.fired:
	case <-time.After(5 * time.Second):
		t.Fatal("OnChange was not called")
	}
}

func TestWatcher_CoalescesBurst(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	testutil.MustMkdirAll(t, filepath.Join(root, "api"))
	rec := newRecorder()
	startWatcher(t, root, rec, nil)

	testutil.MustWriteFile(t, filepath.Join(root, "api", "app.py"), "print(1)\n")
	testutil.MustWriteFile(t, filepath.Join(root, "api", "routes.py"), "print(2)\n")
	testutil.MustWriteFile(t, filepath.Join(root, "api", "app.py"), "print(3)\n")
	waitFired(t, rec)

	calls := rec.snapshot()
	if len(calls) != 1 {
		t.Fatalf("OnChange called %d times, want 1: %q", len(calls), calls)
	}
	want := []string{filepath.Join("api", "app.py"), filepath.Join("api", "routes.py")}
	if !slices.Equal(calls[0], want) {
		t.Errorf("changed = %q, want %q", calls[0], want)
	}
}

func TestWatcher_FiltersPaths(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	testutil.MustMkdirAll(t, filepath.Join(root, "__pycache__"))
	rec := newRecorder()
	startWatcher(t, root, rec, nil)

	testutil.MustWriteFile(t, filepath.Join(root, "notes.md"), "ignored: no pattern matches\n")
	testutil.MustWriteFile(t, filepath.Join(root, "__pycache__", "app.py"), "ignored directory\n")
	testutil.MustWriteFile(t, filepath.Join(root, "requirements.txt"), "flask\n")
	waitFired(t, rec)

	calls := rec.snapshot()
	if len(calls) != 1 || !slices.Equal(calls[0], []string{"requirements.txt"}) {
		t.Errorf("calls = %q", calls)
	}
}

func TestWatcher_FollowsNewDirectories(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	rec := newRecorder()
	startWatcher(t, root, rec, nil)

	dir := filepath.Join(root, "services")
	testutil.MustMkdirAll(t, dir)
	// Give the watcher a moment to register the new directory.
	time.Sleep(200 * time.Millisecond)
	testutil.MustWriteFile(t, filepath.Join(dir, "worker.py"), "pass\n")
	waitFired(t, rec)

	calls := rec.snapshot()
	if len(calls) == 0 || !slices.Contains(calls[len(calls)-1], filepath.Join("services", "worker.py")) {
		t.Errorf("calls = %q", calls)
	}
}

func TestWatcher_CustomPatterns(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	rec := newRecorder()
	startWatcher(t, root, rec, func(c *Config) { c.Patterns = []string{"*.cfg"} })

	testutil.MustWriteFile(t, filepath.Join(root, "app.py"), "pass\n")
	testutil.MustWriteFile(t, filepath.Join(root, "backend.cfg"), "x=1\n")
	waitFired(t, rec)

	if calls := rec.snapshot(); !slices.Equal(calls[0], []string{"backend.cfg"}) {
		t.Errorf("calls = %q", calls)
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{}); err == nil {
		t.Error("New() without root should fail")
	}
	if _, err := New(Config{Root: t.TempDir(), Patterns: []string{"[unclosed"}}); err == nil {
		t.Error("New() with an invalid pattern should fail")
	}
}

func TestWatcher_RunOnce(t *testing.T) {
	t.Parallel()

	w, err := New(Config{Root: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Run(ctx); err != nil {
		t.Fatalf("first Run() error: %v", err)
	}
	if err := w.Run(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run() error = %v", err)
	}
}

func TestMatchAny(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		want bool
	}{
		{"app.py", true},
		{"api/app.py", true},
		{"api/deep/x.py", true},
		{".env", true},
		{"api/.env", true},
		{"requirements-dev.txt", true},
		{"pyproject.toml", true},
		{"README.md", false},
		{"app.pyc", false},
	}
	for _, tt := range tests {
		if got := matchAny(DefaultPatterns, tt.path); got != tt.want {
			t.Errorf("matchAny(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}

	ignores := []string{"__pycache__/app.py", ".git/HEAD", "venv/bin/python", "api/.venv/lib/x.py", "app.py~"}
	for _, p := range ignores {
		if !matchAny(defaultIgnores, p) {
			t.Errorf("%q should be ignored", p)
		}
	}
}
