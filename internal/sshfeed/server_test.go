// SPDX-License-Identifier: MPL-2.0

package sshfeed

import (
	"bufio"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gossh "golang.org/x/crypto/ssh"

	"github.com/newrev/newrev/internal/core/serverbase"
	"github.com/newrev/newrev/internal/lifecyclelog"
)

const testPassword = "feed-secret"

func startFeed(t *testing.T, events EventSource) *Server {
	t.Helper()
	srv, err := New(Config{
		Port:            0,
		Password:        testPassword,
		HostKeyPath:     filepath.Join(t.TempDir(), "host_ed25519"),
		Events:          events,
		ShutdownTimeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(func() { _ = srv.Stop() })
	return srv
}

func dial(t *testing.T, addr string, auth gossh.AuthMethod) (*gossh.Client, error) {
	t.Helper()
	return gossh.Dial("tcp", addr, &gossh.ClientConfig{
		User:            "dev",
		Auth:            []gossh.AuthMethod{auth},
		HostKeyCallback: gossh.InsecureIgnoreHostKey(), //nolint:gosec // test server
		Timeout:         5 * time.Second,
	})
}

func newLog(t *testing.T) *lifecyclelog.Log {
	t.Helper()
	l, err := lifecyclelog.New(lifecyclelog.Options{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestFeed_ReplaysThenStreams(t *testing.T) {
	t.Parallel()

	events := newLog(t)
	_ = events.Info("Starting backend")
	_ = events.Write(lifecyclelog.Event{Level: lifecyclelog.LevelStderr, Message: "Running on http://127.0.0.1:5000"})
	srv := startFeed(t, events)

	client, err := dial(t, srv.Addr(), gossh.Password(testPassword))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()
	sess, err := client.NewSession()
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer sess.Close()
	out, err := sess.StdoutPipe()
	if err != nil {
		t.Fatal(err)
	}
	if err := sess.Shell(); err != nil {
		t.Fatalf("Shell: %v", err)
	}

	lines := make(chan string, 16)
	go func() {
		sc := bufio.NewScanner(out)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	next := func() string {
		t.Helper()
		select {
		case l, ok := <-lines:
			if !ok {
				t.Fatal("stream closed early")
			}
			return l
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for a line")
		}
		return ""
	}

	if l := next(); !strings.Contains(l, "[INFO] Starting backend") {
		t.Errorf("line 1 = %q", l)
	}
	if l := next(); !strings.Contains(l, "[STDERR] Running on http") {
		t.Errorf("line 2 = %q", l)
	}
	_ = events.Error("Backend exited unexpectedly")
	if l := next(); !strings.Contains(l, "[ERROR] Backend exited unexpectedly") {
		t.Errorf("line 3 = %q", l)
	}
}

func TestFeed_RejectsBadCredentials(t *testing.T) {
	t.Parallel()

	srv := startFeed(t, newLog(t))
	if _, err := dial(t, srv.Addr(), gossh.Password("wrong")); err == nil {
		t.Error("dial with a wrong password succeeded")
	}
}

func TestFeed_StopEndsSessions(t *testing.T) {
	t.Parallel()

	events := newLog(t)
	_ = events.Info("hello")
	srv := startFeed(t, events)

	client, err := dial(t, srv.Addr(), gossh.Password(testPassword))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()
	sess, err := client.NewSession()
	if err != nil {
		t.Fatal(err)
	}
	out, _ := sess.StdoutPipe()
	if err := sess.Shell(); err != nil {
		t.Fatal(err)
	}
	sc := bufio.NewScanner(out)
	if !sc.Scan() {
		t.Fatal("no replayed line")
	}

	stopped := make(chan error, 1)
	go func() { stopped <- srv.Stop() }()
	select {
	case err := <-stopped:
		if err != nil {
			t.Errorf("Stop() error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Stop() blocked on an open session")
	}
	if got := srv.State(); got != serverbase.StateStopped {
		t.Errorf("State() = %s", got)
	}

	waited := make(chan error, 1)
	go func() { waited <- sess.Wait() }()
	select {
	case <-waited:
	case <-time.After(5 * time.Second):
		t.Fatal("session did not end after Stop")
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	events := newLog(t)
	key := filepath.Join(t.TempDir(), "key")
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no password", Config{Events: events, HostKeyPath: key}},
		{"no events", Config{Password: "x", HostKeyPath: key}},
		{"no host key", Config{Password: "x", Events: events}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := New(tt.cfg); err == nil {
				t.Error("New() should fail")
			}
		})
	}
	if _, err := New(Config{Events: events, HostKeyPath: key}); !errors.Is(err, ErrNoPassword) {
		t.Errorf("error = %v, want ErrNoPassword", err)
	}
}
