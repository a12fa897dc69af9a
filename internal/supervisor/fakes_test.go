// SPDX-License-Identifier: MPL-2.0

package supervisor

import (
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/newrev/newrev/internal/lifecyclelog"
	"github.com/newrev/newrev/internal/provision"
	"github.com/newrev/newrev/internal/runtimeenv"
	"github.com/newrev/newrev/internal/testutil"
	"github.com/newrev/newrev/pkg/types"
)

const testPython = "/opt/python/bin/python3"

type fakeProcess struct {
	pid              int
	outR, errR       *io.PipeReader
	outW, errW       *io.PipeWriter
	exitCh           chan types.ExitCode
	exitOnce         sync.Once
	ignoreTerm       bool
	terminated       atomic.Int32
	killed           atomic.Int32
	waitReturnedOnce sync.Once
	waitReturned     chan struct{}
}

func newFakeProcess(pid int) *fakeProcess {
	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	return &fakeProcess{
		pid:  pid,
		outR: outR, outW: outW,
		errR: errR, errW: errW,
		exitCh:       make(chan types.ExitCode, 1),
		waitReturned: make(chan struct{}),
	}
}

func (p *fakeProcess) Pid() int          { return p.pid }
func (p *fakeProcess) Stdout() io.Reader { return p.outR }
func (p *fakeProcess) Stderr() io.Reader { return p.errR }

func (p *fakeProcess) Terminate() error {
	p.terminated.Add(1)
	if !p.ignoreTerm {
		p.exit(types.ExitCodeSignaled)
	}
	return nil
}

func (p *fakeProcess) Kill() error {
	p.killed.Add(1)
	p.exit(types.ExitCodeSignaled)
	return nil
}

func (p *fakeProcess) Wait() (types.ExitCode, error) {
	code := <-p.exitCh
	_ = p.outW.Close()
	_ = p.errW.Close()
	p.waitReturnedOnce.Do(func() { close(p.waitReturned) })
	return code, nil
}

// exit makes the process exit with code; later calls are ignored.
func (p *fakeProcess) exit(code types.ExitCode) {
	p.exitOnce.Do(func() { p.exitCh <- code })
}

// stdout writes a line; it returns once the supervisor has read it.
func (p *fakeProcess) stdout(line string) { _, _ = io.WriteString(p.outW, line+"\n") }
func (p *fakeProcess) stderr(line string) { _, _ = io.WriteString(p.errW, line+"\n") }

type fakeSpawner struct {
	mu       sync.Mutex
	specs    []SpawnSpec
	err      error
	nextPID  int
	prepare  func(*fakeProcess)
	spawned  chan *fakeProcess
	spawnCnt atomic.Int32
}

func newFakeSpawner() *fakeSpawner {
	return &fakeSpawner{nextPID: 4000, spawned: make(chan *fakeProcess, 8)}
}

func (f *fakeSpawner) Spawn(spec SpawnSpec) (Process, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.specs = append(f.specs, spec)
	f.nextPID++
	p := newFakeProcess(f.nextPID)
	if f.prepare != nil {
		f.prepare(p)
	}
	f.spawnCnt.Add(1)
	f.spawned <- p
	return p, nil
}

func (f *fakeSpawner) lastSpec() SpawnSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.specs[len(f.specs)-1]
}

func (f *fakeSpawner) next(t *testing.T) *fakeProcess {
	t.Helper()
	select {
	case p := <-f.spawned:
		return p
	case <-time.After(5 * time.Second):
		t.Fatal("backend was not spawned")
		return nil
	}
}

type fakeLocator struct {
	desc  runtimeenv.Descriptor
	err   error
	calls atomic.Int32
}

func (l *fakeLocator) Locate(ctx context.Context) (runtimeenv.Descriptor, error) {
	l.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return runtimeenv.Descriptor{}, err
	}
	return l.desc, l.err
}

type fakeProvisioner struct {
	desc  runtimeenv.Descriptor
	err   error
	calls atomic.Int32
}

func (p *fakeProvisioner) Provision(_ context.Context, progress chan<- provision.Progress) (runtimeenv.Descriptor, error) {
	p.calls.Add(1)
	for _, u := range []provision.Progress{
		{Stage: provision.StagePreparing, Message: "Preparing", Progress: 0},
		{Stage: provision.StageDownloading, Message: "Downloading", Progress: 30},
		{Stage: provision.StageComplete, Message: "Done", Progress: 100},
	} {
		progress <- u
	}
	return p.desc, p.err
}

type fakePortChecker struct {
	err   error
	calls atomic.Int32
}

func (c *fakePortChecker) CheckFree(context.Context, types.ListenPort) error {
	c.calls.Add(1)
	return c.err
}

type harness struct {
	sup     *Supervisor
	spawner *fakeSpawner
	clock   *testutil.FakeClock
	log     *lifecyclelog.Log
	locator *fakeLocator
	ports   *fakePortChecker
	appRoot string
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()

	events, err := lifecyclelog.New(lifecyclelog.Options{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = events.Close() })

	h := &harness{
		spawner: newFakeSpawner(),
		clock:   testutil.NewFakeClock(time.Time{}),
		log:     events,
		locator: &fakeLocator{desc: runtimeenv.Descriptor{Path: testPython, Version: "3.12.4", Verified: true, Source: runtimeenv.SourceSystem}},
		ports:   &fakePortChecker{},
		appRoot: t.TempDir(),
	}
	opts := Options{
		AppRoot:     h.appRoot,
		BaseEnv:     []string{"PATH=/usr/bin", "HOME=/home/dev"},
		Locator:     h.locator,
		PortChecker: h.ports,
		Spawner:     h.spawner,
		Events:      events,
		Clock:       h.clock,
	}
	if mutate != nil {
		mutate(&opts)
	}
	sup, err := New(opts)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	h.sup = sup
	t.Cleanup(func() { _ = sup.Stop() })
	return h
}

func (h *harness) startAsync(ctx context.Context, project string) <-chan error {
	errc := make(chan error, 1)
	go func() { errc <- h.sup.Start(ctx, project) }()
	return errc
}

// startRunning starts the backend and answers with the readiness banner.
func (h *harness) startRunning(t *testing.T, project string) *fakeProcess {
	t.Helper()
	errc := h.startAsync(context.Background(), project)
	p := h.spawner.next(t)
	p.stderr(" * Running on http://127.0.0.1:5000")
	if err := wait(t, errc); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	return p
}

func (h *harness) eventsAt(level lifecyclelog.Level) []string {
	var out []string
	for _, e := range h.log.ReadAll() {
		if e.Level == level {
			out = append(out, e.Message)
		}
	}
	return out
}

func wait(t *testing.T, errc <-chan error) error {
	t.Helper()
	select {
	case err := <-errc:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("operation did not return")
		return nil
	}
}

func assertPending(t *testing.T, errc <-chan error) {
	t.Helper()
	select {
	case err := <-errc:
		t.Fatalf("operation returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func containsAny(lines []string, sub string) bool {
	for _, l := range lines {
		if strings.Contains(l, sub) {
			return true
		}
	}
	return false
}
