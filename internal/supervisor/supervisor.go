// SPDX-License-Identifier: MPL-2.0

package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/newrev/newrev/internal/lifecyclelog"
	"github.com/newrev/newrev/internal/metrics"
	"github.com/newrev/newrev/internal/provision"
	"github.com/newrev/newrev/internal/runtimeenv"
	"github.com/newrev/newrev/internal/testutil"
	"github.com/newrev/newrev/pkg/types"
)

const (
	// DefaultStartupTimeout bounds the wait for the readiness banner.
	DefaultStartupTimeout = 30 * time.Second
	// DefaultStopTimeout is the grace period between terminate and kill.
	DefaultStopTimeout = 3 * time.Second
	// DefaultRestartDelay is the pause between stop and start on restart,
	// giving the OS time to release the port.
	DefaultRestartDelay = 2 * time.Second
	// DefaultEntryScript is the backend entry point relative to AppRoot.
	DefaultEntryScript = "api/app.py"
	// DefaultPort is the port the backend binds.
	DefaultPort types.ListenPort = 5000

	maxLineBytes = 1 << 20
)

type (
	// Locator finds an installed interpreter.
	Locator interface {
		Locate(ctx context.Context) (runtimeenv.Descriptor, error)
	}

	// Provisioner installs an interpreter when none can be located.
	Provisioner interface {
		Provision(ctx context.Context, progress chan<- provision.Progress) (runtimeenv.Descriptor, error)
	}

	// PortChecker verifies the backend port is free before spawning.
	PortChecker interface {
		CheckFree(ctx context.Context, port types.ListenPort) error
	}

	// EventSink receives lifecycle events. *lifecyclelog.Log satisfies it.
	EventSink interface {
		Write(e lifecyclelog.Event) error
	}

	// Options configures a Supervisor. Locator is required; everything
	// else has a default.
	Options struct {
		// AppRoot is the backend install directory and the child's working
		// directory. The user's project is never the working directory.
		AppRoot     string
		EntryScript string
		ExtraArgs   []string
		Port        types.ListenPort

		StartupTimeout time.Duration
		StopTimeout    time.Duration
		RestartDelay   time.Duration

		ReadyPatterns      []string
		DependencyPatterns []string
		TailLines          int

		// BaseEnv is the environment the child inherits; nil means ours.
		BaseEnv []string

		Locator     Locator
		Provisioner Provisioner
		PortChecker PortChecker
		Spawner     Spawner
		Events      EventSink
		// Progress, when set, receives provisioning progress for live
		// display.
		Progress *provision.Feed
		Metrics  metrics.Collector
		Clock    testutil.Clock
		Logger   *log.Logger
	}

	// Status is a point-in-time snapshot of the supervisor.
	Status struct {
		State     State                  `json:"state"`
		Handle    *Handle                `json:"handle,omitempty"`
		Runtime   *runtimeenv.Descriptor `json:"runtime,omitempty"`
		LastError *ErrorInfo             `json:"lastError,omitempty"`
	}

	// Supervisor owns at most one backend process.
	//
	// State reads are lock-free; transitions happen under mu so that the
	// check-then-set in Start cannot interleave with another Start or Stop.
	Supervisor struct {
		opts  Options
		ready matcher
		deps  matcher

		state   atomic.Int32
		mu      sync.Mutex
		cur     *generation
		lastErr error
		runtime *runtimeenv.Descriptor
		errCh   chan error
	}

	// generation is one spawned backend process and the signals around it.
	generation struct {
		handle   Handle
		proc     Process
		cancel   context.CancelFunc
		stopping atomic.Bool
		tail     *tail

		ready     chan struct{}
		readyOnce sync.Once
		depLine   chan string

		// exited is closed once Wait returned and all output was consumed.
		exited   chan struct{}
		exitCode types.ExitCode

		// done is closed once the generation reached its final state.
		done     chan struct{}
		doneOnce sync.Once
	}

	discardSink struct{}
)

// New creates a Supervisor in the Idle state.
func New(opts Options) (*Supervisor, error) {
	if opts.Locator == nil {
		return nil, errors.New("supervisor: a runtime locator is required")
	}
	if opts.EntryScript == "" {
		opts.EntryScript = DefaultEntryScript
	}
	if opts.Port == 0 {
		opts.Port = DefaultPort
	}
	if err := opts.Port.ValidateFixed(); err != nil {
		return nil, fmt.Errorf("supervisor: %w", err)
	}
	if opts.StartupTimeout <= 0 {
		opts.StartupTimeout = DefaultStartupTimeout
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.RestartDelay <= 0 {
		opts.RestartDelay = DefaultRestartDelay
	}
	if len(opts.ReadyPatterns) == 0 {
		opts.ReadyPatterns = DefaultReadyPatterns
	}
	if len(opts.DependencyPatterns) == 0 {
		opts.DependencyPatterns = DefaultDependencyPatterns
	}
	if opts.BaseEnv == nil {
		opts.BaseEnv = os.Environ()
	}
	if opts.Spawner == nil {
		opts.Spawner = ExecSpawner{}
	}
	if opts.Events == nil {
		opts.Events = discardSink{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop()
	}
	if opts.Clock == nil {
		opts.Clock = testutil.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "supervisor", Level: log.WarnLevel})
	}

	return &Supervisor{
		opts:  opts,
		ready: matcher(opts.ReadyPatterns),
		deps:  matcher(opts.DependencyPatterns),
		errCh: make(chan error, 1),
	}, nil
}

// State returns the current state.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// Errors delivers UnexpectedExitErrors for backends that die while
// running. Delivery is best-effort: an error is dropped if the previous
// one has not been received yet.
func (s *Supervisor) Errors() <-chan error {
	return s.errCh
}

// Status returns a snapshot of the supervisor.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{State: s.State(), LastError: Describe(s.lastErr)}
	if s.cur != nil {
		h := s.cur.handle
		st.Handle = &h
	}
	if s.runtime != nil {
		rt := *s.runtime
		st.Runtime = &rt
	}
	return st
}

// Start launches the backend for projectPath and waits until it reports
// ready. An empty projectPath starts the backend in "waiting for project"
// mode.
//
// Start fails with ErrInvalidState unless the supervisor is Idle; a Failed
// supervisor is reset first. Cancelling ctx aborts the start and kills the
// child. A concurrent Stop cancels the start as well.
func (s *Supervisor) Start(ctx context.Context, projectPath string) error {
	s.mu.Lock()
	if s.State() == StateFailed {
		s.setState(StateIdle)
		s.lastErr = nil
	}
	if st := s.State(); st != StateIdle {
		s.mu.Unlock()
		return &InvalidStateError{Op: "start", State: st}
	}
	startCtx, cancel := context.WithCancel(ctx)
	gen := &generation{
		handle:  Handle{ID: uuid.New(), ProjectPath: projectPath, State: HandleStarting},
		cancel:  cancel,
		tail:    newTail(s.opts.TailLines),
		ready:   make(chan struct{}),
		depLine: make(chan string, 1),
		exited:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	s.cur = gen
	s.lastErr = nil
	s.setState(StateStarting)
	s.mu.Unlock()
	defer cancel()

	started := s.opts.Clock.Now()
	s.info("Starting backend for %s", describeProject(projectPath))

	err := s.start(startCtx, gen)
	switch {
	case err == nil:
	case gen.stopping.Load():
		err = fmt.Errorf("%w: %w", ErrStartCancelled, context.Canceled)
	case ctx.Err() != nil:
		err = fmt.Errorf("start backend: %w", ctx.Err())
	}
	s.opts.Metrics.StartFinished(s.opts.Clock.Since(started), string(KindOf(err)))
	if err != nil {
		s.abortStart(gen, err)
		return err
	}
	return nil
}

// start runs the Starting phase. On success the generation is Running.
func (s *Supervisor) start(ctx context.Context, gen *generation) error {
	desc, err := s.resolveRuntime(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.runtime = &desc
	s.mu.Unlock()

	if s.opts.PortChecker != nil {
		if err := s.opts.PortChecker.CheckFree(ctx, s.opts.Port); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	spec := SpawnSpec{
		Path: desc.Path,
		Args: append([]string{s.entryScript()}, s.opts.ExtraArgs...),
		Dir:  s.opts.AppRoot,
		Env:  backendEnv(s.opts.BaseEnv, desc, s.opts.AppRoot, gen.handle.ProjectPath, s.opts.Port),
	}
	proc, err := s.opts.Spawner.Spawn(spec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	gen.proc = proc
	gen.handle.PID = proc.Pid()
	gen.handle.StartedAt = s.opts.Clock.Now()
	s.mu.Unlock()
	s.opts.Logger.Info("backend spawned", "pid", gen.handle.PID, "id", gen.handle.ID, "python", desc.Path)
	s.info("Backend process started (pid %d, Python %s)", gen.handle.PID, desc.Version)

	s.monitor(gen)
	timeout := s.opts.Clock.After(s.opts.StartupTimeout)

	select {
	case <-gen.ready:
		return s.markRunning(gen)

	case line := <-gen.depLine:
		return &DependencyMissingError{Line: line, Tail: gen.tail.snapshot()}

	case <-gen.exited:
		select {
		case line := <-gen.depLine:
			return &DependencyMissingError{Line: line, Tail: gen.tail.snapshot()}
		default:
		}
		return &UnexpectedExitError{
			Code:           gen.exitCode,
			Classification: Classify(gen.exitCode),
			DuringStartup:  true,
			Tail:           gen.tail.snapshot(),
		}

	case <-timeout:
		return &StartupTimeoutError{Timeout: s.opts.StartupTimeout, Tail: gen.tail.snapshot()}

	case <-ctx.Done():
		return ctx.Err()
	}
}

// resolveRuntime locates an interpreter, provisioning one when none is
// installed.
func (s *Supervisor) resolveRuntime(ctx context.Context) (runtimeenv.Descriptor, error) {
	desc, err := s.opts.Locator.Locate(ctx)
	if err == nil {
		s.info("Using Python %s at %s (%s)", desc.Version, desc.Path, desc.Source)
		return desc, nil
	}
	if !errors.Is(err, runtimeenv.ErrNotFound) || s.opts.Provisioner == nil {
		return runtimeenv.Descriptor{}, err
	}

	s.info("No usable Python interpreter found; provisioning an isolated runtime")
	progress := make(chan provision.Progress, 16)
	relayed := make(chan struct{})
	go func() {
		defer close(relayed)
		var last provision.Stage
		for p := range progress {
			if s.opts.Progress != nil {
				s.opts.Progress.Publish(p)
			}
			if p.Stage != last {
				s.info("Provisioning: %s", p.Message)
				last = p.Stage
			}
		}
	}()

	started := s.opts.Clock.Now()
	desc, err = s.opts.Provisioner.Provision(ctx, progress)
	close(progress)
	<-relayed

	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeError
	}
	s.opts.Metrics.ProvisionFinished(s.opts.Clock.Since(started), outcome)
	if err != nil {
		return runtimeenv.Descriptor{}, err
	}
	s.info("Provisioned Python %s at %s", desc.Version, desc.Path)
	return desc, nil
}

// monitor starts one reader per output stream and a waiter that closes
// gen.exited after the process exited and both streams hit EOF.
func (s *Supervisor) monitor(gen *generation) {
	var readers sync.WaitGroup
	readers.Add(2)
	go s.readStream(gen, gen.proc.Stdout(), lifecyclelog.LevelStdout, &readers)
	go s.readStream(gen, gen.proc.Stderr(), lifecyclelog.LevelStderr, &readers)

	go func() {
		code, err := gen.proc.Wait()
		readers.Wait()
		if err != nil {
			s.opts.Logger.Warn("waiting for backend failed", "pid", gen.handle.PID, "err", err)
		}
		gen.exitCode = code
		close(gen.exited)
		s.handleExit(gen)
	}()
}

func (s *Supervisor) readStream(gen *generation, r io.Reader, level lifecyclelog.Level, wg *sync.WaitGroup) {
	defer wg.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		gen.tail.add(line)
		s.emit(lifecyclelog.Event{Level: level, Message: line})

		if s.ready.match(line) {
			gen.readyOnce.Do(func() { close(gen.ready) })
		}
		if s.deps.match(line) {
			select {
			case gen.depLine <- line:
			default:
			}
		}
	}
	if err := scanner.Err(); err != nil {
		s.opts.Logger.Warn("reading backend output failed", "stream", level, "err", err)
		// Keep draining so the child never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, r)
	}
}

// markRunning completes a successful start. The exit check under mu pairs
// with handleExit: whichever runs second sees the other's outcome.
func (s *Supervisor) markRunning(gen *generation) error {
	s.mu.Lock()
	select {
	case <-gen.exited:
		s.mu.Unlock()
		return &UnexpectedExitError{
			Code:           gen.exitCode,
			Classification: Classify(gen.exitCode),
			DuringStartup:  true,
			Tail:           gen.tail.snapshot(),
		}
	default:
	}
	if s.cur != gen || s.State() != StateStarting {
		s.mu.Unlock()
		return ErrStartCancelled
	}
	gen.handle.State = HandleRunning
	s.setState(StateRunning)
	s.mu.Unlock()

	s.opts.Logger.Info("backend ready", "pid", gen.handle.PID, "port", s.opts.Port)
	s.info("Backend ready on port %d", s.opts.Port)
	return nil
}

// abortStart kills a half-started backend and records the failure. A start
// cancelled by Stop or by ctx ends Idle; every other failure ends Failed.
func (s *Supervisor) abortStart(gen *generation, cause error) {
	if gen.proc != nil {
		if err := gen.proc.Kill(); err != nil {
			s.opts.Logger.Debug("kill during aborted start", "err", err)
		}
		<-gen.exited
	}

	cancelled := KindOf(cause) == KindCancelled

	s.mu.Lock()
	gen.handle.State = HandleFailed
	if s.cur == gen {
		s.cur = nil
	}
	if cancelled {
		s.setState(StateIdle)
	} else {
		s.lastErr = cause
		s.setState(StateFailed)
	}
	s.mu.Unlock()

	if cancelled {
		s.info("Backend start cancelled")
	} else {
		s.errorEvent("Backend failed to start: %s", cause)
	}
	gen.finish()
}

// handleExit runs after every process exit. Only an exit while Running
// that nobody asked for is handled here; Start and Stop own the others.
func (s *Supervisor) handleExit(gen *generation) {
	s.mu.Lock()
	if s.cur != gen || gen.stopping.Load() || s.State() != StateRunning {
		s.mu.Unlock()
		return
	}
	err := &UnexpectedExitError{
		Code:           gen.exitCode,
		Classification: Classify(gen.exitCode),
		Tail:           gen.tail.snapshot(),
	}
	gen.handle.State = HandleFailed
	s.cur = nil
	s.lastErr = err
	s.setState(StateFailed)
	s.mu.Unlock()

	s.opts.Logger.Error("backend exited unexpectedly", "pid", gen.handle.PID, "code", gen.exitCode, "classification", err.Classification)
	s.opts.Metrics.UnexpectedExit(string(err.Classification))
	s.errorEvent("Backend exited unexpectedly with code %s (%s). %s%s",
		gen.exitCode, err.Classification, err.Classification.Hint(), tailSuffix(err.Tail))

	select {
	case s.errCh <- err:
	default:
	}
	gen.finish()
}

// Stop terminates the backend and returns once it is gone. It terminates
// first and kills after StopTimeout. Stopping an idle or failed supervisor
// is a no-op that leaves it Idle. A Stop during Starting cancels the start.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	gen := s.cur
	switch s.State() {
	case StateIdle:
		s.mu.Unlock()
		return nil
	case StateFailed:
		s.setState(StateIdle)
		s.mu.Unlock()
		return nil
	case StateStarting:
		gen.stopping.Store(true)
		s.setState(StateStopping)
		s.mu.Unlock()
		gen.cancel()
		<-gen.done
		return nil
	case StateStopping:
		s.mu.Unlock()
		if gen != nil {
			<-gen.done
		}
		return nil
	}

	// Running.
	gen.stopping.Store(true)
	s.setState(StateStopping)
	s.mu.Unlock()

	s.info("Stopping backend (pid %d)", gen.handle.PID)
	killed, err := s.terminate(gen)

	s.mu.Lock()
	gen.handle.State = HandleStopped
	if s.cur == gen {
		s.cur = nil
	}
	s.setState(StateIdle)
	s.mu.Unlock()

	if killed {
		s.info("Backend did not exit within %s and was killed", s.opts.StopTimeout)
	} else {
		s.info("Backend stopped")
	}
	gen.finish()
	return err
}

// terminate runs the two-phase stop and reports whether a kill was needed.
func (s *Supervisor) terminate(gen *generation) (killed bool, err error) {
	started := s.opts.Clock.Now()
	defer func() { s.opts.Metrics.StopFinished(s.opts.Clock.Since(started), killed) }()

	if terr := gen.proc.Terminate(); terr != nil {
		s.opts.Logger.Debug("terminate failed, killing", "pid", gen.handle.PID, "err", terr)
	} else {
		select {
		case <-gen.exited:
			return false, nil
		case <-s.opts.Clock.After(s.opts.StopTimeout):
		}
	}

	if kerr := gen.proc.Kill(); kerr != nil {
		err = fmt.Errorf("kill backend (pid %d): %w", gen.handle.PID, kerr)
	}
	<-gen.exited
	return true, err
}

// Restart stops the backend, pauses for RestartDelay and starts it again
// for projectPath.
func (s *Supervisor) Restart(ctx context.Context, projectPath string) error {
	if err := s.Stop(); err != nil {
		return fmt.Errorf("restart: %w", err)
	}
	s.info("Restarting backend in %s", s.opts.RestartDelay)
	select {
	case <-s.opts.Clock.After(s.opts.RestartDelay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.Start(ctx, projectPath)
}

// setState must be called with mu held.
func (s *Supervisor) setState(to State) {
	from := State(s.state.Swap(int32(to)))
	if from != to {
		s.opts.Metrics.StateTransition(from.String(), to.String())
		s.opts.Logger.Debug("state transition", "from", from, "to", to)
	}
}

func (s *Supervisor) entryScript() string {
	if filepath.IsAbs(s.opts.EntryScript) || s.opts.AppRoot == "" {
		return s.opts.EntryScript
	}
	return filepath.Join(s.opts.AppRoot, s.opts.EntryScript)
}

func (s *Supervisor) emit(e lifecyclelog.Event) {
	if err := s.opts.Events.Write(e); err != nil {
		s.opts.Logger.Warn("writing lifecycle event failed", "err", err)
	}
}

func (s *Supervisor) info(format string, args ...any) {
	s.emit(lifecyclelog.Event{Level: lifecyclelog.LevelInfo, Message: fmt.Sprintf(format, args...)})
}

func (s *Supervisor) errorEvent(format string, args ...any) {
	s.emit(lifecyclelog.Event{Level: lifecyclelog.LevelError, Message: fmt.Sprintf(format, args...)})
}

func (g *generation) finish() {
	g.doneOnce.Do(func() { close(g.done) })
}

func (discardSink) Write(lifecyclelog.Event) error { return nil }

func describeProject(path string) string {
	if path == "" {
		return "no project (waiting for selection)"
	}
	return path
}
