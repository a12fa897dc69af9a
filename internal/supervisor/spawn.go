// SPDX-License-Identifier: MPL-2.0

package supervisor

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/newrev/newrev/pkg/types"
)

// waitDelay bounds how long Wait keeps reading output after the backend
// exits, in case a grandchild inherited its pipes.
const waitDelay = 2 * time.Second

type (
	// SpawnSpec is the full description of the backend command.
	SpawnSpec struct {
		Path string
		Args []string
		Dir  string
		// Env is the complete environment; nothing is inherited implicitly.
		Env []string
	}

	// Process is a running backend.
	Process interface {
		Pid() int
		// Stdout and Stderr reach EOF once the process has exited and all
		// output has been delivered.
		Stdout() io.Reader
		Stderr() io.Reader
		// Terminate asks the process to exit (SIGTERM; a hard kill on
		// Windows).
		Terminate() error
		Kill() error
		// Wait blocks until the process exits. It must be called exactly
		// once.
		Wait() (types.ExitCode, error)
	}

	// Spawner starts backend processes.
	Spawner interface {
		Spawn(spec SpawnSpec) (Process, error)
	}

	// ExecSpawner starts real processes with os/exec.
	ExecSpawner struct{}

	execProcess struct {
		cmd              *exec.Cmd
		stdout, stderr   *io.PipeReader
		stdoutW, stderrW *io.PipeWriter
		killOnce         sync.Once
	}
)

// Spawn implements Spawner. Output goes through in-memory pipes that are
// closed after Wait, so readers see every byte the child wrote before EOF.
func (ExecSpawner) Spawn(spec SpawnSpec) (Process, error) {
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	cmd.WaitDelay = waitDelay
	setProcessGroup(cmd)

	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	cmd.Stdout = outW
	cmd.Stderr = errW

	if err := cmd.Start(); err != nil {
		_ = outW.Close()
		_ = errW.Close()
		return nil, fmt.Errorf("spawn %s: %w", spec.Path, err)
	}
	return &execProcess{cmd: cmd, stdout: outR, stderr: errR, stdoutW: outW, stderrW: errW}, nil
}

func (p *execProcess) Pid() int          { return p.cmd.Process.Pid }
func (p *execProcess) Stdout() io.Reader { return p.stdout }
func (p *execProcess) Stderr() io.Reader { return p.stderr }

func (p *execProcess) Terminate() error {
	return terminate(p.cmd)
}

func (p *execProcess) Kill() error {
	var err error
	p.killOnce.Do(func() { err = kill(p.cmd) })
	return err
}

func (p *execProcess) Wait() (types.ExitCode, error) {
	err := p.cmd.Wait()
	_ = p.stdoutW.Close()
	_ = p.stderrW.Close()

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return 0, nil
	case errors.As(err, &exitErr):
		return types.ExitCode(exitErr.ExitCode()), nil
	case errors.Is(err, exec.ErrWaitDelay):
		// The backend exited; only a leftover pipe holder was cut off.
		return types.ExitCode(p.cmd.ProcessState.ExitCode()), nil
	default:
		return types.ExitCodeSignaled, fmt.Errorf("wait for backend: %w", err)
	}
}
