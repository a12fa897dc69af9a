// SPDX-License-Identifier: MPL-2.0

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/newrev/newrev/internal/issue"
	"github.com/newrev/newrev/internal/portguard"
	"github.com/newrev/newrev/internal/provision"
	"github.com/newrev/newrev/internal/runtimeenv"
	"github.com/newrev/newrev/pkg/types"
)

const (
	KindRuntimeNotFound   Kind = "runtime_not_found"
	KindProvisionFailed   Kind = "provision_failed"
	KindPortInUse         Kind = "port_in_use"
	KindStartupTimeout    Kind = "startup_timeout"
	KindDependencyMissing Kind = "dependency_missing"
	KindUnexpectedExit    Kind = "unexpected_exit"
	KindInvalidState      Kind = "invalid_state"
	KindCancelled         Kind = "cancelled"
	KindUnknown           Kind = "unknown"
)

const (
	ClassGenericFailure    Classification = "generic_failure"
	ClassDependencyFailure Classification = "dependency_failure"
	ClassSignaled          Classification = "signaled"
	ClassUnknown           Classification = "unknown"
)

var (
	// ErrInvalidState is returned when an operation is not allowed in the
	// current state, e.g. Start while a backend is already running.
	ErrInvalidState = errors.New("invalid supervisor state")
	// ErrStartCancelled is returned by a Start that Stop interrupted.
	ErrStartCancelled = errors.New("start cancelled by stop")
)

type (
	// Kind is the stable, machine-readable category of a start failure.
	Kind string

	// Classification buckets an exit code.
	Classification string

	// StartupTimeoutError is returned when no readiness banner appeared in
	// time. Tail holds the last output lines.
	StartupTimeoutError struct {
		Timeout time.Duration
		Tail    []string
	}

	// DependencyMissingError is returned as soon as the backend prints an
	// import failure during startup.
	DependencyMissingError struct {
		Line string
		Tail []string
	}

	// UnexpectedExitError is returned (during startup) or published on
	// Errors (while running) when the backend exits without being asked.
	UnexpectedExitError struct {
		Code           types.ExitCode
		Classification Classification
		DuringStartup  bool
		Tail           []string
	}

	// InvalidStateError reports the state that rejected an operation.
	InvalidStateError struct {
		Op    string
		State State
	}

	// ErrorInfo is the serializable form of a start failure.
	ErrorInfo struct {
		Kind    Kind     `json:"kind"`
		Message string   `json:"message"`
		Tail    []string `json:"tail,omitempty"`
		Hint    string   `json:"hint,omitempty"`
	}
)

func (e *StartupTimeoutError) Error() string {
	return fmt.Sprintf("backend did not report ready within %s%s", e.Timeout, tailSuffix(e.Tail))
}

func (e *DependencyMissingError) Error() string {
	return "backend is missing a Python dependency: " + strings.TrimSpace(e.Line)
}

func (e *UnexpectedExitError) Error() string {
	when := "while running"
	if e.DuringStartup {
		when = "during startup"
	}
	return fmt.Sprintf("backend exited %s with code %s (%s)%s", when, e.Code, e.Classification, tailSuffix(e.Tail))
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s: backend is %s", e.Op, e.State)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// Classify buckets an exit code. The backend exits 1 when it cannot bind
// its port, runs in the wrong directory or is not inside a git repository,
// and 2 when an import fails.
func Classify(code types.ExitCode) Classification {
	switch code {
	case types.ExitCodeGenericFailure:
		return ClassGenericFailure
	case types.ExitCodeDependencyFailure:
		return ClassDependencyFailure
	case types.ExitCodeSignaled:
		return ClassSignaled
	default:
		return ClassUnknown
	}
}

// Hint returns a one-line remediation for the classification.
func (c Classification) Hint() string {
	switch c {
	case ClassGenericFailure:
		return "The backend could not start: its port may be taken, the working directory may be wrong, or the project is not a git repository."
	case ClassDependencyFailure:
		return "A Python dependency could not be imported; run 'newrev runtime provision' to rebuild the isolated runtime."
	case ClassSignaled:
		return "The backend was terminated by a signal."
	default:
		return "The backend exited with an unexpected code; check the log for details."
	}
}

// KindOf maps an error from Start or Restart to its Kind.
func KindOf(err error) Kind {
	var (
		provErr    *provision.ProvisionError
		portErr    *portguard.PortInUseError
		timeoutErr *StartupTimeoutError
		depErr     *DependencyMissingError
		exitErr    *UnexpectedExitError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &provErr):
		return KindProvisionFailed
	case errors.Is(err, runtimeenv.ErrNotFound):
		return KindRuntimeNotFound
	case errors.As(err, &portErr):
		return KindPortInUse
	case errors.As(err, &timeoutErr):
		return KindStartupTimeout
	case errors.As(err, &depErr):
		return KindDependencyMissing
	case errors.As(err, &exitErr):
		return KindUnexpectedExit
	case errors.Is(err, ErrInvalidState):
		return KindInvalidState
	case errors.Is(err, ErrStartCancelled), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	default:
		return KindUnknown
	}
}

// Issue returns the catalog entry explaining the kind, or 0 when there
// is none.
func (k Kind) Issue() issue.Id {
	switch k {
	case KindRuntimeNotFound:
		return issue.RuntimeNotFoundId
	case KindProvisionFailed:
		return issue.ProvisionFailedId
	case KindPortInUse:
		return issue.PortInUseId
	case KindStartupTimeout:
		return issue.StartupTimeoutId
	case KindDependencyMissing:
		return issue.DependencyMissingId
	case KindUnexpectedExit:
		return issue.UnexpectedExitId
	case KindInvalidState:
		return issue.InvalidStateId
	default:
		return 0
	}
}

// Describe converts err into its serializable form.
func Describe(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	info := &ErrorInfo{Kind: KindOf(err), Message: err.Error()}

	var (
		timeoutErr *StartupTimeoutError
		depErr     *DependencyMissingError
		exitErr    *UnexpectedExitError
	)
	switch {
	case errors.As(err, &timeoutErr):
		info.Tail = timeoutErr.Tail
		info.Message = fmt.Sprintf("backend did not report ready within %s", timeoutErr.Timeout)
	case errors.As(err, &depErr):
		info.Tail = depErr.Tail
		info.Hint = ClassDependencyFailure.Hint()
	case errors.As(err, &exitErr):
		short := *exitErr
		short.Tail = nil
		info.Message = short.Error()
		info.Tail = exitErr.Tail
		info.Hint = exitErr.Classification.Hint()
	}
	return info
}

func tailSuffix(tail []string) string {
	if len(tail) == 0 {
		return ""
	}
	return "; last output:\n  " + strings.Join(tail, "\n  ")
}
