// SPDX-License-Identifier: MPL-2.0

package runtimeenv

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

type (
	// Command is one short-lived interpreter invocation.
	Command struct {
		Path string
		Args []string
		// Dir is the working directory; empty inherits ours.
		Dir string
		// Env is appended to the inherited environment.
		Env []string
	}

	// Runner executes a Command and returns its combined output. The
	// provisioner shares it to run venv and pip steps.
	Runner interface {
		Run(ctx context.Context, c Command) ([]byte, error)
	}

	// ExecRunner runs commands with os/exec.
	ExecRunner struct{}

	// CommandError is returned by ExecRunner when a command fails; it keeps
	// the tail of the output for diagnostics.
	CommandError struct {
		Command string
		Output  string
		Err     error
	}
)

// Run implements Runner. The context deadline kills the process.
func (ExecRunner) Run(ctx context.Context, c Command) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(cmd.Environ(), c.Env...)
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w (%w)", ctxErr, err)
		}
		return out.Bytes(), &CommandError{
			Command: strings.Join(append([]string{c.Path}, c.Args...), " "),
			Output:  out.String(),
			Err:     err,
		}
	}
	return out.Bytes(), nil
}

func (e *CommandError) Error() string {
	if last := LastLine(e.Output); last != "" {
		return fmt.Sprintf("%s: %v: %s", e.Command, e.Err, last)
	}
	return fmt.Sprintf("%s: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// LastLine returns the last non-blank line of s, which for a Python
// traceback is the exception line.
func LastLine(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\r\n\t "), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}
