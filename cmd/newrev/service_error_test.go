// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/newrev/newrev/internal/issue"
	"github.com/newrev/newrev/internal/supervisor"
)

func TestNewServiceError_PanicsOnNil(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Error("newServiceError(nil) did not panic")
		}
	}()
	_ = newServiceError(nil, issue.PortInUseId, "")
}

func TestRenderServiceError(t *testing.T) {
	t.Parallel()

	t.Run("nil is silent", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		renderServiceError(&buf, nil, "dark")
		if buf.Len() != 0 {
			t.Errorf("output = %q, want empty", buf.String())
		}
	})

	t.Run("message without issue", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		renderServiceError(&buf, newServiceError(errors.New("boom"), 0, "styled boom\n"), "dark")
		if buf.String() != "styled boom\n" {
			t.Errorf("output = %q", buf.String())
		}
	})

	t.Run("issue help follows message", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		renderServiceError(&buf, newServiceError(errors.New("boom"), issue.PortInUseId, "first\n"), "dark")
		out := buf.String()
		if !strings.HasPrefix(out, "first\n") || len(out) <= len("first\n") {
			t.Errorf("output = %q, want message then rendered issue", out)
		}
	})
}

func TestDescribeFailure(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("start: %w", &supervisor.StartupTimeoutError{
		Timeout: 30 * time.Second,
		Tail:    []string{"Loading models", "still loading"},
	})
	svcErr := describeFailure(err)
	if svcErr.IssueID != issue.StartupTimeoutId {
		t.Errorf("IssueID = %v, want StartupTimeoutId", svcErr.IssueID)
	}
	for _, want := range []string{"did not report ready within 30s", "Last backend output", "still loading"} {
		if !strings.Contains(svcErr.StyledMessage, want) {
			t.Errorf("styled message missing %q:\n%s", want, svcErr.StyledMessage)
		}
	}
	if !errors.Is(svcErr, err) {
		t.Error("ServiceError does not unwrap to its cause")
	}
}
