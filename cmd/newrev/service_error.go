// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/newrev/newrev/internal/issue"
	"github.com/newrev/newrev/internal/supervisor"
)

// ServiceError carries what the CLI needs to explain a failure: a styled
// summary and the catalog entry with the remediation. Create it with
// newServiceError.
type ServiceError struct {
	Err           error
	IssueID       issue.Id
	StyledMessage string
}

func newServiceError(err error, issueID issue.Id, styledMessage string) *ServiceError {
	if err == nil {
		panic("ServiceError: Err must not be nil")
	}
	return &ServiceError{Err: err, IssueID: issueID, StyledMessage: styledMessage}
}

func (e *ServiceError) Error() string { return e.Err.Error() }

func (e *ServiceError) Unwrap() error { return e.Err }

// renderServiceError prints the styled message and then the issue help.
func renderServiceError(stderr io.Writer, svcErr *ServiceError, style string) {
	if svcErr == nil {
		return
	}
	if svcErr.StyledMessage != "" {
		fmt.Fprint(stderr, svcErr.StyledMessage)
	}
	if svcErr.IssueID == 0 {
		return
	}
	if entry := issue.Get(svcErr.IssueID); entry != nil {
		rendered, err := entry.Render(style)
		if err != nil {
			log.Warn("failed to render issue catalog entry", "issue", svcErr.IssueID, "err", err)
			return
		}
		fmt.Fprint(stderr, rendered)
	}
}

// describeFailure renders a backend operation failure: message, output
// tail and hint.
func describeFailure(err error) *ServiceError {
	info := supervisor.Describe(err)
	var sb strings.Builder
	sb.WriteString(ErrorStyle.Render("✗ "+info.Message) + "\n")
	if len(info.Tail) > 0 {
		sb.WriteString(SubtitleStyle.Render("Last backend output:") + "\n")
		for _, line := range info.Tail {
			sb.WriteString(renderTailStyle.Render("  │ "+line) + "\n")
		}
	}
	if info.Hint != "" {
		sb.WriteString(renderHintStyle.Render(info.Hint) + "\n")
	}
	return newServiceError(err, info.Kind.Issue(), sb.String())
}

// formatErrorForDisplay formats err for the terminal; actionable errors
// include their suggestions.
func formatErrorForDisplay(err error, verbose bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verbose)
	}
	return err.Error()
}
