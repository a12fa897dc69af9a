// SPDX-License-Identifier: MPL-2.0

package controlserver

import (
	"errors"
	"fmt"
	"strings"

	"github.com/newrev/newrev/internal/lifecyclelog"
	"github.com/newrev/newrev/internal/supervisor"
)

const (
	// EnvControlURL and EnvControlToken let child tools find the server.
	EnvControlURL   = "NEWREV_CONTROL_URL"
	EnvControlToken = "NEWREV_CONTROL_TOKEN"

	PathHealth     = "/health"
	PathStart      = "/api/backend/start"
	PathStop       = "/api/backend/stop"
	PathRestart    = "/api/backend/restart"
	PathStatus     = "/api/backend/status"
	PathEvents     = "/api/events"
	PathProgress   = "/api/provision/progress"
	PathLogs       = "/api/logs"
	PathMetrics    = "/metrics"
	tokenQueryName = "token"

	// SSE event names.
	sseEvent    = "event"
	sseProgress = "progress"
)

// ErrInvalidAuthToken is the sentinel error wrapped by InvalidAuthTokenError.
var ErrInvalidAuthToken = errors.New("invalid auth token")

type (
	// AuthToken authenticates UI requests. It must not be blank.
	AuthToken string

	// InvalidAuthTokenError is returned for a blank AuthToken.
	InvalidAuthTokenError struct {
		Value AuthToken
	}

	// BackendRequest is the body of start and restart. An empty
	// ProjectPath starts the backend waiting for a project.
	BackendRequest struct {
		ProjectPath string `json:"projectPath"`
	}

	// BackendResponse answers start, stop and restart.
	BackendResponse struct {
		Success bool                  `json:"success"`
		Error   *supervisor.ErrorInfo `json:"error,omitempty"`
		Status  *supervisor.Status    `json:"status,omitempty"`
	}

	// LogsResponse answers GET /api/logs.
	LogsResponse struct {
		Events []lifecyclelog.Event `json:"events"`
	}

	// errorResponse answers requests rejected before reaching the backend.
	errorResponse struct {
		Error string `json:"error"`
	}
)

func (t AuthToken) String() string { return string(t) }

// Validate reports whether t can be used as a token.
func (t AuthToken) Validate() error {
	if strings.TrimSpace(string(t)) == "" {
		return &InvalidAuthTokenError{Value: t}
	}
	return nil
}

func (e *InvalidAuthTokenError) Error() string {
	return fmt.Sprintf("invalid auth token %q: must be non-empty", e.Value)
}

func (e *InvalidAuthTokenError) Unwrap() error { return ErrInvalidAuthToken }
