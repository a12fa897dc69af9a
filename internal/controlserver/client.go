// SPDX-License-Identifier: MPL-2.0

package controlserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/r3labs/sse/v2"
	"gopkg.in/cenkalti/backoff.v1"

	"github.com/newrev/newrev/internal/lifecyclelog"
	"github.com/newrev/newrev/internal/provision"
	"github.com/newrev/newrev/internal/supervisor"
)

// DefaultClientTimeout covers the longest backend operation: a start that
// provisions a runtime.
const DefaultClientTimeout = 15 * time.Minute

// maxEventSize bounds one streamed event.
const maxEventSize = 4 << 20

// Client talks to a Server.
type Client struct {
	baseURL string
	token   AuthToken
	client  *http.Client
}

// NewClientFromEnv creates a Client from EnvControlURL and
// EnvControlToken. It returns nil when either is unset.
func NewClientFromEnv() *Client {
	addr := os.Getenv(EnvControlURL)
	token := os.Getenv(EnvControlToken)
	if addr == "" || token == "" {
		return nil
	}
	return NewClient(addr, AuthToken(token), nil)
}

// NewClient creates a Client for the server at baseURL. A nil httpClient
// selects one with DefaultClientTimeout; streaming calls ignore that
// timeout and end with their context.
func NewClient(baseURL string, token AuthToken, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultClientTimeout}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), token: token, client: httpClient}
}

// IsAvailable reports whether the server answers its health check.
func (c *Client) IsAvailable(ctx context.Context) bool {
	if c == nil {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+PathHealth, http.NoBody)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Start asks the server to start the backend for projectPath. Backend
// failures come back in the response, not as an error.
func (c *Client) Start(ctx context.Context, projectPath string) (*BackendResponse, error) {
	return c.backend(ctx, PathStart, &BackendRequest{ProjectPath: projectPath})
}

// Restart asks the server to restart the backend for projectPath.
func (c *Client) Restart(ctx context.Context, projectPath string) (*BackendResponse, error) {
	return c.backend(ctx, PathRestart, &BackendRequest{ProjectPath: projectPath})
}

// Stop asks the server to stop the backend.
func (c *Client) Stop(ctx context.Context) (*BackendResponse, error) {
	return c.backend(ctx, PathStop, nil)
}

// Status returns the supervisor snapshot.
func (c *Client) Status(ctx context.Context) (*supervisor.Status, error) {
	var st supervisor.Status
	if err := c.do(ctx, http.MethodGet, PathStatus, nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Logs returns the retained lifecycle events.
func (c *Client) Logs(ctx context.Context) ([]lifecyclelog.Event, error) {
	var resp LogsResponse
	if err := c.do(ctx, http.MethodGet, PathLogs, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

// ClearLogs empties the live feed.
func (c *Client) ClearLogs(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, PathLogs, nil, nil)
}

// StreamEvents calls fn for every retained and live event until ctx is
// done or the server closes the stream.
func (c *Client) StreamEvents(ctx context.Context, fn func(lifecyclelog.Event)) error {
	return c.stream(ctx, PathEvents, func(data []byte) error {
		var e lifecyclelog.Event
		if err := json.Unmarshal(data, &e); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		fn(e)
		return nil
	})
}

// StreamProgress calls fn for every provisioning update until ctx is done.
func (c *Client) StreamProgress(ctx context.Context, fn func(provision.Progress)) error {
	return c.stream(ctx, PathProgress, func(data []byte) error {
		var p provision.Progress
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("decode progress: %w", err)
		}
		fn(p)
		return nil
	})
}

func (c *Client) backend(ctx context.Context, path string, body *BackendRequest) (*BackendResponse, error) {
	var resp BackendResponse
	err := c.do(ctx, http.MethodPost, path, body, &resp)
	var se *StatusError
	// Failed operations still carry a BackendResponse.
	if errors.As(err, &se) && se.Response != nil {
		return se.Response, nil
	}
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// StatusError is returned for non-2xx answers.
type StatusError struct {
	Code     int
	Message  string
	Response *BackendResponse
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("control server answered %d: %s", e.Code, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader = http.NoBody
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.token.String())

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		se := &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		var br BackendResponse
		if json.Unmarshal(data, &br) == nil && br.Error != nil {
			se.Response = &br
			se.Message = br.Error.Message
		} else {
			var er errorResponse
			if json.Unmarshal(data, &er) == nil && er.Error != "" {
				se.Message = er.Error
			}
		}
		return se
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// stream reads server-sent events from path and hands each data payload to
// fn. Comments and event names are ignored. The stream is not reopened
// after the server closes it.
func (c *Client) stream(ctx context.Context, path string, fn func([]byte) error) error {
	streaming := *c.client
	streaming.Timeout = 0

	sc := sse.NewClient(c.baseURL+path, sse.ClientMaxBufferSize(maxEventSize))
	sc.Connection = &streaming
	sc.Headers["Authorization"] = "Bearer " + c.token.String()
	sc.ReconnectStrategy = &backoff.StopBackOff{}
	sc.ResponseValidator = func(_ *sse.Client, resp *http.Response) error {
		if resp.StatusCode == http.StatusOK {
			return nil
		}
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		_ = resp.Body.Close()
		return &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}

	var handlerErr error
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	err := sc.SubscribeRawWithContext(streamCtx, func(msg *sse.Event) {
		if handlerErr != nil || len(msg.Data) == 0 {
			return
		}
		if handlerErr = fn(msg.Data); handlerErr != nil {
			cancel()
		}
	})
	switch {
	case handlerErr != nil:
		return handlerErr
	case ctx.Err() != nil:
		return ctx.Err()
	case err != nil:
		var se *StatusError
		if errors.As(err, &se) {
			return se
		}
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}
