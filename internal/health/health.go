// SPDX-License-Identifier: MPL-2.0

package health

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/charmbracelet/log"

	"github.com/newrev/newrev/pkg/types"
)

const (
	// DefaultPath is a cheap GET route served by the backend.
	DefaultPath = "/api/get_files"
	// DefaultAttempts with DefaultBaseBackoff waits a little over 12s in
	// total before giving up.
	DefaultAttempts       = 8
	DefaultBaseBackoff    = 100 * time.Millisecond
	DefaultRequestTimeout = 2 * time.Second
)

// ErrNotAnswering is wrapped by NotReadyError.
var ErrNotAnswering = errors.New("backend is not answering HTTP requests")

type (
	// Options configures WaitReady.
	Options struct {
		// URL is probed with GET. Use URL to build it from a port.
		URL            string
		Attempts       int
		BaseBackoff    time.Duration
		RequestTimeout time.Duration
		HTTPClient     *http.Client
		Logger         *log.Logger
	}

	// NotReadyError is returned when every probe failed.
	NotReadyError struct {
		URL      string
		Attempts int
		Last     error
	}

	// serverError marks a 5xx answer. The server is up but broken, which is
	// still worth retrying while it finishes initializing.
	serverError struct {
		status int
	}
)

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("%s: %s after %d attempts: %v", ErrNotAnswering, e.URL, e.Attempts, e.Last)
}

func (e *NotReadyError) Unwrap() error { return ErrNotAnswering }

func (e *serverError) Error() string {
	return fmt.Sprintf("server answered %d", e.status)
}

// URL returns the probe URL for a backend listening on port.
func URL(port types.ListenPort, path string) string {
	if path == "" {
		path = DefaultPath
	}
	if path[0] != '/' {
		path = "/" + path
	}
	return fmt.Sprintf("http://127.0.0.1:%d%s", port, path)
}

// WaitReady polls opts.URL until the backend answers with a status below
// 500. Connection errors and 5xx answers are retried with exponential
// backoff; a cancelled ctx ends the wait at once.
func WaitReady(ctx context.Context, opts Options) error {
	if opts.URL == "" {
		return errors.New("health: a probe URL is required")
	}
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultAttempts
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = DefaultBaseBackoff
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	client := opts.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "health", Level: log.WarnLevel})
	}

	err := RetryWithBackoff(ctx, opts.Attempts, opts.BaseBackoff, func(attempt int) (bool, error) {
		status, err := probe(ctx, client, opts.URL, opts.RequestTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			logger.Debug("backend not answering yet", "url", opts.URL, "attempt", attempt+1, "err", err)
			return true, err
		}
		if status >= http.StatusInternalServerError {
			logger.Debug("backend answered with a server error", "url", opts.URL, "attempt", attempt+1, "status", status)
			return true, &serverError{status: status}
		}
		return false, nil
	})
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return fmt.Errorf("wait for backend: %w", ctx.Err())
	default:
		return &NotReadyError{URL: opts.URL, Attempts: opts.Attempts, Last: err}
	}
}

func probe(ctx context.Context, client *http.Client, url string, timeout time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	return resp.StatusCode, nil
}
