// SPDX-License-Identifier: MPL-2.0

package controlserver

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/charmbracelet/log"

	"github.com/newrev/newrev/internal/core/serverbase"
	"github.com/newrev/newrev/internal/lifecyclelog"
	"github.com/newrev/newrev/internal/provision"
	"github.com/newrev/newrev/internal/supervisor"
)

const (
	// DefaultAddr is where the UI expects the server.
	DefaultAddr = "127.0.0.1:5055"
	// DefaultKeepAlive is the SSE comment interval that keeps proxies and
	// the UI from timing out an idle stream.
	DefaultKeepAlive = 15 * time.Second

	tokenBytes   = 32
	maxBodyBytes = 64 << 10
)

type (
	// Backend is the supervisor surface the server drives. *app.Service
	// satisfies it.
	Backend interface {
		Start(ctx context.Context, projectPath string) error
		Stop() error
		Restart(ctx context.Context, projectPath string) error
		Status() supervisor.Status
	}

	// EventFeed is the lifecycle log surface the server reads.
	// *lifecyclelog.Log satisfies it.
	EventFeed interface {
		ReadAll() []lifecyclelog.Event
		Subscribe() (<-chan lifecyclelog.Event, func())
		Clear()
	}

	// Options configures a Server. Backend and Events are required.
	Options struct {
		// Addr is host:port; port 0 picks a free port.
		Addr string
		// Token empty generates a random one.
		Token    AuthToken
		Backend  Backend
		Events   EventFeed
		Progress *provision.Feed
		// Metrics, when set, is served unauthenticated at /metrics.
		Metrics   http.Handler
		KeepAlive time.Duration
		Logger    *log.Logger
		// ShutdownTimeout bounds graceful shutdown.
		ShutdownTimeout time.Duration
	}

	// Server is the UI-facing HTTP server.
	Server struct {
		base   *serverbase.Base
		http   *http.Server
		opts   Options
		token  AuthToken
		logger *log.Logger
	}
)

// New creates a Server. It does not listen until Start.
func New(opts Options) (*Server, error) {
	if opts.Backend == nil || opts.Events == nil {
		return nil, errors.New("controlserver: backend and events are required")
	}
	if opts.Addr == "" {
		opts.Addr = DefaultAddr
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = DefaultKeepAlive
	}
	if opts.Logger == nil {
		opts.Logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "control-server", Level: log.WarnLevel})
	}

	token := opts.Token
	if token == "" {
		t, err := generateToken(tokenBytes)
		if err != nil {
			return nil, fmt.Errorf("controlserver: generate token: %w", err)
		}
		token = AuthToken(t)
	}
	if err := token.Validate(); err != nil {
		return nil, fmt.Errorf("controlserver: %w", err)
	}

	baseOpts := []serverbase.Option{serverbase.WithLogger(opts.Logger)}
	if opts.ShutdownTimeout > 0 {
		baseOpts = append(baseOpts, serverbase.WithShutdownTimeout(opts.ShutdownTimeout))
	}
	s := &Server{
		base:   serverbase.NewBase("control-server", baseOpts...),
		opts:   opts,
		token:  token,
		logger: opts.Logger,
	}
	s.http = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		// Request contexts end when the server shuts down, which releases
		// long-lived event streams.
		BaseContext: func(net.Listener) context.Context { return s.base.Context() },
	}
	return s, nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+PathHealth, s.handleHealth)
	mux.Handle("POST "+PathStart, s.auth(http.HandlerFunc(s.handleStart)))
	mux.Handle("POST "+PathStop, s.auth(http.HandlerFunc(s.handleStop)))
	mux.Handle("POST "+PathRestart, s.auth(http.HandlerFunc(s.handleRestart)))
	mux.Handle("GET "+PathStatus, s.auth(http.HandlerFunc(s.handleStatus)))
	mux.Handle("GET "+PathEvents, s.auth(http.HandlerFunc(s.handleEvents)))
	mux.Handle("GET "+PathProgress, s.auth(http.HandlerFunc(s.handleProgress)))
	mux.Handle("GET "+PathLogs, s.auth(http.HandlerFunc(s.handleLogs)))
	mux.Handle("DELETE "+PathLogs, s.auth(http.HandlerFunc(s.handleClearLogs)))
	if s.opts.Metrics != nil {
		mux.Handle("GET "+PathMetrics, s.opts.Metrics)
	}
	return mux
}

// Start listens and serves in the background. It returns once the
// listener is accepting connections.
func (s *Server) Start(ctx context.Context) error {
	return s.base.Launch(ctx, s.opts.Addr, s.http.Serve, http.ErrServerClosed)
}

// Stop shuts the server down gracefully. It is idempotent.
func (s *Server) Stop() error {
	return s.base.Shutdown(s.http.Shutdown)
}

// Err reports a serve failure after Start returned.
func (s *Server) Err() <-chan error { return s.base.Err() }

// State returns the server lifecycle state.
func (s *Server) State() serverbase.State { return s.base.State() }

// Addr returns the listening address once started.
func (s *Server) Addr() string { return s.base.Addr() }

// URL returns the base URL, e.g. "http://127.0.0.1:5055".
func (s *Server) URL() string { return "http://" + s.base.Addr() }

// Token returns the bearer token clients must present.
func (s *Server) Token() AuthToken { return s.token }

func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		presented := r.URL.Query().Get(tokenQueryName)
		if h := r.Header.Get("Authorization"); h != "" {
			presented = trimBearer(h)
		}
		if subtle.ConstantTimeCompare([]byte(presented), []byte(s.token)) != 1 {
			s.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func trimBearer(h string) string {
	const prefix = "Bearer "
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

// generateToken returns n random bytes hex-encoded.
func generateToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
