// SPDX-License-Identifier: MPL-2.0

package sshfeed

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"

	"github.com/newrev/newrev/internal/core/serverbase"
	"github.com/newrev/newrev/internal/lifecyclelog"
)

const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 5022
)

// ErrNoPassword is returned by New when Config.Password is blank.
var ErrNoPassword = errors.New("sshfeed: a password is required")

type (
	// EventSource is the feed a session streams. *lifecyclelog.Log
	// satisfies it.
	EventSource interface {
		ReadAll() []lifecyclelog.Event
		Subscribe() (<-chan lifecyclelog.Event, func())
	}

	// Config holds the server configuration.
	Config struct {
		Host string
		// Port 0 picks a free port.
		Port int
		// Password is compared against the SSH password; the user name is
		// ignored.
		Password string
		// HostKeyPath is created on first use when missing.
		HostKeyPath     string
		Events          EventSource
		Logger          *log.Logger
		ShutdownTimeout time.Duration
	}

	// Server streams events to SSH sessions.
	Server struct {
		cfg    Config
		base   *serverbase.Base
		srv    *ssh.Server
		logger *log.Logger
	}
)

// New creates a Server. It does not listen until Start.
func New(cfg Config) (*Server, error) {
	if cfg.Password == "" {
		return nil, ErrNoPassword
	}
	if cfg.Events == nil {
		return nil, errors.New("sshfeed: an event source is required")
	}
	if cfg.HostKeyPath == "" {
		return nil, errors.New("sshfeed: a host key path is required")
	}
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "ssh-feed", Level: log.WarnLevel})
	}

	opts := []serverbase.Option{serverbase.WithLogger(cfg.Logger)}
	if cfg.ShutdownTimeout > 0 {
		opts = append(opts, serverbase.WithShutdownTimeout(cfg.ShutdownTimeout))
	}
	s := &Server{cfg: cfg, base: serverbase.NewBase("ssh-feed", opts...), logger: cfg.Logger}

	srv, err := wish.NewServer(
		wish.WithHostKeyPath(cfg.HostKeyPath),
		wish.WithPasswordAuth(s.passwordHandler),
		wish.WithPublicKeyAuth(s.publicKeyHandler),
		wish.WithMiddleware(s.feedMiddleware()),
	)
	if err != nil {
		return nil, fmt.Errorf("sshfeed: create server: %w", err)
	}
	s.srv = srv
	return s, nil
}

// Start listens and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	return s.base.Launch(ctx, addr, s.srv.Serve, ssh.ErrServerClosed)
}

// Stop ends every session and closes the listener. It is idempotent.
// Sessions end on their own once the server context is cancelled, so the
// connections are closed without waiting for clients to hang up.
func (s *Server) Stop() error {
	return s.base.Shutdown(func(context.Context) error {
		return s.srv.Close()
	})
}

// Addr returns the bound address once started.
func (s *Server) Addr() string { return s.base.Addr() }

// State returns the lifecycle state.
func (s *Server) State() serverbase.State { return s.base.State() }

// Err reports a serve failure after Start returned.
func (s *Server) Err() <-chan error { return s.base.Err() }

func (s *Server) passwordHandler(ctx ssh.Context, password string) bool {
	ok := subtle.ConstantTimeCompare([]byte(password), []byte(s.cfg.Password)) == 1
	if !ok {
		s.logger.Warn("rejected login", "user", ctx.User(), "remote", ctx.RemoteAddr())
	}
	return ok
}

func (s *Server) publicKeyHandler(ssh.Context, ssh.PublicKey) bool {
	return false
}

// feedMiddleware replaces the session with the event stream: retained
// events first, then live ones until the client disconnects or the server
// stops.
func (s *Server) feedMiddleware() wish.Middleware {
	return func(ssh.Handler) ssh.Handler {
		return func(sess ssh.Session) {
			s.logger.Info("session opened", "user", sess.User(), "remote", sess.RemoteAddr())
			newline := "\n"
			if _, _, isPty := sess.Pty(); isPty {
				newline = "\r\n"
			}
			err := s.stream(sess.Context(), sess, newline)
			s.logger.Info("session closed", "user", sess.User(), "err", err)
			_ = sess.Exit(0)
		}
	}
}

func (s *Server) stream(sessCtx context.Context, w io.Writer, newline string) error {
	ch, unsubscribe := s.cfg.Events.Subscribe()
	defer unsubscribe()

	seen := make(map[lifecyclelog.Event]int)
	for _, e := range s.cfg.Events.ReadAll() {
		seen[e]++
		if _, err := io.WriteString(w, e.Line()+newline); err != nil {
			return err
		}
	}

	srvCtx := s.base.Context()
	for {
		select {
		case <-sessCtx.Done():
			return nil
		case <-srvCtx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			if seen[e] > 0 {
				seen[e]--
				continue
			}
			if _, err := io.WriteString(w, e.Line()+newline); err != nil {
				return err
			}
		}
	}
}
