// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/newrev/newrev/internal/app"
	"github.com/newrev/newrev/internal/config"
	"github.com/newrev/newrev/internal/runtimeenv"
)

// staticConfig serves one config value regardless of options.
type staticConfig struct {
	cfg    *config.Config
	source string
	err    error
}

func (s staticConfig) LoadWithSource(context.Context, config.LoadOptions) (*config.Config, string, error) {
	if s.err != nil {
		return nil, "", s.err
	}
	cp := *s.cfg
	return &cp, s.source, nil
}

// rejectingRunner fails every interpreter probe.
type rejectingRunner struct{}

func (rejectingRunner) Run(context.Context, runtimeenv.Command) ([]byte, error) {
	return []byte("No module named flask"), errors.New("exit status 1")
}

type testHarness struct {
	app    *App
	stdout *bytes.Buffer
	stderr *bytes.Buffer
}

func newHarness(t *testing.T, cfg *config.Config) *testHarness {
	t.Helper()
	h := &testHarness{stdout: &bytes.Buffer{}, stderr: &bytes.Buffer{}}
	h.app = NewApp(Dependencies{
		Config: staticConfig{cfg: cfg},
		NewService: func(cfg *config.Config, logger *log.Logger) (*app.Service, error) {
			return app.New(cfg, app.Dependencies{Runner: rejectingRunner{}, Logger: logger})
		},
		Stdout: h.stdout,
		Stderr: h.stderr,
	})
	return h
}

func (h *testHarness) run(args ...string) error {
	return h.runContext(context.Background(), args...)
}

func (h *testHarness) runContext(ctx context.Context, args ...string) error {
	root := NewRootCommand(h.app)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// isolatedConfig keeps every path the service touches under a temp dir.
func isolatedConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Backend.AppRoot = dir
	cfg.Backend.CheckPort = false
	cfg.Backend.HealthCheck = false
	cfg.Runtime.Python = filepath.Join(dir, "missing", "python3")
	cfg.Provision.Enabled = false
	cfg.Provision.InstallDir = filepath.Join(dir, "runtime")
	cfg.Log.Path = filepath.Join(dir, "logs", "backend.log")
	cfg.Control.Metrics = false
	cfg.UI.ColorScheme = config.ColorSchemeDark
	return cfg
}
