// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"

	"github.com/newrev/newrev/internal/app"
	"github.com/newrev/newrev/internal/config"
	"github.com/newrev/newrev/internal/portguard"
)

type (
	// App wires CLI handlers to configuration and the backend service. All
	// commands receive an *App and never build services themselves.
	App struct {
		Config      ConfigProvider
		NewService  ServiceFactory
		PortChecker *portguard.Checker
		stdout      io.Writer
		stderr      io.Writer

		configPath string
		verbose    bool
	}

	// Dependencies are the injection points for NewApp. Nil fields are
	// replaced with production defaults.
	Dependencies struct {
		Config      ConfigProvider
		NewService  ServiceFactory
		PortChecker *portguard.Checker
		Stdout      io.Writer
		Stderr      io.Writer
	}

	// ConfigProvider loads configuration using explicit options.
	ConfigProvider interface {
		LoadWithSource(ctx context.Context, opts config.LoadOptions) (*config.Config, string, error)
	}

	// ServiceFactory builds the backend service for a loaded config.
	ServiceFactory func(cfg *config.Config, logger *log.Logger) (*app.Service, error)
)

// NewApp creates an App with production defaults for nil dependencies.
func NewApp(deps Dependencies) *App {
	a := &App{
		Config:      deps.Config,
		NewService:  deps.NewService,
		PortChecker: deps.PortChecker,
		stdout:      deps.Stdout,
		stderr:      deps.Stderr,
	}
	if a.Config == nil {
		a.Config = config.NewProvider()
	}
	if a.NewService == nil {
		a.NewService = func(cfg *config.Config, logger *log.Logger) (*app.Service, error) {
			return app.New(cfg, app.Dependencies{Logger: logger})
		}
	}
	if a.PortChecker == nil {
		a.PortChecker = portguard.New()
	}
	if a.stdout == nil {
		a.stdout = os.Stdout
	}
	if a.stderr == nil {
		a.stderr = os.Stderr
	}
	return a
}

// loadConfig loads configuration honoring --config and applies --verbose.
func (a *App) loadConfig(ctx context.Context) (*config.Config, string, error) {
	cfg, source, err := a.Config.LoadWithSource(ctx, config.LoadOptions{ConfigFilePath: a.configPath})
	if err != nil {
		return nil, "", err
	}
	if a.verbose {
		cfg.UI.Verbose = true
	}
	return cfg, source, nil
}

// logger returns the process logger for cfg, writing to stderr.
func (a *App) logger(cfg *config.Config) *log.Logger {
	level := log.WarnLevel
	if cfg.UI.Verbose {
		level = log.DebugLevel
	}
	return log.NewWithOptions(a.stderr, log.Options{Level: level, ReportTimestamp: true})
}

// issueStyle picks the glamour style for issue help.
func issueStyle(cfg *config.Config) string {
	switch cfg.UI.ColorScheme {
	case config.ColorSchemeDark:
		return "dark"
	case config.ColorSchemeLight:
		return "light"
	}
	if lipgloss.HasDarkBackground() {
		return "dark"
	}
	return "light"
}
