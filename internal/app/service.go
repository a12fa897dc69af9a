// SPDX-License-Identifier: MPL-2.0

package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/charmbracelet/log"

	"github.com/newrev/newrev/internal/config"
	"github.com/newrev/newrev/internal/health"
	"github.com/newrev/newrev/internal/lifecyclelog"
	"github.com/newrev/newrev/internal/metrics"
	"github.com/newrev/newrev/internal/portguard"
	"github.com/newrev/newrev/internal/provision"
	"github.com/newrev/newrev/internal/runtimeenv"
	"github.com/newrev/newrev/internal/supervisor"
	"github.com/newrev/newrev/internal/testutil"
	"github.com/newrev/newrev/pkg/platform"
	"github.com/newrev/newrev/pkg/types"
)

type (
	// Dependencies are the injection points for New. Nil fields are
	// replaced with production defaults.
	Dependencies struct {
		Runner      runtimeenv.Runner
		Spawner     supervisor.Spawner
		PortChecker supervisor.PortChecker
		HTTPClient  *http.Client
		Clock       testutil.Clock
		Logger      *log.Logger
		// Health overrides the readiness probe settings; URL is always
		// derived from the backend port.
		Health health.Options
	}

	// Service owns one supervisor and everything it is wired to.
	Service struct {
		cfg         *config.Config
		logger      *log.Logger
		events      *lifecyclelog.Log
		progress    *provision.Feed
		locator     *runtimeenv.Locator
		provisioner *provision.Provisioner
		sup         *supervisor.Supervisor
		metrics     metrics.Collector
		prom        *metrics.Prometheus
		health      health.Options
	}
)

// New builds a Service from cfg. The caller owns it and must call Close.
func New(cfg *config.Config, deps Dependencies) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger := deps.Logger
	if logger == nil {
		level := log.WarnLevel
		if cfg.UI.Verbose {
			level = log.DebugLevel
		}
		logger = log.NewWithOptions(os.Stderr, log.Options{Level: level, ReportTimestamp: true})
	}
	if deps.Runner == nil {
		deps.Runner = runtimeenv.ExecRunner{}
	}

	appRoot, err := cfg.AppRoot()
	if err != nil {
		return nil, fmt.Errorf("resolve app root: %w", err)
	}
	installDir, err := cfg.InstallDir()
	if err != nil {
		return nil, err
	}
	logPath, err := cfg.LogPath()
	if err != nil {
		return nil, err
	}

	events, err := lifecyclelog.New(lifecyclelog.Options{
		Path:       logPath,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
		Retain:     cfg.Log.Retain,
		Clock:      deps.Clock,
	})
	if err != nil {
		return nil, fmt.Errorf("open lifecycle log: %w", err)
	}

	s := &Service{
		cfg:      cfg,
		logger:   logger,
		events:   events,
		progress: provision.NewFeed(),
		metrics:  metrics.Noop(),
	}
	if cfg.Control.Metrics {
		s.prom = metrics.NewPrometheus("")
		s.metrics = s.prom
	}

	s.locator = runtimeenv.New(runtimeenv.Options{
		ConfiguredPath:  cfg.Runtime.Python,
		ProvisionedVenv: provision.VenvDir(installDir),
		MinVersion:      cfg.Runtime.MinVersion,
		Modules:         cfg.Runtime.Modules,
		ProbeVenv:       cfg.Runtime.ProbeVenv,
		Runner:          deps.Runner,
		Logger:          logger.WithPrefix("runtime"),
	})

	p, err := provision.New(provision.Options{
		InstallDir:        installDir,
		BaseURL:           cfg.Provision.BaseURL,
		ReleaseTag:        cfg.Provision.ReleaseTag,
		PythonVersion:     cfg.Provision.PythonVersion,
		AppRoot:           appRoot,
		RequirementsFile:  cfg.Provision.RequirementsFile,
		FallbackPackages:  cfg.Provision.Packages,
		VerifyChecksum:    cfg.Provision.VerifyChecksum,
		InactivityTimeout: cfg.Provision.InactivityTimeout,
		InstallTimeout:    cfg.Provision.InstallTimeout,
		HTTPClient:        deps.HTTPClient,
		Runner:            deps.Runner,
		Verifier:          s.locator,
		Logger:            logger.WithPrefix("provision"),
	})
	switch {
	case errors.Is(err, platform.ErrUnsupportedPlatform):
		// A system or configured interpreter still works here.
		logger.Warn("runtime provisioning unavailable", "err", err)
	case err != nil:
		_ = events.Close()
		return nil, err
	default:
		s.provisioner = p
	}

	supOpts := supervisor.Options{
		AppRoot:            appRoot,
		EntryScript:        cfg.Backend.EntryScript,
		ExtraArgs:          cfg.BackendArgs(),
		Port:               types.ListenPort(cfg.Backend.Port),
		StartupTimeout:     cfg.Backend.StartupTimeout,
		StopTimeout:        cfg.Backend.StopTimeout,
		RestartDelay:       cfg.Backend.RestartDelay,
		ReadyPatterns:      cfg.Backend.ReadyPatterns,
		DependencyPatterns: cfg.Backend.DependencyPatterns,
		Locator:            s.locator,
		Spawner:            deps.Spawner,
		Events:             events,
		Progress:           s.progress,
		Metrics:            s.metrics,
		Clock:              deps.Clock,
		Logger:             logger.WithPrefix("supervisor"),
	}
	// Leave the interfaces nil rather than holding a typed nil.
	if cfg.Provision.Enabled && s.provisioner != nil {
		supOpts.Provisioner = s.provisioner
	}
	if cfg.Backend.CheckPort {
		supOpts.PortChecker = deps.PortChecker
		if supOpts.PortChecker == nil {
			supOpts.PortChecker = portguard.New()
		}
	}
	s.sup, err = supervisor.New(supOpts)
	if err != nil {
		_ = events.Close()
		return nil, err
	}

	s.health = deps.Health
	s.health.URL = health.URL(supOpts.Port, cfg.Backend.HealthPath)
	if s.health.HTTPClient == nil {
		s.health.HTTPClient = deps.HTTPClient
	}
	if s.health.Logger == nil {
		s.health.Logger = logger.WithPrefix("health")
	}
	return s, nil
}

// Start starts the backend for projectPath and, when enabled, waits for
// its HTTP surface to answer. A backend that printed its banner but does
// not answer is reported in the lifecycle log and left running.
func (s *Service) Start(ctx context.Context, projectPath string) error {
	if err := s.sup.Start(ctx, projectPath); err != nil {
		return err
	}
	s.checkHealth(ctx)
	return nil
}

// Restart stops the backend and starts it again for projectPath.
func (s *Service) Restart(ctx context.Context, projectPath string) error {
	if err := s.sup.Restart(ctx, projectPath); err != nil {
		return err
	}
	s.checkHealth(ctx)
	return nil
}

// Stop stops the backend. It is idempotent.
func (s *Service) Stop() error { return s.sup.Stop() }

// State returns the supervisor state.
func (s *Service) State() supervisor.State { return s.sup.State() }

// Status returns the supervisor snapshot.
func (s *Service) Status() supervisor.Status { return s.sup.Status() }

// Errors reports failures of a running backend; see supervisor.Errors.
func (s *Service) Errors() <-chan error { return s.sup.Errors() }

// Events returns the lifecycle log.
func (s *Service) Events() *lifecyclelog.Log { return s.events }

// Progress returns the provisioning progress feed.
func (s *Service) Progress() *provision.Feed { return s.progress }

// Locator returns the interpreter locator.
func (s *Service) Locator() *runtimeenv.Locator { return s.locator }

// Provisioner returns the runtime provisioner. It is available even when
// automatic provisioning on start is disabled, and nil on platforms
// without a portable runtime build.
func (s *Service) Provisioner() *provision.Provisioner { return s.provisioner }

// MetricsHandler serves the Prometheus registry, or nil when metrics are
// disabled.
func (s *Service) MetricsHandler() http.Handler {
	if s.prom == nil {
		return nil
	}
	return s.prom.Handler()
}

// Config returns the configuration the service was built from.
func (s *Service) Config() *config.Config { return s.cfg }

// Close stops the backend and closes the lifecycle log.
func (s *Service) Close() error {
	return errors.Join(s.sup.Stop(), s.events.Close())
}

func (s *Service) checkHealth(ctx context.Context) {
	if !s.cfg.Backend.HealthCheck {
		return
	}
	if err := health.WaitReady(ctx, s.health); err != nil {
		s.logger.Warn("backend started but does not answer", "url", s.health.URL, "err", err)
		_ = s.events.Error("Backend started but %s does not answer: %v", s.health.URL, err)
		return
	}
	_ = s.events.Info("Backend is answering on %s", s.health.URL)
}
