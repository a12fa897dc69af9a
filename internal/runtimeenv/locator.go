// SPDX-License-Identifier: MPL-2.0

package runtimeenv

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/newrev/newrev/pkg/platform"
)

const (
	// DefaultVersionTimeout bounds the `--version` probe.
	DefaultVersionTimeout = 5 * time.Second
	// DefaultImportTimeout bounds the import probe.
	DefaultImportTimeout = 10 * time.Second
	// DefaultVenvTimeout bounds the optional throwaway venv probe.
	DefaultVenvTimeout = 30 * time.Second
)

// DefaultModules are the import names the backend needs: the web
// framework, its CORS middleware, the .env loader and the git binding.
//
//nolint:gochecknoglobals // read-only default
var DefaultModules = []string{"flask", "flask_cors", "dotenv", "git"}

type (
	// Options configures a Locator. Zero values select the defaults.
	Options struct {
		// ConfiguredPath is an interpreter the user pinned in configuration.
		// It is tried first.
		ConfiguredPath string
		// ProvisionedVenv is the virtual environment created by the
		// provisioner. Its interpreter is tried before system locations.
		ProvisionedVenv string
		MinVersion      string
		Modules         []string
		VersionTimeout  time.Duration
		ImportTimeout   time.Duration
		// ProbeVenv additionally requires that the candidate can create a
		// virtual environment. The throwaway venv is deleted afterwards.
		ProbeVenv bool
		Runner    Runner
		Logger    *log.Logger
	}

	// Locator finds a verified interpreter. It has no side effects beyond
	// the optional throwaway venv probe.
	Locator struct {
		opts Options

		// seams replaced by tests
		lookPath   func(string) (string, error)
		isFile     func(string) bool
		systemDirs func() []string
		sandboxed  func() bool
	}

	candidate struct {
		path   string
		source Source
	}
)

// New creates a Locator.
func New(opts Options) *Locator {
	if opts.MinVersion == "" {
		opts.MinVersion = DefaultMinVersion
	}
	if len(opts.Modules) == 0 {
		opts.Modules = DefaultModules
	}
	if opts.VersionTimeout <= 0 {
		opts.VersionTimeout = DefaultVersionTimeout
	}
	if opts.ImportTimeout <= 0 {
		opts.ImportTimeout = DefaultImportTimeout
	}
	if opts.Runner == nil {
		opts.Runner = ExecRunner{}
	}
	if opts.Logger == nil {
		opts.Logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "runtime", Level: log.WarnLevel})
	}
	return &Locator{
		opts:       opts,
		lookPath:   exec.LookPath,
		isFile:     isRegularFile,
		systemDirs: systemCandidates,
		sandboxed:  platform.IsInSandbox,
	}
}

// Locate returns the first candidate passing every probe. When none does
// it returns a *NotFoundError listing each rejection.
func (l *Locator) Locate(ctx context.Context) (Descriptor, error) {
	notFound := &NotFoundError{}
	for _, c := range l.candidates() {
		if err := ctx.Err(); err != nil {
			return Descriptor{}, fmt.Errorf("locate interpreter: %w", err)
		}
		desc, err := l.Verify(ctx, c.path, c.source)
		if err == nil {
			l.opts.Logger.Debug("interpreter accepted", "path", desc.Path, "version", desc.Version, "source", desc.Source)
			return desc, nil
		}
		l.opts.Logger.Debug("interpreter rejected", "path", c.path, "source", c.source, "err", err)
		notFound.Rejections = append(notFound.Rejections, Rejection{Path: c.path, Source: c.source, Reason: err.Error()})
	}
	return Descriptor{}, notFound
}

// Verify runs the version and import probes (and the venv probe when
// enabled) against one interpreter.
func (l *Locator) Verify(ctx context.Context, path string, source Source) (Descriptor, error) {
	version, err := l.probeVersion(ctx, path)
	if err != nil {
		return Descriptor{}, err
	}
	if !AtLeast(version, l.opts.MinVersion) {
		return Descriptor{}, fmt.Errorf("version %s is older than the required %s", version, l.opts.MinVersion)
	}
	if err := l.probeImports(ctx, path); err != nil {
		return Descriptor{}, err
	}
	if l.opts.ProbeVenv {
		if err := l.probeVenv(ctx, path); err != nil {
			return Descriptor{}, err
		}
	}
	return Descriptor{Path: path, Version: version, Verified: true, Source: source}, nil
}

// ImportScript is the statement the import probe runs.
func (l *Locator) ImportScript() string {
	return "import " + strings.Join(l.opts.Modules, ", ")
}

func (l *Locator) probeVersion(ctx context.Context, path string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, l.opts.VersionTimeout)
	defer cancel()

	out, err := l.opts.Runner.Run(ctx, Command{Path: path, Args: []string{"--version"}})
	if err != nil {
		return "", fmt.Errorf("version check failed: %w", err)
	}
	return ParseVersion(string(out))
}

func (l *Locator) probeImports(ctx context.Context, path string) error {
	ctx, cancel := context.WithTimeout(ctx, l.opts.ImportTimeout)
	defer cancel()

	out, err := l.opts.Runner.Run(ctx, Command{Path: path, Args: []string{"-c", l.ImportScript()}})
	if err != nil {
		if last := LastLine(string(out)); last != "" {
			return fmt.Errorf("import check failed: %s", last)
		}
		return fmt.Errorf("import check failed: %w", err)
	}
	return nil
}

func (l *Locator) probeVenv(ctx context.Context, path string) error {
	dir, err := os.MkdirTemp("", "newrev-venv-probe-")
	if err != nil {
		return fmt.Errorf("venv probe: %w", err)
	}
	defer os.RemoveAll(dir)

	ctx, cancel := context.WithTimeout(ctx, DefaultVenvTimeout)
	defer cancel()

	venv := filepath.Join(dir, "venv")
	if _, err := l.opts.Runner.Run(ctx, Command{Path: path, Args: []string{"-m", "venv", "--without-pip", venv}}); err != nil {
		return fmt.Errorf("cannot create virtual environments: %w", err)
	}
	return nil
}

// candidates lists interpreters in priority order without duplicates.
func (l *Locator) candidates() []candidate {
	var out []candidate
	seen := make(map[string]bool)
	add := func(path string, source Source) {
		if path == "" {
			return
		}
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		key := path
		if resolved, err := filepath.EvalSymlinks(path); err == nil {
			key = resolved
		}
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, candidate{path: path, source: source})
	}

	if p := l.opts.ConfiguredPath; p != "" {
		add(p, SourceConfigured)
	}
	if venv := l.opts.ProvisionedVenv; venv != "" {
		if p := platform.VenvPython(venv); l.isFile(p) {
			add(p, SourceProvisioned)
		}
	}
	if !l.sandboxed() {
		for _, p := range l.systemDirs() {
			if l.isFile(p) {
				add(p, SourceSystem)
			}
		}
	}
	for _, name := range pathNames() {
		if p, err := l.lookPath(name); err == nil {
			add(p, SourcePath)
		}
	}
	return out
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
