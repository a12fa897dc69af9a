// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/newrev/newrev/internal/runtimeenv"
	"github.com/newrev/newrev/pkg/platform"
)

const (
	// DefaultBaseURL is where python-build-standalone publishes releases.
	DefaultBaseURL = "https://github.com/astral-sh/python-build-standalone/releases/download"
	// DefaultReleaseTag pins a known-good release. "latest" asks the
	// GitHub API instead.
	DefaultReleaseTag = "20250612"
	// DefaultPythonVersion is the CPython build installed.
	DefaultPythonVersion = "3.12.11"
	// DefaultInstallTimeout bounds each venv and pip step.
	DefaultInstallTimeout = 120 * time.Second

	// LatestTag resolves the newest release through the GitHub API.
	LatestTag = "latest"

	venvDirName     = "venv"
	downloadDirName = ".download"
)

type (
	// Verifier re-runs the locator probes against the new interpreter.
	// *runtimeenv.Locator satisfies it.
	Verifier interface {
		Verify(ctx context.Context, path string, source runtimeenv.Source) (runtimeenv.Descriptor, error)
	}

	// Options configures a Provisioner.
	Options struct {
		// InstallDir is owned by the provisioner and wiped on every run.
		InstallDir    string
		Target        platform.Target
		BaseURL       string
		ReleaseTag    string
		PythonVersion string
		// AppRoot is the backend install root, searched for a dependency
		// manifest.
		AppRoot          string
		RequirementsFile string
		FallbackPackages []string
		VerifyChecksum   bool

		InactivityTimeout time.Duration
		InstallTimeout    time.Duration
		MaxExtractBytes   int64

		HTTPClient *http.Client
		Releases   *ReleaseClient
		Runner     runtimeenv.Runner
		Verifier   Verifier
		Logger     *log.Logger
	}

	// Provisioner installs an isolated interpreter and virtual environment.
	// Concurrent Provision calls are serialized.
	Provisioner struct {
		mu   sync.Mutex
		opts Options
		dl   *downloader
	}

	// run is the state of one Provision call.
	run struct {
		p        *Provisioner
		progress chan<- Progress
		stage    Stage
	}
)

// New creates a Provisioner. A zero Target selects the running platform.
func New(opts Options) (*Provisioner, error) {
	if opts.InstallDir == "" {
		return nil, errors.New("provision: install directory is required")
	}
	if opts.Target.Triple == "" {
		t, err := platform.CurrentTarget()
		if err != nil {
			return nil, err
		}
		opts.Target = t
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.ReleaseTag == "" {
		opts.ReleaseTag = DefaultReleaseTag
	}
	if opts.PythonVersion == "" {
		opts.PythonVersion = DefaultPythonVersion
	}
	if opts.InstallTimeout <= 0 {
		opts.InstallTimeout = DefaultInstallTimeout
	}
	if opts.Runner == nil {
		opts.Runner = runtimeenv.ExecRunner{}
	}
	if opts.Logger == nil {
		opts.Logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "provision", Level: log.WarnLevel})
	}
	if opts.Verifier == nil {
		opts.Verifier = runtimeenv.New(runtimeenv.Options{Runner: opts.Runner, Logger: opts.Logger})
	}
	if opts.Releases == nil {
		opts.Releases = NewReleaseClient(WithHTTPClient(httpClientOrDefault(opts.HTTPClient)))
	}
	return &Provisioner{
		opts: opts,
		dl:   newDownloader(opts.HTTPClient, opts.InactivityTimeout, "newrev"),
	}, nil
}

// VenvDir returns the virtual environment a provisioner with installDir
// creates. The locator looks for a provisioned interpreter there.
func VenvDir(installDir string) string {
	return filepath.Join(installDir, venvDirName)
}

// InstallDir returns the directory the provisioner owns.
func (p *Provisioner) InstallDir() string { return p.opts.InstallDir }

// Clean removes the provisioned runtime.
func (p *Provisioner) Clean() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := os.RemoveAll(p.opts.InstallDir); err != nil {
		return fmt.Errorf("remove %s: %w", p.opts.InstallDir, err)
	}
	return nil
}

// Provision installs a fresh runtime and returns its verified descriptor.
// Progress updates are sent without blocking; a nil channel is allowed.
// On failure the install directory is removed and a *ProvisionError naming
// the failed stage is returned.
func (p *Provisioner) Provision(ctx context.Context, progress chan<- Progress) (desc runtimeenv.Descriptor, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	r := &run{p: p, progress: progress}
	started := time.Now()
	defer func() {
		if err == nil {
			p.opts.Logger.Info("runtime provisioned", "path", desc.Path, "version", desc.Version, "took", time.Since(started).Round(time.Millisecond))
			return
		}
		if rmErr := os.RemoveAll(p.opts.InstallDir); rmErr != nil {
			p.opts.Logger.Warn("could not remove partial runtime", "dir", p.opts.InstallDir, "err", rmErr)
		}
		err = &ProvisionError{Stage: r.stage, Err: err}
		p.opts.Logger.Error("provisioning failed", "stage", r.stage, "err", err)
	}()

	r.report(StagePreparing, 0, "Preparing isolated Python runtime")
	archiveURL, sumsURL, name, err := p.resolve(ctx)
	if err != nil {
		return runtimeenv.Descriptor{}, err
	}
	if err := os.RemoveAll(p.opts.InstallDir); err != nil {
		return runtimeenv.Descriptor{}, fmt.Errorf("remove stale runtime: %w", err)
	}
	if err := os.MkdirAll(p.opts.InstallDir, 0o755); err != nil {
		return runtimeenv.Descriptor{}, fmt.Errorf("create install directory: %w", err)
	}

	archive, err := r.download(ctx, archiveURL, sumsURL, name)
	if err != nil {
		return runtimeenv.Descriptor{}, err
	}

	r.report(StageExtracting, 60, "Extracting "+name)
	if err := extractTarGz(archive, p.opts.InstallDir, p.opts.MaxExtractBytes); err != nil {
		return runtimeenv.Descriptor{}, err
	}
	_ = os.RemoveAll(filepath.Dir(archive))

	python, err := r.install(ctx)
	if err != nil {
		return runtimeenv.Descriptor{}, err
	}

	r.report(StageVerifying, 95, "Verifying runtime")
	desc, err = p.opts.Verifier.Verify(ctx, python, runtimeenv.SourceProvisioned)
	if err != nil {
		return runtimeenv.Descriptor{}, err
	}

	r.report(StageComplete, 100, fmt.Sprintf("Python %s ready", desc.Version))
	return desc, nil
}

// resolve returns the archive URL, the checksum list URL and the archive
// name for the configured release.
func (p *Provisioner) resolve(ctx context.Context) (archiveURL, sumsURL, name string, err error) {
	tag := p.opts.ReleaseTag
	if tag != LatestTag {
		name = p.opts.Target.ArchiveName(p.opts.PythonVersion, tag)
		base := p.opts.BaseURL + "/" + tag + "/"
		return base + name, base + ChecksumsAsset, name, nil
	}

	rel, err := p.opts.Releases.Latest(ctx)
	if err != nil {
		return "", "", "", fmt.Errorf("resolve latest release: %w", err)
	}
	name = p.opts.Target.ArchiveName(p.opts.PythonVersion, rel.Tag)
	asset, err := rel.Find(name)
	if err != nil {
		return "", "", "", err
	}
	if sums, serr := rel.Find(ChecksumsAsset); serr == nil {
		sumsURL = sums.URL
	}
	return asset.URL, sumsURL, name, nil
}

func (r *run) download(ctx context.Context, archiveURL, sumsURL, name string) (string, error) {
	p := r.p
	r.report(StageDownloading, 5, "Downloading "+name)

	dst := filepath.Join(p.opts.InstallDir, downloadDirName, name)
	lastPct := -1
	err := p.dl.toFile(ctx, archiveURL, dst, func(written, total int64) {
		if total <= 0 {
			return
		}
		pct := 5 + int(55*written/total)
		if pct == lastPct {
			return
		}
		lastPct = pct
		r.report(StageDownloading, pct, fmt.Sprintf("Downloading %s (%d/%d MB)", name, written>>20, total>>20))
	})
	if err != nil {
		return "", err
	}

	if !p.opts.VerifyChecksum {
		return dst, nil
	}
	if sumsURL == "" {
		return "", fmt.Errorf("%w: release publishes no %s", ErrNoChecksum, ChecksumsAsset)
	}
	data, err := p.dl.toMemory(ctx, sumsURL)
	if err != nil {
		return "", fmt.Errorf("fetch checksums: %w", err)
	}
	sums, err := ParseChecksums(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	want, ok := sums[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoChecksum, name)
	}
	if err := VerifyFile(dst, want); err != nil {
		return "", err
	}
	p.opts.Logger.Debug("checksum verified", "file", name, "sha256", want)
	return dst, nil
}

// install creates the venv and installs the backend's dependencies into it,
// returning the venv interpreter.
func (r *run) install(ctx context.Context) (string, error) {
	p := r.p
	base := p.opts.Target.InterpreterPath(p.opts.InstallDir)
	venv := VenvDir(p.opts.InstallDir)
	python := platform.VenvPython(venv)

	manifest, err := ResolveManifest(p.opts.AppRoot, p.opts.RequirementsFile, p.opts.FallbackPackages)
	if err != nil {
		return "", err
	}

	r.report(StageInstalling, 70, "Creating virtual environment")
	if err := r.step(ctx, base, "-m", "venv", venv); err != nil {
		return "", err
	}
	r.report(StageInstalling, 75, "Upgrading pip")
	if err := r.step(ctx, python, "-m", "pip", "install", "--upgrade", "pip"); err != nil {
		return "", err
	}
	r.report(StageInstalling, 80, "Installing dependencies from "+manifest.Origin)
	args := append([]string{"-m", "pip", "install"}, manifest.PipArgs()...)
	if err := r.step(ctx, python, args...); err != nil {
		return "", err
	}
	return python, nil
}

func (r *run) step(ctx context.Context, python string, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, r.p.opts.InstallTimeout)
	defer cancel()

	_, err := r.p.opts.Runner.Run(ctx, runtimeenv.Command{
		Path: python,
		Args: args,
		Dir:  r.p.opts.InstallDir,
		Env:  []string{"PIP_DISABLE_PIP_VERSION_CHECK=1", "PYTHONUNBUFFERED=1"},
	})
	return err
}

func (r *run) report(stage Stage, pct int, msg string) {
	r.stage = stage
	r.p.opts.Logger.Debug(msg, "stage", stage, "progress", pct)
	if r.progress == nil {
		return
	}
	select {
	case r.progress <- Progress{Stage: stage, Message: msg, Progress: pct}:
	default:
	}
}

func httpClientOrDefault(c *http.Client) *http.Client {
	if c == nil {
		return http.DefaultClient
	}
	return c
}
