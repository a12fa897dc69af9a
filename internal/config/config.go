// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/spf13/viper"

	"github.com/newrev/newrev/internal/issue"
	"github.com/newrev/newrev/pkg/platform"
)

const (
	AppName        = "newrev"
	ConfigFileName = "config"
	ConfigFileExt  = "cue"

	// maxConfigBytes bounds the config file size.
	maxConfigBytes = 1 << 20
)

//go:embed config_schema.cue
var configSchema string

// ConfigDir returns the newrev configuration directory: %APPDATA% on
// Windows, ~/Library/Application Support on macOS and $XDG_CONFIG_HOME
// (default ~/.config) elsewhere.
//
//nolint:revive // ConfigDir reads better than Dir at call sites
func ConfigDir() (string, error) {
	if configDirOverride != "" {
		return configDirOverride, nil
	}

	var dir string
	switch runtime.GOOS {
	case platform.Windows:
		dir = os.Getenv("APPDATA")
		if dir == "" {
			dir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case platform.Darwin:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(home, "Library", "Application Support")
	default:
		dir = os.Getenv("XDG_CONFIG_HOME")
		if dir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			dir = filepath.Join(home, ".config")
		}
	}
	return filepath.Join(dir, AppName), nil
}

// ConfigFilePath returns the default config file location.
func ConfigFilePath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ConfigFileName+"."+ConfigFileExt), nil
}

// CacheDir returns the per-user directory for the provisioned runtime and
// the lifecycle log. Everything in it can be deleted.
func CacheDir() (string, error) {
	if cacheDirOverride != "" {
		return cacheDirOverride, nil
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("failed to get cache directory: %w", err)
	}
	return filepath.Join(dir, AppName), nil
}

func loadWithOptions(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())

	resolved := ""
	switch {
	case opts.ConfigFilePath != "":
		if !fileExists(opts.ConfigFilePath) {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(opts.ConfigFilePath).
				WithIssue(issue.ConfigLoadFailedId).
				WithSuggestion("Verify the file path is correct").
				WithSuggestion("Use 'newrev config init' to create a default configuration").
				Wrap(fmt.Errorf("config file not found: %s", opts.ConfigFilePath)).
				BuildError()
		}
		resolved = opts.ConfigFilePath
	default:
		dir := opts.ConfigDirPath
		if dir == "" {
			var err error
			if dir, err = ConfigDir(); err != nil {
				return nil, "", err
			}
		}
		if p := filepath.Join(dir, ConfigFileName+"."+ConfigFileExt); fileExists(p) {
			resolved = p
		}
	}

	if resolved != "" {
		if err := loadCUEIntoViper(v, resolved); err != nil {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(resolved).
				WithIssue(issue.ConfigLoadFailedId).
				WithSuggestion("Check that the file contains valid CUE syntax").
				WithSuggestion("Compare your values with 'newrev config dump'").
				Wrap(err).
				BuildError()
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.resolve(opts.Env); err != nil {
		return nil, "", issue.NewErrorContext().
			WithOperation("validate configuration").
			WithResource(resolved).
			WithIssue(issue.ConfigLoadFailedId).
			Wrap(err).
			BuildError()
	}
	return &cfg, resolved, nil
}

// setDefaults registers every leaf of defaults so environment and file
// values merge per key instead of replacing whole sections.
func setDefaults(v *viper.Viper, d *Config) {
	b := d.Backend
	v.SetDefault("backend.app_root", b.AppRoot)
	v.SetDefault("backend.entry_script", b.EntryScript)
	v.SetDefault("backend.extra_args", b.ExtraArgs)
	v.SetDefault("backend.port", b.Port)
	v.SetDefault("backend.startup_timeout", b.StartupTimeout)
	v.SetDefault("backend.stop_timeout", b.StopTimeout)
	v.SetDefault("backend.restart_delay", b.RestartDelay)
	v.SetDefault("backend.ready_patterns", b.ReadyPatterns)
	v.SetDefault("backend.dependency_patterns", b.DependencyPatterns)
	v.SetDefault("backend.check_port", b.CheckPort)
	v.SetDefault("backend.health_check", b.HealthCheck)
	v.SetDefault("backend.health_path", b.HealthPath)

	v.SetDefault("runtime.python", d.Runtime.Python)
	v.SetDefault("runtime.min_version", d.Runtime.MinVersion)
	v.SetDefault("runtime.modules", d.Runtime.Modules)
	v.SetDefault("runtime.probe_venv", d.Runtime.ProbeVenv)

	p := d.Provision
	v.SetDefault("provision.enabled", p.Enabled)
	v.SetDefault("provision.install_dir", p.InstallDir)
	v.SetDefault("provision.base_url", p.BaseURL)
	v.SetDefault("provision.release_tag", p.ReleaseTag)
	v.SetDefault("provision.python_version", p.PythonVersion)
	v.SetDefault("provision.verify_checksum", p.VerifyChecksum)
	v.SetDefault("provision.requirements_file", p.RequirementsFile)
	v.SetDefault("provision.packages", p.Packages)
	v.SetDefault("provision.inactivity_timeout", p.InactivityTimeout)
	v.SetDefault("provision.install_timeout", p.InstallTimeout)

	v.SetDefault("log.path", d.Log.Path)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
	v.SetDefault("log.compress", d.Log.Compress)
	v.SetDefault("log.retain", d.Log.Retain)

	c := d.Control
	v.SetDefault("control.host", c.Host)
	v.SetDefault("control.port", c.Port)
	v.SetDefault("control.token", c.Token)
	v.SetDefault("control.metrics", c.Metrics)
	v.SetDefault("control.ssh.enabled", c.SSH.Enabled)
	v.SetDefault("control.ssh.host", c.SSH.Host)
	v.SetDefault("control.ssh.port", c.SSH.Port)
	v.SetDefault("control.ssh.host_key_path", c.SSH.HostKeyPath)

	v.SetDefault("ui.color_scheme", d.UI.ColorScheme)
	v.SetDefault("ui.verbose", d.UI.Verbose)
}

// loadCUEIntoViper validates the file at path against #Config and merges
// it over the defaults already in v. Config fields are optional, so the
// unified value does not need to be concrete.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if len(data) > maxConfigBytes {
		return fmt.Errorf("%s: file size %d bytes exceeds maximum %d bytes", path, len(data), maxConfigBytes)
	}

	cctx := cuecontext.New()
	schema := cctx.CompileString(configSchema)
	if schema.Err() != nil {
		return fmt.Errorf("internal error: failed to compile config schema: %w", schema.Err())
	}
	user := cctx.CompileBytes(data, cue.Filename(path))
	if user.Err() != nil {
		return formatCUEError(user.Err(), path)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(user)
	if err := unified.Validate(cue.Concrete(false)); err != nil {
		return formatCUEError(err, path)
	}

	var m map[string]any
	if err := unified.Decode(&m); err != nil {
		return formatCUEError(err, path)
	}
	if err := v.MergeConfigMap(m); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// CreateDefaultConfig writes the default configuration to path unless a
// file already exists there. It reports whether a file was written.
func CreateDefaultConfig(path string) (bool, error) {
	if fileExists(path) {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(GenerateCUE(DefaultConfig())), 0o644); err != nil {
		return false, fmt.Errorf("failed to write config file: %w", err)
	}
	return true, nil
}

// GenerateCUE renders cfg as a config file that validates against #Config.
// Empty optional strings are left out.
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder
	w := func(indent int, format string, args ...any) {
		sb.WriteString(strings.Repeat("\t", indent))
		fmt.Fprintf(&sb, format, args...)
		sb.WriteByte('\n')
	}
	str := func(indent int, key, val string) {
		if val != "" {
			w(indent, "%s: %q", key, val)
		}
	}
	list := func(indent int, key string, vals []string) {
		quoted := make([]string, len(vals))
		for i, s := range vals {
			quoted[i] = fmt.Sprintf("%q", s)
		}
		w(indent, "%s: [%s]", key, strings.Join(quoted, ", "))
	}

	sb.WriteString("// newrev configuration.\n// Run 'newrev config dump' to see the effective values.\n\n")

	b := cfg.Backend
	w(0, "backend: {")
	str(1, "app_root", b.AppRoot)
	str(1, "entry_script", b.EntryScript)
	str(1, "extra_args", b.ExtraArgs)
	w(1, "port: %d", b.Port)
	w(1, "startup_timeout: %q", b.StartupTimeout.String())
	w(1, "stop_timeout: %q", b.StopTimeout.String())
	w(1, "restart_delay: %q", b.RestartDelay.String())
	list(1, "ready_patterns", b.ReadyPatterns)
	list(1, "dependency_patterns", b.DependencyPatterns)
	w(1, "check_port: %v", b.CheckPort)
	w(1, "health_check: %v", b.HealthCheck)
	str(1, "health_path", b.HealthPath)
	w(0, "}\n")

	r := cfg.Runtime
	w(0, "runtime: {")
	str(1, "python", r.Python)
	str(1, "min_version", r.MinVersion)
	list(1, "modules", r.Modules)
	w(1, "probe_venv: %v", r.ProbeVenv)
	w(0, "}\n")

	p := cfg.Provision
	w(0, "provision: {")
	w(1, "enabled: %v", p.Enabled)
	str(1, "install_dir", p.InstallDir)
	str(1, "base_url", p.BaseURL)
	str(1, "release_tag", p.ReleaseTag)
	str(1, "python_version", p.PythonVersion)
	w(1, "verify_checksum: %v", p.VerifyChecksum)
	str(1, "requirements_file", p.RequirementsFile)
	list(1, "packages", p.Packages)
	w(1, "inactivity_timeout: %q", p.InactivityTimeout.String())
	w(1, "install_timeout: %q", p.InstallTimeout.String())
	w(0, "}\n")

	l := cfg.Log
	w(0, "log: {")
	str(1, "path", l.Path)
	w(1, "max_size_mb: %d", l.MaxSizeMB)
	w(1, "max_backups: %d", l.MaxBackups)
	w(1, "max_age_days: %d", l.MaxAgeDays)
	w(1, "compress: %v", l.Compress)
	w(1, "retain: %d", l.Retain)
	w(0, "}\n")

	c := cfg.Control
	w(0, "control: {")
	str(1, "host", c.Host)
	w(1, "port: %d", c.Port)
	str(1, "token", c.Token)
	w(1, "metrics: %v", c.Metrics)
	w(1, "ssh: {")
	w(2, "enabled: %v", c.SSH.Enabled)
	str(2, "host", c.SSH.Host)
	w(2, "port: %d", c.SSH.Port)
	str(2, "host_key_path", c.SSH.HostKeyPath)
	w(1, "}")
	w(0, "}\n")

	w(0, "ui: {")
	str(1, "color_scheme", string(cfg.UI.ColorScheme))
	w(1, "verbose: %v", cfg.UI.Verbose)
	w(0, "}")
	return sb.String()
}
