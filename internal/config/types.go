// SPDX-License-Identifier: MPL-2.0

package config

import (
	"time"

	"github.com/newrev/newrev/internal/health"
	"github.com/newrev/newrev/internal/lifecyclelog"
	"github.com/newrev/newrev/internal/provision"
	"github.com/newrev/newrev/internal/runtimeenv"
	"github.com/newrev/newrev/internal/supervisor"
)

const (
	ColorSchemeAuto  ColorScheme = "auto"
	ColorSchemeDark  ColorScheme = "dark"
	ColorSchemeLight ColorScheme = "light"

	// DefaultControlPort is where the UI expects the control server.
	DefaultControlPort = 5055
	// DefaultSSHPort is the SSH event feed port.
	DefaultSSHPort = 5022
)

type (
	// ColorScheme selects the CLI palette.
	ColorScheme string

	// Config is the complete configuration.
	Config struct {
		Backend   BackendConfig   `json:"backend" mapstructure:"backend"`
		Runtime   RuntimeConfig   `json:"runtime" mapstructure:"runtime"`
		Provision ProvisionConfig `json:"provision" mapstructure:"provision"`
		Log       LogConfig       `json:"log" mapstructure:"log"`
		Control   ControlConfig   `json:"control" mapstructure:"control"`
		UI        UIConfig        `json:"ui" mapstructure:"ui"`
	}

	// BackendConfig describes the supervised backend process.
	BackendConfig struct {
		// AppRoot is the backend installation directory and the child's
		// working directory. Empty means the current directory.
		AppRoot     string `json:"app_root" mapstructure:"app_root"`
		EntryScript string `json:"entry_script" mapstructure:"entry_script"`
		// ExtraArgs is split into arguments with shell quoting rules.
		ExtraArgs          string        `json:"extra_args" mapstructure:"extra_args"`
		Port               int           `json:"port" mapstructure:"port"`
		StartupTimeout     time.Duration `json:"startup_timeout" mapstructure:"startup_timeout"`
		StopTimeout        time.Duration `json:"stop_timeout" mapstructure:"stop_timeout"`
		RestartDelay       time.Duration `json:"restart_delay" mapstructure:"restart_delay"`
		ReadyPatterns      []string      `json:"ready_patterns" mapstructure:"ready_patterns"`
		DependencyPatterns []string      `json:"dependency_patterns" mapstructure:"dependency_patterns"`
		CheckPort          bool          `json:"check_port" mapstructure:"check_port"`
		HealthCheck        bool          `json:"health_check" mapstructure:"health_check"`
		HealthPath         string        `json:"health_path" mapstructure:"health_path"`
	}

	// RuntimeConfig controls interpreter discovery.
	RuntimeConfig struct {
		// Python pins an interpreter that is tried before any other.
		Python     string   `json:"python" mapstructure:"python"`
		MinVersion string   `json:"min_version" mapstructure:"min_version"`
		Modules    []string `json:"modules" mapstructure:"modules"`
		ProbeVenv  bool     `json:"probe_venv" mapstructure:"probe_venv"`
	}

	// ProvisionConfig controls the isolated runtime installer.
	ProvisionConfig struct {
		Enabled bool `json:"enabled" mapstructure:"enabled"`
		// InstallDir empty means the per-user cache directory.
		InstallDir        string        `json:"install_dir" mapstructure:"install_dir"`
		BaseURL           string        `json:"base_url" mapstructure:"base_url"`
		ReleaseTag        string        `json:"release_tag" mapstructure:"release_tag"`
		PythonVersion     string        `json:"python_version" mapstructure:"python_version"`
		VerifyChecksum    bool          `json:"verify_checksum" mapstructure:"verify_checksum"`
		RequirementsFile  string        `json:"requirements_file" mapstructure:"requirements_file"`
		Packages          []string      `json:"packages" mapstructure:"packages"`
		InactivityTimeout time.Duration `json:"inactivity_timeout" mapstructure:"inactivity_timeout"`
		InstallTimeout    time.Duration `json:"install_timeout" mapstructure:"install_timeout"`
	}

	// LogConfig controls the durable lifecycle log.
	LogConfig struct {
		// Path empty means backend.log in the per-user cache directory.
		Path       string `json:"path" mapstructure:"path"`
		MaxSizeMB  int    `json:"max_size_mb" mapstructure:"max_size_mb"`
		MaxBackups int    `json:"max_backups" mapstructure:"max_backups"`
		MaxAgeDays int    `json:"max_age_days" mapstructure:"max_age_days"`
		Compress   bool   `json:"compress" mapstructure:"compress"`
		Retain     int    `json:"retain" mapstructure:"retain"`
	}

	// ControlConfig configures the UI-facing servers.
	ControlConfig struct {
		Host string `json:"host" mapstructure:"host"`
		Port int    `json:"port" mapstructure:"port"`
		// Token empty means a random token per run.
		Token   string    `json:"token" mapstructure:"token"`
		Metrics bool      `json:"metrics" mapstructure:"metrics"`
		SSH     SSHConfig `json:"ssh" mapstructure:"ssh"`
	}

	// SSHConfig configures the read-only SSH event feed.
	SSHConfig struct {
		Enabled bool   `json:"enabled" mapstructure:"enabled"`
		Host    string `json:"host" mapstructure:"host"`
		Port    int    `json:"port" mapstructure:"port"`
		// HostKeyPath empty means a key next to the config file.
		HostKeyPath string `json:"host_key_path" mapstructure:"host_key_path"`
	}

	// UIConfig configures CLI output.
	UIConfig struct {
		ColorScheme ColorScheme `json:"color_scheme" mapstructure:"color_scheme"`
		Verbose     bool        `json:"verbose" mapstructure:"verbose"`
	}
)

// DefaultConfig returns the configuration used when no file sets a value.
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			EntryScript:        supervisor.DefaultEntryScript,
			Port:               int(supervisor.DefaultPort),
			StartupTimeout:     supervisor.DefaultStartupTimeout,
			StopTimeout:        supervisor.DefaultStopTimeout,
			RestartDelay:       supervisor.DefaultRestartDelay,
			ReadyPatterns:      supervisor.DefaultReadyPatterns,
			DependencyPatterns: supervisor.DefaultDependencyPatterns,
			CheckPort:          true,
			HealthCheck:        true,
			HealthPath:         health.DefaultPath,
		},
		Runtime: RuntimeConfig{
			MinVersion: runtimeenv.DefaultMinVersion,
			Modules:    runtimeenv.DefaultModules,
		},
		Provision: ProvisionConfig{
			Enabled:           true,
			BaseURL:           provision.DefaultBaseURL,
			ReleaseTag:        provision.DefaultReleaseTag,
			PythonVersion:     provision.DefaultPythonVersion,
			VerifyChecksum:    true,
			Packages:          provision.DefaultFallbackPackages,
			InactivityTimeout: provision.DefaultInactivityTimeout,
			InstallTimeout:    provision.DefaultInstallTimeout,
		},
		Log: LogConfig{
			MaxSizeMB:  lifecyclelog.DefaultMaxSizeMB,
			MaxBackups: lifecyclelog.DefaultMaxBackups,
			MaxAgeDays: lifecyclelog.DefaultMaxAgeDays,
			Retain:     lifecyclelog.DefaultRetain,
		},
		Control: ControlConfig{
			Host:    "127.0.0.1",
			Port:    DefaultControlPort,
			Metrics: true,
			SSH: SSHConfig{
				Host: "127.0.0.1",
				Port: DefaultSSHPort,
			},
		},
		UI: UIConfig{
			ColorScheme: ColorSchemeAuto,
		},
	}
}
