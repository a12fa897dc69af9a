// SPDX-License-Identifier: MPL-2.0

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"mvdan.cc/sh/v3/shell"
)

// ExpandPath expands a leading ~ and $VAR references in p the way a shell
// would inside double quotes. Command substitution is not supported.
func ExpandPath(p string, env func(string) string) (string, error) {
	if p == "" {
		return "", nil
	}
	if env == nil {
		env = os.Getenv
	}
	if p == "~" || strings.HasPrefix(p, "~/") || strings.HasPrefix(p, `~\`) {
		home := env("HOME")
		if home == "" {
			home = env("USERPROFILE")
		}
		if home == "" {
			return "", fmt.Errorf("expand %q: home directory is not set", p)
		}
		p = home + p[1:]
	}
	out, err := shell.Expand(p, env)
	if err != nil {
		return "", fmt.Errorf("expand %q: %w", p, err)
	}
	return filepath.Clean(out), nil
}

// SplitArgs splits s into arguments using shell quoting rules and expands
// variables in each.
func SplitArgs(s string, env func(string) string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	if env == nil {
		env = os.Getenv
	}
	args, err := shell.Fields(s, env)
	if err != nil {
		return nil, fmt.Errorf("split arguments %q: %w", s, err)
	}
	return args, nil
}

// resolve expands every configured path in place and checks the values
// the schema cannot.
func (c *Config) resolve(env func(string) string) error {
	for _, p := range []*string{
		&c.Backend.AppRoot,
		&c.Runtime.Python,
		&c.Provision.InstallDir,
		&c.Provision.RequirementsFile,
		&c.Log.Path,
		&c.Control.SSH.HostKeyPath,
	} {
		expanded, err := ExpandPath(*p, env)
		if err != nil {
			return err
		}
		*p = expanded
	}
	if _, err := SplitArgs(c.Backend.ExtraArgs, env); err != nil {
		return fmt.Errorf("backend.extra_args: %w", err)
	}
	if c.Control.SSH.Enabled && c.Control.SSH.Port == c.Control.Port && c.Control.SSH.Host == c.Control.Host {
		return fmt.Errorf("control.ssh.port %d collides with control.port", c.Control.SSH.Port)
	}
	if c.Control.Port == c.Backend.Port {
		return fmt.Errorf("control.port %d collides with backend.port", c.Control.Port)
	}
	return nil
}

// BackendArgs returns backend.extra_args split into arguments.
func (c *Config) BackendArgs() []string {
	args, _ := SplitArgs(c.Backend.ExtraArgs, nil)
	return args
}

// AppRoot returns backend.app_root, defaulting to the working directory.
func (c *Config) AppRoot() (string, error) {
	if c.Backend.AppRoot != "" {
		return filepath.Abs(c.Backend.AppRoot)
	}
	return os.Getwd()
}

// InstallDir returns provision.install_dir or its default under CacheDir.
func (c *Config) InstallDir() (string, error) {
	if c.Provision.InstallDir != "" {
		return c.Provision.InstallDir, nil
	}
	dir, err := CacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "runtime"), nil
}

// LogPath returns log.path or its default under CacheDir.
func (c *Config) LogPath() (string, error) {
	if c.Log.Path != "" {
		return c.Log.Path, nil
	}
	dir, err := CacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "logs", "backend.log"), nil
}

// HostKeyPath returns control.ssh.host_key_path or its default next to the
// config file.
func (c *Config) HostKeyPath() (string, error) {
	if c.Control.SSH.HostKeyPath != "" {
		return c.Control.SSH.HostKeyPath, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "ssh_host_ed25519"), nil
}
