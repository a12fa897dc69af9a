// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/newrev/newrev/internal/config"
	"github.com/newrev/newrev/internal/issue"
)

// newConfigCommand creates the `newrev config` command tree.
func newConfigCommand(a *App) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage newrev configuration",
		Long: `Manage newrev configuration.

Configuration is stored in:
  - Linux: ~/.config/newrev/config.cue
  - macOS: ~/Library/Application Support/newrev/config.cue
  - Windows: %APPDATA%\newrev\config.cue`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.showConfig(cmd.Context())
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.initConfig()
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := a.configFilePath()
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, path)
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "dump",
		Short: "Output the effective configuration as CUE",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := a.loadConfig(cmd.Context())
			if err != nil {
				return a.configFailure(err)
			}
			fmt.Fprint(a.stdout, config.GenerateCUE(cfg))
			return nil
		},
	})

	return cfgCmd
}

func (a *App) configFilePath() (string, error) {
	if a.configPath != "" {
		return a.configPath, nil
	}
	return config.ConfigFilePath()
}

func (a *App) showConfig(ctx context.Context) error {
	cfg, source, err := a.loadConfig(ctx)
	if err != nil {
		return a.configFailure(err)
	}

	keyStyle := CmdStyle
	valueStyle := SuccessStyle
	w := a.stdout

	fmt.Fprintln(w, TitleStyle.Render("Current Configuration"))
	fmt.Fprintln(w)
	if source != "" {
		fmt.Fprintf(w, "%s: %s\n", keyStyle.Render("Config file"), source)
	} else {
		fmt.Fprintf(w, "%s: %s\n", keyStyle.Render("Config file"), SubtitleStyle.Render("(using defaults)"))
	}
	fmt.Fprintln(w)

	appRoot, _ := cfg.AppRoot()
	installDir, _ := cfg.InstallDir()
	logPath, _ := cfg.LogPath()
	rows := [][2]string{
		{"backend.app_root", appRoot},
		{"backend.entry_script", cfg.Backend.EntryScript},
		{"backend.port", fmt.Sprint(cfg.Backend.Port)},
		{"backend.startup_timeout", cfg.Backend.StartupTimeout.String()},
		{"backend.stop_timeout", cfg.Backend.StopTimeout.String()},
		{"backend.health_check", fmt.Sprint(cfg.Backend.HealthCheck)},
		{"runtime.python", orDash(cfg.Runtime.Python)},
		{"runtime.min_version", cfg.Runtime.MinVersion},
		{"runtime.modules", strings.Join(cfg.Runtime.Modules, ", ")},
		{"provision.enabled", fmt.Sprint(cfg.Provision.Enabled)},
		{"provision.install_dir", installDir},
		{"provision.python_version", cfg.Provision.PythonVersion},
		{"log.path", orDash(logPath)},
		{"control.port", fmt.Sprint(cfg.Control.Port)},
		{"control.ssh.enabled", fmt.Sprint(cfg.Control.SSH.Enabled)},
		{"ui.color_scheme", string(cfg.UI.ColorScheme)},
	}
	for _, r := range rows {
		fmt.Fprintf(w, "%s: %s\n", keyStyle.Render(r[0]), valueStyle.Render(r[1]))
	}
	return nil
}

func (a *App) initConfig() error {
	path, err := a.configFilePath()
	if err != nil {
		return err
	}
	created, err := config.CreateDefaultConfig(path)
	if err != nil {
		return fmt.Errorf("create config: %w", err)
	}
	if !created {
		fmt.Fprintln(a.stdout, WarningStyle.Render("Config already exists: ")+path)
		return nil
	}
	fmt.Fprintln(a.stdout, SuccessStyle.Render("✓ Created ")+path)
	return nil
}

// configFailure renders a config load error with its issue help.
func (a *App) configFailure(err error) error {
	fmt.Fprintln(a.stderr, ErrorStyle.Render("✗ ")+formatErrorForDisplay(err, a.verbose))
	if rendered, renderErr := issue.Get(issue.ConfigLoadFailedId).Render("dark"); renderErr == nil {
		fmt.Fprint(a.stderr, rendered)
	}
	return err
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
