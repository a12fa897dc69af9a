// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/newrev/newrev/pkg/types"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// NewRootCommand builds the command tree around a.
func NewRootCommand(a *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "newrev",
		Short: "Supervise the local analysis backend",
		Long: TitleStyle.Render("newrev") + SubtitleStyle.Render(" - supervise the local analysis backend") + `

newrev finds (or installs) a Python runtime, starts the backend on its
fixed port, watches it until it is ready and keeps a lifecycle log the
desktop UI can follow.

` + SubtitleStyle.Render("Examples:") + `
  newrev start ./project     Start the backend in the foreground
  newrev start --reload      Restart the backend when its sources change
  newrev serve               Run the control server for the desktop UI
  newrev runtime provision   Install the isolated runtime
  newrev logs --follow       Follow the lifecycle log`,
		SilenceUsage: true,
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable verbose output")
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default is $XDG_CONFIG_HOME/newrev/config.cue)")

	root.AddCommand(
		newStartCommand(a),
		newServeCommand(a),
		newStatusCommand(a),
		newRuntimeCommand(a),
		newPortCommand(a),
		newLogsCommand(a),
		newConfigCommand(a),
	)
	return root
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version != "dev" {
		return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev (built from source)"
}

// Execute runs the CLI and exits with the command's exit code.
func Execute() {
	root := NewRootCommand(NewApp(Dependencies{}))
	if err := fang.Execute(
		context.Background(),
		root,
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(int(exitErr.Code))
		}
		os.Exit(int(types.ExitCodeGenericFailure))
	}
}
