// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/cobra"

	"github.com/newrev/newrev/internal/lifecyclelog"
)

func newLogsCommand(a *App) *cobra.Command {
	var (
		lines  int
		follow bool
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the durable lifecycle log",
		Long: `Print the most recent events from the lifecycle log file. With
--follow, keep printing events as the running backend appends them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runLogs(cmd.Context(), lines, follow)
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "number of events to print; 0 prints all")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing new events")
	return cmd
}

func (a *App) runLogs(ctx context.Context, lines int, follow bool) error {
	cfg, _, err := a.loadConfig(ctx)
	if err != nil {
		return a.configFailure(err)
	}
	path, err := cfg.LogPath()
	if err != nil {
		return err
	}

	events, err := lifecyclelog.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if !follow {
			fmt.Fprintln(a.stdout, SubtitleStyle.Render("No lifecycle log at "+path))
			return nil
		}
	case err != nil:
		return err
	}
	if lines > 0 && len(events) > lines {
		events = events[len(events)-lines:]
	}
	for _, e := range events {
		fmt.Fprintln(a.stdout, formatEvent(e))
	}
	if !follow {
		return nil
	}

	err = lifecyclelog.Follow(ctx, path, func(e lifecyclelog.Event) {
		fmt.Fprintln(a.stdout, formatEvent(e))
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
