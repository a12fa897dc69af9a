// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/newrev/newrev/internal/app"
	"github.com/newrev/newrev/internal/config"
	"github.com/newrev/newrev/internal/reload"
	"github.com/newrev/newrev/internal/supervisor"
	"github.com/newrev/newrev/pkg/types"
)

func newStartCommand(a *App) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "start [project]",
		Short: "Start the backend in the foreground",
		Long: `Start the backend for an optional project directory and stream its
lifecycle events until interrupted. The backend is stopped on exit.

With --reload the backend is restarted whenever a Python source, .env file
or dependency manifest under the app root changes.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var project string
			if len(args) == 1 {
				project = args[0]
			}
			return a.runStart(cmd.Context(), project, watch)
		},
	}
	cmd.Flags().BoolVar(&watch, "reload", false, "restart the backend when its sources change")
	return cmd
}

func (a *App) runStart(ctx context.Context, project string, watch bool) error {
	cfg, _, err := a.loadConfig(ctx)
	if err != nil {
		fmt.Fprintln(a.stderr, ErrorStyle.Render("✗ ")+formatErrorForDisplay(err, a.verbose))
		return &ExitError{Code: types.ExitCodeGenericFailure, Err: err}
	}
	svc, err := a.NewService(cfg, a.logger(cfg))
	if err != nil {
		return err
	}
	out := &printer{w: a.stdout}
	stopFeeds := a.followService(svc, out)
	defer func() {
		_ = svc.Stop()
		stopFeeds()
		_ = svc.Close()
	}()

	style := issueStyle(cfg)
	if err := svc.Start(ctx, project); err != nil {
		if supervisor.KindOf(err) == supervisor.KindCancelled {
			return nil
		}
		return a.failure(err, style)
	}
	out.line(SuccessStyle.Render("✓ Backend running on port " + types.ListenPort(cfg.Backend.Port).String()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case exitErr, ok := <-svc.Errors():
				if !ok {
					return nil
				}
				if !watch {
					return exitErr
				}
				// Wait for the next edit to bring it back.
				renderServiceError(a.stderr, describeFailure(exitErr), style)
			}
		}
	})
	if watch {
		w, err := a.newReloader(cfg, svc, project, out, style)
		if err != nil {
			return err
		}
		g.Go(func() error { return w.Run(gctx) })
		out.line(SubtitleStyle.Render("Watching for changes; press Ctrl+C to stop"))
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return a.failure(err, style)
	}
	return nil
}

func (a *App) newReloader(cfg *config.Config, svc *app.Service, project string, out *printer, style string) (*reload.Watcher, error) {
	root, err := cfg.AppRoot()
	if err != nil {
		return nil, err
	}
	return reload.New(reload.Config{
		Root:   root,
		Logger: a.logger(cfg).WithPrefix("reload"),
		OnChange: func(ctx context.Context, changed []string) error {
			out.line(WarningStyle.Render("↻ Restarting: ") + strings.Join(changed, ", "))
			if err := svc.Restart(ctx, project); err != nil {
				if supervisor.KindOf(err) == supervisor.KindCancelled {
					return nil
				}
				renderServiceError(a.stderr, describeFailure(err), style)
			}
			return nil
		},
	})
}

// followService prints lifecycle events and provisioning progress until
// the returned function is called.
func (a *App) followService(svc *app.Service, out *printer) func() {
	events, unsubEvents := svc.Events().Subscribe()
	progress, unsubProgress := svc.Progress().Subscribe()
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for {
			select {
			case <-done:
				for {
					select {
					case e, ok := <-events:
						if !ok {
							return
						}
						out.event(e)
					default:
						return
					}
				}
			case e, ok := <-events:
				if !ok {
					events = nil
					continue
				}
				out.event(e)
			case p, ok := <-progress:
				if !ok {
					progress = nil
					continue
				}
				out.progress(p)
			}
		}
	}()
	return func() {
		close(done)
		<-finished
		unsubEvents()
		unsubProgress()
	}
}

// failure renders err and converts it into an ExitError.
func (a *App) failure(err error, style string) error {
	svcErr := describeFailure(err)
	renderServiceError(a.stderr, svcErr, style)
	return &ExitError{Code: types.ExitCodeGenericFailure, Err: svcErr}
}
