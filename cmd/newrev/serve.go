// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/newrev/newrev/internal/config"
	"github.com/newrev/newrev/internal/controlserver"
	"github.com/newrev/newrev/internal/issue"
	"github.com/newrev/newrev/internal/sshfeed"
	"github.com/newrev/newrev/pkg/types"
)

func newServeCommand(a *App) *cobra.Command {
	var noSSH bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the control server the desktop UI talks to",
		Long: `Run the authenticated HTTP control server. The UI starts, stops and
restarts the backend through it and follows lifecycle events and
provisioning progress as server-sent events.

When control.ssh.enabled is set, the same events are also readable over
SSH with the control token as password.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runServe(cmd.Context(), !noSSH)
		},
	}
	cmd.Flags().BoolVar(&noSSH, "no-ssh", false, "do not start the SSH event feed even when configured")
	return cmd
}

func (a *App) runServe(ctx context.Context, allowSSH bool) error {
	cfg, _, err := a.loadConfig(ctx)
	if err != nil {
		fmt.Fprintln(a.stderr, ErrorStyle.Render("✗ ")+formatErrorForDisplay(err, a.verbose))
		return &ExitError{Code: types.ExitCodeGenericFailure, Err: err}
	}
	logger := a.logger(cfg)
	svc, err := a.NewService(cfg, logger)
	if err != nil {
		return err
	}
	style := issueStyle(cfg)

	srv, err := controlserver.New(controlserver.Options{
		Addr:     net.JoinHostPort(cfg.Control.Host, strconv.Itoa(cfg.Control.Port)),
		Token:    controlserver.AuthToken(cfg.Control.Token),
		Backend:  svc,
		Events:   svc.Events(),
		Progress: svc.Progress(),
		Metrics:  svc.MetricsHandler(),
		Logger:   logger.WithPrefix("control-server"),
	})
	if err != nil {
		_ = svc.Close()
		return err
	}
	if err := srv.Start(ctx); err != nil {
		_ = svc.Close()
		svcErr := newServiceError(err, issue.ControlServerStartFailedId,
			ErrorStyle.Render("✗ Control server failed to start: ")+err.Error()+"\n")
		renderServiceError(a.stderr, svcErr, style)
		return &ExitError{Code: types.ExitCodeGenericFailure, Err: svcErr}
	}

	var feed *sshfeed.Server
	if allowSSH && cfg.Control.SSH.Enabled {
		feed, err = startFeed(ctx, cfg, srv.Token(), svc.Events(), logger.WithPrefix("ssh-feed"))
		if err != nil {
			_ = srv.Stop()
			_ = svc.Close()
			return err
		}
	}

	fmt.Fprintln(a.stdout, SuccessStyle.Render("✓ Control server listening on ")+CmdStyle.Render(srv.URL()))
	fmt.Fprintln(a.stdout, SubtitleStyle.Render("  "+controlserver.EnvControlURL+"=")+srv.URL())
	fmt.Fprintln(a.stdout, SubtitleStyle.Render("  "+controlserver.EnvControlToken+"=")+srv.Token().String())
	if feed != nil {
		fmt.Fprintln(a.stdout, SuccessStyle.Render("✓ SSH event feed on ")+CmdStyle.Render(feed.Addr()))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return firstError(gctx, srv.Err()) })
	if feed != nil {
		g.Go(func() error { return firstError(gctx, feed.Err()) })
	}
	runErr := g.Wait()

	var stopErrs []error
	stopErrs = append(stopErrs, srv.Stop())
	if feed != nil {
		stopErrs = append(stopErrs, feed.Stop())
	}
	stopErrs = append(stopErrs, svc.Close())
	for _, e := range stopErrs {
		if e != nil {
			logger.Warn("shutdown", "err", e)
		}
	}
	if runErr != nil {
		return &ExitError{Code: types.ExitCodeGenericFailure, Err: runErr}
	}
	return nil
}

func startFeed(ctx context.Context, cfg *config.Config, token controlserver.AuthToken, events sshfeed.EventSource, logger *log.Logger) (*sshfeed.Server, error) {
	keyPath, err := cfg.HostKeyPath()
	if err != nil {
		return nil, err
	}
	feed, err := sshfeed.New(sshfeed.Config{
		Host:        cfg.Control.SSH.Host,
		Port:        cfg.Control.SSH.Port,
		Password:    token.String(),
		HostKeyPath: keyPath,
		Events:      events,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	if err := feed.Start(ctx); err != nil {
		return nil, err
	}
	return feed, nil
}

// firstError waits for ctx or a server error. A closed channel means the
// server stopped cleanly.
func firstError(ctx context.Context, errs <-chan error) error {
	select {
	case <-ctx.Done():
		return nil
	case err, ok := <-errs:
		if !ok {
			return nil
		}
		return err
	}
}
