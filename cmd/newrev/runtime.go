// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/spf13/cobra"

	"github.com/newrev/newrev/internal/app"
	"github.com/newrev/newrev/internal/config"
	"github.com/newrev/newrev/internal/issue"
	"github.com/newrev/newrev/internal/provision"
	"github.com/newrev/newrev/internal/runtimeenv"
	"github.com/newrev/newrev/pkg/platform"
	"github.com/newrev/newrev/pkg/types"
)

func newRuntimeCommand(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runtime",
		Short: "Locate, install or remove the Python runtime",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "locate",
			Short: "Show which interpreter the backend would use",
			Args:  cobra.NoArgs,
			RunE:  func(cmd *cobra.Command, _ []string) error { return a.runLocate(cmd.Context()) },
		},
		&cobra.Command{
			Use:   "provision",
			Short: "Download and install the isolated runtime",
			Args:  cobra.NoArgs,
			RunE:  func(cmd *cobra.Command, _ []string) error { return a.runProvision(cmd.Context()) },
		},
		&cobra.Command{
			Use:   "clean",
			Short: "Remove the isolated runtime",
			Args:  cobra.NoArgs,
			RunE:  func(cmd *cobra.Command, _ []string) error { return a.runClean(cmd.Context()) },
		},
	)
	return cmd
}

func (a *App) runLocate(ctx context.Context) error {
	cfg, _, err := a.loadConfig(ctx)
	if err != nil {
		return err
	}
	svc, err := a.NewService(cfg, a.logger(cfg))
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	desc, err := svc.Locator().Locate(ctx)
	if err != nil {
		var nf *runtimeenv.NotFoundError
		if !errors.As(err, &nf) {
			return err
		}
		msg := ErrorStyle.Render("✗ No usable Python interpreter") + "\n"
		for _, r := range nf.Rejections {
			msg += fmt.Sprintf("  %s %s\n    %s\n", CmdStyle.Render(r.Path), SubtitleStyle.Render("["+string(r.Source)+"]"), r.Reason)
		}
		svcErr := newServiceError(err, issue.RuntimeNotFoundId, msg)
		renderServiceError(a.stderr, svcErr, issueStyle(cfg))
		return &ExitError{Code: types.ExitCodeGenericFailure, Err: svcErr}
	}
	fmt.Fprintln(a.stdout, SuccessStyle.Render("✓ ")+CmdStyle.Render(desc.Path))
	fmt.Fprintf(a.stdout, "  %s %s\n", SubtitleStyle.Render("version:"), desc.Version)
	fmt.Fprintf(a.stdout, "  %s %s\n", SubtitleStyle.Render("source: "), desc.Source)
	return nil
}

func (a *App) runProvision(ctx context.Context) error {
	cfg, _, err := a.loadConfig(ctx)
	if err != nil {
		return err
	}
	svc, err := a.NewService(cfg, a.logger(cfg))
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	prov, err := a.provisioner(svc, cfg)
	if err != nil {
		return err
	}

	// Provision never blocks on this channel and never closes it.
	progress := make(chan provision.Progress, 32)
	out := &printer{w: a.stdout}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for p := range progress {
			out.progress(p)
		}
	}()
	desc, err := prov.Provision(ctx, progress)
	close(progress)
	wg.Wait()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		svcErr := newServiceError(err, issue.ProvisionFailedId, ErrorStyle.Render("✗ Provisioning failed: ")+err.Error()+"\n")
		renderServiceError(a.stderr, svcErr, issueStyle(cfg))
		return &ExitError{Code: types.ExitCodeGenericFailure, Err: svcErr}
	}
	out.line(SuccessStyle.Render("✓ Runtime installed: ") + CmdStyle.Render(desc.Path) + " " + SubtitleStyle.Render(desc.Version))
	return nil
}

func (a *App) runClean(ctx context.Context) error {
	cfg, _, err := a.loadConfig(ctx)
	if err != nil {
		return err
	}
	svc, err := a.NewService(cfg, a.logger(cfg))
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	prov, err := a.provisioner(svc, cfg)
	if err != nil {
		return err
	}
	if err := prov.Clean(); err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, SuccessStyle.Render("✓ Removed ")+prov.InstallDir())
	return nil
}

// provisioner returns the service's provisioner or explains why there is
// none on this platform.
func (a *App) provisioner(svc *app.Service, cfg *config.Config) (*provision.Provisioner, error) {
	if p := svc.Provisioner(); p != nil {
		return p, nil
	}
	target := runtime.GOOS + "/" + runtime.GOARCH
	err := fmt.Errorf("%w: %s", platform.ErrUnsupportedPlatform, target)
	svcErr := newServiceError(err, issue.UnsupportedPlatformId,
		ErrorStyle.Render("✗ No portable Python build for ")+target+"\n")
	renderServiceError(a.stderr, svcErr, issueStyle(cfg))
	return nil, &ExitError{Code: types.ExitCodeGenericFailure, Err: svcErr}
}
