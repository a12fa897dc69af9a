// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/newrev/newrev/internal/issue"
	"github.com/newrev/newrev/internal/portguard"
	"github.com/newrev/newrev/pkg/types"
)

func newPortCommand(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "port",
		Short: "Inspect the backend port",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check [port]",
		Short: "Report whether the backend port is free",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var port types.ListenPort
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err == nil {
					err = types.ListenPort(n).ValidateFixed()
				}
				if err != nil {
					return a.usageFailure(issue.NewErrorContext().
						WithOperation("check port").
						WithResource(args[0]).
						WithSuggestions(
							"Pass a port number between 1 and 65535, for example 'newrev port check 5000'",
							"Omit the argument to check backend.port from the config",
						).
						Wrap(err).
						Build())
				}
				port = types.ListenPort(n)
			} else {
				cfg, _, err := a.loadConfig(ctx)
				if err != nil {
					return a.configFailure(err)
				}
				port = types.ListenPort(cfg.Backend.Port)
			}
			return a.checkPort(ctx, port)
		},
	})
	return cmd
}

func (a *App) checkPort(ctx context.Context, port types.ListenPort) error {
	err := a.PortChecker.CheckFree(ctx, port)
	var inUse *portguard.PortInUseError
	switch {
	case err == nil:
		fmt.Fprintln(a.stdout, SuccessStyle.Render("✓ Port "+port.String()+" is free"))
		return nil
	case errors.As(err, &inUse):
		svcErr := newServiceError(err, issue.PortInUseId, ErrorStyle.Render("✗ "+err.Error())+"\n")
		renderServiceError(a.stderr, svcErr, "dark")
		return &ExitError{Code: types.ExitCodeGenericFailure, Err: svcErr}
	default:
		return issue.WrapWithOperation(err, "check port "+port.String())
	}
}

// usageFailure prints an actionable error with its suggestions.
func (a *App) usageFailure(err error) error {
	fmt.Fprintln(a.stderr, ErrorStyle.Render("✗ ")+formatErrorForDisplay(err, a.verbose))
	return &ExitError{Code: types.ExitCodeGenericFailure, Err: err}
}
