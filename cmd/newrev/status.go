// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/newrev/newrev/internal/controlserver"
	"github.com/newrev/newrev/internal/lifecyclelog"
	"github.com/newrev/newrev/internal/supervisor"
	"github.com/newrev/newrev/pkg/types"
)

type remoteFlags struct {
	url   string
	token string
}

func newStatusCommand(a *App) *cobra.Command {
	var (
		remote remoteFlags
		asJSON bool
		follow bool
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the backend status from a running control server",
		Long: `Ask a running 'newrev serve' for the backend status.

The server is found through --url/--token, then the ` + controlserver.EnvControlURL + ` and
` + controlserver.EnvControlToken + ` variables, then the control section of the config.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runStatus(cmd.Context(), remote, asJSON, follow)
		},
	}
	cmd.Flags().StringVar(&remote.url, "url", "", "control server URL")
	cmd.Flags().StringVar(&remote.token, "token", "", "control server token")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw status document")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "stream lifecycle events after the status")
	return cmd
}

func (a *App) runStatus(ctx context.Context, remote remoteFlags, asJSON, follow bool) error {
	client, err := a.controlClient(ctx, remote)
	if err != nil {
		return err
	}
	st, err := client.Status(ctx)
	if err != nil {
		fmt.Fprintln(a.stderr, ErrorStyle.Render("✗ ")+err.Error())
		return &ExitError{Code: types.ExitCodeGenericFailure, Err: err}
	}
	if asJSON {
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(st); err != nil {
			return err
		}
	} else {
		printStatus(a, st)
	}
	if !follow {
		return nil
	}
	err = client.StreamEvents(ctx, func(e lifecyclelog.Event) {
		fmt.Fprintln(a.stdout, formatEvent(e))
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// controlClient resolves the server address from flags, the environment
// and config, in that order.
func (a *App) controlClient(ctx context.Context, remote remoteFlags) (*controlserver.Client, error) {
	url, token := remote.url, remote.token
	if url == "" {
		url = os.Getenv(controlserver.EnvControlURL)
	}
	if token == "" {
		token = os.Getenv(controlserver.EnvControlToken)
	}
	if url == "" || token == "" {
		cfg, _, err := a.loadConfig(ctx)
		if err != nil {
			return nil, err
		}
		if url == "" {
			url = "http://" + net.JoinHostPort(cfg.Control.Host, strconv.Itoa(cfg.Control.Port))
		}
		if token == "" {
			token = cfg.Control.Token
		}
	}
	if err := controlserver.AuthToken(token).Validate(); err != nil {
		return nil, fmt.Errorf("no control token: pass --token, set %s or control.token: %w", controlserver.EnvControlToken, err)
	}
	return controlserver.NewClient(url, controlserver.AuthToken(token), nil), nil
}

func printStatus(a *App, st *supervisor.Status) {
	state := st.State.String()
	switch st.State {
	case supervisor.StateRunning:
		state = SuccessStyle.Render(state)
	case supervisor.StateFailed:
		state = ErrorStyle.Render(state)
	default:
		state = WarningStyle.Render(state)
	}
	fmt.Fprintln(a.stdout, TitleStyle.Render("Backend")+" "+state)
	if h := st.Handle; h != nil {
		fmt.Fprintf(a.stdout, "  %s %d\n", SubtitleStyle.Render("pid:    "), h.PID)
		fmt.Fprintf(a.stdout, "  %s %s\n", SubtitleStyle.Render("started:"), h.StartedAt.Local().Format("2006-01-02 15:04:05"))
		if h.ProjectPath != "" {
			fmt.Fprintf(a.stdout, "  %s %s\n", SubtitleStyle.Render("project:"), h.ProjectPath)
		}
	}
	if rt := st.Runtime; rt != nil {
		fmt.Fprintf(a.stdout, "  %s %s (%s, %s)\n", SubtitleStyle.Render("python: "), rt.Path, rt.Version, rt.Source)
	}
	if e := st.LastError; e != nil {
		fmt.Fprintf(a.stdout, "  %s %s\n", ErrorStyle.Render("error:  "), e.Message)
		if e.Hint != "" {
			fmt.Fprintln(a.stdout, "  "+renderHintStyle.Render(e.Hint))
		}
	}
}
