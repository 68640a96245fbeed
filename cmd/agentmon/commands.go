package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/nkiryanov/agentmon/internal/apperrors"
	"github.com/nkiryanov/agentmon/internal/models"
	"github.com/nkiryanov/agentmon/internal/session"
)

var errUsage = errors.New("usage error")

const usage = `Usage: agentmon [global flags] <command> [flags]

Commands:
  login       log in with username and password
  register    create an account
  logout      log out and remove stored tokens
  status      show session state (alias: whoami)
  projects    list | get ID | stats ID | create | update ID | delete ID
  tasks       list | get ID | steps ID | files ID | logs ID
  analytics   performance | costs | trends
  dashboard   show dashboard, --watch to keep it updated
  prefs       show | theme | lang CODE
`

type command func(ctx context.Context, a *App, args []string) error

var commands = map[string]command{
	"login":     cmdLogin,
	"register":  cmdRegister,
	"logout":    cmdLogout,
	"status":    cmdStatus,
	"whoami":    cmdStatus,
	"projects":  cmdProjects,
	"tasks":     cmdTasks,
	"analytics": cmdAnalytics,
	"dashboard": cmdDashboard,
	"prefs":     cmdPrefs,
}

func newFlagSet(name string) *pflag.FlagSet {
	return pflag.NewFlagSet(name, pflag.ContinueOnError)
}

// subcommand splits args into subcommand name and the rest. Flags right after the command mean default
func subcommand(args []string, def string) (string, []string) {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return def, args
	}
	return args[0], args[1:]
}

// print writes v as JSON if asked, otherwise as a table
func (a *App) print(v any, table func(w *tabwriter.Writer)) error {
	if a.config.JSON {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	table(tw)
	return tw.Flush()
}

// requireSession verifies stored session before a command that needs one
func (a *App) requireSession(ctx context.Context) error {
	status, err := a.auth.Restore(ctx)
	if err != nil {
		return err
	}
	if status != session.StatusAuthenticated {
		return fmt.Errorf("%w: run 'agentmon login' first", apperrors.ErrNotAuthenticated)
	}
	return nil
}

func cmdLogin(ctx context.Context, a *App, args []string) error {
	fs := newFlagSet("login")
	username := fs.StringP("username", "u", "", "Username")
	password := fs.StringP("password", "p", "", "Password")
	if err := fs.Parse(args); err != nil {
		return err
	}

	user, err := a.auth.Login(ctx, *username, *password)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Logged in as %s\n", user.Username)
	return nil
}

func cmdRegister(ctx context.Context, a *App, args []string) error {
	fs := newFlagSet("register")
	var req models.RegisterRequest
	fs.StringVarP(&req.Username, "username", "u", "", "Username")
	fs.StringVar(&req.Email, "email", "", "Email")
	fs.StringVarP(&req.Password, "password", "p", "", "Password")
	fs.StringVar(&req.FullName, "full-name", "", "Full name")
	if err := fs.Parse(args); err != nil {
		return err
	}

	user, err := a.auth.Register(ctx, req)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Registered %s, now run 'agentmon login'\n", user.Username)
	return nil
}

func cmdLogout(ctx context.Context, a *App, _ []string) error {
	if err := a.auth.Logout(ctx); err != nil {
		return err
	}

	fmt.Fprintln(a.out, "Logged out")
	return nil
}

func cmdStatus(ctx context.Context, a *App, _ []string) error {
	// Verification failure is shown as pending status, not as command error
	if _, err := a.auth.Restore(ctx); err != nil {
		a.logger.Warn("Session not verified", "error", err)
	}

	info, err := a.auth.Info(ctx)
	if err != nil {
		return err
	}

	type status struct {
		Status          string     `json:"status"`
		User            *string    `json:"user"`
		AccessExpiresAt *time.Time `json:"access_expires_at,omitempty"`
		Theme           string     `json:"theme"`
		Language        string     `json:"language"`
	}
	out := status{
		Status:   info.State.Status.String(),
		Theme:    string(info.State.Preferences.Theme),
		Language: string(info.State.Preferences.Language),
	}
	if info.State.User != nil {
		out.User = &info.State.User.Username
	}
	if !info.AccessExpiresAt.IsZero() {
		out.AccessExpiresAt = &info.AccessExpiresAt
	}

	return a.print(out, func(w *tabwriter.Writer) {
		fmt.Fprintf(w, "Status:\t%s\n", out.Status)
		if out.User != nil {
			fmt.Fprintf(w, "User:\t%s\n", *out.User)
		}
		if out.AccessExpiresAt != nil {
			fmt.Fprintf(w, "Token expires:\t%s\n", out.AccessExpiresAt.Local().Format(time.DateTime))
		}
		fmt.Fprintf(w, "Theme:\t%s\n", out.Theme)
		fmt.Fprintf(w, "Language:\t%s\n", out.Language)
	})
}

func cmdPrefs(ctx context.Context, a *App, args []string) error {
	sub, args := subcommand(args, "show")

	switch sub {
	case "show":
	case "theme":
		if _, err := a.session.ToggleTheme(ctx); err != nil {
			return err
		}
	case "lang":
		if len(args) != 1 {
			return fmt.Errorf("%w: prefs lang needs language code", errUsage)
		}
		if err := a.session.SetLanguage(ctx, session.Language(args[0])); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: unknown prefs command %q", errUsage, sub)
	}

	prefs := a.session.Snapshot().Preferences
	return a.print(prefs, func(w *tabwriter.Writer) {
		fmt.Fprintf(w, "Theme:\t%s\n", prefs.Theme)
		fmt.Fprintf(w, "Language:\t%s\n", prefs.Language)
	})
}
