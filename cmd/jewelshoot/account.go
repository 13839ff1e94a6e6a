package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/manash/jewelshoot/internal/auth"
	"github.com/manash/jewelshoot/internal/usage"
)

func newAuthCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Sign in to lift the free-trial limit",
	}

	login := &cobra.Command{
		Use:   "login <email>",
		Short: "Sign in with email and password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.authLogin(cmd, args[0], false)
		},
	}
	signup := &cobra.Command{
		Use:   "signup <email>",
		Short: "Create an account and sign in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.authLogin(cmd, args[0], true)
		},
	}
	for _, c := range []*cobra.Command{login, signup} {
		c.Flags().StringVarP(&flagPassword, "password", "p", "", "password (prompted when omitted)")
	}

	cmd.AddCommand(
		login,
		signup,
		&cobra.Command{
			Use:   "logout",
			Short: "Sign out and forget the local session",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return app.authLogout(cmd)
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show who is signed in",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return app.authStatus(cmd)
			},
		},
	)
	return cmd
}

func (a *App) authLogin(cmd *cobra.Command, email string, create bool) error {
	e, err := a.setup(false)
	if err != nil {
		return err
	}
	client, err := a.requireAuthClient(e)
	if err != nil {
		return err
	}

	password := flagPassword
	if password == "" {
		if password, err = a.ReadPassword("Password: "); err != nil {
			return err
		}
	}

	var sess auth.Session
	if create {
		sess, err = client.SignUp(cmd.Context(), email, password)
	} else {
		sess, err = client.SignIn(cmd.Context(), email, password)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", sess.Email)
	return nil
}

func (a *App) authLogout(cmd *cobra.Command) error {
	e, err := a.setup(false)
	if err != nil {
		return err
	}
	client, err := a.requireAuthClient(e)
	if err != nil {
		return err
	}
	if err := client.SignOut(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
	return nil
}

func (a *App) authStatus(cmd *cobra.Command) error {
	e, err := a.setup(false)
	if err != nil {
		return err
	}
	client, err := a.requireAuthClient(e)
	if err != nil {
		return err
	}

	user, err := client.User(cmd.Context())
	if errors.Is(err, auth.ErrNotSignedIn) {
		fmt.Fprintln(cmd.OutOrStdout(), "Not signed in")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", user.Email)
	return nil
}

func newUsageCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "usage",
		Aliases: []string{"quota"},
		Short:   "Inspect the free-trial counter",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Show remaining free shoots",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return app.usageStatus(cmd)
			},
		},
		&cobra.Command{
			Use:   "reset",
			Short: "Reset the free-trial counter (development only)",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return app.usageReset(cmd)
			},
		},
	)
	return cmd
}

func (a *App) usageStatus(cmd *cobra.Command) error {
	ctx := cmd.Context()
	e, err := a.setup(false)
	if err != nil {
		return err
	}
	gate, closeUsage, err := a.gate(ctx, e)
	if err != nil {
		return err
	}
	defer closeUsage()

	out := cmd.OutOrStdout()
	if client := a.authClient(e); client != nil {
		if sess, ok := client.Session(); ok {
			fmt.Fprintf(out, "Signed in as %s: unlimited shoots\n", sess.Email)
			return nil
		}
	}

	rec := gate.Record(ctx)
	fmt.Fprintf(out, "Free shoots remaining: %d of %d\n", gate.Remaining(ctx), usage.MaxFreeTrials)
	if rec.LastUsed != nil {
		fmt.Fprintf(out, "Last used: %s\n", rec.LastUsed.Local().Format(timeFormat))
	}
	return nil
}

func (a *App) usageReset(cmd *cobra.Command) error {
	ctx := cmd.Context()
	e, err := a.setup(false)
	if err != nil {
		return err
	}
	gate, closeUsage, err := a.gate(ctx, e)
	if err != nil {
		return err
	}
	defer closeUsage()

	if err := gate.Reset(ctx); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Free-trial counter reset")
	return nil
}
