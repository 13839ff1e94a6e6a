package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/manash/jewelshoot/internal/keys"
)

var services = []string{keys.ServiceGemini, keys.ServiceSupabase, keys.ServiceS3}

func checkService(service string) (string, error) {
	service = strings.ToLower(service)
	if !slices.Contains(services, service) {
		return "", fmt.Errorf("unknown service %q (want one of: %s)", service, strings.Join(services, ", "))
	}
	return service, nil
}

func newKeysCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage stored API keys",
		Long: `Store API keys in the configuration directory. A stored key takes
precedence over configuration and the environment; --api-key takes
precedence over both.

Services: gemini, supabase (anon key), s3 (secret access key)`,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "set <service> <key>",
			Short: "Store a key",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return app.keysSet(cmd, args[0], args[1])
			},
		},
		&cobra.Command{
			Use:   "get <service>",
			Short: "Show a stored key, masked",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return app.keysGet(cmd, args[0])
			},
		},
		&cobra.Command{
			Use:     "delete <service>",
			Aliases: []string{"rm"},
			Short:   "Remove a stored key",
			Args:    cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return app.keysDelete(cmd, args[0])
			},
		},
		&cobra.Command{
			Use:     "list",
			Aliases: []string{"ls"},
			Short:   "List services with a stored key",
			Args:    cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return app.keysList(cmd)
			},
		},
	)
	return cmd
}

func (a *App) keysSet(cmd *cobra.Command, service, key string) error {
	service, err := checkService(service)
	if err != nil {
		return err
	}
	e, err := a.setup(false)
	if err != nil {
		return err
	}
	if err := e.keys.Set(service, key); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Stored %s key in %s\n", service, e.keys.Path())
	return nil
}

func (a *App) keysGet(cmd *cobra.Command, service string) error {
	service, err := checkService(service)
	if err != nil {
		return err
	}
	e, err := a.setup(false)
	if err != nil {
		return err
	}
	key, err := e.keys.Get(service)
	if err != nil {
		return err
	}
	if key == "" {
		return fmt.Errorf("no key found for %s", service)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", service, keys.MaskKey(key))
	return nil
}

func (a *App) keysDelete(cmd *cobra.Command, service string) error {
	service, err := checkService(service)
	if err != nil {
		return err
	}
	e, err := a.setup(false)
	if err != nil {
		return err
	}
	if err := e.keys.Delete(service); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s key\n", service)
	return nil
}

func (a *App) keysList(cmd *cobra.Command) error {
	e, err := a.setup(false)
	if err != nil {
		return err
	}
	names, err := e.keys.List()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(names) == 0 {
		fmt.Fprintln(out, "No stored keys")
		return nil
	}
	for _, name := range names {
		fmt.Fprintln(out, name)
	}
	return nil
}
