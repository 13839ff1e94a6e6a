package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/manash/jewelshoot/internal/history"
	"github.com/manash/jewelshoot/pkg/models"
)

func newHistoryCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Review past shoots and their iterations",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:     "list",
			Aliases: []string{"ls"},
			Short:   "List recorded shoots, most recent first",
			Args:    cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return app.withHistory(cmd, func(ctx context.Context, mgr *history.Manager) error {
					return historyList(ctx, cmd, mgr)
				})
			},
		},
		&cobra.Command{
			Use:   "show <id>",
			Short: "Show every iteration of a shoot",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return app.withHistory(cmd, func(ctx context.Context, mgr *history.Manager) error {
					return historyShow(ctx, cmd, mgr, args[0])
				})
			},
		},
		&cobra.Command{
			Use:     "delete <id>",
			Aliases: []string{"rm"},
			Short:   "Delete a shoot and its stored images",
			Args:    cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return app.withHistory(cmd, func(ctx context.Context, mgr *history.Manager) error {
					sh, err := findShoot(ctx, mgr, args[0])
					if err != nil {
						return err
					}
					if err := mgr.Delete(ctx, sh.ID); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Deleted shoot %q\n", sh.Name)
					return nil
				})
			},
		},
	)
	return cmd
}

func (a *App) withHistory(cmd *cobra.Command, fn func(context.Context, *history.Manager) error) error {
	e, err := a.setup(false)
	if err != nil {
		return err
	}
	mgr, closeFn, err := a.history(e)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(cmd.Context(), mgr)
}

// findShoot matches a full ID or an unambiguous prefix.
func findShoot(ctx context.Context, mgr *history.Manager, id string) (*history.Shoot, error) {
	shoots, err := mgr.List(ctx)
	if err != nil {
		return nil, err
	}
	var match *history.Shoot
	for _, sh := range shoots {
		if sh.ID == id {
			return sh, nil
		}
		if strings.HasPrefix(sh.ID, id) {
			if match != nil {
				return nil, fmt.Errorf("shoot id %q is ambiguous", id)
			}
			match = sh
		}
	}
	if match == nil {
		return nil, fmt.Errorf("%w: %s", history.ErrShootNotFound, id)
	}
	return match, nil
}

func historyList(ctx context.Context, cmd *cobra.Command, mgr *history.Manager) error {
	shoots, err := mgr.List(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(shoots) == 0 {
		fmt.Fprintln(out, "No shoots recorded")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSIZE\tUPDATED")
	for _, sh := range shoots {
		sizing := models.NewSizing(sh.Resolution, sh.AspectRatio)
		fmt.Fprintf(w, "%s\t%s\t%s %s\t%s\n", sh.ID[:min(8, len(sh.ID))], sh.Name,
			sizing.Resolution.Label, sizing.AspectRatio.APIValue, sh.UpdatedAt.Local().Format(timeFormat))
	}
	return w.Flush()
}

func historyShow(ctx context.Context, cmd *cobra.Command, mgr *history.Manager, id string) error {
	sh, err := findShoot(ctx, mgr, id)
	if err != nil {
		return err
	}
	iters, err := mgr.Iterations(ctx, sh.ID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s (%s)\nSource: %s\n", sh.Name, sh.ID, sh.SourcePath)
	if len(iters) == 0 {
		fmt.Fprintln(out, "No iterations")
		return nil
	}
	for _, it := range iters {
		fmt.Fprintf(out, "%s  %-10s %-18s %s\n", it.CreatedAt.Local().Format(timeFormat), it.Operation, it.Style.Label(), it.ImagePath)
	}
	return nil
}
