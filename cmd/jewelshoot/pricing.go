package main

import (
	"fmt"
	"slices"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/manash/jewelshoot/internal/config"
	"github.com/manash/jewelshoot/internal/cost"
	"github.com/manash/jewelshoot/pkg/models"
)

func newPricingCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pricing",
		Short: "Show or override the per-image prices used for estimates",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Show effective prices per model and tier",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				e, err := app.setup(false)
				if err != nil {
					return err
				}
				overrides, err := cost.LoadPricing(e.cfg.ConfigDir)
				if err != nil {
					return err
				}
				calc := cost.NewCalculator(overrides)

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "MODEL\t2K\t4K\tSOURCE")
				for _, model := range pricedModels(overrides) {
					source := "list"
					if _, ok := overrides.Get(model, cost.Tier2K); ok {
						source = "override"
					} else if _, ok := overrides.Get(model, cost.Tier4K); ok {
						source = "override"
					}
					fmt.Fprintf(w, "%s\t$%.4f\t$%.4f\t%s\n", model,
						calc.Estimate(model, models.Resolution2K, 1).PerImage,
						calc.Estimate(model, models.Resolution4K, 1).PerImage,
						source)
				}
				return w.Flush()
			},
		},
		&cobra.Command{
			Use:   "set <model> <tier> <price>",
			Short: "Override the per-image price of a model",
			Args:  cobra.ExactArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				tier, err := cost.ParseTier(args[1])
				if err != nil {
					return err
				}
				price, err := strconv.ParseFloat(args[2], 64)
				if err != nil {
					return fmt.Errorf("invalid price %q: %w", args[2], err)
				}
				e, err := app.setup(false)
				if err != nil {
					return err
				}
				if err := cost.SetPrice(e.cfg.ConfigDir, args[0], tier, price); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Set %s %s to $%.4f per image\n", args[0], tier, price)
				return nil
			},
		},
		&cobra.Command{
			Use:   "reset",
			Short: "Remove every price override",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				e, err := app.setup(false)
				if err != nil {
					return err
				}
				if err := cost.DeletePricing(e.cfg.ConfigDir); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Pricing overrides removed")
				return nil
			},
		},
	)
	return cmd
}

// pricedModels merges list-priced models with overridden ones.
func pricedModels(overrides *cost.LocalPricing) []string {
	out := cost.Models()
	if overrides == nil {
		return out
	}
	for model := range overrides.Image {
		if !slices.Contains(out, model) {
			out = append(out, model)
		}
	}
	slices.Sort(out)
	return out
}

// imageModel names the model that bills for generated shots.
func imageModel(cfg *config.Config) string {
	if cfg.Provider == string(models.ProviderOffline) {
		return "offline"
	}
	return cfg.Gemini.ImageModel
}

// calculator loads local overrides. A broken override file is logged and
// list prices are used instead.
func (a *App) calculator(e *env) *cost.Calculator {
	overrides, err := cost.LoadPricing(e.cfg.ConfigDir)
	if err != nil {
		e.log.Warn().Err(err).Msg("ignoring pricing overrides")
	}
	return cost.NewCalculator(overrides)
}
