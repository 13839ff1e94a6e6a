package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/manash/jewelshoot/internal/display"
	"github.com/manash/jewelshoot/internal/studio"
	"github.com/manash/jewelshoot/pkg/models"
)

func newShootCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shoot <image>",
		Short: "Plan and generate styled shots for a product photo",
		Long: `Plan concepts for a jewelry photo, generate one image per concept and save
them to the output directory.

Examples:
  jewelshoot shoot ring.jpg
  jewelshoot shoot ring.jpg -o shots/ -r 4k -a reels
  jewelshoot shoot ring.jpg --keep "Gold ring"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runShoot(cmd, args[0])
		},
	}

	cmd.Flags().StringVarP(&flagOutput, "output", "o", ".", "output directory")
	cmd.Flags().StringVar(&flagKeep, "keep", "", "keep every generated shot in the gallery under this name")
	cmd.Flags().StringVarP(&flagResolution, "resolution", "r", "", "resolution tier (2k, 4k, 8k)")
	cmd.Flags().StringVarP(&flagAspect, "aspect", "a", "", "aspect ratio (square, reels)")
	cmd.Flags().BoolVar(&flagShow, "show", false, "display the shots inline (kitty, ghostty, wezterm)")
	cmd.Flags().StringVarP(&flagAPIKey, "api-key", "k", "", "Gemini API key (overrides stored and configured keys)")
	return cmd
}

func (a *App) runShoot(cmd *cobra.Command, path string) error {
	ctx, cancel := signalContext()
	defer cancel()

	e, err := a.setup(false)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}

	gate, closeUsage, err := a.gate(ctx, e)
	if err != nil {
		return err
	}
	defer closeUsage()

	st, err := a.newStudio(ctx, e, gate, a.authClient(e))
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.SetSource(data); err != nil {
		return err
	}
	sizing := st.Sizing()
	if flagResolution != "" || flagAspect != "" {
		res, ar := sizing.Resolution.ID, sizing.AspectRatio.ID
		if flagResolution != "" {
			if _, ok := models.FindResolution(models.ResolutionID(strings.ToLower(flagResolution))); !ok {
				return fmt.Errorf("unknown resolution: %s", flagResolution)
			}
			res = models.ResolutionID(strings.ToLower(flagResolution))
		}
		if flagAspect != "" {
			if _, ok := models.FindAspectRatio(models.AspectRatioID(strings.ToLower(flagAspect))); !ok {
				return fmt.Errorf("unknown aspect ratio: %s", flagAspect)
			}
			ar = models.AspectRatioID(strings.ToLower(flagAspect))
		}
		sizing = st.SetSizing(res, ar)
	}

	hist, closeHistory, err := a.history(e)
	if err != nil {
		e.log.Warn().Err(err).Msg("shoot history unavailable")
	} else {
		defer closeHistory()
		unsubscribe := st.Subscribe(hist.Observe)
		defer unsubscribe()
		src, _ := st.Source()
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		if _, err := hist.StartShoot(ctx, name, src, sizing); err != nil {
			e.log.Warn().Err(err).Msg("shoot not recorded")
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Shooting %s at %s, %s...\n", filepath.Base(path), sizing.Resolution.Label, sizing.AspectRatio.Label)

	if err := st.StartGeneration(ctx); err != nil {
		if errors.Is(err, studio.ErrAuthRequired) {
			return fmt.Errorf("free trial used up, sign in with 'jewelshoot auth login <email>'")
		}
		return err
	}
	if err := st.Wait(ctx); err != nil {
		return err
	}

	snap := st.Snapshot()
	if snap.Status == models.StatusError {
		return fmt.Errorf("shoot failed: %s", snap.Error)
	}

	saver := a.NewSaver(e.cfg)
	paths, err := saver.SaveConcepts(ctx, snap.Concepts, flagOutput)
	if err != nil {
		return err
	}
	for i, c := range snap.Concepts {
		if c.Image == nil {
			fmt.Fprintf(out, "[%d] %s: failed\n", i+1, c.Style.Label())
		}
	}
	for _, p := range paths {
		fmt.Fprintf(out, "Saved: %s\n", p)
	}
	if len(paths) == 0 {
		return fmt.Errorf("no shots were generated")
	}
	est := a.calculator(e).Estimate(imageModel(e.cfg), sizing.Resolution.ID, len(paths))
	fmt.Fprintf(out, "Estimated cost: $%.4f (%d x %s %s)\n", est.Total, est.Images, est.Model, est.Tier)

	if flagShow && display.Supported(out) {
		if err := display.New(out).ShowConcepts(snap.Concepts); err != nil {
			e.log.Warn().Err(err).Msg("inline display failed")
		}
	}

	if flagKeep != "" {
		svc, _, err := a.requireGallery(ctx, e)
		if err != nil {
			return err
		}
		for _, c := range snap.Concepts {
			if c.Image == nil {
				continue
			}
			name := fmt.Sprintf("%s (%s)", flagKeep, c.Style.Label())
			rec, err := svc.Save(ctx, *c.Image, name, c.Style, c.Description)
			if err != nil {
				return fmt.Errorf("failed to keep %s: %w", c.Style.Label(), err)
			}
			fmt.Fprintf(out, "Kept %q as #%s: %s\n", rec.Name, rec.ID, rec.ImageURL)
		}
	}
	return nil
}
