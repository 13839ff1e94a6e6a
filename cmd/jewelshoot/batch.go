package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/manash/jewelshoot/internal/batch"
)

func newBatchCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch <manifest>",
		Short: "Run a shoot for every photo in a catalogue manifest",
		Long: `Run a shoot for every product photo listed in a manifest.

A .txt manifest lists one photo per line. Add "| name" to keep the results
in the gallery under that name. Lines starting with # are ignored.

  rings/gold.jpg | Gold ring
  rings/silver.jpg

A .json manifest is an array of objects with an image and optional name,
resolution and aspect_ratio fields:

  [{"image": "rings/gold.jpg", "name": "Gold ring", "resolution": "4k"}]

Relative paths are resolved against the manifest's directory. Each photo
gets its own numbered folder under the output directory.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runBatch(cmd, args[0])
		},
	}

	cmd.Flags().StringVarP(&flagOutput, "output", "o", ".", "output directory")
	cmd.Flags().IntVarP(&flagParallel, "parallel", "p", 1, "photos to shoot at the same time")
	cmd.Flags().BoolVar(&flagStopOnErr, "stop-on-error", false, "stop at the first failed photo")
	cmd.Flags().IntVar(&flagDelay, "delay", 0, "milliseconds to wait between sequential photos")
	cmd.Flags().StringVarP(&flagAPIKey, "api-key", "k", "", "Gemini API key (overrides stored and configured keys)")
	return cmd
}

func (a *App) runBatch(cmd *cobra.Command, manifest string) error {
	ctx, cancel := signalContext()
	defer cancel()

	items, err := batch.ParseFile(manifest)
	if err != nil {
		return err
	}
	if flagParallel < 1 {
		return fmt.Errorf("--parallel must be at least 1")
	}

	e, err := a.setup(false)
	if err != nil {
		return err
	}

	gate, closeUsage, err := a.gate(ctx, e)
	if err != nil {
		return err
	}
	defer closeUsage()
	client := a.authClient(e)

	var keeper batch.Keeper
	for _, item := range items {
		if item.Name == "" {
			continue
		}
		svc, _, err := a.requireGallery(ctx, e)
		if err != nil {
			return err
		}
		keeper = svc
		break
	}

	newStudio := func() (batch.Studio, error) {
		return a.newStudio(ctx, e, gate, client)
	}
	proc := batch.NewProcessor(newStudio, a.NewSaver(e.cfg), keeper, cmd.OutOrStdout(), cmd.ErrOrStderr())

	fmt.Fprintf(cmd.OutOrStdout(), "Shooting %d photos into %s\n\n", len(items), flagOutput)
	results, err := proc.Process(ctx, items, &batch.Options{
		OutputDir:   flagOutput,
		Parallel:    flagParallel,
		StopOnError: flagStopOnErr,
		DelayMs:     flagDelay,
		Model:       imageModel(e.cfg),
		Pricing:     a.calculator(e),
	})
	proc.PrintSummary(results)
	if err != nil {
		return err
	}

	if n := countFailed(results); n > 0 {
		return fmt.Errorf("%d of %d photos failed", n, len(results))
	}
	return nil
}

func countFailed(results []batch.Result) int {
	n := 0
	for _, r := range results {
		if r.Error != nil {
			n++
		}
	}
	return n
}
