package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/manash/jewelshoot/internal/display"
	"github.com/manash/jewelshoot/internal/repl"
)

func newStudioCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "studio [image]",
		Aliases: []string{"repl", "interactive", "i"},
		Short:   "Start the interactive studio",
		Long: `Start an interactive session. Upload a photo, generate concepts, then
regenerate, edit, save or keep them one command at a time.

Examples:
  jewelshoot studio
  jewelshoot studio ring.jpg`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runStudio(cmd, args)
		},
	}

	cmd.Flags().StringVarP(&flagOutput, "output", "o", ".", "default directory for 'save'")
	cmd.Flags().StringVarP(&flagAPIKey, "api-key", "k", "", "Gemini API key (overrides stored and configured keys)")
	return cmd
}

func (a *App) runStudio(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

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
	st, err := a.newStudio(ctx, e, gate, client)
	if err != nil {
		return err
	}
	defer st.Close()

	saver := a.NewSaver(e.cfg)
	svc, _ := a.gallery(ctx, e)

	rc := &repl.Config{
		In:        a.In,
		Out:       cmd.OutOrStdout(),
		Err:       cmd.ErrOrStderr(),
		Studio:    st,
		Saver:     saver,
		Gallery:   svc,
		Auth:      client,
		Gate:      gate,
		Password:  a.ReadPassword,
		OutputDir: flagOutput,
	}

	hist, closeHistory, err := a.history(e)
	if err != nil {
		e.log.Warn().Err(err).Msg("shoot history unavailable")
	} else {
		defer closeHistory()
		unsubscribe := st.Subscribe(hist.Observe)
		defer unsubscribe()
		rc.History = hist
	}

	if display.Supported(rc.Out) {
		rc.Displayer = display.New(rc.Out, display.WithFetcher(saver))
	}

	r := repl.New(rc)
	if len(args) == 1 {
		if err := r.Upload(ctx, args[0]); err != nil {
			fmt.Fprintf(rc.Err, "Error: %v\n", err)
		}
	}
	return r.Run(ctx)
}
