package main

import (
	"github.com/spf13/cobra"

	"github.com/manash/jewelshoot/internal/auth"
	"github.com/manash/jewelshoot/internal/server"
)

func newServeCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the studio over HTTP",
		Long: `Run the HTTP API: planner and generator passthroughs, shoot sessions with
WebSocket updates, the gallery, feedback, sign-in and the free-trial counter.

Examples:
  jewelshoot serve
  jewelshoot serve --addr :9000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runServe()
		},
	}

	cmd.Flags().StringVar(&flagAddr, "addr", "", "listen address (default from server.addr)")
	cmd.Flags().StringVarP(&flagAPIKey, "api-key", "k", "", "Gemini API key (overrides stored and configured keys)")
	return cmd
}

func (a *App) runServe() error {
	ctx, cancel := signalContext()
	defer cancel()

	e, err := a.setup(true)
	if err != nil {
		return err
	}

	p, err := a.provider(ctx, e)
	if err != nil {
		return err
	}
	norm, err := newNormalizer(e.cfg, e.log)
	if err != nil {
		return err
	}
	reg, closeUsage, err := usageRegistry(ctx, e.cfg)
	if err != nil {
		return err
	}
	defer closeUsage()

	sc := server.Config{
		Planner:        p,
		Generator:      p,
		Enhancer:       p,
		Normalizer:     norm,
		Usage:          reg,
		ConceptCount:   e.cfg.Studio.Concepts,
		MaxConcurrent:  e.cfg.Studio.MaxConcurrent,
		RequestTimeout: e.cfg.Studio.RequestTimeout,
		Sizing:         configuredSizing(e.cfg),
		Development:    e.cfg.IsDevelopment(),
		RateLimit:      e.cfg.Server.RateLimit,
		AllowedOrigins: e.cfg.Server.AllowedOrigins,
		Logger:         e.log,
	}
	if !e.cfg.Gemini.EnhanceEdits {
		sc.Enhancer = nil
	}
	if e.cfg.Supabase.JWTSecret != "" {
		sc.Verifier = auth.NewVerifier(e.cfg.Supabase.JWTSecret)
	}
	if backend, err := a.NewAccounts(e.cfg); err != nil {
		e.log.Warn().Err(err).Msg("sign in disabled")
	} else {
		sc.Accounts = backend
	}
	if svc, fb, err := a.requireGallery(ctx, e); err != nil {
		e.log.Warn().Err(err).Msg("gallery disabled")
	} else {
		sc.Gallery, sc.Feedback = svc, fb
	}

	addr := e.cfg.Server.Addr
	if flagAddr != "" {
		addr = flagAddr
	}
	return server.New(sc).Run(ctx, addr)
}
