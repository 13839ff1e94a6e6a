package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/manash/jewelshoot/internal/auth"
	"github.com/manash/jewelshoot/internal/config"
	"github.com/manash/jewelshoot/internal/gallery"
	"github.com/manash/jewelshoot/internal/history"
	"github.com/manash/jewelshoot/internal/image"
	"github.com/manash/jewelshoot/internal/keys"
	"github.com/manash/jewelshoot/internal/logging"
	"github.com/manash/jewelshoot/internal/normalize"
	"github.com/manash/jewelshoot/internal/provider"
	"github.com/manash/jewelshoot/internal/provider/gemini"
	"github.com/manash/jewelshoot/internal/provider/offline"
	"github.com/manash/jewelshoot/internal/security"
	"github.com/manash/jewelshoot/internal/server"
	"github.com/manash/jewelshoot/internal/studio"
	"github.com/manash/jewelshoot/internal/usage"
	"github.com/manash/jewelshoot/pkg/models"
)

// localClientID names the CLI's own trial record in shared usage backends.
const localClientID = "local"

// env is the per-command runtime built from configuration.
type env struct {
	cfg  *config.Config
	log  zerolog.Logger
	keys *keys.Store
}

func (a *App) setup(jsonLogs bool) (*env, error) {
	cfg, err := a.LoadConfig(config.LoadOptions{ConfigFile: flagConfig, EnvFile: flagEnvFile})
	if err != nil {
		return nil, err
	}

	store := keys.NewStoreAt(cfg.ConfigDir)
	if k, err := store.Get(keys.ServiceSupabase); err == nil && k != "" {
		cfg.Supabase.AnonKey = k
	}
	if k, err := store.Get(keys.ServiceS3); err == nil && k != "" {
		cfg.S3.SecretAccessKey = k
	}

	log := logging.New(cfg.Log.Level, cfg.Log.Pretty && !jsonLogs, a.Err)
	return &env{cfg: cfg, log: log, keys: store}, nil
}

func newProvider(ctx context.Context, cfg *config.Config, apiKey string, log zerolog.Logger) (provider.Provider, error) {
	registry := models.DefaultRegistry()
	factory := provider.NewFactory(registry)
	factory.Register(offline.New(0))

	if cfg.Provider == string(models.ProviderGemini) {
		pcfg := &provider.Config{
			APIKey:       apiKey,
			BaseURL:      cfg.Gemini.BaseURL,
			PlannerModel: cfg.Gemini.PlannerModel,
			ImageModel:   cfg.Gemini.ImageModel,
			TextModel:    cfg.Gemini.TextModel,
			MaxRetries:   cfg.Gemini.MaxRetries,
			RetryDelay:   cfg.Gemini.RetryDelay,
		}
		factory.Configure(models.ProviderGemini, pcfg)
		p, err := gemini.New(ctx, pcfg, registry, log)
		if err != nil {
			return nil, err
		}
		factory.Register(p)
	}

	return factory.Get(models.ProviderType(cfg.Provider))
}

// provider resolves the API key and builds the configured provider.
func (a *App) provider(ctx context.Context, e *env) (provider.Provider, error) {
	apiKey := ""
	if e.cfg.Provider == string(models.ProviderGemini) {
		key, source, err := e.keys.Resolve(flagAPIKey, keys.ServiceGemini, e.cfg.Gemini.APIKey)
		if err != nil {
			return nil, err
		}
		e.log.Debug().Str("source", source).Msg("using gemini api key")
		apiKey = key
	}

	p, err := a.NewProvider(ctx, e.cfg, apiKey, e.log)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}
	return p, nil
}

func newNormalizer(cfg *config.Config, log zerolog.Logger) (*normalize.Normalizer, error) {
	policy, err := normalize.ParsePolicy(cfg.Normalize.Policy)
	if err != nil {
		return nil, err
	}
	return normalize.New(normalize.Options{
		Disabled:     !cfg.Normalize.Enabled,
		Policy:       policy,
		NeverUpscale: cfg.Normalize.NeverUpscale,
		Logger:       log,
	}), nil
}

func configuredSizing(cfg *config.Config) models.Sizing {
	return models.NewSizing(models.ResolutionID(cfg.Studio.Resolution), models.AspectRatioID(cfg.Studio.AspectRatio))
}

// usageRegistry opens the configured trial backend for the HTTP server,
// one record per client. The returned func releases it.
func usageRegistry(ctx context.Context, cfg *config.Config) (server.UsageRegistry, func(), error) {
	switch cfg.Usage.Backend {
	case "redis":
		rdb, err := usage.ConnectRedis(ctx, usage.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			UseTLS:   cfg.Redis.TLS,
		})
		if err != nil {
			return nil, nil, err
		}
		return usage.NewRedisRegistry(rdb), func() { rdb.Close() }, nil
	case "memory":
		return usage.NewMemoryRegistry(), func() {}, nil
	default:
		return usage.NewFileRegistry(cfg.ConfigDir), func() {}, nil
	}
}

// gate builds the CLI's trial gate. The file backend keeps the local user's
// record in usage.json; shared backends key it by localClientID.
func (a *App) gate(ctx context.Context, e *env) (*usage.Gate, func(), error) {
	opts := []usage.Option{
		usage.WithLogger(e.log),
		usage.WithReset(e.cfg.IsDevelopment()),
	}
	if e.cfg.Usage.Backend == "" || e.cfg.Usage.Backend == "file" {
		return usage.NewGate(usage.DefaultFileStore(e.cfg.ConfigDir), opts...), func() {}, nil
	}

	reg, closeFn, err := usageRegistry(ctx, e.cfg)
	if err != nil {
		return nil, nil, err
	}
	return usage.NewGate(reg.For(localClientID), opts...), closeFn, nil
}

func newAccounts(cfg *config.Config) (auth.Backend, error) {
	backend, err := auth.NewSupabaseBackend(cfg.Supabase.URL, cfg.Supabase.AnonKey)
	if err != nil {
		return nil, err
	}
	return backend, nil
}

// authClient returns nil when no identity provider is configured.
func (a *App) authClient(e *env) *auth.Client {
	backend, err := a.NewAccounts(e.cfg)
	if err != nil {
		e.log.Debug().Err(err).Msg("sign in unavailable")
		return nil
	}
	return auth.NewClient(backend, auth.NewSessionFile(e.cfg.ConfigDir), e.log)
}

func (a *App) requireAuthClient(e *env) (*auth.Client, error) {
	backend, err := a.NewAccounts(e.cfg)
	if err != nil {
		return nil, fmt.Errorf("sign in is not configured: %w", err)
	}
	return auth.NewClient(backend, auth.NewSessionFile(e.cfg.ConfigDir), e.log), nil
}

func newGalleryData(ctx context.Context, cfg *config.Config) (*galleryData, error) {
	switch cfg.Gallery.Backend {
	case "memory":
		m := gallery.NewMemoryStore()
		return &galleryData{
			Blobs:    gallery.NewMemoryBlobStore("memory://" + cfg.Supabase.Bucket),
			Records:  m,
			Messages: m,
		}, nil
	case "s3":
		blobs, err := gallery.NewS3BlobStore(ctx, gallery.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			PublicBaseURL:   cfg.S3.PublicBaseURL,
		})
		if err != nil {
			return nil, err
		}
		// Records stay in Supabase when it is configured.
		if cfg.Supabase.URL != "" && cfg.Supabase.AnonKey != "" {
			rows, err := gallery.NewSupabaseStore(cfg.Supabase.URL, cfg.Supabase.AnonKey, cfg.Supabase.Bucket)
			if err != nil {
				return nil, err
			}
			return &galleryData{Blobs: blobs, Records: rows, Messages: rows}, nil
		}
		m := gallery.NewMemoryStore()
		return &galleryData{Blobs: blobs, Records: m, Messages: m}, nil
	default:
		store, err := gallery.NewSupabaseStore(cfg.Supabase.URL, cfg.Supabase.AnonKey, cfg.Supabase.Bucket)
		if err != nil {
			return nil, err
		}
		return &galleryData{Blobs: store, Records: store, Messages: store}, nil
	}
}

// gallery returns nil services when no gallery backend can be built.
func (a *App) gallery(ctx context.Context, e *env) (*gallery.Service, *gallery.Feedback) {
	svc, fb, err := a.requireGallery(ctx, e)
	if err != nil {
		e.log.Debug().Err(err).Msg("gallery unavailable")
		return nil, nil
	}
	return svc, fb
}

func (a *App) requireGallery(ctx context.Context, e *env) (*gallery.Service, *gallery.Feedback, error) {
	data, err := a.NewGalleryData(ctx, e.cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("gallery is not configured: %w", err)
	}
	opts := []gallery.Option{gallery.WithLogger(e.log)}
	if e.cfg.Gallery.Format == "webp" {
		opts = append(opts, gallery.WithWebP(e.cfg.Gallery.WebPQuality))
	}
	return gallery.NewService(data.Blobs, data.Records, opts...), gallery.NewFeedback(data.Messages), nil
}

func newSaver(cfg *config.Config) *image.Saver {
	return image.NewSaver(security.NewURLValidator(true, cfg.Supabase.URL, cfg.S3.PublicBaseURL, cfg.S3.Endpoint))
}

// history opens the local shoot history. The returned func closes it.
func (a *App) history(e *env) (*history.Manager, func(), error) {
	store, err := history.NewStore(e.cfg.ConfigDir)
	if err != nil {
		return nil, nil, err
	}
	mgr := history.NewManager(store, filepath.Join(e.cfg.ConfigDir, "shoots"), e.log)
	return mgr, func() { store.Close() }, nil
}

// newStudio builds an orchestrator for the CLI. A nil client means nobody
// can sign in, so the free trial is the only allowance.
func (a *App) newStudio(ctx context.Context, e *env, gate *usage.Gate, client *auth.Client) (*studio.Orchestrator, error) {
	p, err := a.provider(ctx, e)
	if err != nil {
		return nil, err
	}
	norm, err := newNormalizer(e.cfg, e.log)
	if err != nil {
		return nil, err
	}

	var checker studio.AuthChecker = studio.AuthFunc(func(context.Context) bool { return false })
	if client != nil {
		checker = client
	}

	sc := studio.Config{
		Planner:        p,
		Generator:      p,
		Gate:           gate,
		Auth:           checker,
		Normalizer:     norm,
		ConceptCount:   e.cfg.Studio.Concepts,
		MaxConcurrent:  e.cfg.Studio.MaxConcurrent,
		RequestTimeout: e.cfg.Studio.RequestTimeout,
		Sizing:         configuredSizing(e.cfg),
		Logger:         e.log,
	}
	if e.cfg.Gemini.EnhanceEdits {
		sc.Enhancer = p
	}
	return studio.New(sc), nil
}
