// Package server exposes the studio over HTTP: planner and generator
// passthroughs, stateful shoot sessions with WebSocket snapshot push, the
// gallery, feedback, sign-in and the free-trial counter.
package server

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/manash/jewelshoot/internal/auth"
	"github.com/manash/jewelshoot/internal/gallery"
	"github.com/manash/jewelshoot/internal/normalize"
	"github.com/manash/jewelshoot/internal/provider"
	"github.com/manash/jewelshoot/internal/usage"
	"github.com/manash/jewelshoot/pkg/models"
)

const (
	maxBodyBytes    = 32 << 20
	cleanupInterval = 5 * time.Minute
	shutdownTimeout = 10 * time.Second
)

var errUnavailable = errors.New("service is not configured")

// UsageRegistry hands out the trial record of one client.
type UsageRegistry interface {
	For(clientID string) usage.Store
}

type Config struct {
	Planner    provider.Planner
	Generator  provider.Generator
	Enhancer   provider.Enhancer
	Normalizer *normalize.Normalizer
	Usage      UsageRegistry

	// Optional collaborators; their routes answer 503 when nil.
	Accounts auth.Backend
	Verifier *auth.Verifier
	Gallery  *gallery.Service
	Feedback *gallery.Feedback

	ConceptCount   int
	MaxConcurrent  int
	RequestTimeout time.Duration
	Sizing         models.Sizing

	// Development enables POST /api/usage/reset.
	Development    bool
	RateLimit      int
	AllowedOrigins []string
	SessionTTL     time.Duration
	Logger         zerolog.Logger
	NewID          func() string
}

type Server struct {
	cfg      Config
	sessions *sessionManager
	upgrader websocket.Upgrader
	validate *validator.Validate
	log      zerolog.Logger
	handler  http.Handler
}

func New(cfg Config) *Server {
	if cfg.Usage == nil {
		cfg.Usage = usage.NewMemoryRegistry()
	}
	if cfg.Normalizer == nil {
		cfg.Normalizer = normalize.New(normalize.Options{})
	}
	if cfg.Sizing.Resolution.ID == "" {
		cfg.Sizing = models.DefaultSizing()
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}

	v := validator.New()
	v.RegisterTagNameFunc(jsonFieldName)

	s := &Server{
		cfg:      cfg,
		sessions: newSessionManager(cfg.SessionTTL, cfg.Logger),
		validate: v,
		log:      cfg.Logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/plan", s.handlePlan).Methods(http.MethodPost)
	api.HandleFunc("/generate-image", s.handleGenerateImage).Methods(http.MethodPost)

	api.HandleFunc("/sessions", s.handleCreateSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/sizing", s.handleSetSizing).Methods(http.MethodPut)
	api.HandleFunc("/sessions/{id}/generate", s.handleStartGeneration).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/resume", s.handleResume).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/concepts/{cid}/regenerate", s.handleRegenerate).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/concepts/{cid}/edit", s.handleEdit).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/concepts/{cid}/save", s.handleSaveConcept).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/ws", s.handleSessionWS).Methods(http.MethodGet)

	api.HandleFunc("/gallery", s.handleListGallery).Methods(http.MethodGet)
	api.HandleFunc("/gallery/{id}", s.handleDeleteGallery).Methods(http.MethodDelete)
	api.HandleFunc("/feedback", s.handleListFeedback).Methods(http.MethodGet)
	api.HandleFunc("/feedback", s.handleSendFeedback).Methods(http.MethodPost)

	api.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/auth/signup", s.handleSignup).Methods(http.MethodPost)
	api.HandleFunc("/usage", s.handleUsage).Methods(http.MethodGet)
	api.HandleFunc("/usage/reset", s.handleResetUsage).Methods(http.MethodPost)

	var h http.Handler = r
	h = Authenticate(s.cfg.Verifier)(h)
	h = RateLimit(s.cfg.RateLimit, time.Minute)(h)
	h = CORS(s.cfg.AllowedOrigins)(h)
	h = Logger(s.log)(h)
	h = RequestID(h)
	return h
}

// Handler returns the fully wrapped router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return slices.Contains(s.cfg.AllowedOrigins, "*") || slices.Contains(s.cfg.AllowedOrigins, origin)
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully and
// closes every open session.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	defer s.sessions.closeAll()

	cleanupCtx, stop := context.WithCancel(ctx)
	defer stop()
	s.sessions.startCleanup(cleanupCtx, cleanupInterval)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.log.Info().Str("addr", addr).Msg("server starting")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// Close releases every session without stopping a running listener.
func (s *Server) Close() {
	s.sessions.closeAll()
}
