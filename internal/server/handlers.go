package server

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/manash/jewelshoot/internal/auth"
	"github.com/manash/jewelshoot/internal/gallery"
	"github.com/manash/jewelshoot/internal/provider"
	"github.com/manash/jewelshoot/internal/studio"
	"github.com/manash/jewelshoot/internal/usage"
	"github.com/manash/jewelshoot/pkg/models"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.sessions.len(),
	})
}

func (s *Server) unavailable(w http.ResponseWriter, what string) {
	writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: fmt.Sprintf("%s: %v", what, errUnavailable)})
}

func (s *Server) gate(clientID string) *usage.Gate {
	return usage.NewGate(s.cfg.Usage.For(clientID),
		usage.WithLogger(s.log.With().Str("client_id", clientID).Logger()),
		usage.WithReset(s.cfg.Development),
	)
}

func (s *Server) conceptCount() int {
	if s.cfg.ConceptCount > 0 {
		return s.cfg.ConceptCount
	}
	return studio.DefaultConceptCount
}

// sizingFrom keeps the configured tier for any id left blank.
func (s *Server) sizingFrom(res, ar string) models.Sizing {
	rid := s.cfg.Sizing.Resolution.ID
	if res != "" {
		rid = models.ResolutionID(res)
	}
	aid := s.cfg.Sizing.AspectRatio.ID
	if ar != "" {
		aid = models.AspectRatioID(ar)
	}
	return models.NewSizing(rid, aid)
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if !s.decode(w, r, &req) {
		return
	}
	img, err := models.ParseDataURL(req.Image)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if img, err = studio.ValidateSource(img.Data); err != nil {
		s.writeError(w, r, err)
		return
	}

	count := s.conceptCount()
	briefs, err := s.cfg.Planner.Plan(r.Context(), img, count)
	if err == nil {
		briefs, err = provider.TrimPlan(briefs, count)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, planResponse{Concepts: briefs})
}

// handleGenerateImage forwards one prompt to the generator. Sizing hints,
// when given, are passed to the backend and the result is normalized to
// them.
func (s *Server) handleGenerateImage(w http.ResponseWriter, r *http.Request) {
	var req generateImageRequest
	if !s.decode(w, r, &req) {
		return
	}
	img, err := models.ParseDataURL(req.Image)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	genReq := models.NewGenerateRequest(img, req.Prompt)
	hinted := req.Resolution != "" || req.AspectRatio != ""
	sizing := s.sizingFrom(req.Resolution, req.AspectRatio)
	if hinted {
		genReq.Sizing = sizing.Hint()
	}

	out, err := s.cfg.Generator.Generate(r.Context(), genReq)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if hinted {
		out = s.cfg.Normalizer.Apply(out, sizing)
	}
	writeJSON(w, http.StatusOK, imageResponse{Image: out.DataURL()})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !s.decode(w, r, &req) {
		return
	}
	img, err := models.ParseDataURL(req.Image)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	clientID := ClientID(r)
	id := s.cfg.NewID()
	orch := studio.New(studio.Config{
		Planner:        s.cfg.Planner,
		Generator:      s.cfg.Generator,
		Enhancer:       s.cfg.Enhancer,
		Gate:           s.gate(clientID),
		Auth:           studio.AuthFunc(auth.RequestAuthenticated),
		Normalizer:     s.cfg.Normalizer,
		ConceptCount:   s.cfg.ConceptCount,
		MaxConcurrent:  s.cfg.MaxConcurrent,
		RequestTimeout: s.cfg.RequestTimeout,
		Sizing:         s.sizingFrom(req.Resolution, req.AspectRatio),
		Logger:         s.log.With().Str("session_id", id).Logger(),
	})
	if err := orch.SetSource(img.Data); err != nil {
		orch.Close()
		s.writeError(w, r, err)
		return
	}

	s.sessions.add(id, clientID, orch)
	writeJSON(w, http.StatusCreated, newSnapshotResponse(id, orch.Snapshot()))
}

// session resolves the {id} route variable for the calling client.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session, bool) {
	id := mux.Vars(r)["id"]
	sess, ok := s.sessions.get(id, ClientID(r))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "session not found"})
		return nil, false
	}
	return sess, true
}

func (s *Server) writeSnapshot(w http.ResponseWriter, status int, sess *session) {
	writeJSON(w, status, newSnapshotResponse(sess.id, sess.orch.Snapshot()))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	s.writeSnapshot(w, http.StatusOK, sess)
}

func (s *Server) handleSetSizing(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req sizingRequest
	if !s.decode(w, r, &req) {
		return
	}
	sess.orch.SetSizing(models.ResolutionID(req.Resolution), models.AspectRatioID(req.AspectRatio))
	s.writeSnapshot(w, http.StatusOK, sess)
}

// handleStartGeneration waits for planning; image generation continues in
// the background and is observed through GET or the WebSocket.
func (s *Server) handleStartGeneration(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.orch.StartGeneration(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeSnapshot(w, http.StatusAccepted, sess)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	resumed, err := sess.orch.ResumeAfterAuth(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resumeResponse{
		Resumed: resumed,
		Session: newSnapshotResponse(sess.id, sess.orch.Snapshot()),
	})
}

func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.orch.Regenerate(mux.Vars(r)["cid"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeSnapshot(w, http.StatusAccepted, sess)
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req editRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := sess.orch.ConfirmEdit(r.Context(), mux.Vars(r)["cid"], req.Instruction); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeSnapshot(w, http.StatusOK, sess)
}

func (s *Server) handleSaveConcept(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if s.cfg.Gallery == nil {
		s.unavailable(w, "gallery")
		return
	}
	var req saveRequest
	if !s.decode(w, r, &req) {
		return
	}

	cid := mux.Vars(r)["cid"]
	c, found := sess.orch.Snapshot().Concept(cid)
	if !found {
		s.writeError(w, r, fmt.Errorf("%w: %s", studio.ErrConceptNotFound, cid))
		return
	}
	if c.Image == nil {
		s.writeError(w, r, fmt.Errorf("%w: %s", studio.ErrNoImage, cid))
		return
	}

	rec, err := s.cfg.Gallery.Save(r.Context(), *c.Image, req.Name, c.Style, c.Description)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleListGallery(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Gallery == nil {
		s.unavailable(w, "gallery")
		return
	}
	records, err := s.cfg.Gallery.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if records == nil {
		records = []gallery.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleDeleteGallery(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Gallery == nil {
		s.unavailable(w, "gallery")
		return
	}
	id := gallery.ID(mux.Vars(r)["id"])
	rec, err := s.cfg.Gallery.Find(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.cfg.Gallery.Delete(r.Context(), id, rec.ImageURL); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListFeedback(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Feedback == nil {
		s.unavailable(w, "feedback")
		return
	}
	msgs, err := s.cfg.Feedback.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []gallery.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

// handleSendFeedback marks messages from tokens with the admin role as
// replies from the team.
func (s *Server) handleSendFeedback(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Feedback == nil {
		s.unavailable(w, "feedback")
		return
	}
	var req feedbackRequest
	if !s.decode(w, r, &req) {
		return
	}
	claims, _ := auth.ClaimsFrom(r.Context())
	isAdmin := claims != nil && claims.Role == "admin"

	msg, err := s.cfg.Feedback.Send(r.Context(), req.Message, isAdmin, req.ReplyTo)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Accounts == nil {
		s.unavailable(w, "auth")
		return
	}
	var req credentialsRequest
	if !s.decode(w, r, &req) {
		return
	}
	sess, err := s.cfg.Accounts.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		s.log.Warn().Err(err).Msg("sign in failed")
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid email or password"})
		return
	}
	writeJSON(w, http.StatusOK, newAuthResponse(sess))
}

// handleSignup registers the account and signs it straight in.
func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Accounts == nil {
		s.unavailable(w, "auth")
		return
	}
	var req credentialsRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.cfg.Accounts.SignUp(r.Context(), req.Email, req.Password); err != nil {
		s.log.Warn().Err(err).Msg("sign up failed")
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "sign up failed"})
		return
	}
	sess, err := s.cfg.Accounts.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("sign in after sign up: %w", err))
		return
	}
	writeJSON(w, http.StatusCreated, newAuthResponse(sess))
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	g := s.gate(ClientID(r))
	rec := g.Record(r.Context())
	writeJSON(w, http.StatusOK, usageResponse{
		Authenticated: auth.RequestAuthenticated(r.Context()),
		TrialCount:    rec.TrialCount,
		Remaining:     g.Remaining(r.Context()),
		LastUsed:      rec.LastUsed,
	})
}

func (s *Server) handleResetUsage(w http.ResponseWriter, r *http.Request) {
	if err := s.gate(ClientID(r)).Reset(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
