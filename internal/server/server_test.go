package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/manash/jewelshoot/internal/auth"
	"github.com/manash/jewelshoot/internal/gallery"
	"github.com/manash/jewelshoot/internal/normalize"
	"github.com/manash/jewelshoot/internal/provider"
	"github.com/manash/jewelshoot/pkg/models"
)

const testSecret = "test-jwt-secret"

type mockPlanner struct {
	planFunc func(ctx context.Context, source models.Image, count int) ([]models.ConceptBrief, error)
}

func (m *mockPlanner) Plan(ctx context.Context, source models.Image, count int) ([]models.ConceptBrief, error) {
	if m.planFunc != nil {
		return m.planFunc(ctx, source, count)
	}
	return []models.ConceptBrief{
		{Style: "MINIMALIST", Description: "White marble", Elements: []string{"marble"}},
		{Style: "LUXURY", Description: "Black velvet", Elements: []string{"velvet"}},
		{Style: "NATURE", Description: "Moss and stone", Elements: []string{"moss"}},
	}, nil
}

type mockGenerator struct {
	mu           sync.Mutex
	requests     []*models.GenerateRequest
	generateFunc func(ctx context.Context, req *models.GenerateRequest) (models.Image, error)
}

func (m *mockGenerator) Generate(ctx context.Context, req *models.GenerateRequest) (models.Image, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if m.generateFunc != nil {
		return m.generateFunc(ctx, req)
	}
	return pngImage(8, 8), nil
}

func (m *mockGenerator) last() *models.GenerateRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return nil
	}
	return m.requests[len(m.requests)-1]
}

type mockAccounts struct {
	signUps []string
}

func (m *mockAccounts) SignIn(_ context.Context, email, password string) (auth.Session, error) {
	if password != "secret123" {
		return auth.Session{}, errors.New("invalid login credentials")
	}
	return auth.Session{AccessToken: "token-" + email, UserID: "u1", Email: email}, nil
}

func (m *mockAccounts) SignUp(_ context.Context, email, _ string) error {
	m.signUps = append(m.signUps, email)
	return nil
}

func (m *mockAccounts) User(context.Context, string) (auth.User, error) {
	return auth.User{}, nil
}

func (m *mockAccounts) SignOut(context.Context, string) error {
	return nil
}

func pngImage(w, h int) models.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 180, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	png.Encode(&buf, img)
	return models.NewImage(buf.Bytes(), "image/png")
}

type testEnv struct {
	server    *Server
	generator *mockGenerator
	planner   *mockPlanner
	blobs     *gallery.MemoryBlobStore
	accounts  *mockAccounts
}

func newTestEnv(t *testing.T, modify ...func(*Config)) *testEnv {
	t.Helper()
	env := &testEnv{
		generator: &mockGenerator{},
		planner:   &mockPlanner{},
		blobs:     gallery.NewMemoryBlobStore("https://cdn.example.com/images"),
		accounts:  &mockAccounts{},
	}
	records := gallery.NewMemoryStore()
	cfg := Config{
		Planner:        env.planner,
		Generator:      env.generator,
		Normalizer:     normalize.New(normalize.Options{Disabled: true}),
		Accounts:       env.accounts,
		Verifier:       auth.NewVerifier(testSecret),
		Gallery:        gallery.NewService(env.blobs, records),
		Feedback:       gallery.NewFeedback(records),
		RequestTimeout: 5 * time.Second,
		AllowedOrigins: []string{"*"},
		Logger:         zerolog.Nop(),
	}
	for _, fn := range modify {
		fn(&cfg)
	}
	env.server = New(cfg)
	t.Cleanup(env.server.Close)
	return env
}

func signToken(t *testing.T, role string) string {
	t.Helper()
	claims := auth.Claims{
		Email: "jeweler@example.com",
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	return s
}

// do sends a JSON request as client-a unless headers override it.
func (e *testEnv) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(ClientIDHeader, "client-a")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func (e *testEnv) createSession(t *testing.T, headers ...string) snapshotResponse {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/sessions", createSessionRequest{Image: pngImage(4, 4).DataURL()}, headers...)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create session status = %d, body %s", rec.Code, rec.Body.String())
	}
	return decodeBody[snapshotResponse](t, rec)
}

func (e *testEnv) wait(t *testing.T, id, clientID string) {
	t.Helper()
	sess, ok := e.server.sessions.get(id, clientID)
	if !ok {
		t.Fatalf("session %s not found", id)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sess.orch.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody[map[string]any](t, rec)
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header not set")
	}
}

func TestPlan(t *testing.T) {
	env := newTestEnv(t)
	env.planner.planFunc = func(_ context.Context, _ models.Image, count int) ([]models.ConceptBrief, error) {
		if count != 3 {
			t.Errorf("count = %d, want 3", count)
		}
		return make([]models.ConceptBrief, 5), nil
	}

	rec := env.do(t, http.MethodPost, "/api/plan", planRequest{Image: pngImage(4, 4).DataURL()})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := decodeBody[planResponse](t, rec); len(got.Concepts) != 3 {
		t.Errorf("concepts = %d, want 3", len(got.Concepts))
	}
}

func TestPlan_Errors(t *testing.T) {
	textURL := models.NewImage([]byte("just some text"), "image/png").DataURL()

	tests := []struct {
		name   string
		body   any
		plan   func(context.Context, models.Image, int) ([]models.ConceptBrief, error)
		status int
	}{
		{"missing image", planRequest{}, nil, http.StatusBadRequest},
		{"not a data url", planRequest{Image: "hello"}, nil, http.StatusBadRequest},
		{"unsupported content", planRequest{Image: textURL}, nil, http.StatusUnsupportedMediaType},
		{
			"empty plan", planRequest{Image: pngImage(4, 4).DataURL()},
			func(context.Context, models.Image, int) ([]models.ConceptBrief, error) { return nil, nil },
			http.StatusBadGateway,
		},
		{
			"rate limited", planRequest{Image: pngImage(4, 4).DataURL()},
			func(context.Context, models.Image, int) ([]models.ConceptBrief, error) {
				return nil, provider.ErrRateLimited
			},
			http.StatusTooManyRequests,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.planner.planFunc = tt.plan
			rec := env.do(t, http.MethodPost, "/api/plan", tt.body)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.status, rec.Body.String())
			}
			if body := decodeBody[errorResponse](t, rec); body.Error == "" {
				t.Error("error body is empty")
			}
		})
	}
}

func TestPlan_MalformedJSON(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/api/plan", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestGenerateImage(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/generate-image", generateImageRequest{
		Image:       pngImage(4, 4).DataURL(),
		Prompt:      "a ring on marble",
		AspectRatio: "reels",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	got := decodeBody[imageResponse](t, rec)
	if _, err := models.ParseDataURL(got.Image); err != nil {
		t.Errorf("response image is not a data URL: %v", err)
	}

	req := env.generator.last()
	if req.Prompt != "a ring on marble" {
		t.Errorf("Prompt = %q", req.Prompt)
	}
	if req.Sizing == nil {
		t.Fatal("Sizing hint = nil, want hint")
	}
	if req.Sizing.AspectRatio != models.AspectReels || req.Sizing.Resolution != models.Resolution8K {
		t.Errorf("Sizing = %+v, want 8k/reels", *req.Sizing)
	}
}

func TestGenerateImage_NoHints(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/generate-image", generateImageRequest{
		Image:  pngImage(4, 4).DataURL(),
		Prompt: "a ring",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if env.generator.last().Sizing != nil {
		t.Error("Sizing hint sent without request hints")
	}
}

func TestGenerateImage_Validation(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/generate-image", generateImageRequest{
		Image:      pngImage(4, 4).DataURL(),
		Resolution: "16k",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	body := decodeBody[errorResponse](t, rec)
	if body.Details["prompt"] != "required" {
		t.Errorf("details[prompt] = %q, want required", body.Details["prompt"])
	}
	if body.Details["resolution"] != "oneof=2k 4k 8k" {
		t.Errorf("details[resolution] = %q", body.Details["resolution"])
	}
}

func TestSession_GenerationFlow(t *testing.T) {
	env := newTestEnv(t)
	snap := env.createSession(t)

	if !snap.HasSource || snap.Status != models.StatusIdle {
		t.Fatalf("new session = %+v", snap)
	}
	if snap.Resolution != models.Resolution8K || snap.AspectRatio != models.AspectSquare {
		t.Errorf("sizing = %s/%s, want defaults", snap.Resolution, snap.AspectRatio)
	}

	rec := env.do(t, http.MethodPut, "/api/sessions/"+snap.ID+"/sizing", sizingRequest{Resolution: "2k", AspectRatio: "reels"})
	if rec.Code != http.StatusOK {
		t.Fatalf("sizing status = %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/sessions/"+snap.ID+"/generate", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("generate status = %d, body %s", rec.Code, rec.Body.String())
	}
	env.wait(t, snap.ID, "client-a")

	rec = env.do(t, http.MethodGet, "/api/sessions/"+snap.ID, nil)
	got := decodeBody[snapshotResponse](t, rec)
	if got.Status != models.StatusComplete {
		t.Errorf("Status = %s, want complete", got.Status)
	}
	if len(got.Concepts) != 3 {
		t.Fatalf("concepts = %d, want 3", len(got.Concepts))
	}
	for _, c := range got.Concepts {
		if c.IsLoadingImage || !strings.HasPrefix(c.Image, "data:image/png;base64,") {
			t.Errorf("concept %s = loading %v, image %.30q", c.ID, c.IsLoadingImage, c.Image)
		}
	}
	if got.Concepts[1].StyleLabel != models.StyleLuxury.Label() {
		t.Errorf("StyleLabel = %q", got.Concepts[1].StyleLabel)
	}
	if req := env.generator.last(); !strings.Contains(req.Prompt, "9:16") {
		t.Errorf("prompt does not carry the selected aspect ratio: %q", req.Prompt)
	}
}

func TestSession_CreateErrors(t *testing.T) {
	env := newTestEnv(t)
	big := models.NewImage(append(pngImage(4, 4).Data, make([]byte, 6<<20)...), "image/png")

	tests := []struct {
		name   string
		image  string
		status int
	}{
		{"bad data url", "data:text/plain;base64,aGk=", http.StatusBadRequest},
		{"too large", big.DataURL(), http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/sessions", createSessionRequest{Image: tt.image})
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
		})
	}
	if n := env.server.sessions.len(); n != 0 {
		t.Errorf("sessions = %d, want 0", n)
	}
}

func TestSession_OwnedByCreator(t *testing.T) {
	env := newTestEnv(t)
	snap := env.createSession(t)

	rec := env.do(t, http.MethodGet, "/api/sessions/"+snap.ID, nil, ClientIDHeader, "client-b")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/api/sessions/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestSession_GatingAndResume(t *testing.T) {
	env := newTestEnv(t)

	first := env.createSession(t)
	if rec := env.do(t, http.MethodPost, "/api/sessions/"+first.ID+"/generate", nil); rec.Code != http.StatusAccepted {
		t.Fatalf("first generate status = %d", rec.Code)
	}
	env.wait(t, first.ID, "client-a")

	second := env.createSession(t)
	rec := env.do(t, http.MethodPost, "/api/sessions/"+second.ID+"/generate", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("second generate status = %d, want 401", rec.Code)
	}
	if body := decodeBody[errorResponse](t, rec); !body.PendingAuth {
		t.Error("pendingAuth = false, want true")
	}

	rec = env.do(t, http.MethodGet, "/api/sessions/"+second.ID, nil)
	if snap := decodeBody[snapshotResponse](t, rec); !snap.PendingAuth {
		t.Error("snapshot PendingAuth = false, want true")
	}

	rec = env.do(t, http.MethodPost, "/api/sessions/"+second.ID+"/resume", nil, "Authorization", "Bearer "+signToken(t, "authenticated"))
	if rec.Code != http.StatusOK {
		t.Fatalf("resume status = %d, body %s", rec.Code, rec.Body.String())
	}
	resumed := decodeBody[resumeResponse](t, rec)
	if !resumed.Resumed {
		t.Error("Resumed = false, want true")
	}
	env.wait(t, second.ID, "client-a")

	rec = env.do(t, http.MethodPost, "/api/sessions/"+second.ID+"/resume", nil)
	if got := decodeBody[resumeResponse](t, rec); got.Resumed {
		t.Error("second resume ran again")
	}

	rec = env.do(t, http.MethodGet, "/api/usage", nil)
	if u := decodeBody[usageResponse](t, rec); u.TrialCount != 1 || u.Remaining != 0 {
		t.Errorf("usage = %+v, want one trial used", u)
	}
}

func TestSession_ConceptRoutes(t *testing.T) {
	env := newTestEnv(t)
	snap := env.createSession(t)
	env.do(t, http.MethodPost, "/api/sessions/"+snap.ID+"/generate", nil)
	env.wait(t, snap.ID, "client-a")

	rec := env.do(t, http.MethodGet, "/api/sessions/"+snap.ID, nil)
	cid := decodeBody[snapshotResponse](t, rec).Concepts[0].ID
	base := "/api/sessions/" + snap.ID + "/concepts/"

	rec = env.do(t, http.MethodPost, base+"missing/regenerate", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("regenerate unknown status = %d, want 404", rec.Code)
	}

	rec = env.do(t, http.MethodPost, base+cid+"/regenerate", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("regenerate status = %d", rec.Code)
	}
	env.wait(t, snap.ID, "client-a")

	rec = env.do(t, http.MethodPost, base+cid+"/edit", editRequest{Instruction: "add warm sunset light"})
	if rec.Code != http.StatusOK {
		t.Fatalf("edit status = %d, body %s", rec.Code, rec.Body.String())
	}
	if req := env.generator.last(); !strings.Contains(req.Prompt, "add warm sunset light") {
		t.Errorf("edit prompt = %q", req.Prompt)
	}

	env.generator.generateFunc = func(context.Context, *models.GenerateRequest) (models.Image, error) {
		return models.Image{}, provider.ErrNoImageInResponse
	}
	rec = env.do(t, http.MethodPost, base+cid+"/edit", editRequest{Instruction: "make it blue"})
	if rec.Code != http.StatusBadGateway {
		t.Errorf("failed edit status = %d, want 502", rec.Code)
	}
}

func TestSession_SaveConcept(t *testing.T) {
	env := newTestEnv(t)
	snap := env.createSession(t)
	base := "/api/sessions/" + snap.ID + "/concepts/"

	env.do(t, http.MethodPost, "/api/sessions/"+snap.ID+"/generate", nil)
	env.wait(t, snap.ID, "client-a")
	cid := decodeBody[snapshotResponse](t, env.do(t, http.MethodGet, "/api/sessions/"+snap.ID, nil)).Concepts[2].ID

	rec := env.do(t, http.MethodPost, base+cid+"/save", saveRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("blank name status = %d, want 400", rec.Code)
	}

	rec = env.do(t, http.MethodPost, base+cid+"/save", saveRequest{Name: "Emerald Ring"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("save status = %d, body %s", rec.Code, rec.Body.String())
	}
	saved := decodeBody[gallery.Record](t, rec)
	if saved.Name != "Emerald Ring" || saved.Style != models.StyleNature || saved.Prompt != "Moss and stone" {
		t.Errorf("record = %+v", saved)
	}
	if !strings.HasPrefix(saved.ImageURL, "https://cdn.example.com/images/") {
		t.Errorf("ImageURL = %s", saved.ImageURL)
	}
	if env.blobs.Len() != 1 {
		t.Errorf("blobs = %d, want 1", env.blobs.Len())
	}

	rec = env.do(t, http.MethodGet, "/api/gallery", nil)
	list := decodeBody[[]gallery.Record](t, rec)
	if len(list) != 1 || list[0].ID != saved.ID {
		t.Fatalf("gallery = %+v", list)
	}

	rec = env.do(t, http.MethodDelete, "/api/gallery/"+string(saved.ID), nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if env.blobs.Len() != 0 {
		t.Errorf("blobs after delete = %d, want 0", env.blobs.Len())
	}
	rec = env.do(t, http.MethodDelete, "/api/gallery/"+string(saved.ID), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}
}

func TestUnconfiguredServices(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Gallery = nil
		c.Feedback = nil
		c.Accounts = nil
	})

	for _, path := range []string{"/api/gallery", "/api/feedback"} {
		if rec := env.do(t, http.MethodGet, path, nil); rec.Code != http.StatusServiceUnavailable {
			t.Errorf("GET %s status = %d, want 503", path, rec.Code)
		}
	}
	rec := env.do(t, http.MethodPost, "/api/auth/login", credentialsRequest{Email: "a@b.co", Password: "secret123"})
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("login status = %d, want 503", rec.Code)
	}
}

func TestFeedback(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/feedback", feedbackRequest{Message: "Love the luxury shots"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("send status = %d, body %s", rec.Code, rec.Body.String())
	}
	first := decodeBody[gallery.Message](t, rec)
	if first.IsAdmin {
		t.Error("anonymous message marked as admin")
	}

	rec = env.do(t, http.MethodPost, "/api/feedback",
		feedbackRequest{Message: "Thanks!", ReplyTo: string(first.ID)},
		"Authorization", "Bearer "+signToken(t, "admin"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("reply status = %d", rec.Code)
	}
	reply := decodeBody[gallery.Message](t, rec)
	if !reply.IsAdmin || reply.ReplyTo == nil || *reply.ReplyTo != string(first.ID) {
		t.Errorf("reply = %+v", reply)
	}

	rec = env.do(t, http.MethodGet, "/api/feedback", nil)
	if msgs := decodeBody[[]gallery.Message](t, rec); len(msgs) != 2 {
		t.Errorf("messages = %d, want 2", len(msgs))
	}

	rec = env.do(t, http.MethodPost, "/api/feedback", feedbackRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty message status = %d, want 400", rec.Code)
	}
}

func TestAuthRoutes(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/auth/login", credentialsRequest{Email: "a@b.co", Password: "secret123"})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d", rec.Code)
	}
	got := decodeBody[authResponse](t, rec)
	if got.AccessToken != "token-a@b.co" || got.User.Email != "a@b.co" {
		t.Errorf("login = %+v", got)
	}

	rec = env.do(t, http.MethodPost, "/api/auth/login", credentialsRequest{Email: "a@b.co", Password: "wrongpass"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad login status = %d, want 401", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/auth/login", credentialsRequest{Email: "nope", Password: "x"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid login status = %d, want 400", rec.Code)
	}
	if body := decodeBody[errorResponse](t, rec); body.Details["email"] != "email" || body.Details["password"] != "min=6" {
		t.Errorf("details = %v", body.Details)
	}

	rec = env.do(t, http.MethodPost, "/api/auth/signup", credentialsRequest{Email: "new@b.co", Password: "secret123"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup status = %d", rec.Code)
	}
	if len(env.accounts.signUps) != 1 || env.accounts.signUps[0] != "new@b.co" {
		t.Errorf("signUps = %v", env.accounts.signUps)
	}
	if got := decodeBody[authResponse](t, rec); got.AccessToken == "" {
		t.Error("signup did not sign in")
	}
}

func TestUsage(t *testing.T) {
	tests := []struct {
		name        string
		development bool
		resetStatus int
	}{
		{"production rejects reset", false, http.StatusForbidden},
		{"development allows reset", true, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, func(c *Config) { c.Development = tt.development })

			rec := env.do(t, http.MethodGet, "/api/usage", nil)
			u := decodeBody[usageResponse](t, rec)
			if u.Authenticated || u.TrialCount != 0 || u.Remaining != 1 {
				t.Errorf("fresh usage = %+v", u)
			}

			rec = env.do(t, http.MethodGet, "/api/usage", nil, "Authorization", "Bearer "+signToken(t, "authenticated"))
			if u := decodeBody[usageResponse](t, rec); !u.Authenticated {
				t.Error("Authenticated = false with a valid token")
			}

			rec = env.do(t, http.MethodPost, "/api/usage/reset", nil)
			if rec.Code != tt.resetStatus {
				t.Errorf("reset status = %d, want %d", rec.Code, tt.resetStatus)
			}
		})
	}
}

func TestSessionWebSocket(t *testing.T) {
	env := newTestEnv(t)
	snap := env.createSession(t)

	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	header := http.Header{}
	header.Set(ClientIDHeader, "client-a")
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/sessions/" + snap.ID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var initial snapshotResponse
	if err := conn.ReadJSON(&initial); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if initial.ID != snap.ID || !initial.HasSource {
		t.Errorf("initial = %+v", initial)
	}

	rec := env.do(t, http.MethodPut, "/api/sessions/"+snap.ID+"/sizing", sizingRequest{Resolution: "4k", AspectRatio: "reels"})
	if rec.Code != http.StatusOK {
		t.Fatalf("sizing status = %d", rec.Code)
	}

	var update snapshotResponse
	if err := conn.ReadJSON(&update); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if update.Version <= initial.Version {
		t.Errorf("Version = %d, want > %d", update.Version, initial.Version)
	}
	if update.Resolution != models.Resolution4K || update.AspectRatio != models.AspectReels {
		t.Errorf("update sizing = %s/%s", update.Resolution, update.AspectRatio)
	}
}

func TestSessionWebSocket_OtherClient(t *testing.T) {
	env := newTestEnv(t)
	snap := env.createSession(t)

	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	header := http.Header{}
	header.Set(ClientIDHeader, "client-b")
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/sessions/" + snap.ID + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Fatal("Dial() succeeded for a foreign session")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("handshake response = %v, want 404", resp)
	}
}
