package server

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/manash/jewelshoot/internal/auth"
	"github.com/manash/jewelshoot/internal/studio"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		remoteAddr string
		want       string
	}{
		{"single forwarded ip", "203.0.113.1", "198.51.100.10:1234", "203.0.113.1"},
		{"multiple forwarded use first", " 203.0.113.1 , 198.51.100.2 ", "198.51.100.10:1234", "203.0.113.1"},
		{"invalid forwarded falls back", "invalid", "198.51.100.10:1234", "198.51.100.10"},
		{"no forwarded header", "", "198.51.100.10:1234", "198.51.100.10"},
		{"ipv6 remote", "", net.JoinHostPort("2001:db8::2", "443"), "2001:db8::2"},
		{"remote without port", "", "203.0.113.1", "203.0.113.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.header != "" {
				r.Header.Set("X-Forwarded-For", tt.header)
			}
			if got := clientIP(r); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClientID(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "198.51.100.10:1234"
	if got := ClientID(r); got != "198.51.100.10" {
		t.Errorf("ClientID() = %q, want remote ip", got)
	}

	r.Header.Set(ClientIDHeader, "  browser-42 ")
	if got := ClientID(r); got != "browser-42" {
		t.Errorf("ClientID() = %q, want header value", got)
	}
}

func TestRateLimit(t *testing.T) {
	h := RateLimit(2, time.Minute)(okHandler)

	send := func(client string) int {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set(ClientIDHeader, client)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		return rec.Code
	}

	for i := 0; i < 2; i++ {
		if code := send("a"); code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i, code)
		}
	}
	if code := send("a"); code != http.StatusTooManyRequests {
		t.Errorf("third request status = %d, want 429", code)
	}
	if code := send("b"); code != http.StatusOK {
		t.Errorf("other client status = %d, want 200", code)
	}
}

func TestRateLimit_Disabled(t *testing.T) {
	h := RateLimit(0, time.Minute)(okHandler)
	for i := 0; i < 10; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
	}
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name       string
		allowed    []string
		origin     string
		method     string
		wantOrigin string
		wantStatus int
	}{
		{"listed origin", []string{"https://app.example.com"}, "https://app.example.com", http.MethodGet, "https://app.example.com", http.StatusOK},
		{"unlisted origin", []string{"https://app.example.com"}, "https://evil.example.com", http.MethodGet, "", http.StatusOK},
		{"wildcard", []string{"*"}, "https://any.example.com", http.MethodGet, "https://any.example.com", http.StatusOK},
		{"preflight", []string{"*"}, "https://any.example.com", http.MethodOptions, "https://any.example.com", http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := CORS(tt.allowed)(okHandler)
			r := httptest.NewRequest(tt.method, "/api/plan", nil)
			r.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, r)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
		})
	}
}

func TestAuthenticate(t *testing.T) {
	var authed bool
	h := Authenticate(auth.NewVerifier(testSecret))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authed = auth.RequestAuthenticated(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantAuthed bool
	}{
		{"no token", "", http.StatusOK, false},
		{"valid token", "Bearer " + signToken(t, "authenticated"), http.StatusOK, true},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, false},
		{"bad token", "Bearer not.a.jwt", http.StatusUnauthorized, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			authed = false
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, r)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if authed != tt.wantAuthed {
				t.Errorf("authenticated = %v, want %v", authed, tt.wantAuthed)
			}
		})
	}
}

func TestAuthenticate_NilVerifier(t *testing.T) {
	h := Authenticate(nil)(okHandler)
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer whatever")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestSessionManager_CleanupExpired(t *testing.T) {
	sm := newSessionManager(time.Hour, zerolog.Nop())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sm.now = func() time.Time { return now }

	sm.add("old", "a", studio.New(studio.Config{}))
	now = now.Add(30 * time.Minute)
	sm.add("fresh", "a", studio.New(studio.Config{}))

	now = now.Add(45 * time.Minute)
	if n := sm.cleanupExpired(); n != 1 {
		t.Fatalf("cleanupExpired() = %d, want 1", n)
	}
	if _, ok := sm.get("old", "a"); ok {
		t.Error("expired session still present")
	}
	if _, ok := sm.get("fresh", "a"); !ok {
		t.Error("fresh session removed")
	}

	// get touched "fresh", so it survives another 45 minutes.
	now = now.Add(45 * time.Minute)
	if n := sm.cleanupExpired(); n != 0 {
		t.Errorf("cleanupExpired() = %d, want 0", n)
	}
	sm.closeAll()
	if sm.len() != 0 {
		t.Errorf("len() = %d after closeAll", sm.len())
	}
}
