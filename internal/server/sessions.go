package server

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/manash/jewelshoot/internal/studio"
)

// DefaultSessionTTL is how long an untouched session is kept.
const DefaultSessionTTL = 2 * time.Hour

type session struct {
	id       string
	clientID string
	orch     *studio.Orchestrator
	created  time.Time

	mu         sync.Mutex
	lastActive time.Time
}

func (s *session) touch(now time.Time) {
	s.mu.Lock()
	s.lastActive = now
	s.mu.Unlock()
}

func (s *session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// sessionManager holds one orchestrator per studio session. Sessions belong
// to the client that created them.
type sessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*session
	ttl      time.Duration
	now      func() time.Time
	log      zerolog.Logger
}

func newSessionManager(ttl time.Duration, log zerolog.Logger) *sessionManager {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &sessionManager{
		sessions: make(map[string]*session),
		ttl:      ttl,
		now:      time.Now,
		log:      log,
	}
}

func (sm *sessionManager) add(id, clientID string, orch *studio.Orchestrator) *session {
	now := sm.now()
	s := &session{id: id, clientID: clientID, orch: orch, created: now, lastActive: now}

	sm.mu.Lock()
	sm.sessions[id] = s
	active := len(sm.sessions)
	sm.mu.Unlock()

	sm.log.Info().Str("session_id", id).Int("active", active).Msg("session created")
	return s
}

// get returns the session only to the client that owns it.
func (sm *sessionManager) get(id, clientID string) (*session, bool) {
	sm.mu.RLock()
	s, ok := sm.sessions[id]
	sm.mu.RUnlock()
	if !ok || s.clientID != clientID {
		return nil, false
	}
	s.touch(sm.now())
	return s, true
}

func (sm *sessionManager) len() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// cleanupExpired closes sessions idle for longer than the TTL.
func (sm *sessionManager) cleanupExpired() int {
	now := sm.now()

	sm.mu.Lock()
	var expired []*session
	for id, s := range sm.sessions {
		if now.Sub(s.idleSince()) > sm.ttl {
			expired = append(expired, s)
			delete(sm.sessions, id)
		}
	}
	active := len(sm.sessions)
	sm.mu.Unlock()

	for _, s := range expired {
		s.orch.Close()
	}
	if len(expired) > 0 {
		sm.log.Info().Int("cleaned", len(expired)).Int("active", active).Msg("expired sessions removed")
	}
	return len(expired)
}

func (sm *sessionManager) startCleanup(ctx context.Context, every time.Duration) {
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sm.cleanupExpired()
			}
		}
	}()
}

func (sm *sessionManager) closeAll() {
	sm.mu.Lock()
	all := sm.sessions
	sm.sessions = make(map[string]*session)
	sm.mu.Unlock()

	for _, s := range all {
		s.orch.Close()
	}
}
