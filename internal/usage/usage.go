// Package usage limits unauthenticated callers to a fixed number of free
// generation batches.
package usage

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// MaxFreeTrials is the number of generation batches an unauthenticated
// caller may start.
const MaxFreeTrials = 1

var ErrResetNotAllowed = errors.New("usage reset is only available in development")

// Record is the persisted trial counter.
type Record struct {
	TrialCount int        `json:"trialCount"`
	LastUsed   *time.Time `json:"lastUsed,omitempty"`
}

// Store persists a single Record.
type Store interface {
	Load(ctx context.Context) (Record, error)
	Save(ctx context.Context, rec Record) error
}

// Updater is implemented by stores that can apply a read-modify-write
// atomically across writers.
type Updater interface {
	Update(ctx context.Context, fn func(*Record)) error
}

type Gate struct {
	store      Store
	log        zerolog.Logger
	now        func() time.Time
	allowReset bool
}

type Option func(*Gate)

func WithLogger(log zerolog.Logger) Option {
	return func(g *Gate) { g.log = log }
}

func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// WithReset enables Reset. Only development builds should pass true.
func WithReset(allow bool) Option {
	return func(g *Gate) { g.allowReset = allow }
}

func NewGate(store Store, opts ...Option) *Gate {
	g := &Gate{
		store: store,
		log:   zerolog.Nop(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CanGenerate reports whether a new batch may start. Authenticated callers
// are always allowed and the record is not consulted.
func (g *Gate) CanGenerate(ctx context.Context, authenticated bool) bool {
	if authenticated {
		return true
	}
	return g.load(ctx).TrialCount < MaxFreeTrials
}

// MarkUsed counts one batch against the free allowance. Persistence errors
// are logged and otherwise ignored.
func (g *Gate) MarkUsed(ctx context.Context) {
	now := g.now()
	mark := func(rec *Record) {
		if rec.TrialCount < 0 {
			rec.TrialCount = 0
		}
		rec.TrialCount++
		rec.LastUsed = &now
	}

	if u, ok := g.store.(Updater); ok {
		if err := u.Update(ctx, mark); err != nil {
			g.log.Warn().Err(err).Msg("usage: failed to record trial")
		}
		return
	}

	rec := g.load(ctx)
	mark(&rec)
	if err := g.store.Save(ctx, rec); err != nil {
		g.log.Warn().Err(err).Msg("usage: failed to record trial")
	}
}

// Remaining returns the number of free batches left, never negative.
func (g *Gate) Remaining(ctx context.Context) int {
	return max(0, MaxFreeTrials-g.load(ctx).TrialCount)
}

// Record returns the current persisted state.
func (g *Gate) Record(ctx context.Context) Record {
	return g.load(ctx)
}

func (g *Gate) Reset(ctx context.Context) error {
	if !g.allowReset {
		return ErrResetNotAllowed
	}
	return g.store.Save(ctx, Record{})
}

// load treats unreadable state as zero prior uses.
func (g *Gate) load(ctx context.Context) Record {
	rec, err := g.store.Load(ctx)
	if err != nil {
		g.log.Warn().Err(err).Msg("usage: failed to read trial record")
		return Record{}
	}
	if rec.TrialCount < 0 {
		rec.TrialCount = 0
	}
	return rec
}
