// Package studio drives a photo shoot session: concept planning, the
// per-concept generation fan-out, regeneration and iterative editing.
package studio

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/manash/jewelshoot/internal/normalize"
	"github.com/manash/jewelshoot/internal/prompt"
	"github.com/manash/jewelshoot/internal/provider"
	"github.com/manash/jewelshoot/internal/usage"
	"github.com/manash/jewelshoot/pkg/models"
)

const (
	DefaultConceptCount   = 3
	DefaultMaxConcurrent  = 3
	DefaultRequestTimeout = 3 * time.Minute
)

var (
	ErrAuthRequired    = errors.New("authentication required")
	ErrConceptNotFound = errors.New("concept not found")
	ErrNoImage         = errors.New("concept has no image yet")
	ErrBusy            = errors.New("concept planning already in progress")
	ErrSessionReset    = errors.New("session was reset")
)

// AuthChecker reports whether the caller behind ctx is signed in.
type AuthChecker interface {
	IsAuthenticated(ctx context.Context) bool
}

type AuthFunc func(ctx context.Context) bool

func (f AuthFunc) IsAuthenticated(ctx context.Context) bool {
	return f(ctx)
}

type Config struct {
	Planner   provider.Planner
	Generator provider.Generator
	// Enhancer, when set, rewrites edit instructions before they are sent.
	Enhancer   provider.Enhancer
	Gate       *usage.Gate
	Auth       AuthChecker
	Normalizer *normalize.Normalizer

	ConceptCount   int
	MaxConcurrent  int
	RequestTimeout time.Duration
	Sizing         models.Sizing
	Logger         zerolog.Logger
	NewID          func() string
}

type attempt struct {
	ticket uint64
	cancel context.CancelFunc
}

type Orchestrator struct {
	planner    provider.Planner
	generator  provider.Generator
	enhancer   provider.Enhancer
	gate       *usage.Gate
	auth       AuthChecker
	normalizer *normalize.Normalizer
	count      int
	timeout    time.Duration
	sem        *semaphore.Weighted
	newID      func() string
	log        zerolog.Logger

	baseCtx context.Context
	stop    context.CancelFunc

	mu           sync.Mutex
	source       *models.Image
	concepts     []models.Concept
	status       models.Status
	lastErr      string
	sizing       models.Sizing
	pendingStart bool
	epoch        uint64
	ticket       uint64
	version      uint64
	attempts     map[string]*attempt
	inflight     int
	settled      chan struct{}

	listenersMu sync.Mutex
	listeners   map[int]func(Event)
	nextID      int
}

func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		planner:    cfg.Planner,
		generator:  cfg.Generator,
		enhancer:   cfg.Enhancer,
		gate:       cfg.Gate,
		auth:       cfg.Auth,
		normalizer: cfg.Normalizer,
		count:      cfg.ConceptCount,
		timeout:    cfg.RequestTimeout,
		newID:      cfg.NewID,
		log:        cfg.Logger,
		status:     models.StatusIdle,
		sizing:     cfg.Sizing,
		attempts:   make(map[string]*attempt),
		listeners:  make(map[int]func(Event)),
	}
	if o.count <= 0 {
		o.count = DefaultConceptCount
	}
	if o.timeout <= 0 {
		o.timeout = DefaultRequestTimeout
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	o.sem = semaphore.NewWeighted(int64(maxConcurrent))
	if o.newID == nil {
		o.newID = uuid.NewString
	}
	if o.gate == nil {
		o.gate = usage.NewGate(usage.NewMemoryStore())
	}
	if o.auth == nil {
		o.auth = AuthFunc(func(context.Context) bool { return false })
	}
	if o.normalizer == nil {
		o.normalizer = normalize.New(normalize.Options{})
	}
	if o.sizing.Resolution.ID == "" {
		o.sizing = models.DefaultSizing()
	}
	o.baseCtx, o.stop = context.WithCancel(context.Background())
	return o
}

// Subscribe registers fn for every subsequent event and returns a function
// that removes it. fn runs on the goroutine that made the change.
func (o *Orchestrator) Subscribe(fn func(Event)) func() {
	o.listenersMu.Lock()
	defer o.listenersMu.Unlock()

	id := o.nextID
	o.nextID++
	o.listeners[id] = fn
	return func() {
		o.listenersMu.Lock()
		defer o.listenersMu.Unlock()
		delete(o.listeners, id)
	}
}

func (o *Orchestrator) emit(events ...Event) {
	o.listenersMu.Lock()
	fns := make([]func(Event), 0, len(o.listeners))
	for _, fn := range o.listeners {
		fns = append(fns, fn)
	}
	o.listenersMu.Unlock()

	for _, ev := range events {
		for _, fn := range fns {
			fn(ev)
		}
	}
}

func (o *Orchestrator) eventLocked(t EventType) Event {
	o.version++
	return Event{Type: t, Snapshot: o.snapshotLocked()}
}

func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	concepts := slices.Clone(o.concepts)
	if concepts == nil {
		concepts = []models.Concept{}
	}
	return Snapshot{
		Version:     o.version,
		Status:      o.status,
		Error:       o.lastErr,
		Concepts:    concepts,
		Resolution:  o.sizing.Resolution.ID,
		AspectRatio: o.sizing.AspectRatio.ID,
		HasSource:   o.source != nil,
		PendingAuth: o.pendingStart,
	}
}

// Source returns the current source image.
func (o *Orchestrator) Source() (models.Image, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.source == nil {
		return models.Image{}, false
	}
	return *o.source, true
}

func (o *Orchestrator) Sizing() models.Sizing {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sizing
}

// SetSizing selects the sizing used by the next dispatched request. Unknown
// ids fall back to the table defaults.
func (o *Orchestrator) SetSizing(res models.ResolutionID, ar models.AspectRatioID) models.Sizing {
	o.mu.Lock()
	o.sizing = models.NewSizing(res, ar)
	sizing := o.sizing
	ev := o.eventLocked(EventSizingChanged)
	o.mu.Unlock()

	o.emit(ev)
	return sizing
}

// SetSource validates data and starts a fresh session around it. In-flight
// attempts from the previous session are cancelled and their results dropped.
func (o *Orchestrator) SetSource(data []byte) error {
	img, err := ValidateSource(data)
	if err != nil {
		return err
	}

	o.mu.Lock()
	o.resetLocked()
	o.source = &img
	o.status = models.StatusIdle
	o.pendingStart = false
	ev := o.eventLocked(EventSourceChanged)
	o.mu.Unlock()

	o.emit(ev)
	return nil
}

func (o *Orchestrator) resetLocked() {
	for _, a := range o.attempts {
		a.cancel()
	}
	o.attempts = make(map[string]*attempt)
	o.concepts = nil
	o.lastErr = ""
	o.epoch++
}

// StartGeneration plans concepts for the current source and dispatches one
// generation attempt per concept. It returns once planning settles; the
// attempts continue in the background. When the usage gate denies the call,
// ErrAuthRequired is returned and the start is deferred until
// ResumeAfterAuth.
func (o *Orchestrator) StartGeneration(ctx context.Context) error {
	o.mu.Lock()
	if o.source == nil {
		o.mu.Unlock()
		return ErrNoSourceImage
	}
	if o.status == models.StatusAnalyzing {
		o.mu.Unlock()
		return ErrBusy
	}
	src := *o.source
	o.mu.Unlock()

	authed := o.auth.IsAuthenticated(ctx)
	if !o.gate.CanGenerate(ctx, authed) {
		o.mu.Lock()
		o.pendingStart = true
		ev := o.eventLocked(EventAuthRequired)
		o.mu.Unlock()

		o.emit(ev)
		return ErrAuthRequired
	}

	o.mu.Lock()
	if o.status == models.StatusAnalyzing {
		o.mu.Unlock()
		return ErrBusy
	}
	o.resetLocked()
	o.pendingStart = false
	o.status = models.StatusAnalyzing
	epoch := o.epoch
	ev := o.eventLocked(EventStatusChanged)
	o.mu.Unlock()
	o.emit(ev)

	o.log.Info().Int("concepts", o.count).Msg("planning concepts")
	planCtx, cancel := context.WithTimeout(ctx, o.timeout)
	briefs, err := o.planner.Plan(planCtx, src, o.count)
	cancel()
	if err == nil {
		briefs, err = provider.TrimPlan(briefs, o.count)
	}

	o.mu.Lock()
	if o.epoch != epoch {
		o.mu.Unlock()
		return ErrSessionReset
	}
	if err != nil {
		o.status = models.StatusError
		o.lastErr = err.Error()
		ev := o.eventLocked(EventStatusChanged)
		o.mu.Unlock()

		o.emit(ev)
		o.log.Error().Err(err).Msg("planning failed")
		return fmt.Errorf("plan concepts: %w", err)
	}

	concepts := make([]models.Concept, len(briefs))
	for i, b := range briefs {
		concepts[i] = models.NewConcept(o.newID(), b, i)
	}
	o.concepts = concepts
	o.status = models.StatusGenerating
	sizing := o.sizing
	for _, c := range concepts {
		o.dispatchLocked(c, src, sizing, OpGenerate)
	}
	ev = o.eventLocked(EventStatusChanged)
	o.mu.Unlock()
	o.emit(ev)

	if !authed {
		o.gate.MarkUsed(context.WithoutCancel(ctx))
	}
	return nil
}

// ResumeAfterAuth runs a start that was deferred by the usage gate. It
// reports whether a deferred start existed; the deferral is consumed either
// way.
func (o *Orchestrator) ResumeAfterAuth(ctx context.Context) (bool, error) {
	o.mu.Lock()
	pending := o.pendingStart
	o.pendingStart = false
	o.mu.Unlock()

	if !pending {
		return false, nil
	}
	return true, o.StartGeneration(ctx)
}

// Regenerate re-runs generation for one concept using the current sizing.
// The previous image stays visible until the new one lands. A complete
// session goes back to generating until the attempt settles.
func (o *Orchestrator) Regenerate(id string) error {
	o.mu.Lock()
	if o.source == nil {
		o.mu.Unlock()
		return ErrNoSourceImage
	}

	var target models.Concept
	concepts, found := replaceConcept(o.concepts, id, func(c models.Concept) models.Concept {
		c.IsLoadingImage = true
		target = c
		return c
	})
	if !found {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrConceptNotFound, id)
	}
	o.concepts = concepts
	var events []Event
	if o.status == models.StatusComplete {
		o.status = models.StatusGenerating
		events = append(events, o.eventLocked(EventStatusChanged))
	}
	o.dispatchLocked(target, *o.source, o.sizing, OpRegenerate)
	ev := o.eventLocked(EventConceptUpdated)
	ev.ConceptID = id
	ev.Operation = OpRegenerate
	events = append(events, ev)
	o.mu.Unlock()

	o.emit(events...)
	return nil
}

// ConfirmEdit applies a natural-language edit to a concept's current image.
// A blank instruction is a no-op. Unlike generation, failures are returned.
func (o *Orchestrator) ConfirmEdit(ctx context.Context, id, instruction string) error {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return nil
	}

	o.mu.Lock()
	snap := o.snapshotLocked()
	sizing := o.sizing
	epoch := o.epoch
	o.mu.Unlock()

	c, ok := snap.Concept(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrConceptNotFound, id)
	}
	if c.Image == nil {
		return fmt.Errorf("%w: %s", ErrNoImage, id)
	}
	base := *c.Image

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	if o.enhancer != nil {
		if enhanced, err := o.enhancer.Enhance(ctx, instruction); err != nil {
			o.log.Warn().Err(err).Str("concept_id", id).Msg("instruction enhancement failed, using raw instruction")
		} else if enhanced != "" {
			instruction = enhanced
		}
	}

	p := prompt.Edit(instruction, sizing)
	img, err := o.generate(ctx, base, p, sizing)
	if err != nil {
		return fmt.Errorf("edit concept %s: %w", id, err)
	}

	o.mu.Lock()
	if o.epoch != epoch {
		o.mu.Unlock()
		return ErrSessionReset
	}
	concepts, found := replaceConcept(o.concepts, id, func(c models.Concept) models.Concept {
		c.Image = &img
		return c
	})
	if !found {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrConceptNotFound, id)
	}
	o.concepts = concepts
	ev := o.eventLocked(EventConceptUpdated)
	ev.ConceptID = id
	ev.Operation = OpEdit
	ev.Prompt = p
	o.mu.Unlock()

	o.emit(ev)
	return nil
}

// Wait blocks until every dispatched generation attempt has settled.
func (o *Orchestrator) Wait(ctx context.Context) error {
	for {
		o.mu.Lock()
		if o.inflight == 0 {
			o.mu.Unlock()
			return nil
		}
		ch := o.settled
		o.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close cancels every in-flight attempt.
func (o *Orchestrator) Close() {
	o.stop()
}

func (o *Orchestrator) dispatchLocked(c models.Concept, base models.Image, sizing models.Sizing, op Operation) {
	if prev, ok := o.attempts[c.ID]; ok {
		prev.cancel()
	}

	o.ticket++
	ctx, cancel := context.WithTimeout(o.baseCtx, o.timeout)
	o.attempts[c.ID] = &attempt{ticket: o.ticket, cancel: cancel}

	if o.inflight == 0 {
		o.settled = make(chan struct{})
	}
	o.inflight++

	go o.run(ctx, cancel, c, base, sizing, op, o.ticket)
}

func (o *Orchestrator) run(ctx context.Context, cancel context.CancelFunc, c models.Concept, base models.Image, sizing models.Sizing, op Operation, ticket uint64) {
	defer cancel()

	p := prompt.Generation(c, sizing)
	img, err := o.generate(ctx, base, p, sizing)
	o.settle(c, ticket, op, p, img, err)
}

// generate holds a semaphore slot through normalization, so decoded images
// are bounded by the concurrency limit as well.
func (o *Orchestrator) generate(ctx context.Context, base models.Image, p string, sizing models.Sizing) (models.Image, error) {
	if err := o.sem.Acquire(ctx, 1); err != nil {
		return models.Image{}, err
	}
	defer o.sem.Release(1)

	img, err := o.generator.Generate(ctx, models.NewGenerateRequest(base, p))
	if err != nil {
		return models.Image{}, err
	}
	return o.normalizer.Apply(img, sizing), nil
}

// settle writes an attempt's outcome if the attempt still owns the concept.
// The attempt counts as in flight until its listeners have run.
func (o *Orchestrator) settle(c models.Concept, ticket uint64, op Operation, p string, img models.Image, err error) {
	log := o.log.With().Str("concept_id", c.ID).Str("style", string(c.Style)).Str("op", string(op)).Logger()

	defer func() {
		o.mu.Lock()
		o.finishLocked()
		o.mu.Unlock()
	}()

	o.mu.Lock()
	a, ok := o.attempts[c.ID]
	if !ok || a.ticket != ticket {
		o.mu.Unlock()
		log.Debug().Msg("dropping superseded result")
		return
	}
	delete(o.attempts, c.ID)

	concepts, _ := replaceConcept(o.concepts, c.ID, func(c models.Concept) models.Concept {
		if err == nil {
			c.Image = &img
		}
		c.IsLoadingImage = false
		return c
	})
	o.concepts = concepts

	ev := o.eventLocked(EventConceptUpdated)
	ev.ConceptID = c.ID
	ev.Operation = op
	ev.Prompt = p
	ev.Err = err
	events := []Event{ev}

	if o.status == models.StatusGenerating && allSettled(o.concepts) {
		o.status = models.StatusComplete
		events = append(events, o.eventLocked(EventStatusChanged))
	}
	o.mu.Unlock()

	if err != nil {
		log.Warn().Err(err).Msg("concept generation failed")
	} else {
		log.Info().Msg("concept image ready")
	}
	o.emit(events...)
}

func (o *Orchestrator) finishLocked() {
	o.inflight--
	if o.inflight == 0 {
		close(o.settled)
	}
}
