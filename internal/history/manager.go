// Package history keeps a local record of shoots and of every image produced
// for each concept, so earlier results can be reviewed after the studio
// moves on.
package history

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/manash/jewelshoot/internal/image"
	"github.com/manash/jewelshoot/internal/studio"
	"github.com/manash/jewelshoot/pkg/models"
)

var (
	ErrNoShoot       = errors.New("no active shoot")
	ErrShootNotFound = errors.New("shoot not found")
)

type Manager struct {
	store    *Store
	saver    *image.Saver
	imageDir string
	log      zerolog.Logger
	now      func() time.Time

	mu      sync.Mutex
	current *Shoot
}

func NewManager(store *Store, imageDir string, log zerolog.Logger) *Manager {
	return &Manager{
		store:    store,
		saver:    image.NewSaver(nil),
		imageDir: imageDir,
		log:      log,
		now:      time.Now,
	}
}

func (m *Manager) Current() *Shoot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// StartShoot records a new shoot for source and makes it current.
func (m *Manager) StartShoot(ctx context.Context, name string, source models.Image, sizing models.Sizing) (*Shoot, error) {
	now := m.now()
	sh := &Shoot{
		ID:          uuid.New().String(),
		Name:        name,
		Resolution:  sizing.Resolution.ID,
		AspectRatio: sizing.AspectRatio.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if !source.IsEmpty() {
		sh.SourcePath = filepath.Join(m.shootDir(sh.ID), "source"+source.Extension())
		if err := m.saver.Save(source, sh.SourcePath); err != nil {
			return nil, fmt.Errorf("failed to store source image: %w", err)
		}
	}

	if err := m.store.CreateShoot(ctx, sh); err != nil {
		return nil, fmt.Errorf("failed to create shoot: %w", err)
	}

	m.mu.Lock()
	m.current = sh
	m.mu.Unlock()
	return sh, nil
}

// Resume makes an existing shoot current.
func (m *Manager) Resume(ctx context.Context, id string) (*Shoot, error) {
	sh, err := m.store.GetShoot(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrShootNotFound, err)
	}

	m.mu.Lock()
	m.current = sh
	m.mu.Unlock()
	return sh, nil
}

// SourceImage reads the stored source photo of a shoot.
func (m *Manager) SourceImage(sh *Shoot) (models.Image, error) {
	if sh.SourcePath == "" {
		return models.Image{}, fmt.Errorf("shoot %s has no stored source", sh.ID)
	}
	data, err := os.ReadFile(sh.SourcePath)
	if err != nil {
		return models.Image{}, err
	}
	return models.NewImage(data, mimetype.Detect(data).String()), nil
}

// UpdateSizing stores the sizing selected for the current shoot.
func (m *Manager) UpdateSizing(ctx context.Context, sizing models.Sizing) error {
	m.mu.Lock()
	sh := m.current
	m.mu.Unlock()
	if sh == nil {
		return ErrNoShoot
	}

	updated := *sh
	updated.Resolution = sizing.Resolution.ID
	updated.AspectRatio = sizing.AspectRatio.ID
	updated.UpdatedAt = m.now()
	if err := m.store.UpdateShoot(ctx, &updated); err != nil {
		return fmt.Errorf("failed to update shoot: %w", err)
	}

	m.mu.Lock()
	m.current = &updated
	m.mu.Unlock()
	return nil
}

// RecordIteration stores img as the newest iteration of a concept in the
// current shoot. Its parent is the concept's previous iteration.
func (m *Manager) RecordIteration(ctx context.Context, c models.Concept, op Operation, prompt string, img models.Image) (*Iteration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return nil, ErrNoShoot
	}

	it := &Iteration{
		ID:        uuid.New().String(),
		ShootID:   m.current.ID,
		ConceptID: c.ID,
		Operation: op,
		Style:     c.Style,
		Prompt:    prompt,
		CreatedAt: m.now(),
	}

	prev, err := m.store.LatestIteration(ctx, it.ShootID, c.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get parent iteration: %w", err)
	}
	if prev != nil {
		it.ParentID = prev.ID
	}

	it.ImagePath = filepath.Join(m.shootDir(it.ShootID), it.ID+img.Extension())
	if err := m.saver.Save(img, it.ImagePath); err != nil {
		return nil, err
	}

	if err := m.store.CreateIteration(ctx, it); err != nil {
		return nil, fmt.Errorf("failed to create iteration: %w", err)
	}

	m.current.UpdatedAt = it.CreatedAt
	if err := m.store.UpdateShoot(ctx, m.current); err != nil {
		return nil, fmt.Errorf("failed to update shoot: %w", err)
	}
	return it, nil
}

// ConceptHistory lists a concept's iterations oldest first.
func (m *Manager) ConceptHistory(ctx context.Context, conceptID string) ([]*Iteration, error) {
	sh := m.Current()
	if sh == nil {
		return nil, ErrNoShoot
	}
	return m.store.ListConceptIterations(ctx, sh.ID, conceptID)
}

func (m *Manager) Iterations(ctx context.Context, shootID string) ([]*Iteration, error) {
	return m.store.ListIterations(ctx, shootID)
}

func (m *Manager) List(ctx context.Context) ([]*Shoot, error) {
	return m.store.ListShoots(ctx)
}

// Delete removes a shoot, its iterations and its stored images.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.store.DeleteShoot(ctx, id); err != nil {
		return err
	}

	m.mu.Lock()
	if m.current != nil && m.current.ID == id {
		m.current = nil
	}
	m.mu.Unlock()

	if err := os.RemoveAll(m.shootDir(id)); err != nil {
		m.log.Warn().Err(err).Str("shoot_id", id).Msg("failed to remove shoot images")
	}
	return nil
}

// Observe records successful concept updates from an orchestrator. It is
// meant to be passed to Orchestrator.Subscribe.
func (m *Manager) Observe(ev studio.Event) {
	if ev.Type != studio.EventConceptUpdated || ev.Err != nil || ev.Prompt == "" {
		return
	}
	c, ok := ev.Snapshot.Concept(ev.ConceptID)
	if !ok || c.Image == nil {
		return
	}

	if _, err := m.RecordIteration(context.Background(), c, Operation(ev.Operation), ev.Prompt, *c.Image); err != nil {
		if !errors.Is(err, ErrNoShoot) {
			m.log.Warn().Err(err).Str("concept_id", c.ID).Msg("failed to record iteration")
		}
	}
}

func (m *Manager) shootDir(id string) string {
	return filepath.Join(m.imageDir, id)
}
