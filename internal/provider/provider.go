package provider

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/manash/jewelshoot/pkg/models"
)

var (
	ErrProviderNotFound  = errors.New("provider not found")
	ErrModelNotSupported = errors.New("model not supported by provider")
	ErrAPIKeyRequired    = errors.New("API key is required")
	ErrPlanningFailed    = errors.New("concept planning failed")
	ErrEmptyPlan         = errors.New("planner returned no concepts")
	ErrGenerationFailed  = errors.New("image generation failed")
	ErrNoImageInResponse = errors.New("no image in response")
	ErrRateLimited       = errors.New("rate limited")
)

// Planner turns a source photo into concept briefs.
type Planner interface {
	Plan(ctx context.Context, source models.Image, count int) ([]models.ConceptBrief, error)
}

// Generator produces a new image from a base image and an instruction.
type Generator interface {
	Generate(ctx context.Context, req *models.GenerateRequest) (models.Image, error)
}

// Enhancer rewrites a raw edit instruction.
type Enhancer interface {
	Enhance(ctx context.Context, instruction string) (string, error)
}

type Provider interface {
	Planner
	Generator
	Enhancer
	Name() models.ProviderType
	ListModels() []string
}

type Config struct {
	APIKey       string
	BaseURL      string
	PlannerModel string
	ImageModel   string
	TextModel    string
	MaxRetries   int
	RetryDelay   time.Duration
}

type Factory struct {
	registry  *models.ModelRegistry
	configs   map[models.ProviderType]*Config
	providers map[models.ProviderType]Provider
}

func NewFactory(registry *models.ModelRegistry) *Factory {
	return &Factory{
		registry:  registry,
		configs:   make(map[models.ProviderType]*Config),
		providers: make(map[models.ProviderType]Provider),
	}
}

func (f *Factory) Configure(providerType models.ProviderType, cfg *Config) {
	f.configs[providerType] = cfg
}

func (f *Factory) Register(provider Provider) {
	f.providers[provider.Name()] = provider
}

func (f *Factory) Get(providerType models.ProviderType) (Provider, error) {
	provider, ok := f.providers[providerType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, providerType)
	}
	return provider, nil
}

func (f *Factory) GetForModel(model string) (Provider, error) {
	cap, ok := f.registry.Get(model)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModelNotSupported, model)
	}

	provider, ok := f.providers[cap.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s (required by model %s)", ErrProviderNotFound, cap.Provider, model)
	}

	return provider, nil
}

func (f *Factory) GetConfig(providerType models.ProviderType) (*Config, bool) {
	cfg, ok := f.configs[providerType]
	return cfg, ok
}

func (f *Factory) ListProviders() []models.ProviderType {
	types := make([]models.ProviderType, 0, len(f.providers))
	for t := range f.providers {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// TrimPlan enforces the requested concept count on a planner result.
func TrimPlan(briefs []models.ConceptBrief, count int) ([]models.ConceptBrief, error) {
	if len(briefs) == 0 {
		return nil, ErrEmptyPlan
	}
	if count > 0 && len(briefs) > count {
		briefs = briefs[:count]
	}
	return briefs, nil
}
