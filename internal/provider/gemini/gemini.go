// Package gemini implements concept planning, image generation and edit
// instruction enhancement on the Google GenAI API.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/manash/jewelshoot/internal/prompt"
	"github.com/manash/jewelshoot/internal/provider"
	"github.com/manash/jewelshoot/pkg/models"
)

const (
	DefaultPlannerModel = "gemini-2.5-flash"
	DefaultImageModel   = "gemini-3-pro-image-preview"
	DefaultTextModel    = "gemini-2.0-flash"

	defaultMaxRetries = 3
	defaultRetryDelay = 2 * time.Second
)

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type Provider struct {
	models       contentGenerator
	registry     *models.ModelRegistry
	plannerModel string
	imageModel   string
	textModel    string
	maxRetries   int
	retryDelay   time.Duration
	sleep        func(ctx context.Context, d time.Duration) error
	log          zerolog.Logger
}

func New(ctx context.Context, cfg *provider.Config, registry *models.ModelRegistry, log zerolog.Logger) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, provider.ErrAPIKeyRequired
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return newWithClient(client.Models, cfg, registry, log)
}

func newWithClient(gen contentGenerator, cfg *provider.Config, registry *models.ModelRegistry, log zerolog.Logger) (*Provider, error) {
	p := &Provider{
		models:       gen,
		registry:     registry,
		plannerModel: orDefault(cfg.PlannerModel, DefaultPlannerModel),
		imageModel:   orDefault(cfg.ImageModel, DefaultImageModel),
		textModel:    orDefault(cfg.TextModel, DefaultTextModel),
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		sleep:        sleepContext,
		log:          log.With().Str("provider", string(models.ProviderGemini)).Logger(),
	}
	if p.maxRetries <= 0 {
		p.maxRetries = defaultMaxRetries
	}
	if p.retryDelay <= 0 {
		p.retryDelay = defaultRetryDelay
	}

	checks := []struct {
		model string
		role  models.ModelRole
	}{
		{p.plannerModel, models.RolePlanner},
		{p.imageModel, models.RoleImage},
	}
	for _, c := range checks {
		if _, ok := registry.Get(c.model); !ok {
			p.log.Warn().Str("model", c.model).Msg("model not in registry, sizing hints disabled")
			continue
		}
		if _, err := registry.Require(c.model, c.role); err != nil {
			return nil, fmt.Errorf("%w: %v", provider.ErrModelNotSupported, err)
		}
	}

	return p, nil
}

func (p *Provider) Name() models.ProviderType {
	return models.ProviderGemini
}

func (p *Provider) ListModels() []string {
	var names []string
	for _, name := range p.registry.List() {
		if cap, ok := p.registry.Get(name); ok && cap.Provider == models.ProviderGemini {
			names = append(names, name)
		}
	}
	return names
}

type planResponse struct {
	Concepts []models.ConceptBrief `json:"concepts"`
}

func planSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"concepts": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"style":       {Type: genai.TypeString},
						"description": {Type: genai.TypeString},
						"elements": {
							Type:  genai.TypeArray,
							Items: &genai.Schema{Type: genai.TypeString},
						},
					},
					Required: []string{"style", "description", "elements"},
				},
			},
		},
		Required: []string{"concepts"},
	}
}

// Plan asks the planner model for count concept briefs for source.
func (p *Provider) Plan(ctx context.Context, source models.Image, count int) ([]models.ConceptBrief, error) {
	if source.IsEmpty() {
		return nil, models.ErrNoImageData
	}

	contents := []*genai.Content{{
		Role: genai.RoleUser,
		Parts: []*genai.Part{
			genai.NewPartFromBytes(source.Data, mimeOrPNG(source)),
			genai.NewPartFromText(prompt.Plan(count)),
		},
	}}
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   planSchema(),
	}

	resp, err := p.generateWithRetry(ctx, p.plannerModel, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrPlanningFailed, err)
	}

	briefs, err := parsePlan(resp.Text())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrPlanningFailed, err)
	}

	briefs, err = provider.TrimPlan(briefs, count)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrPlanningFailed, err)
	}
	if len(briefs) < count {
		p.log.Warn().Int("want", count).Int("got", len(briefs)).Msg("planner returned fewer concepts than requested")
	}
	return briefs, nil
}

func parsePlan(text string) ([]models.ConceptBrief, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	var out planResponse
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &out); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	return out.Concepts, nil
}

// Generate sends the base image and instruction to the image model.
func (p *Provider) Generate(ctx context.Context, req *models.GenerateRequest) (models.Image, error) {
	if err := req.Validate(); err != nil {
		return models.Image{}, err
	}

	model := orDefault(req.Model, p.imageModel)
	contents := []*genai.Content{{
		Role: genai.RoleUser,
		Parts: []*genai.Part{
			genai.NewPartFromBytes(req.Image.Data, mimeOrPNG(req.Image)),
			genai.NewPartFromText(req.Prompt),
		},
	}}

	resp, err := p.generateWithRetry(ctx, model, contents, p.imageConfig(model, req.Sizing))
	if err != nil {
		return models.Image{}, fmt.Errorf("%w: %v", provider.ErrGenerationFailed, err)
	}

	img, err := extractImage(resp)
	if err != nil {
		return models.Image{}, fmt.Errorf("%w: %v", provider.ErrGenerationFailed, err)
	}
	p.log.Debug().Str("model", model).Int("bytes", len(img.Data)).Msg("image received")
	return img, nil
}

func (p *Provider) imageConfig(model string, hint *models.SizingHint) *genai.GenerateContentConfig {
	if hint == nil {
		return nil
	}
	cap, ok := p.registry.Get(model)
	if !ok || !cap.SupportsAspectHint {
		return nil
	}
	ar, ok := models.FindAspectRatio(hint.AspectRatio)
	if !ok {
		return nil
	}
	return &genai.GenerateContentConfig{
		ImageConfig: &genai.ImageConfig{AspectRatio: ar.APIValue},
	}
}

func extractImage(resp *genai.GenerateContentResponse) (models.Image, error) {
	if resp == nil {
		return models.Image{}, provider.ErrNoImageInResponse
	}
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part == nil || part.InlineData == nil {
				continue
			}
			if strings.HasPrefix(part.InlineData.MIMEType, "image/") && len(part.InlineData.Data) > 0 {
				return models.NewImage(part.InlineData.Data, part.InlineData.MIMEType), nil
			}
		}
	}
	return models.Image{}, provider.ErrNoImageInResponse
}

// Enhance rewrites an edit instruction with the text model.
func (p *Provider) Enhance(ctx context.Context, instruction string) (string, error) {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return "", models.ErrEmptyPrompt
	}

	contents := []*genai.Content{{
		Role:  genai.RoleUser,
		Parts: []*genai.Part{genai.NewPartFromText(prompt.Enhance(instruction))},
	}}

	resp, err := p.generateWithRetry(ctx, p.textModel, contents, nil)
	if err != nil {
		return "", fmt.Errorf("enhance instruction: %w", err)
	}

	out := strings.TrimSpace(resp.Text())
	if out == "" {
		return "", fmt.Errorf("enhance instruction: empty response")
	}
	return out, nil
}

func mimeOrPNG(img models.Image) string {
	if img.MIMEType == "" {
		return "image/png"
	}
	return img.MIMEType
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
