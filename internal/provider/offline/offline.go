// Package offline provides a deterministic provider that needs no network
// access. Generated images are the base image with a prompt-dependent tint.
package offline

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"strings"
	"time"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/manash/jewelshoot/internal/provider"
	"github.com/manash/jewelshoot/pkg/models"
)

var briefs = []models.ConceptBrief{
	{
		Style:       string(models.StyleMinimalist),
		Description: "Seamless white sweep with a single soft shadow under the piece.",
		Elements:    []string{"white acrylic plinth", "large soft box", "subtle reflection"},
	},
	{
		Style:       string(models.StyleLuxury),
		Description: "Black velvet and veined marble under a narrow gold rim light.",
		Elements:    []string{"black velvet", "marble slab", "gold rim light", "champagne bokeh"},
	},
	{
		Style:       string(models.StyleNature),
		Description: "Weathered stone and moss in late afternoon sunlight.",
		Elements:    []string{"river stone", "fresh moss", "dappled sunlight"},
	},
}

type Provider struct {
	latency time.Duration
}

// New returns an offline provider. latency simulates backend round trips.
func New(latency time.Duration) *Provider {
	return &Provider{latency: latency}
}

func (p *Provider) Name() models.ProviderType {
	return models.ProviderOffline
}

func (p *Provider) ListModels() []string {
	return []string{"offline"}
}

func (p *Provider) Plan(ctx context.Context, source models.Image, count int) ([]models.ConceptBrief, error) {
	if source.IsEmpty() {
		return nil, models.ErrNoImageData
	}
	if err := p.wait(ctx); err != nil {
		return nil, err
	}

	out := make([]models.ConceptBrief, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, briefs[i%len(briefs)])
	}
	return provider.TrimPlan(out, count)
}

func (p *Provider) Generate(ctx context.Context, req *models.GenerateRequest) (models.Image, error) {
	if err := req.Validate(); err != nil {
		return models.Image{}, err
	}
	if err := p.wait(ctx); err != nil {
		return models.Image{}, err
	}

	src, _, err := image.Decode(bytes.NewReader(req.Image.Data))
	if err != nil {
		return models.Image{}, fmt.Errorf("%w: decode base image: %v", provider.ErrGenerationFailed, err)
	}

	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	draw.Draw(dst, dst.Bounds(), image.NewUniform(tint(req.Prompt)), image.Point{}, draw.Over)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return models.Image{}, fmt.Errorf("%w: %v", provider.ErrGenerationFailed, err)
	}
	return models.NewImage(buf.Bytes(), "image/png"), nil
}

func (p *Provider) Enhance(ctx context.Context, instruction string) (string, error) {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return "", models.ErrEmptyPrompt
	}
	if err := p.wait(ctx); err != nil {
		return "", err
	}
	return instruction, nil
}

func (p *Provider) wait(ctx context.Context) error {
	if p.latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(p.latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// tint derives a translucent color from the prompt text.
func tint(prompt string) color.NRGBA {
	h := fnv.New32a()
	h.Write([]byte(prompt))
	v := h.Sum32()
	return color.NRGBA{R: uint8(v), G: uint8(v >> 8), B: uint8(v >> 16), A: 64}
}
