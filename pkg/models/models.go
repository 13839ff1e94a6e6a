package models

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	ErrEmptyPrompt        = errors.New("prompt cannot be empty")
	ErrNoImageData        = errors.New("image data is required")
	ErrInvalidImageFormat = errors.New("invalid image data URL")
	ErrUnknownResolution  = errors.New("unknown resolution")
	ErrUnknownAspectRatio = errors.New("unknown aspect ratio")
	ErrUnknownModel       = errors.New("unknown model")
)

type ProviderType string

const (
	ProviderGemini  ProviderType = "gemini"
	ProviderOffline ProviderType = "offline"
)

type OutputFormat string

const (
	FormatPNG  OutputFormat = "png"
	FormatJPEG OutputFormat = "jpeg"
	FormatWebP OutputFormat = "webp"
)

func ValidFormats() []OutputFormat {
	return []OutputFormat{FormatPNG, FormatJPEG, FormatWebP}
}

func (f OutputFormat) IsValid() bool {
	return slices.Contains(ValidFormats(), f)
}

func (f OutputFormat) String() string {
	return string(f)
}

// MIMEType returns the content type written for the format.
func (f OutputFormat) MIMEType() string {
	return "image/" + string(f)
}

type Style string

const (
	StyleMinimalist Style = "MINIMALIST"
	StyleLuxury     Style = "LUXURY"
	StyleNature     Style = "NATURE"
)

func Styles() []Style {
	return []Style{StyleMinimalist, StyleLuxury, StyleNature}
}

func (s Style) Label() string {
	switch s {
	case StyleMinimalist:
		return "Studio Minimal"
	case StyleLuxury:
		return "Dark Luxury"
	case StyleNature:
		return "Nature & Texture"
	}
	return string(s)
}

func (s Style) String() string {
	return string(s)
}

var styleSynonyms = map[Style][]string{
	StyleMinimalist: {"minimalist", "minimal", "studio", "clean"},
	StyleLuxury:     {"luxury", "lux", "dark", "velvet"},
	StyleNature:     {"nature", "natural", "organic", "texture"},
}

// ParseStyle maps free planner text onto the closed style set. Text that
// names no style falls back to the brief's position in the plan.
func ParseStyle(text string, index int) Style {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower != "" {
		for _, s := range Styles() {
			if lower == strings.ToLower(string(s)) {
				return s
			}
		}
		for _, s := range Styles() {
			for _, syn := range styleSynonyms[s] {
				if strings.Contains(lower, syn) {
					return s
				}
			}
		}
	}
	styles := Styles()
	if index < 0 {
		index = 0
	}
	return styles[index%len(styles)]
}

// ConceptBrief is one planner result before it becomes a Concept.
type ConceptBrief struct {
	Style       string   `json:"style"`
	Description string   `json:"description"`
	Elements    []string `json:"elements"`
}

type Concept struct {
	ID             string   `json:"id"`
	Style          Style    `json:"style"`
	Description    string   `json:"description"`
	Elements       []string `json:"elements"`
	Image          *Image   `json:"image,omitempty"`
	IsLoadingImage bool     `json:"isLoadingImage"`
}

// NewConcept builds a concept from a planner brief. The concept starts in
// the loading state with no image.
func NewConcept(id string, brief ConceptBrief, index int) Concept {
	return Concept{
		ID:             id,
		Style:          ParseStyle(brief.Style, index),
		Description:    brief.Description,
		Elements:       slices.Clone(brief.Elements),
		IsLoadingImage: true,
	}
}

type Status string

const (
	StatusIdle       Status = "idle"
	StatusAnalyzing  Status = "analyzing"
	StatusGenerating Status = "generating"
	StatusComplete   Status = "complete"
	StatusError      Status = "error"
)

// SizingHint is the optional tier pair passed to an image backend that can
// shape its own output.
type SizingHint struct {
	Resolution  ResolutionID
	AspectRatio AspectRatioID
}

type GenerateRequest struct {
	Image  Image
	Prompt string
	Model  string
	Sizing *SizingHint
}

func NewGenerateRequest(image Image, prompt string) *GenerateRequest {
	return &GenerateRequest{
		Image:  image,
		Prompt: prompt,
	}
}

func (r *GenerateRequest) Validate() error {
	if len(r.Image.Data) == 0 {
		return ErrNoImageData
	}
	if strings.TrimSpace(r.Prompt) == "" {
		return ErrEmptyPrompt
	}
	return nil
}

type ModelRole string

const (
	RolePlanner ModelRole = "planner"
	RoleImage   ModelRole = "image"
	RoleText    ModelRole = "text"
)

type ModelCapabilities struct {
	Name               string
	Provider           ProviderType
	Roles              []ModelRole
	SupportsAspectHint bool
}

func (c *ModelCapabilities) Has(role ModelRole) bool {
	return slices.Contains(c.Roles, role)
}

type ModelRegistry struct {
	models map[string]*ModelCapabilities
}

func NewModelRegistry() *ModelRegistry {
	return &ModelRegistry{
		models: make(map[string]*ModelCapabilities),
	}
}

func (r *ModelRegistry) Register(cap *ModelCapabilities) {
	r.models[cap.Name] = cap
}

func (r *ModelRegistry) Get(name string) (*ModelCapabilities, bool) {
	cap, ok := r.models[name]
	return cap, ok
}

// Require returns the named model if it is registered for role.
func (r *ModelRegistry) Require(name string, role ModelRole) (*ModelCapabilities, error) {
	cap, ok := r.models[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, name)
	}
	if !cap.Has(role) {
		return nil, fmt.Errorf("model %s cannot act as %s", name, role)
	}
	return cap, nil
}

func (r *ModelRegistry) List() []string {
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (r *ModelRegistry) ListByRole(role ModelRole) []string {
	var names []string
	for name, cap := range r.models {
		if cap.Has(role) {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

func DefaultRegistry() *ModelRegistry {
	r := NewModelRegistry()

	r.Register(&ModelCapabilities{
		Name:     "gemini-2.5-flash",
		Provider: ProviderGemini,
		Roles:    []ModelRole{RolePlanner, RoleText},
	})

	r.Register(&ModelCapabilities{
		Name:     "gemini-2.0-flash",
		Provider: ProviderGemini,
		Roles:    []ModelRole{RolePlanner, RoleText},
	})

	r.Register(&ModelCapabilities{
		Name:               "gemini-2.5-flash-image",
		Provider:           ProviderGemini,
		Roles:              []ModelRole{RoleImage},
		SupportsAspectHint: true,
	})

	r.Register(&ModelCapabilities{
		Name:               "gemini-3-pro-image-preview",
		Provider:           ProviderGemini,
		Roles:              []ModelRole{RoleImage},
		SupportsAspectHint: true,
	})

	r.Register(&ModelCapabilities{
		Name:     "offline",
		Provider: ProviderOffline,
		Roles:    []ModelRole{RolePlanner, RoleImage, RoleText},
	})

	return r
}
