package cost

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const pricingFile = "pricing.json"

// LocalPricing holds prices set by hand, keyed by model then tier.
type LocalPricing struct {
	UpdatedAt time.Time                   `json:"updated_at"`
	Image     map[string]map[Tier]float64 `json:"image"`
}

// Get is safe on a nil receiver.
func (p *LocalPricing) Get(model string, tier Tier) (float64, bool) {
	if p == nil {
		return 0, false
	}
	price, ok := p.Image[model][tier]
	return price, ok
}

func PricingPath(dir string) string {
	return filepath.Join(dir, pricingFile)
}

// LoadPricing reads the override file in dir. A missing file yields nil.
func LoadPricing(dir string) (*LocalPricing, error) {
	data, err := os.ReadFile(PricingPath(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read pricing overrides: %w", err)
	}

	var pricing LocalPricing
	if err := json.Unmarshal(data, &pricing); err != nil {
		return nil, fmt.Errorf("failed to parse pricing overrides: %w", err)
	}
	return &pricing, nil
}

func SavePricing(dir string, pricing *LocalPricing) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(pricing, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal pricing: %w", err)
	}

	if err := os.WriteFile(PricingPath(dir), data, 0644); err != nil {
		return fmt.Errorf("failed to write pricing overrides: %w", err)
	}
	return nil
}

// ParseTier accepts "2k", "4K" and the like.
func ParseTier(s string) (Tier, error) {
	switch Tier(strings.ToUpper(strings.TrimSpace(s))) {
	case Tier2K:
		return Tier2K, nil
	case Tier4K:
		return Tier4K, nil
	}
	return "", fmt.Errorf("unknown pricing tier %q (want 2K or 4K)", s)
}

// SetPrice stores one override in dir.
func SetPrice(dir, model string, tier Tier, price float64) error {
	if price < 0 {
		return fmt.Errorf("price must not be negative")
	}
	pricing, err := LoadPricing(dir)
	if err != nil {
		return err
	}
	if pricing == nil {
		pricing = &LocalPricing{}
	}
	if pricing.Image == nil {
		pricing.Image = make(map[string]map[Tier]float64)
	}
	if pricing.Image[model] == nil {
		pricing.Image[model] = make(map[Tier]float64)
	}

	pricing.Image[model][tier] = price
	pricing.UpdatedAt = time.Now()
	return SavePricing(dir, pricing)
}

// DeletePricing removes every override in dir.
func DeletePricing(dir string) error {
	if err := os.Remove(PricingPath(dir)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete pricing overrides: %w", err)
	}
	return nil
}
