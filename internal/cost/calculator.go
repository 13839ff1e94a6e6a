// Package cost estimates what a shoot costs at list prices, with optional
// local overrides.
package cost

import "github.com/manash/jewelshoot/pkg/models"

const (
	CurrencyUSD = "USD"
)

type Estimate struct {
	Model    string  `json:"model"`
	Tier     Tier    `json:"tier"`
	Images   int     `json:"images"`
	PerImage float64 `json:"per_image"`
	Total    float64 `json:"total"`
	Currency string  `json:"currency"`
}

type Calculator struct {
	overrides *LocalPricing
}

// NewCalculator returns a calculator that prefers prices from overrides.
// overrides may be nil.
func NewCalculator(overrides *LocalPricing) *Calculator {
	return &Calculator{overrides: overrides}
}

// TierFor maps a resolution option to the tier the API bills. The API
// renders at most 4K; larger tiers are upscaled locally.
func TierFor(res models.ResolutionID) Tier {
	if res == models.Resolution2K {
		return Tier2K
	}
	return Tier4K
}

// Estimate prices count images from model at res. Unknown models, such as
// the offline provider, cost nothing.
func (c *Calculator) Estimate(model string, res models.ResolutionID, count int) Estimate {
	tier := TierFor(res)
	perImage := c.price(model, tier)

	return Estimate{
		Model:    model,
		Tier:     tier,
		Images:   count,
		PerImage: perImage,
		Total:    perImage * float64(max(count, 0)),
		Currency: CurrencyUSD,
	}
}

func (c *Calculator) price(model string, tier Tier) float64 {
	if price, ok := c.overrides.Get(model, tier); ok {
		return price
	}
	if price, ok := GetImagePrice(model, tier); ok {
		return price
	}
	return 0
}
