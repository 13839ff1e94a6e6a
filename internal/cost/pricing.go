package cost

import "slices"

// Gemini image output pricing (USD per image)
// Source: https://ai.google.dev/gemini-api/docs/pricing

// Tier is the output size a model bills by.
type Tier string

const (
	Tier2K Tier = "2K"
	Tier4K Tier = "4K"
)

type PricingKey struct {
	Model string
	Tier  Tier
}

var imagePricing = map[PricingKey]float64{
	{Model: "gemini-3-pro-image-preview", Tier: Tier2K}: 0.134,
	{Model: "gemini-3-pro-image-preview", Tier: Tier4K}: 0.240,

	// flat rate, every output is 1024px
	{Model: "gemini-2.5-flash-image", Tier: Tier2K}: 0.039,
	{Model: "gemini-2.5-flash-image", Tier: Tier4K}: 0.039,
}

func GetImagePrice(model string, tier Tier) (float64, bool) {
	price, ok := imagePricing[PricingKey{Model: model, Tier: tier}]
	return price, ok
}

// Models lists every model with a list price, sorted.
func Models() []string {
	seen := make(map[string]bool)
	var out []string
	for k := range imagePricing {
		if !seen[k.Model] {
			seen[k.Model] = true
			out = append(out, k.Model)
		}
	}
	slices.Sort(out)
	return out
}
