// Package cost prices model usage and projects the spend for pending records.
package cost

import (
	"strings"

	"github.com/sells-group/voc-classifier/internal/config"
	"github.com/sells-group/voc-classifier/internal/model"
)

// ModelRate holds per-model token pricing (USD per million tokens).
type ModelRate struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// Rates maps model ids to their pricing.
type Rates map[string]ModelRate

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// NewCalculatorFromConfig starts from DefaultRates and applies overrides
// from the pricing section.
func NewCalculatorFromConfig(cfg config.PricingConfig) *Calculator {
	rates := DefaultRates()
	for id, p := range cfg.Models {
		rates[id] = ModelRate{Input: p.Input, Output: p.Output}
	}
	return NewCalculator(rates)
}

// Usage returns the USD cost of usage on modelID. Providers often report a
// dated snapshot id ("gpt-4o-mini-2024-07-18"), so when there is no exact
// entry the longest configured prefix is used. Unknown models cost 0.
func (c *Calculator) Usage(modelID string, usage model.Usage) float64 {
	rate, ok := c.lookup(modelID)
	if !ok {
		return 0
	}
	in := (float64(usage.InputTokens) / 1e6) * rate.Input
	out := (float64(usage.OutputTokens) / 1e6) * rate.Output
	return in + out
}

// Known reports whether modelID has a price.
func (c *Calculator) Known(modelID string) bool {
	_, ok := c.lookup(modelID)
	return ok
}

func (c *Calculator) lookup(modelID string) (ModelRate, bool) {
	if rate, ok := c.rates[modelID]; ok {
		return rate, true
	}
	best := ""
	for id := range c.rates {
		if strings.HasPrefix(modelID, id) && len(id) > len(best) {
			best = id
		}
	}
	if best == "" {
		return ModelRate{}, false
	}
	return c.rates[best], true
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		"claude-haiku-4-5-20251001":  {Input: 1.00, Output: 5.00},
		"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00},
		"gpt-4o-mini":                {Input: 0.15, Output: 0.60},
		"gpt-4o":                     {Input: 2.50, Output: 10.00},
		"gemini-2.5-flash":           {Input: 0.30, Output: 2.50},
	}
}
