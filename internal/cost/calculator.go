// Package cost estimates the USD cost of a research run.
package cost

import (
	"strings"

	"github.com/noahsdonaldson/prospector/internal/config"
)

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// Rates holds token pricing per model and flat per-query search pricing
// per provider.
type Rates struct {
	Models map[string]ModelRate `yaml:"models" mapstructure:"models"`
	Search map[string]float64   `yaml:"search" mapstructure:"search"`
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// FromConfig layers configured pricing over DefaultRates.
func FromConfig(p config.PricingConfig) *Calculator {
	rates := DefaultRates()
	for model, r := range p.Models {
		rates.Models[model] = ModelRate{Input: r.Input, Output: r.Output}
	}
	for provider, perQuery := range p.Search {
		rates.Search[provider] = perQuery
	}
	return NewCalculator(rates)
}

// rate finds the pricing for model, falling back to the longest configured
// prefix so dated variants share their family's rate.
func (c *Calculator) rate(model string) (ModelRate, bool) {
	if r, ok := c.rates.Models[model]; ok {
		return r, true
	}
	var best string
	for name := range c.rates.Models {
		if strings.HasPrefix(model, name) && len(name) > len(best) {
			best = name
		}
	}
	if best == "" {
		return ModelRate{}, false
	}
	return c.rates.Models[best], true
}

// Tokens computes the cost of input and output tokens on model. Unknown
// models cost 0.
func (c *Calculator) Tokens(model string, input, output int64) float64 {
	rate, ok := c.rate(model)
	if !ok {
		return 0
	}
	return (float64(input)/1e6)*rate.Input + (float64(output)/1e6)*rate.Output
}

// Searches computes the cost of n queries against a search provider.
func (c *Calculator) Searches(provider string, n int) float64 {
	return float64(n) * c.rates.Search[provider]
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Models: map[string]ModelRate{
			"claude-sonnet-4":  {Input: 3.00, Output: 15.00},
			"claude-opus-4":    {Input: 15.00, Output: 75.00},
			"claude-haiku-4-5": {Input: 1.00, Output: 5.00},
			"gpt-4o":           {Input: 2.50, Output: 10.00},
			"gpt-4o-mini":      {Input: 0.15, Output: 0.60},
			"gemini-1.5-pro":   {Input: 1.25, Output: 5.00},
			"gemini-1.5-flash": {Input: 0.075, Output: 0.30},
		},
		Search: map[string]float64{
			"tavily":     0.008,
			"jina":       0.002,
			"perplexity": 0.005,
		},
	}
}
