// Package costmodel prices LLM calls and picks which model tier serves a
// message.
//
// Pricing is linear per token and per model tier. Cached input tokens are
// billed at a discount and tokens written to the provider's prompt cache at
// a surcharge; both factors are relative to the tier's input price.
package costmodel

import (
	"github.com/fyrsmithlabs/costgate/internal/config"
	"github.com/fyrsmithlabs/costgate/internal/store"
)

const perMillion = 1_000_000.0

// Usage is the token accounting returned by one LLM call.
type Usage struct {
	InputTokens         int64
	OutputTokens        int64
	CachedTokens        int64
	CacheCreationTokens int64
}

// Cost is the priced result of one LLM call, in USD.
type Cost struct {
	Total        float64
	CacheSavings float64
}

// Pricing maps model tiers to token prices.
type Pricing struct {
	rates       map[store.ModelTier]config.ModelPrice
	readFactor  float64
	writeFactor float64
}

// NewPricing builds a Pricing from configuration.
func NewPricing(cfg config.PricingConfig) *Pricing {
	return &Pricing{
		rates: map[store.ModelTier]config.ModelPrice{
			store.ModelCheap:  cfg.Cheap,
			store.ModelStrong: cfg.Strong,
		},
		readFactor:  cfg.CacheReadFactor,
		writeFactor: cfg.CacheWriteFactor,
	}
}

// Price returns the cost of usage on the given tier. Unknown tiers are
// priced as the strong tier so a misconfiguration never under-reports.
func (p *Pricing) Price(tier store.ModelTier, u Usage) Cost {
	rate, ok := p.rates[tier]
	if !ok {
		rate = p.rates[store.ModelStrong]
	}

	in := rate.InputPerMTok / perMillion
	out := rate.OutputPerMTok / perMillion
	read := in * p.readFactor
	write := in * p.writeFactor

	return Cost{
		Total: float64(u.InputTokens)*in +
			float64(u.OutputTokens)*out +
			float64(u.CachedTokens)*read +
			float64(u.CacheCreationTokens)*write,
		CacheSavings: float64(u.CachedTokens) * (in - read),
	}
}
