package costmodel

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/costgate/internal/config"
	"github.com/fyrsmithlabs/costgate/internal/store"
)

func TestPricing_Price(t *testing.T) {
	p := NewPricing(config.Default().Pricing)

	tests := []struct {
		name        string
		tier        store.ModelTier
		usage       Usage
		wantTotal   float64
		wantSavings float64
	}{
		{
			name:      "cheap input and output",
			tier:      store.ModelCheap,
			usage:     Usage{InputTokens: 1_000_000, OutputTokens: 1_000_000},
			wantTotal: 0.80 + 4.00,
		},
		{
			name:      "strong input and output",
			tier:      store.ModelStrong,
			usage:     Usage{InputTokens: 2000, OutputTokens: 500},
			wantTotal: 2000*3.0/1e6 + 500*15.0/1e6,
		},
		{
			name:        "cache read discount",
			tier:        store.ModelStrong,
			usage:       Usage{CachedTokens: 1_000_000},
			wantTotal:   0.30,
			wantSavings: 2.70,
		},
		{
			name:      "cache creation surcharge",
			tier:      store.ModelCheap,
			usage:     Usage{CacheCreationTokens: 1_000_000},
			wantTotal: 1.00,
		},
		{
			name:      "unknown tier priced as strong",
			tier:      store.ModelTier("mystery"),
			usage:     Usage{InputTokens: 1_000_000},
			wantTotal: 3.00,
		},
		{
			name:  "zero usage",
			tier:  store.ModelCheap,
			usage: Usage{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Price(tt.tier, tt.usage)
			assert.InDelta(t, tt.wantTotal, got.Total, 1e-9)
			assert.InDelta(t, tt.wantSavings, got.CacheSavings, 1e-9)
		})
	}
}

func TestPolicy_Select(t *testing.T) {
	cfg := config.Default()
	p := NewPolicy(cfg.LLM, cfg.Pricing)

	tests := []struct {
		name      string
		message   string
		wantTier  store.ModelTier
		wantClass store.RequestClass
		wantModel string
	}{
		{"short plain message", "What's the capital of France?", store.ModelCheap, store.ClassSimple, cfg.LLM.CheapModel},
		{"complexity keyword", "Compare Postgres and MySQL for OLTP", store.ModelStrong, store.ClassComplex, cfg.LLM.StrongModel},
		{"multi word keyword", "Explain it step by step please", store.ModelStrong, store.ClassComplex, cfg.LLM.StrongModel},
		{"keyword as substring only", "Redesigned logos look nice", store.ModelCheap, store.ClassSimple, cfg.LLM.CheapModel},
		{"long message", strings.Repeat("word ", 130), store.ModelStrong, store.ClassComplex, cfg.LLM.StrongModel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel := p.Select(tt.message)
			assert.Equal(t, tt.wantTier, sel.Tier)
			assert.Equal(t, tt.wantClass, sel.Class)
			assert.Equal(t, tt.wantModel, sel.Model)
		})
	}
}

func TestPolicy_CustomKeywordsAndAuxiliarySelections(t *testing.T) {
	cfg := config.Default()
	cfg.Pricing.ComplexityKeywords = []string{"kubernetes"}
	p := NewPolicy(cfg.LLM, cfg.Pricing)

	assert.Equal(t, store.ModelStrong, p.Select("kubernetes networking").Tier)
	assert.Equal(t, store.ModelCheap, p.Select("compare two numbers").Tier)

	c := p.Compression()
	assert.Equal(t, store.ClassCompression, c.Class)
	assert.Equal(t, cfg.LLM.CheapModel, c.Model)
	assert.Equal(t, store.ModelCheap, p.Cheap().Tier)
}
