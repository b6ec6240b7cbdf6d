package costmodel

import (
	"unicode/utf8"

	"github.com/fyrsmithlabs/costgate/internal/config"
	"github.com/fyrsmithlabs/costgate/internal/store"
	"github.com/fyrsmithlabs/costgate/internal/textproc"
)

// DefaultComplexityKeywords route a message to the strong model when present.
var DefaultComplexityKeywords = []string{
	"analyze", "analyse", "analysis", "compare", "comparison", "architecture",
	"design", "prove", "proof", "step by step", "in depth", "in-depth",
	"trade off", "trade-off", "tradeoffs", "optimize", "optimise", "evaluate",
	"refactor", "derive", "critique",
}

// Selection is the model chosen for one LLM call.
type Selection struct {
	Model string
	Tier  store.ModelTier
	Class store.RequestClass
}

// Policy is the two-tier model selection table.
type Policy struct {
	cheapModel  string
	strongModel string
	minChars    int
	keywords    []string
}

// NewPolicy builds a Policy from configuration. An empty keyword list falls
// back to DefaultComplexityKeywords.
func NewPolicy(llm config.LLMConfig, pricing config.PricingConfig) *Policy {
	keywords := pricing.ComplexityKeywords
	if len(keywords) == 0 {
		keywords = DefaultComplexityKeywords
	}
	return &Policy{
		cheapModel:  llm.CheapModel,
		strongModel: llm.StrongModel,
		minChars:    pricing.ComplexMinChars,
		keywords:    keywords,
	}
}

// Select picks the strong model for long messages or messages containing a
// complexity keyword, and the cheap model otherwise.
func (p *Policy) Select(message string) Selection {
	if p.minChars > 0 && utf8.RuneCountInString(message) > p.minChars {
		return p.strong()
	}
	if _, ok := textproc.FirstPhrase(textproc.Tokens(message), p.keywords); ok {
		return p.strong()
	}
	return Selection{Model: p.cheapModel, Tier: store.ModelCheap, Class: store.ClassSimple}
}

// Cheap returns the selection used for auxiliary calls such as semantic
// classification.
func (p *Policy) Cheap() Selection {
	return Selection{Model: p.cheapModel, Tier: store.ModelCheap, Class: store.ClassSimple}
}

// Compression returns the selection used for summarization calls.
func (p *Policy) Compression() Selection {
	return Selection{Model: p.cheapModel, Tier: store.ModelCheap, Class: store.ClassCompression}
}

func (p *Policy) strong() Selection {
	return Selection{Model: p.strongModel, Tier: store.ModelStrong, Class: store.ClassComplex}
}
