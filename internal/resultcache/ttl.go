package resultcache

import (
	"time"

	"github.com/fyrsmithlabs/costgate/internal/config"
	"github.com/fyrsmithlabs/costgate/internal/store"
	"github.com/fyrsmithlabs/costgate/internal/textproc"
)

// VolatileKeywords mark queries whose answers change too fast to cache.
var VolatileKeywords = []string{
	"weather", "forecast", "temperature", "price", "prices", "stock", "stocks",
	"share price", "exchange rate", "bitcoin", "crypto", "score", "scores",
	"traffic", "live", "right now",
}

// StableKeywords mark queries about slowly changing reference material.
var StableKeywords = []string{
	"policy", "paper", "papers", "regulation", "regulations", "specification",
	"documentation", "docs", "law", "statute", "rfc", "standard", "manual",
	"whitepaper", "history",
}

// TTLPolicy assigns a time-to-live to a query by volatility class.
type TTLPolicy struct {
	Default time.Duration
	News    time.Duration
	Stable  time.Duration
}

// NewTTLPolicy builds a TTLPolicy from configuration.
func NewTTLPolicy(cfg config.CacheConfig) TTLPolicy {
	return TTLPolicy{Default: cfg.DefaultTTL, News: cfg.NewsTTL, Stable: cfg.StableTTL}
}

// TTL returns how long a result for query may be served. Zero means the
// result must not be cached at all.
func (p TTLPolicy) TTL(query string, searchType store.SearchType) time.Duration {
	tokens := textproc.Tokens(query)
	if _, ok := textproc.FirstPhrase(tokens, VolatileKeywords); ok {
		return 0
	}
	if searchType == store.SearchNews {
		return p.News
	}
	if searchType == store.SearchVerification {
		return p.Stable
	}
	if _, ok := textproc.FirstPhrase(tokens, StableKeywords); ok {
		return p.Stable
	}
	return p.Default
}
