// Package analytics rolls per-turn telemetry into daily statistics and
// reports them over a date range.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/costgate/internal/store"
)

// DefaultRangeDays is the report span when no range is given.
const DefaultRangeDays = 7

// ErrInvalidRange is returned when from is after to.
var ErrInvalidRange = errors.New("invalid analytics range")

// Store is the statistics persistence the aggregator needs.
type Store interface {
	AddDailyStats(ctx context.Context, delta store.DailyStatistics) error
	GetDailyStats(ctx context.Context, date string) (store.DailyStatistics, error)
	ListDailyStats(ctx context.Context, from, to string) ([]store.DailyStatistics, error)
	CostTotalsBetween(ctx context.Context, from, to time.Time) ([]store.CostTotals, error)
}

// Turn is what one completed turn contributes to the daily row.
type Turn struct {
	At   time.Time
	Tier store.DecisionTier
	// Searched is true when the turn was answered with search results,
	// from the provider or the cache.
	Searched        bool
	CacheHit        bool
	SearchCost      float64
	CostSaved       float64
	DecisionLatency time.Duration
}

// Aggregator writes and reads daily statistics.
type Aggregator struct {
	store Store
	now   func() time.Time
}

// New creates an aggregator. now defaults to time.Now.
func New(s Store, now func() time.Time) *Aggregator {
	if now == nil {
		now = time.Now
	}
	return &Aggregator{store: s, now: now}
}

// RecordTurn adds one turn to its day's row. Days are UTC.
func (a *Aggregator) RecordTurn(ctx context.Context, t Turn) error {
	at := t.At
	if at.IsZero() {
		at = a.now()
	}
	delta := store.DailyStatistics{
		Date:            at.UTC().Format(store.DateLayout),
		TotalRequests:   1,
		TotalSearchCost: t.SearchCost,
		TotalCostSaved:  t.CostSaved,
		TotalLatencyMS:  t.DecisionLatency.Milliseconds(),
	}
	if t.Searched {
		delta.SearchTriggered = 1
	}
	if t.CacheHit {
		delta.CacheHits = 1
	}
	switch t.Tier {
	case store.TierKeyword:
		delta.KeywordDecisions = 1
	case store.TierSemantic:
		delta.SemanticDecisions = 1
	case store.TierContext:
		delta.ContextDecisions = 1
	}
	return a.store.AddDailyStats(ctx, delta)
}

// Summary totals a report's range.
type Summary struct {
	TotalRequests        int64   `json:"total_requests"`
	SearchTriggered      int64   `json:"search_triggered"`
	CacheHits            int64   `json:"cache_hits"`
	SearchRate           float64 `json:"search_rate"`
	CacheHitRate         float64 `json:"cache_hit_rate"`
	TotalSearchCost      float64 `json:"total_search_cost"`
	TotalCostSaved       float64 `json:"total_cost_saved"`
	AvgDecisionLatencyMS float64 `json:"avg_decision_latency_ms"`
	LLMCost              float64 `json:"llm_cost"`
	LLMCacheSavings      float64 `json:"llm_cache_savings"`
	TotalCost            float64 `json:"total_cost"`
}

// Day is one row of the daily breakdown.
type Day struct {
	Date                 string  `json:"date"`
	TotalRequests        int64   `json:"total_requests"`
	SearchTriggered      int64   `json:"search_triggered"`
	CacheHits            int64   `json:"cache_hits"`
	KeywordDecisions     int64   `json:"keyword_decisions"`
	SemanticDecisions    int64   `json:"semantic_decisions"`
	ContextDecisions     int64   `json:"context_decisions"`
	TotalSearchCost      float64 `json:"total_search_cost"`
	TotalCostSaved       float64 `json:"total_cost_saved"`
	AvgDecisionLatencyMS float64 `json:"avg_decision_latency_ms"`
}

// TierShare is one decision tier's share of all decisions.
type TierShare struct {
	Count   int64   `json:"count"`
	Percent float64 `json:"percent"`
}

// ClassCost is the LLM spend of one request class.
type ClassCost struct {
	RequestClass store.RequestClass `json:"request_class"`
	Calls        int64              `json:"calls"`
	InputTokens  int64              `json:"input_tokens"`
	OutputTokens int64              `json:"output_tokens"`
	CachedTokens int64              `json:"cached_tokens"`
	TotalCost    float64            `json:"total_cost"`
	CacheSavings float64            `json:"cache_savings"`
}

// Report is the result of GetAnalytics.
type Report struct {
	From             string                           `json:"from"`
	To               string                           `json:"to"`
	Summary          Summary                          `json:"summary"`
	Daily            []Day                            `json:"daily_breakdown"`
	TierDistribution map[store.DecisionTier]TierShare `json:"decision_tier_distribution"`
	Costs            []ClassCost                      `json:"llm_costs"`
}

// GetAnalytics reports on the inclusive UTC date range [from, to]. A zero
// to means today; a zero from means DefaultRangeDays days ending at to.
func (a *Aggregator) GetAnalytics(ctx context.Context, from, to time.Time) (*Report, error) {
	if to.IsZero() {
		to = a.now()
	}
	to = startOfDay(to)
	if from.IsZero() {
		from = to.AddDate(0, 0, -(DefaultRangeDays - 1))
	}
	from = startOfDay(from)
	if from.After(to) {
		return nil, fmt.Errorf("%w: from %s is after to %s", ErrInvalidRange,
			from.Format(store.DateLayout), to.Format(store.DateLayout))
	}

	rep := &Report{
		From:  from.Format(store.DateLayout),
		To:    to.Format(store.DateLayout),
		Daily: []Day{},
		TierDistribution: map[store.DecisionTier]TierShare{
			store.TierKeyword:  {},
			store.TierSemantic: {},
			store.TierContext:  {},
		},
		Costs: []ClassCost{},
	}

	rows, err := a.store.ListDailyStats(ctx, rep.From, rep.To)
	if err != nil {
		return nil, err
	}

	var latency int64
	tiers := map[store.DecisionTier]int64{}
	for _, r := range rows {
		rep.Daily = append(rep.Daily, Day{
			Date:                 r.Date,
			TotalRequests:        r.TotalRequests,
			SearchTriggered:      r.SearchTriggered,
			CacheHits:            r.CacheHits,
			KeywordDecisions:     r.KeywordDecisions,
			SemanticDecisions:    r.SemanticDecisions,
			ContextDecisions:     r.ContextDecisions,
			TotalSearchCost:      r.TotalSearchCost,
			TotalCostSaved:       r.TotalCostSaved,
			AvgDecisionLatencyMS: r.AvgDecisionLatencyMS(),
		})
		s := &rep.Summary
		s.TotalRequests += r.TotalRequests
		s.SearchTriggered += r.SearchTriggered
		s.CacheHits += r.CacheHits
		s.TotalSearchCost += r.TotalSearchCost
		s.TotalCostSaved += r.TotalCostSaved
		latency += r.TotalLatencyMS
		tiers[store.TierKeyword] += r.KeywordDecisions
		tiers[store.TierSemantic] += r.SemanticDecisions
		tiers[store.TierContext] += r.ContextDecisions
	}

	s := &rep.Summary
	s.SearchRate = ratio(s.SearchTriggered, s.TotalRequests)
	s.CacheHitRate = ratio(s.CacheHits, s.SearchTriggered)
	s.AvgDecisionLatencyMS = ratio(latency, s.TotalRequests)

	var decisions int64
	for _, n := range tiers {
		decisions += n
	}
	for tier, n := range tiers {
		rep.TierDistribution[tier] = TierShare{Count: n, Percent: 100 * ratio(n, decisions)}
	}

	totals, err := a.store.CostTotalsBetween(ctx, from, to.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}
	for _, t := range totals {
		rep.Costs = append(rep.Costs, ClassCost(t))
		s.LLMCost += t.TotalCost
		s.LLMCacheSavings += t.CacheSavings
	}
	s.TotalCost = s.LLMCost + s.TotalSearchCost
	return rep, nil
}

// Today returns today's statistics row, zero-valued if there is none yet.
func (a *Aggregator) Today(ctx context.Context) (store.DailyStatistics, error) {
	date := a.now().UTC().Format(store.DateLayout)
	d, err := a.store.GetDailyStats(ctx, date)
	if errors.Is(err, store.ErrNotFound) {
		return store.DailyStatistics{Date: date}, nil
	}
	return d, err
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ratio(n, d int64) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}
