package analytics

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/costgate/internal/store"
)

var day0 = time.Date(2026, 5, 10, 15, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "analytics.db"), store.DefaultOptions(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordTurn(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	a := New(s, func() time.Time { return day0 })

	require.NoError(t, a.RecordTurn(ctx, Turn{Tier: store.TierKeyword, Searched: true, SearchCost: 0.01, DecisionLatency: 4 * time.Millisecond}))
	require.NoError(t, a.RecordTurn(ctx, Turn{Tier: store.TierKeyword, Searched: true, CacheHit: true, CostSaved: 0.01, DecisionLatency: 2 * time.Millisecond}))
	require.NoError(t, a.RecordTurn(ctx, Turn{Tier: store.TierSemantic, DecisionLatency: 300 * time.Millisecond}))

	d, err := s.GetDailyStats(ctx, "2026-05-10")
	require.NoError(t, err)
	assert.Equal(t, int64(3), d.TotalRequests)
	assert.Equal(t, int64(2), d.SearchTriggered)
	assert.Equal(t, int64(1), d.CacheHits)
	assert.Equal(t, int64(2), d.KeywordDecisions)
	assert.Equal(t, int64(1), d.SemanticDecisions)
	assert.InDelta(t, 0.01, d.TotalSearchCost, 1e-9)
	assert.InDelta(t, 0.01, d.TotalCostSaved, 1e-9)
	assert.InDelta(t, 102, d.AvgDecisionLatencyMS(), 1e-9)
}

func TestRecordTurn_UsesTurnDate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	a := New(s, func() time.Time { return day0 })

	require.NoError(t, a.RecordTurn(ctx, Turn{At: day0.AddDate(0, 0, -1), Tier: store.TierContext}))
	d, err := s.GetDailyStats(ctx, "2026-05-09")
	require.NoError(t, err)
	assert.Equal(t, int64(1), d.ContextDecisions)
}

func TestGetAnalytics(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	a := New(s, func() time.Time { return day0 })

	for i := 0; i < 3; i++ {
		require.NoError(t, a.RecordTurn(ctx, Turn{At: day0.AddDate(0, 0, -i), Tier: store.TierKeyword, Searched: true, SearchCost: 0.01, DecisionLatency: 10 * time.Millisecond}))
	}
	require.NoError(t, a.RecordTurn(ctx, Turn{At: day0, Tier: store.TierSemantic, DecisionLatency: 30 * time.Millisecond}))
	require.NoError(t, a.RecordTurn(ctx, Turn{At: day0, Tier: store.TierKeyword, Searched: true, CacheHit: true, CostSaved: 0.01}))
	// Outside the default range.
	require.NoError(t, a.RecordTurn(ctx, Turn{At: day0.AddDate(0, 0, -10), Tier: store.TierKeyword}))

	require.NoError(t, s.AddCostEntry(ctx, &store.CostLedgerEntry{
		ModelTier: store.ModelCheap, RequestClass: store.ClassSimple, InputTokens: 100, OutputTokens: 50,
		TotalCost: 0.002, CacheSavings: 0.0001, CreatedAt: day0,
	}))
	require.NoError(t, s.AddCostEntry(ctx, &store.CostLedgerEntry{
		ModelTier: store.ModelCheap, RequestClass: store.ClassCompression, InputTokens: 1000, OutputTokens: 200,
		TotalCost: 0.0016, CreatedAt: day0.Add(-time.Hour),
	}))
	require.NoError(t, s.AddCostEntry(ctx, &store.CostLedgerEntry{
		ModelTier: store.ModelStrong, RequestClass: store.ClassComplex, TotalCost: 5, CreatedAt: day0.AddDate(0, 0, -30),
	}))

	rep, err := a.GetAnalytics(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)

	assert.Equal(t, "2026-05-04", rep.From)
	assert.Equal(t, "2026-05-10", rep.To)
	require.Len(t, rep.Daily, 3)
	assert.Equal(t, "2026-05-08", rep.Daily[0].Date)
	assert.Equal(t, "2026-05-10", rep.Daily[2].Date)
	assert.Equal(t, int64(3), rep.Daily[2].TotalRequests)

	sum := rep.Summary
	assert.Equal(t, int64(5), sum.TotalRequests)
	assert.Equal(t, int64(4), sum.SearchTriggered)
	assert.Equal(t, int64(1), sum.CacheHits)
	assert.InDelta(t, 0.8, sum.SearchRate, 1e-9)
	assert.InDelta(t, 0.25, sum.CacheHitRate, 1e-9)
	assert.InDelta(t, 0.03, sum.TotalSearchCost, 1e-9)
	assert.InDelta(t, 0.01, sum.TotalCostSaved, 1e-9)
	assert.InDelta(t, 12, sum.AvgDecisionLatencyMS, 1e-9)
	assert.InDelta(t, 0.0036, sum.LLMCost, 1e-9)
	assert.InDelta(t, 0.0336, sum.TotalCost, 1e-9)

	assert.Equal(t, int64(4), rep.TierDistribution[store.TierKeyword].Count)
	assert.InDelta(t, 80, rep.TierDistribution[store.TierKeyword].Percent, 1e-9)
	assert.Equal(t, int64(1), rep.TierDistribution[store.TierSemantic].Count)
	assert.InDelta(t, 20, rep.TierDistribution[store.TierSemantic].Percent, 1e-9)
	assert.Equal(t, TierShare{}, rep.TierDistribution[store.TierContext])

	require.Len(t, rep.Costs, 2)
	assert.Equal(t, store.ClassCompression, rep.Costs[0].RequestClass)
	assert.Equal(t, store.ClassSimple, rep.Costs[1].RequestClass)
}

func TestGetAnalytics_Empty(t *testing.T) {
	a := New(newTestStore(t), func() time.Time { return day0 })
	rep, err := a.GetAnalytics(context.Background(), day0, day0)
	require.NoError(t, err)
	assert.Equal(t, "2026-05-10", rep.From)
	assert.Empty(t, rep.Daily)
	assert.NotNil(t, rep.Daily)
	assert.Zero(t, rep.Summary.CacheHitRate)
	assert.Len(t, rep.TierDistribution, 3)
}

func TestGetAnalytics_InvalidRange(t *testing.T) {
	a := New(newTestStore(t), func() time.Time { return day0 })
	_, err := a.GetAnalytics(context.Background(), day0, day0.AddDate(0, 0, -1))
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestCollector(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	a := New(s, func() time.Time { return day0 })

	require.NoError(t, a.RecordTurn(ctx, Turn{Tier: store.TierKeyword, Searched: true, SearchCost: 0.01}))
	require.NoError(t, a.RecordTurn(ctx, Turn{Tier: store.TierKeyword, Searched: true, CacheHit: true, CostSaved: 0.01}))
	require.NoError(t, s.AddCostEntry(ctx, &store.CostLedgerEntry{RequestClass: store.ClassSimple, TotalCost: 0.5, CreatedAt: day0}))

	c := NewCollector(a, nil)
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))

	expected := `
# HELP costgate_today_cache_hits Turns served from the result cache today
# TYPE costgate_today_cache_hits gauge
costgate_today_cache_hits 1
# HELP costgate_today_llm_cost_usd LLM spend today in USD
# TYPE costgate_today_llm_cost_usd gauge
costgate_today_llm_cost_usd 0.5
# HELP costgate_today_requests Chat turns handled today (UTC)
# TYPE costgate_today_requests gauge
costgate_today_requests 2
# HELP costgate_today_searches Turns answered with search results today
# TYPE costgate_today_searches gauge
costgate_today_searches 2
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"costgate_today_cache_hits", "costgate_today_llm_cost_usd", "costgate_today_requests", "costgate_today_searches"))
	assert.Equal(t, 6, testutil.CollectAndCount(c))
}

func TestCollector_EmptyDay(t *testing.T) {
	a := New(newTestStore(t), func() time.Time { return day0 })
	assert.Equal(t, 6, testutil.CollectAndCount(NewCollector(a, nil)))
}
