package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "costgate.db"), DefaultOptions(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open("", DefaultOptions(), nil)
	require.Error(t, err)
}

func TestConversationsAndMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv := &Conversation{UserID: "u1", CreatedAt: t0}
	require.NoError(t, s.CreateConversation(ctx, conv))
	require.NotEmpty(t, conv.ID)

	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
	assert.True(t, got.CreatedAt.Equal(t0))

	require.NoError(t, s.AppendMessages(ctx, conv.ID,
		Message{Role: "user", Content: "hi", CreatedAt: t0},
		Message{Role: "assistant", Content: "hello", CreatedAt: t0.Add(time.Second)},
	))
	msgs, err := s.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "hello", msgs[1].Content)
	assert.Less(t, msgs[0].ID, msgs[1].ID)

	got, err = s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.Equal(t0.Add(time.Second)))

	_, err = s.GetConversation(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.AppendMessages(ctx, "missing", Message{Role: "user", Content: "x"}), ErrNotFound)
}

func TestDecisions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := &DecisionRecord{
		ConversationID: "c1", UserID: "u1", MessageText: "weather today",
		NeedSearch: true, Confidence: 0.95, Reason: "today", SearchType: SearchGeneral,
		Tier: TierKeyword, LatencyMS: 2, CreatedAt: t0,
	}
	second := &DecisionRecord{
		ConversationID: "c1", UserID: "u1", MessageText: "write a poem",
		Confidence: 0.9, Reason: "poem", SearchType: SearchNone, Tier: TierKeyword, CreatedAt: t0,
	}
	require.NoError(t, s.CreateDecision(ctx, first))
	require.NoError(t, s.CreateDecision(ctx, second))

	latest, err := s.LatestDecision(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID, "ties on created_at resolve by insertion order")

	require.NoError(t, s.UpdateDecisionOutcome(ctx, first.ID, DecisionOutcome{
		SearchExecuted: true, SearchCost: 0.01,
	}))
	got, err := s.GetDecision(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, got.NeedSearch)
	assert.True(t, got.SearchExecuted)
	assert.False(t, got.CacheHit)
	assert.Equal(t, TierKeyword, got.Tier)
	assert.InDelta(t, 0.01, got.SearchCost, 1e-9)

	assert.ErrorIs(t, s.UpdateDecisionOutcome(ctx, "missing", DecisionOutcome{}), ErrNotFound)
	_, err = s.LatestDecision(ctx, "other")
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := s.DeleteDecisionsBefore(ctx, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestCacheEntries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	live := &CacheEntry{
		QueryHash: "h1", NormalizedQuery: "go release notes", OriginalQuery: "Go release notes?",
		SearchType: SearchGeneral, Payload: []byte(`{"results":[]}`),
		CreatedAt: t0, ExpiresAt: t0.Add(30 * time.Minute),
	}
	stale := &CacheEntry{
		QueryHash: "h2", NormalizedQuery: "old", OriginalQuery: "old",
		SearchType: SearchGeneral, Payload: []byte(`{}`),
		CreatedAt: t0.Add(-time.Hour), ExpiresAt: t0.Add(-time.Minute),
	}
	require.NoError(t, s.PutCacheEntry(ctx, live))
	require.NoError(t, s.PutCacheEntry(ctx, stale))

	got, err := s.GetCacheEntry(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, live.Payload, got.Payload)
	assert.False(t, got.Expired(t0))
	assert.True(t, got.Expired(t0.Add(30*time.Minute)))

	recent, err := s.RecentCacheEntries(ctx, SearchGeneral, t0, 50)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "h1", recent[0].QueryHash)

	ok, err := s.RecordCacheHit(ctx, "h1", 0.01, t0)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.RecordCacheHit(ctx, "h2", 0.01, t0)
	require.NoError(t, err)
	assert.False(t, ok, "expired entries do not count hits")

	got, err = s.GetCacheEntry(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.HitCount)
	assert.InDelta(t, 0.01, got.CostSaved, 1e-9)

	// Replacing keeps counters.
	live.Payload = []byte(`{"results":[1]}`)
	require.NoError(t, s.PutCacheEntry(ctx, live))
	got, err = s.GetCacheEntry(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.HitCount)
	assert.Equal(t, `{"results":[1]}`, string(got.Payload))

	n, err := s.DeleteExpiredCacheEntries(ctx, t0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	_, err = s.GetCacheEntry(ctx, "h2")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.DeleteCacheEntry(ctx, "h1"))
	require.NoError(t, s.DeleteCacheEntry(ctx, "h1"))
}

func TestSummaries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateSummary(ctx, &ConversationSummary{
		ConversationID: "c1", SummaryText: "first", CoveredMessageCount: 4,
		KeyTopics: []string{"go"}, CreatedAt: t0,
	}))
	require.NoError(t, s.CreateSummary(ctx, &ConversationSummary{
		ConversationID: "c1", SummaryText: "second", CoveredMessageCount: 10,
		KeyTopics: []string{"go", "sqlite"}, CompressionRatio: 0.2, CreatedAt: t0.Add(time.Minute),
	}))

	got, err := s.LatestSummary(ctx, "c1", 12)
	require.NoError(t, err)
	assert.Equal(t, "second", got.SummaryText)
	assert.Equal(t, []string{"go", "sqlite"}, got.KeyTopics)

	got, err = s.LatestSummary(ctx, "c1", 6)
	require.NoError(t, err)
	assert.Equal(t, "first", got.SummaryText)

	_, err = s.LatestSummary(ctx, "c1", 3)
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := s.CountSummaries(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestQuota(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &QuotaRecord{UserID: "u1", Tier: "free", HourlyLimit: 2, DailyLimit: 3,
		LastResetHour: t0, LastResetDay: t0}
	require.NoError(t, s.CreateQuota(ctx, rec))
	require.NoError(t, s.CreateQuota(ctx, rec), "second create is a no-op")

	for i := 0; i < 2; i++ {
		ok, err := s.ConsumeQuota(ctx, "u1")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := s.ConsumeQuota(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok, "hourly limit reached")

	reset, err := s.ResetQuotaWindow(ctx, "u1", WindowHourly, t0, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, reset)
	reset, err = s.ResetQuotaWindow(ctx, "u1", WindowHourly, t0, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, reset, "stale marker no longer matches")

	got, err := s.GetQuota(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.UsedHourly)
	assert.Equal(t, 2, got.UsedDaily)
	assert.True(t, got.LastResetHour.Equal(t0.Add(time.Hour)))

	ok, err = s.ConsumeQuota(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.ConsumeQuota(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok, "daily limit reached")

	require.NoError(t, s.SetQuotaTier(ctx, "u1", "premium", 100, 1000))
	got, err = s.GetQuota(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "premium", got.Tier)
	assert.Equal(t, 3, got.UsedDaily)

	_, err = s.GetQuota(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDailyStats_ConcurrentIncrements(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.AddDailyStats(ctx, DailyStatistics{
				Date: "2026-03-14", TotalRequests: 1, SearchTriggered: 1,
				KeywordDecisions: 1, TotalSearchCost: 0.01, TotalLatencyMS: 4,
			}))
		}()
	}
	wg.Wait()

	got, err := s.GetDailyStats(ctx, "2026-03-14")
	require.NoError(t, err)
	assert.EqualValues(t, 20, got.TotalRequests)
	assert.EqualValues(t, 20, got.KeywordDecisions)
	assert.InDelta(t, 0.2, got.TotalSearchCost, 1e-9)
	assert.InDelta(t, 4.0, got.AvgDecisionLatencyMS(), 1e-9)

	require.NoError(t, s.AddDailyStats(ctx, DailyStatistics{Date: "2026-01-01", TotalRequests: 1}))
	rows, err := s.ListDailyStats(ctx, "2026-03-01", "2026-03-31")
	require.NoError(t, err)
	require.Len(t, rows, 1)

	n, err := s.DeleteStatsBefore(ctx, "2026-02-01")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	assert.Error(t, s.AddDailyStats(ctx, DailyStatistics{}))
	_, err = s.GetDailyStats(ctx, "1999-01-01")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCostLedger(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	entries := []*CostLedgerEntry{
		{UserID: "u1", Model: "m", ModelTier: ModelCheap, InputTokens: 100, OutputTokens: 10,
			TotalCost: 0.001, RequestClass: ClassSimple, CreatedAt: t0},
		{UserID: "u1", Model: "m", ModelTier: ModelCheap, InputTokens: 50, OutputTokens: 5,
			CachedTokens: 40, TotalCost: 0.0005, CacheSavings: 0.0001, RequestClass: ClassSimple, CreatedAt: t0},
		{UserID: "u1", Model: "m", ModelTier: ModelCheap, InputTokens: 900, OutputTokens: 200,
			TotalCost: 0.002, RequestClass: ClassCompression, CreatedAt: t0},
		{UserID: "u1", Model: "m", ModelTier: ModelCheap, TotalCost: 9, RequestClass: ClassSimple,
			CreatedAt: t0.Add(48 * time.Hour)},
	}
	for _, e := range entries {
		require.NoError(t, s.AddCostEntry(ctx, e))
	}

	totals, err := s.CostTotalsBetween(ctx, t0.Add(-time.Hour), t0.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, totals, 2)
	assert.Equal(t, ClassCompression, totals[0].RequestClass)
	assert.EqualValues(t, 1, totals[0].Calls)
	assert.Equal(t, ClassSimple, totals[1].RequestClass)
	assert.EqualValues(t, 2, totals[1].Calls)
	assert.EqualValues(t, 150, totals[1].InputTokens)
	assert.EqualValues(t, 40, totals[1].CachedTokens)
	assert.InDelta(t, 0.0015, totals[1].TotalCost, 1e-9)
}
