package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/costgate/internal/analytics"
	"github.com/fyrsmithlabs/costgate/internal/config"
	"github.com/fyrsmithlabs/costgate/internal/maintenance"
	"github.com/fyrsmithlabs/costgate/internal/store"
)

// isolate points config discovery and the store at a temp dir.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	dbPath := filepath.Join(home, "costgate.db")
	t.Setenv("HOME", home)
	t.Setenv("STORE_PATH", dbPath)
	t.Setenv("OBSERVABILITY_LOG_LEVEL", "error")
	configPath = ""
	return dbPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
		analyticsFrom, analyticsTo, analyticsJSON = "", "", false
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "costgate dev")
	assert.Contains(t, out, "Git commit: unknown")
	assert.Contains(t, out, "Go version:")
}

func TestSweepCommand(t *testing.T) {
	dbPath := isolate(t)

	s, err := store.Open(dbPath, store.DefaultOptions(), nil)
	require.NoError(t, err)
	old := time.Now().UTC().AddDate(0, 0, -120).Format(store.DateLayout)
	require.NoError(t, s.AddDailyStats(context.Background(), store.DailyStatistics{Date: old, TotalRequests: 3}))
	require.NoError(t, s.Close())

	out, err := execute(t, "sweep")
	require.NoError(t, err)

	var report maintenance.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, int64(1), report.StatsDeleted)
	assert.False(t, report.RanAt.IsZero())
}

func TestAnalyticsCommand(t *testing.T) {
	dbPath := isolate(t)

	s, err := store.Open(dbPath, store.DefaultOptions(), nil)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.AddDailyStats(ctx, store.DailyStatistics{
		Date: "2026-10-02", TotalRequests: 4, SearchTriggered: 2, CacheHits: 1,
		KeywordDecisions: 3, SemanticDecisions: 1, TotalSearchCost: 0.01, TotalCostSaved: 0.01,
	}))
	require.NoError(t, s.Close())

	t.Run("json", func(t *testing.T) {
		out, err := execute(t, "analytics", "--from", "2026-10-01", "--to", "2026-10-07", "--json")
		require.NoError(t, err)

		var report analytics.Report
		require.NoError(t, json.Unmarshal([]byte(out), &report))
		assert.Equal(t, "2026-10-01", report.From)
		assert.Equal(t, "2026-10-07", report.To)
		assert.Equal(t, int64(4), report.Summary.TotalRequests)
		assert.Equal(t, int64(2), report.Summary.SearchTriggered)
		assert.InDelta(t, 0.5, report.Summary.CacheHitRate, 1e-9)
	})

	t.Run("table", func(t *testing.T) {
		out, err := execute(t, "analytics", "--from", "2026-10-01", "--to", "2026-10-07")
		require.NoError(t, err)
		assert.Contains(t, out, "Analytics 2026-10-01 to 2026-10-07")
		assert.Contains(t, out, "Requests:          4")
		assert.Contains(t, out, "2026-10-02")
		assert.Contains(t, out, "keyword")
	})

	t.Run("invalid date", func(t *testing.T) {
		_, err := execute(t, "analytics", "--from", "10/01/2026")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid --from")
	})

	t.Run("inverted range", func(t *testing.T) {
		_, err := execute(t, "analytics", "--from", "2026-10-07", "--to", "2026-10-01")
		require.ErrorIs(t, err, analytics.ErrInvalidRange)
	})
}

func TestParseDay(t *testing.T) {
	d, err := parseDay("")
	require.NoError(t, err)
	assert.True(t, d.IsZero())

	d, err = parseDay("2026-10-16")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC), d)

	_, err = parseDay("2026-13-01")
	assert.Error(t, err)
}

func TestPrintReport(t *testing.T) {
	var out bytes.Buffer
	err := printReport(&out, &analytics.Report{
		From: "2026-10-10",
		To:   "2026-10-16",
		Summary: analytics.Summary{
			TotalRequests: 10, SearchTriggered: 4, SearchRate: 0.4, TotalCost: 0.0425,
		},
		Daily: []analytics.Day{{Date: "2026-10-16", TotalRequests: 10, SearchTriggered: 4}},
		TierDistribution: map[store.DecisionTier]analytics.TierShare{
			store.TierSemantic: {Count: 2, Percent: 20},
			store.TierKeyword:  {Count: 8, Percent: 80},
		},
		Costs: []analytics.ClassCost{{RequestClass: store.ClassSimple, Calls: 10, TotalCost: 0.0325}},
	})
	require.NoError(t, err)

	text := out.String()
	assert.Contains(t, text, "Searches:          4 (40.0%)")
	assert.Contains(t, text, "Total cost:        $0.0425")
	assert.Less(t, strings.Index(text, "keyword"), strings.Index(text, "semantic"))
	assert.Contains(t, text, "simple")
	assert.Contains(t, text, "$0.0325")
}

func TestRunServesHealthAndMetrics(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	isolate(t)
	t.Setenv("SERVER_HTTP_PORT", "18093")
	t.Setenv("LLM_API_KEY", "sk-test-value")
	t.Setenv("SEARCH_PROVIDER", "none")
	t.Setenv("SECRETS_ENABLED", "false")

	cfg, err := config.LoadWithFile("")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, cfg)
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://localhost:18093/health")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)

	resp, err := http.Get("http://localhost:18093/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "costgate_today_requests")
	assert.Contains(t, string(body), "go_goroutines")

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down in time")
	}
}

func TestRunRequiresAPIKey(t *testing.T) {
	isolate(t)
	t.Setenv("SEARCH_PROVIDER", "none")
	t.Setenv("LLM_API_KEY", "")

	cfg, err := config.LoadWithFile("")
	require.NoError(t, err)

	err = run(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm client")
}
