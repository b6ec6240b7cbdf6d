package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// AddDailyStats adds delta to the row for delta.Date, creating it if needed.
func (s *SQLiteStore) AddDailyStats(ctx context.Context, delta DailyStatistics) error {
	if delta.Date == "" {
		return errors.New("daily statistics date is required")
	}
	_, err := s.writeDB.ExecContext(ctx,
		`INSERT INTO daily_stats (date, total_requests, search_triggered, cache_hits,
			keyword_decisions, semantic_decisions, context_decisions,
			total_search_cost, total_cost_saved, total_latency_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(date) DO UPDATE SET
			total_requests = total_requests + excluded.total_requests,
			search_triggered = search_triggered + excluded.search_triggered,
			cache_hits = cache_hits + excluded.cache_hits,
			keyword_decisions = keyword_decisions + excluded.keyword_decisions,
			semantic_decisions = semantic_decisions + excluded.semantic_decisions,
			context_decisions = context_decisions + excluded.context_decisions,
			total_search_cost = total_search_cost + excluded.total_search_cost,
			total_cost_saved = total_cost_saved + excluded.total_cost_saved,
			total_latency_ms = total_latency_ms + excluded.total_latency_ms`,
		delta.Date, delta.TotalRequests, delta.SearchTriggered, delta.CacheHits,
		delta.KeywordDecisions, delta.SemanticDecisions, delta.ContextDecisions,
		delta.TotalSearchCost, delta.TotalCostSaved, delta.TotalLatencyMS)
	if err != nil {
		return fmt.Errorf("failed to upsert daily statistics: %w", err)
	}
	return nil
}

const statsColumns = `date, total_requests, search_triggered, cache_hits, keyword_decisions,
	semantic_decisions, context_decisions, total_search_cost, total_cost_saved, total_latency_ms`

func scanStats(row interface{ Scan(...any) error }) (DailyStatistics, error) {
	var d DailyStatistics
	err := row.Scan(&d.Date, &d.TotalRequests, &d.SearchTriggered, &d.CacheHits,
		&d.KeywordDecisions, &d.SemanticDecisions, &d.ContextDecisions,
		&d.TotalSearchCost, &d.TotalCostSaved, &d.TotalLatencyMS)
	return d, err
}

// GetDailyStats returns one day's statistics or ErrNotFound.
func (s *SQLiteStore) GetDailyStats(ctx context.Context, date string) (DailyStatistics, error) {
	d, err := scanStats(s.readDB.QueryRowContext(ctx,
		`SELECT `+statsColumns+` FROM daily_stats WHERE date = ?`, date))
	if errors.Is(err, sql.ErrNoRows) {
		return DailyStatistics{}, ErrNotFound
	}
	if err != nil {
		return DailyStatistics{}, fmt.Errorf("failed to get daily statistics: %w", err)
	}
	return d, nil
}

// ListDailyStats returns rows with from <= date <= to, oldest first.
func (s *SQLiteStore) ListDailyStats(ctx context.Context, from, to string) ([]DailyStatistics, error) {
	rows, err := s.readDB.QueryContext(ctx,
		`SELECT `+statsColumns+` FROM daily_stats WHERE date >= ? AND date <= ? ORDER BY date ASC`,
		from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list daily statistics: %w", err)
	}
	defer rows.Close()

	var out []DailyStatistics
	for rows.Next() {
		d, err := scanStats(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan daily statistics: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DeleteStatsBefore removes rows dated strictly before date.
func (s *SQLiteStore) DeleteStatsBefore(ctx context.Context, date string) (int64, error) {
	res, err := s.writeDB.ExecContext(ctx, `DELETE FROM daily_stats WHERE date < ?`, date)
	if err != nil {
		return 0, fmt.Errorf("failed to delete daily statistics: %w", err)
	}
	return res.RowsAffected()
}

// AddCostEntry appends a cost ledger entry.
func (s *SQLiteStore) AddCostEntry(ctx context.Context, e *CostLedgerEntry) error {
	if e.ID == "" {
		e.ID = newID()
	}
	e.CreatedAt = nowIfZero(e.CreatedAt)
	_, err := s.writeDB.ExecContext(ctx,
		`INSERT INTO cost_ledger (id, conversation_id, user_id, model, model_tier, input_tokens,
			output_tokens, cached_tokens, cache_creation_tokens, total_cost, cache_savings,
			request_class, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ConversationID, e.UserID, e.Model, string(e.ModelTier), e.InputTokens,
		e.OutputTokens, e.CachedTokens, e.CacheCreationTokens, e.TotalCost, e.CacheSavings,
		string(e.RequestClass), toMillis(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert cost entry: %w", err)
	}
	return nil
}

// CostTotalsBetween sums ledger entries with from <= created_at < to, per request class.
func (s *SQLiteStore) CostTotalsBetween(ctx context.Context, from, to time.Time) ([]CostTotals, error) {
	rows, err := s.readDB.QueryContext(ctx,
		`SELECT request_class, COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0),
			COALESCE(SUM(cached_tokens), 0), COALESCE(SUM(total_cost), 0), COALESCE(SUM(cache_savings), 0)
		 FROM cost_ledger WHERE created_at >= ? AND created_at < ?
		 GROUP BY request_class ORDER BY request_class`,
		toMillis(from), toMillis(to))
	if err != nil {
		return nil, fmt.Errorf("failed to sum cost ledger: %w", err)
	}
	defer rows.Close()

	var out []CostTotals
	for rows.Next() {
		var (
			t     CostTotals
			class string
		)
		if err := rows.Scan(&class, &t.Calls, &t.InputTokens, &t.OutputTokens, &t.CachedTokens,
			&t.TotalCost, &t.CacheSavings); err != nil {
			return nil, fmt.Errorf("failed to scan cost totals: %w", err)
		}
		t.RequestClass = RequestClass(class)
		out = append(out, t)
	}
	return out, rows.Err()
}
