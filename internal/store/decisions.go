package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateDecision persists a decision, assigning an id when empty.
func (s *SQLiteStore) CreateDecision(ctx context.Context, d *DecisionRecord) error {
	if d.ID == "" {
		d.ID = newID()
	}
	d.CreatedAt = nowIfZero(d.CreatedAt)

	_, err := s.writeDB.ExecContext(ctx,
		`INSERT INTO decisions (id, conversation_id, user_id, message_text, need_search, confidence,
			reason, search_type, decision_tier, latency_ms, search_executed, cache_hit,
			quota_exceeded, search_cost, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.ConversationID, d.UserID, d.MessageText, boolInt(d.NeedSearch), d.Confidence,
		d.Reason, string(d.SearchType), string(d.Tier), d.LatencyMS, boolInt(d.SearchExecuted),
		boolInt(d.CacheHit), boolInt(d.QuotaExceeded), d.SearchCost, toMillis(d.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert decision: %w", err)
	}
	return nil
}

// UpdateDecisionOutcome records what the orchestrator did with a decision.
func (s *SQLiteStore) UpdateDecisionOutcome(ctx context.Context, id string, o DecisionOutcome) error {
	res, err := s.writeDB.ExecContext(ctx,
		`UPDATE decisions SET search_executed = ?, cache_hit = ?, quota_exceeded = ?, search_cost = ?
		 WHERE id = ?`,
		boolInt(o.SearchExecuted), boolInt(o.CacheHit), boolInt(o.QuotaExceeded), o.SearchCost, id)
	if err != nil {
		return fmt.Errorf("failed to update decision: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const decisionColumns = `id, conversation_id, user_id, message_text, need_search, confidence, reason,
	search_type, decision_tier, latency_ms, search_executed, cache_hit, quota_exceeded, search_cost, created_at`

func scanDecision(row interface{ Scan(...any) error }) (*DecisionRecord, error) {
	var (
		d                                             DecisionRecord
		needSearch, executed, cacheHit, quotaExceeded int
		searchType, tier                              string
		created                                       int64
	)
	err := row.Scan(&d.ID, &d.ConversationID, &d.UserID, &d.MessageText, &needSearch, &d.Confidence,
		&d.Reason, &searchType, &tier, &d.LatencyMS, &executed, &cacheHit, &quotaExceeded,
		&d.SearchCost, &created)
	if err != nil {
		return nil, err
	}
	d.NeedSearch = needSearch != 0
	d.SearchExecuted = executed != 0
	d.CacheHit = cacheHit != 0
	d.QuotaExceeded = quotaExceeded != 0
	d.SearchType = SearchType(searchType)
	d.Tier = DecisionTier(tier)
	d.CreatedAt = fromMillis(created)
	return &d, nil
}

// GetDecision returns a decision by id or ErrNotFound.
func (s *SQLiteStore) GetDecision(ctx context.Context, id string) (*DecisionRecord, error) {
	d, err := scanDecision(s.readDB.QueryRowContext(ctx,
		`SELECT `+decisionColumns+` FROM decisions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get decision: %w", err)
	}
	return d, nil
}

// LatestDecision returns the most recent decision in a conversation or ErrNotFound.
func (s *SQLiteStore) LatestDecision(ctx context.Context, conversationID string) (*DecisionRecord, error) {
	d, err := scanDecision(s.readDB.QueryRowContext(ctx,
		`SELECT `+decisionColumns+` FROM decisions WHERE conversation_id = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT 1`, conversationID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest decision: %w", err)
	}
	return d, nil
}

// DeleteDecisionsBefore removes decisions created before cutoff.
func (s *SQLiteStore) DeleteDecisionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.writeDB.ExecContext(ctx, `DELETE FROM decisions WHERE created_at < ?`, toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to delete decisions: %w", err)
	}
	return res.RowsAffected()
}
