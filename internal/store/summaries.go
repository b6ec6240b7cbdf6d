package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// CreateSummary stores a new summary. Older summaries are kept; readers pick
// the one covering the most messages.
func (s *SQLiteStore) CreateSummary(ctx context.Context, sum *ConversationSummary) error {
	if sum.ID == "" {
		sum.ID = newID()
	}
	sum.CreatedAt = nowIfZero(sum.CreatedAt)
	topics, err := json.Marshal(sum.KeyTopics)
	if err != nil {
		return fmt.Errorf("failed to encode key topics: %w", err)
	}

	_, err = s.writeDB.ExecContext(ctx,
		`INSERT INTO summaries (id, conversation_id, summary_text, covered_message_count,
			summary_tokens, original_tokens, compression_ratio, key_topics, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sum.ID, sum.ConversationID, sum.SummaryText, sum.CoveredMessageCount,
		sum.SummaryTokens, sum.OriginalTokens, sum.CompressionRatio, string(topics),
		toMillis(sum.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert summary: %w", err)
	}
	return nil
}

// LatestSummary returns the summary with the highest coverage not exceeding
// maxCovered messages, or ErrNotFound.
func (s *SQLiteStore) LatestSummary(ctx context.Context, conversationID string, maxCovered int) (*ConversationSummary, error) {
	var (
		sum     ConversationSummary
		topics  string
		created int64
	)
	err := s.readDB.QueryRowContext(ctx,
		`SELECT id, conversation_id, summary_text, covered_message_count, summary_tokens,
			original_tokens, compression_ratio, key_topics, created_at
		 FROM summaries
		 WHERE conversation_id = ? AND covered_message_count <= ?
		 ORDER BY covered_message_count DESC, created_at DESC LIMIT 1`,
		conversationID, maxCovered,
	).Scan(&sum.ID, &sum.ConversationID, &sum.SummaryText, &sum.CoveredMessageCount,
		&sum.SummaryTokens, &sum.OriginalTokens, &sum.CompressionRatio, &topics, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get summary: %w", err)
	}
	if err := json.Unmarshal([]byte(topics), &sum.KeyTopics); err != nil {
		return nil, fmt.Errorf("failed to decode key topics: %w", err)
	}
	sum.CreatedAt = fromMillis(created)
	return &sum, nil
}

// CountSummaries returns how many summaries a conversation has.
func (s *SQLiteStore) CountSummaries(ctx context.Context, conversationID string) (int, error) {
	var n int
	err := s.readDB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM summaries WHERE conversation_id = ?`, conversationID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count summaries: %w", err)
	}
	return n, nil
}
