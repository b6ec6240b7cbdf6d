package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const cacheColumns = `query_hash, normalized_query, original_query, search_type, payload,
	hit_count, cost_saved, created_at, expires_at`

func scanCacheEntry(row interface{ Scan(...any) error }) (*CacheEntry, error) {
	var (
		e                CacheEntry
		searchType       string
		created, expires int64
	)
	if err := row.Scan(&e.QueryHash, &e.NormalizedQuery, &e.OriginalQuery, &searchType, &e.Payload,
		&e.HitCount, &e.CostSaved, &created, &expires); err != nil {
		return nil, err
	}
	e.SearchType = SearchType(searchType)
	e.CreatedAt = fromMillis(created)
	e.ExpiresAt = fromMillis(expires)
	return &e, nil
}

// PutCacheEntry stores or replaces the entry for its hash. Replacing keeps
// the accumulated hit count and savings.
func (s *SQLiteStore) PutCacheEntry(ctx context.Context, e *CacheEntry) error {
	e.CreatedAt = nowIfZero(e.CreatedAt)
	_, err := s.writeDB.ExecContext(ctx,
		`INSERT INTO cache_entries (`+cacheColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(query_hash) DO UPDATE SET
			normalized_query = excluded.normalized_query,
			original_query = excluded.original_query,
			payload = excluded.payload,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at`,
		e.QueryHash, e.NormalizedQuery, e.OriginalQuery, string(e.SearchType), e.Payload,
		e.HitCount, e.CostSaved, toMillis(e.CreatedAt), toMillis(e.ExpiresAt))
	if err != nil {
		return fmt.Errorf("failed to store cache entry: %w", err)
	}
	return nil
}

// GetCacheEntry returns the entry for hash regardless of expiry, or ErrNotFound.
func (s *SQLiteStore) GetCacheEntry(ctx context.Context, hash string) (*CacheEntry, error) {
	e, err := scanCacheEntry(s.readDB.QueryRowContext(ctx,
		`SELECT `+cacheColumns+` FROM cache_entries WHERE query_hash = ?`, hash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}
	return e, nil
}

// RecentCacheEntries returns up to limit unexpired entries of one search type,
// newest first.
func (s *SQLiteStore) RecentCacheEntries(ctx context.Context, searchType SearchType, now time.Time, limit int) ([]*CacheEntry, error) {
	rows, err := s.readDB.QueryContext(ctx,
		`SELECT `+cacheColumns+` FROM cache_entries
		 WHERE search_type = ? AND expires_at > ?
		 ORDER BY created_at DESC LIMIT ?`,
		string(searchType), toMillis(now), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache entries: %w", err)
	}
	defer rows.Close()

	var entries []*CacheEntry
	for rows.Next() {
		e, err := scanCacheEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cache entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RecordCacheHit increments the hit count and savings of an unexpired entry.
// It reports false when the entry is gone or expired at now.
func (s *SQLiteStore) RecordCacheHit(ctx context.Context, hash string, saved float64, now time.Time) (bool, error) {
	res, err := s.writeDB.ExecContext(ctx,
		`UPDATE cache_entries SET hit_count = hit_count + 1, cost_saved = cost_saved + ?
		 WHERE query_hash = ? AND expires_at > ?`,
		saved, hash, toMillis(now))
	if err != nil {
		return false, fmt.Errorf("failed to record cache hit: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeleteCacheEntry removes one entry. Deleting a missing entry is not an error.
func (s *SQLiteStore) DeleteCacheEntry(ctx context.Context, hash string) error {
	if _, err := s.writeDB.ExecContext(ctx, `DELETE FROM cache_entries WHERE query_hash = ?`, hash); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// DeleteExpiredCacheEntries removes every entry whose expiry is at or before now.
func (s *SQLiteStore) DeleteExpiredCacheEntries(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.writeDB.ExecContext(ctx, `DELETE FROM cache_entries WHERE expires_at <= ?`, toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired cache entries: %w", err)
	}
	return res.RowsAffected()
}
