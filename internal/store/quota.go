package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetQuota returns a user's quota record or ErrNotFound.
func (s *SQLiteStore) GetQuota(ctx context.Context, userID string) (*QuotaRecord, error) {
	var (
		q                 QuotaRecord
		lastHour, lastDay int64
	)
	err := s.readDB.QueryRowContext(ctx,
		`SELECT user_id, tier, hourly_limit, daily_limit, used_hourly, used_daily,
			last_reset_hour, last_reset_day
		 FROM quotas WHERE user_id = ?`, userID,
	).Scan(&q.UserID, &q.Tier, &q.HourlyLimit, &q.DailyLimit, &q.UsedHourly, &q.UsedDaily,
		&lastHour, &lastDay)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get quota: %w", err)
	}
	q.LastResetHour = fromMillis(lastHour)
	q.LastResetDay = fromMillis(lastDay)
	return &q, nil
}

// CreateQuota inserts a record unless one already exists for the user.
// A concurrent first request for the same user is not an error.
func (s *SQLiteStore) CreateQuota(ctx context.Context, q *QuotaRecord) error {
	_, err := s.writeDB.ExecContext(ctx,
		`INSERT INTO quotas (user_id, tier, hourly_limit, daily_limit, used_hourly, used_daily,
			last_reset_hour, last_reset_day)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO NOTHING`,
		q.UserID, q.Tier, q.HourlyLimit, q.DailyLimit, q.UsedHourly, q.UsedDaily,
		toMillis(q.LastResetHour), toMillis(q.LastResetDay))
	if err != nil {
		return fmt.Errorf("failed to create quota: %w", err)
	}
	return nil
}

// SetQuotaTier changes a user's tier and limits without touching usage.
func (s *SQLiteStore) SetQuotaTier(ctx context.Context, userID, tier string, hourly, daily int) error {
	res, err := s.writeDB.ExecContext(ctx,
		`UPDATE quotas SET tier = ?, hourly_limit = ?, daily_limit = ? WHERE user_id = ?`,
		tier, hourly, daily, userID)
	if err != nil {
		return fmt.Errorf("failed to set quota tier: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetQuotaWindow zeroes one counter and moves its marker to now, but only
// if the marker still equals stale. It reports whether this call did the reset.
func (s *SQLiteStore) ResetQuotaWindow(ctx context.Context, userID string, w QuotaWindow, stale, now time.Time) (bool, error) {
	var q string
	switch w {
	case WindowHourly:
		q = `UPDATE quotas SET used_hourly = 0, last_reset_hour = ? WHERE user_id = ? AND last_reset_hour = ?`
	case WindowDaily:
		q = `UPDATE quotas SET used_daily = 0, last_reset_day = ? WHERE user_id = ? AND last_reset_day = ?`
	default:
		return false, fmt.Errorf("unknown quota window %q", w)
	}
	res, err := s.writeDB.ExecContext(ctx, q, toMillis(now), userID, toMillis(stale))
	if err != nil {
		return false, fmt.Errorf("failed to reset %s quota: %w", w, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ConsumeQuota increments both counters if both are below their limits.
// It reports false when the user has no headroom left.
func (s *SQLiteStore) ConsumeQuota(ctx context.Context, userID string) (bool, error) {
	res, err := s.writeDB.ExecContext(ctx,
		`UPDATE quotas SET used_hourly = used_hourly + 1, used_daily = used_daily + 1
		 WHERE user_id = ? AND used_hourly < hourly_limit AND used_daily < daily_limit`,
		userID)
	if err != nil {
		return false, fmt.Errorf("failed to consume quota: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
