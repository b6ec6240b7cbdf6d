// Package maintenance deletes expired cache entries and old telemetry.
//
// A sweep only removes rows that are already past their expiry or
// retention window, so it is idempotent and safe to run alongside live
// traffic.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/costgate/internal/config"
	"github.com/fyrsmithlabs/costgate/internal/store"
)

// Store is the persistence a sweep needs.
type Store interface {
	DeleteExpiredCacheEntries(ctx context.Context, now time.Time) (int64, error)
	DeleteDecisionsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteStatsBefore(ctx context.Context, date string) (int64, error)
}

// Report counts what one sweep removed.
type Report struct {
	CachesDeleted    int64     `json:"caches_deleted"`
	DecisionsDeleted int64     `json:"decisions_deleted"`
	StatsDeleted     int64     `json:"stats_deleted"`
	RanAt            time.Time `json:"ran_at"`
}

// Sweeper runs sweeps.
type Sweeper struct {
	store             Store
	decisionRetention time.Duration
	statsRetention    time.Duration
	now               func() time.Time
	logger            *zap.Logger
}

// NewSweeper creates a sweeper with the configured retention windows.
func NewSweeper(s Store, cfg config.MaintenanceConfig, logger *zap.Logger, now func() time.Time) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &Sweeper{
		store:             s,
		decisionRetention: cfg.DecisionRetention,
		statsRetention:    cfg.StatsRetention,
		now:               now,
		logger:            logger,
	}
}

// Sweep deletes expired cache entries, decisions older than the decision
// retention and daily statistics older than the statistics retention.
// Each step runs even if an earlier one failed; the counts of the steps
// that succeeded are returned with the joined error.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	now := s.now()
	rep := Report{RanAt: now}
	var errs []error

	n, err := s.store.DeleteExpiredCacheEntries(ctx, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("cache entries: %w", err))
	}
	rep.CachesDeleted = n

	if s.decisionRetention > 0 {
		n, err = s.store.DeleteDecisionsBefore(ctx, now.Add(-s.decisionRetention))
		if err != nil {
			errs = append(errs, fmt.Errorf("decisions: %w", err))
		}
		rep.DecisionsDeleted = n
	}

	if s.statsRetention > 0 {
		cutoff := now.Add(-s.statsRetention).UTC().Format(store.DateLayout)
		n, err = s.store.DeleteStatsBefore(ctx, cutoff)
		if err != nil {
			errs = append(errs, fmt.Errorf("daily statistics: %w", err))
		}
		rep.StatsDeleted = n
	}

	err = errors.Join(errs...)
	fields := []zap.Field{
		zap.Int64("caches_deleted", rep.CachesDeleted),
		zap.Int64("decisions_deleted", rep.DecisionsDeleted),
		zap.Int64("stats_deleted", rep.StatsDeleted),
	}
	if err != nil {
		s.logger.Error("maintenance sweep failed", append(fields, zap.Error(err))...)
		return rep, fmt.Errorf("sweep: %w", err)
	}
	s.logger.Info("maintenance sweep completed", fields...)
	return rep, nil
}
