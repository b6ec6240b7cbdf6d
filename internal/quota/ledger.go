// Package quota implements the per-user search quota ledger.
//
// Each user has an hourly and a daily search counter. Counters reset lazily:
// every call reconciles the stored record against the clock before acting
// on it, so no background timer is involved. The unlimited tier skips
// counting entirely.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/costgate/internal/config"
	"github.com/fyrsmithlabs/costgate/internal/store"
)

// ErrQuotaExceeded is returned by Consume when the user has no headroom left.
var ErrQuotaExceeded = errors.New("search quota exceeded")

// ErrUnknownTier is returned when assigning a tier with no configured limits.
var ErrUnknownTier = errors.New("unknown quota tier")

const (
	hourWindow = time.Hour
	dayWindow  = 24 * time.Hour
)

// Store is the persistence the ledger needs.
type Store interface {
	GetQuota(ctx context.Context, userID string) (*store.QuotaRecord, error)
	CreateQuota(ctx context.Context, q *store.QuotaRecord) error
	SetQuotaTier(ctx context.Context, userID, tier string, hourly, daily int) error
	ResetQuotaWindow(ctx context.Context, userID string, w store.QuotaWindow, stale, now time.Time) (bool, error)
	ConsumeQuota(ctx context.Context, userID string) (bool, error)
}

// Status is the result of a quota check.
type Status struct {
	Allowed   bool
	Tier      string
	Unlimited bool
	// Remaining is the smaller of the hourly and daily headroom, or -1 for
	// unlimited tiers.
	Remaining       int
	RemainingHourly int
	RemainingDaily  int
}

// Ledger enforces per-user search quotas.
type Ledger struct {
	store       Store
	tiers       map[string]config.TierLimits
	defaultTier string
	now         func() time.Time
	logger      *zap.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the ledger's clock.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLogger sets the ledger's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLedger creates a Ledger over s with the configured tiers.
func NewLedger(s Store, cfg config.QuotaConfig, opts ...Option) *Ledger {
	l := &Ledger{
		store:       s,
		tiers:       cfg.Tiers,
		defaultTier: cfg.DefaultTier,
		now:         time.Now,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Reconcile returns the user's record after applying any due resets. Users
// seen for the first time are created on the default tier.
func (l *Ledger) Reconcile(ctx context.Context, userID string) (*store.QuotaRecord, error) {
	now := l.now()

	rec, err := l.store.GetQuota(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		limits := l.tiers[l.defaultTier]
		rec = &store.QuotaRecord{
			UserID:        userID,
			Tier:          l.defaultTier,
			HourlyLimit:   limits.Hourly,
			DailyLimit:    limits.Daily,
			LastResetHour: now,
			LastResetDay:  now,
		}
		if err := l.store.CreateQuota(ctx, rec); err != nil {
			return nil, err
		}
		// Another request may have created it first.
		rec, err = l.store.GetQuota(ctx, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load quota for %s: %w", userID, err)
	}

	limits, ok := l.tiers[rec.Tier]
	if !ok {
		l.logger.Warn("quota tier no longer configured, using default",
			zap.String("user_id", userID), zap.String("tier", rec.Tier))
		limits = l.tiers[l.defaultTier]
	}
	if limits.Unlimited {
		return rec, nil
	}

	stale := false
	if rec.HourlyLimit != limits.Hourly || rec.DailyLimit != limits.Daily {
		if err := l.store.SetQuotaTier(ctx, userID, rec.Tier, limits.Hourly, limits.Daily); err != nil {
			return nil, err
		}
		stale = true
	}
	if now.Sub(rec.LastResetHour) >= hourWindow {
		if _, err := l.store.ResetQuotaWindow(ctx, userID, store.WindowHourly, rec.LastResetHour, now); err != nil {
			return nil, err
		}
		stale = true
	}
	if now.Sub(rec.LastResetDay) >= dayWindow {
		if _, err := l.store.ResetQuotaWindow(ctx, userID, store.WindowDaily, rec.LastResetDay, now); err != nil {
			return nil, err
		}
		stale = true
	}
	if !stale {
		return rec, nil
	}

	rec, err = l.store.GetQuota(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload quota for %s: %w", userID, err)
	}
	return rec, nil
}

// Check reports whether the user may run one more search.
func (l *Ledger) Check(ctx context.Context, userID string) (Status, error) {
	rec, err := l.Reconcile(ctx, userID)
	if err != nil {
		return Status{}, err
	}
	return l.status(rec), nil
}

// Consume records one search. It returns ErrQuotaExceeded when either
// window is exhausted, leaving the counters untouched.
func (l *Ledger) Consume(ctx context.Context, userID string) error {
	rec, err := l.Reconcile(ctx, userID)
	if err != nil {
		return err
	}
	if l.isUnlimited(rec.Tier) {
		return nil
	}

	ok, err := l.store.ConsumeQuota(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrQuotaExceeded
	}
	return nil
}

// SetTier moves a user to another configured tier. Usage is kept.
func (l *Ledger) SetTier(ctx context.Context, userID, tier string) error {
	limits, ok := l.tiers[tier]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTier, tier)
	}
	if _, err := l.Reconcile(ctx, userID); err != nil {
		return err
	}
	return l.store.SetQuotaTier(ctx, userID, tier, limits.Hourly, limits.Daily)
}

func (l *Ledger) isUnlimited(tier string) bool {
	limits, ok := l.tiers[tier]
	if !ok {
		limits = l.tiers[l.defaultTier]
	}
	return limits.Unlimited
}

func (l *Ledger) status(rec *store.QuotaRecord) Status {
	if l.isUnlimited(rec.Tier) {
		return Status{Allowed: true, Tier: rec.Tier, Unlimited: true, Remaining: -1, RemainingHourly: -1, RemainingDaily: -1}
	}

	hourly := max(rec.HourlyLimit-rec.UsedHourly, 0)
	daily := max(rec.DailyLimit-rec.UsedDaily, 0)
	remaining := min(hourly, daily)
	return Status{
		Allowed:         remaining > 0,
		Tier:            rec.Tier,
		Remaining:       remaining,
		RemainingHourly: hourly,
		RemainingDaily:  daily,
	}
}
