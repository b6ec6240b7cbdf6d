// Package resultcache caches search results by normalized query.
//
// Lookups try an exact match on the hash of the normalized query and search
// type first. On a miss the most recent unexpired entries of the same type
// are scanned and the best term-frequency cosine match above the threshold
// is served instead. Expired entries are deleted when read.
package resultcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/costgate/internal/config"
	"github.com/fyrsmithlabs/costgate/internal/store"
	"github.com/fyrsmithlabs/costgate/internal/textproc"
)

const instrumentationName = "github.com/fyrsmithlabs/costgate/internal/resultcache"

// Store is the persistence the cache needs.
type Store interface {
	GetCacheEntry(ctx context.Context, hash string) (*store.CacheEntry, error)
	PutCacheEntry(ctx context.Context, e *store.CacheEntry) error
	RecentCacheEntries(ctx context.Context, searchType store.SearchType, now time.Time, limit int) ([]*store.CacheEntry, error)
	RecordCacheHit(ctx context.Context, hash string, saved float64, now time.Time) (bool, error)
	DeleteCacheEntry(ctx context.Context, hash string) error
}

// Hit is a served cache entry.
type Hit struct {
	QueryHash     string
	Payload       []byte
	HitCount      int
	NearDuplicate bool
	Similarity    float64
	ExpiresAt     time.Time
}

// Options configures a Cache. Zero values fall back to the global OTel
// providers, a no-op logger and time.Now.
type Options struct {
	Logger *zap.Logger
	Tracer trace.Tracer
	Meter  metric.Meter
	Now    func() time.Time
}

// Cache is the search result cache.
type Cache struct {
	store     Store
	ttl       TTLPolicy
	window    int
	threshold float64
	unitCost  float64
	now       func() time.Time
	logger    *zap.Logger
	tracer    trace.Tracer

	lookups metric.Int64Counter
	stores  metric.Int64Counter
}

// New creates a Cache. unitCost is the price of one search, credited as
// savings on every hit.
func New(s Store, cfg config.CacheConfig, unitCost float64, opts Options) (*Cache, error) {
	c := &Cache{
		store:     s,
		ttl:       NewTTLPolicy(cfg),
		window:    cfg.NearDuplicateWindow,
		threshold: cfg.NearDuplicateThreshold,
		unitCost:  unitCost,
		now:       opts.Now,
		logger:    opts.Logger,
		tracer:    opts.Tracer,
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer(instrumentationName)
	}
	meter := opts.Meter
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}

	var err error
	c.lookups, err = meter.Int64Counter("resultcache.lookups_total",
		metric.WithDescription("Cache lookups by outcome (exact, near_duplicate, expired, miss)"),
		metric.WithUnit("1"))
	if err != nil {
		return nil, fmt.Errorf("failed to create lookup counter: %w", err)
	}
	c.stores, err = meter.Int64Counter("resultcache.stores_total",
		metric.WithDescription("Cache writes by outcome (stored, skipped)"),
		metric.WithUnit("1"))
	if err != nil {
		return nil, fmt.Errorf("failed to create store counter: %w", err)
	}
	return c, nil
}

// Hash returns the cache key for an already normalized query.
func Hash(normalized string, searchType store.SearchType) string {
	sum := sha256.Sum256([]byte(normalized + "|" + string(searchType)))
	return hex.EncodeToString(sum[:])
}

// TTL returns the time-to-live the cache would assign to query.
func (c *Cache) TTL(query string, searchType store.SearchType) time.Duration {
	return c.ttl.TTL(query, searchType)
}

// Lookup returns a cached result for query, or nil on a miss.
func (c *Cache) Lookup(ctx context.Context, query string, searchType store.SearchType) (*Hit, error) {
	ctx, span := c.tracer.Start(ctx, "resultcache.lookup",
		trace.WithAttributes(attribute.String("search_type", string(searchType))))
	defer span.End()

	normalized := textproc.Normalize(query)
	if normalized == "" {
		return nil, nil
	}
	now := c.now()
	hash := Hash(normalized, searchType)

	entry, err := c.store.GetCacheEntry(ctx, hash)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		span.RecordError(err)
		return nil, err
	case entry.Expired(now):
		c.count(ctx, c.lookups, "expired")
		if err := c.store.DeleteCacheEntry(ctx, hash); err != nil {
			c.logger.Warn("failed to purge expired cache entry", zap.String("query_hash", hash), zap.Error(err))
		}
	default:
		hit, err := c.serve(ctx, entry, now)
		if err != nil || hit != nil {
			if hit != nil {
				span.SetAttributes(attribute.String("outcome", "exact"))
				c.count(ctx, c.lookups, "exact")
			}
			return hit, err
		}
	}

	hit, err := c.nearDuplicate(ctx, query, searchType, now)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if hit != nil {
		span.SetAttributes(attribute.String("outcome", "near_duplicate"))
		c.count(ctx, c.lookups, "near_duplicate")
		return hit, nil
	}

	span.SetAttributes(attribute.String("outcome", "miss"))
	c.count(ctx, c.lookups, "miss")
	return nil, nil
}

func (c *Cache) nearDuplicate(ctx context.Context, query string, searchType store.SearchType, now time.Time) (*Hit, error) {
	if c.window <= 0 {
		return nil, nil
	}
	recent, err := c.store.RecentCacheEntries(ctx, searchType, now, c.window)
	if err != nil {
		return nil, err
	}

	tokens := textproc.Tokens(query)
	var (
		best    *store.CacheEntry
		bestSim float64
	)
	for _, e := range recent {
		sim := textproc.Cosine(tokens, textproc.Tokens(e.OriginalQuery))
		if sim >= c.threshold && sim > bestSim {
			best, bestSim = e, sim
		}
	}
	if best == nil {
		return nil, nil
	}

	hit, err := c.serve(ctx, best, now)
	if hit != nil {
		hit.NearDuplicate = true
		hit.Similarity = bestSim
	}
	return hit, err
}

// serve credits a hit on entry. It returns nil when the entry expired or
// disappeared between read and update.
func (c *Cache) serve(ctx context.Context, e *store.CacheEntry, now time.Time) (*Hit, error) {
	ok, err := c.store.RecordCacheHit(ctx, e.QueryHash, c.unitCost, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &Hit{
		QueryHash:  e.QueryHash,
		Payload:    e.Payload,
		HitCount:   e.HitCount + 1,
		Similarity: 1,
		ExpiresAt:  e.ExpiresAt,
	}, nil
}

// Store caches payload for query using the volatility-based TTL. It reports
// whether anything was written; volatile queries are never cached.
func (c *Cache) Store(ctx context.Context, query string, searchType store.SearchType, payload []byte) (bool, error) {
	return c.StoreWithTTL(ctx, query, searchType, payload, c.TTL(query, searchType))
}

// StoreWithTTL caches payload for query for ttl. A non-positive ttl stores
// nothing.
func (c *Cache) StoreWithTTL(ctx context.Context, query string, searchType store.SearchType, payload []byte, ttl time.Duration) (bool, error) {
	normalized := textproc.Normalize(query)
	if normalized == "" || ttl <= 0 {
		c.count(ctx, c.stores, "skipped")
		return false, nil
	}

	now := c.now()
	err := c.store.PutCacheEntry(ctx, &store.CacheEntry{
		QueryHash:       Hash(normalized, searchType),
		NormalizedQuery: normalized,
		OriginalQuery:   query,
		SearchType:      searchType,
		Payload:         payload,
		CreatedAt:       now,
		ExpiresAt:       now.Add(ttl),
	})
	if err != nil {
		return false, err
	}
	c.count(ctx, c.stores, "stored")
	return true, nil
}

func (c *Cache) count(ctx context.Context, counter metric.Int64Counter, outcome string) {
	counter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
