package orchestrator

import (
	"context"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/costgate/internal/decision"
	"github.com/fyrsmithlabs/costgate/internal/search"
)

// retrieve produces the per-turn context block: a fetched page, cached
// search results or fresh ones. Every failure degrades to no context.
func (o *Orchestrator) retrieve(ctx context.Context, userID, message string, d *decision.Decision) (SearchInfo, string) {
	if d.URL != "" {
		return o.fetchPage(ctx, d.URL)
	}
	if !d.NeedSearch {
		return SearchInfo{}, ""
	}
	if o.deps.Search == nil {
		o.logger.Debug(ctx, "search wanted but no provider is configured")
		return SearchInfo{}, ""
	}

	status, err := o.deps.Quota.Check(ctx, userID)
	if err != nil {
		o.logger.Warn(ctx, "quota check failed, answering without search", zap.Error(err))
		return SearchInfo{}, ""
	}
	if !status.Allowed {
		o.logger.Info(ctx, "search quota exhausted, answering without search",
			zap.String("quota_tier", status.Tier),
			zap.Int("remaining_hourly", status.RemainingHourly),
			zap.Int("remaining_daily", status.RemainingDaily))
		return SearchInfo{QuotaExceeded: true}, ""
	}

	if info, text, ok := o.fromCache(ctx, message, d); ok {
		return info, text
	}

	query := message
	if o.deps.Scrubber != nil {
		query = o.deps.Scrubber.Scrub(message)
	}
	resp, err := o.deps.Search.Search(ctx, query, d.SearchType)
	if err != nil {
		o.logger.Warn(ctx, "search failed, answering without results",
			zap.String("provider", o.deps.Search.Name()),
			zap.Error(err))
		return SearchInfo{}, ""
	}
	info := SearchInfo{
		Executed: true,
		Cost:     o.unitCost,
		Provider: o.deps.Search.Name(),
		Results:  len(resp.Results),
	}
	o.spend.Add(ctx, o.unitCost, metricKind("search"))

	if err := o.deps.Quota.Consume(ctx, userID); err != nil {
		o.logger.Warn(ctx, "failed to consume search quota", zap.Error(err))
	}

	payload, err := search.EncodePayload(resp)
	if err != nil {
		o.logger.Warn(ctx, "failed to encode search results for the cache", zap.Error(err))
	} else if _, err := o.deps.Cache.Store(ctx, message, d.SearchType, payload); err != nil {
		o.logger.Warn(ctx, "failed to cache search results", zap.Error(err))
	}
	return info, search.RenderContext(resp)
}

func (o *Orchestrator) fromCache(ctx context.Context, message string, d *decision.Decision) (SearchInfo, string, bool) {
	hit, err := o.deps.Cache.Lookup(ctx, message, d.SearchType)
	if err != nil {
		o.logger.Warn(ctx, "cache lookup failed", zap.Error(err))
		return SearchInfo{}, "", false
	}
	if hit == nil {
		return SearchInfo{}, "", false
	}
	resp, err := search.DecodePayload(hit.Payload)
	if err != nil {
		o.logger.Warn(ctx, "discarding unreadable cache entry",
			zap.String("query_hash", hit.QueryHash),
			zap.Error(err))
		return SearchInfo{}, "", false
	}
	o.logger.Debug(ctx, "search served from cache",
		zap.String("query_hash", hit.QueryHash),
		zap.Int("hit_count", hit.HitCount),
		zap.Bool("near_duplicate", hit.NearDuplicate))
	return SearchInfo{CacheHit: true, Provider: resp.Provider, Results: len(resp.Results)}, search.RenderContext(resp), true
}

func (o *Orchestrator) fetchPage(ctx context.Context, url string) (SearchInfo, string) {
	if o.deps.Fetcher == nil {
		return SearchInfo{}, ""
	}
	text, err := o.deps.Fetcher.Fetch(ctx, url)
	if err != nil {
		o.logger.Warn(ctx, "page fetch failed, answering without it",
			zap.String("url", url),
			zap.Error(err))
		return SearchInfo{}, ""
	}
	return SearchInfo{FetchedURL: url}, search.RenderPage(url, text)
}
