package analytics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const collectTimeout = 2 * time.Second

// Collector exposes today's statistics as Prometheus gauges. Values are
// read from the store on every scrape.
type Collector struct {
	agg    *Aggregator
	logger *zap.Logger

	requests   *prometheus.Desc
	searches   *prometheus.Desc
	cacheHits  *prometheus.Desc
	searchCost *prometheus.Desc
	costSaved  *prometheus.Desc
	llmCost    *prometheus.Desc
}

// NewCollector creates a collector reading through agg.
func NewCollector(agg *Aggregator, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName("costgate", "today", name), help, nil, nil)
	}
	return &Collector{
		agg:        agg,
		logger:     logger,
		requests:   desc("requests", "Chat turns handled today (UTC)"),
		searches:   desc("searches", "Turns answered with search results today"),
		cacheHits:  desc("cache_hits", "Turns served from the result cache today"),
		searchCost: desc("search_cost_usd", "Search spend today in USD"),
		costSaved:  desc("cost_saved_usd", "Search spend avoided by cache hits today in USD"),
		llmCost:    desc("llm_cost_usd", "LLM spend today in USD"),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.requests
	ch <- c.searches
	ch <- c.cacheHits
	ch <- c.searchCost
	ch <- c.costSaved
	ch <- c.llmCost
}

// Collect implements prometheus.Collector. Store errors skip the scrape.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), collectTimeout)
	defer cancel()

	today, err := c.agg.Today(ctx)
	if err != nil {
		c.logger.Warn("failed to read today's statistics", zap.Error(err))
		return
	}
	start := startOfDay(c.agg.now())
	totals, err := c.agg.store.CostTotalsBetween(ctx, start, start.AddDate(0, 0, 1))
	if err != nil {
		c.logger.Warn("failed to read today's cost ledger", zap.Error(err))
		return
	}
	var llm float64
	for _, t := range totals {
		llm += t.TotalCost
	}

	ch <- prometheus.MustNewConstMetric(c.requests, prometheus.GaugeValue, float64(today.TotalRequests))
	ch <- prometheus.MustNewConstMetric(c.searches, prometheus.GaugeValue, float64(today.SearchTriggered))
	ch <- prometheus.MustNewConstMetric(c.cacheHits, prometheus.GaugeValue, float64(today.CacheHits))
	ch <- prometheus.MustNewConstMetric(c.searchCost, prometheus.GaugeValue, today.TotalSearchCost)
	ch <- prometheus.MustNewConstMetric(c.costSaved, prometheus.GaugeValue, today.TotalCostSaved)
	ch <- prometheus.MustNewConstMetric(c.llmCost, prometheus.GaugeValue, llm)
}
