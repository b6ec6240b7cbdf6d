package compression

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/costgate/internal/config"
	"github.com/fyrsmithlabs/costgate/internal/llm"
	"github.com/fyrsmithlabs/costgate/internal/store"
)

const instrumentationName = "github.com/fyrsmithlabs/costgate/internal/compression"

// Outcomes recorded on compression.summaries_total.
const (
	OutcomeCreated     = "created"
	OutcomeReused      = "reused"
	OutcomeBelow       = "below_threshold"
	OutcomeFailed      = "failed"
	OutcomeUnavailable = "unavailable"
)

// Store is the summary persistence the engine needs.
type Store interface {
	LatestSummary(ctx context.Context, conversationID string, maxCovered int) (*store.ConversationSummary, error)
	CreateSummary(ctx context.Context, sum *store.ConversationSummary) error
}

// Scrubber removes secrets from text before it leaves the process.
type Scrubber interface {
	Scrub(text string) string
}

// Options configures an Engine. Zero values fall back to the global OTel
// providers, a no-op logger, time.Now and no scrubbing.
type Options struct {
	Logger   *zap.Logger
	Tracer   trace.Tracer
	Meter    metric.Meter
	Now      func() time.Time
	Scrubber Scrubber
}

// Result is what MaybeCompress decided. Summary is the summary to layer
// into the prompt, or nil.
type Result struct {
	Summary *store.ConversationSummary
	// Created is true when a summarization call produced Summary this turn.
	Created bool
	Outcome string
	// Usage and Model describe the summarization call, zero when none was made.
	Usage llm.Usage
	Model string
}

// Engine decides when to summarize and layers prompts.
type Engine struct {
	cfg        config.CompressionConfig
	store      Store
	summarizer Summarizer
	scrubber   Scrubber
	logger     *zap.Logger
	tracer     trace.Tracer
	now        func() time.Time

	summaries metric.Int64Counter
	ratio     metric.Float64Histogram
}

// NewEngine creates an engine. A nil summarizer disables compression but
// existing summaries are still served.
func NewEngine(cfg config.CompressionConfig, s Store, summarizer Summarizer, opts Options) (*Engine, error) {
	e := &Engine{
		cfg:        cfg,
		store:      s,
		summarizer: summarizer,
		scrubber:   opts.Scrubber,
		logger:     opts.Logger,
		tracer:     opts.Tracer,
		now:        opts.Now,
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(instrumentationName)
	}
	if e.now == nil {
		e.now = time.Now
	}
	if err := e.initMetrics(opts.Meter); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}
	return e, nil
}

func (e *Engine) initMetrics(meter metric.Meter) error {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	var err error
	e.summaries, err = meter.Int64Counter("compression.summaries_total",
		metric.WithDescription("Compression checks by outcome"),
		metric.WithUnit("1"))
	if err != nil {
		return err
	}
	e.ratio, err = meter.Float64Histogram("compression.ratio",
		metric.WithDescription("Summary tokens divided by summarized tokens"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.2, 0.3, 0.5, 0.75, 1))
	return err
}

// RecentWindow is the number of trailing messages always sent verbatim.
func (e *Engine) RecentWindow() int {
	return 2 * e.cfg.RecentExchanges
}

// MaybeCompress returns the summary to use for a conversation whose stored
// history is history. A new summary of everything before the recent window
// is generated when the uncompressed history crosses the token threshold or
// enough user turns arrived since the previous summary.
//
// Failures are never returned: they are logged and leave the previous
// summary (or none) in place.
func (e *Engine) MaybeCompress(ctx context.Context, conversationID string, history []store.Message) *Result {
	ctx, span := e.tracer.Start(ctx, "compression.maybe_compress",
		trace.WithAttributes(
			attribute.String("conversation_id", conversationID),
			attribute.Int("history_messages", len(history)),
		))
	defer span.End()

	cutoff := len(history) - e.RecentWindow()
	if cutoff <= 0 {
		return e.finish(ctx, span, &Result{Outcome: OutcomeBelow})
	}

	existing, err := e.store.LatestSummary(ctx, conversationID, cutoff)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			span.RecordError(err)
			e.logger.Warn("failed to load summary", zap.String("conversation_id", conversationID), zap.Error(err))
		}
		existing = nil
	}
	covered := 0
	if existing != nil {
		covered = existing.CoveredMessageCount
	}

	// Tokens cover everything past the summary. User turns count from where
	// the previous summary was taken.
	uncompressed := history[covered:]
	since := uncompressed
	if existing != nil {
		since = history[min(covered+e.RecentWindow(), len(history)):]
	}
	rounds := countUserTurns(since)
	tokens := EstimateMessages(uncompressed, e.cfg.CharsPerToken)
	span.SetAttributes(
		attribute.Int("uncompressed_messages", len(uncompressed)),
		attribute.Int("rounds_since_summary", rounds),
		attribute.Int("uncompressed_tokens", tokens),
	)

	res := &Result{Summary: existing, Outcome: OutcomeReused}
	if existing == nil {
		res.Outcome = OutcomeBelow
	}
	if covered >= cutoff || (rounds < e.cfg.RoundThreshold && tokens < e.cfg.TokenThreshold) {
		return e.finish(ctx, span, res)
	}
	if e.summarizer == nil {
		res.Outcome = OutcomeUnavailable
		return e.finish(ctx, span, res)
	}

	pending := history[covered:cutoff]
	transcript := renderTranscript(existing, pending)
	if e.scrubber != nil {
		transcript = e.scrubber.Scrub(transcript)
	}

	sum, err := e.summarizer.Summarize(ctx, transcript)
	if sum != nil {
		res.Usage = sum.Usage
		res.Model = sum.Model
	}
	if err != nil {
		span.RecordError(err)
		e.logger.Warn("summarization failed, continuing without a new summary",
			zap.String("conversation_id", conversationID),
			zap.Int("pending_messages", len(pending)),
			zap.Error(err))
		res.Outcome = OutcomeFailed
		return e.finish(ctx, span, res)
	}

	original := EstimateTokens(transcript, e.cfg.CharsPerToken)
	summaryTokens := EstimateTokens(sum.Text, e.cfg.CharsPerToken)
	ratio := 0.0
	if original > 0 {
		ratio = float64(summaryTokens) / float64(original)
	}

	rec := &store.ConversationSummary{
		ConversationID:      conversationID,
		SummaryText:         sum.Text,
		CoveredMessageCount: cutoff,
		SummaryTokens:       summaryTokens,
		OriginalTokens:      original,
		CompressionRatio:    ratio,
		KeyTopics:           keyTopics(sum, renderTranscript(nil, pending)),
		CreatedAt:           e.now(),
	}
	if err := e.store.CreateSummary(ctx, rec); err != nil {
		span.RecordError(err)
		e.logger.Warn("failed to persist summary", zap.String("conversation_id", conversationID), zap.Error(err))
	}

	e.ratio.Record(ctx, ratio)
	e.logger.Info("conversation compressed",
		zap.String("conversation_id", conversationID),
		zap.Int("covered_messages", cutoff),
		zap.Int("original_tokens", original),
		zap.Int("summary_tokens", summaryTokens),
		zap.Float64("ratio", ratio))

	res.Summary = rec
	res.Created = true
	res.Outcome = OutcomeCreated
	return e.finish(ctx, span, res)
}

func (e *Engine) finish(ctx context.Context, span trace.Span, res *Result) *Result {
	span.SetAttributes(attribute.String("outcome", res.Outcome))
	e.summaries.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", res.Outcome)))
	return res
}
