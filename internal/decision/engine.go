// Package decision decides, per user message, whether a web search is worth
// its cost.
//
// The decision is an ordered cascade of stages: URL detection, explicit
// search requests, keyword lists, a time-boxed semantic classifier and a
// follow-up check against the previous turn. Each stage either answers or
// passes. Classification failures never surface as errors; they resolve to
// a low-confidence no-search verdict.
package decision

import (
	"context"
	"errors"
	"strings"
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

const instrumentationName = "github.com/fyrsmithlabs/costgate/internal/decision"

// ErrEmptyMessage is returned for blank messages.
var ErrEmptyMessage = errors.New("message is empty")

// Input is the message being classified and where it came from.
type Input struct {
	ConversationID string
	UserID         string
	Message        string
}

// Decision is the outcome of the cascade.
type Decision struct {
	// ID of the persisted DecisionRecord, empty if persisting failed.
	ID         string
	NeedSearch bool
	Confidence float64
	Reason     string
	SearchType store.SearchType
	Tier       store.DecisionTier
	// URL is set when the message should be answered by fetching a page.
	URL     string
	Latency time.Duration
	// Degraded marks fail-closed verdicts.
	Degraded bool
	// ClassifierUsage is the token usage of the semantic classifier call,
	// zero when it was not consulted.
	ClassifierUsage llm.Usage
}

// Store is the persistence the engine needs.
type Store interface {
	PriorDecisions
	CreateDecision(ctx context.Context, d *store.DecisionRecord) error
}

// Options configures an Engine. Zero values fall back to the global OTel
// providers, a no-op logger and time.Now.
type Options struct {
	Logger *zap.Logger
	Tracer trace.Tracer
	Meter  metric.Meter
	Now    func() time.Time
	// Stages replaces the default cascade.
	Stages []Stage
}

// Engine runs the cascade and persists every decision.
type Engine struct {
	stages []Stage
	store  Store
	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time

	decisions metric.Int64Counter
	latency   metric.Float64Histogram
}

// NewEngine builds the default cascade from configuration. classifier may
// be nil, in which case the semantic stage always falls back.
func NewEngine(cfg config.DecisionConfig, s Store, classifier Classifier, opts Options) (*Engine, error) {
	e := &Engine{
		store:  s,
		logger: opts.Logger,
		tracer: opts.Tracer,
		now:    opts.Now,
		stages: opts.Stages,
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
	if e.stages == nil {
		e.stages = DefaultStages(cfg, s, classifier, e.logger)
	}

	meter := opts.Meter
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	var err error
	e.decisions, err = meter.Int64Counter("decision.decisions_total",
		metric.WithDescription("Search decisions by tier and verdict"),
		metric.WithUnit("1"))
	if err != nil {
		return nil, err
	}
	e.latency, err = meter.Float64Histogram("decision.latency_ms",
		metric.WithDescription("Time spent deciding whether to search"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 50, 100, 250, 500, 1000))
	if err != nil {
		return nil, err
	}
	return e, nil
}

// DefaultStages returns URL, explicit, keyword, semantic and context stages
// configured from cfg.
func DefaultStages(cfg config.DecisionConfig, prior PriorDecisions, classifier Classifier, logger *zap.Logger) []Stage {
	return []Stage{
		URLStage{},
		ExplicitStage{Phrases: orDefault(cfg.ExplicitPhrases, DefaultExplicitPhrases)},
		KeywordStage{
			MustSearch:           orDefault(cfg.MustSearchKeywords, DefaultMustSearchKeywords),
			NoSearch:             orDefault(cfg.NoSearchKeywords, DefaultNoSearchKeywords),
			MustSearchConfidence: cfg.MustSearchConfidence,
			NoSearchConfidence:   cfg.NoSearchConfidence,
		},
		SemanticStage{
			Classifier:     classifier,
			Timeout:        cfg.SemanticTimeout,
			HighConfidence: cfg.HighConfidence,
			Logger:         logger,
		},
		ContextStage{
			Decisions:      prior,
			HighConfidence: cfg.HighConfidence,
			MinSimilarity:  cfg.FollowUpSimilarity,
			Logger:         logger,
		},
	}
}

// Decide classifies one message and persists the result. A failure to
// persist is logged and leaves Decision.ID empty.
func (e *Engine) Decide(ctx context.Context, in Input) (*Decision, error) {
	if strings.TrimSpace(in.Message) == "" {
		return nil, ErrEmptyMessage
	}

	ctx, span := e.tracer.Start(ctx, "decision.decide")
	defer span.End()

	start := e.now()
	d := Evaluate(ctx, e.stages, in)
	d.Latency = e.now().Sub(start)

	span.SetAttributes(
		attribute.Bool("need_search", d.NeedSearch),
		attribute.String("tier", string(d.Tier)),
		attribute.Float64("confidence", d.Confidence),
		attribute.String("reason", d.Reason),
	)
	attrs := metric.WithAttributes(
		attribute.String("tier", string(d.Tier)),
		attribute.Bool("need_search", d.NeedSearch),
	)
	e.decisions.Add(ctx, 1, attrs)
	e.latency.Record(ctx, float64(d.Latency.Microseconds())/1000, attrs)

	rec := &store.DecisionRecord{
		ConversationID: in.ConversationID,
		UserID:         in.UserID,
		MessageText:    in.Message,
		NeedSearch:     d.NeedSearch,
		Confidence:     d.Confidence,
		Reason:         d.Reason,
		SearchType:     d.SearchType,
		Tier:           d.Tier,
		LatencyMS:      d.Latency.Milliseconds(),
		CreatedAt:      start,
	}
	if err := e.store.CreateDecision(ctx, rec); err != nil {
		span.RecordError(err)
		e.logger.Warn("failed to persist decision", zap.String("conversation_id", in.ConversationID), zap.Error(err))
	} else {
		d.ID = rec.ID
	}

	e.logger.Debug("search decision",
		zap.String("conversation_id", in.ConversationID),
		zap.Bool("need_search", d.NeedSearch),
		zap.String("tier", string(d.Tier)),
		zap.String("reason", d.Reason),
		zap.Float64("confidence", d.Confidence),
		zap.Duration("latency", d.Latency))
	return &d, nil
}
