package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/costgate/internal/compression"
	"github.com/fyrsmithlabs/costgate/internal/config"
	"github.com/fyrsmithlabs/costgate/internal/costmodel"
	"github.com/fyrsmithlabs/costgate/internal/decision"
	"github.com/fyrsmithlabs/costgate/internal/events"
	"github.com/fyrsmithlabs/costgate/internal/llm"
	"github.com/fyrsmithlabs/costgate/internal/logging"
	"github.com/fyrsmithlabs/costgate/internal/search"
	"github.com/fyrsmithlabs/costgate/internal/store"
)

const instrumentationName = "github.com/fyrsmithlabs/costgate/internal/orchestrator"

// Deps are the components a turn is sequenced through. Search, Fetcher,
// Analytics, Events and Scrubber are optional.
type Deps struct {
	Store      Store
	Decider    Decider
	Quota      QuotaLedger
	Cache      ResultCache
	Search     search.Provider
	Fetcher    search.Fetcher
	Compressor Compressor
	LLM        llm.Client
	Policy     *costmodel.Policy
	Pricing    *costmodel.Pricing
	Analytics  TurnRecorder
	Events     events.Publisher
	Scrubber   Scrubber
}

// Options configures an Orchestrator. Zero values fall back to the global
// OTel providers, a no-op logger and time.Now.
type Options struct {
	Logger *logging.Logger
	Tracer trace.Tracer
	Meter  metric.Meter
	Now    func() time.Time
}

// Orchestrator handles chat turns.
type Orchestrator struct {
	deps      Deps
	unitCost  float64
	maxTokens int

	logger *logging.Logger
	tracer trace.Tracer
	now    func() time.Time

	turns    metric.Int64Counter
	duration metric.Float64Histogram
	spend    metric.Float64Counter
}

// New validates deps and creates an Orchestrator.
func New(cfg *config.Config, deps Deps, opts Options) (*Orchestrator, error) {
	if cfg == nil {
		return nil, errors.New("orchestrator: config is required")
	}
	switch {
	case deps.Store == nil:
		return nil, errors.New("orchestrator: store is required")
	case deps.Decider == nil:
		return nil, errors.New("orchestrator: decider is required")
	case deps.Compressor == nil:
		return nil, errors.New("orchestrator: compressor is required")
	case deps.LLM == nil:
		return nil, errors.New("orchestrator: LLM client is required")
	case deps.Policy == nil || deps.Pricing == nil:
		return nil, errors.New("orchestrator: cost model is required")
	case deps.Search != nil && (deps.Quota == nil || deps.Cache == nil):
		return nil, errors.New("orchestrator: search requires a quota ledger and a result cache")
	}
	if deps.Events == nil {
		deps.Events = events.Noop{}
	}

	o := &Orchestrator{
		deps:      deps,
		unitCost:  cfg.Search.UnitCost,
		maxTokens: cfg.LLM.MaxTokens,
		logger:    opts.Logger,
		tracer:    opts.Tracer,
		now:       opts.Now,
	}
	if o.logger == nil {
		o.logger = logging.NewNop()
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(instrumentationName)
	}
	if o.now == nil {
		o.now = time.Now
	}

	meter := opts.Meter
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	var err error
	o.turns, err = meter.Int64Counter("orchestrator.turns_total",
		metric.WithDescription("Chat turns by outcome and search path"),
		metric.WithUnit("1"))
	if err != nil {
		return nil, err
	}
	o.duration, err = meter.Float64Histogram("orchestrator.turn_duration_ms",
		metric.WithDescription("Wall time of a chat turn"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000))
	if err != nil {
		return nil, err
	}
	o.spend, err = meter.Float64Counter("orchestrator.spend_usd",
		metric.WithDescription("Money spent on searches and LLM calls"),
		metric.WithUnit("USD"))
	if err != nil {
		return nil, err
	}
	return o, nil
}

// HandleTurn answers one user message.
func (o *Orchestrator) HandleTurn(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, ErrEmptyMessage
	}
	if req.UserID == "" {
		req.UserID = AnonymousUser
	}

	start := o.now()
	ctx = logging.WithUserID(ctx, req.UserID)
	ctx, span := o.tracer.Start(ctx, "orchestrator.handle_turn",
		trace.WithAttributes(attribute.String("user_id", req.UserID)))
	defer span.End()

	conv, history, err := o.loadConversation(ctx, req)
	if err != nil {
		o.fail(ctx, span, "conversation_error", err)
		return nil, err
	}
	ctx = logging.WithConversationID(ctx, conv.ID)
	span.SetAttributes(
		attribute.String("conversation_id", conv.ID),
		attribute.Int("history_messages", len(history)),
	)

	d, err := o.deps.Decider.Decide(ctx, decision.Input{
		ConversationID: conv.ID,
		UserID:         req.UserID,
		Message:        req.Message,
	})
	if err != nil {
		o.fail(ctx, span, "decision_error", err)
		return nil, fmt.Errorf("failed to decide on search: %w", err)
	}
	span.SetAttributes(
		attribute.Bool("need_search", d.NeedSearch),
		attribute.String("decision_tier", string(d.Tier)),
	)

	info, retrieved := o.retrieve(ctx, req.UserID, req.Message, d)
	span.SetAttributes(
		attribute.Bool("search_executed", info.Executed),
		attribute.Bool("cache_hit", info.CacheHit),
		attribute.Bool("quota_exceeded", info.QuotaExceeded),
	)

	comp := o.deps.Compressor.MaybeCompress(ctx, conv.ID, history)
	o.recordAuxiliary(ctx, conv.ID, req.UserID, d, comp)

	sel := o.deps.Policy.Select(req.Message)
	llmReq := o.deps.Compressor.BuildPrompt(compression.PromptInput{
		SystemPrompt: req.SystemPrompt,
		Summary:      comp.Summary,
		History:      history,
		Message:      req.Message,
		Context:      retrieved,
	})
	llmReq.Model = sel.Model
	llmReq.MaxTokens = o.maxTokens

	resp, err := o.deps.LLM.Complete(ctx, llmReq)
	if err != nil {
		// Search spend is recorded even when the answer fails.
		o.patchDecision(ctx, d, info)
		o.recordTurn(ctx, start, d, info)
		o.logger.Error(ctx, "upstream LLM call failed",
			zap.String("model", sel.Model),
			zap.Error(err))
		o.fail(ctx, span, "upstream_error", err)
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	model := resp.Model
	if model == "" {
		model = sel.Model
	}
	cost := o.addCost(ctx, conv.ID, req.UserID, sel, model, resp.Usage)

	o.patchDecision(ctx, d, info)
	o.recordTurn(ctx, start, d, info)
	o.appendMessages(ctx, conv.ID, req.Message, resp.Text)

	res := &Result{
		ConversationID: conv.ID,
		ResponseText:   resp.Text,
		ModelUsed:      model,
		SearchDecision: searchDecision(d),
		SearchInfo:     info,
		Usage: UsageStats{
			InputTokens:         resp.Usage.InputTokens,
			OutputTokens:        resp.Usage.OutputTokens,
			CachedTokens:        resp.Usage.CachedTokens,
			CacheCreationTokens: resp.Usage.CacheCreationTokens,
			Cost:                cost.Total,
			CacheSavings:        cost.CacheSavings,
			ModelTier:           sel.Tier,
			RequestClass:        sel.Class,
			SummaryUsed:         comp.Summary != nil,
			Compressed:          comp.Created,
		},
	}

	elapsed := o.now().Sub(start)
	o.publish(ctx, req.UserID, d, res, elapsed)

	attrs := metric.WithAttributes(
		attribute.String("outcome", "answered"),
		attribute.String("search", searchPath(info)),
		attribute.String("model_tier", string(sel.Tier)),
	)
	o.turns.Add(ctx, 1, attrs)
	o.duration.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)

	o.logger.Info(ctx, "turn completed",
		zap.String("model", model),
		zap.String("decision_tier", string(d.Tier)),
		zap.Bool("need_search", d.NeedSearch),
		zap.String("search", searchPath(info)),
		zap.Float64("llm_cost", cost.Total),
		zap.Float64("search_cost", info.Cost),
		zap.Bool("compressed", comp.Created),
		zap.Duration("elapsed", elapsed))
	return res, nil
}

func (o *Orchestrator) loadConversation(ctx context.Context, req Request) (*store.Conversation, []store.Message, error) {
	if req.ConversationID == "" {
		conv := &store.Conversation{UserID: req.UserID, CreatedAt: o.now()}
		if err := o.deps.Store.CreateConversation(ctx, conv); err != nil {
			return nil, nil, fmt.Errorf("failed to create conversation: %w", err)
		}
		o.logger.Debug(ctx, "conversation created", zap.String("conversation_id", conv.ID))
		return conv, nil, nil
	}

	conv, err := o.deps.Store.GetConversation(ctx, req.ConversationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, fmt.Errorf("%w: %s", ErrConversationNotFound, req.ConversationID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load conversation %s: %w", req.ConversationID, err)
	}
	if conv.UserID != req.UserID {
		return nil, nil, fmt.Errorf("%w: %s", ErrConversationNotFound, req.ConversationID)
	}

	history, err := o.deps.Store.ListMessages(ctx, conv.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load history of %s: %w", conv.ID, err)
	}
	return conv, history, nil
}

func (o *Orchestrator) fail(ctx context.Context, span trace.Span, outcome string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	o.turns.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func searchPath(info SearchInfo) string {
	switch {
	case info.QuotaExceeded:
		return "quota_exceeded"
	case info.CacheHit:
		return "cache_hit"
	case info.Executed:
		return "executed"
	case info.FetchedURL != "":
		return "fetched"
	default:
		return "none"
	}
}
