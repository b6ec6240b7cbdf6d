package orchestrator

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/costgate/internal/analytics"
	"github.com/fyrsmithlabs/costgate/internal/compression"
	"github.com/fyrsmithlabs/costgate/internal/costmodel"
	"github.com/fyrsmithlabs/costgate/internal/decision"
	"github.com/fyrsmithlabs/costgate/internal/events"
	"github.com/fyrsmithlabs/costgate/internal/llm"
	"github.com/fyrsmithlabs/costgate/internal/store"
)

func metricKind(kind string) metric.AddOption {
	return metric.WithAttributes(attribute.String("kind", kind))
}

// recordAuxiliary books the classifier and summarizer calls made while
// preparing the turn.
func (o *Orchestrator) recordAuxiliary(ctx context.Context, conversationID, userID string, d *decision.Decision, comp *compression.Result) {
	if d.ClassifierUsage != (llm.Usage{}) {
		sel := o.deps.Policy.Cheap()
		o.addCost(ctx, conversationID, userID, sel, sel.Model, d.ClassifierUsage)
	}
	if comp.Usage != (llm.Usage{}) {
		sel := o.deps.Policy.Compression()
		model := comp.Model
		if model == "" {
			model = sel.Model
		}
		o.addCost(ctx, conversationID, userID, sel, model, comp.Usage)
	}
}

// addCost prices one LLM call and appends it to the cost ledger.
func (o *Orchestrator) addCost(ctx context.Context, conversationID, userID string, sel costmodel.Selection, model string, u llm.Usage) costmodel.Cost {
	cost := o.deps.Pricing.Price(sel.Tier, costmodel.Usage(u))
	o.spend.Add(ctx, cost.Total, metricKind(string(sel.Class)))

	entry := &store.CostLedgerEntry{
		ConversationID:      conversationID,
		UserID:              userID,
		Model:               model,
		ModelTier:           sel.Tier,
		InputTokens:         int(u.InputTokens),
		OutputTokens:        int(u.OutputTokens),
		CachedTokens:        int(u.CachedTokens),
		CacheCreationTokens: int(u.CacheCreationTokens),
		TotalCost:           cost.Total,
		CacheSavings:        cost.CacheSavings,
		RequestClass:        sel.Class,
		CreatedAt:           o.now(),
	}
	if err := o.deps.Store.AddCostEntry(ctx, entry); err != nil {
		o.logger.Warn(ctx, "failed to record cost entry",
			zap.String("request_class", string(sel.Class)),
			zap.Error(err))
	}
	return cost
}

// patchDecision writes the execution outcome onto the persisted decision.
func (o *Orchestrator) patchDecision(ctx context.Context, d *decision.Decision, info SearchInfo) {
	if d.ID == "" {
		return
	}
	err := o.deps.Store.UpdateDecisionOutcome(ctx, d.ID, store.DecisionOutcome{
		SearchExecuted: info.Executed,
		CacheHit:       info.CacheHit,
		QuotaExceeded:  info.QuotaExceeded,
		SearchCost:     info.Cost,
	})
	if err != nil {
		o.logger.Warn(ctx, "failed to record decision outcome",
			zap.String("decision_id", d.ID),
			zap.Error(err))
	}
}

func (o *Orchestrator) recordTurn(ctx context.Context, at time.Time, d *decision.Decision, info SearchInfo) {
	if o.deps.Analytics == nil {
		return
	}
	t := analytics.Turn{
		At:              at,
		Tier:            d.Tier,
		Searched:        info.Executed || info.CacheHit,
		CacheHit:        info.CacheHit,
		SearchCost:      info.Cost,
		DecisionLatency: d.Latency,
	}
	if info.CacheHit {
		t.CostSaved = o.unitCost
	}
	if err := o.deps.Analytics.RecordTurn(ctx, t); err != nil {
		o.logger.Warn(ctx, "failed to update daily statistics", zap.Error(err))
	}
}

func (o *Orchestrator) appendMessages(ctx context.Context, conversationID, message, answer string) {
	now := o.now()
	err := o.deps.Store.AppendMessages(ctx, conversationID,
		store.Message{Role: store.RoleUser, Content: message, CreatedAt: now},
		store.Message{Role: store.RoleAssistant, Content: answer, CreatedAt: now},
	)
	if err != nil {
		o.logger.Warn(ctx, "failed to persist turn messages", zap.Error(err))
	}
}

func (o *Orchestrator) publish(ctx context.Context, userID string, d *decision.Decision, res *Result, elapsed time.Duration) {
	ev := events.TurnEvent{
		ConversationID: res.ConversationID,
		UserID:         userID,
		DecisionID:     d.ID,
		Model:          res.ModelUsed,
		ModelTier:      string(res.Usage.ModelTier),
		NeedSearch:     d.NeedSearch,
		DecisionTier:   string(d.Tier),
		Reason:         d.Reason,
		SearchExecuted: res.SearchInfo.Executed,
		CacheHit:       res.SearchInfo.CacheHit,
		QuotaExceeded:  res.SearchInfo.QuotaExceeded,
		SearchCost:     res.SearchInfo.Cost,
		LLMCost:        res.Usage.Cost,
		CacheSavings:   res.Usage.CacheSavings,
		InputTokens:    res.Usage.InputTokens,
		OutputTokens:   res.Usage.OutputTokens,
		CachedTokens:   res.Usage.CachedTokens,
		Compressed:     res.Usage.Compressed,
		LatencyMS:      elapsed.Milliseconds(),
		CompletedAt:    o.now(),
	}
	if err := o.deps.Events.PublishTurn(ctx, ev); err != nil {
		o.logger.Warn(ctx, "failed to publish turn event", zap.Error(err))
	}
}
