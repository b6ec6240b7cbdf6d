package orchestrator

import (
	"context"
	"errors"

	"github.com/fyrsmithlabs/costgate/internal/analytics"
	"github.com/fyrsmithlabs/costgate/internal/compression"
	"github.com/fyrsmithlabs/costgate/internal/decision"
	"github.com/fyrsmithlabs/costgate/internal/llm"
	"github.com/fyrsmithlabs/costgate/internal/quota"
	"github.com/fyrsmithlabs/costgate/internal/resultcache"
	"github.com/fyrsmithlabs/costgate/internal/store"
)

// AnonymousUser is used when a turn carries no user id.
const AnonymousUser = "anonymous"

var (
	// ErrEmptyMessage is returned for blank messages.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrConversationNotFound is returned when the conversation id is
	// unknown or belongs to another user.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrUpstream wraps failures of the upstream LLM call.
	ErrUpstream = errors.New("upstream LLM call failed")
)

// Store is the persistence the orchestrator needs.
type Store interface {
	CreateConversation(ctx context.Context, c *store.Conversation) error
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]store.Message, error)
	AppendMessages(ctx context.Context, conversationID string, msgs ...store.Message) error
	UpdateDecisionOutcome(ctx context.Context, id string, o store.DecisionOutcome) error
	AddCostEntry(ctx context.Context, e *store.CostLedgerEntry) error
}

// Decider classifies a message.
type Decider interface {
	Decide(ctx context.Context, in decision.Input) (*decision.Decision, error)
}

// QuotaLedger gates search spending per user.
type QuotaLedger interface {
	Check(ctx context.Context, userID string) (quota.Status, error)
	Consume(ctx context.Context, userID string) error
}

// ResultCache serves and stores search payloads.
type ResultCache interface {
	Lookup(ctx context.Context, query string, searchType store.SearchType) (*resultcache.Hit, error)
	Store(ctx context.Context, query string, searchType store.SearchType, payload []byte) (bool, error)
}

// Compressor summarizes long histories and layers prompts.
type Compressor interface {
	MaybeCompress(ctx context.Context, conversationID string, history []store.Message) *compression.Result
	BuildPrompt(in compression.PromptInput) llm.Request
}

// TurnRecorder folds a turn into the daily statistics.
type TurnRecorder interface {
	RecordTurn(ctx context.Context, t analytics.Turn) error
}

// Scrubber removes secrets from text before it leaves the process.
type Scrubber interface {
	Scrub(text string) string
}

// Request is one user turn.
type Request struct {
	// ConversationID is optional; a new conversation is created when empty.
	ConversationID string `json:"conversation_id,omitempty"`
	UserID         string `json:"user_id,omitempty"`
	Message        string `json:"message"`
	SystemPrompt   string `json:"system_prompt,omitempty"`
}

// Result is the answer to one turn plus how it was produced.
type Result struct {
	ConversationID string         `json:"conversation_id"`
	ResponseText   string         `json:"response_text"`
	ModelUsed      string         `json:"model_used"`
	SearchDecision SearchDecision `json:"search_decision"`
	SearchInfo     SearchInfo     `json:"search_info"`
	Usage          UsageStats     `json:"usage_stats"`
}

// SearchDecision is the decision engine's verdict as reported to callers.
type SearchDecision struct {
	ID         string             `json:"id,omitempty"`
	NeedSearch bool               `json:"need_search"`
	Confidence float64            `json:"confidence"`
	Reason     string             `json:"reason"`
	SearchType store.SearchType   `json:"search_type"`
	Tier       store.DecisionTier `json:"decision_tier"`
	LatencyMS  int64              `json:"decision_latency_ms"`
	Degraded   bool               `json:"degraded,omitempty"`
}

// SearchInfo describes what the search path did this turn.
type SearchInfo struct {
	Executed      bool    `json:"executed"`
	CacheHit      bool    `json:"cache_hit"`
	Cost          float64 `json:"cost"`
	QuotaExceeded bool    `json:"quota_exceeded,omitempty"`
	Provider      string  `json:"provider,omitempty"`
	Results       int     `json:"results"`

	// FetchedURL is set when a page was fetched instead of searching.
	FetchedURL string `json:"fetched_url,omitempty"`
}

// UsageStats is the token accounting and price of the answering call.
type UsageStats struct {
	InputTokens         int64              `json:"input_tokens"`
	OutputTokens        int64              `json:"output_tokens"`
	CachedTokens        int64              `json:"cached_tokens"`
	CacheCreationTokens int64              `json:"cache_creation_tokens"`
	Cost                float64            `json:"cost"`
	CacheSavings        float64            `json:"cache_savings"`
	ModelTier           store.ModelTier    `json:"model_tier"`
	RequestClass        store.RequestClass `json:"request_class"`

	// SummaryUsed is true when a conversation summary replaced older turns.
	SummaryUsed bool `json:"summary_used"`
	// Compressed is true when this turn generated a new summary.
	Compressed bool `json:"compressed"`
}

func searchDecision(d *decision.Decision) SearchDecision {
	return SearchDecision{
		ID:         d.ID,
		NeedSearch: d.NeedSearch,
		Confidence: d.Confidence,
		Reason:     d.Reason,
		SearchType: d.SearchType,
		Tier:       d.Tier,
		LatencyMS:  d.Latency.Milliseconds(),
		Degraded:   d.Degraded,
	}
}
