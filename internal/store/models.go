// Package store persists costgate entities in SQLite.
//
// The store is the only shared mutable state between requests. Counters
// that can be hit concurrently (quota usage, cache hits, daily statistics)
// are updated with single SQL statements so the database does the
// read-modify-write.
package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// SearchType classifies what kind of search a message needs.
type SearchType string

const (
	SearchGeneral      SearchType = "general"
	SearchNews         SearchType = "news"
	SearchData         SearchType = "data"
	SearchVerification SearchType = "verification"
	SearchNone         SearchType = "none"
)

// DecisionTier names the classifier stage that produced a decision.
type DecisionTier string

const (
	TierKeyword  DecisionTier = "keyword"
	TierSemantic DecisionTier = "semantic"
	TierContext  DecisionTier = "context"
)

// ModelTier is the price class of an LLM model.
type ModelTier string

const (
	ModelCheap  ModelTier = "cheap"
	ModelStrong ModelTier = "strong"
)

// RequestClass labels why an LLM call was made.
type RequestClass string

const (
	ClassSimple      RequestClass = "simple"
	ClassComplex     RequestClass = "complex"
	ClassCompression RequestClass = "compression"
)

// Conversation is a chat thread owned by one user.
type Conversation struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn in a conversation. Role is RoleUser or RoleAssistant.
type Message struct {
	ID             int64
	ConversationID string
	Role           string
	Content        string
	CreatedAt      time.Time
}

// DecisionRecord is the persisted outcome of one search decision.
type DecisionRecord struct {
	ID             string
	ConversationID string
	UserID         string
	MessageText    string
	NeedSearch     bool
	Confidence     float64
	Reason         string
	SearchType     SearchType
	Tier           DecisionTier
	LatencyMS      int64
	SearchExecuted bool
	CacheHit       bool
	QuotaExceeded  bool
	SearchCost     float64
	CreatedAt      time.Time
}

// DecisionOutcome patches a DecisionRecord after the orchestrator acts on it.
type DecisionOutcome struct {
	SearchExecuted bool
	CacheHit       bool
	QuotaExceeded  bool
	SearchCost     float64
}

// CacheEntry is a stored search result.
type CacheEntry struct {
	QueryHash       string
	NormalizedQuery string
	OriginalQuery   string
	SearchType      SearchType
	Payload         []byte
	HitCount        int
	CostSaved       float64
	CreatedAt       time.Time
	ExpiresAt       time.Time
}

// Expired reports whether the entry must be treated as absent at now.
func (e *CacheEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.After(now)
}

// ConversationSummary condenses the first CoveredMessageCount messages of a conversation.
type ConversationSummary struct {
	ID                  string
	ConversationID      string
	SummaryText         string
	CoveredMessageCount int
	SummaryTokens       int
	OriginalTokens      int
	CompressionRatio    float64
	KeyTopics           []string
	CreatedAt           time.Time
}

// QuotaRecord holds a user's search counters.
type QuotaRecord struct {
	UserID        string
	Tier          string
	HourlyLimit   int
	DailyLimit    int
	UsedHourly    int
	UsedDaily     int
	LastResetHour time.Time
	LastResetDay  time.Time
}

// QuotaWindow selects the hourly or daily counter.
type QuotaWindow string

const (
	WindowHourly QuotaWindow = "hourly"
	WindowDaily  QuotaWindow = "daily"
)

// DailyStatistics aggregates one calendar day of turns.
type DailyStatistics struct {
	Date              string // YYYY-MM-DD
	TotalRequests     int64
	SearchTriggered   int64
	CacheHits         int64
	KeywordDecisions  int64
	SemanticDecisions int64
	ContextDecisions  int64
	TotalSearchCost   float64
	TotalCostSaved    float64
	TotalLatencyMS    int64
}

// AvgDecisionLatencyMS returns the mean decision latency for the day.
func (d DailyStatistics) AvgDecisionLatencyMS() float64 {
	if d.TotalRequests == 0 {
		return 0
	}
	return float64(d.TotalLatencyMS) / float64(d.TotalRequests)
}

// DateLayout is the format of DailyStatistics.Date.
const DateLayout = "2006-01-02"

// CostLedgerEntry records the cost of one LLM call.
type CostLedgerEntry struct {
	ID                  string
	ConversationID      string
	UserID              string
	Model               string
	ModelTier           ModelTier
	InputTokens         int
	OutputTokens        int
	CachedTokens        int
	CacheCreationTokens int
	TotalCost           float64
	CacheSavings        float64
	RequestClass        RequestClass
	CreatedAt           time.Time
}

// CostTotals sums ledger entries of one request class.
type CostTotals struct {
	RequestClass RequestClass
	Calls        int64
	InputTokens  int64
	OutputTokens int64
	CachedTokens int64
	TotalCost    float64
	CacheSavings float64
}
