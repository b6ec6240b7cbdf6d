// Package events publishes turn-completed notifications over NATS.
//
// Events are fire-and-forget: a publish failure is the caller's to log and
// never affects the chat turn.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/costgate/internal/config"
	"github.com/fyrsmithlabs/costgate/internal/sanitize"
)

// TurnEvent describes one completed chat turn.
type TurnEvent struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	DecisionID     string    `json:"decision_id,omitempty"`
	Model          string    `json:"model"`
	ModelTier      string    `json:"model_tier"`
	NeedSearch     bool      `json:"need_search"`
	DecisionTier   string    `json:"decision_tier"`
	Reason         string    `json:"reason"`
	SearchExecuted bool      `json:"search_executed"`
	CacheHit       bool      `json:"cache_hit"`
	QuotaExceeded  bool      `json:"quota_exceeded"`
	SearchCost     float64   `json:"search_cost"`
	LLMCost        float64   `json:"llm_cost"`
	CacheSavings   float64   `json:"cache_savings"`
	InputTokens    int64     `json:"input_tokens"`
	OutputTokens   int64     `json:"output_tokens"`
	CachedTokens   int64     `json:"cached_tokens"`
	Compressed     bool      `json:"compressed"`
	LatencyMS      int64     `json:"latency_ms"`
	CompletedAt    time.Time `json:"completed_at"`
}

// Publisher sends turn events.
type Publisher interface {
	PublishTurn(ctx context.Context, ev TurnEvent) error
}

// Noop discards events.
type Noop struct{}

// PublishTurn does nothing.
func (Noop) PublishTurn(context.Context, TurnEvent) error { return nil }

// NATSPublisher publishes events on <prefix>.<user>.completed.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
	owned  bool
}

// NewNATSPublisher wraps an existing connection. The caller keeps ownership.
func NewNATSPublisher(nc *nats.Conn, subjectPrefix string) *NATSPublisher {
	return &NATSPublisher{nc: nc, prefix: strings.TrimSuffix(subjectPrefix, ".")}
}

// Connect dials the configured server. The connection retries in the
// background, so a server that is down at startup does not fail the
// process.
func Connect(cfg config.EventsConfig, logger *zap.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(cfg.NATSURL,
		nats.Name("costgate"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", cfg.NATSURL, err)
	}
	p := NewNATSPublisher(nc, cfg.SubjectPrefix)
	p.owned = true
	return p, nil
}

// Subject returns the subject an event for userID is published on.
func (p *NATSPublisher) Subject(userID string) string {
	return fmt.Sprintf("%s.%s.completed", p.prefix, sanitize.Token(userID))
}

// PublishTurn marshals ev as JSON and publishes it.
func (p *NATSPublisher) PublishTurn(ctx context.Context, ev TurnEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal turn event: %w", err)
	}
	if err := p.nc.Publish(p.Subject(ev.UserID), data); err != nil {
		return fmt.Errorf("publish turn event: %w", err)
	}
	return nil
}

// Close drains the connection if this publisher opened it.
func (p *NATSPublisher) Close() error {
	if !p.owned {
		return nil
	}
	return p.nc.Drain()
}
