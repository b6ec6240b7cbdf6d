package decision

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/costgate/internal/store"
	"github.com/fyrsmithlabs/costgate/internal/textproc"
)

// Stage is one classifier in the cascade. It returns nil to pass the
// message on to the next stage. prior is the best verdict so far, or nil.
type Stage interface {
	Name() string
	Evaluate(ctx context.Context, in Input, prior *Verdict) *Verdict
}

// Verdict is a stage's answer. A final verdict stops the cascade.
type Verdict struct {
	Decision
	Final bool
}

// Evaluate runs stages in order and returns the last verdict produced,
// stopping at the first final one. When no stage answers the result is the
// fail-closed no-search default.
func Evaluate(ctx context.Context, stages []Stage, in Input) Decision {
	var current *Verdict
	for _, s := range stages {
		v := s.Evaluate(ctx, in, current)
		if v == nil {
			continue
		}
		current = v
		if v.Final {
			break
		}
	}
	if current == nil {
		return fallback("no_verdict")
	}
	return current.Decision
}

func fallback(cause string) Decision {
	return Decision{
		NeedSearch: false,
		Confidence: fallbackConfidence,
		Reason:     "semantic_fallback:" + cause,
		SearchType: store.SearchNone,
		Tier:       store.TierSemantic,
		Degraded:   true,
	}
}

const fallbackConfidence = 0.3

var urlPattern = regexp.MustCompile(`https?://[^\s<>"'` + "`" + `]+`)

// URLStage routes messages that contain a URL to the fetch path.
type URLStage struct{}

func (URLStage) Name() string { return "url" }

func (URLStage) Evaluate(_ context.Context, in Input, _ *Verdict) *Verdict {
	raw := urlPattern.FindString(in.Message)
	if raw == "" {
		return nil
	}
	return &Verdict{
		Decision: Decision{
			NeedSearch: false,
			Confidence: 1,
			Reason:     "url_fetch",
			SearchType: store.SearchNone,
			Tier:       store.TierKeyword,
			URL:        strings.TrimRight(raw, ".,;:!?)]}"),
		},
		Final: true,
	}
}

// ExplicitStage forces a search when the user asks for one.
type ExplicitStage struct {
	Phrases []string
}

func (ExplicitStage) Name() string { return "explicit" }

func (s ExplicitStage) Evaluate(_ context.Context, in Input, _ *Verdict) *Verdict {
	tokens := textproc.Tokens(in.Message)
	phrase, ok := textproc.FirstPhrase(tokens, s.Phrases)
	if !ok {
		return nil
	}
	return &Verdict{
		Decision: Decision{
			NeedSearch: true,
			Confidence: 1,
			Reason:     "explicit_request:" + phrase,
			SearchType: InferSearchType(tokens),
			Tier:       store.TierKeyword,
		},
		Final: true,
	}
}

// KeywordStage matches the must-search list, then the no-search list.
type KeywordStage struct {
	MustSearch           []string
	NoSearch             []string
	MustSearchConfidence float64
	NoSearchConfidence   float64
}

func (KeywordStage) Name() string { return "keyword" }

func (s KeywordStage) Evaluate(_ context.Context, in Input, _ *Verdict) *Verdict {
	tokens := textproc.Tokens(in.Message)
	if kw, ok := textproc.FirstPhrase(tokens, s.MustSearch); ok {
		return &Verdict{
			Decision: Decision{
				NeedSearch: true,
				Confidence: s.MustSearchConfidence,
				Reason:     "must_search:" + kw,
				SearchType: InferSearchType(tokens),
				Tier:       store.TierKeyword,
			},
			Final: true,
		}
	}
	if kw, ok := textproc.FirstPhrase(tokens, s.NoSearch); ok {
		return &Verdict{
			Decision: Decision{
				NeedSearch: false,
				Confidence: s.NoSearchConfidence,
				Reason:     "no_search:" + kw,
				SearchType: store.SearchNone,
				Tier:       store.TierKeyword,
			},
			Final: true,
		}
	}
	return nil
}

// SemanticStage asks a classifier under a hard timeout and fails closed.
type SemanticStage struct {
	Classifier     Classifier
	Timeout        time.Duration
	HighConfidence float64
	Logger         *zap.Logger
}

func (SemanticStage) Name() string { return "semantic" }

func (s SemanticStage) Evaluate(ctx context.Context, in Input, _ *Verdict) *Verdict {
	if s.Classifier == nil {
		return &Verdict{Decision: fallback("unavailable")}
	}

	cctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	sv, err := s.Classifier.Classify(cctx, in.Message)
	if err != nil {
		cause := "error"
		switch {
		case errors.Is(err, context.DeadlineExceeded) || errors.Is(cctx.Err(), context.DeadlineExceeded),
			strings.Contains(err.Error(), "exceed context deadline"):
			cause = "timeout"
		case errors.Is(err, ErrMalformedVerdict):
			cause = "malformed"
		}
		if s.Logger != nil {
			s.Logger.Warn("semantic classifier failed, defaulting to no search",
				zap.String("cause", cause), zap.Error(err))
		}
		d := fallback(cause)
		d.ClassifierUsage = sv.Usage
		return &Verdict{Decision: d}
	}

	searchType := sv.SearchType
	if !sv.NeedSearch {
		searchType = store.SearchNone
	} else if searchType == "" || searchType == store.SearchNone {
		searchType = InferSearchType(textproc.Tokens(in.Message))
	}
	reason := "semantic"
	if sv.Reason != "" {
		reason = "semantic:" + sv.Reason
	}
	return &Verdict{
		Decision: Decision{
			NeedSearch:      sv.NeedSearch,
			Confidence:      sv.Confidence,
			Reason:          reason,
			SearchType:      searchType,
			Tier:            store.TierSemantic,
			ClassifierUsage: sv.Usage,
		},
		Final: sv.Confidence >= s.HighConfidence,
	}
}

// PriorDecisions looks up the latest decision in a conversation.
type PriorDecisions interface {
	LatestDecision(ctx context.Context, conversationID string) (*store.DecisionRecord, error)
}

// ContextStage upgrades an unsure verdict to a search when the message
// looks like a follow-up to a turn that used search results.
type ContextStage struct {
	Decisions      PriorDecisions
	HighConfidence float64
	MinSimilarity  float64
	Logger         *zap.Logger
}

func (ContextStage) Name() string { return "context" }

func (s ContextStage) Evaluate(ctx context.Context, in Input, prior *Verdict) *Verdict {
	if in.ConversationID == "" || s.Decisions == nil {
		return nil
	}
	priorConfidence := 0.0
	if prior != nil {
		if prior.Confidence >= s.HighConfidence {
			return nil
		}
		priorConfidence = prior.Confidence
	}

	prev, err := s.Decisions.LatestDecision(ctx, in.ConversationID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) && s.Logger != nil {
			s.Logger.Warn("failed to load prior decision", zap.String("conversation_id", in.ConversationID), zap.Error(err))
		}
		return nil
	}
	if !prev.SearchExecuted && !prev.CacheHit {
		return nil
	}

	sim := textproc.Jaccard(textproc.Tokens(in.Message), textproc.Tokens(prev.MessageText))
	if sim < s.MinSimilarity {
		return nil
	}
	confidence := min(0.95, 0.5+sim/2)
	if confidence <= priorConfidence {
		return nil
	}

	d := Decision{
		NeedSearch: true,
		Confidence: confidence,
		Reason:     fmt.Sprintf("follow_up:%.2f", sim),
		SearchType: prev.SearchType,
		Tier:       store.TierContext,
	}
	if d.SearchType == "" || d.SearchType == store.SearchNone {
		d.SearchType = store.SearchGeneral
	}
	if prior != nil {
		d.ClassifierUsage = prior.ClassifierUsage
	}
	return &Verdict{Decision: d, Final: true}
}
