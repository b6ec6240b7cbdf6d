package decision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/costgate/internal/llm"
	"github.com/fyrsmithlabs/costgate/internal/store"
)

// ErrMalformedVerdict is returned when the classifier's answer cannot be parsed.
var ErrMalformedVerdict = errors.New("malformed classifier verdict")

// Classifier judges whether a message needs a web search.
type Classifier interface {
	Classify(ctx context.Context, message string) (SemanticVerdict, error)
}

// SemanticVerdict is a classifier's structured answer. Usage is filled even
// when the answer could not be parsed.
type SemanticVerdict struct {
	NeedSearch bool
	Confidence float64
	SearchType store.SearchType
	Reason     string
	Usage      llm.Usage
}

const classifierPrompt = `You decide whether answering a chat message requires a live web search.
Answer "yes" only if the answer depends on current events, real-time data, or facts likely to
have changed after your training. Answer "no" for coding, writing, math, explanations and
general knowledge.

Respond with a single JSON object and nothing else:
{"need_search": true|false, "confidence": 0.0-1.0, "search_type": "general|news|data|verification", "reason": "<five words or fewer>"}`

// LLMClassifier asks a cheap model for a yes/no verdict.
type LLMClassifier struct {
	client llm.Client
	model  string
}

// NewLLMClassifier creates a classifier that calls model through client.
func NewLLMClassifier(client llm.Client, model string) *LLMClassifier {
	return &LLMClassifier{client: client, model: model}
}

// Classify sends the fixed prompt and parses the JSON verdict.
func (c *LLMClassifier) Classify(ctx context.Context, message string) (SemanticVerdict, error) {
	resp, err := c.client.Complete(ctx, llm.Request{
		Model:     c.model,
		System:    []llm.SystemBlock{{Text: classifierPrompt}},
		Messages:  []llm.Message{{Role: "user", Content: message}},
		MaxTokens: 100,
	})
	if err != nil {
		return SemanticVerdict{}, err
	}

	v, err := ParseVerdict(resp.Text)
	v.Usage = resp.Usage
	return v, err
}

type wireVerdict struct {
	NeedSearch *bool   `json:"need_search"`
	Confidence float64 `json:"confidence"`
	SearchType string  `json:"search_type"`
	Reason     string  `json:"reason"`
}

// ParseVerdict extracts the first JSON object from text and validates it.
func ParseVerdict(text string) (SemanticVerdict, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return SemanticVerdict{}, fmt.Errorf("%w: no JSON object in %q", ErrMalformedVerdict, clip(text))
	}

	var w wireVerdict
	if err := json.Unmarshal([]byte(text[start:end+1]), &w); err != nil {
		return SemanticVerdict{}, fmt.Errorf("%w: %v", ErrMalformedVerdict, err)
	}
	if w.NeedSearch == nil {
		return SemanticVerdict{}, fmt.Errorf("%w: need_search missing", ErrMalformedVerdict)
	}
	if w.Confidence < 0 || w.Confidence > 1 {
		return SemanticVerdict{}, fmt.Errorf("%w: confidence %f out of range", ErrMalformedVerdict, w.Confidence)
	}

	v := SemanticVerdict{
		NeedSearch: *w.NeedSearch,
		Confidence: w.Confidence,
		Reason:     strings.TrimSpace(w.Reason),
	}
	switch t := store.SearchType(strings.ToLower(strings.TrimSpace(w.SearchType))); t {
	case store.SearchGeneral, store.SearchNews, store.SearchData, store.SearchVerification:
		v.SearchType = t
	}
	return v, nil
}

func clip(s string) string {
	if len(s) > 80 {
		return s[:80] + "..."
	}
	return s
}
