// Package llm defines the upstream LLM call boundary and an Anthropic
// Messages API implementation of it.
package llm

import (
	"context"
	"errors"
)

// ErrEmptyResponse is returned when the provider answers without any text.
var ErrEmptyResponse = errors.New("empty response from LLM provider")

// Client sends one request to an LLM provider.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Message is one conversational turn. Role is "user" or "assistant".
type Message struct {
	Role    string
	Content string
}

// SystemBlock is one segment of the system instruction. Cache marks the
// segment as eligible for provider-side prompt caching.
type SystemBlock struct {
	Text  string
	Cache bool
}

// Request is a provider-agnostic completion request.
type Request struct {
	Model       string
	System      []SystemBlock
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// Usage is the token accounting of one call.
type Usage struct {
	InputTokens         int64
	OutputTokens        int64
	CachedTokens        int64
	CacheCreationTokens int64
}

// Response is the generated text plus usage.
type Response struct {
	Text       string
	Model      string
	StopReason string
	Usage      Usage
}

// ClientFunc adapts a function to the Client interface.
type ClientFunc func(ctx context.Context, req Request) (*Response, error)

// Complete calls f.
func (f ClientFunc) Complete(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}
