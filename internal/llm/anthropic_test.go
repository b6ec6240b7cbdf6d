package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/costgate/internal/config"
)

func testLLMConfig(url string) config.LLMConfig {
	cfg := config.Default().LLM
	cfg.BaseURL = url
	cfg.APIKey = config.Secret("sk-ant-test-key")
	cfg.RateLimit = 100
	return cfg
}

const okBody = `{
	"model": "claude-3-5-haiku-latest",
	"stop_reason": "end_turn",
	"content": [{"type": "text", "text": "Hello"}, {"type": "text", "text": " there"}],
	"usage": {"input_tokens": 120, "output_tokens": 8, "cache_read_input_tokens": 1500, "cache_creation_input_tokens": 40}
}`

func TestNewAnthropicClient_RequiresKey(t *testing.T) {
	_, err := NewAnthropicClient(config.Default().LLM)
	require.Error(t, err)
}

func TestAnthropicClient_Complete(t *testing.T) {
	var captured anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "sk-ant-test-key", r.Header.Get("X-API-Key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("Anthropic-Version"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(okBody))
	}))
	defer srv.Close()

	c, err := NewAnthropicClient(testLLMConfig(srv.URL))
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), Request{
		Model: "claude-3-5-haiku-latest",
		System: []SystemBlock{
			{Text: "long cached system prompt", Cache: true},
			{Text: "small inline block"},
			{Text: ""},
		},
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "Hello there", resp.Text)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, Usage{InputTokens: 120, OutputTokens: 8, CachedTokens: 1500, CacheCreationTokens: 40}, resp.Usage)

	assert.Equal(t, 2048, captured.MaxTokens, "falls back to configured max tokens")
	require.Len(t, captured.System, 2)
	require.NotNil(t, captured.System[0].CacheControl)
	assert.Equal(t, "ephemeral", captured.System[0].CacheControl.Type)
	assert.Nil(t, captured.System[1].CacheControl)
	require.Len(t, captured.Messages, 1)
	assert.Equal(t, "user", captured.Messages[0].Role)
}

func TestAnthropicClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(okBody))
	}))
	defer srv.Close()

	c, err := NewAnthropicClient(testLLMConfig(srv.URL), WithBackoff(time.Millisecond))
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), Request{Model: "m", Messages: []Message{{Role: "user", Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "Hello there", resp.Text)
	assert.Equal(t, int32(3), calls.Load())
}

func TestAnthropicClient_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, err := NewAnthropicClient(testLLMConfig(srv.URL), WithBackoff(time.Millisecond))
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), Request{Model: "m"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")
	assert.Equal(t, int32(3), calls.Load())
}

func TestAnthropicClient_ClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"bad model"}}`))
	}))
	defer srv.Close()

	c, err := NewAnthropicClient(testLLMConfig(srv.URL), WithBackoff(time.Millisecond))
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), Request{Model: "m"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad model")
	assert.Equal(t, int32(1), calls.Load())
}

func TestAnthropicClient_EmptyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"content":[],"usage":{}}`))
	}))
	defer srv.Close()

	c, err := NewAnthropicClient(testLLMConfig(srv.URL))
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), Request{Model: "m"})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestAnthropicClient_HonoursDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c, err := NewAnthropicClient(testLLMConfig(srv.URL), WithBackoff(time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = c.Complete(ctx, Request{Model: "m"})
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestAnthropicClient_LimiterWaitPastDeadline(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(okBody))
	}))
	defer srv.Close()

	cfg := testLLMConfig(srv.URL)
	cfg.RateLimit = 0.1
	c, err := NewAnthropicClient(cfg)
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), Request{Model: "m"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = c.Complete(ctx, Request{Model: "m"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, int32(1), hits.Load())
}
