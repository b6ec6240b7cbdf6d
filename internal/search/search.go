// Package search talks to web-search providers and fetches pages.
//
// Providers return a short ordered list of results plus the time they were
// retrieved. Callers treat every error as "no result"; nothing here is
// fatal to a chat turn.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/costgate/internal/config"
	"github.com/fyrsmithlabs/costgate/internal/store"
)

// ErrMissingAPIKey is returned when a provider is configured without a key.
var ErrMissingAPIKey = errors.New("search provider API key is missing")

// Result is one search hit.
type Result struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	URL     string `json:"url"`
}

// Response is a provider's answer to one query.
type Response struct {
	Query       string           `json:"query"`
	SearchType  store.SearchType `json:"search_type"`
	Provider    string           `json:"provider"`
	Results     []Result         `json:"results"`
	RetrievedAt time.Time        `json:"retrieved_at"`
}

// Provider executes web searches.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, searchType store.SearchType) (*Response, error)
}

// Fetcher retrieves the readable text of a page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

type options struct {
	client   *http.Client
	endpoint string
	now      func() time.Time
	backoff  time.Duration
	limit    rate.Limit
}

// Option configures a provider or fetcher.
type Option func(*options)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.client = c }
}

// WithEndpoint overrides the provider's API URL.
func WithEndpoint(url string) Option {
	return func(o *options) { o.endpoint = url }
}

// WithClock sets the clock used for RetrievedAt.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithRateLimit overrides the provider's request pacing.
func WithRateLimit(r rate.Limit) Option {
	return func(o *options) { o.limit = r }
}

// WithBackoff sets the initial delay between 429 retries.
func WithBackoff(d time.Duration) Option {
	return func(o *options) { o.backoff = d }
}

func buildOptions(timeout time.Duration, endpoint string, opts []Option) options {
	o := options{endpoint: endpoint, now: time.Now, backoff: time.Second, limit: rate.Inf}
	for _, opt := range opts {
		opt(&o)
	}
	if o.client == nil {
		o.client = &http.Client{Timeout: timeout}
	}
	return o
}

// New returns the configured provider, or nil when search is disabled.
func New(cfg config.SearchConfig, opts ...Option) (Provider, error) {
	switch cfg.Provider {
	case "tavily":
		p, err := NewTavily(cfg, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "brave":
		p, err := NewBrave(cfg, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown search provider %q", cfg.Provider)
	}
}

// RenderContext formats a response as a numbered list for the system
// instruction.
func RenderContext(resp *Response) string {
	if resp == nil || len(resp.Results) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Web search results for %q (retrieved %s):\n",
		resp.Query, resp.RetrievedAt.UTC().Format(time.RFC3339))
	for i, r := range resp.Results {
		fmt.Fprintf(&b, "%d. %s\n", i+1, strings.TrimSpace(r.Title))
		if s := strings.TrimSpace(r.Snippet); s != "" {
			fmt.Fprintf(&b, "   %s\n", s)
		}
		if r.URL != "" {
			fmt.Fprintf(&b, "   Source: %s\n", r.URL)
		}
	}
	b.WriteString("Use these results where relevant and cite the sources you rely on.")
	return b.String()
}

// RenderPage formats fetched page text for the system instruction.
func RenderPage(url, text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	return fmt.Sprintf("Content of %s:\n%s", url, text)
}

// EncodePayload serializes a response for the result cache.
func EncodePayload(resp *Response) ([]byte, error) {
	b, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to encode search response: %w", err)
	}
	return b, nil
}

// DecodePayload reverses EncodePayload.
func DecodePayload(payload []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	return &resp, nil
}

// waitRetry sleeps for d or until ctx is done.
func waitRetry(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

const maxRateLimitRetries = 3

func truncateResults(results []Result, limit int) []Result {
	if limit > 0 && len(results) > limit {
		return results[:limit]
	}
	return results
}
