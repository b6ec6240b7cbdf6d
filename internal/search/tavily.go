package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fyrsmithlabs/costgate/internal/config"
	"github.com/fyrsmithlabs/costgate/internal/store"
)

const tavilyEndpoint = "https://api.tavily.com/search"

// Tavily calls the Tavily search API.
type Tavily struct {
	apiKey     config.Secret
	maxResults int
	opts       options
}

// NewTavily constructs a Tavily provider.
func NewTavily(cfg config.SearchConfig, opts ...Option) (*Tavily, error) {
	if !cfg.APIKey.IsSet() {
		return nil, fmt.Errorf("tavily: %w", ErrMissingAPIKey)
	}
	return &Tavily{
		apiKey:     cfg.APIKey,
		maxResults: cfg.MaxResults,
		opts:       buildOptions(cfg.Timeout, tavilyEndpoint, opts),
	}, nil
}

func (t *Tavily) Name() string { return "tavily" }

// Search posts a query. News searches use Tavily's news topic.
func (t *Tavily) Search(ctx context.Context, query string, searchType store.SearchType) (*Response, error) {
	topic := "general"
	if searchType == store.SearchNews {
		topic = "news"
	}
	payload, err := json.Marshal(map[string]any{
		"query":        query,
		"api_key":      t.apiKey.Value(),
		"search_depth": "basic",
		"topic":        topic,
		"max_results":  t.maxResults,
	})
	if err != nil {
		return nil, err
	}

	var resp *http.Response
	delay := t.opts.backoff
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.opts.endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err = t.opts.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("tavily: %w", err)
		}
		if resp.StatusCode != http.StatusTooManyRequests || attempt == maxRateLimitRetries {
			break
		}
		resp.Body.Close()

		if err := waitRetry(ctx, delay); err != nil {
			return nil, err
		}
		if delay < 30*time.Second {
			delay *= 2
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("tavily http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("tavily: decoding response: %w", err)
	}

	results := make([]Result, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		results = append(results, Result{Title: r.Title, URL: r.URL, Snippet: r.Content})
	}
	return &Response{
		Query:       query,
		SearchType:  searchType,
		Provider:    t.Name(),
		Results:     truncateResults(results, t.maxResults),
		RetrievedAt: t.opts.now(),
	}, nil
}
