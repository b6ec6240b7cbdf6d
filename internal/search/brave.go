package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/costgate/internal/config"
	"github.com/fyrsmithlabs/costgate/internal/store"
)

const braveEndpoint = "https://api.search.brave.com/res/v1/web/search"

// Brave uses the Brave Search API. Requests are paced to one per second,
// Brave's free-plan limit.
type Brave struct {
	apiKey     config.Secret
	maxResults int
	limiter    *rate.Limiter
	opts       options
}

// NewBrave constructs a Brave provider.
func NewBrave(cfg config.SearchConfig, opts ...Option) (*Brave, error) {
	if !cfg.APIKey.IsSet() {
		return nil, fmt.Errorf("brave: %w", ErrMissingAPIKey)
	}
	o := buildOptions(cfg.Timeout, braveEndpoint, append([]Option{WithRateLimit(rate.Every(time.Second))}, opts...))
	return &Brave{
		apiKey:     cfg.APIKey,
		maxResults: cfg.MaxResults,
		limiter:    rate.NewLimiter(o.limit, 1),
		opts:       o,
	}, nil
}

func (b *Brave) Name() string { return "brave" }

// Search executes a query. News searches are restricted to the past day.
func (b *Brave) Search(ctx context.Context, query string, searchType store.SearchType) (*Response, error) {
	params := url.Values{}
	params.Set("q", query)
	if b.maxResults > 0 {
		params.Set("count", strconv.Itoa(b.maxResults))
	}
	if searchType == store.SearchNews {
		params.Set("freshness", "pd")
	}
	endpoint := b.opts.endpoint + "?" + params.Encode()

	var resp *http.Response
	for attempt := 0; ; attempt++ {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Subscription-Token", b.apiKey.Value())

		resp, err = b.opts.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("brave: %w", err)
		}
		if resp.StatusCode != http.StatusTooManyRequests || attempt == maxRateLimitRetries {
			break
		}
		wait := braveRetryDelay(resp.Header, b.opts.backoff)
		resp.Body.Close()
		if err := waitRetry(ctx, wait); err != nil {
			return nil, err
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("brave http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("brave: decoding response: %w", err)
	}

	results := make([]Result, 0, len(payload.Web.Results))
	for _, r := range payload.Web.Results {
		results = append(results, Result{Title: r.Title, URL: r.URL, Snippet: r.Description})
	}
	return &Response{
		Query:       query,
		SearchType:  searchType,
		Provider:    b.Name(),
		Results:     truncateResults(results, b.maxResults),
		RetrievedAt: b.opts.now(),
	}, nil
}

// braveRetryDelay reads the smallest value of the comma-separated
// X-RateLimit-Reset header, in seconds.
func braveRetryDelay(h http.Header, fallback time.Duration) time.Duration {
	minReset := -1
	for _, part := range strings.Split(h.Get("X-RateLimit-Reset"), ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 {
			continue
		}
		if minReset < 0 || n < minReset {
			minReset = n
		}
	}
	if minReset <= 0 {
		return fallback
	}
	return time.Duration(minReset) * time.Second
}
