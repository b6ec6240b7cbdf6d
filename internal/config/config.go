// Package config provides configuration loading for costgate.
//
// Configuration is loaded from a YAML file with environment variable
// overrides and sensible defaults. Every threshold the request pipeline
// uses (decision confidences, cache TTLs, compression budgets, quota
// limits, token prices) lives here so operators can tune cost behaviour
// without a rebuild.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete costgate configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Store         StoreConfig         `koanf:"store"`
	LLM           LLMConfig           `koanf:"llm"`
	Search        SearchConfig        `koanf:"search"`
	Decision      DecisionConfig      `koanf:"decision"`
	Cache         CacheConfig         `koanf:"cache"`
	Compression   CompressionConfig   `koanf:"compression"`
	Quota         QuotaConfig         `koanf:"quota"`
	Pricing       PricingConfig       `koanf:"pricing"`
	Maintenance   MaintenanceConfig   `koanf:"maintenance"`
	Events        EventsConfig        `koanf:"events"`
	Secrets       SecretsConfig       `koanf:"secrets"`
	Observability ObservabilityConfig `koanf:"observability"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"http_host"`
	Port            int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// StoreConfig holds entity store configuration.
type StoreConfig struct {
	Path string `koanf:"path"` // SQLite database file
}

// LLMConfig holds upstream LLM provider configuration.
type LLMConfig struct {
	BaseURL     string        `koanf:"base_url"`
	APIKey      Secret        `koanf:"api_key"`
	CheapModel  string        `koanf:"cheap_model"`
	StrongModel string        `koanf:"strong_model"`
	MaxTokens   int           `koanf:"max_tokens"`
	Timeout     time.Duration `koanf:"timeout"`
	RateLimit   float64       `koanf:"rate_limit"` // requests per second
	MaxRetries  int           `koanf:"max_retries"`
}

// SearchConfig holds search provider configuration.
type SearchConfig struct {
	Provider   string        `koanf:"provider"` // tavily or brave
	APIKey     Secret        `koanf:"api_key"`
	UnitCost   float64       `koanf:"unit_cost"`
	Timeout    time.Duration `koanf:"timeout"`
	MaxResults int           `koanf:"max_results"`
}

// DecisionConfig holds search decision engine thresholds.
type DecisionConfig struct {
	SemanticTimeout      time.Duration `koanf:"semantic_timeout"`
	HighConfidence       float64       `koanf:"high_confidence"`
	FollowUpSimilarity   float64       `koanf:"follow_up_similarity"`
	MustSearchKeywords   []string      `koanf:"must_search_keywords"`
	NoSearchKeywords     []string      `koanf:"no_search_keywords"`
	ExplicitPhrases      []string      `koanf:"explicit_phrases"`
	MustSearchConfidence float64       `koanf:"must_search_confidence"`
	NoSearchConfidence   float64       `koanf:"no_search_confidence"`
}

// CacheConfig holds search result cache configuration.
type CacheConfig struct {
	NearDuplicateWindow    int           `koanf:"near_duplicate_window"`
	NearDuplicateThreshold float64       `koanf:"near_duplicate_threshold"`
	DefaultTTL             time.Duration `koanf:"default_ttl"`
	NewsTTL                time.Duration `koanf:"news_ttl"`
	StableTTL              time.Duration `koanf:"stable_ttl"`
}

// CompressionConfig holds conversation compression configuration.
type CompressionConfig struct {
	RoundThreshold        int `koanf:"round_threshold"`
	TokenThreshold        int `koanf:"token_threshold"`
	RecentExchanges       int `koanf:"recent_exchanges"`
	CharsPerToken         int `koanf:"chars_per_token"`
	SystemCacheMinTokens  int `koanf:"system_cache_min_tokens"`
	SummaryCacheMinTokens int `koanf:"summary_cache_min_tokens"`
	SummaryMaxTokens      int `koanf:"summary_max_tokens"`
}

// QuotaConfig maps quota tiers to search limits.
type QuotaConfig struct {
	DefaultTier string                `koanf:"default_tier"`
	Tiers       map[string]TierLimits `koanf:"tiers"`
}

// TierLimits holds hourly and daily search limits for one tier.
// Unlimited tiers skip counting entirely.
type TierLimits struct {
	Hourly    int  `koanf:"hourly"`
	Daily     int  `koanf:"daily"`
	Unlimited bool `koanf:"unlimited"`
}

// PricingConfig holds per-model-tier token prices in USD per million tokens.
type PricingConfig struct {
	Cheap              ModelPrice `koanf:"cheap"`
	Strong             ModelPrice `koanf:"strong"`
	CacheReadFactor    float64    `koanf:"cache_read_factor"`
	CacheWriteFactor   float64    `koanf:"cache_write_factor"`
	ComplexMinChars    int        `koanf:"complex_min_chars"`
	ComplexityKeywords []string   `koanf:"complexity_keywords"`
}

// ModelPrice holds input and output prices for one model tier.
type ModelPrice struct {
	InputPerMTok  float64 `koanf:"input_per_mtok"`
	OutputPerMTok float64 `koanf:"output_per_mtok"`
}

// MaintenanceConfig holds TTL sweep configuration.
type MaintenanceConfig struct {
	Enabled           bool          `koanf:"enabled"`
	Schedule          string        `koanf:"schedule"`
	DecisionRetention time.Duration `koanf:"decision_retention"`
	StatsRetention    time.Duration `koanf:"stats_retention"`
}

// EventsConfig holds NATS event publishing configuration.
type EventsConfig struct {
	Enabled       bool   `koanf:"enabled"`
	NATSURL       string `koanf:"nats_url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// SecretsConfig controls scrubbing of text that leaves the process.
type SecretsConfig struct {
	Enabled       bool   `koanf:"enabled"`
	AllowlistPath string `koanf:"allowlist_path"`
}

// ObservabilityConfig holds logging and OpenTelemetry switches.
type ObservabilityConfig struct {
	LogLevel        string `koanf:"log_level"`
	LogFormat       string `koanf:"log_format"`
	EnableTelemetry bool   `koanf:"enable_telemetry"`
	OTLPEndpoint    string `koanf:"otlp_endpoint"`
	OTLPProtocol    string `koanf:"otlp_protocol"`
	ServiceName     string `koanf:"service_name"`
}

// Default returns a configuration with every field set to its default.
func Default() *Config {
	cfg := &Config{
		Maintenance: MaintenanceConfig{Enabled: true},
		Secrets:     SecretsConfig{Enabled: true},
	}
	applyDefaults(cfg)
	return cfg
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.Store.Path == "" {
		return errors.New("store path is required")
	}

	if c.LLM.CheapModel == "" || c.LLM.StrongModel == "" {
		return errors.New("llm cheap_model and strong_model are required")
	}

	switch c.Search.Provider {
	case "tavily", "brave", "none":
	default:
		return fmt.Errorf("unknown search provider %q (must be tavily, brave or none)", c.Search.Provider)
	}
	if c.Search.UnitCost < 0 {
		return errors.New("search unit_cost cannot be negative")
	}

	if err := validateUnit("decision.high_confidence", c.Decision.HighConfidence); err != nil {
		return err
	}
	if err := validateUnit("decision.follow_up_similarity", c.Decision.FollowUpSimilarity); err != nil {
		return err
	}
	if c.Decision.SemanticTimeout <= 0 {
		return errors.New("decision semantic_timeout must be positive")
	}

	if err := validateUnit("cache.near_duplicate_threshold", c.Cache.NearDuplicateThreshold); err != nil {
		return err
	}
	if c.Cache.NearDuplicateWindow < 0 {
		return errors.New("cache near_duplicate_window cannot be negative")
	}

	if c.Compression.RecentExchanges < 1 {
		return errors.New("compression recent_exchanges must be at least 1")
	}
	if c.Compression.CharsPerToken < 1 {
		return errors.New("compression chars_per_token must be at least 1")
	}

	if _, ok := c.Quota.Tiers[c.Quota.DefaultTier]; !ok {
		return fmt.Errorf("quota default_tier %q has no limits configured", c.Quota.DefaultTier)
	}
	for name, tier := range c.Quota.Tiers {
		if !tier.Unlimited && (tier.Hourly < 0 || tier.Daily < 0) {
			return fmt.Errorf("quota tier %q has negative limits", name)
		}
	}

	if c.Maintenance.Enabled && c.Maintenance.Schedule == "" {
		return errors.New("maintenance schedule required when maintenance is enabled")
	}
	if c.Events.Enabled && c.Events.NATSURL == "" {
		return errors.New("events nats_url required when events are enabled")
	}

	return nil
}

func validateUnit(name string, v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%s must be between 0 and 1, got %f", name, v)
	}
	return nil
}
