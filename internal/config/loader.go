package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB
)

var enabledByDefault = map[string]bool{
	"maintenance.enabled": true,
	"secrets.enabled":     true,
}

// LoadWithFile loads configuration from YAML file, then overrides with environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (SERVER_HTTP_PORT, LLM_API_KEY, etc.)
//  2. YAML config file (~/.config/costgate/config.yaml)
//  3. Hardcoded defaults
//
// The configPath parameter specifies the YAML file to load. If empty, uses default path.
//
// # Security Considerations
//
// The configuration file holds provider API keys, so it MUST have 0600 or
// 0400 permissions and live in ~/.config/costgate/ or /etc/costgate/.
// Files larger than 1MB are rejected.
//
// # Environment Variable Mapping
//
// Environment variables are split on the first underscore into section and field:
//
//	SERVER_HTTP_PORT        -> server.http_port
//	LLM_API_KEY             -> llm.api_key
//	CACHE_DEFAULT_TTL       -> cache.default_ttl
//	COMPRESSION_TOKEN_THRESHOLD -> compression.token_threshold
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	// Switches that default to on must be seeded before the file and env load,
	// otherwise an absent key is indistinguishable from an explicit false.
	for key, v := range enabledByDefault {
		if err := k.Set(key, v); err != nil {
			return nil, fmt.Errorf("failed to seed default %s: %w", key, err)
		}
	}

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "costgate", "config.yaml")
	}

	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		// Open once and validate using the descriptor to avoid a TOCTOU race
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}

		if err := validateConfigFileProperties(info); err != nil {
			return nil, fmt.Errorf("config file validation failed: %w", err)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// envKey maps SECTION_FIELD_NAME to section.field_name.
// Only the first underscore separates section from field.
func envKey(s string) string {
	lower := strings.ToLower(s)
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// validateConfigPath checks if path is in allowed directories.
// This validation runs even if the file doesn't exist yet.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	// Follow symlinks so they cannot escape the allowed directories
	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		resolvedPath = absPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	allowedDirs := []string{
		filepath.Join(home, ".config", "costgate"),
		"/etc/costgate",
	}

	for _, dir := range allowedDirs {
		if strings.HasPrefix(resolvedPath, dir) {
			return nil
		}
	}

	return fmt.Errorf("config file must be in ~/.config/costgate/ or /etc/costgate/")
}

// validateConfigFileProperties checks file permissions and size.
func validateConfigFileProperties(info os.FileInfo) error {
	// Skip on Windows (different permission model)
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}

	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9090
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Store.Path == "" {
		cfg.Store.Path = "~/.config/costgate/costgate.db"
	}

	// LLM defaults
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = "https://api.anthropic.com"
	}
	if cfg.LLM.CheapModel == "" {
		cfg.LLM.CheapModel = "claude-3-5-haiku-latest"
	}
	if cfg.LLM.StrongModel == "" {
		cfg.LLM.StrongModel = "claude-sonnet-4-5"
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 2048
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = 60 * time.Second
	}
	if cfg.LLM.RateLimit == 0 {
		cfg.LLM.RateLimit = 5
	}
	if cfg.LLM.MaxRetries == 0 {
		cfg.LLM.MaxRetries = 2
	}

	// Search defaults
	if cfg.Search.Provider == "" {
		cfg.Search.Provider = "tavily"
	}
	if cfg.Search.UnitCost == 0 {
		cfg.Search.UnitCost = 0.01
	}
	if cfg.Search.Timeout == 0 {
		cfg.Search.Timeout = 10 * time.Second
	}
	if cfg.Search.MaxResults == 0 {
		cfg.Search.MaxResults = 5
	}

	// Decision defaults
	if cfg.Decision.SemanticTimeout == 0 {
		cfg.Decision.SemanticTimeout = 500 * time.Millisecond
	}
	if cfg.Decision.HighConfidence == 0 {
		cfg.Decision.HighConfidence = 0.7
	}
	if cfg.Decision.FollowUpSimilarity == 0 {
		cfg.Decision.FollowUpSimilarity = 0.4
	}
	if cfg.Decision.MustSearchConfidence == 0 {
		cfg.Decision.MustSearchConfidence = 0.95
	}
	if cfg.Decision.NoSearchConfidence == 0 {
		cfg.Decision.NoSearchConfidence = 0.9
	}

	// Cache defaults
	if cfg.Cache.NearDuplicateWindow == 0 {
		cfg.Cache.NearDuplicateWindow = 50
	}
	if cfg.Cache.NearDuplicateThreshold == 0 {
		cfg.Cache.NearDuplicateThreshold = 0.85
	}
	if cfg.Cache.DefaultTTL == 0 {
		cfg.Cache.DefaultTTL = 30 * time.Minute
	}
	if cfg.Cache.NewsTTL == 0 {
		cfg.Cache.NewsTTL = 6 * time.Hour
	}
	if cfg.Cache.StableTTL == 0 {
		cfg.Cache.StableTTL = 7 * 24 * time.Hour
	}

	// Compression defaults
	if cfg.Compression.RoundThreshold == 0 {
		cfg.Compression.RoundThreshold = 5
	}
	if cfg.Compression.TokenThreshold == 0 {
		cfg.Compression.TokenThreshold = 8000
	}
	if cfg.Compression.RecentExchanges == 0 {
		cfg.Compression.RecentExchanges = 4
	}
	if cfg.Compression.CharsPerToken == 0 {
		cfg.Compression.CharsPerToken = 4
	}
	if cfg.Compression.SystemCacheMinTokens == 0 {
		cfg.Compression.SystemCacheMinTokens = 1024
	}
	if cfg.Compression.SummaryCacheMinTokens == 0 {
		cfg.Compression.SummaryCacheMinTokens = 512
	}
	if cfg.Compression.SummaryMaxTokens == 0 {
		cfg.Compression.SummaryMaxTokens = 1024
	}

	// Quota defaults
	if cfg.Quota.DefaultTier == "" {
		cfg.Quota.DefaultTier = "free"
	}
	if len(cfg.Quota.Tiers) == 0 {
		cfg.Quota.Tiers = map[string]TierLimits{
			"free":      {Hourly: 10, Daily: 50},
			"premium":   {Hourly: 100, Daily: 1000},
			"unlimited": {Unlimited: true},
		}
	}

	// Pricing defaults (USD per million tokens)
	if cfg.Pricing.Cheap == (ModelPrice{}) {
		cfg.Pricing.Cheap = ModelPrice{InputPerMTok: 0.80, OutputPerMTok: 4.00}
	}
	if cfg.Pricing.Strong == (ModelPrice{}) {
		cfg.Pricing.Strong = ModelPrice{InputPerMTok: 3.00, OutputPerMTok: 15.00}
	}
	if cfg.Pricing.CacheReadFactor == 0 {
		cfg.Pricing.CacheReadFactor = 0.10
	}
	if cfg.Pricing.CacheWriteFactor == 0 {
		cfg.Pricing.CacheWriteFactor = 1.25
	}
	if cfg.Pricing.ComplexMinChars == 0 {
		cfg.Pricing.ComplexMinChars = 600
	}

	// Maintenance defaults
	if cfg.Maintenance.Schedule == "" {
		cfg.Maintenance.Schedule = "@every 30m"
	}
	if cfg.Maintenance.DecisionRetention == 0 {
		cfg.Maintenance.DecisionRetention = 30 * 24 * time.Hour
	}
	if cfg.Maintenance.StatsRetention == 0 {
		cfg.Maintenance.StatsRetention = 60 * 24 * time.Hour
	}

	// Events defaults
	if cfg.Events.NATSURL == "" {
		cfg.Events.NATSURL = "nats://localhost:4222"
	}
	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = "costgate.turns"
	}

	// Observability defaults
	if cfg.Observability.LogLevel == "" {
		cfg.Observability.LogLevel = "info"
	}
	if cfg.Observability.LogFormat == "" {
		cfg.Observability.LogFormat = "json"
	}
	if cfg.Observability.OTLPEndpoint == "" {
		cfg.Observability.OTLPEndpoint = "localhost:4317"
	}
	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "costgate"
	}
}

// ExpandPath replaces a leading ~ with the user's home directory.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
