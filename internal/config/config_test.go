package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, home, body string, perm os.FileMode) string {
	t.Helper()
	dir := filepath.Join(home, ".config", "costgate")
	require.NoError(t, os.MkdirAll(dir, 0700))
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), perm))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 500*time.Millisecond, cfg.Decision.SemanticTimeout)
	assert.Equal(t, 0.7, cfg.Decision.HighConfidence)
	assert.Equal(t, 0.85, cfg.Cache.NearDuplicateThreshold)
	assert.Equal(t, 50, cfg.Cache.NearDuplicateWindow)
	assert.Equal(t, 5, cfg.Compression.RoundThreshold)
	assert.Equal(t, 8000, cfg.Compression.TokenThreshold)
	assert.Equal(t, 0.01, cfg.Search.UnitCost)
	assert.Equal(t, "free", cfg.Quota.DefaultTier)
	assert.Equal(t, TierLimits{Hourly: 10, Daily: 50}, cfg.Quota.Tiers["free"])
	assert.True(t, cfg.Quota.Tiers["unlimited"].Unlimited)
	assert.True(t, cfg.Maintenance.Enabled)
	assert.True(t, cfg.Secrets.Enabled)
	assert.False(t, cfg.Events.Enabled)
}

func TestLoadWithFile_NoFileUsesDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := LoadWithFile("")
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.True(t, cfg.Maintenance.Enabled)
}

func TestLoadWithFile_YAMLAndEnvOverride(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	path := writeConfig(t, home, `
server:
  http_port: 8181
search:
  provider: brave
  unit_cost: 0.02
cache:
  default_ttl: 45m
maintenance:
  enabled: false
quota:
  default_tier: premium
  tiers:
    premium:
      hourly: 3
      daily: 7
`, 0600)

	t.Setenv("SERVER_HTTP_PORT", "8282")
	t.Setenv("LLM_API_KEY", "sk-test-value")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 8282, cfg.Server.Port, "env should override file")
	assert.Equal(t, "brave", cfg.Search.Provider)
	assert.Equal(t, 0.02, cfg.Search.UnitCost)
	assert.Equal(t, 45*time.Minute, cfg.Cache.DefaultTTL)
	assert.False(t, cfg.Maintenance.Enabled, "explicit false must survive default seeding")
	assert.True(t, cfg.Secrets.Enabled)
	assert.Equal(t, TierLimits{Hourly: 3, Daily: 7}, cfg.Quota.Tiers["premium"])
	assert.Equal(t, "sk-test-value", cfg.LLM.APIKey.Value())
}

func TestLoadWithFile_RejectsInsecurePermissions(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	path := writeConfig(t, home, "server:\n  http_port: 8181\n", 0644)

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoadWithFile_RejectsPathOutsideAllowedDirs(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	_, err := LoadWithFile(filepath.Join(t.TempDir(), "config.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config path validation failed")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "invalid server port"},
		{"unknown provider", func(c *Config) { c.Search.Provider = "bing" }, "unknown search provider"},
		{"negative unit cost", func(c *Config) { c.Search.UnitCost = -1 }, "unit_cost"},
		{"confidence out of range", func(c *Config) { c.Decision.HighConfidence = 1.5 }, "decision.high_confidence"},
		{"threshold out of range", func(c *Config) { c.Cache.NearDuplicateThreshold = -0.1 }, "near_duplicate_threshold"},
		{"missing default tier", func(c *Config) { c.Quota.DefaultTier = "gold" }, "default_tier"},
		{"events without url", func(c *Config) {
			c.Events.Enabled = true
			c.Events.NATSURL = ""
		}, "nats_url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "server.http_port", envKey("SERVER_HTTP_PORT"))
	assert.Equal(t, "compression.token_threshold", envKey("COMPRESSION_TOKEN_THRESHOLD"))
	assert.Equal(t, "home", envKey("HOME"))
}

func TestSecret_NeverPrints(t *testing.T) {
	s := Secret("sk-live-123")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "sk-live-123", s.Value())
	b, err := s.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"[REDACTED]"`, string(b))
	assert.Empty(t, Secret("").String())
}

func TestExpandPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	got, err := ExpandPath("~/.config/costgate/costgate.db")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".config/costgate/costgate.db"), got)

	got, err = ExpandPath("/var/lib/costgate.db")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/costgate.db", got)
}
