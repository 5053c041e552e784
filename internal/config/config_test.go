package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sonar-pro", cfg.Perplexity.Model)
	assert.Equal(t, "https://api.perplexity.ai", cfg.Perplexity.BaseURL)
	assert.Equal(t, int64(2048), cfg.Anthropic.MaxTokens)
	assert.Equal(t, 4, cfg.Retry.MaxAttempts)
	assert.Equal(t, 5000, cfg.Retry.RateLimitBackoffMs)
	assert.Equal(t, 20, cfg.Discovery.MinExistingUnits)
	assert.Equal(t, 7, cfg.Discovery.RotationShards)
	assert.InDelta(t, 45, cfg.Scoring.HotThreshold, 0.001)
	assert.InDelta(t, 25, cfg.Scoring.ActiveThreshold, 0.001)
	assert.Equal(t, "memory", cfg.Jobs.Backend)
	assert.Equal(t, 50, cfg.Jobs.MaxErrors)
	assert.Equal(t, 24*time.Hour, cfg.Alerts.DedupWindow())
	assert.Equal(t, 5*time.Second, cfg.Pacing.BetweenItems())
	assert.Equal(t, 8*time.Second, cfg.Pacing.BetweenEngines())
	assert.Equal(t, 6*time.Hour, cfg.Committee.PollInterval())
	assert.Equal(t, 72*time.Hour, cfg.Jobs.Retention())
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
  format: console
server:
  port: 9090
discovery:
  localities:
    - Example City
    - Tel Aviv
pacing:
  between_items_secs: 0.5
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"Example City", "Tel Aviv"}, cfg.Discovery.Localities)
	assert.Equal(t, 500*time.Millisecond, cfg.Pacing.BetweenItems())
	// Defaults still apply for unset values
	assert.Equal(t, 20, cfg.Discovery.MinExistingUnits)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("OPPORTUNITY_STORE_DRIVER", "postgres")
	t.Setenv("OPPORTUNITY_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadDotEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("OPPORTUNITY_SERVER_PORT=3100\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("OPPORTUNITY_SERVER_PORT") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3100, cfg.Server.Port)
}

func TestLoadBadYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0644))

	_, err := Load()
	assert.Error(t, err)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config that passes the value checks.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "postgres"
	cfg.Store.DatabaseURL = "postgres://localhost/opportunity"
	cfg.Jobs.Backend = "memory"
	cfg.Log.Format = "json"
	cfg.Server.Port = 8080
	cfg.Scoring.HotThreshold = 45
	cfg.Scoring.ActiveThreshold = 25
	return cfg
}

func TestValidateStore(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("store"))

	cfg.Store.DatabaseURL = ""
	err := cfg.Validate("store")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url")
}

func TestValidateEnrich_MissingKeys(t *testing.T) {
	cfg := validDefaults()

	err := cfg.Validate("enrich")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "perplexity.key")
	assert.Contains(t, err.Error(), "anthropic.key")

	cfg.Perplexity.Key = "pplx-key"
	cfg.Anthropic.Key = "sk-ant-key"
	assert.NoError(t, cfg.Validate("enrich"))
	assert.NoError(t, cfg.Validate("serve"))
}

func TestValidateDiscovery_NeedsLocalities(t *testing.T) {
	cfg := validDefaults()
	cfg.Perplexity.Key = "pplx-key"

	err := cfg.Validate("discovery")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discovery.localities")

	cfg.Discovery.LocalityFile = "localities.yaml"
	err = cfg.Validate("discovery")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key")
	assert.NotContains(t, err.Error(), "discovery.localities")

	cfg.Anthropic.Key = "sk-ant"
	assert.NoError(t, cfg.Validate("discovery"))

	// Committee polling does not need a rotation.
	assert.NoError(t, cfg.Validate("committee"))
}

func TestValidateDiscovery_SkipEnrichmentDropsValidationKey(t *testing.T) {
	cfg := validDefaults()
	cfg.Perplexity.Key = "pplx-key"
	cfg.Discovery.Localities = []string{"Holon"}

	err := cfg.Validate("discovery")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key")

	cfg.Discovery.SkipEnrichment = true
	assert.NoError(t, cfg.Validate("discovery"))

	cfg.Discovery.SkipEnrichment = false
	assert.NoError(t, cfg.Validate("committee"), "committee polling never enriches")
}

func TestValidateRedisBackend(t *testing.T) {
	cfg := validDefaults()
	cfg.Jobs.Backend = "redis"

	err := cfg.Validate("store")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jobs.redis_url")

	cfg.Jobs.RedisURL = "redis://localhost:6379/0"
	assert.NoError(t, cfg.Validate("store"))
}

func TestValidateValueRanges(t *testing.T) {
	tests := []struct {
		name  string
		apply func(*Config)
		want  string
	}{
		{"driver", func(c *Config) { c.Store.Driver = "mysql" }, "Driver"},
		{"backend", func(c *Config) { c.Jobs.Backend = "etcd" }, "Backend"},
		{"port", func(c *Config) { c.Server.Port = 70000 }, "Port"},
		{"threshold", func(c *Config) { c.Scoring.HotThreshold = 120 }, "HotThreshold"},
		{"jitter", func(c *Config) { c.Retry.Jitter = 1.5 }, "Jitter"},
		{"hour", func(c *Config) { c.Discovery.RunHourUTC = 24 }, "RunHourUTC"},
		{"webhook", func(c *Config) { c.Alerts.WebhookURL = "not a url" }, "WebhookURL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validDefaults()
			tt.apply(cfg)
			err := cfg.Validate("store")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown validation mode")
}
