// Package config loads application configuration from config.yaml, a .env
// file and OPPORTUNITY_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Perplexity PerplexityConfig `yaml:"perplexity" mapstructure:"perplexity"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Pacing     PacingConfig     `yaml:"pacing" mapstructure:"pacing"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Circuit    CircuitConfig    `yaml:"circuit" mapstructure:"circuit"`
	Discovery  DiscoveryConfig  `yaml:"discovery" mapstructure:"discovery"`
	Committee  CommitteeConfig  `yaml:"committee" mapstructure:"committee"`
	Scoring    ScoringConfig    `yaml:"scoring" mapstructure:"scoring"`
	Alerts     AlertsConfig     `yaml:"alerts" mapstructure:"alerts"`
	Jobs       JobsConfig       `yaml:"jobs" mapstructure:"jobs"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver" validate:"oneof=postgres sqlite"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns" validate:"gte=0"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns" validate:"gte=0"`
}

// PerplexityConfig holds settings for the web-research engine.
type PerplexityConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url" validate:"omitempty,url"`
	Model       string `yaml:"model" mapstructure:"model"`
	DeepModel   string `yaml:"deep_model" mapstructure:"deep_model"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs" validate:"gte=0"`
}

// AnthropicConfig holds settings for the validation engine.
type AnthropicConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	Model       string `yaml:"model" mapstructure:"model"`
	DeepModel   string `yaml:"deep_model" mapstructure:"deep_model"`
	MaxTokens   int64  `yaml:"max_tokens" mapstructure:"max_tokens" validate:"gte=0"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs" validate:"gte=0"`
}

// PacingConfig sets the mandatory delays around external research calls.
type PacingConfig struct {
	BetweenItemsSecs   float64 `yaml:"between_items_secs" mapstructure:"between_items_secs" validate:"gte=0"`
	BetweenEnginesSecs float64 `yaml:"between_engines_secs" mapstructure:"between_engines_secs" validate:"gte=0"`
	EngineIntervalSecs float64 `yaml:"engine_interval_secs" mapstructure:"engine_interval_secs" validate:"gte=0"`
}

// BetweenItems returns the delay after each batch item.
func (p PacingConfig) BetweenItems() time.Duration { return secs(p.BetweenItemsSecs) }

// BetweenEngines returns the delay between the two engines for one item.
func (p PacingConfig) BetweenEngines() time.Duration { return secs(p.BetweenEnginesSecs) }

// EngineInterval returns the minimum spacing of calls to one engine.
func (p PacingConfig) EngineInterval() time.Duration { return secs(p.EngineIntervalSecs) }

// RetryConfig controls backoff for external research calls.
type RetryConfig struct {
	MaxAttempts        int     `yaml:"max_attempts" mapstructure:"max_attempts" validate:"gte=0"`
	InitialBackoffMs   int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms" validate:"gte=0"`
	RateLimitBackoffMs int     `yaml:"rate_limit_backoff_ms" mapstructure:"rate_limit_backoff_ms" validate:"gte=0"`
	MaxBackoffMs       int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms" validate:"gte=0"`
	Multiplier         float64 `yaml:"multiplier" mapstructure:"multiplier" validate:"gte=0"`
	Jitter             float64 `yaml:"jitter" mapstructure:"jitter" validate:"gte=0,lte=1"`
}

// CircuitConfig controls the per-engine circuit breakers.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold" validate:"gte=0"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs" validate:"gte=0"`
	HalfOpenProbes   int `yaml:"half_open_probes" mapstructure:"half_open_probes" validate:"gte=0"`
}

// DiscoveryConfig configures new-entity discovery.
type DiscoveryConfig struct {
	MinExistingUnits int      `yaml:"min_existing_units" mapstructure:"min_existing_units" validate:"gte=0"`
	Localities       []string `yaml:"localities" mapstructure:"localities"`
	LocalityFile     string   `yaml:"locality_file" mapstructure:"locality_file"`
	RotationShards   int      `yaml:"rotation_shards" mapstructure:"rotation_shards" validate:"gte=0"`
	RunHourUTC       int      `yaml:"run_hour_utc" mapstructure:"run_hour_utc" validate:"gte=0,lte=23"`
	// SkipEnrichment stores discovered entities without enriching them, so
	// discovery runs without the validation engine.
	SkipEnrichment bool `yaml:"skip_enrichment" mapstructure:"skip_enrichment"`
}

// CommitteeConfig configures committee polling.
type CommitteeConfig struct {
	PollIntervalMins int `yaml:"poll_interval_mins" mapstructure:"poll_interval_mins" validate:"gte=0"`
	BatchLimit       int `yaml:"batch_limit" mapstructure:"batch_limit" validate:"gte=0"`
	StaleHours       int `yaml:"stale_hours" mapstructure:"stale_hours" validate:"gte=0"`
}

// PollInterval returns the committee polling interval.
func (c CommitteeConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMins) * time.Minute
}

// ScoringConfig holds tier cut-offs and derived-alert thresholds.
type ScoringConfig struct {
	HotThreshold            float64 `yaml:"hot_threshold" mapstructure:"hot_threshold" validate:"gte=0,lte=100"`
	ActiveThreshold         float64 `yaml:"active_threshold" mapstructure:"active_threshold" validate:"gte=0,lte=100"`
	OpportunityThreshold    float64 `yaml:"opportunity_threshold" mapstructure:"opportunity_threshold" validate:"gte=0,lte=100"`
	StressedSellerThreshold float64 `yaml:"stressed_seller_threshold" mapstructure:"stressed_seller_threshold" validate:"gte=0,lte=100"`
	PriceDropAlertPct       float64 `yaml:"price_drop_alert_pct" mapstructure:"price_drop_alert_pct" validate:"gte=0,lte=100"`
}

// AlertsConfig configures alert de-duplication and delivery.
type AlertsConfig struct {
	DedupWindowHours int    `yaml:"dedup_window_hours" mapstructure:"dedup_window_hours" validate:"gte=0"`
	WebhookURL       string `yaml:"webhook_url" mapstructure:"webhook_url" validate:"omitempty,url"`
}

// DedupWindow returns the alert de-duplication window.
func (a AlertsConfig) DedupWindow() time.Duration {
	return time.Duration(a.DedupWindowHours) * time.Hour
}

// JobsConfig configures the batch job store.
type JobsConfig struct {
	Backend        string `yaml:"backend" mapstructure:"backend" validate:"oneof=memory redis"`
	RedisURL       string `yaml:"redis_url" mapstructure:"redis_url"`
	MaxErrors      int    `yaml:"max_errors" mapstructure:"max_errors" validate:"gte=0"`
	RetentionHours int    `yaml:"retention_hours" mapstructure:"retention_hours" validate:"gte=0"`
}

// Retention returns how long finished jobs are kept.
func (j JobsConfig) Retention() time.Duration {
	return time.Duration(j.RetentionHours) * time.Hour
}

// ServerConfig configures the HTTP job surface.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port" validate:"gte=0,lte=65535"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=json console"`
}

func secs(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("OPPORTUNITY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar-pro")
	v.SetDefault("perplexity.deep_model", "sonar-deep-research")
	v.SetDefault("perplexity.timeout_secs", 60)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.deep_model", "claude-opus-4-6")
	v.SetDefault("anthropic.max_tokens", 2048)
	v.SetDefault("anthropic.timeout_secs", 300)
	v.SetDefault("pacing.between_items_secs", 5)
	v.SetDefault("pacing.between_engines_secs", 8)
	v.SetDefault("pacing.engine_interval_secs", 3)
	v.SetDefault("retry.max_attempts", 4)
	v.SetDefault("retry.initial_backoff_ms", 1000)
	v.SetDefault("retry.rate_limit_backoff_ms", 5000)
	v.SetDefault("retry.max_backoff_ms", 120000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter", 0.25)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 60)
	v.SetDefault("circuit.half_open_probes", 1)
	v.SetDefault("discovery.min_existing_units", 20)
	v.SetDefault("discovery.rotation_shards", 7)
	v.SetDefault("discovery.run_hour_utc", 3)
	v.SetDefault("discovery.skip_enrichment", false)
	v.SetDefault("committee.poll_interval_mins", 360)
	v.SetDefault("committee.batch_limit", 50)
	v.SetDefault("committee.stale_hours", 72)
	v.SetDefault("scoring.hot_threshold", 45)
	v.SetDefault("scoring.active_threshold", 25)
	v.SetDefault("scoring.opportunity_threshold", 45)
	v.SetDefault("scoring.stressed_seller_threshold", 60)
	v.SetDefault("scoring.price_drop_alert_pct", 10)
	v.SetDefault("alerts.dedup_window_hours", 24)
	v.SetDefault("jobs.backend", "memory")
	v.SetDefault("jobs.max_errors", 50)
	v.SetDefault("jobs.retention_hours", 72)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

var validate = validator.New()

// Validate checks value ranges and the collaborator settings a command
// needs. Modes: "serve", "discovery", "enrich", "committee", "store".
// Every mode needs a reachable store.
func (c *Config) Validate(mode string) error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return eris.Errorf("config: invalid values: %s", strings.Join(msgs, "; "))
		}
		return eris.Wrap(err, "config: validate")
	}

	var missing []string
	if c.Store.DatabaseURL == "" {
		missing = append(missing, "store.database_url")
	}
	if c.Jobs.Backend == "redis" && c.Jobs.RedisURL == "" {
		missing = append(missing, "jobs.redis_url")
	}

	switch mode {
	case "serve", "enrich":
		if c.Perplexity.Key == "" {
			missing = append(missing, "perplexity.key")
		}
		if c.Anthropic.Key == "" {
			missing = append(missing, "anthropic.key")
		}
	case "discovery", "committee":
		if c.Perplexity.Key == "" {
			missing = append(missing, "perplexity.key")
		}
		if mode == "discovery" {
			if c.Anthropic.Key == "" && !c.Discovery.SkipEnrichment {
				missing = append(missing, "anthropic.key")
			}
			if len(c.Discovery.Localities) == 0 && c.Discovery.LocalityFile == "" {
				missing = append(missing, "discovery.localities")
			}
		}
	case "store":
	default:
		return eris.Errorf("config: unknown validation mode %q", mode)
	}

	if len(missing) > 0 {
		return eris.Errorf("config: missing required keys for %s: %s", mode, strings.Join(missing, ", "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
