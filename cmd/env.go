package main

import (
	"context"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/opportunity-intel/internal/alert"
	"github.com/sells-group/opportunity-intel/internal/committee"
	"github.com/sells-group/opportunity-intel/internal/discovery"
	"github.com/sells-group/opportunity-intel/internal/enrichment"
	"github.com/sells-group/opportunity-intel/internal/match"
	"github.com/sells-group/opportunity-intel/internal/research"
	"github.com/sells-group/opportunity-intel/internal/resilience"
	"github.com/sells-group/opportunity-intel/internal/scoring"
	"github.com/sells-group/opportunity-intel/internal/store"
	anthropicpkg "github.com/sells-group/opportunity-intel/pkg/anthropic"
	"github.com/sells-group/opportunity-intel/pkg/perplexity"
)

// appEnv holds the store, engines and services needed by the commands.
// Services whose engines are not configured stay nil.
type appEnv struct {
	Store        store.Store
	Sink         alert.Sink
	Scoring      *scoring.Service
	Localities   *match.LocalityTable
	Matcher      *match.Matcher
	Research     research.Engine
	Validation   research.Engine
	Discovery    *discovery.Service
	Tracker      *committee.Tracker
	Jobs         enrichment.JobStore
	Orchestrator *enrichment.Orchestrator
	Breakers     *resilience.ServiceBreakers

	closers []func() error
}

// Close releases resources in reverse order of acquisition.
func (e *appEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			zap.L().Warn("close resource", zap.Error(err))
		}
	}
}

// initEnv validates the configuration for mode and builds the services it
// needs. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &appEnv{Store: st, closers: []func() error{st.Close}}

	if err := env.initCore(); err != nil {
		env.Close()
		return nil, err
	}
	if mode == "store" {
		return env, nil
	}
	if err := env.initServices(ctx, mode); err != nil {
		env.Close()
		return nil, err
	}
	return env, nil
}

func (e *appEnv) initCore() error {
	var notifier alert.Notifier
	if cfg.Alerts.WebhookURL != "" {
		notifier = alert.NewWebhookNotifier(cfg.Alerts.WebhookURL)
	}
	e.Sink = alert.NewStoreSink(e.Store, cfg.Alerts.DedupWindow(), notifier)
	e.Scoring = scoring.NewService(e.Store, e.Sink, scoringConfig())

	e.Localities = match.DefaultLocalityTable()
	if cfg.Discovery.LocalityFile != "" {
		lt, err := match.LoadLocalityTable(cfg.Discovery.LocalityFile)
		if err != nil {
			return err
		}
		e.Localities = lt
	}
	e.Matcher = match.NewMatcher(e.Store, e.Localities)
	return nil
}

// needsEnrichment reports whether mode hands entities to the orchestrator.
func needsEnrichment(mode string) bool {
	switch mode {
	case "serve", "enrich":
		return true
	case "discovery":
		return !cfg.Discovery.SkipEnrichment
	}
	return false
}

func (e *appEnv) initServices(ctx context.Context, mode string) error {
	c := cfg.Circuit
	breakers := resilience.NewServiceBreakers(
		resilience.FromCircuitConfig(c.FailureThreshold, c.ResetTimeoutSecs, c.HalfOpenProbes))
	e.Breakers = breakers

	if cfg.Perplexity.Key != "" {
		e.Research = guard(research.NewPerplexityEngine(
			perplexity.NewClient(cfg.Perplexity.Key,
				perplexity.WithBaseURL(cfg.Perplexity.BaseURL),
				perplexity.WithModel(cfg.Perplexity.Model),
				perplexity.WithTimeout(time.Duration(cfg.Perplexity.TimeoutSecs)*time.Second),
			),
			cfg.Perplexity.Model, cfg.Perplexity.DeepModel,
		), breakers)
	}
	if cfg.Anthropic.Key != "" {
		var opts []option.RequestOption
		if cfg.Anthropic.TimeoutSecs > 0 {
			opts = append(opts, option.WithRequestTimeout(time.Duration(cfg.Anthropic.TimeoutSecs)*time.Second))
		}
		e.Validation = guard(research.NewClaudeEngine(
			anthropicpkg.NewClient(cfg.Anthropic.Key, opts...),
			cfg.Anthropic.Model, cfg.Anthropic.DeepModel, cfg.Anthropic.MaxTokens,
		), breakers)
	}
	if e.Research == nil {
		return eris.New("research engine is not configured (OPPORTUNITY_PERPLEXITY_KEY)")
	}

	if needsEnrichment(mode) {
		if e.Validation == nil {
			return eris.New("validation engine is not configured (OPPORTUNITY_ANTHROPIC_KEY)")
		}
		jobs, err := initJobStore(ctx)
		if err != nil {
			return err
		}
		if c, ok := jobs.(interface{ Close() error }); ok {
			e.closers = append(e.closers, c.Close)
		}
		e.Jobs = jobs

		orch, err := enrichment.NewOrchestrator(e.Store,
			enrichment.Engines{Research: e.Research, Validation: e.Validation},
			e.Scoring, jobs, orchestratorConfig())
		if err != nil {
			return err
		}
		e.Orchestrator = orch
	}

	var enricher discovery.Enricher
	if e.Orchestrator != nil {
		enricher = e.Orchestrator
	}
	e.Discovery = discovery.NewService(e.Store, e.Research, e.Matcher, e.Sink, enricher, discoveryConfig())
	e.Tracker = committee.NewTracker(e.Store, e.Research, e.Scoring, e.Sink, committeeConfig())
	return nil
}

// guard wraps an engine with its pacer, retry policy and circuit breaker.
func guard(inner research.Engine, breakers *resilience.ServiceBreakers) research.Engine {
	return research.NewGuarded(inner,
		research.NewPacer(cfg.Pacing.EngineInterval()),
		retryConfig(),
		breakers.Get(inner.Name()),
	)
}

func initJobStore(ctx context.Context) (enrichment.JobStore, error) {
	switch cfg.Jobs.Backend {
	case "redis":
		return enrichment.OpenRedisJobStore(ctx, cfg.Jobs.RedisURL, cfg.Jobs.Retention())
	case "", "memory":
		return enrichment.NewMemoryJobStore(), nil
	default:
		return nil, eris.Errorf("unsupported job backend: %s", cfg.Jobs.Backend)
	}
}

// localities returns the localities discovery scans: the configured list,
// else the names declared in the locality file.
func (e *appEnv) localities() []string {
	if len(cfg.Discovery.Localities) > 0 {
		return cfg.Discovery.Localities
	}
	return e.Localities.Listed()
}

func retryConfig() resilience.RetryConfig {
	r := cfg.Retry
	return resilience.FromRetryConfig(r.MaxAttempts, r.InitialBackoffMs, r.RateLimitBackoffMs, r.MaxBackoffMs, r.Multiplier, r.Jitter)
}

func scoringConfig() scoring.Config {
	sc := scoring.DefaultConfig()
	if cfg.Scoring.HotThreshold > 0 {
		sc.Thresholds.Hot = cfg.Scoring.HotThreshold
	}
	if cfg.Scoring.ActiveThreshold > 0 {
		sc.Thresholds.Active = cfg.Scoring.ActiveThreshold
	}
	if cfg.Scoring.OpportunityThreshold > 0 {
		sc.OpportunityThreshold = cfg.Scoring.OpportunityThreshold
	}
	if cfg.Scoring.StressedSellerThreshold > 0 {
		sc.StressedSellerThreshold = cfg.Scoring.StressedSellerThreshold
	}
	if cfg.Scoring.PriceDropAlertPct > 0 {
		sc.PriceDropAlertPct = cfg.Scoring.PriceDropAlertPct
	}
	return sc
}

func orchestratorConfig() enrichment.Config {
	oc := enrichment.DefaultConfig()
	oc.BetweenItems = cfg.Pacing.BetweenItems()
	oc.BetweenEngines = cfg.Pacing.BetweenEngines()
	if cfg.Retry.RateLimitBackoffMs > 0 {
		oc.RateLimitBackoff = time.Duration(cfg.Retry.RateLimitBackoffMs) * time.Millisecond
	}
	if cfg.Jobs.MaxErrors > 0 {
		oc.MaxErrors = cfg.Jobs.MaxErrors
	}
	return oc
}

func discoveryConfig() discovery.Config {
	dc := discovery.DefaultConfig()
	dc.MinExistingUnits = cfg.Discovery.MinExistingUnits
	dc.BetweenLocalities = cfg.Pacing.BetweenEngines()
	dc.SkipEnrichment = cfg.Discovery.SkipEnrichment
	return dc
}

func committeeConfig() committee.Config {
	cc := committee.DefaultConfig()
	cc.BetweenItems = cfg.Pacing.BetweenItems()
	if cfg.Committee.BatchLimit > 0 {
		cc.BatchLimit = cfg.Committee.BatchLimit
	}
	if cfg.Committee.StaleHours > 0 {
		cc.StaleAfter = time.Duration(cfg.Committee.StaleHours) * time.Hour
	}
	return cc
}
