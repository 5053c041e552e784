package research

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/opportunity-intel/internal/resilience"
)

// Guarded wraps an Engine with pacing, retry with backoff, and a circuit
// breaker. Rate-limit responses back off within the same call and never
// trip the breaker.
type Guarded struct {
	inner   Engine
	pacer   *Pacer
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
}

// NewGuarded composes the guards around inner. A nil pacer or breaker
// disables that guard.
func NewGuarded(inner Engine, pacer *Pacer, retry resilience.RetryConfig, breaker *resilience.CircuitBreaker) *Guarded {
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger(inner.Name(), "ask")
	}
	return &Guarded{inner: inner, pacer: pacer, retry: retry, breaker: breaker}
}

// Name implements Engine.
func (g *Guarded) Name() string { return g.inner.Name() }

// Ask implements Engine.
func (g *Guarded) Ask(ctx context.Context, q Query) (*Answer, error) {
	return resilience.DoVal(ctx, g.retry, func(ctx context.Context) (*Answer, error) {
		if g.pacer != nil {
			if err := g.pacer.Wait(ctx); err != nil {
				return nil, err
			}
		}

		ans, err := g.call(ctx, q)
		if g.pacer != nil {
			if resilience.IsRateLimited(err) {
				g.pacer.OnRateLimit()
			} else if err == nil {
				g.pacer.OnSuccess()
			}
		}
		if err != nil {
			zap.L().Debug("research call failed",
				zap.String("engine", g.inner.Name()),
				zap.String("purpose", q.Purpose),
				zap.Error(err),
			)
		}
		return ans, err
	})
}

func (g *Guarded) call(ctx context.Context, q Query) (*Answer, error) {
	if g.breaker == nil {
		return g.inner.Ask(ctx, q)
	}
	return resilience.ExecuteVal(ctx, g.breaker, func(ctx context.Context) (*Answer, error) {
		return g.inner.Ask(ctx, q)
	})
}
