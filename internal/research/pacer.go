package research

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Pacer enforces a minimum interval between calls to one engine. After a
// rate-limit response the interval doubles (up to 8x the base); successes
// walk it back toward the base.
type Pacer struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	base     time.Duration
	max      time.Duration
	interval time.Duration
}

// NewPacer creates a pacer allowing one call per interval. A zero interval
// disables pacing.
func NewPacer(interval time.Duration) *Pacer {
	p := &Pacer{base: interval, max: 8 * interval, interval: interval}
	if interval > 0 {
		p.limiter = rate.NewLimiter(rate.Every(interval), 1)
	}
	return p
}

// Wait blocks until the next call is allowed.
func (p *Pacer) Wait(ctx context.Context) error {
	if p.limiter == nil {
		return ctx.Err()
	}
	return p.limiter.Wait(ctx)
}

// OnSuccess shrinks the interval by 20%, not below the base.
func (p *Pacer) OnSuccess() {
	if p.limiter == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	next := time.Duration(float64(p.interval) * 0.8)
	if next < p.base {
		next = p.base
	}
	p.set(next)
}

// OnRateLimit doubles the interval, up to 8x the base.
func (p *Pacer) OnRateLimit() {
	if p.limiter == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	next := p.interval * 2
	if next > p.max {
		next = p.max
	}
	p.set(next)
	zap.L().Warn("research pacer: slowing down after 429",
		zap.Duration("interval", next),
	)
}

// Interval returns the current minimum spacing between calls.
func (p *Pacer) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interval
}

func (p *Pacer) set(d time.Duration) {
	p.interval = d
	p.limiter.SetLimit(rate.Every(d))
}
