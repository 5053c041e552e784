package resilience

import (
	"time"
)

// FromRetryConfig builds a RetryConfig from configured values. Zero values
// keep the defaults; a zero jitter is honored.
func FromRetryConfig(maxAttempts, initialBackoffMs, rateLimitBackoffMs, maxBackoffMs int, multiplier, jitterFraction float64) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	cfg.InitialBackoff = millisOr(initialBackoffMs, cfg.InitialBackoff)
	cfg.RateLimitBackoff = millisOr(rateLimitBackoffMs, cfg.RateLimitBackoff)
	cfg.MaxBackoff = millisOr(maxBackoffMs, cfg.MaxBackoff)
	if multiplier >= 1 {
		cfg.Multiplier = multiplier
	}
	if jitterFraction >= 0 && jitterFraction <= 1 {
		cfg.JitterFraction = jitterFraction
	}
	return cfg
}

// FromCircuitConfig builds the breaker settings shared by every engine.
func FromCircuitConfig(failureThreshold, resetTimeoutSecs, halfOpenProbes int) CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	if failureThreshold > 0 {
		cfg.FailureThreshold = failureThreshold
	}
	if resetTimeoutSecs > 0 {
		cfg.ResetTimeout = time.Duration(resetTimeoutSecs) * time.Second
	}
	if halfOpenProbes > 0 {
		cfg.HalfOpenMaxProbes = halfOpenProbes
	}
	return cfg
}

func millisOr(ms int, def time.Duration) time.Duration {
	if ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}
