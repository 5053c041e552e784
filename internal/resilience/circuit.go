// Package resilience provides retry and circuit breaker patterns for calls to
// research engines and other external collaborators.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed is the normal operating state. Requests flow through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means too many failures. Requests are rejected immediately.
	CircuitOpen
	// CircuitHalfOpen allows probe requests to test recovery.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON status payloads.
func (s CircuitState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ErrCircuitOpen matches every OpenError.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// OpenError rejects a call to an engine whose breaker is open.
type OpenError struct {
	Engine  string
	RetryIn time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("%s: circuit open, retry in %s", e.Engine, e.RetryIn.Round(time.Second))
}

// Is makes errors.Is(err, ErrCircuitOpen) hold.
func (e *OpenError) Is(target error) bool { return target == ErrCircuitOpen }

// CircuitBreakerConfig controls circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening
	// the circuit. Default: 5.
	FailureThreshold int

	// ResetTimeout is how long the circuit stays open before a probe is
	// allowed. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMaxProbes is the number of successful probes required before
	// closing the circuit. Default: 1.
	HalfOpenMaxProbes int

	// ShouldTrip overrides DefaultShouldTrip.
	ShouldTrip func(err error) bool

	// OnStateChange is called on every transition, after it is logged.
	OnStateChange func(engine string, from, to CircuitState)
}

// DefaultShouldTrip counts every error except caller cancellation and rate
// limiting. A 429 means the engine is healthy but busy; the retry backoff
// handles it.
func DefaultShouldTrip(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return !IsRateLimited(err)
}

// DefaultCircuitBreakerConfig returns the breaker settings for research engines.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:  5,
		ResetTimeout:      30 * time.Second,
		HalfOpenMaxProbes: 1,
	}
}

// CircuitBreaker guards the calls to one engine.
type CircuitBreaker struct {
	engine string
	cfg    CircuitBreakerConfig

	mu                  sync.Mutex
	state               CircuitState
	consecutiveFailures int
	openedAt            time.Time
	halfOpenSuccesses   int
	lastError           string

	now func() time.Time
}

// NewCircuitBreaker creates a closed breaker for the named engine. Zero
// config fields take their defaults.
func NewCircuitBreaker(engine string, cfg CircuitBreakerConfig) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	if cfg.HalfOpenMaxProbes <= 0 {
		cfg.HalfOpenMaxProbes = def.HalfOpenMaxProbes
	}
	if cfg.ShouldTrip == nil {
		cfg.ShouldTrip = DefaultShouldTrip
	}
	return &CircuitBreaker{engine: engine, cfg: cfg, state: CircuitClosed, now: time.Now}
}

// ExecuteVal runs fn through the breaker and records its outcome. It returns
// an *OpenError without calling fn while the circuit is open.
func ExecuteVal[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := cb.allow(); err != nil {
		return zero, err
	}
	val, err := fn(ctx)
	cb.record(err)
	return val, err
}

// State returns the current circuit state. An open circuit whose reset
// timeout has elapsed reports half-open.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return CircuitHalfOpen
	}
	return cb.state
}

// BreakerStatus is a point-in-time view of one engine's breaker.
type BreakerStatus struct {
	Engine    string       `json:"engine"`
	State     CircuitState `json:"state"`
	Failures  int          `json:"consecutive_failures"`
	LastError string       `json:"last_error,omitempty"`
}

// Status returns the breaker's current view.
func (cb *CircuitBreaker) Status() BreakerStatus {
	state := cb.State()
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return BreakerStatus{
		Engine:    cb.engine,
		State:     state,
		Failures:  cb.consecutiveFailures,
		LastError: cb.lastError,
	}
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != CircuitOpen {
		return nil
	}
	elapsed := cb.now().Sub(cb.openedAt)
	if elapsed >= cb.cfg.ResetTimeout {
		cb.transition(CircuitHalfOpen)
		return nil
	}
	return &OpenError{Engine: cb.engine, RetryIn: cb.cfg.ResetTimeout - elapsed}
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil || !cb.cfg.ShouldTrip(err) {
		switch cb.state {
		case CircuitHalfOpen:
			cb.halfOpenSuccesses++
			if cb.halfOpenSuccesses >= cb.cfg.HalfOpenMaxProbes {
				cb.consecutiveFailures = 0
				cb.halfOpenSuccesses = 0
				cb.lastError = ""
				cb.transition(CircuitClosed)
			}
		case CircuitClosed:
			cb.consecutiveFailures = 0
		}
		return
	}

	cb.consecutiveFailures++
	cb.lastError = err.Error()
	switch cb.state {
	case CircuitClosed:
		if cb.consecutiveFailures >= cb.cfg.FailureThreshold {
			cb.openedAt = cb.now()
			cb.transition(CircuitOpen)
		}
	case CircuitHalfOpen:
		// A failed probe reopens for a full timeout.
		cb.openedAt = cb.now()
		cb.halfOpenSuccesses = 0
		cb.transition(CircuitOpen)
	}
}

// transition is called with mu held.
func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	cb.state = to
	log := zap.L().With(zap.String("engine", cb.engine), zap.Stringer("from", from), zap.Stringer("to", to))
	if to == CircuitOpen {
		log.Warn("circuit opened", zap.Int("consecutive_failures", cb.consecutiveFailures), zap.String("last_error", cb.lastError))
	} else {
		log.Info("circuit state changed")
	}
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.engine, from, to)
	}
}

// ServiceBreakers holds one breaker per research engine.
type ServiceBreakers struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	cfg      CircuitBreakerConfig
}

// NewServiceBreakers creates a registry of per-engine breakers sharing cfg.
func NewServiceBreakers(cfg CircuitBreakerConfig) *ServiceBreakers {
	return &ServiceBreakers{breakers: make(map[string]*CircuitBreaker), cfg: cfg}
}

// Get returns the breaker for the named engine, creating it if needed.
func (sb *ServiceBreakers) Get(engine string) *CircuitBreaker {
	sb.mu.RLock()
	cb, ok := sb.breakers[engine]
	sb.mu.RUnlock()
	if ok {
		return cb
	}

	sb.mu.Lock()
	defer sb.mu.Unlock()
	if cb, ok = sb.breakers[engine]; ok {
		return cb
	}
	cb = NewCircuitBreaker(engine, sb.cfg)
	sb.breakers[engine] = cb
	return cb
}

// Statuses returns every breaker's view sorted by engine name.
func (sb *ServiceBreakers) Statuses() []BreakerStatus {
	sb.mu.RLock()
	out := make([]BreakerStatus, 0, len(sb.breakers))
	for _, cb := range sb.breakers {
		out = append(out, cb.Status())
	}
	sb.mu.RUnlock()
	slices.SortFunc(out, func(a, b BreakerStatus) int {
		switch {
		case a.Engine < b.Engine:
			return -1
		case a.Engine > b.Engine:
			return 1
		}
		return 0
	})
	return out
}
