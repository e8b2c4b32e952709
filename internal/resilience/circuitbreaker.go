// Package resilience guards the downstream transport against cascading
// failures.
//
// [CircuitBreaker] is a three-state breaker (closed, open, half-open).
// [BreakerSink] wraps a single [transport.Sink] in a breaker and
// [FallbackSink] routes chunks to the first sink whose breaker admits them.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// rejects calls.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// has elapsed since the last failure.
	StateOpen

	// StateHalfOpen lets a bounded number of probe calls through. Enough
	// successes close the breaker, any failure re-opens it.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels log lines and state change callbacks.
	Name string

	// MaxFailures is the number of consecutive failures that open the
	// breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open. Default: 10s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of successful probes required to close the
	// breaker again. Default: 1.
	HalfOpenMax int

	// OnStateChange, if set, is called after every transition. It runs with
	// the breaker unlocked and must not block.
	OnStateChange func(name string, from, to State)

	// Now overrides the clock. Used by tests.
	Now func() time.Time
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	name          string
	maxFailures   int
	resetTimeout  time.Duration
	halfOpenMax   int
	onStateChange func(name string, from, to State)
	now           func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	probes    int
	probeWins int
	rejected  uint64
}

// NewCircuitBreaker creates a [CircuitBreaker]. Zero-value config fields are
// replaced with defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 10 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{
		name:          cfg.Name,
		maxFailures:   cfg.MaxFailures,
		resetTimeout:  cfg.ResetTimeout,
		halfOpenMax:   cfg.HalfOpenMax,
		onStateChange: cfg.OnStateChange,
		now:           cfg.Now,
	}
}

// Name returns the configured label.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Execute runs fn if the breaker admits the call and records its outcome.
// Rejected calls return [ErrCircuitOpen] without running fn.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, changed, ok := cb.admit()
	cb.notify(changed)
	if !ok {
		return ErrCircuitOpen
	}

	err := fn()

	cb.mu.Lock()
	var t transition
	if err != nil {
		t = cb.recordFailure(probe)
	} else {
		t = cb.recordSuccess(probe)
	}
	cb.mu.Unlock()
	cb.notify(t)
	return err
}

type transition struct {
	from, to State
}

func (cb *CircuitBreaker) admit() (probe bool, t transition, ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.openedAt) < cb.resetTimeout {
			cb.rejected++
			return false, transition{}, false
		}
		t = cb.setState(StateHalfOpen)
		cb.probes, cb.probeWins = 0, 0
	}
	if cb.state == StateHalfOpen {
		if cb.probes >= cb.halfOpenMax {
			cb.rejected++
			return false, t, false
		}
		cb.probes++
		return true, t, true
	}
	return false, t, true
}

// recordFailure must be called with cb.mu held.
func (cb *CircuitBreaker) recordFailure(probe bool) transition {
	if probe || cb.state == StateHalfOpen {
		cb.openedAt = cb.now()
		slog.Warn("circuit breaker re-opened by failed probe", "name", cb.name)
		return cb.setState(StateOpen)
	}
	cb.failures++
	if cb.failures >= cb.maxFailures && cb.state == StateClosed {
		cb.openedAt = cb.now()
		slog.Warn("circuit breaker opened",
			"name", cb.name,
			"consecutive_failures", cb.failures,
		)
		return cb.setState(StateOpen)
	}
	return transition{}
}

// recordSuccess must be called with cb.mu held.
func (cb *CircuitBreaker) recordSuccess(probe bool) transition {
	cb.failures = 0
	if !probe || cb.state != StateHalfOpen {
		return transition{}
	}
	cb.probeWins++
	if cb.probeWins < cb.halfOpenMax {
		return transition{}
	}
	slog.Info("circuit breaker closed after successful probes", "name", cb.name)
	return cb.setState(StateClosed)
}

// setState must be called with cb.mu held.
func (cb *CircuitBreaker) setState(s State) transition {
	t := transition{from: cb.state, to: s}
	cb.state = s
	return t
}

func (cb *CircuitBreaker) notify(t transition) {
	if t.from == t.to || cb.onStateChange == nil {
		return
	}
	cb.onStateChange(cb.name, t.from, t.to)
}

// State returns the current state. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Rejected returns how many calls were refused with [ErrCircuitOpen].
func (cb *CircuitBreaker) Rejected() uint64 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.rejected
}

// Reset forces the breaker back to [StateClosed] and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	t := cb.setState(StateClosed)
	cb.failures, cb.probes, cb.probeWins = 0, 0, 0
	cb.mu.Unlock()
	cb.notify(t)
	slog.Info("circuit breaker manually reset", "name", cb.name)
}
