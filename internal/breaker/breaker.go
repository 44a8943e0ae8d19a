// Package breaker provides a per-backend three-state circuit breaker that
// isolates a failing backend for a cooldown period and probes recovery
// before fully resuming.
package breaker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/dskow/datagate-core/internal/metrics"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Normal operation; calls pass through.
	StateOpen                  // Failing; calls are rejected until the cooldown elapses.
	StateHalfOpen              // Probing; calls allowed to test recovery.
)

// String returns a human-readable state name.
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

// Guard is the interface the orchestrator calls around every backend
// operation.
type Guard interface {
	// Allow reports whether a call may proceed. In the open state it also
	// performs the open → half-open transition once the cooldown has
	// elapsed, before deciding.
	Allow() bool

	// RecordSuccess records a successful call with its latency.
	RecordSuccess(latency time.Duration)

	// RecordFailure records a failed call with its latency.
	RecordFailure(latency time.Duration)

	// State returns the current breaker state.
	State() State

	// RetryAfter estimates how long until an open breaker admits a probe.
	// Zero when the breaker is not rejecting.
	RetryAfter() time.Duration

	// Stats returns a snapshot for observability collaborators.
	Stats() Stats

	// Reset forces the breaker back to closed.
	Reset()
}

// Stats is a point-in-time snapshot of breaker state.
type Stats struct {
	State             string  `json:"state"`
	FailureCount      int     `json:"failure_count"`
	SuccessCount      int     `json:"success_count"`
	RetryAfterSeconds float64 `json:"retry_after_seconds"`
}

// Config holds the breaker tunables for one backend.
type Config struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration

	// SlowThreshold, when positive, wraps the breaker so successes slower
	// than the threshold are recorded as failures.
	SlowThreshold time.Duration
}

// ConsecutiveBreaker opens after FailureThreshold consecutive failures in
// the closed state, rejects calls for Timeout after the last failure, then
// probes in half-open and closes again after SuccessThreshold consecutive
// probe successes. A single half-open failure reopens it immediately.
// All transitions serialize under one mutex; one instance is safe for
// concurrent callers.
type ConsecutiveBreaker struct {
	mu sync.Mutex

	state   State
	backend string
	logger  *slog.Logger

	failureThreshold int
	successThreshold int
	timeout          time.Duration

	failureCount int
	successCount int // meaningful only in half-open
	lastFailure  time.Time
}

// New builds the breaker stack for a backend: a ConsecutiveBreaker, wrapped
// by a SlowCallBreaker when cfg.SlowThreshold is set.
func New(backend string, cfg Config, logger *slog.Logger) (Guard, *ConsecutiveBreaker) {
	cb := NewConsecutive(backend, cfg, logger)
	if cfg.SlowThreshold > 0 {
		return NewSlowCall(cb, cfg.SlowThreshold), cb
	}
	return cb, cb
}

// NewConsecutive creates a ConsecutiveBreaker for the given backend.
func NewConsecutive(backend string, cfg Config, logger *slog.Logger) *ConsecutiveBreaker {
	return &ConsecutiveBreaker{
		state:            StateClosed,
		backend:          backend,
		logger:           logger,
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		timeout:          cfg.Timeout,
	}
}

func (b *ConsecutiveBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(b.lastFailure) >= b.timeout {
			b.transitionTo(StateHalfOpen)
			return true
		}
		return false
	case StateHalfOpen:
		return true
	default:
		return true
	}
}

func (b *ConsecutiveBreaker) RecordSuccess(_ time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failureCount = 0
	case StateHalfOpen:
		b.successCount++
		if b.successCount >= b.successThreshold {
			b.transitionTo(StateClosed)
		}
	}
}

func (b *ConsecutiveBreaker) RecordFailure(_ time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.lastFailure = time.Now()

	switch b.state {
	case StateHalfOpen:
		b.transitionTo(StateOpen)
	case StateClosed:
		if b.failureCount >= b.failureThreshold {
			b.transitionTo(StateOpen)
		}
	}
	// Open: the refreshed lastFailure extends the cooldown.
}

func (b *ConsecutiveBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *ConsecutiveBreaker) RetryAfter() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.retryAfterLocked()
}

// retryAfterLocked computes the remaining cooldown. Must be called with
// b.mu held.
func (b *ConsecutiveBreaker) retryAfterLocked() time.Duration {
	if b.state != StateOpen || b.lastFailure.IsZero() {
		return 0
	}
	remaining := b.timeout - time.Since(b.lastFailure)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (b *ConsecutiveBreaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		State:             b.state.String(),
		FailureCount:      b.failureCount,
		SuccessCount:      b.successCount,
		RetryAfterSeconds: b.retryAfterLocked().Seconds(),
	}
}

func (b *ConsecutiveBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionTo(StateClosed)
}

// UpdateConfig updates the breaker tunables at runtime (config hot-reload).
// Thread-safe; the current state and counters are preserved.
func (b *ConsecutiveBreaker) UpdateConfig(cfg Config) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureThreshold = cfg.FailureThreshold
	b.successThreshold = cfg.SuccessThreshold
	b.timeout = cfg.Timeout
}

// transitionTo changes the breaker state, emitting metrics and logging.
// Must be called with b.mu held.
func (b *ConsecutiveBreaker) transitionTo(newState State) {
	if b.state == newState {
		return
	}

	from := b.state
	b.state = newState

	metrics.BreakerStateChanges.WithLabelValues(b.backend, from.String(), newState.String()).Inc()
	metrics.BreakerState.WithLabelValues(b.backend).Set(float64(newState))

	b.logger.Info("circuit breaker state change",
		"backend", b.backend,
		"from", from.String(),
		"to", newState.String(),
	)

	switch newState {
	case StateClosed:
		b.failureCount = 0
		b.successCount = 0
	case StateOpen:
		b.successCount = 0
	case StateHalfOpen:
		// Probe successes start from scratch on every half-open entry.
		b.successCount = 0
	}
}
