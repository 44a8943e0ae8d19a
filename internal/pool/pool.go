// Package pool provides a bounded connection pool with exponential-backoff
// retry for backend operations. Admission is gated by a timeout; transient
// failures are retried within a bounded budget; every attempt feeds the
// pool's request metrics.
package pool

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go"

	"github.com/dskow/datagate-core/internal/backenderr"
	"github.com/dskow/datagate-core/internal/metrics"
)

// Operation is an opaque backend call supplied by an adapter collaborator.
// It performs the actual I/O and returns a result or a classified error.
type Operation func() (any, error)

// Config holds the pool and retry tunables for one backend.
type Config struct {
	MaxConnections    int
	ConnectionTimeout time.Duration
	MaxRetries        int
	RetryBaseDelay    time.Duration
	RetryMaxDelay     time.Duration
}

// Pool caps concurrent in-flight operations against one backend and runs
// operations under bounded exponential-backoff retry. Safe for concurrent
// use.
type Pool struct {
	backend string
	cfg     Config
	logger  *slog.Logger

	// Channel semaphore: a send acquires a permit, a receive releases it.
	// Pairing every acquire with exactly one release keeps the available
	// count in [0, MaxConnections] by construction.
	sem chan struct{}

	metrics *RequestMetrics
	healthy atomic.Bool
}

// Health is the snapshot returned by HealthCheck.
type Health struct {
	Healthy              bool            `json:"healthy"`
	Metrics              MetricsSnapshot `json:"metrics"`
	AvailableConnections int             `json:"available_connections"`
	MaxConnections       int             `json:"max_connections"`
}

// New creates a Pool for the given backend.
func New(backend string, cfg Config, logger *slog.Logger) *Pool {
	p := &Pool{
		backend: backend,
		cfg:     cfg,
		logger:  logger,
		sem:     make(chan struct{}, cfg.MaxConnections),
		metrics: &RequestMetrics{},
	}
	p.healthy.Store(true)
	return p
}

// ExecuteWithRetry runs op at most MaxRetries+1 times. Each attempt first
// acquires a pool permit within ConnectionTimeout; admission timeout counts
// as a failed, retryable attempt. Only retryable errors (see
// backenderr.IsRetryable) consume further retry budget; anything else
// propagates on first occurrence. The backoff before attempt n+1 is
// min(RetryBaseDelay * 2^n, RetryMaxDelay), with no sleep after the final
// attempt. On exhaustion the last transient error is returned and the pool
// is marked unhealthy until the next success.
//
// ctx cancels admission waits and backoff sleeps only; an operation that
// has started runs to completion.
func (p *Pool) ExecuteWithRetry(ctx context.Context, op Operation) (any, error) {
	var result any

	err := retry.Do(
		func() error {
			start := time.Now()

			if err := p.acquire(ctx); err != nil {
				p.recordFailure(time.Since(start))
				return err
			}

			v, err := p.run(op)
			latency := time.Since(start)
			if err != nil {
				p.recordFailure(latency)
				return err
			}

			p.recordSuccess(latency)
			result = v
			return nil
		},
		retry.Attempts(uint(p.cfg.MaxRetries)+1),
		retry.Delay(p.cfg.RetryBaseDelay),
		retry.MaxDelay(p.cfg.RetryMaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(backenderr.IsRetryable),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			metrics.RetriesTotal.WithLabelValues(p.backend).Inc()
			p.logger.Warn("operation failed",
				"backend", p.backend,
				"attempt", n+1,
				"max_attempts", p.cfg.MaxRetries+1,
				"error", err,
			)
		}),
	)
	if err != nil {
		if backenderr.IsRetryable(err) {
			// Retry budget exhausted on a transient fault.
			p.healthy.Store(false)
		}
		return nil, err
	}
	return result, nil
}

// acquire blocks until a permit is free, the admission timeout elapses, or
// ctx is cancelled.
func (p *Pool) acquire(ctx context.Context) error {
	timer := time.NewTimer(p.cfg.ConnectionTimeout)
	defer timer.Stop()

	select {
	case p.sem <- struct{}{}:
		metrics.PoolInFlight.WithLabelValues(p.backend).Set(float64(len(p.sem)))
		return nil
	case <-timer.C:
		metrics.PoolExhaustions.WithLabelValues(p.backend).Inc()
		return &backenderr.PoolExhaustedError{Backend: p.backend, Waited: p.cfg.ConnectionTimeout}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run invokes op while holding a permit. The permit is released as soon as
// op returns (or panics) — never across a retry sleep.
func (p *Pool) run(op Operation) (v any, err error) {
	defer func() {
		<-p.sem
		metrics.PoolInFlight.WithLabelValues(p.backend).Set(float64(len(p.sem)))
	}()
	return op()
}

func (p *Pool) recordSuccess(latency time.Duration) {
	p.metrics.RecordSuccess(latency)
	p.healthy.Store(true)
	metrics.OperationsTotal.WithLabelValues(p.backend, "success").Inc()
	metrics.OperationDuration.WithLabelValues(p.backend).Observe(latency.Seconds())
}

func (p *Pool) recordFailure(latency time.Duration) {
	p.metrics.RecordFailure(latency)
	metrics.OperationsTotal.WithLabelValues(p.backend, "failure").Inc()
	metrics.OperationDuration.WithLabelValues(p.backend).Observe(latency.Seconds())
}

// Available returns the number of free permits.
func (p *Pool) Available() int {
	return p.cfg.MaxConnections - len(p.sem)
}

// HealthCheck returns a snapshot of the pool's health and metrics.
func (p *Pool) HealthCheck() Health {
	return Health{
		Healthy:              p.healthy.Load(),
		Metrics:              p.metrics.Snapshot(),
		AvailableConnections: p.Available(),
		MaxConnections:       p.cfg.MaxConnections,
	}
}

// IsHealthy reports whether the pool is usable: no unresolved retry
// exhaustion and a recent success rate above 90%.
func (p *Pool) IsHealthy() bool {
	return p.healthy.Load() && p.metrics.Snapshot().SuccessRate > 0.9
}

// Metrics exposes the pool's request metrics for observability collaborators.
func (p *Pool) Metrics() *RequestMetrics {
	return p.metrics
}
