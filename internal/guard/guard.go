// Package guard composes the per-backend resilience pipeline callers use.
// The composition order is fixed: cache lookup → rate limit → circuit
// breaker → pool with retry → operation. Cache hits return immediately with
// no breaker, pool, retry, or metrics activity.
package guard

import (
	"context"
	"log/slog"
	"time"

	"github.com/dskow/datagate-core/internal/backenderr"
	"github.com/dskow/datagate-core/internal/breaker"
	"github.com/dskow/datagate-core/internal/cache"
	"github.com/dskow/datagate-core/internal/metrics"
	"github.com/dskow/datagate-core/internal/pool"
	"github.com/dskow/datagate-core/internal/ratelimit"
)

// Guard runs backend operations through the resilience pipeline for one
// backend. Safe for concurrent use.
type Guard struct {
	backend string
	cache   *cache.Cache       // nil when caching is disabled
	limiter *ratelimit.Limiter // nil when rate limiting is disabled
	breaker breaker.Guard
	pool    *pool.Pool
	logger  *slog.Logger
}

// New creates a Guard. cache and limiter may be nil to disable those stages.
func New(backend string, c *cache.Cache, limiter *ratelimit.Limiter, b breaker.Guard, p *pool.Pool, logger *slog.Logger) *Guard {
	return &Guard{
		backend: backend,
		cache:   c,
		limiter: limiter,
		breaker: b,
		pool:    p,
		logger:  logger,
	}
}

// Read executes a cacheable read operation. On a cache hit the cached value
// is returned immediately. On a miss the operation runs through the full
// pipeline; a successful result is written through to the cache, and any
// error invalidates the (possibly stale, possibly absent) entry before
// propagating unchanged.
//
// Two concurrent readers that both miss may both execute the operation and
// both write the cache; last write wins. There is deliberately no
// single-flight deduplication.
func (g *Guard) Read(ctx context.Context, params cache.Params, op pool.Operation) (any, error) {
	if g.cache != nil {
		if v, ok := g.cache.Get(params); ok {
			return v, nil
		}
	}

	result, err := g.call(ctx, op)
	if err != nil {
		if g.cache != nil {
			g.cache.Invalidate(params)
		}
		return nil, err
	}

	if g.cache != nil {
		g.cache.Set(params, result)
	}
	return result, nil
}

// Write executes a mutation operation through rate limit, breaker, and pool
// with retry. Writes never touch the cache.
func (g *Guard) Write(ctx context.Context, op pool.Operation) (any, error) {
	return g.call(ctx, op)
}

func (g *Guard) call(ctx context.Context, op pool.Operation) (any, error) {
	if g.limiter != nil && !g.limiter.Allow() {
		return nil, &backenderr.RateLimitedError{Backend: g.backend}
	}

	if !g.breaker.Allow() {
		metrics.BreakerRejections.WithLabelValues(g.backend).Inc()
		return nil, &backenderr.BreakerOpenError{
			Backend:    g.backend,
			RetryAfter: g.breaker.RetryAfter(),
		}
	}

	start := time.Now()
	result, err := g.pool.ExecuteWithRetry(ctx, op)
	latency := time.Since(start)

	if err != nil {
		g.breaker.RecordFailure(latency)
		return nil, err
	}
	g.breaker.RecordSuccess(latency)
	return result, nil
}

// Cache exposes the guard's cache (nil when disabled).
func (g *Guard) Cache() *cache.Cache { return g.cache }

// Pool exposes the guard's connection pool.
func (g *Guard) Pool() *pool.Pool { return g.pool }

// Breaker exposes the guard's circuit breaker.
func (g *Guard) Breaker() breaker.Guard { return g.breaker }
