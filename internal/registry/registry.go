// Package registry assembles and owns the per-backend resilience components.
// One Registry is constructed at startup from configuration and passed by
// reference to every call site, making backend identity an explicit
// parameter rather than a hidden singleton lookup.
package registry

import (
	"log/slog"
	"sort"

	"github.com/dskow/datagate-core/internal/breaker"
	"github.com/dskow/datagate-core/internal/cache"
	"github.com/dskow/datagate-core/internal/config"
	"github.com/dskow/datagate-core/internal/guard"
	"github.com/dskow/datagate-core/internal/pool"
	"github.com/dskow/datagate-core/internal/ratelimit"
)

// Backend bundles the resilience components for one backend identity.
type Backend struct {
	Name    string
	Pool    *pool.Pool
	Breaker *breaker.ConsecutiveBreaker // core state machine, for stats and reload
	Cache   *cache.Cache                // nil when caching is disabled
	Limiter *ratelimit.Limiter          // nil when rate limiting is disabled
	Guard   *guard.Guard
}

// BackendHealth is the aggregate health snapshot for one backend.
type BackendHealth struct {
	Pool           pool.Health   `json:"pool"`
	CircuitBreaker breaker.Stats `json:"circuit_breaker"`
	Cache          *cache.Stats  `json:"cache,omitempty"`
}

// Registry holds one Backend per configured backend name. The backend set
// is fixed at construction; hot reload only adjusts tunables in place, so
// lookups need no locking.
type Registry struct {
	backends map[string]*Backend
	logger   *slog.Logger
}

// New builds a Registry from the configured backends.
func New(cfgs []config.BackendConfig, logger *slog.Logger) *Registry {
	r := &Registry{
		backends: make(map[string]*Backend, len(cfgs)),
		logger:   logger,
	}

	for _, bc := range cfgs {
		p := pool.New(bc.Name, pool.Config{
			MaxConnections:    bc.Pool.MaxConnections,
			ConnectionTimeout: bc.Pool.ConnectionTimeout,
			MaxRetries:        bc.Pool.RetryCount(),
			RetryBaseDelay:    bc.Pool.RetryBaseDelay,
			RetryMaxDelay:     bc.Pool.RetryMaxDelay,
		}, logger)

		guardBreaker, core := breaker.New(bc.Name, breaker.Config{
			FailureThreshold: bc.CircuitBreaker.FailureThreshold,
			SuccessThreshold: bc.CircuitBreaker.SuccessThreshold,
			Timeout:          bc.CircuitBreaker.Timeout,
			SlowThreshold:    bc.CircuitBreaker.SlowThreshold,
		}, logger)

		var c *cache.Cache
		if bc.Cache.IsEnabled() {
			c = cache.New(bc.Name, bc.Cache.MaxSize, bc.Cache.TTL)
		}

		var limiter *ratelimit.Limiter
		if bc.RateLimit != nil {
			limiter = ratelimit.New(bc.Name, bc.RateLimit.RequestsPerSecond, bc.RateLimit.BurstSize)
		}

		r.backends[bc.Name] = &Backend{
			Name:    bc.Name,
			Pool:    p,
			Breaker: core,
			Cache:   c,
			Limiter: limiter,
			Guard:   guard.New(bc.Name, c, limiter, guardBreaker, p, logger),
		}

		logger.Info("backend registered",
			"backend", bc.Name,
			"max_connections", bc.Pool.MaxConnections,
			"max_retries", bc.Pool.RetryCount(),
			"cache_enabled", bc.Cache.IsEnabled(),
			"rate_limited", bc.RateLimit != nil,
		)
	}

	return r
}

// Get returns the Backend for name.
func (r *Registry) Get(name string) (*Backend, bool) {
	b, ok := r.backends[name]
	return b, ok
}

// Names returns all backend names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HealthAll returns the aggregate health snapshot for every backend.
func (r *Registry) HealthAll() map[string]BackendHealth {
	out := make(map[string]BackendHealth, len(r.backends))
	for name, b := range r.backends {
		h := BackendHealth{
			Pool:           b.Pool.HealthCheck(),
			CircuitBreaker: b.Breaker.Stats(),
		}
		if b.Cache != nil {
			stats := b.Cache.Stats()
			h.Cache = &stats
		}
		out[name] = h
	}
	return out
}

// Ready reports whether every backend is currently usable: pool healthy and
// breaker not open.
func (r *Registry) Ready() bool {
	for _, b := range r.backends {
		if !b.Pool.HealthCheck().Healthy || b.Breaker.State() == breaker.StateOpen {
			return false
		}
	}
	return true
}

// UpdateConfig applies hot-reloadable tunables from a new config: breaker
// thresholds and rate limits. Pool and cache sizing changes, and backend
// additions or removals, require a restart and are logged.
func (r *Registry) UpdateConfig(cfgs []config.BackendConfig) {
	seen := make(map[string]bool, len(cfgs))
	for _, bc := range cfgs {
		seen[bc.Name] = true
		b, ok := r.backends[bc.Name]
		if !ok {
			r.logger.Warn("new backend in reloaded config ignored; restart required", "backend", bc.Name)
			continue
		}

		b.Breaker.UpdateConfig(breaker.Config{
			FailureThreshold: bc.CircuitBreaker.FailureThreshold,
			SuccessThreshold: bc.CircuitBreaker.SuccessThreshold,
			Timeout:          bc.CircuitBreaker.Timeout,
			SlowThreshold:    bc.CircuitBreaker.SlowThreshold,
		})

		if b.Limiter != nil && bc.RateLimit != nil {
			b.Limiter.UpdateConfig(bc.RateLimit.RequestsPerSecond, bc.RateLimit.BurstSize)
		}
	}

	for name := range r.backends {
		if !seen[name] {
			r.logger.Warn("backend removed from reloaded config still active; restart required", "backend", name)
		}
	}
}
