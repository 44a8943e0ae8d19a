// Package ratelimit provides optional per-backend token bucket rate
// limiting for the guard pipeline.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/dskow/datagate-core/internal/metrics"
)

// Limiter is a token bucket for one backend. Safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	backend string
	limiter *rate.Limiter
}

// Snapshot is the limiter state exposed to the admin API.
type Snapshot struct {
	RequestsPerSecond float64 `json:"requests_per_second"`
	BurstSize         int     `json:"burst_size"`
	TokensAvailable   float64 `json:"tokens_available"`
}

// New creates a Limiter allowing rps requests per second with the given
// burst size.
func New(backend string, rps float64, burst int) *Limiter {
	return &Limiter{
		backend: backend,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Allow reports whether one more call may proceed now. Rejections are
// counted but never block.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	lim := l.limiter
	l.mu.Unlock()

	if lim.Allow() {
		return true
	}
	metrics.RateLimitRejections.WithLabelValues(l.backend).Inc()
	return false
}

// UpdateConfig swaps in new rate settings (config hot-reload). The bucket
// restarts full.
func (l *Limiter) UpdateConfig(rps float64, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limiter = rate.NewLimiter(rate.Limit(rps), burst)
}

// Stats returns a snapshot for the admin API.
func (l *Limiter) Stats() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Snapshot{
		RequestsPerSecond: float64(l.limiter.Limit()),
		BurstSize:         l.limiter.Burst(),
		TokensAvailable:   l.limiter.Tokens(),
	}
}
