// Package health provides health check and readiness probe HTTP handlers
// backed by the backend registry.
package health

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/dskow/datagate-core/internal/breaker"
	"github.com/dskow/datagate-core/internal/registry"
)

// Pre-serialized liveness response avoids json.Encoder allocation.
var livenessBody = []byte(`{"status":"ok"}` + "\n")

const readinessCacheTTL = 5 * time.Second

// Handler provides /health and /ready endpoints.
type Handler struct {
	registry *registry.Registry
	logger   *slog.Logger
	cacheTTL time.Duration

	// Cached readiness result to avoid recomputing the full registry
	// snapshot on every /ready poll. Protected by cacheMu.
	cacheMu      sync.RWMutex
	cachedResult []byte
	cachedStatus int
	cachedAt     time.Time
}

// New creates a new health check Handler over the registry with the
// default readiness cache TTL.
func New(reg *registry.Registry, logger *slog.Logger) *Handler {
	return NewWithTTL(reg, logger, readinessCacheTTL)
}

// NewWithTTL creates a Handler whose readiness responses are cached for
// ttl. A non-positive ttl disables the cache so every /ready poll sees
// the live registry state.
func NewWithTTL(reg *registry.Registry, logger *slog.Logger, ttl time.Duration) *Handler {
	return &Handler{registry: reg, logger: logger, cacheTTL: ttl}
}

// RegisterRoutes adds health check routes to the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.liveness)
	mux.HandleFunc("/ready", h.readiness)
}

func (h *Handler) liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(livenessBody)
}

// readiness reports per-backend status. A backend is not ready while its
// breaker is open or its pool is unhealthy; any backend down yields 503.
func (h *Handler) readiness(w http.ResponseWriter, r *http.Request) {
	// Serve from cache if fresh.
	if h.cacheTTL > 0 {
		h.cacheMu.RLock()
		if h.cachedResult != nil && time.Since(h.cachedAt) < h.cacheTTL {
			body := h.cachedResult
			status := h.cachedStatus
			h.cacheMu.RUnlock()
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			w.Write(body)
			return
		}
		h.cacheMu.RUnlock()
	}

	results := make(map[string]string)
	anyDown := false

	for _, name := range h.registry.Names() {
		b, ok := h.registry.Get(name)
		if !ok {
			continue
		}

		switch {
		case b.Breaker.State() == breaker.StateOpen:
			results[name] = "circuit-open"
			anyDown = true
		case b.Breaker.State() == breaker.StateHalfOpen:
			results[name] = "circuit-half-open"
		case !b.Pool.HealthCheck().Healthy:
			results[name] = "unhealthy"
			anyDown = true
		default:
			results[name] = "ok"
		}
	}

	httpStatus := http.StatusOK
	statusStr := "ready"
	if anyDown {
		httpStatus = http.StatusServiceUnavailable
		statusStr = "not ready"
	}

	body, _ := json.Marshal(map[string]interface{}{
		"status":   statusStr,
		"backends": results,
	})
	body = append(body, '\n')

	// Cache the result.
	if h.cacheTTL > 0 {
		h.cacheMu.Lock()
		h.cachedResult = body
		h.cachedStatus = httpStatus
		h.cachedAt = time.Now()
		h.cacheMu.Unlock()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	w.Write(body)
}
