// Package admin provides read-only admin API endpoints for runtime
// inspection of the resilience layer. All endpoints are protected by IP
// allowlist; JWT bearer auth is layered on top by the server when enabled.
package admin

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"

	"github.com/dskow/datagate-core/internal/config"
	"github.com/dskow/datagate-core/internal/registry"
)

// Handler provides admin API endpoints.
type Handler struct {
	reloader    ConfigProvider
	registry    *registry.Registry
	allowedNets []*net.IPNet
	logger      *slog.Logger
}

// ConfigProvider abstracts config access for testability.
type ConfigProvider interface {
	Current() *config.Config
}

// New creates a new admin Handler. The allowlist CIDRs must be pre-validated
// (config validation ensures this).
func New(reloader ConfigProvider, reg *registry.Registry, allowlist []string, logger *slog.Logger) *Handler {
	nets := make([]*net.IPNet, 0, len(allowlist))
	for _, cidr := range allowlist {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			continue // already validated by config
		}
		nets = append(nets, ipNet)
	}
	return &Handler{
		reloader:    reloader,
		registry:    reg,
		allowedNets: nets,
		logger:      logger,
	}
}

// RegisterRoutes adds admin routes to the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/admin/backends", h.guard(h.backendsHandler))
	mux.HandleFunc("/admin/config", h.guard(h.configHandler))
}

// guard wraps a handler with method and IP allowlist checking.
func (h *Handler) guard(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{
				"error": "Method Not Allowed",
			})
			return
		}

		ip := extractIP(r.RemoteAddr)
		if !h.isAllowed(ip) {
			h.logger.Warn("admin access denied", "client_ip", ip, "path", r.URL.Path)
			writeJSON(w, http.StatusForbidden, map[string]string{
				"error": "Forbidden",
			})
			return
		}
		next(w, r)
	}
}

func (h *Handler) isAllowed(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, n := range h.allowedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func extractIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// backendStatus is the per-backend response element for /admin/backends.
type backendStatus struct {
	Name           string      `json:"name"`
	Pool           interface{} `json:"pool"`
	CircuitBreaker interface{} `json:"circuit_breaker"`
	Cache          interface{} `json:"cache,omitempty"`
	RateLimit      interface{} `json:"rate_limit,omitempty"`
}

func (h *Handler) backendsHandler(w http.ResponseWriter, r *http.Request) {
	names := h.registry.Names()
	statuses := make([]backendStatus, 0, len(names))
	for _, name := range names {
		b, ok := h.registry.Get(name)
		if !ok {
			continue
		}
		st := backendStatus{
			Name:           name,
			Pool:           b.Pool.HealthCheck(),
			CircuitBreaker: b.Breaker.Stats(),
		}
		if b.Cache != nil {
			st.Cache = b.Cache.Stats()
		}
		if b.Limiter != nil {
			st.RateLimit = b.Limiter.Stats()
		}
		statuses = append(statuses, st)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"backends": statuses})
}

func (h *Handler) configHandler(w http.ResponseWriter, r *http.Request) {
	cfg := h.reloader.Current()

	// Shallow copy and redact sensitive fields.
	redacted := *cfg
	if redacted.Auth.JWTSecret != "" {
		redacted.Auth.JWTSecret = "***"
	}

	writeJSON(w, http.StatusOK, redacted)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
