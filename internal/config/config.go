// Package config provides YAML configuration loading with validation and
// environment variable substitution for the resilience layer.
package config

import (
	"fmt"
	"net"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	Server   ServerConfig    `yaml:"server" json:"server"`
	Metrics  MetricsConfig   `yaml:"metrics" json:"metrics"`
	Logging  LoggingConfig   `yaml:"logging" json:"logging"`
	Auth     AuthConfig      `yaml:"auth" json:"auth"`
	Admin    AdminConfig     `yaml:"admin" json:"admin"`
	Backends []BackendConfig `yaml:"backends" json:"backends"`

	// Warnings holds non-fatal config issues detected during loading.
	// Stored on the Config itself (not a package-level var) so it is
	// safe to call Load concurrently from the hot-reload goroutine.
	Warnings []string `yaml:"-" json:"-"`
}

// ServerConfig holds the ops HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port" json:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
// Enabled defaults to true; set to false to disable metrics.
type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// IsEnabled returns whether metrics are enabled (defaults to true).
func (m MetricsConfig) IsEnabled() bool {
	if m.Enabled == nil {
		return true
	}
	return *m.Enabled
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Output     string `yaml:"output" json:"output"`           // "stdout", "stderr", or file path; default: "stdout"
	Level      string `yaml:"level" json:"level"`             // "debug", "info", "warn", "error"; default: "info"
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"` // max log file size before rotation; default: 100
	MaxBackups int    `yaml:"max_backups" json:"max_backups"` // number of rotated files to keep; default: 3
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"`
}

// AuthConfig holds JWT bearer token settings for the admin endpoints.
type AuthConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	JWTSecret string `yaml:"jwt_secret" json:"jwt_secret"`
	Issuer    string `yaml:"issuer" json:"issuer"`
	Audience  string `yaml:"audience" json:"audience"`
}

// AdminConfig holds admin API settings.
type AdminConfig struct {
	Enabled     bool     `yaml:"enabled" json:"enabled"`           // default: false
	IPAllowlist []string `yaml:"ip_allowlist" json:"ip_allowlist"` // CIDR notation
}

// BackendConfig declares one backend and its resilience tunables.
type BackendConfig struct {
	Name           string            `yaml:"name" json:"name"`
	Pool           PoolConfig        `yaml:"pool" json:"pool"`
	CircuitBreaker BreakerConfig     `yaml:"circuit_breaker" json:"circuit_breaker"`
	Cache          CacheConfig       `yaml:"cache" json:"cache"`
	RateLimit      *RateLimitConfig  `yaml:"rate_limit" json:"rate_limit,omitempty"`
	Simulation     *SimulationConfig `yaml:"simulation" json:"simulation,omitempty"`
}

// PoolConfig holds connection pool and retry settings for one backend.
// MaxRetries is a pointer so an explicit "max_retries: 0" (no retries) is
// distinguishable from an omitted field, which defaults to 3.
type PoolConfig struct {
	MaxConnections    int           `yaml:"max_connections" json:"max_connections"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout" json:"connection_timeout"`
	MaxRetries        *int          `yaml:"max_retries" json:"max_retries"`
	RetryBaseDelay    time.Duration `yaml:"retry_base_delay" json:"retry_base_delay"`
	RetryMaxDelay     time.Duration `yaml:"retry_max_delay" json:"retry_max_delay"`
}

// RetryCount returns the configured retry budget (defaults to 3 when unset).
func (p PoolConfig) RetryCount() int {
	if p.MaxRetries == nil {
		return 3
	}
	return *p.MaxRetries
}

// BreakerConfig holds circuit breaker settings for one backend.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold" json:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold" json:"success_threshold"`
	Timeout          time.Duration `yaml:"timeout" json:"timeout"`
	SlowThreshold    time.Duration `yaml:"slow_threshold" json:"slow_threshold"`
}

// CacheConfig holds result cache settings for one backend.
// Enabled defaults to true; set to false to disable the cache stage.
type CacheConfig struct {
	Enabled *bool         `yaml:"enabled" json:"enabled"`
	MaxSize int           `yaml:"max_size" json:"max_size"`
	TTL     time.Duration `yaml:"ttl" json:"ttl"`
}

// IsEnabled returns whether the result cache is enabled (defaults to true).
func (c CacheConfig) IsEnabled() bool {
	if c.Enabled == nil {
		return true
	}
	return *c.Enabled
}

// RateLimitConfig holds per-backend token bucket settings.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size" json:"burst_size"`
}

// SimulationConfig drives the built-in synthetic operation driver for one
// backend, used to soak-test the resilience pipeline without a real backend.
type SimulationConfig struct {
	Enabled           bool          `yaml:"enabled" json:"enabled"`
	RequestsPerSecond float64       `yaml:"requests_per_second" json:"requests_per_second"`
	FailureRate       float64       `yaml:"failure_rate" json:"failure_rate"` // probability in [0, 1]
	MinLatency        time.Duration `yaml:"min_latency" json:"min_latency"`
	MaxLatency        time.Duration `yaml:"max_latency" json:"max_latency"`
	KeySpace          int           `yaml:"key_space" json:"key_space"` // distinct query vectors; small values exercise the cache
}

var envVarRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns in s with the corresponding
// environment variable value.
func expandEnvVars(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		key := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		return match
	})
}

// Load reads and parses a YAML configuration file, applies environment
// variable substitution, sets defaults, and validates the result.
// Warnings are stored on cfg.Warnings (goroutine-safe, no package-level state).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses configuration from raw YAML bytes. Useful for testing.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	cfg.Warnings = collectWarnings(&cfg)

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 15 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	// Logging defaults
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 100
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 3
	}
	if cfg.Logging.MaxAgeDays == 0 {
		cfg.Logging.MaxAgeDays = 30
	}

	for i := range cfg.Backends {
		b := &cfg.Backends[i]

		// Pool defaults
		if b.Pool.MaxConnections == 0 {
			b.Pool.MaxConnections = 10
		}
		if b.Pool.ConnectionTimeout == 0 {
			b.Pool.ConnectionTimeout = 30 * time.Second
		}
		if b.Pool.RetryBaseDelay == 0 {
			b.Pool.RetryBaseDelay = 100 * time.Millisecond
		}
		if b.Pool.RetryMaxDelay == 0 {
			b.Pool.RetryMaxDelay = 10 * time.Second
		}

		// Circuit breaker defaults
		if b.CircuitBreaker.FailureThreshold == 0 {
			b.CircuitBreaker.FailureThreshold = 5
		}
		if b.CircuitBreaker.SuccessThreshold == 0 {
			b.CircuitBreaker.SuccessThreshold = 3
		}
		if b.CircuitBreaker.Timeout == 0 {
			b.CircuitBreaker.Timeout = 30 * time.Second
		}

		// Cache defaults
		if b.Cache.MaxSize == 0 {
			b.Cache.MaxSize = 1000
		}
		if b.Cache.TTL == 0 {
			b.Cache.TTL = 5 * time.Minute
		}

		if b.Simulation != nil && b.Simulation.Enabled {
			s := b.Simulation
			if s.RequestsPerSecond == 0 {
				s.RequestsPerSecond = 10
			}
			if s.MaxLatency == 0 {
				s.MaxLatency = 50 * time.Millisecond
			}
			if s.KeySpace == 0 {
				s.KeySpace = 20
			}
		}
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}

	if cfg.Auth.Enabled {
		if cfg.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret is required when auth is enabled")
		}
		if cfg.Auth.Issuer == "" {
			return fmt.Errorf("auth.issuer is required when auth is enabled")
		}
		if cfg.Auth.Audience == "" {
			return fmt.Errorf("auth.audience is required when auth is enabled")
		}
	}

	// Admin validation
	if cfg.Admin.Enabled {
		if len(cfg.Admin.IPAllowlist) == 0 {
			return fmt.Errorf("admin.ip_allowlist is required when admin is enabled")
		}
		for i, cidr := range cfg.Admin.IPAllowlist {
			if _, _, err := net.ParseCIDR(cidr); err != nil {
				return fmt.Errorf("admin.ip_allowlist[%d]: invalid CIDR %q: %w", i, cidr, err)
			}
		}
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Output != "stdout" && cfg.Logging.Output != "stderr" {
		if cfg.Logging.MaxSizeMB < 1 {
			return fmt.Errorf("logging.max_size_mb must be positive when output is a file path")
		}
	}

	if len(cfg.Backends) == 0 {
		return fmt.Errorf("at least one backend must be configured")
	}

	seen := make(map[string]bool)
	for i, b := range cfg.Backends {
		if b.Name == "" {
			return fmt.Errorf("backends[%d].name is required", i)
		}
		if seen[b.Name] {
			return fmt.Errorf("duplicate backend name: %s", b.Name)
		}
		seen[b.Name] = true

		if b.Pool.MaxConnections < 1 {
			return fmt.Errorf("backends[%d].pool.max_connections must be positive", i)
		}
		if b.Pool.ConnectionTimeout <= 0 {
			return fmt.Errorf("backends[%d].pool.connection_timeout must be positive", i)
		}
		if b.Pool.MaxRetries != nil && *b.Pool.MaxRetries < 0 {
			return fmt.Errorf("backends[%d].pool.max_retries must be non-negative", i)
		}
		if b.Pool.RetryBaseDelay <= 0 {
			return fmt.Errorf("backends[%d].pool.retry_base_delay must be positive", i)
		}
		if b.Pool.RetryMaxDelay < b.Pool.RetryBaseDelay {
			return fmt.Errorf("backends[%d].pool.retry_max_delay must be >= retry_base_delay", i)
		}

		if b.CircuitBreaker.FailureThreshold < 1 {
			return fmt.Errorf("backends[%d].circuit_breaker.failure_threshold must be positive", i)
		}
		if b.CircuitBreaker.SuccessThreshold < 1 {
			return fmt.Errorf("backends[%d].circuit_breaker.success_threshold must be positive", i)
		}
		if b.CircuitBreaker.Timeout <= 0 {
			return fmt.Errorf("backends[%d].circuit_breaker.timeout must be positive", i)
		}
		if b.CircuitBreaker.SlowThreshold < 0 {
			return fmt.Errorf("backends[%d].circuit_breaker.slow_threshold must be non-negative", i)
		}

		if b.Cache.MaxSize < 1 {
			return fmt.Errorf("backends[%d].cache.max_size must be positive", i)
		}
		if b.Cache.TTL <= 0 {
			return fmt.Errorf("backends[%d].cache.ttl must be positive", i)
		}

		if b.RateLimit != nil {
			if b.RateLimit.RequestsPerSecond <= 0 {
				return fmt.Errorf("backends[%d].rate_limit.requests_per_second must be positive", i)
			}
			if b.RateLimit.BurstSize <= 0 {
				return fmt.Errorf("backends[%d].rate_limit.burst_size must be positive", i)
			}
		}

		if b.Simulation != nil && b.Simulation.Enabled {
			s := b.Simulation
			if s.FailureRate < 0 || s.FailureRate > 1 {
				return fmt.Errorf("backends[%d].simulation.failure_rate must be between 0 and 1", i)
			}
			if s.RequestsPerSecond <= 0 {
				return fmt.Errorf("backends[%d].simulation.requests_per_second must be positive", i)
			}
			if s.MinLatency < 0 || s.MaxLatency < s.MinLatency {
				return fmt.Errorf("backends[%d].simulation.max_latency must be >= min_latency", i)
			}
			if s.KeySpace < 1 {
				return fmt.Errorf("backends[%d].simulation.key_space must be positive", i)
			}
		}
	}

	return nil
}

func collectWarnings(cfg *Config) []string {
	var warnings []string
	if cfg.Auth.Enabled && envVarRe.MatchString(cfg.Auth.JWTSecret) {
		warnings = append(warnings, "auth.jwt_secret contains unresolved environment variable")
	}
	return warnings
}
