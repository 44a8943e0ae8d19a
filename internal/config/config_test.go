package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadFromBytes_Defaults(t *testing.T) {
	yaml := []byte(`
backends:
  - name: pinecone
`)
	cfg, err := LoadFromBytes(yaml)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("expected default read timeout 15s, got %v", cfg.Server.ReadTimeout)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("expected default metrics path, got %q", cfg.Metrics.Path)
	}
	if !cfg.Metrics.IsEnabled() {
		t.Error("expected metrics enabled by default")
	}
	if cfg.Logging.Output != "stdout" || cfg.Logging.Level != "info" {
		t.Errorf("expected stdout/info logging defaults, got %q/%q", cfg.Logging.Output, cfg.Logging.Level)
	}

	b := cfg.Backends[0]
	if b.Pool.MaxConnections != 10 {
		t.Errorf("expected default max_connections 10, got %d", b.Pool.MaxConnections)
	}
	if b.Pool.ConnectionTimeout != 30*time.Second {
		t.Errorf("expected default connection_timeout 30s, got %v", b.Pool.ConnectionTimeout)
	}
	if b.Pool.RetryCount() != 3 {
		t.Errorf("expected default max_retries 3, got %d", b.Pool.RetryCount())
	}
	if b.Pool.RetryBaseDelay != 100*time.Millisecond {
		t.Errorf("expected default retry_base_delay 100ms, got %v", b.Pool.RetryBaseDelay)
	}
	if b.Pool.RetryMaxDelay != 10*time.Second {
		t.Errorf("expected default retry_max_delay 10s, got %v", b.Pool.RetryMaxDelay)
	}
	if b.CircuitBreaker.FailureThreshold != 5 {
		t.Errorf("expected default failure_threshold 5, got %d", b.CircuitBreaker.FailureThreshold)
	}
	if b.CircuitBreaker.SuccessThreshold != 3 {
		t.Errorf("expected default success_threshold 3, got %d", b.CircuitBreaker.SuccessThreshold)
	}
	if b.CircuitBreaker.Timeout != 30*time.Second {
		t.Errorf("expected default breaker timeout 30s, got %v", b.CircuitBreaker.Timeout)
	}
	if b.Cache.MaxSize != 1000 {
		t.Errorf("expected default cache max_size 1000, got %d", b.Cache.MaxSize)
	}
	if b.Cache.TTL != 5*time.Minute {
		t.Errorf("expected default cache ttl 5m, got %v", b.Cache.TTL)
	}
	if !b.Cache.IsEnabled() {
		t.Error("expected cache enabled by default")
	}
	if b.RateLimit != nil {
		t.Error("expected rate limiting disabled by default")
	}
}

func TestLoadFromBytes_ExplicitZeroRetries(t *testing.T) {
	yaml := []byte(`
backends:
  - name: pinecone
    pool:
      max_retries: 0
`)
	cfg, err := LoadFromBytes(yaml)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// An explicit 0 means "no retries" and must not be bumped to the
	// default the way an omitted field is.
	b := cfg.Backends[0]
	if b.Pool.MaxRetries == nil {
		t.Fatal("expected explicit max_retries to be recorded")
	}
	if b.Pool.RetryCount() != 0 {
		t.Errorf("expected max_retries 0 preserved, got %d", b.Pool.RetryCount())
	}
}

func TestLoadFromBytes_FullConfig(t *testing.T) {
	yaml := []byte(`
server:
  port: 9090
  read_timeout: 10s
  write_timeout: 20s
  shutdown_timeout: 5s
metrics:
  enabled: false
logging:
  output: stderr
  level: debug
auth:
  enabled: true
  jwt_secret: "test-secret"
  issuer: "datagate"
  audience: "datagate-admin"
admin:
  enabled: true
  ip_allowlist: ["10.0.0.0/8"]
backends:
  - name: pinecone
    pool:
      max_connections: 20
      connection_timeout: 5s
      max_retries: 2
      retry_base_delay: 50ms
      retry_max_delay: 2s
    circuit_breaker:
      failure_threshold: 3
      success_threshold: 2
      timeout: 45s
      slow_threshold: 2s
    cache:
      max_size: 500
      ttl: 1m
    rate_limit:
      requests_per_second: 200
      burst_size: 100
  - name: mssql
    cache:
      enabled: false
`)
	cfg, err := LoadFromBytes(yaml)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 10*time.Second {
		t.Errorf("expected read timeout 10s, got %v", cfg.Server.ReadTimeout)
	}
	if cfg.Metrics.IsEnabled() {
		t.Error("expected metrics disabled")
	}
	if cfg.Auth.JWTSecret != "test-secret" {
		t.Errorf("expected jwt_secret 'test-secret', got %q", cfg.Auth.JWTSecret)
	}
	if len(cfg.Backends) != 2 {
		t.Fatalf("expected 2 backends, got %d", len(cfg.Backends))
	}

	b := cfg.Backends[0]
	if b.Pool.MaxConnections != 20 {
		t.Errorf("expected max_connections 20, got %d", b.Pool.MaxConnections)
	}
	if b.Pool.RetryBaseDelay != 50*time.Millisecond {
		t.Errorf("expected retry_base_delay 50ms, got %v", b.Pool.RetryBaseDelay)
	}
	if b.CircuitBreaker.SlowThreshold != 2*time.Second {
		t.Errorf("expected slow_threshold 2s, got %v", b.CircuitBreaker.SlowThreshold)
	}
	if b.RateLimit == nil || b.RateLimit.RequestsPerSecond != 200 {
		t.Errorf("expected rate limit 200 rps, got %+v", b.RateLimit)
	}
	if b.Cache.MaxSize != 500 || b.Cache.TTL != time.Minute {
		t.Errorf("expected cache 500/1m, got %d/%v", b.Cache.MaxSize, b.Cache.TTL)
	}

	if cfg.Backends[1].Cache.IsEnabled() {
		t.Error("expected cache disabled for mssql")
	}
}

func TestLoadFromBytes_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_DATAGATE_SECRET", "sekrit")

	yaml := []byte(`
auth:
  enabled: true
  jwt_secret: "${TEST_DATAGATE_SECRET}"
  issuer: "datagate"
  audience: "datagate-admin"
backends:
  - name: pinecone
`)
	cfg, err := LoadFromBytes(yaml)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Auth.JWTSecret != "sekrit" {
		t.Errorf("expected expanded secret, got %q", cfg.Auth.JWTSecret)
	}
	if len(cfg.Warnings) != 0 {
		t.Errorf("expected no warnings, got %v", cfg.Warnings)
	}
}

func TestLoadFromBytes_UnresolvedEnvVarWarns(t *testing.T) {
	yaml := []byte(`
auth:
  enabled: true
  jwt_secret: "${DATAGATE_NO_SUCH_VAR}"
  issuer: "datagate"
  audience: "datagate-admin"
backends:
  - name: pinecone
`)
	cfg, err := LoadFromBytes(yaml)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Warnings) != 1 || !strings.Contains(cfg.Warnings[0], "jwt_secret") {
		t.Errorf("expected unresolved env var warning, got %v", cfg.Warnings)
	}
}

func TestLoadFromBytes_ValidationErrors(t *testing.T) {
	cases := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			"no backends",
			`server: { port: 8080 }`,
			"at least one backend",
		},
		{
			"invalid port",
			"server: { port: 70000 }\nbackends:\n  - name: a",
			"server.port",
		},
		{
			"missing backend name",
			"backends:\n  - pool: { max_connections: 5 }",
			"name is required",
		},
		{
			"duplicate backend names",
			"backends:\n  - name: a\n  - name: a",
			"duplicate backend name",
		},
		{
			"negative retries",
			"backends:\n  - name: a\n    pool: { max_retries: -1 }",
			"max_retries",
		},
		{
			"max delay below base delay",
			"backends:\n  - name: a\n    pool: { retry_base_delay: 5s, retry_max_delay: 1s }",
			"retry_max_delay",
		},
		{
			"auth without secret",
			"auth: { enabled: true, issuer: i, audience: a }\nbackends:\n  - name: a",
			"jwt_secret",
		},
		{
			"admin without allowlist",
			"admin: { enabled: true }\nbackends:\n  - name: a",
			"ip_allowlist",
		},
		{
			"admin with bad cidr",
			"admin: { enabled: true, ip_allowlist: [\"not-a-cidr\"] }\nbackends:\n  - name: a",
			"invalid CIDR",
		},
		{
			"bad log level",
			"logging: { level: verbose }\nbackends:\n  - name: a",
			"logging.level",
		},
		{
			"simulation bad failure rate",
			"backends:\n  - name: a\n    simulation: { enabled: true, failure_rate: 1.5 }",
			"failure_rate",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadFromBytes([]byte(tc.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestLoadFromBytes_InvalidYAML(t *testing.T) {
	if _, err := LoadFromBytes([]byte("backends: [")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "datagate.yaml")
	content := `
server:
  port: 8181
backends:
  - name: weaviate
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 8181 {
		t.Errorf("expected port 8181, got %d", cfg.Server.Port)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadFromBytes_SimulationDefaults(t *testing.T) {
	yaml := []byte(`
backends:
  - name: sim
    simulation:
      enabled: true
      failure_rate: 0.1
`)
	cfg, err := LoadFromBytes(yaml)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s := cfg.Backends[0].Simulation
	if s.RequestsPerSecond != 10 {
		t.Errorf("expected default sim rps 10, got %f", s.RequestsPerSecond)
	}
	if s.MaxLatency != 50*time.Millisecond {
		t.Errorf("expected default max latency 50ms, got %v", s.MaxLatency)
	}
	if s.KeySpace != 20 {
		t.Errorf("expected default key space 20, got %d", s.KeySpace)
	}
}
