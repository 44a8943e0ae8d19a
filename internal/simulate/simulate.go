// Package simulate drives synthetic read operations through a backend's
// guard pipeline. It exists to soak-test pool, retry, breaker, and cache
// behavior without a real backend, and to give the ops endpoints live data
// during development.
package simulate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/dskow/datagate-core/internal/backenderr"
	"github.com/dskow/datagate-core/internal/cache"
	"github.com/dskow/datagate-core/internal/config"
	"github.com/dskow/datagate-core/internal/guard"
)

// Driver issues synthetic queries against one backend at a fixed rate.
type Driver struct {
	backend string
	guard   *guard.Guard
	cfg     config.SimulationConfig
	logger  *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewDriver creates a Driver for the given backend guard.
func NewDriver(backend string, g *guard.Guard, cfg config.SimulationConfig, logger *slog.Logger) *Driver {
	return &Driver{
		backend: backend,
		guard:   g,
		cfg:     cfg,
		logger:  logger,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run issues queries until ctx is cancelled. Intended to be run in its own
// goroutine.
func (d *Driver) Run(ctx context.Context) {
	interval := time.Duration(float64(time.Second) / d.cfg.RequestsPerSecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	d.logger.Info("simulation driver started",
		"backend", d.backend,
		"rps", d.cfg.RequestsPerSecond,
		"failure_rate", d.cfg.FailureRate,
	)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("simulation driver stopped", "backend", d.backend)
			return
		case <-ticker.C:
			d.issue(ctx)
		}
	}
}

// issue runs one synthetic read. Queries are drawn from a small key space
// so repeated queries exercise the result cache.
func (d *Driver) issue(ctx context.Context) {
	params := d.params()
	_, err := d.guard.Read(ctx, params, d.operation())

	if err != nil {
		var open *backenderr.BreakerOpenError
		if errors.As(err, &open) {
			return // expected while the backend is isolated
		}
		d.logger.Debug("simulated query failed", "backend", d.backend, "error", err)
	}
}

// params builds a query from the bounded key space.
func (d *Driver) params() cache.Params {
	d.mu.Lock()
	key := d.rng.Intn(d.cfg.KeySpace)
	d.mu.Unlock()

	return cache.Params{
		Vector: []float32{float32(key), float32(key) / 2},
		TopK:   10,
		Filter: map[string]any{"shard": key % 4},
	}
}

// operation returns a synthetic backend call with the configured latency
// band and failure rate.
func (d *Driver) operation() func() (any, error) {
	return func() (any, error) {
		d.mu.Lock()
		latency := d.cfg.MinLatency
		if span := d.cfg.MaxLatency - d.cfg.MinLatency; span > 0 {
			latency += time.Duration(d.rng.Int63n(int64(span)))
		}
		fail := d.rng.Float64() < d.cfg.FailureRate
		d.mu.Unlock()

		time.Sleep(latency)

		if fail {
			return nil, backenderr.Connection(fmt.Errorf("simulated connection reset"))
		}
		return map[string]any{"matches": 10, "latency_ms": latency.Milliseconds()}, nil
	}
}

// Start launches one driver goroutine per backend with simulation enabled
// and returns the number started.
func Start(ctx context.Context, cfgs []config.BackendConfig, lookup func(string) (*guard.Guard, bool), logger *slog.Logger) int {
	started := 0
	for _, bc := range cfgs {
		if bc.Simulation == nil || !bc.Simulation.Enabled {
			continue
		}
		g, ok := lookup(bc.Name)
		if !ok {
			continue
		}
		d := NewDriver(bc.Name, g, *bc.Simulation, logger)
		go d.Run(ctx)
		started++
	}
	return started
}
