package pool

import (
	"sync"
	"time"
)

// historySize bounds the recent-sample ring buffer.
const historySize = 100

// Sample is a single recorded operation attempt.
type Sample struct {
	Timestamp time.Time     `json:"timestamp"`
	Latency   time.Duration `json:"latency"`
	Success   bool          `json:"success"`
}

// RequestMetrics tracks append-only request counters and a bounded ring
// buffer of recent samples for one backend. One instance is owned by each
// Pool; all access serializes under its own mutex.
type RequestMetrics struct {
	mu sync.Mutex

	totalRequests      uint64
	successfulRequests uint64
	failedRequests     uint64
	totalLatency       time.Duration

	// Ring buffer of the most recent historySize samples.
	history [historySize]Sample
	head    int // next write position
	count   int // number of samples recorded (up to historySize)
}

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	TotalRequests      uint64  `json:"total_requests"`
	SuccessfulRequests uint64  `json:"successful_requests"`
	FailedRequests     uint64  `json:"failed_requests"`
	AvgLatencyMs       float64 `json:"avg_latency_ms"`
	SuccessRate        float64 `json:"success_rate"`
}

// RecordSuccess records one successful attempt with its latency.
func (m *RequestMetrics) RecordSuccess(latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalRequests++
	m.successfulRequests++
	m.totalLatency += latency
	m.append(Sample{Timestamp: time.Now(), Latency: latency, Success: true})
}

// RecordFailure records one failed attempt with its latency.
func (m *RequestMetrics) RecordFailure(latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalRequests++
	m.failedRequests++
	m.append(Sample{Timestamp: time.Now(), Latency: latency, Success: false})
}

// append writes a sample into the ring buffer. Must be called with m.mu held.
func (m *RequestMetrics) append(s Sample) {
	m.history[m.head] = s
	m.head = (m.head + 1) % historySize
	if m.count < historySize {
		m.count++
	}
}

// Snapshot returns a consistent copy of the counters. SuccessRate is 1.0
// before any request has been recorded.
func (m *RequestMetrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := MetricsSnapshot{
		TotalRequests:      m.totalRequests,
		SuccessfulRequests: m.successfulRequests,
		FailedRequests:     m.failedRequests,
		SuccessRate:        1.0,
	}
	if m.totalRequests > 0 {
		snap.AvgLatencyMs = float64(m.totalLatency) / float64(time.Millisecond) / float64(m.totalRequests)
		snap.SuccessRate = float64(m.successfulRequests) / float64(m.totalRequests)
	}
	return snap
}

// History returns the recorded samples, oldest first.
func (m *RequestMetrics) History() []Sample {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Sample, 0, m.count)
	start := m.head - m.count
	if start < 0 {
		start += historySize
	}
	for i := 0; i < m.count; i++ {
		out = append(out, m.history[(start+i)%historySize])
	}
	return out
}
