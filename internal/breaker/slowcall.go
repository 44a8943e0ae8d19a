package breaker

import "time"

// SlowCallBreaker wraps another Guard and treats slow calls as failures.
// If a call completes successfully but its latency exceeds slowThreshold,
// the success is recorded as a failure on the inner breaker.
type SlowCallBreaker struct {
	inner         Guard
	slowThreshold time.Duration
}

// NewSlowCall wraps inner and converts successes slower than threshold
// into failures.
func NewSlowCall(inner Guard, slowThreshold time.Duration) *SlowCallBreaker {
	return &SlowCallBreaker{inner: inner, slowThreshold: slowThreshold}
}

func (s *SlowCallBreaker) Allow() bool {
	return s.inner.Allow()
}

func (s *SlowCallBreaker) RecordSuccess(latency time.Duration) {
	if latency > s.slowThreshold {
		s.inner.RecordFailure(latency)
		return
	}
	s.inner.RecordSuccess(latency)
}

func (s *SlowCallBreaker) RecordFailure(latency time.Duration) {
	s.inner.RecordFailure(latency)
}

func (s *SlowCallBreaker) State() State {
	return s.inner.State()
}

func (s *SlowCallBreaker) RetryAfter() time.Duration {
	return s.inner.RetryAfter()
}

func (s *SlowCallBreaker) Stats() Stats {
	return s.inner.Stats()
}

func (s *SlowCallBreaker) Reset() {
	s.inner.Reset()
}
