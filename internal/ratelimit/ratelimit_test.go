package ratelimit

import (
	"testing"
	"time"

	"github.com/dskow/datagate-core/internal/metrics"
)

func init() {
	// Register metrics once for all tests in this package.
	metrics.Init()
}

func TestLimiter_BurstThenReject(t *testing.T) {
	l := New("test-backend", 1, 3)

	for i := 0; i < 3; i++ {
		if !l.Allow() {
			t.Fatalf("expected call %d within burst to be allowed", i)
		}
	}
	if l.Allow() {
		t.Fatal("expected rejection past the burst")
	}
}

func TestLimiter_Refills(t *testing.T) {
	l := New("test-backend", 100, 1)

	if !l.Allow() {
		t.Fatal("expected first call allowed")
	}
	if l.Allow() {
		t.Fatal("expected immediate second call rejected")
	}

	// 100 rps → one token every 10ms.
	time.Sleep(15 * time.Millisecond)
	if !l.Allow() {
		t.Fatal("expected call allowed after refill")
	}
}

func TestLimiter_UpdateConfig(t *testing.T) {
	l := New("test-backend", 1, 1)

	if !l.Allow() {
		t.Fatal("expected first call allowed")
	}
	if l.Allow() {
		t.Fatal("expected rejection at old limit")
	}

	// The replacement bucket starts full.
	l.UpdateConfig(50, 2)
	if !l.Allow() || !l.Allow() {
		t.Fatal("expected new burst available after UpdateConfig")
	}

	s := l.Stats()
	if s.RequestsPerSecond != 50 {
		t.Errorf("expected 50 rps, got %f", s.RequestsPerSecond)
	}
	if s.BurstSize != 2 {
		t.Errorf("expected burst 2, got %d", s.BurstSize)
	}
}

func TestLimiter_Stats(t *testing.T) {
	l := New("test-backend", 10, 5)

	s := l.Stats()
	if s.RequestsPerSecond != 10 {
		t.Errorf("expected 10 rps, got %f", s.RequestsPerSecond)
	}
	if s.BurstSize != 5 {
		t.Errorf("expected burst 5, got %d", s.BurstSize)
	}
	if s.TokensAvailable <= 0 {
		t.Errorf("expected tokens available on a fresh bucket, got %f", s.TokensAvailable)
	}
}
