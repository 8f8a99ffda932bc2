package limiter

import (
	"testing"
	"time"
)

func fixedClock(t *time.Time) func() time.Time {
	return func() time.Time { return *t }
}

func TestAllow_BurstThenThrottle(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewAPILimiter(1, 3)
	l.now = fixedClock(&now)

	for i := 0; i < 3; i++ {
		if err := l.Allow("bot"); err != nil {
			t.Fatalf("call %d: expected allowed, got %v", i, err)
		}
	}
	if err := l.Allow("bot"); err != ErrRateLimited {
		t.Errorf("expected ErrRateLimited, got %v", err)
	}

	now = now.Add(time.Second)
	if err := l.Allow("bot"); err != nil {
		t.Errorf("expected a token after refill, got %v", err)
	}
}

func TestAllow_UsersAreIndependent(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewAPILimiter(1, 1)
	l.now = fixedClock(&now)

	if err := l.Allow("a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := l.Allow("a"); err != ErrRateLimited {
		t.Errorf("expected a throttled, got %v", err)
	}
	if err := l.Allow("b"); err != nil {
		t.Errorf("expected b unaffected, got %v", err)
	}
}

func TestSweep(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewAPILimiter(0.001, 1)
	l.now = fixedClock(&now)

	l.Allow("old")
	now = now.Add(10 * time.Minute)
	l.Allow("fresh")

	if n := l.Sweep(5 * time.Minute); n != 1 {
		t.Errorf("expected 1 user swept, got %d", n)
	}
	// The swept user comes back with a full bucket.
	if err := l.Allow("old"); err != nil {
		t.Errorf("expected fresh bucket after sweep, got %v", err)
	}
	if err := l.Allow("fresh"); err != ErrRateLimited {
		t.Errorf("expected fresh still throttled, got %v", err)
	}
}

func TestNewAPILimiter_MinimumBurst(t *testing.T) {
	if l := NewAPILimiter(5, 0); l.Burst != 1 {
		t.Errorf("expected burst clamped to 1, got %d", l.Burst)
	}
}
