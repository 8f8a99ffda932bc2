// Package limiter throttles API-key callers.
//
// Each API-key user gets a token bucket. Web callers are not throttled.
package limiter

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when a user has no tokens left.
var ErrRateLimited = errors.New("limiter: rate limit exceeded")

type entry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// APILimiter holds one token bucket per user.
type APILimiter struct {
	// PerSecond is the refill rate and Burst the bucket size.
	PerSecond float64
	Burst     int

	mu    sync.Mutex
	users map[string]*entry
	now   func() time.Time
}

// NewAPILimiter creates a limiter refilling perSecond tokens per second up
// to burst.
func NewAPILimiter(perSecond float64, burst int) *APILimiter {
	if burst < 1 {
		burst = 1
	}
	return &APILimiter{
		PerSecond: perSecond,
		Burst:     burst,
		users:     make(map[string]*entry),
		now:       time.Now,
	}
}

// Allow takes a token for userID, or returns ErrRateLimited.
func (l *APILimiter) Allow(userID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.users[userID]
	if !ok {
		e = &entry{lim: rate.NewLimiter(rate.Limit(l.PerSecond), l.Burst)}
		l.users[userID] = e
	}
	e.lastSeen = now
	if !e.lim.AllowN(now, 1) {
		return ErrRateLimited
	}
	return nil
}

// Sweep forgets users idle for longer than idle and returns how many were
// dropped. A forgotten user starts again with a full bucket.
func (l *APILimiter) Sweep(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-idle)
	n := 0
	for id, e := range l.users {
		if e.lastSeen.Before(cutoff) {
			delete(l.users, id)
			n++
		}
	}
	return n
}
