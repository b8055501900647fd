// Package ratelimit throttles per-client requests against the ClientAPI.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is satisfied by both the in-process and Redis-backed limiters.
type Limiter interface {
	Allow(ctx context.Context, clientID string) (bool, error)
}

// LocalLimiter is a token-bucket limiter keyed per client, confined to this
// broker process. Adapted from the teacher's per-client rate.Limiter map.
type LocalLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

// NewLocal builds a LocalLimiter allowing requestsPerMinute requests per
// client, with the given burst capacity.
func NewLocal(requestsPerMinute, burst int) *LocalLimiter {
	return &LocalLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:    burst,
	}
}

// Allow reports whether clientID may proceed, consuming a token if so.
func (l *LocalLimiter) Allow(_ context.Context, clientID string) (bool, error) {
	return l.limiterFor(clientID).Allow(), nil
}

func (l *LocalLimiter) limiterFor(clientID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[clientID]
	if !ok {
		lim = rate.NewLimiter(l.rate, l.burst)
		l.limiters[clientID] = lim
	}
	return lim
}

// Cleanup evicts limiters that have been idle long enough to refill to
// full burst capacity; callers should run this periodically.
func (l *LocalLimiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	for key, lim := range l.limiters {
		if lim.TokensAt(now) == float64(l.burst) {
			delete(l.limiters, key)
		}
	}
}

// RunCleanup starts a background goroutine evicting idle limiters every
// interval, until ctx is done.
func (l *LocalLimiter) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Cleanup()
			}
		}
	}()
}
