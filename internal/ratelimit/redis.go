package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter shares a fixed-window request counter across broker
// replicas via Redis INCR/EXPIRE, for deployments that run more than one
// broker process behind a load balancer. A single broker process needs
// nothing more than LocalLimiter; this exists for that horizontally-scaled
// case (SPEC_FULL.md §6 [ratelimit].redis_addr).
type RedisLimiter struct {
	client            *redis.Client
	requestsPerMinute int
}

// NewRedis builds a RedisLimiter against the given address.
func NewRedis(addr string, requestsPerMinute int) *RedisLimiter {
	return &RedisLimiter{
		client:            redis.NewClient(&redis.Options{Addr: addr}),
		requestsPerMinute: requestsPerMinute,
	}
}

// Allow increments this minute's counter for clientID and reports whether
// it is still within budget.
func (r *RedisLimiter) Allow(ctx context.Context, clientID string) (bool, error) {
	key := fmt.Sprintf("monto:ratelimit:%s:%d", clientID, time.Now().Unix()/60)
	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis ratelimit incr: %w", err)
	}
	if count == 1 {
		if err := r.client.Expire(ctx, key, time.Minute).Err(); err != nil {
			return false, fmt.Errorf("redis ratelimit expire: %w", err)
		}
	}
	return count <= int64(r.requestsPerMinute), nil
}

// Close releases the underlying Redis client.
func (r *RedisLimiter) Close() error {
	return r.client.Close()
}
