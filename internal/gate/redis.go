package gate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis implements Gate on a shared Redis instance so limits hold across all
// API replicas. The counter uses INCR+EXPIRE in a pipeline and the dedupe
// marker uses SET NX, both atomic server-side.
type Redis struct {
	client  *redis.Client
	metrics *Metrics
}

// NewRedis creates a Redis-backed gate. metrics may be nil.
func NewRedis(client *redis.Client, metrics *Metrics) *Redis {
	return &Redis{client: client, metrics: metrics}
}

// IsRateLimited increments the counter for the current fixed window and
// reports whether the post-increment count exceeds limit. A Redis failure is
// returned to the caller so the request is rejected (fail-closed).
func (g *Redis) IsRateLimited(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	g.metrics.incChecks("rate")

	wk := windowKey(key, time.Now(), window)
	pipe := g.client.Pipeline()
	count := pipe.Incr(ctx, wk)
	pipe.Expire(ctx, wk, window)
	if _, err := pipe.Exec(ctx); err != nil {
		g.metrics.incBackendErrors()
		return false, fmt.Errorf("rate limit backend: %w", err)
	}

	limited := count.Val() > int64(limit)
	if limited {
		g.metrics.incLimited("rate")
	}
	return limited, nil
}

// CheckAndSetDedupe atomically creates the marker with SET NX and reports
// whether it already existed.
func (g *Redis) CheckAndSetDedupe(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	g.metrics.incChecks("dedupe")

	created, err := g.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		g.metrics.incBackendErrors()
		return false, fmt.Errorf("dedupe backend: %w", err)
	}
	if !created {
		g.metrics.incLimited("dedupe")
	}
	return !created, nil
}
