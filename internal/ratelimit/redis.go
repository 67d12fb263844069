package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "blogane:ratelimit:"

// Redis is a fixed window counter shared by every instance pointed at the
// same Redis deployment.
type Redis struct {
	client redis.UniversalClient
	limit  int64
	window time.Duration
	prefix string
}

func NewRedis(client redis.UniversalClient, limit int, window time.Duration, prefix string) *Redis {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &Redis{client: client, limit: int64(limit), window: window, prefix: prefix}
}

func (r *Redis) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	if key == "" {
		key = "unknown"
	}
	redisKey := r.prefix + key

	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		ttl = pipe.PTTL(ctx, redisKey)
		return nil
	})
	if err != nil {
		return false, 0, fmt.Errorf("rate limit %s: %w", key, err)
	}
	// A fresh counter has no expiry yet; start its window.
	if incr.Val() == 1 || ttl.Val() < 0 {
		if err := r.client.PExpire(ctx, redisKey, r.window).Err(); err != nil {
			return false, 0, fmt.Errorf("rate limit %s: %w", key, err)
		}
	}

	if incr.Val() <= r.limit {
		return true, 0, nil
	}
	retryAfter := ttl.Val()
	if retryAfter <= 0 {
		retryAfter = r.window
	}
	return false, retryAfter, nil
}
