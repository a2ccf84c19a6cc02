package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisSlidingWindowLimiter counts hits in a sorted set per key. It trades
// the local limiter's burst bucket for cross-instance consistency.
type redisSlidingWindowLimiter struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisLimiter(client redis.UniversalClient, prefix string) Limiter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &redisSlidingWindowLimiter{client: client, prefix: prefix}
}

func (l *redisSlidingWindowLimiter) Allow(ctx context.Context, key string, policy RateLimitPolicy) (Decision, error) {
	policy = normalizePolicy(policy)
	now := time.Now()
	redisKey := fmt.Sprintf("%s:{%s}", l.prefix, key)
	windowStart := now.Add(-policy.SustainedWindow)

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", fmt.Sprintf("%d", windowStart.UnixNano()))
	countCmd := pipe.ZCard(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, err
	}

	count := countCmd.Val()
	if count >= int64(policy.SustainedLimit) {
		oldest, err := l.client.ZRangeWithScores(ctx, redisKey, 0, 0).Result()
		retryAfter := policy.SustainedWindow
		if err == nil && len(oldest) > 0 {
			oldestAt := time.Unix(0, int64(oldest[0].Score))
			retryAfter = oldestAt.Add(policy.SustainedWindow).Sub(now)
			if retryAfter <= 0 {
				retryAfter = time.Second
			}
		}
		return Decision{
			Allowed:    false,
			RetryAfter: retryAfter,
			Remaining:  0,
			ResetAt:    now.Add(retryAfter),
			Reason:     "window",
		}, nil
	}

	member := fmt.Sprintf("%d", now.UnixNano())
	add := l.client.TxPipeline()
	add.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixNano()), Member: member})
	add.Expire(ctx, redisKey, policy.SustainedWindow+time.Second)
	if _, err := add.Exec(ctx); err != nil {
		return Decision{}, err
	}

	remaining := policy.SustainedLimit - int(count) - 1
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   true,
		Remaining: remaining,
		ResetAt:   now.Add(policy.SustainedWindow),
	}, nil
}
