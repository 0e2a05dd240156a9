package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const fixedWindowScript = `
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {count, ttl}
`

// RedisLimiter shares fixed-window counters across replicas.
type RedisLimiter struct {
	client redis.Scripter
	script *redis.Script
}

func NewRedisLimiter(client redis.Scripter) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		script: redis.NewScript(fixedWindowScript),
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	if err := validate(key, limit, window); err != nil {
		return Result{}, err
	}
	if l == nil || l.client == nil {
		return Result{}, errors.New("rate limiter not configured")
	}

	res, err := l.script.Run(ctx, l.client, []string{key}, window.Milliseconds()).Slice()
	if err != nil {
		return Result{}, err
	}
	count, ttl, err := parseWindowReply(res)
	if err != nil {
		return Result{}, err
	}
	if ttl <= 0 {
		ttl = window
	}
	return newResult(count, limit, ttl), nil
}

func parseWindowReply(res []any) (int64, time.Duration, error) {
	if len(res) < 2 {
		return 0, 0, fmt.Errorf("invalid rate limit script response: %v", res)
	}
	count, ok := res[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("invalid rate limit count %T", res[0])
	}
	ttl, ok := res[1].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("invalid rate limit ttl %T", res[1])
	}
	return count, time.Duration(ttl) * time.Millisecond, nil
}
