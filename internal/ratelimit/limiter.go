// Package ratelimit throttles requests with fixed-window counters keyed by caller.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

var (
	ErrEmptyKey      = errors.New("rate limiter key is empty")
	ErrInvalidPolicy = errors.New("rate limiter limit and window must be positive")
)

// Result describes the outcome of one Allow call.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter counts a request against key in the current window of the given length.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error)
}

func validate(key string, limit int, window time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}
	if limit <= 0 || window <= 0 {
		return ErrInvalidPolicy
	}
	return nil
}

func newResult(count int64, limit int, retryAfter time.Duration) Result {
	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	allowed := count <= int64(limit)
	if allowed {
		retryAfter = 0
	}
	return Result{Allowed: allowed, Limit: limit, Remaining: remaining, RetryAfter: retryAfter}
}
