package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stencilflow/stencilflow/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiterFixedWindow(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 1, 1, 12, 0, 10, 0, time.UTC))
	l := NewMemoryLimiter(clk)
	ctx := context.Background()

	for i := 1; i <= 10; i++ {
		res, err := l.Allow(ctx, "rl:mutations:user:a", 10, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d", i)
		assert.Equal(t, 10-i, res.Remaining)
	}

	res, err := l.Allow(ctx, "rl:mutations:user:a", 10, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, 50*time.Second, res.RetryAfter)

	other, err := l.Allow(ctx, "rl:mutations:user:b", 10, time.Minute)
	require.NoError(t, err)
	assert.True(t, other.Allowed)

	clk.Advance(50 * time.Second)
	res, err = l.Allow(ctx, "rl:mutations:user:a", 10, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 9, res.Remaining)
}

func TestMemoryLimiterValidates(t *testing.T) {
	l := NewMemoryLimiter(nil)
	_, err := l.Allow(context.Background(), "", 1, time.Second)
	assert.ErrorIs(t, err, ErrEmptyKey)
	_, err = l.Allow(context.Background(), "k", 0, time.Second)
	assert.ErrorIs(t, err, ErrInvalidPolicy)
	_, err = l.Allow(context.Background(), "k", 1, 0)
	assert.ErrorIs(t, err, ErrInvalidPolicy)
}

func TestParseWindowReply(t *testing.T) {
	count, ttl, err := parseWindowReply([]any{int64(3), int64(1500)})
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
	assert.Equal(t, 1500*time.Millisecond, ttl)

	_, _, err = parseWindowReply([]any{int64(1)})
	assert.Error(t, err)
	_, _, err = parseWindowReply([]any{"1", int64(1)})
	assert.Error(t, err)

	res := newResult(11, 10, 2*time.Second)
	assert.False(t, res.Allowed)
	assert.Equal(t, 2*time.Second, res.RetryAfter)
}
