package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/stencilflow/stencilflow/internal/clock"
)

type memoryWindow struct {
	start time.Time
	count int64
}

// MemoryLimiter keeps counters in process. Windows are aligned to the clock, so every
// key resets at the same boundaries.
type MemoryLimiter struct {
	mu      sync.Mutex
	clock   clock.Clock
	windows map[string]memoryWindow
	calls   int
}

func NewMemoryLimiter(clk clock.Clock) *MemoryLimiter {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &MemoryLimiter{clock: clk, windows: map[string]memoryWindow{}}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (Result, error) {
	if err := validate(key, limit, window); err != nil {
		return Result{}, err
	}

	now := l.clock.Now()
	start := now.Truncate(window)

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || !w.start.Equal(start) {
		w = memoryWindow{start: start}
	}
	w.count++
	l.windows[key] = w

	l.calls++
	if l.calls%1024 == 0 {
		l.sweep(start)
	}

	return newResult(w.count, limit, start.Add(window).Sub(now)), nil
}

// sweep drops counters from windows that started before the current one.
func (l *MemoryLimiter) sweep(current time.Time) {
	for key, w := range l.windows {
		if w.start.Before(current) {
			delete(l.windows, key)
		}
	}
}
