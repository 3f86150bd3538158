package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrUnknownBudget is returned when acquiring against a key that was never registered.
var ErrUnknownBudget = errors.New("unknown rate budget")

// budget is one fixed-window counter. count never exceeds capacity within a
// window; the reset is performed under the same lock as the check-and-increment.
type budget struct {
	mu          sync.Mutex
	capacity    int
	window      time.Duration
	windowStart time.Time
	count       int
}

// Limiter tracks one budget per key. The registry map is written only
// during Register; Acquire takes the per-budget lock, never a global one.
type Limiter struct {
	mu      sync.RWMutex
	budgets map[string]*budget
	now     func() time.Time
}

// Option customizes limiter construction.
type Option func(*Limiter)

// WithClock overrides the time source (used in tests).
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// New constructs an empty limiter.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		budgets: make(map[string]*budget),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Register creates or replaces the budget for key.
func (l *Limiter) Register(key string, capacity int, window time.Duration) error {
	if key == "" {
		return errors.New("budget key must not be empty")
	}
	if capacity < 1 {
		return fmt.Errorf("budget %q: capacity must be at least 1", key)
	}
	if window <= 0 {
		return fmt.Errorf("budget %q: window must be positive", key)
	}
	l.mu.Lock()
	l.budgets[key] = &budget{capacity: capacity, window: window}
	l.mu.Unlock()
	return nil
}

// Acquire blocks the calling goroutine until the budget admits one call or
// ctx is done. On success the admission is already counted; on ctx expiry
// the counter is untouched and the ctx error is returned.
func (l *Limiter) Acquire(ctx context.Context, key string) error {
	l.mu.RLock()
	b, ok := l.budgets[key]
	l.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownBudget, key)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		admitted, wait := b.tryAcquire(l.now())
		if admitted {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// tryAcquire performs the atomic window-reset + check-and-increment. When
// the budget is exhausted it returns the time remaining until the window
// rolls over. The lock is never held while sleeping.
func (b *budget) tryAcquire(now time.Time) (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.windowStart.IsZero() || now.Sub(b.windowStart) >= b.window {
		b.windowStart = now
		b.count = 0
	}
	if b.count < b.capacity {
		b.count++
		return true, 0
	}

	wait := b.window - now.Sub(b.windowStart)
	if wait <= 0 {
		wait = time.Millisecond
	}
	return false, wait
}

// Snapshot reports the current usage of a budget, for diagnostics.
func (l *Limiter) Snapshot(key string) (used, capacity int, ok bool) {
	l.mu.RLock()
	b, found := l.budgets[key]
	l.mu.RUnlock()
	if !found {
		return 0, 0, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count, b.capacity, true
}
