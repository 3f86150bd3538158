package ratelimit_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"scribe/internal/ratelimit"
)

func TestAcquireUnknownBudget(t *testing.T) {
	limiter := ratelimit.New()
	err := limiter.Acquire(context.Background(), "nope")
	if !errors.Is(err, ratelimit.ErrUnknownBudget) {
		t.Fatalf("expected ErrUnknownBudget, got %v", err)
	}
}

func TestAcquireAdmitsUpToCapacity(t *testing.T) {
	limiter := ratelimit.New()
	if err := limiter.Register("captions", 3, time.Minute); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := limiter.Acquire(ctx, "captions"); err != nil {
			t.Fatalf("acquire %d failed: %v", i, err)
		}
	}

	used, capacity, ok := limiter.Snapshot("captions")
	if !ok || used != 3 || capacity != 3 {
		t.Fatalf("unexpected snapshot: used=%d capacity=%d ok=%v", used, capacity, ok)
	}

	// Fourth acquire must block until the window rolls over; give it a
	// short deadline and expect the context error without an admission.
	deadlineCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := limiter.Acquire(deadlineCtx, "captions"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
	if used, _, _ := limiter.Snapshot("captions"); used != 3 {
		t.Fatalf("deadline expiry must not consume budget, used=%d", used)
	}
}

func TestAcquireAdmitsAgainAfterWindowReset(t *testing.T) {
	limiter := ratelimit.New()
	if err := limiter.Register("proxy", 1, 80*time.Millisecond); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	ctx := context.Background()
	if err := limiter.Acquire(ctx, "proxy"); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}

	start := time.Now()
	if err := limiter.Acquire(ctx, "proxy"); err != nil {
		t.Fatalf("second acquire failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Fatalf("second acquire should have waited for the window, elapsed=%v", elapsed)
	}
}

func TestWindowCapHoldsUnderConcurrency(t *testing.T) {
	const (
		capacity = 3
		window   = 150 * time.Millisecond
		total    = 10
	)

	limiter := ratelimit.New()
	if err := limiter.Register("transcriber", capacity, window); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	var (
		mu         sync.Mutex
		admissions []time.Time
		wg         sync.WaitGroup
	)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for caller := 0; caller < 5; caller++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < total/5; i++ {
				if err := limiter.Acquire(ctx, "transcriber"); err != nil {
					t.Errorf("acquire failed: %v", err)
					return
				}
				mu.Lock()
				admissions = append(admissions, time.Now())
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(admissions) != total {
		t.Fatalf("expected %d admissions, got %d", total, len(admissions))
	}

	// No sliding window of the configured duration may contain more than
	// capacity admissions. A small tolerance absorbs timestamping skew
	// between the admission and the recording.
	const slack = 5 * time.Millisecond
	for i := range admissions {
		count := 0
		for j := range admissions {
			delta := admissions[j].Sub(admissions[i])
			if delta >= 0 && delta < window-slack {
				count++
			}
		}
		if count > capacity {
			t.Fatalf("window starting at admission %d contains %d admissions (capacity %d)", i, count, capacity)
		}
	}
}
