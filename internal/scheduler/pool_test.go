package scheduler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"scribe/internal/extract"
	"scribe/internal/manifest"
	"scribe/internal/progress"
)

type stubStrategy struct {
	name string
	fn   func(ctx context.Context, req extract.Request) extract.Outcome
}

func (s *stubStrategy) Name() string { return s.name }

func (s *stubStrategy) Extract(ctx context.Context, req extract.Request) extract.Outcome {
	return s.fn(ctx, req)
}

type memorySink struct {
	mu    sync.Mutex
	items []string
}

func (m *memorySink) Write(_ context.Context, item *manifest.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, item.ID)
	return nil
}

func (m *memorySink) written() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.items...)
}

func newTestStore(t *testing.T) *manifest.Store {
	t.Helper()
	store, err := manifest.OpenAt(filepath.Join(t.TempDir(), "session.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedN(t *testing.T, store *manifest.Store, n int) {
	t.Helper()
	specs := make([]manifest.Spec, n)
	for i := range specs {
		specs[i] = manifest.Spec{
			ID:        fmt.Sprintf("vid-%03d", i),
			SourceURL: fmt.Sprintf("https://example.com/watch?v=%03d", i),
		}
	}
	if err := store.Seed(context.Background(), specs); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func newChain(store *manifest.Store, strategies ...extract.Strategy) *extract.Chain {
	return extract.New(strategies, 1, time.Millisecond,
		extract.WithSleep(func(_ context.Context, _ time.Duration) error { return nil }),
		extract.WithCheckpoint(store.Update))
}

func TestRunDrainsBatch(t *testing.T) {
	store := newTestStore(t)
	seedN(t, store, 6)

	// Even-numbered videos have captions; odd ones fall through to the
	// transcriber, and one is unavailable everywhere.
	captions := &stubStrategy{name: "captions", fn: func(_ context.Context, req extract.Request) extract.Outcome {
		if req.ItemID == "vid-000" || req.ItemID == "vid-002" || req.ItemID == "vid-004" {
			return extract.Success("caption text for " + req.ItemID)
		}
		return extract.Permanent(extract.KindContentUnavailable, errors.New("no caption track"))
	}}
	transcriber := &stubStrategy{name: "transcriber", fn: func(_ context.Context, req extract.Request) extract.Outcome {
		if req.ItemID == "vid-005" {
			return extract.Permanent(extract.KindQuotaExhausted, errors.New("quota reached"))
		}
		return extract.Success("transcribed text for " + req.ItemID)
	}}

	out := &memorySink{}
	monitor := progress.New()
	pool := New(store, newChain(store, captions, transcriber),
		WithWorkers(3),
		WithSink(out),
		WithMonitor(monitor),
		WithHeartbeatInterval(time.Hour))

	result, err := pool.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Succeeded != 5 || result.Failed != 1 || result.NotStarted != 0 || result.Cancelled {
		t.Fatalf("unexpected result: %+v", result)
	}
	if got := len(out.written()); got != 5 {
		t.Errorf("expected 5 sink writes, got %d", got)
	}

	failed, err := store.GetByID(context.Background(), "vid-005")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if failed.Status != manifest.StatusFailed || failed.ErrorKind != "quota_exhausted" {
		t.Errorf("unexpected failed item: %s/%q", failed.Status, failed.ErrorKind)
	}

	snap := monitor.Snapshot()
	if !snap.Done() || snap.Succeeded != 5 || snap.Failed != 1 {
		t.Errorf("unexpected monitor snapshot: %+v", snap)
	}
	if snap.PerStrategy["captions"] != 3 || snap.PerStrategy["transcriber"] != 2 {
		t.Errorf("unexpected per-strategy counts: %+v", snap.PerStrategy)
	}
}

func TestRunBoundsConcurrency(t *testing.T) {
	store := newTestStore(t)
	seedN(t, store, 12)

	var inFlight, peak atomic.Int32
	slow := &stubStrategy{name: "captions", fn: func(_ context.Context, _ extract.Request) extract.Outcome {
		current := inFlight.Add(1)
		for {
			observed := peak.Load()
			if current <= observed || peak.CompareAndSwap(observed, current) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return extract.Success("text")
	}}

	pool := New(store, newChain(store, slow), WithWorkers(3), WithHeartbeatInterval(time.Hour))
	if _, err := pool.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := peak.Load(); got > 3 {
		t.Errorf("concurrency exceeded worker bound: peak %d", got)
	}
}

func TestRunExclusiveOwnership(t *testing.T) {
	store := newTestStore(t)
	seedN(t, store, 20)

	var mu sync.Mutex
	executions := make(map[string]int)
	counter := &stubStrategy{name: "captions", fn: func(_ context.Context, req extract.Request) extract.Outcome {
		mu.Lock()
		executions[req.ItemID]++
		mu.Unlock()
		return extract.Success("text")
	}}

	pool := New(store, newChain(store, counter), WithWorkers(5), WithHeartbeatInterval(time.Hour))
	if _, err := pool.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(executions) != 20 {
		t.Fatalf("expected 20 distinct items, got %d", len(executions))
	}
	for id, count := range executions {
		if count != 1 {
			t.Errorf("item %s executed %d times", id, count)
		}
	}
}

func TestRunPanicFailsItemNotPool(t *testing.T) {
	store := newTestStore(t)
	seedN(t, store, 4)

	volatile := &stubStrategy{name: "captions", fn: func(_ context.Context, req extract.Request) extract.Outcome {
		if req.ItemID == "vid-001" {
			panic("bad caption parser")
		}
		return extract.Success("text")
	}}

	pool := New(store, newChain(store, volatile), WithWorkers(2), WithHeartbeatInterval(time.Hour))
	result, err := pool.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Succeeded != 3 || result.Failed != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}

	item, err := store.GetByID(context.Background(), "vid-001")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if item.Status != manifest.StatusFailed || item.ErrorKind != "internal" {
		t.Errorf("expected internal failure, got %s/%q", item.Status, item.ErrorKind)
	}
}

func TestRunGracefulCancellation(t *testing.T) {
	store := newTestStore(t)
	seedN(t, store, 5)

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{}, 5)
	release := make(chan struct{})
	slow := &stubStrategy{name: "captions", fn: func(ctx context.Context, _ extract.Request) extract.Outcome {
		started <- struct{}{}
		select {
		case <-ctx.Done():
			// Batch cancellation must never reach an in-flight call.
			return extract.Retryable(extract.KindNetworkError, ctx.Err())
		case <-release:
			return extract.Success("text")
		}
	}}

	pool := New(store, newChain(store, slow), WithWorkers(2), WithHeartbeatInterval(time.Hour))

	go func() {
		// Cancel while two items are in flight, then let them finish.
		<-started
		<-started
		cancel()
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()

	result, err := pool.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !result.Cancelled {
		t.Fatal("expected cancelled result")
	}
	if result.Succeeded != 2 {
		t.Errorf("in-flight items must reach a terminal state: %+v", result)
	}
	if result.NotStarted != 3 {
		t.Errorf("expected 3 items never dispatched: %+v", result)
	}

	// No item may be left in the extracting state, and the finished items
	// must have completed on their first attempt rather than being killed
	// and retried.
	stuck, err := store.List(context.Background(), manifest.StatusExtracting)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(stuck) != 0 {
		t.Errorf("items left extracting after cancellation: %d", len(stuck))
	}
	done, err := store.List(context.Background(), manifest.StatusSucceeded)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, item := range done {
		if len(item.Attempts) != 1 {
			t.Errorf("item %s finished in %d attempts, want 1", item.ID, len(item.Attempts))
		}
	}
}

func TestRunResumesAtStrategyCursor(t *testing.T) {
	store := newTestStore(t)
	seedN(t, store, 1)

	// Simulate a prior crash: the item was mid-chain on the second strategy.
	item, err := store.GetByID(context.Background(), "vid-000")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	item.SetExtracting(time.Now())
	item.StrategyIndex = 1
	if err := store.Update(context.Background(), item); err != nil {
		t.Fatalf("update: %v", err)
	}

	first := &stubStrategy{name: "captions", fn: func(_ context.Context, _ extract.Request) extract.Outcome {
		t.Error("first strategy must not run for a resumed item")
		return extract.Success("wrong")
	}}
	second := &stubStrategy{name: "transcriber", fn: func(_ context.Context, _ extract.Request) extract.Outcome {
		return extract.Success("resumed text")
	}}

	pool := New(store, newChain(store, first, second), WithWorkers(1), WithHeartbeatInterval(time.Hour))
	result, err := pool.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Succeeded != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}

	reloaded, err := store.GetByID(context.Background(), "vid-000")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.StrategyUsed != "transcriber" || reloaded.Transcript != "resumed text" {
		t.Errorf("unexpected resumed item: %+v", reloaded)
	}
}

func TestRunEmptyQueueReturnsImmediately(t *testing.T) {
	store := newTestStore(t)

	pool := New(store, newChain(store, &stubStrategy{name: "captions", fn: func(_ context.Context, _ extract.Request) extract.Outcome {
		return extract.Success("text")
	}}))

	result, err := pool.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Succeeded != 0 || result.Failed != 0 || result.NotStarted != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
}
