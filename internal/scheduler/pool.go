// Package scheduler owns the worker pool that drives queued work items
// through the extraction chain. Items are dispatched in creation order and
// each item is owned by exactly one worker from pickup to terminal state.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"scribe/internal/extract"
	"scribe/internal/logging"
	"scribe/internal/manifest"
	"scribe/internal/progress"
	"scribe/internal/services"
	"scribe/internal/sink"
)

const component = "scheduler"

// BatchResult summarizes one Run.
type BatchResult struct {
	Succeeded  int
	Failed     int
	NotStarted int
	Cancelled  bool
}

// Pool coordinates workers over the session store.
type Pool struct {
	store             *manifest.Store
	chain             *extract.Chain
	monitor           *progress.Monitor
	sink              sink.Sink
	workers           int
	heartbeatInterval time.Duration
	log               *slog.Logger
	now               func() time.Time
}

// Option customizes pool construction.
type Option func(*Pool)

// WithWorkers sets the number of concurrent workers.
func WithWorkers(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithMonitor attaches a progress monitor.
func WithMonitor(monitor *progress.Monitor) Option {
	return func(p *Pool) { p.monitor = monitor }
}

// WithSink attaches the transcript sink invoked for every success.
func WithSink(s sink.Sink) Option {
	return func(p *Pool) { p.sink = s }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.log = logging.NewComponentLogger(logger, component)
		}
	}
}

// WithHeartbeatInterval sets how often in-flight items refresh their
// liveness timestamp.
func WithHeartbeatInterval(interval time.Duration) Option {
	return func(p *Pool) {
		if interval > 0 {
			p.heartbeatInterval = interval
		}
	}
}

// WithClock overrides the time source (used in tests).
func WithClock(now func() time.Time) Option {
	return func(p *Pool) {
		if now != nil {
			p.now = now
		}
	}
}

// New builds a pool over the given store and chain.
func New(store *manifest.Store, chain *extract.Chain, opts ...Option) *Pool {
	pool := &Pool{
		store:             store,
		chain:             chain,
		workers:           4,
		heartbeatInterval: 15 * time.Second,
		log:               logging.NewNop(),
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(pool)
	}
	return pool
}

// Run processes every queued item and blocks until the batch drains or ctx
// is cancelled. Cancellation stops dispatch only: items already picked up
// keep their network calls alive and run to a terminal state before the
// pool drains; items never dispatched are reported as not started.
func (p *Pool) Run(ctx context.Context) (BatchResult, error) {
	// Items stranded in extracting by a previous crash resume from the
	// same strategy cursor.
	reset, err := p.store.ResetInterrupted(ctx)
	if err != nil {
		return BatchResult{}, fmt.Errorf("reset interrupted items: %w", err)
	}
	if reset > 0 {
		p.log.InfoContext(ctx, "resuming interrupted items", logging.Int64("count", reset))
	}

	items, err := p.store.Load(ctx)
	if err != nil {
		return BatchResult{}, fmt.Errorf("load session: %w", err)
	}
	if p.monitor != nil {
		p.monitor.Seed(items)
	}

	pending := make([]*manifest.Item, 0, len(items))
	for _, item := range items {
		if item.Status == manifest.StatusQueued {
			pending = append(pending, item)
		}
	}
	if len(pending) == 0 {
		return p.result(ctx, nil)
	}

	p.log.InfoContext(ctx, "batch starting",
		logging.Int("pending", len(pending)),
		logging.Int("workers", p.workers))

	// Unbuffered: an item leaves the channel only when a worker takes
	// ownership of it, so no item is ever held by two workers.
	dispatch := make(chan *manifest.Item)
	go func() {
		defer close(dispatch)
		for _, item := range pending {
			select {
			case dispatch <- item:
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for workerID := 0; workerID < p.workers; workerID++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			workerCtx := services.WithWorkerID(ctx, workerID)
			for item := range dispatch {
				p.process(workerCtx, workerID, item)
				if ctx.Err() != nil {
					return
				}
			}
		}(workerID)
	}
	wg.Wait()

	return p.result(ctx, ctx.Err())
}

// process drives one item to a terminal state (or back to queued on
// cancellation). The panic guard is the pool's worker boundary: a panicking
// strategy fails its item but never takes the pool down.
func (p *Pool) process(ctx context.Context, workerID int, item *manifest.Item) {
	ctx = services.WithItemID(ctx, item.ID)

	defer func() {
		if r := recover(); r != nil {
			p.log.ErrorContext(ctx, "worker panic recovered",
				logging.String(logging.FieldItemID, item.ID),
				logging.Int(logging.FieldWorkerID, workerID),
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())))
			prev := item.Status
			item.SetFailed(string(extract.KindInternal), fmt.Sprintf("panic: %v", r))
			p.persist(ctx, item)
			p.report(workerID, prev, item)
		}
	}()

	prev := item.Status
	item.SetExtracting(p.now())
	p.persist(ctx, item)
	p.report(workerID, prev, item)

	stopHeartbeat := p.startHeartbeat(ctx, item.ID)
	// The batch ctx governs dispatch, not in-flight work: the chain runs
	// detached so cancellation never kills a network call mid-attempt.
	// Strategies bound their own calls with client timeouts and deadlines.
	err := p.chain.Run(context.WithoutCancel(ctx), item)
	stopHeartbeat()

	if err != nil {
		// Only checkpoint failures reach here; the recorded attempts are
		// already persisted, so the item just goes back in the queue.
		prev := item.Status
		item.SetRequeued()
		p.persist(ctx, item)
		p.report(workerID, prev, item)
		p.log.InfoContext(ctx, "item requeued",
			logging.String(logging.FieldItemID, item.ID),
			logging.Error(err))
		return
	}

	p.report(workerID, manifest.StatusExtracting, item)
	switch item.Status {
	case manifest.StatusSucceeded:
		if p.sink != nil {
			if err := p.sink.Write(ctx, item); err != nil {
				// The transcript survives in the session store, so a
				// sink fault is an alert, not an item failure.
				p.log.ErrorContext(ctx, "sink write failed",
					logging.String(logging.FieldItemID, item.ID),
					logging.Alert("sink_write_failed"),
					logging.Error(err))
			}
		}
	case manifest.StatusFailed:
		p.log.WarnContext(ctx, "item failed",
			logging.String(logging.FieldItemID, item.ID),
			logging.String(logging.FieldErrorKind, item.ErrorKind))
	}
}

// startHeartbeat refreshes the item's liveness timestamp until the returned
// stop function is called.
func (p *Pool) startHeartbeat(ctx context.Context, itemID string) func() {
	done := make(chan struct{})
	var once sync.Once
	go func() {
		ticker := time.NewTicker(p.heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := p.store.UpdateHeartbeat(context.WithoutCancel(ctx), itemID); err != nil {
					p.log.WarnContext(ctx, "heartbeat update failed",
						logging.String(logging.FieldItemID, itemID),
						logging.Error(err))
				}
			}
		}
	}()
	return func() { once.Do(func() { close(done) }) }
}

// persist writes the item even when ctx is already cancelled; losing a state
// transition is worse than a late write.
func (p *Pool) persist(ctx context.Context, item *manifest.Item) {
	if err := p.store.Update(context.WithoutCancel(ctx), item); err != nil {
		p.log.ErrorContext(ctx, "persist item failed",
			logging.String(logging.FieldItemID, item.ID),
			logging.Alert("manifest_write_failed"),
			logging.Error(err))
	}
}

func (p *Pool) report(workerID int, prev manifest.Status, item *manifest.Item) {
	if p.monitor != nil && prev != item.Status {
		p.monitor.Report(workerID, prev, item)
	}
}

func (p *Pool) result(ctx context.Context, runErr error) (BatchResult, error) {
	health, err := p.store.Health(context.WithoutCancel(ctx))
	if err != nil {
		return BatchResult{}, fmt.Errorf("session health: %w", err)
	}
	result := BatchResult{
		Succeeded:  health.Succeeded,
		Failed:     health.Failed,
		NotStarted: health.Queued + health.Extracting,
		Cancelled:  runErr != nil,
	}
	return result, nil
}
