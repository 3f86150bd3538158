// Package progress tracks batch-wide counters so status output never has to
// rescan the session database while workers are running.
package progress

import (
	"sync"
	"time"

	"scribe/internal/manifest"
)

// WorkerState describes what one worker is doing right now.
type WorkerState struct {
	ItemID string
	Status manifest.Status
}

// Snapshot is a point-in-time view of batch progress. The ETA is advisory:
// it is a linear projection from throughput so far and is zero until at
// least one item has finished.
type Snapshot struct {
	Total       int
	Queued      int
	Extracting  int
	Succeeded   int
	Failed      int
	PerStrategy map[string]int
	Workers     map[int]WorkerState
	Elapsed     time.Duration
	ETA         time.Duration
}

// Done reports whether every item reached a terminal state.
func (s Snapshot) Done() bool {
	return s.Total > 0 && s.Succeeded+s.Failed == s.Total
}

// Monitor aggregates item transitions reported by workers. The lock is held
// only for counter updates; the change callback runs outside it so a slow
// renderer never stalls a worker.
type Monitor struct {
	mu          sync.Mutex
	counts      map[manifest.Status]int
	perStrategy map[string]int
	workers     map[int]WorkerState
	total       int
	started     time.Time
	now         func() time.Time
	onChange    func(Snapshot)
}

// Option customizes monitor construction.
type Option func(*Monitor)

// WithClock overrides the time source (used in tests).
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// WithOnChange registers a callback invoked after every reported transition.
func WithOnChange(fn func(Snapshot)) Option {
	return func(m *Monitor) { m.onChange = fn }
}

// New constructs an empty monitor.
func New(opts ...Option) *Monitor {
	m := &Monitor{
		counts:      make(map[manifest.Status]int),
		perStrategy: make(map[string]int),
		workers:     make(map[int]WorkerState),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.started = m.now()
	return m
}

// Seed initializes counters from the loaded session, including items already
// terminal from a previous run.
func (m *Monitor) Seed(items []*manifest.Item) {
	m.mu.Lock()
	for _, item := range items {
		m.total++
		m.counts[item.Status]++
		if item.Status == manifest.StatusSucceeded && item.StrategyUsed != "" {
			m.perStrategy[item.StrategyUsed]++
		}
	}
	snap := m.snapshotLocked()
	cb := m.onChange
	m.mu.Unlock()

	if cb != nil {
		cb(snap)
	}
}

// Report records one item transition made by a worker. prev is the status
// the item held before the transition. While the item is extracting the
// worker stays in the per-worker view; any other status releases the worker.
func (m *Monitor) Report(workerID int, prev manifest.Status, item *manifest.Item) {
	m.mu.Lock()
	if m.counts[prev] > 0 {
		m.counts[prev]--
	}
	m.counts[item.Status]++
	if item.Status == manifest.StatusSucceeded && item.StrategyUsed != "" {
		m.perStrategy[item.StrategyUsed]++
	}
	if item.Status == manifest.StatusExtracting {
		m.workers[workerID] = WorkerState{ItemID: item.ID, Status: item.Status}
	} else {
		delete(m.workers, workerID)
	}
	snap := m.snapshotLocked()
	cb := m.onChange
	m.mu.Unlock()

	if cb != nil {
		cb(snap)
	}
}

// Snapshot returns the current progress view.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Monitor) snapshotLocked() Snapshot {
	snap := Snapshot{
		Total:       m.total,
		Queued:      m.counts[manifest.StatusQueued],
		Extracting:  m.counts[manifest.StatusExtracting],
		Succeeded:   m.counts[manifest.StatusSucceeded],
		Failed:      m.counts[manifest.StatusFailed],
		PerStrategy: make(map[string]int, len(m.perStrategy)),
		Workers:     make(map[int]WorkerState, len(m.workers)),
		Elapsed:     m.now().Sub(m.started),
	}
	for strategy, count := range m.perStrategy {
		snap.PerStrategy[strategy] = count
	}
	for workerID, state := range m.workers {
		snap.Workers[workerID] = state
	}

	completed := snap.Succeeded + snap.Failed
	remaining := snap.Total - completed
	if completed > 0 && remaining > 0 && snap.Elapsed > 0 {
		snap.ETA = time.Duration(int64(snap.Elapsed) / int64(completed) * int64(remaining))
	}
	return snap
}
