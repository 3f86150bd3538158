package extract

import "context"

// Request identifies the work a strategy should perform.
type Request struct {
	ItemID    string
	SourceURL string
}

// Strategy is one way of obtaining a transcript for a video. Implementations
// must be safe for concurrent use; the worker pool invokes a shared instance
// from multiple goroutines.
type Strategy interface {
	// Name returns the stable identifier used in config, logs, and the
	// manifest's attempt history.
	Name() string
	// Extract attempts to produce a transcript for the request. It must
	// honor ctx cancellation and must not panic on malformed input; all
	// failures are reported through the outcome.
	Extract(ctx context.Context, req Request) Outcome
}
