package extract

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"scribe/internal/logging"
	"scribe/internal/manifest"
	"scribe/internal/services"
)

// Checkpoint persists an item's state mid-chain so a crash never loses a
// recorded attempt.
type Checkpoint func(ctx context.Context, item *manifest.Item) error

// Chain runs an ordered list of strategies against one work item. The
// strategy cursor lives on the item itself, which is how a resumed batch
// continues from the strategy it was interrupted at instead of restarting.
type Chain struct {
	strategies   []Strategy
	maxRetries   int
	baseBackoff  time.Duration
	log          *slog.Logger
	now          func() time.Time
	sleep        func(context.Context, time.Duration) error
	newRequestID func() string
	checkpoint   Checkpoint
}

// Option customizes chain construction.
type Option func(*Chain)

// WithLogger sets the logger used for attempt and transition events.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Chain) {
		if logger != nil {
			c.log = logger
		}
	}
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Chain) {
		if now != nil {
			c.now = now
		}
	}
}

// WithSleep overrides the backoff sleep for tests.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(c *Chain) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// WithRequestIDs overrides request id generation for tests.
func WithRequestIDs(gen func() string) Option {
	return func(c *Chain) {
		if gen != nil {
			c.newRequestID = gen
		}
	}
}

// WithCheckpoint sets the persistence hook invoked after every recorded
// attempt and state transition.
func WithCheckpoint(save Checkpoint) Option {
	return func(c *Chain) { c.checkpoint = save }
}

// New builds a chain over the given strategies. maxRetries is the number of
// additional invocations allowed per strategy after its first attempt fails
// with a retryable outcome; baseBackoff is the initial delay between those
// invocations, doubled per retry.
func New(strategies []Strategy, maxRetries int, baseBackoff time.Duration, opts ...Option) *Chain {
	if maxRetries < 0 {
		maxRetries = 0
	}
	chain := &Chain{
		strategies:   strategies,
		maxRetries:   maxRetries,
		baseBackoff:  baseBackoff,
		log:          logging.NewNop(),
		now:          time.Now,
		sleep:        sleepContext,
		newRequestID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(chain)
	}
	return chain
}

// Strategies returns the configured strategy names in chain order.
func (c *Chain) Strategies() []string {
	names := make([]string, len(c.strategies))
	for i, strategy := range c.strategies {
		names[i] = strategy.Name()
	}
	return names
}

// Run drives the item through the chain starting at its current strategy
// cursor and leaves it in a terminal state. The only error returns are
// context cancellation and checkpoint failures; extraction failures are
// recorded on the item, not returned.
func (c *Chain) Run(ctx context.Context, item *manifest.Item) error {
	ctx = services.WithItemID(ctx, item.ID)

	if len(c.strategies) == 0 {
		item.SetFailed(string(KindInternal), "no extraction strategies configured")
		return c.save(ctx, item)
	}

	var last Outcome
	for item.StrategyIndex < len(c.strategies) {
		strategy := c.strategies[item.StrategyIndex]
		outcome, err := c.runStrategy(ctx, strategy, item)
		if err != nil {
			return err
		}
		if outcome.Class == ClassSuccess {
			item.SetSucceeded(outcome.Transcript, strategy.Name(), c.now())
			c.log.InfoContext(ctx, "transcript extracted",
				logging.String(logging.FieldItemID, item.ID),
				logging.String(logging.FieldStrategy, strategy.Name()),
				logging.Int(logging.FieldAttempt, len(item.Attempts)))
			return c.save(ctx, item)
		}

		last = outcome
		item.AdvanceStrategy()
		if err := c.save(ctx, item); err != nil {
			return err
		}
		c.log.WarnContext(ctx, "strategy exhausted, advancing chain",
			logging.String(logging.FieldItemID, item.ID),
			logging.String(logging.FieldStrategy, strategy.Name()),
			logging.String(logging.FieldErrorKind, string(outcome.Kind)),
			logging.Error(outcome.Err))
	}

	if last.Err == nil {
		// Resumed with the cursor already past the end: a crash landed
		// between the final advance and the terminal save, so there is
		// no recorded outcome to report.
		item.SetFailed(string(KindInternal), "strategy chain exhausted")
	} else {
		item.SetFailed(string(last.Kind), last.message())
	}
	c.log.ErrorContext(ctx, "all strategies exhausted",
		logging.String(logging.FieldItemID, item.ID),
		logging.String(logging.FieldErrorKind, item.ErrorKind),
		logging.Int(logging.FieldAttempt, len(item.Attempts)))
	return c.save(ctx, item)
}

// runStrategy invokes one strategy with its retry budget. It returns the
// final per-strategy verdict: success, or the failure that exhausted it.
func (c *Chain) runStrategy(ctx context.Context, strategy Strategy, item *manifest.Item) (Outcome, error) {
	ctx = services.WithStrategy(ctx, strategy.Name())

	var outcome Outcome
	for retry := 0; ; retry++ {
		if err := ctx.Err(); err != nil {
			return Outcome{}, err
		}

		requestID := c.newRequestID()
		attemptCtx := services.WithRequestID(ctx, requestID)
		started := c.now()
		outcome = strategy.Extract(attemptCtx, Request{ItemID: item.ID, SourceURL: item.SourceURL})
		ended := c.now()

		item.RecordAttempt(manifest.Attempt{
			Strategy:  strategy.Name(),
			RequestID: requestID,
			StartedAt: started.UTC(),
			EndedAt:   ended.UTC(),
			Outcome:   outcome.Class.String(),
			ErrorKind: string(outcome.Kind),
			Message:   outcome.message(),
		})
		if err := c.save(attemptCtx, item); err != nil {
			return Outcome{}, err
		}

		if outcome.Class != ClassRetryable || retry >= c.maxRetries {
			return outcome, nil
		}

		wait := c.baseBackoff << retry
		if outcome.RetryAfter > wait {
			wait = outcome.RetryAfter
		}
		c.log.InfoContext(attemptCtx, "retrying strategy",
			logging.String(logging.FieldItemID, item.ID),
			logging.String(logging.FieldStrategy, strategy.Name()),
			logging.String(logging.FieldErrorKind, string(outcome.Kind)),
			logging.Duration("backoff", wait))
		if err := c.sleep(ctx, wait); err != nil {
			return Outcome{}, err
		}
	}
}

func (c *Chain) save(ctx context.Context, item *manifest.Item) error {
	if c.checkpoint == nil {
		return nil
	}
	return c.checkpoint(ctx, item)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
