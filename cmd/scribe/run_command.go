package main

import (
	"fmt"
	"io"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"scribe/internal/extract"
	"scribe/internal/logging"
	"scribe/internal/manifest"
	"scribe/internal/progress"
	"scribe/internal/ratelimit"
	"scribe/internal/scheduler"
	"scribe/internal/sink"
)

func newRunCommand(cctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [items-file]",
		Short: "Extract transcripts for the batch",
		Long: `Run drives every queued item through the strategy chain. With an items
file argument the listed videos are added to the session first; without one
the existing session is resumed. Interrupting a run is safe: items already
being worked run to completion and the rest of the batch stays queued.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := logging.NewFromConfig(cfg)
			if err != nil {
				return fmt.Errorf("initialize logging: %w", err)
			}

			lock, err := manifest.AcquireLock(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = lock.Release() }()

			store, err := manifest.Open(cfg)
			if err != nil {
				return fmt.Errorf("open session: %w", err)
			}
			defer store.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if len(args) == 1 {
				specs, err := readItemsFile(args[0])
				if err != nil {
					return err
				}
				if err := store.Seed(ctx, specs); err != nil {
					return fmt.Errorf("seed session: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Loaded %d items from %s\n", len(specs), args[0])
			}

			limiter, err := ratelimit.FromConfig(cfg)
			if err != nil {
				return fmt.Errorf("configure rate limits: %w", err)
			}
			strategies, err := buildStrategies(cfg, limiter, logger)
			if err != nil {
				return err
			}
			chain := extract.New(strategies,
				cfg.Chain.MaxRetries,
				time.Duration(cfg.Chain.RetryBackoffSeconds)*time.Second,
				extract.WithLogger(logger),
				extract.WithCheckpoint(store.Update))

			out, err := sink.New(cfg)
			if err != nil {
				return err
			}
			monitor := progress.New(progress.WithOnChange(newProgressPrinter(cmd.OutOrStdout())))

			pool := scheduler.New(store, chain,
				scheduler.WithWorkers(cfg.Workers.MaxConcurrency),
				scheduler.WithSink(out),
				scheduler.WithMonitor(monitor),
				scheduler.WithLogger(logger),
				scheduler.WithHeartbeatInterval(time.Duration(cfg.Workers.HeartbeatInterval)*time.Second))

			result, err := pool.Run(ctx)
			if err != nil {
				return err
			}

			writer := cmd.OutOrStdout()
			if result.Cancelled {
				fmt.Fprintln(writer, "Run interrupted; session saved. Re-run 'scribe run' to resume.")
			}
			fmt.Fprintf(writer, "Succeeded: %d  Failed: %d  Not started: %d\n",
				result.Succeeded, result.Failed, result.NotStarted)
			if result.Failed > 0 {
				fmt.Fprintln(writer, "Inspect failures with 'scribe status --failed'; requeue them with 'scribe retry'.")
			}
			return nil
		},
	}
	return cmd
}

// newProgressPrinter emits one line per completed item. It dedupes on the
// completion count so extracting-state churn stays quiet.
func newProgressPrinter(w io.Writer) func(progress.Snapshot) {
	var mu sync.Mutex
	lastDone := -1
	return func(snap progress.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		done := snap.Succeeded + snap.Failed
		if done == lastDone || done == 0 {
			return
		}
		lastDone = done

		eta := "n/a"
		if snap.ETA > 0 {
			eta = snap.ETA.Round(time.Second).String()
		}
		fmt.Fprintf(w, "[%d/%d] succeeded=%d failed=%d eta=%s\n",
			done, snap.Total, snap.Succeeded, snap.Failed, eta)
	}
}
