package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"scribe/internal/manifest"
)

var statusColumns = []string{"ID", "STATUS", "STRATEGY", "ATTEMPTS", "UPDATED", "ERROR"}

func newStatusCommand(cctx *commandContext) *cobra.Command {
	var failedOnly bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show session progress and per-item state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := cctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			health, err := store.Health(ctx)
			if err != nil {
				return fmt.Errorf("session health: %w", err)
			}

			var items []*manifest.Item
			if failedOnly {
				items, err = store.List(ctx, manifest.StatusFailed)
			} else {
				items, err = store.List(ctx)
			}
			if err != nil {
				return fmt.Errorf("list items: %w", err)
			}

			writer := cmd.OutOrStdout()
			fmt.Fprintf(writer, "Total %d: %d queued, %d extracting, %d succeeded, %d failed\n",
				health.Total, health.Queued, health.Extracting, health.Succeeded, health.Failed)
			if len(items) == 0 {
				return nil
			}

			if stdoutIsTerminal() {
				fmt.Fprintln(writer, itemsTable(items))
				return nil
			}
			// Plain tab-separated output for pipes and scripts.
			fmt.Fprintln(writer, strings.Join(statusColumns, "\t"))
			for _, item := range items {
				fmt.Fprintln(writer, strings.Join(statusRow(item), "\t"))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&failedOnly, "failed", false, "Show only failed items")
	return cmd
}

func statusRow(item *manifest.Item) []string {
	return []string{
		item.ID,
		string(item.Status),
		statusStrategy(item),
		strconv.Itoa(len(item.Attempts)),
		formatWhen(item.UpdatedAt),
		statusError(item),
	}
}

// itemsTable renders the per-item view for terminals. The attempt count is
// the only numeric column, so it is the only one right-aligned.
func itemsTable(items []*manifest.Item) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(statusColumns))
	for i, column := range statusColumns {
		header[i] = column
	}
	tw.AppendHeader(header)

	for _, item := range items {
		row := make(table.Row, 0, len(statusColumns))
		for _, cell := range statusRow(item) {
			row = append(row, cell)
		}
		tw.AppendRow(row)
	}

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})
	return tw.Render()
}

func statusStrategy(item *manifest.Item) string {
	if item.StrategyUsed != "" {
		return item.StrategyUsed
	}
	if len(item.Attempts) > 0 {
		return item.Attempts[len(item.Attempts)-1].Strategy
	}
	return "-"
}

func statusError(item *manifest.Item) string {
	if item.ErrorKind == "" {
		return ""
	}
	message := item.ErrorMessage
	if len(message) > 60 {
		message = message[:57] + "..."
	}
	if message == "" {
		return item.ErrorKind
	}
	return item.ErrorKind + ": " + message
}

func formatWhen(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func stdoutIsTerminal() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
