package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRetryCommand(cctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retry [id...]",
		Short: "Requeue failed items",
		Long: `Retry returns failed items to the queue with a fresh strategy chain.
Without arguments every failed item is requeued; with ids only those items
are. Attempt history is preserved.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := cctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			count, err := store.RetryFailed(cmd.Context(), args...)
			if err != nil {
				return fmt.Errorf("retry failed items: %w", err)
			}
			if count == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No failed items to retry")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Requeued %d items; start them with 'scribe run'\n", count)
			return nil
		},
	}
	return cmd
}
