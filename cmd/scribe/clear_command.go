package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newClearCommand(cctx *commandContext) *cobra.Command {
	var succeeded, failed, all bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove items from the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !succeeded && !failed && !all {
				return errors.New("specify --succeeded, --failed, or --all")
			}

			store, err := cctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			var removed int64
			switch {
			case all:
				removed, err = store.Clear(ctx)
			case succeeded && failed:
				var s, f int64
				if s, err = store.ClearSucceeded(ctx); err == nil {
					f, err = store.ClearFailed(ctx)
				}
				removed = s + f
			case succeeded:
				removed, err = store.ClearSucceeded(ctx)
			case failed:
				removed, err = store.ClearFailed(ctx)
			}
			if err != nil {
				return fmt.Errorf("clear session: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d items\n", removed)
			return nil
		},
	}

	cmd.Flags().BoolVar(&succeeded, "succeeded", false, "Remove succeeded items")
	cmd.Flags().BoolVar(&failed, "failed", false, "Remove failed items")
	cmd.Flags().BoolVar(&all, "all", false, "Remove every item")
	return cmd
}
