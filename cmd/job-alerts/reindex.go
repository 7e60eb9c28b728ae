package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the keyword index from the subscription store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		application, err := newApp()
		if err != nil {
			return err
		}
		defer application.Close()

		res, err := application.RebuildIndex(context.Background())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "index rebuilt: %d keywords, %d entries, %d stale keys removed in %s\n",
			res.Keywords, res.Entries, res.Removed, res.Duration)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reindexCmd)
}
