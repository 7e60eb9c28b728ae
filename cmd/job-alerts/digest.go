package main

import (
	"context"
	"fmt"

	"github.com/bissquit/job-alerts/internal/domain"
	"github.com/spf13/cobra"
)

var digestFrequency string

var digestCmd = &cobra.Command{
	Use:   "digest",
	Short: "Digest operations",
}

var digestRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one digest cycle now",
	Args:  cobra.NoArgs,
	PreRunE: func(_ *cobra.Command, _ []string) error {
		if !domain.Frequency(digestFrequency).IsValid() {
			return fmt.Errorf("--frequency must be %s or %s", domain.FrequencyDaily, domain.FrequencyWeekly)
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, _ []string) error {
		application, err := newApp()
		if err != nil {
			return err
		}
		defer application.Close()

		res, err := application.RunDigest(context.Background(), domain.Frequency(digestFrequency))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(),
			"%s digest: %d subscriptions, %d groups, %d published, %d skipped, %d failed, %d matches cleaned\n",
			res.Frequency, res.Subscriptions, res.Groups, res.Published, res.Skipped, res.Failed, res.Cleaned)
		return nil
	},
}

func init() {
	digestRunCmd.Flags().StringVar(&digestFrequency, "frequency", string(domain.FrequencyDaily), "daily or weekly")
	digestCmd.AddCommand(digestRunCmd)
	rootCmd.AddCommand(digestCmd)
}
