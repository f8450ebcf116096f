package main

import (
	"github.com/spf13/cobra"
)

func newMetricsCommand(flags *StoreFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Print per-method review metrics and learning log sizes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := flags.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			summary, err := s.learning().GetMetrics(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), summary)
		},
	}
}

func newInsightsCommand(flags *StoreFlags) *cobra.Command {
	var recent int
	cmd := &cobra.Command{
		Use:   "insights",
		Short: "Summarise the most recent clinician reviews",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := flags.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			report, err := s.learning().ComputeInsights(cmd.Context(), recent)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().IntVar(&recent, "recent", 0, "Number of most recent reviews to include (default LEARNING_INSIGHTS_WINDOW)")
	return cmd
}

func newRetrainCommand(flags *StoreFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "retrain",
		Short: "Archive stale exemplar patterns and rebuild the exemplar bundle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := flags.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			result, err := s.learning().Retrain(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
}
