package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zatekoja/concussionrehab/internal/application/services"
	"github.com/zatekoja/concussionrehab/internal/triage"
)

// newAnalyzeCommand runs the rule-based path only; it never calls the hosted model.
func newAnalyzeCommand(flags *StoreFlags) *cobra.Command {
	var patientID, message string
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run a rule-based analysis of one message and store it for review",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if message == "" {
				return fmt.Errorf("--message is required")
			}
			s, err := flags.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			catalog, err := triage.LoadCatalog(s.cfg.Triage.CatalogPath)
			if err != nil {
				return err
			}
			svc := services.NewAnalysisService(triage.NewEngine(catalog), s.store, nil, nil, s.cfg.ChatModel.Timeout)

			result, err := svc.AnalyzeMessage(cmd.Context(), services.AnalyzeRequest{
				PatientID: patientID,
				Message:   message,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().StringVar(&patientID, "patient", "", "Patient id")
	cmd.Flags().StringVar(&message, "message", "", "Free-text symptom message")
	cmd.MarkFlagRequired("patient")
	return cmd
}
