package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/zatekoja/concussionrehab/internal/evaluation"
	"github.com/zatekoja/concussionrehab/internal/infrastructure/observability"
	"github.com/zatekoja/concussionrehab/internal/triage"
)

func main() {
	thresholds := evaluation.DefaultThresholds()

	fs := pflag.NewFlagSet("evaluate", pflag.ExitOnError)
	goldenPath := fs.String("cases", "config/triage_golden_cases.json", "golden cases file")
	catalogPath := fs.String("catalog", os.Getenv("CATALOG_PATH"), "symptom catalog YAML (default built-in catalog)")
	fs.Float64Var(&thresholds.MinSymptomRecall, "min-recall", thresholds.MinSymptomRecall, "minimum average symptom recall")
	fs.Float64Var(&thresholds.MinUrgencyAccuracy, "min-urgency-accuracy", thresholds.MinUrgencyAccuracy, "minimum urgency accuracy")
	fs.IntVar(&thresholds.MaxUnderTriaged, "max-under-triaged", thresholds.MaxUnderTriaged, "maximum under-triaged cases")
	_ = fs.Parse(os.Args[1:])

	observability.InitLoggerTo(os.Stderr, "concussionrehab-evaluate", "development", "info")

	catalog, err := triage.LoadCatalog(*catalogPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *catalogPath).Msg("Failed to load symptom catalog")
	}

	cases, err := evaluation.LoadGoldenCases(*goldenPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load golden cases")
	}
	if err := evaluation.ValidateGoldenCases(cases); err != nil {
		log.Fatal().Err(err).Msg("Invalid golden cases")
	}

	summary, err := evaluation.NewRunner(triage.NewEngine(catalog)).Run(context.Background(), cases)
	if err != nil {
		log.Fatal().Err(err).Msg("Evaluation failed")
	}

	out, _ := json.MarshalIndent(summary, "", "  ")
	fmt.Println(string(out))

	if err := thresholds.Check(summary); err != nil {
		log.Error().Err(err).Msg("Evaluation below thresholds")
		os.Exit(1)
	}
}
