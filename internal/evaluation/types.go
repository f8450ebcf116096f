// Package evaluation scores the rule engine against a labelled set of
// patient messages.
package evaluation

import "github.com/zatekoja/concussionrehab/internal/domain/entities"

// GoldenCase is a labelled patient message with its expected analysis.
type GoldenCase struct {
	ID               string                     `json:"id"`
	Message          string                     `json:"message"`
	ExpectedSymptoms []entities.SymptomCategory `json:"expected_symptoms"`
	ExpectedUrgency  entities.UrgencyLevel      `json:"expected_urgency"`
	Difficulty       string                     `json:"difficulty"` // easy, medium, hard
}

// CaseResult is the outcome for one golden case.
type CaseResult struct {
	CaseID           string                     `json:"case_id"`
	Message          string                     `json:"message"`
	DetectedSymptoms []entities.SymptomCategory `json:"detected_symptoms"`
	Urgency          entities.UrgencyLevel      `json:"urgency"`
	ExpectedUrgency  entities.UrgencyLevel      `json:"expected_urgency"`
	SymptomRecall    float64                    `json:"symptom_recall"`
	SymptomPrecision float64                    `json:"symptom_precision"`
	UrgencyMatched   bool                       `json:"urgency_matched"`
	UnderTriaged     bool                       `json:"under_triaged"`
}

// Summary aggregates results across all golden cases.
type Summary struct {
	TotalCases          int                                       `json:"total_cases"`
	AvgSymptomRecall    float64                                   `json:"avg_symptom_recall"`
	AvgSymptomPrecision float64                                   `json:"avg_symptom_precision"`
	UrgencyAccuracy     float64                                   `json:"urgency_accuracy"`
	UnderTriaged        int                                       `json:"under_triaged"`
	ByUrgency           map[entities.UrgencyLevel]*UrgencySummary `json:"by_urgency"`
	Mismatches          []CaseResult                              `json:"mismatches,omitempty"`
}

// UrgencySummary holds metrics for cases sharing an expected urgency.
type UrgencySummary struct {
	Count            int     `json:"count"`
	Correct          int     `json:"correct"`
	Accuracy         float64 `json:"accuracy"`
	AvgSymptomRecall float64 `json:"avg_symptom_recall"`
}
