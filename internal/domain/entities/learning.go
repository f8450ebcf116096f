package entities

import (
	"slices"
	"time"
)

// TrainingExample is the append-only log entry written once per review.
type TrainingExample struct {
	OriginalSymptoms        []Symptom        `json:"originalSymptoms"`
	OriginalRecommendations []Recommendation `json:"originalRecommendations"`
	DoctorApproved          bool             `json:"doctorApproved"`
	DoctorNotes             string           `json:"doctorNotes,omitempty"`
	ModifiedRecommendations []Recommendation `json:"modifiedRecommendations,omitempty"`
	PatientID               string           `json:"patientId"`
	DoctorID                string           `json:"doctorId"`
	Timestamp               time.Time        `json:"timestamp"`
	AnalysisMethod          AnalysisMethod   `json:"analysisMethod"`
	Confidence              float64          `json:"confidence"`
}

// ModelMetrics tracks review outcomes for one analysis method.
type ModelMetrics struct {
	TotalReviews  int       `json:"totalReviews"`
	ApprovedCount int       `json:"approvedCount"`
	RejectedCount int       `json:"rejectedCount"`
	AccuracyRate  float64   `json:"accuracyRate"`
	LastUpdated   time.Time `json:"lastUpdated"`
	// RecentAnalysisIDs remembers the last counted reviews so a resumed
	// review is not counted twice.
	RecentAnalysisIDs []string `json:"recentAnalysisIds,omitempty"`
}

// maxRecentAnalysisIDs bounds RecentAnalysisIDs.
const maxRecentAnalysisIDs = 256

// Record applies one review outcome and recomputes the accuracy rate.
func (m *ModelMetrics) Record(approved bool, at time.Time) {
	m.TotalReviews++
	if approved {
		m.ApprovedCount++
	} else {
		m.RejectedCount++
	}
	m.AccuracyRate = float64(m.ApprovedCount) / float64(m.TotalReviews) * 100
	m.LastUpdated = at
}

// RecordOnce applies the outcome of analysisID unless it was already
// counted. It reports whether the metrics changed.
func (m *ModelMetrics) RecordOnce(analysisID string, approved bool, at time.Time) bool {
	if slices.Contains(m.RecentAnalysisIDs, analysisID) {
		return false
	}
	m.Record(approved, at)
	m.RecentAnalysisIDs = append(m.RecentAnalysisIDs, analysisID)
	if extra := len(m.RecentAnalysisIDs) - maxRecentAnalysisIDs; extra > 0 {
		m.RecentAnalysisIDs = slices.Delete(m.RecentAnalysisIDs, 0, extra)
	}
	return true
}

// PatternKind distinguishes approved from corrected exemplars.
type PatternKind string

const (
	PatternSuccess PatternKind = "success"
	PatternFailure PatternKind = "failure"
)

// ExemplarPattern is a snapshot of a reviewed case used for few-shot prompting.
// Success patterns fill Symptoms/Recommendations/PatientContext; failure
// patterns fill Symptoms/Recommendations (rejected)/CorrectedRecommendations/DoctorNotes.
type ExemplarPattern struct {
	Key                      string           `json:"key,omitempty"`
	Kind                     PatternKind      `json:"kind"`
	Symptoms                 []Symptom        `json:"symptoms"`
	Recommendations          []Recommendation `json:"recommendations"`
	CorrectedRecommendations []Recommendation `json:"correctedRecommendations,omitempty"`
	DoctorNotes              string           `json:"doctorNotes,omitempty"`
	PatientContext           string           `json:"patientContext,omitempty"`
	Timestamp                time.Time        `json:"timestamp"`
	Archived                 bool             `json:"archived,omitempty"`
}

// FewShotBundle is the cached exemplar set read by prompt construction.
type FewShotBundle struct {
	Examples    []ExemplarPattern `json:"examples"`
	Failures    []ExemplarPattern `json:"failures"`
	LastUpdated time.Time         `json:"lastUpdated"`
	Version     string            `json:"version"`
}

// Empty reports whether the bundle carries no exemplars at all.
func (b *FewShotBundle) Empty() bool {
	return b == nil || (len(b.Examples) == 0 && len(b.Failures) == 0)
}

// SymptomCount is one row of an insights frequency table.
type SymptomCount struct {
	Symptom SymptomCategory `json:"symptom"`
	Count   int             `json:"count"`
}

// InsightsReport summarises the most recent training examples.
type InsightsReport struct {
	TotalCasesAnalyzed    int            `json:"totalCasesAnalyzed"`
	ApprovalRate          float64        `json:"approvalRate"`
	TopApprovedSymptoms   []SymptomCount `json:"mostCommonApprovedSymptoms"`
	TopRejectedSymptoms   []SymptomCount `json:"mostCommonRejectedSymptoms"`
	Last7DayApprovalRate  float64        `json:"last7DaysApprovalRate"`
	Last30DayApprovalRate float64        `json:"last30DaysApprovalRate"`
	AverageConfidence     float64        `json:"averageConfidence"`
}

// MetricsSummary is the response of GetMetrics.
type MetricsSummary struct {
	Methods              map[AnalysisMethod]ModelMetrics `json:"methods"`
	TrainingDataCount    int                             `json:"trainingDataCount"`
	SuccessPatternsCount int                             `json:"successPatternsCount"`
	FailurePatternsCount int                             `json:"failurePatternsCount"`
	LastUpdated          time.Time                       `json:"lastUpdated"`
}

// RetrainResult reports what a maintenance pass changed.
type RetrainResult struct {
	ArchivedCount int       `json:"archivedCount"`
	BundleVersion string    `json:"bundleVersion"`
	Timestamp     time.Time `json:"timestamp"`
}
