package entities

import "time"

// AnalysisMethod identifies which path produced an analysis.
type AnalysisMethod string

const (
	AnalysisMethodGitHubModels AnalysisMethod = "github-models"
	AnalysisMethodRuleBased    AnalysisMethod = "rule-based"
)

// KnownAnalysisMethods returns the methods reported by metrics even before any review.
func KnownAnalysisMethods() []AnalysisMethod {
	return []AnalysisMethod{AnalysisMethodGitHubModels, AnalysisMethodRuleBased}
}

// AssessmentScore is the summed score of one clinical questionnaire.
type AssessmentScore struct {
	TotalScore int `json:"totalScore"`
}

// MedicalRecord is the prior medical data kept per patient.
type MedicalRecord struct {
	PatientID   string           `json:"anonymousId,omitempty"`
	PCSS        *AssessmentScore `json:"pcss,omitempty"`
	DHI         *AssessmentScore `json:"dhi,omitempty"`
	HIT6        *AssessmentScore `json:"hit6,omitempty"`
	PHQ9        *AssessmentScore `json:"phq9,omitempty"`
	GAD7        *AssessmentScore `json:"gad7,omitempty"`
	LastUpdated *time.Time       `json:"lastUpdated,omitempty"`
}

// PatientContext carries optional demographic details sent with a chat message.
type PatientContext struct {
	Age                *int     `json:"age,omitempty"`
	Gender             string   `json:"gender,omitempty"`
	InjuryDate         string   `json:"injuryDate,omitempty"`
	CurrentMedications []string `json:"currentMedications,omitempty"`
}

// AnalysisResult is what AnalyzeMessage returns to callers.
type AnalysisResult struct {
	AnalysisID           string           `json:"analysisId,omitempty"`
	Response             string           `json:"response"`
	Recommendations      []Recommendation `json:"recommendations"`
	UrgencyLevel         UrgencyLevel     `json:"urgencyLevel"`
	Symptoms             []Symptom        `json:"symptoms"`
	Confidence           float64          `json:"confidence"`
	AnalysisMethod       AnalysisMethod   `json:"analysisMethod"`
	DoctorReviewRequired bool             `json:"doctorReviewRequired"`
	Note                 string           `json:"note,omitempty"`
}

// AnalysisRecord is an analysis awaiting (or having received) clinician review.
type AnalysisRecord struct {
	ConversationID          string           `json:"conversationId"`
	PatientID               string           `json:"patientId"`
	AIResponse              string           `json:"aiResponse"`
	Recommendations         []Recommendation `json:"recommendations"`
	UrgencyLevel            UrgencyLevel     `json:"urgencyLevel"`
	Symptoms                []Symptom        `json:"symptoms"`
	Confidence              float64          `json:"confidence"`
	AnalysisMethod          AnalysisMethod   `json:"analysisMethod"`
	Timestamp               time.Time        `json:"timestamp"`
	DoctorReviewed          bool             `json:"doctorReviewed"`
	DoctorApproved          *bool            `json:"doctorApproved,omitempty"`
	DoctorNotes             string           `json:"doctorNotes,omitempty"`
	ModifiedRecommendations []Recommendation `json:"modifiedRecommendations,omitempty"`
	ReviewedBy              string           `json:"reviewedBy,omitempty"`
	ReviewedAt              *time.Time       `json:"reviewedAt,omitempty"`
	// LearningApplied is set once the review has reached training data,
	// metrics and exemplars. A reviewed record without it is resumed.
	LearningApplied bool `json:"learningApplied,omitempty"`
}

// ChatMessage is one turn sent to a chat-completion provider.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	ChatRoleSystem    = "system"
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
)
