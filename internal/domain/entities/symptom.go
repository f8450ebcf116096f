package entities

// SymptomCategory names one entry of the symptom catalog.
type SymptomCategory string

const (
	SymptomHeadache        SymptomCategory = "Headache"
	SymptomDizziness       SymptomCategory = "Dizziness"
	SymptomNausea          SymptomCategory = "Nausea"
	SymptomVisionProblems  SymptomCategory = "Vision Problems"
	SymptomSleepIssues     SymptomCategory = "Sleep Issues"
	SymptomCognitiveIssues SymptomCategory = "Cognitive Issues"
	SymptomMoodChanges     SymptomCategory = "Mood Changes"
)

// Severity is the three-tier severity shared by symptoms and rule-based recommendations.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// IsValid checks if the severity value is one of the defined constants.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return true
	}
	return false
}

// Symptom is a single detected symptom category with its resolved severity.
type Symptom struct {
	Name     SymptomCategory `json:"name"`
	Severity Severity        `json:"severity"`
	Detected bool            `json:"detected"`
}

// UrgencyLevel is the coarse triage signal for a message.
type UrgencyLevel string

const (
	UrgencyLow    UrgencyLevel = "low"
	UrgencyMedium UrgencyLevel = "medium"
	UrgencyHigh   UrgencyLevel = "high"
)

func (u UrgencyLevel) rank() int {
	switch u {
	case UrgencyHigh:
		return 3
	case UrgencyMedium:
		return 2
	case UrgencyLow:
		return 1
	}
	return 0
}

// IsValid checks if the urgency value is one of the defined constants.
func (u UrgencyLevel) IsValid() bool {
	return u.rank() > 0
}

// MaxUrgency returns the more urgent of a and b.
func MaxUrgency(a, b UrgencyLevel) UrgencyLevel {
	if b.rank() > a.rank() {
		return b
	}
	return a
}
