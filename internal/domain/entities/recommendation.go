package entities

// Priority is used by recommendations produced on the hosted-model path.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Recommendation covers both shapes in use: the rule-based generator sets
// Severity, the hosted model sets Priority, Timeframe and Precautions.
type Recommendation struct {
	Category    string   `json:"category"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity,omitempty"`
	Priority    Priority `json:"priority,omitempty"`
	Timeframe   string   `json:"timeframe,omitempty"`
	Precautions []string `json:"precautions,omitempty"`
}

// RecommendationTitles returns the titles in order; used for prompt exemplars.
func RecommendationTitles(recs []Recommendation) []string {
	titles := make([]string, 0, len(recs))
	for _, r := range recs {
		titles = append(titles, r.Title)
	}
	return titles
}
