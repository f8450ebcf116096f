package evaluation

import "fmt"

// Thresholds are the minimum scores a catalog change must keep.
type Thresholds struct {
	MinSymptomRecall   float64
	MinUrgencyAccuracy float64
	MaxUnderTriaged    int
}

// DefaultThresholds never tolerate under-triage.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinSymptomRecall:   0.9,
		MinUrgencyAccuracy: 0.85,
		MaxUnderTriaged:    0,
	}
}

// Check returns an error describing the first threshold s falls below.
func (t Thresholds) Check(s *Summary) error {
	if s.AvgSymptomRecall < t.MinSymptomRecall {
		return fmt.Errorf("symptom recall %.3f below minimum %.3f", s.AvgSymptomRecall, t.MinSymptomRecall)
	}
	if s.UrgencyAccuracy < t.MinUrgencyAccuracy {
		return fmt.Errorf("urgency accuracy %.3f below minimum %.3f", s.UrgencyAccuracy, t.MinUrgencyAccuracy)
	}
	if s.UnderTriaged > t.MaxUnderTriaged {
		return fmt.Errorf("%d cases under-triaged, maximum %d", s.UnderTriaged, t.MaxUnderTriaged)
	}
	return nil
}
