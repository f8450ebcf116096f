package evaluation

import (
	"strings"
	"testing"
)

func TestThresholds_Check(t *testing.T) {
	passing := Summary{AvgSymptomRecall: 0.95, UrgencyAccuracy: 0.9}

	tests := []struct {
		name    string
		mutate  func(*Summary)
		wantErr string
	}{
		{"passes", func(*Summary) {}, ""},
		{"low recall", func(s *Summary) { s.AvgSymptomRecall = 0.5 }, "symptom recall"},
		{"low urgency accuracy", func(s *Summary) { s.UrgencyAccuracy = 0.6 }, "urgency accuracy"},
		{"under-triage", func(s *Summary) { s.UnderTriaged = 1 }, "under-triaged"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := passing
			tt.mutate(&s)
			err := DefaultThresholds().Check(&s)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
