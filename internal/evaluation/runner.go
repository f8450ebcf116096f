package evaluation

import (
	"context"
	"time"

	"github.com/zatekoja/concussionrehab/internal/domain/entities"
	"github.com/zatekoja/concussionrehab/internal/triage"
)

// Runner runs the rule engine across a set of golden cases.
type Runner struct {
	engine *triage.Engine
}

func NewRunner(engine *triage.Engine) *Runner {
	if engine == nil {
		engine = triage.NewEngine(nil)
	}
	return &Runner{engine: engine}
}

// Run scores every case. It stops early only when ctx is cancelled.
func (r *Runner) Run(ctx context.Context, cases []GoldenCase) (*Summary, error) {
	summary := &Summary{
		ByUrgency: make(map[entities.UrgencyLevel]*UrgencySummary),
	}
	now := time.Now()

	for _, gc := range cases {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		analysis := r.engine.Analyze(gc.Message, nil, now)
		detected := make([]entities.SymptomCategory, 0, len(analysis.Symptoms))
		for _, s := range analysis.Symptoms {
			detected = append(detected, s.Name)
		}

		res := CaseResult{
			CaseID:           gc.ID,
			Message:          gc.Message,
			DetectedSymptoms: detected,
			Urgency:          analysis.Urgency,
			ExpectedUrgency:  gc.ExpectedUrgency,
			SymptomRecall:    SymptomRecall(gc.ExpectedSymptoms, detected),
			SymptomPrecision: SymptomPrecision(gc.ExpectedSymptoms, detected),
			UrgencyMatched:   analysis.Urgency == gc.ExpectedUrgency,
			UnderTriaged:     UnderTriaged(gc.ExpectedUrgency, analysis.Urgency),
		}
		r.updateSummary(summary, res)
	}

	r.finalizeSummary(summary)
	return summary, nil
}

func (r *Runner) updateSummary(s *Summary, res CaseResult) {
	s.TotalCases++
	s.AvgSymptomRecall += res.SymptomRecall
	s.AvgSymptomPrecision += res.SymptomPrecision
	if res.UrgencyMatched {
		s.UrgencyAccuracy++
	}
	if res.UnderTriaged {
		s.UnderTriaged++
	}
	if !res.UrgencyMatched || res.SymptomRecall < 1 || res.SymptomPrecision < 1 {
		s.Mismatches = append(s.Mismatches, res)
	}

	us, ok := s.ByUrgency[res.ExpectedUrgency]
	if !ok {
		us = &UrgencySummary{}
		s.ByUrgency[res.ExpectedUrgency] = us
	}
	us.Count++
	us.AvgSymptomRecall += res.SymptomRecall
	if res.UrgencyMatched {
		us.Correct++
	}
}

func (r *Runner) finalizeSummary(s *Summary) {
	if s.TotalCases > 0 {
		n := float64(s.TotalCases)
		s.AvgSymptomRecall /= n
		s.AvgSymptomPrecision /= n
		s.UrgencyAccuracy /= n
	}

	for _, us := range s.ByUrgency {
		if us.Count > 0 {
			n := float64(us.Count)
			us.Accuracy = float64(us.Correct) / n
			us.AvgSymptomRecall /= n
		}
	}
}
