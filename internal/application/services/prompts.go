package services

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/zatekoja/concussionrehab/internal/domain/entities"
	apperrors "github.com/zatekoja/concussionrehab/pkg/errors"
)

const assessmentScalesContext = `Assessment Scales Context:
- PCSS: Post-Concussion Symptom Scale (0-132, higher = more symptoms)
- DHI: Dizziness Handicap Inventory (0-100, higher = more disability)
- HIT-6: Headache Impact Test (36-78, >60 = severe impact)
- PHQ-9: Depression screening (0-27, >15 = severe)
- GAD-7: Anxiety screening (0-21, >15 = severe)`

const analysisGuidelines = `Guidelines:
- Always recommend doctor consultation for concerning symptoms
- Base recommendations on established concussion rehabilitation protocols
- Consider individual patient factors (age, injury timeline, medications)
- Provide specific, actionable advice
- Include appropriate precautions and contraindications`

const analysisResponseSchema = `Return ONLY valid JSON with this structure:
{
  "recommendations": [
    {
      "category": "exercise|lifestyle|monitoring|medical_attention|rehabilitation",
      "title": "string",
      "description": "string",
      "priority": "low|medium|high|urgent",
      "timeframe": "string",
      "precautions": ["string"]
    }
  ],
  "riskAssessment": {"level": "low|medium|high", "factors": ["string"]},
  "nextSteps": ["string"],
  "doctorReviewRequired": boolean,
  "confidence": number between 0 and 1
}`

const replySystemPrompt = `You are a compassionate AI assistant supporting concussion recovery patients.
Acknowledge symptoms with empathy, offer practical evidence-based advice in clear non-technical language,
encourage appropriate medical follow-up and never make a definitive diagnosis.`

const dailyQuestionsSystemPrompt = `You write short daily check-in questions for concussion recovery patients.
Return one question per line with no numbering and no extra text.`

// hostedAnalysis is the JSON document the hosted model is asked to return.
type hostedAnalysis struct {
	Recommendations []entities.Recommendation `json:"recommendations"`
	RiskAssessment  struct {
		Level   entities.UrgencyLevel `json:"level"`
		Factors []string              `json:"factors"`
	} `json:"riskAssessment"`
	NextSteps            []string `json:"nextSteps"`
	DoctorReviewRequired *bool    `json:"doctorReviewRequired"`
	Confidence           *float64 `json:"confidence"`
}

var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

// parseHostedAnalysis extracts the first-to-last brace span from raw model
// output, tolerating markdown fences and surrounding prose.
func parseHostedAnalysis(raw string) (*hostedAnalysis, error) {
	match := jsonObjectPattern.FindString(raw)
	if match == "" {
		return nil, apperrors.NewParseError("model response contains no JSON object", nil)
	}

	var parsed hostedAnalysis
	if err := json.Unmarshal([]byte(match), &parsed); err != nil {
		return nil, apperrors.NewParseError("model response is not valid analysis JSON", err)
	}
	return &parsed, nil
}

// defaultHostedAnalysis wraps unparsable model output in a single
// conservative recommendation.
func defaultHostedAnalysis(raw string) *hostedAnalysis {
	description := raw
	if runes := []rune(raw); len(runes) > 500 {
		description = string(runes[:500]) + "..."
	}

	review := true
	confidence := 0.7
	out := &hostedAnalysis{
		Recommendations: []entities.Recommendation{{
			Category:    "medical_attention",
			Title:       "AI Analysis Available",
			Description: description,
			Priority:    entities.PriorityMedium,
			Timeframe:   "As recommended by healthcare provider",
			Precautions: []string{"Always consult with healthcare provider before following any recommendations"},
		}},
		NextSteps: []string{
			"Review recommendations with healthcare provider",
			"Continue monitoring symptoms",
			"Follow up as directed",
		},
		DoctorReviewRequired: &review,
		Confidence:           &confidence,
	}
	out.RiskAssessment.Level = entities.UrgencyMedium
	out.RiskAssessment.Factors = []string{"Requires professional medical evaluation"}
	return out
}

func symptomNames(symptoms []entities.Symptom) string {
	if len(symptoms) == 0 {
		return "N/A"
	}
	names := make([]string, 0, len(symptoms))
	for _, s := range symptoms {
		names = append(names, string(s.Name))
	}
	return strings.Join(names, ", ")
}

func titles(recs []entities.Recommendation) string {
	if len(recs) == 0 {
		return "N/A"
	}
	return strings.Join(entities.RecommendationTitles(recs), ", ")
}

// buildAnalysisSystemPrompt adds the learned exemplar sections when bundle
// carries any; otherwise it is the plain clinical prompt.
func buildAnalysisSystemPrompt(bundle *entities.FewShotBundle) string {
	var b strings.Builder
	b.WriteString("You are a specialized medical AI assistant for concussion recovery analysis.\n\n")
	b.WriteString("Your role is to:\n")
	b.WriteString("1. Analyze patient symptoms and assessment scores\n")
	b.WriteString("2. Provide evidence-based recommendations\n")
	b.WriteString("3. Identify when medical professional review is needed\n")
	b.WriteString("4. Prioritize patient safety above all else\n\n")

	if !bundle.Empty() {
		b.WriteString("LEARNING FROM SUCCESSFUL CASES:\n")
		if len(bundle.Examples) == 0 {
			b.WriteString("No successful examples yet - use standard medical protocols.\n")
		}
		for i, ex := range bundle.Examples {
			fmt.Fprintf(&b, "Example %d:\n  Symptoms: %s\n  Successful recommendations: %s\n\n",
				i+1, symptomNames(ex.Symptoms), titles(ex.Recommendations))
		}

		b.WriteString("\nCOMMON MISTAKES TO AVOID:\n")
		if len(bundle.Failures) == 0 {
			b.WriteString("No failure patterns identified yet.\n")
		}
		for i, f := range bundle.Failures {
			notes := f.DoctorNotes
			if notes == "" {
				notes = "No notes"
			}
			fmt.Fprintf(&b, "Failure %d:\n  Original symptoms: %s\n  Rejected recommendations: %s\n  Doctor notes: %s\n  Corrected approach: %s\n\n",
				i+1, symptomNames(f.Symptoms), titles(f.Recommendations), notes, titles(f.CorrectedRecommendations))
		}
		b.WriteString("\n")
	}

	b.WriteString(analysisGuidelines)
	if !bundle.Empty() {
		b.WriteString("\n- Learn from the successful and failure patterns above")
	}
	b.WriteString("\n\n")
	b.WriteString(assessmentScalesContext)
	b.WriteString("\n\n")
	b.WriteString(analysisResponseSchema)
	return b.String()
}

func writePatientContext(b *strings.Builder, pc *entities.PatientContext) {
	if pc == nil {
		b.WriteString("No additional patient data provided\n")
		return
	}
	wrote := false
	if pc.Age != nil {
		fmt.Fprintf(b, "- age: %d\n", *pc.Age)
		wrote = true
	}
	if pc.Gender != "" {
		fmt.Fprintf(b, "- gender: %s\n", pc.Gender)
		wrote = true
	}
	if pc.InjuryDate != "" {
		fmt.Fprintf(b, "- injury date: %s\n", pc.InjuryDate)
		wrote = true
	}
	if len(pc.CurrentMedications) > 0 {
		fmt.Fprintf(b, "- current medications: %s\n", strings.Join(pc.CurrentMedications, ", "))
		wrote = true
	}
	if !wrote {
		b.WriteString("No additional patient data provided\n")
	}
}

func writeAssessmentScores(b *strings.Builder, prior *entities.MedicalRecord) {
	if prior == nil {
		b.WriteString("No assessment scores provided\n")
		return
	}
	scores := []struct {
		name  string
		score *entities.AssessmentScore
	}{
		{"PCSS", prior.PCSS}, {"DHI", prior.DHI}, {"HIT6", prior.HIT6}, {"PHQ9", prior.PHQ9}, {"GAD7", prior.GAD7},
	}
	wrote := false
	for _, s := range scores {
		if s.score != nil {
			fmt.Fprintf(b, "- %s: %d\n", s.name, s.score.TotalScore)
			wrote = true
		}
	}
	if !wrote {
		b.WriteString("No assessment scores provided\n")
	}
}

func buildAnalysisUserPrompt(message string, symptoms []entities.Symptom, pc *entities.PatientContext, prior *entities.MedicalRecord) string {
	var b strings.Builder
	b.WriteString("Analyze this concussion patient data:\n\n")
	fmt.Fprintf(&b, "Patient message: %s\n\n", message)
	fmt.Fprintf(&b, "Symptoms: %s\n\n", symptomNames(symptoms))
	b.WriteString("Patient Information:\n")
	writePatientContext(&b, pc)
	b.WriteString("\nAssessment Scores:\n")
	writeAssessmentScores(&b, prior)
	b.WriteString("\nPlease provide a comprehensive analysis with specific recommendations for this patient's recovery plan.")
	return b.String()
}

func buildReplyUserPrompt(symptoms []entities.Symptom, pc *entities.PatientContext, prior *entities.MedicalRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "A concussion patient is reporting these symptoms: %s\n\n", symptomNames(symptoms))
	b.WriteString("Patient context:\n")
	writePatientContext(&b, pc)
	b.WriteString("\nRecent medical data:\n")
	if prior != nil && prior.LastUpdated != nil {
		fmt.Fprintf(&b, "Last assessment: %s\n", prior.LastUpdated.Format("2006-01-02"))
	} else {
		b.WriteString("No recent assessments\n")
	}
	b.WriteString(`
Please provide a compassionate, personalized response that:
1. Acknowledges their symptoms with empathy
2. Provides 2-3 practical management strategies
3. Explains when to seek medical attention
4. Encourages continued monitoring and follow-up

Keep the response conversational, supportive, and under 400 words.`)
	return b.String()
}

func buildDailyQuestionsUserPrompt(recent []entities.AnalysisRecord) string {
	var b strings.Builder
	b.WriteString("Write 5-7 questions for today's check-in.\n\n")
	if len(recent) == 0 {
		b.WriteString("No recent history is available; cover overall symptoms, headache, sleep, dizziness, focus and activity.")
		return b.String()
	}
	b.WriteString("Recent history (newest first):\n")
	for _, r := range recent {
		fmt.Fprintf(&b, "- %s: urgency %s, symptoms %s\n", r.Timestamp.Format("2006-01-02"), r.UrgencyLevel, symptomNames(r.Symptoms))
	}
	b.WriteString("\nFocus the questions on how these symptoms have changed.")
	return b.String()
}
