// Package triage is the deterministic, rule-based analysis path: symptom
// extraction, urgency classification, recommendation generation and reply
// composition. An Engine is immutable after construction and safe for
// concurrent use.
package triage

import (
	"fmt"
	"strings"
	"time"

	"github.com/zatekoja/concussionrehab/internal/domain/entities"
)

// RuleBasedConfidence is the confidence reported for rule-based analyses.
const RuleBasedConfidence = 0.7

var apostropheReplacer = strings.NewReplacer("’", "'", "‘", "'", "ʼ", "'")

func normalizeText(s string) string {
	return apostropheReplacer.Replace(strings.ToLower(s))
}

func containsAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

// Engine runs the rule-based pipeline against a fixed catalog.
type Engine struct {
	catalog *Catalog
	recs    map[entities.SymptomCategory]RecommendationRule
}

// NewEngine builds an engine from catalog. A nil catalog uses DefaultCatalog.
func NewEngine(catalog *Catalog) *Engine {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	c := catalog.normalized()
	recs := make(map[entities.SymptomCategory]RecommendationRule, len(c.Recommendations))
	for _, r := range c.Recommendations {
		recs[r.Symptom] = r
	}
	return &Engine{catalog: c, recs: recs}
}

// Categories lists the catalog's symptom categories in declaration order.
func (e *Engine) Categories() []entities.SymptomCategory {
	out := make([]entities.SymptomCategory, 0, len(e.catalog.Symptoms))
	for _, rule := range e.catalog.Symptoms {
		out = append(out, rule.Name)
	}
	return out
}

// ExtractSymptoms returns one symptom per detected category, in catalog order.
func (e *Engine) ExtractSymptoms(message string) []entities.Symptom {
	text := normalizeText(message)
	symptoms := make([]entities.Symptom, 0, len(e.catalog.Symptoms))
	for _, rule := range e.catalog.Symptoms {
		if !containsAny(text, rule.Triggers) {
			continue
		}
		symptoms = append(symptoms, entities.Symptom{
			Name:     rule.Name,
			Severity: resolveSeverity(text, rule.Tiers),
			Detected: true,
		})
	}
	return symptoms
}

// resolveSeverity walks the tiers in order; medium when nothing matches.
func resolveSeverity(text string, tiers []SeverityTier) entities.Severity {
	for _, tier := range tiers {
		if containsAny(text, tier.Keywords) {
			return tier.Level
		}
	}
	return entities.SeverityMedium
}

// ClassifyUrgency applies, in order: high phrase, two or more high-severity
// symptoms, medium phrase. Anything else is low.
func (e *Engine) ClassifyUrgency(message string, symptoms []entities.Symptom) entities.UrgencyLevel {
	text := normalizeText(message)
	if containsAny(text, e.catalog.HighUrgency) {
		return entities.UrgencyHigh
	}

	severe := 0
	for _, s := range symptoms {
		if s.Severity == entities.SeverityHigh {
			severe++
		}
	}
	if severe >= 2 {
		return entities.UrgencyHigh
	}

	if containsAny(text, e.catalog.MediumUrgency) {
		return entities.UrgencyMedium
	}
	return entities.UrgencyLow
}

// GenerateRecommendations emits one recommendation per detected symptom in
// catalog order, then Medical Care when urgency is high, then Monitoring.
// prior does not change the rule-based output.
func (e *Engine) GenerateRecommendations(symptoms []entities.Symptom, prior *entities.MedicalRecord, urgency entities.UrgencyLevel) []entities.Recommendation {
	bySymptom := make(map[entities.SymptomCategory]entities.Symptom, len(symptoms))
	for _, s := range symptoms {
		if s.Detected {
			bySymptom[s.Name] = s
		}
	}

	recs := make([]entities.Recommendation, 0, len(bySymptom)+2)
	for _, rule := range e.catalog.Symptoms {
		s, ok := bySymptom[rule.Name]
		if !ok {
			continue
		}
		lookup, ok := e.recs[rule.Name]
		if !ok {
			continue
		}
		recs = append(recs, entities.Recommendation{
			Category:    lookup.Category,
			Title:       lookup.Title,
			Description: lookup.Description,
			Severity:    s.Severity,
		})
	}

	if urgency == entities.UrgencyHigh {
		recs = append(recs, entities.Recommendation{
			Category:    e.catalog.MedicalCare.Category,
			Title:       e.catalog.MedicalCare.Title,
			Description: e.catalog.MedicalCare.Description,
			Severity:    entities.SeverityHigh,
		})
	}

	recs = append(recs, entities.Recommendation{
		Category:    e.catalog.Monitoring.Category,
		Title:       e.catalog.Monitoring.Title,
		Description: e.catalog.Monitoring.Description,
		Severity:    entities.SeverityLow,
	})
	return recs
}

// ComposeResponse builds the patient-facing reply for a rule-based analysis.
func (e *Engine) ComposeResponse(symptoms []entities.Symptom, urgency entities.UrgencyLevel, prior *entities.MedicalRecord, now time.Time) string {
	var b strings.Builder

	b.WriteString("Thank you for sharing how you are feeling today. I understand that dealing with concussion symptoms can be challenging, and I'm here to help.\n\n")

	if urgency == entities.UrgencyHigh {
		b.WriteString("⚠️ Based on what you've described, some of your symptoms may need prompt medical attention. Please contact your healthcare provider, or emergency services if your symptoms are severe or getting worse.\n\n")
	}

	if len(symptoms) > 0 {
		b.WriteString("Here's my analysis of the symptoms you mentioned:\n")
		for _, s := range symptoms {
			fmt.Fprintf(&b, "• %s (%s severity)\n", s.Name, s.Severity)
		}
		b.WriteString("\n")
	}

	b.WriteString("I've put together recommendations based on established concussion recovery protocols. Rest, gradual return to activity and consistent symptom tracking are key parts of recovery.\n\n")

	if reminder := checkInReminder(prior, now); reminder != "" {
		b.WriteString(reminder)
		b.WriteString("\n\n")
	}

	b.WriteString("These recommendations will be reviewed by your medical team. Always follow your healthcare provider's guidance.")
	return b.String()
}

// checkInReminder is empty when the last update is within a day.
func checkInReminder(prior *entities.MedicalRecord, now time.Time) string {
	if prior == nil || prior.LastUpdated == nil {
		return "It's been several days since your last symptom update. Regular check-ins help your medical team track your recovery."
	}
	elapsed := now.Sub(*prior.LastUpdated)
	if elapsed <= 24*time.Hour {
		return ""
	}
	days := int(elapsed / (24 * time.Hour))
	unit := "days"
	if days == 1 {
		unit = "day"
	}
	return fmt.Sprintf("It's been %d %s since your last symptom update. Regular check-ins help your medical team track your recovery.", days, unit)
}

// Analysis is the full output of one rule-based pass.
type Analysis struct {
	Symptoms        []entities.Symptom
	Urgency         entities.UrgencyLevel
	Recommendations []entities.Recommendation
	Response        string
}

// Analyze runs extraction, classification, generation and composition in order.
func (e *Engine) Analyze(message string, prior *entities.MedicalRecord, now time.Time) Analysis {
	symptoms := e.ExtractSymptoms(message)
	urgency := e.ClassifyUrgency(message, symptoms)
	return Analysis{
		Symptoms:        symptoms,
		Urgency:         urgency,
		Recommendations: e.GenerateRecommendations(symptoms, prior, urgency),
		Response:        e.ComposeResponse(symptoms, urgency, prior, now),
	}
}
