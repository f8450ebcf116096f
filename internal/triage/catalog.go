package triage

import (
	"fmt"
	"os"
	"strings"

	"github.com/zatekoja/concussionrehab/internal/domain/entities"
	"gopkg.in/yaml.v3"
)

// SeverityTier maps a severity level to the keywords that select it.
type SeverityTier struct {
	Level    entities.Severity `yaml:"level" json:"level"`
	Keywords []string          `yaml:"keywords" json:"keywords"`
}

// SymptomRule describes how one symptom category is detected and graded.
// Tiers are tested in slice order; the first tier with a match wins.
type SymptomRule struct {
	Name     entities.SymptomCategory `yaml:"name" json:"name"`
	Triggers []string                 `yaml:"triggers" json:"triggers"`
	Tiers    []SeverityTier           `yaml:"tiers" json:"tiers"`
}

// RecommendationRule is the fixed recommendation emitted for a detected symptom.
type RecommendationRule struct {
	Symptom     entities.SymptomCategory `yaml:"symptom" json:"symptom"`
	Category    string                   `yaml:"category" json:"category"`
	Title       string                   `yaml:"title" json:"title"`
	Description string                   `yaml:"description" json:"description"`
}

// Catalog is the static configuration of the rule engine.
type Catalog struct {
	Symptoms        []SymptomRule        `yaml:"symptoms"`
	HighUrgency     []string             `yaml:"high_urgency"`
	MediumUrgency   []string             `yaml:"medium_urgency"`
	Recommendations []RecommendationRule `yaml:"recommendations"`
	MedicalCare     RecommendationRule   `yaml:"medical_care"`
	Monitoring      RecommendationRule   `yaml:"monitoring"`
}

func tiers(high, medium, low []string) []SeverityTier {
	return []SeverityTier{
		{Level: entities.SeverityHigh, Keywords: high},
		{Level: entities.SeverityMedium, Keywords: medium},
		{Level: entities.SeverityLow, Keywords: low},
	}
}

// DefaultCatalog returns the built-in concussion symptom catalog.
func DefaultCatalog() *Catalog {
	return &Catalog{
		Symptoms: []SymptomRule{
			{
				Name:     entities.SymptomHeadache,
				Triggers: []string{"headache", "head pain", "migraine", "head hurts"},
				Tiers: tiers(
					[]string{"severe", "intense", "excruciating", "unbearable", "worst"},
					[]string{"moderate", "noticeable", "bothering", "persistent"},
					[]string{"mild", "slight", "little", "minor"},
				),
			},
			{
				Name:     entities.SymptomDizziness,
				Triggers: []string{"dizzy", "dizziness", "vertigo", "spinning", "unbalanced", "lightheaded"},
				Tiers: tiers(
					[]string{"severe", "constant", "overwhelming", "can't stand"},
					[]string{"moderate", "frequent", "noticeable"},
					[]string{"mild", "occasional", "slight"},
				),
			},
			{
				Name:     entities.SymptomNausea,
				Triggers: []string{"nausea", "nauseous", "sick", "queasy", "vomiting", "throw up"},
				Tiers: tiers(
					[]string{"severe", "constant", "vomiting", "can't eat"},
					[]string{"moderate", "frequent", "bothering"},
					[]string{"mild", "slight", "occasional"},
				),
			},
			{
				Name:     entities.SymptomVisionProblems,
				Triggers: []string{"blurry", "double vision", "vision", "eyes hurt", "light sensitive", "photophobia", "can't see"},
				Tiers: tiers(
					[]string{"severe", "constant", "can't see", "very blurry"},
					[]string{"moderate", "noticeable", "bothering"},
					[]string{"mild", "slight", "sometimes"},
				),
			},
			{
				Name:     entities.SymptomSleepIssues,
				Triggers: []string{"sleep", "tired", "fatigue", "exhausted", "insomnia", "can't sleep"},
				Tiers: tiers(
					[]string{"can't sleep", "no sleep", "exhausted", "severe fatigue"},
					[]string{"trouble sleeping", "tired often", "moderate fatigue"},
					[]string{"slightly tired", "mild fatigue", "little tired"},
				),
			},
			{
				Name:     entities.SymptomCognitiveIssues,
				Triggers: []string{"memory", "concentration", "focus", "confused", "foggy", "thinking"},
				Tiers: tiers(
					[]string{"can't remember", "very confused", "severe fog"},
					[]string{"trouble focusing", "some memory issues", "moderate fog"},
					[]string{"slight confusion", "mild fog", "minor memory"},
				),
			},
			{
				Name:     entities.SymptomMoodChanges,
				Triggers: []string{"depressed", "anxious", "irritable", "mood", "angry", "sad", "worried"},
				Tiers: tiers(
					[]string{"severe depression", "severe anxiety", "very irritable"},
					[]string{"moderate anxiety", "somewhat depressed", "often irritable"},
					[]string{"mild anxiety", "slightly sad", "minor mood"},
				),
			},
		},
		HighUrgency: []string{
			"emergency", "severe", "unbearable", "can't function", "getting worse",
			"vomiting", "can't see", "can't walk", "confused", "lost consciousness",
			"seizure", "very dizzy", "severe headache", "can't sleep at all",
		},
		MediumUrgency: []string{
			"persistent", "not improving", "worse", "bothering", "interfering",
		},
		Recommendations: []RecommendationRule{
			{
				Symptom:     entities.SymptomHeadache,
				Category:    "Pain Management",
				Title:       "Headache Relief Protocol",
				Description: "Apply a cold pack to the temples for 15-20 minutes and rest in a dark, quiet room. Gentle neck stretches may help. Limit screens if they worsen symptoms, and check with your care team before starting any new medication.",
			},
			{
				Symptom:     entities.SymptomDizziness,
				Category:    "Vestibular Training",
				Title:       "Balance and Dizziness Management",
				Description: "Practice gaze stabilization exercises as instructed by your therapist. Avoid sudden head movements and sit down right away when you feel dizzy. Stop any exercise that makes dizziness noticeably worse.",
			},
			{
				Symptom:     entities.SymptomNausea,
				Category:    "Nutrition & Hydration",
				Title:       "Settling Nausea",
				Description: "Sip water or clear fluids regularly and eat small, bland meals. Rest after eating and avoid strong smells. Contact your care team if you cannot keep fluids down.",
			},
			{
				Symptom:     entities.SymptomVisionProblems,
				Category:    "Visual Therapy",
				Title:       "Vision and Eye Comfort",
				Description: "Reduce screen time and take frequent breaks. Use larger fonts and high-contrast settings. Tinted lenses may ease light sensitivity; report any sudden change in vision to your care team.",
			},
			{
				Symptom:     entities.SymptomSleepIssues,
				Category:    "Sleep Hygiene",
				Title:       "Sleep Quality Improvement",
				Description: "Keep a consistent sleep schedule and a calming bedtime routine. Limit caffeine and screens before bed. Gentle stretching or breathing exercises can help you wind down.",
			},
			{
				Symptom:     entities.SymptomCognitiveIssues,
				Category:    "Cognitive Training",
				Title:       "Memory and Focus Support",
				Description: "Use memory aids and written lists, and break tasks into smaller steps. Increase mental effort gradually and take regular breaks during demanding activities.",
			},
			{
				Symptom:     entities.SymptomMoodChanges,
				Category:    "Mental Health",
				Title:       "Emotional Wellness Support",
				Description: "Practice relaxation techniques and stay connected with people you trust. Counselling support can help. If you have thoughts of harming yourself, seek urgent help immediately.",
			},
		},
		MedicalCare: RecommendationRule{
			Category:    "Medical Care",
			Title:       "Professional Medical Evaluation",
			Description: "Contact your healthcare provider for prompt assessment of your symptoms. These recommendations supplement, and do not replace, professional medical care.",
		},
		Monitoring: RecommendationRule{
			Category:    "Monitoring",
			Title:       "Daily Symptom Tracking",
			Description: "Complete daily symptom check-ins to track your progress and help your medical team adjust your treatment plan.",
		},
	}
}

// LoadCatalog reads a YAML catalog from path. An empty path yields the default catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a YAML catalog document.
func ParseCatalog(data []byte) (*Catalog, error) {
	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if err := catalog.Validate(); err != nil {
		return nil, err
	}
	return &catalog, nil
}

// Validate checks that the catalog is usable by the engine.
func (c *Catalog) Validate() error {
	if len(c.Symptoms) == 0 {
		return fmt.Errorf("catalog has no symptom rules")
	}
	seen := make(map[entities.SymptomCategory]struct{}, len(c.Symptoms))
	for _, rule := range c.Symptoms {
		if rule.Name == "" {
			return fmt.Errorf("symptom rule without a name")
		}
		if _, dup := seen[rule.Name]; dup {
			return fmt.Errorf("duplicate symptom rule %q", rule.Name)
		}
		seen[rule.Name] = struct{}{}
		if len(rule.Triggers) == 0 {
			return fmt.Errorf("symptom rule %q has no triggers", rule.Name)
		}
		for _, tier := range rule.Tiers {
			if !tier.Level.IsValid() {
				return fmt.Errorf("symptom rule %q has invalid tier level %q", rule.Name, tier.Level)
			}
		}
	}
	if c.Monitoring.Category == "" {
		return fmt.Errorf("catalog is missing the monitoring recommendation")
	}
	if c.MedicalCare.Category == "" {
		return fmt.Errorf("catalog is missing the medical care recommendation")
	}
	return nil
}

// normalized lower-cases keywords once so matching does not repeat the work.
func (c *Catalog) normalized() *Catalog {
	out := &Catalog{
		Symptoms:        make([]SymptomRule, len(c.Symptoms)),
		HighUrgency:     lowerAll(c.HighUrgency),
		MediumUrgency:   lowerAll(c.MediumUrgency),
		Recommendations: append([]RecommendationRule(nil), c.Recommendations...),
		MedicalCare:     c.MedicalCare,
		Monitoring:      c.Monitoring,
	}
	for i, rule := range c.Symptoms {
		nr := SymptomRule{Name: rule.Name, Triggers: lowerAll(rule.Triggers)}
		for _, tier := range rule.Tiers {
			nr.Tiers = append(nr.Tiers, SeverityTier{Level: tier.Level, Keywords: lowerAll(tier.Keywords)})
		}
		out.Symptoms[i] = nr
	}
	return out
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, normalizeText(s))
		}
	}
	return out
}
