package evaluation

import "github.com/zatekoja/concussionrehab/internal/domain/entities"

func toSet(items []entities.SymptomCategory) map[entities.SymptomCategory]struct{} {
	set := make(map[entities.SymptomCategory]struct{}, len(items))
	for _, it := range items {
		set[it] = struct{}{}
	}
	return set
}

// SymptomRecall is the fraction of expected symptoms that were detected.
// With nothing expected there is nothing to miss, so it is 1.0.
func SymptomRecall(expected, detected []entities.SymptomCategory) float64 {
	want := toSet(expected)
	if len(want) == 0 {
		return 1.0
	}
	got := toSet(detected)
	found := 0
	for s := range want {
		if _, ok := got[s]; ok {
			found++
		}
	}
	return float64(found) / float64(len(want))
}

// SymptomPrecision is the fraction of detected symptoms that were expected.
// Detecting nothing has no false positives, so it is 1.0.
func SymptomPrecision(expected, detected []entities.SymptomCategory) float64 {
	got := toSet(detected)
	if len(got) == 0 {
		return 1.0
	}
	want := toSet(expected)
	correct := 0
	for s := range got {
		if _, ok := want[s]; ok {
			correct++
		}
	}
	return float64(correct) / float64(len(got))
}

// UnderTriaged reports whether actual is a lower urgency than expected.
func UnderTriaged(expected, actual entities.UrgencyLevel) bool {
	return expected != actual && entities.MaxUrgency(expected, actual) == expected
}
