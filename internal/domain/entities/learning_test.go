package entities

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestModelMetrics_RecordKeepsInvariant(t *testing.T) {
	var m ModelMetrics
	at := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	outcomes := []bool{true, false, true, true, false}
	for _, approved := range outcomes {
		m.Record(approved, at)
		assert.Equal(t, m.ApprovedCount+m.RejectedCount, m.TotalReviews)
		assert.InDelta(t, float64(m.ApprovedCount)/float64(m.TotalReviews)*100, m.AccuracyRate, 1e-9)
	}

	assert.Equal(t, 5, m.TotalReviews)
	assert.Equal(t, 3, m.ApprovedCount)
	assert.InDelta(t, 60.0, m.AccuracyRate, 1e-9)
	assert.Equal(t, at, m.LastUpdated)
}

func TestMaxUrgency(t *testing.T) {
	assert.Equal(t, UrgencyHigh, MaxUrgency(UrgencyLow, UrgencyHigh))
	assert.Equal(t, UrgencyMedium, MaxUrgency(UrgencyMedium, UrgencyLow))
	assert.Equal(t, UrgencyLow, MaxUrgency(UrgencyLow, UrgencyLevel("unknown")))
}

func TestFewShotBundle_Empty(t *testing.T) {
	var nilBundle *FewShotBundle
	assert.True(t, nilBundle.Empty())
	assert.True(t, (&FewShotBundle{}).Empty())
	assert.False(t, (&FewShotBundle{Failures: []ExemplarPattern{{Kind: PatternFailure}}}).Empty())
}

func TestModelMetrics_RecordOnceSkipsRepeats(t *testing.T) {
	var m ModelMetrics
	at := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, m.RecordOnce("a-1", true, at))
	assert.False(t, m.RecordOnce("a-1", true, at))
	assert.True(t, m.RecordOnce("a-2", false, at))

	assert.Equal(t, 2, m.TotalReviews)
	assert.Equal(t, 1, m.ApprovedCount)
	assert.Equal(t, 1, m.RejectedCount)
}

func TestModelMetrics_RecordOnceBoundsHistory(t *testing.T) {
	var m ModelMetrics
	at := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < maxRecentAnalysisIDs+10; i++ {
		m.RecordOnce(fmt.Sprintf("a-%d", i), true, at)
	}
	assert.Len(t, m.RecentAnalysisIDs, maxRecentAnalysisIDs)
	assert.Equal(t, "a-10", m.RecentAnalysisIDs[0])
	assert.Equal(t, maxRecentAnalysisIDs+10, m.TotalReviews)
}
