package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/concussionrehab/internal/adapters/kvstore"
	"github.com/zatekoja/concussionrehab/internal/application/services"
	"github.com/zatekoja/concussionrehab/internal/domain/entities"
	"github.com/zatekoja/concussionrehab/internal/domain/providers"
	"github.com/zatekoja/concussionrehab/pkg/config"
	apperrors "github.com/zatekoja/concussionrehab/pkg/errors"
)

var baseTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *stepClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// failingStore is a KeyValueStore whose backend is down.
type failingStore struct{}

var errConnRefused = errors.New("dial tcp 127.0.0.1:6379: connect: connection refused")

func (failingStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errConnRefused
}

func (failingStore) Set(context.Context, string, []byte) error {
	return errConnRefused
}

func (failingStore) GetByPrefix(context.Context, string) ([]providers.KeyValue, error) {
	return nil, errConnRefused
}

func learningConfig() config.LearningConfig {
	return config.LearningConfig{
		SuccessExemplars: 10,
		FailureExemplars: 5,
		ArchiveAfter:     30 * 24 * time.Hour,
		InsightsWindow:   50,
	}
}

type learningFixture struct {
	store    *kvstore.MemoryStore
	clock    *stepClock
	analysis *services.AnalysisService
	learning *services.LearningService
}

func newLearningFixture() *learningFixture {
	store := kvstore.NewMemoryStore()
	clock := &stepClock{t: baseTime}

	learning := services.NewLearningService(store, learningConfig())
	learning.SetClock(clock.Now)

	analysis := services.NewAnalysisService(nil, store, nil, nil, time.Second)
	analysis.SetClock(clock.Now)

	return &learningFixture{store: store, clock: clock, analysis: analysis, learning: learning}
}

// seed stores n rule-based analyses and returns their ids.
func (f *learningFixture) seed(t *testing.T, n int, message string) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		res, err := f.analysis.AnalyzeMessage(context.Background(), services.AnalyzeRequest{
			PatientID: fmt.Sprintf("patient-%d", i),
			Message:   message,
		})
		require.NoError(t, err)
		ids = append(ids, res.AnalysisID)
	}
	return ids
}

func TestLearningService_RecordReview_Approved(t *testing.T) {
	ctx := context.Background()
	f := newLearningFixture()
	ids := f.seed(t, 1, "I have a mild headache")

	pending, err := f.learning.ListPendingReviews(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	f.clock.Advance(time.Hour)
	err = f.learning.RecordReview(ctx, services.ReviewInput{
		AnalysisID:  ids[0],
		Approved:    true,
		DoctorNotes: "Appropriate advice",
		ReviewerID:  "dr-1",
	})
	require.NoError(t, err)

	record, err := f.learning.GetAnalysis(ctx, ids[0])
	require.NoError(t, err)
	assert.True(t, record.DoctorReviewed)
	require.NotNil(t, record.DoctorApproved)
	assert.True(t, *record.DoctorApproved)
	assert.Equal(t, "dr-1", record.ReviewedBy)
	require.NotNil(t, record.ReviewedAt)
	assert.True(t, record.ReviewedAt.Equal(baseTime.Add(time.Hour)))

	summary, err := f.learning.GetMetrics(ctx)
	require.NoError(t, err)
	rule := summary.Methods[entities.AnalysisMethodRuleBased]
	assert.Equal(t, 1, rule.TotalReviews)
	assert.Equal(t, 1, rule.ApprovedCount)
	assert.Equal(t, 0, rule.RejectedCount)
	assert.InDelta(t, 100.0, rule.AccuracyRate, 0.0001)
	assert.Contains(t, summary.Methods, entities.AnalysisMethodGitHubModels)
	assert.Equal(t, 1, summary.TrainingDataCount)
	assert.Equal(t, 1, summary.SuccessPatternsCount)
	assert.Equal(t, 0, summary.FailurePatternsCount)

	bundle, err := f.learning.LoadExemplars(ctx)
	require.NoError(t, err)
	require.Len(t, bundle.Examples, 1)
	assert.Empty(t, bundle.Failures)
	assert.Equal(t, "patient-0", bundle.Examples[0].PatientContext)
	assert.Equal(t, entities.SymptomHeadache, bundle.Examples[0].Symptoms[0].Name)
	assert.Equal(t, fmt.Sprintf("v%d", baseTime.Add(time.Hour).UnixMilli()), bundle.Version)

	pending, err = f.learning.ListPendingReviews(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestLearningService_RecordReview_Rejections(t *testing.T) {
	ctx := context.Background()

	t.Run("with corrections records a failure pattern", func(t *testing.T) {
		f := newLearningFixture()
		ids := f.seed(t, 1, "I feel dizzy and sick")

		corrected := []entities.Recommendation{{Category: "Vestibular Training", Title: "Refer to vestibular physio"}}
		err := f.learning.RecordReview(ctx, services.ReviewInput{
			AnalysisID:              ids[0],
			Approved:                false,
			DoctorNotes:             "Needs specialist input",
			ModifiedRecommendations: corrected,
			ReviewerID:              "dr-2",
		})
		require.NoError(t, err)

		bundle, err := f.learning.LoadExemplars(ctx)
		require.NoError(t, err)
		assert.Empty(t, bundle.Examples)
		require.Len(t, bundle.Failures, 1)
		assert.Equal(t, "Needs specialist input", bundle.Failures[0].DoctorNotes)
		assert.Equal(t, corrected, bundle.Failures[0].CorrectedRecommendations)

		summary, err := f.learning.GetMetrics(ctx)
		require.NoError(t, err)
		rule := summary.Methods[entities.AnalysisMethodRuleBased]
		assert.Equal(t, 1, rule.RejectedCount)
		assert.InDelta(t, 0.0, rule.AccuracyRate, 0.0001)
	})

	t.Run("without corrections records no pattern", func(t *testing.T) {
		f := newLearningFixture()
		ids := f.seed(t, 1, "I feel dizzy")

		require.NoError(t, f.learning.RecordReview(ctx, services.ReviewInput{
			AnalysisID: ids[0],
			Approved:   false,
			ReviewerID: "dr-2",
		}))

		summary, err := f.learning.GetMetrics(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.TrainingDataCount)
		assert.Equal(t, 0, summary.SuccessPatternsCount)
		assert.Equal(t, 0, summary.FailurePatternsCount)
	})

	t.Run("empty corrections still count as supplied", func(t *testing.T) {
		f := newLearningFixture()
		ids := f.seed(t, 1, "I feel dizzy")

		require.NoError(t, f.learning.RecordReview(ctx, services.ReviewInput{
			AnalysisID:              ids[0],
			Approved:                false,
			ModifiedRecommendations: []entities.Recommendation{},
			ReviewerID:              "dr-2",
		}))

		summary, err := f.learning.GetMetrics(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.FailurePatternsCount)
	})
}

func TestLearningService_RecordReview_Errors(t *testing.T) {
	ctx := context.Background()
	f := newLearningFixture()
	ids := f.seed(t, 1, "headache")

	err := f.learning.RecordReview(ctx, services.ReviewInput{AnalysisID: ids[0], ReviewerID: " "})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeInvalidInput))

	err = f.learning.RecordReview(ctx, services.ReviewInput{ReviewerID: "dr-1"})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeInvalidInput))

	err = f.learning.RecordReview(ctx, services.ReviewInput{AnalysisID: "missing", ReviewerID: "dr-1"})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))

	require.NoError(t, f.learning.RecordReview(ctx, services.ReviewInput{AnalysisID: ids[0], Approved: true, ReviewerID: "dr-1"}))
	err = f.learning.RecordReview(ctx, services.ReviewInput{AnalysisID: ids[0], Approved: false, ReviewerID: "dr-2"})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConflict))

	summary, err := f.learning.GetMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Methods[entities.AnalysisMethodRuleBased].TotalReviews)
	assert.Equal(t, 1, summary.TrainingDataCount)
}

// flakyStore fails the first Set of a key with failPrefix and otherwise
// behaves like the wrapped memory store.
type flakyStore struct {
	*kvstore.MemoryStore
	failPrefix string

	mu     sync.Mutex
	failed bool
}

func (s *flakyStore) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	fail := !s.failed && strings.HasPrefix(key, s.failPrefix)
	if fail {
		s.failed = true
	}
	s.mu.Unlock()
	if fail {
		return errConnRefused
	}
	return s.MemoryStore.Set(ctx, key, value)
}

func TestLearningService_RecordReview_ResumesAfterStoreFailure(t *testing.T) {
	for _, prefix := range []string{"training_data_", "success_patterns_", "few_shot_examples"} {
		t.Run(prefix, func(t *testing.T) {
			ctx := context.Background()
			mem := kvstore.NewMemoryStore()
			store := &flakyStore{MemoryStore: mem, failPrefix: prefix}
			learning := services.NewLearningService(store, learningConfig())

			analysis := services.NewAnalysisService(nil, mem, nil, nil, time.Second)
			res, err := analysis.AnalyzeMessage(ctx, services.AnalyzeRequest{PatientID: "p-1", Message: "mild headache"})
			require.NoError(t, err)

			err = learning.RecordReview(ctx, services.ReviewInput{AnalysisID: res.AnalysisID, Approved: true, ReviewerID: "dr-1"})
			require.True(t, apperrors.IsStoreUnavailable(err), "got %v", err)

			// the retry replays the stored decision
			require.NoError(t, learning.RecordReview(ctx, services.ReviewInput{AnalysisID: res.AnalysisID, Approved: false, ReviewerID: "dr-2"}))

			err = learning.RecordReview(ctx, services.ReviewInput{AnalysisID: res.AnalysisID, Approved: true, ReviewerID: "dr-1"})
			assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConflict))

			summary, err := learning.GetMetrics(ctx)
			require.NoError(t, err)
			ruleBased := summary.Methods[entities.AnalysisMethodRuleBased]
			assert.Equal(t, 1, ruleBased.TotalReviews)
			assert.Equal(t, 1, ruleBased.ApprovedCount)
			assert.Empty(t, ruleBased.RecentAnalysisIDs)
			assert.Equal(t, 1, summary.TrainingDataCount)
			assert.Equal(t, 1, summary.SuccessPatternsCount)

			bundle, err := learning.LoadExemplars(ctx)
			require.NoError(t, err)
			assert.Len(t, bundle.Examples, 1)

			record, err := learning.GetAnalysis(ctx, res.AnalysisID)
			require.NoError(t, err)
			assert.True(t, record.LearningApplied)
			assert.Equal(t, "dr-1", record.ReviewedBy)
		})
	}
}

func TestLearningService_ConcurrentReviewsAreAllCounted(t *testing.T) {
	ctx := context.Background()
	f := newLearningFixture()
	ids := f.seed(t, 50, "I have a headache")

	var wg sync.WaitGroup
	errs := make(chan error, len(ids))
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			errs <- f.learning.RecordReview(ctx, services.ReviewInput{
				AnalysisID: id,
				Approved:   i%2 == 0,
				ReviewerID: "dr-1",
			})
		}(i, id)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	summary, err := f.learning.GetMetrics(ctx)
	require.NoError(t, err)
	rule := summary.Methods[entities.AnalysisMethodRuleBased]
	assert.Equal(t, 50, rule.TotalReviews)
	assert.Equal(t, 25, rule.ApprovedCount)
	assert.Equal(t, 25, rule.RejectedCount)
	assert.Equal(t, rule.TotalReviews, rule.ApprovedCount+rule.RejectedCount)
	assert.Equal(t, 50, summary.TrainingDataCount)
}

func TestLearningService_BundleKeepsNewestExemplars(t *testing.T) {
	ctx := context.Background()
	f := newLearningFixture()
	ids := f.seed(t, 12, "I have a headache")

	for _, id := range ids {
		f.clock.Advance(time.Minute)
		require.NoError(t, f.learning.RecordReview(ctx, services.ReviewInput{AnalysisID: id, Approved: true, ReviewerID: "dr-1"}))
	}

	bundle, err := f.learning.LoadExemplars(ctx)
	require.NoError(t, err)
	require.Len(t, bundle.Examples, 10)
	for i := 1; i < len(bundle.Examples); i++ {
		assert.True(t, bundle.Examples[i-1].Timestamp.After(bundle.Examples[i].Timestamp))
	}
	assert.True(t, bundle.Examples[0].Timestamp.Equal(baseTime.Add(12*time.Minute)))
	assert.Equal(t, "patient-11", bundle.Examples[0].PatientContext)
}

func TestLearningService_LoadExemplarsBeforeAnyReview(t *testing.T) {
	f := newLearningFixture()

	bundle, err := f.learning.LoadExemplars(context.Background())
	require.NoError(t, err)
	assert.True(t, bundle.Empty())
}

func TestLearningService_RetrainArchivesOldPatterns(t *testing.T) {
	ctx := context.Background()
	f := newLearningFixture()
	ids := f.seed(t, 3, "I feel dizzy")

	f.clock.Set(baseTime.Add(-40 * 24 * time.Hour))
	require.NoError(t, f.learning.RecordReview(ctx, services.ReviewInput{AnalysisID: ids[0], Approved: true, ReviewerID: "dr-1"}))
	require.NoError(t, f.learning.RecordReview(ctx, services.ReviewInput{
		AnalysisID:              ids[1],
		ModifiedRecommendations: []entities.Recommendation{{Title: "Rest"}},
		ReviewerID:              "dr-1",
	}))

	f.clock.Set(baseTime)
	require.NoError(t, f.learning.RecordReview(ctx, services.ReviewInput{AnalysisID: ids[2], Approved: true, ReviewerID: "dr-1"}))

	result, err := f.learning.Retrain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.ArchivedCount)
	assert.NotEmpty(t, result.BundleVersion)

	bundle, err := f.learning.LoadExemplars(ctx)
	require.NoError(t, err)
	assert.Len(t, bundle.Examples, 1)
	assert.Empty(t, bundle.Failures)

	// archiving flags patterns, it does not delete them
	summary, err := f.learning.GetMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.SuccessPatternsCount)
	assert.Equal(t, 1, summary.FailurePatternsCount)

	again, err := f.learning.Retrain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, again.ArchivedCount)
}

func putTrainingExample(t *testing.T, store providers.KeyValueStore, i int, approved bool, confidence float64, symptoms ...entities.SymptomCategory) {
	t.Helper()
	ex := entities.TrainingExample{
		DoctorApproved: approved,
		Timestamp:      baseTime.Add(time.Duration(i) * time.Minute),
		AnalysisMethod: entities.AnalysisMethodRuleBased,
		Confidence:     confidence,
	}
	for _, s := range symptoms {
		ex.OriginalSymptoms = append(ex.OriginalSymptoms, entities.Symptom{Name: s, Severity: entities.SeverityMedium, Detected: true})
	}
	data, err := json.Marshal(ex)
	require.NoError(t, err)
	require.NoError(t, store.Set(context.Background(), fmt.Sprintf("training_data_%03d", i), data))
}

func TestLearningService_ComputeInsights(t *testing.T) {
	ctx := context.Background()

	t.Run("no cases", func(t *testing.T) {
		f := newLearningFixture()
		report, err := f.learning.ComputeInsights(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, 0, report.TotalCasesAnalyzed)
		assert.Zero(t, report.ApprovalRate)
		assert.Zero(t, report.Last7DayApprovalRate)
		assert.Zero(t, report.AverageConfidence)
		assert.Empty(t, report.TopApprovedSymptoms)
	})

	f := newLearningFixture()
	// newest first: 9 8 7 5 2 approved, 6 4 3 1 0 rejected
	putTrainingExample(t, f.store, 9, true, 0.8, entities.SymptomHeadache, entities.SymptomHeadache, entities.SymptomDizziness)
	putTrainingExample(t, f.store, 8, true, 0.8, entities.SymptomDizziness)
	putTrainingExample(t, f.store, 7, true, 0.8, entities.SymptomHeadache)
	putTrainingExample(t, f.store, 5, true, 0.8, entities.SymptomNausea)
	putTrainingExample(t, f.store, 2, true, 0.8, entities.SymptomNausea)
	for _, i := range []int{6, 4, 3, 1, 0} {
		putTrainingExample(t, f.store, i, false, 0.6, entities.SymptomSleepIssues)
	}

	t.Run("default window covers everything", func(t *testing.T) {
		report, err := f.learning.ComputeInsights(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, 10, report.TotalCasesAnalyzed)
		assert.InDelta(t, 0.5, report.ApprovalRate, 1e-9)
		assert.InDelta(t, 4.0/7.0, report.Last7DayApprovalRate, 1e-9)
		assert.InDelta(t, 0.5, report.Last30DayApprovalRate, 1e-9)
		assert.InDelta(t, 0.7, report.AverageConfidence, 1e-9)

		assert.Equal(t, []entities.SymptomCount{
			{Symptom: entities.SymptomHeadache, Count: 2},
			{Symptom: entities.SymptomDizziness, Count: 2},
			{Symptom: entities.SymptomNausea, Count: 2},
		}, report.TopApprovedSymptoms)
		assert.Equal(t, []entities.SymptomCount{
			{Symptom: entities.SymptomSleepIssues, Count: 5},
		}, report.TopRejectedSymptoms)
	})

	t.Run("recent window limits the cases", func(t *testing.T) {
		report, err := f.learning.ComputeInsights(ctx, 4)
		require.NoError(t, err)
		assert.Equal(t, 4, report.TotalCasesAnalyzed)
		assert.InDelta(t, 0.75, report.ApprovalRate, 1e-9)
		assert.InDelta(t, 0.75, report.Last7DayApprovalRate, 1e-9)
		assert.Equal(t, []entities.SymptomCount{
			{Symptom: entities.SymptomHeadache, Count: 2},
			{Symptom: entities.SymptomDizziness, Count: 2},
		}, report.TopApprovedSymptoms)
	})
}

func TestLearningService_StoreUnavailable(t *testing.T) {
	ctx := context.Background()
	svc := services.NewLearningService(failingStore{}, learningConfig())

	err := svc.RecordReview(ctx, services.ReviewInput{AnalysisID: "a-1", Approved: true, ReviewerID: "dr-1"})
	assert.True(t, apperrors.IsStoreUnavailable(err))

	_, err = svc.GetMetrics(ctx)
	assert.True(t, apperrors.IsStoreUnavailable(err))

	_, err = svc.ComputeInsights(ctx, 10)
	assert.True(t, apperrors.IsStoreUnavailable(err))

	_, err = svc.Retrain(ctx)
	assert.True(t, apperrors.IsStoreUnavailable(err))

	_, err = svc.ListPendingReviews(ctx)
	assert.True(t, apperrors.IsStoreUnavailable(err))

	_, err = svc.LoadExemplars(ctx)
	assert.True(t, apperrors.IsStoreUnavailable(err))
}
