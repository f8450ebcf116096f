package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/zatekoja/concussionrehab/internal/domain/entities"
	"github.com/zatekoja/concussionrehab/internal/domain/providers"
	"github.com/zatekoja/concussionrehab/internal/infrastructure/observability"
	"github.com/zatekoja/concussionrehab/pkg/config"
	apperrors "github.com/zatekoja/concussionrehab/pkg/errors"
)

// ReviewInput is a clinician's decision on one pending analysis.
// A nil ModifiedRecommendations means none were supplied; an empty non-nil
// slice counts as supplied.
type ReviewInput struct {
	AnalysisID              string                    `json:"analysisId"`
	Approved                bool                      `json:"approved"`
	DoctorNotes             string                    `json:"doctorNotes,omitempty"`
	ModifiedRecommendations []entities.Recommendation `json:"modifiedRecommendations,omitempty"`
	ReviewerID              string                    `json:"reviewerId"`
}

// LearningService records clinician feedback and derives metrics, insights
// and the few-shot exemplar bundle from it.
//
// Writes are not transactional across keys. If the store fails part-way
// through RecordReview the error is returned and the record stays reviewed
// but not applied; calling RecordReview again finishes the remaining steps.
// Every step after the first is idempotent per analysis.
type LearningService struct {
	store   providers.KeyValueStore
	updater providers.AtomicUpdater
	locks   *keyedMutex
	cfg     config.LearningConfig
	metrics *observability.Metrics
	now     func() time.Time
}

// NewLearningService creates a learning service over store. When store also
// implements AtomicUpdater its Update is used for read-modify-write keys.
func NewLearningService(store providers.KeyValueStore, cfg config.LearningConfig) *LearningService {
	if cfg.SuccessExemplars == 0 {
		cfg.SuccessExemplars = 10
	}
	if cfg.FailureExemplars == 0 {
		cfg.FailureExemplars = 5
	}
	if cfg.ArchiveAfter <= 0 {
		cfg.ArchiveAfter = 30 * 24 * time.Hour
	}
	if cfg.InsightsWindow <= 0 {
		cfg.InsightsWindow = 50
	}

	svc := &LearningService{
		store: store,
		locks: newKeyedMutex(),
		cfg:   cfg,
		now:   func() time.Time { return time.Now().UTC() },
	}
	if u, ok := store.(providers.AtomicUpdater); ok {
		svc.updater = u
	}
	return svc
}

// SetMetrics sets the metrics recorder
func (s *LearningService) SetMetrics(m *observability.Metrics) {
	s.metrics = m
}

// SetClock overrides the time source
func (s *LearningService) SetClock(now func() time.Time) {
	s.now = now
}

// update serializes read-modify-write of key within this process and, when
// the store supports it, across processes.
func (s *LearningService) update(ctx context.Context, key string, fn providers.UpdateFunc) error {
	unlock := s.locks.Lock(key)
	defer unlock()

	if s.updater != nil {
		if err := s.updater.Update(ctx, key, fn); err != nil {
			return storeError("failed to update "+key, err)
		}
		return nil
	}

	current, found, err := s.store.Get(ctx, key)
	if err != nil {
		return storeError("failed to read "+key, err)
	}
	next, err := fn(current, found)
	if err != nil {
		return err
	}
	if err := s.store.Set(ctx, key, next); err != nil {
		return storeError("failed to write "+key, err)
	}
	return nil
}

// RecordReview moves an analysis from pending to reviewed and feeds the
// outcome into training data, per-method metrics, exemplar patterns and the
// cached exemplar bundle, in that order.
func (s *LearningService) RecordReview(ctx context.Context, in ReviewInput) error {
	if strings.TrimSpace(in.AnalysisID) == "" {
		return apperrors.NewInvalidInputError("analysis id is required")
	}
	if strings.TrimSpace(in.ReviewerID) == "" {
		return apperrors.NewInvalidInputError("reviewer id is required")
	}

	ctx, span := observability.StartSpan(ctx, "LearningService.RecordReview")
	defer span.End()
	start := time.Now()
	defer func() { observability.RecordStoreOp(ctx, s.metrics, "record_review", time.Since(start)) }()

	logger := observability.ComponentLogger(ctx, "learning")
	now := s.now()

	// 1. mark the record reviewed, or pick up a review whose learning
	// steps did not finish
	var record entities.AnalysisRecord
	resumed := false
	err := s.update(ctx, analysisKey(in.AnalysisID), func(current []byte, found bool) ([]byte, error) {
		if !found {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("analysis %s not found", in.AnalysisID))
		}
		record = entities.AnalysisRecord{}
		if err := json.Unmarshal(current, &record); err != nil {
			return nil, apperrors.NewInternalError("failed to decode analysis record", err)
		}
		if record.DoctorReviewed {
			if record.LearningApplied || record.DoctorApproved == nil || record.ReviewedAt == nil {
				return nil, apperrors.NewConflictError(fmt.Sprintf("analysis %s has already been reviewed", in.AnalysisID))
			}
			resumed = true
			return current, nil
		}

		approved := in.Approved
		record.DoctorReviewed = true
		record.DoctorApproved = &approved
		record.DoctorNotes = in.DoctorNotes
		record.ModifiedRecommendations = in.ModifiedRecommendations
		record.ReviewedBy = in.ReviewerID
		record.ReviewedAt = &now
		return json.Marshal(record)
	})
	if err != nil {
		observability.RecordError(span, err)
		return err
	}

	// A resumed review replays the stored decision, not the new request.
	approved := *record.DoctorApproved
	reviewedAt := *record.ReviewedAt
	if resumed {
		logger.Warn().
			Str("analysis_id", in.AnalysisID).
			Bool("approved", approved).
			Msg("Resuming unfinished review")
	}

	method := record.AnalysisMethod
	if method == "" {
		method = entities.AnalysisMethodRuleBased
	}

	// 2. training example
	example := entities.TrainingExample{
		OriginalSymptoms:        record.Symptoms,
		OriginalRecommendations: record.Recommendations,
		DoctorApproved:          approved,
		DoctorNotes:             record.DoctorNotes,
		ModifiedRecommendations: record.ModifiedRecommendations,
		PatientID:               record.PatientID,
		DoctorID:                record.ReviewedBy,
		Timestamp:               reviewedAt,
		AnalysisMethod:          method,
		Confidence:              record.Confidence,
	}
	if err := setJSON(ctx, s.store, reviewKey(trainingKeyPrefix, reviewedAt, in.AnalysisID), example); err != nil {
		observability.RecordError(span, err)
		return err
	}

	// 3. per-method metrics, counted once per analysis
	err = s.update(ctx, metricsKey(method), func(current []byte, found bool) ([]byte, error) {
		var m entities.ModelMetrics
		if found {
			if err := json.Unmarshal(current, &m); err != nil {
				return nil, apperrors.NewInternalError("failed to decode model metrics", err)
			}
		}
		if !m.RecordOnce(in.AnalysisID, approved, reviewedAt) {
			return current, nil
		}
		return json.Marshal(m)
	})
	if err != nil {
		observability.RecordError(span, err)
		return err
	}

	// 4-5. exemplar pattern
	if approved {
		pattern := entities.ExemplarPattern{
			Kind:            entities.PatternSuccess,
			Symptoms:        record.Symptoms,
			Recommendations: record.Recommendations,
			PatientContext:  record.PatientID,
			Timestamp:       reviewedAt,
		}
		if err := setJSON(ctx, s.store, reviewKey(successKeyPrefix, reviewedAt, in.AnalysisID), pattern); err != nil {
			observability.RecordError(span, err)
			return err
		}
	} else if record.ModifiedRecommendations != nil {
		pattern := entities.ExemplarPattern{
			Kind:                     entities.PatternFailure,
			Symptoms:                 record.Symptoms,
			Recommendations:          record.Recommendations,
			CorrectedRecommendations: record.ModifiedRecommendations,
			DoctorNotes:              record.DoctorNotes,
			Timestamp:                reviewedAt,
		}
		if err := setJSON(ctx, s.store, reviewKey(failureKeyPrefix, reviewedAt, in.AnalysisID), pattern); err != nil {
			observability.RecordError(span, err)
			return err
		}
	}

	// 6. exemplar bundle
	bundle, err := s.rebuildBundle(ctx)
	if err != nil {
		observability.RecordError(span, err)
		return err
	}

	// done; later reviews of this record conflict
	err = s.update(ctx, analysisKey(in.AnalysisID), func(current []byte, found bool) ([]byte, error) {
		if !found {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("analysis %s not found", in.AnalysisID))
		}
		var latest entities.AnalysisRecord
		if err := json.Unmarshal(current, &latest); err != nil {
			return nil, apperrors.NewInternalError("failed to decode analysis record", err)
		}
		latest.LearningApplied = true
		return json.Marshal(latest)
	})
	if err != nil {
		observability.RecordError(span, err)
		return err
	}

	observability.RecordReview(ctx, s.metrics, string(method), approved)
	logger.Info().
		Str("analysis_id", in.AnalysisID).
		Str("method", string(method)).
		Bool("approved", approved).
		Str("bundle_version", bundle.Version).
		Msg("Recorded clinician review")
	return nil
}

// loadPatterns returns the patterns under prefix with their store keys set.
func (s *LearningService) loadPatterns(ctx context.Context, prefix string) ([]entities.ExemplarPattern, error) {
	patterns, keys, err := listJSON[entities.ExemplarPattern](ctx, s.store, prefix)
	if err != nil {
		return nil, err
	}
	for i := range patterns {
		patterns[i].Key = keys[i]
	}
	return patterns, nil
}

// newestActive returns up to limit non-archived patterns, newest first.
func newestActive(patterns []entities.ExemplarPattern, limit int) []entities.ExemplarPattern {
	active := make([]entities.ExemplarPattern, 0, len(patterns))
	for _, p := range patterns {
		if !p.Archived {
			active = append(active, p)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		if !active[i].Timestamp.Equal(active[j].Timestamp) {
			return active[i].Timestamp.After(active[j].Timestamp)
		}
		return active[i].Key > active[j].Key
	})
	if len(active) > limit {
		active = active[:limit]
	}
	return active
}

// rebuildBundle recomputes and stores the few-shot bundle. Rebuilds are
// serialized so an older snapshot cannot overwrite a newer one.
func (s *LearningService) rebuildBundle(ctx context.Context) (*entities.FewShotBundle, error) {
	unlock := s.locks.Lock(fewShotKey)
	defer unlock()

	successes, err := s.loadPatterns(ctx, successKeyPrefix)
	if err != nil {
		return nil, err
	}
	failures, err := s.loadPatterns(ctx, failureKeyPrefix)
	if err != nil {
		return nil, err
	}

	now := s.now()
	bundle := &entities.FewShotBundle{
		Examples:    newestActive(successes, s.cfg.SuccessExemplars),
		Failures:    newestActive(failures, s.cfg.FailureExemplars),
		LastUpdated: now,
		Version:     fmt.Sprintf("v%d", now.UnixMilli()),
	}
	if err := setJSON(ctx, s.store, fewShotKey, bundle); err != nil {
		return nil, err
	}
	return bundle, nil
}

// LoadExemplars returns the cached bundle, or an empty one before any review.
func (s *LearningService) LoadExemplars(ctx context.Context) (*entities.FewShotBundle, error) {
	var bundle entities.FewShotBundle
	found, err := getJSON(ctx, s.store, fewShotKey, &bundle)
	if err != nil {
		return nil, err
	}
	if !found {
		return &entities.FewShotBundle{}, nil
	}
	return &bundle, nil
}

// Retrain archives patterns older than the archive age and then rebuilds
// the exemplar bundle from what remains.
func (s *LearningService) Retrain(ctx context.Context) (*entities.RetrainResult, error) {
	ctx, span := observability.StartSpan(ctx, "LearningService.Retrain")
	defer span.End()

	now := s.now()
	cutoff := now.Add(-s.cfg.ArchiveAfter)
	archived := 0

	for _, prefix := range []string{successKeyPrefix, failureKeyPrefix} {
		patterns, err := s.loadPatterns(ctx, prefix)
		if err != nil {
			observability.RecordError(span, err)
			return nil, err
		}
		for _, p := range patterns {
			if p.Archived || !p.Timestamp.Before(cutoff) {
				continue
			}
			changed := false
			err := s.update(ctx, p.Key, func(current []byte, found bool) ([]byte, error) {
				if !found {
					return nil, apperrors.NewNotFoundError("pattern disappeared: " + p.Key)
				}
				var fresh entities.ExemplarPattern
				if err := json.Unmarshal(current, &fresh); err != nil {
					return nil, apperrors.NewInternalError("failed to decode pattern", err)
				}
				changed = !fresh.Archived
				fresh.Archived = true
				return json.Marshal(fresh)
			})
			if err != nil {
				observability.RecordError(span, err)
				return nil, err
			}
			if changed {
				archived++
			}
		}
	}

	bundle, err := s.rebuildBundle(ctx)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	observability.RecordArchived(ctx, s.metrics, archived)
	observability.ComponentLogger(ctx, "learning").Info().
		Int("archived", archived).
		Str("bundle_version", bundle.Version).
		Msg("Retraining pass complete")

	return &entities.RetrainResult{
		ArchivedCount: archived,
		BundleVersion: bundle.Version,
		Timestamp:     now,
	}, nil
}

// GetMetrics reports per-method review metrics and learning log sizes.
// Every known method is present even before its first review.
func (s *LearningService) GetMetrics(ctx context.Context) (*entities.MetricsSummary, error) {
	summary := &entities.MetricsSummary{
		Methods: make(map[entities.AnalysisMethod]entities.ModelMetrics),
	}
	for _, m := range entities.KnownAnalysisMethods() {
		summary.Methods[m] = entities.ModelMetrics{}
	}

	metrics, keys, err := listJSON[entities.ModelMetrics](ctx, s.store, metricsKeyPrefix)
	if err != nil {
		return nil, err
	}
	for i, m := range metrics {
		method := entities.AnalysisMethod(trimKeyPrefix(keys[i], metricsKeyPrefix))
		m.RecentAnalysisIDs = nil
		summary.Methods[method] = m
		if m.LastUpdated.After(summary.LastUpdated) {
			summary.LastUpdated = m.LastUpdated
		}
	}

	counts := []struct {
		prefix string
		dst    *int
	}{
		{trainingKeyPrefix, &summary.TrainingDataCount},
		{successKeyPrefix, &summary.SuccessPatternsCount},
		{failureKeyPrefix, &summary.FailurePatternsCount},
	}
	for _, c := range counts {
		entries, err := s.store.GetByPrefix(ctx, c.prefix)
		if err != nil {
			return nil, storeError("failed to count "+c.prefix, err)
		}
		*c.dst = len(entries)
	}
	return summary, nil
}

// ComputeInsights summarises the most recent recentN training examples.
// The 7 and 30 windows are the 7 and 30 most recent examples, not calendar days.
func (s *LearningService) ComputeInsights(ctx context.Context, recentN int) (*entities.InsightsReport, error) {
	if recentN <= 0 {
		recentN = s.cfg.InsightsWindow
	}

	examples, keys, err := listJSON[entities.TrainingExample](ctx, s.store, trainingKeyPrefix)
	if err != nil {
		return nil, err
	}

	idx := make([]int, len(examples))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ea, eb := examples[idx[a]], examples[idx[b]]
		if !ea.Timestamp.Equal(eb.Timestamp) {
			return ea.Timestamp.After(eb.Timestamp)
		}
		return keys[idx[a]] > keys[idx[b]]
	})
	if len(idx) > recentN {
		idx = idx[:recentN]
	}
	recent := make([]entities.TrainingExample, len(idx))
	for i, j := range idx {
		recent[i] = examples[j]
	}

	report := &entities.InsightsReport{
		TotalCasesAnalyzed:    len(recent),
		ApprovalRate:          approvalRate(recent),
		TopApprovedSymptoms:   topSymptoms(recent, true, 5),
		TopRejectedSymptoms:   topSymptoms(recent, false, 5),
		Last7DayApprovalRate:  approvalRate(head(recent, 7)),
		Last30DayApprovalRate: approvalRate(head(recent, 30)),
	}

	confidences := make(stats.Float64Data, 0, len(recent))
	for _, ex := range recent {
		confidences = append(confidences, ex.Confidence)
	}
	if mean, err := stats.Mean(confidences); err == nil {
		report.AverageConfidence = mean
	}
	return report, nil
}

func head(examples []entities.TrainingExample, n int) []entities.TrainingExample {
	if len(examples) > n {
		return examples[:n]
	}
	return examples
}

// approvalRate is a ratio in [0,1]; zero for no examples.
func approvalRate(examples []entities.TrainingExample) float64 {
	if len(examples) == 0 {
		return 0
	}
	approved := 0
	for _, ex := range examples {
		if ex.DoctorApproved {
			approved++
		}
	}
	return float64(approved) / float64(len(examples))
}

// topSymptoms counts each category once per case. Ties keep first-seen order.
func topSymptoms(examples []entities.TrainingExample, approved bool, limit int) []entities.SymptomCount {
	counts := make(map[entities.SymptomCategory]int)
	var order []entities.SymptomCategory

	for _, ex := range examples {
		if ex.DoctorApproved != approved {
			continue
		}
		seen := make(map[entities.SymptomCategory]struct{}, len(ex.OriginalSymptoms))
		for _, sym := range ex.OriginalSymptoms {
			if _, dup := seen[sym.Name]; dup {
				continue
			}
			seen[sym.Name] = struct{}{}
			if _, ok := counts[sym.Name]; !ok {
				order = append(order, sym.Name)
			}
			counts[sym.Name]++
		}
	}

	out := make([]entities.SymptomCount, 0, len(order))
	for _, name := range order {
		out = append(out, entities.SymptomCount{Symptom: name, Count: counts[name]})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ListPendingReviews returns analyses awaiting review, newest first.
func (s *LearningService) ListPendingReviews(ctx context.Context) ([]entities.AnalysisRecord, error) {
	records, err := listAnalysisRecords(ctx, s.store)
	if err != nil {
		return nil, err
	}
	pending := make([]entities.AnalysisRecord, 0, len(records))
	for _, r := range records {
		if !r.DoctorReviewed {
			pending = append(pending, r)
		}
	}
	return pending, nil
}

// GetAnalysis returns one stored analysis record.
func (s *LearningService) GetAnalysis(ctx context.Context, id string) (*entities.AnalysisRecord, error) {
	var record entities.AnalysisRecord
	found, err := getJSON(ctx, s.store, analysisKey(id), &record)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("analysis %s not found", id))
	}
	return &record, nil
}
