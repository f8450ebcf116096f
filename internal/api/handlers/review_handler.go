package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/zatekoja/concussionrehab/internal/application/services"
	"github.com/zatekoja/concussionrehab/internal/domain/entities"
)

// ReviewerHeader carries the id of the clinician submitting a review.
const ReviewerHeader = "X-Reviewer-ID"

// LearningService defines the feedback-learning operations used by the handler.
type LearningService interface {
	ListPendingReviews(ctx context.Context) ([]entities.AnalysisRecord, error)
	RecordReview(ctx context.Context, in services.ReviewInput) error
	GetMetrics(ctx context.Context) (*entities.MetricsSummary, error)
	ComputeInsights(ctx context.Context, recentN int) (*entities.InsightsReport, error)
	Retrain(ctx context.Context) (*entities.RetrainResult, error)
}

// ReviewHandler exposes clinician review and learning endpoints.
type ReviewHandler struct {
	service LearningService
}

// NewReviewHandler creates a new review handler.
func NewReviewHandler(service LearningService) *ReviewHandler {
	return &ReviewHandler{service: service}
}

// ListPending handles GET /api/ml-reviews
func (h *ReviewHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.ListPendingReviews(r.Context())
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"reviews": records,
		"count":   len(records),
	})
}

type reviewRequest struct {
	Approved                bool                      `json:"approved"`
	DoctorNotes             string                    `json:"doctorNotes"`
	ModifiedRecommendations []entities.Recommendation `json:"modifiedRecommendations"`
}

// Approve handles POST /api/ml-reviews/{id}/approve
func (h *ReviewHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		respondWithError(w, http.StatusBadRequest, "analysis id is required")
		return
	}
	reviewer := strings.TrimSpace(r.Header.Get(ReviewerHeader))
	if reviewer == "" {
		respondWithError(w, http.StatusUnauthorized, "reviewer id is required")
		return
	}

	var payload reviewRequest
	if err := decodeJSON(w, r, &payload); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request payload")
		return
	}

	err := h.service.RecordReview(r.Context(), services.ReviewInput{
		AnalysisID:              id,
		Approved:                payload.Approved,
		DoctorNotes:             strings.TrimSpace(payload.DoctorNotes),
		ModifiedRecommendations: payload.ModifiedRecommendations,
		ReviewerID:              reviewer,
	})
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "reviewed",
		"analysisId": id,
		"approved":   payload.Approved,
	})
}

// Metrics handles GET /api/ml-metrics
func (h *ReviewHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.GetMetrics(r.Context())
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, summary)
}

// Insights handles GET /api/ml-insights
func (h *ReviewHandler) Insights(w http.ResponseWriter, r *http.Request) {
	recent := 0
	if raw := r.URL.Query().Get("recent"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondWithError(w, http.StatusBadRequest, "recent must be a positive integer")
			return
		}
		recent = n
	}

	report, err := h.service.ComputeInsights(r.Context(), recent)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, report)
}

// Retrain handles POST /api/ml-retrain
func (h *ReviewHandler) Retrain(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Retrain(r.Context())
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}
