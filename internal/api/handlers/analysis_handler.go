package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/zatekoja/concussionrehab/internal/application/services"
	"github.com/zatekoja/concussionrehab/internal/domain/entities"
)

// AnalysisService defines the analysis operations used by the handler.
type AnalysisService interface {
	AnalyzeMessage(ctx context.Context, req services.AnalyzeRequest) (*entities.AnalysisResult, error)
	DailyQuestions(ctx context.Context, patientID string) ([]string, error)
}

// AnalysisHandler handles patient chat analysis.
type AnalysisHandler struct {
	service AnalysisService
}

// NewAnalysisHandler creates a new analysis handler.
func NewAnalysisHandler(service AnalysisService) *AnalysisHandler {
	return &AnalysisHandler{service: service}
}

// Chat handles POST /api/ml-chat
func (h *AnalysisHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var payload services.AnalyzeRequest
	if err := decodeJSON(w, r, &payload); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	payload.PatientID = strings.TrimSpace(payload.PatientID)

	result, err := h.service.AnalyzeMessage(r.Context(), payload)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

type dailyQuestionsRequest struct {
	PatientID string `json:"patientId"`
}

// DailyQuestions handles POST /api/daily-questions
func (h *AnalysisHandler) DailyQuestions(w http.ResponseWriter, r *http.Request) {
	var payload dailyQuestionsRequest
	if err := decodeJSON(w, r, &payload); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request payload")
		return
	}

	questions, err := h.service.DailyQuestions(r.Context(), strings.TrimSpace(payload.PatientID))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"questions": questions,
		"count":     len(questions),
	})
}
