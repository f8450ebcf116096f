package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/zatekoja/concussionrehab/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/concussionrehab/pkg/errors"
)

// maxBodyBytes bounds request bodies; chat messages are short free text.
const maxBodyBytes = 1 << 20

func respondWithJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(payload)
}

func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	respondWithJSON(w, statusCode, map[string]string{
		"error": message,
	})
}

// statusFor maps an application error type to its HTTP status.
func statusFor(err error) int {
	switch apperrors.TypeOf(err) {
	case apperrors.ErrorTypeInvalidInput:
		return http.StatusBadRequest
	case apperrors.ErrorTypeNotFound:
		return http.StatusNotFound
	case apperrors.ErrorTypeConflict:
		return http.StatusConflict
	case apperrors.ErrorTypeStoreUnavailable, apperrors.ErrorTypeProvider:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondWithAppError logs err and writes it with the matching status.
// Internal details are only exposed for client errors.
func respondWithAppError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	logger := observability.LoggerFromContext(r.Context())

	var appErr *apperrors.AppError
	message := "internal server error"
	if status < http.StatusInternalServerError {
		logger.Debug().Err(err).Int("status", status).Msg("Request rejected")
		if errors.As(err, &appErr) {
			message = appErr.Message
		}
	} else {
		logger.Error().Err(err).Int("status", status).Msg("Request failed")
		if status == http.StatusServiceUnavailable {
			message = "service temporarily unavailable"
		}
	}
	respondWithError(w, status, message)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(dst)
}
