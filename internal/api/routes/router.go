package routes

import (
	"net/http"

	"github.com/zatekoja/concussionrehab/internal/api/handlers"
	"github.com/zatekoja/concussionrehab/internal/api/middleware"
	"github.com/zatekoja/concussionrehab/internal/infrastructure/observability"
)

// Router holds all route handlers
type Router struct {
	mux *http.ServeMux

	analysisHandler *handlers.AnalysisHandler
	reviewHandler   *handlers.ReviewHandler

	allowedOrigins []string
	metrics        *observability.Metrics
}

// NewRouter creates a new router
func NewRouter(
	analysisHandler *handlers.AnalysisHandler,
	reviewHandler *handlers.ReviewHandler,
	allowedOrigins []string,
	metrics *observability.Metrics,
) *Router {
	return &Router{
		mux:             http.NewServeMux(),
		analysisHandler: analysisHandler,
		reviewHandler:   reviewHandler,
		allowedOrigins:  allowedOrigins,
		metrics:         metrics,
	}
}

// SetupRoutes configures all application routes
func (r *Router) SetupRoutes() http.Handler {
	r.mux.HandleFunc("GET /health", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			return
		}
	})

	// Patient chat
	r.mux.HandleFunc("POST /api/ml-chat", r.analysisHandler.Chat)
	r.mux.HandleFunc("POST /api/daily-questions", r.analysisHandler.DailyQuestions)

	// Clinician review and learning
	r.mux.HandleFunc("GET /api/ml-reviews", r.reviewHandler.ListPending)
	r.mux.HandleFunc("POST /api/ml-reviews/{id}/approve", r.reviewHandler.Approve)
	r.mux.HandleFunc("GET /api/ml-metrics", r.reviewHandler.Metrics)
	r.mux.HandleFunc("GET /api/ml-insights", r.reviewHandler.Insights)
	r.mux.HandleFunc("POST /api/ml-retrain", r.reviewHandler.Retrain)

	// Last applied is outermost
	var handler http.Handler = r.mux
	handler = middleware.LoggingMiddleware(handler)
	handler = middleware.ObservabilityMiddleware(r.metrics)(handler)
	handler = middleware.NoStore(handler)
	handler = middleware.Compression(handler)
	handler = middleware.CORSMiddleware(r.allowedOrigins)(handler)

	return handler
}
