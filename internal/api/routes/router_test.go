package routes_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/concussionrehab/internal/adapters/kvstore"
	"github.com/zatekoja/concussionrehab/internal/api/handlers"
	"github.com/zatekoja/concussionrehab/internal/api/routes"
	"github.com/zatekoja/concussionrehab/internal/application/services"
	"github.com/zatekoja/concussionrehab/internal/domain/entities"
	"github.com/zatekoja/concussionrehab/pkg/config"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	store := kvstore.NewMemoryStore()
	learning := services.NewLearningService(store, config.LearningConfig{})
	analysis := services.NewAnalysisService(nil, store, nil, learning, time.Second)

	router := routes.NewRouter(
		handlers.NewAnalysisHandler(analysis),
		handlers.NewReviewHandler(learning),
		[]string{"*"},
		nil,
	)
	srv := httptest.NewServer(router.SetupRoutes())
	t.Cleanup(srv.Close)
	return srv
}

func TestRouter_ChatReviewMetricsFlow(t *testing.T) {
	srv := newServer(t)
	client := srv.Client()

	resp, err := client.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = client.Post(srv.URL+"/api/ml-chat", "application/json",
		strings.NewReader(`{"patientId":"p-1","message":"I keep getting a headache and feel dizzy"}`))
	require.NoError(t, err)
	var analysis entities.AnalysisResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&analysis))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))

	resp, err = client.Get(srv.URL + "/api/ml-reviews")
	require.NoError(t, err)
	var pending struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&pending))
	resp.Body.Close()
	assert.Equal(t, 1, pending.Count)

	approve := func() int {
		req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/ml-reviews/"+analysis.AnalysisID+"/approve", strings.NewReader(`{"approved":true}`))
		require.NoError(t, err)
		req.Header.Set(handlers.ReviewerHeader, "dr-1")
		resp, err := client.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}
	assert.Equal(t, http.StatusOK, approve())
	assert.Equal(t, http.StatusConflict, approve())

	resp, err = client.Get(srv.URL + "/api/ml-metrics")
	require.NoError(t, err)
	var summary entities.MetricsSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summary))
	resp.Body.Close()
	assert.Equal(t, 1, summary.Methods[entities.AnalysisMethodRuleBased].ApprovedCount)
	assert.Equal(t, 0, summary.Methods[entities.AnalysisMethodGitHubModels].TotalReviews)

	resp, err = client.Get(srv.URL + "/api/ml-insights?recent=10")
	require.NoError(t, err)
	var report entities.InsightsReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	resp.Body.Close()
	assert.Equal(t, 1, report.TotalCasesAnalyzed)
	assert.InDelta(t, 1.0, report.ApprovalRate, 1e-9)

	resp, err = client.Post(srv.URL+"/api/ml-retrain", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRouter_UnknownAnalysisIsNotFound(t *testing.T) {
	srv := newServer(t)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/ml-reviews/missing/approve", strings.NewReader(`{"approved":false}`))
	require.NoError(t, err)
	req.Header.Set(handlers.ReviewerHeader, "dr-1")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	srv := newServer(t)

	resp, err := srv.Client().Get(srv.URL + "/api/ml-chat")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
