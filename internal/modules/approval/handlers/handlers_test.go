package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aristath/maestro/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockReviewService is a mock implementation of ReviewService
type MockReviewService struct {
	mock.Mock
}

func (m *MockReviewService) ListPending(ctx context.Context, runID string) iter.Seq2[domain.Recommendation, error] {
	args := m.Called(ctx, runID)
	return args.Get(0).(iter.Seq2[domain.Recommendation, error])
}

func (m *MockReviewService) Get(ctx context.Context, recID string) (*domain.Recommendation, error) {
	args := m.Called(ctx, recID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Recommendation), args.Error(1)
}

func (m *MockReviewService) Decide(ctx context.Context, recID string, d domain.Decision) (*domain.Recommendation, error) {
	args := m.Called(ctx, recID, d)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Recommendation), args.Error(1)
}

func (m *MockReviewService) ExportApproved(ctx context.Context, runID string) ([]domain.Recommendation, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Recommendation), args.Error(1)
}

func seqOf(recs []domain.Recommendation, err error) iter.Seq2[domain.Recommendation, error] {
	return func(yield func(domain.Recommendation, error) bool) {
		for _, rec := range recs {
			if !yield(rec, nil) {
				return
			}
		}
		if err != nil {
			yield(domain.Recommendation{}, err)
		}
	}
}

func setupRouter(service *MockReviewService) http.Handler {
	handler := NewHandler(service, zerolog.Nop())
	router := chi.NewRouter()
	router.Route("/api", handler.RegisterRoutes)
	return router
}

func serve(router http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Data json.RawMessage `json:"data"`
}

func TestHandleGetPending(t *testing.T) {
	service := new(MockReviewService)
	recs := []domain.Recommendation{
		{ID: "r-1", ClientID: "C001", Confidence: 90},
		{ID: "r-2", ClientID: "C001", Confidence: 70},
		{ID: "r-3", ClientID: "C002", Confidence: 80},
	}
	service.On("ListPending", mock.Anything, "run-1").Return(seqOf(recs, nil))
	router := setupRouter(service)

	resp := serve(router, http.MethodGet, "/api/runs/run-1/recommendations/pending?limit=2", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var body envelope
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	var data struct {
		Recommendations []domain.Recommendation `json:"recommendations"`
		Count           int                     `json:"count"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &data))
	assert.Equal(t, 2, data.Count)
	assert.Equal(t, "r-2", data.Recommendations[1].ID)
	service.AssertExpectations(t)
}

func TestHandleGetPending_UnknownRun(t *testing.T) {
	service := new(MockReviewService)
	service.On("ListPending", mock.Anything, "missing").Return(seqOf(nil, domain.ErrRunNotFound))

	resp := serve(setupRouter(service), http.MethodGet, "/api/runs/missing/recommendations/pending", nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestHandleDecide(t *testing.T) {
	service := new(MockReviewService)
	decision := domain.Decision{Verdict: domain.VerdictApprove, DecidedBy: "rm@firm"}
	service.On("Decide", mock.Anything, "r-1", decision).
		Return(&domain.Recommendation{ID: "r-1", Status: domain.RecommendationApproved}, nil)
	router := setupRouter(service)

	payload, err := json.Marshal(decision)
	require.NoError(t, err)
	resp := serve(router, http.MethodPost, "/api/recommendations/r-1/decision", payload)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"status":"approved"`)
	service.AssertExpectations(t)
}

func TestHandleDecide_ErrorStatuses(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"already decided", &domain.AlreadyDecidedError{RecommendationID: "r-1", Status: domain.RecommendationRejected}, http.StatusConflict},
		{"stale run", &domain.StaleRunError{RecommendationID: "r-1", RunID: "old", SupersededBy: "new"}, http.StatusGone},
		{"not found", domain.ErrRecommendationNotFound, http.StatusNotFound},
		{"invalid", domain.ValidationErrors{{Field: "verdict", Message: "unknown verdict"}}, http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := new(MockReviewService)
			service.On("Decide", mock.Anything, "r-1", mock.Anything).Return(nil, tt.err)

			resp := serve(setupRouter(service), http.MethodPost, "/api/recommendations/r-1/decision",
				[]byte(`{"verdict":"approve","decided_by":"rm@firm"}`))
			assert.Equal(t, tt.status, resp.Code)
		})
	}
}

func TestHandleDecide_BadBody(t *testing.T) {
	service := new(MockReviewService)
	resp := serve(setupRouter(service), http.MethodPost, "/api/recommendations/r-1/decision", []byte("{"))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	service.AssertNotCalled(t, "Decide", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleExport(t *testing.T) {
	confidence := 55.0
	recs := []domain.Recommendation{
		{ID: "r-1", RunID: "run-1", ClientID: "C002", InstrumentCode: "NSE:ICICIBANK", Action: domain.ActionAdd, Confidence: 73, Status: domain.RecommendationExported},
		{ID: "r-2", RunID: "run-1", ClientID: "C003", InstrumentCode: "NSE:HDFCBANK", Action: domain.ActionInitiate,
			ModifiedAction: domain.ActionBuy, ModifiedConfidence: &confidence, Rationale: "initiate, banking call", Status: domain.RecommendationExported},
	}

	t.Run("json", func(t *testing.T) {
		service := new(MockReviewService)
		service.On("ExportApproved", mock.Anything, "run-1").Return(recs, nil)

		resp := serve(setupRouter(service), http.MethodPost, "/api/runs/run-1/recommendations/export", nil)
		require.Equal(t, http.StatusOK, resp.Code)
		assert.Contains(t, resp.Body.String(), `"count":2`)
	})

	t.Run("csv", func(t *testing.T) {
		service := new(MockReviewService)
		service.On("ExportApproved", mock.Anything, "run-1").Return(recs, nil)

		resp := serve(setupRouter(service), http.MethodPost, "/api/runs/run-1/recommendations/export?format=csv", nil)
		require.Equal(t, http.StatusOK, resp.Code)
		assert.Equal(t, "text/csv", resp.Header().Get("Content-Type"))

		lines := strings.Split(strings.TrimSpace(resp.Body.String()), "\n")
		require.Len(t, lines, 3)
		assert.True(t, strings.HasPrefix(lines[0], "recommendation_id,run_id,client_id"))
		assert.Contains(t, lines[2], "BUY,55.0,\"initiate, banking call\"")
	})
}
