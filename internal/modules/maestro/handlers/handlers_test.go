package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aristath/maestro/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockRunService is a mock implementation of RunService
type MockRunService struct {
	mock.Mock
}

func (m *MockRunService) StartRun(ctx context.Context, marketView string) (*domain.Run, error) {
	args := m.Called(ctx, marketView)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Run), args.Error(1)
}

func (m *MockRunService) ResumeRun(ctx context.Context, runID string) (*domain.Run, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Run), args.Error(1)
}

func (m *MockRunService) CancelRun(ctx context.Context, runID string) error {
	args := m.Called(ctx, runID)
	return args.Error(0)
}

func (m *MockRunService) GetRunState(ctx context.Context, runID string) (*domain.RunState, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RunState), args.Error(1)
}

func (m *MockRunService) ListRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Run), args.Error(1)
}

func (m *MockRunService) DeleteRun(ctx context.Context, runID string) error {
	args := m.Called(ctx, runID)
	return args.Error(0)
}

func setupRouter(service *MockRunService) http.Handler {
	handler := NewHandler(service, zerolog.Nop())
	router := chi.NewRouter()
	router.Route("/api", handler.RegisterRoutes)
	return router
}

func serve(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandleStartRun(t *testing.T) {
	service := new(MockRunService)
	service.On("StartRun", mock.Anything, "Banking sector bullish").
		Return(&domain.Run{ID: "run-1", Status: domain.RunStatusRunning}, nil)

	resp := serve(setupRouter(service), http.MethodPost, "/api/runs", `{"market_view":"Banking sector bullish"}`)
	require.Equal(t, http.StatusAccepted, resp.Code)
	assert.Contains(t, resp.Body.String(), `"id":"run-1"`)
	service.AssertExpectations(t)
}

func TestHandleStartRun_Rejects(t *testing.T) {
	t.Run("empty view", func(t *testing.T) {
		service := new(MockRunService)
		resp := serve(setupRouter(service), http.MethodPost, "/api/runs", `{"market_view":"  "}`)
		assert.Equal(t, http.StatusBadRequest, resp.Code)
		service.AssertNotCalled(t, "StartRun", mock.Anything, mock.Anything)
	})

	t.Run("concurrent run", func(t *testing.T) {
		service := new(MockRunService)
		service.On("StartRun", mock.Anything, mock.Anything).
			Return(nil, &domain.ConcurrentRunError{ActiveRunID: "run-0"})
		resp := serve(setupRouter(service), http.MethodPost, "/api/runs", `{"market_view":"view"}`)
		assert.Equal(t, http.StatusConflict, resp.Code)
		assert.Contains(t, resp.Body.String(), "run-0")
	})

	t.Run("integrity", func(t *testing.T) {
		service := new(MockRunService)
		service.On("StartRun", mock.Anything, mock.Anything).
			Return(nil, &domain.DataIntegrityError{Violations: domain.ValidationErrors{{Field: "client C002", Message: "allocation sums to 105"}}})
		resp := serve(setupRouter(service), http.MethodPost, "/api/runs", `{"market_view":"view"}`)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
		assert.Contains(t, resp.Body.String(), "client C002")
	})
}

func TestHandleGetRun(t *testing.T) {
	service := new(MockRunService)
	state := &domain.RunState{
		Run:    domain.Run{ID: "run-1", Status: domain.RunStatusFailed},
		Stages: domain.Summarize(nil),
	}
	service.On("GetRunState", mock.Anything, "run-1").Return(state, nil)
	service.On("GetRunState", mock.Anything, "missing").Return(nil, domain.ErrRunNotFound)
	router := setupRouter(service)

	resp := serve(router, http.MethodGet, "/api/runs/run-1", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"stage":"parse"`)

	resp = serve(router, http.MethodGet, "/api/runs/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestHandleListRuns(t *testing.T) {
	service := new(MockRunService)
	service.On("ListRuns", mock.Anything, 5).Return([]domain.Run{{ID: "run-2"}, {ID: "run-1"}}, nil)

	resp := serve(setupRouter(service), http.MethodGet, "/api/runs?limit=5", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"count":2`)
	service.AssertExpectations(t)
}

func TestHandleResumeRun(t *testing.T) {
	service := new(MockRunService)
	service.On("ResumeRun", mock.Anything, "run-1").
		Return(nil, &domain.NotResumableError{RunID: "run-1", Reason: "status is succeeded"})

	resp := serve(setupRouter(service), http.MethodPost, "/api/runs/run-1/resume", "")
	assert.Equal(t, http.StatusConflict, resp.Code)
}

func TestHandleCancelRun(t *testing.T) {
	service := new(MockRunService)
	service.On("CancelRun", mock.Anything, "run-1").Return(nil)
	service.On("GetRunState", mock.Anything, "run-1").
		Return(&domain.RunState{Run: domain.Run{ID: "run-1", Status: domain.RunStatusCancelled}}, nil)

	resp := serve(setupRouter(service), http.MethodPost, "/api/runs/run-1/cancel", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"status":"cancelled"`)
}

func TestHandleDeleteRun(t *testing.T) {
	service := new(MockRunService)
	service.On("DeleteRun", mock.Anything, "run-1").Return(nil)
	service.On("DeleteRun", mock.Anything, "kept").Return(domain.ErrRunRetained)
	router := setupRouter(service)

	assert.Equal(t, http.StatusNoContent, serve(router, http.MethodDelete, "/api/runs/run-1", "").Code)
	assert.Equal(t, http.StatusConflict, serve(router, http.MethodDelete, "/api/runs/kept", "").Code)
}
