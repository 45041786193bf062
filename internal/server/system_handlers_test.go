package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aristath/maestro/internal/database"
	testingpkg "github.com/aristath/maestro/internal/testing"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRuns struct{ id string }

func (s stubRuns) ActiveRunID() string { return s.id }

type recordingJob struct {
	name string
	ran  chan struct{}
}

func (j *recordingJob) Name() string { return j.name }

func (j *recordingJob) Run() error {
	close(j.ran)
	return nil
}

func newSystemHandlers(t *testing.T, jobs map[string]Job) *SystemHandlers {
	t.Helper()
	ledgerDB, cleanupLedger := testingpkg.NewTestDB(t, "ledger")
	t.Cleanup(cleanupLedger)
	cacheDB, cleanupCache := testingpkg.NewTestDB(t, "cache")
	t.Cleanup(cleanupCache)

	h := NewSystemHandlers([]*database.DB{ledgerDB, cacheDB}, stubRuns{id: "run-1"}, jobs, zerolog.Nop())
	h.cpuPercent = func() (float64, error) { return 12.5, nil }
	h.memory = func() (*mem.VirtualMemoryStat, error) {
		return &mem.VirtualMemoryStat{Total: 4096 * 1024 * 1024, Used: 1024 * 1024 * 1024, UsedPercent: 25}, nil
	}
	return h
}

func systemRouter(h *SystemHandlers) http.Handler {
	r := chi.NewRouter()
	r.Get("/api/system/status", h.HandleSystemStatus)
	r.Get("/api/system/database/stats", h.HandleDatabaseStats)
	r.Get("/api/system/jobs", h.HandleListJobs)
	r.Post("/api/system/jobs/{name}/run", h.HandleRunJob)
	return r
}

func TestHandleSystemStatus(t *testing.T) {
	h := newSystemHandlers(t, nil)

	rec := httptest.NewRecorder()
	systemRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/system/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data SystemStatusResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	status := body.Data
	assert.Equal(t, "ok", status.Status)
	assert.Equal(t, "run-1", status.ActiveRunID)
	assert.Equal(t, 12.5, status.CPUPercent)
	assert.Equal(t, 25.0, status.MemoryPercent)
	assert.Equal(t, uint64(1024), status.MemoryUsedMB)
	assert.Equal(t, uint64(4096), status.MemoryTotalMB)
	assert.Positive(t, status.Goroutines)
	require.Len(t, status.Databases, 2)
	assert.Equal(t, "ledger", status.Databases[0].Name)
	assert.True(t, status.Databases[0].Healthy)
	assert.Positive(t, status.Databases[0].SizeBytes)
}

func TestHandleSystemStatus_HostProbeFailures(t *testing.T) {
	h := newSystemHandlers(t, nil)
	h.cpuPercent = func() (float64, error) { return 0, errors.New("no cpu") }
	h.memory = func() (*mem.VirtualMemoryStat, error) { return nil, errors.New("no mem") }

	rec := httptest.NewRecorder()
	systemRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/system/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data SystemStatusResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Zero(t, body.Data.CPUPercent)
	assert.Zero(t, body.Data.MemoryTotalMB)
}

func TestHandleSystemStatus_DegradedWhenDatabaseClosed(t *testing.T) {
	h := newSystemHandlers(t, nil)
	require.NoError(t, h.databases[1].Close())

	rec := httptest.NewRecorder()
	systemRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/system/status", nil))

	var body struct {
		Data SystemStatusResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Data.Status)
	assert.False(t, body.Data.Databases[1].Healthy)
	assert.NotEmpty(t, body.Data.Databases[1].Error)
}

func TestHandleDatabaseStats(t *testing.T) {
	h := newSystemHandlers(t, nil)

	rec := httptest.NewRecorder()
	systemRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/system/database/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data map[string]database.Stats `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Contains(t, body.Data, "ledger")
	require.Contains(t, body.Data, "cache")
	assert.Positive(t, body.Data["ledger"].PageCount)
	assert.Positive(t, body.Data["ledger"].PageSize)
}

func TestHandleListJobs(t *testing.T) {
	h := newSystemHandlers(t, map[string]Job{
		"wal_checkpoints": &recordingJob{name: "wal_checkpoints"},
		"daily_run":       &recordingJob{name: "daily_run"},
	})

	rec := httptest.NewRecorder()
	systemRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/system/jobs", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data []string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []string{"daily_run", "wal_checkpoints"}, body.Data)
}

func TestHandleRunJob(t *testing.T) {
	job := &recordingJob{name: "daily_maintenance", ran: make(chan struct{})}
	h := newSystemHandlers(t, map[string]Job{"daily_maintenance": job})

	rec := httptest.NewRecorder()
	systemRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/system/jobs/daily_maintenance/run", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case <-job.ran:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run")
	}
}

func TestHandleRunJob_UnknownJob(t *testing.T) {
	h := newSystemHandlers(t, map[string]Job{})

	rec := httptest.NewRecorder()
	systemRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/system/jobs/nope/run", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown job nope")
}
