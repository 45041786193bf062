package server

import (
	"context"
	"net/http"
	"runtime"
	"sort"
	"time"

	"github.com/aristath/maestro/internal/database"
	"github.com/aristath/maestro/internal/utils"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Job is a manually triggerable background job
type Job interface {
	Run() error
	Name() string
}

// ActiveRunReporter reports the run currently executing
type ActiveRunReporter interface {
	ActiveRunID() string
}

// SystemHandlers serves process, host and database status
type SystemHandlers struct {
	databases  []*database.DB
	runs       ActiveRunReporter
	jobs       map[string]Job
	startedAt  time.Time
	log        zerolog.Logger
	cpuPercent func() (float64, error)
	memory     func() (*mem.VirtualMemoryStat, error)
}

// NewSystemHandlers creates the system handlers
func NewSystemHandlers(databases []*database.DB, runs ActiveRunReporter, jobs map[string]Job, log zerolog.Logger) *SystemHandlers {
	return &SystemHandlers{
		databases: databases,
		runs:      runs,
		jobs:      jobs,
		startedAt: time.Now(),
		log:       log.With().Str("handler", "system").Logger(),
		cpuPercent: func() (float64, error) {
			values, err := cpu.Percent(100*time.Millisecond, false)
			if err != nil || len(values) == 0 {
				return 0, err
			}
			return values[0], nil
		},
		memory: mem.VirtualMemory,
	}
}

// DatabaseStatus is the health and size of one database
type DatabaseStatus struct {
	Name         string `json:"name"`
	Healthy      bool   `json:"healthy"`
	Error        string `json:"error,omitempty"`
	SizeBytes    int64  `json:"size_bytes"`
	WALSizeBytes int64  `json:"wal_size_bytes"`
}

// SystemStatusResponse is returned by GET /api/system/status
type SystemStatusResponse struct {
	Status        string           `json:"status"`
	ActiveRunID   string           `json:"active_run_id,omitempty"`
	GoVersion     string           `json:"go_version"`
	Databases     []DatabaseStatus `json:"databases"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Goroutines    int              `json:"goroutines"`
	CPUPercent    float64          `json:"cpu_percent"`
	MemoryPercent float64          `json:"memory_percent"`
	MemoryUsedMB  uint64           `json:"memory_used_mb"`
	MemoryTotalMB uint64           `json:"memory_total_mb"`
}

// HandleSystemStatus handles GET /api/system/status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	response := SystemStatusResponse{
		Status:        "ok",
		GoVersion:     runtime.Version(),
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		Goroutines:    runtime.NumGoroutine(),
	}
	if h.runs != nil {
		response.ActiveRunID = h.runs.ActiveRunID()
	}

	if pct, err := h.cpuPercent(); err != nil {
		h.log.Warn().Err(err).Msg("Failed to read CPU usage")
	} else {
		response.CPUPercent = pct
	}

	if vm, err := h.memory(); err != nil {
		h.log.Warn().Err(err).Msg("Failed to read memory usage")
	} else {
		response.MemoryPercent = vm.UsedPercent
		response.MemoryUsedMB = vm.Used / 1024 / 1024
		response.MemoryTotalMB = vm.Total / 1024 / 1024
	}

	response.Databases = h.databaseStatuses(r.Context())
	for _, db := range response.Databases {
		if !db.Healthy {
			response.Status = "degraded"
		}
	}

	utils.WriteData(w, http.StatusOK, response, h.log)
}

// HandleDatabaseStats handles GET /api/system/database/stats
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	stats := make(map[string]*database.Stats, len(h.databases))
	for _, db := range h.databases {
		s, err := db.GetStats()
		if err != nil {
			utils.WriteError(w, err, h.log)
			return
		}
		stats[db.Name()] = s
	}
	utils.WriteData(w, http.StatusOK, stats, h.log)
}

// HandleListJobs handles GET /api/system/jobs
func (h *SystemHandlers) HandleListJobs(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(h.jobs))
	for name := range h.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	utils.WriteData(w, http.StatusOK, names, h.log)
}

// HandleRunJob handles POST /api/system/jobs/{name}/run. The job runs in the
// background and its outcome is logged.
func (h *SystemHandlers) HandleRunJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	job, ok := h.jobs[name]
	if !ok {
		utils.WriteJSON(w, http.StatusNotFound, map[string]string{"error": "unknown job " + name}, h.log)
		return
	}

	go func() {
		h.log.Info().Str("job", name).Msg("Running job on request")
		if err := job.Run(); err != nil {
			h.log.Error().Err(err).Str("job", name).Msg("Job failed")
		}
	}()

	utils.WriteData(w, http.StatusAccepted, map[string]string{"job": name, "status": "started"}, h.log)
}

func (h *SystemHandlers) databaseStatuses(ctx context.Context) []DatabaseStatus {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	statuses := make([]DatabaseStatus, 0, len(h.databases))
	for _, db := range h.databases {
		status := DatabaseStatus{Name: db.Name(), Healthy: true}
		if err := db.HealthCheck(ctx); err != nil {
			status.Healthy = false
			status.Error = err.Error()
		}
		if stats, err := db.GetStats(); err == nil {
			status.SizeBytes = stats.SizeBytes
			status.WALSizeBytes = stats.WALSizeBytes
		}
		statuses = append(statuses, status)
	}
	return statuses
}
