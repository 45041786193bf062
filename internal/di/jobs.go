package di

import (
	"fmt"

	"github.com/aristath/maestro/internal/clientdata"
	"github.com/aristath/maestro/internal/config"
	"github.com/aristath/maestro/internal/database"
	"github.com/aristath/maestro/internal/reliability"
	"github.com/aristath/maestro/internal/scheduler"
	"github.com/rs/zerolog"
)

const (
	archiveSchedule      = "0 15 3 * * *"
	cacheCleanupSchedule = "0 45 3 * * *"
	maintenanceSchedule  = "0 0 4 * * *"
	walCheckSchedule     = "0 */30 * * * *"
)

// CreateJobs builds every job from the container
func CreateJobs(container *Container, cfg *config.Config, log zerolog.Logger) *JobInstances {
	databases := []*database.DB{container.LedgerDB, container.CacheDB}

	jobs := &JobInstances{
		DailyRun:         scheduler.NewDailyRunJob(container.Orchestrator, cfg.MarketViewFile, log),
		ArchiveRuns:      scheduler.NewArchiveFailedRunsJob(container.LedgerRepo, cfg.FailedRunRetention, container.EventManager, log),
		CacheCleanup:     clientdata.NewCleanupJob(container.CacheRepo, log),
		DailyMaintenance: reliability.NewDailyMaintenanceJob(databases, cfg.DataDir, log),
		WALCheckpoints:   reliability.NewCheckWALCheckpointsJob(databases, log),
	}
	if container.BackupService != nil {
		jobs.Backup = reliability.NewBackupJob(container.BackupService, log)
	}
	return jobs
}

// RegisterJobs adds the jobs to the scheduler on their schedules. The daily
// run is only registered when scheduling is enabled.
func RegisterJobs(sched *scheduler.Scheduler, jobs *JobInstances, cfg *config.Config) error {
	entries := []struct {
		job      scheduler.Job
		schedule string
	}{
		{jobs.ArchiveRuns, archiveSchedule},
		{jobs.CacheCleanup, cacheCleanupSchedule},
		{jobs.DailyMaintenance, maintenanceSchedule},
		{jobs.WALCheckpoints, walCheckSchedule},
	}
	if cfg.ScheduleEnabled {
		entries = append(entries, struct {
			job      scheduler.Job
			schedule string
		}{jobs.DailyRun, cfg.Schedule})
	}
	if jobs.Backup != nil {
		entries = append(entries, struct {
			job      scheduler.Job
			schedule string
		}{jobs.Backup, cfg.Backup.Schedule})
	}

	for _, e := range entries {
		if err := sched.AddJob(e.schedule, e.job); err != nil {
			return fmt.Errorf("failed to register %s: %w", e.job.Name(), err)
		}
	}
	return nil
}
