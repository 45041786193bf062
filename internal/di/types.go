/**
 * Package di provides dependency injection type definitions.
 *
 * This package defines the Container type which holds all application dependencies.
 * The Container is the single source of truth for all service instances and is
 * passed to the server and the CLI commands for access to services.
 */
package di

import (
	"github.com/aristath/maestro/internal/clientdata"
	"github.com/aristath/maestro/internal/clients/llm"
	"github.com/aristath/maestro/internal/clients/mfapi"
	"github.com/aristath/maestro/internal/clients/yahoo"
	"github.com/aristath/maestro/internal/database"
	"github.com/aristath/maestro/internal/events"
	"github.com/aristath/maestro/internal/modules/approval"
	"github.com/aristath/maestro/internal/modules/ledger"
	"github.com/aristath/maestro/internal/modules/maestro"
	"github.com/aristath/maestro/internal/modules/snapshots"
	"github.com/aristath/maestro/internal/reliability"
	"github.com/aristath/maestro/internal/scheduler"
)

// Container holds all application dependencies
type Container struct {
	// Databases
	LedgerDB *database.DB // runs, stage executions, artifacts, recommendations, snapshots
	CacheDB  *database.DB // provider responses with TTL

	// Repositories
	LedgerRepo    *ledger.Repository
	SnapshotStore *snapshots.Store
	CacheRepo     *clientdata.Repository

	// Clients
	YahooClient *yahoo.Client
	MFAPIClient *mfapi.Client
	LLMProvider llm.Provider

	// Events
	EventBus     *events.Bus
	EventManager *events.Manager

	// Services
	Pipeline      maestro.Pipeline
	Orchestrator  *maestro.Orchestrator
	ReviewService *approval.Service
	BackupService *reliability.BackupService // nil when backups are disabled
}

// JobInstances holds every job the scheduler can run
type JobInstances struct {
	DailyRun         *scheduler.DailyRunJob
	ArchiveRuns      *scheduler.ArchiveFailedRunsJob
	CacheCleanup     *clientdata.CleanupJob
	DailyMaintenance *reliability.DailyMaintenanceJob
	WALCheckpoints   *reliability.CheckWALCheckpointsJob
	Backup           *reliability.BackupJob // nil when backups are disabled
}

// All returns the jobs keyed by name, skipping disabled ones
func (j *JobInstances) All() map[string]scheduler.Job {
	all := make(map[string]scheduler.Job)
	add := func(job scheduler.Job) {
		all[job.Name()] = job
	}
	add(j.DailyRun)
	add(j.ArchiveRuns)
	add(j.CacheCleanup)
	add(j.DailyMaintenance)
	add(j.WALCheckpoints)
	if j.Backup != nil {
		add(j.Backup)
	}
	return all
}

// Close closes every database held by the container
func (c *Container) Close() {
	if c.LedgerDB != nil {
		c.LedgerDB.Close()
	}
	if c.CacheDB != nil {
		c.CacheDB.Close()
	}
}
