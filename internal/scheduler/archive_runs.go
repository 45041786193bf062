package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/maestro/internal/events"
	"github.com/rs/zerolog"
)

// RunArchiver archives failed runs
type RunArchiver interface {
	ArchiveFailedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ArchiveFailedRunsJob archives failed runs older than the retention window,
// after which they can no longer be resumed
type ArchiveFailedRunsJob struct {
	archiver  RunArchiver
	events    *events.Manager
	log       zerolog.Logger
	now       func() time.Time
	retention time.Duration
}

// NewArchiveFailedRunsJob creates a new ArchiveFailedRunsJob
func NewArchiveFailedRunsJob(archiver RunArchiver, retention time.Duration, eventManager *events.Manager, log zerolog.Logger) *ArchiveFailedRunsJob {
	return &ArchiveFailedRunsJob{
		archiver:  archiver,
		events:    eventManager,
		log:       log.With().Str("job", "archive_failed_runs").Logger(),
		now:       time.Now,
		retention: retention,
	}
}

// Name returns the job name
func (j *ArchiveFailedRunsJob) Name() string {
	return "archive_failed_runs"
}

// Run executes the archive
func (j *ArchiveFailedRunsJob) Run() error {
	if j.retention <= 0 {
		return nil
	}

	cutoff := j.now().Add(-j.retention)
	archived, err := j.archiver.ArchiveFailedBefore(context.Background(), cutoff)
	if err != nil {
		return fmt.Errorf("failed to archive runs: %w", err)
	}

	if archived > 0 {
		j.log.Info().Int64("archived", archived).Time("cutoff", cutoff).Msg("Archived failed runs")
		j.events.Emit("scheduler", &events.RunsArchivedData{Count: archived})
	}
	return nil
}
