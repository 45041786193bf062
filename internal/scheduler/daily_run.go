package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/aristath/maestro/internal/domain"
	"github.com/rs/zerolog"
)

// RunStarter starts pipeline runs
type RunStarter interface {
	StartRunAs(ctx context.Context, marketView, trigger string) (*domain.Run, error)
}

// DailyRunJob starts the daily run from the market view file the fund
// manager drops in the data directory
type DailyRunJob struct {
	starter  RunStarter
	log      zerolog.Logger
	viewFile string
}

// NewDailyRunJob creates a new DailyRunJob
func NewDailyRunJob(starter RunStarter, viewFile string, log zerolog.Logger) *DailyRunJob {
	return &DailyRunJob{
		starter:  starter,
		log:      log.With().Str("job", "daily_run").Logger(),
		viewFile: viewFile,
	}
}

// Name returns the job name
func (j *DailyRunJob) Name() string {
	return "daily_run"
}

// Run reads the market view and starts a run. A missing or empty view and a
// run already in progress are skipped, not failures.
func (j *DailyRunJob) Run() error {
	data, err := os.ReadFile(j.viewFile)
	if errors.Is(err, os.ErrNotExist) {
		j.log.Warn().Str("file", j.viewFile).Msg("No market view file, skipping daily run")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read market view: %w", err)
	}

	view := strings.TrimSpace(string(data))
	if view == "" {
		j.log.Warn().Str("file", j.viewFile).Msg("Market view file is empty, skipping daily run")
		return nil
	}

	run, err := j.starter.StartRunAs(context.Background(), view, "schedule")
	var concurrent *domain.ConcurrentRunError
	if errors.As(err, &concurrent) {
		j.log.Warn().Str("active_run_id", concurrent.ActiveRunID).Msg("Run already in progress, skipping daily run")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to start daily run: %w", err)
	}

	j.log.Info().Str("run_id", run.ID).Msg("Daily run started")
	return nil
}
