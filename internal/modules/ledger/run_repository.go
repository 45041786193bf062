package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/maestro/internal/database"
	"github.com/aristath/maestro/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrRunNotRunning is returned by stage writes when the run left running
// (cancelled or failed) while the attempt was in flight
var ErrRunNotRunning = errors.New("run is not running")

// Repository reads and writes the run ledger
//
// Database: ledger.db (runs, stage_executions, directives, market_series,
// signal_scores, recommendations)
type Repository struct {
	db  *database.DB
	log zerolog.Logger
	now func() time.Time
}

// NewRepository creates a new ledger repository
func NewRepository(db *database.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "ledger").Logger(),
		now: time.Now,
	}
}

// SetClock replaces the time source (tests)
func (r *Repository) SetClock(now func() time.Time) {
	r.now = now
}

// DB returns the ledger database
func (r *Repository) DB() *database.DB {
	return r.db
}

// NewRun describes a run to create
type NewRun struct {
	MarketView string
	SnapshotID string
	Trigger    string
}

const runColumns = `id, seq, status, current_stage, market_view, snapshot_id, last_error,
	triggered_by, created_at, updated_at, finished_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*domain.Run, error) {
	var (
		run                  domain.Run
		status, stage        string
		createdAt, updatedAt int64
		finishedAt           sql.NullInt64
	)
	err := row.Scan(&run.ID, &run.Seq, &status, &stage, &run.MarketView, &run.SnapshotID,
		&run.LastError, &run.Trigger, &createdAt, &updatedAt, &finishedAt)
	if err != nil {
		return nil, err
	}
	run.Status = domain.RunStatus(status)
	run.CurrentStage = domain.Stage(stage)
	run.CreatedAt = time.Unix(createdAt, 0).UTC()
	run.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	if finishedAt.Valid {
		t := time.Unix(finishedAt.Int64, 0).UTC()
		run.FinishedAt = &t
	}
	return &run, nil
}

// CreateRun inserts a pending run and expires every draft recommendation of
// earlier runs in the same transaction. It returns the run and the number of
// drafts expired.
func (r *Repository) CreateRun(ctx context.Context, nr NewRun) (*domain.Run, int64, error) {
	if strings.TrimSpace(nr.MarketView) == "" {
		return nil, 0, fmt.Errorf("market view is empty")
	}
	if nr.Trigger == "" {
		nr.Trigger = "api"
	}

	now := r.now().Unix()
	run := &domain.Run{
		ID:         uuid.New().String(),
		Status:     domain.RunStatusPending,
		MarketView: nr.MarketView,
		SnapshotID: nr.SnapshotID,
		Trigger:    nr.Trigger,
		CreatedAt:  time.Unix(now, 0).UTC(),
		UpdatedAt:  time.Unix(now, 0).UTC(),
	}

	var expired int64
	err := r.db.WriteTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(seq), 0) + 1 FROM runs").Scan(&run.Seq); err != nil {
			return fmt.Errorf("failed to allocate run sequence: %w", err)
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO runs (id, seq, status, current_stage, market_view, snapshot_id,
				last_error, triggered_by, created_at, updated_at)
			VALUES (?, ?, ?, '', ?, ?, '', ?, ?, ?)
		`, run.ID, run.Seq, string(run.Status), run.MarketView, run.SnapshotID, run.Trigger, now, now)
		if err != nil {
			return fmt.Errorf("failed to insert run: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE recommendations SET status = ?, updated_at = ?
			WHERE status = ? AND run_id != ?
		`, string(domain.RecommendationExpired), now, string(domain.RecommendationDraft), run.ID)
		if err != nil {
			return fmt.Errorf("failed to expire prior drafts: %w", err)
		}
		expired, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	r.log.Info().
		Str("run_id", run.ID).
		Int64("seq", run.Seq).
		Int64("expired_drafts", expired).
		Msg("Run created")

	return run, expired, nil
}

// GetRun returns a run by id
func (r *Repository) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	run, err := scanRun(r.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	return run, nil
}

// LatestRun returns the most recently created run, or nil when the ledger is empty
func (r *Repository) LatestRun(ctx context.Context) (*domain.Run, error) {
	run, err := scanRun(r.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs ORDER BY seq DESC LIMIT 1"))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest first
func (r *Repository) ListRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, "SELECT "+runColumns+" FROM runs ORDER BY seq DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// TransitionRun moves a run to status `to`, validating the transition.
// lastError replaces the stored error when non-empty; moving to running clears it.
func (r *Repository) TransitionRun(ctx context.Context, id string, to domain.RunStatus, lastError string) (*domain.Run, error) {
	var updated *domain.Run
	err := r.db.WriteTx(ctx, func(tx *sql.Tx) error {
		run, err := transitionRunTx(ctx, tx, id, to, lastError, r.now().Unix())
		updated = run
		return err
	})
	if err != nil {
		return nil, err
	}

	r.log.Info().
		Str("run_id", id).
		Str("status", string(to)).
		Str("last_error", lastError).
		Msg("Run transitioned")
	return updated, nil
}

func transitionRunTx(ctx context.Context, tx *sql.Tx, id string, to domain.RunStatus, lastError string, now int64) (*domain.Run, error) {
	run, err := scanRun(tx.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", id, err)
	}
	if !run.Status.CanTransitionTo(to) {
		return nil, &domain.InvalidTransitionError{RunID: id, From: run.Status, To: to}
	}

	switch {
	case to == domain.RunStatusRunning:
		run.LastError = ""
		run.FinishedAt = nil
	case lastError != "":
		run.LastError = lastError
	}
	var finished interface{}
	if to != domain.RunStatusRunning && to != domain.RunStatusPending {
		finished = now
		t := time.Unix(now, 0).UTC()
		run.FinishedAt = &t
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE runs SET status = ?, last_error = ?, updated_at = ?, finished_at = ?
		WHERE id = ?
	`, string(to), run.LastError, now, finished, id)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, &domain.ConcurrentRunError{ActiveRunID: activeRunIDTx(ctx, tx)}
		}
		return nil, fmt.Errorf("failed to update run %s: %w", id, err)
	}

	run.Status = to
	run.UpdatedAt = time.Unix(now, 0).UTC()
	return run, nil
}

func activeRunIDTx(ctx context.Context, tx *sql.Tx) string {
	var id string
	_ = tx.QueryRowContext(ctx, "SELECT id FROM runs WHERE status = ?", string(domain.RunStatusRunning)).Scan(&id)
	return id
}

// ActiveRun returns the running run, or nil
func (r *Repository) ActiveRun(ctx context.Context) (*domain.Run, error) {
	run, err := scanRun(r.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE status = ?", string(domain.RunStatusRunning)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active run: %w", err)
	}
	return run, nil
}

// RecoverInterrupted fails runs left running by a previous process together
// with their in-flight attempts. The runs become resumable.
func (r *Repository) RecoverInterrupted(ctx context.Context) (int64, error) {
	now := r.now().Unix()
	var recovered int64
	err := r.db.WriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE stage_executions
			SET status = ?, error_kind = ?, error_detail = 'interrupted by process restart', ended_at = ?
			WHERE status = ?
		`, string(domain.ExecutionFailed), string(domain.StageErrorTransient), now, string(domain.ExecutionRunning))
		if err != nil {
			return fmt.Errorf("failed to fail interrupted executions: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE runs SET status = ?, last_error = 'interrupted by process restart', updated_at = ?, finished_at = ?
			WHERE status IN (?, ?)
		`, string(domain.RunStatusFailed), now, now, string(domain.RunStatusRunning), string(domain.RunStatusPending))
		if err != nil {
			return fmt.Errorf("failed to fail interrupted runs: %w", err)
		}
		recovered, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	if recovered > 0 {
		r.log.Warn().Int64("runs", recovered).Msg("Recovered runs interrupted by restart")
	}
	return recovered, nil
}

// ArchiveFailedBefore archives failed runs that finished before cutoff
func (r *Repository) ArchiveFailedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var archived int64
	err := r.db.WriteTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE runs SET status = ?, updated_at = ?
			WHERE status = ? AND COALESCE(finished_at, updated_at) < ?
		`, string(domain.RunStatusArchived), r.now().Unix(), string(domain.RunStatusFailed), cutoff.Unix())
		if err != nil {
			return fmt.Errorf("failed to archive runs: %w", err)
		}
		archived, _ = res.RowsAffected()
		return nil
	})
	return archived, err
}

// DeleteRun removes a run and everything it owns. Runs with accepted or
// exported recommendations are retained for audit, running runs cannot be deleted.
func (r *Repository) DeleteRun(ctx context.Context, id string) error {
	return r.db.WriteTx(ctx, func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx, "SELECT status FROM runs WHERE id = ?", id).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrRunNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load run %s: %w", id, err)
		}
		if domain.RunStatus(status) == domain.RunStatusRunning {
			return &domain.ConcurrentRunError{ActiveRunID: id}
		}

		var retained int
		err = tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM recommendations
			WHERE run_id = ? AND status IN (?, ?, ?)
		`, id, string(domain.RecommendationApproved), string(domain.RecommendationModified), string(domain.RecommendationExported)).Scan(&retained)
		if err != nil {
			return fmt.Errorf("failed to check retained recommendations: %w", err)
		}
		if retained > 0 {
			return domain.ErrRunRetained
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", id); err != nil {
			return fmt.Errorf("failed to delete run %s: %w", id, err)
		}
		return nil
	})
}
