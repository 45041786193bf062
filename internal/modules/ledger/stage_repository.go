package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/maestro/internal/domain"
)

const executionColumns = `id, run_id, stage, attempt, status, input_ref, output_ref,
	error_kind, error_detail, started_at, ended_at`

func scanExecution(row rowScanner) (*domain.StageExecution, error) {
	var (
		ex                      domain.StageExecution
		stage, status           string
		outputRef, kind, detail sql.NullString
		startedAt               int64
		endedAt                 sql.NullInt64
	)
	err := row.Scan(&ex.ID, &ex.RunID, &stage, &ex.Attempt, &status, &ex.InputRef,
		&outputRef, &kind, &detail, &startedAt, &endedAt)
	if err != nil {
		return nil, err
	}
	ex.Stage = domain.Stage(stage)
	ex.Status = domain.ExecutionStatus(status)
	ex.StartedAt = time.Unix(startedAt, 0).UTC()
	if outputRef.Valid {
		ex.OutputRef = &outputRef.String
	}
	if kind.Valid {
		k := domain.StageErrorKind(kind.String)
		ex.ErrorKind = &k
	}
	if detail.Valid {
		ex.ErrorDetail = &detail.String
	}
	if endedAt.Valid {
		t := time.Unix(endedAt.Int64, 0).UTC()
		ex.EndedAt = &t
	}
	return &ex, nil
}

// BeginStage records a new running attempt of stage for a running run.
// Attempt numbers continue from the highest recorded attempt for (run, stage).
func (r *Repository) BeginStage(ctx context.Context, runID string, stage domain.Stage, inputRef string) (*domain.StageExecution, error) {
	now := r.now().Unix()
	ex := &domain.StageExecution{
		RunID:     runID,
		Stage:     stage,
		Status:    domain.ExecutionRunning,
		InputRef:  inputRef,
		StartedAt: time.Unix(now, 0).UTC(),
	}

	err := r.db.WriteTx(ctx, func(tx *sql.Tx) error {
		if err := requireRunning(ctx, tx, runID); err != nil {
			return err
		}

		var settled int
		err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM stage_executions WHERE run_id = ? AND stage = ? AND status = ?
		`, runID, string(stage), string(domain.ExecutionSucceeded)).Scan(&settled)
		if err != nil {
			return fmt.Errorf("failed to check settled stage: %w", err)
		}
		if settled > 0 {
			return fmt.Errorf("stage %s of run %s already succeeded", stage, runID)
		}

		if err := tx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(attempt), 0) + 1 FROM stage_executions WHERE run_id = ? AND stage = ?
		`, runID, string(stage)).Scan(&ex.Attempt); err != nil {
			return fmt.Errorf("failed to allocate attempt: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO stage_executions (run_id, stage, attempt, status, input_ref, started_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, runID, string(stage), ex.Attempt, string(ex.Status), inputRef, now)
		if err != nil {
			return fmt.Errorf("failed to insert stage execution: %w", err)
		}
		ex.ID, _ = res.LastInsertId()

		_, err = tx.ExecContext(ctx, "UPDATE runs SET current_stage = ?, updated_at = ? WHERE id = ?", string(stage), now, runID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ex, nil
}

func requireRunning(ctx context.Context, tx *sql.Tx, runID string) error {
	var status string
	err := tx.QueryRowContext(ctx, "SELECT status FROM runs WHERE id = ?", runID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrRunNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	if domain.RunStatus(status) != domain.RunStatusRunning {
		return fmt.Errorf("%w: run %s is %s", ErrRunNotRunning, runID, status)
	}
	return nil
}

// completeStage marks a running execution succeeded and writes its output in
// the same transaction. If the run is no longer running the execution is
// abandoned instead, nothing is written and ErrRunNotRunning is returned.
func (r *Repository) completeStage(ctx context.Context, execID int64, outputRef string, write func(tx *sql.Tx, runID string) error) error {
	now := r.now().Unix()
	var notRunning error

	err := r.db.WriteTx(ctx, func(tx *sql.Tx) error {
		ex, err := scanExecution(tx.QueryRowContext(ctx, "SELECT "+executionColumns+" FROM stage_executions WHERE id = ?", execID))
		if err != nil {
			return fmt.Errorf("failed to load stage execution %d: %w", execID, err)
		}
		if ex.Status != domain.ExecutionRunning {
			return fmt.Errorf("stage execution %d is %s, not running", execID, ex.Status)
		}

		if err := requireRunning(ctx, tx, ex.RunID); err != nil {
			if !errors.Is(err, ErrRunNotRunning) {
				return err
			}
			notRunning = err
			return finishExecution(ctx, tx, execID, domain.ExecutionAbandoned, nil, "run left running before the stage output was recorded", now)
		}

		if err := write(tx, ex.RunID); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE stage_executions SET status = ?, output_ref = ?, ended_at = ? WHERE id = ?
		`, string(domain.ExecutionSucceeded), outputRef, now, execID)
		if err != nil {
			return fmt.Errorf("failed to mark stage execution succeeded: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return notRunning
}

func finishExecution(ctx context.Context, tx *sql.Tx, execID int64, status domain.ExecutionStatus, kind *domain.StageErrorKind, detail string, now int64) error {
	var kindVal interface{}
	if kind != nil {
		kindVal = string(*kind)
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE stage_executions SET status = ?, error_kind = ?, error_detail = ?, ended_at = ?
		WHERE id = ? AND status = ?
	`, string(status), kindVal, detail, now, execID, string(domain.ExecutionRunning))
	if err != nil {
		return fmt.Errorf("failed to finish stage execution %d: %w", execID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("stage execution %d is not running", execID)
	}
	return nil
}

// FailStage records a failed attempt with its classified error
func (r *Repository) FailStage(ctx context.Context, execID int64, kind domain.StageErrorKind, detail string) error {
	return r.db.WriteTx(ctx, func(tx *sql.Tx) error {
		return finishExecution(ctx, tx, execID, domain.ExecutionFailed, &kind, detail, r.now().Unix())
	})
}

// AbandonStage records that an attempt's result was discarded
func (r *Repository) AbandonStage(ctx context.Context, execID int64, reason string) error {
	return r.db.WriteTx(ctx, func(tx *sql.Tx) error {
		return finishExecution(ctx, tx, execID, domain.ExecutionAbandoned, nil, reason, r.now().Unix())
	})
}

// ListExecutions returns every attempt of a run in stage then attempt order
func (r *Repository) ListExecutions(ctx context.Context, runID string) ([]domain.StageExecution, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+executionColumns+" FROM stage_executions WHERE run_id = ? ORDER BY id", runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list stage executions: %w", err)
	}
	defer rows.Close()

	var out []domain.StageExecution
	for rows.Next() {
		ex, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stage execution: %w", err)
		}
		out = append(out, *ex)
	}
	return out, rows.Err()
}

// GetRunState returns the run with its attempts and per-stage summary
func (r *Repository) GetRunState(ctx context.Context, runID string) (*domain.RunState, error) {
	run, err := r.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	executions, err := r.ListExecutions(ctx, runID)
	if err != nil {
		return nil, err
	}
	return &domain.RunState{
		Run:        *run,
		Executions: executions,
		Stages:     domain.Summarize(executions),
	}, nil
}
