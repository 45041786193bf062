// Package approval is the human checkpoint of the pipeline: advisors page
// through the draft recommendations of a run, approve, reject or modify each
// one, and export the accepted ones for execution.
package approval

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/aristath/maestro/internal/database"
	"github.com/aristath/maestro/internal/domain"
	"github.com/aristath/maestro/internal/events"
	"github.com/aristath/maestro/internal/modules/ledger"
	"github.com/rs/zerolog"
)

const (
	module          = "approval"
	defaultPageSize = 100
)

// Service reviews and exports recommendations stored in the ledger
type Service struct {
	db       *database.DB
	events   *events.Manager
	log      zerolog.Logger
	now      func() time.Time
	pageSize int
}

// NewService creates an approval service over the ledger database. eventManager may be nil.
func NewService(db *database.DB, eventManager *events.Manager, log zerolog.Logger) *Service {
	return &Service{
		db:       db,
		events:   eventManager,
		log:      log.With().Str("service", "approval").Logger(),
		now:      time.Now,
		pageSize: defaultPageSize,
	}
}

// SetPageSize sets how many rows ListPending reads per query
func (s *Service) SetPageSize(n int) {
	if n > 0 {
		s.pageSize = n
	}
}

// cursor is the keyset position after the last row yielded
type cursor struct {
	clientID   string
	confidence float64
	id         string
}

// ListPending yields the drafts of a run ordered by client id, then by
// descending confidence. Rows are read lazily, one page at a time, so the
// sequence can be abandoned early and ranged over again from the start.
func (s *Service) ListPending(ctx context.Context, runID string) iter.Seq2[domain.Recommendation, error] {
	return func(yield func(domain.Recommendation, error) bool) {
		if err := s.requireRun(ctx, runID); err != nil {
			yield(domain.Recommendation{}, err)
			return
		}

		var after *cursor
		for {
			page, err := s.pendingPage(ctx, runID, after)
			if err != nil {
				yield(domain.Recommendation{}, err)
				return
			}
			for _, rec := range page {
				if !yield(rec, nil) {
					return
				}
			}
			if len(page) < s.pageSize {
				return
			}
			last := page[len(page)-1]
			after = &cursor{clientID: last.ClientID, confidence: last.Confidence, id: last.ID}
		}
	}
}

func (s *Service) pendingPage(ctx context.Context, runID string, after *cursor) ([]domain.Recommendation, error) {
	query := "SELECT " + ledger.RecommendationColumns + " FROM recommendations WHERE run_id = ? AND status = ?"
	args := []interface{}{runID, string(domain.RecommendationDraft)}
	if after != nil {
		query += ` AND (client_id > ?
			OR (client_id = ? AND confidence < ?)
			OR (client_id = ? AND confidence = ? AND id > ?))`
		args = append(args, after.clientID,
			after.clientID, after.confidence,
			after.clientID, after.confidence, after.id)
	}
	query += " ORDER BY client_id ASC, confidence DESC, id ASC LIMIT ?"
	args = append(args, s.pageSize)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending recommendations: %w", err)
	}
	defer rows.Close()
	return ledger.ScanRecommendations(rows)
}

// Get returns one recommendation
func (s *Service) Get(ctx context.Context, recID string) (*domain.Recommendation, error) {
	rec, err := ledger.ScanRecommendation(s.db.QueryRowContext(ctx,
		"SELECT "+ledger.RecommendationColumns+" FROM recommendations WHERE id = ?", recID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrRecommendationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recommendation %s: %w", recID, err)
	}
	return rec, nil
}

// Decide records an advisor's decision on a draft. It fails with
// *domain.AlreadyDecidedError when the recommendation left draft and with
// *domain.StaleRunError when a newer run superseded its run, in which case
// the recommendation is expired. Concurrent decisions on one recommendation
// yield exactly one success.
func (s *Service) Decide(ctx context.Context, recID string, d domain.Decision) (*domain.Recommendation, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	var (
		decided  *domain.Recommendation
		staleErr error
	)
	err := s.db.WriteTx(ctx, func(tx *sql.Tx) error {
		rec, err := ledger.ScanRecommendation(tx.QueryRowContext(ctx,
			"SELECT "+ledger.RecommendationColumns+" FROM recommendations WHERE id = ?", recID))
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrRecommendationNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load recommendation %s: %w", recID, err)
		}

		latest, err := latestRunIDTx(ctx, tx)
		if err != nil {
			return err
		}

		switch {
		case rec.Status == domain.RecommendationExpired:
			staleErr = &domain.StaleRunError{RecommendationID: recID, RunID: rec.RunID, SupersededBy: supersededBy(latest, rec.RunID)}
			return nil
		case rec.Status != domain.RecommendationDraft:
			return &domain.AlreadyDecidedError{RecommendationID: recID, Status: rec.Status}
		case latest != rec.RunID:
			if _, err := tx.ExecContext(ctx, "UPDATE recommendations SET status = ?, updated_at = ? WHERE id = ?",
				string(domain.RecommendationExpired), s.now().Unix(), recID); err != nil {
				return fmt.Errorf("failed to expire recommendation %s: %w", recID, err)
			}
			staleErr = &domain.StaleRunError{RecommendationID: recID, RunID: rec.RunID, SupersededBy: latest}
			return nil
		}

		now := s.now().Unix()
		var modifiedConfidence interface{}
		if d.Verdict == domain.VerdictModify && d.Confidence != nil {
			modifiedConfidence = *d.Confidence
		}
		var modifiedAction, modifiedRationale string
		if d.Verdict == domain.VerdictModify {
			modifiedAction = string(d.Action)
			modifiedRationale = d.Rationale
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE recommendations
			SET status = ?, decided_by = ?, decided_at = ?, decision_note = ?,
				modified_action = ?, modified_confidence = ?, modified_rationale = ?, updated_at = ?
			WHERE id = ? AND status = ?
		`, string(d.Status()), d.DecidedBy, now, d.Note,
			modifiedAction, modifiedConfidence, modifiedRationale, now,
			recID, string(domain.RecommendationDraft))
		if err != nil {
			return fmt.Errorf("failed to record decision on %s: %w", recID, err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return &domain.AlreadyDecidedError{RecommendationID: recID, Status: rec.Status}
		}

		decided, err = ledger.ScanRecommendation(tx.QueryRowContext(ctx,
			"SELECT "+ledger.RecommendationColumns+" FROM recommendations WHERE id = ?", recID))
		return err
	})
	if err != nil {
		return nil, err
	}
	if staleErr != nil {
		s.log.Info().Str("recommendation_id", recID).Err(staleErr).Msg("Decision refused on superseded run")
		return nil, staleErr
	}

	s.log.Info().
		Str("recommendation_id", recID).
		Str("run_id", decided.RunID).
		Str("status", string(decided.Status)).
		Str("decided_by", decided.DecidedBy).
		Msg("Recommendation decided")
	s.events.Emit(module, &events.RecommendationDecidedData{
		RecommendationID: recID,
		RunID:            decided.RunID,
		ClientID:         decided.ClientID,
		Status:           string(decided.Status),
		DecidedBy:        decided.DecidedBy,
	})
	return decided, nil
}

// ExportApproved returns the approved and modified recommendations of a run
// and marks them exported. Exported entries are not returned again.
func (s *Service) ExportApproved(ctx context.Context, runID string) ([]domain.Recommendation, error) {
	if err := s.requireRun(ctx, runID); err != nil {
		return nil, err
	}

	var exported []domain.Recommendation
	err := s.db.WriteTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, "SELECT "+ledger.RecommendationColumns+` FROM recommendations
			WHERE run_id = ? AND status IN (?, ?)
			ORDER BY client_id ASC, confidence DESC, id ASC`,
			runID, string(domain.RecommendationApproved), string(domain.RecommendationModified))
		if err != nil {
			return fmt.Errorf("failed to query approved recommendations: %w", err)
		}
		recs, err := ledger.ScanRecommendations(rows)
		rows.Close()
		if err != nil {
			return err
		}

		now := s.now()
		for i := range recs {
			if _, err := tx.ExecContext(ctx, `
				UPDATE recommendations SET status = ?, exported_at = ?, updated_at = ? WHERE id = ?
			`, string(domain.RecommendationExported), now.Unix(), now.Unix(), recs[i].ID); err != nil {
				return fmt.Errorf("failed to mark %s exported: %w", recs[i].ID, err)
			}
			at := time.Unix(now.Unix(), 0).UTC()
			recs[i].Status = domain.RecommendationExported
			recs[i].ExportedAt = &at
		}
		exported = recs
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("run_id", runID).Int("count", len(exported)).Msg("Recommendations exported")
	if len(exported) > 0 {
		s.events.Emit(module, &events.RecommendationsBatchData{
			Type:  events.RecommendationsExported,
			RunID: runID,
			Count: int64(len(exported)),
		})
	}
	return exported, nil
}

func (s *Service) requireRun(ctx context.Context, runID string) error {
	var id string
	err := s.db.QueryRowContext(ctx, "SELECT id FROM runs WHERE id = ?", runID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrRunNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	return nil
}

func latestRunIDTx(ctx context.Context, tx *sql.Tx) (string, error) {
	var id string
	err := tx.QueryRowContext(ctx, "SELECT id FROM runs ORDER BY seq DESC LIMIT 1").Scan(&id)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("failed to find latest run: %w", err)
	}
	return id, nil
}

func supersededBy(latest, runID string) string {
	if latest == runID {
		return ""
	}
	return latest
}
