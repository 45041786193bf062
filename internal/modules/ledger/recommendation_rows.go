package ledger

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/maestro/internal/domain"
)

// RecommendationColumns is the select list understood by ScanRecommendation
const RecommendationColumns = `id, run_id, client_id, instrument_code, instrument_name, action,
	confidence, rationale, directive_id, technical_score, signal, status, decided_by, decided_at,
	decision_note, modified_action, modified_confidence, modified_rationale, exported_at,
	created_at, updated_at`

// ScanRecommendation scans one row selected with RecommendationColumns
func ScanRecommendation(row interface{ Scan(...interface{}) error }) (*domain.Recommendation, error) {
	var (
		rec                                    domain.Recommendation
		action, signal, status, modifiedAction string
		technical, modifiedConfidence          sql.NullFloat64
		decidedAt, exportedAt                  sql.NullInt64
		createdAt, updatedAt                   int64
	)
	err := row.Scan(&rec.ID, &rec.RunID, &rec.ClientID, &rec.InstrumentCode, &rec.InstrumentName,
		&action, &rec.Confidence, &rec.Rationale, &rec.DirectiveID, &technical, &signal, &status,
		&rec.DecidedBy, &decidedAt, &rec.DecisionNote, &modifiedAction, &modifiedConfidence,
		&rec.ModifiedRationale, &exportedAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	rec.Action = domain.Action(action)
	rec.Signal = domain.SignalLabel(signal)
	rec.Status = domain.RecommendationStatus(status)
	rec.ModifiedAction = domain.Action(modifiedAction)
	rec.CreatedAt = time.Unix(createdAt, 0).UTC()
	rec.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	if technical.Valid {
		rec.TechnicalScore = &technical.Float64
	}
	if modifiedConfidence.Valid {
		rec.ModifiedConfidence = &modifiedConfidence.Float64
	}
	if decidedAt.Valid {
		t := time.Unix(decidedAt.Int64, 0).UTC()
		rec.DecidedAt = &t
	}
	if exportedAt.Valid {
		t := time.Unix(exportedAt.Int64, 0).UTC()
		rec.ExportedAt = &t
	}
	return &rec, nil
}

// ScanRecommendations drains rows selected with RecommendationColumns
func ScanRecommendations(rows *sql.Rows) ([]domain.Recommendation, error) {
	out := []domain.Recommendation{}
	for rows.Next() {
		rec, err := ScanRecommendation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recommendation: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}
