package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/aristath/maestro/internal/domain"
	"github.com/google/uuid"
)

// CompleteParse stores the directives of a successful Parse attempt
func (r *Repository) CompleteParse(ctx context.Context, execID int64, directives []domain.Directive) (string, error) {
	ref, err := Ref("directives", directives)
	if err != nil {
		return "", err
	}
	return ref, r.completeStage(ctx, execID, ref, func(tx *sql.Tx, runID string) error {
		for i, d := range directives {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO directives (run_id, id, position, scope_type, scope, stance, action,
					confidence, magnitude, timeframe, applies_to, rationale)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, runID, d.ID, i, string(d.ScopeType), d.Scope, string(d.Stance), d.Action,
				d.Confidence, d.Magnitude, d.Timeframe, d.AppliesTo, d.Rationale)
			if err != nil {
				return fmt.Errorf("failed to insert directive %s: %w", d.ID, err)
			}
		}
		return nil
	})
}

// CompleteFetch stores the market series of a successful Fetch attempt
func (r *Repository) CompleteFetch(ctx context.Context, execID int64, series map[string]domain.MarketSeries) (string, error) {
	ref, err := Ref("series", series)
	if err != nil {
		return "", err
	}
	return ref, r.completeStage(ctx, execID, ref, func(tx *sql.Tx, runID string) error {
		for _, code := range sortedKeys(series) {
			s := series[code]
			bars, err := encodeBlob(s.Bars)
			if err != nil {
				return fmt.Errorf("failed to encode bars for %s: %w", code, err)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO market_series (run_id, code, kind, available, reason, source, bars)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, runID, code, string(s.Kind), s.Available, s.Reason, s.Source, bars)
			if err != nil {
				return fmt.Errorf("failed to insert series %s: %w", code, err)
			}
		}
		return nil
	})
}

// CompleteScore stores the signal scores of a successful Score attempt
func (r *Repository) CompleteScore(ctx context.Context, execID int64, scores map[string]domain.SignalScore) (string, error) {
	ref, err := Ref("scores", scores)
	if err != nil {
		return "", err
	}
	return ref, r.completeStage(ctx, execID, ref, func(tx *sql.Tx, runID string) error {
		for _, code := range sortedKeys(scores) {
			s := scores[code]
			indicators, err := encodeBlob(s.Indicators)
			if err != nil {
				return fmt.Errorf("failed to encode indicators for %s: %w", code, err)
			}
			var sector []byte
			if s.Sector != nil {
				if sector, err = encodeBlob(s.Sector); err != nil {
					return fmt.Errorf("failed to encode sector strength for %s: %w", code, err)
				}
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO signal_scores (run_id, code, composite, signal, sufficient, indicators, sector)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, runID, code, s.Composite, string(s.Signal), s.Sufficient, indicators, sector)
			if err != nil {
				return fmt.Errorf("failed to insert score %s: %w", code, err)
			}
		}
		return nil
	})
}

// CompleteSynthesize stores the draft recommendations of a successful
// Synthesize attempt. Ids are assigned here when missing.
func (r *Repository) CompleteSynthesize(ctx context.Context, execID int64, recs []domain.Recommendation) (string, error) {
	ref, err := Ref("recommendations", recs)
	if err != nil {
		return "", err
	}
	now := r.now().Unix()
	return ref, r.completeStage(ctx, execID, ref, func(tx *sql.Tx, runID string) error {
		for _, rec := range recs {
			if rec.ID == "" {
				rec.ID = uuid.New().String()
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO recommendations (id, run_id, client_id, instrument_code, instrument_name,
					action, confidence, rationale, directive_id, technical_score, signal, status,
					created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, rec.ID, runID, rec.ClientID, rec.InstrumentCode, rec.InstrumentName,
				string(rec.Action), rec.Confidence, rec.Rationale, rec.DirectiveID,
				nullFloat(rec.TechnicalScore), string(rec.Signal), string(domain.RecommendationDraft), now, now)
			if err != nil {
				return fmt.Errorf("failed to insert recommendation for %s/%s: %w", rec.ClientID, rec.InstrumentCode, err)
			}
		}
		return nil
	})
}

// Directives returns the settled directives of a run in extraction order
func (r *Repository) Directives(ctx context.Context, runID string) ([]domain.Directive, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, scope_type, scope, stance, action, confidence, magnitude, timeframe, applies_to, rationale
		FROM directives WHERE run_id = ? ORDER BY position
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query directives: %w", err)
	}
	defer rows.Close()

	out := []domain.Directive{}
	for rows.Next() {
		var d domain.Directive
		var scopeType, stance string
		if err := rows.Scan(&d.ID, &scopeType, &d.Scope, &stance, &d.Action, &d.Confidence,
			&d.Magnitude, &d.Timeframe, &d.AppliesTo, &d.Rationale); err != nil {
			return nil, fmt.Errorf("failed to scan directive: %w", err)
		}
		d.ScopeType = domain.ScopeType(scopeType)
		d.Stance = domain.Stance(stance)
		out = append(out, d)
	}
	return out, rows.Err()
}

// MarketSeries returns the settled market data of a run keyed by code
func (r *Repository) MarketSeries(ctx context.Context, runID string) (map[string]domain.MarketSeries, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT code, kind, available, reason, source, bars FROM market_series WHERE run_id = ?
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query market series: %w", err)
	}
	defer rows.Close()

	out := make(map[string]domain.MarketSeries)
	for rows.Next() {
		var s domain.MarketSeries
		var kind string
		var bars []byte
		if err := rows.Scan(&s.Code, &kind, &s.Available, &s.Reason, &s.Source, &bars); err != nil {
			return nil, fmt.Errorf("failed to scan market series: %w", err)
		}
		s.Kind = domain.SeriesKind(kind)
		if err := decodeBlob(bars, &s.Bars); err != nil {
			return nil, fmt.Errorf("failed to decode bars for %s: %w", s.Code, err)
		}
		out[s.Code] = s
	}
	return out, rows.Err()
}

// SignalScores returns the settled scores of a run keyed by code
func (r *Repository) SignalScores(ctx context.Context, runID string) (map[string]domain.SignalScore, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT code, composite, signal, sufficient, indicators, sector FROM signal_scores WHERE run_id = ?
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query signal scores: %w", err)
	}
	defer rows.Close()

	out := make(map[string]domain.SignalScore)
	for rows.Next() {
		var s domain.SignalScore
		var signal string
		var indicators, sector []byte
		if err := rows.Scan(&s.Code, &s.Composite, &signal, &s.Sufficient, &indicators, &sector); err != nil {
			return nil, fmt.Errorf("failed to scan signal score: %w", err)
		}
		s.Signal = domain.SignalLabel(signal)
		s.Indicators = map[string]float64{}
		if err := decodeBlob(indicators, &s.Indicators); err != nil {
			return nil, fmt.Errorf("failed to decode indicators for %s: %w", s.Code, err)
		}
		if len(sector) > 0 {
			s.Sector = &domain.SectorStrength{}
			if err := decodeBlob(sector, s.Sector); err != nil {
				return nil, fmt.Errorf("failed to decode sector strength for %s: %w", s.Code, err)
			}
		}
		out[s.Code] = s
	}
	return out, rows.Err()
}

// Recommendations returns every recommendation of a run ordered for review
func (r *Repository) Recommendations(ctx context.Context, runID string) ([]domain.Recommendation, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+RecommendationColumns+` FROM recommendations
		WHERE run_id = ? ORDER BY client_id, confidence DESC, id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query recommendations: %w", err)
	}
	defer rows.Close()
	return ScanRecommendations(rows)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func nullFloat(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
