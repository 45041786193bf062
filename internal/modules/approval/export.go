package approval

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/aristath/maestro/internal/domain"
)

var exportHeader = []string{
	"recommendation_id", "run_id", "client_id", "instrument_code", "instrument_name",
	"action", "confidence", "rationale", "directive_id", "status", "decided_by", "exported_at",
}

// WriteCSV writes exported recommendations with the advisor's edits applied
func WriteCSV(w io.Writer, recs []domain.Recommendation) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return err
	}
	for i := range recs {
		rec := &recs[i]
		rationale := rec.Rationale
		if rec.ModifiedRationale != "" {
			rationale = rec.ModifiedRationale
		}
		exportedAt := ""
		if rec.ExportedAt != nil {
			exportedAt = rec.ExportedAt.Format(time.RFC3339)
		}
		if err := cw.Write([]string{
			rec.ID,
			rec.RunID,
			rec.ClientID,
			rec.InstrumentCode,
			rec.InstrumentName,
			string(rec.EffectiveAction()),
			strconv.FormatFloat(rec.EffectiveConfidence(), 'f', 1, 64),
			rationale,
			rec.DirectiveID,
			string(rec.Status),
			rec.DecidedBy,
			exportedAt,
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
