package snapshots

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/aristath/maestro/internal/domain"
)

var clientColumns = []string{"client_id", "name", "risk_profile"}

var holdingColumns = []string{"client_id", "instrument_code", "current_value", "allocation_pct"}

// table is a CSV body indexed by header name
type table struct {
	header map[string]int
	rows   [][]string
	lines  []int
}

func readTable(r io.Reader, source string, required []string) (*table, domain.ValidationErrors) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, domain.ValidationErrors{{Field: source, Message: "file is empty"}}
	}
	if err != nil {
		return nil, domain.ValidationErrors{{Field: source, Message: fmt.Sprintf("malformed CSV header: %v", err)}}
	}

	t := &table{header: make(map[string]int, len(header))}
	for i, col := range header {
		t.header[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(col, "\ufeff")))] = i
	}

	var violations domain.ValidationErrors
	for _, col := range required {
		if _, ok := t.header[col]; !ok {
			violations = append(violations, domain.ValidationError{Field: source, Message: fmt.Sprintf("missing required column %q", col)})
		}
	}
	if len(violations) > 0 {
		return nil, violations
	}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				violations = append(violations, domain.ValidationError{Field: fmt.Sprintf("%s line %d", source, perr.StartLine), Message: fmt.Sprintf("malformed CSV: %v", perr.Err)})
				continue
			}
			return nil, append(violations, domain.ValidationError{Field: source, Message: fmt.Sprintf("read failed: %v", err)})
		}
		line, _ := reader.FieldPos(0)
		if isBlank(record) {
			continue
		}
		t.rows = append(t.rows, record)
		t.lines = append(t.lines, line)
	}
	return t, violations
}

func isBlank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// rowReader extracts typed cells from one row and collects conversion problems
type rowReader struct {
	t          *table
	row        []string
	field      string
	violations *domain.ValidationErrors
}

func (rr rowReader) str(col string) string {
	idx, ok := rr.t.header[col]
	if !ok || idx >= len(rr.row) {
		return ""
	}
	return strings.TrimSpace(rr.row[idx])
}

func (rr rowReader) float(col string, optional bool) float64 {
	raw := strings.ReplaceAll(rr.str(col), ",", "")
	if raw == "" {
		if !optional {
			rr.add(fmt.Sprintf("%s is required", col))
		}
		return 0
	}
	v, err := strconv.ParseFloat(strings.TrimSuffix(raw, "%"), 64)
	if err != nil {
		rr.add(fmt.Sprintf("%s %q is not a number", col, raw))
		return 0
	}
	return v
}

func (rr rowReader) boolean(col string) bool {
	raw := strings.ToLower(rr.str(col))
	switch raw {
	case "", "0", "false", "no", "n":
		return false
	case "1", "true", "yes", "y":
		return true
	}
	rr.add(fmt.Sprintf("%s %q is not a boolean", col, raw))
	return false
}

func (rr rowReader) add(msg string) {
	*rr.violations = append(*rr.violations, domain.ValidationError{Field: rr.field, Message: msg})
}

func parseClients(t *table, source string) ([]domain.Client, domain.ValidationErrors) {
	var violations domain.ValidationErrors
	clients := make([]domain.Client, 0, len(t.rows))
	seen := make(map[string]int)

	for i, row := range t.rows {
		field := fmt.Sprintf("%s line %d", source, t.lines[i])
		rr := rowReader{t: t, row: row, field: field, violations: &violations}

		c := domain.Client{
			ID:                  rr.str("client_id"),
			Name:                rr.str("name"),
			RiskProfile:         domain.RiskProfile(strings.ToUpper(rr.str("risk_profile"))),
			StrategyType:        rr.str("strategy_type"),
			RelationshipManager: rr.str("relationship_manager"),
			TotalAUM:            rr.float("total_aum", true),
		}

		if c.ID == "" {
			rr.add("client_id is required")
			continue
		}
		if prev, dup := seen[c.ID]; dup {
			rr.add(fmt.Sprintf("duplicate client %s (first seen on line %d)", c.ID, prev))
			continue
		}
		seen[c.ID] = t.lines[i]

		switch c.RiskProfile {
		case domain.RiskConservative, domain.RiskModerate, domain.RiskAggressive:
		default:
			rr.add(fmt.Sprintf("client %s has unknown risk_profile %q", c.ID, c.RiskProfile))
		}
		if c.TotalAUM < 0 {
			rr.add(fmt.Sprintf("client %s has negative total_aum", c.ID))
		}
		clients = append(clients, c)
	}
	return clients, violations
}

func parseHoldings(t *table, source string) ([]domain.Holding, domain.ValidationErrors) {
	var violations domain.ValidationErrors
	holdings := make([]domain.Holding, 0, len(t.rows))

	for i, row := range t.rows {
		field := fmt.Sprintf("%s line %d", source, t.lines[i])
		rr := rowReader{t: t, row: row, field: field, violations: &violations}

		h := domain.Holding{
			ClientID:       rr.str("client_id"),
			InstrumentCode: strings.ToUpper(rr.str("instrument_code")),
			InstrumentName: rr.str("instrument_name"),
			InstrumentType: strings.ToUpper(rr.str("instrument_type")),
			SectorTag:      strings.ToUpper(rr.str("sector_tag")),
			CurrentValue:   rr.float("current_value", false),
			CostBasis:      rr.float("cost_basis", true),
			Units:          rr.float("units", true),
			AllocationPct:  rr.float("allocation_pct", false),
			SIPActive:      rr.boolean("sip_active"),
			SIPAmount:      rr.float("sip_amount", true),
		}
		if h.ClientID == "" {
			rr.add("client_id is required")
		}
		if h.InstrumentCode == "" {
			rr.add("instrument_code is required")
		}
		holdings = append(holdings, h)
	}
	return holdings, violations
}
