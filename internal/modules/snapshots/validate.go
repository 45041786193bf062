package snapshots

import (
	"fmt"
	"sort"

	"github.com/aristath/maestro/internal/domain"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Validate checks referential integrity and value constraints across the
// client and holdings records and returns every violation found. Clients
// with no holdings are not subject to the allocation check.
func Validate(clients []domain.Client, holdings []domain.Holding, tolerancePct float64) domain.ValidationErrors {
	var violations domain.ValidationErrors

	known := make(map[string]bool, len(clients))
	for _, c := range clients {
		known[c.ID] = true
	}

	sums := make(map[string]decimal.Decimal)
	for i, h := range holdings {
		field := fmt.Sprintf("holding %d (%s %s)", i+1, h.ClientID, h.InstrumentCode)
		if h.ClientID != "" && !known[h.ClientID] {
			violations = append(violations, domain.ValidationError{Field: field, Message: fmt.Sprintf("references unknown client %s", h.ClientID)})
		}
		if h.CurrentValue < 0 {
			violations = append(violations, domain.ValidationError{Field: field, Message: fmt.Sprintf("current_value %.2f is negative", h.CurrentValue)})
		}
		if h.AllocationPct < 0 {
			violations = append(violations, domain.ValidationError{Field: field, Message: fmt.Sprintf("allocation_pct %.2f is negative", h.AllocationPct)})
		}
		if h.ClientID != "" {
			sums[h.ClientID] = sums[h.ClientID].Add(decimal.NewFromFloat(h.AllocationPct))
		}
	}

	tolerance := decimal.NewFromFloat(tolerancePct)
	clientIDs := make([]string, 0, len(sums))
	for id := range sums {
		clientIDs = append(clientIDs, id)
	}
	sort.Strings(clientIDs)

	for _, id := range clientIDs {
		if !known[id] {
			continue
		}
		sum := sums[id]
		if sum.Sub(hundred).Abs().GreaterThan(tolerance) {
			violations = append(violations, domain.ValidationError{
				Field:   "client " + id,
				Message: fmt.Sprintf("allocation sums to %s%%, expected 100%% within %s points", sum.StringFixed(2), tolerance.StringFixed(2)),
			})
		}
	}

	return violations
}
