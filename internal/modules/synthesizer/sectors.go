package synthesizer

import (
	"fmt"
	"sort"

	"github.com/aristath/maestro/internal/domain"
)

// sectorProxies indexes the sector index scores by the sector they proxy
func sectorProxies(scores map[string]domain.SignalScore) map[string]domain.SignalScore {
	out := make(map[string]domain.SignalScore)
	for _, s := range scores {
		if s.Sector != nil && s.Sufficient {
			out[s.Sector.Sector] = s
		}
	}
	return out
}

// proxyFor returns the sector index score to use for a holding without a
// sufficient score of its own, such as a mutual fund scored on NAV history
// that is too short
func proxyFor(score domain.SignalScore, hasScore bool, proxies map[string]domain.SignalScore, sector string) (domain.SignalScore, bool) {
	if hasScore && score.Sufficient {
		return domain.SignalScore{}, false
	}
	proxy, ok := proxies[sector]
	return proxy, ok
}

func sectorNote(proxy domain.SignalScore) string {
	return fmt.Sprintf(" Scored on sector index %s (%s, %+.2f pts vs benchmark over 1m).",
		proxy.Code, strength(*proxy.Sector), proxy.Sector.RS1M)
}

func strength(s domain.SectorStrength) string {
	if s.Outperforming() {
		return "outperforming"
	}
	return "underperforming"
}

// sectorStrengths lists the sector readings, strongest monthly relative strength first
func sectorStrengths(scores map[string]domain.SignalScore) []domain.SignalScore {
	var out []domain.SignalScore
	for _, s := range scores {
		if s.Sector != nil {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Sector.RS1M != out[j].Sector.RS1M {
			return out[i].Sector.RS1M > out[j].Sector.RS1M
		}
		return out[i].Sector.Sector < out[j].Sector.Sector
	})
	return out
}
