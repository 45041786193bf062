package signals

import (
	"math"
	"sort"

	"github.com/aristath/maestro/internal/domain"
)

// Trading-day lookbacks of the relative strength windows
const (
	WeekBars    = 5
	MonthBars   = 22
	QuarterBars = 66
)

// attachSectorStrength sets the relative strength on the score of every
// sector index series the fetch returned, and reports how many it set.
// Nothing is attached when the benchmark series is unavailable.
func (e *Engine) attachSectorStrength(series map[string]domain.MarketSeries, scores map[string]domain.SignalScore) int {
	bench, ok := series[e.indices.Benchmark]
	if e.indices.Benchmark == "" || !ok || !bench.Available {
		return 0
	}
	benchCloses := bench.Closes()

	sectors := make([]string, 0, len(e.indices.Sectors))
	for sector := range e.indices.Sectors {
		sectors = append(sectors, sector)
	}
	sort.Strings(sectors)

	attached := 0
	for _, sector := range sectors {
		code := e.indices.Sectors[sector]
		s, ok := series[code]
		score, scored := scores[code]
		if !ok || !s.Available || !scored || code == e.indices.Benchmark {
			continue
		}
		strength := RelativeStrength(sector, s.Closes(), benchCloses)
		score.Sector = &strength
		scores[code] = score
		attached++
	}
	return attached
}

// RelativeStrength subtracts the benchmark's period returns from the sector's
func RelativeStrength(sector string, closes, benchmark []float64) domain.SectorStrength {
	rs := func(periods int) float64 {
		return round2(PeriodReturn(closes, periods) - PeriodReturn(benchmark, periods))
	}
	return domain.SectorStrength{
		Sector: sector,
		RS1W:   rs(WeekBars),
		RS1M:   rs(MonthBars),
		RS3M:   rs(QuarterBars),
	}
}

// PeriodReturn is the percentage change of the last close over periods bars,
// or 0 when the history is too short
func PeriodReturn(closes []float64, periods int) float64 {
	if len(closes) < periods+1 {
		return 0
	}
	current := closes[len(closes)-1]
	past := closes[len(closes)-1-periods]
	if past == 0 {
		return 0
	}
	return (current - past) / past * 100
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
