// Package synthesizer implements the synthesize stage: it crosses the run's
// directives with the technical scores and each client's holdings to
// produce draft recommendations, at most one per client and instrument.
// Engine is a deterministic rule engine; LLMSynthesizer asks the Anthropic
// Messages API and falls back to the rules for a client whose answer cannot
// be used.
//
// The rule engine is a pure function of its input and therefore idempotent.
// Recommendation ids are left empty and assigned by the ledger on commit.
package synthesizer

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aristath/maestro/internal/config"
	"github.com/aristath/maestro/internal/domain"
	"github.com/aristath/maestro/internal/modules/stages"
	"github.com/rs/zerolog"
)

const highAUMCutoff = 5_000_000.0 // ₹50 lakh

// Engine is the Synthesizer stage adapter
type Engine struct {
	limits config.RiskLimits
	log    zerolog.Logger
}

// NewEngine creates a synthesizer enforcing the given risk limits
func NewEngine(limits config.RiskLimits, log zerolog.Logger) *Engine {
	return &Engine{
		limits: limits,
		log:    log.With().Str("service", "synthesizer").Logger(),
	}
}

// Execute produces the drafts for every client, ordered by client then instrument
func (e *Engine) Execute(ctx context.Context, in stages.SynthesizeInput) ([]domain.Recommendation, error) {
	clients := append([]domain.Client(nil), in.Clients...)
	sort.Slice(clients, func(i, j int) bool { return clients[i].ID < clients[j].ID })

	holdingsByClient := make(map[string][]domain.Holding)
	for _, h := range in.Holdings {
		holdingsByClient[h.ClientID] = append(holdingsByClient[h.ClientID], h)
	}
	universe := universeOf(in.Holdings)
	proxies := sectorProxies(in.Scores)

	var out []domain.Recommendation
	for _, client := range clients {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		recs := e.forClient(client, holdingsByClient[client.ID], in.Directives, in.Scores, proxies, universe)
		out = append(out, recs...)
	}

	e.log.Info().
		Int("clients", len(clients)).
		Int("recommendations", len(out)).
		Msg("Recommendations synthesized")
	return out, nil
}

func (e *Engine) forClient(client domain.Client, holdings []domain.Holding, directives []domain.Directive, scores, proxies map[string]domain.SignalScore, universe []domain.Instrument) []domain.Recommendation {
	exposure, held := portfolioOf(holdings)
	applicable := applicableDirectives(directives, client, exposure)

	byCode := make(map[string]domain.Recommendation)

	for _, h := range holdings {
		score, hasScore := scores[h.InstrumentCode]
		d, ok := strongestDirective(applicable, h.InstrumentCode, h.SectorTag)
		var rec domain.Recommendation
		switch {
		case ok:
			proxy, proxied := proxyFor(score, hasScore, proxies, h.SectorTag)
			if proxied {
				rec = fromDirective(d, proxy, true, heldAction(d))
				rec.Rationale += sectorNote(proxy)
			} else {
				rec = fromDirective(d, score, hasScore, heldAction(d))
			}
		case hasScore && score.Sufficient && score.Composite >= strongSignal:
			rec = techOnly(score, domain.ActionAdd)
		case hasScore && score.Sufficient && score.Composite <= -strongSignal:
			rec = techOnly(score, domain.ActionReduce)
		default:
			continue
		}
		rec.ClientID = client.ID
		rec.InstrumentCode = h.InstrumentCode
		rec.InstrumentName = h.InstrumentName
		byCode[h.InstrumentCode] = e.applyRiskLimits(rec, client, exposure[h.SectorTag])
	}

	// Bullish sector calls on sectors the client does not hold
	for _, d := range applicable {
		if d.Stance != domain.StanceBullish || (d.ScopeType != domain.ScopeSector && d.ScopeType != domain.ScopeAssetClass) {
			continue
		}
		if exposure[d.Scope] > 0 {
			continue
		}
		inst, ok := bestInSector(universe, d.Scope, scores, held)
		if !ok {
			e.log.Debug().Str("scope", d.Scope).Msg("No instrument in the universe for sector call")
			continue
		}
		if _, done := byCode[inst.Code]; done {
			continue
		}
		score, hasScore := scores[inst.Code]
		rec := fromDirective(d, score, hasScore, domain.ActionInitiate)
		rec.ClientID = client.ID
		rec.InstrumentCode = inst.Code
		rec.InstrumentName = inst.Name
		byCode[inst.Code] = e.applyRiskLimits(rec, client, 0)
	}

	codes := make([]string, 0, len(byCode))
	for code := range byCode {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	out := make([]domain.Recommendation, 0, len(codes))
	for _, code := range codes {
		out = append(out, byCode[code])
	}
	return out
}

// fromDirective scores a directive-driven recommendation against the signal
func fromDirective(d domain.Directive, score domain.SignalScore, hasScore bool, action domain.Action) domain.Recommendation {
	rec := domain.Recommendation{
		Action:      action,
		DirectiveID: d.ID,
		Status:      domain.RecommendationDraft,
	}
	if hasScore {
		composite := score.Composite
		rec.TechnicalScore = &composite
		rec.Signal = score.Signal
	}

	band, strength, relation := directiveConfidence(d, score, hasScore)
	rec.Confidence = band.At(strength)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Directive %s (%s %s)", d.ID, d.Action, d.Scope)
	if d.Magnitude != "" {
		fmt.Fprintf(&sb, " by %s", d.Magnitude)
	}
	if d.Rationale != "" {
		fmt.Fprintf(&sb, ": %s", strings.TrimRight(d.Rationale, "."))
	}
	sb.WriteString(". ")
	if hasScore {
		fmt.Fprintf(&sb, "Technical %s (score %.1f), %s.", score.Signal, score.Composite, relation)
	} else {
		fmt.Fprintf(&sb, "No technical score, %s.", relation)
	}
	rec.Rationale = sb.String()
	return rec
}

// directiveConfidence picks the confidence band for a directive by how the
// signal relates to its stance, with the strength to place it inside the band
func directiveConfidence(d domain.Directive, score domain.SignalScore, hasScore bool) (Band, float64, string) {
	tech := 0
	if hasScore && score.Sufficient {
		switch {
		case score.Signal.IsBullish():
			tech = 1
		case score.Signal.IsBearish():
			tech = -1
		}
	}

	fm := 0
	switch d.Stance {
	case domain.StanceBullish:
		fm = 1
	case domain.StanceBearish:
		fm = -1
	}

	switch {
	case fm == 0:
		return BandNeutral, d.Confidence, "explicit hold"
	case tech == 0:
		return BandFMOnly, d.Confidence, "no technical confirmation"
	case fm == tech:
		return BandAgree, (d.Confidence + signalStrength(score.Composite)) / 2, "technicals agree"
	}
	return BandConflict, (d.Confidence + 1 - signalStrength(score.Composite)) / 2, "technicals disagree"
}

// techOnly builds an alert for a strong signal no directive covers
func techOnly(score domain.SignalScore, action domain.Action) domain.Recommendation {
	composite := score.Composite
	return domain.Recommendation{
		Action:         action,
		Confidence:     BandTechOnly.At((signalStrength(composite)*maxComposite - strongSignal) / (maxComposite - strongSignal)),
		Rationale:      fmt.Sprintf("Technical alert: %s (score %.1f) with no fund manager directive.", score.Signal, composite),
		TechnicalScore: &composite,
		Signal:         score.Signal,
		Status:         domain.RecommendationDraft,
	}
}

// applyRiskLimits downgrades buying into a sector at or above the client's
// concentration limit to HOLD.
func (e *Engine) applyRiskLimits(rec domain.Recommendation, client domain.Client, sectorPct float64) domain.Recommendation {
	switch rec.Action {
	case domain.ActionBuy, domain.ActionAdd, domain.ActionInitiate:
	default:
		return rec
	}
	limit, ok := e.limits.MaxSectorConcentration[string(client.RiskProfile)]
	if !ok || sectorPct < limit*100 {
		return rec
	}
	rec.Rationale += fmt.Sprintf(" Downgraded from %s to HOLD: sector exposure %.1f%% is at or above the %.0f%% limit for %s clients.",
		rec.Action, sectorPct, limit*100, strings.ToLower(string(client.RiskProfile)))
	rec.Action = domain.ActionHold
	return rec
}

// heldAction is the action a directive implies for an instrument the client holds
func heldAction(d domain.Directive) domain.Action {
	switch d.Action {
	case "SELL":
		return domain.ActionSell
	case domain.DirectiveReduceExposure, domain.DirectiveBookProfits:
		return domain.ActionReduce
	case domain.DirectiveAvoid, domain.DirectiveHold:
		return domain.ActionHold
	}
	switch d.Stance {
	case domain.StanceBullish:
		return domain.ActionAdd
	case domain.StanceBearish:
		return domain.ActionReduce
	}
	return domain.ActionHold
}

func specificity(t domain.ScopeType) int {
	switch t {
	case domain.ScopeInstrument:
		return 3
	case domain.ScopeSector, domain.ScopeAssetClass:
		return 2
	case domain.ScopePortfolio:
		return 1
	}
	return 0
}

// strongestDirective picks the most specific matching directive, then the most confident
func strongestDirective(directives []domain.Directive, code, sector string) (domain.Directive, bool) {
	var best domain.Directive
	found := false
	for _, d := range directives {
		if !d.Matches(code, sector) {
			continue
		}
		if !found ||
			specificity(d.ScopeType) > specificity(best.ScopeType) ||
			(specificity(d.ScopeType) == specificity(best.ScopeType) && d.Confidence > best.Confidence) {
			best = d
			found = true
		}
	}
	return best, found
}

// portfolioOf sums the client's allocation per sector and indexes the held codes
func portfolioOf(holdings []domain.Holding) (map[string]float64, map[string]bool) {
	exposure := make(map[string]float64)
	held := make(map[string]bool)
	for _, h := range holdings {
		exposure[h.SectorTag] += h.AllocationPct
		held[h.InstrumentCode] = true
	}
	return exposure, held
}

// applicableDirectives drops REVIEW directives and those restricted to another client segment
func applicableDirectives(directives []domain.Directive, client domain.Client, exposure map[string]float64) []domain.Directive {
	out := make([]domain.Directive, 0, len(directives))
	for _, d := range directives {
		if d.Action == domain.DirectiveReview {
			continue
		}
		if appliesToClient(d.AppliesTo, client, exposure) {
			out = append(out, d)
		}
	}
	return out
}

// appliesToClient filters directives restricted to a client segment
func appliesToClient(appliesTo string, client domain.Client, exposure map[string]float64) bool {
	switch strings.ToUpper(appliesTo) {
	case "CONSERVATIVE_CLIENTS":
		return client.RiskProfile == domain.RiskConservative
	case "MODERATE_CLIENTS":
		return client.RiskProfile == domain.RiskModerate
	case "AGGRESSIVE_CLIENTS":
		return client.RiskProfile == domain.RiskAggressive
	case "MOMENTUM_STRATEGY":
		return strings.EqualFold(client.StrategyType, "MOMENTUM")
	case "MF_ONLY":
		return strings.EqualFold(client.StrategyType, "MF_ONLY")
	case "PMS_CLIENTS":
		return strings.EqualFold(client.StrategyType, "PMS")
	case "HIGH_AUM":
		return client.TotalAUM >= highAUMCutoff
	case "CLIENTS_WITH_GOLD":
		return exposure["GOLD"] > 0
	case "CLIENTS_WITHOUT_GOLD":
		return exposure["GOLD"] == 0
	}
	return true
}

// bestInSector returns the highest scoring instrument of a sector the client
// does not already hold. Unscored instruments rank last, ties go to the code.
func bestInSector(universe []domain.Instrument, sector string, scores map[string]domain.SignalScore, held map[string]bool) (domain.Instrument, bool) {
	var best domain.Instrument
	bestScore := 0.0
	found := false
	for _, inst := range universe {
		if inst.Sector != sector || held[inst.Code] {
			continue
		}
		s, ok := scores[inst.Code]
		composite := -maxComposite - 1
		if ok && s.Sufficient {
			composite = s.Composite
		}
		if !found || composite > bestScore {
			best, bestScore, found = inst, composite, true
		}
	}
	return best, found
}

func universeOf(holdings []domain.Holding) []domain.Instrument {
	snap := domain.Snapshot{Holdings: holdings}
	return snap.Universe()
}
