package synthesizer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aristath/maestro/internal/clients"
	"github.com/aristath/maestro/internal/clients/llm"
	"github.com/aristath/maestro/internal/domain"
	"github.com/aristath/maestro/internal/modules/stages"
	"github.com/aristath/maestro/internal/utils"
	"github.com/rs/zerolog"
)

const (
	llmMaxTokens = 4096
	maxRationale = 600
)

const systemPrompt = `You are a portfolio recommendation engine for an Indian wealth management firm.

You receive the fund manager's directives, the sector relative strength, the technical signals of the client's holdings, and the client's portfolio with its risk limits. Produce specific, actionable recommendations for this one client.

Rules:
- When a directive and the technical signal agree, confidence is 80-100.
- When only one of them gives a view, confidence is 40-80.
- When they conflict, confidence is 10-30 and the reasoning must say so.
- Never push a sector above the client's maximum sector concentration.
- Recommend at most one action per instrument.
- Only recommend instruments the client holds or instruments from the candidate list.
- Always give reasoning that combines the directive and the technical view.

Return only JSON of the form:
{"recommendations":[{"action":"ADD","instrument_code":"NSE:HDFCBANK","directive_id":"DIR-001","confidence":85,"reasoning":"..."}]}
action is one of BUY, ADD, HOLD, REDUCE, SELL, INITIATE. directive_id is null when no directive drives the recommendation.`

// LLMSynthesizer asks an LLM provider for each client's recommendations.
// Answers are grounded against the client's holdings and the instrument
// universe, their confidence is held inside the band the directive and
// signal imply, and the risk limits are applied as in the rule engine.
// A client whose answer is not the expected JSON gets the rule engine's
// recommendations instead; provider HTTP failures are classified by status.
type LLMSynthesizer struct {
	provider llm.Provider
	rules    *Engine
	log      zerolog.Logger
}

// NewLLMSynthesizer creates a synthesizer backed by provider, falling back to rules
func NewLLMSynthesizer(provider llm.Provider, rules *Engine, log zerolog.Logger) *LLMSynthesizer {
	return &LLMSynthesizer{
		provider: provider,
		rules:    rules,
		log:      log.With().Str("service", "llm_synthesizer").Logger(),
	}
}

type llmRecommendation struct {
	DirectiveID    *string `json:"directive_id"`
	Action         string  `json:"action"`
	InstrumentCode string  `json:"instrument_code"`
	Reasoning      string  `json:"reasoning"`
	Confidence     float64 `json:"confidence"`
}

type llmResponse struct {
	Recommendations []llmRecommendation `json:"recommendations"`
}

// Execute requests the recommendations client by client, ordered by client then instrument
func (s *LLMSynthesizer) Execute(ctx context.Context, in stages.SynthesizeInput) ([]domain.Recommendation, error) {
	if !s.provider.IsConfigured() {
		return nil, domain.Permanent("LLM provider is not configured", nil)
	}

	clientList := append([]domain.Client(nil), in.Clients...)
	sort.Slice(clientList, func(i, j int) bool { return clientList[i].ID < clientList[j].ID })

	holdingsByClient := make(map[string][]domain.Holding)
	for _, h := range in.Holdings {
		holdingsByClient[h.ClientID] = append(holdingsByClient[h.ClientID], h)
	}
	universe := universeOf(in.Holdings)
	proxies := sectorProxies(in.Scores)

	var out []domain.Recommendation
	fallbacks := 0
	for _, client := range clientList {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		holdings := holdingsByClient[client.ID]

		prompt := s.buildPrompt(client, holdings, in, universe)
		text, err := s.provider.Generate(ctx, systemPrompt, prompt, llmMaxTokens)
		if err != nil {
			return nil, classifyProviderError(err)
		}

		var resp llmResponse
		if err := llm.DecodeJSON(text, &resp); err != nil {
			s.log.Warn().Err(err).Str("client_id", client.ID).Msg("Malformed LLM response, using rules for client")
			fallbacks++
			out = append(out, s.rules.forClient(client, holdings, in.Directives, in.Scores, proxies, universe)...)
			continue
		}
		out = append(out, s.ground(client, holdings, resp.Recommendations, in, proxies, universe)...)
	}

	s.log.Info().
		Int("clients", len(clientList)).
		Int("recommendations", len(out)).
		Int("rule_fallbacks", fallbacks).
		Msg("Recommendations synthesized")
	return out, nil
}

func classifyProviderError(err error) error {
	var statusErr *clients.StatusError
	if errors.As(err, &statusErr) {
		se := stages.HTTPStatusError(statusErr.StatusCode, fmt.Sprintf("%s returned %d", statusErr.Provider, statusErr.StatusCode))
		se.Err = err
		return se
	}
	return err
}

// ground turns the raw answer into drafts, dropping recommendations for
// unknown instruments, unknown actions and repeated instruments
func (s *LLMSynthesizer) ground(client domain.Client, holdings []domain.Holding, raw []llmRecommendation, in stages.SynthesizeInput, proxies map[string]domain.SignalScore, universe []domain.Instrument) []domain.Recommendation {
	exposure, _ := portfolioOf(holdings)
	heldBy := make(map[string]domain.Holding, len(holdings))
	for _, h := range holdings {
		heldBy[h.InstrumentCode] = h
	}
	known := make(map[string]domain.Instrument, len(universe))
	for _, inst := range universe {
		known[inst.Code] = inst
	}
	directives := make(map[string]domain.Directive)
	for _, d := range applicableDirectives(in.Directives, client, exposure) {
		directives[d.ID] = d
	}

	byCode := make(map[string]domain.Recommendation)
	skipped := 0
	for _, r := range raw {
		code := strings.TrimSpace(r.InstrumentCode)
		h, held := heldBy[code]
		inst, listed := known[code]
		if _, dup := byCode[code]; dup || (!held && !listed) {
			skipped++
			continue
		}
		action, ok := llmAction(r.Action, held)
		if !ok {
			skipped++
			continue
		}

		name, sector := inst.Name, inst.Sector
		if held {
			name, sector = h.InstrumentName, h.SectorTag
		}
		score, hasScore := in.Scores[code]
		proxy, proxied := proxyFor(score, hasScore, proxies, sector)
		if proxied {
			score, hasScore = proxy, true
		}

		rec := domain.Recommendation{
			ClientID:       client.ID,
			InstrumentCode: code,
			InstrumentName: name,
			Action:         action,
			Rationale:      utils.Truncate(strings.TrimSpace(r.Reasoning), maxRationale),
			Status:         domain.RecommendationDraft,
		}
		if hasScore {
			composite := score.Composite
			rec.TechnicalScore = &composite
			rec.Signal = score.Signal
		}

		band := BandTechOnly
		if r.DirectiveID != nil {
			if d, ok := directives[strings.TrimSpace(*r.DirectiveID)]; ok {
				rec.DirectiveID = d.ID
				band, _, _ = directiveConfidence(d, score, hasScore)
			}
		}
		rec.Confidence = band.Clamp(r.Confidence)

		if rec.Rationale == "" {
			rec.Rationale = fmt.Sprintf("%s %s.", action, name)
		}
		if proxied {
			rec.Rationale += sectorNote(proxy)
		}
		byCode[code] = s.rules.applyRiskLimits(rec, client, exposure[sector])
	}

	if skipped > 0 {
		s.log.Warn().Str("client_id", client.ID).Int("skipped", skipped).Msg("Dropped recommendations with unknown instrument or action")
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

// llmAction maps the model's action onto the recommendation actions. Buying
// an instrument the client does not hold is INITIATE; selling or holding
// one is meaningless and dropped.
func llmAction(raw string, held bool) (domain.Action, bool) {
	name := strings.ToUpper(strings.TrimSpace(raw))
	switch name {
	case "INVEST":
		name = string(domain.ActionAdd)
	case "REDEEM":
		name = string(domain.ActionSell)
	case "BOOK_PROFITS", "STOP_SIP":
		name = string(domain.ActionReduce)
	}
	action, err := domain.ParseAction(name)
	if err != nil {
		return "", false
	}
	if held {
		if action == domain.ActionBuy || action == domain.ActionInitiate {
			return domain.ActionAdd, true
		}
		return action, true
	}
	switch action {
	case domain.ActionBuy, domain.ActionAdd, domain.ActionInitiate:
		return domain.ActionInitiate, true
	}
	return "", false
}

func (s *LLMSynthesizer) buildPrompt(client domain.Client, holdings []domain.Holding, in stages.SynthesizeInput, universe []domain.Instrument) string {
	var sb strings.Builder

	sb.WriteString("FUND MANAGER DIRECTIVES:\n")
	if len(in.Directives) == 0 {
		sb.WriteString("  No active directives today. Recommend on technical signals only.\n")
	}
	for _, d := range in.Directives {
		fmt.Fprintf(&sb, "  - %s: %s %s %s | Magnitude: %s | Confidence: %.2f | Applies to: %s | Rationale: %s\n",
			d.ID, d.Action, d.ScopeType, d.Scope, orNA(d.Magnitude), d.Confidence, orNA(d.AppliesTo), d.Rationale)
	}

	sb.WriteString("\nSECTOR RELATIVE STRENGTH (vs benchmark, percentage points):\n")
	strengths := sectorStrengths(in.Scores)
	if len(strengths) == 0 {
		sb.WriteString("  No sector data available.\n")
	}
	for _, sc := range strengths {
		fmt.Fprintf(&sb, "  %-12s RS(1w): %6.2f  RS(1m): %6.2f  RS(3m): %6.2f  Score: %6.1f  Signal: %s\n",
			sc.Sector.Sector, sc.Sector.RS1W, sc.Sector.RS1M, sc.Sector.RS3M, sc.Composite, sc.Signal)
	}

	sb.WriteString("\nTECHNICAL SIGNALS FOR CLIENT HOLDINGS:\n")
	for _, h := range holdings {
		sc, ok := in.Scores[h.InstrumentCode]
		if !ok || !sc.Sufficient {
			fmt.Fprintf(&sb, "  %s | %s | No technical data, use the sector reading\n", h.InstrumentCode, h.InstrumentName)
			continue
		}
		fmt.Fprintf(&sb, "  %s | %s | Score: %.1f | Signal: %s", h.InstrumentCode, h.InstrumentName, sc.Composite, sc.Signal)
		if rsi, ok := sc.Indicators["rsi_14"]; ok {
			fmt.Fprintf(&sb, " | RSI: %.1f", rsi)
		}
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "\nCLIENT PORTFOLIO:\n  Name: %s | ID: %s\n  Risk Profile: %s | Strategy: %s\n  Total AUM: ₹%.0f\n\n",
		client.Name, client.ID, client.RiskProfile, client.StrategyType, client.TotalAUM)
	sb.WriteString("  code | name | type | sector | value | cost | P&L% | alloc% | SIP\n")
	for _, h := range holdings {
		pnl := 0.0
		if h.CostBasis > 0 {
			pnl = (h.CurrentValue - h.CostBasis) / h.CostBasis * 100
		}
		sip := "No"
		if h.SIPActive {
			sip = fmt.Sprintf("₹%.0f", h.SIPAmount)
		}
		fmt.Fprintf(&sb, "  %s | %s | %s | %s | ₹%.0f | ₹%.0f | %.1f%% | %.1f%% | %s\n",
			h.InstrumentCode, h.InstrumentName, h.InstrumentType, h.SectorTag, h.CurrentValue, h.CostBasis, pnl, h.AllocationPct, sip)
	}

	exposure, held := portfolioOf(holdings)
	sectors := make([]string, 0, len(exposure))
	for sector := range exposure {
		sectors = append(sectors, sector)
	}
	sort.Slice(sectors, func(i, j int) bool {
		if exposure[sectors[i]] != exposure[sectors[j]] {
			return exposure[sectors[i]] > exposure[sectors[j]]
		}
		return sectors[i] < sectors[j]
	})
	sb.WriteString("\n  SECTOR CONCENTRATION:\n")
	for _, sector := range sectors {
		fmt.Fprintf(&sb, "    %-12s %6.1f%%\n", sector, exposure[sector])
	}
	if limit, ok := s.rules.limits.MaxSectorConcentration[string(client.RiskProfile)]; ok {
		fmt.Fprintf(&sb, "\n  RISK LIMITS (%s):\n    Max sector concentration: %.0f%%\n", client.RiskProfile, limit*100)
	}

	sb.WriteString("\nCANDIDATE INSTRUMENTS (not held):\n")
	for _, inst := range universe {
		if held[inst.Code] {
			continue
		}
		fmt.Fprintf(&sb, "  %s | %s | %s", inst.Code, inst.Name, inst.Sector)
		if sc, ok := in.Scores[inst.Code]; ok && sc.Sufficient {
			fmt.Fprintf(&sb, " | Score: %.1f | Signal: %s", sc.Composite, sc.Signal)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func orNA(v string) string {
	if v == "" {
		return "N/A"
	}
	return v
}
