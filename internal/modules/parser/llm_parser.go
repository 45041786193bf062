package parser

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aristath/maestro/internal/clients"
	"github.com/aristath/maestro/internal/clients/llm"
	"github.com/aristath/maestro/internal/domain"
	"github.com/aristath/maestro/internal/modules/stages"
	"github.com/aristath/maestro/internal/utils"
	"github.com/rs/zerolog"
)

const llmMaxTokens = 4096

const systemPrompt = `You convert an Indian wealth manager's daily market view into structured directives for portfolio advisors.

Rules:
- Every actionable statement becomes a separate directive.
- Sectors use these names: IT, BANKING, PHARMA, AUTO, FMCG, METAL, ENERGY, REALTY, INFRA, TELECOM.
- Asset classes use: EQUITY, DEBT, GOLD, LIQUID, HYBRID.
- Instruments must use the code given in the instrument list when the statement refers to one of them.
- Conviction is HIGH, MEDIUM or LOW, inferred from the intensity of the language.
- Timeframe is IMMEDIATE, SHORT_TERM, MEDIUM_TERM, LONG_TERM or STRATEGIC.
- applies_to is ALL_CLIENTS, CONSERVATIVE_CLIENTS, MODERATE_CLIENTS, AGGRESSIVE_CLIENTS or MOMENTUM_STRATEGY.
- Actions: BUY, SELL, INCREASE_EXPOSURE, REDUCE_EXPOSURE, INCREASE_ALLOCATION, BOOK_PROFITS, HOLD, AVOID.

Return only JSON of the form:
{"directives":[{"action":"INCREASE_EXPOSURE","target_type":"SECTOR","target":"BANKING","magnitude":"10%","timeframe":"MEDIUM_TERM","conviction":"HIGH","applies_to":"ALL_CLIENTS","rationale":"..."}]}
target_type is one of SECTOR, INSTRUMENT, ASSET_CLASS, PORTFOLIO.`

// LLMParser asks an LLM provider for directives and validates the answer.
// Provider HTTP failures are classified by status; a response that is not
// the expected JSON is a permanent failure.
type LLMParser struct {
	provider llm.Provider
	log      zerolog.Logger
}

// NewLLMParser creates a parser backed by provider
func NewLLMParser(provider llm.Provider, log zerolog.Logger) *LLMParser {
	return &LLMParser{
		provider: provider,
		log:      log.With().Str("service", "llm_parser").Logger(),
	}
}

type llmDirective struct {
	Action     string  `json:"action"`
	TargetType string  `json:"target_type"`
	Target     string  `json:"target"`
	Magnitude  *string `json:"magnitude"`
	Timeframe  string  `json:"timeframe"`
	Conviction string  `json:"conviction"`
	AppliesTo  string  `json:"applies_to"`
	Rationale  string  `json:"rationale"`
}

type llmResponse struct {
	Directives []llmDirective `json:"directives"`
}

// Execute sends the market view and the instrument universe to the provider
func (p *LLMParser) Execute(ctx context.Context, in stages.ParseInput) ([]domain.Directive, error) {
	view := strings.TrimSpace(in.MarketView)
	if view == "" {
		return nil, domain.Permanent("market view is empty", nil)
	}
	if !p.provider.IsConfigured() {
		return nil, domain.Permanent("LLM provider is not configured", nil)
	}

	text, err := p.provider.Generate(ctx, systemPrompt, buildPrompt(view, in.Universe), llmMaxTokens)
	if err != nil {
		var statusErr *clients.StatusError
		if errors.As(err, &statusErr) {
			se := stages.HTTPStatusError(statusErr.StatusCode, fmt.Sprintf("%s returned %d", statusErr.Provider, statusErr.StatusCode))
			se.Err = err
			return nil, se
		}
		return nil, err
	}

	var resp llmResponse
	if err := llm.DecodeJSON(text, &resp); err != nil {
		return nil, domain.Permanent("malformed LLM response", err)
	}

	directives, skipped := p.normalize(resp.Directives, in.Universe)
	if skipped > 0 {
		p.log.Warn().Int("skipped", skipped).Msg("Dropped directives with unknown action or target")
	}
	p.log.Debug().Int("directives", len(directives)).Msg("Parsed market view")
	return directives, nil
}

func buildPrompt(view string, universe []domain.Instrument) string {
	var sb strings.Builder
	sb.WriteString("Instruments held by our clients (code | name | sector):\n")
	for _, inst := range universe {
		fmt.Fprintf(&sb, "%s | %s | %s\n", inst.Code, inst.Name, inst.Sector)
	}
	sb.WriteString("\nParse the following market view into directives:\n\n")
	sb.WriteString(view)
	return sb.String()
}

// normalize validates each directive, grounds instrument targets against the
// universe and renumbers the survivors.
func (p *LLMParser) normalize(raw []llmDirective, universe []domain.Instrument) ([]domain.Directive, int) {
	out := make([]domain.Directive, 0, len(raw))
	skipped := 0
	for _, d := range raw {
		action := strings.ToUpper(strings.TrimSpace(d.Action))
		scopeType, scope, ok := normalizeTarget(d.TargetType, d.Target, universe)
		if !ok || action == "" {
			skipped++
			continue
		}

		dir := domain.Directive{
			ID:         fmt.Sprintf("DIR-%03d", len(out)+1),
			ScopeType:  scopeType,
			Scope:      scope,
			Stance:     domain.StanceForAction(action),
			Action:     action,
			Timeframe:  strings.ToUpper(d.Timeframe),
			AppliesTo:  strings.ToUpper(d.AppliesTo),
			Rationale:  utils.Truncate(strings.TrimSpace(d.Rationale), maxRationale),
			Confidence: convictionConfidence(d.Conviction),
		}
		if d.Magnitude != nil {
			dir.Magnitude = *d.Magnitude
		}
		if dir.AppliesTo == "" {
			dir.AppliesTo = AppliesToAll
		}
		out = append(out, dir)
	}
	return out, skipped
}

func normalizeTarget(targetType, target string, universe []domain.Instrument) (domain.ScopeType, string, bool) {
	target = strings.TrimSpace(target)
	switch strings.ToUpper(strings.TrimSpace(targetType)) {
	case "SECTOR":
		if target == "" {
			return "", "", false
		}
		scope := strings.ToUpper(target)
		if scope == "TECHNOLOGY" {
			scope = "IT"
		}
		return domain.ScopeSector, scope, true
	case "ASSET_CLASS":
		if target == "" {
			return "", "", false
		}
		return domain.ScopeAssetClass, strings.ToUpper(target), true
	case "PORTFOLIO":
		return domain.ScopePortfolio, "ALL", true
	case "INSTRUMENT", "STOCK", "ETF", "MF_SCHEME":
		if code, ok := groundInstrument(target, universe); ok {
			return domain.ScopeInstrument, code, true
		}
		if target == "" {
			return "", "", false
		}
		if !strings.Contains(target, ":") && !isNumeric(target) {
			target = "NSE:" + strings.ToUpper(target)
		}
		return domain.ScopeInstrument, target, true
	}
	return "", "", false
}

// groundInstrument resolves a code, ticker or name to a universe code
func groundInstrument(target string, universe []domain.Instrument) (string, bool) {
	for _, inst := range universe {
		if strings.EqualFold(target, inst.Code) ||
			strings.EqualFold(target, tickerOf(inst.Code)) ||
			strings.EqualFold(target, inst.Name) {
			return inst.Code, true
		}
	}
	return "", false
}

func convictionConfidence(c string) float64 {
	switch strings.ToUpper(strings.TrimSpace(c)) {
	case "HIGH":
		return confidenceHigh
	case "LOW":
		return confidenceLow
	}
	return confidenceMedium
}
