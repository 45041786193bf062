package parser

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/aristath/maestro/internal/domain"
	"github.com/aristath/maestro/internal/modules/stages"
	"github.com/aristath/maestro/internal/utils"
	"github.com/rs/zerolog"
)

const maxRationale = 200

// RuleParser extracts directives with keyword tables: sector and asset class
// names, stance verbs, conviction and timeframe words, plus instrument
// names and tickers grounded against the snapshot universe.
type RuleParser struct {
	log zerolog.Logger
}

// NewRuleParser creates a rule-based parser
func NewRuleParser(log zerolog.Logger) *RuleParser {
	return &RuleParser{log: log.With().Str("service", "rule_parser").Logger()}
}

type clause struct {
	text   string
	action string // forced by a switch statement
}

type instrumentMatcher struct {
	inst domain.Instrument
	re   *regexp.Regexp
}

// Execute parses the market view. A view with no recognisable statement
// yields a single portfolio-wide REVIEW directive.
func (p *RuleParser) Execute(ctx context.Context, in stages.ParseInput) ([]domain.Directive, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	view := strings.TrimSpace(in.MarketView)
	if view == "" {
		return nil, domain.Permanent("market view is empty", nil)
	}

	matchers := instrumentMatchers(in.Universe)
	b := newDirectiveBuilder()

	for _, sentence := range sentenceSplit.Split(view, -1) {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		meta := directiveMeta{
			confidence: conviction(sentence),
			timeframe:  timeframe(sentence),
			appliesTo:  appliesTo(sentence),
			rationale:  utils.Truncate(sentence, maxRationale),
		}

		inherited := ""
		for _, c := range splitClauses(sentence) {
			action := c.action
			if action == "" {
				action = detectAction(c.text)
			}
			if action == "" {
				action = inherited
			}
			if action == "" {
				continue
			}
			inherited = action

			meta.magnitude = magnitude(c.text)
			p.collect(b, c.text, action, meta, matchers)
		}
	}

	directives := b.directives()
	if len(directives) == 0 {
		directives = []domain.Directive{{
			ID:         "DIR-001",
			ScopeType:  domain.ScopePortfolio,
			Scope:      "ALL",
			Stance:     domain.StanceNeutral,
			Action:     domain.DirectiveReview,
			Timeframe:  "SHORT_TERM",
			AppliesTo:  AppliesToAll,
			Rationale:  utils.Truncate(view, maxRationale),
			Confidence: confidenceLow,
		}}
	}

	p.log.Debug().Int("directives", len(directives)).Msg("Parsed market view")
	return directives, nil
}

// collect adds the directives of one clause. Instrument mentions are masked
// before sector detection so that "HDFC Bank" is not also read as banking.
func (p *RuleParser) collect(b *directiveBuilder, text, action string, meta directiveMeta, matchers []instrumentMatcher) {
	masked := text
	for _, m := range matchers {
		if !m.re.MatchString(masked) {
			continue
		}
		b.add(domain.ScopeInstrument, m.inst.Code, action, meta)
		masked = m.re.ReplaceAllString(masked, " ")
	}

	found := false
	for _, k := range scopeKeywords {
		if k.re.MatchString(masked) {
			b.add(k.scopeType, k.scope, assetAction(k.scopeType, action), meta)
			found = true
		}
	}
	if !found && portfolioKeyword.MatchString(masked) {
		b.add(domain.ScopePortfolio, "ALL", action, meta)
	}
}

// assetAction names a bullish asset class call an allocation increase
func assetAction(scopeType domain.ScopeType, action string) string {
	if scopeType == domain.ScopeAssetClass && action == domain.DirectiveIncreaseExposure {
		return domain.DirectiveIncreaseAllocation
	}
	return action
}

// splitClauses breaks a sentence into clauses. A switch statement becomes a
// reduce clause for its source and an increase clause for its target.
func splitClauses(sentence string) []clause {
	if m := switchPattern.FindStringSubmatch(sentence); m != nil {
		return []clause{
			{text: m[2], action: domain.DirectiveReduceExposure},
			{text: m[3], action: domain.DirectiveIncreaseExposure},
		}
	}
	parts := clauseSplit.Split(sentence, -1)
	out := make([]clause, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, clause{text: part})
		}
	}
	return out
}

// instrumentMatchers builds case-insensitive matchers on the instrument name
// and on the exchange ticker. Numeric scheme codes are matched by name only.
func instrumentMatchers(universe []domain.Instrument) []instrumentMatcher {
	out := make([]instrumentMatcher, 0, len(universe))
	for _, inst := range universe {
		var alts []string
		if name := strings.TrimSpace(inst.Name); name != "" {
			alts = append(alts, regexp.QuoteMeta(name))
		}
		if ticker := tickerOf(inst.Code); len(ticker) >= 3 && !isNumeric(ticker) {
			alts = append(alts, regexp.QuoteMeta(ticker))
		}
		if len(alts) == 0 {
			continue
		}
		re, err := regexp.Compile(`(?i)\b(?:` + strings.Join(alts, "|") + `)\b`)
		if err != nil {
			continue
		}
		out = append(out, instrumentMatcher{inst: inst, re: re})
	}
	return out
}

func tickerOf(code string) string {
	if i := strings.LastIndex(code, ":"); i >= 0 {
		return code[i+1:]
	}
	return code
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

type directiveMeta struct {
	magnitude  string
	timeframe  string
	appliesTo  string
	rationale  string
	confidence float64
}

// directiveBuilder numbers directives in order of appearance and keeps one
// per (scope, action), retaining the highest confidence.
type directiveBuilder struct {
	index map[string]int
	list  []domain.Directive
}

func newDirectiveBuilder() *directiveBuilder {
	return &directiveBuilder{index: make(map[string]int)}
}

func (b *directiveBuilder) add(scopeType domain.ScopeType, scope, action string, meta directiveMeta) {
	key := fmt.Sprintf("%s|%s|%s", scopeType, scope, action)
	if i, ok := b.index[key]; ok {
		if meta.confidence > b.list[i].Confidence {
			b.list[i].Confidence = meta.confidence
		}
		if b.list[i].Magnitude == "" {
			b.list[i].Magnitude = meta.magnitude
		}
		return
	}
	b.index[key] = len(b.list)
	b.list = append(b.list, domain.Directive{
		ID:         fmt.Sprintf("DIR-%03d", len(b.list)+1),
		ScopeType:  scopeType,
		Scope:      scope,
		Stance:     domain.StanceForAction(action),
		Action:     action,
		Magnitude:  meta.magnitude,
		Timeframe:  meta.timeframe,
		AppliesTo:  meta.appliesTo,
		Rationale:  meta.rationale,
		Confidence: meta.confidence,
	})
}

func (b *directiveBuilder) directives() []domain.Directive {
	return b.list
}
