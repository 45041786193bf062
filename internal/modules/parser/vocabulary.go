package parser

import (
	"regexp"

	"github.com/aristath/maestro/internal/domain"
)

type scopeKeyword struct {
	scopeType domain.ScopeType
	scope     string
	re        *regexp.Regexp
}

// Sector and asset class vocabulary. IT only matches in upper case so that
// the pronoun is not read as a sector.
var scopeKeywords = []scopeKeyword{
	{domain.ScopeSector, "BANKING", regexp.MustCompile(`(?i)\b(?:banking|banks?|financials?|lenders?)\b`)},
	{domain.ScopeSector, "IT", regexp.MustCompile(`\bIT\b|(?i:\b(?:technology|tech|software)\b)`)},
	{domain.ScopeSector, "PHARMA", regexp.MustCompile(`(?i)\b(?:pharma|pharmaceuticals?|healthcare)\b`)},
	{domain.ScopeSector, "AUTO", regexp.MustCompile(`(?i)\b(?:auto|autos|automobiles?)\b`)},
	{domain.ScopeSector, "FMCG", regexp.MustCompile(`(?i)\b(?:fmcg|consumer staples|consumption)\b`)},
	{domain.ScopeSector, "METAL", regexp.MustCompile(`(?i)\b(?:metals?|steel)\b`)},
	{domain.ScopeSector, "ENERGY", regexp.MustCompile(`(?i)\b(?:energy|oil|gas|power)\b`)},
	{domain.ScopeSector, "REALTY", regexp.MustCompile(`(?i)\b(?:realty|real estate)\b`)},
	{domain.ScopeSector, "INFRA", regexp.MustCompile(`(?i)\b(?:infra|infrastructure|capital goods)\b`)},
	{domain.ScopeSector, "TELECOM", regexp.MustCompile(`(?i)\btelecom\b`)},
	{domain.ScopeAssetClass, "GOLD", regexp.MustCompile(`(?i)\bgold\b`)},
	{domain.ScopeAssetClass, "DEBT", regexp.MustCompile(`(?i)\b(?:debt|bonds?|fixed income)\b`)},
}

var portfolioKeyword = regexp.MustCompile(`(?i)\b(?:portfolios?|positions|current allocations?|stop[- ]?loss(?:es)?)\b`)

type actionKeyword struct {
	action string
	re     *regexp.Regexp
}

// Checked in order, the first match wins: "don't add" is an avoid, not an add.
var actionKeywords = []actionKeyword{
	{domain.DirectiveAvoid, regexp.MustCompile(`(?i)\b(?:avoid|stay away|steer clear|don[’']?t add|do not add)\b`)},
	{domain.DirectiveBookProfits, regexp.MustCompile(`(?i)\bbook(?:ing)?\s+(?:partial\s+)?profits?\b`)},
	{domain.DirectiveReduceExposure, regexp.MustCompile(`(?i)\b(?:reduce|decrease|underweight|cut|trim|exit|sell|bearish|negative|lighten|cautious on)\b`)},
	{domain.DirectiveIncreaseExposure, regexp.MustCompile(`(?i)\b(?:increase|add|overweight|bullish|accumulate|buy|positive|uptrend|upside|allocate|reallocate)\b`)},
	{domain.DirectiveHold, regexp.MustCompile(`(?i)\b(?:hold|maintain|keep|neutral|tighten)\b`)},
}

// Switch statements move exposure from one scope to another
var switchPattern = regexp.MustCompile(`(?i)\b(?:move|shift|switch|rotate|reallocate)\b(.*?)\bfrom\b(.+?)\b(?:to|into)\b(.+)`)

var (
	sentenceSplit  = regexp.MustCompile(`[.!?]+(?:\s+|$)|[;\n]+`)
	clauseSplit    = regexp.MustCompile(`(?i),|\s+(?:and|but|while|whilst|whereas|however)\s+`)
	magnitudeRe    = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%`)
	highConviction = regexp.MustCompile(`(?i)\b(?:strong(?:ly)?|very|definitely|structural|high conviction|aggressively|significantly)\b`)
	lowConviction  = regexp.MustCompile(`(?i)\b(?:might|may|could|uncertain|speculative|small bet|slightly|tentative(?:ly)?)\b`)
)

// Conviction levels mapped onto directive confidence
const (
	confidenceHigh   = 0.9
	confidenceMedium = 0.65
	confidenceLow    = 0.4
)

var timeframes = []struct {
	name string
	re   *regexp.Regexp
}{
	{"IMMEDIATE", regexp.MustCompile(`(?i)\b(?:today|this week|immediately|right away)\b`)},
	{"LONG_TERM", regexp.MustCompile(`(?i)\b(?:long[- ]term|structural(?:ly)?|3-6 months|6-12 months|12 months|next year)\b`)},
	{"MEDIUM_TERM", regexp.MustCompile(`(?i)\b(?:medium[- ]term|next quarter|2-3 months|coming months)\b`)},
}

var audiences = []struct {
	name string
	re   *regexp.Regexp
}{
	{"MOMENTUM_STRATEGY", regexp.MustCompile(`(?i)\bmomentum\b`)},
	{"CONSERVATIVE_CLIENTS", regexp.MustCompile(`(?i)\bconservative\b`)},
	{"MODERATE_CLIENTS", regexp.MustCompile(`(?i)\bmoderate\b`)},
	{"AGGRESSIVE_CLIENTS", regexp.MustCompile(`(?i)\baggressive\b`)},
}

// Audience values a directive may be restricted to
const (
	AppliesToAll          = "ALL_CLIENTS"
	AppliesToMomentum     = "MOMENTUM_STRATEGY"
	AppliesToConservative = "CONSERVATIVE_CLIENTS"
	AppliesToModerate     = "MODERATE_CLIENTS"
	AppliesToAggressive   = "AGGRESSIVE_CLIENTS"
)

func conviction(sentence string) float64 {
	switch {
	case highConviction.MatchString(sentence):
		return confidenceHigh
	case lowConviction.MatchString(sentence):
		return confidenceLow
	}
	return confidenceMedium
}

func timeframe(sentence string) string {
	for _, tf := range timeframes {
		if tf.re.MatchString(sentence) {
			return tf.name
		}
	}
	return "SHORT_TERM"
}

func appliesTo(sentence string) string {
	for _, a := range audiences {
		if a.re.MatchString(sentence) {
			return a.name
		}
	}
	return AppliesToAll
}

func magnitude(clause string) string {
	if m := magnitudeRe.FindStringSubmatch(clause); m != nil {
		return m[1] + "%"
	}
	return ""
}

func detectAction(clause string) string {
	for _, k := range actionKeywords {
		if k.re.MatchString(clause) {
			return k.action
		}
	}
	return ""
}
