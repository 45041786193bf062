// Package parser turns the fund manager's free-text market view into
// directives. Two implementations satisfy stages.Parser: RuleParser, a
// deterministic keyword parser, and LLMParser, which asks the Anthropic
// Messages API for structured JSON.
//
// Both are idempotent. RuleParser is a pure function of its input;
// LLMParser sends the same prompt for the same input and its provider is
// normally wrapped in the response cache, so a retried or resumed run does
// not pay for a second completion.
package parser

import (
	"github.com/aristath/maestro/internal/clients/llm"
	"github.com/aristath/maestro/internal/modules/stages"
	"github.com/rs/zerolog"
)

// New returns the LLM parser when provider is configured and the rule parser otherwise
func New(provider llm.Provider, log zerolog.Logger) stages.Parser {
	if provider != nil && provider.IsConfigured() {
		log.Info().Msg("Using LLM market view parser")
		return NewLLMParser(provider, log)
	}
	log.Info().Msg("No LLM configured, using rule-based market view parser")
	return NewRuleParser(log)
}
