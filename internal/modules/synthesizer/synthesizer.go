package synthesizer

import (
	"github.com/aristath/maestro/internal/clients/llm"
	"github.com/aristath/maestro/internal/config"
	"github.com/aristath/maestro/internal/modules/stages"
	"github.com/rs/zerolog"
)

// New returns the LLM synthesizer when provider is configured and the rule engine otherwise
func New(provider llm.Provider, limits config.RiskLimits, log zerolog.Logger) stages.Synthesizer {
	rules := NewEngine(limits, log)
	if provider != nil && provider.IsConfigured() {
		log.Info().Msg("Using LLM recommendation synthesizer")
		return NewLLMSynthesizer(provider, rules, log)
	}
	log.Info().Msg("No LLM configured, using rule-based recommendation synthesizer")
	return rules
}
