// Package stages defines the contract every pipeline stage adapter fulfils
// and the classification of adapter failures into retryable and final errors.
//
// An adapter must be idempotent: executing it twice with identical input
// yields equivalent output with no external side effects the second time.
package stages

import (
	"context"

	"github.com/aristath/maestro/internal/domain"
)

// Adapter executes one pipeline stage. The context carries the per-attempt
// deadline and is cancelled on process shutdown. Cancelling a run does not
// interrupt the call; its result is discarded once it returns. Errors are
// *domain.StageError or are normalised by Classify.
type Adapter[I, O any] interface {
	Execute(ctx context.Context, in I) (O, error)
}

// AdapterFunc lets a plain function satisfy Adapter
type AdapterFunc[I, O any] func(ctx context.Context, in I) (O, error)

// Execute calls f
func (f AdapterFunc[I, O]) Execute(ctx context.Context, in I) (O, error) {
	return f(ctx, in)
}

// ParseInput is the Parser stage input
type ParseInput struct {
	MarketView string              `json:"market_view" msgpack:"market_view"`
	Universe   []domain.Instrument `json:"universe" msgpack:"universe"`
}

// FetchInput is the MarketData stage input
type FetchInput struct {
	Codes []string `json:"codes" msgpack:"codes"`
}

// SynthesizeInput is the Synthesizer stage input
type SynthesizeInput struct {
	Directives []domain.Directive             `json:"directives" msgpack:"directives"`
	Scores     map[string]domain.SignalScore  `json:"scores" msgpack:"scores"`
	Series     map[string]domain.MarketSeries `json:"-" msgpack:"-"`
	Clients    []domain.Client                `json:"clients" msgpack:"clients"`
	Holdings   []domain.Holding               `json:"holdings" msgpack:"holdings"`
}

type (
	// Parser turns the market view into directives
	Parser = Adapter[ParseInput, []domain.Directive]
	// MarketData returns one entry per requested code, available or not.
	// An available entry carries at least one bar.
	MarketData = Adapter[FetchInput, map[string]domain.MarketSeries]
	// Signals returns one score per available series
	Signals = Adapter[map[string]domain.MarketSeries, map[string]domain.SignalScore]
	// Synthesizer produces draft recommendations
	Synthesizer = Adapter[SynthesizeInput, []domain.Recommendation]
)
