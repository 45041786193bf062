// Package marketdata implements the fetch stage: it resolves every requested
// instrument code to a daily history. Exchange codes (NSE:XXX, BSE:XXX) are
// served by Yahoo Finance history and numeric AMFI scheme codes by mfapi.in.
//
// The stage is idempotent: it only reads from providers, and provider
// responses are cached in cache.db, so a retried attempt re-reads the same
// bars without repeating the requests.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aristath/maestro/internal/clients"
	"github.com/aristath/maestro/internal/clients/mfapi"
	"github.com/aristath/maestro/internal/domain"
	"github.com/aristath/maestro/internal/modules/stages"
	"github.com/aristath/maestro/internal/utils"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// BarsSource returns exchange price history
type BarsSource interface {
	DailyBars(ctx context.Context, code string, lookback time.Duration) ([]domain.Bar, error)
}

// NAVSource returns mutual fund NAV history
type NAVSource interface {
	NAVHistory(ctx context.Context, schemeCode string) (*mfapi.Scheme, error)
}

// Fetcher is the MarketData stage adapter
type Fetcher struct {
	exchange    BarsSource
	funds       NAVSource
	concurrency int
	lookback    time.Duration
	now         func() time.Time
	log         zerolog.Logger
}

// NewFetcher creates a fetcher issuing at most concurrency requests at a time
func NewFetcher(exchange BarsSource, funds NAVSource, concurrency int, lookback time.Duration, log zerolog.Logger) *Fetcher {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Fetcher{
		exchange:    exchange,
		funds:       funds,
		concurrency: concurrency,
		lookback:    lookback,
		now:         time.Now,
		log:         log.With().Str("service", "marketdata").Logger(),
	}
}

// Execute fetches every code. Codes a provider does not know, or that
// return no bars, get an unavailable marker; transient provider failures
// fail the whole attempt so that it is retried.
func (f *Fetcher) Execute(ctx context.Context, in stages.FetchInput) (map[string]domain.MarketSeries, error) {
	defer utils.OperationTimer("marketdata_fetch", f.log)()

	codes := dedupe(in.Codes)
	result := make(map[string]domain.MarketSeries, len(codes))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)

	for _, code := range codes {
		g.Go(func() error {
			series, err := f.fetchOne(gctx, code)
			if err != nil {
				return fmt.Errorf("fetching %s: %w", code, err)
			}
			mu.Lock()
			result[code] = series
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	unavailable := 0
	for _, s := range result {
		if !s.Available {
			unavailable++
		}
	}
	f.log.Info().
		Int("codes", len(codes)).
		Int("unavailable", unavailable).
		Msg("Market data fetched")

	return result, nil
}

func (f *Fetcher) fetchOne(ctx context.Context, code string) (domain.MarketSeries, error) {
	switch {
	case mfapi.IsSchemeCode(code):
		return f.fetchNAV(ctx, code)
	case strings.Contains(code, ":"):
		return f.fetchBars(ctx, code)
	}
	return domain.UnavailableSeries(code, "unsupported instrument code"), nil
}

func (f *Fetcher) fetchBars(ctx context.Context, code string) (domain.MarketSeries, error) {
	bars, err := f.exchange.DailyBars(ctx, code, f.lookback)
	if err != nil {
		return f.unavailableOr(code, "yahoo", err)
	}
	if len(bars) == 0 {
		return domain.UnavailableSeries(code, "yahoo returned no bars"), nil
	}
	return domain.MarketSeries{
		Code:      code,
		Kind:      domain.SeriesOHLCV,
		Source:    "yahoo",
		Bars:      bars,
		Available: true,
	}, nil
}

func (f *Fetcher) fetchNAV(ctx context.Context, code string) (domain.MarketSeries, error) {
	scheme, err := f.funds.NAVHistory(ctx, code)
	if err != nil {
		return f.unavailableOr(code, "mfapi", err)
	}

	cutoff := f.now().Add(-f.lookback)
	bars := make([]domain.Bar, 0, len(scheme.NAV))
	for _, b := range scheme.NAV {
		if f.lookback <= 0 || !b.Date.Before(cutoff) {
			bars = append(bars, b)
		}
	}
	if len(bars) == 0 {
		return domain.UnavailableSeries(code, "mfapi returned no NAV inside the lookback window"), nil
	}
	return domain.MarketSeries{
		Code:      code,
		Kind:      domain.SeriesNAV,
		Source:    "mfapi",
		Bars:      bars,
		Available: true,
	}, nil
}

// unavailableOr turns "no such instrument" answers into a marker and
// classifies everything else for the retry policy.
func (f *Fetcher) unavailableOr(code, provider string, err error) (domain.MarketSeries, error) {
	if errors.Is(err, clients.ErrNotFound) {
		f.log.Debug().Str("code", code).Str("provider", provider).Msg("Instrument not found")
		return domain.UnavailableSeries(code, provider+": instrument not found"), nil
	}

	var statusErr *clients.StatusError
	if errors.As(err, &statusErr) {
		se := stages.HTTPStatusError(statusErr.StatusCode, fmt.Sprintf("%s returned %d", provider, statusErr.StatusCode))
		if se.Kind == domain.StageErrorPermanent {
			f.log.Warn().Str("code", code).Int("status", statusErr.StatusCode).Msg("Provider rejected instrument")
			return domain.UnavailableSeries(code, se.Detail), nil
		}
		se.Err = err
		return domain.MarketSeries{}, se
	}
	return domain.MarketSeries{}, err
}

func dedupe(codes []string) []string {
	seen := make(map[string]bool, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
