// Package yahoo provides daily OHLCV history of exchange-listed instruments
// and indices from Yahoo Finance, through go-yfinance.
package yahoo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/maestro/internal/clientdata"
	"github.com/aristath/maestro/internal/clients"
	"github.com/aristath/maestro/internal/domain"
	"github.com/rs/zerolog"
	"github.com/wnjoon/go-yfinance/pkg/models"
	"github.com/wnjoon/go-yfinance/pkg/ticker"
)

// historyFunc loads daily bars for a Yahoo symbol over a period such as "1y"
type historyFunc func(symbol, period string) ([]models.Bar, error)

// Client reads Yahoo history and caches it in cache.db
type Client struct {
	history   historyFunc
	log       zerolog.Logger
	cacheRepo *clientdata.Repository
	ttl       time.Duration
	now       func() time.Time
}

// NewClient creates a new history client.
// cacheRepo is optional - if nil, caching is disabled.
func NewClient(cacheRepo *clientdata.Repository, ttl time.Duration, log zerolog.Logger) *Client {
	if ttl <= 0 {
		ttl = clientdata.TTLMarketData
	}
	return &Client{
		history:   tickerHistory,
		log:       log.With().Str("client", "yahoo").Logger(),
		cacheRepo: cacheRepo,
		ttl:       ttl,
		now:       time.Now,
	}
}

func tickerHistory(symbol, period string) ([]models.Bar, error) {
	t, err := ticker.New(symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to create ticker: %w", err)
	}
	defer t.Close()

	return t.History(models.HistoryParams{
		Period:     period,
		Interval:   "1d",
		AutoAdjust: true,
	})
}

// Symbol converts an instrument code such as NSE:TCS or BSE:500325 into the
// Yahoo ticker (TCS.NS, 500325.BO). Other prefixes, such as INDEX:^NSEI, are
// stripped; codes without a prefix are returned unchanged.
func Symbol(code string) string {
	exchange, sym, ok := strings.Cut(code, ":")
	if !ok {
		return code
	}
	switch strings.ToUpper(exchange) {
	case "NSE":
		return sym + ".NS"
	case "BSE":
		return sym + ".BO"
	}
	return sym
}

// Period is the shortest Yahoo history period covering lookback
func Period(lookback time.Duration) string {
	days := int(lookback.Hours() / 24)
	switch {
	case days <= 5:
		return "5d"
	case days <= 31:
		return "1mo"
	case days <= 92:
		return "3mo"
	case days <= 183:
		return "6mo"
	case days <= 366:
		return "1y"
	case days <= 731:
		return "2y"
	case days <= 1827:
		return "5y"
	}
	return "max"
}

// cachedChart is the structure stored in the cache
type cachedChart struct {
	Bars     []domain.Bar `json:"bars"`
	FromUnix int64        `json:"from"`
}

// DailyBars returns daily bars for code covering the lookback window, oldest
// first. Fresh cache entries are served without a request; when the request
// fails a stale entry is returned instead (stale data > no data).
// A symbol Yahoo does not know yields clients.ErrNotFound.
func (c *Client) DailyBars(ctx context.Context, code string, lookback time.Duration) ([]domain.Bar, error) {
	symbol := Symbol(code)
	from := c.now().Add(-lookback).Truncate(24 * time.Hour)

	if cached, ok := c.getFromCache(ctx, symbol, false); ok && cached.FromUnix <= from.Unix() {
		c.log.Debug().Str("symbol", symbol).Msg("Chart cache hit")
		return cached.Bars, nil
	}

	bars, err := c.fetch(ctx, symbol, Period(lookback), from)
	if err != nil {
		if errors.Is(err, clients.ErrNotFound) || ctx.Err() != nil {
			return nil, err
		}
		if stale, ok := c.getFromCache(ctx, symbol, true); ok {
			c.log.Warn().
				Err(err).
				Str("symbol", symbol).
				Msg("API failed, using stale cached chart")
			return stale.Bars, nil
		}
		return nil, err
	}

	c.setCache(ctx, symbol, cachedChart{Bars: bars, FromUnix: from.Unix()})
	return bars, nil
}

type historyResult struct {
	bars []models.Bar
	err  error
}

// fetch runs the history call, which takes no context, so that ctx still
// bounds how long the caller waits
func (c *Client) fetch(ctx context.Context, symbol, period string, from time.Time) ([]domain.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.log.Debug().Str("symbol", symbol).Str("period", period).Msg("Fetching history")

	done := make(chan historyResult, 1)
	go func() {
		bars, err := c.history(symbol, period)
		done <- historyResult{bars: bars, err: err}
	}()

	var res historyResult
	select {
	case res = <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.err != nil {
		return nil, classify(symbol, res.err)
	}

	bars := make([]domain.Bar, 0, len(res.bars))
	for _, b := range res.bars {
		date := b.Date.UTC().Truncate(24 * time.Hour)
		if b.Close <= 0 || date.Before(from) {
			continue // halted session or outside the lookback window
		}
		bars = append(bars, domain.Bar{
			Date:   date,
			Open:   valueOr(b.Open, b.Close),
			High:   valueOr(b.High, b.Close),
			Low:    valueOr(b.Low, b.Close),
			Close:  b.Close,
			Volume: float64(b.Volume),
		})
	}
	return bars, nil
}

var statusPattern = regexp.MustCompile(`(?i)(?:status|http)(?: code)?[ :=]*([1-5][0-9]{2})\b`)

// classify maps go-yfinance failures onto the shared client errors: unknown
// symbols become clients.ErrNotFound and HTTP failures a *clients.StatusError
func classify(symbol string, err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "not found") || strings.Contains(msg, "no data") || strings.Contains(msg, "delisted") {
		return fmt.Errorf("yahoo %s: %w", symbol, clients.ErrNotFound)
	}
	if m := statusPattern.FindStringSubmatch(err.Error()); m != nil {
		status, _ := strconv.Atoi(m[1])
		if status == 404 {
			return fmt.Errorf("yahoo %s: %w", symbol, clients.ErrNotFound)
		}
		return &clients.StatusError{Provider: "yahoo", StatusCode: status, Body: err.Error()}
	}
	return fmt.Errorf("yahoo history for %s: %w", symbol, err)
}

func valueOr(v, fallback float64) float64 {
	if v <= 0 {
		return fallback
	}
	return v
}

func (c *Client) getFromCache(ctx context.Context, symbol string, allowStale bool) (cachedChart, bool) {
	if c.cacheRepo == nil {
		return cachedChart{}, false
	}

	var data json.RawMessage
	var err error
	if allowStale {
		data, err = c.cacheRepo.Get(ctx, clientdata.TableYahooChart, symbol)
	} else {
		data, err = c.cacheRepo.GetIfFresh(ctx, clientdata.TableYahooChart, symbol)
	}
	if err != nil {
		c.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to get from cache")
		return cachedChart{}, false
	}
	if data == nil {
		return cachedChart{}, false
	}

	var cached cachedChart
	if err := json.Unmarshal(data, &cached); err != nil {
		c.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to unmarshal cached chart")
		return cachedChart{}, false
	}
	return cached, true
}

func (c *Client) setCache(ctx context.Context, symbol string, chart cachedChart) {
	if c.cacheRepo == nil {
		return
	}
	if err := c.cacheRepo.Store(ctx, clientdata.TableYahooChart, symbol, chart, c.ttl); err != nil {
		c.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to cache chart")
	}
}
