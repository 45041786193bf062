// Package mfapi provides a client for mfapi.in, which serves NAV history for
// Indian mutual fund schemes keyed by AMFI scheme code.
package mfapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/maestro/internal/clientdata"
	"github.com/aristath/maestro/internal/clients"
	"github.com/aristath/maestro/internal/domain"
	"github.com/rs/zerolog"
)

const defaultBaseURL = "https://api.mfapi.in"

// Client for mfapi.in
type Client struct {
	baseURL   string
	client    *http.Client
	log       zerolog.Logger
	cacheRepo *clientdata.Repository
	ttl       time.Duration
}

// NewClient creates a new mfapi.in client
// cacheRepo is optional - if nil, caching is disabled
func NewClient(baseURL string, cacheRepo *clientdata.Repository, ttl time.Duration, log zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if ttl <= 0 {
		ttl = clientdata.TTLMarketData
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    &http.Client{Timeout: 30 * time.Second},
		log:       log.With().Str("client", "mfapi").Logger(),
		cacheRepo: cacheRepo,
		ttl:       ttl,
	}
}

// IsSchemeCode reports whether code looks like an AMFI scheme code
func IsSchemeCode(code string) bool {
	if code == "" {
		return false
	}
	_, err := strconv.Atoi(code)
	return err == nil
}

// Scheme is a fund's NAV history, oldest first
type Scheme struct {
	Name string       `json:"name"`
	NAV  []domain.Bar `json:"nav"`
}

type navResponse struct {
	Meta struct {
		SchemeName string `json:"scheme_name"`
	} `json:"meta"`
	Status string `json:"status"`
	Data   []struct {
		Date string `json:"date"`
		NAV  string `json:"nav"`
	} `json:"data"`
}

// NAVHistory fetches the full NAV history for a scheme with cache.
// If the API fails, returns stale cached data if available (stale data > no data).
func (c *Client) NAVHistory(ctx context.Context, schemeCode string) (*Scheme, error) {
	if c.cacheRepo != nil {
		data, err := c.cacheRepo.GetIfFresh(ctx, clientdata.TableMFAPINav, schemeCode)
		if err == nil && data != nil {
			var cached Scheme
			if err := json.Unmarshal(data, &cached); err == nil {
				c.log.Debug().Str("scheme", schemeCode).Msg("Cache hit")
				return &cached, nil
			}
		}
	}

	scheme, err := c.fetch(ctx, schemeCode)
	if err != nil {
		if errors.Is(err, clients.ErrNotFound) {
			return nil, err
		}
		if stale, ok := c.getStaleFromCache(ctx, schemeCode); ok {
			c.log.Warn().
				Err(err).
				Str("scheme", schemeCode).
				Msg("API failed, using stale cached NAV history")
			return stale, nil
		}
		return nil, err
	}

	if c.cacheRepo != nil {
		if err := c.cacheRepo.Store(ctx, clientdata.TableMFAPINav, schemeCode, scheme, c.ttl); err != nil {
			c.log.Warn().Err(err).Str("scheme", schemeCode).Msg("Failed to cache NAV history")
		}
	}
	return scheme, nil
}

func (c *Client) fetch(ctx context.Context, schemeCode string) (*Scheme, error) {
	url := fmt.Sprintf("%s/mf/%s", c.baseURL, schemeCode)
	c.log.Debug().Str("url", url).Msg("Fetching NAV history")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, clients.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, &clients.StatusError{Provider: "mfapi", StatusCode: resp.StatusCode, Body: string(body)}
	}

	var parsed navResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(parsed.Data) == 0 {
		return nil, clients.ErrNotFound
	}

	scheme := &Scheme{Name: parsed.Meta.SchemeName, NAV: make([]domain.Bar, 0, len(parsed.Data))}
	for _, point := range parsed.Data {
		date, err := time.Parse("02-01-2006", point.Date)
		if err != nil {
			c.log.Debug().Str("scheme", schemeCode).Str("date", point.Date).Msg("Skipping NAV with bad date")
			continue
		}
		nav, err := strconv.ParseFloat(point.NAV, 64)
		if err != nil || nav <= 0 {
			continue
		}
		scheme.NAV = append(scheme.NAV, domain.Bar{Date: date, Open: nav, High: nav, Low: nav, Close: nav})
	}

	// mfapi returns newest first
	sort.Slice(scheme.NAV, func(i, j int) bool { return scheme.NAV[i].Date.Before(scheme.NAV[j].Date) })
	return scheme, nil
}

func (c *Client) getStaleFromCache(ctx context.Context, schemeCode string) (*Scheme, bool) {
	if c.cacheRepo == nil {
		return nil, false
	}

	data, err := c.cacheRepo.Get(ctx, clientdata.TableMFAPINav, schemeCode)
	if err != nil || data == nil {
		return nil, false
	}

	var cached Scheme
	if err := json.Unmarshal(data, &cached); err != nil {
		c.log.Warn().Err(err).Str("scheme", schemeCode).Msg("Failed to unmarshal stale cached data")
		return nil, false
	}
	return &cached, true
}
