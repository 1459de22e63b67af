package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/GBR24/kolmo-mvp/internal/catalog"
	"github.com/GBR24/kolmo-mvp/internal/config"
	"github.com/GBR24/kolmo-mvp/internal/models"
)

var ErrUnknownSymbol = errors.New("no provider series for symbol")

// EIAClient pulls daily spot series from the EIA v2 seriesid endpoint.
// The series carry closes only, so open/high/low mirror the close.
type EIAClient struct {
	up       *UpstreamClient
	catalog  *catalog.Catalog
	baseURL  string
	apiKey   string
	backfill int
}

func NewEIAClient(cfg config.Config, cat *catalog.Catalog) *EIAClient {
	backfill := cfg.EIABackfill
	if backfill <= 0 {
		backfill = 60
	}
	return &EIAClient{
		up:       NewUpstreamClient("eia", cfg),
		catalog:  cat,
		baseURL:  strings.TrimRight(cfg.EIABaseURL, "/"),
		apiKey:   cfg.EIAAPIKey,
		backfill: backfill,
	}
}

func (c *EIAClient) Name() string {
	return "eia"
}

type eiaSeriesResponse struct {
	Response struct {
		Data []struct {
			Period string    `json:"period"`
			Value  flexFloat `json:"value"`
		} `json:"data"`
	} `json:"response"`
}

// flexFloat accepts numbers, numeric strings and null.
type flexFloat struct {
	v  float64
	ok bool
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil
		}
		f.v, f.ok = v, true
		return nil
	}
	if err := json.Unmarshal(b, &f.v); err != nil {
		return err
	}
	f.ok = true
	return nil
}

// FetchPrices returns up to backfill daily ticks per symbol, oldest first.
// A symbol without an EIA series fails the whole call.
func (c *EIAClient) FetchPrices(ctx context.Context, symbols []string) ([]models.PriceTick, error) {
	out := []models.PriceTick{}
	for _, sym := range symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		series, ok := c.catalog.EIASeries(sym)
		if !ok {
			return nil, fmt.Errorf("eia %s: %w", sym, ErrUnknownSymbol)
		}
		ticks, err := c.fetchSeries(ctx, sym, series)
		if err != nil {
			return nil, fmt.Errorf("eia %s: %w", sym, err)
		}
		out = append(out, ticks...)
	}
	return out, nil
}

func (c *EIAClient) fetchSeries(ctx context.Context, sym, series string) ([]models.PriceTick, error) {
	u := fmt.Sprintf("%s/v2/seriesid/%s", c.baseURL, url.PathEscape(series))
	if c.apiKey != "" {
		u += "?api_key=" + url.QueryEscape(c.apiKey)
	}
	var payload eiaSeriesResponse
	if err := c.up.GetJSON(ctx, u, nil, &payload); err != nil {
		return nil, err
	}

	ticks := make([]models.PriceTick, 0, len(payload.Response.Data))
	for _, row := range payload.Response.Data {
		if !row.Value.ok {
			continue
		}
		ts, err := parsePeriod(row.Period)
		if err != nil {
			continue
		}
		v := row.Value.v
		ticks = append(ticks, models.PriceTick{Symbol: sym, Ts: ts, Open: v, High: v, Low: v, Close: v, Source: c.Name()})
	}
	if len(ticks) == 0 {
		return nil, errors.New("empty series")
	}
	sort.Slice(ticks, func(i, j int) bool { return ticks[i].Ts.Before(ticks[j].Ts) })
	if len(ticks) > c.backfill {
		ticks = ticks[len(ticks)-c.backfill:]
	}
	return ticks, nil
}

func parsePeriod(p string) (time.Time, error) {
	p = strings.TrimSpace(p)
	for _, layout := range []string{"2006-01-02", time.RFC3339, "2006-01-02T15", "2006-01"} {
		if ts, err := time.Parse(layout, p); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized period %q", p)
}
