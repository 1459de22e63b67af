package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/GBR24/kolmo-mvp/internal/catalog"
	"github.com/GBR24/kolmo-mvp/internal/config"
	"github.com/GBR24/kolmo-mvp/internal/models"
)

// QuotesClient reads daily bars from the Yahoo Finance chart endpoint. It
// prices the symbols EIA has no series for, FX pairs in particular.
type QuotesClient struct {
	up      *UpstreamClient
	catalog *catalog.Catalog
	baseURL string
	span    string
}

func NewQuotesClient(cfg config.Config, cat *catalog.Catalog) *QuotesClient {
	span := cfg.YahooRange
	if span == "" {
		span = "3mo"
	}
	return &QuotesClient{
		up:      NewUpstreamClient("yahoo", cfg),
		catalog: cat,
		baseURL: strings.TrimRight(cfg.YahooBaseURL, "/"),
		span:    span,
	}
}

func (c *QuotesClient) Name() string {
	return "yahoo"
}

type yahooChartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol    string `json:"symbol"`
				Currency  string `json:"currency"`
				GMTOffset int64  `json:"gmtoffset"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

var chartHeaders = map[string]string{"User-Agent": "Mozilla/5.0 (compatible; kolmo/1.0)"}

// FetchPrices returns daily ticks per symbol, oldest first. A symbol without
// a chart ticker fails the whole call.
func (c *QuotesClient) FetchPrices(ctx context.Context, symbols []string) ([]models.PriceTick, error) {
	out := []models.PriceTick{}
	for _, sym := range symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		ticker, ok := c.catalog.YahooTicker(sym)
		if !ok {
			return nil, fmt.Errorf("yahoo %s: %w", sym, ErrUnknownSymbol)
		}
		ticks, err := c.fetchChart(ctx, sym, ticker)
		if err != nil {
			return nil, fmt.Errorf("yahoo %s: %w", sym, err)
		}
		out = append(out, ticks...)
	}
	return out, nil
}

func (c *QuotesClient) fetchChart(ctx context.Context, sym, ticker string) ([]models.PriceTick, error) {
	u := fmt.Sprintf("%s/v8/finance/chart/%s?range=%s&interval=1d",
		c.baseURL, url.PathEscape(ticker), url.QueryEscape(c.span))
	var payload yahooChartResponse
	if err := c.up.GetJSON(ctx, u, chartHeaders, &payload); err != nil {
		return nil, err
	}
	if e := payload.Chart.Error; e != nil {
		return nil, fmt.Errorf("chart error %s: %s", e.Code, e.Description)
	}
	if len(payload.Chart.Result) == 0 || len(payload.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, errors.New("empty chart")
	}
	res := payload.Chart.Result[0]
	q := res.Indicators.Quote[0]

	// bars are keyed by exchange-local date so a bar keeps its key across pulls
	byDay := map[time.Time]models.PriceTick{}
	for i, sec := range res.Timestamp {
		closePx, ok := at(q.Close, i)
		if !ok {
			continue
		}
		ts := time.Unix(sec+res.Meta.GMTOffset, 0).UTC().Truncate(24 * time.Hour)
		t := models.PriceTick{Symbol: sym, Ts: ts, Open: closePx, High: closePx, Low: closePx, Close: closePx, Source: c.Name()}
		if v, ok := at(q.Open, i); ok {
			t.Open = v
		}
		if v, ok := at(q.High, i); ok {
			t.High = v
		}
		if v, ok := at(q.Low, i); ok {
			t.Low = v
		}
		if v, ok := at(q.Volume, i); ok {
			t.Volume = v
		}
		byDay[ts] = t
	}
	if len(byDay) == 0 {
		return nil, errors.New("empty chart")
	}
	ticks := make([]models.PriceTick, 0, len(byDay))
	for _, t := range byDay {
		ticks = append(ticks, t)
	}
	sort.Slice(ticks, func(i, j int) bool { return ticks[i].Ts.Before(ticks[j].Ts) })
	return ticks, nil
}

func at(vals []*float64, i int) (float64, bool) {
	if i >= len(vals) || vals[i] == nil {
		return 0, false
	}
	return *vals[i], true
}
