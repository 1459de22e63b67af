package services

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/GBR24/kolmo-mvp/internal/models"
)

type NewsFetcher interface {
	FetchNews(ctx context.Context, query string, since time.Time) ([]models.NewsItem, error)
}

type NewsSink interface {
	UpsertNews(ctx context.Context, items []models.NewsItem) (int, error)
}

// NewsIngester runs headline queries and upserts the deduplicated results.
type NewsIngester struct {
	fetcher  NewsFetcher
	sink     NewsSink
	queries  []string
	lookback time.Duration
	now      func() time.Time
	logger   zerolog.Logger
}

func NewNewsIngester(fetcher NewsFetcher, sink NewsSink, queries []string, lookback time.Duration) *NewsIngester {
	return &NewsIngester{
		fetcher:  fetcher,
		sink:     sink,
		queries:  queries,
		lookback: lookback,
		now:      time.Now,
		logger:   log.With().Str("component", "ingest").Logger(),
	}
}

// Ingest runs the given queries, or the configured defaults when none are
// given. A failing query is reported and skipped; the call only errors when
// every query failed or the upsert failed.
func (n *NewsIngester) Ingest(ctx context.Context, queries []string) (models.IngestResponse, error) {
	if len(queries) == 0 {
		queries = n.queries
	}
	out := models.IngestResponse{TsISO: n.now().UTC().Format(time.RFC3339), Queries: queries}
	since := time.Time{}
	if n.lookback > 0 {
		since = n.now().Add(-n.lookback)
	}

	byID := map[string]models.NewsItem{}
	order := []string{}
	var lastErr error
	failed := 0
	for _, q := range queries {
		items, err := n.fetcher.FetchNews(ctx, q, since)
		if err != nil {
			failed++
			lastErr = err
			out.Errors = append(out.Errors, err.Error())
			n.logger.Warn().Err(err).Str("query", q).Msg("news query failed")
			continue
		}
		out.Fetched += len(items)
		for _, it := range items {
			prev, ok := byID[it.ID]
			if !ok {
				order = append(order, it.ID)
			} else {
				it.RetrievalKeywords = mergeKeywords(prev.RetrievalKeywords, it.RetrievalKeywords)
			}
			byID[it.ID] = it
		}
	}
	if failed > 0 && failed == len(queries) {
		return out, lastErr
	}

	batch := make([]models.NewsItem, 0, len(order))
	for _, id := range order {
		batch = append(batch, byID[id])
	}
	upserted, err := n.sink.UpsertNews(ctx, batch)
	if err != nil {
		return out, err
	}
	out.Upserted = upserted
	n.logger.Info().Int("fetched", out.Fetched).Int("upserted", upserted).Int("failed_queries", failed).Msg("news ingested")
	return out, nil
}

func mergeKeywords(a, b []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(a)+len(b))
	for _, k := range append(append([]string{}, a...), b...) {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}
