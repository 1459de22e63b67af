package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/GBR24/kolmo-mvp/internal/models"
)

var ErrInvalid = errors.New("store: invalid record")

// Store is the shared persistence surface for prices, predictions, news and
// insight summaries. Prices and news upsert last-write-wins on their natural
// keys; predictions and insights are append-only.
type Store interface {
	UpsertPrices(ctx context.Context, ticks []models.PriceTick) (int, error)
	LatestPrice(ctx context.Context, symbol string) (models.PriceTick, bool, error)
	PriceHistory(ctx context.Context, symbol string, limit int) ([]models.PriceTick, error)

	AppendPrediction(ctx context.Context, p models.Prediction) error
	LatestPrediction(ctx context.Context, symbol, method string) (models.Prediction, bool, error)
	PredictionHistory(ctx context.Context, symbol, method string, limit int) ([]models.Prediction, error)

	UpsertNews(ctx context.Context, items []models.NewsItem) (int, error)
	RecentNews(ctx context.Context, symbol string, since time.Time) ([]models.NewsItem, error)

	AppendInsight(ctx context.Context, s models.InsightSummary) error
	LatestInsight(ctx context.Context, symbol, window string) (models.InsightSummary, bool, error)

	Symbols(ctx context.Context) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

// Open picks a backend from the url scheme: memory, sqlite://path, or a
// postgres dsn.
func Open(ctx context.Context, rawURL string) (Store, error) {
	u := strings.TrimSpace(rawURL)
	switch {
	case u == "" || u == "memory" || u == "memory://":
		return NewMemoryStore(), nil
	case strings.HasPrefix(u, "sqlite://"):
		return OpenSQLite(ctx, strings.TrimPrefix(u, "sqlite://"))
	case strings.HasPrefix(u, "file:") || strings.HasSuffix(u, ".db"):
		return OpenSQLite(ctx, u)
	case strings.HasPrefix(u, "postgres://") || strings.HasPrefix(u, "postgresql://") || strings.Contains(u, "host="):
		return OpenPostgres(ctx, u)
	}
	return nil, fmt.Errorf("store: unsupported database url %q", rawURL)
}

func normalizeTick(t models.PriceTick) (models.PriceTick, error) {
	t.Symbol = strings.ToUpper(strings.TrimSpace(t.Symbol))
	if t.Symbol == "" || t.Ts.IsZero() {
		return t, fmt.Errorf("%w: price tick needs symbol and ts", ErrInvalid)
	}
	if t.Source == "" {
		return t, fmt.Errorf("%w: price tick %s@%s has no source", ErrInvalid, t.Symbol, t.Ts.Format(time.RFC3339))
	}
	t.Ts = t.Ts.UTC()
	return t, nil
}

func normalizePrediction(p models.Prediction) (models.Prediction, error) {
	p.Symbol = strings.ToUpper(strings.TrimSpace(p.Symbol))
	if p.ID == "" || p.Symbol == "" || p.GeneratedAt.IsZero() || p.Method == "" {
		return p, fmt.Errorf("%w: prediction needs id, symbol, generated_at and method", ErrInvalid)
	}
	if p.Source == "" {
		p.Source = p.Method
	}
	p.GeneratedAt = p.GeneratedAt.UTC().Truncate(time.Microsecond)
	return p, nil
}

func normalizeNews(n models.NewsItem) (models.NewsItem, error) {
	if strings.TrimSpace(n.ID) == "" {
		return n, fmt.Errorf("%w: news item without id", ErrInvalid)
	}
	if n.Source == "" {
		return n, fmt.Errorf("%w: news item %s has no source", ErrInvalid, n.ID)
	}
	n.PublishedAt = n.PublishedAt.UTC()
	tickers := make([]string, 0, len(n.Tickers))
	for _, t := range n.Tickers {
		if t = strings.ToUpper(strings.TrimSpace(t)); t != "" {
			tickers = append(tickers, t)
		}
	}
	n.Tickers = tickers
	if n.RetrievalKeywords == nil {
		n.RetrievalKeywords = []string{}
	}
	return n, nil
}

func normalizeInsight(s models.InsightSummary) (models.InsightSummary, error) {
	s.Symbol = strings.ToUpper(strings.TrimSpace(s.Symbol))
	if s.ID == "" || s.Symbol == "" || s.GeneratedAt.IsZero() {
		return s, fmt.Errorf("%w: insight needs id, symbol and generated_at", ErrInvalid)
	}
	if s.Source == "" {
		return s, fmt.Errorf("%w: insight %s has no source", ErrInvalid, s.ID)
	}
	s.GeneratedAt = s.GeneratedAt.UTC().Truncate(time.Microsecond)
	if s.Citations == nil {
		s.Citations = []string{}
	}
	if s.CitationURLs == nil {
		s.CitationURLs = []string{}
	}
	return s, nil
}

func hasTicker(item models.NewsItem, symbol string) bool {
	if symbol == "" {
		return true
	}
	for _, t := range item.Tickers {
		if strings.EqualFold(t, symbol) {
			return true
		}
	}
	return false
}
