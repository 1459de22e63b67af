package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/GBR24/kolmo-mvp/internal/models"
)

type MemoryStore struct {
	mu          sync.RWMutex
	prices      map[string]map[int64]models.PriceTick
	predictions []models.Prediction
	news        map[string]models.NewsItem
	insights    []models.InsightSummary
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		prices: make(map[string]map[int64]models.PriceTick),
		news:   make(map[string]models.NewsItem),
	}
}

func (m *MemoryStore) UpsertPrices(ctx context.Context, ticks []models.PriceTick) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	clean := make([]models.PriceTick, 0, len(ticks))
	for _, t := range ticks {
		n, err := normalizeTick(t)
		if err != nil {
			return 0, err
		}
		clean = append(clean, n)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range clean {
		bySym, ok := m.prices[t.Symbol]
		if !ok {
			bySym = make(map[int64]models.PriceTick)
			m.prices[t.Symbol] = bySym
		}
		bySym[t.Ts.UnixNano()] = t
	}
	return len(clean), nil
}

func (m *MemoryStore) LatestPrice(ctx context.Context, symbol string) (models.PriceTick, bool, error) {
	hist, err := m.PriceHistory(ctx, symbol, 1)
	if err != nil || len(hist) == 0 {
		return models.PriceTick{}, false, err
	}
	return hist[0], true, nil
}

// PriceHistory returns up to limit most recent ticks in ascending ts order.
func (m *MemoryStore) PriceHistory(ctx context.Context, symbol string, limit int) ([]models.PriceTick, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	bySym := m.prices[strings.ToUpper(symbol)]
	out := make([]models.PriceTick, 0, len(bySym))
	for _, t := range bySym {
		out = append(out, t)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Ts.Before(out[j].Ts) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *MemoryStore) AppendPrediction(ctx context.Context, p models.Prediction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := normalizePrediction(p)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.predictions = append(m.predictions, p)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) LatestPrediction(ctx context.Context, symbol, method string) (models.Prediction, bool, error) {
	hist, err := m.PredictionHistory(ctx, symbol, method, 1)
	if err != nil || len(hist) == 0 {
		return models.Prediction{}, false, err
	}
	return hist[0], true, nil
}

// PredictionHistory returns predictions newest first. An empty method matches
// every method.
func (m *MemoryStore) PredictionHistory(ctx context.Context, symbol, method string, limit int) ([]models.Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sym := strings.ToUpper(symbol)
	m.mu.RLock()
	out := []models.Prediction{}
	for i := len(m.predictions) - 1; i >= 0; i-- {
		p := m.predictions[i]
		if p.Symbol != sym || (method != "" && p.Method != method) {
			continue
		}
		out = append(out, p)
	}
	m.mu.RUnlock()
	// stable keeps insertion order (newest first) among equal timestamps
	sort.SliceStable(out, func(i, j int) bool { return out[i].GeneratedAt.After(out[j].GeneratedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) UpsertNews(ctx context.Context, items []models.NewsItem) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	clean := make([]models.NewsItem, 0, len(items))
	for _, it := range items {
		n, err := normalizeNews(it)
		if err != nil {
			return 0, err
		}
		clean = append(clean, n)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range clean {
		m.news[it.ID] = it
	}
	return len(clean), nil
}

// RecentNews returns items published at or after since, newest first. An
// empty symbol matches every item.
func (m *MemoryStore) RecentNews(ctx context.Context, symbol string, since time.Time) ([]models.NewsItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	out := []models.NewsItem{}
	for _, it := range m.news {
		if it.PublishedAt.Before(since) || !hasTicker(it, symbol) {
			continue
		}
		out = append(out, it)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].PublishedAt.Equal(out[j].PublishedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].PublishedAt.After(out[j].PublishedAt)
	})
	return out, nil
}

func (m *MemoryStore) AppendInsight(ctx context.Context, s models.InsightSummary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s, err := normalizeInsight(s)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.insights = append(m.insights, s)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) LatestInsight(ctx context.Context, symbol, window string) (models.InsightSummary, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.InsightSummary{}, false, err
	}
	sym := strings.ToUpper(symbol)
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best models.InsightSummary
	found := false
	for _, s := range m.insights {
		if s.Symbol != sym || (window != "" && s.Window != window) {
			continue
		}
		if !found || !s.GeneratedAt.Before(best.GeneratedAt) {
			best = s
			found = true
		}
	}
	return best, found, nil
}

func (m *MemoryStore) Symbols(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	out := make([]string, 0, len(m.prices))
	for sym := range m.prices {
		out = append(out, sym)
	}
	m.mu.RUnlock()
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (m *MemoryStore) Close() error {
	return nil
}
