package retrieval

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/GBR24/kolmo-mvp/internal/models"
)

type NewsReader interface {
	RecentNews(ctx context.Context, symbol string, since time.Time) ([]models.NewsItem, error)
}

// StoreRetriever scores stored headlines against the query with term
// frequency cosine similarity.
type StoreRetriever struct {
	news     NewsReader
	lookback time.Duration
	now      func() time.Time
}

func NewStoreRetriever(news NewsReader, lookback time.Duration) *StoreRetriever {
	if lookback <= 0 {
		lookback = 7 * 24 * time.Hour
	}
	return &StoreRetriever{news: news, lookback: lookback, now: time.Now}
}

func (r *StoreRetriever) Name() string {
	return "store"
}

func (r *StoreRetriever) Search(ctx context.Context, query string, topK int) ([]models.Passage, error) {
	terms, window := ParseQuery(query)
	if window <= 0 {
		window = r.lookback
	}
	qv := termVector(tokenize(terms))
	if len(qv) == 0 {
		return []models.Passage{}, nil
	}
	items, err := r.news.RecentNews(ctx, "", r.now().Add(-window))
	if err != nil {
		return nil, err
	}

	out := make([]models.Passage, 0, len(items))
	for _, it := range items {
		doc := strings.Join([]string{it.Headline, it.Description, strings.Join(it.Tickers, " "), strings.Join(it.RetrievalKeywords, " ")}, " ")
		score := cosine(qv, termVector(tokenize(doc)))
		if score <= 0 {
			continue
		}
		out = append(out, models.Passage{
			Text:        passageText(it),
			Score:       score,
			SourceRef:   it.ID,
			URL:         it.URL,
			PublishedAt: it.PublishedAt,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].PublishedAt.After(out[j].PublishedAt)
	})
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func passageText(it models.NewsItem) string {
	h := strings.TrimSpace(it.Headline)
	d := strings.TrimSpace(it.Description)
	switch {
	case d == "":
		return h
	case h == "":
		return d
	}
	return strings.TrimRight(h, ".") + ". " + d
}

func termVector(tokens []string) map[string]float64 {
	v := make(map[string]float64, len(tokens))
	for _, t := range tokens {
		v[t]++
	}
	return v
}

func cosine(a, b map[string]float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var dot, na, nb float64
	for k, x := range a {
		na += x * x
		if y, ok := b[k]; ok {
			dot += x * y
		}
	}
	for _, y := range b {
		nb += y * y
	}
	if dot == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
