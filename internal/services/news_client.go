package services

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/GBR24/kolmo-mvp/internal/catalog"
	"github.com/GBR24/kolmo-mvp/internal/config"
	"github.com/GBR24/kolmo-mvp/internal/models"
)

type NewsAPIClient struct {
	up       *UpstreamClient
	catalog  *catalog.Catalog
	baseURL  string
	apiKey   string
	pageSize int
}

func NewNewsAPIClient(cfg config.Config, cat *catalog.Catalog) *NewsAPIClient {
	size := cfg.NewsPageSize
	if size <= 0 || size > 100 {
		size = 25
	}
	return &NewsAPIClient{
		up:       NewUpstreamClient("newsapi", cfg),
		catalog:  cat,
		baseURL:  strings.TrimRight(cfg.NewsBaseURL, "/"),
		apiKey:   cfg.NewsAPIKey,
		pageSize: size,
	}
}

func (c *NewsAPIClient) Name() string {
	return "newsapi"
}

type newsAPIResponse struct {
	Status   string `json:"status"`
	Articles []struct {
		Source struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"source"`
		Title       string    `json:"title"`
		Description string    `json:"description"`
		URL         string    `json:"url"`
		PublishedAt time.Time `json:"publishedAt"`
	} `json:"articles"`
}

// FetchNews searches headlines for query published after since. Items are
// tagged with every catalogue symbol their text mentions.
func (c *NewsAPIClient) FetchNews(ctx context.Context, query string, since time.Time) ([]models.NewsItem, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []models.NewsItem{}, nil
	}
	v := url.Values{}
	v.Set("q", query)
	v.Set("language", "en")
	v.Set("sortBy", "publishedAt")
	v.Set("pageSize", strconv.Itoa(c.pageSize))
	if !since.IsZero() {
		v.Set("from", since.UTC().Format(time.RFC3339))
	}
	headers := map[string]string{}
	if c.apiKey != "" {
		headers["X-Api-Key"] = c.apiKey
	}

	var payload newsAPIResponse
	if err := c.up.GetJSON(ctx, c.baseURL+"/v2/everything?"+v.Encode(), headers, &payload); err != nil {
		return nil, fmt.Errorf("newsapi %q: %w", query, err)
	}

	keywords := strings.Fields(strings.ToLower(query))
	out := make([]models.NewsItem, 0, len(payload.Articles))
	seen := map[string]bool{}
	for _, a := range payload.Articles {
		if strings.TrimSpace(a.URL) == "" || strings.TrimSpace(a.Title) == "" {
			continue
		}
		id := NewsID(a.URL)
		if seen[id] {
			continue
		}
		seen[id] = true
		source := a.Source.Name
		if source == "" {
			source = c.Name()
		}
		tickers := c.catalog.Match(a.Title + " " + a.Description)
		if tickers == nil {
			tickers = []string{}
		}
		out = append(out, models.NewsItem{
			ID:                id,
			Headline:          strings.TrimSpace(a.Title),
			Description:       strings.TrimSpace(a.Description),
			URL:               a.URL,
			PublishedAt:       a.PublishedAt.UTC(),
			Source:            source,
			Tickers:           tickers,
			RetrievalKeywords: keywords,
		})
	}
	return out, nil
}

// NewsID derives a stable id from the article url.
func NewsID(rawURL string) string {
	sum := sha1.Sum([]byte(strings.TrimSpace(rawURL)))
	return hex.EncodeToString(sum[:8])
}
