package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/GBR24/kolmo-mvp/internal/models"
	"github.com/GBR24/kolmo-mvp/internal/services"
)

func (a *API) News(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	page := parseIntParam(q.Get("page"), 1, 1, 500)
	pageSize := parseIntParam(q.Get("pageSize"), 10, 1, 50)
	hours := parseIntParam(q.Get("hours"), 24, 1, 24*30)
	symbol := strings.ToUpper(strings.TrimSpace(q.Get("symbol")))
	searchText := strings.TrimSpace(q.Get("q"))

	cacheKey := "news:v1:" + symbol + ":" + strings.ToLower(searchText) + ":" + fmt.Sprintf("%d:%d:%d", hours, page, pageSize)
	if a.cache != nil {
		if b, ok := a.cache.Get(r.Context(), cacheKey); ok {
			var cached models.NewsPageResponse
			if err := services.UnmarshalCache(b, &cached); err == nil {
				writeJSON(w, http.StatusOK, cached)
				return
			}
		}
	}

	ctx, cancel := timeboxed(r, a.cfg.RequestTimeout)
	defer cancel()
	items, err := a.store.RecentNews(ctx, "", time.Now().Add(-time.Duration(hours)*time.Hour))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	items = applyNewsFilter(items, symbol)
	items = applyNewsSearch(items, searchText)

	total := len(items)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	paged := []models.NewsItem{}
	if start < end {
		paged = items[start:end]
	}

	out := models.NewsPageResponse{
		TsISO:    nowISO(),
		Symbol:   symbol,
		Hours:    hours,
		Page:     page,
		PageSize: pageSize,
		Total:    total,
		Items:    paged,
	}
	if a.cache != nil {
		if b, err := services.MarshalCache(out); err == nil {
			_ = a.cache.Set(r.Context(), cacheKey, b, a.cfg.FetchCacheTTL)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// IngestNews pulls headlines for the comma-separated q parameter, or the
// configured queries, and upserts them.
func (a *API) IngestNews(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	var queries []string
	for _, part := range strings.Split(r.URL.Query().Get("q"), ",") {
		if part = strings.TrimSpace(part); part != "" {
			queries = append(queries, part)
		}
	}
	ctx, cancel := timeboxed(r, 3*a.cfg.RequestTimeout)
	defer cancel()

	out, err := a.ingester.Ingest(ctx, queries)
	if err != nil {
		writeUpstreamError(w, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func applyNewsFilter(items []models.NewsItem, symbol string) []models.NewsItem {
	if symbol == "" || strings.EqualFold(symbol, "all") {
		return items
	}
	out := make([]models.NewsItem, 0, len(items))
	for _, it := range items {
		for _, t := range it.Tickers {
			if strings.EqualFold(t, symbol) {
				out = append(out, it)
				break
			}
		}
	}
	return out
}

func applyNewsSearch(items []models.NewsItem, query string) []models.NewsItem {
	trimmed := strings.TrimSpace(strings.ToLower(query))
	if trimmed == "" {
		return items
	}
	tokens := strings.Fields(trimmed)
	out := make([]models.NewsItem, 0, len(items))
	for _, it := range items {
		text := strings.ToLower(it.Headline + " " + it.Description + " " + strings.Join(it.RetrievalKeywords, " "))
		if strings.TrimSpace(text) == "" {
			continue
		}
		if strings.Contains(text, trimmed) {
			out = append(out, it)
			continue
		}
		matchAll := true
		for _, tok := range tokens {
			if len(tok) < 2 {
				continue
			}
			if !strings.Contains(text, tok) {
				matchAll = false
				break
			}
		}
		if matchAll {
			out = append(out, it)
		}
	}
	return out
}
