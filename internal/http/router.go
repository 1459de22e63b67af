package http

import (
	"net/http"

	"github.com/GBR24/kolmo-mvp/internal/config"
	"github.com/GBR24/kolmo-mvp/internal/handlers"
)

func NewRouter(cfg config.Config, deps handlers.Deps) http.Handler {
	api := handlers.New(cfg, deps)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/health", api.Health)
	mux.HandleFunc("/api/v1/ask", api.Ask)
	mux.HandleFunc("/api/v1/prices/latest", api.PricesLatest)
	mux.HandleFunc("/api/v1/prices/stream", api.StreamPrices)
	mux.HandleFunc("/api/v1/forecasts/latest", api.ForecastLatest)
	mux.HandleFunc("/api/v1/forecasts/history", api.ForecastHistory)
	mux.HandleFunc("/api/v1/news", api.News)
	mux.HandleFunc("/api/v1/ingest/news", api.IngestNews)

	h := http.Handler(mux)
	h = withRecovery(h)
	h = withLogging(h)
	h = withRateLimit(cfg.RateLimitPerMin)(h)
	h = withCORS(h)
	return h
}
