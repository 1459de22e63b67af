package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/GBR24/kolmo-mvp/internal/catalog"
	"github.com/GBR24/kolmo-mvp/internal/config"
	"github.com/GBR24/kolmo-mvp/internal/handlers"
	internalhttp "github.com/GBR24/kolmo-mvp/internal/http"
	"github.com/GBR24/kolmo-mvp/internal/obs"
	"github.com/GBR24/kolmo-mvp/internal/orchestrator"
	"github.com/GBR24/kolmo-mvp/internal/retrieval"
	"github.com/GBR24/kolmo-mvp/internal/services"
	"github.com/GBR24/kolmo-mvp/internal/store"
	"github.com/GBR24/kolmo-mvp/internal/workers"
)

func main() {
	_ = godotenv.Load(
		".env",
		".env.local",
	)
	cfg := config.Load()
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Str("database_url", redact(cfg.DatabaseURL)).Msg("open store")
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn().Err(err).Msg("close store")
		}
	}()

	cache := services.NewCache(cfg)
	fetch := services.NewFetchCache(cache, cfg.FetchTimeout)
	cat := catalog.Default()

	eia := services.NewEIAClient(cfg, cat)
	quotes := services.NewQuotesClient(cfg, cat)
	news := services.NewNewsAPIClient(cfg, cat)

	var retriever retrieval.Retriever
	if cfg.RetrieverURL != "" {
		retriever = retrieval.NewHTTPRetriever(services.NewUpstreamClient("retriever", cfg), cfg.RetrieverURL)
	} else {
		retriever = retrieval.NewStoreRetriever(st, cfg.NewsLookback)
	}

	market := workers.NewMarketDataWorker(workers.NewCatalogRouter(cat, eia, quotes), fetch, st, cfg.FetchCacheTTL)
	forecaster := workers.NewForecastWorker(st, cfg.ForecastMethod, cfg.MinHistory, cfg.HistoryLookback)
	insight := workers.NewInsightWorker(retriever, st, cfg.RetrievalTopK, cfg.SimilarityThreshold)

	counters := obs.NewCounters()
	hook := obs.Multi{obs.NewEventLog(log.Logger), counters}
	orch := orchestrator.New(
		orchestrator.NewContextBuilder(cat, cfg.RetrievalReuseTTL),
		market, forecaster, insight,
		hook,
		orchestrator.OptionsFromConfig(cfg),
	)

	h := internalhttp.NewRouter(cfg, handlers.Deps{
		Store:    st,
		Cache:    cache,
		Fetch:    fetch,
		Asker:    orch,
		Ingester: services.NewNewsIngester(news, st, cfg.NewsQueries, cfg.NewsLookback),
		Counters: counters,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("shutdown")
		}
	}()

	log.Info().
		Str("addr", srv.Addr).
		Str("cache", cache.Kind()).
		Str("retriever", retriever.Name()).
		Str("forecast_method", cfg.ForecastMethod).
		Msg("kolmo api listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("listen")
	}
}

func setupLogging(cfg config.Config) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if strings.EqualFold(cfg.LogFormat, "console") {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

// redact drops the userinfo part of a connection string.
func redact(raw string) string {
	at := strings.LastIndex(raw, "@")
	scheme := strings.Index(raw, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return raw
	}
	return raw[:scheme+3] + "***" + raw[at:]
}
