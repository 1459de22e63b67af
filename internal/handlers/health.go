package handlers

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/GBR24/kolmo-mvp/internal/models"
)

func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	deps := []string{}
	missing := []string{}
	depsStatus := map[string]models.DepStatus{}
	if err := a.store.Ping(ctx); err != nil {
		missing = append(missing, "store_unreachable")
		depsStatus["store"] = models.DepStatus{Ok: false, Error: err.Error()}
	} else {
		deps = append(deps, "store")
		depsStatus["store"] = models.DepStatus{Ok: true}
	}
	if a.cache != nil {
		deps = append(deps, "cache:"+a.cache.Kind())
		depsStatus["cache"] = models.DepStatus{Ok: true}
	}

	counters := map[string]int64{}
	if a.counters != nil {
		for k, v := range a.counters.Snapshot().Counts {
			counters[k] = int64(v)
		}
	}
	if a.fetch != nil {
		st := a.fetch.Stats()
		counters["fetch.hits"] = int64(st.Hits)
		counters["fetch.upstream"] = int64(st.Upstream)
		counters["fetch.shared"] = int64(st.Shared)
	}

	resp := models.HealthResponse{
		Ok:          len(missing) == 0,
		TsISO:       nowISO(),
		Service:     "kolmo-api",
		Version:     os.Getenv("SERVICE_VERSION"),
		Deps:        deps,
		DepsStatus:  depsStatus,
		DataMissing: missing,
		Env: map[string]bool{
			"EIA_API_KEY":   a.cfg.EIAAPIKey != "",
			"NEWSAPI_KEY":   a.cfg.NewsAPIKey != "",
			"DATABASE_URL":  os.Getenv("DATABASE_URL") != "",
			"REDIS_URL":     os.Getenv("REDIS_URL") != "",
			"RETRIEVER_URL": a.cfg.RetrieverURL != "",
		},
		Counters: counters,
	}
	code := http.StatusOK
	if !resp.Ok {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}
