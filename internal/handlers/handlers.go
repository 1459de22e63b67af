package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/GBR24/kolmo-mvp/internal/config"
	"github.com/GBR24/kolmo-mvp/internal/models"
	"github.com/GBR24/kolmo-mvp/internal/obs"
	"github.com/GBR24/kolmo-mvp/internal/services"
	"github.com/GBR24/kolmo-mvp/internal/store"
)

// Asker answers a natural-language market question.
type Asker interface {
	Handle(ctx context.Context, req models.Request) (models.Response, error)
}

type NewsIngest interface {
	Ingest(ctx context.Context, queries []string) (models.IngestResponse, error)
}

type Deps struct {
	Store    store.Store
	Cache    services.Cache
	Fetch    *services.FetchCache
	Asker    Asker
	Ingester NewsIngest
	Counters *obs.Counters
}

type API struct {
	cfg      config.Config
	store    store.Store
	cache    services.Cache
	fetch    *services.FetchCache
	asker    Asker
	ingester NewsIngest
	counters *obs.Counters
}

func New(cfg config.Config, deps Deps) *API {
	return &API{
		cfg:      cfg,
		store:    deps.Store,
		cache:    deps.Cache,
		fetch:    deps.Fetch,
		asker:    deps.Asker,
		ingester: deps.Ingester,
		counters: deps.Counters,
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func parseSymbols(raw string, max int) []string {
	if raw == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	seen := map[string]bool{}
	for _, p := range parts {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
		if max > 0 && len(out) >= max {
			break
		}
	}
	return out
}

func parseIntParam(v string, def int, min int, max int) int {
	if v == "" {
		return def
	}
	var out int
	_, err := fmt.Sscanf(v, "%d", &out)
	if err != nil {
		return def
	}
	if out < min {
		return min
	}
	if out > max {
		return max
	}
	return out
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func timeboxed(r *http.Request, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), d)
}

func allowMethods(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}
