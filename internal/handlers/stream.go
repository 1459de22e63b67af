package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/GBR24/kolmo-mvp/internal/models"
)

// StreamPrices pushes the latest stored prices as server-sent events every
// interval seconds until the client goes away.
func (a *API) StreamPrices(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusBadRequest, "streaming unsupported")
		return
	}

	q := r.URL.Query()
	intervalSec := parseIntParam(q.Get("interval"), 10, 1, 60)
	symbols := parseSymbols(q.Get("symbols"), a.cfg.MaxSymbols)
	if len(symbols) == 0 {
		symbols = parseSymbols(strings.Join(a.cfg.DefaultSymbols, ","), a.cfg.MaxSymbols)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ticker := time.NewTicker(time.Duration(intervalSec) * time.Second)
	defer ticker.Stop()

	send := func() {
		ctx, cancel := context.WithTimeout(r.Context(), a.cfg.RequestTimeout)
		defer cancel()
		prices := map[string]models.Slot[models.PriceField]{}
		var errs []string
		for _, sym := range symbols {
			t, ok, err := a.store.LatestPrice(ctx, sym)
			switch {
			case err != nil:
				errs = append(errs, sym+": "+err.Error())
				prices[sym] = models.Missing[models.PriceField]()
			case !ok:
				prices[sym] = models.Missing[models.PriceField]()
			default:
				prices[sym] = models.Available(models.PriceFieldFrom(t))
			}
		}
		payload := map[string]any{
			"tsISO":  nowISO(),
			"prices": prices,
		}
		if len(errs) > 0 {
			payload["errors"] = errs
		}
		data, _ := json.Marshal(payload)
		_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	send()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			send()
		}
	}
}
