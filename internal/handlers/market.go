package handlers

import (
	"net/http"
	"strings"

	"github.com/GBR24/kolmo-mvp/internal/models"
)

type pricesResponse struct {
	TsISO  string                                    `json:"tsISO"`
	Prices map[string]models.Slot[models.PriceField] `json:"prices"`
}

// PricesLatest reads the newest stored tick per symbol without calling any
// provider.
func (a *API) PricesLatest(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	symbols := parseSymbols(r.URL.Query().Get("symbols"), a.cfg.MaxSymbols)
	if len(symbols) == 0 {
		symbols = parseSymbols(strings.Join(a.cfg.DefaultSymbols, ","), a.cfg.MaxSymbols)
	}
	ctx, cancel := timeboxed(r, a.cfg.RequestTimeout)
	defer cancel()

	out := pricesResponse{TsISO: nowISO(), Prices: map[string]models.Slot[models.PriceField]{}}
	for _, sym := range symbols {
		t, ok, err := a.store.LatestPrice(ctx, sym)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if !ok {
			out.Prices[sym] = models.Missing[models.PriceField]()
			continue
		}
		out.Prices[sym] = models.Available(models.PriceFieldFrom(t))
	}
	writeJSON(w, http.StatusOK, out)
}

