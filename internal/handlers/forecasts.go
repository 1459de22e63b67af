package handlers

import (
	"net/http"
	"strings"

	"github.com/GBR24/kolmo-mvp/internal/forecast"
	"github.com/GBR24/kolmo-mvp/internal/models"
)

type forecastHistoryResponse struct {
	TsISO  string              `json:"tsISO"`
	Symbol string              `json:"symbol"`
	Method string              `json:"method,omitempty"`
	Items  []models.Prediction `json:"items"`
}

func forecastQuery(r *http.Request, defMethod string) (string, string, string) {
	q := r.URL.Query()
	symbol := strings.ToUpper(strings.TrimSpace(q.Get("symbol")))
	method := strings.TrimSpace(q.Get("method"))
	if method == "" {
		method = defMethod
	}
	switch {
	case symbol == "":
		return "", "", "symbol required"
	// auto predictions are stored under the method they resolved to
	case strings.EqualFold(method, "all"), strings.EqualFold(method, forecast.Auto):
		method = ""
	case !forecast.Known(method):
		return "", "", "unknown method " + method
	}
	return symbol, method, ""
}

func (a *API) ForecastLatest(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	symbol, method, problem := forecastQuery(r, a.cfg.ForecastMethod)
	if problem != "" {
		writeError(w, http.StatusBadRequest, problem)
		return
	}
	ctx, cancel := timeboxed(r, a.cfg.RequestTimeout)
	defer cancel()

	p, ok, err := a.store.LatestPrediction(ctx, symbol, method)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no forecast for "+symbol)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) ForecastHistory(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	symbol, method, problem := forecastQuery(r, a.cfg.ForecastMethod)
	if problem != "" {
		writeError(w, http.StatusBadRequest, problem)
		return
	}
	limit := parseIntParam(r.URL.Query().Get("limit"), 50, 1, 500)
	ctx, cancel := timeboxed(r, a.cfg.RequestTimeout)
	defer cancel()

	items, err := a.store.PredictionHistory(ctx, symbol, method, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, forecastHistoryResponse{TsISO: nowISO(), Symbol: symbol, Method: method, Items: items})
}
