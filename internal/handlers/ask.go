package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/GBR24/kolmo-mvp/internal/models"
	"github.com/GBR24/kolmo-mvp/internal/orchestrator"
)

const maxAskBody = 64 << 10

// Ask accepts a JSON Request body on POST, or q/symbols/horizon query
// parameters on GET. An empty request falls through to the default symbols
// and horizon.
func (a *API) Ask(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet, http.MethodPost) {
		return
	}
	var req models.Request
	if r.Method == http.MethodPost {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAskBody)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	} else {
		q := r.URL.Query()
		// no cap here; the orchestrator rejects requests over the symbol limit
		req = models.Request{
			QueryText: q.Get("q"),
			Symbols:   parseSymbols(q.Get("symbols"), 0),
			Horizon:   q.Get("horizon"),
		}
	}
	resp, err := a.asker.Handle(r.Context(), req)
	if err != nil {
		var (
			intentErr *orchestrator.InvalidIntentError
			schemaErr *orchestrator.SchemaViolationError
		)
		switch {
		case errors.As(err, &intentErr):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.As(err, &schemaErr):
			log.Error().Err(err).Msg("ask: response failed validation")
			writeError(w, http.StatusInternalServerError, "internal: response failed validation")
		case errors.Is(err, context.DeadlineExceeded):
			writeError(w, http.StatusGatewayTimeout, "timeout")
		default:
			log.Error().Err(err).Msg("ask failed")
			writeError(w, http.StatusInternalServerError, "internal")
		}
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
