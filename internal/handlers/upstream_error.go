package handlers

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/GBR24/kolmo-mvp/internal/services"
)

// writeUpstreamError maps a provider failure onto the status a caller of this
// API should see.
func writeUpstreamError(w http.ResponseWriter, err error, status int) {
	var upErr *services.UpstreamError
	if errors.As(err, &upErr) {
		body := map[string]any{"error": err.Error(), "provider": upErr.Provider, "upstream_status": upErr.Status}
		switch {
		case upErr.Status == http.StatusTooManyRequests:
			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, body)
		case upErr.Status == http.StatusRequestTimeout || upErr.Status == http.StatusGatewayTimeout:
			writeJSON(w, http.StatusGatewayTimeout, body)
		case upErr.Status >= 400 && upErr.Status < 500:
			writeJSON(w, http.StatusUnprocessableEntity, body)
		default:
			writeJSON(w, http.StatusBadGateway, body)
		}
		return
	}

	if errors.Is(err, services.ErrCircuitOpen) {
		w.Header().Set("Retry-After", "30")
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": err.Error()})
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		writeJSON(w, http.StatusGatewayTimeout, map[string]any{"error": "upstream_timeout"})
		return
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		writeJSON(w, http.StatusGatewayTimeout, map[string]any{"error": "upstream_timeout"})
		return
	}
	if status != 0 {
		writeJSON(w, status, map[string]any{"error": err.Error(), "upstream_status": status})
		return
	}
	writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error()})
}
