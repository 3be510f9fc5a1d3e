package handler

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"
)

// StoreProber is the narrow dependency the health endpoint needs —
// every domain package's Store interface is a superset, but the health
// check should not depend on any one of them.
type StoreProber interface {
	Ping(ctx context.Context) error
}

// HealthHandler implements GET /health: liveness plus a store round-trip
// (spec §6.1).
type HealthHandler struct {
	logger zerolog.Logger
	store  StoreProber
}

func NewHealthHandler(logger zerolog.Logger, store StoreProber) *HealthHandler {
	return &HealthHandler{logger: logger.With().Str("handler", "health").Logger(), store: store}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.Warn().Err(err).Msg("store probe failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "store": "unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "store": "ok"})
}
