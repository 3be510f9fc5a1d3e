package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/shreedharn/bedrock-cost-keeper/apierr"
	"github.com/shreedharn/bedrock-cost-keeper/observability"
	"github.com/shreedharn/bedrock-cost-keeper/selection"
)

// SelectionHandler implements the model-selection recommendation endpoint
// (spec §4.G / §6.1).
type SelectionHandler struct {
	logger  zerolog.Logger
	engine  *selection.Engine
	metrics *observability.Metrics
}

func NewSelectionHandler(logger zerolog.Logger, engine *selection.Engine, metrics *observability.Metrics) *SelectionHandler {
	return &SelectionHandler{logger: logger.With().Str("handler", "selection").Logger(), engine: engine, metrics: metrics}
}

type selectionResponse struct {
	Label          string `json:"label"`
	ModelIndex     int    `json:"model_index"`
	Mode           string `json:"mode"`
	RecheckSeconds int    `json:"recheck_seconds"`
	SpentMicros    int64  `json:"spent_micros"`
	QuotaMicros    int64  `json:"quota_micros"`
	StickyReason   string `json:"sticky_reason,omitempty"`
}

// Select implements GET /orgs/{org_id}/apps/{app_id}/model-selection.
func (h *SelectionHandler) Select(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "org_id")
	appID := chi.URLParam(r, "app_id")

	result, err := h.engine.Select(r.Context(), orgID, appID)
	if err != nil {
		if h.metrics != nil && apierr.Is(err, apierr.CodeQuotaExceeded) {
			h.metrics.QuotaExceeded.WithLabelValues(orgID, appID).Inc()
		}
		apierr.WriteHTTP(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.SelectionsTotal.WithLabelValues(orgID, appID, string(result.Mode)).Inc()
		if result.StickyReason != "" {
			h.metrics.StickyFallbacks.WithLabelValues(orgID, appID).Inc()
		}
	}

	writeJSON(w, http.StatusOK, selectionResponse{
		Label:          result.Label,
		ModelIndex:     result.ModelIndex,
		Mode:           string(result.Mode),
		RecheckSeconds: result.RecheckSeconds,
		SpentMicros:    result.SpentMicros,
		QuotaMicros:    result.QuotaMicros,
		StickyReason:   result.StickyReason,
	})
}
