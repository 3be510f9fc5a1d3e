package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/shreedharn/bedrock-cost-keeper/aggregates"
	"github.com/shreedharn/bedrock-cost-keeper/apierr"
)

// AggregatesHandler implements the live and historical summary endpoints
// (spec §4.H / §6.1), scoped to an org or an app nested under it.
type AggregatesHandler struct {
	logger    zerolog.Logger
	projector *aggregates.Projector
}

func NewAggregatesHandler(logger zerolog.Logger, projector *aggregates.Projector) *AggregatesHandler {
	return &AggregatesHandler{logger: logger.With().Str("handler", "aggregates").Logger(), projector: projector}
}

// Today implements GET /orgs/{org_id}/aggregates/today and
// GET /orgs/{org_id}/apps/{app_id}/aggregates/today — appID is empty for
// the org-scoped route since chi only binds params present in its pattern.
func (h *AggregatesHandler) Today(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "org_id")
	appID := chi.URLParam(r, "app_id")

	view, err := h.projector.Today(r.Context(), orgID, appID)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// ForDate implements the historical counterparts at
// .../aggregates/{YYYY-MM-DD}, accepting the date with dashes and
// converting to the package's internal YYYYMMDD day-key form.
func (h *AggregatesHandler) ForDate(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "org_id")
	appID := chi.URLParam(r, "app_id")
	date := chi.URLParam(r, "date")

	dayKeyRaw, err := normalizeDate(date)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}

	view, err := h.projector.ForDate(r.Context(), orgID, appID, dayKeyRaw)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// normalizeDate converts "YYYY-MM-DD" to the "YYYYMMDD" day-key form the
// domain packages use internally (spec §6.1 historical route).
func normalizeDate(date string) (string, error) {
	if len(date) != 10 || date[4] != '-' || date[7] != '-' {
		return "", apierr.Newf(apierr.CodeInvalidRequest, "date %q must be in YYYY-MM-DD form", date)
	}
	return date[0:4] + date[5:7] + date[8:10], nil
}
