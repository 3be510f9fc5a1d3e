package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/shreedharn/bedrock-cost-keeper/apierr"
	"github.com/shreedharn/bedrock-cost-keeper/label"
	"github.com/shreedharn/bedrock-cost-keeper/store"
)

// ProfileHandler implements inference-profile registration and lookup
// (spec §4.E / §6.1).
type ProfileHandler struct {
	logger   zerolog.Logger
	resolver *label.Resolver
}

func NewProfileHandler(logger zerolog.Logger, resolver *label.Resolver) *ProfileHandler {
	return &ProfileHandler{logger: logger.With().Str("handler", "profile").Logger(), resolver: resolver}
}

type registerProfileRequest struct {
	Label string `json:"label"`
	ARN   string `json:"arn"`
}

func profileView(p *store.Profile) map[string]interface{} {
	return map[string]interface{}{
		"org_id":          p.OrgID,
		"app_id":          p.AppID,
		"label":           p.Label,
		"arn":             p.ARN,
		"region_map":      p.RegionMap,
		"created_at_epoch": p.CreatedAtEpoch,
	}
}

// Register implements POST /orgs/{org_id}/apps/{app_id}/inference-profiles.
func (h *ProfileHandler) Register(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "org_id")
	appID := chi.URLParam(r, "app_id")
	var body registerProfileRequest
	if err := decodeJSON(r, &body); err != nil {
		apierr.WriteHTTP(w, err)
		return
	}
	if body.Label == "" || body.ARN == "" {
		apierr.WriteHTTP(w, apierr.New(apierr.CodeInvalidRequest, "label and arn are required"))
		return
	}

	profile, err := h.resolver.RegisterProfile(r.Context(), orgID, appID, body.Label, body.ARN)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, profileView(profile))
}

// Get implements GET /orgs/{org_id}/apps/{app_id}/inference-profiles/{label}.
func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "org_id")
	appID := chi.URLParam(r, "app_id")
	lbl := chi.URLParam(r, "label")

	profile, err := h.resolver.GetProfile(r.Context(), orgID, appID, lbl)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profileView(profile))
}

// List implements GET /orgs/{org_id}/apps/{app_id}/inference-profiles.
func (h *ProfileHandler) List(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "org_id")
	appID := chi.URLParam(r, "app_id")

	profiles, err := h.resolver.ListProfiles(r.Context(), orgID, appID)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}
	views := make([]map[string]interface{}, 0, len(profiles))
	for _, p := range profiles {
		views = append(views, profileView(p))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"profiles": views})
}
