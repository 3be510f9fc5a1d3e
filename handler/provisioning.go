package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/shreedharn/bedrock-cost-keeper/apierr"
	"github.com/shreedharn/bedrock-cost-keeper/provisioning"
)

// ProvisioningHandler implements the org/app upsert endpoints (spec §6.1).
// These sit behind the provisioning API key, not a bearer access token.
type ProvisioningHandler struct {
	logger  zerolog.Logger
	service *provisioning.Service
}

func NewProvisioningHandler(logger zerolog.Logger, service *provisioning.Service) *ProvisioningHandler {
	return &ProvisioningHandler{logger: logger.With().Str("handler", "provisioning").Logger(), service: service}
}

type upsertOrgRequest struct {
	OrgName               string           `json:"org_name"`
	Timezone              string           `json:"timezone"`
	QuotaScope            string           `json:"quota_scope"`
	ModelOrdering         []string         `json:"model_ordering"`
	Quotas                map[string]int64 `json:"quotas"`
	ShardCount            int              `json:"shard_count,omitempty"`
	TightModeThresholdPct float64          `json:"tight_mode_threshold_pct,omitempty"`
}

type upsertResponse struct {
	ClientID string `json:"client_id"`
	Secret   string `json:"secret,omitempty"`
	Created  bool   `json:"created"`
}

// UpsertOrg implements PUT /orgs/{org_id}.
func (h *ProvisioningHandler) UpsertOrg(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "org_id")
	if orgID == "" {
		apierr.WriteHTTP(w, apierr.New(apierr.CodeInvalidRequest, "org_id is required"))
		return
	}
	var body upsertOrgRequest
	if err := decodeJSON(r, &body); err != nil {
		apierr.WriteHTTP(w, err)
		return
	}

	result, err := h.service.CreateOrUpdateOrg(r.Context(), provisioning.OrgInput{
		OrgID:                 orgID,
		OrgName:               body.OrgName,
		Timezone:              body.Timezone,
		QuotaScope:            body.QuotaScope,
		ModelOrdering:         body.ModelOrdering,
		Quotas:                body.Quotas,
		ShardCount:            body.ShardCount,
		TightModeThresholdPct: body.TightModeThresholdPct,
	})
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}

	writeJSON(w, http.StatusOK, upsertResponse{ClientID: result.ClientID, Secret: result.Secret, Created: result.Created})
}

type upsertAppRequest struct {
	AppName               string           `json:"app_name"`
	ModelOrdering         []string         `json:"model_ordering,omitempty"`
	Quotas                map[string]int64 `json:"quotas,omitempty"`
	ShardCount            int              `json:"shard_count,omitempty"`
	TightModeThresholdPct float64          `json:"tight_mode_threshold_pct,omitempty"`
}

// UpsertApp implements PUT /orgs/{org_id}/apps/{app_id}.
func (h *ProvisioningHandler) UpsertApp(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "org_id")
	appID := chi.URLParam(r, "app_id")
	if orgID == "" || appID == "" {
		apierr.WriteHTTP(w, apierr.New(apierr.CodeInvalidRequest, "org_id and app_id are required"))
		return
	}
	var body upsertAppRequest
	if err := decodeJSON(r, &body); err != nil {
		apierr.WriteHTTP(w, err)
		return
	}

	result, err := h.service.CreateOrUpdateApp(r.Context(), provisioning.AppInput{
		OrgID:                 orgID,
		AppID:                 appID,
		AppName:               body.AppName,
		ModelOrdering:         body.ModelOrdering,
		Quotas:                body.Quotas,
		ShardCount:            body.ShardCount,
		TightModeThresholdPct: body.TightModeThresholdPct,
	})
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}

	writeJSON(w, http.StatusOK, upsertResponse{ClientID: result.ClientID, Secret: result.Secret, Created: result.Created})
}
