package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/shreedharn/bedrock-cost-keeper/apierr"
	"github.com/shreedharn/bedrock-cost-keeper/credential"
)

// CredentialHandler implements secret rotation and the one-time retrieval
// grant that replaces handing the raw secret back in the rotation
// response body (spec.md §3 "Secret-retrieval grant").
type CredentialHandler struct {
	logger      zerolog.Logger
	credentials *credential.Service
	grants      credential.GrantStore
}

func NewCredentialHandler(logger zerolog.Logger, credentials *credential.Service, grants credential.GrantStore) *CredentialHandler {
	return &CredentialHandler{logger: logger.With().Str("handler", "credential").Logger(), credentials: credentials, grants: grants}
}

type rotateRequest struct {
	GraceHours int `json:"grace_hours"`
}

type rotateResponse struct {
	ClientID        string `json:"client_id"`
	RetrievalToken  string `json:"retrieval_token"`
	GraceUntilEpoch int64  `json:"grace_until_epoch"`
}

// RotateOrg implements POST /orgs/{org_id}/credentials/rotate. The freshly
// minted secret is never placed in the response body directly — it is
// wrapped in a short-lived retrieval grant the operator redeems once.
func (h *CredentialHandler) RotateOrg(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "org_id")
	var body rotateRequest
	if err := decodeJSON(r, &body); err != nil {
		apierr.WriteHTTP(w, err)
		return
	}

	result, err := h.credentials.RotateOrg(r.Context(), orgID, body.GraceHours)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}
	h.respondRotated(w, r, result.ClientID, result.Secret, result.GraceUntilEpoch)
}

// RotateApp implements POST /orgs/{org_id}/apps/{app_id}/credentials/rotate.
func (h *CredentialHandler) RotateApp(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "org_id")
	appID := chi.URLParam(r, "app_id")
	var body rotateRequest
	if err := decodeJSON(r, &body); err != nil {
		apierr.WriteHTTP(w, err)
		return
	}

	result, err := h.credentials.RotateApp(r.Context(), orgID, appID, body.GraceHours)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}
	h.respondRotated(w, r, result.ClientID, result.Secret, result.GraceUntilEpoch)
}

func (h *CredentialHandler) respondRotated(w http.ResponseWriter, r *http.Request, clientID, secret string, graceUntilEpoch int64) {
	grantToken, err := credential.IssueRetrievalGrant(r.Context(), h.grants, secret)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rotateResponse{
		ClientID:        clientID,
		RetrievalToken:  grantToken,
		GraceUntilEpoch: graceUntilEpoch,
	})
}

type retrieveSecretResponse struct {
	Secret string `json:"secret"`
}

// RetrieveSecret implements GET /orgs/{org_id}/credentials/retrieve/{token}
// and its app-scoped counterpart: redeems a retrieval grant exactly once.
func (h *CredentialHandler) RetrieveSecret(w http.ResponseWriter, r *http.Request) {
	grantToken := chi.URLParam(r, "token")
	if grantToken == "" {
		apierr.WriteHTTP(w, apierr.New(apierr.CodeInvalidRequest, "retrieval token is required"))
		return
	}
	secret, err := credential.RedeemRetrievalGrant(r.Context(), h.grants, grantToken)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, retrieveSecretResponse{Secret: secret})
}
