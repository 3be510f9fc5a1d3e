package handler

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/shreedharn/bedrock-cost-keeper/apierr"
	"github.com/shreedharn/bedrock-cost-keeper/credential"
	"github.com/shreedharn/bedrock-cost-keeper/observability"
	"github.com/shreedharn/bedrock-cost-keeper/token"
)

// AuthHandler implements the token issue/refresh/revoke endpoints (spec §6.1).
type AuthHandler struct {
	logger       zerolog.Logger
	credentials  *credential.Service
	tokens       *token.Service
	accessTTLSec int64
	metrics      *observability.Metrics
}

func NewAuthHandler(logger zerolog.Logger, credentials *credential.Service, tokens *token.Service, accessTTLSec int64, metrics *observability.Metrics) *AuthHandler {
	return &AuthHandler{
		logger:       logger.With().Str("handler", "auth").Logger(),
		credentials:  credentials,
		tokens:       tokens,
		accessTTLSec: accessTTLSec,
		metrics:      metrics,
	}
}

type tokenRequestBody struct {
	GrantType    string `json:"grant_type"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RefreshToken string `json:"refresh_token"`
}

// parseTokenRequest accepts either a JSON body or an
// application/x-www-form-urlencoded body, the two conventional shapes for
// an OAuth2-style token exchange.
func parseTokenRequest(r *http.Request) (tokenRequestBody, error) {
	var body tokenRequestBody
	if r.Header.Get("Content-Type") == "application/x-www-form-urlencoded" {
		if err := r.ParseForm(); err != nil {
			return body, apierr.Wrap(apierr.CodeInvalidRequest, "malformed form body", err)
		}
		body.GrantType = r.PostForm.Get("grant_type")
		body.ClientID = r.PostForm.Get("client_id")
		body.ClientSecret = r.PostForm.Get("client_secret")
		body.RefreshToken = r.PostForm.Get("refresh_token")
		return body, nil
	}
	if err := decodeJSON(r, &body); err != nil {
		return body, err
	}
	return body, nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// IssueToken implements POST /auth/token: a client-credentials exchange
// that mints a fresh access+refresh pair (spec §6.1).
func (h *AuthHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	body, err := parseTokenRequest(r)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}
	if body.GrantType != "" && body.GrantType != "client_credentials" {
		apierr.WriteHTTP(w, apierr.New(apierr.CodeInvalidRequest, "grant_type must be client_credentials for this endpoint"))
		return
	}
	if body.ClientID == "" || body.ClientSecret == "" {
		apierr.WriteHTTP(w, apierr.New(apierr.CodeInvalidRequest, "client_id and client_secret are required"))
		return
	}

	subject, err := h.credentials.Verify(r.Context(), body.ClientID, body.ClientSecret)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}

	access, err := h.tokens.IssueAccessToken(subject.OrgID, subject.AppID)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}
	refresh, err := h.tokens.IssueRefreshToken(subject.OrgID, subject.AppID)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}
	if h.metrics != nil {
		h.metrics.TokensIssued.WithLabelValues("access").Inc()
		h.metrics.TokensIssued.WithLabelValues("refresh").Inc()
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  access.Raw,
		RefreshToken: refresh.Raw,
		TokenType:    "Bearer",
		ExpiresIn:    h.accessTTLSec,
	})
}

// RefreshToken implements POST /auth/refresh: exchanges a valid refresh
// token for a new access token without rotating the refresh token itself.
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	body, err := parseTokenRequest(r)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}
	if body.RefreshToken == "" {
		apierr.WriteHTTP(w, apierr.New(apierr.CodeInvalidRequest, "refresh_token is required"))
		return
	}

	access, err := h.tokens.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}
	if h.metrics != nil {
		h.metrics.TokensIssued.WithLabelValues("access").Inc()
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: access.Raw,
		TokenType:   "Bearer",
		ExpiresIn:   h.accessTTLSec,
	})
}

type revokeRequest struct {
	Token         string `json:"token"`
	TokenTypeHint string `json:"token_type_hint,omitempty"`
}

func bearerTokenFromRequest(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", apierr.New(apierr.CodeUnauthorized, "missing Authorization header")
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", apierr.New(apierr.CodeUnauthorized, "Authorization header must use the Bearer scheme")
	}
	raw := strings.TrimSpace(header[len(prefix):])
	if raw == "" {
		return "", apierr.New(apierr.CodeUnauthorized, "bearer token is empty")
	}
	return raw, nil
}

// Revoke implements POST /auth/revoke: accepts either an access or a
// refresh token and adds it to the revocation list until its own expiry.
// The caller must authenticate with its own access token, and may only
// revoke a token whose subject matches its own (spec §4.C, §7 "forbidden").
func (h *AuthHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	callerRaw, err := bearerTokenFromRequest(r)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}
	caller, err := h.tokens.Verify(r.Context(), callerRaw, token.KindAccess)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}

	var body revokeRequest
	if err := decodeJSON(r, &body); err != nil {
		apierr.WriteHTTP(w, err)
		return
	}
	if body.Token == "" {
		apierr.WriteHTTP(w, apierr.New(apierr.CodeInvalidRequest, "token is required"))
		return
	}

	verified, kind, err := h.tokens.VerifyEither(r.Context(), body.Token)
	if err != nil {
		// Revoking an already-invalid token is not an error — the
		// caller's goal (the token being unusable) already holds.
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if caller.OrgID != verified.OrgID {
		apierr.WriteHTTP(w, apierr.New(apierr.CodeForbidden, "cannot revoke a token belonging to another subject"))
		return
	}

	if err := h.tokens.Revoke(r.Context(), verified.JTI, verified.OrgID, kind, verified.ExpEpoch); err != nil {
		apierr.WriteHTTP(w, err)
		return
	}
	if h.metrics != nil {
		h.metrics.TokensRevoked.WithLabelValues(string(kind)).Inc()
	}
	w.WriteHeader(http.StatusNoContent)
}
