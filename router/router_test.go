package router

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/shreedharn/bedrock-cost-keeper/aggregates"
	"github.com/shreedharn/bedrock-cost-keeper/authz"
	"github.com/shreedharn/bedrock-cost-keeper/clock"
	"github.com/shreedharn/bedrock-cost-keeper/config"
	"github.com/shreedharn/bedrock-cost-keeper/credential"
	"github.com/shreedharn/bedrock-cost-keeper/label"
	"github.com/shreedharn/bedrock-cost-keeper/metering"
	"github.com/shreedharn/bedrock-cost-keeper/observability"
	"github.com/shreedharn/bedrock-cost-keeper/provisioning"
	"github.com/shreedharn/bedrock-cost-keeper/selection"
	"github.com/shreedharn/bedrock-cost-keeper/store"
	"github.com/shreedharn/bedrock-cost-keeper/token"
)

type nullDescriber struct{}

func (nullDescriber) DescribeProfile(ctx context.Context, region, arn string) (map[string]string, error) {
	return map[string]string{region: "anthropic.claude-standard-v1"}, nil
}

// priceResolverShim satisfies metering.PriceResolver directly off the
// static pricebook, since router tests never exercise date/region overrides.
type priceResolverShim struct {
	book map[string]*store.PriceEntry
}

func (p *priceResolverShim) Resolve(ctx context.Context, modelID, date, region string) (*store.PriceEntry, error) {
	for _, e := range p.book {
		if e.ModelID == modelID {
			return e, nil
		}
	}
	return p.book["standard"], nil
}

func testPricebook() map[string]*store.PriceEntry {
	return map[string]*store.PriceEntry{
		"premium":  {Label: "premium", Kind: "model", ModelID: "anthropic.claude-premium-v1", InputPriceMicrosPer1M: 15_000_000, OutputPriceMicrosPer1M: 75_000_000},
		"standard": {Label: "standard", Kind: "model", ModelID: "anthropic.claude-standard-v1", InputPriceMicrosPer1M: 3_000_000, OutputPriceMicrosPer1M: 15_000_000},
	}
}

func testRouter(t *testing.T) (http.Handler, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore()
	fc := clock.NewFixed(time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC))
	logger := zerolog.New(io.Discard)
	book := testPricebook()

	credentials := credential.New(s, fc)
	tokens, err := token.New([]byte("test-signing-key-please-ignore"), s, fc, 3600, 86400)
	if err != nil {
		t.Fatalf("token.New: %v", err)
	}
	labels := label.NewResolver(s, nullDescriber{}, book)
	prices := &priceResolverShim{book: book}
	meter := metering.New(s, labels, prices, fc, 90, 4)
	selector := selection.New(s, meter, fc, 0.8)
	aggregator := aggregates.New(s, meter, fc, 90)
	prov := provisioning.New(s, fc, book)

	cfg := &config.Config{
		ProvisioningAPIKey: "op-secret",
		AccessTokenTTL:     time.Hour,
		RefreshTokenTTL:    24 * time.Hour,
		MaxBodyBytes:       1 << 20,
		RequestTimeout:     5 * time.Second,
		CORSAllowedOrigins: []string{"*"},
	}

	r := NewRouter(Deps{
		Config:       cfg,
		Logger:       logger,
		Store:        s,
		Credentials:  credentials,
		Grants:       s,
		Tokens:       tokens,
		Authorizer:   authz.New(tokens),
		Provisioning: prov,
		Labels:       labels,
		Meter:        meter,
		Selection:    selector,
		Aggregates:   aggregator,
		Metrics:      observability.NewMetrics(logger),
	})
	return r, s
}

func jsonBody(t *testing.T, v interface{}) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return &buf
}

func doJSON(t *testing.T, r http.Handler, method, path, bearer string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf *bytes.Buffer
	if body != nil {
		buf = jsonBody(t, body)
	} else {
		buf = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)
	return rw
}

func TestHealthEndpoint(t *testing.T) {
	r, _ := testRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	r, _ := testRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}
}

func TestProvisioningRequiresOperatorKey(t *testing.T) {
	r, _ := testRouter(t)

	body := map[string]interface{}{
		"org_name":       "Acme",
		"timezone":       "UTC",
		"quota_scope":    "ORG",
		"model_ordering": []string{"premium", "standard"},
		"quotas":         map[string]int64{"premium": 10_000, "standard": 50_000},
	}

	rw := doJSON(t, r, http.MethodPut, "/orgs/org-1", "", body)
	if rw.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without operator key, got %d: %s", rw.Code, rw.Body.String())
	}

	req := httptest.NewRequest(http.MethodPut, "/orgs/org-1", jsonBody(t, body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Provisioning-Api-Key", "op-secret")
	rw = httptest.NewRecorder()
	r.ServeHTTP(rw, req)
	if rw.Code != http.StatusOK && rw.Code != http.StatusCreated {
		t.Fatalf("expected success with operator key, got %d: %s", rw.Code, rw.Body.String())
	}
}

func TestFullOrgLifecycle(t *testing.T) {
	r, _ := testRouter(t)
	const orgID = "11111111-1111-1111-1111-111111111111"

	orgBody := map[string]interface{}{
		"org_name":       "Acme",
		"timezone":       "UTC",
		"quota_scope":    "ORG",
		"model_ordering": []string{"premium", "standard"},
		"quotas":         map[string]int64{"premium": 10_000, "standard": 50_000},
	}
	req := httptest.NewRequest(http.MethodPut, "/orgs/"+orgID, jsonBody(t, orgBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Provisioning-Api-Key", "op-secret")
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)
	if rw.Code != http.StatusCreated && rw.Code != http.StatusOK {
		t.Fatalf("org upsert failed: %d %s", rw.Code, rw.Body.String())
	}
	var orgResult struct {
		ClientID string `json:"client_id"`
		Secret   string `json:"secret"`
	}
	if err := json.Unmarshal(rw.Body.Bytes(), &orgResult); err != nil {
		t.Fatalf("decode org upsert response: %v", err)
	}
	if orgResult.ClientID == "" || orgResult.Secret == "" {
		t.Fatalf("expected client_id and secret, got %+v", orgResult)
	}

	tokenBody := map[string]string{
		"grant_type":    "client_credentials",
		"client_id":     orgResult.ClientID,
		"client_secret": orgResult.Secret,
	}
	rw = doJSON(t, r, http.MethodPost, "/auth/token", "", tokenBody)
	if rw.Code != http.StatusOK {
		t.Fatalf("token issue failed: %d %s", rw.Code, rw.Body.String())
	}
	var tok struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(rw.Body.Bytes(), &tok); err != nil {
		t.Fatalf("decode token response: %v", err)
	}
	if tok.AccessToken == "" {
		t.Fatal("expected a non-empty access token")
	}

	req = httptest.NewRequest(http.MethodPut, "/orgs/"+orgID+"/apps/app-1", jsonBody(t, map[string]interface{}{"app_name": "Chatbot"}))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Provisioning-Api-Key", "op-secret")
	rw = httptest.NewRecorder()
	r.ServeHTTP(rw, req)
	if rw.Code != http.StatusCreated && rw.Code != http.StatusOK {
		t.Fatalf("app upsert failed: %d %s", rw.Code, rw.Body.String())
	}

	usageBody := map[string]interface{}{
		"request_id":    "req-1",
		"label":         "premium",
		"input_tokens":  1000,
		"output_tokens": 500,
		"status":        "OK",
		"timestamp":     time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC).Format(time.RFC3339),
	}
	rw = doJSON(t, r, http.MethodPost, "/orgs/"+orgID+"/apps/app-1/usage", tok.AccessToken, usageBody)
	if rw.Code != http.StatusAccepted {
		t.Fatalf("usage submit failed: %d %s", rw.Code, rw.Body.String())
	}

	rw = doJSON(t, r, http.MethodGet, "/orgs/"+orgID+"/apps/app-1/aggregates/today", tok.AccessToken, nil)
	if rw.Code != http.StatusOK {
		t.Fatalf("aggregates read failed: %d %s", rw.Code, rw.Body.String())
	}
}

func TestRevokedTokenRejected(t *testing.T) {
	r, _ := testRouter(t)

	orgBody := map[string]interface{}{
		"org_name":       "Acme",
		"timezone":       "UTC",
		"quota_scope":    "ORG",
		"model_ordering": []string{"premium", "standard"},
		"quotas":         map[string]int64{"premium": 10_000, "standard": 50_000},
	}
	req := httptest.NewRequest(http.MethodPut, "/orgs/22222222-2222-2222-2222-222222222222", jsonBody(t, orgBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Provisioning-Api-Key", "op-secret")
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)
	var orgResult struct {
		ClientID string `json:"client_id"`
		Secret   string `json:"secret"`
	}
	if err := json.Unmarshal(rw.Body.Bytes(), &orgResult); err != nil {
		t.Fatalf("decode org upsert response: %v", err)
	}

	rw = doJSON(t, r, http.MethodPost, "/auth/token", "", map[string]string{
		"client_id":     orgResult.ClientID,
		"client_secret": orgResult.Secret,
	})
	var tok struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(rw.Body.Bytes(), &tok); err != nil {
		t.Fatalf("decode token response: %v", err)
	}

	rw = doJSON(t, r, http.MethodPost, "/auth/revoke", tok.AccessToken, map[string]string{"token": tok.AccessToken})
	if rw.Code != http.StatusNoContent {
		t.Fatalf("revoke failed: %d %s", rw.Code, rw.Body.String())
	}

	rw = doJSON(t, r, http.MethodGet, "/orgs/22222222-2222-2222-2222-222222222222/aggregates/today", tok.AccessToken, nil)
	if rw.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for revoked token, got %d: %s", rw.Code, rw.Body.String())
	}
}

func TestRevokeRequiresAuth(t *testing.T) {
	r, _ := testRouter(t)

	rw := doJSON(t, r, http.MethodPost, "/auth/revoke", "", map[string]string{"token": "whatever"})
	if rw.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without an Authorization header, got %d: %s", rw.Code, rw.Body.String())
	}
}

func TestRevokeForbidsCrossSubjectToken(t *testing.T) {
	r, _ := testRouter(t)

	mkOrgAndToken := func(orgID string) string {
		orgBody := map[string]interface{}{
			"org_name":       "Acme",
			"timezone":       "UTC",
			"quota_scope":    "ORG",
			"model_ordering": []string{"premium", "standard"},
			"quotas":         map[string]int64{"premium": 10_000, "standard": 50_000},
		}
		req := httptest.NewRequest(http.MethodPut, "/orgs/"+orgID, jsonBody(t, orgBody))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Provisioning-Api-Key", "op-secret")
		rw := httptest.NewRecorder()
		r.ServeHTTP(rw, req)
		var orgResult struct {
			ClientID string `json:"client_id"`
			Secret   string `json:"secret"`
		}
		if err := json.Unmarshal(rw.Body.Bytes(), &orgResult); err != nil {
			t.Fatalf("decode org upsert response: %v", err)
		}

		rw = doJSON(t, r, http.MethodPost, "/auth/token", "", map[string]string{
			"client_id":     orgResult.ClientID,
			"client_secret": orgResult.Secret,
		})
		var tok struct {
			AccessToken string `json:"access_token"`
		}
		if err := json.Unmarshal(rw.Body.Bytes(), &tok); err != nil {
			t.Fatalf("decode token response: %v", err)
		}
		return tok.AccessToken
	}

	tokenA := mkOrgAndToken("aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa")
	tokenB := mkOrgAndToken("bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb")

	rw := doJSON(t, r, http.MethodPost, "/auth/revoke", tokenA, map[string]string{"token": tokenB})
	if rw.Code != http.StatusForbidden {
		t.Fatalf("expected 403 revoking another subject's token, got %d: %s", rw.Code, rw.Body.String())
	}

	rw = doJSON(t, r, http.MethodGet, "/orgs/bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb/aggregates/today", tokenB, nil)
	if rw.Code != http.StatusOK {
		t.Fatalf("expected org-b's token to remain valid after a forbidden cross-subject revoke attempt, got %d: %s", rw.Code, rw.Body.String())
	}
}
