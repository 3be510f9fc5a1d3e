package provisioning

import (
	"context"
	"testing"
	"time"

	"github.com/shreedharn/bedrock-cost-keeper/apierr"
	"github.com/shreedharn/bedrock-cost-keeper/clock"
	"github.com/shreedharn/bedrock-cost-keeper/store"
)

func testPricebook() map[string]*store.PriceEntry {
	return map[string]*store.PriceEntry{
		"premium":  {Label: "premium", Kind: "model", ModelID: "anthropic.claude-premium-v1", InputPriceMicrosPer1M: 15_000_000, OutputPriceMicrosPer1M: 75_000_000},
		"standard": {Label: "standard", Kind: "model", ModelID: "anthropic.claude-standard-v1", InputPriceMicrosPer1M: 3_000_000, OutputPriceMicrosPer1M: 15_000_000},
	}
}

func newService() (*Service, *store.MemoryStore) {
	s := store.NewMemoryStore()
	fc := clock.NewFixed(time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC))
	return New(s, fc, testPricebook()), s
}

func TestCreateOrgMintsSecretOnce(t *testing.T) {
	ctx := context.Background()
	svc, s := newService()
	in := OrgInput{
		OrgID:         "org-1",
		OrgName:       "Acme",
		Timezone:      "UTC",
		QuotaScope:    "ORG",
		ModelOrdering: []string{"premium", "standard"},
		Quotas:        map[string]int64{"premium": 10_000, "standard": 50_000},
	}

	result, err := svc.CreateOrUpdateOrg(ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Created || result.Secret == "" {
		t.Fatalf("expected created with a fresh secret, got %+v", result)
	}

	cfg, err := s.GetOrgConfig(ctx, "org-1")
	if err != nil {
		t.Fatal(err)
	}
	firstHash := cfg.ClientSecretHash

	// Updating must not mint a new secret or touch the hash.
	in.OrgName = "Acme Corp"
	result2, err := svc.CreateOrUpdateOrg(ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	if result2.Created || result2.Secret != "" {
		t.Fatalf("expected update with no secret, got %+v", result2)
	}
	cfg2, err := s.GetOrgConfig(ctx, "org-1")
	if err != nil {
		t.Fatal(err)
	}
	if cfg2.ClientSecretHash != firstHash {
		t.Error("update must not rotate the secret hash")
	}
	if cfg2.OrgName != "Acme Corp" {
		t.Errorf("org name not updated, got %q", cfg2.OrgName)
	}
}

func TestCreateOrgRejectsLabelNotInPricebook(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService()
	in := OrgInput{
		OrgID:         "org-1",
		Timezone:      "UTC",
		QuotaScope:    "ORG",
		ModelOrdering: []string{"premium", "nonexistent"},
		Quotas:        map[string]int64{"premium": 10_000, "nonexistent": 10_000},
	}

	_, err := svc.CreateOrUpdateOrg(ctx, in)
	if !apierr.Is(err, apierr.CodeInvalidConfig) {
		t.Fatalf("expected invalid-config, got %v", err)
	}
}

func TestCreateOrgRejectsMissingQuotaEntry(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService()
	in := OrgInput{
		OrgID:         "org-1",
		Timezone:      "UTC",
		QuotaScope:    "ORG",
		ModelOrdering: []string{"premium", "standard"},
		Quotas:        map[string]int64{"premium": 10_000},
	}

	_, err := svc.CreateOrUpdateOrg(ctx, in)
	if !apierr.Is(err, apierr.CodeInvalidConfig) {
		t.Fatalf("expected invalid-config for missing quota entry, got %v", err)
	}
}

func TestCreateOrgRejectsBadQuotaScope(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService()
	in := OrgInput{
		OrgID:         "org-1",
		Timezone:      "UTC",
		QuotaScope:    "TEAM",
		ModelOrdering: []string{"premium"},
		Quotas:        map[string]int64{"premium": 10_000},
	}

	_, err := svc.CreateOrUpdateOrg(ctx, in)
	if !apierr.Is(err, apierr.CodeInvalidConfig) {
		t.Fatalf("expected invalid-config for bad quota_scope, got %v", err)
	}
}

func TestCreateAppInheritsOrgLadderWhenEmpty(t *testing.T) {
	ctx := context.Background()
	svc, s := newService()
	_, err := svc.CreateOrUpdateOrg(ctx, OrgInput{
		OrgID: "org-1", Timezone: "UTC", QuotaScope: "APP",
		ModelOrdering: []string{"premium", "standard"},
		Quotas:        map[string]int64{"premium": 10_000, "standard": 50_000},
	})
	if err != nil {
		t.Fatal(err)
	}

	result, err := svc.CreateOrUpdateApp(ctx, AppInput{OrgID: "org-1", AppID: "app-1", AppName: "Chatbot"})
	if err != nil {
		t.Fatal(err)
	}
	if !result.Created || result.Secret == "" {
		t.Fatalf("expected created app with fresh secret, got %+v", result)
	}

	app, err := s.GetAppConfig(ctx, "org-1", "app-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(app.ModelOrdering) != 0 {
		t.Errorf("expected app to inherit org ladder (empty override), got %v", app.ModelOrdering)
	}
}

func TestCreateAppRejectsOverrideLabelNotInPricebook(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService()
	_, err := svc.CreateOrUpdateOrg(ctx, OrgInput{
		OrgID: "org-1", Timezone: "UTC", QuotaScope: "APP",
		ModelOrdering: []string{"premium"},
		Quotas:        map[string]int64{"premium": 10_000},
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = svc.CreateOrUpdateApp(ctx, AppInput{
		OrgID: "org-1", AppID: "app-1",
		ModelOrdering: []string{"nonexistent"},
		Quotas:        map[string]int64{"nonexistent": 1_000},
	})
	if !apierr.Is(err, apierr.CodeInvalidConfig) {
		t.Fatalf("expected invalid-config, got %v", err)
	}
}

func TestCreateAppRequiresExistingOrg(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService()

	_, err := svc.CreateOrUpdateApp(ctx, AppInput{OrgID: "missing-org", AppID: "app-1"})
	if !apierr.Is(err, apierr.CodeNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestUpdateAppPreservesClientID(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService()
	_, err := svc.CreateOrUpdateOrg(ctx, OrgInput{
		OrgID: "org-1", Timezone: "UTC", QuotaScope: "APP",
		ModelOrdering: []string{"premium"},
		Quotas:        map[string]int64{"premium": 10_000},
	})
	if err != nil {
		t.Fatal(err)
	}
	first, err := svc.CreateOrUpdateApp(ctx, AppInput{OrgID: "org-1", AppID: "app-1", AppName: "v1"})
	if err != nil {
		t.Fatal(err)
	}

	second, err := svc.CreateOrUpdateApp(ctx, AppInput{OrgID: "org-1", AppID: "app-1", AppName: "v2"})
	if err != nil {
		t.Fatal(err)
	}
	if second.ClientID != first.ClientID {
		t.Errorf("client_id changed across update: %q vs %q", first.ClientID, second.ClientID)
	}
}
