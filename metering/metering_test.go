package metering

import (
	"context"
	"testing"
	"time"

	"github.com/shreedharn/bedrock-cost-keeper/apierr"
	"github.com/shreedharn/bedrock-cost-keeper/clock"
	"github.com/shreedharn/bedrock-cost-keeper/label"
	"github.com/shreedharn/bedrock-cost-keeper/store"
)

type fakeLabelResolver struct {
	resolved *label.Resolved
	err      error
}

func (f *fakeLabelResolver) Resolve(ctx context.Context, orgID, appID, modelLabel, callingRegion string) (*label.Resolved, error) {
	return f.resolved, f.err
}

type fakePriceResolver struct {
	entry *store.PriceEntry
	err   error
}

func (f *fakePriceResolver) Resolve(ctx context.Context, modelID, date, region string) (*store.PriceEntry, error) {
	return f.entry, f.err
}

func setup(t *testing.T, now time.Time) (*Meter, *store.MemoryStore, *clock.Fixed) {
	t.Helper()
	s := store.NewMemoryStore()
	_ = s.PutOrgConfig(context.Background(), &store.OrgConfig{
		OrgID:      "org-1",
		Timezone:   "UTC",
		QuotaScope: "ORG",
		ShardCount: 4,
	})
	fc := clock.NewFixed(now)
	labels := &fakeLabelResolver{resolved: &label.Resolved{Kind: label.KindModel, Identifier: "anthropic.claude-3-sonnet"}}
	prices := &fakePriceResolver{entry: &store.PriceEntry{InputPriceMicrosPer1M: 3_000_000, OutputPriceMicrosPer1M: 15_000_000}}
	m := New(s, labels, prices, fc, 32, 8)
	return m, s, fc
}

func TestSubmitUsageIdempotent(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)
	m, _, _ := setup(t, now)

	in := SubmitUsageInput{
		OrgID: "org-1", RequestID: "req-1", Label: "standard",
		InputTokens: 1500, OutputTokens: 800, Status: StatusOK, Timestamp: now,
	}
	var lastCost int64
	for i := 0; i < 3; i++ {
		cost, err := m.SubmitUsage(ctx, in)
		if err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
		lastCost = cost
	}
	if lastCost != 16500 {
		t.Errorf("expected returned cost micros 16500, got %d", lastCost)
	}

	total, err := m.GetDailyTotal(ctx, "org-1", "", "20260305", "standard")
	if err != nil {
		t.Fatal(err)
	}
	if total.CostMicros != 16500 || total.Requests != 1 {
		t.Errorf("expected single applied submission, got %+v", total)
	}
}

func TestSubmitUsageErrorStatusZerosCost(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)
	m, _, _ := setup(t, now)

	in := SubmitUsageInput{
		OrgID: "org-1", RequestID: "req-err", Label: "standard",
		InputTokens: 500, OutputTokens: 200, Status: StatusError, Timestamp: now,
	}
	if _, err := m.SubmitUsage(ctx, in); err != nil {
		t.Fatal(err)
	}

	total, err := m.GetDailyTotal(ctx, "org-1", "", "20260305", "standard")
	if err != nil {
		t.Fatal(err)
	}
	if total.CostMicros != 0 || total.Requests != 1 || total.InputTokens != 500 {
		t.Errorf("expected zero cost but counted tokens/requests, got %+v", total)
	}
}

func TestSubmitUsageRejectsFutureTimestamp(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)
	m, _, _ := setup(t, now)

	in := SubmitUsageInput{
		OrgID: "org-1", RequestID: "req-future", Label: "standard",
		InputTokens: 1, OutputTokens: 1, Status: StatusOK,
		Timestamp: now.Add(10 * time.Minute),
	}
	if _, err := m.SubmitUsage(ctx, in); !apierr.Is(err, apierr.CodeInvalidRequest) {
		t.Errorf("expected invalid-request for future timestamp, got %v", err)
	}
}

func TestSubmitUsageRejectsStaleTimestamp(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)
	m, _, _ := setup(t, now)

	in := SubmitUsageInput{
		OrgID: "org-1", RequestID: "req-stale", Label: "standard",
		InputTokens: 1, OutputTokens: 1, Status: StatusOK,
		Timestamp: now.Add(-25 * time.Hour),
	}
	if _, err := m.SubmitUsage(ctx, in); !apierr.Is(err, apierr.CodeInvalidRequest) {
		t.Errorf("expected invalid-request for stale timestamp, got %v", err)
	}
}

func TestGetDailyTotalsBatchGroupsByLabel(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)
	m, _, _ := setup(t, now)

	for i, lbl := range []string{"standard", "economy"} {
		in := SubmitUsageInput{
			OrgID: "org-1", RequestID: "req-batch-" + lbl, Label: lbl,
			InputTokens: int64(1000 * (i + 1)), OutputTokens: 100, Status: StatusOK, Timestamp: now,
		}
		if _, err := m.SubmitUsage(ctx, in); err != nil {
			t.Fatal(err)
		}
	}

	totals, err := m.GetDailyTotalsBatch(ctx, "org-1", "", "20260305", []string{"standard", "economy", "missing"})
	if err != nil {
		t.Fatal(err)
	}
	if totals["standard"].Requests != 1 || totals["economy"].Requests != 1 {
		t.Errorf("expected one request per submitted label, got %+v", totals)
	}
	if totals["missing"].Requests != 0 {
		t.Errorf("expected zero for a label with no submissions, got %+v", totals["missing"])
	}
}

func TestShardIndexIsDeterministic(t *testing.T) {
	a := shardIndex("same-request-id", 8)
	b := shardIndex("same-request-id", 8)
	if a != b {
		t.Errorf("shardIndex not deterministic: %d != %d", a, b)
	}
	if a < 0 || a >= 8 {
		t.Errorf("shardIndex out of range: %d", a)
	}
}

func TestDayAttributionUsesOrgTimezoneNotSubmittedTimestampDay(t *testing.T) {
	ctx := context.Background()
	// Server "now" is early on 2026-03-05 UTC, but the submitted timestamp
	// (still within the 24-hour staleness window) falls on 2026-03-04;
	// the day-key must follow server "now" in the org's timezone, not the
	// submitted timestamp's calendar day (spec §4.F).
	now := time.Date(2026, 3, 5, 0, 30, 0, 0, time.UTC)
	m, _, _ := setup(t, now)

	in := SubmitUsageInput{
		OrgID: "org-1", RequestID: "req-day", Label: "standard",
		InputTokens: 1, OutputTokens: 1, Status: StatusOK, Timestamp: now.Add(-time.Hour),
	}
	if _, err := m.SubmitUsage(ctx, in); err != nil {
		t.Fatal(err)
	}

	total, err := m.GetDailyTotal(ctx, "org-1", "", "20260305", "standard")
	if err != nil {
		t.Fatal(err)
	}
	if total.Requests != 1 {
		t.Errorf("expected submission attributed to 2026-03-05, got %+v", total)
	}
}
