package aggregates

import (
	"context"
	"testing"
	"time"

	"github.com/shreedharn/bedrock-cost-keeper/apierr"
	"github.com/shreedharn/bedrock-cost-keeper/clock"
	"github.com/shreedharn/bedrock-cost-keeper/store"
)

type directTotalsReader struct {
	s *store.MemoryStore
}

func (d *directTotalsReader) GetDailyTotalsBatch(ctx context.Context, orgID, appID, dayKeyRaw string, labels []string) (map[string]*store.ShardValue, error) {
	out := make(map[string]*store.ShardValue, len(labels))
	for _, lbl := range labels {
		key := store.ShardKey{ScopeKey: "ORG#" + orgID, DayKey: store.DayKey(dayKeyRaw), Label: lbl, ShardIndex: 0}
		v, err := d.s.GetShard(ctx, key)
		if err != nil {
			return nil, err
		}
		out[lbl] = v
	}
	return out, nil
}

func seedOrg(s *store.MemoryStore) {
	_ = s.PutOrgConfig(context.Background(), &store.OrgConfig{
		OrgID:         "org-1",
		Timezone:      "UTC",
		QuotaScope:    "ORG",
		ModelOrdering: []string{"premium", "standard"},
		Quotas:        map[string]int64{"premium": 10_000, "standard": 50_000},
	})
}

func TestTodayComposesPerLabelView(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	seedOrg(s)
	key := store.ShardKey{ScopeKey: "ORG#org-1", DayKey: store.DayKey("20260305"), Label: "premium", ShardIndex: 0}
	_ = s.IncrShard(ctx, key, "req-1", 12_000, 1000, 500, 0, 86400)

	fc := clock.NewFixed(time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC))
	p := New(s, &directTotalsReader{s: s}, fc, 32)

	view, err := p.Today(ctx, "org-1", "")
	if err != nil {
		t.Fatal(err)
	}
	if view.Day != "20260305" {
		t.Errorf("day = %q, want 20260305", view.Day)
	}
	var premium LabelView
	for _, l := range view.Labels {
		if l.Label == "premium" {
			premium = l
		}
	}
	if premium.Status != StatusExceeded {
		t.Errorf("expected premium to be EXCEEDED at 12000/10000, got %+v", premium)
	}
	if premium.AvgCostPerRequest != 12_000 {
		t.Errorf("avg cost per request = %d, want 12000", premium.AvgCostPerRequest)
	}
}

func TestForDateRejectsFutureDate(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	seedOrg(s)
	fc := clock.NewFixed(time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC))
	p := New(s, &directTotalsReader{s: s}, fc, 32)

	_, err := p.ForDate(ctx, "org-1", "", "20260306")
	if !apierr.Is(err, apierr.CodeInvalidRequest) {
		t.Errorf("expected invalid-request for future date, got %v", err)
	}
}

func TestForDateRejectsBeforeRetentionWindow(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	seedOrg(s)
	fc := clock.NewFixed(time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC))
	p := New(s, &directTotalsReader{s: s}, fc, 32)

	_, err := p.ForDate(ctx, "org-1", "", "20260101")
	if !apierr.Is(err, apierr.CodeNotFound) {
		t.Errorf("expected not-found for date before retention window, got %v", err)
	}
}

func TestForDateWithinRetentionWindowSucceeds(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	seedOrg(s)
	fc := clock.NewFixed(time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC))
	p := New(s, &directTotalsReader{s: s}, fc, 32)

	view, err := p.ForDate(ctx, "org-1", "", "20260210")
	if err != nil {
		t.Fatal(err)
	}
	if view.Day != "20260210" {
		t.Errorf("day = %q, want 20260210", view.Day)
	}
}

func TestViewIncludesStickyLabel(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	seedOrg(s)
	fc := clock.NewFixed(time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC))
	if _, err := s.AdvanceSticky(ctx, "ORG#org-1", store.DayKey("20260305"), 1, "standard", "QUOTA_EXCEEDED", fc.Now().Unix(), 86400); err != nil {
		t.Fatal(err)
	}
	p := New(s, &directTotalsReader{s: s}, fc, 32)

	view, err := p.Today(ctx, "org-1", "")
	if err != nil {
		t.Fatal(err)
	}
	if view.StickyLabel != "standard" || view.StickyReason != "QUOTA_EXCEEDED" {
		t.Errorf("unexpected sticky info: %+v", view)
	}
}
