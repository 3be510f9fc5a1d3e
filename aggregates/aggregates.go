// Package aggregates is the read-model projector (spec §4.H): it composes
// effective config, daily totals, and sticky state into the per-label view
// a dashboard or billing job consumes, for either today (live) or a
// validated historical date within the retention window.
package aggregates

import (
	"context"
	"time"

	"github.com/shreedharn/bedrock-cost-keeper/apierr"
	"github.com/shreedharn/bedrock-cost-keeper/clock"
	"github.com/shreedharn/bedrock-cost-keeper/store"
)

// Status summarizes a label's standing against its quota.
type Status string

const (
	StatusNormal   Status = "NORMAL"
	StatusExceeded Status = "EXCEEDED"
)

// LabelView is the per-label row in the aggregate read model.
type LabelView struct {
	Label             string  `json:"label"`
	CostMicros        int64   `json:"cost_micros"`
	QuotaMicros       int64   `json:"quota_micros"`
	Pct               float64 `json:"pct"`
	Status            Status  `json:"status"`
	InputTokens       int64   `json:"input_tokens"`
	OutputTokens      int64   `json:"output_tokens"`
	Requests          int64   `json:"requests"`
	AvgCostPerRequest int64   `json:"avg_cost_per_request_micros"`
}

// View is the full composed read model for a (scope, date).
type View struct {
	Day              string      `json:"day"`
	Labels           []LabelView `json:"labels"`
	TotalCostMicros  int64       `json:"total_cost_micros"`
	StickyLabel      string      `json:"sticky_label,omitempty"`
	StickyReason     string      `json:"sticky_reason,omitempty"`
}

// TotalsReader is the metering subset this package depends on.
type TotalsReader interface {
	GetDailyTotalsBatch(ctx context.Context, orgID, appID, dayKeyRaw string, labels []string) (map[string]*store.ShardValue, error)
}

// Store is the config/sticky subset of store.Store this package depends on.
type Store interface {
	GetOrgConfig(ctx context.Context, orgID string) (*store.OrgConfig, error)
	GetAppConfig(ctx context.Context, orgID, appID string) (*store.AppConfig, error)
	GetSticky(ctx context.Context, scopeKey, dayKey string) (*store.StickyState, error)
}

// Projector implements read-model composition.
type Projector struct {
	store  Store
	totals TotalsReader
	clock  clock.Clock
	retentionDays int
}

// New builds a Projector.
func New(s Store, totals TotalsReader, c clock.Clock, retentionDays int) *Projector {
	return &Projector{store: s, totals: totals, clock: c, retentionDays: retentionDays}
}

type effectiveConfig struct {
	timezone   string
	quotaScope string
	ladder     []string
	quotas     map[string]int64
}

func (p *Projector) effectiveConfig(ctx context.Context, orgID, appID string) (*effectiveConfig, error) {
	org, err := p.store.GetOrgConfig(ctx, orgID)
	if err != nil {
		return nil, apierr.New(apierr.CodeNotFound, "organization not found")
	}
	cfg := &effectiveConfig{timezone: org.Timezone, quotaScope: org.QuotaScope, ladder: org.ModelOrdering, quotas: org.Quotas}
	if appID != "" {
		app, err := p.store.GetAppConfig(ctx, orgID, appID)
		if err != nil {
			return nil, apierr.New(apierr.CodeNotFound, "application not found")
		}
		if len(app.ModelOrdering) > 0 {
			cfg.ladder = app.ModelOrdering
		}
		if len(app.Quotas) > 0 {
			merged := make(map[string]int64, len(cfg.quotas))
			for k, v := range cfg.quotas {
				merged[k] = v
			}
			for k, v := range app.Quotas {
				merged[k] = v
			}
			cfg.quotas = merged
		}
	}
	return cfg, nil
}

// Today composes the live view for the current day in the org's timezone.
func (p *Projector) Today(ctx context.Context, orgID, appID string) (*View, error) {
	cfg, err := p.effectiveConfig(ctx, orgID, appID)
	if err != nil {
		return nil, err
	}
	dayKeyRaw, err := clock.DayIn(cfg.timezone, p.clock.Now())
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeInvalidConfig, "organization timezone is invalid", err)
	}
	return p.compose(ctx, orgID, appID, cfg, dayKeyRaw)
}

// ForDate composes the view for a specific historical YYYYMMDD date,
// rejecting future dates and dates outside the retention window (spec §4.H).
func (p *Projector) ForDate(ctx context.Context, orgID, appID, dayKeyRaw string) (*View, error) {
	cfg, err := p.effectiveConfig(ctx, orgID, appID)
	if err != nil {
		return nil, err
	}

	today, err := clock.DayIn(cfg.timezone, p.clock.Now())
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeInvalidConfig, "organization timezone is invalid", err)
	}
	if dayKeyRaw > today {
		return nil, apierr.Newf(apierr.CodeInvalidRequest, "date %s is in the future", dayKeyRaw)
	}
	earliest := earliestRetainedDay(today, p.retentionDays)
	if dayKeyRaw < earliest {
		return nil, apierr.New(apierr.CodeNotFound, "date is outside the retention window")
	}

	return p.compose(ctx, orgID, appID, cfg, dayKeyRaw)
}

func (p *Projector) compose(ctx context.Context, orgID, appID string, cfg *effectiveConfig, dayKeyRaw string) (*View, error) {
	scopeKey := store.ScopeKey(orgID, appID, cfg.quotaScope)
	dayKey := store.DayKey(dayKeyRaw)

	totals, err := p.totals.GetDailyTotalsBatch(ctx, orgID, appID, dayKeyRaw, cfg.ladder)
	if err != nil {
		return nil, err
	}

	sticky, err := p.store.GetSticky(ctx, scopeKey, dayKey)
	hasSticky := err == nil

	view := &View{Day: dayKeyRaw, Labels: make([]LabelView, 0, len(cfg.ladder))}
	for _, lbl := range cfg.ladder {
		total := totals[lbl]
		if total == nil {
			total = &store.ShardValue{}
		}
		quota := cfg.quotas[lbl]
		pct := 0.0
		if quota > 0 {
			pct = float64(total.CostMicros) / float64(quota)
		}
		status := StatusNormal
		if total.CostMicros >= quota {
			status = StatusExceeded
		}
		var avg int64
		if total.Requests > 0 {
			avg = total.CostMicros / total.Requests
		}
		view.Labels = append(view.Labels, LabelView{
			Label:             lbl,
			CostMicros:        total.CostMicros,
			QuotaMicros:       quota,
			Pct:               pct,
			Status:            status,
			InputTokens:       total.InputTokens,
			OutputTokens:      total.OutputTokens,
			Requests:          total.Requests,
			AvgCostPerRequest: avg,
		})
		view.TotalCostMicros += total.CostMicros
	}

	if hasSticky && sticky.ActiveModelIndex >= 0 && sticky.ActiveModelIndex < len(cfg.ladder) {
		view.StickyLabel = cfg.ladder[sticky.ActiveModelIndex]
		view.StickyReason = sticky.Reason
	}

	return view, nil
}

// earliestRetainedDay subtracts retentionDays from today, both formatted as
// clock.DayKeyLayout strings, using time.Time arithmetic in UTC. The exact
// boundary is conservative: same-day arithmetic across timezones is already
// resolved by the caller passing today in the org's own timezone.
func earliestRetainedDay(today string, retentionDays int) string {
	t, err := time.Parse(clock.DayKeyLayout, today)
	if err != nil {
		return today
	}
	return t.AddDate(0, 0, -retentionDays).Format(clock.DayKeyLayout)
}
