// Package selection is the model-selection engine (spec §4.G): quota-ladder
// evaluation, a sticky-fallback state machine with hysteresis so a caller
// near its quota boundary doesn't oscillate between models, and a
// TIGHT/NORMAL mode advisory. All transitions are evaluated synchronously
// on each request; no background task maintains sticky state.
package selection

import (
	"context"

	"github.com/shreedharn/bedrock-cost-keeper/apierr"
	"github.com/shreedharn/bedrock-cost-keeper/clock"
	"github.com/shreedharn/bedrock-cost-keeper/store"
)

// Mode is the advisory urgency signal returned alongside the selection.
type Mode string

const (
	ModeTight  Mode = "TIGHT"
	ModeNormal Mode = "NORMAL"
)

const (
	tightRecheckSeconds  = 60
	normalRecheckSeconds = 300
)

// ReasonQuotaExceeded is the sticky-state promotion reason (spec §4.G).
const ReasonQuotaExceeded = "QUOTA_EXCEEDED"

// TotalsReader is the metering subset this package depends on.
type TotalsReader interface {
	GetDailyTotalsBatch(ctx context.Context, orgID, appID, dayKeyRaw string, labels []string) (map[string]*store.ShardValue, error)
}

// Store is the config/sticky subset of store.Store this package depends on.
type Store interface {
	GetOrgConfig(ctx context.Context, orgID string) (*store.OrgConfig, error)
	GetAppConfig(ctx context.Context, orgID, appID string) (*store.AppConfig, error)
	GetSticky(ctx context.Context, scopeKey, dayKey string) (*store.StickyState, error)
	AdvanceSticky(ctx context.Context, scopeKey, dayKey string, newIndex int, label, reason string, nowEpoch int64, ttlSeconds int) (*store.StickyState, error)
}

// Engine implements quota-ladder evaluation and sticky fallback.
type Engine struct {
	store                 Store
	totals                TotalsReader
	clock                 clock.Clock
	defaultTightThreshold float64
}

// New builds an Engine.
func New(s Store, totals TotalsReader, c clock.Clock, defaultTightThreshold float64) *Engine {
	return &Engine{store: s, totals: totals, clock: c, defaultTightThreshold: defaultTightThreshold}
}

// effectiveConfig is the subset of org/app config selection needs; app
// fields override org fields where present (spec §4.I "Application").
type effectiveConfig struct {
	timezone      string
	quotaScope    string
	ladder        []string
	quotas        map[string]int64
	tightThreshold float64
}

func (e *Engine) effectiveConfig(ctx context.Context, orgID, appID string) (*effectiveConfig, error) {
	org, err := e.store.GetOrgConfig(ctx, orgID)
	if err != nil {
		return nil, apierr.New(apierr.CodeNotFound, "organization not found")
	}
	cfg := &effectiveConfig{
		timezone:       org.Timezone,
		quotaScope:     org.QuotaScope,
		ladder:         org.ModelOrdering,
		quotas:         org.Quotas,
		tightThreshold: org.TightModeThresholdPct,
	}
	if appID != "" {
		app, err := e.store.GetAppConfig(ctx, orgID, appID)
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
		if app.TightModeThresholdPct != 0 {
			cfg.tightThreshold = app.TightModeThresholdPct
		}
	}
	if cfg.tightThreshold == 0 {
		cfg.tightThreshold = e.defaultTightThreshold
	}
	return cfg, nil
}

// firstUnderQuota returns the smallest index i with totals[ladder[i]].cost
// < quotas[ladder[i]], or -1 if every label is at or over quota.
func firstUnderQuota(ladder []string, totals map[string]*store.ShardValue, quotas map[string]int64) int {
	for i, lbl := range ladder {
		total := totals[lbl]
		var cost int64
		if total != nil {
			cost = total.CostMicros
		}
		if cost < quotas[lbl] {
			return i
		}
	}
	return -1
}

// Result is the outcome of a selection request.
type Result struct {
	Label           string
	ModelIndex      int
	Mode            Mode
	RecheckSeconds  int
	SpentMicros     int64
	QuotaMicros     int64
	StickyReason    string // empty unless the result came from sticky state
}

// Select implements quota-ladder evaluation and the sticky-fallback state
// machine (spec §4.G), returning quota-exceeded when every label in the
// ladder is at or over its quota and no usable sticky state exists.
func (e *Engine) Select(ctx context.Context, orgID, appID string) (*Result, error) {
	cfg, err := e.effectiveConfig(ctx, orgID, appID)
	if err != nil {
		return nil, err
	}
	if len(cfg.ladder) == 0 {
		return nil, apierr.New(apierr.CodeInvalidConfig, "organization has no configured model ladder")
	}

	now := e.clock.Now()
	dayKeyRaw, err := clock.DayIn(cfg.timezone, now)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeInvalidConfig, "organization timezone is invalid", err)
	}
	dayKey := store.DayKey(dayKeyRaw)
	scopeKey := store.ScopeKey(orgID, appID, cfg.quotaScope)

	totals, err := e.totals.GetDailyTotalsBatch(ctx, orgID, appID, dayKeyRaw, cfg.ladder)
	if err != nil {
		return nil, err
	}

	computed := firstUnderQuota(cfg.ladder, totals, cfg.quotas)

	sticky, err := e.store.GetSticky(ctx, scopeKey, dayKey)
	hasSticky := err == nil

	index := computed
	reason := ""

	switch {
	case hasSticky:
		stickyLabel := cfg.ladder[sticky.ActiveModelIndex]
		stillUnderQuota := false
		if total := totals[stickyLabel]; total != nil {
			stillUnderQuota = total.CostMicros < cfg.quotas[stickyLabel]
		} else {
			stillUnderQuota = 0 < cfg.quotas[stickyLabel]
		}
		if stillUnderQuota {
			// Transition 3: same state, no-op.
			index = sticky.ActiveModelIndex
			reason = sticky.Reason
			break
		}
		// Only labels after the sticky one are candidates: sticky never retreats.
		next := firstUnderQuota(cfg.ladder[sticky.ActiveModelIndex+1:], totals, cfg.quotas)
		if next == -1 {
			return nil, quotaExceededError(cfg.ladder, totals, cfg.quotas)
		}
		computed = sticky.ActiveModelIndex + 1 + next
		// Transition 2: sticky(i) -> sticky(j), j > i.
		advanced, err := e.store.AdvanceSticky(ctx, scopeKey, dayKey, computed, cfg.ladder[computed], ReasonQuotaExceeded, now.Unix(), 2*86400)
		if err != nil {
			return nil, apierr.Wrap(apierr.CodeInternal, "advancing sticky fallback state failed", err)
		}
		index = advanced.ActiveModelIndex
		reason = advanced.Reason
	case computed == -1:
		return nil, quotaExceededError(cfg.ladder, totals, cfg.quotas)
	case computed == 0:
		index = 0
	default:
		// Transition 1: null -> sticky(computed), computed > 0.
		advanced, err := e.store.AdvanceSticky(ctx, scopeKey, dayKey, computed, cfg.ladder[computed], ReasonQuotaExceeded, now.Unix(), 2*86400)
		if err != nil {
			return nil, apierr.Wrap(apierr.CodeInternal, "promoting sticky fallback state failed", err)
		}
		index = advanced.ActiveModelIndex
		reason = advanced.Reason
	}

	lbl := cfg.ladder[index]
	quota := cfg.quotas[lbl]
	var spent int64
	if total := totals[lbl]; total != nil {
		spent = total.CostMicros
	}

	mode, recheck := modeAdvisory(spent, quota, cfg.tightThreshold)

	return &Result{
		Label:          lbl,
		ModelIndex:     index,
		Mode:           mode,
		RecheckSeconds: recheck,
		SpentMicros:    spent,
		QuotaMicros:    quota,
		StickyReason:   reason,
	}, nil
}

func modeAdvisory(spent, quota int64, tightThreshold float64) (Mode, int) {
	if quota <= 0 {
		return ModeTight, tightRecheckSeconds
	}
	p := float64(spent) / float64(quota)
	if p >= tightThreshold {
		return ModeTight, tightRecheckSeconds
	}
	return ModeNormal, normalRecheckSeconds
}

func quotaExceededError(ladder []string, totals map[string]*store.ShardValue, quotas map[string]int64) error {
	details := make(map[string]interface{}, len(ladder))
	for _, lbl := range ladder {
		var spent int64
		if t := totals[lbl]; t != nil {
			spent = t.CostMicros
		}
		quota := quotas[lbl]
		pct := 0.0
		if quota > 0 {
			pct = float64(spent) / float64(quota)
		}
		details[lbl] = map[string]interface{}{
			"spent_micros": spent,
			"quota_micros": quota,
			"quota_pct":    pct,
		}
	}
	return apierr.New(apierr.CodeQuotaExceeded, "every label in the model ladder is at or over its daily quota").WithDetails(details)
}
