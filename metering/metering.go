// Package metering is the metering core (spec §4.F): idempotent usage
// submission over sharded counters and componentwise-summed daily-total
// reads. Sharding and the conditional-write guard are grounded on the
// same Lua-script idiom as the store package's AdvanceSticky; shard
// selection is SHA-256(request_id) mod shard_count, taken over the full
// 256-bit digest as an unsigned big integer so the distribution is
// uniform regardless of shard_count. The at-most-once-per-request-id
// guard in this package descends from the
// teacher's wallet reservation pattern, generalized from a single
// in-process map to sharded store-backed counters.
package metering

import (
	"context"
	"crypto/sha256"
	"math/big"
	"time"

	"github.com/shreedharn/bedrock-cost-keeper/apierr"
	"github.com/shreedharn/bedrock-cost-keeper/clock"
	"github.com/shreedharn/bedrock-cost-keeper/label"
	"github.com/shreedharn/bedrock-cost-keeper/pricing"
	"github.com/shreedharn/bedrock-cost-keeper/store"
)

// Status is the caller-reported outcome of the metered inference call.
type Status string

const (
	StatusOK    Status = "OK"
	StatusError Status = "ERROR"
)

// clockSkewTolerance and staleSubmissionWindow bound how far a client's
// reported timestamp may drift from the server's clock (spec §4.F).
const (
	clockSkewTolerance    = 5 * time.Minute
	staleSubmissionWindow = 24 * time.Hour
)

// SubmitUsageInput is the full contract for submit_usage (spec §4.F).
type SubmitUsageInput struct {
	OrgID           string
	AppID           string
	RequestID       string
	Label           string
	SuppliedModelID string
	InputTokens     int64
	OutputTokens    int64
	Status          Status
	Timestamp       time.Time
	CallingRegion   string
}

// Store is the metering subset of store.Store this package depends on.
type Store interface {
	GetOrgConfig(ctx context.Context, orgID string) (*store.OrgConfig, error)
	GetAppConfig(ctx context.Context, orgID, appID string) (*store.AppConfig, error)
	IncrShard(ctx context.Context, key store.ShardKey, requestID string, deltaCostMicros, deltaInputTokens, deltaOutputTokens int64, nowEpoch int64, ttlSeconds int) error
	GetShard(ctx context.Context, key store.ShardKey) (*store.ShardValue, error)
	GetShardsBatch(ctx context.Context, keys []store.ShardKey) (map[store.ShardKey]*store.ShardValue, error)
}

// LabelResolver and PriceResolver are the narrow interfaces metering needs
// from the label and pricing packages.
type LabelResolver interface {
	Resolve(ctx context.Context, orgID, appID, modelLabel, callingRegion string) (*label.Resolved, error)
}

type PriceResolver interface {
	Resolve(ctx context.Context, modelID, date, region string) (*store.PriceEntry, error)
}

// Meter implements submit_usage and the daily-total read path.
type Meter struct {
	store  Store
	labels LabelResolver
	prices PriceResolver
	clock  clock.Clock

	retentionDays     int
	defaultShardCount int
}

// New builds a Meter.
func New(s Store, labels LabelResolver, prices PriceResolver, c clock.Clock, retentionDays, defaultShardCount int) *Meter {
	return &Meter{
		store:             s,
		labels:            labels,
		prices:            prices,
		clock:             c,
		retentionDays:     retentionDays,
		defaultShardCount: defaultShardCount,
	}
}

// effectiveConfig is the subset of org/app config metering needs.
type effectiveConfig struct {
	timezone   string
	quotaScope string
	shardCount int
}

func (m *Meter) effectiveConfig(ctx context.Context, orgID, appID string) (*effectiveConfig, error) {
	org, err := m.store.GetOrgConfig(ctx, orgID)
	if err != nil {
		return nil, apierr.New(apierr.CodeNotFound, "organization not found")
	}
	cfg := &effectiveConfig{
		timezone:   org.Timezone,
		quotaScope: org.QuotaScope,
		shardCount: org.ShardCount,
	}
	if cfg.shardCount == 0 {
		cfg.shardCount = m.defaultShardCount
	}
	if appID != "" {
		app, err := m.store.GetAppConfig(ctx, orgID, appID)
		if err != nil {
			return nil, apierr.New(apierr.CodeNotFound, "application not found")
		}
		if app.ShardCount != 0 {
			cfg.shardCount = app.ShardCount
		}
	}
	return cfg, nil
}

// shardIndex computes SHA-256(requestID) mod shardCount over the full
// digest as an unsigned big integer (spec §4.F "Sharding").
func shardIndex(requestID string, shardCount int) int {
	sum := sha256.Sum256([]byte(requestID))
	digest := new(big.Int).SetBytes(sum[:])
	mod := new(big.Int).SetInt64(int64(shardCount))
	return int(new(big.Int).Mod(digest, mod).Int64())
}

// validateTimestamp enforces the clock-skew/staleness bounds (spec §4.F).
func validateTimestamp(ts, now time.Time) error {
	if ts.After(now.Add(clockSkewTolerance)) {
		return apierr.Newf(apierr.CodeInvalidRequest, "timestamp %s is more than 5 minutes ahead of server time %s", ts, now).
			WithDetails(map[string]interface{}{"client_time": ts.Unix(), "server_time": now.Unix()})
	}
	if ts.Before(now.Add(-staleSubmissionWindow)) {
		return apierr.Newf(apierr.CodeInvalidRequest, "timestamp %s is more than 24 hours stale relative to server time %s", ts, now).
			WithDetails(map[string]interface{}{"client_time": ts.Unix(), "server_time": now.Unix()})
	}
	return nil
}

// SubmitUsage implements the contract from spec §4.F: idempotent on
// request_id, cost computed server-side, day attributed in the org's
// timezone regardless of the submitted timestamp's day. It returns the
// cost micros attributed to the record, for callers that report it.
func (m *Meter) SubmitUsage(ctx context.Context, in SubmitUsageInput) (int64, error) {
	now := m.clock.Now()
	if err := validateTimestamp(in.Timestamp, now); err != nil {
		return 0, err
	}

	cfg, err := m.effectiveConfig(ctx, in.OrgID, in.AppID)
	if err != nil {
		return 0, err
	}

	dayKeyRaw, err := clock.DayIn(cfg.timezone, now)
	if err != nil {
		return 0, apierr.Wrap(apierr.CodeInvalidConfig, "organization timezone is invalid", err)
	}
	dayKey := store.DayKey(dayKeyRaw)
	scopeKey := store.ScopeKey(in.OrgID, in.AppID, cfg.quotaScope)

	var costMicros int64
	if in.Status == StatusOK {
		resolved, err := m.labels.Resolve(ctx, in.OrgID, in.AppID, in.Label, in.CallingRegion)
		if err != nil {
			return 0, err
		}
		price, err := m.prices.Resolve(ctx, resolved.Identifier, dayKeyRaw, resolved.PricingRegion)
		if err != nil {
			return 0, err
		}
		costMicros = pricing.CostMicros(in.InputTokens, in.OutputTokens, price)
	}
	// status == ERROR: cost stays zero but token/request counters still apply
	// (clients must still report failed calls for observability; spec §4.F).

	shardKey := store.ShardKey{
		ScopeKey:   scopeKey,
		DayKey:     dayKey,
		Label:      in.Label,
		ShardIndex: shardIndex(in.RequestID, cfg.shardCount),
	}
	ttlSeconds := m.retentionDays * 86400
	if err := m.store.IncrShard(ctx, shardKey, in.RequestID, costMicros, in.InputTokens, in.OutputTokens, now.Unix(), ttlSeconds); err != nil {
		return 0, apierr.Wrap(apierr.CodeInternal, "recording usage failed", err)
	}
	return costMicros, nil
}

// DailyTotal is the componentwise sum across all shards for one label.
type DailyTotal = store.ShardValue

// GetDailyTotal sums all shard_count cells for (scope, day, label); missing
// shards count as zero (spec §4.F "Read path").
func (m *Meter) GetDailyTotal(ctx context.Context, orgID, appID, dayKeyRaw, lbl string) (*DailyTotal, error) {
	cfg, err := m.effectiveConfig(ctx, orgID, appID)
	if err != nil {
		return nil, err
	}
	scopeKey := store.ScopeKey(orgID, appID, cfg.quotaScope)
	dayKey := store.DayKey(dayKeyRaw)

	keys := make([]store.ShardKey, cfg.shardCount)
	for i := 0; i < cfg.shardCount; i++ {
		keys[i] = store.ShardKey{ScopeKey: scopeKey, DayKey: dayKey, Label: lbl, ShardIndex: i}
	}
	shards, err := m.store.GetShardsBatch(ctx, keys)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeInternal, "reading usage totals failed", err)
	}

	total := &store.ShardValue{}
	for _, k := range keys {
		total = total.Add(shards[k])
	}
	return total, nil
}

// GetDailyTotalsBatch reads shard_count × len(labels) keys in one batch and
// groups the result by label (spec §4.F "the selection engine always uses
// this form").
func (m *Meter) GetDailyTotalsBatch(ctx context.Context, orgID, appID, dayKeyRaw string, labels []string) (map[string]*DailyTotal, error) {
	cfg, err := m.effectiveConfig(ctx, orgID, appID)
	if err != nil {
		return nil, err
	}
	scopeKey := store.ScopeKey(orgID, appID, cfg.quotaScope)
	dayKey := store.DayKey(dayKeyRaw)

	var keys []store.ShardKey
	for _, lbl := range labels {
		for i := 0; i < cfg.shardCount; i++ {
			keys = append(keys, store.ShardKey{ScopeKey: scopeKey, DayKey: dayKey, Label: lbl, ShardIndex: i})
		}
	}
	shards, err := m.store.GetShardsBatch(ctx, keys)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeInternal, "reading usage totals failed", err)
	}

	out := make(map[string]*DailyTotal, len(labels))
	for _, lbl := range labels {
		out[lbl] = &store.ShardValue{}
	}
	for _, k := range keys {
		out[k.Label] = out[k.Label].Add(shards[k])
	}
	return out, nil
}
