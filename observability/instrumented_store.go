package observability

import (
	"context"
	"time"

	"github.com/shreedharn/bedrock-cost-keeper/store"
)

// InstrumentedStore wraps a store.Store and records round-trip latency per
// operation against StoreOpDuration. Domain packages keep depending on their
// own narrow Store interfaces, which this type satisfies like any
// store.Store; it is a drop-in decorator at the wiring edge.
type InstrumentedStore struct {
	store.Store
	metrics *Metrics
}

// WrapStore returns s unchanged if metrics is nil, so callers can wrap
// unconditionally without a branch at every call site.
func WrapStore(s store.Store, metrics *Metrics) store.Store {
	if metrics == nil {
		return s
	}
	return &InstrumentedStore{Store: s, metrics: metrics}
}

func (i *InstrumentedStore) observe(op string, start time.Time) {
	i.metrics.StoreOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (i *InstrumentedStore) GetOrgConfig(ctx context.Context, orgID string) (*store.OrgConfig, error) {
	defer i.observe("GetOrgConfig", time.Now())
	return i.Store.GetOrgConfig(ctx, orgID)
}

func (i *InstrumentedStore) PutOrgConfig(ctx context.Context, cfg *store.OrgConfig) error {
	defer i.observe("PutOrgConfig", time.Now())
	return i.Store.PutOrgConfig(ctx, cfg)
}

func (i *InstrumentedStore) GetAppConfig(ctx context.Context, orgID, appID string) (*store.AppConfig, error) {
	defer i.observe("GetAppConfig", time.Now())
	return i.Store.GetAppConfig(ctx, orgID, appID)
}

func (i *InstrumentedStore) PutAppConfig(ctx context.Context, cfg *store.AppConfig) error {
	defer i.observe("PutAppConfig", time.Now())
	return i.Store.PutAppConfig(ctx, cfg)
}

func (i *InstrumentedStore) GetProfile(ctx context.Context, orgID, appID, label string) (*store.Profile, error) {
	defer i.observe("GetProfile", time.Now())
	return i.Store.GetProfile(ctx, orgID, appID, label)
}

func (i *InstrumentedStore) PutProfile(ctx context.Context, p *store.Profile) error {
	defer i.observe("PutProfile", time.Now())
	return i.Store.PutProfile(ctx, p)
}

func (i *InstrumentedStore) ListProfiles(ctx context.Context, orgID, appID string) ([]*store.Profile, error) {
	defer i.observe("ListProfiles", time.Now())
	return i.Store.ListProfiles(ctx, orgID, appID)
}

func (i *InstrumentedStore) IncrShard(ctx context.Context, key store.ShardKey, requestID string, deltaCostMicros, deltaInputTokens, deltaOutputTokens int64, nowEpoch int64, ttlSeconds int) error {
	defer i.observe("IncrShard", time.Now())
	return i.Store.IncrShard(ctx, key, requestID, deltaCostMicros, deltaInputTokens, deltaOutputTokens, nowEpoch, ttlSeconds)
}

func (i *InstrumentedStore) GetShard(ctx context.Context, key store.ShardKey) (*store.ShardValue, error) {
	defer i.observe("GetShard", time.Now())
	return i.Store.GetShard(ctx, key)
}

func (i *InstrumentedStore) GetShardsBatch(ctx context.Context, keys []store.ShardKey) (map[store.ShardKey]*store.ShardValue, error) {
	defer i.observe("GetShardsBatch", time.Now())
	return i.Store.GetShardsBatch(ctx, keys)
}

func (i *InstrumentedStore) GetSticky(ctx context.Context, scopeKey, dayKey string) (*store.StickyState, error) {
	defer i.observe("GetSticky", time.Now())
	return i.Store.GetSticky(ctx, scopeKey, dayKey)
}

func (i *InstrumentedStore) AdvanceSticky(ctx context.Context, scopeKey, dayKey string, newIndex int, label, reason string, nowEpoch int64, ttlSeconds int) (*store.StickyState, error) {
	defer i.observe("AdvanceSticky", time.Now())
	return i.Store.AdvanceSticky(ctx, scopeKey, dayKey, newIndex, label, reason, nowEpoch, ttlSeconds)
}

func (i *InstrumentedStore) RevokeToken(ctx context.Context, jti string, rec *store.RevokedToken, ttlSeconds int) error {
	defer i.observe("RevokeToken", time.Now())
	return i.Store.RevokeToken(ctx, jti, rec, ttlSeconds)
}

func (i *InstrumentedStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	defer i.observe("IsRevoked", time.Now())
	return i.Store.IsRevoked(ctx, jti)
}

func (i *InstrumentedStore) GetCachedPrice(ctx context.Context, modelID, date, region string) (*store.PriceEntry, error) {
	defer i.observe("GetCachedPrice", time.Now())
	return i.Store.GetCachedPrice(ctx, modelID, date, region)
}

func (i *InstrumentedStore) PutCachedPrice(ctx context.Context, modelID, date, region string, entry *store.PriceEntry, ttlSeconds int) error {
	defer i.observe("PutCachedPrice", time.Now())
	return i.Store.PutCachedPrice(ctx, modelID, date, region, entry, ttlSeconds)
}

func (i *InstrumentedStore) PutRetrievalGrant(ctx context.Context, token, secret string, ttlSeconds int) error {
	defer i.observe("PutRetrievalGrant", time.Now())
	return i.Store.PutRetrievalGrant(ctx, token, secret, ttlSeconds)
}

func (i *InstrumentedStore) ConsumeRetrievalGrant(ctx context.Context, token string) (string, error) {
	defer i.observe("ConsumeRetrievalGrant", time.Now())
	return i.Store.ConsumeRetrievalGrant(ctx, token)
}

func (i *InstrumentedStore) Ping(ctx context.Context) error {
	defer i.observe("Ping", time.Now())
	return i.Store.Ping(ctx)
}
