// Package store is the key-value store adapter (spec §4.A / §6.2): typed
// read/write of config, counters, totals, sticky state, tokens, and prices.
// The domain packages depend only on the Store interface; Redis is the one
// production implementation, grounded on the Lua conditional-write scheme
// used by ineyio-inferrouter's quota store.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get* methods when the record does not exist.
// Domain code maps this to apierr.CodeNotFound where absence is meaningful,
// or treats it as "no prior state" where absence is expected (sticky state,
// pricing cache).
var ErrNotFound = errors.New("store: not found")

// Store is the capability interface every domain package depends on.
// Passed explicitly, never looked up from a global (spec §9).
type Store interface {
	// Config
	GetOrgConfig(ctx context.Context, orgID string) (*OrgConfig, error)
	PutOrgConfig(ctx context.Context, cfg *OrgConfig) error
	GetAppConfig(ctx context.Context, orgID, appID string) (*AppConfig, error)
	PutAppConfig(ctx context.Context, cfg *AppConfig) error
	GetProfile(ctx context.Context, orgID, appID, label string) (*Profile, error)
	PutProfile(ctx context.Context, p *Profile) error
	ListProfiles(ctx context.Context, orgID, appID string) ([]*Profile, error)

	// Counters (spec §4.F)
	IncrShard(ctx context.Context, key ShardKey, requestID string, deltaCostMicros, deltaInputTokens, deltaOutputTokens int64, nowEpoch int64, ttlSeconds int) error
	GetShard(ctx context.Context, key ShardKey) (*ShardValue, error)
	GetShardsBatch(ctx context.Context, keys []ShardKey) (map[ShardKey]*ShardValue, error)

	// Sticky-fallback state (spec §4.G)
	GetSticky(ctx context.Context, scopeKey, dayKey string) (*StickyState, error)
	AdvanceSticky(ctx context.Context, scopeKey, dayKey string, newIndex int, label, reason string, nowEpoch int64, ttlSeconds int) (*StickyState, error)

	// Token revocation (spec §4.C)
	RevokeToken(ctx context.Context, jti string, rec *RevokedToken, ttlSeconds int) error
	IsRevoked(ctx context.Context, jti string) (bool, error)

	// Pricing cache (spec §4.D tier 2)
	GetCachedPrice(ctx context.Context, modelID, date, region string) (*PriceEntry, error)
	PutCachedPrice(ctx context.Context, modelID, date, region string, entry *PriceEntry, ttlSeconds int) error

	// Secret-retrieval grant (supplemented feature, spec.md §3 "optional")
	PutRetrievalGrant(ctx context.Context, token, secret string, ttlSeconds int) error
	ConsumeRetrievalGrant(ctx context.Context, token string) (string, error)

	// Ping probes store liveness for the /health endpoint.
	Ping(ctx context.Context) error
}
