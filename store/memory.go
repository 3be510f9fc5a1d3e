package store

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store implementation used by unit tests
// across the domain packages. It reproduces the same conditional-write
// semantics as RedisStore without a network round trip.
type MemoryStore struct {
	mu sync.Mutex

	orgs     map[string]*OrgConfig
	apps     map[string]*AppConfig // key: orgID+"/"+appID
	profiles map[string]*Profile   // key: orgID+"/"+appID+"/"+label

	shards map[ShardKey]*shardCell
	sticky map[string]*StickyState // key: scopeKey+"/"+dayKey

	revoked map[string]*RevokedToken
	prices  map[string]*PriceEntry
	grants  map[string]string

	pingErr error
}

type shardCell struct {
	value *ShardValue
	seen  map[string]struct{}
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orgs:     make(map[string]*OrgConfig),
		apps:     make(map[string]*AppConfig),
		profiles: make(map[string]*Profile),
		shards:   make(map[ShardKey]*shardCell),
		sticky:   make(map[string]*StickyState),
		revoked:  make(map[string]*RevokedToken),
		prices:   make(map[string]*PriceEntry),
		grants:   make(map[string]string),
	}
}

// SetPingError makes Ping fail, for exercising the /health degraded path.
func (m *MemoryStore) SetPingError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingErr = err
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pingErr
}

func appKey(orgID, appID string) string { return orgID + "/" + appID }
func profileKey(orgID, appID, label string) string { return orgID + "/" + appID + "/" + label }
func stickyKey(scopeKey, dayKey string) string { return scopeKey + "/" + dayKey }

func (m *MemoryStore) GetOrgConfig(ctx context.Context, orgID string) (*OrgConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.orgs[orgID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *cfg
	return &cp, nil
}

func (m *MemoryStore) PutOrgConfig(ctx context.Context, cfg *OrgConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *cfg
	m.orgs[cfg.OrgID] = &cp
	return nil
}

func (m *MemoryStore) GetAppConfig(ctx context.Context, orgID, appID string) (*AppConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.apps[appKey(orgID, appID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *cfg
	return &cp, nil
}

func (m *MemoryStore) PutAppConfig(ctx context.Context, cfg *AppConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *cfg
	m.apps[appKey(cfg.OrgID, cfg.AppID)] = &cp
	return nil
}

func (m *MemoryStore) GetProfile(ctx context.Context, orgID, appID, label string) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[profileKey(orgID, appID, label)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) PutProfile(ctx context.Context, p *Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.profiles[profileKey(p.OrgID, p.AppID, p.Label)] = &cp
	return nil
}

func (m *MemoryStore) ListProfiles(ctx context.Context, orgID, appID string) ([]*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := orgID + "/" + appID + "/"
	var out []*Profile
	for k, p := range m.profiles {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) IncrShard(ctx context.Context, key ShardKey, requestID string, deltaCostMicros, deltaInputTokens, deltaOutputTokens int64, nowEpoch int64, ttlSeconds int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cell, ok := m.shards[key]
	if !ok {
		cell = &shardCell{value: &ShardValue{}, seen: make(map[string]struct{})}
		m.shards[key] = cell
	}
	if _, dup := cell.seen[requestID]; dup {
		return nil // guard failure: idempotent no-op
	}
	cell.seen[requestID] = struct{}{}
	cell.value.CostMicros += deltaCostMicros
	cell.value.InputTokens += deltaInputTokens
	cell.value.OutputTokens += deltaOutputTokens
	cell.value.Requests++
	cell.value.UpdatedAtEpoch = nowEpoch
	return nil
}

func (m *MemoryStore) GetShard(ctx context.Context, key ShardKey) (*ShardValue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cell, ok := m.shards[key]
	if !ok {
		return &ShardValue{}, nil
	}
	cp := *cell.value
	return &cp, nil
}

func (m *MemoryStore) GetShardsBatch(ctx context.Context, keys []ShardKey) (map[ShardKey]*ShardValue, error) {
	out := make(map[ShardKey]*ShardValue, len(keys))
	for _, key := range keys {
		v, _ := m.GetShard(ctx, key)
		out[key] = v
	}
	return out, nil
}

func (m *MemoryStore) GetSticky(ctx context.Context, scopeKey, dayKey string) (*StickyState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sticky[stickyKey(scopeKey, dayKey)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) AdvanceSticky(ctx context.Context, scopeKey, dayKey string, newIndex int, label, reason string, nowEpoch int64, ttlSeconds int) (*StickyState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := stickyKey(scopeKey, dayKey)
	current, ok := m.sticky[k]
	currentIndex := -1
	if ok {
		currentIndex = current.ActiveModelIndex
	}
	if newIndex > currentIndex {
		displaced := ""
		if ok {
			displaced = current.ActiveModelLabel
		}
		m.sticky[k] = &StickyState{
			ActiveModelLabel: label,
			ActiveModelIndex: newIndex,
			Reason:           reason,
			ActivatedAtEpoch: nowEpoch,
			DisplacedLabel:   displaced,
		}
	}
	cp := *m.sticky[k]
	return &cp, nil
}

func (m *MemoryStore) RevokeToken(ctx context.Context, jti string, rec *RevokedToken, ttlSeconds int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.revoked[jti] = &cp
	return nil
}

func (m *MemoryStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.revoked[jti]
	return ok, nil
}

func priceKeyMem(modelID, date, region string) string {
	if region == "" {
		return modelID + "/" + date
	}
	return modelID + "/" + date + "/" + region
}

func (m *MemoryStore) GetCachedPrice(ctx context.Context, modelID, date, region string) (*PriceEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prices[priceKeyMem(modelID, date, region)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) PutCachedPrice(ctx context.Context, modelID, date, region string, entry *PriceEntry, ttlSeconds int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *entry
	m.prices[priceKeyMem(modelID, date, region)] = &cp
	return nil
}

func (m *MemoryStore) PutRetrievalGrant(ctx context.Context, token, secret string, ttlSeconds int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grants[token] = secret
	return nil
}

func (m *MemoryStore) ConsumeRetrievalGrant(ctx context.Context, token string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	secret, ok := m.grants[token]
	if !ok {
		return "", ErrNotFound
	}
	delete(m.grants, token)
	return secret, nil
}

var _ Store = (*MemoryStore)(nil)
