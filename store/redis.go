package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the production Store backed by Redis. Config records are
// plain JSON strings; counters and sticky state use Lua scripts for the
// atomic conditional-write primitives spec §6.2 requires, the same pattern
// ineyio-inferrouter's quota store uses for its Reserve/Commit scripts.
type RedisStore struct {
	c         redis.Cmdable
	keyPrefix string
}

// NewRedisStore wraps an already-connected go-redis client.
func NewRedisStore(c redis.Cmdable) *RedisStore {
	return &RedisStore{c: c, keyPrefix: "bck:"}
}

// NewFromURL parses a REDIS_URL and returns a ready RedisStore.
func NewFromURL(url string) (*RedisStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	return NewRedisStore(redis.NewClient(opt)), nil
}

func (s *RedisStore) k(parts ...string) string {
	key := s.keyPrefix
	for i, p := range parts {
		if i > 0 {
			key += ":"
		}
		key += p
	}
	return key
}

// Ping probes store liveness for the /health endpoint.
func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.c.Ping(ctx).Err()
}

// ─── Config ──────────────────────────────────────────────────

func (s *RedisStore) getJSON(ctx context.Context, key string, v interface{}) error {
	raw, err := s.c.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return ErrNotFound
		}
		return err
	}
	return json.Unmarshal(raw, v)
}

func (s *RedisStore) putJSON(ctx context.Context, key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.c.Set(ctx, key, raw, 0).Err()
}

func (s *RedisStore) GetOrgConfig(ctx context.Context, orgID string) (*OrgConfig, error) {
	var cfg OrgConfig
	if err := s.getJSON(ctx, s.k("cfg", "org", orgID), &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *RedisStore) PutOrgConfig(ctx context.Context, cfg *OrgConfig) error {
	return s.putJSON(ctx, s.k("cfg", "org", cfg.OrgID), cfg)
}

func (s *RedisStore) GetAppConfig(ctx context.Context, orgID, appID string) (*AppConfig, error) {
	var cfg AppConfig
	if err := s.getJSON(ctx, s.k("cfg", "app", orgID, appID), &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *RedisStore) PutAppConfig(ctx context.Context, cfg *AppConfig) error {
	return s.putJSON(ctx, s.k("cfg", "app", cfg.OrgID, cfg.AppID), cfg)
}

func (s *RedisStore) GetProfile(ctx context.Context, orgID, appID, label string) (*Profile, error) {
	var p Profile
	if err := s.getJSON(ctx, s.k("cfg", "profile", orgID, appID, label), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *RedisStore) PutProfile(ctx context.Context, p *Profile) error {
	key := s.k("cfg", "profile", p.OrgID, p.AppID, p.Label)
	if err := s.putJSON(ctx, key, p); err != nil {
		return err
	}
	return s.c.SAdd(ctx, s.k("cfg", "profiles", p.OrgID, p.AppID), p.Label).Err()
}

func (s *RedisStore) ListProfiles(ctx context.Context, orgID, appID string) ([]*Profile, error) {
	labels, err := s.c.SMembers(ctx, s.k("cfg", "profiles", orgID, appID)).Result()
	if err != nil {
		return nil, err
	}
	profiles := make([]*Profile, 0, len(labels))
	for _, label := range labels {
		p, err := s.GetProfile(ctx, orgID, appID, label)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}

// ─── Counters ────────────────────────────────────────────────

// incrShardScript applies the idempotent conditional increment from §4.F:
// guard is "request_id not in stored_request_ids"; on success it bumps the
// hash counters, adds the id to the set, and lets both keys share one TTL.
//
// KEYS[1] = shard hash key
// KEYS[2] = shard request-id set key
// ARGV[1] = request_id
// ARGV[2] = delta cost_micros
// ARGV[3] = delta input_tokens
// ARGV[4] = delta output_tokens
// ARGV[5] = now epoch
// ARGV[6] = ttl seconds
var incrShardScript = redis.NewScript(`
local hkey = KEYS[1]
local skey = KEYS[2]
local request_id = ARGV[1]
local d_cost = tonumber(ARGV[2])
local d_in = tonumber(ARGV[3])
local d_out = tonumber(ARGV[4])
local now = ARGV[5]
local ttl = tonumber(ARGV[6])

if redis.call("SISMEMBER", skey, request_id) == 1 then
    return 0
end

redis.call("SADD", skey, request_id)
redis.call("HINCRBY", hkey, "cost_micros", d_cost)
redis.call("HINCRBY", hkey, "input_tokens", d_in)
redis.call("HINCRBY", hkey, "output_tokens", d_out)
redis.call("HINCRBY", hkey, "requests", 1)
redis.call("HSET", hkey, "updated_at_epoch", now)
redis.call("EXPIRE", hkey, ttl)
redis.call("EXPIRE", skey, ttl)
return 1
`)

func (s *RedisStore) shardKeys(key ShardKey) (hkey, skey string) {
	part := ShardPartitionKey(key.ScopeKey, key.Label, key.ShardIndex)
	hkey = s.k("ctr", part, key.DayKey)
	skey = s.k("ctr", part, key.DayKey, "rids")
	return
}

func (s *RedisStore) IncrShard(ctx context.Context, key ShardKey, requestID string, deltaCostMicros, deltaInputTokens, deltaOutputTokens int64, nowEpoch int64, ttlSeconds int) error {
	hkey, skey := s.shardKeys(key)
	_, err := incrShardScript.Run(ctx, s.c, []string{hkey, skey},
		requestID, deltaCostMicros, deltaInputTokens, deltaOutputTokens, nowEpoch, ttlSeconds,
	).Result()
	// Guard failure is not an error: §4.F "Effect on guard failure: no-op,
	// return accepted (idempotent)".
	return err
}

func (s *RedisStore) GetShard(ctx context.Context, key ShardKey) (*ShardValue, error) {
	hkey, _ := s.shardKeys(key)
	vals, err := s.c.HGetAll(ctx, hkey).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return &ShardValue{}, nil
	}
	return shardValueFromMap(vals), nil
}

func (s *RedisStore) GetShardsBatch(ctx context.Context, keys []ShardKey) (map[ShardKey]*ShardValue, error) {
	pipe := s.c.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(keys))
	for i, key := range keys {
		hkey, _ := s.shardKeys(key)
		cmds[i] = pipe.HGetAll(ctx, hkey)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}
	out := make(map[ShardKey]*ShardValue, len(keys))
	for i, key := range keys {
		vals, err := cmds[i].Result()
		if err != nil {
			return nil, err
		}
		if len(vals) == 0 {
			out[key] = &ShardValue{}
			continue
		}
		out[key] = shardValueFromMap(vals)
	}
	return out, nil
}

func shardValueFromMap(vals map[string]string) *ShardValue {
	return &ShardValue{
		CostMicros:     parseInt64(vals["cost_micros"]),
		InputTokens:    parseInt64(vals["input_tokens"]),
		OutputTokens:   parseInt64(vals["output_tokens"]),
		Requests:       parseInt64(vals["requests"]),
		UpdatedAtEpoch: parseInt64(vals["updated_at_epoch"]),
	}
}

// ─── Sticky-fallback state ──────────────────────────────────

// advanceStickyScript implements both sticky transitions in §4.G with one
// primitive: treat "no state" as index -1, and only advance the stored
// index when newIndex is strictly greater. Always returns the final stored
// fields so the caller can re-evaluate without a second round trip.
//
// KEYS[1] = sticky hash key
// ARGV[1] = new_index
// ARGV[2] = label
// ARGV[3] = reason
// ARGV[4] = now epoch
// ARGV[5] = displaced label (may be empty: the currently stored label is then recorded)
// ARGV[6] = ttl seconds
var advanceStickyScript = redis.NewScript(`
local hkey = KEYS[1]
local new_index = tonumber(ARGV[1])
local label = ARGV[2]
local reason = ARGV[3]
local now = ARGV[4]
local displaced = ARGV[5]
local ttl = tonumber(ARGV[6])

local current = tonumber(redis.call("HGET", hkey, "active_model_index") or "-1")

if new_index > current then
    if displaced == "" then
        displaced = redis.call("HGET", hkey, "active_model_label") or ""
    end
    redis.call("HSET", hkey,
        "active_model_label", label,
        "active_model_index", new_index,
        "reason", reason,
        "activated_at_epoch", now,
        "displaced_label", displaced)
    redis.call("EXPIRE", hkey, ttl)
end

return redis.call("HGETALL", hkey)
`)

func (s *RedisStore) stickyKey(scopeKey, dayKey string) string {
	return s.k("sticky", scopeKey, dayKey)
}

func (s *RedisStore) GetSticky(ctx context.Context, scopeKey, dayKey string) (*StickyState, error) {
	vals, err := s.c.HGetAll(ctx, s.stickyKey(scopeKey, dayKey)).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, ErrNotFound
	}
	return stickyFromMap(vals), nil
}

func (s *RedisStore) AdvanceSticky(ctx context.Context, scopeKey, dayKey string, newIndex int, label, reason string, nowEpoch int64, ttlSeconds int) (*StickyState, error) {
	res, err := advanceStickyScript.Run(ctx, s.c, []string{s.stickyKey(scopeKey, dayKey)},
		newIndex, label, reason, nowEpoch, "", ttlSeconds,
	).Result()
	if err != nil {
		return nil, err
	}
	flat, ok := res.([]interface{})
	if !ok || len(flat) == 0 {
		return nil, ErrNotFound
	}
	vals := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		vals[fmt.Sprint(flat[i])] = fmt.Sprint(flat[i+1])
	}
	return stickyFromMap(vals), nil
}

func stickyFromMap(vals map[string]string) *StickyState {
	return &StickyState{
		ActiveModelLabel: vals["active_model_label"],
		ActiveModelIndex: int(parseInt64(vals["active_model_index"])),
		Reason:           vals["reason"],
		ActivatedAtEpoch: parseInt64(vals["activated_at_epoch"]),
		DisplacedLabel:   vals["displaced_label"],
	}
}

// ─── Token revocation ───────────────────────────────────────

func (s *RedisStore) RevokeToken(ctx context.Context, jti string, rec *RevokedToken, ttlSeconds int) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.c.Set(ctx, s.k("revoked", jti), raw, time.Duration(ttlSeconds)*time.Second).Err()
}

func (s *RedisStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := s.c.Exists(ctx, s.k("revoked", jti)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ─── Pricing cache ──────────────────────────────────────────

func (s *RedisStore) priceKey(modelID, date, region string) string {
	if region == "" {
		return s.k("price", modelID, date)
	}
	return s.k("price", modelID, date, region)
}

func (s *RedisStore) GetCachedPrice(ctx context.Context, modelID, date, region string) (*PriceEntry, error) {
	var p PriceEntry
	if err := s.getJSON(ctx, s.priceKey(modelID, date, region), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *RedisStore) PutCachedPrice(ctx context.Context, modelID, date, region string, entry *PriceEntry, ttlSeconds int) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.c.Set(ctx, s.priceKey(modelID, date, region), raw, time.Duration(ttlSeconds)*time.Second).Err()
}

// ─── Secret-retrieval grant ─────────────────────────────────

func (s *RedisStore) PutRetrievalGrant(ctx context.Context, token, secret string, ttlSeconds int) error {
	return s.c.Set(ctx, s.k("grant", token), secret, time.Duration(ttlSeconds)*time.Second).Err()
}

// ConsumeRetrievalGrant atomically reads and deletes the grant so a replayed
// token never succeeds twice ("single-use-wins", spec §3).
func (s *RedisStore) ConsumeRetrievalGrant(ctx context.Context, token string) (string, error) {
	secret, err := s.c.GetDel(ctx, s.k("grant", token)).Result()
	if err != nil {
		if err == redis.Nil {
			return "", ErrNotFound
		}
		return "", err
	}
	return secret, nil
}

func parseInt64(s string) int64 {
	var n int64
	if s == "" {
		return 0
	}
	_, err := fmt.Sscanf(s, "%d", &n)
	if err != nil {
		return 0
	}
	return n
}
