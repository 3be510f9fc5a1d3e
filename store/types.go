package store

// OrgConfig is the persisted configuration record for an organization
// (spec §3 "Organization").
type OrgConfig struct {
	OrgID                  string           `json:"org_id"`
	OrgName                string           `json:"org_name"`
	Timezone               string           `json:"timezone"`
	QuotaScope             string           `json:"quota_scope"` // ORG | APP
	ModelOrdering          []string         `json:"model_ordering"`
	Quotas                 map[string]int64 `json:"quotas"` // micro-USD per day
	ClientID               string           `json:"client_id"`
	ClientSecretHash       string           `json:"client_secret_hash"`
	PreviousSecretHash     string           `json:"previous_secret_hash,omitempty"`
	GraceExpiresAtEpoch    int64            `json:"grace_expires_at_epoch,omitempty"`
	ShardCount             int              `json:"shard_count,omitempty"`
	TightModeThresholdPct  float64          `json:"tight_mode_threshold_pct,omitempty"`
	Extra                  map[string]string `json:"extra,omitempty"`
	CreatedAtEpoch         int64            `json:"created_at_epoch"`
	UpdatedAtEpoch         int64            `json:"updated_at_epoch"`
}

// AppConfig is the persisted configuration record for an app nested under
// an org (spec §3 "Application"). Zero-value fields mean "inherit from org".
type AppConfig struct {
	OrgID                 string            `json:"org_id"`
	AppID                 string            `json:"app_id"`
	AppName               string            `json:"app_name"`
	ModelOrdering         []string          `json:"model_ordering,omitempty"`
	Quotas                map[string]int64  `json:"quotas,omitempty"`
	ClientID              string            `json:"client_id"`
	ClientSecretHash      string            `json:"client_secret_hash"`
	PreviousSecretHash    string            `json:"previous_secret_hash,omitempty"`
	GraceExpiresAtEpoch   int64             `json:"grace_expires_at_epoch,omitempty"`
	ShardCount            int               `json:"shard_count,omitempty"`
	TightModeThresholdPct float64           `json:"tight_mode_threshold_pct,omitempty"`
	Extra                 map[string]string `json:"extra,omitempty"`
	CreatedAtEpoch        int64             `json:"created_at_epoch"`
	UpdatedAtEpoch        int64             `json:"updated_at_epoch"`
}

// Profile is a registered inference profile nested under an app
// (spec §3 "Inference profile").
type Profile struct {
	OrgID     string            `json:"org_id"`
	AppID     string            `json:"app_id"`
	Label     string            `json:"label"`
	ARN       string            `json:"arn"`
	RegionMap map[string]string `json:"region_map"` // region -> model-id
	CreatedAtEpoch int64        `json:"created_at_epoch"`
}

// ShardValue is the value of one counter cell (spec §3 "Usage shard").
type ShardValue struct {
	CostMicros   int64 `json:"cost_micros"`
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	Requests     int64 `json:"requests"`
	UpdatedAtEpoch int64 `json:"updated_at_epoch"`
}

// Add returns the componentwise sum of two shard values; a nil receiver or
// argument counts as zero, matching "missing shards count as zero" (§4.F).
func (s *ShardValue) Add(o *ShardValue) *ShardValue {
	out := &ShardValue{}
	if s != nil {
		out.CostMicros += s.CostMicros
		out.InputTokens += s.InputTokens
		out.OutputTokens += s.OutputTokens
		out.Requests += s.Requests
	}
	if o != nil {
		out.CostMicros += o.CostMicros
		out.InputTokens += o.InputTokens
		out.OutputTokens += o.OutputTokens
		out.Requests += o.Requests
		if o.UpdatedAtEpoch > out.UpdatedAtEpoch {
			out.UpdatedAtEpoch = o.UpdatedAtEpoch
		}
	}
	if s != nil && s.UpdatedAtEpoch > out.UpdatedAtEpoch {
		out.UpdatedAtEpoch = s.UpdatedAtEpoch
	}
	return out
}

// ShardKey addresses a single counter cell.
type ShardKey struct {
	ScopeKey   string
	DayKey     string
	Label      string
	ShardIndex int
}

// StickyState is the sticky-fallback record for a (scope, day) pair
// (spec §3 "Sticky-fallback state").
type StickyState struct {
	ActiveModelLabel string `json:"active_model_label"`
	ActiveModelIndex int    `json:"active_model_index"`
	Reason           string `json:"reason"`
	ActivatedAtEpoch int64  `json:"activated_at_epoch"`
	DisplacedLabel   string `json:"displaced_label,omitempty"`
}

// PriceEntry is a single resolved price, the unit persisted in the pricing
// cache tier (spec §4.D tier 2) and returned by the static pricebook (tier 3).
type PriceEntry struct {
	Label               string `json:"label"`
	Kind                string `json:"kind"` // "model"
	ModelID             string `json:"id"`
	InputPriceMicrosPer1M  int64 `json:"input_price_usd_micros_per_1m"`
	OutputPriceMicrosPer1M int64 `json:"output_price_usd_micros_per_1m"`
}

// RevokedToken is the value of a revocation-list record, keyed by jti.
type RevokedToken struct {
	TokenKind      string `json:"token_kind"`
	Subject        string `json:"subject"`
	OriginalExpEpoch int64 `json:"original_exp_epoch"`
}
