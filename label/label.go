// Package label is the label resolver (spec §4.E): it turns a caller's
// model_label into a (kind, identifier, pricing_region?) tuple by first
// checking for an inference-profile registration, then falling back to
// the static pricebook. Profile registration signs the upstream
// describe-profile call with a hand-rolled AWS SigV4 signer, following
// the exact scheme the teacher's Bedrock provider connector uses rather
// than pulling in the full AWS SDK for one read-only call.
package label

import (
	"context"
	"regexp"

	"github.com/shreedharn/bedrock-cost-keeper/apierr"
	"github.com/shreedharn/bedrock-cost-keeper/store"
)

// Kind is the resolved label's category.
type Kind string

const (
	KindProfile Kind = "profile"
	KindModel   Kind = "model"
)

// Resolved is the outcome of a label lookup.
type Resolved struct {
	Kind           Kind
	Identifier     string // model-id
	PricingRegion  string // empty when Kind == KindModel
}

// arnPattern anchors the inference-profile ARN shape from spec §4.E.
var arnPattern = regexp.MustCompile(`^arn:aws:bedrock:([a-z0-9-]+):(\d{12}):inference-profile/(.+)$`)

// ParseProfileARN validates the ARN shape and extracts its region.
func ParseProfileARN(arn string) (region string, err error) {
	m := arnPattern.FindStringSubmatch(arn)
	if m == nil {
		return "", apierr.Newf(apierr.CodeInvalidRequest, "malformed inference-profile ARN: %q", arn)
	}
	return m[1], nil
}

// Store is the label subset of store.Store this package depends on.
type Store interface {
	GetProfile(ctx context.Context, orgID, appID, label string) (*store.Profile, error)
	PutProfile(ctx context.Context, p *store.Profile) error
	ListProfiles(ctx context.Context, orgID, appID string) ([]*store.Profile, error)
}

// ProfileDescriber describes an inference profile against the upstream
// provider, returning its region -> model-id map. Implementations bind a
// signed HTTP client to the ARN's region.
type ProfileDescriber interface {
	DescribeProfile(ctx context.Context, region, arn string) (map[string]string, error)
}

// Resolver implements label resolution and profile registration.
type Resolver struct {
	store       Store
	describer   ProfileDescriber
	pricebook   map[string]*store.PriceEntry // label -> static price entry
}

// NewResolver builds a Resolver over a profile store, an upstream
// describer, and the static pricebook indexed by label.
func NewResolver(s Store, describer ProfileDescriber, pricebookByLabel map[string]*store.PriceEntry) *Resolver {
	return &Resolver{store: s, describer: describer, pricebook: pricebookByLabel}
}

// Resolve implements the three-step lookup from spec §4.E.
func (r *Resolver) Resolve(ctx context.Context, orgID, appID, modelLabel, callingRegion string) (*Resolved, error) {
	profile, err := r.store.GetProfile(ctx, orgID, appID, modelLabel)
	if err == nil {
		if callingRegion == "" {
			return nil, apierr.New(apierr.CodeInvalidRequest, "calling_region is required to resolve a profile label")
		}
		modelID, ok := profile.RegionMap[callingRegion]
		if !ok {
			return nil, apierr.Newf(apierr.CodeInvalidRequest, "unsupported-region: profile %q has no mapping for region %q", modelLabel, callingRegion)
		}
		return &Resolved{Kind: KindProfile, Identifier: modelID, PricingRegion: callingRegion}, nil
	}

	if entry, ok := r.pricebook[modelLabel]; ok {
		return &Resolved{Kind: KindModel, Identifier: entry.ModelID}, nil
	}

	return nil, apierr.Newf(apierr.CodeInvalidRequest, "unknown-label: %q is neither a registered profile nor a static model label", modelLabel)
}

// GetProfile returns a single registered profile record, for the profile
// detail endpoint (spec §6.1 "GET .../inference-profiles/{label}").
func (r *Resolver) GetProfile(ctx context.Context, orgID, appID, label string) (*store.Profile, error) {
	p, err := r.store.GetProfile(ctx, orgID, appID, label)
	if err != nil {
		return nil, apierr.New(apierr.CodeNotFound, "inference profile not found")
	}
	return p, nil
}

// ListProfiles returns every profile registered under an app, for the
// profile listing endpoint (spec §6.1 "GET .../inference-profiles").
func (r *Resolver) ListProfiles(ctx context.Context, orgID, appID string) ([]*store.Profile, error) {
	profiles, err := r.store.ListProfiles(ctx, orgID, appID)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeInternal, "listing inference profiles failed", err)
	}
	return profiles, nil
}

// RegisterProfile validates arn, describes it upstream, and persists the
// resulting region -> model-id map (spec §4.E write path).
func (r *Resolver) RegisterProfile(ctx context.Context, orgID, appID, label, arn string) (*store.Profile, error) {
	region, err := ParseProfileARN(arn)
	if err != nil {
		return nil, err
	}
	regionMap, err := r.describer.DescribeProfile(ctx, region, arn)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeInvalidConfig, "describing inference profile upstream failed", err)
	}
	if len(regionMap) == 0 {
		return nil, apierr.Newf(apierr.CodeInvalidConfig, "inference profile %q resolved to no models upstream", arn)
	}

	profile := &store.Profile{
		OrgID:     orgID,
		AppID:     appID,
		Label:     label,
		ARN:       arn,
		RegionMap: regionMap,
	}
	if err := r.store.PutProfile(ctx, profile); err != nil {
		return nil, apierr.Wrap(apierr.CodeInternal, "persisting profile registration failed", err)
	}
	return profile, nil
}
