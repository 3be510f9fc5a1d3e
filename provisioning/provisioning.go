// Package provisioning is the provisioning component (spec §4.I):
// idempotent create-or-update for organizations and applications, with
// validation of the model ladder against the static pricebook and of
// quota coverage. Secret generation happens only on create; rotation is
// a separate operation delegated to the credential package.
package provisioning

import (
	"context"
	"sort"

	"github.com/shreedharn/bedrock-cost-keeper/apierr"
	"github.com/shreedharn/bedrock-cost-keeper/clock"
	"github.com/shreedharn/bedrock-cost-keeper/credential"
	"github.com/shreedharn/bedrock-cost-keeper/store"
)

var validQuotaScopes = map[string]bool{"ORG": true, "APP": true}

// Store is the config subset of store.Store this package depends on.
type Store interface {
	GetOrgConfig(ctx context.Context, orgID string) (*store.OrgConfig, error)
	PutOrgConfig(ctx context.Context, cfg *store.OrgConfig) error
	GetAppConfig(ctx context.Context, orgID, appID string) (*store.AppConfig, error)
	PutAppConfig(ctx context.Context, cfg *store.AppConfig) error
}

// Service implements organization and application provisioning.
type Service struct {
	store     Store
	clock     clock.Clock
	pricebook map[string]*store.PriceEntry // label -> static price entry
}

// New builds a Service over a pricebook indexed by label.
func New(s Store, c clock.Clock, pricebookByLabel map[string]*store.PriceEntry) *Service {
	return &Service{store: s, clock: c, pricebook: pricebookByLabel}
}

// OrgInput is the create-or-update payload for an organization.
type OrgInput struct {
	OrgID                 string
	OrgName               string
	Timezone              string
	QuotaScope            string
	ModelOrdering         []string
	Quotas                map[string]int64
	ShardCount            int
	TightModeThresholdPct float64
}

// Result carries the client_id and, only on creation, the freshly
// generated secret — the one time it is ever returned in plaintext.
type Result struct {
	ClientID string
	Secret   string // empty on update
	Created  bool
}

func (s *Service) validateLadderAndQuotas(ladder []string, quotas map[string]int64, quotaScope string) error {
	for _, lbl := range ladder {
		if _, ok := s.pricebook[lbl]; !ok {
			valid := make([]string, 0, len(s.pricebook))
			for l := range s.pricebook {
				valid = append(valid, l)
			}
			sort.Strings(valid)
			return apierr.Newf(apierr.CodeInvalidConfig, "label %q in model_ordering is not in the static pricebook", lbl).
				WithDetails(map[string]interface{}{"label": lbl, "valid_labels": valid})
		}
	}
	for _, lbl := range ladder {
		if _, ok := quotas[lbl]; !ok {
			return apierr.Newf(apierr.CodeInvalidConfig, "quotas is missing an entry for label %q", lbl)
		}
	}
	if !validQuotaScopes[quotaScope] {
		return apierr.Newf(apierr.CodeInvalidConfig, "quota_scope must be ORG or APP, got %q", quotaScope)
	}
	return nil
}

// CreateOrUpdateOrg is idempotent: identical inputs on an existing org
// produce the same persisted state and never touch the secret.
func (s *Service) CreateOrUpdateOrg(ctx context.Context, in OrgInput) (*Result, error) {
	if err := s.validateLadderAndQuotas(in.ModelOrdering, in.Quotas, in.QuotaScope); err != nil {
		return nil, err
	}

	now := s.clock.Now().Unix()
	existing, err := s.store.GetOrgConfig(ctx, in.OrgID)
	if err == nil {
		existing.OrgName = in.OrgName
		existing.Timezone = in.Timezone
		existing.QuotaScope = in.QuotaScope
		existing.ModelOrdering = in.ModelOrdering
		existing.Quotas = in.Quotas
		existing.ShardCount = in.ShardCount
		existing.TightModeThresholdPct = in.TightModeThresholdPct
		existing.UpdatedAtEpoch = now
		if err := s.store.PutOrgConfig(ctx, existing); err != nil {
			return nil, apierr.Wrap(apierr.CodeInternal, "updating organization failed", err)
		}
		return &Result{ClientID: existing.ClientID, Created: false}, nil
	}

	secret, hash, err := mintSecret()
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeInternal, "secret generation failed", err)
	}
	clientID := credential.OrgClientID(in.OrgID)
	cfg := &store.OrgConfig{
		OrgID:                 in.OrgID,
		OrgName:               in.OrgName,
		Timezone:              in.Timezone,
		QuotaScope:            in.QuotaScope,
		ModelOrdering:         in.ModelOrdering,
		Quotas:                in.Quotas,
		ClientID:              clientID,
		ClientSecretHash:      hash,
		ShardCount:            in.ShardCount,
		TightModeThresholdPct: in.TightModeThresholdPct,
		CreatedAtEpoch:        now,
		UpdatedAtEpoch:        now,
	}
	if err := s.store.PutOrgConfig(ctx, cfg); err != nil {
		return nil, apierr.Wrap(apierr.CodeInternal, "creating organization failed", err)
	}
	return &Result{ClientID: clientID, Secret: secret, Created: true}, nil
}

// AppInput is the create-or-update payload for an application. Empty
// ModelOrdering/Quotas mean "inherit from the org".
type AppInput struct {
	OrgID                 string
	AppID                 string
	AppName               string
	ModelOrdering         []string
	Quotas                map[string]int64
	ShardCount            int
	TightModeThresholdPct float64
}

// CreateOrUpdateApp is idempotent, following the same rules as
// CreateOrUpdateOrg; overrides are validated only when non-empty (an
// app inheriting the org's ladder is always valid by construction).
func (s *Service) CreateOrUpdateApp(ctx context.Context, in AppInput) (*Result, error) {
	org, err := s.store.GetOrgConfig(ctx, in.OrgID)
	if err != nil {
		return nil, apierr.New(apierr.CodeNotFound, "organization not found")
	}

	ladder := in.ModelOrdering
	quotas := in.Quotas
	if len(ladder) > 0 {
		if err := s.validateLadderAndQuotas(ladder, quotas, org.QuotaScope); err != nil {
			return nil, err
		}
	}

	now := s.clock.Now().Unix()
	existing, err := s.store.GetAppConfig(ctx, in.OrgID, in.AppID)
	if err == nil {
		existing.AppName = in.AppName
		existing.ModelOrdering = ladder
		existing.Quotas = quotas
		existing.ShardCount = in.ShardCount
		existing.TightModeThresholdPct = in.TightModeThresholdPct
		existing.UpdatedAtEpoch = now
		if err := s.store.PutAppConfig(ctx, existing); err != nil {
			return nil, apierr.Wrap(apierr.CodeInternal, "updating application failed", err)
		}
		return &Result{ClientID: existing.ClientID, Created: false}, nil
	}

	secret, hash, err := mintSecret()
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeInternal, "secret generation failed", err)
	}
	clientID := credential.AppClientID(in.OrgID, in.AppID)
	cfg := &store.AppConfig{
		OrgID:                 in.OrgID,
		AppID:                 in.AppID,
		AppName:               in.AppName,
		ModelOrdering:         ladder,
		Quotas:                quotas,
		ClientID:              clientID,
		ClientSecretHash:      hash,
		ShardCount:            in.ShardCount,
		TightModeThresholdPct: in.TightModeThresholdPct,
		CreatedAtEpoch:        now,
		UpdatedAtEpoch:        now,
	}
	if err := s.store.PutAppConfig(ctx, cfg); err != nil {
		return nil, apierr.Wrap(apierr.CodeInternal, "creating application failed", err)
	}
	return &Result{ClientID: clientID, Secret: secret, Created: true}, nil
}

func mintSecret() (secret, hash string, err error) {
	secret, err = credential.GenerateSecret()
	if err != nil {
		return "", "", err
	}
	hash, err = credential.HashSecret(secret)
	if err != nil {
		return "", "", err
	}
	return secret, hash, nil
}
