// Package token is the token issuer/verifier (spec §4.C): HS256-signed
// access and refresh JWTs, carrying the authenticated subject and scope,
// checked at verification time against a revocation list keyed by jti.
// Grounded on the go-jose/go-jose/v4 signer+jwt.Claims pattern used
// elsewhere in the corpus for session tokens.
package token

import (
	"context"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"

	"github.com/shreedharn/bedrock-cost-keeper/apierr"
	"github.com/shreedharn/bedrock-cost-keeper/clock"
	"github.com/shreedharn/bedrock-cost-keeper/store"
)

const issuer = "bedrock-cost-keeper"

// Kind distinguishes access from refresh tokens; a token of one kind is
// never accepted where the other is expected.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// Default scopes an access token carries (spec §4.C).
var DefaultScope = []string{"read:aggregates", "write:costs", "read:model-selection"}

// Claims is the custom claim set layered on top of registered JWT claims.
type Claims struct {
	OrgID     string   `json:"org_id"`
	AppID     string   `json:"app_id,omitempty"`
	TokenKind Kind     `json:"token_type"`
	Scope     []string `json:"scope,omitempty"`
}

// Issued is what an issuance call returns: the signed token and its claims.
type Issued struct {
	Raw       string
	JTI       string
	ExpEpoch  int64
	TokenKind Kind
}

// RevocationStore is the subset of store.Store the token package depends on.
type RevocationStore interface {
	RevokeToken(ctx context.Context, jti string, rec *store.RevokedToken, ttlSeconds int) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// Service issues and verifies tokens against a shared HMAC signing key.
type Service struct {
	signer          jose.Signer
	signingKey      []byte
	store           RevocationStore
	clock           clock.Clock
	accessTTLSec    int64
	refreshTTLSec   int64
}

// New builds a Service. signingKey must be non-empty; it is the shared
// HS256 secret used for both access and refresh tokens.
func New(signingKey []byte, s RevocationStore, c clock.Clock, accessTTLSec, refreshTTLSec int64) (*Service, error) {
	if len(signingKey) == 0 {
		return nil, fmt.Errorf("token: signing key must not be empty")
	}
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: signingKey}, (&jose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		return nil, fmt.Errorf("token: building signer: %w", err)
	}
	return &Service{
		signer:        signer,
		signingKey:    signingKey,
		store:         s,
		clock:         c,
		accessTTLSec:  accessTTLSec,
		refreshTTLSec: refreshTTLSec,
	}, nil
}

func (s *Service) issue(orgID, appID string, scope []string, kind Kind, ttlSec int64) (*Issued, error) {
	now := s.clock.Now()
	jti := uuid.New().String()
	exp := now.Add(time.Duration(ttlSec) * time.Second)

	registered := jwt.Claims{
		Subject:  orgID,
		Issuer:   issuer,
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(exp),
		ID:       jti,
	}
	custom := Claims{OrgID: orgID, AppID: appID, TokenKind: kind, Scope: scope}

	raw, err := jwt.Signed(s.signer).Claims(registered).Claims(custom).Serialize()
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeInternal, "signing token failed", err)
	}
	return &Issued{Raw: raw, JTI: jti, ExpEpoch: exp.Unix(), TokenKind: kind}, nil
}

// IssueAccessToken mints a short-lived access token for the given subject.
func (s *Service) IssueAccessToken(orgID, appID string) (*Issued, error) {
	return s.issue(orgID, appID, DefaultScope, KindAccess, s.accessTTLSec)
}

// IssueRefreshToken mints a long-lived refresh token carrying no scope
// beyond what is needed to mint a fresh access token.
func (s *Service) IssueRefreshToken(orgID, appID string) (*Issued, error) {
	return s.issue(orgID, appID, nil, KindRefresh, s.refreshTTLSec)
}

// Verified is the caller-facing result of a successful verification.
type Verified struct {
	OrgID    string
	AppID    string
	JTI      string
	Scope    []string
	ExpEpoch int64
}

// Verify checks signature, expiry, issuer, token kind, and revocation
// status, in that order, but always returns the same unauthorized error
// on any failure so a caller cannot probe which check failed (spec §7).
func (s *Service) Verify(ctx context.Context, raw string, wantKind Kind) (*Verified, error) {
	unauthorized := apierr.New(apierr.CodeUnauthorized, "invalid or expired token")

	parsed, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return nil, unauthorized
	}

	var registered jwt.Claims
	var custom Claims
	if err := parsed.Claims(s.signingKey, &registered, &custom); err != nil {
		return nil, unauthorized
	}

	now := s.clock.Now()
	if err := registered.ValidateWithLeeway(jwt.Expected{Issuer: issuer, Time: now}, 5*time.Second); err != nil {
		return nil, unauthorized
	}
	if custom.TokenKind != wantKind {
		return nil, unauthorized
	}

	revoked, err := s.store.IsRevoked(ctx, registered.ID)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeInternal, "checking revocation status failed", err)
	}
	if revoked {
		return nil, unauthorized
	}

	return &Verified{
		OrgID:    custom.OrgID,
		AppID:    custom.AppID,
		JTI:      registered.ID,
		Scope:    custom.Scope,
		ExpEpoch: registered.Expiry.Time().Unix(),
	}, nil
}

// Revoke adds jti to the revocation list until its original expiry, after
// which the record self-prunes (store-level TTL).
func (s *Service) Revoke(ctx context.Context, jti, subject string, kind Kind, expEpoch int64) error {
	ttl := int(expEpoch - s.clock.Now().Unix())
	if ttl < 1 {
		ttl = 1
	}
	rec := &store.RevokedToken{TokenKind: string(kind), Subject: subject, OriginalExpEpoch: expEpoch}
	if err := s.store.RevokeToken(ctx, jti, rec, ttl); err != nil {
		return apierr.Wrap(apierr.CodeInternal, "revoking token failed", err)
	}
	return nil
}

// VerifyEither verifies raw as whichever kind it actually is, for the
// revoke endpoint, which accepts either an access or a refresh token
// without the caller declaring which (spec §6.1 "Revoke an access or
// refresh token").
func (s *Service) VerifyEither(ctx context.Context, raw string) (*Verified, Kind, error) {
	if v, err := s.Verify(ctx, raw, KindAccess); err == nil {
		return v, KindAccess, nil
	}
	v, err := s.Verify(ctx, raw, KindRefresh)
	if err != nil {
		return nil, "", err
	}
	return v, KindRefresh, nil
}

// Refresh exchanges a valid refresh token for a new access token bound to
// the same subject and scope. The refresh token itself is not rotated
// (spec §9 open question: refresh-token reuse is accepted until its own
// expiry or explicit revocation).
func (s *Service) Refresh(ctx context.Context, rawRefresh string) (*Issued, error) {
	verified, err := s.Verify(ctx, rawRefresh, KindRefresh)
	if err != nil {
		return nil, err
	}
	return s.IssueAccessToken(verified.OrgID, verified.AppID)
}
