package credential

import (
	"context"

	"github.com/google/uuid"

	"github.com/shreedharn/bedrock-cost-keeper/apierr"
)

// GrantStore is the subset of store.Store the retrieval-grant flow needs.
type GrantStore interface {
	PutRetrievalGrant(ctx context.Context, token, secret string, ttlSeconds int) error
	ConsumeRetrievalGrant(ctx context.Context, token string) (string, error)
}

// grantTTLSeconds bounds how long an operator has to redeem a freshly
// rotated secret before the one-time handle expires.
const grantTTLSeconds = 300

// IssueRetrievalGrant stores secret behind a short-lived opaque token and
// returns the token to hand to the operator instead of the secret itself
// (spec.md §3 "Secret-retrieval grant... optional in some deployments").
func IssueRetrievalGrant(ctx context.Context, s GrantStore, secret string) (string, error) {
	token := uuid.New().String()
	if err := s.PutRetrievalGrant(ctx, token, secret, grantTTLSeconds); err != nil {
		return "", apierr.Wrap(apierr.CodeInternal, "issuing retrieval grant failed", err)
	}
	return token, nil
}

// RedeemRetrievalGrant exchanges the token for the secret exactly once;
// a replayed token fails with conflict/already-used (spec §7).
func RedeemRetrievalGrant(ctx context.Context, s GrantStore, token string) (string, error) {
	secret, err := s.ConsumeRetrievalGrant(ctx, token)
	if err != nil {
		return "", apierr.New(apierr.CodeConflict, "retrieval token already used or expired")
	}
	return secret, nil
}
