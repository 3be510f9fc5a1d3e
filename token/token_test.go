package token

import (
	"context"
	"testing"
	"time"

	"github.com/shreedharn/bedrock-cost-keeper/apierr"
	"github.com/shreedharn/bedrock-cost-keeper/clock"
	"github.com/shreedharn/bedrock-cost-keeper/store"
)

func newTestService(t *testing.T, c clock.Clock) (*Service, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore()
	svc, err := New([]byte("test-signing-key-0123456789"), s, c, 3600, 30*24*3600)
	if err != nil {
		t.Fatal(err)
	}
	return svc, s
}

func TestIssueAndVerifyAccessToken(t *testing.T) {
	fc := clock.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	svc, _ := newTestService(t, fc)

	issued, err := svc.IssueAccessToken("org-1", "app-1")
	if err != nil {
		t.Fatal(err)
	}

	verified, err := svc.Verify(context.Background(), issued.Raw, KindAccess)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if verified.OrgID != "org-1" || verified.AppID != "app-1" {
		t.Errorf("unexpected subject: %+v", verified)
	}
}

func TestVerifyRejectsWrongKind(t *testing.T) {
	fc := clock.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	svc, _ := newTestService(t, fc)

	issued, err := svc.IssueRefreshToken("org-1", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Verify(context.Background(), issued.Raw, KindAccess); !apierr.Is(err, apierr.CodeUnauthorized) {
		t.Errorf("expected unauthorized for mismatched kind, got %v", err)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	fc := clock.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	svc, _ := newTestService(t, fc)

	issued, err := svc.IssueAccessToken("org-1", "")
	if err != nil {
		t.Fatal(err)
	}
	fc.Advance(2 * time.Hour)
	if _, err := svc.Verify(context.Background(), issued.Raw, KindAccess); !apierr.Is(err, apierr.CodeUnauthorized) {
		t.Errorf("expected unauthorized for expired token, got %v", err)
	}
}

func TestVerifyRejectsRevokedToken(t *testing.T) {
	ctx := context.Background()
	fc := clock.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	svc, _ := newTestService(t, fc)

	issued, err := svc.IssueAccessToken("org-1", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Revoke(ctx, issued.JTI, "org-1", KindAccess, issued.ExpEpoch); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Verify(ctx, issued.Raw, KindAccess); !apierr.Is(err, apierr.CodeUnauthorized) {
		t.Errorf("expected unauthorized for revoked token, got %v", err)
	}
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	fc := clock.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	svc, _ := newTestService(t, fc)

	issued, err := svc.IssueAccessToken("org-1", "")
	if err != nil {
		t.Fatal(err)
	}
	tampered := issued.Raw[:len(issued.Raw)-2] + "xx"
	if _, err := svc.Verify(context.Background(), tampered, KindAccess); !apierr.Is(err, apierr.CodeUnauthorized) {
		t.Errorf("expected unauthorized for tampered token, got %v", err)
	}
}

func TestRefreshIssuesNewAccessTokenSameSubject(t *testing.T) {
	fc := clock.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	svc, _ := newTestService(t, fc)

	refresh, err := svc.IssueRefreshToken("org-1", "app-2")
	if err != nil {
		t.Fatal(err)
	}
	newAccess, err := svc.Refresh(context.Background(), refresh.Raw)
	if err != nil {
		t.Fatal(err)
	}
	verified, err := svc.Verify(context.Background(), newAccess.Raw, KindAccess)
	if err != nil {
		t.Fatal(err)
	}
	if verified.OrgID != "org-1" || verified.AppID != "app-2" {
		t.Errorf("unexpected subject from refresh: %+v", verified)
	}
}

func TestNewRejectsEmptyKey(t *testing.T) {
	s := store.NewMemoryStore()
	if _, err := New(nil, s, clock.System{}, 3600, 3600); err == nil {
		t.Error("expected error for empty signing key")
	}
}
