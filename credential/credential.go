// Package credential is the credential store (spec §4.B): client-id /
// hashed-secret / rotation metadata per org and app, secret verification,
// and rotation with grace period. Secret hashing uses argon2id, a
// memory-hard KDF, per the spec's explicit requirement — the Python source
// this was distilled from used bcrypt, which is not memory-hard.
package credential

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/shreedharn/bedrock-cost-keeper/apierr"
	"github.com/shreedharn/bedrock-cost-keeper/clock"
	"github.com/shreedharn/bedrock-cost-keeper/store"
)

// Argon2 parameters. Chosen for an interactive-auth workload: enough memory
// to be expensive to brute-force in parallel, not so much that a single
// login request blocks the handler for long.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

// Subject identifies the caller resolved from a client_id.
type Subject struct {
	OrgID string
	AppID string // empty for an org-level credential
}

var orgClientIDPattern = regexp.MustCompile(`^org-([^-]+(?:-[^-]+){4})$`)
var appClientIDPattern = regexp.MustCompile(`^org-([^-]+(?:-[^-]+){4})-app-(.+)$`)

// ParseClientID resolves a client_id of the form "org-{uuid}" or
// "org-{uuid}-app-{id}" into its (org_id, app_id?) tuple.
func ParseClientID(clientID string) (Subject, error) {
	if m := appClientIDPattern.FindStringSubmatch(clientID); m != nil {
		return Subject{OrgID: m[1], AppID: m[2]}, nil
	}
	if m := orgClientIDPattern.FindStringSubmatch(clientID); m != nil {
		return Subject{OrgID: m[1]}, nil
	}
	return Subject{}, apierr.New(apierr.CodeUnauthorized, "malformed client_id")
}

// OrgClientID formats the canonical org-level client_id.
func OrgClientID(orgID string) string { return "org-" + orgID }

// AppClientID formats the canonical app-level client_id.
func AppClientID(orgID, appID string) string { return fmt.Sprintf("org-%s-app-%s", orgID, appID) }

// Store is the credential subset of store.Store this package depends on.
type Store interface {
	GetOrgConfig(ctx context.Context, orgID string) (*store.OrgConfig, error)
	PutOrgConfig(ctx context.Context, cfg *store.OrgConfig) error
	GetAppConfig(ctx context.Context, orgID, appID string) (*store.AppConfig, error)
	PutAppConfig(ctx context.Context, cfg *store.AppConfig) error
}

// Service implements verify and rotate over a backing Store and Clock.
type Service struct {
	store Store
	clock clock.Clock
}

// New builds a credential Service.
func New(s Store, c clock.Clock) *Service {
	return &Service{store: s, clock: c}
}

// GenerateSecret returns a URL-safe secret rendered from >= 256 bits of
// cryptographic randomness, per spec §4.B.
func GenerateSecret() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("credential: reading random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// HashSecret derives an argon2id hash for secret with a fresh random salt,
// encoded as "argon2id$m,t,p$salt$hash" so verification can recover the
// parameters used at hash time.
func HashSecret(secret string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("credential: reading salt: %w", err)
	}
	sum := argon2.IDKey([]byte(secret), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return fmt.Sprintf("argon2id$%d,%d,%d$%s$%s",
		argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(sum),
	), nil
}

// VerifySecret recomputes the hash with the stored parameters and compares
// it to the stored digest in constant time.
func VerifySecret(secret, encoded string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 4 || parts[0] != "argon2id" {
		return false
	}
	var memory uint32
	var timeCost uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[1], "%d,%d,%d", &memory, &timeCost, &threads); err != nil {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[2])
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return false
	}
	got := argon2.IDKey([]byte(secret), salt, timeCost, memory, threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}

// Verify resolves client_id, loads its credential record, and checks the
// presented secret against the current hash and — only during grace — the
// previous hash. New hash is checked first to minimize latency in the
// common case (spec §9 "Grace-period authentication during the transition").
func (s *Service) Verify(ctx context.Context, clientID, presentedSecret string) (Subject, error) {
	subject, err := ParseClientID(clientID)
	if err != nil {
		return Subject{}, err
	}

	currentHash, previousHash, graceExpiresAt, err := s.loadHashes(ctx, subject)
	if err != nil {
		return Subject{}, err
	}

	now := s.clock.Now().Unix()

	if currentHash != "" && VerifySecret(presentedSecret, currentHash) {
		return subject, nil
	}
	if previousHash != "" && now < graceExpiresAt && VerifySecret(presentedSecret, previousHash) {
		return subject, nil
	}
	return Subject{}, apierr.New(apierr.CodeUnauthorized, "invalid client credentials")
}

func (s *Service) loadHashes(ctx context.Context, subject Subject) (current, previous string, graceExpiresAt int64, err error) {
	if subject.AppID == "" {
		cfg, err := s.store.GetOrgConfig(ctx, subject.OrgID)
		if err != nil {
			return "", "", 0, apierr.New(apierr.CodeUnauthorized, "invalid client credentials")
		}
		return cfg.ClientSecretHash, cfg.PreviousSecretHash, cfg.GraceExpiresAtEpoch, nil
	}
	cfg, err := s.store.GetAppConfig(ctx, subject.OrgID, subject.AppID)
	if err != nil {
		return "", "", 0, apierr.New(apierr.CodeUnauthorized, "invalid client credentials")
	}
	return cfg.ClientSecretHash, cfg.PreviousSecretHash, cfg.GraceExpiresAtEpoch, nil
}

// RotationResult carries the raw secret back to the caller exactly once —
// rotation is the only operation that reveals a secret (spec §4.B).
type RotationResult struct {
	ClientID  string
	Secret    string
	GraceUntilEpoch int64
}

// RotateOrg generates a new org secret, demoting the current hash to
// previous, and sets the grace-expiry. graceHours must be in [0, 168].
func (s *Service) RotateOrg(ctx context.Context, orgID string, graceHours int) (*RotationResult, error) {
	if err := validateGraceHours(graceHours); err != nil {
		return nil, err
	}
	cfg, err := s.store.GetOrgConfig(ctx, orgID)
	if err != nil {
		return nil, apierr.New(apierr.CodeNotFound, "organization not found")
	}
	newSecret, newHash, err := s.mintSecret()
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeInternal, "secret generation failed", err)
	}

	now := s.clock.Now().Unix()
	graceUntil := now + int64(graceHours)*3600

	cfg.PreviousSecretHash = cfg.ClientSecretHash
	cfg.ClientSecretHash = newHash
	cfg.GraceExpiresAtEpoch = graceUntil
	cfg.UpdatedAtEpoch = now
	if err := s.store.PutOrgConfig(ctx, cfg); err != nil {
		return nil, apierr.Wrap(apierr.CodeInternal, "persisting rotated credentials failed", err)
	}

	return &RotationResult{ClientID: cfg.ClientID, Secret: newSecret, GraceUntilEpoch: graceUntil}, nil
}

// RotateApp is RotateOrg's counterpart for an app-scoped credential.
func (s *Service) RotateApp(ctx context.Context, orgID, appID string, graceHours int) (*RotationResult, error) {
	if err := validateGraceHours(graceHours); err != nil {
		return nil, err
	}
	if _, err := s.store.GetOrgConfig(ctx, orgID); err != nil {
		return nil, apierr.New(apierr.CodeNotFound, "organization not found")
	}
	cfg, err := s.store.GetAppConfig(ctx, orgID, appID)
	if err != nil {
		return nil, apierr.New(apierr.CodeNotFound, "application not found")
	}
	newSecret, newHash, err := s.mintSecret()
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeInternal, "secret generation failed", err)
	}

	now := s.clock.Now().Unix()
	graceUntil := now + int64(graceHours)*3600

	cfg.PreviousSecretHash = cfg.ClientSecretHash
	cfg.ClientSecretHash = newHash
	cfg.GraceExpiresAtEpoch = graceUntil
	cfg.UpdatedAtEpoch = now
	if err := s.store.PutAppConfig(ctx, cfg); err != nil {
		return nil, apierr.Wrap(apierr.CodeInternal, "persisting rotated credentials failed", err)
	}

	return &RotationResult{ClientID: cfg.ClientID, Secret: newSecret, GraceUntilEpoch: graceUntil}, nil
}

func (s *Service) mintSecret() (secret, hash string, err error) {
	secret, err = GenerateSecret()
	if err != nil {
		return "", "", err
	}
	hash, err = HashSecret(secret)
	if err != nil {
		return "", "", err
	}
	return secret, hash, nil
}

func validateGraceHours(graceHours int) error {
	if graceHours < 0 || graceHours > 168 {
		return apierr.New(apierr.CodeInvalidRequest, "grace_hours must be between 0 and 168")
	}
	return nil
}
