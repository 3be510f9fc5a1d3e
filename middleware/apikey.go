package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/shreedharn/bedrock-cost-keeper/apierr"
)

// ProvisioningKeyMiddleware guards the provisioning and credential-rotation
// routes, which authenticate with a header-carried operator key instead of
// a bearer access token (spec §6.1 "except provisioning and credential
// rotation, which use a header-carried provisioning API key"). Comparison
// is constant-time, the same idiom credential.VerifySecret uses for secret
// hashes.
type ProvisioningKeyMiddleware struct {
	logger zerolog.Logger
	key    string
}

func NewProvisioningKeyMiddleware(logger zerolog.Logger, key string) *ProvisioningKeyMiddleware {
	return &ProvisioningKeyMiddleware{logger: logger, key: key}
}

func (p *ProvisioningKeyMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		presented := r.Header.Get("X-Provisioning-Api-Key")
		if presented == "" || p.key == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(p.key)) != 1 {
			apierr.WriteHTTP(w, apierr.New(apierr.CodeUnauthorized, "invalid or missing provisioning API key"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
