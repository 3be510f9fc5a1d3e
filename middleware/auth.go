package middleware

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/shreedharn/bedrock-cost-keeper/apierr"
	"github.com/shreedharn/bedrock-cost-keeper/authz"
)

// PathParamsFunc extracts the org_id and app_id a request addresses, as
// bound by chi's URL parameters.
type PathParamsFunc func(r *http.Request) (orgID, appID string)

// AuthMiddleware verifies the bearer access token on every protected route
// and checks it against the org_id/app_id named in the path (spec §4.J).
type AuthMiddleware struct {
	logger     zerolog.Logger
	authorizer *authz.Authorizer
	pathParams PathParamsFunc
}

// NewAuthMiddleware creates a new authentication middleware.
func NewAuthMiddleware(logger zerolog.Logger, authorizer *authz.Authorizer, pathParams PathParamsFunc) *AuthMiddleware {
	return &AuthMiddleware{logger: logger, authorizer: authorizer, pathParams: pathParams}
}

// Handler returns the middleware handler function.
func (am *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		orgID, appID := am.pathParams(r)
		identity, err := am.authorizer.Authenticate(r.Context(), r, orgID, appID)
		if err != nil {
			am.logger.Warn().Err(err).Str("path", r.URL.Path).Msg("request authentication failed")
			apierr.WriteHTTP(w, err)
			return
		}
		ctx := authz.WithIdentity(r.Context(), identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
