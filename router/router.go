package router

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/shreedharn/bedrock-cost-keeper/aggregates"
	"github.com/shreedharn/bedrock-cost-keeper/authz"
	"github.com/shreedharn/bedrock-cost-keeper/config"
	"github.com/shreedharn/bedrock-cost-keeper/credential"
	"github.com/shreedharn/bedrock-cost-keeper/handler"
	"github.com/shreedharn/bedrock-cost-keeper/label"
	"github.com/shreedharn/bedrock-cost-keeper/metering"
	gwmw "github.com/shreedharn/bedrock-cost-keeper/middleware"
	"github.com/shreedharn/bedrock-cost-keeper/observability"
	"github.com/shreedharn/bedrock-cost-keeper/provisioning"
	"github.com/shreedharn/bedrock-cost-keeper/selection"
	"github.com/shreedharn/bedrock-cost-keeper/token"
)

// Deps bundles every domain service the router wires into a handler.
type Deps struct {
	Config       *config.Config
	Logger       zerolog.Logger
	Store        handler.StoreProber
	Credentials  *credential.Service
	Grants       credential.GrantStore
	Tokens       *token.Service
	Authorizer   *authz.Authorizer
	Provisioning *provisioning.Service
	Labels       *label.Resolver
	Meter        *metering.Meter
	Selection    *selection.Engine
	Aggregates   *aggregates.Projector
	Metrics      *observability.Metrics
}

// NewRouter returns a configured chi Router with the full middleware chain
// and every domain route mounted (spec §6.1).
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(gwmw.CORSMiddleware(d.Config.CORSAllowedOrigins))
	r.Use(gwmw.SecurityHeadersMiddleware)
	r.Use(gwmw.RequestIDMiddleware)
	r.Use(chimw.Recoverer)
	r.Use(mwRequestLogger(d.Logger))
	r.Use(mwMetrics(d.Metrics))
	r.Use(mwMaxBodySize(d.Config.MaxBodyBytes))
	r.Use(gwmw.NewTimeoutMiddleware(d.Logger, d.Config.RequestTimeout).Handler)

	healthHandler := handler.NewHealthHandler(d.Logger, d.Store)
	r.Get("/health", healthHandler.Health)

	if d.Metrics != nil {
		r.Get("/metrics", d.Metrics.Handler())
	}

	authHandler := handler.NewAuthHandler(d.Logger, d.Credentials, d.Tokens, int64(d.Config.AccessTokenTTL.Seconds()), d.Metrics)
	r.Post("/auth/token", authHandler.IssueToken)
	r.Post("/auth/refresh", authHandler.RefreshToken)
	r.Post("/auth/revoke", authHandler.Revoke)

	provisioningKey := gwmw.NewProvisioningKeyMiddleware(d.Logger, d.Config.ProvisioningAPIKey)
	provisioningHandler := handler.NewProvisioningHandler(d.Logger, d.Provisioning)
	credentialHandler := handler.NewCredentialHandler(d.Logger, d.Credentials, d.Grants)
	aggregatesHandler := handler.NewAggregatesHandler(d.Logger, d.Aggregates)
	profileHandler := handler.NewProfileHandler(d.Logger, d.Labels)
	selectionHandler := handler.NewSelectionHandler(d.Logger, d.Selection, d.Metrics)
	usageHandler := handler.NewUsageHandler(d.Logger, d.Meter, d.Metrics)

	r.Route("/orgs/{org_id}", func(r chi.Router) {
		// Provisioning and credential rotation authenticate with the
		// operator key, never a bearer token (spec §6.1).
		r.Group(func(r chi.Router) {
			r.Use(provisioningKey.Handler)
			r.Put("/", provisioningHandler.UpsertOrg)
			r.Post("/credentials/rotate", credentialHandler.RotateOrg)
			r.Get("/credentials/retrieve/{token}", credentialHandler.RetrieveSecret)
		})

		// Everything else authenticates with the bearer access token
		// issued by /auth/token, scoped to the org_id/app_id in the path.
		r.Group(func(r chi.Router) {
			r.Use(gwmw.NewAuthMiddleware(d.Logger, d.Authorizer, orgScopedPathParams).Handler)

			r.Get("/aggregates/today", aggregatesHandler.Today)
			r.Get("/aggregates/{date}", aggregatesHandler.ForDate)
		})

		// /apps/{app_id} mixes both authentication schemes depending on
		// the sub-route, so it gets its own groups rather than nesting
		// under either of the two above (a pattern cannot be mounted
		// twice under the same parent).
		r.Route("/apps/{app_id}", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(provisioningKey.Handler)
				r.Put("/", provisioningHandler.UpsertApp)
				r.Post("/credentials/rotate", credentialHandler.RotateApp)
				r.Get("/credentials/retrieve/{token}", credentialHandler.RetrieveSecret)
			})

			r.Group(func(r chi.Router) {
				r.Use(gwmw.NewAuthMiddleware(d.Logger, d.Authorizer, appScopedPathParams).Handler)

				r.Post("/inference-profiles", profileHandler.Register)
				r.Get("/inference-profiles", profileHandler.List)
				r.Get("/inference-profiles/{label}", profileHandler.Get)

				r.Get("/model-selection", selectionHandler.Select)

				r.Post("/usage", usageHandler.Submit)
				r.Post("/usage/batch", usageHandler.SubmitBatch)

				r.Get("/aggregates/today", aggregatesHandler.Today)
				r.Get("/aggregates/{date}", aggregatesHandler.ForDate)
			})
		})
	})

	return r
}

func orgScopedPathParams(r *http.Request) (orgID, appID string) {
	return chi.URLParam(r, "org_id"), ""
}

func appScopedPathParams(r *http.Request) (orgID, appID string) {
	return chi.URLParam(r, "org_id"), chi.URLParam(r, "app_id")
}

func mwMaxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = 1 * 1024 * 1024
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > 0 && r.ContentLength > maxBytes {
				http.Error(w, `{"error":"invalid-request","message":"request body too large"}`, http.StatusRequestEntityTooLarge)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// mwMetrics records request count and latency per chi route pattern. It is
// a no-op when the registry is disabled (d.Metrics == nil).
func mwMetrics(m *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(rw, r)

			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = r.URL.Path
			}
			m.RequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(rw.Status())).Inc()
			m.RequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
		})
	}
}

func mwRequestLogger(appLogger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(rw, r)
			appLogger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("req_id", r.Header.Get("X-Request-ID")).
				Int("status", rw.Status()).
				Dur("duration", time.Since(start)).
				Msg("request completed")
		})
	}
}
