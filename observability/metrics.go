// Package observability exposes the service's Prometheus metrics surface.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics is the process-wide Prometheus registry plus the named
// collectors every handler and domain package reports through.
type Metrics struct {
	logger zerolog.Logger

	Registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	UsageSubmitted *prometheus.CounterVec
	UsageRejected  *prometheus.CounterVec
	TokensBilled   *prometheus.CounterVec
	CostMicros     *prometheus.CounterVec

	SelectionsTotal *prometheus.CounterVec
	StickyFallbacks *prometheus.CounterVec
	QuotaExceeded   *prometheus.CounterVec

	TokensIssued  *prometheus.CounterVec
	TokensRevoked *prometheus.CounterVec

	StoreOpDuration *prometheus.HistogramVec
}

// NewMetrics builds and registers the collector set on a fresh registry.
func NewMetrics(logger zerolog.Logger) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		logger:   logger.With().Str("component", "metrics").Logger(),
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bck_http_requests_total",
			Help: "HTTP requests handled, by route and status.",
		}, []string{"route", "method", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bck_http_request_duration_seconds",
			Help:    "HTTP request latency, by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),

		UsageSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bck_usage_records_submitted_total",
			Help: "Usage records accepted, by org and app.",
		}, []string{"org_id", "app_id"}),

		UsageRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bck_usage_records_rejected_total",
			Help: "Usage records rejected during submission, by reason.",
		}, []string{"org_id", "app_id", "reason"}),

		TokensBilled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bck_tokens_billed_total",
			Help: "Input and output tokens metered, by org, app, and label.",
		}, []string{"org_id", "app_id", "label", "kind"}),

		CostMicros: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bck_cost_micros_total",
			Help: "Cost accrued in USD micros, by org and app.",
		}, []string{"org_id", "app_id"}),

		SelectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bck_model_selections_total",
			Help: "Model-selection decisions, by resulting mode.",
		}, []string{"org_id", "app_id", "mode"}),

		StickyFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bck_sticky_fallbacks_total",
			Help: "Selections answered from sticky-fallback state.",
		}, []string{"org_id", "app_id"}),

		QuotaExceeded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bck_quota_exceeded_total",
			Help: "Selections rejected for exceeding the quota ladder.",
		}, []string{"org_id", "app_id"}),

		TokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bck_auth_tokens_issued_total",
			Help: "Access and refresh tokens issued, by kind.",
		}, []string{"kind"}),

		TokensRevoked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bck_auth_tokens_revoked_total",
			Help: "Access and refresh tokens revoked, by kind.",
		}, []string{"kind"}),

		StoreOpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bck_store_operation_duration_seconds",
			Help:    "Backing-store round-trip latency, by operation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
	}

	reg.MustRegister(
		m.RequestsTotal, m.RequestDuration,
		m.UsageSubmitted, m.UsageRejected, m.TokensBilled, m.CostMicros,
		m.SelectionsTotal, m.StickyFallbacks, m.QuotaExceeded,
		m.TokensIssued, m.TokensRevoked,
		m.StoreOpDuration,
	)

	return m
}

// Handler serves the registry in Prometheus text exposition format.
func (m *Metrics) Handler() http.HandlerFunc {
	h := promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
	return h.ServeHTTP
}
