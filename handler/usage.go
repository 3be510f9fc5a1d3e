package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/shreedharn/bedrock-cost-keeper/apierr"
	"github.com/shreedharn/bedrock-cost-keeper/metering"
	"github.com/shreedharn/bedrock-cost-keeper/observability"
)

// maxBatchSize bounds a single usage/batch submission (spec §6.1 "≤100 records").
const maxBatchSize = 100

// UsageHandler implements usage submission, single and batch (spec §4.F / §6.1).
type UsageHandler struct {
	logger  zerolog.Logger
	meter   *metering.Meter
	metrics *observability.Metrics
}

func NewUsageHandler(logger zerolog.Logger, meter *metering.Meter, metrics *observability.Metrics) *UsageHandler {
	return &UsageHandler{logger: logger.With().Str("handler", "usage").Logger(), meter: meter, metrics: metrics}
}

func (h *UsageHandler) recordAccepted(orgID, appID string, in metering.SubmitUsageInput, costMicros int64) {
	if h.metrics == nil {
		return
	}
	h.metrics.UsageSubmitted.WithLabelValues(orgID, appID).Inc()
	h.metrics.TokensBilled.WithLabelValues(orgID, appID, in.Label, "input").Add(float64(in.InputTokens))
	h.metrics.TokensBilled.WithLabelValues(orgID, appID, in.Label, "output").Add(float64(in.OutputTokens))
	h.metrics.CostMicros.WithLabelValues(orgID, appID).Add(float64(costMicros))
}

func (h *UsageHandler) recordRejected(orgID, appID, reason string) {
	if h.metrics == nil {
		return
	}
	h.metrics.UsageRejected.WithLabelValues(orgID, appID, reason).Inc()
}

type usageRecordRequest struct {
	RequestID       string `json:"request_id"`
	Label           string `json:"label"`
	SuppliedModelID string `json:"model_id,omitempty"`
	InputTokens     int64  `json:"input_tokens"`
	OutputTokens    int64  `json:"output_tokens"`
	Status          string `json:"status"`
	Timestamp       string `json:"timestamp"`
	CallingRegion   string `json:"calling_region,omitempty"`
}

func (body usageRecordRequest) toInput(orgID, appID string) (metering.SubmitUsageInput, error) {
	ts, err := time.Parse(time.RFC3339, body.Timestamp)
	if err != nil {
		return metering.SubmitUsageInput{}, apierr.Newf(apierr.CodeInvalidRequest, "timestamp %q is not RFC3339", body.Timestamp)
	}
	status := metering.Status(body.Status)
	if status != metering.StatusOK && status != metering.StatusError {
		return metering.SubmitUsageInput{}, apierr.Newf(apierr.CodeInvalidRequest, "status must be OK or ERROR, got %q", body.Status)
	}
	if body.RequestID == "" || body.Label == "" {
		return metering.SubmitUsageInput{}, apierr.New(apierr.CodeInvalidRequest, "request_id and label are required")
	}
	return metering.SubmitUsageInput{
		OrgID:           orgID,
		AppID:           appID,
		RequestID:       body.RequestID,
		Label:           body.Label,
		SuppliedModelID: body.SuppliedModelID,
		InputTokens:     body.InputTokens,
		OutputTokens:    body.OutputTokens,
		Status:          status,
		Timestamp:       ts,
		CallingRegion:   body.CallingRegion,
	}, nil
}

// Submit implements POST /orgs/{org_id}/apps/{app_id}/usage.
func (h *UsageHandler) Submit(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "org_id")
	appID := chi.URLParam(r, "app_id")

	var body usageRecordRequest
	if err := decodeJSON(r, &body); err != nil {
		apierr.WriteHTTP(w, err)
		return
	}
	in, err := body.toInput(orgID, appID)
	if err != nil {
		h.recordRejected(orgID, appID, "invalid-request")
		apierr.WriteHTTP(w, err)
		return
	}

	costMicros, err := h.meter.SubmitUsage(r.Context(), in)
	if err != nil {
		h.recordRejected(orgID, appID, "submit-failed")
		apierr.WriteHTTP(w, err)
		return
	}
	h.recordAccepted(orgID, appID, in, costMicros)
	w.WriteHeader(http.StatusAccepted)
}

type batchUsageRequest struct {
	Records []usageRecordRequest `json:"records"`
}

type batchItemResult struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"` // "accepted" | "rejected"
	Error     string `json:"error,omitempty"`
}

// SubmitBatch implements POST /orgs/{org_id}/apps/{app_id}/usage/batch: a
// multi-status response (spec §6.1, 207) — one record's rejection never
// blocks the rest.
func (h *UsageHandler) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "org_id")
	appID := chi.URLParam(r, "app_id")

	var body batchUsageRequest
	if err := decodeJSON(r, &body); err != nil {
		apierr.WriteHTTP(w, err)
		return
	}
	if len(body.Records) == 0 {
		apierr.WriteHTTP(w, apierr.New(apierr.CodeInvalidRequest, "records must not be empty"))
		return
	}
	if len(body.Records) > maxBatchSize {
		apierr.WriteHTTP(w, apierr.Newf(apierr.CodeInvalidRequest, "batch exceeds the %d-record limit", maxBatchSize))
		return
	}

	results := make([]batchItemResult, 0, len(body.Records))
	for _, rec := range body.Records {
		in, err := rec.toInput(orgID, appID)
		var costMicros int64
		if err == nil {
			costMicros, err = h.meter.SubmitUsage(r.Context(), in)
		}
		if err != nil {
			h.recordRejected(orgID, appID, "batch-item-failed")
			results = append(results, batchItemResult{RequestID: rec.RequestID, Status: "rejected", Error: err.Error()})
			continue
		}
		h.recordAccepted(orgID, appID, in, costMicros)
		results = append(results, batchItemResult{RequestID: rec.RequestID, Status: "accepted"})
	}

	writeJSON(w, http.StatusMultiStatus, map[string]interface{}{"results": results})
}
