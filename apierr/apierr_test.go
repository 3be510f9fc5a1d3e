package apierr

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStatusMapping(t *testing.T) {
	cases := map[Code]int{
		CodeUnauthorized:   http.StatusUnauthorized,
		CodeForbidden:      http.StatusForbidden,
		CodeNotFound:       http.StatusNotFound,
		CodeInvalidRequest: http.StatusBadRequest,
		CodeInvalidConfig:  http.StatusBadRequest,
		CodeConflict:       http.StatusBadRequest,
		CodeQuotaExceeded:  http.StatusTooManyRequests,
		CodeRateLimited:    http.StatusTooManyRequests,
		CodeInternal:       http.StatusInternalServerError,
		CodeServiceDown:    http.StatusServiceUnavailable,
	}
	for code, want := range cases {
		if got := New(code, "x").Status(); got != want {
			t.Errorf("%s: status = %d, want %d", code, got, want)
		}
	}
}

func TestWriteHTTPBodyShape(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteHTTP(rec, New(CodeQuotaExceeded, "no label under quota").WithDetails(map[string]interface{}{
		"quota_pct": map[string]float64{"premium": 1.1},
	}))

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	var got map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, field := range []string{"error", "message", "details", "timestamp"} {
		if _, ok := got[field]; !ok {
			t.Errorf("missing field %q in body %v", field, got)
		}
	}
	if got["error"] != "quota-exceeded" {
		t.Errorf("error = %v, want quota-exceeded", got["error"])
	}
}

func TestWriteHTTPFallsBackForUnlabeledError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteHTTP(rec, http.ErrBodyNotAllowed)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500 for unlabeled error", rec.Code)
	}
}

func TestIs(t *testing.T) {
	err := New(CodeForbidden, "nope")
	if !Is(err, CodeForbidden) {
		t.Error("Is should match same code")
	}
	if Is(err, CodeNotFound) {
		t.Error("Is should not match different code")
	}
}
