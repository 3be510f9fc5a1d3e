// Package apierr centralizes the closed error taxonomy (spec §7) and its
// HTTP status mapping. Core packages never write a literal JSON error body;
// they return an *Error and let the transport layer render it uniformly.
package apierr

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Code is one of the closed set of surface error labels.
type Code string

const (
	CodeUnauthorized    Code = "unauthorized"
	CodeForbidden       Code = "forbidden"
	CodeNotFound        Code = "not-found"
	CodeInvalidRequest  Code = "invalid-request"
	CodeInvalidConfig   Code = "invalid-config"
	CodeConflict        Code = "conflict"
	CodeQuotaExceeded   Code = "quota-exceeded"
	CodeRateLimited     Code = "rate-limited"
	CodeInternal        Code = "internal-error"
	CodeServiceDown     Code = "service-unavailable"
)

var statusByCode = map[Code]int{
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

// Error is the one error type every core operation returns on failure.
type Error struct {
	Code    Code
	Message string
	Details map[string]interface{}
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause, if any, for errors.Is/As.
func (e *Error) Unwrap() error { return e.cause }

// Status returns the HTTP status code for this error's taxonomy label.
func (e *Error) Status() int {
	if s, ok := statusByCode[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New builds an *Error with no details.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf builds an *Error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error that records an internal cause without leaking it
// in Message — callers should use this for store/upstream failures so the
// client body never echoes internal detail.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// WithDetails attaches the (code-specific) detail map returned in the body.
func (e *Error) WithDetails(d map[string]interface{}) *Error {
	e.Details = d
	return e
}

// body is the uniform wire shape from spec §7: {error, message, details, timestamp}.
type body struct {
	Error     string                 `json:"error"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp string                 `json:"timestamp"`
}

// WriteHTTP renders err as the uniform JSON error body at its mapped status.
// Any error that is not *Error is treated as an unlabeled internal failure —
// core functions must never let one escape unwrapped, but the transport
// layer still needs a safe fallback.
func WriteHTTP(w http.ResponseWriter, err error) {
	apiErr, ok := err.(*Error)
	if !ok {
		apiErr = Wrap(CodeInternal, "unexpected internal error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.Status())
	_ = json.NewEncoder(w).Encode(body{
		Error:     string(apiErr.Code),
		Message:   apiErr.Message,
		Details:   apiErr.Details,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Is reports whether err is an *Error with the given code.
func Is(err error, code Code) bool {
	apiErr, ok := err.(*Error)
	return ok && apiErr.Code == code
}
