// Package handler implements the HTTP surface (spec §6.1): thin adapters
// that decode a request, call exactly one domain-package operation, and
// render its result or error uniformly.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/shreedharn/bedrock-cost-keeper/apierr"
)

func decodeJSON(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apierr.Wrap(apierr.CodeInvalidRequest, "malformed request body", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
