// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/ManuGH/tunerd/internal/log"
)

// WriteProblem writes an RFC 7807 problem details response. code is the
// machine readable error code, also used as the type suffix.
func WriteProblem(w http.ResponseWriter, r *http.Request, status int, code, detail string) {
	reqID := log.RequestIDFromContext(r.Context())
	if reqID == "" {
		reqID = w.Header().Get(HeaderRequestID)
	}

	res := map[string]any{
		"type":      "tunerd/" + code,
		"title":     http.StatusText(status),
		"status":    status,
		"code":      code,
		"requestId": reqID,
		"instance":  r.URL.EscapedPath(),
	}
	if detail != "" {
		res["detail"] = detail
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		log.FromContext(r.Context()).Error().Err(err).
			Str(log.FieldEvent, "api.problem_encode_failed").
			Int("status", status).
			Msg("failed to encode problem response")
	}
}
