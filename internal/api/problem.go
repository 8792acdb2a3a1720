// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/tunerd/internal/api/middleware"
	"github.com/ManuGH/tunerd/internal/log"
	"github.com/ManuGH/tunerd/internal/registry"
	"github.com/ManuGH/tunerd/internal/tuner"
)

// Problem codes.
const (
	CodeBadRequest     = "BAD_REQUEST"
	CodeNotFound       = "NOT_FOUND"
	CodeNoTuner        = "NO_AVAILABLE_TUNER"
	CodeUnsupported    = "UNSUPPORTED_TYPE"
	CodeNoProcess      = "NO_PROCESS"
	CodeInternal       = "INTERNAL"
	CodeServiceMissing = "SERVICES_NOT_FOUND"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, r *http.Request, code int, v any) {
	annotate(r, code)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeProblem writes an RFC 7807 problem details response.
func writeProblem(w http.ResponseWriter, r *http.Request, status int, code, detail string) {
	annotate(r, status)
	middleware.WriteProblem(w, r, status, code, detail)
}

// writeError maps domain errors onto problem responses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, context.Canceled):
		// client went away
		return
	case errors.Is(err, registry.ErrNotFound):
		writeProblem(w, r, http.StatusNotFound, CodeNotFound, err.Error())
	case errors.Is(err, tuner.ErrUnsupportedType):
		writeProblem(w, r, http.StatusNotFound, CodeUnsupported, err.Error())
	case errors.Is(err, tuner.ErrNoAvailableTuners),
		errors.Is(err, tuner.ErrHigherPriorityUser),
		errors.Is(err, tuner.ErrDeviceNotAvailable):
		writeProblem(w, r, http.StatusServiceUnavailable, CodeNoTuner, err.Error())
	case errors.Is(err, tuner.ErrNoProcess):
		writeProblem(w, r, http.StatusNotFound, CodeNoProcess, err.Error())
	case errors.Is(err, tuner.ErrServicesNotFound):
		writeProblem(w, r, http.StatusServiceUnavailable, CodeServiceMissing, err.Error())
	default:
		log.FromContext(r.Context()).Error().Err(err).
			Str(log.FieldEvent, "api.internal_error").
			Str(log.FieldPath, r.URL.Path).
			Msg("request failed")
		writeProblem(w, r, http.StatusInternalServerError, CodeInternal, "internal error")
	}
}

func annotate(r *http.Request, status int) {
	route := r.URL.Path
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
		route = rctx.RoutePattern()
	}
	middleware.AnnotateRoute(r, route, status)
}
