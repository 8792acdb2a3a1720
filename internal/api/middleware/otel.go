// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/tunerd/internal/telemetry"
)

// OTelHTTP starts a server span per API request, continuing incoming trace
// context. Probes and the metrics endpoint are not traced.
func OTelHTTP(serviceName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(
			next,
			serviceName,
			otelhttp.WithTracerProvider(otel.GetTracerProvider()),
			otelhttp.WithFilter(shouldTrace),
			otelhttp.WithSpanNameFormatter(spanNameFormatter),
		)
	}
}

func shouldTrace(r *http.Request) bool {
	switch r.URL.Path {
	case "/healthz", "/readyz", "/metrics":
		return false
	}
	return true
}

// spanNameFormatter names spans by method and path. The chi route is not
// matched yet when the span starts; AnnotateRoute adds it later.
func spanNameFormatter(_ string, r *http.Request) string {
	return r.Method + " " + r.URL.Path
}

// AnnotateRoute records the matched route and final status on the request
// span. It is a no-op without tracing.
func AnnotateRoute(r *http.Request, route string, status int) {
	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(telemetry.HTTPAttributes(r.Method, route, status)...)
}
