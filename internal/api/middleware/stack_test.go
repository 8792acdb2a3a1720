// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ManuGH/tunerd/internal/log"
)

func TestStack_RecoversPanics(t *testing.T) {
	r := NewRouter(StackConfig{EnableLogging: true, EnableMetrics: true})
	r.Get("/boom", func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), w.Header().Get(HeaderRequestID)) {
		t.Fatalf("expected request id in body, got %s", w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Fatalf("expected problem content type, got %q", ct)
	}
	if !strings.Contains(w.Body.String(), `"code":"INTERNAL"`) {
		t.Fatalf("expected INTERNAL code, got %s", w.Body.String())
	}
}

func TestStack_RequestIDPropagation(t *testing.T) {
	r := NewRouter(StackConfig{})
	var seen string
	r.Get("/id", func(w http.ResponseWriter, r *http.Request) {
		seen = log.RequestIDFromContext(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/id", nil)
	req.Header.Set(HeaderRequestID, "req-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if seen != "req-123" {
		t.Fatalf("expected request id from header, got %q", seen)
	}
	if got := w.Header().Get(HeaderRequestID); got != "req-123" {
		t.Fatalf("expected echoed request id, got %q", got)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/id", nil))
	if seen == "" || seen == "req-123" {
		t.Fatalf("expected generated request id, got %q", seen)
	}
}

func TestStack_RateLimit(t *testing.T) {
	r := NewRouter(StackConfig{RateLimit: 1})
	r.Get("/x", func(w http.ResponseWriter, r *http.Request) {})

	for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.RemoteAddr = "10.0.0.1:1000"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != want {
			t.Fatalf("request %d: expected %d, got %d", i+1, want, w.Code)
		}
	}
}

func TestStack_TracingPassesThrough(t *testing.T) {
	r := NewRouter(StackConfig{TracingService: "tunerd"})
	r.Get("/api/tuners", func(w http.ResponseWriter, r *http.Request) {
		AnnotateRoute(r, "/api/tuners", http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tuners", nil))
	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Fatalf("unexpected response %d %q", w.Code, w.Body.String())
	}
}

func TestStack_MetricsSplitStreams(t *testing.T) {
	r := NewRouter(StackConfig{EnableMetrics: true})
	r.Get("/api/channels/{type}/{channel}/stream", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/MP2T")
		_, _ = w.Write(make([]byte, 188*4))
	})
	r.Get("/api/tuners", func(w http.ResponseWriter, r *http.Request) {})

	const pattern = "/api/channels/{type}/{channel}/stream"
	before := testutil.ToFloat64(httpStreamBytes.WithLabelValues(pattern))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/channels/GR/27/stream", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/tuners", nil))

	if got := testutil.ToFloat64(httpStreamBytes.WithLabelValues(pattern)) - before; got != 188*4 {
		t.Fatalf("stream bytes = %v, want %d", got, 188*4)
	}
	if n := testutil.CollectAndCount(httpRequestDuration, "tunerd_http_request_duration_seconds"); n == 0 {
		t.Fatal("expected api request latency to be recorded")
	}
	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, pattern, "200")); got < 1 {
		t.Fatalf("requests_total for stream route = %v", got)
	}
}
