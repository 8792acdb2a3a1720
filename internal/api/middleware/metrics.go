// SPDX-License-Identifier: MIT

package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// streamContentType marks responses that carry a transport stream.
const streamContentType = "video/MP2T"

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tunerd_http_requests_total",
		Help: "HTTP requests by route and status",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tunerd_http_request_duration_seconds",
		Help:    "Latency of non-stream HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	httpRequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tunerd_http_requests_in_flight",
		Help: "Current number of HTTP requests being served, open streams included",
	})

	httpStreamBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tunerd_http_stream_bytes_total",
		Help: "Transport stream bytes sent to clients",
	}, []string{"path"})

	httpStreamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tunerd_http_stream_duration_seconds",
		Help:    "How long clients stayed connected to a stream",
		Buckets: []float64{1, 10, 60, 300, 1800, 3600, 4 * 3600},
	}, []string{"path"})
)

// Metrics records request counts and latencies per route pattern. Stream
// responses are accounted by bytes and connection time instead of latency.
func Metrics() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			httpRequestsInFlight.Inc()
			defer httpRequestsInFlight.Dec()

			mw := &metricsWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(mw, r)

			path := routePattern(r)
			status := strconv.Itoa(mw.statusCode)
			httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			if strings.HasPrefix(mw.Header().Get("Content-Type"), streamContentType) {
				httpStreamBytes.WithLabelValues(path).Add(float64(mw.bytesWritten))
				httpStreamDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
				return
			}
			httpRequestDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
		})
	}
}

// routePattern keeps label cardinality bounded.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

type metricsWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
	written      bool
}

func (mw *metricsWriter) WriteHeader(statusCode int) {
	if !mw.written {
		mw.statusCode = statusCode
		mw.written = true
	}
	mw.ResponseWriter.WriteHeader(statusCode)
}

func (mw *metricsWriter) Write(b []byte) (int, error) {
	if !mw.written {
		mw.WriteHeader(http.StatusOK)
	}
	n, err := mw.ResponseWriter.Write(b)
	mw.bytesWritten += int64(n)
	return n, err
}

// Flush forwards to the underlying writer so streams are not buffered.
func (mw *metricsWriter) Flush() {
	if f, ok := mw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (mw *metricsWriter) Unwrap() http.ResponseWriter {
	return mw.ResponseWriter
}
