// SPDX-License-Identifier: MIT

package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func hit(h http.Handler, remote string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/channels/GR/27/stream", nil)
	req.RemoteAddr = remote
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimit_RejectsWithProblem(t *testing.T) {
	h := RateLimit(RateLimitConfig{RequestLimit: 3, WindowSize: 2 * time.Second})(okHandler())

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, hit(h, "192.168.1.1:12345", nil).Code, "request %d", i+1)
	}

	w := hit(h, "192.168.1.1:12345", nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2", w.Header().Get("Retry-After"))
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, CodeRateLimited, body["code"])
	assert.Equal(t, float64(http.StatusTooManyRequests), body["status"])
	assert.Equal(t, "/api/channels/GR/27/stream", body["instance"])
}

func TestRateLimit_ClientsAreIndependent(t *testing.T) {
	h := RateLimit(RateLimitConfig{RequestLimit: 2, WindowSize: time.Second})(okHandler())

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, hit(h, "192.168.1.1:12345", nil).Code)
	}
	assert.Equal(t, http.StatusOK, hit(h, "192.168.1.2:12345", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(h, "192.168.1.1:12345", nil).Code)
}

func TestRateLimit_CustomKey(t *testing.T) {
	const userHeader = "X-Tunerd-User-Id"
	h := RateLimit(RateLimitConfig{
		RequestLimit: 1,
		WindowSize:   time.Second,
		KeyFunc: func(r *http.Request) (string, error) {
			return r.Header.Get(userHeader), nil
		},
	})(okHandler())

	alice := http.Header{userHeader: {"alice"}}
	bob := http.Header{userHeader: {"bob"}}
	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.1:1", alice).Code)
	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.1:1", bob).Code, "same IP, different key")
	assert.Equal(t, http.StatusTooManyRequests, hit(h, "10.0.0.2:1", alice).Code, "different IP, same key")
}

func TestAPIRateLimit_PerMinute(t *testing.T) {
	h := APIRateLimit(5)(okHandler())

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, hit(h, "192.168.1.1:12345", nil).Code)
	}
	w := hit(h, "192.168.1.1:12345", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
}
