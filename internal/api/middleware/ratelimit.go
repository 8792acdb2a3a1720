// SPDX-License-Identifier: MIT

package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/ManuGH/tunerd/internal/log"
)

// CodeRateLimited is the problem code of a rejected request.
const CodeRateLimited = "RATE_LIMITED"

// RateLimitConfig configures a sliding window limiter.
type RateLimitConfig struct {
	RequestLimit int
	WindowSize   time.Duration
	// KeyFunc defaults to the client IP.
	KeyFunc func(r *http.Request) (string, error)
}

// RateLimit rejects requests over the limit with a 429 problem response.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	keyFunc := cfg.KeyFunc
	if keyFunc == nil {
		keyFunc = httprate.KeyByIP
	}

	return httprate.Limit(
		cfg.RequestLimit,
		cfg.WindowSize,
		httprate.WithKeyFuncs(keyFunc),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", strconv.Itoa(int(cfg.WindowSize.Seconds())))
			log.FromContext(r.Context()).Debug().
				Str(log.FieldEvent, "api.rate_limited").
				Str("remote_addr", r.RemoteAddr).
				Msg("request rate limited")
			WriteProblem(w, r, http.StatusTooManyRequests, CodeRateLimited, "too many requests, retry later")
		}),
	)
}

// APIRateLimit limits every client IP to perMinute requests per minute.
func APIRateLimit(perMinute int) func(http.Handler) http.Handler {
	return RateLimit(RateLimitConfig{
		RequestLimit: perMinute,
		WindowSize:   time.Minute,
	})
}
