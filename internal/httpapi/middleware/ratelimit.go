package middleware

import (
	"net/http"

	"github.com/monto-broker/broker/internal/ratelimit"
)

// RateLimit rejects requests over budget with 429, identifying clients by
// X-Forwarded-For/X-Real-IP/RemoteAddr (spec.md has no client-identity
// concept, so IP is the only signal available).
func RateLimit(limiter ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, err := limiter.Allow(r.Context(), clientIP(r))
			if err != nil || !ok {
				w.Header().Set("Retry-After", "60")
				http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
