package ratelimit

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/wbigno/resilientcall/internal/metrics"
)

// Middleware limits inbound requests per caller. Authenticated callers are
// keyed by bearer token; everyone else by remote IP. Rejections answer 429
// with a JSON error body.
func Middleware(store *Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, keyType := callerKey(r)
			if !store.Allow(key) {
				metrics.RateLimitRejections.WithLabelValues(keyType).Inc()
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]interface{}{
					"error": map[string]string{
						"message": "rate limit exceeded",
						"type":    "rate_limit_error",
						"code":    "rate_limit_exceeded",
					},
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func callerKey(r *http.Request) (key, keyType string) {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer "), "token"
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return host, "ip"
}
