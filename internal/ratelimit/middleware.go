package ratelimit

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/oriys/cloudcode/internal/logging"
)

// codeRequestLimitExceeded is the platform's error code for throttled calls.
const codeRequestLimitExceeded = 155

// Middleware throttles requests per client IP. Paths in exempt, or matching
// an exempt entry ending in "/*", pass through untouched.
func Middleware(limiter *Limiter, exempt []string) func(http.Handler) http.Handler {
	exemptSet := make(map[string]bool, len(exempt))
	for _, p := range exempt {
		exemptSet[p] = true
	}

	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isExempt(r.URL.Path, exemptSet) {
				next.ServeHTTP(w, r)
				return
			}

			result, err := limiter.Allow(r.Context(), KeyForIP(clientIP(r)))
			if err != nil {
				// Fail open
				logging.Op().Warn("rate limit check failed", "error", err)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", result.Remaining))
			w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", result.ResetAt.Unix()))

			if !result.Allowed {
				retryAfter := int(time.Until(result.ResetAt).Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				fmt.Fprintf(w, `{"code":%d,"error":"too many requests, please retry later"}`, codeRequestLimitExceeded)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func isExempt(path string, exemptSet map[string]bool) bool {
	if exemptSet[path] {
		return true
	}
	for p := range exemptSet {
		if prefix, ok := strings.CutSuffix(p, "*"); ok && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// clientIP extracts the client IP from the request
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
