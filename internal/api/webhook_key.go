package api

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/oriys/cloudcode/internal/domain"
)

// HeaderWebhookKey carries the shared secret the platform sends with every
// webhook call.
const HeaderWebhookKey = "X-Parse-Webhook-Key"

// WebhookKeyMiddleware rejects requests without the configured key. Every
// route needs it except preflights and the probe and scrape endpoints. An
// empty key disables the check.
func WebhookKeyMiddleware(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if key == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodOptions && !keyExempt(r.URL.Path) {
				got := r.Header.Get(HeaderWebhookKey)
				if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusUnauthorized)
					_ = json.NewEncoder(w).Encode(map[string]any{"code": domain.CodeScriptFailed, "error": "unauthorized"})
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func keyExempt(path string) bool {
	switch path {
	case "/health", "/metrics", "/stats":
		return true
	}
	return strings.HasPrefix(path, "/health/")
}
