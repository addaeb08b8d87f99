package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// APIKeyAuth guards the control API with static keys from http.api_keys
// (or COMPANION_API_KEYS). /health and /version stay open. A key may be sent
// as "Authorization: Bearer <key>", as X-API-Key, or as ?api_key= for
// browser WebSocket clients that cannot set headers.
//
// The key set is fixed at construction and safe for concurrent use.
type APIKeyAuth struct {
	digests [][sha256.Size]byte
}

// NewAPIKeyAuth builds the middleware. Blank keys are ignored; with no keys
// left, auth is disabled.
func NewAPIKeyAuth(keys []string) *APIKeyAuth {
	a := &APIKeyAuth{}
	for _, key := range keys {
		if key = strings.TrimSpace(key); key != "" {
			a.digests = append(a.digests, sha256.Sum256([]byte(key)))
		}
	}
	return a
}

// Enabled reports whether at least one key is configured.
func (a *APIKeyAuth) Enabled() bool { return len(a.digests) > 0 }

// Middleware enforces the key on every non-public path.
func (a *APIKeyAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		key := extractAPIKey(r)
		switch {
		case key == "":
			respondUnauthorized(w, "API key required. Set Authorization: Bearer <key> or X-API-Key header.")
		case !a.valid(key):
			respondUnauthorized(w, "Invalid API key.")
		default:
			next.ServeHTTP(w, r)
		}
	})
}

// valid hashes the candidate so every comparison has the same length, then
// checks all digests without short-circuiting.
func (a *APIKeyAuth) valid(candidate string) bool {
	sum := sha256.Sum256([]byte(candidate))
	match := 0
	for i := range a.digests {
		match |= subtle.ConstantTimeCompare(sum[:], a.digests[i][:])
	}
	return match == 1
}

func extractAPIKey(r *http.Request) string {
	if scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return r.URL.Query().Get("api_key")
}

func isPublicPath(path string) bool {
	return path == "/health" || path == "/version"
}

func respondUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="companion"`)
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   "unauthorized",
		"message": msg,
	})
}
