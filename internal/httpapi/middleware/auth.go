package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Keys holds the configured API key sets. An empty set disables the
// corresponding gate, so local runs need no keys at all.
type Keys struct {
	Public []string
	Admin  []string
}

func apiKey(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(strings.ToLower(h), "bearer ") {
		return strings.TrimSpace(h[len("bearer "):])
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

// matchKey checks the presented key against a set in constant time.
func matchKey(given string, set []string) bool {
	if given == "" {
		return false
	}
	matched := false
	for _, k := range set {
		if subtle.ConstantTimeCompare([]byte(given), []byte(k)) == 1 {
			matched = true
		}
	}
	return matched
}

func deny(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}

// RequireAny admits requests carrying any configured key, public or
// admin. With no keys configured, every request passes.
func RequireAny(keys Keys) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(keys.Public) == 0 && len(keys.Admin) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := apiKey(r)
			if matchKey(k, keys.Public) || matchKey(k, keys.Admin) {
				next.ServeHTTP(w, r)
				return
			}
			deny(w, http.StatusUnauthorized, "unauthorized")
		})
	}
}

// RequireAdmin admits only requests carrying an admin key. With no
// admin keys configured, every request passes.
func RequireAdmin(keys Keys) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(keys.Admin) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if matchKey(apiKey(r), keys.Admin) {
				next.ServeHTTP(w, r)
				return
			}
			deny(w, http.StatusForbidden, "forbidden")
		})
	}
}
