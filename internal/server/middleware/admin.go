package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AdminToken guards operator routes with a static X-Admin-Token. An empty
// token disables the admin surface entirely.
func AdminToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				http.NotFound(w, r)
				return
			}
			got := strings.TrimSpace(r.Header.Get("X-Admin-Token"))
			// Constant-time comparison to prevent timing attacks.
			if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeUnauthorized(w, "invalid admin token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
