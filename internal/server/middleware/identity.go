package middleware

import (
	"net/http"
	"strings"

	"github.com/maqzone/livebid/internal/auth"
)

// TokenVerifier turns a bearer token into an identity.
type TokenVerifier interface {
	Verify(raw string) (auth.Identity, error)
}

// Identity attaches the bearer identity to the request context when a valid
// token is present. Requests without a token pass through anonymously; an
// invalid token is rejected so clients notice expired credentials.
//
// Browsers cannot set headers on WebSocket upgrades, so ?token= is also
// accepted.
func Identity(v TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			id, err := v.Verify(token)
			if err != nil {
				writeUnauthorized(w, "invalid authentication token")
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
		})
	}
}

// RequireIdentity rejects anonymous requests.
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.IdentityFrom(r.Context()); !ok {
			writeUnauthorized(w, "missing authentication token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// extractToken looks for a token in the Authorization header (Bearer scheme)
// or in the token query parameter.
func extractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// writeUnauthorized sends a 401 response with a JSON error body.
func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
