package middleware

import (
	"net/http"
	"strings"
)

const (
	corsMethods = "GET, POST, PUT, OPTIONS"
	corsHeaders = "Authorization, Content-Type, X-Admin-Token"
)

// Origins is the browser origin allow-list shared by the REST API and the
// auction stream. An empty list, or one containing "*", allows any origin.
type Origins struct {
	any bool
	set map[string]struct{}
}

// NewOrigins builds an allow-list from configured origins. Matching ignores
// case and a trailing slash.
func NewOrigins(list []string) Origins {
	o := Origins{any: len(list) == 0, set: make(map[string]struct{}, len(list))}
	for _, s := range list {
		s = normalizeOrigin(s)
		if s == "*" {
			o.any = true
		}
		if s != "" {
			o.set[s] = struct{}{}
		}
	}
	return o
}

// Allow reports whether a request carrying origin may proceed. Requests
// without an Origin header are not cross-origin browser requests and pass.
func (o Origins) Allow(origin string) bool {
	if origin == "" || o.any {
		return true
	}
	_, ok := o.set[normalizeOrigin(origin)]
	return ok
}

// AllowRequest is Allow applied to the request's Origin header. Its
// signature matches websocket.Upgrader.CheckOrigin.
func (o Origins) AllowRequest(r *http.Request) bool {
	return o.Allow(r.Header.Get("Origin"))
}

func normalizeOrigin(s string) string {
	return strings.ToLower(strings.TrimSuffix(strings.TrimSpace(s), "/"))
}

// CORS echoes allowed origins back to the browser. Preflights from an
// origin outside the list are refused with 403; other requests still reach
// the handler and the browser withholds the response.
func CORS(origins Origins) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			w.Header().Add("Vary", "Origin")
			allowed := origin != "" && origins.Allow(origin)
			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}

			if r.Method != http.MethodOptions || r.Header.Get("Access-Control-Request-Method") == "" {
				next.ServeHTTP(w, r)
				return
			}
			if origin != "" && !allowed {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			w.Header().Set("Access-Control-Allow-Methods", corsMethods)
			w.Header().Set("Access-Control-Allow-Headers", corsHeaders)
			w.Header().Set("Access-Control-Max-Age", "86400")
			w.WriteHeader(http.StatusNoContent)
		})
	}
}
