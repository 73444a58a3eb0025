package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/peterldowns/testy/check"
)

func TestOriginsAllow(t *testing.T) {
	o := NewOrigins([]string{"https://Bid.Example.com/", "http://localhost:5173"})
	check.True(t, o.Allow("https://bid.example.com"))
	check.True(t, o.Allow("http://localhost:5173"))
	check.True(t, o.Allow(""))
	check.False(t, o.Allow("https://evil.example.com"))
	check.False(t, o.Allow("http://localhost:3000"))

	check.True(t, NewOrigins(nil).Allow("https://anything.test"))
	check.True(t, NewOrigins([]string{"https://a.test", "*"}).Allow("https://b.test"))
}

func TestCORS(t *testing.T) {
	var reached int
	h := CORS(NewOrigins([]string{"https://bid.example.com"}))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached++
		w.WriteHeader(http.StatusOK)
	}))

	serve := func(method, origin string, preflight bool) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, "/api/auctions/1/bids", nil)
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		if preflight {
			req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := serve(http.MethodOptions, "https://bid.example.com", true)
	check.Equal(t, http.StatusNoContent, rec.Code)
	check.Equal(t, "https://bid.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	check.Equal(t, corsHeaders, rec.Header().Get("Access-Control-Allow-Headers"))
	check.Equal(t, 0, reached)

	rec = serve(http.MethodOptions, "https://evil.example.com", true)
	check.Equal(t, http.StatusForbidden, rec.Code)
	check.Equal(t, "", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = serve(http.MethodGet, "https://evil.example.com", false)
	check.Equal(t, http.StatusOK, rec.Code)
	check.Equal(t, "", rec.Header().Get("Access-Control-Allow-Origin"))
	check.Equal(t, "Origin", rec.Header().Get("Vary"))

	rec = serve(http.MethodGet, "", false)
	check.Equal(t, http.StatusOK, rec.Code)
	check.Equal(t, 2, reached)
}
