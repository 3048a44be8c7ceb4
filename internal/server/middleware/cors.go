package middleware

import (
	"net/http"
	"strings"
)

var (
	allowMethods = "GET, POST, PATCH, OPTIONS"
	allowHeaders = strings.Join([]string{
		"Content-Type", "Authorization", "X-API-Key",
		HeaderCaller, HeaderWalletAddress, HeaderWalletTimestamp, HeaderWalletSignature,
	}, ", ")
	// Browsers only surface these to scripts when listed.
	exposeHeaders = strings.Join([]string{HeaderRequestID, "Retry-After"}, ", ")
)

// CORS answers preflights and tags responses for browser clients. An empty
// origin list or a "*" entry admits every origin; otherwise the Origin header
// must match one entry case-insensitively. Disallowed origins get no CORS
// headers and the browser blocks the response.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	wildcard := len(allowedOrigins) == 0
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		o = strings.ToLower(strings.TrimRight(strings.TrimSpace(o), "/"))
		if o == "*" {
			wildcard = true
		}
		allowed[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (wildcard || allowed[strings.ToLower(origin)]) {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
				h.Set("Access-Control-Expose-Headers", exposeHeaders)
				if r.Method == http.MethodOptions {
					h.Set("Access-Control-Allow-Methods", allowMethods)
					h.Set("Access-Control-Allow-Headers", allowHeaders)
					h.Set("Access-Control-Max-Age", "86400")
				}
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
