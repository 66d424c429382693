package ratelimit

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
)

// KeyFunc extracts the caller identity from a request.
type KeyFunc func(r *http.Request) string

// ClientAddr keys callers by remote address without the port. Run it behind
// chi's middleware.RealIP to honor proxy headers.
func ClientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware rejects callers over budget with 429 and records accepted ones.
func Middleware(g *Governor, key KeyFunc) func(http.Handler) http.Handler {
	if key == nil {
		key = ClientAddr
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !g.allowAndRecord(key(r)) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", strconv.Itoa(int(g.window.Seconds())))
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]any{
						"message": "too many requests, slow down",
						"type":    "rate_limit_error",
					},
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
