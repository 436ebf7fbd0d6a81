package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/MrEthical07/passkit"
)

// ClientInfo copies the caller IP and User-Agent into the request context.
// With trustProxy the first X-Forwarded-For entry wins over RemoteAddr; only
// enable it behind a proxy that overwrites the header.
func ClientInfo(trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := passkit.WithClientIP(r.Context(), ClientIP(r, trustProxy))
			ctx = passkit.WithUserAgent(ctx, r.UserAgent())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientIP extracts the caller address from r.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
				return ip.String()
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
