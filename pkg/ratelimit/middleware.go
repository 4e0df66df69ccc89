package ratelimit

import (
	"fmt"
	"net"
	"net/http"

	"github.com/repub/registry/pkg/apierr"
	"github.com/repub/registry/pkg/httputil"
)

// Middleware returns an http middleware that enforces limiter on the
// requesting client's IP address: exceeding the
// limit returns 429 with Retry-After.
func Middleware(limiter *Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientIP(r)
			allowed, retryAfter := limiter.Allow(key)
			if !allowed {
				w.Header().Set("Retry-After", fmt.Sprintf("%.0f", retryAfter.Seconds()))
				httputil.WriteAPIError(w, apierr.New(apierr.TooManyRequests, "rate limit exceeded"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
