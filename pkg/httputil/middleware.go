package httputil

import (
	"net/http"
)

// ContentTypeMiddleware rejects POST/PUT/PATCH requests whose
// Content-Type isn't application/json, for routes that only ever
// accept a JSON body (admin and webhook management endpoints; the
// archive upload endpoint is binary and does not use this).
func ContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			if ct := r.Header.Get("Content-Type"); ct != "" && ct != "application/json" {
				WriteBadRequest(w, "Content-Type must be application/json")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// MaxBytesMiddleware caps request body size at maxBytes before a
// handler ever reads it.
func MaxBytesMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
