package api

import (
	"context"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/repub/registry/pkg/apierr"
	"github.com/repub/registry/pkg/auth"
	"github.com/repub/registry/pkg/contextkeys"
	"github.com/repub/registry/pkg/httputil"
	"github.com/repub/registry/pkg/observability"
)

// recoveryMiddleware converts a panicking handler into a 500, logging
// the panic and stack via the structured logger.
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				observability.FromContext(r.Context()).
					WithField("panic", rec).
					WithField("stack", string(debug.Stack())).
					Error("panic recovered in handler")
				httputil.WriteAPIError(w, apierr.New(apierr.Internal, "internal server error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requestIDMiddleware assigns a request ID (from the incoming header
// when present) and attaches it to the context and response.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", requestID)
		ctx := observability.WithRequestID(r.Context(), requestID)
		ctx = contextkeys.WithRequestID(ctx, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware logs one structured line per request with the
// method, path, status, and duration, using observability.Logger's
// field-based style.
func loggingMiddleware(logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			ctx := observability.WithLogger(r.Context(), logger)
			next.ServeHTTP(rec, r.WithContext(ctx))

			observability.FromContext(r.Context()).
				WithField("method", r.Method).
				WithField("path", r.URL.Path).
				WithField("status", rec.status).
				WithField("duration_ms", time.Since(start).Milliseconds()).
				Info("request handled")
		})
	}
}

// optionalAuthMiddleware attaches an *auth.AuthContext to the request
// context when a valid bearer token is present, but never rejects a
// request for its absence — individual handlers decide whether the
// path requires a held scope (e.g. require_download_auth).
func optionalAuthMiddleware(tokens *auth.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if raw, ok := auth.BearerFromHeader(r.Header.Get("Authorization")); ok {
				if authCtx, err := tokens.Authenticate(r.Context(), raw); err == nil {
					ctx := contextkeys.WithAuth(r.Context(), authCtx)
					r = r.WithContext(ctx)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requireAuthMiddleware rejects requests without a valid bearer token.
func requireAuthMiddleware(tokens *auth.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := auth.BearerFromHeader(r.Header.Get("Authorization"))
			if !ok {
				httputil.WriteAPIError(w, apierr.New(apierr.Unauthorized, "missing bearer token"))
				return
			}
			authCtx, err := tokens.Authenticate(r.Context(), raw)
			if err != nil {
				httputil.WriteAPIError(w, err)
				return
			}
			ctx := contextkeys.WithAuth(r.Context(), authCtx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requireAdminScope rejects requests whose authenticated context
// doesn't hold the admin scope. Must run after requireAuthMiddleware.
func requireAdminScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authCtx := authFromContext(r.Context())
		if authCtx == nil || !authCtx.HasScope(auth.Capability{Verb: "admin"}) {
			httputil.WriteAPIError(w, apierr.New(apierr.Forbidden, "admin scope required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authFromContext extracts the *auth.AuthContext set by
// optionalAuthMiddleware/requireAuthMiddleware, or nil when absent.
func authFromContext(ctx context.Context) *auth.AuthContext {
	v := ctx.Value(contextkeys.AuthKey)
	if v == nil {
		return nil
	}
	authCtx, _ := v.(*auth.AuthContext)
	return authCtx
}
