// Package contextkeys centralizes the context.Context key definitions
// shared across the HTTP layer, so every package that stashes or reads
// a value agrees on the key's identity and type.
//
//	ctx = context.WithValue(ctx, contextkeys.AuthKey, authCtx)
//	authCtx := ctx.Value(contextkeys.AuthKey).(*auth.AuthContext)
package contextkeys

import "context"

// Key is the type for context keys, to prevent collisions with keys
// defined by other packages using plain strings.
type Key string

const (
	// AuthKey holds the *auth.AuthContext resolved from the request's
	// bearer token. Set by pkg/api's auth middleware, read by every
	// handler that needs the caller's identity or scopes.
	AuthKey Key = "auth_context"

	// RequestIDKey holds the per-request ID set by pkg/api's request-ID
	// middleware: the incoming X-Request-Id header when present, else a
	// new UUID. Used for log correlation.
	RequestIDKey Key = "request_id"

	// UserIDKey holds a user ID as a plain string, stored by WithUserID.
	// pkg/api's auth middlewares set AuthKey only, not this key.
	UserIDKey Key = "user_id"

	// LoggerKey holds a *observability.Logger pre-bound with request
	// fields (request ID, route), for handlers that want to log
	// without re-deriving that context.
	LoggerKey Key = "logger"
)

// WithAuth adds authentication context to the context.
func WithAuth(ctx context.Context, authCtx interface{}) context.Context {
	return context.WithValue(ctx, AuthKey, authCtx)
}

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithUserID adds a user ID to the context.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithLogger adds a logger to the context.
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetRequestID retrieves the request ID from context, if present.
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetUserID retrieves the user ID from context, if present.
func GetUserID(ctx context.Context) string {
	if userID, ok := ctx.Value(UserIDKey).(string); ok {
		return userID
	}
	return ""
}
