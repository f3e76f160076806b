// Package contextkeys provides centralized context key definitions.
// All context keys used across the application are defined here to prevent
// typos and make key usage discoverable.
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// TokenKey contains the *auth.Token resolved from the bearer secret,
	// or nothing for anonymous callers.
	// Set by: middleware.LoadToken
	// Required by: access guard, token self-management handlers
	TokenKey Key = "auth_token"

	// RequestIDKey contains the request ID string (UUID)
	// Set by: httputil.LoggingMiddleware
	// Used by: logger
	RequestIDKey Key = "request_id"

	// LoggerKey contains *observability.Logger
	// Set by: httputil.LoggingMiddleware
	// Used by: handlers that log with request context
	LoggerKey Key = "logger"
)

// WithToken adds the resolved auth token to the context
func WithToken(ctx context.Context, token interface{}) context.Context {
	return context.WithValue(ctx, TokenKey, token)
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithLogger adds a logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}
