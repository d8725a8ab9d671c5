// Package contextkeys holds every context key used across the module.
//
// Keeping them in one place avoids collisions between packages and documents
// which middleware sets each value:
//
//	ctx = contextkeys.WithUserID(ctx, userID)
//	userID := contextkeys.GetUserID(ctx)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// AccessKey contains *rbac.AccessContext
	// Set by: rbac.Middleware after a gate passes
	// Used by: org-scoped API handlers
	AccessKey Key = "access_context"

	// RequestIDKey contains the request ID string (UUID)
	// Set by: middleware.RequestID
	RequestIDKey Key = "request_id"

	// UserIDKey contains the authenticated user ID string
	// Set by: middleware.TrustedIdentity
	UserIDKey Key = "user_id"

	// LoggerKey contains a logrus.FieldLogger
	// Set by: middleware.RequestID
	LoggerKey Key = "logger"
)

// WithAccess adds the resolved access context to the context
func WithAccess(ctx context.Context, access interface{}) context.Context {
	return context.WithValue(ctx, AccessKey, access)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithUserID adds user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetUserID retrieves user ID from context
func GetUserID(ctx context.Context) string {
	if userID, ok := ctx.Value(UserIDKey).(string); ok {
		return userID
	}
	return ""
}
