// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
package contextkeys

import (
	"context"

	"github.com/xdeploy/xdeploy/pkg/policy"
)

// Key is the type for context keys to prevent collisions
type Key string

const (
	// PrincipalKey contains *policy.Principal
	// Set by: middleware.Session / middleware.APIKey (pkg/middleware/auth.go)
	// Required by: all protected endpoints
	PrincipalKey Key = "principal"

	// RequestIDKey contains the request ID string (UUID)
	// Set by: middleware.RequestID
	// Used by: logging
	RequestIDKey Key = "request_id"
)

// WithPrincipal adds the authenticated principal to the context.
func WithPrincipal(ctx context.Context, p *policy.Principal) context.Context {
	return context.WithValue(ctx, PrincipalKey, p)
}

// Principal retrieves the authenticated principal, nil when the request is
// anonymous.
func Principal(ctx context.Context) *policy.Principal {
	if p, ok := ctx.Value(PrincipalKey).(*policy.Principal); ok {
		return p
	}
	return nil
}

// WithRequestID adds the request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}
