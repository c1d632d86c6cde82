package middleware

import (
	"context"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/upb/tool-governance/auth"
	"github.com/upb/tool-governance/services/governance"
)

// Context key type to avoid collisions
type contextKey string

const (
	// ClaimsKey is the context key for JWT claims
	ClaimsKey contextKey = "claims"

	// TenantIDKey is the context key for the caller's tenant
	TenantIDKey contextKey = "tenant_id"

	// UserIDKey is the context key for user ID
	UserIDKey contextKey = "user_id"

	// ToolKey is the context key for the resolved governed tool
	ToolKey contextKey = "tool"
)

// GetRequestIDFromContext returns the ID assigned by chi's RequestID middleware
func GetRequestIDFromContext(ctx context.Context) string {
	return chimw.GetReqID(ctx)
}

// GetClaimsFromContext retrieves JWT claims from context
func GetClaimsFromContext(ctx context.Context) *auth.Claims {
	if claims, ok := ctx.Value(ClaimsKey).(*auth.Claims); ok {
		return claims
	}
	return nil
}

// WithClaims adds JWT claims to the context
func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, ClaimsKey, claims)
}

// GetTenantIDFromContext retrieves the tenant ID from context
func GetTenantIDFromContext(ctx context.Context) uuid.UUID {
	if id, ok := ctx.Value(TenantIDKey).(uuid.UUID); ok {
		return id
	}
	return uuid.Nil
}

// WithTenantID adds a tenant ID to the context
func WithTenantID(ctx context.Context, tenantID uuid.UUID) context.Context {
	return context.WithValue(ctx, TenantIDKey, tenantID)
}

// GetUserIDFromContext retrieves the user ID from context
func GetUserIDFromContext(ctx context.Context) *uuid.UUID {
	if id, ok := ctx.Value(UserIDKey).(*uuid.UUID); ok {
		return id
	}
	return nil
}

// WithUserID adds a user ID to the context
func WithUserID(ctx context.Context, userID *uuid.UUID) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetToolFromContext retrieves the tool resolved by ToolResolver.RequireTool
func GetToolFromContext(ctx context.Context) *governance.GovernedTool {
	if tool, ok := ctx.Value(ToolKey).(*governance.GovernedTool); ok {
		return tool
	}
	return nil
}

// WithTool adds a governed tool to the context
func WithTool(ctx context.Context, tool *governance.GovernedTool) context.Context {
	return context.WithValue(ctx, ToolKey, tool)
}
