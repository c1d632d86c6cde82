package middleware

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/upb/tool-governance/services"
	"github.com/upb/tool-governance/services/governance"
	"github.com/upb/tool-governance/utils"
	"go.uber.org/zap"
)

// ToolLookup resolves a governed tool for a tenant
type ToolLookup interface {
	Lookup(ctx context.Context, tenantID uuid.UUID, name string) (*governance.GovernedTool, error)
}

// ToolResolver resolves the {name} URL parameter to a governed tool
type ToolResolver struct {
	catalog ToolLookup
	logger  *zap.Logger
}

// NewToolResolver creates a new ToolResolver
func NewToolResolver(catalog ToolLookup, logger *zap.Logger) *ToolResolver {
	return &ToolResolver{
		catalog: catalog,
		logger:  logger,
	}
}

// RequireTool answers 404 when the tool is unknown, disabled or not configured for the
// caller's tenant. It must run after ExtractTenant.
func (m *ToolResolver) RequireTool(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		tenantID := GetTenantIDFromContext(ctx)
		if tenantID == uuid.Nil {
			m.logger.Error("missing tenant in context", zap.String("request_id", requestID))
			_ = utils.WriteUnauthorized(w, "Missing tenant information")
			return
		}

		name := chi.URLParam(r, "name")
		tool, err := m.catalog.Lookup(ctx, tenantID, name)
		if err != nil {
			if services.IsNotFoundError(err) {
				m.logger.Debug("tool not available",
					zap.String("request_id", requestID),
					zap.String("tenant_id", tenantID.String()),
					zap.String("tool", name))
				_ = utils.WriteNotFound(w, "Tool not available: "+name)
				return
			}
			m.logger.Error("failed to resolve tool",
				zap.String("request_id", requestID),
				zap.String("tool", name),
				zap.Error(err))
			_ = utils.WriteInternalServerError(w, "Failed to resolve tool")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithTool(ctx, tool)))
	})
}
