package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/upb/tool-governance/middleware"
	"github.com/upb/tool-governance/models"
	"github.com/upb/tool-governance/utils"
	"go.uber.org/zap"
)

// QuotaAdmin manages quota policies
type QuotaAdmin interface {
	ListPolicies(ctx context.Context, tenantID uuid.UUID) ([]*models.QuotaPolicy, error)
	GetPolicy(ctx context.Context, tenantID uuid.UUID, tool string) (*models.QuotaPolicy, error)
	SetPolicy(ctx context.Context, tenantID uuid.UUID, tool string, perDay, perMonth *int) (*models.QuotaPolicy, error)
	DeletePolicy(ctx context.Context, tenantID uuid.UUID, tool string) error
	ToolUsage(ctx context.Context, tenantID uuid.UUID, tool string) (*models.ToolUsage, error)
}

// SetQuotaRequest is the body of PUT /quotas/{tool}. A null limit removes that window's cap.
type SetQuotaRequest struct {
	MaxCallsPerDay   *int `json:"max_calls_per_day" validate:"omitempty,gte=0"`
	MaxCallsPerMonth *int `json:"max_calls_per_month" validate:"omitempty,gte=0"`
}

// QuotaResponse is a policy with the current usage against it
type QuotaResponse struct {
	Policy *models.QuotaPolicy `json:"policy"`
	Usage  *models.ToolUsage   `json:"usage"`
}

// QuotaHandler handles quota policy administration
type QuotaHandler struct {
	quotas  QuotaAdmin
	catalog ToolCatalog
	logger  *zap.Logger
}

// NewQuotaHandler creates a new QuotaHandler
func NewQuotaHandler(quotas QuotaAdmin, catalog ToolCatalog, logger *zap.Logger) *QuotaHandler {
	return &QuotaHandler{
		quotas:  quotas,
		catalog: catalog,
		logger:  logger,
	}
}

// HandleListQuotas handles GET /api/v1/quotas
func (h *QuotaHandler) HandleListQuotas(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	policies, err := h.quotas.ListPolicies(ctx, middleware.GetTenantIDFromContext(ctx))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, policies)
}

// HandleGetQuota handles GET /api/v1/quotas/{tool}
func (h *QuotaHandler) HandleGetQuota(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantIDFromContext(ctx)
	tool, ok := h.toolParam(w, r)
	if !ok {
		return
	}

	policy, err := h.quotas.GetPolicy(ctx, tenantID, tool)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	usage, err := h.quotas.ToolUsage(ctx, tenantID, tool)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, QuotaResponse{Policy: policy, Usage: usage})
}

// HandleSetQuota handles PUT /api/v1/quotas/{tool}
func (h *QuotaHandler) HandleSetQuota(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantIDFromContext(ctx)
	tool, ok := h.toolParam(w, r)
	if !ok {
		return
	}

	var req SetQuotaRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	policy, err := h.quotas.SetPolicy(ctx, tenantID, tool, req.MaxCallsPerDay, req.MaxCallsPerMonth)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	usage, err := h.quotas.ToolUsage(ctx, tenantID, tool)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, QuotaResponse{Policy: policy, Usage: usage})
}

// HandleDeleteQuota handles DELETE /api/v1/quotas/{tool}
func (h *QuotaHandler) HandleDeleteQuota(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tool, ok := h.toolParam(w, r)
	if !ok {
		return
	}

	if err := h.quotas.DeletePolicy(ctx, middleware.GetTenantIDFromContext(ctx), tool); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	utils.WriteNoContent(w)
}

func (h *QuotaHandler) toolParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	tool := chi.URLParam(r, "tool")
	if err := utils.ValidateToolName(tool); err != nil || !h.catalog.Known(tool) {
		_ = utils.WriteNotFound(w, fmt.Sprintf("Unknown tool: %s", tool))
		return "", false
	}
	return tool, true
}
