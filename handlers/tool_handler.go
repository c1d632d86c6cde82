package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/upb/tool-governance/middleware"
	"github.com/upb/tool-governance/models"
	"github.com/upb/tool-governance/repositories"
	"github.com/upb/tool-governance/services"
	"github.com/upb/tool-governance/services/governance"
	"github.com/upb/tool-governance/services/tools"
	"github.com/upb/tool-governance/utils"
	"go.uber.org/zap"
)

// ToolCatalog is the catalog view the tool endpoints need
type ToolCatalog interface {
	ToolsFor(ctx context.Context, tenantID uuid.UUID) ([]*governance.GovernedTool, error)
	Definitions() []tools.Definition
	Known(name string) bool
}

// UsageReader reports quota usage
type UsageReader interface {
	ToolUsage(ctx context.Context, tenantID uuid.UUID, tool string) (*models.ToolUsage, error)
	UsageSummary(ctx context.Context, tenantID uuid.UUID) (models.UsageSummary, error)
}

// InvocationReader reads the audit trail
type InvocationReader interface {
	List(ctx context.Context, tenantID uuid.UUID, filter repositories.InvocationFilter, page repositories.Page) ([]*models.InvocationRecord, error)
	Stats(ctx context.Context, tenantID uuid.UUID) (*models.InvocationStats, error)
}

// ToolConfigStore reads and writes a tenant's tool configuration
type ToolConfigStore interface {
	GetToolConfig(ctx context.Context, tenantID uuid.UUID) (*models.TenantToolConfig, error)
	UpdateToolConfig(ctx context.Context, cfg *models.TenantToolConfig) error
}

// InvokeToolRequest is the body of POST /tools/{name}/invoke
type InvokeToolRequest struct {
	Args      json.RawMessage `json:"args" validate:"required"`
	SessionID *uuid.UUID      `json:"session_id,omitempty"`
}

// InvokeToolResponse is a successful call
type InvokeToolResponse struct {
	Tool       string                `json:"tool"`
	RecordID   uuid.UUID             `json:"record_id"`
	Output     json.RawMessage       `json:"output"`
	DurationMs int64                 `json:"duration_ms"`
	Quota      *models.QuotaDecision `json:"quota,omitempty"`
}

// ToolInfo describes one tool available to the caller
type ToolInfo struct {
	Name           string `json:"name"`
	DisplayName    string `json:"display_name"`
	Description    string `json:"description"`
	TimeoutMs      int64  `json:"timeout_ms"`
	QuotaLimit     *int   `json:"quota_limit"`
	QuotaUsed      int    `json:"quota_used"`
	QuotaRemaining *int   `json:"quota_remaining"`
	MonthLimit     *int   `json:"month_limit"`
	MonthUsed      int    `json:"month_used"`
}

// UsageResponse combines quota usage and audit statistics
type UsageResponse struct {
	Quotas models.UsageSummary     `json:"quotas"`
	Stats  *models.InvocationStats `json:"stats"`
}

// ToolSettingsPatch changes one tool's settings. Nil fields are left as they are.
type ToolSettingsPatch struct {
	Enabled   *bool             `json:"enabled,omitempty"`
	APIKey    *string           `json:"api_key,omitempty"`
	TimeoutMs *int              `json:"timeout_ms,omitempty" validate:"omitempty,gte=0,lte=300000"`
	Options   map[string]string `json:"options,omitempty"`
}

// UpdateToolConfigRequest is the body of PUT /tools/config
type UpdateToolConfigRequest struct {
	Tools map[string]ToolSettingsPatch `json:"tools" validate:"required,dive"`
}

// ToolConfigResponse is a tenant's tool configuration with secrets masked
type ToolConfigResponse struct {
	TenantID uuid.UUID                      `json:"tenant_id"`
	Tools    map[string]ToolConfigEntry     `json:"tools"`
	Unknown  map[string]models.ToolSettings `json:"unknown,omitempty"`
}

// ToolConfigEntry is the effective configuration of one known tool
type ToolConfigEntry struct {
	Enabled   bool              `json:"enabled"`
	APIKey    string            `json:"api_key,omitempty"`
	TimeoutMs int               `json:"timeout_ms,omitempty"`
	Options   map[string]string `json:"options,omitempty"`
}

// ToolHandler handles tool listing, invocation, usage and configuration
type ToolHandler struct {
	catalog     ToolCatalog
	usage       UsageReader
	invocations InvocationReader
	configs     ToolConfigStore
	logger      *zap.Logger
}

// NewToolHandler creates a new ToolHandler
func NewToolHandler(catalog ToolCatalog, usage UsageReader, invocations InvocationReader, configs ToolConfigStore, logger *zap.Logger) *ToolHandler {
	return &ToolHandler{
		catalog:     catalog,
		usage:       usage,
		invocations: invocations,
		configs:     configs,
		logger:      logger,
	}
}

// HandleListTools handles GET /api/v1/tools
func (h *ToolHandler) HandleListTools(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantIDFromContext(ctx)

	governed, err := h.catalog.ToolsFor(ctx, tenantID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	displayNames := make(map[string]string)
	for _, def := range h.catalog.Definitions() {
		displayNames[def.Name] = def.DisplayName
	}

	infos := make([]ToolInfo, 0, len(governed))
	for _, g := range governed {
		usage, err := h.usage.ToolUsage(ctx, tenantID, g.Name())
		if err != nil {
			HandleServiceError(w, err, h.logger)
			return
		}
		infos = append(infos, ToolInfo{
			Name:           g.Name(),
			DisplayName:    displayNames[g.Name()],
			Description:    g.Description(),
			TimeoutMs:      g.Timeout().Milliseconds(),
			QuotaLimit:     usage.DayLimit,
			QuotaUsed:      usage.DayCount,
			QuotaRemaining: usage.DayRemaining(),
			MonthLimit:     usage.MonthLimit,
			MonthUsed:      usage.MonthCount,
		})
	}

	_ = utils.WriteOK(w, infos)
}

// HandleInvoke handles POST /api/v1/tools/{name}/invoke. The tool is resolved by
// middleware.ToolResolver.
func (h *ToolHandler) HandleInvoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tool := middleware.GetToolFromContext(ctx)
	if tool == nil {
		_ = utils.WriteNotFound(w, "Tool not available")
		return
	}

	var req InvokeToolRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	result, err := tool.Invoke(ctx, governance.InvokeRequest{
		Args:      req.Args,
		SessionID: req.SessionID,
		UserID:    middleware.GetUserIDFromContext(ctx),
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, InvokeToolResponse{
		Tool:       tool.Name(),
		RecordID:   result.RecordID,
		Output:     result.Output,
		DurationMs: result.Duration.Milliseconds(),
		Quota:      result.Quota,
	})
}

// HandleUsage handles GET /api/v1/tools/usage
func (h *ToolHandler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantIDFromContext(ctx)

	summary, err := h.usage.UsageSummary(ctx, tenantID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	stats, err := h.invocations.Stats(ctx, tenantID)
	if err != nil {
		HandleServiceError(w, services.WrapInternal("failed to aggregate invocations", err), h.logger)
		return
	}

	_ = utils.WriteOK(w, UsageResponse{Quotas: summary, Stats: stats})
}

// HandleGetConfig handles GET /api/v1/tools/config
func (h *ToolHandler) HandleGetConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantIDFromContext(ctx)

	cfg, err := h.configs.GetToolConfig(ctx, tenantID)
	if err != nil {
		if !errors.Is(err, repositories.ErrNotFound) {
			HandleServiceError(w, services.WrapInternal("failed to load tool configuration", err), h.logger)
			return
		}
		cfg = models.NewTenantToolConfig(tenantID)
	}

	_ = utils.WriteOK(w, h.configResponse(cfg))
}

// HandleUpdateConfig handles PUT /api/v1/tools/config
func (h *ToolHandler) HandleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantIDFromContext(ctx)

	var req UpdateToolConfigRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	for name := range req.Tools {
		if !h.catalog.Known(name) {
			_ = utils.WriteBadRequest(w, fmt.Sprintf("unknown tool: %s", name), map[string]interface{}{"tool": name})
			return
		}
	}

	cfg, err := h.configs.GetToolConfig(ctx, tenantID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			HandleServiceError(w, services.ErrTenantNotFound, h.logger)
			return
		}
		HandleServiceError(w, services.WrapInternal("failed to load tool configuration", err), h.logger)
		return
	}

	for name, patch := range req.Tools {
		applyPatch(cfg, name, patch)
	}

	if err := h.configs.UpdateToolConfig(ctx, cfg); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			HandleServiceError(w, services.ErrTenantNotFound, h.logger)
			return
		}
		HandleServiceError(w, services.WrapInternal("failed to save tool configuration", err), h.logger)
		return
	}

	h.logger.Info("tenant tool configuration updated",
		zap.String("tenant_id", tenantID.String()),
		zap.Int("tools", len(req.Tools)))

	_ = utils.WriteOK(w, h.configResponse(cfg))
}

func applyPatch(cfg *models.TenantToolConfig, name string, patch ToolSettingsPatch) {
	if patch.Enabled != nil {
		cfg.SetEnabled(name, *patch.Enabled)
	}
	if patch.APIKey != nil {
		cfg.SetAPIKey(name, *patch.APIKey)
	}
	s := cfg.Tools[name]
	if patch.TimeoutMs != nil {
		s.TimeoutMs = *patch.TimeoutMs
	}
	if patch.Options != nil {
		s.Options = patch.Options
	}
	cfg.Tools[name] = s
}

// configResponse resolves every known tool's effective state and masks keys
func (h *ToolHandler) configResponse(cfg *models.TenantToolConfig) ToolConfigResponse {
	masked := cfg.Masked()
	resp := ToolConfigResponse{
		TenantID: cfg.TenantID,
		Tools:    make(map[string]ToolConfigEntry),
	}

	for _, def := range h.catalog.Definitions() {
		s := masked.SettingsFor(def.Name)
		resp.Tools[def.Name] = ToolConfigEntry{
			Enabled:   masked.IsEnabled(def.Name, def.DefaultEnabled),
			APIKey:    s.APIKey,
			TimeoutMs: s.TimeoutMs,
			Options:   s.Options,
		}
	}
	for name, s := range masked.Tools {
		if _, ok := resp.Tools[name]; ok {
			continue
		}
		if resp.Unknown == nil {
			resp.Unknown = make(map[string]models.ToolSettings)
		}
		resp.Unknown[name] = s
	}
	return resp
}
