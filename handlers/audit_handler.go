package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/upb/tool-governance/middleware"
	"github.com/upb/tool-governance/models"
	"github.com/upb/tool-governance/repositories"
	"github.com/upb/tool-governance/services"
	"github.com/upb/tool-governance/utils"
	"go.uber.org/zap"
)

// InvocationListResponse is one page of audit records
type InvocationListResponse struct {
	Records []*models.InvocationRecord `json:"records"`
	Limit   int                        `json:"limit"`
	Offset  int                        `json:"offset"`
	Order   repositories.SortOrder     `json:"order"`
}

// AuditHandler serves the invocation audit trail
type AuditHandler struct {
	invocations InvocationReader
	logger      *zap.Logger
}

// NewAuditHandler creates a new AuditHandler
func NewAuditHandler(invocations InvocationReader, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{
		invocations: invocations,
		logger:      logger,
	}
}

// HandleListInvocations handles GET /api/v1/audit/invocations
func (h *AuditHandler) HandleListInvocations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantIDFromContext(ctx)

	filter, page, err := parseInvocationQuery(r)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	records, err := h.invocations.List(ctx, tenantID, filter, page)
	if err != nil {
		HandleServiceError(w, services.WrapInternal("failed to list invocations", err), h.logger)
		return
	}

	_ = utils.WriteOK(w, InvocationListResponse{
		Records: records,
		Limit:   page.Limit,
		Offset:  page.Offset,
		Order:   page.Order,
	})
}

// parseInvocationQuery reads tool, status, from, to (RFC 3339 or YYYY-MM-DD), limit, offset
// and order. A bare "to" date includes that whole day.
func parseInvocationQuery(r *http.Request) (repositories.InvocationFilter, repositories.Page, error) {
	q := r.URL.Query()
	var filter repositories.InvocationFilter
	var page repositories.Page

	if tool := q.Get("tool"); tool != "" {
		if err := utils.ValidateToolName(tool); err != nil {
			return filter, page, invalidQuery("tool", err.Error())
		}
		filter.ToolName = &tool
	}

	if s := q.Get("status"); s != "" {
		status := models.InvocationStatus(s)
		if !status.IsValid() {
			return filter, page, invalidQuery("status", fmt.Sprintf("unknown status %q", s))
		}
		filter.Status = &status
	}

	if s := q.Get("from"); s != "" {
		from, _, err := parseTime(s)
		if err != nil {
			return filter, page, invalidQuery("from", err.Error())
		}
		filter.From = &from
	}

	if s := q.Get("to"); s != "" {
		to, dateOnly, err := parseTime(s)
		if err != nil {
			return filter, page, invalidQuery("to", err.Error())
		}
		if dateOnly {
			to = to.AddDate(0, 0, 1)
		}
		filter.To = &to
	}

	if filter.From != nil && filter.To != nil && !filter.From.Before(*filter.To) {
		return filter, page, services.NewDomainError(services.ErrorTypeValidation, "from must be before to", nil).
			WithDetail("field", "from")
	}

	var err error
	if page.Limit, err = intParam(q.Get("limit"), "limit"); err != nil {
		return filter, page, err
	}
	if page.Offset, err = intParam(q.Get("offset"), "offset"); err != nil {
		return filter, page, err
	}

	switch order := q.Get("order"); order {
	case "", string(repositories.SortDesc):
		page.Order = repositories.SortDesc
	case string(repositories.SortAsc):
		page.Order = repositories.SortAsc
	default:
		return filter, page, invalidQuery("order", "order must be asc or desc")
	}

	return filter, page.Normalize(), nil
}

func parseTime(s string) (time.Time, bool, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), false, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("expected RFC 3339 timestamp or YYYY-MM-DD, got %q", s)
	}
	return t, true, nil
}

func intParam(s, field string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, invalidQuery(field, field+" must be a non-negative integer")
	}
	return n, nil
}

func invalidQuery(field, message string) error {
	return services.NewDomainError(services.ErrorTypeValidation, message, nil).WithDetail("field", field)
}
