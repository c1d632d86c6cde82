package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/upb/tool-governance/utils"
	"go.uber.org/zap"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// Checker reports whether one dependency is reachable
type Checker func(ctx context.Context) error

// HealthHandler handles liveness and readiness checks
type HealthHandler struct {
	checks  map[string]Checker
	timeout time.Duration
	logger  *zap.Logger
}

// NewHealthHandler creates a new HealthHandler with no dependency checks
func NewHealthHandler(logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		checks:  make(map[string]Checker),
		timeout: 5 * time.Second,
		logger:  logger,
	}
}

// AddCheck registers a readiness check under name
func (h *HealthHandler) AddCheck(name string, check Checker) *HealthHandler {
	h.checks[name] = check
	return h
}

// HandleHealth handles GET /healthz. It answers 200 while the process is serving.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleReadiness handles GET /readyz
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	checks := make(map[string]string, len(names))
	healthy := true
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			h.logger.Warn("readiness check failed", zap.String("check", name), zap.Error(err))
			checks[name] = "unhealthy"
			healthy = false
			continue
		}
		checks[name] = "healthy"
	}

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}
	if !healthy {
		response.Status = "unhealthy"
		_ = utils.WriteJSON(w, http.StatusServiceUnavailable, utils.SuccessResponse{Data: response})
		return
	}
	_ = utils.WriteOK(w, response)
}
