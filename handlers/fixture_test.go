package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/upb/tool-governance/middleware"
	"github.com/upb/tool-governance/models"
	"github.com/upb/tool-governance/repositories/memory"
	"github.com/upb/tool-governance/services/audit"
	"github.com/upb/tool-governance/services/catalog"
	"github.com/upb/tool-governance/services/governance"
	"github.com/upb/tool-governance/services/quota"
	"github.com/upb/tool-governance/services/tools"
	"go.uber.org/zap"
)

// fixture serves the API over in-memory repositories for one tenant
type fixture struct {
	tenantID    uuid.UUID
	userID      uuid.UUID
	tenants     *memory.TenantRepository
	invocations *memory.InvocationRepository
	quota       *quota.Service
	router      chi.Router
}

func newFixture(t *testing.T, defaults tools.PlatformDefaults) *fixture {
	t.Helper()
	logger := zap.NewNop()

	fx := &fixture{
		tenantID:    uuid.New(),
		userID:      uuid.New(),
		tenants:     memory.NewTenantRepository(),
		invocations: memory.NewInvocationRepository(),
	}
	tenant := models.NewTenant("Acme", "acme")
	tenant.ID = fx.tenantID
	require.NoError(t, fx.tenants.Create(context.Background(), tenant))

	fx.quota = quota.NewService(memory.NewQuotaPolicyRepository(), memory.NewQuotaCounterStore(), logger)
	factory := governance.NewFactory(fx.quota, audit.NewDirectSink(fx.invocations), nil, logger, 30*time.Second)
	cat := catalog.New(tools.Builtins(), fx.tenants, factory, defaults, nil, logger)

	toolHandler := NewToolHandler(cat, fx.quota, fx.invocations, fx.tenants, logger)
	auditHandler := NewAuditHandler(fx.invocations, logger)
	quotaHandler := NewQuotaHandler(fx.quota, cat, logger)
	resolver := middleware.NewToolResolver(cat, logger)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := middleware.WithTenantID(req.Context(), fx.tenantID)
			ctx = middleware.WithUserID(ctx, &fx.userID)
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	r.Get("/tools", toolHandler.HandleListTools)
	r.Get("/tools/usage", toolHandler.HandleUsage)
	r.Get("/tools/config", toolHandler.HandleGetConfig)
	r.Put("/tools/config", toolHandler.HandleUpdateConfig)
	r.With(resolver.RequireTool).Post("/tools/{name}/invoke", toolHandler.HandleInvoke)
	r.Get("/audit/invocations", auditHandler.HandleListInvocations)
	r.Get("/quotas", quotaHandler.HandleListQuotas)
	r.Get("/quotas/{tool}", quotaHandler.HandleGetQuota)
	r.Put("/quotas/{tool}", quotaHandler.HandleSetQuota)
	r.Delete("/quotas/{tool}", quotaHandler.HandleDeleteQuota)
	fx.router = r

	return fx
}

func (fx *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}

	w := httptest.NewRecorder()
	fx.router.ServeHTTP(w, httptest.NewRequest(method, path, &buf))
	return w
}

func (fx *fixture) setQuota(t *testing.T, tool string, perDay, perMonth *int) {
	t.Helper()
	_, err := fx.quota.SetPolicy(context.Background(), fx.tenantID, tool, perDay, perMonth)
	require.NoError(t, err)
}

// data decodes the {"data": ...} envelope into v
func data(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	env := struct {
		Data json.RawMessage `json:"data"`
	}{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&env))
	require.NoError(t, json.Unmarshal(env.Data, v))
}

func intPtr(v int) *int { return &v }
