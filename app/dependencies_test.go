package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/tool-governance/auth"
	"github.com/upb/tool-governance/config"
	"github.com/upb/tool-governance/internal/observability"
	"github.com/upb/tool-governance/models"
	"github.com/upb/tool-governance/repositories"
	"github.com/upb/tool-governance/repositories/memory"
	"github.com/upb/tool-governance/services/governance"
	"go.uber.org/zap/zaptest"
)

func TestNewDependenciesWithRepositories(t *testing.T) {
	t.Run("wires every component", func(t *testing.T) {
		cfg := testConfig(t)
		deps, err := NewDependenciesWithRepositories(cfg, zaptest.NewLogger(t), memory.NewRepositories())
		require.NoError(t, err)

		assert.NotNil(t, deps.Tenants)
		assert.NotNil(t, deps.QuotaPolicies)
		assert.NotNil(t, deps.QuotaCounters)
		assert.NotNil(t, deps.Invocations)
		assert.NotNil(t, deps.AuditService)
		assert.NotNil(t, deps.Quota)
		assert.NotNil(t, deps.Governance)
		assert.NotNil(t, deps.Catalog)
		assert.NotNil(t, deps.AuthMiddleware)
		assert.NotNil(t, deps.ToolResolver)
		assert.NotNil(t, deps.ToolHandler)
		assert.NotNil(t, deps.AuditHandler)
		assert.NotNil(t, deps.QuotaHandler)
		assert.NotNil(t, deps.HealthHandler)
		assert.NotNil(t, deps.MetricsHandler)
		assert.Nil(t, deps.DB)
		assert.Nil(t, deps.Redis)

		assert.Len(t, deps.Catalog.Definitions(), 2)
		assert.NoError(t, deps.Close(context.Background()))
	})

	t.Run("invocation is recorded after close drains the audit buffer", func(t *testing.T) {
		ctx := context.Background()
		cfg := testConfig(t)
		deps, err := NewDependenciesWithRepositories(cfg, zaptest.NewLogger(t), memory.NewRepositories())
		require.NoError(t, err)

		tenantID := uuid.New()
		tool, err := deps.Catalog.Lookup(ctx, tenantID, models.ToolLLMMath)
		require.NoError(t, err)

		result, err := tool.Invoke(ctx, governance.InvokeRequest{Args: json.RawMessage(`{"expression":"2 + 3"}`)})
		require.NoError(t, err)
		assert.JSONEq(t, `{"expression":"2 + 3","result":5}`, string(result.Output))

		require.NoError(t, deps.Close(ctx))

		records, err := deps.Invocations.List(ctx, tenantID, repositories.InvocationFilter{}, repositories.Page{})
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, models.InvocationStatusSuccess, records[0].Status)
		assert.Equal(t, result.RecordID, records[0].ID)
	})

	t.Run("synchronous audit", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Audit.Async = false
		deps, err := NewDependenciesWithRepositories(cfg, zaptest.NewLogger(t), memory.NewRepositories())
		require.NoError(t, err)

		assert.Nil(t, deps.AuditService)
		assert.NotNil(t, deps.AuditSink)
		assert.NoError(t, deps.Close(context.Background()))
	})

	t.Run("metrics disabled", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Observability.MetricsEnabled = false
		deps, err := NewDependenciesWithRepositories(cfg, zaptest.NewLogger(t), memory.NewRepositories())
		require.NoError(t, err)
		defer deps.Close(context.Background())

		assert.Nil(t, deps.MetricsHandler)
		assert.IsType(t, observability.NopMetrics{}, deps.Metrics)
	})

	t.Run("unknown quota backend", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Quota.Backend = "etcd"
		deps, err := NewDependenciesWithRepositories(cfg, zaptest.NewLogger(t), memory.NewRepositories())
		assert.Error(t, err)
		assert.Nil(t, deps)
		assert.Contains(t, err.Error(), "unknown quota backend")
	})
}

func TestRedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := testConfig(t)
	cfg.Quota.Backend = config.QuotaBackendRedis
	cfg.Redis.URL = "redis://" + mr.Addr()

	deps, err := NewDependenciesWithRepositories(cfg, zaptest.NewLogger(t), memory.NewRepositories())
	require.NoError(t, err)
	require.NotNil(t, deps.Redis)

	ctx := context.Background()
	tenantID := uuid.New()
	limit := 1
	_, err = deps.Quota.SetPolicy(ctx, tenantID, models.ToolLLMMath, &limit, nil)
	require.NoError(t, err)

	tool, err := deps.Catalog.Lookup(ctx, tenantID, models.ToolLLMMath)
	require.NoError(t, err)

	args := governance.InvokeRequest{Args: json.RawMessage(`{"expression":"1 + 1"}`)}
	_, err = tool.Invoke(ctx, args)
	require.NoError(t, err)
	_, err = tool.Invoke(ctx, args)
	assert.Error(t, err)

	assert.NotEmpty(t, mr.Keys())

	w := httptest.NewRecorder()
	deps.HealthHandler.HandleReadiness(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"redis":"healthy"`)

	require.NoError(t, deps.Close(ctx))
}

func TestToolOverrides(t *testing.T) {
	t.Run("file is applied to the catalog", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "tools.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
version: "1"
tools:
  tavily_search:
    default_enabled: false
  llm_math:
    timeout_ms: 1500
`), 0o600))

		cfg := testConfig(t)
		cfg.Tools.OverridesFile = path
		deps, err := NewDependenciesWithRepositories(cfg, zaptest.NewLogger(t), memory.NewRepositories())
		require.NoError(t, err)
		defer deps.Close(context.Background())

		available, err := deps.Catalog.ToolsFor(context.Background(), uuid.New())
		require.NoError(t, err)
		require.Len(t, available, 1)
		assert.Equal(t, models.ToolLLMMath, available[0].Name())
		assert.Equal(t, 1500*time.Millisecond, available[0].Timeout())
	})

	t.Run("missing file fails startup", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Tools.OverridesFile = filepath.Join(t.TempDir(), "missing.yaml")
		deps, err := NewDependenciesWithRepositories(cfg, zaptest.NewLogger(t), memory.NewRepositories())
		assert.Error(t, err)
		assert.Nil(t, deps)
		assert.Contains(t, err.Error(), "failed to initialize services")
	})
}

func TestAuthWiring(t *testing.T) {
	protected := func(deps *Dependencies) http.Handler {
		return deps.AuthMiddleware.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))
	}

	t.Run("no secret rejects every token", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Auth.JWTSecret = ""
		deps, err := NewDependenciesWithRepositories(cfg, zaptest.NewLogger(t), memory.NewRepositories())
		require.NoError(t, err)
		defer deps.Close(context.Background())

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer anything")
		w := httptest.NewRecorder()
		protected(deps).ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("tokens signed with the secret are accepted", func(t *testing.T) {
		cfg := testConfig(t)
		deps, err := NewDependenciesWithRepositories(cfg, zaptest.NewLogger(t), memory.NewRepositories())
		require.NoError(t, err)
		defer deps.Close(context.Background())

		signer := auth.NewSigner(auth.Config{Secret: cfg.Auth.JWTSecret, Issuer: cfg.Auth.Issuer})
		token, err := signer.Issue(uuid.NewString(), uuid.New(), auth.RoleMember, "dev@example.com", time.Minute)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		protected(deps).ServeHTTP(w, req)
		assert.Equal(t, http.StatusNoContent, w.Code)
	})
}

func TestNewDependencies(t *testing.T) {
	t.Run("database connection failure", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		cfg := testConfig(t)
		cfg.Database.Host = "127.0.0.1"
		cfg.Database.Port = 1

		deps, err := NewDependencies(ctx, cfg, zaptest.NewLogger(t))
		assert.Error(t, err)
		assert.Nil(t, deps)
		assert.Contains(t, err.Error(), "failed to initialize database")
	})
}

func TestDependenciesClose(t *testing.T) {
	t.Run("second close reports the stopped audit service", func(t *testing.T) {
		cfg := testConfig(t)
		deps, err := NewDependenciesWithRepositories(cfg, zaptest.NewLogger(t), memory.NewRepositories())
		require.NoError(t, err)

		require.NoError(t, deps.Close(context.Background()))
		assert.Error(t, deps.Close(context.Background()))
	})
}

// Test helpers

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Environment: "test",
		Database: config.DatabaseConfig{
			Host:         "localhost",
			Port:         5432,
			User:         "postgres",
			Password:     "postgres",
			Database:     "tool_governance_test",
			SSLMode:      "disable",
			MaxOpenConns: 5,
			MaxIdleConns: 1,
		},
		Quota: config.QuotaConfig{Backend: config.QuotaBackendPostgres},
		Audit: config.AuditConfig{
			Async:        true,
			BufferSize:   16,
			WorkerCount:  2,
			WriteTimeout: time.Second,
			DrainTimeout: 5 * time.Second,
		},
		Tools: config.ToolsConfig{
			TavilyBaseURL:  "http://127.0.0.1:1",
			DefaultTimeout: 5 * time.Second,
			HTTPTimeout:    5 * time.Second,
		},
		Auth: config.AuthConfig{
			JWTSecret: "test-secret-that-is-long-enough-for-hs256",
			Issuer:    "tool-gateway",
		},
		Observability: config.ObservabilityConfig{
			LogLevel:       "error",
			LogFormat:      "json",
			MetricsEnabled: true,
		},
	}
}
