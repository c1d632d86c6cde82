package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/upb/tool-governance/app"
	"github.com/upb/tool-governance/auth"
	"github.com/upb/tool-governance/utils"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))

	origins := deps.Config.Server.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoints
	r.Get("/healthz", deps.HealthHandler.HandleHealth)
	r.Get("/readyz", deps.HealthHandler.HandleReadiness)

	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(deps.AuthMiddleware.RequireAuth)
		r.Use(deps.AuthMiddleware.ExtractTenant)

		r.Route("/tools", func(r chi.Router) {
			r.Get("/", deps.ToolHandler.HandleListTools)
			r.Get("/usage", deps.ToolHandler.HandleUsage)
			r.Get("/config", deps.ToolHandler.HandleGetConfig)
			r.With(deps.AuthMiddleware.RequireRole(auth.RoleAdmin)).
				Put("/config", deps.ToolHandler.HandleUpdateConfig)

			r.With(deps.ToolResolver.RequireTool).
				Post("/{name}/invoke", deps.ToolHandler.HandleInvoke)
		})

		r.Get("/audit/invocations", deps.AuditHandler.HandleListInvocations)

		r.Route("/quotas", func(r chi.Router) {
			r.Get("/", deps.QuotaHandler.HandleListQuotas)
			r.Get("/{tool}", deps.QuotaHandler.HandleGetQuota)

			r.Group(func(r chi.Router) {
				r.Use(deps.AuthMiddleware.RequireRole(auth.RoleAdmin))
				r.Put("/{tool}", deps.QuotaHandler.HandleSetQuota)
				r.Delete("/{tool}", deps.QuotaHandler.HandleDeleteQuota)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteErrorCode(w, http.StatusMethodNotAllowed, utils.CodeBadRequest, "method not allowed", nil)
	})

	return r
}
