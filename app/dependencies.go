package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/upb/tool-governance/auth"
	"github.com/upb/tool-governance/config"
	"github.com/upb/tool-governance/handlers"
	"github.com/upb/tool-governance/internal/observability"
	"github.com/upb/tool-governance/middleware"
	"github.com/upb/tool-governance/models"
	"github.com/upb/tool-governance/repositories"
	"github.com/upb/tool-governance/repositories/memory"
	"github.com/upb/tool-governance/repositories/postgres"
	redisrepo "github.com/upb/tool-governance/repositories/redis"
	"github.com/upb/tool-governance/services/audit"
	"github.com/upb/tool-governance/services/catalog"
	"github.com/upb/tool-governance/services/governance"
	"github.com/upb/tool-governance/services/quota"
	"github.com/upb/tool-governance/services/tools"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB
	Redis  *goredis.Client
	Logger *zap.Logger

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	Tenants       repositories.TenantRepository
	QuotaPolicies repositories.QuotaPolicyRepository
	QuotaCounters repositories.QuotaCounterStore
	Invocations   repositories.InvocationRepository
	TxManager     repositories.TransactionManager

	// Services
	Metrics        observability.Metrics
	MetricsHandler http.Handler
	AuditService   *audit.Service // nil when records are written synchronously
	AuditSink      audit.Sink
	Quota          *quota.Service
	Governance     *governance.Factory
	Catalog        *catalog.Catalog

	// HTTP
	AuthMiddleware *middleware.AuthMiddleware
	ToolResolver   *middleware.ToolResolver
	ToolHandler    *handlers.ToolHandler
	AuditHandler   *handlers.AuditHandler
	QuotaHandler   *handlers.QuotaHandler
	HealthHandler  *handlers.HealthHandler
}

// NewDependencies connects to PostgreSQL and wires every component on top of it
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(ctx, cfg); err != nil {
		if deps.RepoFactory != nil {
			_ = deps.RepoFactory.Close()
		}
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := deps.wire(cfg, deps.RepoFactory.NewRepositories()); err != nil {
		_ = deps.Close(ctx)
		return nil, err
	}

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// NewDependenciesWithRepositories wires every component over an existing repository set.
// No database connection is opened; readiness only reports the configured counter backend.
func NewDependenciesWithRepositories(cfg *config.Config, logger *zap.Logger, repos *repositories.Repositories) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}
	if err := deps.wire(cfg, repos); err != nil {
		_ = deps.Close(context.Background())
		return nil, err
	}
	return deps, nil
}

func (d *Dependencies) wire(cfg *config.Config, repos *repositories.Repositories) error {
	if err := d.initRepositories(cfg, repos); err != nil {
		return fmt.Errorf("failed to initialize repositories: %w", err)
	}

	d.initMetrics(cfg)

	if err := d.initAudit(cfg); err != nil {
		return fmt.Errorf("failed to initialize audit: %w", err)
	}

	if err := d.initServices(cfg); err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	d.initAuth(cfg)
	d.initHandlers()
	return nil
}

// initDatabase opens the PostgreSQL connection(s) and creates the schema when asked to
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	factory, err := postgres.NewRepositoryFactory(cfg, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB()
	d.TxManager = factory.GetTransactionManager()

	if err := d.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	if cfg.Database.InitSchema {
		if err := factory.InitSchema(ctx); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	d.Logger.Info("database connection established",
		zap.String("connection", cfg.Database.LogString()))

	return nil
}

// initRepositories takes the repository set and swaps in the configured counter backend
func (d *Dependencies) initRepositories(cfg *config.Config, repos *repositories.Repositories) error {
	d.Tenants = repos.Tenants
	d.QuotaPolicies = repos.QuotaPolicies
	d.QuotaCounters = repos.QuotaCounters
	d.Invocations = repos.Invocations

	switch cfg.Quota.Backend {
	case config.QuotaBackendMemory:
		d.QuotaCounters = memory.NewQuotaCounterStore()
		d.Logger.Warn("quota counters are held in process memory and reset on restart")
	case config.QuotaBackendRedis:
		client, err := redisrepo.NewClient(cfg.Redis.URL)
		if err != nil {
			return err
		}
		d.Redis = client
		d.QuotaCounters = redisrepo.NewQuotaCounterStore(client, d.Logger)
	case config.QuotaBackendPostgres, "":
	default:
		return fmt.Errorf("unknown quota backend %q", cfg.Quota.Backend)
	}

	if d.QuotaCounters == nil {
		return errors.New("no quota counter store configured")
	}

	d.Logger.Info("repositories initialized", zap.String("quota_backend", cfg.Quota.Backend))
	return nil
}

func (d *Dependencies) initMetrics(cfg *config.Config) {
	if !cfg.Observability.MetricsEnabled {
		d.Metrics = observability.NopMetrics{}
		return
	}
	m := observability.NewPrometheusMetrics()
	d.Metrics = m
	d.MetricsHandler = m.Handler()
}

// initAudit starts the background writer, or falls back to synchronous appends
func (d *Dependencies) initAudit(cfg *config.Config) error {
	if !cfg.Audit.Async {
		d.AuditSink = audit.NewDirectSink(d.Invocations)
		return nil
	}

	svc := audit.NewService(d.Invocations, d.Logger, audit.Config{
		BufferSize:   cfg.Audit.BufferSize,
		WorkerCount:  cfg.Audit.WorkerCount,
		WriteTimeout: cfg.Audit.WriteTimeout,
	})
	metrics := d.Metrics
	svc.OnFailure(func(record *models.InvocationRecord, _ error) {
		metrics.RecordAuditFailure(record.TenantID.String(), record.ToolName)
	})
	if err := svc.Start(); err != nil {
		return err
	}

	d.AuditService = svc
	d.AuditSink = svc
	return nil
}

func (d *Dependencies) initServices(cfg *config.Config) error {
	d.Quota = quota.NewService(d.QuotaPolicies, d.QuotaCounters, d.Logger)
	d.Governance = governance.NewFactory(d.Quota, d.AuditSink, d.Metrics, d.Logger, cfg.Tools.DefaultTimeout)

	definitions := tools.Builtins()
	if cfg.Tools.OverridesFile != "" {
		overrides, err := tools.LoadOverrides(cfg.Tools.OverridesFile)
		if err != nil {
			return err
		}
		if definitions, err = overrides.Apply(definitions); err != nil {
			return err
		}
		d.Logger.Info("tool overrides applied", zap.String("file", cfg.Tools.OverridesFile))
	}

	if cfg.Tools.TavilyAPIKey == "" {
		d.Logger.Warn("TAVILY_API_KEY not set, web search needs a tenant key")
	}

	d.Catalog = catalog.New(
		definitions,
		d.Tenants,
		d.Governance,
		tools.PlatformDefaults{
			TavilyAPIKey:  cfg.Tools.TavilyAPIKey,
			TavilyBaseURL: cfg.Tools.TavilyBaseURL,
		},
		&http.Client{Timeout: cfg.Tools.HTTPTimeout},
		d.Logger,
	)
	return nil
}

func (d *Dependencies) initAuth(cfg *config.Config) {
	d.ToolResolver = middleware.NewToolResolver(d.Catalog, d.Logger)

	if cfg.Auth.JWTSecret == "" {
		d.Logger.Warn("JWT_SECRET not set, every authenticated route will answer 401")
		d.AuthMiddleware = middleware.NewAuthMiddleware(&rejectAllValidator{}, d.Logger)
		return
	}
	validator := auth.NewValidator(auth.Config{
		Secret: cfg.Auth.JWTSecret,
		Issuer: cfg.Auth.Issuer,
		Leeway: cfg.Auth.Leeway,
	})
	d.AuthMiddleware = middleware.NewAuthMiddleware(validator, d.Logger)
	d.Logger.Info("token validation initialized", zap.String("issuer", cfg.Auth.Issuer))
}

func (d *Dependencies) initHandlers() {
	d.ToolHandler = handlers.NewToolHandler(d.Catalog, d.Quota, d.Invocations, d.Tenants, d.Logger)
	d.AuditHandler = handlers.NewAuditHandler(d.Invocations, d.Logger)
	d.QuotaHandler = handlers.NewQuotaHandler(d.Quota, d.Catalog, d.Logger)

	d.HealthHandler = handlers.NewHealthHandler(d.Logger)
	if d.DB != nil {
		d.HealthHandler.AddCheck("database", d.DB.HealthCheck)
	}
	if store, ok := d.QuotaCounters.(*redisrepo.QuotaCounterStore); ok {
		d.HealthHandler.AddCheck("redis", store.Ping)
	}
}

// rejectAllValidator rejects all tokens (used when no signing secret is configured)
type rejectAllValidator struct{}

func (*rejectAllValidator) ValidateToken(context.Context, string) (*auth.Claims, error) {
	return nil, errors.New("authentication not configured")
}

// Close drains pending invocation records and shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.AuditService != nil {
		timeout := d.Config.Audit.DrainTimeout
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); remaining < timeout {
				timeout = remaining
			}
		}
		d.Logger.Info("draining audit records",
			zap.Int("pending_records", d.AuditService.GetStats().PendingRecords),
			zap.Duration("timeout", timeout))
		if err := d.AuditService.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to drain audit records: %w", err))
		} else {
			d.Logger.Info("audit records drained")
		}
	}

	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
	}

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	return errors.Join(errs...)
}
