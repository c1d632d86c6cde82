// Package catalog resolves which governed tools a tenant may use.
package catalog

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/upb/tool-governance/models"
	"github.com/upb/tool-governance/repositories"
	"github.com/upb/tool-governance/services"
	"github.com/upb/tool-governance/services/governance"
	"github.com/upb/tool-governance/services/tools"
	"go.uber.org/zap"
)

// TenantConfigReader loads a tenant's tool configuration
type TenantConfigReader interface {
	GetToolConfig(ctx context.Context, tenantID uuid.UUID) (*models.TenantToolConfig, error)
}

// Catalog builds the governed tool set for a tenant from an immutable list of definitions
type Catalog struct {
	definitions []tools.Definition
	tenants     TenantConfigReader
	factory     *governance.Factory
	defaults    tools.PlatformDefaults
	httpClient  *http.Client
	logger      *zap.Logger
}

// New creates a Catalog. definitions are copied.
func New(definitions []tools.Definition, tenants TenantConfigReader, factory *governance.Factory, defaults tools.PlatformDefaults, httpClient *http.Client, logger *zap.Logger) *Catalog {
	defs := make([]tools.Definition, len(definitions))
	copy(defs, definitions)
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Catalog{
		definitions: defs,
		tenants:     tenants,
		factory:     factory,
		defaults:    defaults,
		httpClient:  httpClient,
		logger:      logger,
	}
}

// Definitions returns the static tool list in registration order
func (c *Catalog) Definitions() []tools.Definition {
	out := make([]tools.Definition, len(c.definitions))
	copy(out, c.definitions)
	return out
}

// ToolsFor returns the governed tools enabled for tenantID. Configuration is read on
// every call so changes apply to the next request. Tools that cannot be built for the
// tenant are left out; only configuration storage failures are errors.
func (c *Catalog) ToolsFor(ctx context.Context, tenantID uuid.UUID) ([]*governance.GovernedTool, error) {
	cfg, err := c.loadConfig(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	c.logUnknown(tenantID, cfg)

	out := make([]*governance.GovernedTool, 0, len(c.definitions))
	for _, def := range c.definitions {
		if g := c.build(tenantID, cfg, def); g != nil {
			out = append(out, g)
		}
	}
	return out, nil
}

// Lookup returns one governed tool, or ErrToolNotAvailable when it is unknown, disabled or unconfigured
func (c *Catalog) Lookup(ctx context.Context, tenantID uuid.UUID, name string) (*governance.GovernedTool, error) {
	def, ok := c.definition(name)
	if !ok {
		return nil, services.ErrToolNotAvailable
	}

	cfg, err := c.loadConfig(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	g := c.build(tenantID, cfg, def)
	if g == nil {
		return nil, services.ErrToolNotAvailable
	}
	return g, nil
}

// Known reports whether name is a registered tool
func (c *Catalog) Known(name string) bool {
	_, ok := c.definition(name)
	return ok
}

func (c *Catalog) definition(name string) (tools.Definition, bool) {
	for _, d := range c.definitions {
		if d.Name == name {
			return d, true
		}
	}
	return tools.Definition{}, false
}

// loadConfig treats an unknown tenant as one with default configuration
func (c *Catalog) loadConfig(ctx context.Context, tenantID uuid.UUID) (*models.TenantToolConfig, error) {
	cfg, err := c.tenants.GetToolConfig(ctx, tenantID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			c.logger.Debug("tenant has no stored configuration, using defaults",
				zap.String("tenant_id", tenantID.String()))
			return models.NewTenantToolConfig(tenantID), nil
		}
		return nil, services.WrapInternal("failed to load tenant tool configuration", err)
	}
	return cfg, nil
}

func (c *Catalog) build(tenantID uuid.UUID, cfg *models.TenantToolConfig, def tools.Definition) *governance.GovernedTool {
	if !cfg.IsEnabled(def.Name, def.DefaultEnabled) {
		return nil
	}

	settings := cfg.SettingsFor(def.Name)
	tool, err := def.Build(tools.BuildContext{
		TenantID:   tenantID,
		Settings:   settings,
		Defaults:   c.defaults,
		HTTPClient: c.httpClient,
		Logger:     c.logger.With(zap.String("tool", def.Name)),
	})
	if err != nil {
		c.logger.Debug("tool omitted for tenant",
			zap.String("tenant_id", tenantID.String()),
			zap.String("tool", def.Name),
			zap.Error(services.NewConfigurationError(def.Name, err.Error())))
		return nil
	}

	timeout := settings.Timeout()
	if timeout == 0 {
		timeout = def.DefaultTimeout
	}
	return c.factory.Wrap(tenantID, tool, timeout)
}

func (c *Catalog) logUnknown(tenantID uuid.UUID, cfg *models.TenantToolConfig) {
	for name := range cfg.Tools {
		if !c.Known(name) {
			c.logger.Debug("ignoring configuration for unknown tool",
				zap.String("tenant_id", tenantID.String()),
				zap.String("tool", name))
		}
	}
}
