package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Built-in tool names
const (
	ToolTavilySearch = "tavily_search"
	ToolLLMMath      = "llm_math"
)

// Tenant represents an isolated customer in the multi-tenant system
type Tenant struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	Name      string          `json:"name" db:"name"`
	Slug      string          `json:"slug" db:"slug"`
	Settings  json.RawMessage `json:"settings" db:"settings"` // JSONB, tool config lives under "tools"
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the Tenant model
func (Tenant) TableName() string {
	return "tenants"
}

// NewTenant creates a new Tenant instance
func NewTenant(name, slug string) *Tenant {
	now := time.Now().UTC()
	return &Tenant{
		ID:        uuid.New(),
		Name:      name,
		Slug:      slug,
		Settings:  json.RawMessage(`{}`),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ToolSettings holds one tool's tenant-specific settings
type ToolSettings struct {
	Enabled   *bool             `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	APIKey    string            `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	TimeoutMs int               `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
	Options   map[string]string `json:"options,omitempty" yaml:"options,omitempty"`
}

// Timeout returns the configured timeout or zero when unset
func (s ToolSettings) Timeout() time.Duration {
	if s.TimeoutMs <= 0 {
		return 0
	}
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

// TenantToolConfig is a tenant's tool enablement and per-tool settings
type TenantToolConfig struct {
	TenantID uuid.UUID               `json:"-"`
	Tools    map[string]ToolSettings `json:"tools"`
}

// NewTenantToolConfig creates an empty config where every tool follows its default
func NewTenantToolConfig(tenantID uuid.UUID) *TenantToolConfig {
	return &TenantToolConfig{
		TenantID: tenantID,
		Tools:    make(map[string]ToolSettings),
	}
}

// IsEnabled reports whether name is enabled, falling back to defaultEnabled when not set
func (c *TenantToolConfig) IsEnabled(name string, defaultEnabled bool) bool {
	if c == nil {
		return defaultEnabled
	}
	s, ok := c.Tools[name]
	if !ok || s.Enabled == nil {
		return defaultEnabled
	}
	return *s.Enabled
}

// SettingsFor returns the settings for name (zero value when absent)
func (c *TenantToolConfig) SettingsFor(name string) ToolSettings {
	if c == nil {
		return ToolSettings{}
	}
	return c.Tools[name]
}

// SetEnabled toggles a tool
func (c *TenantToolConfig) SetEnabled(name string, enabled bool) {
	s := c.Tools[name]
	s.Enabled = &enabled
	c.Tools[name] = s
}

// SetAPIKey stores a tool's API key. An empty key clears it.
func (c *TenantToolConfig) SetAPIKey(name, key string) {
	s := c.Tools[name]
	s.APIKey = key
	c.Tools[name] = s
}

// Masked returns a copy with every API key masked for display
func (c *TenantToolConfig) Masked() *TenantToolConfig {
	out := NewTenantToolConfig(c.TenantID)
	for name, s := range c.Tools {
		s.APIKey = MaskAPIKey(s.APIKey)
		out.Tools[name] = s
	}
	return out
}

// legacySettings are the flat keys older tenants still carry in tenants.settings
type legacySettings struct {
	EnableSearch *bool  `json:"enable_search"`
	EnableMath   *bool  `json:"enable_math"`
	TavilyAPIKey string `json:"tavily_api_key"`
}

// ParseTenantToolConfig decodes the tool section of a tenant's settings document.
// Legacy flat keys are folded in only where the "tools" section does not say otherwise.
func ParseTenantToolConfig(tenantID uuid.UUID, settings json.RawMessage) (*TenantToolConfig, error) {
	cfg := NewTenantToolConfig(tenantID)
	if len(settings) == 0 || string(settings) == "null" {
		return cfg, nil
	}

	if err := json.Unmarshal(settings, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode tool settings: %w", err)
	}
	if cfg.Tools == nil {
		cfg.Tools = make(map[string]ToolSettings)
	}

	var legacy legacySettings
	if err := json.Unmarshal(settings, &legacy); err != nil {
		return nil, fmt.Errorf("failed to decode legacy tool settings: %w", err)
	}
	if legacy.EnableSearch != nil && cfg.Tools[ToolTavilySearch].Enabled == nil {
		cfg.SetEnabled(ToolTavilySearch, *legacy.EnableSearch)
	}
	if legacy.EnableMath != nil && cfg.Tools[ToolLLMMath].Enabled == nil {
		cfg.SetEnabled(ToolLLMMath, *legacy.EnableMath)
	}
	if legacy.TavilyAPIKey != "" && cfg.Tools[ToolTavilySearch].APIKey == "" {
		cfg.SetAPIKey(ToolTavilySearch, legacy.TavilyAPIKey)
	}

	return cfg, nil
}

// MergeToolConfig writes cfg into an existing settings document, keeping unrelated keys
// and dropping the legacy flat keys it supersedes.
func MergeToolConfig(settings json.RawMessage, cfg *TenantToolConfig) (json.RawMessage, error) {
	doc := make(map[string]json.RawMessage)
	if len(settings) > 0 && string(settings) != "null" {
		if err := json.Unmarshal(settings, &doc); err != nil {
			return nil, fmt.Errorf("failed to decode settings: %w", err)
		}
	}

	tools, err := json.Marshal(cfg.Tools)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool settings: %w", err)
	}
	doc["tools"] = tools
	delete(doc, "enable_search")
	delete(doc, "enable_math")
	delete(doc, "tavily_api_key")

	return json.Marshal(doc)
}

// MaskAPIKey keeps the first and last four characters of keys longer than eight
func MaskAPIKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}
