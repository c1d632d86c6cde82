package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/upb/tool-governance/models"
)

// ErrNotFound is returned by repositories when a row does not exist
var ErrNotFound = errors.New("record not found")

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// TenantRepository handles tenant data and the tool configuration stored in tenant settings
type TenantRepository interface {
	// Create creates a new tenant
	Create(ctx context.Context, tenant *models.Tenant) error

	// GetByID retrieves a tenant by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error)

	// GetToolConfig decodes the tenant's tool configuration
	GetToolConfig(ctx context.Context, tenantID uuid.UUID) (*models.TenantToolConfig, error)

	// UpdateToolConfig replaces the tenant's tool configuration, keeping other settings
	UpdateToolConfig(ctx context.Context, cfg *models.TenantToolConfig) error
}

// QuotaPolicyRepository handles the admin-owned quota limits
type QuotaPolicyRepository interface {
	// Get returns the policy for (tenant, tool), or nil when no row exists
	Get(ctx context.Context, tenantID uuid.UUID, toolName string) (*models.QuotaPolicy, error)

	// ListByTenant returns every policy of a tenant ordered by tool name
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*models.QuotaPolicy, error)

	// Upsert creates or replaces a policy
	Upsert(ctx context.Context, policy *models.QuotaPolicy) error

	// Delete removes a policy. Returns ErrNotFound when absent.
	Delete(ctx context.Context, tenantID uuid.UUID, toolName string) error
}

// QuotaCounterStore holds the write-heavy usage counters.
// Reserve must be a single atomic check-then-increment per (tenant, tool) key.
type QuotaCounterStore interface {
	// Reserve rolls the counter forward, checks policy and increments only when admitted
	Reserve(ctx context.Context, policy *models.QuotaPolicy, now time.Time) (*models.QuotaDecision, error)

	// Get returns the counter rolled forward to now without persisting, or nil when never used
	Get(ctx context.Context, tenantID uuid.UUID, toolName string, now time.Time) (*models.QuotaCounter, error)
}

// InvocationRepository is the append-only audit trail of tool calls
type InvocationRepository interface {
	// Append inserts a record
	Append(ctx context.Context, record *models.InvocationRecord) error

	// List retrieves a tenant's records matching filter
	List(ctx context.Context, tenantID uuid.UUID, filter InvocationFilter, page Page) ([]*models.InvocationRecord, error)

	// Stats aggregates a tenant's records by tool and status
	Stats(ctx context.Context, tenantID uuid.UUID) (*models.InvocationStats, error)
}

// InvocationFilter narrows an audit query. Zero fields are ignored.
type InvocationFilter struct {
	ToolName *string
	Status   *models.InvocationStatus
	From     *time.Time // inclusive
	To       *time.Time // exclusive
}

// Matches reports whether record passes the filter
func (f InvocationFilter) Matches(record *models.InvocationRecord) bool {
	if f.ToolName != nil && record.ToolName != *f.ToolName {
		return false
	}
	if f.Status != nil && record.Status != *f.Status {
		return false
	}
	if f.From != nil && record.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && !record.CreatedAt.Before(*f.To) {
		return false
	}
	return true
}

// SortOrder is the created_at ordering of a listing
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 500
)

// Page holds pagination and ordering
type Page struct {
	Limit  int
	Offset int
	Order  SortOrder
}

// Normalize applies defaults and bounds
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.Order != SortAsc {
		p.Order = SortDesc
	}
	return p
}

// Repositories holds all repository instances
type Repositories struct {
	Tenants       TenantRepository
	QuotaPolicies QuotaPolicyRepository
	QuotaCounters QuotaCounterStore
	Invocations   InvocationRepository
}
