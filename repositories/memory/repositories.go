package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/upb/tool-governance/models"
	"github.com/upb/tool-governance/repositories"
)

// QuotaPolicyRepository is an in-memory repositories.QuotaPolicyRepository
type QuotaPolicyRepository struct {
	mu       sync.RWMutex
	policies map[counterKey]models.QuotaPolicy
}

// NewQuotaPolicyRepository creates an empty policy repository
func NewQuotaPolicyRepository() *QuotaPolicyRepository {
	return &QuotaPolicyRepository{policies: make(map[counterKey]models.QuotaPolicy)}
}

func (r *QuotaPolicyRepository) Get(_ context.Context, tenantID uuid.UUID, tool string) (*models.QuotaPolicy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.policies[counterKey{tenantID: tenantID, tool: tool}]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *QuotaPolicyRepository) ListByTenant(_ context.Context, tenantID uuid.UUID) ([]*models.QuotaPolicy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.QuotaPolicy
	for key, p := range r.policies {
		if key.tenantID == tenantID {
			p := p
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ToolName < out[j].ToolName })
	return out, nil
}

func (r *QuotaPolicyRepository) Upsert(_ context.Context, policy *models.QuotaPolicy) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := counterKey{tenantID: policy.TenantID, tool: policy.ToolName}
	p := *policy
	if existing, ok := r.policies[key]; ok {
		p.CreatedAt = existing.CreatedAt
	}
	r.policies[key] = p
	return nil
}

func (r *QuotaPolicyRepository) Delete(_ context.Context, tenantID uuid.UUID, tool string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := counterKey{tenantID: tenantID, tool: tool}
	if _, ok := r.policies[key]; !ok {
		return fmt.Errorf("quota policy %s/%s: %w", tenantID, tool, repositories.ErrNotFound)
	}
	delete(r.policies, key)
	return nil
}

// InvocationRepository is an in-memory append-only audit trail
type InvocationRepository struct {
	mu      sync.RWMutex
	records []models.InvocationRecord
}

// NewInvocationRepository creates an empty invocation repository
func NewInvocationRepository() *InvocationRepository {
	return &InvocationRepository{}
}

func (r *InvocationRepository) Append(_ context.Context, record *models.InvocationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, *record)
	return nil
}

func (r *InvocationRepository) List(_ context.Context, tenantID uuid.UUID, filter repositories.InvocationFilter, page repositories.Page) ([]*models.InvocationRecord, error) {
	page = page.Normalize()

	r.mu.RLock()
	matched := make([]*models.InvocationRecord, 0)
	for i := range r.records {
		rec := r.records[i]
		if rec.TenantID == tenantID && filter.Matches(&rec) {
			matched = append(matched, &rec)
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if page.Order == repositories.SortAsc {
			return matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if page.Offset >= len(matched) {
		return []*models.InvocationRecord{}, nil
	}
	end := page.Offset + page.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[page.Offset:end], nil
}

func (r *InvocationRepository) Stats(_ context.Context, tenantID uuid.UUID) (*models.InvocationStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := models.NewInvocationStats()
	for i := range r.records {
		if r.records[i].TenantID == tenantID {
			stats.Add(r.records[i].ToolName, r.records[i].Status, 1)
		}
	}
	return stats, nil
}

// TenantRepository is an in-memory repositories.TenantRepository
type TenantRepository struct {
	mu      sync.RWMutex
	tenants map[uuid.UUID]models.Tenant
}

// NewTenantRepository creates an empty tenant repository
func NewTenantRepository() *TenantRepository {
	return &TenantRepository{tenants: make(map[uuid.UUID]models.Tenant)}
}

func (r *TenantRepository) Create(_ context.Context, tenant *models.Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tenants[tenant.ID]; ok {
		return fmt.Errorf("tenant %s already exists", tenant.ID)
	}
	r.tenants[tenant.ID] = *tenant
	return nil
}

func (r *TenantRepository) GetByID(_ context.Context, id uuid.UUID) (*models.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tenants[id]
	if !ok {
		return nil, fmt.Errorf("tenant %s: %w", id, repositories.ErrNotFound)
	}
	return &t, nil
}

func (r *TenantRepository) GetToolConfig(ctx context.Context, tenantID uuid.UUID) (*models.TenantToolConfig, error) {
	t, err := r.GetByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return models.ParseTenantToolConfig(tenantID, t.Settings)
}

func (r *TenantRepository) UpdateToolConfig(_ context.Context, cfg *models.TenantToolConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tenants[cfg.TenantID]
	if !ok {
		return fmt.Errorf("tenant %s: %w", cfg.TenantID, repositories.ErrNotFound)
	}
	settings, err := models.MergeToolConfig(t.Settings, cfg)
	if err != nil {
		return err
	}
	t.Settings = settings
	t.UpdatedAt = time.Now().UTC()
	r.tenants[cfg.TenantID] = t
	return nil
}

// NewRepositories wires a full in-memory repository set
func NewRepositories() *repositories.Repositories {
	return &repositories.Repositories{
		Tenants:       NewTenantRepository(),
		QuotaPolicies: NewQuotaPolicyRepository(),
		QuotaCounters: NewQuotaCounterStore(),
		Invocations:   NewInvocationRepository(),
	}
}
