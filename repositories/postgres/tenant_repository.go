package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/upb/tool-governance/models"
	"github.com/upb/tool-governance/repositories"
	"go.uber.org/zap"
)

// TenantRepository implements the repositories.TenantRepository interface
type TenantRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewTenantRepository creates a new tenant repository
func NewTenantRepository(db *DB, logger *zap.Logger) *TenantRepository {
	return &TenantRepository{
		db:     db,
		logger: logger,
	}
}

// Create creates a new tenant
func (r *TenantRepository) Create(ctx context.Context, tenant *models.Tenant) error {
	query := `
		INSERT INTO tenants (id, name, slug, settings, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	settings := tenant.Settings
	if len(settings) == 0 {
		settings = json.RawMessage(`{}`)
	}

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		tenant.ID,
		tenant.Name,
		tenant.Slug,
		[]byte(settings),
		tenant.CreatedAt,
		tenant.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create tenant: %w", err)
	}

	r.logger.Debug("tenant created", zap.String("id", tenant.ID.String()), zap.String("slug", tenant.Slug))
	return nil
}

// GetByID retrieves a tenant by ID
func (r *TenantRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	query := `
		SELECT id, name, slug, settings, created_at, updated_at
		FROM tenants
		WHERE id = $1
	`

	executor := GetExecutor(ctx, r.db)
	tenant := &models.Tenant{}
	var settings []byte

	err := executor.QueryRowContext(ctx, query, id).Scan(
		&tenant.ID,
		&tenant.Name,
		&tenant.Slug,
		&settings,
		&tenant.CreatedAt,
		&tenant.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("tenant %s: %w", id, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	tenant.Settings = settings

	return tenant, nil
}

// GetToolConfig decodes the tenant's tool configuration from its settings document
func (r *TenantRepository) GetToolConfig(ctx context.Context, tenantID uuid.UUID) (*models.TenantToolConfig, error) {
	query := `SELECT settings FROM tenants WHERE id = $1`

	executor := GetExecutor(ctx, r.db)
	var settings []byte
	if err := executor.QueryRowContext(ctx, query, tenantID).Scan(&settings); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("tenant %s: %w", tenantID, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get tenant settings: %w", err)
	}

	return models.ParseTenantToolConfig(tenantID, settings)
}

// UpdateToolConfig replaces settings->'tools' in one statement and drops the legacy flat keys,
// so concurrent writers to other settings keys are not clobbered.
func (r *TenantRepository) UpdateToolConfig(ctx context.Context, cfg *models.TenantToolConfig) error {
	query := `
		UPDATE tenants
		SET settings = (settings - 'enable_search' - 'enable_math' - 'tavily_api_key')
		               || jsonb_build_object('tools', $2::jsonb),
		    updated_at = $3
		WHERE id = $1
	`

	tools, err := json.Marshal(cfg.Tools)
	if err != nil {
		return fmt.Errorf("failed to encode tool settings: %w", err)
	}

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, cfg.TenantID, string(tools), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update tool settings: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("tenant %s: %w", cfg.TenantID, repositories.ErrNotFound)
	}

	r.logger.Debug("tenant tool config updated", zap.String("tenant_id", cfg.TenantID.String()))
	return nil
}
