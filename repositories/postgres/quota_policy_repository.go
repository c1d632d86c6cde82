package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/upb/tool-governance/models"
	"github.com/upb/tool-governance/repositories"
	"go.uber.org/zap"
)

// QuotaPolicyRepository implements the repositories.QuotaPolicyRepository interface
type QuotaPolicyRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewQuotaPolicyRepository creates a new quota policy repository
func NewQuotaPolicyRepository(db *DB, logger *zap.Logger) *QuotaPolicyRepository {
	return &QuotaPolicyRepository{
		db:     db,
		logger: logger,
	}
}

// Get returns the policy for (tenant, tool), or nil when no row exists
func (r *QuotaPolicyRepository) Get(ctx context.Context, tenantID uuid.UUID, toolName string) (*models.QuotaPolicy, error) {
	query := `
		SELECT tenant_id, tool_name, max_calls_per_day, max_calls_per_month, created_at, updated_at
		FROM tool_quota_policies
		WHERE tenant_id = $1 AND tool_name = $2
	`

	executor := GetExecutor(ctx, r.db)
	policy, err := scanPolicy(executor.QueryRowContext(ctx, query, tenantID, toolName))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get quota policy: %w", err)
	}

	return policy, nil
}

// ListByTenant returns every policy of a tenant ordered by tool name
func (r *QuotaPolicyRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*models.QuotaPolicy, error) {
	query := `
		SELECT tenant_id, tool_name, max_calls_per_day, max_calls_per_month, created_at, updated_at
		FROM tool_quota_policies
		WHERE tenant_id = $1
		ORDER BY tool_name
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list quota policies: %w", err)
	}
	defer rows.Close()

	var policies []*models.QuotaPolicy
	for rows.Next() {
		policy, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan quota policy: %w", err)
		}
		policies = append(policies, policy)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating quota policies: %w", err)
	}

	return policies, nil
}

// Upsert creates or replaces a policy
func (r *QuotaPolicyRepository) Upsert(ctx context.Context, policy *models.QuotaPolicy) error {
	query := `
		INSERT INTO tool_quota_policies (tenant_id, tool_name, max_calls_per_day, max_calls_per_month, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, tool_name)
		DO UPDATE SET
			max_calls_per_day = EXCLUDED.max_calls_per_day,
			max_calls_per_month = EXCLUDED.max_calls_per_month,
			updated_at = EXCLUDED.updated_at
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		policy.TenantID,
		policy.ToolName,
		nullInt(policy.MaxCallsPerDay),
		nullInt(policy.MaxCallsPerMonth),
		policy.CreatedAt,
		policy.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert quota policy: %w", err)
	}

	r.logger.Debug("quota policy upserted",
		zap.String("tenant_id", policy.TenantID.String()),
		zap.String("tool", policy.ToolName))
	return nil
}

// Delete removes a policy
func (r *QuotaPolicyRepository) Delete(ctx context.Context, tenantID uuid.UUID, toolName string) error {
	query := `DELETE FROM tool_quota_policies WHERE tenant_id = $1 AND tool_name = $2`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, tenantID, toolName)
	if err != nil {
		return fmt.Errorf("failed to delete quota policy: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("quota policy %s/%s: %w", tenantID, toolName, repositories.ErrNotFound)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPolicy(row rowScanner) (*models.QuotaPolicy, error) {
	policy := &models.QuotaPolicy{}
	var perDay, perMonth sql.NullInt64

	if err := row.Scan(
		&policy.TenantID,
		&policy.ToolName,
		&perDay,
		&perMonth,
		&policy.CreatedAt,
		&policy.UpdatedAt,
	); err != nil {
		return nil, err
	}

	policy.MaxCallsPerDay = intFromNull(perDay)
	policy.MaxCallsPerMonth = intFromNull(perMonth)
	return policy, nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func intFromNull(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}
