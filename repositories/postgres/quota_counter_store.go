package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/upb/tool-governance/models"
	"github.com/upb/tool-governance/repositories"
	"go.uber.org/zap"
)

// QuotaCounterStore keeps counters in tool_quota_counters. The row lock taken by
// SELECT ... FOR UPDATE is the serialization point for a (tenant, tool) key across
// every process sharing the database; other keys never wait on it.
type QuotaCounterStore struct {
	db     *DB
	txMgr  repositories.TransactionManager
	logger *zap.Logger
}

// NewQuotaCounterStore creates a new Postgres-backed counter store
func NewQuotaCounterStore(db *DB, txMgr repositories.TransactionManager, logger *zap.Logger) *QuotaCounterStore {
	return &QuotaCounterStore{
		db:     db,
		txMgr:  txMgr,
		logger: logger,
	}
}

// Reserve seeds the row if missing, locks it, rolls it forward, checks and increments
func (s *QuotaCounterStore) Reserve(ctx context.Context, policy *models.QuotaPolicy, now time.Time) (*models.QuotaDecision, error) {
	var decision *models.QuotaDecision

	err := s.txMgr.InTransaction(ctx, func(ctx context.Context, _ repositories.Transaction) error {
		executor := GetExecutor(ctx, s.db)

		seed := `
			INSERT INTO tool_quota_counters
				(tenant_id, tool_name, day_count, month_count, day_window_start, month_window_start, updated_at)
			VALUES ($1, $2, 0, 0, $3, $4, $5)
			ON CONFLICT (tenant_id, tool_name) DO NOTHING
		`
		if _, err := executor.ExecContext(ctx, seed,
			policy.TenantID,
			policy.ToolName,
			dateParam(models.DayStart(now)),
			dateParam(models.MonthStart(now)),
			now.UTC(),
		); err != nil {
			return fmt.Errorf("failed to seed quota counter: %w", err)
		}

		lock := `
			SELECT tenant_id, tool_name, day_count, month_count, day_window_start, month_window_start, updated_at
			FROM tool_quota_counters
			WHERE tenant_id = $1 AND tool_name = $2
			FOR UPDATE
		`
		counter, err := scanCounter(executor.QueryRowContext(ctx, lock, policy.TenantID, policy.ToolName))
		if err != nil {
			return fmt.Errorf("failed to lock quota counter: %w", err)
		}

		rolled := counter.RollForward(now)
		decision = counter.Reserve(policy, now)
		if !decision.Allowed && !rolled {
			return nil
		}

		update := `
			UPDATE tool_quota_counters
			SET day_count = $3, month_count = $4, day_window_start = $5, month_window_start = $6, updated_at = $7
			WHERE tenant_id = $1 AND tool_name = $2
		`
		if _, err := executor.ExecContext(ctx, update,
			counter.TenantID,
			counter.ToolName,
			counter.DayCount,
			counter.MonthCount,
			dateParam(counter.DayWindowStart),
			dateParam(counter.MonthWindowStart),
			now.UTC(),
		); err != nil {
			return fmt.Errorf("failed to update quota counter: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return decision, nil
}

// Get returns the counter rolled forward in memory only
func (s *QuotaCounterStore) Get(ctx context.Context, tenantID uuid.UUID, toolName string, now time.Time) (*models.QuotaCounter, error) {
	query := `
		SELECT tenant_id, tool_name, day_count, month_count, day_window_start, month_window_start, updated_at
		FROM tool_quota_counters
		WHERE tenant_id = $1 AND tool_name = $2
	`

	executor := GetExecutor(ctx, s.db)
	counter, err := scanCounter(executor.QueryRowContext(ctx, query, tenantID, toolName))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get quota counter: %w", err)
	}

	counter.RollForward(now)
	return counter, nil
}

func scanCounter(row rowScanner) (*models.QuotaCounter, error) {
	c := &models.QuotaCounter{}
	if err := row.Scan(
		&c.TenantID,
		&c.ToolName,
		&c.DayCount,
		&c.MonthCount,
		&c.DayWindowStart,
		&c.MonthWindowStart,
		&c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	// DATE columns come back at midnight in the session zone; windows are UTC dates
	c.DayWindowStart = asUTCDate(c.DayWindowStart)
	c.MonthWindowStart = asUTCDate(c.MonthWindowStart)
	return c, nil
}

func asUTCDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// dateParam sends DATE values as literals so the session time zone cannot shift them
func dateParam(t time.Time) string {
	return t.Format("2006-01-02")
}
