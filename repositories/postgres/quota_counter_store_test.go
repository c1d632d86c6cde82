package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/tool-governance/models"
	"go.uber.org/zap"
)

var counterColumns = []string{
	"tenant_id", "tool_name", "day_count", "month_count", "day_window_start", "month_window_start", "updated_at",
}

func newCounterStore(t *testing.T) (*QuotaCounterStore, sqlmock.Sqlmock) {
	db, mock := newMockDB(t)
	return NewQuotaCounterStore(db, NewTransactionManager(db, zap.NewNop()), zap.NewNop()), mock
}

func TestQuotaCounterStore_Reserve(t *testing.T) {
	tenantID := uuid.New()
	now := time.Date(2026, 5, 10, 15, 30, 0, 0, time.UTC)
	day := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)
	month := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	t.Run("admits and increments under row lock", func(t *testing.T) {
		store, mock := newCounterStore(t)
		policy := models.NewQuotaPolicy(tenantID, "llm_math", intPtr(10), intPtr(100))

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO tool_quota_counters (.+) ON CONFLICT \\(tenant_id, tool_name\\) DO NOTHING").
			WithArgs(tenantID, "llm_math", "2026-05-10", "2026-05-01", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT (.+) FROM tool_quota_counters WHERE tenant_id = \\$1 AND tool_name = \\$2 FOR UPDATE").
			WithArgs(tenantID, "llm_math").
			WillReturnRows(sqlmock.NewRows(counterColumns).
				AddRow(tenantID.String(), "llm_math", 3, 40, day, month, now))
		mock.ExpectExec("UPDATE tool_quota_counters SET").
			WithArgs(tenantID, "llm_math", 4, 41, "2026-05-10", "2026-05-01", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		decision, err := store.Reserve(context.Background(), policy, now)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
		assert.Equal(t, 4, decision.DayCount)
		assert.Equal(t, 41, decision.MonthCount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("denied without rollover writes nothing", func(t *testing.T) {
		store, mock := newCounterStore(t)
		policy := models.NewQuotaPolicy(tenantID, "llm_math", intPtr(3), nil)

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO tool_quota_counters").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT (.+) FOR UPDATE").
			WillReturnRows(sqlmock.NewRows(counterColumns).
				AddRow(tenantID.String(), "llm_math", 3, 3, day, month, now))
		mock.ExpectCommit()

		decision, err := store.Reserve(context.Background(), policy, now)
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
		assert.Equal(t, models.QuotaPeriodDay, decision.Violated)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stale day window is rolled forward before the check", func(t *testing.T) {
		store, mock := newCounterStore(t)
		policy := models.NewQuotaPolicy(tenantID, "llm_math", intPtr(3), nil)
		yesterday := day.AddDate(0, 0, -1)

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO tool_quota_counters").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT (.+) FOR UPDATE").
			WillReturnRows(sqlmock.NewRows(counterColumns).
				AddRow(tenantID.String(), "llm_math", 3, 17, yesterday, month, yesterday))
		mock.ExpectExec("UPDATE tool_quota_counters SET").
			WithArgs(tenantID, "llm_math", 1, 18, "2026-05-10", "2026-05-01", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		decision, err := store.Reserve(context.Background(), policy, now)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
		assert.Equal(t, 1, decision.DayCount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("storage failure rolls back", func(t *testing.T) {
		store, mock := newCounterStore(t)
		policy := models.NewQuotaPolicy(tenantID, "llm_math", intPtr(3), nil)

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO tool_quota_counters").WillReturnError(errors.New("connection reset"))
		mock.ExpectRollback()

		decision, err := store.Reserve(context.Background(), policy, now)
		assert.Nil(t, decision)
		assert.ErrorContains(t, err, "failed to seed quota counter")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestQuotaCounterStore_Get(t *testing.T) {
	tenantID := uuid.New()
	now := time.Date(2026, 6, 2, 9, 0, 0, 0, time.UTC)

	t.Run("missing row", func(t *testing.T) {
		store, mock := newCounterStore(t)
		mock.ExpectQuery("SELECT (.+) FROM tool_quota_counters").
			WithArgs(tenantID, "tavily_search").
			WillReturnRows(sqlmock.NewRows(counterColumns))

		counter, err := store.Get(context.Background(), tenantID, "tavily_search", now)
		require.NoError(t, err)
		assert.Nil(t, counter)
	})

	t.Run("expired windows read as zero without a write", func(t *testing.T) {
		store, mock := newCounterStore(t)
		lastMonth := time.Date(2026, 5, 31, 0, 0, 0, 0, time.UTC)
		mock.ExpectQuery("SELECT (.+) FROM tool_quota_counters").
			WillReturnRows(sqlmock.NewRows(counterColumns).
				AddRow(tenantID.String(), "tavily_search", 5, 80, lastMonth, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), lastMonth))

		counter, err := store.Get(context.Background(), tenantID, "tavily_search", now)
		require.NoError(t, err)
		require.NotNil(t, counter)
		assert.Equal(t, 0, counter.DayCount)
		assert.Equal(t, 0, counter.MonthCount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
