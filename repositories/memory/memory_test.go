package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/tool-governance/models"
	"github.com/upb/tool-governance/repositories"
)

func intPtr(v int) *int { return &v }

func TestQuotaCounterStore_ConcurrentReserveNeverOvershoots(t *testing.T) {
	store := NewQuotaCounterStore()
	policy := models.NewQuotaPolicy(uuid.New(), models.ToolLLMMath, intPtr(10), nil)
	now := time.Now()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := store.Reserve(context.Background(), policy, now)
			if !assert.NoError(t, err) {
				return
			}
			if d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, allowed)
	c, err := store.Get(context.Background(), policy.TenantID, policy.ToolName, now)
	require.NoError(t, err)
	assert.Equal(t, 10, c.DayCount)
}

func TestQuotaCounterStore_GetDoesNotPersistRollover(t *testing.T) {
	store := NewQuotaCounterStore()
	policy := models.NewQuotaPolicy(uuid.New(), models.ToolLLMMath, intPtr(1), nil)
	day1 := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	_, err := store.Reserve(context.Background(), policy, day1)
	require.NoError(t, err)

	c, err := store.Get(context.Background(), policy.TenantID, policy.ToolName, day1.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 0, c.DayCount)
	assert.Equal(t, 1, c.MonthCount)

	again, err := store.Reserve(context.Background(), policy, day1)
	require.NoError(t, err)
	assert.False(t, again.Allowed, "reading ahead must not reset the stored counter")
}

func TestQuotaCounterStore_GetUnknownKey(t *testing.T) {
	c, err := NewQuotaCounterStore().Get(context.Background(), uuid.New(), models.ToolLLMMath, time.Now())
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestInvocationRepository_ListFiltersAndPaginates(t *testing.T) {
	repo := NewInvocationRepository()
	ctx := context.Background()
	tenantID := uuid.New()
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		rec := models.NewInvocationRecord(tenantID, models.ToolLLMMath, nil).Succeeded(nil, time.Millisecond)
		rec.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, repo.Append(ctx, rec))
	}
	other := models.NewInvocationRecord(uuid.New(), models.ToolLLMMath, nil).Succeeded(nil, 0)
	require.NoError(t, repo.Append(ctx, other))

	to := base.Add(4 * time.Minute)
	records, err := repo.List(ctx, tenantID, repositories.InvocationFilter{To: &to}, repositories.Page{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, base.Add(2*time.Minute), records[0].CreatedAt)
	assert.Equal(t, base.Add(time.Minute), records[1].CreatedAt)

	records, err = repo.List(ctx, tenantID, repositories.InvocationFilter{}, repositories.Page{Order: repositories.SortAsc, Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, records)

	stats, err := repo.Stats(ctx, tenantID)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.TotalCalls)
}

func TestTenantRepository_UpdateToolConfigKeepsOtherSettings(t *testing.T) {
	repo := NewTenantRepository()
	ctx := context.Background()

	tenant := models.NewTenant("Acme", "acme")
	tenant.Settings = []byte(`{"theme":"dark","enable_math":false}`)
	require.NoError(t, repo.Create(ctx, tenant))

	cfg, err := repo.GetToolConfig(ctx, tenant.ID)
	require.NoError(t, err)
	assert.False(t, cfg.IsEnabled(models.ToolLLMMath, true))

	cfg.SetEnabled(models.ToolLLMMath, true)
	require.NoError(t, repo.UpdateToolConfig(ctx, cfg))

	stored, err := repo.GetByID(ctx, tenant.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"theme":"dark","tools":{"llm_math":{"enabled":true}}}`, string(stored.Settings))

	err = repo.UpdateToolConfig(ctx, models.NewTenantToolConfig(uuid.New()))
	assert.True(t, errors.Is(err, repositories.ErrNotFound))
}

func TestQuotaPolicyRepository_UpsertKeepsCreatedAt(t *testing.T) {
	repo := NewQuotaPolicyRepository()
	ctx := context.Background()
	tenantID := uuid.New()

	first := models.NewQuotaPolicy(tenantID, models.ToolTavilySearch, intPtr(1), nil)
	require.NoError(t, repo.Upsert(ctx, first))

	second := models.NewQuotaPolicy(tenantID, models.ToolTavilySearch, intPtr(5), nil)
	second.CreatedAt = first.CreatedAt.Add(time.Hour)
	require.NoError(t, repo.Upsert(ctx, second))

	got, err := repo.Get(ctx, tenantID, models.ToolTavilySearch)
	require.NoError(t, err)
	assert.Equal(t, 5, *got.MaxCallsPerDay)
	assert.Equal(t, first.CreatedAt, got.CreatedAt)

	require.NoError(t, repo.Delete(ctx, tenantID, models.ToolTavilySearch))
	assert.True(t, errors.Is(repo.Delete(ctx, tenantID, models.ToolTavilySearch), repositories.ErrNotFound))
}
