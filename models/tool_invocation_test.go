package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestNewInvocationRecord(t *testing.T) {
	tenantID := uuid.New()
	sessionID := uuid.New()

	rec := NewInvocationRecord(tenantID, ToolLLMMath, nil).WithSession(&sessionID)

	assert.NotEqual(t, uuid.Nil, rec.ID)
	assert.Equal(t, tenantID, rec.TenantID)
	assert.Equal(t, &sessionID, rec.SessionID)
	assert.Nil(t, rec.UserID)
	assert.JSONEq(t, `{}`, string(rec.Input))
	assert.Equal(t, time.UTC, rec.CreatedAt.Location())
	assert.Equal(t, "tool_invocations", rec.TableName())
}

func TestInvocationRecord_Outcomes(t *testing.T) {
	input := json.RawMessage(`{"expression":"2+2"}`)

	t.Run("success", func(t *testing.T) {
		rec := NewInvocationRecord(uuid.New(), ToolLLMMath, input).
			Succeeded(json.RawMessage(`"4"`), 42*time.Millisecond)
		assert.Equal(t, InvocationStatusSuccess, rec.Status)
		assert.Equal(t, int64(42), rec.ExecutionTimeMs)
		assert.Nil(t, rec.ErrorMessage)
	})

	t.Run("error", func(t *testing.T) {
		rec := NewInvocationRecord(uuid.New(), ToolLLMMath, input).Failed("boom", 2*time.Second)
		assert.Equal(t, InvocationStatusError, rec.Status)
		assert.Equal(t, "boom", *rec.ErrorMessage)
		assert.Equal(t, int64(2000), rec.ExecutionTimeMs)
	})

	t.Run("denied", func(t *testing.T) {
		rec := NewInvocationRecord(uuid.New(), ToolLLMMath, input).Denied("daily limit")
		assert.Equal(t, InvocationStatusDenied, rec.Status)
		assert.Equal(t, int64(0), rec.ExecutionTimeMs)
		assert.Nil(t, rec.Output)
	})
}

func TestInvocationStatus_IsValid(t *testing.T) {
	assert.True(t, InvocationStatusDenied.IsValid())
	assert.False(t, InvocationStatus("pending").IsValid())
}

func TestInvocationStats(t *testing.T) {
	stats := NewInvocationStats()
	assert.Equal(t, 0.0, stats.SuccessRate)

	stats.Add(ToolLLMMath, InvocationStatusSuccess, 3)
	stats.Add(ToolLLMMath, InvocationStatusError, 1)
	stats.Add(ToolTavilySearch, InvocationStatusDenied, 4)

	assert.Equal(t, 8, stats.TotalCalls)
	assert.Equal(t, 4, stats.ByTool[ToolLLMMath])
	assert.Equal(t, 4, stats.ByStatus["denied"])
	assert.InDelta(t, 0.375, stats.SuccessRate, 1e-9)
}
