package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/tool-governance/models"
	"github.com/upb/tool-governance/repositories"
	"go.uber.org/zap"
)

var invocationColumns = []string{
	"id", "tenant_id", "tool_name", "session_id", "user_id", "tool_input", "tool_output",
	"status", "error_message", "execution_time_ms", "created_at",
}

func TestInvocationRepository_Append(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewInvocationRepository(db, zap.NewNop())

	tenantID := uuid.New()
	record := models.NewInvocationRecord(tenantID, models.ToolLLMMath, json.RawMessage(`{"expression":"2+2"}`)).
		Succeeded(json.RawMessage(`{"result":4}`), 12*time.Millisecond)

	mock.ExpectExec("INSERT INTO tool_invocations").
		WithArgs(record.ID, tenantID, "llm_math", nil, nil,
			[]byte(`{"expression":"2+2"}`), []byte(`{"result":4}`),
			"success", nil, int64(12), record.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Append(context.Background(), record))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvocationRepository_Append_DeniedHasNoOutput(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewInvocationRepository(db, zap.NewNop())

	record := models.NewInvocationRecord(uuid.New(), models.ToolTavilySearch, nil).Denied("daily limit of 1 calls reached for tavily_search")

	mock.ExpectExec("INSERT INTO tool_invocations").
		WithArgs(record.ID, record.TenantID, "tavily_search", nil, nil,
			[]byte(`{}`), nil, "denied", "daily limit of 1 calls reached for tavily_search", int64(0), record.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Append(context.Background(), record))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvocationRepository_Append_StripsNulEscapes(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewInvocationRepository(db, zap.NewNop())

	record := models.NewInvocationRecord(uuid.New(), models.ToolTavilySearch, json.RawMessage(`{"query":"a\u0000b"}`)).
		Succeeded(json.RawMessage(`{"results":[{"content":"x\u0000y","path":"C:\\u0000"}]}`), 5*time.Millisecond)

	mock.ExpectExec("INSERT INTO tool_invocations").
		WithArgs(record.ID, record.TenantID, "tavily_search", nil, nil,
			[]byte(`{"query":"ab"}`), []byte(`{"results":[{"content":"xy","path":"C:\\u0000"}]}`),
			"success", nil, int64(5), record.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Append(context.Background(), record))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvocationRepository_Append_StripsNulFromErrorMessage(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewInvocationRepository(db, zap.NewNop())

	record := models.NewInvocationRecord(uuid.New(), models.ToolTavilySearch, nil).
		Failed("bad\x00 body", time.Millisecond)

	mock.ExpectExec("INSERT INTO tool_invocations").
		WithArgs(record.ID, record.TenantID, "tavily_search", nil, nil,
			[]byte(`{}`), nil, "error", "bad body", int64(1), record.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Append(context.Background(), record))
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, "bad\x00 body", *record.ErrorMessage, "record itself is untouched")
}

func TestSanitizeJSONB(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no escapes", `{"a":"b"}`, `{"a":"b"}`},
		{"nul escape", `{"a":"x\u0000y"}`, `{"a":"xy"}`},
		{"several", `["\u0000","\u0000\u0000z"]`, `["","z"]`},
		{"escaped backslash is text", `{"a":"\\u0000"}`, `{"a":"\\u0000"}`},
		{"backslash pair then nul", `{"a":"\\\u0000"}`, `{"a":"\\"}`},
		{"other unicode escape", `{"a":"\u0041\u0000"}`, `{"a":"\u0041"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizeJSONB([]byte(tt.in))
			assert.Equal(t, tt.want, string(got))
			assert.True(t, json.Valid(got))
		})
	}
}

func TestInvocationRepository_List(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewInvocationRepository(db, zap.NewNop())

	tenantID := uuid.New()
	sessionID := uuid.New()
	tool := models.ToolLLMMath
	status := models.InvocationStatusError
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	created := from.Add(time.Hour)

	mock.ExpectQuery("SELECT (.+) FROM tool_invocations WHERE tenant_id = \\$1 AND tool_name = \\$2 AND status = \\$3 AND created_at >= \\$4 ORDER BY created_at ASC, id ASC LIMIT \\$5 OFFSET \\$6").
		WithArgs(tenantID, tool, "error", from, 10, 20).
		WillReturnRows(sqlmock.NewRows(invocationColumns).
			AddRow(uuid.New().String(), tenantID.String(), tool, sessionID.String(), nil,
				[]byte(`{"expression":"1/0"}`), nil, "error", "division by zero", int64(3), created))

	records, err := repo.List(context.Background(), tenantID,
		repositories.InvocationFilter{ToolName: &tool, Status: &status, From: &from},
		repositories.Page{Limit: 10, Offset: 20, Order: repositories.SortAsc})
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	require.NotNil(t, rec.SessionID)
	assert.Equal(t, sessionID, *rec.SessionID)
	assert.Nil(t, rec.UserID)
	assert.Nil(t, rec.Output)
	require.NotNil(t, rec.ErrorMessage)
	assert.Equal(t, "division by zero", *rec.ErrorMessage)
	assert.Equal(t, models.InvocationStatusError, rec.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvocationRepository_List_DefaultsToNewestFirst(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewInvocationRepository(db, zap.NewNop())
	tenantID := uuid.New()

	mock.ExpectQuery("WHERE tenant_id = \\$1 ORDER BY created_at DESC, id DESC LIMIT \\$2 OFFSET \\$3").
		WithArgs(tenantID, repositories.DefaultPageLimit, 0).
		WillReturnRows(sqlmock.NewRows(invocationColumns))

	records, err := repo.List(context.Background(), tenantID, repositories.InvocationFilter{}, repositories.Page{})
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvocationRepository_Stats(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewInvocationRepository(db, zap.NewNop())
	tenantID := uuid.New()

	mock.ExpectQuery("SELECT tool_name, status, COUNT\\(\\*\\) FROM tool_invocations WHERE tenant_id = \\$1 GROUP BY tool_name, status").
		WithArgs(tenantID).
		WillReturnRows(sqlmock.NewRows([]string{"tool_name", "status", "count"}).
			AddRow("llm_math", "success", 6).
			AddRow("llm_math", "denied", 2).
			AddRow("tavily_search", "error", 2))

	stats, err := repo.Stats(context.Background(), tenantID)
	require.NoError(t, err)
	assert.Equal(t, 10, stats.TotalCalls)
	assert.Equal(t, 8, stats.ByTool["llm_math"])
	assert.Equal(t, 2, stats.ByStatus["denied"])
	assert.InDelta(t, 0.6, stats.SuccessRate, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}
