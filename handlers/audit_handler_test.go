package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/tool-governance/models"
	"github.com/upb/tool-governance/repositories"
	"github.com/upb/tool-governance/services/tools"
)

func seedRecord(t *testing.T, fx *fixture, tool string, status models.InvocationStatus, at time.Time) {
	t.Helper()
	rec := models.NewInvocationRecord(fx.tenantID, tool, json.RawMessage(`{}`))
	switch status {
	case models.InvocationStatusSuccess:
		rec.Succeeded(json.RawMessage(`{"ok":true}`), 10*time.Millisecond)
	case models.InvocationStatusError:
		rec.Failed("boom", 10*time.Millisecond)
	case models.InvocationStatusDenied:
		rec.Denied("daily limit reached")
	}
	rec.CreatedAt = at
	require.NoError(t, fx.invocations.Append(context.Background(), rec))
}

func TestHandleListInvocations(t *testing.T) {
	fx := newFixture(t, tools.PlatformDefaults{})
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	seedRecord(t, fx, models.ToolLLMMath, models.InvocationStatusSuccess, base)
	seedRecord(t, fx, models.ToolLLMMath, models.InvocationStatusDenied, base.Add(time.Hour))
	seedRecord(t, fx, models.ToolTavilySearch, models.InvocationStatusError, base.AddDate(0, 0, 1))

	other := models.NewInvocationRecord(uuid.New(), models.ToolLLMMath, json.RawMessage(`{}`)).Succeeded(nil, 0)
	require.NoError(t, fx.invocations.Append(context.Background(), other))

	list := func(t *testing.T, query string) InvocationListResponse {
		t.Helper()
		w := fx.do(t, http.MethodGet, "/audit/invocations"+query, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var resp InvocationListResponse
		data(t, w, &resp)
		return resp
	}

	t.Run("default newest first", func(t *testing.T) {
		resp := list(t, "")
		require.Len(t, resp.Records, 3)
		assert.Equal(t, models.ToolTavilySearch, resp.Records[0].ToolName)
		assert.Equal(t, repositories.SortDesc, resp.Order)
		assert.Equal(t, repositories.DefaultPageLimit, resp.Limit)
	})

	t.Run("filter by tool and status", func(t *testing.T) {
		resp := list(t, "?tool=llm_math&status=denied")
		require.Len(t, resp.Records, 1)
		assert.Equal(t, models.InvocationStatusDenied, resp.Records[0].Status)
	})

	t.Run("date range with inclusive end day", func(t *testing.T) {
		resp := list(t, "?from=2026-03-10&to=2026-03-10&order=asc")
		require.Len(t, resp.Records, 2)
		assert.Equal(t, models.InvocationStatusSuccess, resp.Records[0].Status)
	})

	t.Run("rfc3339 bounds", func(t *testing.T) {
		resp := list(t, "?from=2026-03-10T12:30:00Z")
		assert.Len(t, resp.Records, 2)
	})

	t.Run("pagination", func(t *testing.T) {
		resp := list(t, "?limit=1&offset=1&order=asc")
		require.Len(t, resp.Records, 1)
		assert.Equal(t, models.InvocationStatusDenied, resp.Records[0].Status)
	})

	t.Run("limit capped", func(t *testing.T) {
		assert.Equal(t, repositories.MaxPageLimit, list(t, "?limit=100000").Limit)
	})

	for _, query := range []string{
		"?status=pending",
		"?tool=Bad%20Name",
		"?from=yesterday",
		"?from=2026-03-11&to=2026-03-10",
		"?limit=-1",
		"?offset=abc",
		"?order=random",
	} {
		t.Run("rejects "+query, func(t *testing.T) {
			w := fx.do(t, http.MethodGet, "/audit/invocations"+query, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestParseInvocationQuery_DateOnlyTo(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/audit/invocations?to=2026-02-28", nil)
	filter, page, err := parseInvocationQuery(r)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), *filter.To)
	assert.Nil(t, filter.From)
	assert.Equal(t, repositories.SortDesc, page.Order)
}
