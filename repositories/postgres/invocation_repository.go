package postgres

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/upb/tool-governance/models"
	"github.com/upb/tool-governance/repositories"
	"go.uber.org/zap"
)

// InvocationRepository implements the repositories.InvocationRepository interface.
// It exposes no update or delete.
type InvocationRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewInvocationRepository creates a new invocation repository
func NewInvocationRepository(db *DB, logger *zap.Logger) *InvocationRepository {
	return &InvocationRepository{
		db:     db,
		logger: logger,
	}
}

// Append inserts a record
func (r *InvocationRepository) Append(ctx context.Context, record *models.InvocationRecord) error {
	query := `
		INSERT INTO tool_invocations (
			id, tenant_id, tool_name, session_id, user_id, tool_input, tool_output,
			status, error_message, execution_time_ms, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	var output interface{}
	if len(record.Output) > 0 {
		output = sanitizeJSONB(record.Output)
	}

	errorMessage := record.ErrorMessage
	if errorMessage != nil && strings.ContainsRune(*errorMessage, 0) {
		cleaned := strings.ReplaceAll(*errorMessage, "\x00", "")
		errorMessage = &cleaned
	}

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		record.ID,
		record.TenantID,
		record.ToolName,
		record.SessionID,
		record.UserID,
		sanitizeJSONB(record.Input),
		output,
		string(record.Status),
		errorMessage,
		record.ExecutionTimeMs,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert invocation record: %w", err)
	}

	return nil
}

var nulEscape = []byte(`\u0000`)

// sanitizeJSONB drops \u0000 escapes, which JSONB refuses. An escaped backslash
// followed by u0000 is ordinary text and is kept.
func sanitizeJSONB(raw []byte) []byte {
	if !bytes.Contains(raw, nulEscape) {
		return raw
	}

	out := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		if raw[i] != '\\' || i+1 >= len(raw) {
			out = append(out, raw[i])
			continue
		}
		if bytes.HasPrefix(raw[i:], nulEscape) {
			i += len(nulEscape) - 1
			continue
		}
		out = append(out, raw[i], raw[i+1])
		i++
	}
	return out
}

// List retrieves a tenant's records matching filter, ordered by created_at
func (r *InvocationRepository) List(ctx context.Context, tenantID uuid.UUID, filter repositories.InvocationFilter, page repositories.Page) ([]*models.InvocationRecord, error) {
	page = page.Normalize()

	conditions := []string{"tenant_id = $1"}
	args := []interface{}{tenantID}

	if filter.ToolName != nil {
		args = append(args, *filter.ToolName)
		conditions = append(conditions, fmt.Sprintf("tool_name = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", len(args)))
	}

	order := "DESC"
	if page.Order == repositories.SortAsc {
		order = "ASC"
	}

	args = append(args, page.Limit, page.Offset)
	query := fmt.Sprintf(`
		SELECT id, tenant_id, tool_name, session_id, user_id, tool_input, tool_output,
		       status, error_message, execution_time_ms, created_at
		FROM tool_invocations
		WHERE %s
		ORDER BY created_at %s, id %s
		LIMIT $%d OFFSET $%d
	`, strings.Join(conditions, " AND "), order, order, len(args)-1, len(args))

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list invocation records: %w", err)
	}
	defer rows.Close()

	records := make([]*models.InvocationRecord, 0)
	for rows.Next() {
		rec := &models.InvocationRecord{}
		var sessionID, userID uuid.NullUUID
		var input, output []byte
		var status string
		var errMsg sql.NullString

		if err := rows.Scan(
			&rec.ID,
			&rec.TenantID,
			&rec.ToolName,
			&sessionID,
			&userID,
			&input,
			&output,
			&status,
			&errMsg,
			&rec.ExecutionTimeMs,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan invocation record: %w", err)
		}

		if sessionID.Valid {
			rec.SessionID = &sessionID.UUID
		}
		if userID.Valid {
			rec.UserID = &userID.UUID
		}
		if errMsg.Valid {
			rec.ErrorMessage = &errMsg.String
		}
		rec.Input = input
		if len(output) > 0 {
			rec.Output = output
		}
		rec.Status = models.InvocationStatus(status)

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating invocation records: %w", err)
	}

	return records, nil
}

// Stats aggregates a tenant's records by tool and status
func (r *InvocationRepository) Stats(ctx context.Context, tenantID uuid.UUID) (*models.InvocationStats, error) {
	query := `
		SELECT tool_name, status, COUNT(*)
		FROM tool_invocations
		WHERE tenant_id = $1
		GROUP BY tool_name, status
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate invocation records: %w", err)
	}
	defer rows.Close()

	stats := models.NewInvocationStats()
	for rows.Next() {
		var tool, status string
		var count int
		if err := rows.Scan(&tool, &status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan invocation stats: %w", err)
		}
		stats.Add(tool, models.InvocationStatus(status), count)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating invocation stats: %w", err)
	}

	return stats, nil
}
