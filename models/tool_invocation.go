package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// InvocationStatus represents the outcome of a governed tool call
type InvocationStatus string

const (
	InvocationStatusSuccess InvocationStatus = "success"
	InvocationStatusError   InvocationStatus = "error"
	InvocationStatusDenied  InvocationStatus = "denied"
)

// IsValid checks if the status is one of the known outcomes
func (s InvocationStatus) IsValid() bool {
	switch s {
	case InvocationStatusSuccess, InvocationStatusError, InvocationStatusDenied:
		return true
	}
	return false
}

// InvocationRecord is the audit entry for one invocation attempt.
// Records are written once and never updated.
type InvocationRecord struct {
	ID              uuid.UUID        `json:"id" db:"id"`
	TenantID        uuid.UUID        `json:"tenant_id" db:"tenant_id"`
	ToolName        string           `json:"tool_name" db:"tool_name"`
	SessionID       *uuid.UUID       `json:"session_id,omitempty" db:"session_id"`
	UserID          *uuid.UUID       `json:"user_id,omitempty" db:"user_id"`
	Input           json.RawMessage  `json:"input" db:"tool_input"`
	Output          json.RawMessage  `json:"output,omitempty" db:"tool_output"`
	Status          InvocationStatus `json:"status" db:"status"`
	ErrorMessage    *string          `json:"error_message,omitempty" db:"error_message"`
	ExecutionTimeMs int64            `json:"execution_time_ms" db:"execution_time_ms"`
	CreatedAt       time.Time        `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the InvocationRecord model
func (InvocationRecord) TableName() string {
	return "tool_invocations"
}

// NewInvocationRecord creates a record for one attempt against tool on behalf of tenantID
func NewInvocationRecord(tenantID uuid.UUID, toolName string, input json.RawMessage) *InvocationRecord {
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	return &InvocationRecord{
		ID:        uuid.New(),
		TenantID:  tenantID,
		ToolName:  toolName,
		Input:     input,
		CreatedAt: time.Now().UTC(),
	}
}

// WithSession sets the chat session ID
func (r *InvocationRecord) WithSession(sessionID *uuid.UUID) *InvocationRecord {
	r.SessionID = sessionID
	return r
}

// WithUser sets the user ID
func (r *InvocationRecord) WithUser(userID *uuid.UUID) *InvocationRecord {
	r.UserID = userID
	return r
}

// Succeeded marks the record as a successful call
func (r *InvocationRecord) Succeeded(output json.RawMessage, elapsed time.Duration) *InvocationRecord {
	r.Status = InvocationStatusSuccess
	r.Output = output
	r.ExecutionTimeMs = elapsed.Milliseconds()
	return r
}

// Failed marks the record as a failed or timed out call
func (r *InvocationRecord) Failed(message string, elapsed time.Duration) *InvocationRecord {
	r.Status = InvocationStatusError
	r.ErrorMessage = &message
	r.ExecutionTimeMs = elapsed.Milliseconds()
	return r
}

// Denied marks the record as rejected by quota. Denied calls never ran, so their time is zero.
func (r *InvocationRecord) Denied(reason string) *InvocationRecord {
	r.Status = InvocationStatusDenied
	r.ErrorMessage = &reason
	r.ExecutionTimeMs = 0
	return r
}

// InvocationStats aggregates a tenant's audit trail for reporting
type InvocationStats struct {
	TotalCalls  int            `json:"total_calls"`
	ByTool      map[string]int `json:"by_tool"`
	ByStatus    map[string]int `json:"by_status"`
	SuccessRate float64        `json:"success_rate"`
}

// NewInvocationStats creates empty stats
func NewInvocationStats() *InvocationStats {
	return &InvocationStats{
		ByTool:   make(map[string]int),
		ByStatus: make(map[string]int),
	}
}

// Add folds count calls of tool with status into the stats
func (s *InvocationStats) Add(tool string, status InvocationStatus, count int) {
	s.TotalCalls += count
	s.ByTool[tool] += count
	s.ByStatus[string(status)] += count
	s.recompute()
}

func (s *InvocationStats) recompute() {
	if s.TotalCalls == 0 {
		s.SuccessRate = 0
		return
	}
	s.SuccessRate = float64(s.ByStatus[string(InvocationStatusSuccess)]) / float64(s.TotalCalls)
}
