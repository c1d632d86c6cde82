// Package governance wraps tools so every call is quota checked, timed, audited and measured.
package governance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/upb/tool-governance/internal/observability"
	"github.com/upb/tool-governance/models"
	"github.com/upb/tool-governance/services"
	"github.com/upb/tool-governance/services/audit"
	"github.com/upb/tool-governance/services/tools"
	"go.uber.org/zap"
)

const (
	DefaultToolTimeout  = 30 * time.Second
	DefaultAuditTimeout = 5 * time.Second
)

// QuotaChecker admits or denies one call and counts it when admitted
type QuotaChecker interface {
	CheckAndReserve(ctx context.Context, tenantID uuid.UUID, tool string) (*models.QuotaDecision, error)
}

// Factory holds the collaborators shared by every governed tool
type Factory struct {
	quota          QuotaChecker
	sink           audit.Sink
	metrics        observability.Metrics
	logger         *zap.Logger
	now            func() time.Time
	defaultTimeout time.Duration
	auditTimeout   time.Duration
}

// NewFactory creates a Factory. A zero defaultTimeout means DefaultToolTimeout.
func NewFactory(quota QuotaChecker, sink audit.Sink, metrics observability.Metrics, logger *zap.Logger, defaultTimeout time.Duration) *Factory {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultToolTimeout
	}
	if metrics == nil {
		metrics = observability.NopMetrics{}
	}
	return &Factory{
		quota:          quota,
		sink:           sink,
		metrics:        metrics,
		logger:         logger,
		now:            time.Now,
		defaultTimeout: defaultTimeout,
		auditTimeout:   DefaultAuditTimeout,
	}
}

// WithClock replaces the time source
func (f *Factory) WithClock(now func() time.Time) *Factory {
	f.now = now
	return f
}

// DefaultTimeout is the timeout used when neither tenant nor definition set one
func (f *Factory) DefaultTimeout() time.Duration {
	return f.defaultTimeout
}

// Wrap binds tool to tenantID. A zero timeout means the factory default.
func (f *Factory) Wrap(tenantID uuid.UUID, tool tools.Tool, timeout time.Duration) *GovernedTool {
	if timeout <= 0 {
		timeout = f.defaultTimeout
	}
	return &GovernedTool{
		factory:  f,
		tenantID: tenantID,
		tool:     tool,
		timeout:  timeout,
	}
}

// GovernedTool is a tool bound to one tenant
type GovernedTool struct {
	factory  *Factory
	tenantID uuid.UUID
	tool     tools.Tool
	timeout  time.Duration
}

func (g *GovernedTool) Name() string           { return g.tool.Name() }
func (g *GovernedTool) Description() string    { return g.tool.Description() }
func (g *GovernedTool) TenantID() uuid.UUID    { return g.tenantID }
func (g *GovernedTool) Timeout() time.Duration { return g.timeout }

// InvokeRequest is one call from an agent
type InvokeRequest struct {
	Args      json.RawMessage
	SessionID *uuid.UUID
	UserID    *uuid.UUID
}

// InvokeResult is a successful call
type InvokeResult struct {
	RecordID uuid.UUID             `json:"record_id"`
	Output   json.RawMessage       `json:"output"`
	Duration time.Duration         `json:"-"`
	Quota    *models.QuotaDecision `json:"quota,omitempty"`
}

// TimeoutError reports a tool that did not finish in time
type TimeoutError struct {
	Tool  string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Tool, e.After)
}

func (e *TimeoutError) Unwrap() error {
	return context.DeadlineExceeded
}

// PanicError reports a tool that panicked
type PanicError struct {
	Tool  string
	Value interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%s panicked: %v", e.Tool, e.Value)
}

// Invoke runs the governed call: quota, execution under timeout, audit record, metrics.
// Quota reserved for a call is kept even when the call fails or times out.
func (g *GovernedTool) Invoke(ctx context.Context, req InvokeRequest) (*InvokeResult, error) {
	f := g.factory
	name := g.tool.Name()
	start := f.now()

	record := models.NewInvocationRecord(g.tenantID, name, req.Args).
		WithSession(req.SessionID).
		WithUser(req.UserID)
	record.CreatedAt = start.UTC()

	decision, err := f.quota.CheckAndReserve(ctx, g.tenantID, name)
	if err != nil {
		record.Failed(err.Error(), f.now().Sub(start))
		g.finish(ctx, record)
		return nil, err
	}

	if !decision.Allowed {
		record.Denied(decision.Reason)
		g.finish(ctx, record)

		count := decision.DayCount
		if decision.Violated == models.QuotaPeriodMonth {
			count = decision.MonthCount
		}
		return nil, services.NewQuotaExceededError(name, string(decision.Violated), decision.Limit(), count, decision.Reason)
	}

	output, err := g.execute(ctx, req.Args)
	elapsed := f.now().Sub(start)
	if err != nil {
		record.Failed(err.Error(), elapsed)
		g.finish(ctx, record)
		return nil, services.NewToolExecutionError(name, err)
	}

	record.Succeeded(output, elapsed)
	g.finish(ctx, record)

	return &InvokeResult{
		RecordID: record.ID,
		Output:   output,
		Duration: elapsed,
		Quota:    decision,
	}, nil
}

// execute runs the tool in its own goroutine so a tool that ignores ctx still times out
func (g *GovernedTool) execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	budget := effectiveTimeout(ctx, g.timeout)
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	type result struct {
		out json.RawMessage
		err error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- result{err: &PanicError{Tool: g.tool.Name(), Value: p}}
			}
		}()
		out, err := g.tool.Execute(ctx, args)
		done <- result{out: out, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &TimeoutError{Tool: g.tool.Name(), After: budget}
		}
		return r.out, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &TimeoutError{Tool: g.tool.Name(), After: budget}
		}
		return nil, ctx.Err()
	}
}

// effectiveTimeout is the time the call actually gets: the tool timeout or
// whatever is left of an earlier caller deadline
func effectiveTimeout(ctx context.Context, timeout time.Duration) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			return max(remaining, 0)
		}
	}
	return timeout
}

// finish writes the audit record and the metric sample. Neither can change the
// outcome of the call.
func (g *GovernedTool) finish(ctx context.Context, record *models.InvocationRecord) {
	f := g.factory
	tenant := record.TenantID.String()
	elapsed := time.Duration(record.ExecutionTimeMs) * time.Millisecond

	g.safely("metrics", func() {
		f.metrics.RecordInvocation(tenant, record.ToolName, string(record.Status))
		f.metrics.ObserveDuration(tenant, record.ToolName, elapsed)
	})

	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.auditTimeout)
	defer cancel()

	var err error
	if !g.safely("audit", func() { err = f.sink.Append(auditCtx, record) }) {
		err = errors.New("audit sink panicked")
	}
	if err == nil {
		return
	}

	if !services.IsAuditPersistenceError(err) {
		err = services.NewAuditPersistenceError(err)
	}
	f.logger.Error("invocation record not persisted",
		zap.Error(err),
		zap.String("record_id", record.ID.String()),
		zap.String("tenant_id", tenant),
		zap.String("tool", record.ToolName),
		zap.String("status", string(record.Status)))
	g.safely("metrics", func() {
		f.metrics.RecordAuditFailure(tenant, record.ToolName)
	})
}

// safely runs fn and reports false if it panicked
func (g *GovernedTool) safely(component string, fn func()) (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			ok = false
			g.factory.logger.Error("recovered panic in governance hook",
				zap.String("component", component),
				zap.String("tool", g.tool.Name()),
				zap.Any("panic", p))
		}
	}()
	fn()
	return true
}
