package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// QuotaPeriod identifies which quota window a decision refers to
type QuotaPeriod string

const (
	QuotaPeriodDay   QuotaPeriod = "day"
	QuotaPeriodMonth QuotaPeriod = "month"
)

// QuotaPolicy holds the administrative limits for one (tenant, tool) pair.
// A nil limit means that window is unlimited.
type QuotaPolicy struct {
	TenantID         uuid.UUID `json:"tenant_id" db:"tenant_id"`
	ToolName         string    `json:"tool_name" db:"tool_name"`
	MaxCallsPerDay   *int      `json:"max_calls_per_day" db:"max_calls_per_day"`
	MaxCallsPerMonth *int      `json:"max_calls_per_month" db:"max_calls_per_month"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the QuotaPolicy model
func (QuotaPolicy) TableName() string {
	return "tool_quota_policies"
}

// NewQuotaPolicy creates a new QuotaPolicy instance
func NewQuotaPolicy(tenantID uuid.UUID, toolName string, perDay, perMonth *int) *QuotaPolicy {
	now := time.Now().UTC()
	return &QuotaPolicy{
		TenantID:         tenantID,
		ToolName:         toolName,
		MaxCallsPerDay:   perDay,
		MaxCallsPerMonth: perMonth,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// IsUnlimited reports whether neither window carries a limit
func (p *QuotaPolicy) IsUnlimited() bool {
	return p == nil || (p.MaxCallsPerDay == nil && p.MaxCallsPerMonth == nil)
}

// QuotaCounter is the per (tenant, tool) usage state for the current day and month windows.
type QuotaCounter struct {
	TenantID         uuid.UUID `json:"tenant_id" db:"tenant_id"`
	ToolName         string    `json:"tool_name" db:"tool_name"`
	DayCount         int       `json:"day_count" db:"day_count"`
	MonthCount       int       `json:"month_count" db:"month_count"`
	DayWindowStart   time.Time `json:"day_window_start" db:"day_window_start"`
	MonthWindowStart time.Time `json:"month_window_start" db:"month_window_start"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the QuotaCounter model
func (QuotaCounter) TableName() string {
	return "tool_quota_counters"
}

// NewQuotaCounter creates an empty counter whose windows start at now
func NewQuotaCounter(tenantID uuid.UUID, toolName string, now time.Time) *QuotaCounter {
	return &QuotaCounter{
		TenantID:         tenantID,
		ToolName:         toolName,
		DayWindowStart:   DayStart(now),
		MonthWindowStart: MonthStart(now),
		UpdatedAt:        now.UTC(),
	}
}

// DayStart truncates t to midnight UTC of its calendar date
func DayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// MonthStart truncates t to the first day of its calendar month in UTC
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// RollForward lazily resets any window that now has moved past.
// Day and month windows are reset independently. Window markers never move backwards,
// so a reading from a lagging clock leaves the counter untouched.
func (c *QuotaCounter) RollForward(now time.Time) bool {
	changed := false

	day := DayStart(now)
	if day.After(c.DayWindowStart) {
		c.DayCount = 0
		c.DayWindowStart = day
		changed = true
	}

	month := MonthStart(now)
	if month.After(c.MonthWindowStart) {
		c.MonthCount = 0
		c.MonthWindowStart = month
		changed = true
	}

	return changed
}

// Violation returns the exhausted period for policy, or "" when another call fits
func (c *QuotaCounter) Violation(policy *QuotaPolicy) QuotaPeriod {
	if policy == nil {
		return ""
	}
	if policy.MaxCallsPerDay != nil && c.DayCount >= *policy.MaxCallsPerDay {
		return QuotaPeriodDay
	}
	if policy.MaxCallsPerMonth != nil && c.MonthCount >= *policy.MaxCallsPerMonth {
		return QuotaPeriodMonth
	}
	return ""
}

// Reserve runs the check-then-increment step against an already locked counter.
// The counter is only incremented when the decision is Allowed.
func (c *QuotaCounter) Reserve(policy *QuotaPolicy, now time.Time) *QuotaDecision {
	c.RollForward(now)

	if period := c.Violation(policy); period != "" {
		return DeniedDecision(period, c, policy)
	}

	c.DayCount++
	c.MonthCount++
	c.UpdatedAt = now.UTC()

	return &QuotaDecision{
		Allowed:    true,
		DayCount:   c.DayCount,
		MonthCount: c.MonthCount,
		DayLimit:   policy.MaxCallsPerDay,
		MonthLimit: policy.MaxCallsPerMonth,
	}
}

// QuotaDecision is the outcome of a check-and-reserve call
type QuotaDecision struct {
	Allowed    bool        `json:"allowed"`
	Unlimited  bool        `json:"unlimited,omitempty"`
	Violated   QuotaPeriod `json:"violated,omitempty"`
	Reason     string      `json:"reason,omitempty"`
	DayCount   int         `json:"day_count"`
	DayLimit   *int        `json:"day_limit"`
	MonthCount int         `json:"month_count"`
	MonthLimit *int        `json:"month_limit"`
}

// UnlimitedDecision is returned for keys without any policy
func UnlimitedDecision() *QuotaDecision {
	return &QuotaDecision{Allowed: true, Unlimited: true}
}

// DeniedDecision builds a Denied decision for the exhausted period
func DeniedDecision(period QuotaPeriod, c *QuotaCounter, policy *QuotaPolicy) *QuotaDecision {
	d := &QuotaDecision{
		Allowed:    false,
		Violated:   period,
		DayCount:   c.DayCount,
		MonthCount: c.MonthCount,
		DayLimit:   policy.MaxCallsPerDay,
		MonthLimit: policy.MaxCallsPerMonth,
	}
	switch period {
	case QuotaPeriodDay:
		d.Reason = fmt.Sprintf("daily limit of %d calls reached for %s", *policy.MaxCallsPerDay, policy.ToolName)
	case QuotaPeriodMonth:
		d.Reason = fmt.Sprintf("monthly limit of %d calls reached for %s", *policy.MaxCallsPerMonth, policy.ToolName)
	}
	return d
}

// Limit returns the limit of the violated period, if any
func (d *QuotaDecision) Limit() *int {
	switch d.Violated {
	case QuotaPeriodDay:
		return d.DayLimit
	case QuotaPeriodMonth:
		return d.MonthLimit
	}
	return nil
}

// ToolUsage is the reporting view of one (tenant, tool) pair
type ToolUsage struct {
	DayCount   int  `json:"day_count"`
	DayLimit   *int `json:"day_limit"`
	MonthCount int  `json:"month_count"`
	MonthLimit *int `json:"month_limit"`
}

// DayRemaining returns the calls left today, or nil when the day window is unlimited
func (u ToolUsage) DayRemaining() *int {
	if u.DayLimit == nil {
		return nil
	}
	remaining := *u.DayLimit - u.DayCount
	if remaining < 0 {
		remaining = 0
	}
	return &remaining
}

// UsageSummary maps tool name to usage for a single tenant
type UsageSummary map[string]ToolUsage
