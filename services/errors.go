package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound         ErrorType = "not_found"
	ErrorTypeValidation       ErrorType = "validation"
	ErrorTypeUnauthorized     ErrorType = "unauthorized"
	ErrorTypeForbidden        ErrorType = "forbidden"
	ErrorTypeConflict         ErrorType = "conflict"
	ErrorTypeInternal         ErrorType = "internal"
	ErrorTypeQuotaExceeded    ErrorType = "quota_exceeded"
	ErrorTypeToolExecution    ErrorType = "tool_execution"
	ErrorTypeAuditPersistence ErrorType = "audit_persistence"
	ErrorTypeConfiguration    ErrorType = "configuration"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Domain error variables. These are sentinels for errors.Is; build fresh errors with the
// constructors below when details are needed.

var (
	// Not Found Errors
	ErrTenantNotFound      = NewDomainError(ErrorTypeNotFound, "tenant not found", nil)
	ErrToolNotAvailable    = NewDomainError(ErrorTypeNotFound, "tool not available for tenant", nil)
	ErrQuotaPolicyNotFound = NewDomainError(ErrorTypeNotFound, "quota policy not found", nil)

	// Validation Errors
	ErrInvalidToolArgs  = NewDomainError(ErrorTypeValidation, "invalid tool arguments", nil)
	ErrInvalidDateRange = NewDomainError(ErrorTypeValidation, "invalid date range", nil)

	// Authorization Errors
	ErrUnauthorized = NewDomainError(ErrorTypeUnauthorized, "unauthorized", nil)
	ErrInvalidToken = NewDomainError(ErrorTypeUnauthorized, "invalid authentication token", nil)

	// Permission Errors
	ErrInsufficientPermissions = NewDomainError(ErrorTypeForbidden, "insufficient permissions", nil)

	// Conflict Errors
	ErrConcurrentUpdate = NewDomainError(ErrorTypeConflict, "concurrent update detected", nil)

	// Governance Errors
	ErrQuotaExceeded    = NewDomainError(ErrorTypeQuotaExceeded, "tool quota exceeded", nil)
	ErrToolExecution    = NewDomainError(ErrorTypeToolExecution, "tool execution failed", nil)
	ErrAuditPersistence = NewDomainError(ErrorTypeAuditPersistence, "audit record could not be persisted", nil)
)

// NewQuotaExceededError reports a call rejected before execution
func NewQuotaExceededError(tool, period string, limit *int, count int, reason string) *DomainError {
	err := NewDomainError(ErrorTypeQuotaExceeded, reason, nil).
		WithDetail("tool", tool).
		WithDetail("period", period).
		WithDetail("count", count)
	if limit != nil {
		err.WithDetail("limit", *limit)
	}
	return err
}

// NewToolExecutionError wraps the underlying tool failure so errors.Is/As still reach it
func NewToolExecutionError(tool string, cause error) *DomainError {
	return NewDomainError(ErrorTypeToolExecution, fmt.Sprintf("tool %s failed", tool), cause).
		WithDetail("tool", tool)
}

// NewAuditPersistenceError wraps a failed audit write
func NewAuditPersistenceError(cause error) *DomainError {
	return NewDomainError(ErrorTypeAuditPersistence, "failed to persist invocation record", cause)
}

// NewConfigurationError reports a tool the tenant cannot use as configured
func NewConfigurationError(tool, message string) *DomainError {
	return NewDomainError(ErrorTypeConfiguration, message, nil).WithDetail("tool", tool)
}

// Error type checking helper functions

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return GetErrorType(err) == ErrorTypeNotFound
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return GetErrorType(err) == ErrorTypeValidation
}

// IsUnauthorizedError checks if an error is an unauthorized error
func IsUnauthorizedError(err error) bool {
	return GetErrorType(err) == ErrorTypeUnauthorized
}

// IsForbiddenError checks if an error is a forbidden error
func IsForbiddenError(err error) bool {
	return GetErrorType(err) == ErrorTypeForbidden
}

// IsConflictError checks if an error is a conflict error
func IsConflictError(err error) bool {
	return GetErrorType(err) == ErrorTypeConflict
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	return GetErrorType(err) == ErrorTypeInternal
}

// IsQuotaExceededError checks if a call was denied by quota
func IsQuotaExceededError(err error) bool {
	return GetErrorType(err) == ErrorTypeQuotaExceeded
}

// IsToolExecutionError checks if the underlying tool failed or timed out
func IsToolExecutionError(err error) bool {
	return GetErrorType(err) == ErrorTypeToolExecution
}

// IsAuditPersistenceError checks if an audit write failed
func IsAuditPersistenceError(err error) bool {
	return GetErrorType(err) == ErrorTypeAuditPersistence
}

// IsConfigurationError checks if a tool lacks usable configuration
func IsConfigurationError(err error) bool {
	return GetErrorType(err) == ErrorTypeConfiguration
}

// GetErrorType returns the ErrorType of the outermost domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}
