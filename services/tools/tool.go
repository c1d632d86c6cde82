package tools

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/upb/tool-governance/models"
	"go.uber.org/zap"
)

// Tool is an external capability an agent may call
type Tool interface {
	// Name returns the stable tool identifier (e.g. "tavily_search")
	Name() string

	// Description tells the agent what the tool does
	Description() string

	// Execute runs the tool with JSON arguments and returns a JSON result
	Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error)
}

// ErrNotConfigured is returned by a Build func when the tool lacks what it needs to run
var ErrNotConfigured = errors.New("tool not configured")

// Error codes
const (
	CodeInvalidArgs = "INVALID_ARGS"
	CodeUpstream    = "UPSTREAM_ERROR"
	CodeHTTP        = "HTTP_ERROR"
	CodeEvaluation  = "EVALUATION_ERROR"
	CodeDecode      = "DECODE_ERROR"
)

// Error represents a failure inside a tool
type Error struct {
	// Tool that generated the error
	Tool string

	// Code is the error code
	Code string

	// Message is the error message
	Message string

	// StatusCode is the upstream HTTP status code (if applicable)
	StatusCode int

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Tool + ": " + e.Message + ": " + e.Cause.Error()
	}
	return e.Tool + ": " + e.Message
}

// Unwrap implements error unwrapping
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new tool error
func NewError(tool, code, message string, statusCode int, cause error) *Error {
	return &Error{
		Tool:       tool,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Cause:      cause,
	}
}

// IsInvalidArgs reports whether err was caused by bad arguments from the caller
func IsInvalidArgs(err error) bool {
	var toolErr *Error
	return errors.As(err, &toolErr) && toolErr.Code == CodeInvalidArgs
}

// PlatformDefaults are the operator-level fallbacks used when a tenant sets nothing
type PlatformDefaults struct {
	TavilyAPIKey  string
	TavilyBaseURL string
}

// BuildContext is everything a Definition needs to construct a tool for one tenant
type BuildContext struct {
	TenantID   uuid.UUID
	Settings   models.ToolSettings
	Defaults   PlatformDefaults
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Definition describes a built-in tool and how to construct it
type Definition struct {
	Name           string
	DisplayName    string
	Description    string
	DefaultEnabled bool
	DefaultTimeout time.Duration
	Build          func(BuildContext) (Tool, error)
}

// Builtins returns the platform tools in registration order
func Builtins() []Definition {
	return []Definition{
		{
			Name:           models.ToolTavilySearch,
			DisplayName:    "Web Search",
			Description:    tavilyDescription,
			DefaultEnabled: true,
			DefaultTimeout: 15 * time.Second,
			Build:          buildTavily,
		},
		{
			Name:           models.ToolLLMMath,
			DisplayName:    "Math",
			Description:    mathDescription,
			DefaultEnabled: true,
			DefaultTimeout: 5 * time.Second,
			Build:          buildMath,
		},
	}
}
