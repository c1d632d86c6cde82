package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// Error codes clients can branch on
const (
	CodeBadRequest    = "bad_request"
	CodeUnauthorized  = "unauthorized"
	CodeForbidden     = "forbidden"
	CodeNotFound      = "not_found"
	CodeConflict      = "conflict"
	CodeQuotaExceeded = "quota_exceeded"
	CodeToolError     = "tool_error"
	CodeUnavailable   = "service_unavailable"
	CodeInternal      = "internal_error"
)

// MaxBodyBytes caps request bodies read by DecodeJSON
const MaxBodyBytes = 1 << 20

// ErrorResponse represents a structured error response
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// SuccessResponse wraps every successful payload
type SuccessResponse struct {
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return nil
	}
	return json.NewEncoder(w).Encode(data)
}

// WriteOK writes a 200 OK response with optional data
func WriteOK(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, SuccessResponse{Data: data})
}

// WriteNoContent writes a 204 No Content response
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// WriteErrorCode writes an ErrorResponse with an explicit code
func WriteErrorCode(w http.ResponseWriter, status int, code, message string, details map[string]interface{}) error {
	return WriteJSON(w, status, ErrorResponse{
		Error:   code,
		Message: message,
		Details: details,
	})
}

// WriteBadRequest writes a 400 Bad Request response with error details
func WriteBadRequest(w http.ResponseWriter, message string, details map[string]interface{}) error {
	return WriteErrorCode(w, http.StatusBadRequest, CodeBadRequest, message, details)
}

// WriteUnauthorized writes a 401 Unauthorized response
func WriteUnauthorized(w http.ResponseWriter, message string) error {
	return WriteErrorCode(w, http.StatusUnauthorized, CodeUnauthorized, orDefault(message, "Authentication required"), nil)
}

// WriteForbidden writes a 403 Forbidden response
func WriteForbidden(w http.ResponseWriter, message string) error {
	return WriteErrorCode(w, http.StatusForbidden, CodeForbidden, orDefault(message, "Access forbidden"), nil)
}

// WriteNotFound writes a 404 Not Found response
func WriteNotFound(w http.ResponseWriter, message string) error {
	return WriteErrorCode(w, http.StatusNotFound, CodeNotFound, orDefault(message, "Resource not found"), nil)
}

// WriteConflict writes a 409 Conflict response
func WriteConflict(w http.ResponseWriter, message string, details map[string]interface{}) error {
	return WriteErrorCode(w, http.StatusConflict, CodeConflict, message, details)
}

// WriteQuotaExceeded writes a 429 for a denied tool call
func WriteQuotaExceeded(w http.ResponseWriter, message string, details map[string]interface{}) error {
	return WriteErrorCode(w, http.StatusTooManyRequests, CodeQuotaExceeded, orDefault(message, "Quota exceeded"), details)
}

// WriteToolError writes a 502 for a tool that failed after being admitted
func WriteToolError(w http.ResponseWriter, message string, details map[string]interface{}) error {
	return WriteErrorCode(w, http.StatusBadGateway, CodeToolError, orDefault(message, "Tool execution failed"), details)
}

// WriteServiceUnavailable writes a 503 response
func WriteServiceUnavailable(w http.ResponseWriter, message string, details map[string]interface{}) error {
	return WriteErrorCode(w, http.StatusServiceUnavailable, CodeUnavailable, orDefault(message, "Service unavailable"), details)
}

// WriteInternalServerError writes a 500 Internal Server Error response
func WriteInternalServerError(w http.ResponseWriter, message string) error {
	return WriteErrorCode(w, http.StatusInternalServerError, CodeInternal, orDefault(message, "Internal server error"), nil)
}

// DecodeJSON decodes a JSON request body into v, rejecting unknown fields and trailing data
func DecodeJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	if dec.More() {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
