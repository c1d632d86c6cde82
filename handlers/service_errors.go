package handlers

import (
	"errors"
	"net/http"

	"github.com/upb/tool-governance/services"
	"github.com/upb/tool-governance/services/governance"
	"github.com/upb/tool-governance/services/tools"
	"github.com/upb/tool-governance/utils"
	"go.uber.org/zap"
)

// HandleServiceError maps domain errors to HTTP responses
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	details := services.GetErrorDetails(err)
	message := publicMessage(err)

	var writeErr error
	switch {
	case services.IsNotFoundError(err), services.IsConfigurationError(err):
		writeErr = utils.WriteErrorCode(w, http.StatusNotFound, utils.CodeNotFound, message, details)

	case services.IsValidationError(err):
		writeErr = utils.WriteBadRequest(w, message, details)

	case services.IsUnauthorizedError(err):
		writeErr = utils.WriteUnauthorized(w, message)

	case services.IsForbiddenError(err):
		writeErr = utils.WriteForbidden(w, message)

	case services.IsConflictError(err):
		writeErr = utils.WriteConflict(w, message, details)

	case services.IsQuotaExceededError(err):
		writeErr = utils.WriteQuotaExceeded(w, message, details)

	case services.IsToolExecutionError(err):
		writeErr = writeToolError(w, err, details)

	case services.IsInternalError(err), services.IsAuditPersistenceError(err):
		logger.Error("internal server error", zap.Error(err))
		writeErr = utils.WriteInternalServerError(w, "An internal error occurred")

	default:
		logger.Error("unhandled error type",
			zap.Error(err),
			zap.String("error_type", string(services.GetErrorType(err))))
		writeErr = utils.WriteInternalServerError(w, "An unexpected error occurred")
	}

	if writeErr != nil {
		logger.Error("failed to write error response", zap.Error(writeErr))
	}
}

// writeToolError keeps bad arguments apart from failures of the tool itself
func writeToolError(w http.ResponseWriter, err error, details map[string]interface{}) error {
	out := make(map[string]interface{}, len(details)+2)
	for k, v := range details {
		out[k] = v
	}

	var timeout *governance.TimeoutError
	var toolErr *tools.Error
	switch {
	case errors.As(err, &timeout):
		out["timeout"] = true
		return utils.WriteToolError(w, timeout.Error(), out)
	case errors.As(err, &toolErr):
		out["code"] = toolErr.Code
		if toolErr.Code == tools.CodeInvalidArgs {
			return utils.WriteBadRequest(w, toolErr.Message, out)
		}
		return utils.WriteToolError(w, toolErr.Message, out)
	default:
		return utils.WriteToolError(w, "", out)
	}
}

func publicMessage(err error) string {
	var domainErr *services.DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Message
	}
	return err.Error()
}

// HandleValidationError handles validation errors from request parsing
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var writeErr error
	if utils.IsValidationError(err) {
		details := make(map[string]interface{})
		for k, v := range utils.GetValidationFields(err) {
			details[k] = v
		}
		writeErr = utils.WriteBadRequest(w, "Validation failed", details)
	} else {
		writeErr = utils.WriteBadRequest(w, err.Error(), nil)
	}
	if writeErr != nil {
		logger.Error("failed to write validation error response", zap.Error(writeErr))
	}
}
