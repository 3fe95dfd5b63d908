package tools

import (
	"encoding/json"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/vibelab/vibelab-engine/pkg/apperrors"
	"github.com/vibelab/vibelab-engine/pkg/logging"
)

// ErrorResponse represents a structured error in tool results.
// Errors are returned as tool results so the calling agent sees the kind
// and message instead of a bare protocol failure.
type ErrorResponse struct {
	Error   bool   `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// NewErrorResult creates a tool result containing a structured error.
// Use this for errors the caller can act on (bad arguments, unknown ids,
// provider failures, a full queue).
//
// Example:
//
//	if experimentID == uuid.Nil {
//	    return NewErrorResult("validation_error", "experiment_id is required"), nil
//	}
func NewErrorResult(code, message string) *mcp.CallToolResult {
	return NewErrorResultWithDetails(code, message, nil)
}

// NewErrorResultWithDetails creates an error result with additional context.
func NewErrorResultWithDetails(code, message string, details any) *mcp.CallToolResult {
	resp := ErrorResponse{
		Error:   true,
		Code:    code,
		Message: message,
		Details: details,
	}
	jsonBytes, _ := json.Marshal(resp)
	result := mcp.NewToolResultText(string(jsonBytes))
	result.IsError = true
	return result
}

// toolError converts a service error into a tool result. Errors carrying an
// apperrors kind become structured results; anything else is returned as a Go
// error so the client sees a protocol-level failure.
func toolError(err error) (*mcp.CallToolResult, error) {
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		return nil, err
	}
	return NewErrorResult(string(appErr.Kind), logging.SanitizeError(errors.New(appErr.Message))), nil
}

// IsInputError reports whether err was caused by the caller's input.
// Input errors are logged at DEBUG rather than ERROR.
func IsInputError(err error) bool {
	switch apperrors.KindOf(err) {
	case apperrors.KindNotFound, apperrors.KindValidation, apperrors.KindReferential:
		return true
	default:
		return false
	}
}
