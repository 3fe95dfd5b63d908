package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/vibelab/vibelab-engine/pkg/apperrors"
	"github.com/vibelab/vibelab-engine/pkg/logging"
)

// ApiResponse is the JSON envelope of every API response.
type ApiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(ApiResponse{
		Success: false,
		Error:   errorCode,
		Message: message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// StatusForKind maps an error kind to its HTTP status.
func StatusForKind(kind apperrors.Kind) int {
	switch kind {
	case apperrors.KindNotFound:
		return http.StatusNotFound
	case apperrors.KindValidation:
		return http.StatusBadRequest
	case apperrors.KindReferential:
		return http.StatusConflict
	case apperrors.KindExternalService:
		return http.StatusBadGateway
	case apperrors.KindOverloaded:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeData writes a success envelope around data.
func writeData(w http.ResponseWriter, statusCode int, data any, logger *zap.Logger) {
	if err := WriteJSON(w, statusCode, ApiResponse{Success: true, Data: data}); err != nil {
		logger.Error("Failed to write response", zap.Error(err))
	}
}

// writeServiceError writes err with its kind and message. Server-side kinds
// are logged at ERROR; caller mistakes and requests the client abandoned go to DEBUG.
func writeServiceError(w http.ResponseWriter, err error, logMsg string, logger *zap.Logger, fields ...zap.Field) {
	kind := apperrors.KindOf(err)
	status := StatusForKind(kind)

	fields = append(fields, zap.String("kind", string(kind)), zap.String("error", logging.SanitizeError(err)))
	if status >= http.StatusInternalServerError && !errors.Is(err, context.Canceled) {
		logger.Error(logMsg, fields...)
	} else {
		logger.Debug(logMsg, fields...)
	}

	message := apperrors.MessageOf(err)
	if kind == apperrors.KindInternal {
		message = "internal server error"
	}
	if err := ErrorResponse(w, status, string(kind), logging.SanitizeError(errors.New(message))); err != nil {
		logger.Error("Failed to write error response", zap.Error(err))
	}
}

// writeBadRequest reports a request body that could not be decoded.
func writeBadRequest(w http.ResponseWriter, message string, logger *zap.Logger) {
	if err := ErrorResponse(w, http.StatusBadRequest, string(apperrors.KindValidation), message); err != nil {
		logger.Error("Failed to write error response", zap.Error(err))
	}
}

// decodeBody decodes a JSON request body, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any, logger *zap.Logger) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeBadRequest(w, "Invalid request body", logger)
		return false
	}
	return true
}
