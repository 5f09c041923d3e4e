package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/donorhub/notification-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE ENVELOPE
// ══════════════════════════════════════════════════════════════════════════════

// APIVersion is reported in every response envelope.
const APIVersion = "v1"

// JSONResponse is the standard API response format.
type JSONResponse struct {
	Success   bool          `json:"success"`
	Data      any           `json:"data,omitempty"`
	Error     *APIError     `json:"error,omitempty"`
	Meta      *ResponseMeta `json:"meta,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
}

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ResponseMeta contains response metadata.
type ResponseMeta struct {
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

// WriteJSON writes a success envelope.
func WriteJSON(c *gin.Context, status int, data any) {
	c.JSON(status, JSONResponse{
		Success:   status >= 200 && status < 300,
		Data:      data,
		Meta:      &ResponseMeta{Timestamp: time.Now().UTC(), Version: APIVersion},
		RequestID: RequestIDFrom(c),
	})
}

// AbortJSONError writes an error envelope and stops the handler chain.
func AbortJSONError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, JSONResponse{
		Error:     &APIError{Code: code, Message: message},
		Meta:      &ResponseMeta{Timestamp: time.Now().UTC(), Version: APIVersion},
		RequestID: RequestIDFrom(c),
	})
}

// WriteError maps err onto a status code and writes the error envelope.
// Internal errors are logged with the request logger; their text is not
// returned to the caller.
func WriteError(c *gin.Context, err error) {
	status, code := StatusFor(err)

	message := err.Error()
	var de *shared.DomainError
	if errors.As(err, &de) && de.Message != "" {
		message = de.Message
		if de.Err != nil && status == http.StatusBadRequest {
			message += ": " + de.Err.Error()
		}
	}

	if status >= 500 {
		Logger(c).Error("request failed", "status", status, "error", err.Error())
		if status == http.StatusInternalServerError {
			message = "internal error"
		}
	}

	AbortJSONError(c, status, code, message)
}

// StatusFor maps the shared error taxonomy onto HTTP.
func StatusFor(err error) (int, string) {
	var maxBytes *http.MaxBytesError

	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge, "payload_too_large"
	case shared.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case shared.IsValidation(err):
		return http.StatusBadRequest, "invalid_request"
	case shared.IsAlreadyExists(err):
		return http.StatusConflict, "conflict"
	case errors.Is(err, shared.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, shared.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, shared.ErrServiceUnavailable):
		return http.StatusServiceUnavailable, "service_unavailable"
	case shared.IsExternalService(err):
		return http.StatusBadGateway, "upstream_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
