package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ehranchor/internal/domain"
	"ehranchor/internal/logger"
)

// ErrorCode represents a standardized error code
type ErrorCode string

const (
	// Client errors (4xx)
	errCodeBadRequest        ErrorCode = "bad_request"
	errCodeUnauthorized      ErrorCode = "unauthorized"
	errCodeAlreadyExists     ErrorCode = "already_exists"
	errCodeNotFound          ErrorCode = "not_found"
	errCodeNotAnchored       ErrorCode = "not_anchored"
	errCodeObjectUnavailable ErrorCode = "object_unavailable"
	errCodeIntegrityFailed   ErrorCode = "integrity_failed"
	errCodePayloadTooLarge   ErrorCode = "payload_too_large"

	// Server errors (5xx)
	errCodeInternalError ErrorCode = "internal_error"
	errCodeTransport     ErrorCode = "transport_error"
	errCodeTimeout       ErrorCode = "timeout"
)

// errorResponse represents a standardized error response
type errorResponse struct {
	Error errorDetail `json:"error"`
}

// errorDetail contains error information
type errorDetail struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

// respondWithError sends a standardized error response
func respondWithError(c *gin.Context, statusCode int, code ErrorCode, message string, details ...string) {
	response := errorResponse{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	}

	if len(details) > 0 {
		response.Error.Details = details[0]
	}

	c.AbortWithStatusJSON(statusCode, response)
}

// respondBadRequest sends a 400 Bad Request response
func respondBadRequest(c *gin.Context, message string, details ...string) {
	respondWithError(c, http.StatusBadRequest, errCodeBadRequest, message, details...)
}

// classify maps an error to its HTTP status, code and public message.
// Derived not-found kinds are checked before ErrNotFound.
func classify(err error) (int, ErrorCode, string) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, errCodePayloadTooLarge, "Request body too large"
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden, errCodeUnauthorized, "Organization is not authorized"
	case errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict, errCodeAlreadyExists, "Patient already exists"
	case errors.Is(err, domain.ErrNotAnchored):
		return http.StatusNotFound, errCodeNotAnchored, "No document anchored"
	case errors.Is(err, domain.ErrObjectUnavailable):
		return http.StatusNotFound, errCodeObjectUnavailable, "Stored object unavailable"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, errCodeNotFound, "Not found"
	case errors.Is(err, domain.ErrMalformedInput):
		return http.StatusBadRequest, errCodeBadRequest, "Malformed input"
	case errors.Is(err, domain.ErrIntegrity):
		return http.StatusUnprocessableEntity, errCodeIntegrityFailed, "Integrity check failed"
	case errors.Is(err, domain.ErrTimeout):
		return http.StatusGatewayTimeout, errCodeTimeout, "Upstream deadline exceeded"
	case errors.Is(err, domain.ErrTransport):
		return http.StatusBadGateway, errCodeTransport, "Upstream unavailable"
	default:
		return http.StatusInternalServerError, errCodeInternalError, "Internal server error"
	}
}

// respondError sends the response for a service failure. Internal errors are logged and
// their details withheld.
func respondError(c *gin.Context, err error) {
	status, code, message := classify(err)
	if status == http.StatusInternalServerError {
		logger.ErrorCtx(c.Request.Context(), err, zap.String("path", c.Request.URL.Path))
		respondWithError(c, status, code, message)
		return
	}
	if status >= http.StatusInternalServerError {
		logger.WarnCtx(c.Request.Context(), "Upstream failure",
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
	}
	respondWithError(c, status, code, message, err.Error())
}
