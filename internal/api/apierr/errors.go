package apierr

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mcoot/outlier/internal/model"
)

// APIError represents an API error response
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse wraps an APIError
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// Common error codes
const (
	CodeInvalidRequest       = "INVALID_REQUEST"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeNotHost              = "NOT_HOST"
	CodeSessionNotFound      = "SESSION_NOT_FOUND"
	CodeParticipantNotFound  = "PARTICIPANT_NOT_FOUND"
	CodeCategoryNotFound     = "CATEGORY_NOT_FOUND"
	CodeSessionEnded         = "SESSION_ENDED"
	CodeInvalidTransition    = "INVALID_TRANSITION"
	CodeInvalidJoinCode      = "INVALID_JOIN_CODE"
	CodeInvalidDisplayName   = "INVALID_DISPLAY_NAME"
	CodeInvalidCategory      = "INVALID_CATEGORY"
	CodeCannotKickHost       = "CANNOT_KICK_HOST"
	CodeInsufficientPlayers  = "INSUFFICIENT_PARTICIPANTS"
	CodeConflict             = "CONFLICT"
	CodeGeneratorUnavailable = "GENERATOR_UNAVAILABLE"
	CodeServiceUnavailable   = "SERVICE_UNAVAILABLE"
	CodeInternalError        = "INTERNAL_ERROR"
)

// httpError combines an HTTP status code with an APIError
type httpError struct {
	status   int
	apiError APIError
}

// Error implements error interface
func (e *httpError) Error() string {
	return e.apiError.Message
}

// WriteError writes an error response to the response writer
func WriteError(w http.ResponseWriter, err error) {
	he := toHTTPError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(he.status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: he.apiError})
}

// Status returns the HTTP status an error maps to
func Status(err error) int {
	return toHTTPError(err).status
}

// toHTTPError converts an error to an httpError. Specific errors get their
// own code; anything else falls back on its kind.
func toHTTPError(err error) *httpError {
	var he *httpError
	if errors.As(err, &he) {
		return he
	}

	switch {
	case errors.Is(err, model.ErrSessionNotFound):
		return &httpError{http.StatusNotFound, APIError{CodeSessionNotFound, "Session not found"}}
	case errors.Is(err, model.ErrParticipantNotFound):
		return &httpError{http.StatusNotFound, APIError{CodeParticipantNotFound, "Participant not found"}}
	case errors.Is(err, model.ErrCategoryNotFound):
		return &httpError{http.StatusNotFound, APIError{CodeCategoryNotFound, "Category not found"}}
	case errors.Is(err, model.ErrInvalidCredentials):
		return &httpError{http.StatusUnauthorized, APIError{CodeUnauthorized, "Participant token not recognised"}}
	case errors.Is(err, model.ErrNotHost):
		return &httpError{http.StatusForbidden, APIError{CodeNotHost, "Only the host can perform this action"}}
	case errors.Is(err, model.ErrSessionEnded):
		return &httpError{http.StatusConflict, APIError{CodeSessionEnded, "Session has ended"}}
	case errors.Is(err, model.ErrInvalidTransition):
		return &httpError{http.StatusConflict, APIError{CodeInvalidTransition, "Not allowed in the current session status"}}
	case errors.Is(err, model.ErrInsufficientParticipants):
		return &httpError{http.StatusConflict, APIError{CodeInsufficientPlayers, "Not enough participants to start"}}
	case errors.Is(err, model.ErrCannotKickHost):
		return &httpError{http.StatusBadRequest, APIError{CodeCannotKickHost, "The host cannot be kicked"}}
	case errors.Is(err, model.ErrInvalidJoinCode):
		return &httpError{http.StatusBadRequest, APIError{CodeInvalidJoinCode, "Join code must be 6 characters A-Z or 0-9"}}
	case errors.Is(err, model.ErrInvalidDisplayName):
		return &httpError{http.StatusBadRequest, APIError{CodeInvalidDisplayName, err.Error()}}
	case errors.Is(err, model.ErrInvalidCategory):
		return &httpError{http.StatusBadRequest, APIError{CodeInvalidCategory, err.Error()}}
	case errors.Is(err, model.ErrGeneratorUnavailable):
		return &httpError{http.StatusServiceUnavailable, APIError{CodeGeneratorUnavailable, "Category generation is unavailable"}}

	// Fall back on the error kind
	case errors.Is(err, model.ErrNotFound):
		return &httpError{http.StatusNotFound, APIError{CodeInvalidRequest, err.Error()}}
	case errors.Is(err, model.ErrUnauthorized):
		return &httpError{http.StatusForbidden, APIError{CodeUnauthorized, err.Error()}}
	case errors.Is(err, model.ErrInvalid):
		return &httpError{http.StatusBadRequest, APIError{CodeInvalidRequest, err.Error()}}
	case errors.Is(err, model.ErrConflict):
		return &httpError{http.StatusConflict, APIError{CodeConflict, "The session was modified concurrently, retry"}}
	case errors.Is(err, model.ErrTransient):
		return &httpError{http.StatusServiceUnavailable, APIError{CodeServiceUnavailable, "Service temporarily unavailable"}}

	default:
		return &httpError{http.StatusInternalServerError, APIError{CodeInternalError, "Internal server error"}}
	}
}

// NewInvalidRequestError creates an invalid request error
func NewInvalidRequestError(message string) error {
	return &httpError{http.StatusBadRequest, APIError{CodeInvalidRequest, message}}
}

// NewUnauthorizedError creates an error for requests that carry no
// participant identity
func NewUnauthorizedError() error {
	return &httpError{http.StatusUnauthorized, APIError{CodeUnauthorized, "Participant identity required"}}
}

// NewInternalError creates an internal server error
func NewInternalError() error {
	return &httpError{http.StatusInternalServerError, APIError{CodeInternalError, "Internal server error"}}
}
