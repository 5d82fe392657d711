package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is an error with a stable machine code and the HTTP status it maps
// to. Message is shown to clients; Internal is only logged.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Retryable  bool   `json:"-"`
	Internal   error  `json:"-"`
}

func (e *AppError) Error() string {
	switch {
	case e == nil:
		return "<nil>"
	case e.Internal != nil:
		return e.Message + ": " + e.Internal.Error()
	default:
		return e.Message
	}
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Internal
}

// Is matches any AppError with the same code, so copies made by
// WithInternal or NewValidation still satisfy errors.Is against the sentinel.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && e != nil && t != nil && e.Code == t.Code
}

// WithInternal returns a copy of e carrying err as its cause.
func (e *AppError) WithInternal(err error) *AppError {
	if e == nil {
		return nil
	}
	cpy := *e
	cpy.Internal = err
	return &cpy
}

// WithMessage returns a copy of e with a client-facing message.
func (e *AppError) WithMessage(format string, args ...any) *AppError {
	if e == nil {
		return nil
	}
	cpy := *e
	cpy.Message = fmt.Sprintf(format, args...)
	return &cpy
}

// Common errors exposed to the rest of the application.
var (
	ErrUnauthorized = &AppError{
		Code:       "UNAUTHORIZED",
		Message:    "Authentication required",
		StatusCode: http.StatusUnauthorized,
	}

	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
	}

	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "Invalid request",
		StatusCode: http.StatusBadRequest,
	}

	ErrMethodNotAllowed = &AppError{
		Code:       "METHOD_NOT_ALLOWED",
		Message:    "Method not allowed",
		StatusCode: http.StatusMethodNotAllowed,
	}

	ErrInternalServer = &AppError{
		Code:       "INTERNAL_SERVER_ERROR",
		Message:    "Internal server error",
		StatusCode: http.StatusInternalServerError,
	}

	ErrRateLimit = &AppError{
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    "Too many requests, please slow down",
		StatusCode: http.StatusTooManyRequests,
		Retryable:  true,
	}
)

// Signing workflow errors. Token and OTP failures deliberately share one code and message.
var (
	ErrValidation = &AppError{
		Code:       "VALIDATION_FAILED",
		Message:    "Request validation failed",
		StatusCode: http.StatusBadRequest,
	}

	ErrResolutionNotFound = &AppError{
		Code:       "RESOLUTION_NOT_FOUND",
		Message:    "Resolution not found",
		StatusCode: http.StatusNotFound,
	}

	ErrSignatoryNotFound = &AppError{
		Code:       "SIGNATORY_NOT_FOUND",
		Message:    "Signatory not found for this resolution",
		StatusCode: http.StatusNotFound,
	}

	ErrInvalidSigningCredentials = &AppError{
		Code:       "INVALID_SIGNING_CREDENTIALS",
		Message:    "Invalid or expired signing credentials",
		StatusCode: http.StatusForbidden,
	}

	ErrResolutionFinalized = &AppError{
		Code:       "RESOLUTION_FINALIZED",
		Message:    "Resolution is already finalized",
		StatusCode: http.StatusConflict,
	}

	ErrDependencyFailure = &AppError{
		Code:       "DEPENDENCY_FAILURE",
		Message:    "A backing service failed, please retry later",
		StatusCode: http.StatusInternalServerError,
		Retryable:  true,
	}
)

// New builds a new application error with the provided metadata.
func New(code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// FromError converts a generic error into an AppError, defaulting to ErrInternalServer.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	return ErrInternalServer.WithInternal(err)
}

// NewBadRequest reports a malformed request.
func NewBadRequest(message string) *AppError {
	return ErrBadRequest.WithMessage("%s", message)
}

// NewValidation reports a payload that failed field validation.
func NewValidation(message string) *AppError {
	return ErrValidation.WithMessage("%s", message)
}
