package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is the error type shared by every service. Message and Details are
// safe to show to API callers; Err carries the internal cause.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    any    `json:"details,omitempty"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches on Code so that copies produced by the With* helpers still
// satisfy errors.Is against the catalog entries below.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func (e *AppError) WithDetails(details any) *AppError {
	return &AppError{
		Code:       e.Code,
		Message:    e.Message,
		Details:    details,
		HTTPStatus: e.HTTPStatus,
		Err:        e.Err,
	}
}

func (e *AppError) WithError(err error) *AppError {
	return &AppError{
		Code:       e.Code,
		Message:    e.Message,
		Details:    e.Details,
		HTTPStatus: e.HTTPStatus,
		Err:        err,
	}
}

func (e *AppError) WithMessage(msg string) *AppError {
	return &AppError{
		Code:       e.Code,
		Message:    msg,
		Details:    e.Details,
		HTTPStatus: e.HTTPStatus,
		Err:        e.Err,
	}
}

// Withf is WithMessage with formatting.
func (e *AppError) Withf(format string, args ...any) *AppError {
	return e.WithMessage(fmt.Sprintf(format, args...))
}

func New(code, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// As returns the first AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsCode reports whether err's chain holds an AppError with the given code.
func IsCode(err error, code string) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == code
}

// IsUserFacing reports whether err is a caller-correctable failure (4xx).
func IsUserFacing(err error) bool {
	appErr, ok := As(err)
	if !ok {
		return false
	}
	return appErr.HTTPStatus >= 400 && appErr.HTTPStatus < 500
}

// Common errors
var (
	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "Bad request",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrUnauthorized = &AppError{
		Code:       "UNAUTHORIZED",
		Message:    "Authentication required",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrForbidden = &AppError{
		Code:       "FORBIDDEN",
		Message:    "Access denied",
		HTTPStatus: http.StatusForbidden,
	}

	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "Resource not found",
		HTTPStatus: http.StatusNotFound,
	}

	ErrConflict = &AppError{
		Code:       "CONFLICT",
		Message:    "Resource already exists",
		HTTPStatus: http.StatusConflict,
	}

	ErrValidation = &AppError{
		Code:       "VALIDATION_ERROR",
		Message:    "Invalid input",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrRateLimited = &AppError{
		Code:       "RATE_LIMITED",
		Message:    "Too many requests, please try again later",
		HTTPStatus: http.StatusTooManyRequests,
	}

	ErrInternal = &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    "An unexpected error occurred",
		HTTPStatus: http.StatusInternalServerError,
	}

	ErrServiceUnavailable = &AppError{
		Code:       "SERVICE_UNAVAILABLE",
		Message:    "Service temporarily unavailable",
		HTTPStatus: http.StatusServiceUnavailable,
	}
)

// Auth errors
var (
	ErrInvalidAuthState = &AppError{
		Code:       "INVALID_AUTH_STATE",
		Message:    "Invalid auth state. Please try again.",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrAuthCodeNotFound = &AppError{
		Code:       "AUTH_CODE_NOT_FOUND",
		Message:    "Auth code not found or expired. Please try again.",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrUnsupportedAuthMethod = &AppError{
		Code:       "UNSUPPORTED_AUTH_METHOD",
		Message:    "Auth method is not supported for this operation",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrEmailConflict = &AppError{
		Code:       "EMAIL_CONFLICT",
		Message:    "This email is already connected to a different organization",
		HTTPStatus: http.StatusConflict,
	}

	ErrAuthMethodMismatch = &AppError{
		Code:       "AUTH_METHOD_MISMATCH",
		Message:    "This email is already connected with a different auth method",
		HTTPStatus: http.StatusConflict,
	}

	ErrInvalidToken = &AppError{
		Code:       "INVALID_TOKEN",
		Message:    "Invalid or expired token",
		HTTPStatus: http.StatusUnauthorized,
	}
)

// Provider errors
var (
	ErrProvider = &AppError{
		Code:       "PROVIDER_ERROR",
		Message:    "The external provider rejected the request",
		HTTPStatus: http.StatusBadGateway,
	}

	ErrInternalConsistency = &AppError{
		Code:       "INTERNAL_CONSISTENCY",
		Message:    "Internal state disagrees with the external provider",
		HTTPStatus: http.StatusInternalServerError,
	}
)

// Task errors
var (
	ErrDoNotRetry = &AppError{
		Code:       "DO_NOT_RETRY",
		Message:    "Task failed and must not be retried",
		HTTPStatus: http.StatusUnprocessableEntity,
	}

	ErrReadOnly = &AppError{
		Code:       "READ_ONLY",
		Message:    "Resource is read-only",
		HTTPStatus: http.StatusForbidden,
	}

	ErrAccountNotFound = &AppError{
		Code:       "ACCOUNT_NOT_FOUND",
		Message:    "Account not found",
		HTTPStatus: http.StatusNotFound,
	}

	ErrServiceAccountNotFound = &AppError{
		Code:       "SERVICE_ACCOUNT_NOT_FOUND",
		Message:    "Service account not found",
		HTTPStatus: http.StatusNotFound,
	}

	ErrCalendarNotFound = &AppError{
		Code:       "CALENDAR_NOT_FOUND",
		Message:    "Calendar not found",
		HTTPStatus: http.StatusNotFound,
	}

	ErrEventNotFound = &AppError{
		Code:       "EVENT_NOT_FOUND",
		Message:    "Event not found",
		HTTPStatus: http.StatusNotFound,
	}
)
