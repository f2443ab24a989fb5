package errors

import "fmt"

// ErrorCode identifies a class of application error.
type ErrorCode string

const (
	// Request/transport level.
	ErrInvalidInput               ErrorCode = "INVALID_INPUT"
	ErrInvalidRequestData         ErrorCode = "INVALID_REQUEST_DATA"
	ErrUnauthorized               ErrorCode = "UNAUTHORIZED"
	ErrTokenExpired               ErrorCode = "TOKEN_EXPIRED"
	ErrInvalidTokenFormat         ErrorCode = "INVALID_TOKEN_FORMAT"
	ErrMissingAuthorizationHeader ErrorCode = "MISSING_AUTHORIZATION_HEADER"
	ErrForbidden                  ErrorCode = "FORBIDDEN"
	ErrNotFound                   ErrorCode = "NOT_FOUND"
	ErrAlreadyExists              ErrorCode = "ALREADY_EXISTS"
	ErrInternalServer             ErrorCode = "INTERNAL_SERVER_ERROR"

	// Coordination failure taxonomy.
	ErrValidation          ErrorCode = "VALIDATION_ERROR"
	ErrTransientExternal   ErrorCode = "TRANSIENT_EXTERNAL_ERROR"
	ErrCapacity            ErrorCode = "CAPACITY_ERROR"
	ErrBusinessFallback    ErrorCode = "BUSINESS_FALLBACK"
	ErrConcurrencyConflict ErrorCode = "CONCURRENCY_CONFLICT"
	ErrIrrecoverable       ErrorCode = "IRRECOVERABLE_ERROR"
)

// AppError is the error type services return across module boundaries.
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the error class is worth retrying at all.
func (e *AppError) IsRetryable() bool {
	switch e.Code {
	case ErrTransientExternal, ErrCapacity, ErrConcurrencyConflict:
		return true
	}
	return false
}
