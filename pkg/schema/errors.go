package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeConversion    = "CONVERSION_ERROR"
	ErrCodeComparison    = "COMPARISON_ERROR"
	ErrCodeExpression    = "EXPRESSION_ERROR"
	ErrCodeLockConflict  = "LOCK_CONFLICT"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeAlreadyExists = "ALREADY_EXISTS"
	ErrCodeTimeout       = "TIMEOUT_ERROR"
	ErrCodeSuite         = "SUITE_ERROR"
	ErrCodeIntegration   = "INTEGRATION_MISMATCH"
	ErrCodeStore         = "STORE_ERROR"
	ErrCodeCancelled     = "CANCELLED"
)

// TandemError is the structured error type for all operations.
type TandemError struct {
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	Details  map[string]any `json:"details,omitempty"`
	EntityID string         `json:"entity_id,omitempty"`
	Cause    error          `json:"-"`
}

func (e *TandemError) Error() string {
	if e.EntityID != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.EntityID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *TandemError) Unwrap() error {
	return e.Cause
}

// NewError creates a new TandemError.
func NewError(code, message string) *TandemError {
	return &TandemError{Code: code, Message: message}
}

// NewErrorf creates a new TandemError with a formatted message.
func NewErrorf(code, format string, args ...any) *TandemError {
	return &TandemError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithEntity attaches the ID of the workflow, journey, execution, or test
// the error concerns.
func (e *TandemError) WithEntity(id string) *TandemError {
	e.EntityID = id
	return e
}

// WithCause attaches an underlying cause.
func (e *TandemError) WithCause(err error) *TandemError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *TandemError) WithDetails(details map[string]any) *TandemError {
	e.Details = details
	return e
}

// ErrorCode extracts the code from a TandemError anywhere in err's chain,
// or "" for other errors.
func ErrorCode(err error) string {
	var te *TandemError
	if errors.As(err, &te) {
		return te.Code
	}
	return ""
}
