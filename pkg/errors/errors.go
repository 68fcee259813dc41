package errors

import (
	"errors"
	"fmt"
)

// Common application errors
var (
	// Budget accounting errors
	ErrBudgetExceeded        = errors.New("privacy budget exceeded")
	ErrBudgetUnbounded       = errors.New("accountant has no total budget")
	ErrBudgetNotRegistered   = errors.New("no budget registered for scope")
	ErrScopeAlreadyExists    = errors.New("scope already registered")
	ErrPerUserBudgetExceeded = errors.New("per-user privacy budget exceeded")

	// Numeric validation errors
	ErrInvalidEpsilon = errors.New("invalid epsilon: must be finite and non-negative")
	ErrInvalidDelta   = errors.New("invalid delta: must be finite and non-negative")
	ErrInvalidRho     = errors.New("invalid rho: must be finite and non-negative")
	ErrInvalidAlpha   = errors.New("invalid alpha: RDP order must be greater than 1")
	ErrInvalidMu      = errors.New("invalid mu: must be finite and positive")
	ErrInvalidSlack   = errors.New("invalid slack: must be finite and non-negative")

	// Model and composition errors
	ErrUnknownModel        = errors.New("unknown privacy model")
	ErrUnknownMechanism    = errors.New("unknown mechanism")
	ErrUnknownMethod       = errors.New("unknown accounting method")
	ErrNoEvents            = errors.New("no events to compose")
	ErrNonUniformEvents    = errors.New("events must share identical epsilon and delta")
	ErrUntrackedOrder      = errors.New("RDP order is not tracked")
	ErrTargetDeltaRequired = errors.New("target delta required for this conversion")

	// Storage errors
	ErrStorageNotFound         = errors.New("storage backend not found")
	ErrStorageConnectionFailed = errors.New("storage connection failed")
	ErrStorageWriteFailed      = errors.New("storage write failed")
	ErrStorageReadFailed       = errors.New("storage read failed")
	ErrStorageTimeout          = errors.New("storage operation timeout")
	ErrSnapshotNotFound        = errors.New("snapshot not found")

	// Network errors
	ErrConnectionFailed = errors.New("connection failed")
	ErrNetworkTimeout   = errors.New("network timeout")

	// Configuration errors
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrMissingConfiguration = errors.New("missing configuration")
	ErrConfigurationLoad    = errors.New("failed to load configuration")

	// Job/Task errors
	ErrJobNotFound      = errors.New("job not found")
	ErrJobFailed        = errors.New("job failed")
	ErrJobTimeout       = errors.New("job timeout")
	ErrJobCancelled     = errors.New("job cancelled")
	ErrJobAlreadyExists = errors.New("job already exists")

	// Internal errors
	ErrInternal       = errors.New("internal error")
	ErrNotImplemented = errors.New("not implemented")
	ErrUnavailable    = errors.New("service unavailable")
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeBudget        ErrorType = "budget"
	ErrorTypeStorage       ErrorType = "storage"
	ErrorTypeNetwork       ErrorType = "network"
	ErrorTypeConfiguration ErrorType = "configuration"
	ErrorTypeJob           ErrorType = "job"
	ErrorTypeInternal      ErrorType = "internal"
)

// AppError represents an application-specific error with additional context
type AppError struct {
	Type       ErrorType              `json:"type"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    string                 `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	Context    map[string]interface{} `json:"context,omitempty"`
	Retryable  bool                   `json:"retryable"`
	HTTPStatus int                    `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s - %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Code == t.Code
}

// clone copies the error so augmented variants of shared sentinel
// errors never mutate the original. errors.Is still matches a clone
// against its sentinel because Is compares Type and Code only.
func (e *AppError) clone() *AppError {
	out := *e
	if e.Context != nil {
		out.Context = make(map[string]interface{}, len(e.Context))
		for k, v := range e.Context {
			out.Context[k] = v
		}
	}
	return &out
}

// WithContext returns a copy of the error with an added context entry
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	out := e.clone()
	if out.Context == nil {
		out.Context = make(map[string]interface{})
	}
	out.Context[key] = value
	return out
}

// WithDetails returns a copy of the error with the details set
func (e *AppError) WithDetails(details string) *AppError {
	out := e.clone()
	out.Details = details
	return out
}

// WithCause returns a copy of the error with the underlying cause attached
func (e *AppError) WithCause(cause error) *AppError {
	out := e.clone()
	out.Cause = cause
	return out
}

// WithHTTPStatus returns a copy of the error with the HTTP status
// overridden, for the few cases where the type's default does not fit.
func (e *AppError) WithHTTPStatus(status int) *AppError {
	out := e.clone()
	out.HTTPStatus = status
	return out
}

// NewAppError creates a new application error
func NewAppError(errType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:       errType,
		Code:       code,
		Message:    message,
		Retryable:  false,
		HTTPStatus: getDefaultHTTPStatus(errType),
	}
}

// WrapError wraps an existing error with application context
func WrapError(err error, errType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:       errType,
		Code:       code,
		Message:    message,
		Cause:      err,
		Retryable:  isRetryable(err),
		HTTPStatus: getDefaultHTTPStatus(errType),
	}
}

// NewValidationError creates a validation error
func NewValidationError(code, message string) *AppError {
	return NewAppError(ErrorTypeValidation, code, message)
}

// NewBudgetError creates a budget accounting error
func NewBudgetError(code, message string) *AppError {
	return NewAppError(ErrorTypeBudget, code, message)
}

// NewStorageError creates a storage error
func NewStorageError(code, message string) *AppError {
	return NewAppError(ErrorTypeStorage, code, message)
}

// NewNetworkError creates a network error
func NewNetworkError(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeNetwork,
		Code:       code,
		Message:    message,
		Retryable:  true,
		HTTPStatus: 503,
	}
}

// NewConfigurationError creates a configuration error
func NewConfigurationError(code, message string) *AppError {
	return NewAppError(ErrorTypeConfiguration, code, message)
}

// NewInternalError creates an internal error
func NewInternalError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Retryable:  false,
		HTTPStatus: 500,
	}
}

// IsValidationError reports whether err is a validation outcome
func IsValidationError(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == ErrorTypeValidation
	}
	return false
}

// AsAppError extracts the AppError from err's chain, if any
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsBudgetExceeded reports whether err is a budget-exceeded outcome,
// covering both the shared-ledger and the per-user ceiling.
func IsBudgetExceeded(err error) bool {
	if errors.Is(err, ErrBudgetExceeded) || errors.Is(err, ErrPerUserBudgetExceeded) {
		return true
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == ErrorTypeBudget
	}
	return false
}

// getDefaultHTTPStatus returns the default HTTP status for an error type
func getDefaultHTTPStatus(errType ErrorType) int {
	switch errType {
	case ErrorTypeValidation:
		return 400
	case ErrorTypeBudget:
		return 403
	case ErrorTypeStorage, ErrorTypeJob:
		return 404
	case ErrorTypeInternal:
		return 500
	case ErrorTypeNetwork, ErrorTypeConfiguration:
		return 503
	default:
		return 500
	}
}

// isRetryable determines if an error is retryable
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, ErrNetworkTimeout):
		return true
	case errors.Is(err, ErrConnectionFailed):
		return true
	case errors.Is(err, ErrStorageTimeout):
		return true
	case errors.Is(err, ErrUnavailable):
		return true
	default:
		return false
	}
}

// ErrorResponse represents an error response for APIs
type ErrorResponse struct {
	Error     *AppError `json:"error"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp string    `json:"timestamp"`
	Path      string    `json:"path,omitempty"`
}

// Error codes for different error scenarios
const (
	// Validation error codes
	CodeInvalidInput     = "INVALID_INPUT"
	CodeInvalidEpsilon   = "INVALID_EPSILON"
	CodeInvalidDelta     = "INVALID_DELTA"
	CodeInvalidRho       = "INVALID_RHO"
	CodeInvalidAlpha     = "INVALID_ALPHA"
	CodeInvalidMu        = "INVALID_MU"
	CodeInvalidModel     = "INVALID_MODEL"
	CodeInvalidMechanism = "INVALID_MECHANISM"
	CodeInvalidMethod    = "INVALID_METHOD"
	CodeUnsupportedModel = "UNSUPPORTED_MODEL"
	CodeInvalidConfig    = "INVALID_CONFIG"
	CodeOutOfDomain      = "OUT_OF_DOMAIN"
	CodeMissingField     = "MISSING_FIELD"
	CodeEmptyEvents      = "EMPTY_EVENTS"
	CodeNonUniform       = "NON_UNIFORM_EVENTS"
	CodeUntrackedOrder   = "UNTRACKED_ORDER"
	CodeDeserialization  = "DESERIALIZATION_FAILED"

	// Budget error codes
	CodeBudgetExceeded        = "BUDGET_EXCEEDED"
	CodeBudgetUnbounded       = "BUDGET_UNBOUNDED"
	CodePerUserBudgetExceeded = "PER_USER_BUDGET_EXCEEDED"
	CodeScopeNotFound         = "SCOPE_NOT_FOUND"
	CodeScopeExists           = "SCOPE_EXISTS"

	// Storage error codes
	CodeStorageError     = "STORAGE_ERROR"
	CodeConnectionFailed = "CONNECTION_FAILED"
	CodeSnapshotNotFound = "SNAPSHOT_NOT_FOUND"
	CodeWriteFailed      = "WRITE_FAILED"
	CodeReadFailed       = "READ_FAILED"
	CodeStorageTimeout   = "STORAGE_TIMEOUT"

	// Network error codes
	CodeNetworkError = "NETWORK_ERROR"
	CodeTimeout      = "TIMEOUT"

	// Routing error codes
	CodeRouteNotFound    = "ROUTE_NOT_FOUND"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	CodeRequestTooLarge  = "REQUEST_TOO_LARGE"
	CodeRateLimited      = "RATE_LIMITED"

	// Job error codes
	CodeJobNotFound = "JOB_NOT_FOUND"
	CodeJobFailed   = "JOB_FAILED"
	CodeJobTimeout  = "JOB_TIMEOUT"

	// Internal error codes
	CodeInternalError      = "INTERNAL_ERROR"
	CodeNotImplemented     = "NOT_IMPLEMENTED"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)
