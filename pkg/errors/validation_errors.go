package errors

import (
	"fmt"
)

// Validation-specific error definitions
var (
	// Numeric parameter errors
	ErrValidationEpsilonInvalid = NewValidationError(CodeInvalidEpsilon, "epsilon must be finite and non-negative")
	ErrValidationDeltaInvalid   = NewValidationError(CodeInvalidDelta, "delta must be finite and non-negative")
	ErrValidationDeltaOutOfUnit = NewValidationError(CodeInvalidDelta, "delta must lie in (0, 1)")
	ErrValidationRhoInvalid     = NewValidationError(CodeInvalidRho, "rho must be finite and non-negative")
	ErrValidationAlphaInvalid   = NewValidationError(CodeInvalidAlpha, "RDP order alpha must be greater than 1")
	ErrValidationMuInvalid      = NewValidationError(CodeInvalidMu, "mu must be finite and positive")
	ErrValidationSlackInvalid   = NewValidationError("INVALID_SLACK", "slack must be finite and non-negative")

	// Model and composition errors
	ErrValidationModelUnknown     = NewValidationError(CodeInvalidModel, "unknown privacy model")
	ErrValidationMethodUnknown    = NewValidationError(CodeInvalidMethod, "unknown accounting method")
	ErrValidationEventsEmpty      = NewValidationError(CodeEmptyEvents, "at least one event is required")
	ErrValidationEventsNonUniform = NewValidationError(CodeNonUniform, "strong composition requires identical epsilon and delta across events")
	ErrValidationOrderInvalid     = NewValidationError("INVALID_ORDER", "order must be a positive integer")
	ErrValidationSampleRate       = NewValidationError("INVALID_SAMPLE_RATE", "sampling rate must lie in (0, 1]")
	ErrValidationPopulation       = NewValidationError("INVALID_POPULATION", "population must be positive")
	ErrValidationGroupSize        = NewValidationError("INVALID_GROUP_SIZE", "group size must be a positive integer")
	ErrValidationWeightsInvalid   = NewValidationError("INVALID_WEIGHTS", "weights must be non-negative with a positive sum")
	ErrValidationDecayInvalid     = NewValidationError("INVALID_DECAY", "decay must be positive")
	ErrValidationThresholdInvalid = NewValidationError("INVALID_THRESHOLD", "thresholds must be positive fractions")
)

// ValidationError represents a validation error with parameter-level details
type ValidationError struct {
	*AppError
	Field    string      `json:"field,omitempty"`
	Value    interface{} `json:"value,omitempty"`
	Expected interface{} `json:"expected,omitempty"`
	Rule     string      `json:"rule,omitempty"`
}

// NewFieldValidationError creates a parameter-specific validation error
func NewFieldValidationError(field, rule string, value, expected interface{}) *ValidationError {
	return &ValidationError{
		AppError: &AppError{
			Type:       ErrorTypeValidation,
			Code:       "FIELD_VALIDATION_ERROR",
			Message:    fmt.Sprintf("field %q validation failed: %s", field, rule),
			Retryable:  false,
			HTTPStatus: 400,
		},
		Field:    field,
		Value:    value,
		Expected: expected,
		Rule:     rule,
	}
}

// NewModelValidationError creates a validation error for a privacy-model
// parameter out of its mathematical domain
func NewModelValidationError(model, field string, value interface{}, constraint string) *ValidationError {
	return &ValidationError{
		AppError: &AppError{
			Type:       ErrorTypeValidation,
			Code:       CodeOutOfDomain,
			Message:    fmt.Sprintf("%s: %s=%v violates %s", model, field, value, constraint),
			Retryable:  false,
			HTTPStatus: 400,
		},
		Field:    field,
		Value:    value,
		Expected: constraint,
		Rule:     "domain",
	}
}

// WrapValidationError wraps an error with parameter context
func WrapValidationError(err error, field string, value interface{}) *ValidationError {
	if err == nil {
		return nil
	}
	return &ValidationError{
		AppError: WrapError(err, ErrorTypeValidation, "VALIDATION_ERROR", "validation failed"),
		Field:    field,
		Value:    value,
	}
}

// WithField adds field information to the validation error
func (ve *ValidationError) WithField(field string) *ValidationError {
	ve.Field = field
	return ve
}

// WithValue adds value information to the validation error
func (ve *ValidationError) WithValue(value interface{}) *ValidationError {
	ve.Value = value
	return ve
}

// WithExpected adds expected value information to the validation error
func (ve *ValidationError) WithExpected(expected interface{}) *ValidationError {
	ve.Expected = expected
	return ve
}
