package errors

import (
	"fmt"
)

// BudgetExceededError reports a well-formed spend that would breach the
// ceiling. It carries the requested and available amounts so callers can
// decide whether to reduce, split, or abandon the request.
type BudgetExceededError struct {
	*AppError
	RequestedEpsilon float64 `json:"requested_epsilon"`
	RequestedDelta   float64 `json:"requested_delta"`
	AvailableEpsilon float64 `json:"available_epsilon"`
	AvailableDelta   float64 `json:"available_delta"`
	Accountant       string  `json:"accountant,omitempty"`
	UserKey          string  `json:"user_key,omitempty"`
}

// NewBudgetExceededError creates a budget-exceeded error for a single spend
func NewBudgetExceededError(requestedEps, requestedDelta, availableEps, availableDelta float64) *BudgetExceededError {
	return &BudgetExceededError{
		AppError: &AppError{
			Type: ErrorTypeBudget,
			Code: CodeBudgetExceeded,
			Message: fmt.Sprintf("requested (epsilon=%g, delta=%g) exceeds remaining (epsilon=%g, delta=%g)",
				requestedEps, requestedDelta, availableEps, availableDelta),
			Cause:      ErrBudgetExceeded,
			Retryable:  false,
			HTTPStatus: 403,
		},
		RequestedEpsilon: requestedEps,
		RequestedDelta:   requestedDelta,
		AvailableEpsilon: availableEps,
		AvailableDelta:   availableDelta,
	}
}

// NewPerUserBudgetExceededError creates a budget-exceeded error for a
// per-user local-DP ceiling
func NewPerUserBudgetExceededError(userKey string, requested, limit float64) *BudgetExceededError {
	return &BudgetExceededError{
		AppError: &AppError{
			Type: ErrorTypeBudget,
			Code: CodePerUserBudgetExceeded,
			Message: fmt.Sprintf("user %q: cumulative epsilon %g exceeds per-user limit %g",
				userKey, requested, limit),
			Cause:      ErrPerUserBudgetExceeded,
			Retryable:  false,
			HTTPStatus: 403,
		},
		RequestedEpsilon: requested,
		AvailableEpsilon: limit,
		UserKey:          userKey,
	}
}

// Unwrap exposes the embedded AppError so errors.As can reach the
// type, code, and HTTP status. The sentinel cause stays reachable one
// level further down for errors.Is.
func (e *BudgetExceededError) Unwrap() error {
	return e.AppError
}

// WithAccountant attaches the accountant name to the error
func (e *BudgetExceededError) WithAccountant(name string) *BudgetExceededError {
	e.Accountant = name
	return e
}
