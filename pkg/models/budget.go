package models

import (
	"fmt"
	"math"

	"github.com/inferloop/dpledger/pkg/errors"
)

// PrivacyBudget is an immutable (epsilon, delta) pair in the central
// (epsilon, delta)-DP model. Both components are finite and non-negative.
type PrivacyBudget struct {
	Epsilon float64 `json:"epsilon"`
	Delta   float64 `json:"delta"`
}

// NewPrivacyBudget creates a validated budget
func NewPrivacyBudget(epsilon, delta float64) (PrivacyBudget, error) {
	b := PrivacyBudget{Epsilon: epsilon, Delta: delta}
	if err := b.Validate(); err != nil {
		return PrivacyBudget{}, err
	}
	return b, nil
}

// Validate checks that both components are finite and non-negative
func (b PrivacyBudget) Validate() error {
	if !isFiniteNonNegative(b.Epsilon) {
		return errors.ErrValidationEpsilonInvalid.WithDetails(fmt.Sprintf("epsilon=%v", b.Epsilon))
	}
	if !isFiniteNonNegative(b.Delta) {
		return errors.ErrValidationDeltaInvalid.WithDetails(fmt.Sprintf("delta=%v", b.Delta))
	}
	return nil
}

// Add returns the componentwise sum
func (b PrivacyBudget) Add(other PrivacyBudget) PrivacyBudget {
	return PrivacyBudget{
		Epsilon: b.Epsilon + other.Epsilon,
		Delta:   b.Delta + other.Delta,
	}
}

// Sub returns the componentwise difference, floored at zero
func (b PrivacyBudget) Sub(other PrivacyBudget) PrivacyBudget {
	return PrivacyBudget{
		Epsilon: math.Max(0, b.Epsilon-other.Epsilon),
		Delta:   math.Max(0, b.Delta-other.Delta),
	}
}

// Max returns the componentwise maximum
func (b PrivacyBudget) Max(other PrivacyBudget) PrivacyBudget {
	return PrivacyBudget{
		Epsilon: math.Max(b.Epsilon, other.Epsilon),
		Delta:   math.Max(b.Delta, other.Delta),
	}
}

// Scale returns the budget with both components multiplied by f
func (b PrivacyBudget) Scale(f float64) PrivacyBudget {
	return PrivacyBudget{Epsilon: b.Epsilon * f, Delta: b.Delta * f}
}

// IsZero reports whether both components are zero
func (b PrivacyBudget) IsZero() bool {
	return b.Epsilon == 0 && b.Delta == 0
}

// Covers reports whether this budget can absorb the request within slack:
// request.epsilon <= b.epsilon + slack and the same for delta.
func (b PrivacyBudget) Covers(request PrivacyBudget, slack float64) bool {
	return request.Epsilon <= b.Epsilon+slack && request.Delta <= b.Delta+slack
}

func (b PrivacyBudget) String() string {
	return fmt.Sprintf("(epsilon=%g, delta=%g)", b.Epsilon, b.Delta)
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

func isFiniteNonNegative(x float64) bool {
	return isFinite(x) && x >= 0
}

func isUnitOpenInterval(x float64) bool {
	return !math.IsNaN(x) && x > 0 && x < 1
}
