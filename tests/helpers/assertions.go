package helpers

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/inferloop/dpledger/pkg/models"
)

// AssertFloatEquals compares floats within a tolerance. NaN equals NaN and
// infinities must match exactly.
func AssertFloatEquals(t *testing.T, expected, actual, tolerance float64, msgAndArgs ...interface{}) bool {
	t.Helper()
	if math.IsNaN(expected) && math.IsNaN(actual) {
		return true
	}
	if math.IsInf(expected, 0) || math.IsInf(actual, 0) {
		return assert.Equal(t, expected, actual, msgAndArgs...)
	}
	return assert.InDelta(t, expected, actual, tolerance, msgAndArgs...)
}

// AssertBudgetEquals compares two budgets component-wise with a shared
// tolerance.
func AssertBudgetEquals(t *testing.T, expected, actual models.PrivacyBudget, tolerance float64) bool {
	t.Helper()
	epsOK := AssertFloatEquals(t, expected.Epsilon, actual.Epsilon, tolerance, "epsilon")
	deltaOK := AssertFloatEquals(t, expected.Delta, actual.Delta, tolerance, "delta")
	return epsOK && deltaOK
}
