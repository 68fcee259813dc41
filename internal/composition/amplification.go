package composition

import (
	"fmt"
	"math"

	"github.com/inferloop/dpledger/pkg/errors"
)

// Subsample applies privacy amplification by subsampling. A mechanism
// run on a q-fraction sample of the data enjoys
//
//	epsilon' = ln(1 + q*(e^epsilon - 1))
//	delta'   = q*delta
//
// for sampling rate q in (0, 1].
func Subsample(epsilon, delta, rate float64) (Result, error) {
	if math.IsNaN(rate) || rate <= 0 || rate > 1 {
		return Result{}, errors.NewValidationError(errors.CodeOutOfDomain,
			fmt.Sprintf("sampling rate must be in (0, 1], got %v", rate))
	}
	if !validBudgetComponent(epsilon) {
		return Result{}, errors.NewValidationError(errors.CodeInvalidEpsilon,
			fmt.Sprintf("epsilon must be finite and non-negative, got %v", epsilon))
	}
	if !validBudgetComponent(delta) {
		return Result{}, errors.NewValidationError(errors.CodeInvalidDelta,
			fmt.Sprintf("delta must be finite and non-negative, got %v", delta))
	}
	amplified := math.Log(1.0 + rate*(math.Exp(epsilon)-1.0))
	detail := map[string]interface{}{"rule": "subsample", "rate": rate}
	return Result{Epsilon: amplified, Delta: rate * delta, Detail: detail}, nil
}

// Shuffle applies a loose shuffle-model amplification heuristic that
// scales epsilon and delta by 1/sqrt(population).
func Shuffle(epsilon, delta float64, population int) (Result, error) {
	if population <= 0 {
		return Result{}, errors.NewValidationError(errors.CodeOutOfDomain,
			fmt.Sprintf("population must be positive, got %d", population))
	}
	if !validBudgetComponent(epsilon) {
		return Result{}, errors.NewValidationError(errors.CodeInvalidEpsilon,
			fmt.Sprintf("epsilon must be finite and non-negative, got %v", epsilon))
	}
	if !validBudgetComponent(delta) {
		return Result{}, errors.NewValidationError(errors.CodeInvalidDelta,
			fmt.Sprintf("delta must be finite and non-negative, got %v", delta))
	}
	scale := 1.0 / math.Sqrt(float64(population))
	detail := map[string]interface{}{"rule": "shuffle", "population": population}
	return Result{Epsilon: epsilon * scale, Delta: delta * scale, Detail: detail}, nil
}
