package scheduling

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/inferloop/dpledger/pkg/errors"
	"github.com/inferloop/dpledger/pkg/models"
)

// Scheduler divides a fixed total (epsilon, delta) into sub-allocations
// for tasks or ordered time windows. It holds no spend state; pairing an
// allocation with a ledger is the caller's job.
type Scheduler struct {
	total models.PrivacyBudget
}

// NewScheduler builds a scheduler over the given total budget.
func NewScheduler(totalEpsilon, totalDelta float64) (*Scheduler, error) {
	total, err := models.NewPrivacyBudget(totalEpsilon, totalDelta)
	if err != nil {
		return nil, err
	}
	return &Scheduler{total: total}, nil
}

// Total returns the budget the scheduler divides.
func (s *Scheduler) Total() models.PrivacyBudget {
	return s.total
}

// AllocateUniform splits the total equally across the given keys.
func (s *Scheduler) AllocateUniform(keys []string) (map[string]models.PrivacyBudget, error) {
	if len(keys) == 0 {
		return nil, errors.NewValidationError(errors.CodeInvalidInput,
			"allocation keys cannot be empty")
	}
	share := s.total.Scale(1 / float64(len(keys)))
	allocations := make(map[string]models.PrivacyBudget, len(keys))
	for _, key := range keys {
		if _, exists := allocations[key]; exists {
			return nil, errors.NewValidationError(errors.CodeInvalidInput,
				fmt.Sprintf("duplicate allocation key %q", key))
		}
		allocations[key] = share
	}
	return allocations, nil
}

// AllocateProportional splits the total by non-negative weight share.
func (s *Scheduler) AllocateProportional(weights map[string]float64) (map[string]models.PrivacyBudget, error) {
	if len(weights) == 0 {
		return nil, errors.NewValidationError(errors.CodeInvalidInput,
			"weights cannot be empty")
	}
	values := make([]float64, 0, len(weights))
	for _, weight := range weights {
		values = append(values, weight)
	}
	totalWeight := floats.Sum(values)
	if math.IsNaN(totalWeight) || totalWeight <= 0 {
		return nil, errors.NewValidationError(errors.CodeInvalidInput,
			"weights must sum to a positive value")
	}
	allocations := make(map[string]models.PrivacyBudget, len(weights))
	for key, weight := range weights {
		if math.IsNaN(weight) || math.IsInf(weight, 0) || weight < 0 {
			return nil, errors.NewValidationError(errors.CodeInvalidInput,
				fmt.Sprintf("weight for %q must be finite and non-negative", key))
		}
		allocations[key] = s.total.Scale(weight / totalWeight)
	}
	return allocations, nil
}

// AllocateWindows divides the total across windowCount ordered windows
// with geometric decay. decay=1 gives a uniform split; decay<1 gives
// earlier windows a larger share; decay>1 favors later windows.
func (s *Scheduler) AllocateWindows(windowCount int, decay float64) ([]models.PrivacyBudget, error) {
	if windowCount <= 0 {
		return nil, errors.NewValidationError(errors.CodeInvalidInput,
			"window count must be positive")
	}
	if math.IsNaN(decay) || math.IsInf(decay, 0) || decay <= 0 {
		return nil, errors.NewValidationError(errors.CodeInvalidInput,
			"decay must be positive and finite")
	}

	windows := make([]models.PrivacyBudget, windowCount)
	if decay == 1 {
		share := s.total.Scale(1 / float64(windowCount))
		for i := range windows {
			windows[i] = share
		}
		return windows, nil
	}

	// Geometric series weights 1, decay, decay^2, ...
	weights := make([]float64, windowCount)
	for i := range weights {
		weights[i] = math.Pow(decay, float64(i))
	}
	totalWeight := floats.Sum(weights)
	for i, weight := range weights {
		windows[i] = s.total.Scale(weight / totalWeight)
	}
	return windows, nil
}

// RemainingAfterAllocation computes the residual budget once the given
// allocations are handed out, floored at zero per component.
func (s *Scheduler) RemainingAfterAllocation(allocations map[string]models.PrivacyBudget) models.PrivacyBudget {
	var spent models.PrivacyBudget
	for _, allocation := range allocations {
		spent = spent.Add(allocation)
	}
	return s.total.Sub(spent)
}

// RemainingAfterSeries is RemainingAfterAllocation for an ordered
// window series.
func (s *Scheduler) RemainingAfterSeries(series []models.PrivacyBudget) models.PrivacyBudget {
	var spent models.PrivacyBudget
	for _, allocation := range series {
		spent = spent.Add(allocation)
	}
	return s.total.Sub(spent)
}
