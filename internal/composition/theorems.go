package composition

import (
	"fmt"
	"math"

	"github.com/inferloop/dpledger/pkg/errors"
	"github.com/inferloop/dpledger/pkg/models"
)

// PureDPAdvancedBound applies advanced composition to pure DP events
// (all delta_i = 0):
//
//	epsilon = sqrt(2 ln(1/delta') * sum eps_i^2) + sum eps_i*(e^eps_i - 1)
//	delta   = delta'
//
// The square-root term vanishes when all epsilons are zero.
func PureDPAdvancedBound(epsilons []float64, deltaPrime float64) (Result, error) {
	if math.IsNaN(deltaPrime) || deltaPrime <= 0 {
		return Result{}, errors.NewValidationError(errors.CodeInvalidDelta,
			fmt.Sprintf("delta_prime must be positive, got %v", deltaPrime))
	}
	var sumSq, tail float64
	for _, eps := range epsilons {
		if !validBudgetComponent(eps) {
			return Result{}, errors.NewValidationError(errors.CodeInvalidEpsilon,
				fmt.Sprintf("epsilon must be finite and non-negative, got %v", eps))
		}
		sumSq += eps * eps
		tail += eps * (math.Exp(eps) - 1.0)
	}
	var epsTerm float64
	if sumSq > 0 {
		epsTerm = math.Sqrt(2.0 * math.Log(1.0/deltaPrime) * sumSq)
	}
	detail := map[string]interface{}{
		"rule":        "advanced-pure",
		"delta_prime": deltaPrime,
		"count":       len(epsilons),
	}
	return Result{Epsilon: epsTerm + tail, Delta: deltaPrime, Detail: detail}, nil
}

// StrongComposition applies the Dwork-Rothblum-Vadhan strong composition
// bound to k identical (epsilon, delta)-DP mechanisms:
//
//	epsilon' = sqrt(2k ln(1/delta_hat)) * eps + k*eps*(e^eps - 1)
//	delta'   = k*delta + delta_hat
func StrongComposition(epsilon, delta float64, k int, deltaHat float64) (Result, error) {
	if k <= 0 {
		return Result{}, errors.NewValidationError(errors.CodeInvalidInput,
			fmt.Sprintf("k must be positive, got %d", k))
	}
	if math.IsNaN(deltaHat) || deltaHat <= 0 {
		return Result{}, errors.NewValidationError(errors.CodeInvalidDelta,
			fmt.Sprintf("delta_hat must be positive, got %v", deltaHat))
	}
	if !validBudgetComponent(epsilon) {
		return Result{}, errors.NewValidationError(errors.CodeInvalidEpsilon,
			fmt.Sprintf("epsilon must be finite and non-negative, got %v", epsilon))
	}
	if !validBudgetComponent(delta) {
		return Result{}, errors.NewValidationError(errors.CodeInvalidDelta,
			fmt.Sprintf("delta must be finite and non-negative, got %v", delta))
	}
	kf := float64(k)
	epsPrime := math.Sqrt(2.0*kf*math.Log(1.0/deltaHat)) * epsilon
	epsPrime += kf * epsilon * (math.Exp(epsilon) - 1.0)
	detail := map[string]interface{}{
		"rule":      "strong",
		"k":         k,
		"delta_hat": deltaHat,
	}
	return Result{Epsilon: epsPrime, Delta: kf*delta + deltaHat, Detail: detail}, nil
}

// RDPComposition sums RDP epsilons at a fixed order and converts the
// total to (epsilon, delta)-DP.
func RDPComposition(rdpEpsilons []float64, order, targetDelta float64) (Result, error) {
	if math.IsNaN(order) || order <= 1 {
		return Result{}, errors.NewValidationError(errors.CodeInvalidAlpha,
			fmt.Sprintf("order must be > 1, got %v", order))
	}
	if err := validateUnitOpen("target_delta", targetDelta); err != nil {
		return Result{}, err
	}
	var total float64
	for _, eps := range rdpEpsilons {
		if !validBudgetComponent(eps) {
			return Result{}, errors.NewValidationError(errors.CodeInvalidEpsilon,
				fmt.Sprintf("rdp epsilon must be finite and non-negative, got %v", eps))
		}
		total += eps
	}
	epsilon, err := models.RDPToCDP(order, total, targetDelta)
	if err != nil {
		return Result{}, err
	}
	detail := map[string]interface{}{
		"rule":        "rdp",
		"order":       order,
		"rdp_epsilon": total,
		"count":       len(rdpEpsilons),
	}
	return Result{Epsilon: epsilon, Delta: targetDelta, Detail: detail}, nil
}

// GDPComposition composes mu-GDP guarantees in L2 (mu = sqrt(sum mu_i^2))
// and converts the total to (epsilon, delta)-DP via the zCDP bridge.
func GDPComposition(mus []float64, targetDelta float64) (Result, error) {
	if err := validateUnitOpen("target_delta", targetDelta); err != nil {
		return Result{}, err
	}
	var muSq float64
	for _, mu := range mus {
		if math.IsNaN(mu) || math.IsInf(mu, 0) || mu <= 0 {
			return Result{}, errors.NewValidationError(errors.CodeInvalidMu,
				fmt.Sprintf("mu must be finite and positive, got %v", mu))
		}
		muSq += mu * mu
	}
	if muSq == 0 {
		return Zero(map[string]interface{}{"rule": "gdp", "mu": 0.0, "delta": targetDelta}), nil
	}
	muTotal := math.Sqrt(muSq)
	epsilon, err := models.GDPToCDP(muTotal, targetDelta)
	if err != nil {
		return Result{}, err
	}
	detail := map[string]interface{}{
		"rule":  "gdp",
		"mu":    muTotal,
		"delta": targetDelta,
	}
	return Result{Epsilon: epsilon, Delta: targetDelta, Detail: detail}, nil
}

// OptimalComposition picks the tighter applicable bound: strong
// composition when all events carry identical (epsilon, delta), advanced
// composition otherwise.
func OptimalComposition(events []models.PrivacyEvent, deltaHat float64) (Result, error) {
	if err := validateEvents(events); err != nil {
		return Result{}, err
	}
	if len(events) == 0 {
		return Zero(map[string]interface{}{"rule": "optimal", "count": 0}), nil
	}
	if uniformEvents(events) {
		result, err := StrongComposition(events[0].Epsilon, events[0].Delta, len(events), deltaHat)
		if err != nil {
			return Result{}, err
		}
		result.Detail["rule"] = "optimal"
		result.Detail["strategy"] = "strong"
		return result, nil
	}
	result, err := AdvancedComposition(events, deltaHat)
	if err != nil {
		return Result{}, err
	}
	result.Detail["rule"] = "optimal"
	result.Detail["strategy"] = "advanced"
	return result, nil
}

// CompareCompositionPaths evaluates the strong and advanced bounds for
// the same event list so callers can pick or report the tighter path.
func CompareCompositionPaths(events []models.PrivacyEvent, deltaHat float64) (map[string]Result, error) {
	if err := validateEvents(events); err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, errors.NewValidationError(errors.CodeEmptyEvents, "no events to compare")
	}
	strong, err := StrongComposition(events[0].Epsilon, events[0].Delta, len(events), deltaHat)
	if err != nil {
		return nil, err
	}
	epsilons := make([]float64, len(events))
	for i, event := range events {
		epsilons[i] = event.Epsilon
	}
	advanced, err := PureDPAdvancedBound(epsilons, deltaHat)
	if err != nil {
		return nil, err
	}
	return map[string]Result{"strong": strong, "advanced": advanced}, nil
}

// CheckNonDecreasing verifies that candidate spending is at least the
// baseline on both components. Used to guard ledger updates.
func CheckNonDecreasing(baseline, candidate models.PrivacyBudget) error {
	if candidate.Epsilon < baseline.Epsilon || candidate.Delta < baseline.Delta {
		return errors.NewValidationError(errors.CodeInvalidInput,
			fmt.Sprintf("privacy spending decreased: baseline %s, candidate %s", baseline, candidate))
	}
	return nil
}

func uniformEvents(events []models.PrivacyEvent) bool {
	for _, event := range events[1:] {
		if event.Epsilon != events[0].Epsilon || event.Delta != events[0].Delta {
			return false
		}
	}
	return true
}

func validBudgetComponent(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0) && x >= 0
}
