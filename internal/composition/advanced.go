package composition

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/inferloop/dpledger/pkg/errors"
	"github.com/inferloop/dpledger/pkg/models"
)

func validateUnitOpen(name string, value float64) error {
	if math.IsNaN(value) || value <= 0 || value >= 1 {
		return errors.NewValidationError(errors.CodeInvalidDelta,
			fmt.Sprintf("%s must be in (0, 1), got %v", name, value))
	}
	return nil
}

// AdvancedComposition applies the advanced composition theorem to
// heterogeneous (epsilon, delta) events:
//
//	epsilon = sqrt(2 ln(1/delta') * sum_i eps_i^2) + sum_i eps_i*(e^eps_i - 1)
//	delta   = delta' + sum_i delta_i
//
// deltaPrime is the slack delta spent by the theorem itself.
func AdvancedComposition(events []models.PrivacyEvent, deltaPrime float64) (Result, error) {
	if err := validateEvents(events); err != nil {
		return Result{}, err
	}
	if len(events) == 0 {
		return Zero(map[string]interface{}{"rule": "advanced", "count": 0}), nil
	}
	if err := validateUnitOpen("delta_prime", deltaPrime); err != nil {
		return Result{}, err
	}

	var sumSq, tail, sumDelta float64
	for _, event := range events {
		sumSq += event.Epsilon * event.Epsilon
		tail += event.Epsilon * (math.Exp(event.Epsilon) - 1.0)
		sumDelta += event.Delta
	}
	epsilon := math.Sqrt(2.0*math.Log(1.0/deltaPrime)*sumSq) + tail
	detail := map[string]interface{}{
		"rule":        "advanced",
		"delta_prime": deltaPrime,
		"count":       len(events),
		"sum_sq":      sumSq,
	}
	return Result{Epsilon: epsilon, Delta: deltaPrime + sumDelta, Detail: detail}, nil
}

// RhoZCDPComposition sums rho values under zCDP composition and converts
// the total back to (epsilon, delta)-DP at the target delta.
func RhoZCDPComposition(rhos []float64, targetDelta float64) (Result, error) {
	for _, rho := range rhos {
		if math.IsNaN(rho) || rho < 0 {
			return Result{}, errors.NewValidationError(errors.CodeInvalidRho,
				fmt.Sprintf("rho values must be non-negative, got %v", rho))
		}
	}
	if err := validateUnitOpen("target_delta", targetDelta); err != nil {
		return Result{}, err
	}

	var rhoTotal float64
	for _, rho := range rhos {
		rhoTotal += rho
	}
	if rhoTotal == 0 {
		return Zero(map[string]interface{}{"rule": "rho-zcdp", "rho": 0.0, "delta": targetDelta}), nil
	}
	epsilon, err := models.ZCDPToCDP(rhoTotal, targetDelta)
	if err != nil {
		return Result{}, err
	}
	detail := map[string]interface{}{"rule": "rho-zcdp", "rho": rhoTotal, "delta": targetDelta}
	return Result{Epsilon: epsilon, Delta: targetDelta, Detail: detail}, nil
}

// AdvancedRule wraps AdvancedComposition as a composition rule.
type AdvancedRule struct {
	DeltaPrime float64
}

// NewAdvancedRule creates an advanced composition rule with the given
// slack delta.
func NewAdvancedRule(deltaPrime float64) (*AdvancedRule, error) {
	if err := validateUnitOpen("delta_prime", deltaPrime); err != nil {
		return nil, err
	}
	return &AdvancedRule{DeltaPrime: deltaPrime}, nil
}

func (r *AdvancedRule) Compose(events []models.PrivacyEvent) (Result, error) {
	return AdvancedComposition(events, r.DeltaPrime)
}

func (r *AdvancedRule) GetName() string {
	return "advanced"
}

func (r *AdvancedRule) GetDescription() string {
	return "Advanced composition theorem with sqrt(k) epsilon growth and additive delta slack"
}

// RhoZCDPRule composes events carrying per-event rho metadata under
// zCDP and converts back to (epsilon, delta) at the configured delta.
type RhoZCDPRule struct {
	TargetDelta float64
}

// NewRhoZCDPRule creates a rho-zCDP composition rule.
func NewRhoZCDPRule(targetDelta float64) (*RhoZCDPRule, error) {
	if err := validateUnitOpen("target_delta", targetDelta); err != nil {
		return nil, err
	}
	return &RhoZCDPRule{TargetDelta: targetDelta}, nil
}

func (r *RhoZCDPRule) Compose(events []models.PrivacyEvent) (Result, error) {
	if err := validateEvents(events); err != nil {
		return Result{}, err
	}
	rhos := make([]float64, 0, len(events))
	for i, event := range events {
		rho, err := MetadataFloat(event, "rho")
		if err != nil {
			return Result{}, errors.NewValidationError(errors.CodeMissingField,
				fmt.Sprintf("event %d: rho metadata missing or invalid", i)).WithCause(err)
		}
		if rho < 0 {
			return Result{}, errors.NewValidationError(errors.CodeInvalidRho,
				fmt.Sprintf("event %d: rho values must be non-negative, got %v", i, rho))
		}
		rhos = append(rhos, rho)
	}
	return RhoZCDPComposition(rhos, r.TargetDelta)
}

func (r *RhoZCDPRule) GetName() string {
	return "rho-zcdp"
}

func (r *RhoZCDPRule) GetDescription() string {
	return "zCDP composition: rho values add, then convert to (epsilon, delta) at the target delta"
}

// MetadataFloat extracts a numeric metadata field from an event.
func MetadataFloat(event models.PrivacyEvent, key string) (float64, error) {
	raw, ok := event.Metadata[key]
	if !ok {
		return 0, errors.NewValidationError(errors.CodeMissingField,
			fmt.Sprintf("metadata field %q missing", key))
	}
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, errors.NewValidationError(errors.CodeInvalidInput,
				fmt.Sprintf("metadata field %q is not numeric: %v", key, raw)).WithCause(err)
		}
		return f, nil
	default:
		return 0, errors.NewValidationError(errors.CodeInvalidInput,
			fmt.Sprintf("metadata field %q is not numeric: %T", key, raw))
	}
}
