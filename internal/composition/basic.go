package composition

import (
	"fmt"
	"math"

	"github.com/inferloop/dpledger/pkg/errors"
	"github.com/inferloop/dpledger/pkg/models"
)

// LinearAddition sums epsilon and delta lists component-wise.
func LinearAddition(epsilons, deltas []float64) Result {
	var epsTotal, deltaTotal float64
	for _, eps := range epsilons {
		epsTotal += eps
	}
	for _, delta := range deltas {
		deltaTotal += delta
	}
	return Result{Epsilon: epsTotal, Delta: deltaTotal, Detail: map[string]interface{}{"rule": "linear"}}
}

// Sequential composes events with the default sequential rule.
func Sequential(events []models.PrivacyEvent) (Result, error) {
	return NewSequentialRule().Compose(events)
}

// Parallel composes events with the default parallel rule: one group per
// event, component-wise max across groups.
func Parallel(events []models.PrivacyEvent) (Result, error) {
	return NewParallelRule().Compose(events)
}

// RepeatedMechanism scales a single mechanism's cost linearly across
// repeated invocations.
func RepeatedMechanism(epsilon, delta float64, repetitions int) (Result, error) {
	if repetitions <= 0 {
		return Result{}, errors.NewValidationError(errors.CodeInvalidInput,
			fmt.Sprintf("repetitions must be positive, got %d", repetitions))
	}
	if !validBudgetComponent(epsilon) {
		return Result{}, errors.NewValidationError(errors.CodeInvalidEpsilon,
			fmt.Sprintf("epsilon must be finite and non-negative, got %v", epsilon))
	}
	if !validBudgetComponent(delta) {
		return Result{}, errors.NewValidationError(errors.CodeInvalidDelta,
			fmt.Sprintf("delta must be finite and non-negative, got %v", delta))
	}
	k := float64(repetitions)
	detail := map[string]interface{}{"rule": "linear", "repetitions": repetitions}
	return Result{Epsilon: epsilon * k, Delta: delta * k, Detail: detail}, nil
}

// PostProcessingInvariance re-emits an event unchanged, annotating the
// metadata to record that post-processing closure was applied. The
// privacy cost never changes under post-processing.
func PostProcessingInvariance(event models.PrivacyEvent) (models.PrivacyEvent, error) {
	if err := event.Validate(); err != nil {
		return models.PrivacyEvent{}, err
	}
	meta := make(map[string]interface{}, len(event.Metadata)+1)
	for k, v := range event.Metadata {
		meta[k] = v
	}
	composition, ok := meta["composition"].(map[string]interface{})
	if !ok {
		composition = map[string]interface{}{}
	}
	composition["post_processing"] = true
	meta["composition"] = composition
	event.Metadata = meta
	return event, nil
}

// GroupPrivacy lifts an (epsilon, delta)-DP guarantee to groups of k
// correlated records. Epsilon scales linearly; delta is amplified by
// sum_{i=0}^{k-1} e^(i*epsilon), with pure DP keeping delta at zero.
func GroupPrivacy(event models.PrivacyEvent, groupSize int) (Result, error) {
	if groupSize <= 0 {
		return Result{}, errors.NewValidationError(errors.CodeInvalidInput,
			fmt.Sprintf("group_size must be positive, got %d", groupSize))
	}
	if err := event.Validate(); err != nil {
		return Result{}, err
	}
	epsilon := event.Epsilon * float64(groupSize)
	var delta float64
	if event.Delta != 0 {
		var factor float64
		for i := 0; i < groupSize; i++ {
			factor += math.Exp(event.Epsilon * float64(i))
		}
		delta = event.Delta * factor
	}
	detail := map[string]interface{}{"rule": "group_privacy", "group_size": groupSize}
	return Result{Epsilon: epsilon, Delta: delta, Detail: detail}, nil
}
