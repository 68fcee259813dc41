package composition

import (
	"fmt"
	"strconv"

	"github.com/inferloop/dpledger/pkg/errors"
	"github.com/inferloop/dpledger/pkg/models"
)

// Rule defines how the privacy cost of a sequence of events composes
// into a single (epsilon, delta) pair.
type Rule interface {
	Compose(events []models.PrivacyEvent) (Result, error)
	GetName() string
	GetDescription() string
}

// Aggregator folds a validated event slice into raw epsilon and delta
// totals. Used by SequentialRule to override the default summation.
type Aggregator func(events []models.PrivacyEvent) (epsilon, delta float64)

// GroupKey assigns an event to a parallel-composition group. Events with
// equal keys land in the same group.
type GroupKey func(event models.PrivacyEvent, index int) string

// Reducer merges per-group results into the final parallel result.
type Reducer func(groups []Result) Result

// Transform rewrites a base composition result for higher-order rules.
type Transform func(base Result, order int, events []models.PrivacyEvent) Result

func validateEvents(events []models.PrivacyEvent) error {
	for i, event := range events {
		if err := event.Validate(); err != nil {
			return errors.NewValidationError(errors.CodeInvalidInput,
				fmt.Sprintf("event %d failed validation", i)).WithCause(err)
		}
	}
	return nil
}

// SequentialRule aggregates privacy loss additively across events.
type SequentialRule struct {
	// Aggregator overrides the epsilon/delta accumulation. Nil means
	// plain summation, the basic sequential composition theorem.
	Aggregator Aggregator
}

// NewSequentialRule creates a sequential rule with the default summing
// aggregator.
func NewSequentialRule() *SequentialRule {
	return &SequentialRule{}
}

func (r *SequentialRule) Compose(events []models.PrivacyEvent) (Result, error) {
	if err := validateEvents(events); err != nil {
		return Result{}, err
	}
	aggregator := r.Aggregator
	if aggregator == nil {
		aggregator = sumAggregator
	}
	epsilon, delta := aggregator(events)
	detail := map[string]interface{}{"rule": r.GetName(), "count": len(events)}
	return Result{Epsilon: epsilon, Delta: delta, Detail: detail}, nil
}

func (r *SequentialRule) GetName() string {
	return "sequential"
}

func (r *SequentialRule) GetDescription() string {
	return "Sequential composition: eps_total = sum(eps_i), delta_total = sum(delta_i)"
}

func sumAggregator(events []models.PrivacyEvent) (float64, float64) {
	var epsilon, delta float64
	for _, event := range events {
		epsilon += event.Epsilon
		delta += event.Delta
	}
	return epsilon, delta
}

// ParallelRule composes events that touch disjoint sub-populations.
// Events are grouped, each group is composed with the inner rule, and
// the group results are reduced, by default to the component-wise max.
type ParallelRule struct {
	// GroupKey assigns events to groups. Nil places every event in its
	// own group, which degenerates to the max over individual events.
	GroupKey GroupKey
	// Inner composes the events inside one group. Nil means sequential.
	Inner Rule
	// Reducer merges the group results. Nil means component-wise max.
	Reducer Reducer
}

// NewParallelRule creates a parallel rule with one group per event and
// the max reducer.
func NewParallelRule() *ParallelRule {
	return &ParallelRule{}
}

func (r *ParallelRule) Compose(events []models.PrivacyEvent) (Result, error) {
	if len(events) == 0 {
		return Zero(map[string]interface{}{"rule": r.GetName(), "groups": 0}), nil
	}
	if err := validateEvents(events); err != nil {
		return Result{}, err
	}

	key := r.GroupKey
	if key == nil {
		key = func(_ models.PrivacyEvent, index int) string { return strconv.Itoa(index) }
	}
	inner := r.Inner
	if inner == nil {
		inner = NewSequentialRule()
	}
	reducer := r.Reducer
	if reducer == nil {
		reducer = r.maxReducer
	}

	// Group in first-seen key order so results are deterministic.
	grouped := make(map[string][]models.PrivacyEvent)
	var order []string
	for i, event := range events {
		k := key(event, i)
		if _, ok := grouped[k]; !ok {
			order = append(order, k)
		}
		grouped[k] = append(grouped[k], event)
	}

	groupResults := make([]Result, 0, len(order))
	for _, k := range order {
		result, err := inner.Compose(grouped[k])
		if err != nil {
			return Result{}, err
		}
		groupResults = append(groupResults, result)
	}
	return reducer(groupResults), nil
}

func (r *ParallelRule) GetName() string {
	return "parallel"
}

func (r *ParallelRule) GetDescription() string {
	return "Parallel composition over disjoint sub-populations: cost is the max across groups"
}

func (r *ParallelRule) maxReducer(groups []Result) Result {
	if len(groups) == 0 {
		return Zero(map[string]interface{}{"rule": r.GetName(), "groups": 0, "aggregator": "max"})
	}
	var epsilon, delta float64
	perGroup := make([]map[string]float64, 0, len(groups))
	for _, g := range groups {
		if g.Epsilon > epsilon {
			epsilon = g.Epsilon
		}
		if g.Delta > delta {
			delta = g.Delta
		}
		perGroup = append(perGroup, map[string]float64{"epsilon": g.Epsilon, "delta": g.Delta})
	}
	detail := map[string]interface{}{
		"rule":       r.GetName(),
		"groups":     len(groups),
		"aggregator": "max",
		"per_group":  perGroup,
	}
	return Result{Epsilon: epsilon, Delta: delta, Detail: detail}
}

// HigherOrderRule composes events with a base rule and then rewrites
// the result through a transform parameterized by an integer order.
type HigherOrderRule struct {
	Order int
	// Base composes the events before the transform. Nil means sequential.
	Base Rule
	// Transform rewrites the base result. Nil scales epsilon and delta
	// linearly by the order.
	Transform Transform
}

// NewHigherOrderRule creates a higher-order rule for the given order.
func NewHigherOrderRule(order int) (*HigherOrderRule, error) {
	if order <= 0 {
		return nil, errors.NewValidationError(errors.CodeInvalidInput,
			fmt.Sprintf("order must be positive, got %d", order))
	}
	return &HigherOrderRule{Order: order}, nil
}

func (r *HigherOrderRule) Compose(events []models.PrivacyEvent) (Result, error) {
	if r.Order <= 0 {
		return Result{}, errors.NewValidationError(errors.CodeInvalidInput,
			fmt.Sprintf("order must be positive, got %d", r.Order))
	}
	base := r.Base
	if base == nil {
		base = NewSequentialRule()
	}
	baseResult, err := base.Compose(events)
	if err != nil {
		return Result{}, err
	}
	transform := r.Transform
	if transform == nil {
		transform = r.defaultTransform
	}
	return transform(baseResult, r.Order, events), nil
}

func (r *HigherOrderRule) GetName() string {
	return "higher_order"
}

func (r *HigherOrderRule) GetDescription() string {
	return "Higher-order composition: base rule result transformed by an integer order"
}

func (r *HigherOrderRule) defaultTransform(base Result, order int, events []models.PrivacyEvent) Result {
	detail := map[string]interface{}{
		"rule":  r.GetName(),
		"order": order,
		"base":  map[string]interface{}{"epsilon": base.Epsilon, "delta": base.Delta, "detail": base.Detail},
		"count": len(events),
	}
	return Result{
		Epsilon: base.Epsilon * float64(order),
		Delta:   base.Delta * float64(order),
		Detail:  detail,
	}
}
