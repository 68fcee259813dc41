package composition

import (
	"github.com/inferloop/dpledger/pkg/models"
)

// Result carries the (epsilon, delta) outcome of a composition rule
// together with rule-specific detail for audit trails.
type Result struct {
	Epsilon float64                `json:"epsilon"`
	Delta   float64                `json:"delta"`
	Detail  map[string]interface{} `json:"detail"`
}

// Zero returns an empty result carrying the given detail map.
func Zero(detail map[string]interface{}) Result {
	if detail == nil {
		detail = map[string]interface{}{}
	}
	return Result{Epsilon: 0, Delta: 0, Detail: detail}
}

// Add combines two results component-wise. Detail maps are merged with
// the right-hand side winning on key conflicts.
func (r Result) Add(other Result) Result {
	detail := make(map[string]interface{}, len(r.Detail)+len(other.Detail))
	for k, v := range r.Detail {
		detail[k] = v
	}
	for k, v := range other.Detail {
		detail[k] = v
	}
	return Result{
		Epsilon: r.Epsilon + other.Epsilon,
		Delta:   r.Delta + other.Delta,
		Detail:  detail,
	}
}

// Budget converts the result into a privacy budget value.
func (r Result) Budget() models.PrivacyBudget {
	return models.PrivacyBudget{Epsilon: r.Epsilon, Delta: r.Delta}
}
