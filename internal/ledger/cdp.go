package ledger

import (
	"fmt"
	"strings"

	"github.com/inferloop/dpledger/internal/composition"
	"github.com/inferloop/dpledger/pkg/errors"
	"github.com/inferloop/dpledger/pkg/models"
)

// AccountingMethod selects the composition strategy used by the CDP
// facade accountant.
type AccountingMethod string

const (
	MethodBasic    AccountingMethod = "basic"
	MethodAdvanced AccountingMethod = "advanced"
	MethodStrong   AccountingMethod = "strong"
	MethodRDP      AccountingMethod = "rdp"
	MethodZCDP     AccountingMethod = "zcdp"
	MethodGDP      AccountingMethod = "gdp"
	MethodOptimal  AccountingMethod = "optimal"
)

// AccountingMethods lists the supported methods.
var AccountingMethods = []AccountingMethod{
	MethodBasic,
	MethodAdvanced,
	MethodStrong,
	MethodRDP,
	MethodZCDP,
	MethodGDP,
	MethodOptimal,
}

// ParseAccountingMethod converts a case-insensitive name into an
// AccountingMethod.
func ParseAccountingMethod(name string) (AccountingMethod, error) {
	method := AccountingMethod(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range AccountingMethods {
		if method == known {
			return method, nil
		}
	}
	return "", errors.NewValidationError(errors.CodeInvalidMethod,
		fmt.Sprintf("unknown accounting method %q", name))
}

// ComposeParams carries the per-call knobs of the composition dispatch.
// Zero values select the documented defaults; RDP, zCDP, and GDP
// accounting require an explicit TargetDelta.
type ComposeParams struct {
	// Method overrides the accountant's default strategy for one call.
	Method AccountingMethod
	// DeltaPrime is the advanced-composition slack. Zero means 1e-6.
	DeltaPrime float64
	// DeltaHat is the strong/optimal-composition slack. Zero means 1e-6.
	DeltaHat float64
	// K is the repetition count for strong composition. Zero means the
	// number of events.
	K int
	// Order is the RDP order. Required for the rdp method.
	Order float64
	// TargetDelta converts zCDP/RDP/GDP totals back to (epsilon, delta).
	// Required for those methods.
	TargetDelta float64
	// RDPEpsilons, Rhos, and Mus override metadata extraction for their
	// respective methods.
	RDPEpsilons []float64
	Rhos        []float64
	Mus         []float64
}

// CDPAccountant wraps a ledger with a default composition strategy, so
// central-DP callers can compose planned batches and record aggregates
// without touching the composition package directly.
type CDPAccountant struct {
	ledger *Accountant
	method AccountingMethod
}

// NewCDPAccountant creates a facade over the given ledger.
func NewCDPAccountant(ledger *Accountant, method AccountingMethod) (*CDPAccountant, error) {
	if ledger == nil {
		return nil, errors.NewValidationError(errors.CodeInvalidConfig, "ledger must not be nil")
	}
	if method == "" {
		method = MethodBasic
	}
	parsed, err := ParseAccountingMethod(string(method))
	if err != nil {
		return nil, err
	}
	return &CDPAccountant{ledger: ledger, method: parsed}, nil
}

// Ledger exposes the wrapped accountant.
func (c *CDPAccountant) Ledger() *Accountant {
	return c.ledger
}

// Method returns the default accounting method.
func (c *CDPAccountant) Method() AccountingMethod {
	return c.method
}

// Compose evaluates the privacy cost of a batch of events under the
// configured (or overridden) accounting method without recording
// anything.
func (c *CDPAccountant) Compose(events []models.PrivacyEvent, params ComposeParams) (composition.Result, error) {
	method := params.Method
	if method == "" {
		method = c.method
	}

	switch method {
	case MethodBasic:
		return composition.Sequential(events)

	case MethodAdvanced:
		deltaPrime := params.DeltaPrime
		if deltaPrime == 0 {
			deltaPrime = models.DefaultTargetDelta
		}
		return composition.AdvancedComposition(events, deltaPrime)

	case MethodStrong:
		epsilon, delta, err := uniformEpsilonDelta(events)
		if err != nil {
			return composition.Result{}, err
		}
		k := params.K
		if k == 0 {
			k = len(events)
		}
		deltaHat := params.DeltaHat
		if deltaHat == 0 {
			deltaHat = models.DefaultTargetDelta
		}
		return composition.StrongComposition(epsilon, delta, k, deltaHat)

	case MethodRDP:
		if params.Order == 0 {
			return composition.Result{}, errors.NewValidationError(errors.CodeInvalidAlpha,
				"rdp accounting requires an explicit order")
		}
		if params.TargetDelta == 0 {
			return composition.Result{}, errors.NewValidationError(errors.CodeInvalidDelta,
				"rdp accounting requires an explicit target_delta")
		}
		epsilons := params.RDPEpsilons
		if epsilons == nil {
			var err error
			epsilons, err = extractField(events, "rdp_epsilon")
			if err != nil {
				return composition.Result{}, err
			}
		}
		return composition.RDPComposition(epsilons, params.Order, params.TargetDelta)

	case MethodZCDP:
		if params.TargetDelta == 0 {
			return composition.Result{}, errors.NewValidationError(errors.CodeInvalidDelta,
				"zcdp accounting requires an explicit target_delta")
		}
		rhos := params.Rhos
		if rhos == nil {
			var err error
			rhos, err = extractField(events, "rho")
			if err != nil {
				return composition.Result{}, err
			}
		}
		return composition.RhoZCDPComposition(rhos, params.TargetDelta)

	case MethodGDP:
		if params.TargetDelta == 0 {
			return composition.Result{}, errors.NewValidationError(errors.CodeInvalidDelta,
				"gdp accounting requires an explicit target_delta")
		}
		mus := params.Mus
		if mus == nil {
			var err error
			mus, err = extractField(events, "mu")
			if err != nil {
				return composition.Result{}, err
			}
		}
		return composition.GDPComposition(mus, params.TargetDelta)

	case MethodOptimal:
		deltaHat := params.DeltaHat
		if deltaHat == 0 {
			deltaHat = models.DefaultTargetDelta
		}
		return composition.OptimalComposition(events, deltaHat)

	default:
		return composition.Result{}, errors.NewValidationError(errors.CodeInvalidMethod,
			fmt.Sprintf("unknown accounting method %q", method))
	}
}

// AddComposedEvent composes the batch and records the aggregate as a
// single ledger event carrying the composition detail in its metadata.
func (c *CDPAccountant) AddComposedEvent(events []models.PrivacyEvent, params ComposeParams, description string) (models.PrivacyEvent, error) {
	result, err := c.Compose(events, params)
	if err != nil {
		return models.PrivacyEvent{}, err
	}
	method := params.Method
	if method == "" {
		method = c.method
	}
	if description == "" {
		description = fmt.Sprintf("composed %d events via %s", len(events), method)
	}
	return c.ledger.AddEvent(EventRequest{
		Epsilon:     result.Epsilon,
		Delta:       result.Delta,
		Description: description,
		Metadata: map[string]interface{}{
			"composition": result.Detail,
			"method":      string(method),
			"count":       len(events),
		},
	})
}

// uniformEpsilonDelta verifies that every event carries the same
// (epsilon, delta) and returns that pair.
func uniformEpsilonDelta(events []models.PrivacyEvent) (float64, float64, error) {
	if len(events) == 0 {
		return 0, 0, errors.NewValidationError(errors.CodeEmptyEvents,
			"strong composition requires at least one event")
	}
	epsilon := events[0].Epsilon
	delta := events[0].Delta
	for _, event := range events[1:] {
		if event.Epsilon != epsilon || event.Delta != delta {
			return 0, 0, errors.NewValidationError(errors.CodeNonUniform,
				"strong composition requires uniform epsilon/delta")
		}
	}
	return epsilon, delta, nil
}

// extractField pulls a numeric metadata field from every event, erroring
// when any event lacks it.
func extractField(events []models.PrivacyEvent, key string) ([]float64, error) {
	values := make([]float64, 0, len(events))
	for i, event := range events {
		// Typed parameters win over metadata when both carry the key.
		if value, ok := event.Parameters[key]; ok {
			values = append(values, value)
			continue
		}
		value, err := composition.MetadataFloat(event, key)
		if err != nil {
			return nil, errors.NewValidationError(errors.CodeMissingField,
				fmt.Sprintf("event %d: metadata field %q missing or non-numeric", i, key)).WithCause(err)
		}
		values = append(values, value)
	}
	return values, nil
}
