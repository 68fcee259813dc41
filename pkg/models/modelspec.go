package models

import (
	"fmt"
	"strings"

	"github.com/inferloop/dpledger/pkg/errors"
)

// PrivacyModel identifies one of the supported privacy-model families
type PrivacyModel string

const (
	PrivacyModelCDP    PrivacyModel = "cdp"     // (epsilon, delta)-DP
	PrivacyModelPureDP PrivacyModel = "pure_dp" // (epsilon, 0)-DP
	PrivacyModelLDP    PrivacyModel = "ldp"     // local DP (epsilon)
	PrivacyModelZCDP   PrivacyModel = "zcdp"    // rho-zCDP
	PrivacyModelRDP    PrivacyModel = "rdp"     // (alpha, epsilon)-RDP
	PrivacyModelGDP    PrivacyModel = "gdp"     // mu-GDP
)

// PrivacyModels lists all supported models in serialization order
var PrivacyModels = []PrivacyModel{
	PrivacyModelCDP,
	PrivacyModelPureDP,
	PrivacyModelLDP,
	PrivacyModelZCDP,
	PrivacyModelRDP,
	PrivacyModelGDP,
}

// ParsePrivacyModel converts a case-insensitive name into a PrivacyModel
func ParsePrivacyModel(name string) (PrivacyModel, error) {
	m := PrivacyModel(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range PrivacyModels {
		if m == known {
			return m, nil
		}
	}
	return "", errors.ErrValidationModelUnknown.WithDetails(fmt.Sprintf("model=%q", name))
}

// ConvertOptions carries the optional knobs for a model-to-CDP conversion.
// TargetDelta is required in spirit for zCDP/RDP/GDP inputs; when zero the
// default target delta (1e-6) is applied. RDPOrder overrides the order of
// an RDP spec when set.
type ConvertOptions struct {
	TargetDelta float64
	RDPOrder    float64
}

func (o ConvertOptions) targetDelta() float64 {
	if o.TargetDelta != 0 {
		return o.TargetDelta
	}
	return DefaultTargetDelta
}

// DefaultTargetDelta is applied when a conversion needs a target delta and
// the caller supplied none.
const DefaultTargetDelta = 1e-6

// ModelSpec is a tagged union over the six privacy-model variants. Each
// variant validates its own field set; validation always runs before a
// conversion is attempted. The CDP result of ToCDP is a value view and is
// not re-validated (pure-DP inputs legitimately produce delta=0).
type ModelSpec interface {
	// Model returns the variant tag
	Model() PrivacyModel
	// Validate checks the variant's parameters against its domain
	Validate() error
	// Params returns the numeric parameters attached to this spec
	Params() map[string]float64
	// ToCDP converts the spec to its (epsilon, delta)-DP equivalent
	ToCDP(opts ConvertOptions) (CDP, error)
}

// PureDP is (epsilon, 0)-DP
type PureDP struct {
	Epsilon float64 `json:"epsilon"`
}

func (s PureDP) Model() PrivacyModel { return PrivacyModelPureDP }

func (s PureDP) Validate() error {
	if !isFiniteNonNegative(s.Epsilon) {
		return errors.NewModelValidationError(string(s.Model()), "epsilon", s.Epsilon, "epsilon >= 0")
	}
	return nil
}

func (s PureDP) Params() map[string]float64 {
	return map[string]float64{"epsilon": s.Epsilon}
}

func (s PureDP) ToCDP(opts ConvertOptions) (CDP, error) {
	if err := s.Validate(); err != nil {
		return CDP{}, err
	}
	return CDP{Epsilon: s.Epsilon, Delta: 0}, nil
}

// LDP is local DP with per-report epsilon and no central delta cost
type LDP struct {
	Epsilon float64 `json:"epsilon"`
}

func (s LDP) Model() PrivacyModel { return PrivacyModelLDP }

func (s LDP) Validate() error {
	if !isFiniteNonNegative(s.Epsilon) {
		return errors.NewModelValidationError(string(s.Model()), "epsilon", s.Epsilon, "epsilon >= 0")
	}
	return nil
}

func (s LDP) Params() map[string]float64 {
	return map[string]float64{"epsilon": s.Epsilon}
}

func (s LDP) ToCDP(opts ConvertOptions) (CDP, error) {
	if err := s.Validate(); err != nil {
		return CDP{}, err
	}
	eps, delta, err := LDPToCDP(s.Epsilon)
	if err != nil {
		return CDP{}, err
	}
	return CDP{Epsilon: eps, Delta: delta}, nil
}

// CDP is approximate (epsilon, delta)-DP
type CDP struct {
	Epsilon float64 `json:"epsilon"`
	Delta   float64 `json:"delta"`
}

func (s CDP) Model() PrivacyModel { return PrivacyModelCDP }

func (s CDP) Validate() error {
	if !isFiniteNonNegative(s.Epsilon) {
		return errors.NewModelValidationError(string(s.Model()), "epsilon", s.Epsilon, "epsilon >= 0")
	}
	if !isUnitOpenInterval(s.Delta) {
		return errors.NewModelValidationError(string(s.Model()), "delta", s.Delta, "delta in (0,1)")
	}
	return nil
}

func (s CDP) Params() map[string]float64 {
	return map[string]float64{"epsilon": s.Epsilon, "delta": s.Delta}
}

func (s CDP) ToCDP(opts ConvertOptions) (CDP, error) {
	if err := s.Validate(); err != nil {
		return CDP{}, err
	}
	return s, nil
}

// Budget returns the CDP view as a budget value
func (s CDP) Budget() PrivacyBudget {
	return PrivacyBudget{Epsilon: s.Epsilon, Delta: s.Delta}
}

// ZCDP is zero-concentrated DP with parameter rho
type ZCDP struct {
	Rho float64 `json:"rho"`
}

func (s ZCDP) Model() PrivacyModel { return PrivacyModelZCDP }

func (s ZCDP) Validate() error {
	if !isFiniteNonNegative(s.Rho) {
		return errors.NewModelValidationError(string(s.Model()), "rho", s.Rho, "rho >= 0")
	}
	return nil
}

func (s ZCDP) Params() map[string]float64 {
	return map[string]float64{"rho": s.Rho}
}

func (s ZCDP) ToCDP(opts ConvertOptions) (CDP, error) {
	if err := s.Validate(); err != nil {
		return CDP{}, err
	}
	delta := opts.targetDelta()
	eps, err := ZCDPToCDP(s.Rho, delta)
	if err != nil {
		return CDP{}, err
	}
	return CDP{Epsilon: eps, Delta: delta}, nil
}

// RDP is Renyi DP at order alpha
type RDP struct {
	Alpha   float64 `json:"alpha"`
	Epsilon float64 `json:"epsilon"`
}

func (s RDP) Model() PrivacyModel { return PrivacyModelRDP }

func (s RDP) Validate() error {
	if !isFinite(s.Alpha) || s.Alpha <= 1 {
		return errors.NewModelValidationError(string(s.Model()), "alpha", s.Alpha, "alpha > 1")
	}
	if !isFiniteNonNegative(s.Epsilon) {
		return errors.NewModelValidationError(string(s.Model()), "epsilon", s.Epsilon, "epsilon >= 0")
	}
	return nil
}

func (s RDP) Params() map[string]float64 {
	return map[string]float64{"alpha": s.Alpha, "epsilon": s.Epsilon}
}

func (s RDP) ToCDP(opts ConvertOptions) (CDP, error) {
	if err := s.Validate(); err != nil {
		return CDP{}, err
	}
	order := s.Alpha
	if opts.RDPOrder != 0 {
		order = opts.RDPOrder
	}
	delta := opts.targetDelta()
	eps, err := RDPToCDP(order, s.Epsilon, delta)
	if err != nil {
		return CDP{}, err
	}
	return CDP{Epsilon: eps, Delta: delta}, nil
}

// GDP is Gaussian DP with parameter mu
type GDP struct {
	Mu float64 `json:"mu"`
}

func (s GDP) Model() PrivacyModel { return PrivacyModelGDP }

func (s GDP) Validate() error {
	if !isFinite(s.Mu) || s.Mu <= 0 {
		return errors.NewModelValidationError(string(s.Model()), "mu", s.Mu, "mu > 0")
	}
	return nil
}

func (s GDP) Params() map[string]float64 {
	return map[string]float64{"mu": s.Mu}
}

func (s GDP) ToCDP(opts ConvertOptions) (CDP, error) {
	if err := s.Validate(); err != nil {
		return CDP{}, err
	}
	delta := opts.targetDelta()
	eps, err := GDPToCDP(s.Mu, delta)
	if err != nil {
		return CDP{}, err
	}
	return CDP{Epsilon: eps, Delta: delta}, nil
}

// ParseModelSpec builds a validated ModelSpec from a model name and a
// parameter map, as received from CLI flags or API payloads.
func ParseModelSpec(model string, params map[string]float64) (ModelSpec, error) {
	m, err := ParsePrivacyModel(model)
	if err != nil {
		return nil, err
	}

	var spec ModelSpec
	switch m {
	case PrivacyModelPureDP:
		spec = PureDP{Epsilon: params["epsilon"]}
	case PrivacyModelLDP:
		spec = LDP{Epsilon: params["epsilon"]}
	case PrivacyModelCDP:
		spec = CDP{Epsilon: params["epsilon"], Delta: params["delta"]}
	case PrivacyModelZCDP:
		spec = ZCDP{Rho: params["rho"]}
	case PrivacyModelRDP:
		spec = RDP{Alpha: params["alpha"], Epsilon: params["epsilon"]}
	case PrivacyModelGDP:
		spec = GDP{Mu: params["mu"]}
	default:
		return nil, errors.ErrValidationModelUnknown.WithDetails(fmt.Sprintf("model=%q", model))
	}

	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}
