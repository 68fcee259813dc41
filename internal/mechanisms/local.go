package mechanisms

import (
	"math"

	"github.com/inferloop/dpledger/pkg/errors"
	"github.com/inferloop/dpledger/pkg/models"
)

// expEpsilon guards the exp(epsilon) term shared by the frequency
// oracles against overflow for absurdly large epsilon.
func expEpsilon(epsilon float64) (float64, error) {
	e := math.Exp(epsilon)
	if math.IsInf(e, 0) {
		return 0, errors.NewValidationError(errors.CodeInvalidEpsilon,
			"epsilon is too large to calibrate")
	}
	return e, nil
}

// localResult wraps a calibration in the LDP guarantee every local
// mechanism shares.
func localResult(b base, epsilon float64, noiseParams map[string]float64, metadata map[string]interface{}) (*models.CalibrationResult, error) {
	guarantee, err := models.NewGuarantee(models.LDP{Epsilon: epsilon}, b.mechanismType)
	if err != nil {
		return nil, err
	}
	guarantee.Metadata = metadata
	return &models.CalibrationResult{
		Mechanism:   b.mechanismType,
		Model:       models.PrivacyModelLDP,
		NoiseParams: noiseParams,
		Guarantee:   guarantee,
	}, nil
}

// GRRMechanism is generalized randomized response over a finite domain
// of k categories: report the truth with p = e^eps/(e^eps+k-1), any
// other category with q = 1/(e^eps+k-1).
type GRRMechanism struct {
	base
}

func NewGRRMechanism() *GRRMechanism {
	return &GRRMechanism{base{
		mechanismType: models.MechanismGRR,
		name:          "Generalized Randomized Response",
		description:   "Direct-encoding frequency oracle that keeps the true category with calibrated probability.",
	}}
}

func (m *GRRMechanism) ValidateParameters(params models.CalibrationParams) error {
	if err := requirePositiveEpsilon(params.Epsilon); err != nil {
		return err
	}
	return requireDomainSize(params.DomainSize)
}

func (m *GRRMechanism) Calibrate(params models.CalibrationParams) (*models.CalibrationResult, error) {
	if err := m.ValidateParameters(params); err != nil {
		return nil, err
	}
	expEps, err := expEpsilon(params.Epsilon)
	if err != nil {
		return nil, err
	}
	k := float64(params.DomainSize)
	denom := expEps + k - 1
	return localResult(m.base, params.Epsilon, map[string]float64{
		"p":           expEps / denom,
		"q":           1 / denom,
		"domain_size": k,
		"epsilon":     params.Epsilon,
	}, nil)
}

func (m *GRRMechanism) Guarantee(params models.CalibrationParams) (models.PrivacyGuarantee, error) {
	result, err := m.Calibrate(params)
	if err != nil {
		return models.PrivacyGuarantee{}, err
	}
	return result.Guarantee, nil
}

// OUEMechanism is optimized unary encoding: 1-bits survive with p=1/2,
// 0-bits flip on with q = 1/(e^eps+1).
type OUEMechanism struct {
	base
}

func NewOUEMechanism() *OUEMechanism {
	return &OUEMechanism{base{
		mechanismType: models.MechanismOUE,
		name:          "Optimized Unary Encoding",
		description:   "Unary-encoding frequency oracle with asymmetric bit perturbation tuned for low variance.",
	}}
}

func (m *OUEMechanism) ValidateParameters(params models.CalibrationParams) error {
	if err := requirePositiveEpsilon(params.Epsilon); err != nil {
		return err
	}
	return requireDomainSize(params.DomainSize)
}

func (m *OUEMechanism) Calibrate(params models.CalibrationParams) (*models.CalibrationResult, error) {
	if err := m.ValidateParameters(params); err != nil {
		return nil, err
	}
	expEps, err := expEpsilon(params.Epsilon)
	if err != nil {
		return nil, err
	}
	return localResult(m.base, params.Epsilon, map[string]float64{
		"p":           0.5,
		"q":           1 / (expEps + 1),
		"domain_size": float64(params.DomainSize),
		"epsilon":     params.Epsilon,
	}, nil)
}

func (m *OUEMechanism) Guarantee(params models.CalibrationParams) (models.PrivacyGuarantee, error) {
	result, err := m.Calibrate(params)
	if err != nil {
		return models.PrivacyGuarantee{}, err
	}
	return result.Guarantee, nil
}

// OLHMechanism is optimized local hashing: each user hashes into g
// buckets and randomizes with p = e^eps/(e^eps+g-1), q = 1/(e^eps+g-1).
type OLHMechanism struct {
	base
}

func NewOLHMechanism() *OLHMechanism {
	return &OLHMechanism{base{
		mechanismType: models.MechanismOLH,
		name:          "Optimized Local Hashing",
		description:   "Hash-then-randomize frequency oracle for large categorical domains.",
	}}
}

func (m *OLHMechanism) ValidateParameters(params models.CalibrationParams) error {
	if err := requirePositiveEpsilon(params.Epsilon); err != nil {
		return err
	}
	return requireHashRange(params.HashRange)
}

func (m *OLHMechanism) Calibrate(params models.CalibrationParams) (*models.CalibrationResult, error) {
	if err := m.ValidateParameters(params); err != nil {
		return nil, err
	}
	expEps, err := expEpsilon(params.Epsilon)
	if err != nil {
		return nil, err
	}
	g := float64(params.HashRange)
	denom := expEps + g - 1
	noiseParams := map[string]float64{
		"p":          expEps / denom,
		"q":          1 / denom,
		"hash_range": g,
		"epsilon":    params.Epsilon,
	}
	if params.DomainSize > 0 {
		noiseParams["domain_size"] = float64(params.DomainSize)
	}
	return localResult(m.base, params.Epsilon, noiseParams, nil)
}

func (m *OLHMechanism) Guarantee(params models.CalibrationParams) (models.PrivacyGuarantee, error) {
	result, err := m.Calibrate(params)
	if err != nil {
		return models.PrivacyGuarantee{}, err
	}
	return result.Guarantee, nil
}

// RAPPORMechanism randomizes every bit of a unary encoding
// symmetrically with p = e^eps/(e^eps+1).
type RAPPORMechanism struct {
	base
}

func NewRAPPORMechanism() *RAPPORMechanism {
	return &RAPPORMechanism{base{
		mechanismType: models.MechanismRAPPOR,
		name:          "RAPPOR",
		description:   "Symmetric bit-vector randomizer in the basic one-time RAPPOR configuration.",
	}}
}

func (m *RAPPORMechanism) ValidateParameters(params models.CalibrationParams) error {
	if err := requirePositiveEpsilon(params.Epsilon); err != nil {
		return err
	}
	return requireDomainSize(params.DomainSize)
}

func (m *RAPPORMechanism) Calibrate(params models.CalibrationParams) (*models.CalibrationResult, error) {
	if err := m.ValidateParameters(params); err != nil {
		return nil, err
	}
	expEps, err := expEpsilon(params.Epsilon)
	if err != nil {
		return nil, err
	}
	return localResult(m.base, params.Epsilon, map[string]float64{
		"p":           expEps / (expEps + 1),
		"q":           1 / (expEps + 1),
		"domain_size": float64(params.DomainSize),
		"epsilon":     params.Epsilon,
	}, nil)
}

func (m *RAPPORMechanism) Guarantee(params models.CalibrationParams) (models.PrivacyGuarantee, error) {
	result, err := m.Calibrate(params)
	if err != nil {
		return models.PrivacyGuarantee{}, err
	}
	return result.Guarantee, nil
}

// UnaryRandomizerMechanism flips unary-encoded bits with the symmetric
// keep probability derived from epsilon. The encoder differs from
// RAPPOR downstream; the calibration surface is the same symmetric
// pair.
type UnaryRandomizerMechanism struct {
	base
}

func NewUnaryRandomizerMechanism() *UnaryRandomizerMechanism {
	return &UnaryRandomizerMechanism{base{
		mechanismType: models.MechanismUnaryRandomizer,
		name:          "Unary Randomizer",
		description:   "Per-bit randomizer over unary encodings with symmetric keep/flip probabilities.",
	}}
}

func (m *UnaryRandomizerMechanism) ValidateParameters(params models.CalibrationParams) error {
	if err := requirePositiveEpsilon(params.Epsilon); err != nil {
		return err
	}
	return requireDomainSize(params.DomainSize)
}

func (m *UnaryRandomizerMechanism) Calibrate(params models.CalibrationParams) (*models.CalibrationResult, error) {
	if err := m.ValidateParameters(params); err != nil {
		return nil, err
	}
	expEps, err := expEpsilon(params.Epsilon)
	if err != nil {
		return nil, err
	}
	return localResult(m.base, params.Epsilon, map[string]float64{
		"p":           expEps / (expEps + 1),
		"q":           1 / (expEps + 1),
		"domain_size": float64(params.DomainSize),
		"epsilon":     params.Epsilon,
	}, nil)
}

func (m *UnaryRandomizerMechanism) Guarantee(params models.CalibrationParams) (models.PrivacyGuarantee, error) {
	result, err := m.Calibrate(params)
	if err != nil {
		return models.PrivacyGuarantee{}, err
	}
	return result.Guarantee, nil
}

// LocalLaplaceMechanism perturbs a bounded numeric input of width
// Sensitivity with Laplace noise of scale width/epsilon.
type LocalLaplaceMechanism struct {
	base
}

func NewLocalLaplaceMechanism() *LocalLaplaceMechanism {
	return &LocalLaplaceMechanism{base{
		mechanismType: models.MechanismLocalLaplace,
		name:          "Local Laplace Mechanism",
		description:   "Client-side Laplace noise over a bounded numeric input.",
	}}
}

func (m *LocalLaplaceMechanism) ValidateParameters(params models.CalibrationParams) error {
	if err := requirePositiveEpsilon(params.Epsilon); err != nil {
		return err
	}
	_, err := sensitivityOrDefault(params.Sensitivity)
	return err
}

func (m *LocalLaplaceMechanism) Calibrate(params models.CalibrationParams) (*models.CalibrationResult, error) {
	if err := requirePositiveEpsilon(params.Epsilon); err != nil {
		return nil, err
	}
	width, err := sensitivityOrDefault(params.Sensitivity)
	if err != nil {
		return nil, err
	}
	return localResult(m.base, params.Epsilon, map[string]float64{
		"scale":   width / params.Epsilon,
		"width":   width,
		"epsilon": params.Epsilon,
	}, nil)
}

func (m *LocalLaplaceMechanism) Guarantee(params models.CalibrationParams) (models.PrivacyGuarantee, error) {
	result, err := m.Calibrate(params)
	if err != nil {
		return models.PrivacyGuarantee{}, err
	}
	return result.Guarantee, nil
}

// LocalGaussianMechanism is the approximate-DP variant of client-side
// numeric perturbation. The reported guarantee stays in the LDP model;
// the relaxation delta rides along as guarantee metadata so a ledger
// bridge can pick it up.
type LocalGaussianMechanism struct {
	base
}

func NewLocalGaussianMechanism() *LocalGaussianMechanism {
	return &LocalGaussianMechanism{base{
		mechanismType: models.MechanismLocalGaussian,
		name:          "Local Gaussian Mechanism",
		description:   "Client-side Gaussian noise over a bounded numeric input with an (epsilon, delta) relaxation.",
	}}
}

func (m *LocalGaussianMechanism) ValidateParameters(params models.CalibrationParams) error {
	if err := requirePositiveEpsilon(params.Epsilon); err != nil {
		return err
	}
	if err := requireUnitDelta(params.Delta); err != nil {
		return err
	}
	_, err := sensitivityOrDefault(params.Sensitivity)
	return err
}

func (m *LocalGaussianMechanism) Calibrate(params models.CalibrationParams) (*models.CalibrationResult, error) {
	if err := m.ValidateParameters(params); err != nil {
		return nil, err
	}
	width, err := sensitivityOrDefault(params.Sensitivity)
	if err != nil {
		return nil, err
	}
	// Floor keeps sigma finite for vanishingly small epsilon.
	sigma := width * math.Sqrt(2*math.Log(1.25/params.Delta)) / math.Max(params.Epsilon, 1e-9)
	return localResult(m.base, params.Epsilon, map[string]float64{
		"sigma":   sigma,
		"width":   width,
		"epsilon": params.Epsilon,
		"delta":   params.Delta,
	}, map[string]interface{}{"delta": params.Delta})
}

func (m *LocalGaussianMechanism) Guarantee(params models.CalibrationParams) (models.PrivacyGuarantee, error) {
	result, err := m.Calibrate(params)
	if err != nil {
		return models.PrivacyGuarantee{}, err
	}
	return result.Guarantee, nil
}

// PiecewiseMechanism reports a value from a piecewise-constant density
// over a clipped [-1, 1] input.
type PiecewiseMechanism struct {
	base
}

func NewPiecewiseMechanism() *PiecewiseMechanism {
	return &PiecewiseMechanism{base{
		mechanismType: models.MechanismPiecewise,
		name:          "Piecewise Mechanism",
		description:   "Piecewise-constant numeric randomizer for mean estimation over clipped inputs.",
	}}
}

func (m *PiecewiseMechanism) ValidateParameters(params models.CalibrationParams) error {
	return requirePositiveEpsilon(params.Epsilon)
}

func (m *PiecewiseMechanism) Calibrate(params models.CalibrationParams) (*models.CalibrationResult, error) {
	if err := m.ValidateParameters(params); err != nil {
		return nil, err
	}
	return localResult(m.base, params.Epsilon, map[string]float64{
		"noise_scale": 1 / params.Epsilon,
		"clip_low":    -1,
		"clip_high":   1,
		"epsilon":     params.Epsilon,
	}, nil)
}

func (m *PiecewiseMechanism) Guarantee(params models.CalibrationParams) (models.PrivacyGuarantee, error) {
	result, err := m.Calibrate(params)
	if err != nil {
		return models.PrivacyGuarantee{}, err
	}
	return result.Guarantee, nil
}

// DuchiMechanism reports one of two poles +/-(e^eps+1)/(e^eps-1); the
// probability of the positive pole for input x in [-1, 1] is
// (e^eps*(1+x) + (1-x)) / (2*(e^eps+1)).
type DuchiMechanism struct {
	base
}

func NewDuchiMechanism() *DuchiMechanism {
	return &DuchiMechanism{base{
		mechanismType: models.MechanismDuchi,
		name:          "Duchi Mechanism",
		description:   "Two-point numeric randomizer producing an unbiased mean estimator over clipped inputs.",
	}}
}

func (m *DuchiMechanism) ValidateParameters(params models.CalibrationParams) error {
	return requirePositiveEpsilon(params.Epsilon)
}

func (m *DuchiMechanism) Calibrate(params models.CalibrationParams) (*models.CalibrationResult, error) {
	if err := m.ValidateParameters(params); err != nil {
		return nil, err
	}
	expEps, err := expEpsilon(params.Epsilon)
	if err != nil {
		return nil, err
	}
	return localResult(m.base, params.Epsilon, map[string]float64{
		"exp_epsilon":      expEps,
		"output_magnitude": (expEps + 1) / (expEps - 1),
		"clip_low":         -1,
		"clip_high":        1,
		"epsilon":          params.Epsilon,
	}, nil)
}

func (m *DuchiMechanism) Guarantee(params models.CalibrationParams) (models.PrivacyGuarantee, error) {
	result, err := m.Calibrate(params)
	if err != nil {
		return models.PrivacyGuarantee{}, err
	}
	return result.Guarantee, nil
}
