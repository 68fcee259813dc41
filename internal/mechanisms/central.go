package mechanisms

import (
	"math"

	"github.com/inferloop/dpledger/pkg/errors"
	"github.com/inferloop/dpledger/pkg/models"
)

// LaplaceMechanism is the pure-DP workhorse: scale = sensitivity/epsilon.
type LaplaceMechanism struct {
	base
}

func NewLaplaceMechanism() *LaplaceMechanism {
	return &LaplaceMechanism{base{
		mechanismType: models.MechanismLaplace,
		name:          "Laplace Mechanism",
		description:   "Adds zero-mean Laplace noise calibrated to sensitivity/epsilon for pure epsilon-DP.",
	}}
}

func (m *LaplaceMechanism) ValidateParameters(params models.CalibrationParams) error {
	if err := requirePositiveEpsilon(params.Epsilon); err != nil {
		return err
	}
	_, err := sensitivityOrDefault(params.Sensitivity)
	return err
}

func (m *LaplaceMechanism) Calibrate(params models.CalibrationParams) (*models.CalibrationResult, error) {
	if err := requirePositiveEpsilon(params.Epsilon); err != nil {
		return nil, err
	}
	sensitivity, err := sensitivityOrDefault(params.Sensitivity)
	if err != nil {
		return nil, err
	}
	guarantee, err := models.NewGuarantee(models.PureDP{Epsilon: params.Epsilon}, m.mechanismType)
	if err != nil {
		return nil, err
	}
	return &models.CalibrationResult{
		Mechanism: m.mechanismType,
		Model:     models.PrivacyModelPureDP,
		NoiseParams: map[string]float64{
			"scale":       sensitivity / params.Epsilon,
			"sensitivity": sensitivity,
			"epsilon":     params.Epsilon,
		},
		Guarantee: guarantee,
	}, nil
}

func (m *LaplaceMechanism) Guarantee(params models.CalibrationParams) (models.PrivacyGuarantee, error) {
	result, err := m.Calibrate(params)
	if err != nil {
		return models.PrivacyGuarantee{}, err
	}
	return result.Guarantee, nil
}

// GaussianMechanism uses the common 1.25 calibration constant:
// sigma = sensitivity * sqrt(2*ln(1.25/delta)) / epsilon.
type GaussianMechanism struct {
	base
}

func NewGaussianMechanism() *GaussianMechanism {
	return &GaussianMechanism{base{
		mechanismType: models.MechanismGaussian,
		name:          "Gaussian Mechanism",
		description:   "Adds i.i.d. Gaussian noise calibrated for (epsilon, delta)-DP with the 1.25 constant.",
	}}
}

func (m *GaussianMechanism) ValidateParameters(params models.CalibrationParams) error {
	if err := requirePositiveEpsilon(params.Epsilon); err != nil {
		return err
	}
	if err := requireUnitDelta(params.Delta); err != nil {
		return err
	}
	_, err := sensitivityOrDefault(params.Sensitivity)
	return err
}

// Sigma returns the calibrated noise standard deviation.
func (m *GaussianMechanism) Sigma(params models.CalibrationParams) (float64, error) {
	if err := m.ValidateParameters(params); err != nil {
		return 0, err
	}
	sensitivity, err := sensitivityOrDefault(params.Sensitivity)
	if err != nil {
		return 0, err
	}
	return sensitivity * math.Sqrt(2*math.Log(1.25/params.Delta)) / params.Epsilon, nil
}

func (m *GaussianMechanism) Calibrate(params models.CalibrationParams) (*models.CalibrationResult, error) {
	sigma, err := m.Sigma(params)
	if err != nil {
		return nil, err
	}
	sensitivity, err := sensitivityOrDefault(params.Sensitivity)
	if err != nil {
		return nil, err
	}
	guarantee, err := models.NewGuarantee(models.CDP{Epsilon: params.Epsilon, Delta: params.Delta}, m.mechanismType)
	if err != nil {
		return nil, err
	}
	return &models.CalibrationResult{
		Mechanism: m.mechanismType,
		Model:     models.PrivacyModelCDP,
		NoiseParams: map[string]float64{
			"sigma":       sigma,
			"sensitivity": sensitivity,
			"epsilon":     params.Epsilon,
			"delta":       params.Delta,
		},
		Guarantee: guarantee,
	}, nil
}

func (m *GaussianMechanism) Guarantee(params models.CalibrationParams) (models.PrivacyGuarantee, error) {
	result, err := m.Calibrate(params)
	if err != nil {
		return models.PrivacyGuarantee{}, err
	}
	return result.Guarantee, nil
}

// Guarantees returns every model view of one calibrated Gaussian
// release: the (epsilon, delta) target plus the zCDP and GDP readings of
// the same sigma. Feeding all of them to a ledger allocation yields the
// conservative normalized spend across the alternative analyses.
func (m *GaussianMechanism) Guarantees(params models.CalibrationParams) ([]models.PrivacyGuarantee, error) {
	result, err := m.Calibrate(params)
	if err != nil {
		return nil, err
	}
	sigma := result.NoiseParams["sigma"]
	sensitivity := result.NoiseParams["sensitivity"]

	zcdp, err := models.NewGuarantee(models.ZCDP{Rho: GaussianRho(sigma, sensitivity)}, m.mechanismType)
	if err != nil {
		return nil, err
	}
	gdp, err := models.NewGuarantee(models.GDP{Mu: GaussianMu(sigma, sensitivity)}, m.mechanismType)
	if err != nil {
		return nil, err
	}
	return []models.PrivacyGuarantee{result.Guarantee, zcdp, gdp}, nil
}

// ExponentialMechanism selects among candidates with weight
// exp(epsilon * utility / (2 * sensitivity)).
type ExponentialMechanism struct {
	base
}

func NewExponentialMechanism() *ExponentialMechanism {
	return &ExponentialMechanism{base{
		mechanismType: models.MechanismExponential,
		name:          "Exponential Mechanism",
		description:   "Samples a candidate with probability proportional to exp(epsilon*utility/(2*sensitivity)).",
	}}
}

func (m *ExponentialMechanism) ValidateParameters(params models.CalibrationParams) error {
	if err := requirePositiveEpsilon(params.Epsilon); err != nil {
		return err
	}
	_, err := sensitivityOrDefault(params.Sensitivity)
	return err
}

func (m *ExponentialMechanism) Calibrate(params models.CalibrationParams) (*models.CalibrationResult, error) {
	if err := m.ValidateParameters(params); err != nil {
		return nil, err
	}
	sensitivity, err := sensitivityOrDefault(params.Sensitivity)
	if err != nil {
		return nil, err
	}
	guarantee, err := models.NewGuarantee(models.PureDP{Epsilon: params.Epsilon}, m.mechanismType)
	if err != nil {
		return nil, err
	}
	return &models.CalibrationResult{
		Mechanism: m.mechanismType,
		Model:     models.PrivacyModelPureDP,
		NoiseParams: map[string]float64{
			"weight_scale": params.Epsilon / (2 * sensitivity),
			"sensitivity":  sensitivity,
			"epsilon":      params.Epsilon,
		},
		Guarantee: guarantee,
	}, nil
}

func (m *ExponentialMechanism) Guarantee(params models.CalibrationParams) (models.PrivacyGuarantee, error) {
	result, err := m.Calibrate(params)
	if err != nil {
		return models.PrivacyGuarantee{}, err
	}
	return result.Guarantee, nil
}

// GeometricMechanism is the discrete Laplace for integer queries:
// decay = exp(-epsilon/sensitivity).
type GeometricMechanism struct {
	base
}

func NewGeometricMechanism() *GeometricMechanism {
	return &GeometricMechanism{base{
		mechanismType: models.MechanismGeometric,
		name:          "Geometric Mechanism",
		description:   "Adds symmetric two-sided geometric noise for integer-valued queries under pure epsilon-DP.",
	}}
}

func (m *GeometricMechanism) ValidateParameters(params models.CalibrationParams) error {
	if err := requirePositiveEpsilon(params.Epsilon); err != nil {
		return err
	}
	_, err := sensitivityOrDefault(params.Sensitivity)
	return err
}

func (m *GeometricMechanism) Calibrate(params models.CalibrationParams) (*models.CalibrationResult, error) {
	return calibrateGeometricDecay(m.base, params, nil)
}

func (m *GeometricMechanism) Guarantee(params models.CalibrationParams) (models.PrivacyGuarantee, error) {
	result, err := m.Calibrate(params)
	if err != nil {
		return models.PrivacyGuarantee{}, err
	}
	return result.Guarantee, nil
}

// StaircaseMechanism shares the geometric decay calibration and adds a
// fractional offset gamma in [0, 1].
type StaircaseMechanism struct {
	base
	// Gamma sets the fractional offset of the staircase steps.
	Gamma float64
}

func NewStaircaseMechanism() *StaircaseMechanism {
	return &StaircaseMechanism{
		base: base{
			mechanismType: models.MechanismStaircase,
			name:          "Staircase Mechanism",
			description:   "Geometric-tailed staircase noise with a fractional step offset for pure epsilon-DP.",
		},
		Gamma: 0.5,
	}
}

func (m *StaircaseMechanism) ValidateParameters(params models.CalibrationParams) error {
	if err := requirePositiveEpsilon(params.Epsilon); err != nil {
		return err
	}
	if math.IsNaN(m.Gamma) || m.Gamma < 0 || m.Gamma > 1 {
		return errors.NewValidationError(errors.CodeInvalidInput,
			"gamma must be in [0, 1]")
	}
	_, err := sensitivityOrDefault(params.Sensitivity)
	return err
}

func (m *StaircaseMechanism) Calibrate(params models.CalibrationParams) (*models.CalibrationResult, error) {
	if err := m.ValidateParameters(params); err != nil {
		return nil, err
	}
	extra := map[string]float64{"gamma": m.Gamma}
	return calibrateGeometricDecay(m.base, params, extra)
}

func (m *StaircaseMechanism) Guarantee(params models.CalibrationParams) (models.PrivacyGuarantee, error) {
	result, err := m.Calibrate(params)
	if err != nil {
		return models.PrivacyGuarantee{}, err
	}
	return result.Guarantee, nil
}

// calibrateGeometricDecay derives the shared decay/success probability
// pair used by the geometric and staircase mechanisms.
func calibrateGeometricDecay(b base, params models.CalibrationParams, extra map[string]float64) (*models.CalibrationResult, error) {
	if err := requirePositiveEpsilon(params.Epsilon); err != nil {
		return nil, err
	}
	sensitivity, err := sensitivityOrDefault(params.Sensitivity)
	if err != nil {
		return nil, err
	}
	rate := params.Epsilon / sensitivity
	decay := math.Exp(-rate)
	successProb := 1 - decay
	if successProb <= 0 || successProb >= 1 {
		return nil, errors.NewValidationError(errors.CodeInvalidInput,
			"epsilon/sensitivity ratio yields a degenerate geometric distribution")
	}
	guarantee, err := models.NewGuarantee(models.PureDP{Epsilon: params.Epsilon}, b.mechanismType)
	if err != nil {
		return nil, err
	}
	noiseParams := map[string]float64{
		"rate":         rate,
		"decay":        decay,
		"success_prob": successProb,
		"sensitivity":  sensitivity,
	}
	for key, value := range extra {
		noiseParams[key] = value
	}
	return &models.CalibrationResult{
		Mechanism:   b.mechanismType,
		Model:       models.PrivacyModelPureDP,
		NoiseParams: noiseParams,
		Guarantee:   guarantee,
	}, nil
}

// VectorDistribution selects the per-coordinate noise family of the
// vector mechanism.
type VectorDistribution string

const (
	VectorLaplace  VectorDistribution = "laplace"
	VectorGaussian VectorDistribution = "gaussian"
)

// VectorMechanism adds independent noise to each coordinate of a
// vector-valued query.
type VectorMechanism struct {
	base
	Distribution VectorDistribution
	// NormOrder is the sensitivity norm: 1 for L1, 2 for L2.
	NormOrder int
}

func NewVectorMechanism() *VectorMechanism {
	return &VectorMechanism{
		base: base{
			mechanismType: models.MechanismVector,
			name:          "Vector Mechanism",
			description:   "Adds independent per-coordinate noise to vector-valued queries.",
		},
		Distribution: VectorGaussian,
		NormOrder:    2,
	}
}

func (m *VectorMechanism) ValidateParameters(params models.CalibrationParams) error {
	if m.Distribution != VectorLaplace && m.Distribution != VectorGaussian {
		return errors.NewValidationError(errors.CodeInvalidConfig,
			"distribution must be laplace or gaussian")
	}
	if m.NormOrder != 1 && m.NormOrder != 2 {
		return errors.NewValidationError(errors.CodeInvalidConfig,
			"norm order must be 1 or 2")
	}
	if err := requirePositiveEpsilon(params.Epsilon); err != nil {
		return err
	}
	if m.Distribution == VectorGaussian {
		if err := requireUnitDelta(params.Delta); err != nil {
			return err
		}
	}
	_, err := sensitivityOrDefault(params.Sensitivity)
	return err
}

func (m *VectorMechanism) Calibrate(params models.CalibrationParams) (*models.CalibrationResult, error) {
	if err := m.ValidateParameters(params); err != nil {
		return nil, err
	}
	sensitivity, err := sensitivityOrDefault(params.Sensitivity)
	if err != nil {
		return nil, err
	}
	noiseParams := map[string]float64{
		"sensitivity": sensitivity,
		"epsilon":     params.Epsilon,
		"norm_order":  float64(m.NormOrder),
	}
	delta := 0.0
	if m.Distribution == VectorLaplace {
		noiseParams["scale"] = sensitivity / params.Epsilon
	} else {
		delta = params.Delta
		noiseParams["delta"] = delta
		noiseParams["sigma"] = sensitivity * math.Sqrt(2*math.Log(1.25/delta)) / params.Epsilon
	}
	guarantee, err := models.NewGuarantee(models.CDP{Epsilon: params.Epsilon, Delta: delta}, m.mechanismType)
	if err != nil {
		return nil, err
	}
	return &models.CalibrationResult{
		Mechanism:   m.mechanismType,
		Model:       models.PrivacyModelCDP,
		NoiseParams: noiseParams,
		Guarantee:   guarantee,
	}, nil
}

func (m *VectorMechanism) Guarantee(params models.CalibrationParams) (models.PrivacyGuarantee, error) {
	result, err := m.Calibrate(params)
	if err != nil {
		return models.PrivacyGuarantee{}, err
	}
	return result.Guarantee, nil
}
