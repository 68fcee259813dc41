package mechanisms

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/dpledger/pkg/models"
)

func TestLaplaceCalibration(t *testing.T) {
	m := NewLaplaceMechanism()

	result, err := m.Calibrate(models.CalibrationParams{Epsilon: 1.0, Sensitivity: 2.0})
	require.NoError(t, err)

	assert.Equal(t, models.MechanismLaplace, result.Mechanism)
	assert.Equal(t, models.PrivacyModelPureDP, result.Model)
	assert.InDelta(t, 2.0, result.NoiseParams["scale"], 1e-12)
	assert.InDelta(t, 2.0, result.NoiseParams["sensitivity"], 1e-12)

	spec, ok := result.Guarantee.Spec.(models.PureDP)
	require.True(t, ok)
	assert.InDelta(t, 1.0, spec.Epsilon, 1e-12)
	assert.Equal(t, models.MechanismLaplace, result.Guarantee.Mechanism)
}

func TestLaplaceDefaultsSensitivityToOne(t *testing.T) {
	m := NewLaplaceMechanism()

	result, err := m.Calibrate(models.CalibrationParams{Epsilon: 0.5})
	require.NoError(t, err)
	assert.InDelta(t, 2.0, result.NoiseParams["scale"], 1e-12)
	assert.InDelta(t, 1.0, result.NoiseParams["sensitivity"], 1e-12)
}

func TestLaplaceRejectsBadParameters(t *testing.T) {
	m := NewLaplaceMechanism()

	tests := []struct {
		name   string
		params models.CalibrationParams
	}{
		{"zero epsilon", models.CalibrationParams{Epsilon: 0}},
		{"negative epsilon", models.CalibrationParams{Epsilon: -1}},
		{"nan epsilon", models.CalibrationParams{Epsilon: math.NaN()}},
		{"infinite epsilon", models.CalibrationParams{Epsilon: math.Inf(1)}},
		{"negative sensitivity", models.CalibrationParams{Epsilon: 1, Sensitivity: -2}},
		{"nan sensitivity", models.CalibrationParams{Epsilon: 1, Sensitivity: math.NaN()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, m.ValidateParameters(tt.params))
			_, err := m.Calibrate(tt.params)
			assert.Error(t, err)
		})
	}
}

func TestGaussianCalibration(t *testing.T) {
	m := NewGaussianMechanism()
	params := models.CalibrationParams{Epsilon: 1.0, Delta: 1e-5, Sensitivity: 1.0}

	result, err := m.Calibrate(params)
	require.NoError(t, err)

	wantSigma := math.Sqrt(2 * math.Log(1.25/1e-5))
	assert.Equal(t, models.PrivacyModelCDP, result.Model)
	assert.InDelta(t, wantSigma, result.NoiseParams["sigma"], 1e-12)
	assert.InDelta(t, 1e-5, result.NoiseParams["delta"], 1e-20)

	spec, ok := result.Guarantee.Spec.(models.CDP)
	require.True(t, ok)
	assert.InDelta(t, 1.0, spec.Epsilon, 1e-12)
	assert.InDelta(t, 1e-5, spec.Delta, 1e-20)

	sigma, err := m.Sigma(params)
	require.NoError(t, err)
	assert.InDelta(t, wantSigma, sigma, 1e-12)
}

func TestGaussianSigmaScalesWithSensitivityAndEpsilon(t *testing.T) {
	m := NewGaussianMechanism()

	base, err := m.Sigma(models.CalibrationParams{Epsilon: 1.0, Delta: 1e-5, Sensitivity: 1.0})
	require.NoError(t, err)

	doubledSens, err := m.Sigma(models.CalibrationParams{Epsilon: 1.0, Delta: 1e-5, Sensitivity: 2.0})
	require.NoError(t, err)
	assert.InDelta(t, 2*base, doubledSens, 1e-12)

	doubledEps, err := m.Sigma(models.CalibrationParams{Epsilon: 2.0, Delta: 1e-5, Sensitivity: 1.0})
	require.NoError(t, err)
	assert.InDelta(t, base/2, doubledEps, 1e-12)
}

func TestGaussianRequiresUnitDelta(t *testing.T) {
	m := NewGaussianMechanism()

	for _, delta := range []float64{0, 1, -0.1, 1.5, math.NaN()} {
		_, err := m.Calibrate(models.CalibrationParams{Epsilon: 1, Delta: delta})
		assert.Error(t, err, "delta %v should be rejected", delta)
	}
}

func TestGaussianGuaranteesCoverAllViews(t *testing.T) {
	m := NewGaussianMechanism()
	params := models.CalibrationParams{Epsilon: 1.0, Delta: 1e-5, Sensitivity: 1.0}

	guarantees, err := m.Guarantees(params)
	require.NoError(t, err)
	require.Len(t, guarantees, 3)

	sigma, err := m.Sigma(params)
	require.NoError(t, err)

	cdp, ok := guarantees[0].Spec.(models.CDP)
	require.True(t, ok)
	assert.InDelta(t, 1.0, cdp.Epsilon, 1e-12)

	zcdp, ok := guarantees[1].Spec.(models.ZCDP)
	require.True(t, ok)
	assert.InDelta(t, 1/(2*sigma*sigma), zcdp.Rho, 1e-15)

	gdp, ok := guarantees[2].Spec.(models.GDP)
	require.True(t, ok)
	assert.InDelta(t, 1/sigma, gdp.Mu, 1e-15)

	for _, g := range guarantees {
		assert.Equal(t, models.MechanismGaussian, g.Mechanism)
	}
}

func TestGaussianSupportsRelaxedModels(t *testing.T) {
	m := NewGaussianMechanism()

	supported := m.GetSupportedModels()
	assert.Contains(t, supported, models.PrivacyModelCDP)
	assert.Contains(t, supported, models.PrivacyModelZCDP)
	assert.Contains(t, supported, models.PrivacyModelRDP)
	assert.Contains(t, supported, models.PrivacyModelGDP)
	assert.NotContains(t, supported, models.PrivacyModelLDP)
}

func TestExponentialWeightScale(t *testing.T) {
	m := NewExponentialMechanism()

	result, err := m.Calibrate(models.CalibrationParams{Epsilon: 2.0, Sensitivity: 1.0})
	require.NoError(t, err)

	assert.Equal(t, models.PrivacyModelPureDP, result.Model)
	assert.InDelta(t, 1.0, result.NoiseParams["weight_scale"], 1e-12)

	spec, ok := result.Guarantee.Spec.(models.PureDP)
	require.True(t, ok)
	assert.InDelta(t, 2.0, spec.Epsilon, 1e-12)
}

func TestGeometricCalibration(t *testing.T) {
	m := NewGeometricMechanism()

	result, err := m.Calibrate(models.CalibrationParams{Epsilon: math.Log(2), Sensitivity: 1.0})
	require.NoError(t, err)

	assert.InDelta(t, math.Log(2), result.NoiseParams["rate"], 1e-12)
	assert.InDelta(t, 0.5, result.NoiseParams["decay"], 1e-12)
	assert.InDelta(t, 0.5, result.NoiseParams["success_prob"], 1e-12)
	assert.Equal(t, models.PrivacyModelPureDP, result.Model)
}

func TestGeometricRejectsDegenerateRatios(t *testing.T) {
	m := NewGeometricMechanism()

	// Rate so small the decay rounds to exactly 1.
	_, err := m.Calibrate(models.CalibrationParams{Epsilon: 1e-300, Sensitivity: 1.0})
	assert.Error(t, err)

	// Rate so large the decay underflows to 0.
	_, err = m.Calibrate(models.CalibrationParams{Epsilon: 1e6, Sensitivity: 1.0})
	assert.Error(t, err)
}

func TestStaircaseCarriesGamma(t *testing.T) {
	m := NewStaircaseMechanism()

	result, err := m.Calibrate(models.CalibrationParams{Epsilon: 1.0, Sensitivity: 1.0})
	require.NoError(t, err)

	assert.InDelta(t, 0.5, result.NoiseParams["gamma"], 1e-12)
	assert.InDelta(t, math.Exp(-1), result.NoiseParams["decay"], 1e-12)
	assert.Equal(t, models.PrivacyModelPureDP, result.Model)
}

func TestStaircaseRejectsGammaOutsideUnit(t *testing.T) {
	for _, gamma := range []float64{-0.1, 1.5, math.NaN()} {
		m := NewStaircaseMechanism()
		m.Gamma = gamma
		assert.Error(t, m.ValidateParameters(models.CalibrationParams{Epsilon: 1}),
			"gamma %v should be rejected", gamma)
	}
}

func TestVectorDefaultsToGaussianL2(t *testing.T) {
	m := NewVectorMechanism()
	require.Equal(t, VectorGaussian, m.Distribution)
	require.Equal(t, 2, m.NormOrder)

	result, err := m.Calibrate(models.CalibrationParams{Epsilon: 1.0, Delta: 1e-5, Sensitivity: 1.0})
	require.NoError(t, err)

	wantSigma := math.Sqrt(2 * math.Log(1.25/1e-5))
	assert.InDelta(t, wantSigma, result.NoiseParams["sigma"], 1e-12)
	assert.InDelta(t, 2.0, result.NoiseParams["norm_order"], 1e-12)
	assert.Equal(t, models.PrivacyModelCDP, result.Model)
}

func TestVectorLaplaceVariantSpendsPureBudget(t *testing.T) {
	m := NewVectorMechanism()
	m.Distribution = VectorLaplace
	m.NormOrder = 1

	result, err := m.Calibrate(models.CalibrationParams{Epsilon: 2.0, Sensitivity: 4.0})
	require.NoError(t, err)

	assert.InDelta(t, 2.0, result.NoiseParams["scale"], 1e-12)
	assert.InDelta(t, 1.0, result.NoiseParams["norm_order"], 1e-12)

	// The guarantee stays in the central model with a zero delta.
	spec, ok := result.Guarantee.Spec.(models.CDP)
	require.True(t, ok)
	assert.InDelta(t, 2.0, spec.Epsilon, 1e-12)
	assert.Zero(t, spec.Delta)
}

func TestVectorRejectsBadConfiguration(t *testing.T) {
	m := NewVectorMechanism()
	m.Distribution = VectorDistribution("cauchy")
	assert.Error(t, m.ValidateParameters(models.CalibrationParams{Epsilon: 1, Delta: 1e-5}))

	m = NewVectorMechanism()
	m.NormOrder = 3
	assert.Error(t, m.ValidateParameters(models.CalibrationParams{Epsilon: 1, Delta: 1e-5}))

	// Gaussian flavor still needs a real delta.
	m = NewVectorMechanism()
	assert.Error(t, m.ValidateParameters(models.CalibrationParams{Epsilon: 1}))
}

func TestCentralGuaranteeMatchesCalibrate(t *testing.T) {
	m := NewGaussianMechanism()
	params := models.CalibrationParams{Epsilon: 0.7, Delta: 1e-6, Sensitivity: 3.0}

	result, err := m.Calibrate(params)
	require.NoError(t, err)
	guarantee, err := m.Guarantee(params)
	require.NoError(t, err)

	assert.Equal(t, result.Guarantee, guarantee)
}
