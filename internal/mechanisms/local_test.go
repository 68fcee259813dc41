package mechanisms

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/dpledger/pkg/models"
)

func TestGRRProbabilities(t *testing.T) {
	m := NewGRRMechanism()

	// e^eps = 3 with k = 3 gives p = 3/5, q = 1/5.
	result, err := m.Calibrate(models.CalibrationParams{Epsilon: math.Log(3), DomainSize: 3})
	require.NoError(t, err)

	assert.InDelta(t, 0.6, result.NoiseParams["p"], 1e-12)
	assert.InDelta(t, 0.2, result.NoiseParams["q"], 1e-12)
	assert.InDelta(t, 3.0, result.NoiseParams["domain_size"], 1e-12)
	assert.Equal(t, models.PrivacyModelLDP, result.Model)

	spec, ok := result.Guarantee.Spec.(models.LDP)
	require.True(t, ok)
	assert.InDelta(t, math.Log(3), spec.Epsilon, 1e-12)
}

func TestGRRResponseDistributionSumsToOne(t *testing.T) {
	m := NewGRRMechanism()

	for _, k := range []int{2, 5, 64} {
		result, err := m.Calibrate(models.CalibrationParams{Epsilon: 1.5, DomainSize: k})
		require.NoError(t, err)

		p := result.NoiseParams["p"]
		q := result.NoiseParams["q"]
		assert.InDelta(t, 1.0, p+float64(k-1)*q, 1e-12, "k=%d", k)
		assert.InDelta(t, math.Exp(1.5), p/q, 1e-9, "k=%d", k)
	}
}

func TestGRRRequiresDomain(t *testing.T) {
	m := NewGRRMechanism()

	for _, k := range []int{0, 1, -4} {
		assert.Error(t, m.ValidateParameters(models.CalibrationParams{Epsilon: 1, DomainSize: k}),
			"domain size %d should be rejected", k)
	}
}

func TestOUEProbabilities(t *testing.T) {
	m := NewOUEMechanism()

	result, err := m.Calibrate(models.CalibrationParams{Epsilon: math.Log(3), DomainSize: 8})
	require.NoError(t, err)

	assert.Equal(t, 0.5, result.NoiseParams["p"])
	assert.InDelta(t, 0.25, result.NoiseParams["q"], 1e-12)
	assert.InDelta(t, 8.0, result.NoiseParams["domain_size"], 1e-12)
}

func TestOLHProbabilities(t *testing.T) {
	m := NewOLHMechanism()

	// e^eps = 3 with g = 4 gives p = 3/6, q = 1/6.
	result, err := m.Calibrate(models.CalibrationParams{Epsilon: math.Log(3), HashRange: 4})
	require.NoError(t, err)

	assert.InDelta(t, 0.5, result.NoiseParams["p"], 1e-12)
	assert.InDelta(t, 1.0/6.0, result.NoiseParams["q"], 1e-12)
	assert.InDelta(t, 4.0, result.NoiseParams["hash_range"], 1e-12)
	assert.NotContains(t, result.NoiseParams, "domain_size")
}

func TestOLHCarriesDomainWhenKnown(t *testing.T) {
	m := NewOLHMechanism()

	result, err := m.Calibrate(models.CalibrationParams{Epsilon: 1, HashRange: 16, DomainSize: 1000})
	require.NoError(t, err)
	assert.InDelta(t, 1000.0, result.NoiseParams["domain_size"], 1e-12)
}

func TestOLHRequiresHashRange(t *testing.T) {
	m := NewOLHMechanism()

	for _, g := range []int{0, 1, -2} {
		assert.Error(t, m.ValidateParameters(models.CalibrationParams{Epsilon: 1, HashRange: g}),
			"hash range %d should be rejected", g)
	}
}

func TestRAPPORSymmetricPair(t *testing.T) {
	m := NewRAPPORMechanism()

	result, err := m.Calibrate(models.CalibrationParams{Epsilon: math.Log(3), DomainSize: 16})
	require.NoError(t, err)

	p := result.NoiseParams["p"]
	q := result.NoiseParams["q"]
	assert.InDelta(t, 0.75, p, 1e-12)
	assert.InDelta(t, 0.25, q, 1e-12)
	assert.InDelta(t, 1.0, p+q, 1e-12)
	assert.InDelta(t, 3.0, p/q, 1e-12)
}

func TestUnaryRandomizerMatchesSymmetricPair(t *testing.T) {
	unary := NewUnaryRandomizerMechanism()
	rappor := NewRAPPORMechanism()
	params := models.CalibrationParams{Epsilon: 0.8, DomainSize: 32}

	uResult, err := unary.Calibrate(params)
	require.NoError(t, err)
	rResult, err := rappor.Calibrate(params)
	require.NoError(t, err)

	assert.Equal(t, rResult.NoiseParams["p"], uResult.NoiseParams["p"])
	assert.Equal(t, rResult.NoiseParams["q"], uResult.NoiseParams["q"])
	assert.Equal(t, models.MechanismUnaryRandomizer, uResult.Mechanism)
}

func TestLocalLaplaceScale(t *testing.T) {
	m := NewLocalLaplaceMechanism()

	result, err := m.Calibrate(models.CalibrationParams{Epsilon: 0.5, Sensitivity: 2.0})
	require.NoError(t, err)

	assert.InDelta(t, 4.0, result.NoiseParams["scale"], 1e-12)
	assert.InDelta(t, 2.0, result.NoiseParams["width"], 1e-12)
	assert.Equal(t, models.PrivacyModelLDP, result.Model)

	spec, ok := result.Guarantee.Spec.(models.LDP)
	require.True(t, ok)
	assert.InDelta(t, 0.5, spec.Epsilon, 1e-12)
}

func TestLocalGaussianCarriesDeltaMetadata(t *testing.T) {
	m := NewLocalGaussianMechanism()

	result, err := m.Calibrate(models.CalibrationParams{Epsilon: 1.0, Delta: 1e-5, Sensitivity: 1.0})
	require.NoError(t, err)

	wantSigma := math.Sqrt(2 * math.Log(1.25/1e-5))
	assert.InDelta(t, wantSigma, result.NoiseParams["sigma"], 1e-12)

	// The guarantee itself stays in the local model; the relaxation
	// delta travels as metadata for the CDP bridge to pick up.
	_, ok := result.Guarantee.Spec.(models.LDP)
	require.True(t, ok)
	require.NotNil(t, result.Guarantee.Metadata)
	assert.InDelta(t, 1e-5, result.Guarantee.Metadata["delta"].(float64), 1e-20)
}

func TestLocalGaussianRequiresUnitDelta(t *testing.T) {
	m := NewLocalGaussianMechanism()

	for _, delta := range []float64{0, 1, -1e-3} {
		assert.Error(t, m.ValidateParameters(models.CalibrationParams{Epsilon: 1, Delta: delta}),
			"delta %v should be rejected", delta)
	}
}

func TestPiecewiseNoiseScale(t *testing.T) {
	m := NewPiecewiseMechanism()

	result, err := m.Calibrate(models.CalibrationParams{Epsilon: 4.0})
	require.NoError(t, err)

	assert.InDelta(t, 0.25, result.NoiseParams["noise_scale"], 1e-12)
	assert.Equal(t, -1.0, result.NoiseParams["clip_low"])
	assert.Equal(t, 1.0, result.NoiseParams["clip_high"])
}

func TestDuchiOutputMagnitude(t *testing.T) {
	m := NewDuchiMechanism()

	// e^eps = 3 puts the two poles at +/-2.
	result, err := m.Calibrate(models.CalibrationParams{Epsilon: math.Log(3)})
	require.NoError(t, err)

	assert.InDelta(t, 3.0, result.NoiseParams["exp_epsilon"], 1e-12)
	assert.InDelta(t, 2.0, result.NoiseParams["output_magnitude"], 1e-12)
}

func TestDuchiMagnitudeShrinksWithEpsilon(t *testing.T) {
	m := NewDuchiMechanism()

	loose, err := m.Calibrate(models.CalibrationParams{Epsilon: 0.1})
	require.NoError(t, err)
	tight, err := m.Calibrate(models.CalibrationParams{Epsilon: 5.0})
	require.NoError(t, err)

	// Weaker privacy needs less output inflation to stay unbiased.
	assert.Greater(t, loose.NoiseParams["output_magnitude"], tight.NoiseParams["output_magnitude"])
	assert.Greater(t, tight.NoiseParams["output_magnitude"], 1.0)
}

func TestFrequencyOraclesRejectOverflowEpsilon(t *testing.T) {
	params := models.CalibrationParams{Epsilon: 1000, DomainSize: 4, HashRange: 4}

	_, err := NewGRRMechanism().Calibrate(params)
	assert.Error(t, err)
	_, err = NewOLHMechanism().Calibrate(params)
	assert.Error(t, err)
	_, err = NewDuchiMechanism().Calibrate(params)
	assert.Error(t, err)
}

func TestLocalMechanismsSupportOnlyLocalModel(t *testing.T) {
	locals := []interface {
		GetSupportedModels() []models.PrivacyModel
		GetType() models.MechanismType
	}{
		NewGRRMechanism(),
		NewOUEMechanism(),
		NewOLHMechanism(),
		NewRAPPORMechanism(),
		NewUnaryRandomizerMechanism(),
		NewLocalLaplaceMechanism(),
		NewLocalGaussianMechanism(),
		NewPiecewiseMechanism(),
		NewDuchiMechanism(),
	}
	for _, m := range locals {
		assert.Equal(t, []models.PrivacyModel{models.PrivacyModelLDP}, m.GetSupportedModels(),
			"mechanism %s", m.GetType())
	}
}
