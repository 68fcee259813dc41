package models

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePrivacyModel(t *testing.T) {
	tests := []struct {
		input    string
		expected PrivacyModel
	}{
		{"cdp", PrivacyModelCDP},
		{"CDP", PrivacyModelCDP},
		{" pure_dp ", PrivacyModelPureDP},
		{"ldp", PrivacyModelLDP},
		{"zcdp", PrivacyModelZCDP},
		{"rdp", PrivacyModelRDP},
		{"gdp", PrivacyModelGDP},
	}
	for _, tt := range tests {
		m, err := ParsePrivacyModel(tt.input)
		require.NoError(t, err, tt.input)
		assert.Equal(t, tt.expected, m)
	}

	_, err := ParsePrivacyModel("renyi")
	require.Error(t, err)
}

func TestCDPValidateDeltaOpenUnitInterval(t *testing.T) {
	require.NoError(t, CDP{Epsilon: 1, Delta: 1e-6}.Validate())
	require.Error(t, CDP{Epsilon: 1, Delta: 0}.Validate())
	require.Error(t, CDP{Epsilon: 1, Delta: 1}.Validate())
	require.Error(t, CDP{Epsilon: -1, Delta: 1e-6}.Validate())
}

func TestPureDPToCDPHasZeroDelta(t *testing.T) {
	cdp, err := PureDP{Epsilon: 1.5}.ToCDP(ConvertOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1.5, cdp.Epsilon)
	assert.Equal(t, 0.0, cdp.Delta)
}

func TestLDPSpecToCDPHasZeroDelta(t *testing.T) {
	cdp, err := LDP{Epsilon: 0.7}.ToCDP(ConvertOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0.7, cdp.Epsilon)
	assert.Equal(t, 0.0, cdp.Delta)
}

func TestCDPToCDPIsIdentity(t *testing.T) {
	in := CDP{Epsilon: 2, Delta: 1e-5}
	out, err := in.ToCDP(ConvertOptions{TargetDelta: 1e-9})
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestZCDPSpecToCDPUsesTargetDelta(t *testing.T) {
	cdp, err := ZCDP{Rho: 0.5}.ToCDP(ConvertOptions{TargetDelta: 1e-5})
	require.NoError(t, err)
	assert.Equal(t, 1e-5, cdp.Delta)
	assert.InDelta(t, 0.5+2*math.Sqrt(0.5*math.Log(1e5)), cdp.Epsilon, 1e-12)
}

func TestZCDPSpecToCDPDefaultsTargetDelta(t *testing.T) {
	cdp, err := ZCDP{Rho: 0.5}.ToCDP(ConvertOptions{})
	require.NoError(t, err)
	assert.Equal(t, DefaultTargetDelta, cdp.Delta)
}

func TestRDPSpecToCDPHonorsOrderOverride(t *testing.T) {
	spec := RDP{Alpha: 2, Epsilon: 1}

	atSpecOrder, err := spec.ToCDP(ConvertOptions{TargetDelta: 1e-6})
	require.NoError(t, err)
	assert.InDelta(t, 1+math.Log(1e6), atSpecOrder.Epsilon, 1e-12)

	atOverride, err := spec.ToCDP(ConvertOptions{TargetDelta: 1e-6, RDPOrder: 3})
	require.NoError(t, err)
	assert.InDelta(t, 1+math.Log(1e6)/2, atOverride.Epsilon, 1e-12)
}

func TestGDPSpecToCDPBridgesThroughZCDP(t *testing.T) {
	cdp, err := GDP{Mu: 1}.ToCDP(ConvertOptions{TargetDelta: 1e-6})
	require.NoError(t, err)
	assert.InDelta(t, 0.5+2*math.Sqrt(0.5*math.Log(1e6)), cdp.Epsilon, 1e-12)
}

func TestValidateRunsBeforeConversion(t *testing.T) {
	_, err := ZCDP{Rho: -1}.ToCDP(ConvertOptions{})
	require.Error(t, err)

	_, err = RDP{Alpha: 0.5, Epsilon: 1}.ToCDP(ConvertOptions{})
	require.Error(t, err)

	_, err = GDP{Mu: 0}.ToCDP(ConvertOptions{})
	require.Error(t, err)
}

func TestParseModelSpec(t *testing.T) {
	spec, err := ParseModelSpec("zcdp", map[string]float64{"rho": 0.25})
	require.NoError(t, err)
	assert.Equal(t, ZCDP{Rho: 0.25}, spec)

	spec, err = ParseModelSpec("cdp", map[string]float64{"epsilon": 1, "delta": 1e-6})
	require.NoError(t, err)
	assert.Equal(t, CDP{Epsilon: 1, Delta: 1e-6}, spec)

	spec, err = ParseModelSpec("rdp", map[string]float64{"alpha": 8, "epsilon": 0.5})
	require.NoError(t, err)
	assert.Equal(t, RDP{Alpha: 8, Epsilon: 0.5}, spec)

	// mu defaults to zero, which is out of domain for GDP
	_, err = ParseModelSpec("gdp", map[string]float64{})
	require.Error(t, err)

	_, err = ParseModelSpec("unknown", nil)
	require.Error(t, err)
}
