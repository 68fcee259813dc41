package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/dpledger/pkg/constants"
	"github.com/inferloop/dpledger/pkg/errors"
)

func floatPtr(v float64) *float64 { return &v }

func intPtr(v int) *int { return &v }

func createTestLDPAccountant(t *testing.T, cfg LDPConfig) *LDPAccountant {
	t.Helper()
	acc, err := NewLDPAccountant(cfg)
	require.NoError(t, err)
	return acc
}

func TestUserKeyAnonymousFallback(t *testing.T) {
	assert.Equal(t, constants.AnonymousUserKey, LocalPrivacyUsage{}.UserKey())
	assert.Equal(t, "alice", LocalPrivacyUsage{UserID: "alice"}.UserKey())
}

func TestLDPAccountantAccumulates(t *testing.T) {
	acc := createTestLDPAccountant(t, LDPConfig{})

	require.NoError(t, acc.AddUsage(LocalPrivacyUsage{UserID: "alice", Epsilon: 0.5}))
	require.NoError(t, acc.AddUsage(LocalPrivacyUsage{UserID: "alice", Epsilon: 0.25}))
	require.NoError(t, acc.AddUsage(LocalPrivacyUsage{UserID: "bob", Epsilon: 1.0}))
	require.NoError(t, acc.AddUsage(LocalPrivacyUsage{Epsilon: 0.1}))

	assert.InDelta(t, 0.75, acc.UserSpent("alice"), 1e-12)
	assert.InDelta(t, 1.0, acc.UserSpent("bob"), 1e-12)
	assert.InDelta(t, 0.1, acc.UserSpent(""), 1e-12)
	assert.InDelta(t, 0.1, acc.UserSpent(constants.AnonymousUserKey), 1e-12)
	assert.InDelta(t, 1.85, acc.TotalSpent(), 1e-12)
	assert.Len(t, acc.Usages(), 4)
}

func TestLDPAccountantPerUserCeiling(t *testing.T) {
	acc := createTestLDPAccountant(t, LDPConfig{PerUserEpsilonLimit: floatPtr(1.0)})

	require.NoError(t, acc.AddUsage(LocalPrivacyUsage{UserID: "alice", Epsilon: 0.8}))

	err := acc.AddUsage(LocalPrivacyUsage{UserID: "alice", Epsilon: 0.3})
	require.Error(t, err)
	assert.True(t, errors.IsBudgetExceeded(err))
	assert.Contains(t, err.Error(), "alice")

	// The rejection left both ledgers untouched; another user still fits.
	assert.InDelta(t, 0.8, acc.UserSpent("alice"), 1e-12)
	assert.InDelta(t, 0.8, acc.TotalSpent(), 1e-12)
	require.NoError(t, acc.AddUsage(LocalPrivacyUsage{UserID: "bob", Epsilon: 0.3}))
}

func TestLDPAccountantGlobalCeiling(t *testing.T) {
	acc := createTestLDPAccountant(t, LDPConfig{GlobalEpsilonLimit: floatPtr(1.0)})

	require.NoError(t, acc.AddUsage(LocalPrivacyUsage{UserID: "alice", Epsilon: 0.6}))

	err := acc.AddUsage(LocalPrivacyUsage{UserID: "bob", Epsilon: 0.6})
	require.Error(t, err)
	assert.True(t, errors.IsBudgetExceeded(err))
	assert.Equal(t, 0.0, acc.UserSpent("bob"))
	assert.InDelta(t, 0.6, acc.TotalSpent(), 1e-12)
}

func TestLDPAccountantRejectsNegativeEpsilon(t *testing.T) {
	acc := createTestLDPAccountant(t, LDPConfig{})
	err := acc.AddUsage(LocalPrivacyUsage{UserID: "alice", Epsilon: -0.1})
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))
}

func TestLDPAccountantRejectsNegativeLimits(t *testing.T) {
	_, err := NewLDPAccountant(LDPConfig{PerUserEpsilonLimit: floatPtr(-1)})
	require.Error(t, err)
	_, err = NewLDPAccountant(LDPConfig{GlobalEpsilonLimit: floatPtr(-1)})
	require.Error(t, err)
}

func TestLDPAccountantStampsTimestamps(t *testing.T) {
	acc := createTestLDPAccountant(t, LDPConfig{})
	require.NoError(t, acc.AddUsage(LocalPrivacyUsage{UserID: "alice", Epsilon: 0.1}))
	assert.False(t, acc.Usages()[0].Timestamp.IsZero())
}

func TestLDPAccountantAddUsagesStopsAtFirstRejection(t *testing.T) {
	acc := createTestLDPAccountant(t, LDPConfig{GlobalEpsilonLimit: floatPtr(1.0)})

	err := acc.AddUsages([]LocalPrivacyUsage{
		{UserID: "alice", Epsilon: 0.5},
		{UserID: "bob", Epsilon: 0.8},
		{UserID: "carol", Epsilon: 0.1},
	})
	require.Error(t, err)
	assert.Len(t, acc.Usages(), 1)
	assert.InDelta(t, 0.5, acc.TotalSpent(), 1e-12)
}

func TestDefaultMapperReadsMetadataHints(t *testing.T) {
	event, err := DefaultLDPToCDPMapper(LocalPrivacyUsage{
		UserID:  "alice",
		Epsilon: 0.5,
		Metadata: map[string]interface{}{
			"cdp_delta":  1e-7,
			"mechanism":  "grr",
			"parameters": map[string]float64{"k": 4},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 0.5, event.Epsilon)
	assert.Equal(t, 1e-7, event.Delta)
	assert.Equal(t, "grr", event.Mechanism)
	assert.Equal(t, 4.0, event.Parameters["k"])
	assert.Equal(t, "LDP-local-event", event.Description)
}

func TestDefaultMapperFallbackKeys(t *testing.T) {
	event, err := DefaultLDPToCDPMapper(LocalPrivacyUsage{
		Epsilon: 1,
		Metadata: map[string]interface{}{
			"ldp_delta":            2e-8,
			"mechanism_id":         "oue",
			"mechanism_parameters": map[string]interface{}{"p": 0.5},
			"description":          "county histogram round",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 2e-8, event.Delta)
	assert.Equal(t, "oue", event.Mechanism)
	assert.Equal(t, 0.5, event.Parameters["p"])
	assert.Equal(t, "county histogram round", event.Description)
}

func TestDefaultMapperWrapsScalarParams(t *testing.T) {
	event, err := DefaultLDPToCDPMapper(LocalPrivacyUsage{
		Epsilon:  1,
		Metadata: map[string]interface{}{"mechanism_params": 16},
	})
	require.NoError(t, err)
	assert.Equal(t, 16, event.Parameters["value"])
}

func TestDefaultMapperRejectsBadDelta(t *testing.T) {
	_, err := DefaultLDPToCDPMapper(LocalPrivacyUsage{
		Epsilon:  1,
		Metadata: map[string]interface{}{"delta": "a lot"},
	})
	require.Error(t, err)

	_, err = DefaultLDPToCDPMapper(LocalPrivacyUsage{
		Epsilon:  1,
		Metadata: map[string]interface{}{"delta": -1e-7},
	})
	require.Error(t, err)
}

func TestLDPBridgeForwardsToCDPLedger(t *testing.T) {
	cdp := NewUnboundedAccountant("central")
	acc := createTestLDPAccountant(t, LDPConfig{CDPLedger: cdp})

	require.NoError(t, acc.AddUsage(LocalPrivacyUsage{
		UserID:  "alice",
		Epsilon: 0.5,
		RoundID: intPtr(3),
		Metadata: map[string]interface{}{
			"delta":            1e-7,
			"mechanism":        "grr",
			"mechanism_params": map[string]float64{"k": 4},
		},
	}))

	require.Equal(t, 1, cdp.EventCount())
	forwarded := cdp.Events()[0]
	assert.Equal(t, 0.5, forwarded.Epsilon)
	assert.Equal(t, 1e-7, forwarded.Delta)
	assert.Equal(t, "LDP-local-event", forwarded.Description)

	context, ok := forwarded.Metadata["ldp_context"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "alice", context["user_id"])
	assert.Equal(t, 3, context["round_id"])
	assert.Equal(t, "ldp", context["source"])
	assert.Equal(t, "grr", context["mechanism"])
	assert.Equal(t, 1e-7, context["delta"])
	require.Contains(t, context, "mechanism_params")
}

func TestLDPBridgePreservesExistingContext(t *testing.T) {
	cdp := NewUnboundedAccountant("central")
	acc := createTestLDPAccountant(t, LDPConfig{CDPLedger: cdp})

	require.NoError(t, acc.AddUsage(LocalPrivacyUsage{
		UserID:  "alice",
		Epsilon: 0.5,
		Metadata: map[string]interface{}{
			"ldp_context": map[string]interface{}{"user_id": "pseudonym-17"},
		},
	}))

	context := cdp.Events()[0].Metadata["ldp_context"].(map[string]interface{})
	assert.Equal(t, "pseudonym-17", context["user_id"])
	assert.Equal(t, "ldp", context["source"])
}

func TestLDPBridgeRejectionLeavesLocalStateUntouched(t *testing.T) {
	cdp := createTestAccountant(t, 1, 0)
	acc := createTestLDPAccountant(t, LDPConfig{CDPLedger: cdp})

	require.NoError(t, acc.AddUsage(LocalPrivacyUsage{UserID: "alice", Epsilon: 0.8}))

	err := acc.AddUsage(LocalPrivacyUsage{UserID: "bob", Epsilon: 0.8})
	require.Error(t, err)
	assert.True(t, errors.IsBudgetExceeded(err))

	assert.InDelta(t, 0.8, acc.TotalSpent(), 1e-12)
	assert.Equal(t, 0.0, acc.UserSpent("bob"))
	assert.Len(t, acc.Usages(), 1)
	assert.Equal(t, 1, cdp.EventCount())
}

func TestLDPAccountantSummarize(t *testing.T) {
	acc := createTestLDPAccountant(t, LDPConfig{})
	require.NoError(t, acc.AddUsage(LocalPrivacyUsage{UserID: "alice", Epsilon: 0.5}))
	require.NoError(t, acc.AddUsage(LocalPrivacyUsage{UserID: "alice", Epsilon: 0.5}))
	require.NoError(t, acc.AddUsage(LocalPrivacyUsage{UserID: "bob", Epsilon: 0.25}))

	summary := acc.Summarize()
	assert.InDelta(t, 1.25, summary.TotalEpsilon, 1e-12)
	assert.InDelta(t, 1.0, summary.PerUserEpsilon["alice"], 1e-12)
	assert.InDelta(t, 1.0, summary.MaxUserEpsilon, 1e-12)
	assert.Equal(t, 3, summary.NEvents)
}

func TestPerUserEpsilonHelper(t *testing.T) {
	usages := []LocalPrivacyUsage{
		{UserID: "alice", Epsilon: 1},
		{Epsilon: 0.5},
		{UserID: "alice", Epsilon: 0.5},
	}
	perUser := PerUserEpsilon(usages)
	assert.InDelta(t, 1.5, perUser["alice"], 1e-12)
	assert.InDelta(t, 0.5, perUser[constants.AnonymousUserKey], 1e-12)

	summary := SummarizeUsages(usages)
	assert.InDelta(t, 2.0, summary.TotalEpsilon, 1e-12)
	assert.Equal(t, 3, summary.NEvents)
}

func TestLDPAccountantReset(t *testing.T) {
	acc := createTestLDPAccountant(t, LDPConfig{})
	require.NoError(t, acc.AddUsage(LocalPrivacyUsage{UserID: "alice", Epsilon: 1}))

	acc.Reset()

	assert.Equal(t, 0.0, acc.TotalSpent())
	assert.Equal(t, 0.0, acc.UserSpent("alice"))
	assert.Empty(t, acc.Usages())
}
