package ledger

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/dpledger/pkg/errors"
	"github.com/inferloop/dpledger/pkg/models"
)

func createTestAccountant(t *testing.T, totalEpsilon, totalDelta float64) *Accountant {
	t.Helper()
	a, err := NewBoundedAccountant("test", totalEpsilon, totalDelta)
	require.NoError(t, err)
	return a
}

func TestAccountantSpendScenario(t *testing.T) {
	a := createTestAccountant(t, 10, 0)

	_, err := a.Spend(1.0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1.0, a.Spent().Epsilon)

	_, err = a.Spend(5.0, 0)
	require.NoError(t, err)
	assert.Equal(t, 6.0, a.Spent().Epsilon)
	assert.InDelta(t, 4.0, a.Remaining().Epsilon, 1e-12)

	_, err = a.Spend(5.0, 0)
	require.Error(t, err)
	assert.True(t, errors.IsBudgetExceeded(err))
	// A rejected spend leaves the totals untouched.
	assert.Equal(t, 6.0, a.Spent().Epsilon)
	assert.Equal(t, 2, a.EventCount())
}

func TestAccountantSpentPlusRemainingEqualsTotal(t *testing.T) {
	a := createTestAccountant(t, 10, 1e-5)

	spends := []models.PrivacyBudget{
		{Epsilon: 1.5, Delta: 1e-6},
		{Epsilon: 2.25, Delta: 2e-6},
		{Epsilon: 0.25, Delta: 0},
	}
	require.NoError(t, a.Extend(spends))

	total := a.TotalBudget()
	require.NotNil(t, total)
	sum := a.Spent().Add(*a.Remaining())
	assert.InDelta(t, total.Epsilon, sum.Epsilon, 1e-12)
	assert.InDelta(t, total.Delta, sum.Delta, 1e-18)
}

func TestAccountantUnboundedAcceptsEverything(t *testing.T) {
	a := NewUnboundedAccountant("unbounded")

	_, err := a.Spend(1000, 0.5)
	require.NoError(t, err)
	assert.Nil(t, a.Remaining())
	assert.Nil(t, a.TotalBudget())
	assert.True(t, a.CanAllocate(1e9, 0.99))
}

func TestAccountantDeltaBudgetRequiresEpsilonBudget(t *testing.T) {
	delta := 1e-5
	_, err := NewAccountant(Config{Name: "bad", TotalDelta: &delta})
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))
}

func TestAccountantRejectsNegativeSlack(t *testing.T) {
	_, err := NewAccountant(Config{Name: "bad", Slack: -1e-9})
	require.Error(t, err)
}

func TestAccountantCanAllocate(t *testing.T) {
	a := createTestAccountant(t, 1.0, 0)

	assert.True(t, a.CanAllocate(1.0, 0))
	assert.False(t, a.CanAllocate(1.1, 0))
	// Malformed input yields false, never an error.
	assert.False(t, a.CanAllocate(-1, 0))
	assert.False(t, a.CanAllocate(math.NaN(), 0))
	assert.False(t, a.CanAllocate(0.5, math.Inf(1)))
	// The check never mutates.
	assert.Equal(t, 0.0, a.Spent().Epsilon)
}

func TestAccountantSlackAbsorbsFloatNoise(t *testing.T) {
	a := createTestAccountant(t, 1.0, 0)

	_, err := a.Spend(0.7, 0)
	require.NoError(t, err)
	// 0.7 + 0.3 can land a hair above 1.0 in floating point; the
	// default slack accepts it.
	_, err = a.Spend(0.3, 0)
	require.NoError(t, err)
}

func TestAccountantRejectsMalformedSpend(t *testing.T) {
	a := createTestAccountant(t, 10, 0)

	for _, bad := range [][2]float64{{-1, 0}, {math.NaN(), 0}, {1, -1e-9}, {math.Inf(1), 0}} {
		_, err := a.Spend(bad[0], bad[1])
		require.Error(t, err, "spend %v", bad)
		assert.True(t, errors.IsValidationError(err))
	}
	assert.Equal(t, 0, a.EventCount())
}

func TestAccountantDeltaCeiling(t *testing.T) {
	a := createTestAccountant(t, 100, 1e-6)

	_, err := a.Spend(1, 1e-6)
	require.NoError(t, err)

	// Epsilon fits easily but delta is exhausted.
	_, err = a.Spend(1, 1e-7)
	require.Error(t, err)
	assert.True(t, errors.IsBudgetExceeded(err))
}

func TestAccountantEventsAreCopies(t *testing.T) {
	a := createTestAccountant(t, 10, 0)
	_, err := a.Spend(1, 0)
	require.NoError(t, err)

	events := a.Events()
	events[0].Epsilon = 999

	assert.Equal(t, 1.0, a.Events()[0].Epsilon)
}

func TestAccountantReset(t *testing.T) {
	a := createTestAccountant(t, 10, 0)
	_, err := a.Spend(5, 0)
	require.NoError(t, err)

	a.Reset()

	assert.Equal(t, 0.0, a.Spent().Epsilon)
	assert.Equal(t, 0, a.EventCount())
	assert.InDelta(t, 10.0, a.Remaining().Epsilon, 1e-12)
}

func TestAddEventNormalizesSpecsToMaxSelection(t *testing.T) {
	a := createTestAccountant(t, 100, 1e-3)

	event, err := a.AddEvent(EventRequest{
		Specs: []models.ModelSpec{
			models.ZCDP{Rho: 0.1},
			models.CDP{Epsilon: 1.0, Delta: 1e-6},
		},
		TargetDelta: 1e-6,
		Description: "two views of one release",
	})
	require.NoError(t, err)

	// zCDP(0.1) at delta 1e-6 converts to about 2.45 epsilon, which
	// dominates the CDP spec; both deltas are 1e-6.
	zcdpEps := 0.1 + 2*math.Sqrt(0.1*math.Log(1e6))
	assert.InDelta(t, zcdpEps, event.Epsilon, 1e-9)
	assert.InDelta(t, 1e-6, event.Delta, 1e-18)

	// One audit report per supplied spec, and a CDP-equivalent snapshot.
	require.Len(t, event.Reports, 2)
	assert.Equal(t, models.PrivacyModelZCDP, event.Reports[0].Model)
	assert.Equal(t, models.PrivacyModelCDP, event.Reports[1].Model)
	require.NotNil(t, event.CDPEquivalent)
	assert.InDelta(t, zcdpEps, event.CDPEquivalent.Epsilon, 1e-9)
	assert.Equal(t, models.PrivacyModelCDP, event.Model)
}

func TestAddEventSpecSelectionIsNotComposition(t *testing.T) {
	a := createTestAccountant(t, 100, 1e-3)

	event, err := a.AddEvent(EventRequest{
		Specs: []models.ModelSpec{
			models.CDP{Epsilon: 1.0, Delta: 1e-6},
			models.CDP{Epsilon: 3.0, Delta: 1e-7},
		},
	})
	require.NoError(t, err)

	// Max per component, not the (4.0, 1.1e-6) a sum would give.
	assert.InDelta(t, 3.0, event.Epsilon, 1e-12)
	assert.InDelta(t, 1e-6, event.Delta, 1e-18)
}

func TestAddEventRDPOrderOverride(t *testing.T) {
	a := NewUnboundedAccountant("rdp")

	base, err := a.AddEvent(EventRequest{
		Specs:       []models.ModelSpec{models.RDP{Alpha: 2, Epsilon: 1}},
		TargetDelta: 1e-6,
	})
	require.NoError(t, err)
	assert.InDelta(t, 1+math.Log(1e6), base.Epsilon, 1e-9)

	overridden, err := a.AddEvent(EventRequest{
		Specs:       []models.ModelSpec{models.RDP{Alpha: 2, Epsilon: 1}},
		TargetDelta: 1e-6,
		RDPOrder:    3,
	})
	require.NoError(t, err)
	assert.InDelta(t, 1+math.Log(1e6)/2, overridden.Epsilon, 1e-9)
}

func TestAddEventGuaranteeCarriesProvenance(t *testing.T) {
	a := NewUnboundedAccountant("guarantees")

	guarantee, err := models.NewGuarantee(models.CDP{Epsilon: 0.5, Delta: 1e-7}, models.MechanismGaussian)
	require.NoError(t, err)
	guarantee.Proof = "Dwork & Roth 2014, Thm 3.22"

	event, err := a.AddEvent(EventRequest{Guarantees: []models.PrivacyGuarantee{guarantee}})
	require.NoError(t, err)

	require.Len(t, event.Reports, 1)
	assert.Equal(t, "gaussian", event.Reports[0].Mechanism)
	assert.Equal(t, "Dwork & Roth 2014, Thm 3.22", event.Reports[0].Proof)
}

func TestAddEventInvalidSpecRejectedBeforeStateChange(t *testing.T) {
	a := createTestAccountant(t, 10, 1e-3)

	_, err := a.AddEvent(EventRequest{
		Specs: []models.ModelSpec{models.CDP{Epsilon: 1, Delta: 1.5}},
	})
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))
	assert.Equal(t, 0, a.EventCount())
}

func TestAddEventOverBudgetNormalizedSpec(t *testing.T) {
	a := createTestAccountant(t, 1, 1e-3)

	// zCDP(0.5) at delta 1e-6 converts to well over epsilon 1.
	_, err := a.AddEvent(EventRequest{
		Specs:       []models.ModelSpec{models.ZCDP{Rho: 0.5}},
		TargetDelta: 1e-6,
	})
	require.Error(t, err)
	assert.True(t, errors.IsBudgetExceeded(err))
	assert.Equal(t, 0, a.EventCount())
}

func TestSnapshotRoundTrip(t *testing.T) {
	a := createTestAccountant(t, 10, 1e-5)
	_, err := a.Spend(2, 1e-6)
	require.NoError(t, err)
	_, err = a.AddEvent(EventRequest{
		Epsilon:     1,
		Description: "histogram query",
		Metadata:    map[string]interface{}{"table": "visits"},
	})
	require.NoError(t, err)

	snap := a.Snapshot()
	restored, err := FromSnapshot(snap)
	require.NoError(t, err)

	assert.Equal(t, a.Name(), restored.Name())
	assert.Equal(t, a.Spent(), restored.Spent())
	assert.Equal(t, a.EventCount(), restored.EventCount())
	require.NotNil(t, restored.TotalBudget())
	assert.Equal(t, *a.TotalBudget(), *restored.TotalBudget())
	assert.Equal(t, "histogram query", restored.Events()[1].Description)
}

func TestSnapshotJSONRoundTrip(t *testing.T) {
	a := createTestAccountant(t, 10, 0)
	_, err := a.Spend(3, 0)
	require.NoError(t, err)

	data, err := json.Marshal(a)
	require.NoError(t, err)

	restored, err := UnmarshalAccountant(data)
	require.NoError(t, err)
	assert.Equal(t, 3.0, restored.Spent().Epsilon)

	// The wire shape carries the documented keys.
	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, raw, "name")
	assert.Contains(t, raw, "total_budget")
	assert.Contains(t, raw, "spent")
	assert.Contains(t, raw, "events")
	assert.Contains(t, raw, "slack")
}

func TestSnapshotUnboundedTotalIsNull(t *testing.T) {
	a := NewUnboundedAccountant("unbounded")
	data, err := json.Marshal(a)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	value, present := raw["total_budget"]
	assert.True(t, present)
	assert.Nil(t, value)
}

func TestFromSnapshotRejectsBadPayloads(t *testing.T) {
	_, err := FromSnapshot(models.AccountantSnapshot{Name: "x", Slack: -1})
	require.Error(t, err)

	_, err = FromSnapshot(models.AccountantSnapshot{
		Name:  "x",
		Spent: models.PrivacyBudget{Epsilon: -1},
	})
	require.Error(t, err)

	_, err = FromSnapshot(models.AccountantSnapshot{
		Name:   "x",
		Events: []models.PrivacyEvent{{Epsilon: math.NaN()}},
	})
	require.Error(t, err)
}

func TestFromSnapshotPreservesZeroSlack(t *testing.T) {
	restored, err := FromSnapshot(models.AccountantSnapshot{Name: "strict", Slack: 0})
	require.NoError(t, err)
	assert.Equal(t, 0.0, restored.Slack())
}
