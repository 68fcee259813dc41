package composition

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/dpledger/pkg/errors"
	"github.com/inferloop/dpledger/pkg/models"
)

func TestMomentAccountantDefaultOrders(t *testing.T) {
	accountant, err := NewMomentAccountant()
	require.NoError(t, err)
	assert.Equal(t, []float64{1.5, 2, 4, 8, 16, 32, 64}, accountant.Orders())
}

func TestMomentAccountantRejectsLowOrders(t *testing.T) {
	_, err := NewMomentAccountant(0.5, 2)
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))

	_, err = NewMomentAccountant(1.0)
	require.Error(t, err)
}

func TestMomentAccountantGetEpsilonMinimizesOverOrders(t *testing.T) {
	accountant, err := NewMomentAccountant()
	require.NoError(t, err)
	require.NoError(t, accountant.AddRDP(2, 0.1))
	require.NoError(t, accountant.AddRDP(8, 0.05))

	delta := 1e-6
	epsilon, err := accountant.GetEpsilon(delta)
	require.NoError(t, err)

	best := math.Inf(1)
	for order, eps := range accountant.GetRDP() {
		candidate, convErr := models.RDPToCDP(order, eps, delta)
		require.NoError(t, convErr)
		if candidate < best {
			best = candidate
		}
	}
	assert.InDelta(t, best, epsilon, 1e-12)
}

func TestMomentAccountantAccumulatesSteps(t *testing.T) {
	accountant, err := NewMomentAccountant(2, 4)
	require.NoError(t, err)

	steps := []map[float64]float64{
		{2: 0.01, 4: 0.02},
		{2: 0.01, 4: 0.02},
	}
	require.NoError(t, accountant.AddSteps(steps))

	rdp := accountant.GetRDP()
	assert.InDelta(t, 0.02, rdp[2], 1e-12)
	assert.InDelta(t, 0.04, rdp[4], 1e-12)
}

func TestMomentAccountantUntrackedOrder(t *testing.T) {
	accountant, err := NewMomentAccountant(2, 4)
	require.NoError(t, err)

	err = accountant.AddRDP(3, 0.1)
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))
}

func TestMomentAccountantAddStepAtomic(t *testing.T) {
	accountant, err := NewMomentAccountant(2, 4)
	require.NoError(t, err)

	// One untracked order rejects the whole step.
	err = accountant.AddStep(map[float64]float64{2: 0.1, 3: 0.1})
	require.Error(t, err)

	rdp := accountant.GetRDP()
	assert.Equal(t, 0.0, rdp[2])
	assert.Equal(t, 0.0, rdp[4])
}

func TestMomentAccountantRejectsNegativeEpsilon(t *testing.T) {
	accountant, err := NewMomentAccountant(2)
	require.NoError(t, err)

	err = accountant.AddRDP(2, -0.1)
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))
}

func TestMomentAccountantSpent(t *testing.T) {
	accountant, err := NewMomentAccountant()
	require.NoError(t, err)
	require.NoError(t, accountant.AddRDP(2, 0.5))

	budget, err := accountant.Spent(1e-6)
	require.NoError(t, err)
	assert.Greater(t, budget.Epsilon, 0.0)
	assert.InDelta(t, 1e-6, budget.Delta, 1e-18)
}

func TestMomentAccountantReset(t *testing.T) {
	accountant, err := NewMomentAccountant(2)
	require.NoError(t, err)
	require.NoError(t, accountant.AddRDP(2, 1.0))

	accountant.Reset()

	rdp := accountant.GetRDP()
	assert.Equal(t, 0.0, rdp[2])
}

func TestMomentAccountantRejectsBadDelta(t *testing.T) {
	accountant, err := NewMomentAccountant()
	require.NoError(t, err)

	for _, delta := range []float64{0, 1, -0.5, math.NaN()} {
		_, err := accountant.GetEpsilon(delta)
		require.Error(t, err, "delta=%v", delta)
	}
}

func TestMomentAccountantDeduplicatesOrders(t *testing.T) {
	accountant, err := NewMomentAccountant(2, 2, 4)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 4}, accountant.Orders())
}
