package models

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/dpledger/pkg/errors"
)

func TestNewPrivacyBudget(t *testing.T) {
	b, err := NewPrivacyBudget(1.0, 1e-5)
	require.NoError(t, err)
	assert.Equal(t, 1.0, b.Epsilon)
	assert.Equal(t, 1e-5, b.Delta)
}

func TestNewPrivacyBudgetRejectsBadInput(t *testing.T) {
	tests := []struct {
		name    string
		epsilon float64
		delta   float64
	}{
		{"negative epsilon", -0.1, 0},
		{"nan epsilon", math.NaN(), 0},
		{"infinite epsilon", math.Inf(1), 0},
		{"negative delta", 1.0, -1e-9},
		{"nan delta", 1.0, math.NaN()},
		{"infinite delta", 1.0, math.Inf(1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPrivacyBudget(tt.epsilon, tt.delta)
			require.Error(t, err)
			assert.True(t, errors.IsValidationError(err))
		})
	}
}

func TestBudgetArithmetic(t *testing.T) {
	a := PrivacyBudget{Epsilon: 1.0, Delta: 1e-6}
	b := PrivacyBudget{Epsilon: 2.5, Delta: 2e-6}

	sum := a.Add(b)
	assert.Equal(t, 3.5, sum.Epsilon)
	assert.InDelta(t, 3e-6, sum.Delta, 1e-18)

	diff := b.Sub(a)
	assert.InDelta(t, 1.5, diff.Epsilon, 1e-12)
	assert.InDelta(t, 1e-6, diff.Delta, 1e-18)
}

func TestBudgetSubFloorsAtZero(t *testing.T) {
	a := PrivacyBudget{Epsilon: 1.0, Delta: 0}
	b := PrivacyBudget{Epsilon: 2.0, Delta: 1e-6}

	diff := a.Sub(b)
	assert.Equal(t, 0.0, diff.Epsilon)
	assert.Equal(t, 0.0, diff.Delta)
}

func TestBudgetMaxIsCoordinateWise(t *testing.T) {
	a := PrivacyBudget{Epsilon: 1.0, Delta: 2e-6}
	b := PrivacyBudget{Epsilon: 3.0, Delta: 1e-6}

	m := a.Max(b)
	assert.Equal(t, 3.0, m.Epsilon)
	assert.Equal(t, 2e-6, m.Delta)
}

func TestBudgetScale(t *testing.T) {
	b := PrivacyBudget{Epsilon: 2.0, Delta: 1e-6}
	s := b.Scale(0.5)
	assert.Equal(t, 1.0, s.Epsilon)
	assert.InDelta(t, 5e-7, s.Delta, 1e-20)
}

func TestBudgetCovers(t *testing.T) {
	total := PrivacyBudget{Epsilon: 1.0, Delta: 1e-6}

	assert.True(t, total.Covers(PrivacyBudget{Epsilon: 1.0, Delta: 1e-6}, 0))
	assert.False(t, total.Covers(PrivacyBudget{Epsilon: 1.0 + 1e-9, Delta: 1e-6}, 0))
	// Slack absorbs rounding right at the ceiling.
	assert.True(t, total.Covers(PrivacyBudget{Epsilon: 1.0 + 1e-13, Delta: 1e-6}, 1e-12))
}

func TestBudgetIsZero(t *testing.T) {
	assert.True(t, PrivacyBudget{}.IsZero())
	assert.False(t, PrivacyBudget{Epsilon: 0.1}.IsZero())
	assert.False(t, PrivacyBudget{Delta: 1e-9}.IsZero())
}
