package composition

import (
	"fmt"
	"sort"
	"sync"

	"github.com/inferloop/dpledger/pkg/constants"
	"github.com/inferloop/dpledger/pkg/errors"
	"github.com/inferloop/dpledger/pkg/models"
)

// MomentAccountant tracks cumulative RDP at multiple orders and converts
// to the tightest (epsilon, delta)-DP guarantee by minimizing over the
// tracked orders. Built for iterative algorithms that spend privacy in
// many small steps, such as gradient descent with per-step noise.
type MomentAccountant struct {
	mu     sync.RWMutex
	orders []float64
	rdp    map[float64]float64
}

// NewMomentAccountant creates an accountant tracking the given RDP
// orders. Passing no orders selects the default grid. Every order must
// be greater than 1.
func NewMomentAccountant(orders ...float64) (*MomentAccountant, error) {
	if len(orders) == 0 {
		orders = constants.DefaultMomentOrders
	}
	tracked := make([]float64, 0, len(orders))
	rdp := make(map[float64]float64, len(orders))
	for _, order := range orders {
		if order <= 1 {
			return nil, errors.NewValidationError(errors.CodeInvalidAlpha,
				fmt.Sprintf("rdp order must be > 1, got %v", order))
		}
		if _, ok := rdp[order]; ok {
			continue
		}
		tracked = append(tracked, order)
		rdp[order] = 0
	}
	sort.Float64s(tracked)
	return &MomentAccountant{orders: tracked, rdp: rdp}, nil
}

// Orders returns the tracked order grid in ascending order.
func (m *MomentAccountant) Orders() []float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]float64, len(m.orders))
	copy(out, m.orders)
	return out
}

// AddRDP accumulates an RDP epsilon at a specific tracked order.
func (m *MomentAccountant) AddRDP(order, epsilon float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addLocked(order, epsilon)
}

func (m *MomentAccountant) addLocked(order, epsilon float64) error {
	if _, ok := m.rdp[order]; !ok {
		return errors.NewValidationError(errors.CodeUntrackedOrder,
			fmt.Sprintf("order %v not tracked by accountant", order))
	}
	if !validBudgetComponent(epsilon) {
		return errors.NewValidationError(errors.CodeInvalidEpsilon,
			fmt.Sprintf("epsilon must be finite and non-negative, got %v", epsilon))
	}
	m.rdp[order] += epsilon
	return nil
}

// AddStep accumulates one algorithm step's RDP contributions, given as
// a map from order to epsilon. The step is applied atomically: if any
// order is untracked or any epsilon invalid, nothing is recorded.
func (m *MomentAccountant) AddStep(step map[float64]float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for order, epsilon := range step {
		if _, ok := m.rdp[order]; !ok {
			return errors.NewValidationError(errors.CodeUntrackedOrder,
				fmt.Sprintf("order %v not tracked by accountant", order))
		}
		if !validBudgetComponent(epsilon) {
			return errors.NewValidationError(errors.CodeInvalidEpsilon,
				fmt.Sprintf("epsilon must be finite and non-negative, got %v", epsilon))
		}
	}
	for order, epsilon := range step {
		m.rdp[order] += epsilon
	}
	return nil
}

// AddSteps bulk-adds multiple steps.
func (m *MomentAccountant) AddSteps(steps []map[float64]float64) error {
	for _, step := range steps {
		if err := m.AddStep(step); err != nil {
			return err
		}
	}
	return nil
}

// GetRDP returns a copy of the cumulative RDP map.
func (m *MomentAccountant) GetRDP() map[float64]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[float64]float64, len(m.rdp))
	for order, epsilon := range m.rdp {
		out[order] = epsilon
	}
	return out
}

// GetEpsilon converts the accumulated RDP to the tightest epsilon at
// the given delta by minimizing the conversion over all tracked orders.
func (m *MomentAccountant) GetEpsilon(delta float64) (float64, error) {
	if err := validateUnitOpen("delta", delta); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.orders) == 0 {
		return 0, errors.NewValidationError(errors.CodeInvalidInput,
			"no RDP orders tracked; cannot compute epsilon")
	}
	best := 0.0
	first := true
	for _, order := range m.orders {
		candidate, err := models.RDPToCDP(order, m.rdp[order], delta)
		if err != nil {
			return 0, err
		}
		if first || candidate < best {
			best = candidate
			first = false
		}
	}
	return best, nil
}

// Spent returns the current (epsilon, delta) cost at the best order.
func (m *MomentAccountant) Spent(delta float64) (models.PrivacyBudget, error) {
	epsilon, err := m.GetEpsilon(delta)
	if err != nil {
		return models.PrivacyBudget{}, err
	}
	return models.PrivacyBudget{Epsilon: epsilon, Delta: delta}, nil
}

// Reset clears accumulated RDP at every order.
func (m *MomentAccountant) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for order := range m.rdp {
		m.rdp[order] = 0
	}
}
