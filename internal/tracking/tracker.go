package tracking

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/inferloop/dpledger/internal/ledger"
	"github.com/inferloop/dpledger/pkg/constants"
	"github.com/inferloop/dpledger/pkg/errors"
	"github.com/inferloop/dpledger/pkg/models"
)

// AlertHandler receives each newly fired alert. Handlers run outside the
// tracker's lock, so they may call back into the tracker.
type AlertHandler func(alert models.BudgetAlert)

// Tracker manages independent per-scope ledgers and fires threshold
// alerts as each scope's consumption ratio climbs. Each threshold fires
// at most once per scope.
type Tracker struct {
	mu         sync.RWMutex
	thresholds []float64
	handler    AlertHandler
	accounts   map[models.TrackedScope]*ledger.Accountant
	triggered  map[models.TrackedScope]map[float64]bool
	alerts     []models.BudgetAlert
}

// NewTracker creates a tracker with the given fractional thresholds.
// Nil or empty thresholds select the default checkpoints. Thresholds
// are deduplicated, sorted, and must all be positive.
func NewTracker(thresholds []float64, handler AlertHandler) (*Tracker, error) {
	normalized, err := normalizeThresholds(thresholds)
	if err != nil {
		return nil, err
	}
	return &Tracker{
		thresholds: normalized,
		handler:    handler,
		accounts:   make(map[models.TrackedScope]*ledger.Accountant),
		triggered:  make(map[models.TrackedScope]map[float64]bool),
	}, nil
}

func normalizeThresholds(thresholds []float64) ([]float64, error) {
	if len(thresholds) == 0 {
		thresholds = constants.DefaultThresholds
	}
	seen := make(map[float64]bool, len(thresholds))
	unique := make([]float64, 0, len(thresholds))
	for _, value := range thresholds {
		if seen[value] {
			continue
		}
		seen[value] = true
		unique = append(unique, value)
	}
	sort.Float64s(unique)
	for _, value := range unique {
		if value <= 0 {
			return nil, errors.NewValidationError(errors.CodeInvalidInput,
				"thresholds must be positive")
		}
	}
	return unique, nil
}

// NewScope validates and builds a scope key.
func NewScope(kind, identifier string) (models.TrackedScope, error) {
	if kind == "" {
		return models.TrackedScope{}, errors.NewValidationError(errors.CodeInvalidInput,
			"scope kind must be a non-empty string")
	}
	if identifier == "" {
		return models.TrackedScope{}, errors.NewValidationError(errors.CodeInvalidInput,
			"scope identifier must be a non-empty string")
	}
	return models.TrackedScope{Kind: kind, Identifier: identifier}, nil
}

// ScopeConfig sets the budget for one registered scope.
type ScopeConfig struct {
	TotalEpsilon float64 `json:"total_epsilon"`
	TotalDelta   float64 `json:"total_delta"`
	Slack        float64 `json:"slack,omitempty"`
}

// RegisterScope creates a bounded ledger for (kind, identifier) and
// starts tracking it. Registering an existing scope is rejected rather
// than silently replacing the scope's spend history.
func (t *Tracker) RegisterScope(kind, identifier string, cfg ScopeConfig) (models.TrackedScope, error) {
	scope, err := NewScope(kind, identifier)
	if err != nil {
		return models.TrackedScope{}, err
	}
	accountant, err := ledger.NewAccountant(ledger.Config{
		Name:         scope.String(),
		TotalEpsilon: &cfg.TotalEpsilon,
		TotalDelta:   &cfg.TotalDelta,
		Slack:        cfg.Slack,
	})
	if err != nil {
		return models.TrackedScope{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.accounts[scope]; exists {
		return models.TrackedScope{}, errors.NewValidationError(errors.CodeScopeExists,
			fmt.Sprintf("scope %s already registered", scope))
	}
	t.accounts[scope] = accountant
	t.triggered[scope] = make(map[float64]bool)
	return scope, nil
}

// Thresholds returns the normalized threshold checkpoints.
func (t *Tracker) Thresholds() []float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]float64, len(t.thresholds))
	copy(out, t.thresholds)
	return out
}

// Scopes returns all registered scopes in a stable order.
func (t *Tracker) Scopes() []models.TrackedScope {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sortedScopesLocked()
}

func (t *Tracker) sortedScopesLocked() []models.TrackedScope {
	scopes := make([]models.TrackedScope, 0, len(t.accounts))
	for scope := range t.accounts {
		scopes = append(scopes, scope)
	}
	sort.Slice(scopes, func(i, j int) bool {
		return scopes[i].String() < scopes[j].String()
	})
	return scopes
}

// Accountant returns the ledger backing a scope.
func (t *Tracker) Accountant(scope models.TrackedScope) (*ledger.Accountant, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.accountantLocked(scope)
}

func (t *Tracker) accountantLocked(scope models.TrackedScope) (*ledger.Accountant, error) {
	accountant, ok := t.accounts[scope]
	if !ok {
		return nil, errors.NewStorageError(errors.CodeScopeNotFound,
			fmt.Sprintf("scope %s not registered", scope))
	}
	return accountant, nil
}

// Remaining returns the scope's unspent budget.
func (t *Tracker) Remaining(scope models.TrackedScope) (*models.PrivacyBudget, error) {
	accountant, err := t.Accountant(scope)
	if err != nil {
		return nil, err
	}
	return accountant.Remaining(), nil
}

// Spent returns the scope's cumulative spend.
func (t *Tracker) Spent(scope models.TrackedScope) (models.PrivacyBudget, error) {
	accountant, err := t.Accountant(scope)
	if err != nil {
		return models.PrivacyBudget{}, err
	}
	return accountant.Spent(), nil
}

// CanAllocate reports whether a scope can absorb (epsilon, delta)
// without exceeding its total budget.
func (t *Tracker) CanAllocate(scope models.TrackedScope, epsilon, delta float64) (bool, error) {
	accountant, err := t.Accountant(scope)
	if err != nil {
		return false, err
	}
	return accountant.CanAllocate(epsilon, delta), nil
}

// ResetScope clears a scope's spend history and re-arms its alert
// thresholds. The scope keeps its registered total budget.
func (t *Tracker) ResetScope(scope models.TrackedScope) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	accountant, err := t.accountantLocked(scope)
	if err != nil {
		return err
	}
	accountant.Reset()
	t.triggered[scope] = make(map[float64]bool)
	return nil
}

// RemoveScope stops tracking a scope entirely. Alerts already fired for
// the scope stay in the history.
func (t *Tracker) RemoveScope(scope models.TrackedScope) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.accountantLocked(scope); err != nil {
		return err
	}
	delete(t.accounts, scope)
	delete(t.triggered, scope)
	return nil
}

// RestoreScope registers a scope from a persisted accountant snapshot,
// rebuilding its spend history. Thresholds that the restored consumption
// already crosses are marked triggered without firing alerts, so a
// restart does not re-notify.
func (t *Tracker) RestoreScope(scope models.TrackedScope, snap models.AccountantSnapshot) error {
	accountant, err := ledger.FromSnapshot(snap)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.accounts[scope]; exists {
		return errors.NewValidationError(errors.CodeScopeExists,
			fmt.Sprintf("scope %s already registered", scope))
	}
	t.accounts[scope] = accountant
	triggered := make(map[float64]bool)
	if total := accountant.TotalBudget(); total != nil && !(total.Epsilon == 0 && total.Delta == 0) {
		ratio := consumptionRatio(accountant.Spent(), *total)
		for _, threshold := range t.thresholds {
			if ratio >= threshold {
				triggered[threshold] = true
			}
		}
	}
	t.triggered[scope] = triggered
	return nil
}

// Alerts returns a copy of the fired-alert history.
func (t *Tracker) Alerts() []models.BudgetAlert {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]models.BudgetAlert, len(t.alerts))
	copy(out, t.alerts)
	return out
}

// TriggeredThresholds returns the thresholds already fired for a scope,
// sorted ascending.
func (t *Tracker) TriggeredThresholds(scope models.TrackedScope) ([]float64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if _, err := t.accountantLocked(scope); err != nil {
		return nil, err
	}
	return sortedThresholdSet(t.triggered[scope]), nil
}

func sortedThresholdSet(set map[float64]bool) []float64 {
	out := make([]float64, 0, len(set))
	for value := range set {
		out = append(out, value)
	}
	sort.Float64s(out)
	return out
}

// Spend records a bare (epsilon, delta) spend against a scope and then
// evaluates the alert thresholds.
func (t *Tracker) Spend(scope models.TrackedScope, epsilon, delta float64) (models.PrivacyEvent, error) {
	return t.SpendEvent(scope, ledger.EventRequest{Epsilon: epsilon, Delta: delta})
}

// SpendEvent records a full event request against a scope's ledger and
// then evaluates the alert thresholds. The request supports everything
// the underlying ledger does, including model-spec normalization.
func (t *Tracker) SpendEvent(scope models.TrackedScope, req ledger.EventRequest) (models.PrivacyEvent, error) {
	t.mu.Lock()
	accountant, err := t.accountantLocked(scope)
	if err != nil {
		t.mu.Unlock()
		return models.PrivacyEvent{}, err
	}
	event, err := accountant.AddEvent(req)
	if err != nil {
		t.mu.Unlock()
		return models.PrivacyEvent{}, err
	}
	fired := t.evaluateLocked(scope, accountant)
	t.mu.Unlock()

	// Deliver outside the lock so a handler can query the tracker.
	if t.handler != nil {
		for _, alert := range fired {
			t.handler(alert)
		}
	}
	return event, nil
}

// evaluateLocked checks the scope's consumption ratio against each
// not-yet-fired threshold and appends any new alerts to the history.
func (t *Tracker) evaluateLocked(scope models.TrackedScope, accountant *ledger.Accountant) []models.BudgetAlert {
	total := accountant.TotalBudget()
	if total == nil || (total.Epsilon == 0 && total.Delta == 0) {
		return nil
	}
	spent := accountant.Spent()
	ratio := consumptionRatio(spent, *total)
	triggered := t.triggered[scope]

	var fired []models.BudgetAlert
	for _, threshold := range t.thresholds {
		if triggered[threshold] || ratio < threshold {
			continue
		}
		remaining := accountant.Remaining()
		alert := models.BudgetAlert{
			Scope:     scope,
			Threshold: threshold,
			Ratio:     ratio,
			Spent:     spent,
			Remaining: *remaining,
			Message: fmt.Sprintf("%s reached %.2f of budget (threshold %v)",
				scope, ratio, threshold),
			Timestamp: time.Now().UTC(),
		}
		triggered[threshold] = true
		t.alerts = append(t.alerts, alert)
		fired = append(fired, alert)
	}
	return fired
}

// consumptionRatio is the worse of the two per-component usage ratios.
// A zero total component contributes zero rather than dividing by it.
func consumptionRatio(spent, total models.PrivacyBudget) float64 {
	epsRatio := 0.0
	if total.Epsilon > 0 {
		epsRatio = spent.Epsilon / total.Epsilon
	}
	deltaRatio := 0.0
	if total.Delta > 0 {
		deltaRatio = spent.Delta / total.Delta
	}
	if deltaRatio > epsRatio {
		return deltaRatio
	}
	return epsRatio
}
