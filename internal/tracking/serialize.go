package tracking

import (
	"encoding/json"
	"fmt"

	"github.com/inferloop/dpledger/internal/ledger"
	"github.com/inferloop/dpledger/pkg/errors"
	"github.com/inferloop/dpledger/pkg/models"
)

// Snapshot exports the tracker state in its wire shape: thresholds,
// alert history, and one accountant snapshot per scope with the
// thresholds that scope has already fired.
func (t *Tracker) Snapshot() models.TrackerSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snap := models.TrackerSnapshot{
		Thresholds: make([]float64, len(t.thresholds)),
		Alerts:     make([]models.BudgetAlert, len(t.alerts)),
		Scopes:     make([]models.ScopeSnapshot, 0, len(t.accounts)),
	}
	copy(snap.Thresholds, t.thresholds)
	copy(snap.Alerts, t.alerts)

	for _, scope := range t.sortedScopesLocked() {
		snap.Scopes = append(snap.Scopes, models.ScopeSnapshot{
			Scope:               scope,
			Accountant:          t.accounts[scope].Snapshot(),
			TriggeredThresholds: sortedThresholdSet(t.triggered[scope]),
		})
	}
	return snap
}

// FromSnapshot rebuilds a tracker from its serialized state. The alert
// handler is not part of the wire shape and is supplied fresh.
func FromSnapshot(snap models.TrackerSnapshot, handler AlertHandler) (*Tracker, error) {
	tracker, err := NewTracker(snap.Thresholds, handler)
	if err != nil {
		return nil, err
	}

	for _, alert := range snap.Alerts {
		if _, err := NewScope(alert.Scope.Kind, alert.Scope.Identifier); err != nil {
			return nil, errors.NewValidationError(errors.CodeDeserialization,
				"alert scope is malformed").WithCause(err)
		}
	}
	tracker.alerts = make([]models.BudgetAlert, len(snap.Alerts))
	copy(tracker.alerts, snap.Alerts)

	for i, entry := range snap.Scopes {
		scope, err := NewScope(entry.Scope.Kind, entry.Scope.Identifier)
		if err != nil {
			return nil, errors.NewValidationError(errors.CodeDeserialization,
				fmt.Sprintf("scope entry %d is malformed", i)).WithCause(err)
		}
		if _, exists := tracker.accounts[scope]; exists {
			return nil, errors.NewValidationError(errors.CodeDeserialization,
				fmt.Sprintf("scope %s appears twice", scope))
		}
		accountant, err := ledger.FromSnapshot(entry.Accountant)
		if err != nil {
			return nil, errors.NewValidationError(errors.CodeDeserialization,
				fmt.Sprintf("accountant for scope %s is malformed", scope)).WithCause(err)
		}
		triggered := make(map[float64]bool, len(entry.TriggeredThresholds))
		for _, threshold := range entry.TriggeredThresholds {
			triggered[threshold] = true
		}
		tracker.accounts[scope] = accountant
		tracker.triggered[scope] = triggered
	}
	return tracker, nil
}

// MarshalJSON serializes the tracker via its snapshot form.
func (t *Tracker) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Snapshot())
}

// UnmarshalTracker decodes a snapshot payload and rebuilds the tracker.
func UnmarshalTracker(data []byte, handler AlertHandler) (*Tracker, error) {
	var snap models.TrackerSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, errors.NewValidationError(errors.CodeDeserialization,
			"tracker payload is not valid JSON").WithCause(err)
	}
	return FromSnapshot(snap, handler)
}
