package ledger

import (
	"encoding/json"
	"time"

	"github.com/inferloop/dpledger/pkg/errors"
	"github.com/inferloop/dpledger/pkg/models"
)

// Snapshot returns a JSON-friendly copy of the accountant state.
func (a *Accountant) Snapshot() models.AccountantSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	events := make([]models.PrivacyEvent, len(a.events))
	copy(events, a.events)

	snap := models.AccountantSnapshot{
		Name:      a.name,
		Spent:     a.spent,
		Events:    events,
		Slack:     a.slack,
		CreatedAt: time.Now().UTC(),
	}
	if a.totalBudget != nil {
		budget := *a.totalBudget
		snap.TotalBudget = &budget
	}
	return snap
}

// FromSnapshot reconstructs an accountant, including its spending
// counters and event history. The stored totals are trusted as-is; the
// snapshot is the authority on what was already spent.
func FromSnapshot(snap models.AccountantSnapshot) (*Accountant, error) {
	if snap.Slack < 0 {
		return nil, errors.NewValidationError(errors.CodeDeserialization,
			"snapshot carries a negative slack")
	}
	cfg := Config{Name: snap.Name, Slack: snap.Slack}
	if snap.TotalBudget != nil {
		eps := snap.TotalBudget.Epsilon
		delta := snap.TotalBudget.Delta
		cfg.TotalEpsilon = &eps
		cfg.TotalDelta = &delta
	}
	a, err := NewAccountant(cfg)
	if err != nil {
		return nil, errors.NewValidationError(errors.CodeDeserialization,
			"snapshot carries an invalid accountant configuration").WithCause(err)
	}
	// Keep an explicitly-zero stored slack rather than the default.
	a.slack = snap.Slack
	if err := snap.Spent.Validate(); err != nil {
		return nil, errors.NewValidationError(errors.CodeDeserialization,
			"snapshot carries invalid spent totals").WithCause(err)
	}
	for i, event := range snap.Events {
		if err := event.Validate(); err != nil {
			return nil, errors.NewValidationError(errors.CodeDeserialization,
				"snapshot event failed validation").
				WithContext("event_index", i).WithCause(err)
		}
	}
	a.spent = snap.Spent
	if len(snap.Events) > 0 {
		a.events = make([]models.PrivacyEvent, len(snap.Events))
		copy(a.events, snap.Events)
	}
	return a, nil
}

// MarshalJSON serializes the accountant through its snapshot form.
func (a *Accountant) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.Snapshot())
}

// UnmarshalAccountant decodes a snapshot payload and rebuilds the
// accountant from it.
func UnmarshalAccountant(data []byte) (*Accountant, error) {
	var snap models.AccountantSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, errors.NewValidationError(errors.CodeDeserialization,
			"accountant snapshot is not valid JSON").WithCause(err)
	}
	return FromSnapshot(snap)
}
