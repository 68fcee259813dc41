package models

import (
	"time"
)

// PrivacyEvent is an immutable record of one budget spend. Events are
// created by an accountant at spend time and never mutated afterwards.
type PrivacyEvent struct {
	ID            string                 `json:"id,omitempty"`
	Epsilon       float64                `json:"epsilon"`
	Delta         float64                `json:"delta"`
	Description   string                 `json:"description,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	Model         PrivacyModel           `json:"model,omitempty"`
	Mechanism     string                 `json:"mechanism,omitempty"`
	Parameters    map[string]float64     `json:"parameters,omitempty"`
	CDPEquivalent *PrivacyBudget         `json:"cdp_equivalent,omitempty"`
	Reports       []GuaranteeReport      `json:"reports,omitempty"`
	Timestamp     time.Time              `json:"timestamp,omitempty"`
}

// Budget returns the event's (epsilon, delta) spend as a budget value
func (e PrivacyEvent) Budget() PrivacyBudget {
	return PrivacyBudget{Epsilon: e.Epsilon, Delta: e.Delta}
}

// Validate checks the event's numeric fields
func (e PrivacyEvent) Validate() error {
	if err := e.Budget().Validate(); err != nil {
		return err
	}
	if e.CDPEquivalent != nil {
		return e.CDPEquivalent.Validate()
	}
	return nil
}

// GuaranteeReport is one audit sub-report attached to an event when the
// event represents one or more underlying guarantees collapsed into a
// single allocation.
type GuaranteeReport struct {
	Model         PrivacyModel           `json:"model"`
	Mechanism     string                 `json:"mechanism,omitempty"`
	Description   string                 `json:"description,omitempty"`
	Proof         string                 `json:"proof,omitempty"`
	Parameters    map[string]float64     `json:"parameters,omitempty"`
	Summary       string                 `json:"summary,omitempty"`
	CDPEquivalent *PrivacyBudget         `json:"cdp_equivalent,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}
