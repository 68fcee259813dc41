package models

import (
	"time"
)

// AccountantSnapshot is the persisted form of a ledger. Field names are
// part of the serialization contract and survive round-trips through
// snapshot stores unchanged.
type AccountantSnapshot struct {
	Name        string         `json:"name"`
	TotalBudget *PrivacyBudget `json:"total_budget"`
	Spent       PrivacyBudget  `json:"spent"`
	Events      []PrivacyEvent `json:"events"`
	Slack       float64        `json:"slack"`
	CreatedAt   time.Time      `json:"created_at,omitempty"`
}

// TrackedScope identifies one budget namespace inside a multi-scope
// tracker, such as a tenant, a task, or a session. It is comparable and
// used directly as a map key.
type TrackedScope struct {
	Kind       string `json:"kind"`
	Identifier string `json:"identifier"`
}

func (s TrackedScope) String() string {
	return s.Kind + ":" + s.Identifier
}

// BudgetAlert records one threshold crossing for one scope
type BudgetAlert struct {
	Scope     TrackedScope           `json:"scope"`
	Threshold float64                `json:"threshold"`
	Ratio     float64                `json:"ratio"`
	Spent     PrivacyBudget          `json:"spent"`
	Remaining PrivacyBudget          `json:"remaining"`
	Message   string                 `json:"message"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp,omitempty"`
}

// ScopeSnapshot is the persisted form of one tracked scope
type ScopeSnapshot struct {
	Scope               TrackedScope       `json:"scope"`
	Accountant          AccountantSnapshot `json:"accountant"`
	TriggeredThresholds []float64          `json:"triggered_thresholds"`
}

// TrackerSnapshot is the persisted form of a multi-scope tracker
type TrackerSnapshot struct {
	Thresholds []float64       `json:"thresholds"`
	Alerts     []BudgetAlert   `json:"alerts"`
	Scopes     []ScopeSnapshot `json:"scopes"`
}

// UsagePoint is one spend observation emitted to the usage sink for
// time-series analysis of budget consumption.
type UsagePoint struct {
	Scope     string            `json:"scope"`
	Epsilon   float64           `json:"epsilon"`
	Delta     float64           `json:"delta"`
	Model     PrivacyModel      `json:"model,omitempty"`
	Mechanism string            `json:"mechanism,omitempty"`
	UserKey   string            `json:"user_key,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// SnapshotInfo describes a stored snapshot without loading its events
type SnapshotInfo struct {
	Name      string    `json:"name"`
	Key       string    `json:"key,omitempty"`
	Size      int64     `json:"size,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
