package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/dpledger/pkg/constants"
	"github.com/inferloop/dpledger/pkg/errors"
	"github.com/inferloop/dpledger/pkg/models"
)

// Accountant tracks cumulative privacy spending against an optional
// (epsilon, delta) ceiling. A nil total budget means unbounded: every
// well-formed spend is accepted and only recorded.
//
// All state transitions happen under one lock so the check-then-append
// sequence inside AddEvent is atomic; two concurrent spends can never
// both pass the ceiling check and then both append.
type Accountant struct {
	mu          sync.RWMutex
	name        string
	totalBudget *models.PrivacyBudget
	slack       float64
	spent       models.PrivacyBudget
	events      []models.PrivacyEvent
	logger      *logrus.Logger
}

// Config carries the accountant construction parameters.
type Config struct {
	// Name identifies the accountant in logs and snapshots.
	Name string
	// TotalEpsilon is the global epsilon ceiling. Nil means unbounded.
	TotalEpsilon *float64
	// TotalDelta is the global delta ceiling. Requires TotalEpsilon;
	// nil with a bounded epsilon means a zero delta ceiling.
	TotalDelta *float64
	// Slack is the numerical tolerance applied to ceiling checks.
	// Zero selects the default.
	Slack float64
	// Logger receives spend activity. Nil selects a default logger.
	Logger *logrus.Logger
}

// NewAccountant creates an accountant from the given configuration.
func NewAccountant(cfg Config) (*Accountant, error) {
	if cfg.TotalEpsilon == nil && cfg.TotalDelta != nil {
		return nil, errors.NewValidationError(errors.CodeInvalidConfig,
			"delta budget requires an epsilon budget as well")
	}
	if cfg.Slack < 0 {
		return nil, errors.NewValidationError(errors.CodeInvalidConfig,
			fmt.Sprintf("slack must be non-negative, got %v", cfg.Slack))
	}
	slack := cfg.Slack
	if slack == 0 {
		slack = constants.DefaultSlack
	}
	name := cfg.Name
	if name == "" {
		name = "accountant"
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logrus.New()
	}

	a := &Accountant{name: name, slack: slack, logger: logger}
	if cfg.TotalEpsilon != nil {
		var delta float64
		if cfg.TotalDelta != nil {
			delta = *cfg.TotalDelta
		}
		budget, err := models.NewPrivacyBudget(*cfg.TotalEpsilon, delta)
		if err != nil {
			return nil, err
		}
		a.totalBudget = &budget
	}
	return a, nil
}

// NewBoundedAccountant creates an accountant with an explicit ceiling.
func NewBoundedAccountant(name string, totalEpsilon, totalDelta float64) (*Accountant, error) {
	return NewAccountant(Config{
		Name:         name,
		TotalEpsilon: &totalEpsilon,
		TotalDelta:   &totalDelta,
	})
}

// NewUnboundedAccountant creates an accountant that records spending
// without enforcing a ceiling.
func NewUnboundedAccountant(name string) *Accountant {
	a, _ := NewAccountant(Config{Name: name})
	return a
}

// Name returns the accountant identifier.
func (a *Accountant) Name() string {
	return a.name
}

// Slack returns the ceiling-check tolerance.
func (a *Accountant) Slack() float64 {
	return a.slack
}

// TotalBudget returns a copy of the ceiling, or nil when unbounded.
func (a *Accountant) TotalBudget() *models.PrivacyBudget {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.totalBudget == nil {
		return nil
	}
	budget := *a.totalBudget
	return &budget
}

// Spent returns the cumulative spending so far.
func (a *Accountant) Spent() models.PrivacyBudget {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.spent
}

// Remaining returns the residual budget when bounded, nil otherwise.
func (a *Accountant) Remaining() *models.PrivacyBudget {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.remainingLocked()
}

func (a *Accountant) remainingLocked() *models.PrivacyBudget {
	if a.totalBudget == nil {
		return nil
	}
	remaining := a.totalBudget.Sub(a.spent)
	return &remaining
}

// Events returns a copy of the recorded event history in order.
func (a *Accountant) Events() []models.PrivacyEvent {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]models.PrivacyEvent, len(a.events))
	copy(out, a.events)
	return out
}

// EventCount returns the number of recorded events.
func (a *Accountant) EventCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.events)
}

// CanAllocate reports whether a spend of (epsilon, delta) would be
// accepted. Malformed input yields false rather than an error, and no
// state changes.
func (a *Accountant) CanAllocate(epsilon, delta float64) bool {
	if _, err := models.NewPrivacyBudget(epsilon, delta); err != nil {
		return false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.fitsLocked(epsilon, delta)
}

func (a *Accountant) fitsLocked(epsilon, delta float64) bool {
	if a.totalBudget == nil {
		return true
	}
	return a.spent.Epsilon+epsilon <= a.totalBudget.Epsilon+a.slack &&
		a.spent.Delta+delta <= a.totalBudget.Delta+a.slack
}

// Spend records a bare (epsilon, delta) event.
func (a *Accountant) Spend(epsilon, delta float64) (models.PrivacyEvent, error) {
	return a.AddEvent(EventRequest{Epsilon: epsilon, Delta: delta})
}

// AddEvent normalizes the request, checks the ceiling, and appends the
// event. On any failure the accountant state is untouched.
func (a *Accountant) AddEvent(req EventRequest) (models.PrivacyEvent, error) {
	epsilon, delta, reports, err := normalizeRequest(req)
	if err != nil {
		return models.PrivacyEvent{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.fitsLocked(epsilon, delta) {
		remaining := a.remainingLocked()
		a.logger.WithFields(logrus.Fields{
			"ledger":            a.name,
			"epsilon":           epsilon,
			"delta":             delta,
			"remaining_epsilon": remaining.Epsilon,
			"remaining_delta":   remaining.Delta,
		}).Warn("Privacy spend rejected over budget")
		return models.PrivacyEvent{}, errors.NewBudgetExceededError(
			epsilon, delta, remaining.Epsilon, remaining.Delta)
	}

	event := buildEvent(req, epsilon, delta, reports)
	a.events = append(a.events, event)
	a.spent = a.spent.Add(event.Budget())
	a.logger.WithFields(logrus.Fields{
		"ledger":   a.name,
		"event_id": event.ID,
		"epsilon":  epsilon,
		"delta":    delta,
	}).Debug("Recorded privacy spend")
	return event, nil
}

// Extend bulk-registers a sequence of (epsilon, delta) pairs, stopping
// at the first rejection.
func (a *Accountant) Extend(pairs []models.PrivacyBudget) error {
	for _, pair := range pairs {
		if _, err := a.Spend(pair.Epsilon, pair.Delta); err != nil {
			return err
		}
	}
	return nil
}

// Reset clears recorded events and zeroes the spending counters.
func (a *Accountant) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = nil
	a.spent = models.PrivacyBudget{}
}

func buildEvent(req EventRequest, epsilon, delta float64, reports []models.GuaranteeReport) models.PrivacyEvent {
	event := models.PrivacyEvent{
		ID:          uuid.New().String(),
		Epsilon:     epsilon,
		Delta:       delta,
		Description: req.Description,
		Model:       req.Model,
		Mechanism:   req.Mechanism,
		Reports:     reports,
		Timestamp:   time.Now().UTC(),
	}
	if len(req.Metadata) > 0 {
		event.Metadata = make(map[string]interface{}, len(req.Metadata))
		for k, v := range req.Metadata {
			event.Metadata[k] = v
		}
	}
	if len(req.Parameters) > 0 {
		event.Parameters = make(map[string]float64, len(req.Parameters))
		for k, v := range req.Parameters {
			event.Parameters[k] = v
		}
	}
	if len(reports) > 0 {
		// The recorded cost is the CDP-equivalent selection over the
		// supplied guarantees.
		event.Model = models.PrivacyModelCDP
		event.CDPEquivalent = &models.PrivacyBudget{Epsilon: epsilon, Delta: delta}
	}
	return event
}
