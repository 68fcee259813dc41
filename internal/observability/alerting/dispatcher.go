// Package alerting routes budget threshold alerts to configured notifiers
// with repeat suppression and a bounded alert history.
package alerting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/dpledger/pkg/models"
)

// Dispatcher fans budget alerts out to notifiers and tracks their lifecycle
type Dispatcher struct {
	logger    *logrus.Logger
	config    *DispatcherConfig
	mu        sync.RWMutex
	active    map[string]*Alert
	history   []Alert
	notifiers []Notifier
}

// DispatcherConfig configures alert dispatch
type DispatcherConfig struct {
	Enabled             bool          `json:"enabled"`
	NotificationTimeout time.Duration `json:"notification_timeout"`
	SuppressRepeats     bool          `json:"suppress_repeats"`
	RepeatInterval      time.Duration `json:"repeat_interval"`
	HistoryRetention    time.Duration `json:"history_retention"`
}

// AlertSeverity defines alert severity levels
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// AlertStatus defines alert states
type AlertStatus string

const (
	StatusFiring   AlertStatus = "firing"
	StatusResolved AlertStatus = "resolved"
)

// Alert represents an active or historical budget alert
type Alert struct {
	ID          string               `json:"id"`
	Scope       string               `json:"scope"`
	Threshold   float64              `json:"threshold"`
	Ratio       float64              `json:"ratio"`
	Severity    AlertSeverity        `json:"severity"`
	Status      AlertStatus          `json:"status"`
	Message     string               `json:"message"`
	Spent       models.PrivacyBudget `json:"spent"`
	Remaining   models.PrivacyBudget `json:"remaining"`
	StartsAt    time.Time            `json:"starts_at"`
	EndsAt      *time.Time           `json:"ends_at,omitempty"`
	UpdatedAt   time.Time            `json:"updated_at"`
	NotifiedAt  *time.Time           `json:"notified_at,omitempty"`
	RepeatCount int                  `json:"repeat_count"`
}

// Notifier delivers alerts to an external channel
type Notifier interface {
	Name() string
	Send(ctx context.Context, alert *Alert) error
	SupportsSeverity(severity AlertSeverity) bool
}

// NewDispatcher creates a new alert dispatcher
func NewDispatcher(config *DispatcherConfig, logger *logrus.Logger) *Dispatcher {
	if config == nil {
		config = getDefaultDispatcherConfig()
	}

	if logger == nil {
		logger = logrus.New()
	}

	return &Dispatcher{
		logger:    logger,
		config:    config,
		active:    make(map[string]*Alert),
		history:   make([]Alert, 0),
		notifiers: make([]Notifier, 0),
	}
}

// Start starts the dispatcher's history cleanup loop
func (d *Dispatcher) Start(ctx context.Context) error {
	if !d.config.Enabled {
		d.logger.Info("Alert dispatcher disabled")
		return nil
	}

	d.logger.Info("Starting alert dispatcher")
	go d.cleanupLoop(ctx)
	return nil
}

// RegisterNotifier registers a notifier for alert delivery
func (d *Dispatcher) RegisterNotifier(notifier Notifier) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.notifiers = append(d.notifiers, notifier)
	d.logger.WithField("notifier", notifier.Name()).Info("Registered alert notifier")
}

// Dispatch records a budget alert and notifies its subscribers. Repeated
// crossings of the same scope and threshold update the existing alert
// instead of opening a new one.
func (d *Dispatcher) Dispatch(ctx context.Context, budgetAlert *models.BudgetAlert) {
	if !d.config.Enabled || budgetAlert == nil {
		return
	}

	d.mu.Lock()

	key := alertKey(budgetAlert.Scope.String(), budgetAlert.Threshold)
	if existing, ok := d.active[key]; ok {
		existing.Ratio = budgetAlert.Ratio
		existing.Spent = budgetAlert.Spent
		existing.Remaining = budgetAlert.Remaining
		existing.UpdatedAt = time.Now()
		existing.RepeatCount++
		repeat := d.shouldRepeatNotification(existing)
		alertCopy := *existing
		d.mu.Unlock()

		if repeat {
			go d.sendNotification(&alertCopy)
			d.markNotified(key)
		}
		return
	}

	alert := &Alert{
		ID:        uuid.NewString(),
		Scope:     budgetAlert.Scope.String(),
		Threshold: budgetAlert.Threshold,
		Ratio:     budgetAlert.Ratio,
		Severity:  severityForThreshold(budgetAlert.Threshold),
		Status:    StatusFiring,
		Message:   budgetAlert.Message,
		Spent:     budgetAlert.Spent,
		Remaining: budgetAlert.Remaining,
		StartsAt:  budgetAlert.Timestamp,
		UpdatedAt: budgetAlert.Timestamp,
	}
	if alert.StartsAt.IsZero() {
		now := time.Now()
		alert.StartsAt = now
		alert.UpdatedAt = now
	}

	d.active[key] = alert
	alertCopy := *alert
	d.mu.Unlock()

	d.logger.WithFields(logrus.Fields{
		"alert_id":  alert.ID,
		"scope":     alert.Scope,
		"threshold": alert.Threshold,
		"ratio":     alert.Ratio,
		"severity":  alert.Severity,
	}).Info("Budget alert firing")

	go d.sendNotification(&alertCopy)
	d.markNotified(key)
}

// ResolveScope resolves every firing alert for a scope, typically after
// its budget has been reset.
func (d *Dispatcher) ResolveScope(scope string) int {
	d.mu.Lock()

	resolved := make([]Alert, 0)
	now := time.Now()
	for key, alert := range d.active {
		if alert.Scope != scope {
			continue
		}
		alert.Status = StatusResolved
		alert.EndsAt = &now
		alert.UpdatedAt = now
		d.history = append(d.history, *alert)
		resolved = append(resolved, *alert)
		delete(d.active, key)
	}
	d.mu.Unlock()

	for i := range resolved {
		alert := resolved[i]
		d.logger.WithFields(logrus.Fields{
			"alert_id": alert.ID,
			"scope":    alert.Scope,
			"duration": now.Sub(alert.StartsAt),
		}).Info("Budget alert resolved")
		go d.sendNotification(&alert)
	}

	return len(resolved)
}

// ActiveAlerts returns a copy of all firing alerts
func (d *Dispatcher) ActiveAlerts() []*Alert {
	d.mu.RLock()
	defer d.mu.RUnlock()

	alerts := make([]*Alert, 0, len(d.active))
	for _, alert := range d.active {
		alertCopy := *alert
		alerts = append(alerts, &alertCopy)
	}
	return alerts
}

// History returns up to limit resolved alerts, newest last
func (d *Dispatcher) History(limit int) []Alert {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if limit <= 0 || limit > len(d.history) {
		limit = len(d.history)
	}

	history := make([]Alert, limit)
	copy(history, d.history[len(d.history)-limit:])
	return history
}

// sendNotification fans an alert out to every notifier supporting its severity
func (d *Dispatcher) sendNotification(alert *Alert) {
	ctx, cancel := context.WithTimeout(context.Background(), d.config.NotificationTimeout)
	defer cancel()

	d.mu.RLock()
	notifiers := make([]Notifier, len(d.notifiers))
	copy(notifiers, d.notifiers)
	d.mu.RUnlock()

	var wg sync.WaitGroup
	for _, notifier := range notifiers {
		if !notifier.SupportsSeverity(alert.Severity) {
			continue
		}

		wg.Add(1)
		go func(n Notifier) {
			defer wg.Done()
			if err := n.Send(ctx, alert); err != nil {
				d.logger.WithError(err).WithFields(logrus.Fields{
					"notifier": n.Name(),
					"alert_id": alert.ID,
				}).Error("Failed to send alert notification")
			}
		}(notifier)
	}
	wg.Wait()
}

func (d *Dispatcher) markNotified(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if alert, ok := d.active[key]; ok {
		now := time.Now()
		alert.NotifiedAt = &now
	}
}

func (d *Dispatcher) shouldRepeatNotification(alert *Alert) bool {
	if !d.config.SuppressRepeats {
		return true
	}

	if alert.NotifiedAt == nil {
		return true
	}

	return time.Since(*alert.NotifiedAt) >= d.config.RepeatInterval
}

// cleanupLoop prunes resolved alerts past the retention window
func (d *Dispatcher) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.cleanup()
		}
	}
}

func (d *Dispatcher) cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := time.Now().Add(-d.config.HistoryRetention)
	kept := d.history[:0]
	for _, alert := range d.history {
		if alert.UpdatedAt.After(cutoff) {
			kept = append(kept, alert)
		}
	}

	removed := len(d.history) - len(kept)
	d.history = kept

	if removed > 0 {
		d.logger.WithField("removed", removed).Debug("Pruned resolved alerts from history")
	}
}

func alertKey(scope string, threshold float64) string {
	return fmt.Sprintf("%s@%g", scope, threshold)
}

// severityForThreshold maps a budget threshold to an alert severity.
// Crossing 95% of the budget is treated as critical.
func severityForThreshold(threshold float64) AlertSeverity {
	switch {
	case threshold >= 0.95:
		return SeverityCritical
	case threshold >= 0.75:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

func getDefaultDispatcherConfig() *DispatcherConfig {
	return &DispatcherConfig{
		Enabled:             true,
		NotificationTimeout: 30 * time.Second,
		SuppressRepeats:     true,
		RepeatInterval:      4 * time.Hour,
		HistoryRetention:    7 * 24 * time.Hour,
	}
}
