// Package api assembles the HTTP handlers of the budget ledger service.
package api

import (
	"github.com/sirupsen/logrus"

	"github.com/inferloop/dpledger/internal/api/handlers"
	"github.com/inferloop/dpledger/internal/mechanisms"
	"github.com/inferloop/dpledger/internal/observability/alerting"
	"github.com/inferloop/dpledger/internal/observability/health"
	"github.com/inferloop/dpledger/internal/observability/metrics"
	"github.com/inferloop/dpledger/internal/tracking"
	"github.com/inferloop/dpledger/pkg/interfaces"
)

// Handlers contains all HTTP handlers for the API
type Handlers struct {
	Scopes      *handlers.ScopesHandler
	Composition *handlers.CompositionHandler
	Mechanisms  *handlers.MechanismsHandler
	Alerts      *handlers.AlertsHandler
	Snapshots   *handlers.SnapshotsHandler
	Usage       *handlers.UsageHandler
	Health      *handlers.HealthHandler
	Dashboards  *handlers.DashboardsHandler
}

// HandlerConfig carries the shared dependencies the handlers run on.
// The storage sinks, metrics, dispatcher, and monitor are all optional;
// endpoints that need a missing backend report service unavailable
// instead of failing at startup.
type HandlerConfig struct {
	Tracker     *tracking.Tracker
	Mechanisms  *mechanisms.Factory
	Dispatcher  *alerting.Dispatcher
	Monitor     *health.HealthMonitor
	Snapshots   interfaces.SnapshotStore
	Audit       interfaces.AuditSink
	Usage       interfaces.UsageSink
	Metrics     *metrics.PrometheusMetrics
	Version     string
	Environment string
	Logger      *logrus.Logger
}

// NewHandlers creates a new handlers instance with all HTTP handlers
func NewHandlers(config *HandlerConfig) *Handlers {
	if config.Logger == nil {
		config.Logger = logrus.New()
	}

	return &Handlers{
		Scopes: handlers.NewScopesHandler(config.Tracker, config.Audit, config.Usage,
			config.Metrics, config.Dispatcher, config.Logger),
		Composition: handlers.NewCompositionHandler(config.Metrics, config.Logger),
		Mechanisms:  handlers.NewMechanismsHandler(config.Mechanisms, config.Metrics, config.Logger),
		Alerts:      handlers.NewAlertsHandler(config.Dispatcher, config.Audit, config.Logger),
		Snapshots:   handlers.NewSnapshotsHandler(config.Tracker, config.Snapshots, config.Logger),
		Usage:       handlers.NewUsageHandler(config.Usage, config.Logger),
		Health:      handlers.NewHealthHandler(config.Monitor, config.Version, config.Environment, config.Logger),
		Dashboards:  handlers.NewDashboardsHandler(config.Logger),
	}
}
