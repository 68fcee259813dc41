// Package metrics exposes the ledger's Prometheus instrumentation: spend
// counters, budget utilization gauges, alert and composition counters, plus
// the usual HTTP, storage, and worker instruments.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/dpledger/pkg/constants"
)

// PrometheusMetrics collects and serves Prometheus metrics for the ledger
type PrometheusMetrics struct {
	logger   *logrus.Logger
	registry *prometheus.Registry
	server   *http.Server
	config   *PrometheusConfig
	mu       sync.RWMutex

	// HTTP metrics
	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec
	httpActiveConnections prometheus.Gauge

	// Budget spend metrics
	spendsTotal       *prometheus.CounterVec
	spendEpsilonTotal *prometheus.CounterVec
	spendDeltaTotal   *prometheus.CounterVec
	budgetUtilization *prometheus.GaugeVec
	scopesTracked     prometheus.Gauge
	alertsTotal       *prometheus.CounterVec

	// Accounting metrics
	compositionsTotal   *prometheus.CounterVec
	compositionDuration *prometheus.HistogramVec
	conversionsTotal    *prometheus.CounterVec
	calibrationsTotal   *prometheus.CounterVec

	// Storage metrics
	storageOperationsTotal   *prometheus.CounterVec
	storageOperationDuration *prometheus.HistogramVec

	// Worker metrics
	workerJobsTotal   *prometheus.CounterVec
	workerJobDuration *prometheus.HistogramVec
	workerQueueDepth  prometheus.Gauge

	// Error and health metrics
	errorsTotal  *prometheus.CounterVec
	healthStatus *prometheus.GaugeVec
}

// PrometheusConfig configures the Prometheus metrics endpoint
type PrometheusConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Port      int    `json:"port" yaml:"port"`
	Path      string `json:"path" yaml:"path"`
	Namespace string `json:"namespace" yaml:"namespace"`
	Subsystem string `json:"subsystem" yaml:"subsystem"`
}

// NewPrometheusMetrics creates a new Prometheus metrics collector
func NewPrometheusMetrics(config *PrometheusConfig, logger *logrus.Logger) *PrometheusMetrics {
	if config == nil {
		config = getDefaultPrometheusConfig()
	}

	if logger == nil {
		logger = logrus.New()
	}

	pm := &PrometheusMetrics{
		logger:   logger,
		config:   config,
		registry: prometheus.NewRegistry(),
	}

	pm.initializeMetrics()
	pm.registerMetrics()

	return pm
}

// initializeMetrics builds every metric vector with the configured namespace
func (pm *PrometheusMetrics) initializeMetrics() {
	namespace := pm.config.Namespace
	subsystem := pm.config.Subsystem

	pm.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests processed",
		},
		[]string{"method", "path", "status_code"},
	)

	pm.httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	pm.httpActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "http_active_connections",
			Help:      "Number of HTTP connections currently being served",
		},
	)

	pm.spendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "spends_total",
			Help:      "Total number of budget spend requests by outcome",
		},
		[]string{"scope", "model", "status"},
	)

	pm.spendEpsilonTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "spend_epsilon_total",
			Help:      "Cumulative epsilon charged against each scope",
		},
		[]string{"scope"},
	)

	pm.spendDeltaTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "spend_delta_total",
			Help:      "Cumulative delta charged against each scope",
		},
		[]string{"scope"},
	)

	pm.budgetUtilization = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "budget_utilization_ratio",
			Help:      "Fraction of the scope budget consumed, by budget component",
		},
		[]string{"scope", "component"},
	)

	pm.scopesTracked = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "scopes_tracked",
			Help:      "Number of scopes with a registered accountant",
		},
	)

	pm.alertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "budget_alerts_total",
			Help:      "Total number of budget threshold alerts fired",
		},
		[]string{"scope", "threshold"},
	)

	pm.compositionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "compositions_total",
			Help:      "Total number of composition computations by method",
		},
		[]string{"method", "status"},
	)

	pm.compositionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "composition_duration_seconds",
			Help:      "Composition computation duration in seconds",
			Buckets:   []float64{0.0001, 0.001, 0.01, 0.1, 0.5, 1.0},
		},
		[]string{"method"},
	)

	pm.conversionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "conversions_total",
			Help:      "Total number of guarantee conversions by source model",
		},
		[]string{"model", "status"},
	)

	pm.calibrationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "calibrations_total",
			Help:      "Total number of mechanism calibrations",
		},
		[]string{"mechanism", "status"},
	)

	pm.storageOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "storage_operations_total",
			Help:      "Total number of storage operations",
		},
		[]string{"backend", "operation", "status"},
	)

	pm.storageOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "storage_operation_duration_seconds",
			Help:      "Storage operation duration in seconds",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1.0, 5.0},
		},
		[]string{"backend", "operation"},
	)

	pm.workerJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "worker_jobs_total",
			Help:      "Total number of background jobs executed",
		},
		[]string{"job_type", "status"},
	)

	pm.workerJobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "worker_job_duration_seconds",
			Help:      "Background job duration in seconds",
			Buckets:   []float64{0.1, 1, 10, 60, 300, 1800, 3600},
		},
		[]string{"job_type"},
	)

	pm.workerQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "worker_queue_depth",
			Help:      "Number of jobs waiting in the worker queue",
		},
	)

	pm.errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "errors_total",
			Help:      "Total number of errors by component and type",
		},
		[]string{"component", "error_type"},
	)

	pm.healthStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "health_status",
			Help:      "Component health status (0=unhealthy, 1=healthy, 2=degraded)",
		},
		[]string{"component"},
	)
}

// registerMetrics registers all metrics with the registry
func (pm *PrometheusMetrics) registerMetrics() {
	metrics := []prometheus.Collector{
		pm.httpRequestsTotal,
		pm.httpRequestDuration,
		pm.httpActiveConnections,
		pm.spendsTotal,
		pm.spendEpsilonTotal,
		pm.spendDeltaTotal,
		pm.budgetUtilization,
		pm.scopesTracked,
		pm.alertsTotal,
		pm.compositionsTotal,
		pm.compositionDuration,
		pm.conversionsTotal,
		pm.calibrationsTotal,
		pm.storageOperationsTotal,
		pm.storageOperationDuration,
		pm.workerJobsTotal,
		pm.workerJobDuration,
		pm.workerQueueDepth,
		pm.errorsTotal,
		pm.healthStatus,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}

	for _, metric := range metrics {
		pm.registry.MustRegister(metric)
	}
}

// Start starts the Prometheus metrics server
func (pm *PrometheusMetrics) Start(ctx context.Context) error {
	if !pm.config.Enabled {
		pm.logger.Info("Prometheus metrics disabled")
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(pm.config.Path, pm.Handler())

	pm.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", pm.config.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		pm.logger.WithFields(logrus.Fields{
			"port": pm.config.Port,
			"path": pm.config.Path,
		}).Info("Starting Prometheus metrics server")

		if err := pm.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			pm.logger.WithError(err).Error("Prometheus metrics server failed")
		}
	}()

	return nil
}

// Stop stops the Prometheus metrics server
func (pm *PrometheusMetrics) Stop(ctx context.Context) error {
	if pm.server == nil {
		return nil
	}

	pm.logger.Info("Stopping Prometheus metrics server")
	return pm.server.Shutdown(ctx)
}

// Handler returns the HTTP handler serving the metric registry, for callers
// that mount metrics on their own router instead of the standalone server.
func (pm *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// GetRegistry returns the underlying Prometheus registry
func (pm *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return pm.registry
}

// RecordHTTPRequest records an HTTP request
func (pm *PrometheusMetrics) RecordHTTPRequest(method, path, statusCode string, duration time.Duration) {
	pm.httpRequestsTotal.WithLabelValues(method, path, statusCode).Inc()
	pm.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// IncActiveConnections increments the active connection gauge
func (pm *PrometheusMetrics) IncActiveConnections() {
	pm.httpActiveConnections.Inc()
}

// DecActiveConnections decrements the active connection gauge
func (pm *PrometheusMetrics) DecActiveConnections() {
	pm.httpActiveConnections.Dec()
}

// RecordSpend records an accepted budget spend
func (pm *PrometheusMetrics) RecordSpend(scope, model string, epsilon, delta float64) {
	pm.spendsTotal.WithLabelValues(scope, model, "accepted").Inc()
	pm.spendEpsilonTotal.WithLabelValues(scope).Add(epsilon)
	pm.spendDeltaTotal.WithLabelValues(scope).Add(delta)
}

// RecordSpendDenied records a spend request refused by the accountant
func (pm *PrometheusMetrics) RecordSpendDenied(scope, model, reason string) {
	pm.spendsTotal.WithLabelValues(scope, model, reason).Inc()
}

// SetBudgetUtilization records the consumed fraction of a scope's budget
func (pm *PrometheusMetrics) SetBudgetUtilization(scope string, epsilonRatio, deltaRatio float64) {
	pm.budgetUtilization.WithLabelValues(scope, "epsilon").Set(epsilonRatio)
	pm.budgetUtilization.WithLabelValues(scope, "delta").Set(deltaRatio)
}

// SetScopesTracked records the number of registered accountants
func (pm *PrometheusMetrics) SetScopesTracked(count int) {
	pm.scopesTracked.Set(float64(count))
}

// RecordBudgetAlert records a fired budget threshold alert
func (pm *PrometheusMetrics) RecordBudgetAlert(scope string, threshold float64) {
	pm.alertsTotal.WithLabelValues(scope, fmt.Sprintf("%g", threshold)).Inc()
}

// RecordComposition records a composition computation
func (pm *PrometheusMetrics) RecordComposition(method, status string, duration time.Duration) {
	pm.compositionsTotal.WithLabelValues(method, status).Inc()
	pm.compositionDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordConversion records a guarantee conversion
func (pm *PrometheusMetrics) RecordConversion(model, status string) {
	pm.conversionsTotal.WithLabelValues(model, status).Inc()
}

// RecordCalibration records a mechanism calibration
func (pm *PrometheusMetrics) RecordCalibration(mechanism, status string) {
	pm.calibrationsTotal.WithLabelValues(mechanism, status).Inc()
}

// RecordStorageOperation records a storage operation
func (pm *PrometheusMetrics) RecordStorageOperation(backend, operation, status string, duration time.Duration) {
	pm.storageOperationsTotal.WithLabelValues(backend, operation, status).Inc()
	pm.storageOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

// RecordWorkerJob records a background job execution
func (pm *PrometheusMetrics) RecordWorkerJob(jobType, status string, duration time.Duration) {
	pm.workerJobsTotal.WithLabelValues(jobType, status).Inc()
	pm.workerJobDuration.WithLabelValues(jobType).Observe(duration.Seconds())
}

// SetWorkerQueueDepth records the number of queued jobs
func (pm *PrometheusMetrics) SetWorkerQueueDepth(depth int) {
	pm.workerQueueDepth.Set(float64(depth))
}

// RecordError records an error occurrence
func (pm *PrometheusMetrics) RecordError(component, errorType string) {
	pm.errorsTotal.WithLabelValues(component, errorType).Inc()
}

// SetHealthStatus records a component's health status
func (pm *PrometheusMetrics) SetHealthStatus(component string, status float64) {
	pm.healthStatus.WithLabelValues(component).Set(status)
}

func getDefaultPrometheusConfig() *PrometheusConfig {
	return &PrometheusConfig{
		Enabled:   true,
		Port:      constants.DefaultMetricsPort,
		Path:      "/metrics",
		Namespace: "dpledger",
		Subsystem: "server",
	}
}
