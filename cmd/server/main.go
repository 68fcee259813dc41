package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/dpledger/internal/api"
	"github.com/inferloop/dpledger/internal/mechanisms"
	"github.com/inferloop/dpledger/internal/observability/alerting"
	"github.com/inferloop/dpledger/internal/observability/health"
	"github.com/inferloop/dpledger/internal/observability/metrics"
	"github.com/inferloop/dpledger/internal/server"
	"github.com/inferloop/dpledger/internal/tracking"
	"github.com/inferloop/dpledger/pkg/constants"
	"github.com/inferloop/dpledger/pkg/models"
)

func main() {
	config := ParseFlags()

	logger := setupLogger(config.LogLevel, config.LogFormat)

	logger.WithFields(logrus.Fields{
		"version":   Version,
		"commit":    GitCommit,
		"buildDate": BuildDate,
	}).Info("Starting privacy budget ledger server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	thresholds, err := parseThresholds(config.Thresholds)
	if err != nil {
		logger.WithError(err).Fatal("Invalid alert thresholds")
	}

	prometheus := metrics.NewPrometheusMetrics(nil, logger)

	dispatcher := alerting.NewDispatcher(nil, logger)
	dispatcher.RegisterNotifier(alerting.NewLogNotifier(logger, alerting.SeverityInfo))
	if err := dispatcher.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start alert dispatcher")
	}

	stores, err := openStores(ctx, config, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open storage backends")
	}
	defer stores.Close(logger)

	// Alerts fired by the tracker fan out to the dispatcher, the metrics
	// registry, and the audit trail.
	tracker, err := tracking.NewTracker(thresholds, func(alert models.BudgetAlert) {
		dispatcher.Dispatch(ctx, &alert)
		prometheus.RecordBudgetAlert(alert.Scope.String(), alert.Threshold)
		if stores.Audit != nil {
			if err := stores.Audit.RecordAlert(ctx, &alert); err != nil {
				logger.WithError(err).WithField("scope", alert.Scope.String()).
					Warn("Failed to record alert in audit trail")
			}
		}
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create budget tracker")
	}

	monitor := health.NewHealthMonitor(nil, logger)
	registerStorageChecks(monitor, stores)
	monitor.RegisterObserver(health.HealthObserverFunc(func(status *health.SystemStatus) {
		for name, result := range status.CheckResults {
			prometheus.SetHealthStatus(name, result.Status.GaugeValue())
		}
	}))
	if err := monitor.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start health monitor")
	}

	handlers := api.NewHandlers(&api.HandlerConfig{
		Tracker:     tracker,
		Mechanisms:  mechanisms.NewFactory(logger),
		Dispatcher:  dispatcher,
		Monitor:     monitor,
		Snapshots:   stores.Snapshots,
		Audit:       stores.Audit,
		Usage:       stores.Usage,
		Metrics:     prometheus,
		Version:     Version,
		Environment: config.Environment,
		Logger:      logger,
	})

	serverConfig := server.DefaultConfig()
	serverConfig.Host = config.Host
	serverConfig.Port = config.Port
	serverConfig.MetricsPort = config.MetricsPort
	serverConfig.EnableMetrics = config.EnableMetrics
	serverConfig.EnableProfiling = config.EnableProfiling
	serverConfig.EnableCORS = config.EnableCORS
	serverConfig.RateLimit = config.RateLimit
	serverConfig.TLSCertFile = config.TLSCert
	serverConfig.TLSKeyFile = config.TLSKey

	srv, err := server.NewServer(serverConfig, handlers, prometheus, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create server")
	}

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Start(ctx); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		logger.WithError(err).Error("Server failed")
	case sig := <-sigChan:
		logger.WithField("signal", sig.String()).Info("Shutdown signal received")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), constants.DefaultShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server shutdown failed")
	}

	logger.Info("Server stopped")
}

func setupLogger(level, format string) *logrus.Logger {
	logger := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	return logger
}
