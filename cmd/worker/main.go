package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/dpledger/internal/observability/metrics"
	"github.com/inferloop/dpledger/internal/storage"
	"github.com/inferloop/dpledger/pkg/constants"
	"github.com/inferloop/dpledger/pkg/interfaces"
)

// WorkerConfig drives the maintenance worker: which ledger server it
// serves, how often each periodic job runs, and which storage backends
// it prunes. The audit and usage backends are optional; leaving one
// empty disables the corresponding retention job.
type WorkerConfig struct {
	WorkerID    string
	ServerURL   string
	Concurrency int

	SnapshotInterval  time.Duration
	RetentionInterval time.Duration
	ProbeInterval     time.Duration
	RetentionDays     int

	JobTimeout time.Duration
	MaxRetries int
	RetryDelay time.Duration

	MetricsPort   int
	EnableMetrics bool

	AuditBackend  string
	AuditDSN      string
	AuditDatabase string
	AuditUsername string
	AuditPassword string

	UsageBackend  string
	UsageDSN      string
	UsageDatabase string
	UsageUsername string
	UsagePassword string

	LogLevel  string
	LogFormat string
}

var logger *logrus.Logger

func main() {
	config := parseFlags()

	logger = setupLogger(config.LogLevel, config.LogFormat)

	logger.WithFields(logrus.Fields{
		"workerID":    config.WorkerID,
		"concurrency": config.Concurrency,
		"serverURL":   config.ServerURL,
	}).Info("Starting privacy budget maintenance worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	prometheus := metrics.NewPrometheusMetrics(&metrics.PrometheusConfig{
		Enabled:   config.EnableMetrics,
		Port:      config.MetricsPort,
		Path:      "/metrics",
		Namespace: "dpledger",
		Subsystem: "worker",
	}, logger)
	if err := prometheus.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start metrics endpoint")
	}

	targets, err := openPruneTargets(ctx, config, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open storage backends")
	}
	defer targets.Close(logger)

	scheduler := NewScheduler(config, logger, prometheus)

	processor := NewJobProcessor(config, logger, prometheus)
	processor.SetScheduler(scheduler)
	processor.SetEventPruner(targets.Events)
	processor.SetUsagePruner(targets.Usage)

	go scheduler.Start(ctx)
	go processor.Start(ctx)

	// Periodic health line so operators can see the worker making
	// progress without scraping metrics.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logger.WithFields(logrus.Fields{
					"activeJobs":    processor.ActiveJobs(),
					"completedJobs": processor.CompletedJobs(),
					"failedJobs":    processor.FailedJobs(),
					"queueDepth":    scheduler.QueueDepth(),
				}).Debug("Worker health check")
			}
		}
	}()

	<-sigChan
	logger.Info("Shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), constants.DefaultShutdownTimeout)
	defer shutdownCancel()

	if err := gracefulShutdown(shutdownCtx, scheduler, processor); err != nil {
		logger.WithError(err).Error("Worker shutdown failed")
		prometheus.Stop(shutdownCtx)
		os.Exit(1)
	}

	if err := prometheus.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Failed to stop metrics endpoint")
	}

	logger.Info("Worker stopped successfully")
}

func parseFlags() *WorkerConfig {
	config := &WorkerConfig{}

	flag.StringVar(&config.WorkerID, "worker-id", generateWorkerID(), "Unique worker ID")
	flag.StringVar(&config.ServerURL, "server-url", "http://localhost:8080", "Ledger server URL")
	flag.IntVar(&config.Concurrency, "concurrency", constants.DefaultWorkerConcurrency, "Number of concurrent jobs")

	flag.DurationVar(&config.SnapshotInterval, "snapshot-interval", constants.DefaultSnapshotInterval, "Interval between scope snapshot jobs")
	flag.DurationVar(&config.RetentionInterval, "retention-interval", time.Hour, "Interval between retention jobs")
	flag.DurationVar(&config.ProbeInterval, "probe-interval", time.Minute, "Interval between server health probes")
	flag.IntVar(&config.RetentionDays, "retention-days", constants.DefaultRetentionDays, "Days of audit and usage history to keep")

	flag.DurationVar(&config.JobTimeout, "job-timeout", constants.DefaultJobTimeout, "Timeout per job execution")
	flag.IntVar(&config.MaxRetries, "max-retries", constants.DefaultMaxRetries, "Attempts per job before it counts as failed")
	flag.DurationVar(&config.RetryDelay, "retry-delay", constants.DefaultRetryDelay, "Delay between job attempts")

	flag.IntVar(&config.MetricsPort, "metrics-port", constants.DefaultMetricsPort+1, "Prometheus metrics port")
	flag.BoolVar(&config.EnableMetrics, "enable-metrics", true, "Serve Prometheus metrics on the metrics port")

	flag.StringVar(&config.AuditBackend, "audit-backend", "", "Audit sink backend to prune (postgres; empty disables event retention)")
	flag.StringVar(&config.AuditDSN, "audit-dsn", "", "Audit sink connection: host (postgres)")
	flag.StringVar(&config.AuditDatabase, "audit-database", "dpledger", "Audit sink database name")
	flag.StringVar(&config.AuditUsername, "audit-username", "", "Audit sink username")
	flag.StringVar(&config.AuditPassword, "audit-password", "", "Audit sink password")

	flag.StringVar(&config.UsageBackend, "usage-backend", "", "Usage sink backend to compact (influxdb; empty disables usage retention)")
	flag.StringVar(&config.UsageDSN, "usage-dsn", "", "Usage sink connection: URL (influxdb)")
	flag.StringVar(&config.UsageDatabase, "usage-database", "dpledger", "Usage sink database or bucket name")
	flag.StringVar(&config.UsageUsername, "usage-username", "", "Usage sink username or organization")
	flag.StringVar(&config.UsagePassword, "usage-password", "", "Usage sink password or token")

	flag.StringVar(&config.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.StringVar(&config.LogFormat, "log-format", "json", "Log format (json, text)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nDifferential Privacy Budget Ledger Worker\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	return config
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

func generateWorkerID() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

// pruneTargets holds the storage backends the retention jobs operate
// on. Either may be nil when its backend is not configured.
type pruneTargets struct {
	Events eventPruner
	Usage  usagePruner

	open []interfaces.Storage
}

func openPruneTargets(ctx context.Context, config *WorkerConfig, logger *logrus.Logger) (*pruneTargets, error) {
	factory := storage.NewFactory(logger)
	targets := &pruneTargets{}

	if config.AuditBackend != "" {
		store, err := openStore(ctx, factory, config.AuditBackend, storageConfig(
			config.AuditBackend, config.AuditDSN, config.AuditDatabase,
			config.AuditUsername, config.AuditPassword))
		if err != nil {
			return nil, fmt.Errorf("audit sink: %w", err)
		}
		events, ok := store.(eventPruner)
		if !ok {
			store.Close()
			return nil, fmt.Errorf("backend %q cannot prune audit events", config.AuditBackend)
		}
		targets.Events = events
		targets.open = append(targets.open, store)
	}

	if config.UsageBackend != "" {
		store, err := openStore(ctx, factory, config.UsageBackend, storageConfig(
			config.UsageBackend, config.UsageDSN, config.UsageDatabase,
			config.UsageUsername, config.UsagePassword))
		if err != nil {
			targets.Close(logger)
			return nil, fmt.Errorf("usage sink: %w", err)
		}
		usage, ok := store.(usagePruner)
		if !ok {
			store.Close()
			targets.Close(logger)
			return nil, fmt.Errorf("backend %q cannot delete usage ranges", config.UsageBackend)
		}
		targets.Usage = usage
		targets.open = append(targets.open, store)
	}

	return targets, nil
}

func openStore(ctx context.Context, factory *storage.Factory, backend string, config interfaces.StorageConfig) (interfaces.Storage, error) {
	store, err := factory.CreateStorage(backend, config)
	if err != nil {
		return nil, err
	}

	connectCtx, cancel := context.WithTimeout(ctx, constants.DefaultConnectionTimeout)
	defer cancel()

	if err := store.Connect(connectCtx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func storageConfig(backend, dsn, database, username, password string) interfaces.StorageConfig {
	config := interfaces.StorageConfig{
		Type:             backend,
		ConnectionString: dsn,
		Database:         database,
		Username:         username,
		Password:         password,
		Timeout:          constants.DefaultStorageTimeout,
		MaxConnections:   constants.DefaultMaxConnections,
		RetentionDays:    constants.DefaultRetentionDays,
		BatchSize:        constants.DefaultBatchSize,
	}

	if backend == constants.BackendPostgres && dsn != "" {
		config.Metadata = map[string]interface{}{"host": dsn}
	}
	return config
}

func (t *pruneTargets) Close(logger *logrus.Logger) {
	for _, store := range t.open {
		if err := store.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close storage backend")
		}
	}
	t.open = nil
}

func gracefulShutdown(ctx context.Context, scheduler *Scheduler, processor *JobProcessor) error {
	logger.Info("Starting graceful shutdown")

	// Stop producing new jobs; the workers drain what is already queued.
	scheduler.Stop()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("shutdown timeout exceeded")
		case <-ticker.C:
			if processor.ActiveJobs() == 0 {
				logger.Info("All jobs completed")
				return nil
			}
			logger.WithField("activeJobs", processor.ActiveJobs()).Info("Waiting for jobs to complete")
		}
	}
}
