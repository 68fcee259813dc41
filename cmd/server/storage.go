package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/dpledger/internal/observability/health"
	"github.com/inferloop/dpledger/internal/storage"
	"github.com/inferloop/dpledger/pkg/constants"
	"github.com/inferloop/dpledger/pkg/interfaces"
)

// ledgerStores holds the connected persistence backends. Audit and
// Usage stay nil when their backends are not configured; the API layer
// reports those endpoints as unavailable instead of failing startup.
type ledgerStores struct {
	Snapshots interfaces.SnapshotStore
	Audit     interfaces.AuditSink
	Usage     interfaces.UsageSink

	open []interfaces.Storage
}

func openStores(ctx context.Context, config *Config, logger *logrus.Logger) (*ledgerStores, error) {
	factory := storage.NewFactory(logger)
	stores := &ledgerStores{}

	snapshotStore, err := openStore(ctx, factory, config.SnapshotBackend, storageConfig(
		config.SnapshotBackend, config.SnapshotDSN, config.SnapshotDatabase,
		config.SnapshotUsername, config.SnapshotPassword))
	if err != nil {
		return nil, fmt.Errorf("snapshot store: %w", err)
	}
	snapshots, ok := snapshotStore.(interfaces.SnapshotStore)
	if !ok {
		snapshotStore.Close()
		return nil, fmt.Errorf("backend %q cannot store snapshots", config.SnapshotBackend)
	}
	stores.Snapshots = snapshots
	stores.open = append(stores.open, snapshotStore)

	if config.AuditBackend != "" {
		auditStore, err := openStore(ctx, factory, config.AuditBackend, storageConfig(
			config.AuditBackend, config.AuditDSN, config.AuditDatabase,
			config.AuditUsername, config.AuditPassword))
		if err != nil {
			stores.Close(logger)
			return nil, fmt.Errorf("audit sink: %w", err)
		}
		audit, ok := auditStore.(interfaces.AuditSink)
		if !ok {
			auditStore.Close()
			stores.Close(logger)
			return nil, fmt.Errorf("backend %q cannot record audit events", config.AuditBackend)
		}
		stores.Audit = audit
		stores.open = append(stores.open, auditStore)
	}

	if config.UsageBackend != "" {
		usageStore, err := openStore(ctx, factory, config.UsageBackend, storageConfig(
			config.UsageBackend, config.UsageDSN, config.UsageDatabase,
			config.UsageUsername, config.UsagePassword))
		if err != nil {
			stores.Close(logger)
			return nil, fmt.Errorf("usage sink: %w", err)
		}
		usage, ok := usageStore.(interfaces.UsageSink)
		if !ok {
			usageStore.Close()
			stores.Close(logger)
			return nil, fmt.Errorf("backend %q cannot record usage history", config.UsageBackend)
		}
		stores.Usage = usage
		stores.open = append(stores.open, usageStore)
	}

	return stores, nil
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

// storageConfig maps the flat flag quintuple onto the factory's config.
// The DSN means a base directory for file, an address for redis, a URL
// for influxdb, and a host for postgres.
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

// Close closes every connected store, logging rather than failing on
// errors since it runs during shutdown.
func (s *ledgerStores) Close(logger *logrus.Logger) {
	for _, store := range s.open {
		if err := store.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close storage backend")
		}
	}
	s.open = nil
}

// registerStorageChecks adds a health check per connected backend. The
// snapshot store is critical: without it scope state cannot survive a
// restart.
func registerStorageChecks(monitor *health.HealthMonitor, stores *ledgerStores) {
	monitor.RegisterCheck(health.NewStorageCheck("snapshot_store", stores.Snapshots, true, 5*time.Second))
	if stores.Audit != nil {
		monitor.RegisterCheck(health.NewStorageCheck("audit_sink", stores.Audit, false, 5*time.Second))
	}
	if stores.Usage != nil {
		monitor.RegisterCheck(health.NewStorageCheck("usage_sink", stores.Usage, false, 5*time.Second))
	}
}
