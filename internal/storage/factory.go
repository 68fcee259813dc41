// Package storage wires the ledger's persistence backends behind a
// single factory keyed by backend name.
package storage

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	. "github.com/inferloop/dpledger/internal/storage/implementations/file"
	. "github.com/inferloop/dpledger/internal/storage/implementations/influxdb"
	. "github.com/inferloop/dpledger/internal/storage/implementations/postgres"
	. "github.com/inferloop/dpledger/internal/storage/implementations/redis"
	. "github.com/inferloop/dpledger/internal/storage/implementations/s3"
	"github.com/inferloop/dpledger/pkg/constants"
	"github.com/inferloop/dpledger/pkg/errors"
	"github.com/inferloop/dpledger/pkg/interfaces"
)

// Factory implements the StorageFactory interface
type Factory struct {
	creators map[string]interfaces.StorageCreateFunc
	mu       sync.RWMutex
	logger   *logrus.Logger
}

// NewFactory creates a new storage factory with the default backends
// registered
func NewFactory(logger *logrus.Logger) *Factory {
	if logger == nil {
		logger = logrus.New()
	}

	factory := &Factory{
		creators: make(map[string]interfaces.StorageCreateFunc),
		logger:   logger,
	}

	factory.registerDefaults()

	return factory
}

// CreateStorage creates a new storage instance
func (f *Factory) CreateStorage(storageType string, config interfaces.StorageConfig) (interfaces.Storage, error) {
	f.mu.RLock()
	createFunc, exists := f.creators[storageType]
	f.mu.RUnlock()

	if !exists {
		return nil, errors.NewStorageError("UNSUPPORTED_TYPE", fmt.Sprintf("Storage type '%s' is not supported", storageType))
	}

	storage, err := createFunc(config)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, "CREATION_FAILED", fmt.Sprintf("Failed to create %s storage", storageType))
	}

	f.logger.WithFields(logrus.Fields{
		"storage_type": storageType,
	}).Info("Created storage instance")

	return storage, nil
}

// GetSupportedTypes returns all supported storage types
func (f *Factory) GetSupportedTypes() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	types := make([]string, 0, len(f.creators))
	for storageType := range f.creators {
		types = append(types, storageType)
	}
	sort.Strings(types)

	return types
}

// RegisterStorage registers a new storage type
func (f *Factory) RegisterStorage(storageType string, createFunc interfaces.StorageCreateFunc) error {
	if storageType == "" {
		return errors.NewValidationError("INVALID_TYPE", "Storage type cannot be empty")
	}

	if createFunc == nil {
		return errors.NewValidationError("INVALID_CREATOR", "Storage create function cannot be nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.creators[storageType] = createFunc

	f.logger.WithFields(logrus.Fields{
		"storage_type": storageType,
	}).Info("Registered storage type")

	return nil
}

// IsSupported checks if a storage type is supported
func (f *Factory) IsSupported(storageType string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	_, exists := f.creators[storageType]
	return exists
}

// registerDefaults registers the default storage implementations
func (f *Factory) registerDefaults() {
	// Redis: live snapshots and audit streams
	f.RegisterStorage(constants.BackendRedis, func(config interfaces.StorageConfig) (interfaces.Storage, error) {
		redisConfig := &RedisConfig{
			Addr:         config.ConnectionString,
			Password:     config.Password,
			DB:           0,
			DialTimeout:  config.Timeout,
			ReadTimeout:  config.Timeout,
			WriteTimeout: config.Timeout,
			PoolSize:     config.MaxConnections,
			MinIdleConns: config.MaxConnections / 4,
			MaxRetries:   constants.DefaultMaxRetries,
			RetryBackoff: time.Millisecond * 100,
			IdleTimeout:  time.Minute * 5,
			SnapshotTTL:  constants.DefaultSnapshotTTL,
			KeyPrefix:    "dpledger",
			StreamMaxLen: 10000,
		}

		if config.Metadata != nil {
			if db, ok := config.Metadata["db"].(float64); ok {
				redisConfig.DB = int(db)
			}
			if ttlStr, ok := config.Metadata["snapshot_ttl"].(string); ok {
				if ttl, err := time.ParseDuration(ttlStr); err == nil {
					redisConfig.SnapshotTTL = ttl
				}
			}
			if keyPrefix, ok := config.Metadata["key_prefix"].(string); ok {
				redisConfig.KeyPrefix = keyPrefix
			}
			if streamMaxLen, ok := config.Metadata["stream_max_len"].(float64); ok {
				redisConfig.StreamMaxLen = int64(streamMaxLen)
			}
			if useClustering, ok := config.Metadata["use_clustering"].(bool); ok {
				redisConfig.UseClustering = useClustering
			}
			if clusterAddrs, ok := config.Metadata["cluster_addrs"].([]interface{}); ok {
				var addrs []string
				for _, addr := range clusterAddrs {
					if addrStr, ok := addr.(string); ok {
						addrs = append(addrs, addrStr)
					}
				}
				redisConfig.ClusterAddrs = addrs
			}
		}

		if redisConfig.Addr == "" && !redisConfig.UseClustering {
			redisConfig.Addr = "localhost:6379"
		}

		return NewRedisStorage(redisConfig, f.logger)
	})

	// PostgreSQL: audit trail and usage history
	f.RegisterStorage(constants.BackendPostgres, func(config interfaces.StorageConfig) (interfaces.Storage, error) {
		pgConfig := &PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        config.Database,
			Username:        config.Username,
			Password:        config.Password,
			SSLMode:         "prefer",
			ConnectTimeout:  config.Timeout,
			QueryTimeout:    config.Timeout,
			MaxConnections:  config.MaxConnections,
			MaxIdleConns:    config.MaxConnections / 2,
			ConnMaxLifetime: time.Hour,
			RetentionDays:   config.RetentionDays,
		}

		if config.Metadata != nil {
			if host, ok := config.Metadata["host"].(string); ok {
				pgConfig.Host = host
			}
			if port, ok := config.Metadata["port"].(float64); ok {
				pgConfig.Port = int(port)
			}
			if sslMode, ok := config.Metadata["ssl_mode"].(string); ok {
				pgConfig.SSLMode = sslMode
			}
		}

		return NewPostgresStorage(pgConfig, f.logger)
	})

	// InfluxDB: usage time series
	f.RegisterStorage(constants.BackendInfluxDB, func(config interfaces.StorageConfig) (interfaces.Storage, error) {
		influxConfig := &InfluxDBConfig{
			URL:          config.ConnectionString,
			Token:        config.Password,
			Organization: config.Username,
			Bucket:       config.Database,
			Timeout:      config.Timeout,
			BatchSize:    config.BatchSize,
		}

		if config.Metadata != nil {
			if organization, ok := config.Metadata["organization"].(string); ok {
				influxConfig.Organization = organization
			}
			if measurement, ok := config.Metadata["measurement"].(string); ok {
				influxConfig.Measurement = measurement
			}
			if useGZip, ok := config.Metadata["use_gzip"].(bool); ok {
				influxConfig.UseGZip = useGZip
			}
		}

		return NewInfluxDBStorage(influxConfig, f.logger)
	})

	// S3: snapshot archive
	f.RegisterStorage(constants.BackendS3, func(config interfaces.StorageConfig) (interfaces.Storage, error) {
		s3Config := &S3Config{
			Region:          "us-east-1",
			Bucket:          config.Database,
			AccessKeyID:     config.Username,
			SecretAccessKey: config.Password,
			Prefix:          "dpledger",
			Timeout:         config.Timeout,
			MaxRetries:      constants.DefaultMaxRetries,
			PartSize:        64 * 1024 * 1024,
			StorageClass:    "STANDARD",
		}

		if config.Metadata != nil {
			if region, ok := config.Metadata["region"].(string); ok {
				s3Config.Region = region
			}
			if endpoint, ok := config.Metadata["endpoint"].(string); ok {
				s3Config.Endpoint = endpoint
			}
			if forcePathStyle, ok := config.Metadata["force_path_style"].(bool); ok {
				s3Config.ForcePathStyle = forcePathStyle
			}
			if disableSSL, ok := config.Metadata["disable_ssl"].(bool); ok {
				s3Config.DisableSSL = disableSSL
			}
			if prefix, ok := config.Metadata["prefix"].(string); ok {
				s3Config.Prefix = prefix
			}
			if storageClass, ok := config.Metadata["storage_class"].(string); ok {
				s3Config.StorageClass = storageClass
			}
			if useCompression, ok := config.Metadata["use_compression"].(bool); ok {
				s3Config.UseCompression = useCompression
			}
		}

		return NewS3Storage(s3Config, f.logger)
	})

	// File: local snapshot store
	f.RegisterStorage(constants.BackendFile, func(config interfaces.StorageConfig) (interfaces.Storage, error) {
		fileConfig := &FileStorageConfig{
			BasePath:      config.ConnectionString,
			CreateDirs:    true,
			RetentionDays: config.RetentionDays,
		}

		if config.Metadata != nil {
			if syncWrites, ok := config.Metadata["sync_writes"].(bool); ok {
				fileConfig.SyncWrites = syncWrites
			}
			if backupEnabled, ok := config.Metadata["backup_enabled"].(bool); ok {
				fileConfig.BackupEnabled = backupEnabled
			}
			if createDirs, ok := config.Metadata["create_dirs"].(bool); ok {
				fileConfig.CreateDirs = createDirs
			}
		}

		return NewFileStorage(fileConfig, f.logger)
	})
}
