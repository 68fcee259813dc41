// Package redis persists accountant snapshots as JSON values and keeps
// the audit trail in capped Redis streams.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/dpledger/pkg/errors"
	"github.com/inferloop/dpledger/pkg/interfaces"
	"github.com/inferloop/dpledger/pkg/models"
)

// RedisConfig holds configuration for Redis storage
type RedisConfig struct {
	Addr          string        `json:"addr"`
	Password      string        `json:"password,omitempty"`
	DB            int           `json:"db"`
	DialTimeout   time.Duration `json:"dial_timeout"`
	ReadTimeout   time.Duration `json:"read_timeout"`
	WriteTimeout  time.Duration `json:"write_timeout"`
	PoolSize      int           `json:"pool_size"`
	MinIdleConns  int           `json:"min_idle_conns"`
	MaxRetries    int           `json:"max_retries"`
	RetryBackoff  time.Duration `json:"retry_backoff"`
	IdleTimeout   time.Duration `json:"idle_timeout"`
	SnapshotTTL   time.Duration `json:"snapshot_ttl"`
	KeyPrefix     string        `json:"key_prefix"`
	StreamMaxLen  int64         `json:"stream_max_len"`
	UseClustering bool          `json:"use_clustering"`
	ClusterAddrs  []string      `json:"cluster_addrs,omitempty"`
}

// RedisStorage implements SnapshotStore and AuditSink on top of a single
// Redis client. Snapshots live under plain keys, audit records in streams.
type RedisStorage struct {
	config  *RedisConfig
	client  redis.UniversalClient
	logger  *logrus.Logger
	mu      sync.RWMutex
	metrics *storageMetrics
	closed  bool
}

type storageMetrics struct {
	readOps    int64
	writeOps   int64
	deleteOps  int64
	errorCount int64
	hitCount   int64
	missCount  int64
	startTime  time.Time
	mu         sync.RWMutex
}

// NewRedisStorage creates a new Redis storage instance
func NewRedisStorage(config *RedisConfig, logger *logrus.Logger) (*RedisStorage, error) {
	if config == nil {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "Redis config cannot be nil")
	}

	if config.Addr == "" && len(config.ClusterAddrs) == 0 {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "Redis address or cluster addresses are required")
	}

	if logger == nil {
		logger = logrus.New()
	}

	return &RedisStorage{
		config: config,
		logger: logger,
		metrics: &storageMetrics{
			startTime: time.Now(),
		},
	}, nil
}

// Connect establishes the connection to Redis
func (s *RedisStorage) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return nil // Already connected
	}

	if s.config.UseClustering && len(s.config.ClusterAddrs) > 0 {
		s.client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        s.config.ClusterAddrs,
			Password:     s.config.Password,
			DialTimeout:  s.config.DialTimeout,
			ReadTimeout:  s.config.ReadTimeout,
			WriteTimeout: s.config.WriteTimeout,
			PoolSize:     s.config.PoolSize,
			MinIdleConns: s.config.MinIdleConns,
			MaxRetries:   s.config.MaxRetries,
			IdleTimeout:  s.config.IdleTimeout,
		})
	} else {
		s.client = redis.NewClient(&redis.Options{
			Addr:         s.config.Addr,
			Password:     s.config.Password,
			DB:           s.config.DB,
			DialTimeout:  s.config.DialTimeout,
			ReadTimeout:  s.config.ReadTimeout,
			WriteTimeout: s.config.WriteTimeout,
			PoolSize:     s.config.PoolSize,
			MinIdleConns: s.config.MinIdleConns,
			MaxRetries:   s.config.MaxRetries,
			IdleTimeout:  s.config.IdleTimeout,
		})
	}

	if err := s.client.Ping(ctx).Err(); err != nil {
		s.client = nil
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectionFailed, "Failed to connect to Redis")
	}

	s.logger.WithFields(logrus.Fields{
		"addr":       s.config.Addr,
		"db":         s.config.DB,
		"clustering": s.config.UseClustering,
	}).Info("Connected to Redis")

	return nil
}

// Close closes the Redis connection
func (s *RedisStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	if s.client != nil {
		if err := s.client.Close(); err != nil {
			return errors.WrapError(err, errors.ErrorTypeStorage, "CLOSE_FAILED", "Failed to close Redis connection")
		}
		s.client = nil
	}

	s.closed = true
	s.logger.Info("Redis connection closed")
	return nil
}

// Ping tests the Redis connection
func (s *RedisStorage) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed || s.client == nil {
		return errors.NewStorageError("NOT_CONNECTED", "Redis not connected")
	}

	if err := s.client.Ping(ctx).Err(); err != nil {
		s.incrementErrorCount()
		return errors.WrapError(err, errors.ErrorTypeStorage, "PING_FAILED", "Redis ping failed")
	}

	return nil
}

// GetInfo returns information about the Redis storage
func (s *RedisStorage) GetInfo(ctx context.Context) (*interfaces.StorageInfo, error) {
	info := &interfaces.StorageInfo{
		Type:        "redis",
		Version:     "unknown",
		Name:        "Redis Storage",
		Description: "In-memory store for ledger snapshots and audit streams",
		Features: []string{
			"snapshot persistence",
			"audit streams",
			"capped retention",
			"clustering",
			"ttl expiry",
		},
		Configuration: map[string]interface{}{
			"addr":           s.config.Addr,
			"db":             s.config.DB,
			"key_prefix":     s.config.KeyPrefix,
			"snapshot_ttl":   s.config.SnapshotTTL.String(),
			"stream_max_len": s.config.StreamMaxLen,
			"use_clustering": s.config.UseClustering,
		},
	}

	s.mu.RLock()
	client := s.client
	s.mu.RUnlock()

	if client != nil {
		if serverInfo, err := client.Info(ctx, "server").Result(); err == nil {
			if version := parseInfoField(serverInfo, "redis_version"); version != "" {
				info.Version = version
			}
		}
	}

	return info, nil
}

// Health returns the health status of the storage
func (s *RedisStorage) Health(ctx context.Context) (*interfaces.HealthStatus, error) {
	start := time.Now()
	status := "healthy"
	var healthErrors []string
	var warnings []string

	if err := s.Ping(ctx); err != nil {
		status = "unhealthy"
		healthErrors = append(healthErrors, fmt.Sprintf("Connection failed: %v", err))
	}

	latency := time.Since(start)
	if latency > 50*time.Millisecond {
		warnings = append(warnings, "High latency detected")
	}

	health := &interfaces.HealthStatus{
		Status:    status,
		LastCheck: time.Now(),
		Latency:   latency,
		Errors:    healthErrors,
		Warnings:  warnings,
		Metadata:  map[string]interface{}{},
	}

	s.mu.RLock()
	client := s.client
	s.mu.RUnlock()

	if client != nil && status == "healthy" {
		if clientsInfo, err := client.Info(ctx, "clients").Result(); err == nil {
			if connected := parseInfoField(clientsInfo, "connected_clients"); connected != "" {
				fmt.Sscanf(connected, "%d", &health.Connections)
			}
		}
		if memInfo, err := client.Info(ctx, "memory").Result(); err == nil {
			if used := parseInfoField(memInfo, "used_memory_human"); used != "" {
				health.Metadata["used_memory"] = used
			}
		}
		if keys, err := client.Keys(ctx, s.generateSnapshotKey("*")).Result(); err == nil {
			health.Metadata["snapshot_count"] = len(keys)
		}
		if alertLen, err := client.XLen(ctx, s.generateAlertStreamKey()).Result(); err == nil {
			health.Metadata["alerts_len"] = alertLen
		}
	}

	return health, nil
}

// SaveSnapshot persists an accountant snapshot under its name, replacing
// any previous snapshot for the same name.
func (s *RedisStorage) SaveSnapshot(ctx context.Context, snapshot *models.AccountantSnapshot) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed || s.client == nil {
		return errors.NewStorageError("NOT_CONNECTED", "Redis not connected")
	}

	if snapshot == nil || snapshot.Name == "" {
		return errors.NewValidationError(errors.CodeInvalidInput, "snapshot requires a name")
	}

	start := time.Now()
	defer func() {
		s.incrementWriteOps()
		s.logger.WithField("duration", time.Since(start)).Debug("Snapshot save completed")
	}()

	data, err := json.Marshal(snapshot)
	if err != nil {
		s.incrementErrorCount()
		return errors.WrapError(err, errors.ErrorTypeStorage, "SERIALIZATION_FAILED", "Failed to serialize snapshot")
	}

	key := s.generateSnapshotKey(snapshot.Name)
	if err := s.client.Set(ctx, key, data, s.config.SnapshotTTL).Err(); err != nil {
		s.incrementErrorCount()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed,
			fmt.Sprintf("Failed to save snapshot '%s'", snapshot.Name))
	}

	return nil
}

// LoadSnapshot loads the snapshot stored under name
func (s *RedisStorage) LoadSnapshot(ctx context.Context, name string) (*models.AccountantSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed || s.client == nil {
		return nil, errors.NewStorageError("NOT_CONNECTED", "Redis not connected")
	}

	start := time.Now()
	defer func() {
		s.incrementReadOps()
		s.logger.WithField("duration", time.Since(start)).Debug("Snapshot load completed")
	}()

	data, err := s.client.Get(ctx, s.generateSnapshotKey(name)).Result()
	if err != nil {
		if err == redis.Nil {
			s.incrementMissCount()
			return nil, errors.NewStorageError(errors.CodeSnapshotNotFound,
				fmt.Sprintf("Snapshot '%s' not found", name))
		}
		s.incrementErrorCount()
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed,
			fmt.Sprintf("Failed to load snapshot '%s'", name))
	}

	s.incrementHitCount()

	var snapshot models.AccountantSnapshot
	if err := json.Unmarshal([]byte(data), &snapshot); err != nil {
		s.incrementErrorCount()
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeDeserialization,
			fmt.Sprintf("Failed to deserialize snapshot '%s'", name))
	}

	return &snapshot, nil
}

// ListSnapshots lists stored snapshots sorted by name
func (s *RedisStorage) ListSnapshots(ctx context.Context) ([]*models.SnapshotInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed || s.client == nil {
		return nil, errors.NewStorageError("NOT_CONNECTED", "Redis not connected")
	}

	start := time.Now()
	defer func() {
		s.incrementReadOps()
		s.logger.WithField("duration", time.Since(start)).Debug("Snapshot list completed")
	}()

	keys, err := s.client.Keys(ctx, s.generateSnapshotKey("*")).Result()
	if err != nil {
		s.incrementErrorCount()
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to list snapshot keys")
	}

	infos := make([]*models.SnapshotInfo, 0, len(keys))
	for _, key := range keys {
		data, err := s.client.Get(ctx, key).Result()
		if err != nil {
			s.logger.WithError(err).WithField("key", key).Warn("Failed to read snapshot during list")
			continue
		}

		var snapshot models.AccountantSnapshot
		if err := json.Unmarshal([]byte(data), &snapshot); err != nil {
			s.logger.WithError(err).WithField("key", key).Warn("Skipping undecodable snapshot")
			continue
		}

		infos = append(infos, &models.SnapshotInfo{
			Name:      snapshot.Name,
			Key:       key,
			Size:      int64(len(data)),
			CreatedAt: snapshot.CreatedAt,
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// DeleteSnapshot removes the snapshot stored under name
func (s *RedisStorage) DeleteSnapshot(ctx context.Context, name string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed || s.client == nil {
		return errors.NewStorageError("NOT_CONNECTED", "Redis not connected")
	}

	start := time.Now()
	defer func() {
		s.incrementDeleteOps()
		s.logger.WithField("duration", time.Since(start)).Debug("Snapshot delete completed")
	}()

	removed, err := s.client.Del(ctx, s.generateSnapshotKey(name)).Result()
	if err != nil {
		s.incrementErrorCount()
		return errors.WrapError(err, errors.ErrorTypeStorage, "DELETE_FAILED",
			fmt.Sprintf("Failed to delete snapshot '%s'", name))
	}

	if removed == 0 {
		return errors.NewStorageError(errors.CodeSnapshotNotFound,
			fmt.Sprintf("Snapshot '%s' not found", name))
	}

	return nil
}

// GetMetrics returns storage performance counters
func (s *RedisStorage) GetMetrics(ctx context.Context) (*interfaces.StorageMetrics, error) {
	s.metrics.mu.RLock()
	defer s.metrics.mu.RUnlock()

	return &interfaces.StorageMetrics{
		ReadOperations:   s.metrics.readOps,
		WriteOperations:  s.metrics.writeOps,
		DeleteOperations: s.metrics.deleteOps,
		ErrorCount:       s.metrics.errorCount,
		RecordCount:      s.metrics.writeOps,
		Uptime:           time.Since(s.metrics.startTime),
	}, nil
}

// Key helpers

func (s *RedisStorage) generateSnapshotKey(name string) string {
	if s.config.KeyPrefix != "" {
		return fmt.Sprintf("%s:snapshot:%s", s.config.KeyPrefix, name)
	}
	return fmt.Sprintf("snapshot:%s", name)
}

// parseInfoField extracts a single "field:value" line from INFO output
func parseInfoField(info, field string) string {
	for _, line := range strings.Split(info, "\r\n") {
		if strings.HasPrefix(line, field+":") {
			return strings.TrimSpace(strings.TrimPrefix(line, field+":"))
		}
	}
	return ""
}

// Metrics helpers

func (s *RedisStorage) incrementReadOps() {
	s.metrics.mu.Lock()
	s.metrics.readOps++
	s.metrics.mu.Unlock()
}

func (s *RedisStorage) incrementWriteOps() {
	s.metrics.mu.Lock()
	s.metrics.writeOps++
	s.metrics.mu.Unlock()
}

func (s *RedisStorage) incrementDeleteOps() {
	s.metrics.mu.Lock()
	s.metrics.deleteOps++
	s.metrics.mu.Unlock()
}

func (s *RedisStorage) incrementErrorCount() {
	s.metrics.mu.Lock()
	s.metrics.errorCount++
	s.metrics.mu.Unlock()
}

func (s *RedisStorage) incrementHitCount() {
	s.metrics.mu.Lock()
	s.metrics.hitCount++
	s.metrics.mu.Unlock()
}

func (s *RedisStorage) incrementMissCount() {
	s.metrics.mu.Lock()
	s.metrics.missCount++
	s.metrics.mu.Unlock()
}
