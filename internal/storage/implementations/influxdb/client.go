// Package influxdb records per-spend usage points in InfluxDB so budget
// consumption can be charted and pruned by time range.
package influxdb

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/dpledger/pkg/errors"
	"github.com/inferloop/dpledger/pkg/interfaces"
	"github.com/inferloop/dpledger/pkg/models"
)

// InfluxDBConfig contains configuration for InfluxDB storage
type InfluxDBConfig struct {
	URL          string        `json:"url"`
	Token        string        `json:"token,omitempty"`
	Organization string        `json:"organization"`
	Bucket       string        `json:"bucket"`
	Measurement  string        `json:"measurement"`
	Timeout      time.Duration `json:"timeout"`
	BatchSize    int           `json:"batch_size"`
	UseGZip      bool          `json:"use_gzip"`
	Precision    time.Duration `json:"precision"`
}

// InfluxDBStorage implements UsageSink on an InfluxDB bucket
type InfluxDBStorage struct {
	config    *InfluxDBConfig
	client    influxdb2.Client
	writeAPI  api.WriteAPI
	queryAPI  api.QueryAPI
	deleteAPI api.DeleteAPI
	logger    *logrus.Logger
	mu        sync.RWMutex
	metrics   *storageMetrics
	connected bool
}

type storageMetrics struct {
	readOps    int64
	writeOps   int64
	deleteOps  int64
	errorCount int64
	startTime  time.Time
	mu         sync.RWMutex
}

// NewInfluxDBStorage creates a new InfluxDB storage instance
func NewInfluxDBStorage(config *InfluxDBConfig, logger *logrus.Logger) (*InfluxDBStorage, error) {
	if config == nil {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "InfluxDB config cannot be nil")
	}

	if config.URL == "" {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "InfluxDB URL is required")
	}

	if config.Bucket == "" {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "InfluxDB bucket is required")
	}

	if config.Measurement == "" {
		config.Measurement = "privacy_spend"
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 1000
	}
	if config.Precision <= 0 {
		config.Precision = time.Nanosecond
	}

	if logger == nil {
		logger = logrus.New()
	}

	return &InfluxDBStorage{
		config: config,
		logger: logger,
		metrics: &storageMetrics{
			startTime: time.Now(),
		},
	}, nil
}

// Connect establishes the connection to InfluxDB
func (s *InfluxDBStorage) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return nil
	}

	options := influxdb2.DefaultOptions()
	options.SetBatchSize(uint(s.config.BatchSize))
	options.SetUseGZip(s.config.UseGZip)
	options.SetPrecision(s.config.Precision)

	client := influxdb2.NewClientWithOptions(s.config.URL, s.config.Token, options)

	ok, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectionFailed, "Failed to connect to InfluxDB")
	}
	if !ok {
		client.Close()
		return errors.NewStorageError(errors.CodeConnectionFailed, "InfluxDB ping failed")
	}

	s.client = client
	s.writeAPI = client.WriteAPI(s.config.Organization, s.config.Bucket)
	s.queryAPI = client.QueryAPI(s.config.Organization)
	s.deleteAPI = client.DeleteAPI()

	// The write API is asynchronous; its error channel must have a
	// reader before the first write.
	go func(errCh <-chan error) {
		for err := range errCh {
			s.incrementErrorCount()
			s.logger.WithError(err).Error("Async usage write failed")
		}
	}(s.writeAPI.Errors())

	s.connected = true
	s.logger.WithFields(logrus.Fields{
		"url":          s.config.URL,
		"organization": s.config.Organization,
		"bucket":       s.config.Bucket,
		"measurement":  s.config.Measurement,
	}).Info("Connected to InfluxDB")

	return nil
}

// Close flushes pending writes and closes the connection
func (s *InfluxDBStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return nil
	}

	if s.writeAPI != nil {
		s.writeAPI.Flush()
	}

	if s.client != nil {
		s.client.Close()
		s.client = nil
	}

	s.writeAPI = nil
	s.queryAPI = nil
	s.deleteAPI = nil
	s.connected = false
	s.logger.Info("InfluxDB connection closed")
	return nil
}

// Ping tests the InfluxDB connection
func (s *InfluxDBStorage) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.connected || s.client == nil {
		return errors.NewStorageError("NOT_CONNECTED", "InfluxDB not connected")
	}

	ok, err := s.client.Ping(ctx)
	if err != nil {
		s.incrementErrorCount()
		return errors.WrapError(err, errors.ErrorTypeStorage, "PING_FAILED", "InfluxDB ping failed")
	}
	if !ok {
		s.incrementErrorCount()
		return errors.NewStorageError("PING_FAILED", "InfluxDB ping returned not ready")
	}

	return nil
}

// GetInfo returns information about the InfluxDB storage
func (s *InfluxDBStorage) GetInfo(ctx context.Context) (*interfaces.StorageInfo, error) {
	info := &interfaces.StorageInfo{
		Type:        "influxdb",
		Version:     "2.x",
		Name:        "InfluxDB Storage",
		Description: "Time series store for privacy budget usage",
		Features: []string{
			"usage history",
			"batched writes",
			"flux queries",
			"range deletes",
			"gzip transfer",
		},
		Configuration: map[string]interface{}{
			"url":          s.config.URL,
			"organization": s.config.Organization,
			"bucket":       s.config.Bucket,
			"measurement":  s.config.Measurement,
			"batch_size":   s.config.BatchSize,
			"use_gzip":     s.config.UseGZip,
		},
	}

	return info, nil
}

// Health returns the health status of the storage
func (s *InfluxDBStorage) Health(ctx context.Context) (*interfaces.HealthStatus, error) {
	start := time.Now()
	status := "healthy"
	var healthErrors []string
	var warnings []string

	if err := s.Ping(ctx); err != nil {
		status = "unhealthy"
		healthErrors = append(healthErrors, fmt.Sprintf("Connection failed: %v", err))
	}

	latency := time.Since(start)
	if latency > 100*time.Millisecond {
		warnings = append(warnings, "High latency detected")
	}

	return &interfaces.HealthStatus{
		Status:    status,
		LastCheck: time.Now(),
		Latency:   latency,
		Errors:    healthErrors,
		Warnings:  warnings,
		Metadata: map[string]interface{}{
			"bucket":      s.config.Bucket,
			"measurement": s.config.Measurement,
		},
	}, nil
}

// WriteUsage writes one usage point and flushes it immediately
func (s *InfluxDBStorage) WriteUsage(ctx context.Context, point *models.UsagePoint) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.connected || s.writeAPI == nil {
		return errors.NewStorageError("NOT_CONNECTED", "InfluxDB not connected")
	}

	if point == nil {
		return errors.NewValidationError(errors.CodeInvalidInput, "usage point cannot be nil")
	}

	if point.Scope == "" {
		return errors.NewValidationError(errors.CodeInvalidInput, "usage point requires a scope")
	}

	s.writeAPI.WritePoint(s.buildPoint(point))
	s.writeAPI.Flush()

	s.incrementWriteOps()
	return nil
}

// WriteUsageBatch writes multiple usage points in one flush
func (s *InfluxDBStorage) WriteUsageBatch(ctx context.Context, points []*models.UsagePoint) error {
	if len(points) == 0 {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.connected || s.writeAPI == nil {
		return errors.NewStorageError("NOT_CONNECTED", "InfluxDB not connected")
	}

	written := 0
	for _, point := range points {
		if point == nil || point.Scope == "" {
			continue
		}
		s.writeAPI.WritePoint(s.buildPoint(point))
		written++
	}

	s.writeAPI.Flush()

	s.metrics.mu.Lock()
	s.metrics.writeOps += int64(written)
	s.metrics.mu.Unlock()

	s.logger.WithField("count", written).Debug("Usage batch written")
	return nil
}

// QueryUsage returns usage points for a scope within [start, end]
func (s *InfluxDBStorage) QueryUsage(ctx context.Context, scope string, start, end time.Time) ([]*models.UsagePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.connected || s.queryAPI == nil {
		return nil, errors.NewStorageError("NOT_CONNECTED", "InfluxDB not connected")
	}

	// Flux range stops are exclusive, so nudge the end bound forward to
	// keep the caller's range inclusive.
	flux := fmt.Sprintf(`
from(bucket: %q)
  |> range(start: %s, stop: %s)
  |> filter(fn: (r) => r._measurement == %q)
  |> filter(fn: (r) => r.scope == %q)`,
		s.config.Bucket,
		start.UTC().Format(time.RFC3339Nano),
		end.Add(time.Nanosecond).UTC().Format(time.RFC3339Nano),
		s.config.Measurement,
		scope)

	result, err := s.queryAPI.Query(ctx, flux)
	if err != nil {
		s.incrementErrorCount()
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed,
			fmt.Sprintf("Failed to query usage for scope '%s'", scope))
	}
	defer result.Close()

	byTime := make(map[int64]*models.UsagePoint)
	for result.Next() {
		record := result.Record()
		ts := record.Time().UnixNano()

		point, ok := byTime[ts]
		if !ok {
			point = &models.UsagePoint{
				Scope:     scope,
				Timestamp: record.Time(),
			}
			s.assignTags(point, record.Values())
			byTime[ts] = point
		}

		value, ok := record.Value().(float64)
		if !ok {
			continue
		}

		switch record.Field() {
		case "epsilon":
			point.Epsilon = value
		case "delta":
			point.Delta = value
		}
	}

	if err := result.Err(); err != nil {
		s.incrementErrorCount()
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to iterate usage records")
	}

	points := make([]*models.UsagePoint, 0, len(byTime))
	for _, point := range byTime {
		points = append(points, point)
	}
	sort.Slice(points, func(i, j int) bool {
		return points[i].Timestamp.Before(points[j].Timestamp)
	})

	s.incrementReadOps()
	return points, nil
}

// DeleteUsage removes a scope's usage points within [start, end]
func (s *InfluxDBStorage) DeleteUsage(ctx context.Context, scope string, start, end time.Time) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.connected || s.deleteAPI == nil {
		return errors.NewStorageError("NOT_CONNECTED", "InfluxDB not connected")
	}

	predicate := fmt.Sprintf(`_measurement="%s" AND scope="%s"`, s.config.Measurement, scope)
	if err := s.deleteAPI.DeleteWithName(ctx, s.config.Organization, s.config.Bucket, start, end, predicate); err != nil {
		s.incrementErrorCount()
		return errors.WrapError(err, errors.ErrorTypeStorage, "DELETE_FAILED",
			fmt.Sprintf("Failed to delete usage for scope '%s'", scope))
	}

	s.incrementDeleteOps()
	s.logger.WithFields(logrus.Fields{
		"scope": scope,
		"start": start,
		"end":   end,
	}).Info("Usage range deleted")

	return nil
}

// GetMetrics returns storage performance counters
func (s *InfluxDBStorage) GetMetrics(ctx context.Context) (*interfaces.StorageMetrics, error) {
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

func (s *InfluxDBStorage) buildPoint(point *models.UsagePoint) *write.Point {
	pt := influxdb2.NewPointWithMeasurement(s.config.Measurement).
		AddTag("scope", point.Scope).
		AddField("epsilon", point.Epsilon).
		AddField("delta", point.Delta).
		SetTime(usageTimestamp(point))

	if point.Model != "" {
		pt.AddTag("model", string(point.Model))
	}
	if point.Mechanism != "" {
		pt.AddTag("mechanism", point.Mechanism)
	}
	if point.UserKey != "" {
		pt.AddTag("user_key", point.UserKey)
	}
	for key, value := range point.Tags {
		pt.AddTag(key, value)
	}

	return pt
}

// assignTags copies tag columns from a query record onto the point,
// skipping the columns Flux adds to every row.
func (s *InfluxDBStorage) assignTags(point *models.UsagePoint, values map[string]interface{}) {
	for key, raw := range values {
		switch key {
		case "_time", "_value", "_field", "_measurement", "_start", "_stop", "table", "result", "scope":
			continue
		}

		value, ok := raw.(string)
		if !ok {
			continue
		}

		switch key {
		case "model":
			point.Model = models.PrivacyModel(value)
		case "mechanism":
			point.Mechanism = value
		case "user_key":
			point.UserKey = value
		default:
			if point.Tags == nil {
				point.Tags = make(map[string]string)
			}
			point.Tags[key] = value
		}
	}
}

func usageTimestamp(point *models.UsagePoint) time.Time {
	if point.Timestamp.IsZero() {
		return time.Now().UTC()
	}
	return point.Timestamp
}

// Metrics helpers

func (s *InfluxDBStorage) incrementReadOps() {
	s.metrics.mu.Lock()
	s.metrics.readOps++
	s.metrics.mu.Unlock()
}

func (s *InfluxDBStorage) incrementWriteOps() {
	s.metrics.mu.Lock()
	s.metrics.writeOps++
	s.metrics.mu.Unlock()
}

func (s *InfluxDBStorage) incrementDeleteOps() {
	s.metrics.mu.Lock()
	s.metrics.deleteOps++
	s.metrics.mu.Unlock()
}

func (s *InfluxDBStorage) incrementErrorCount() {
	s.metrics.mu.Lock()
	s.metrics.errorCount++
	s.metrics.mu.Unlock()
}
