// Package postgres persists the audit trail and usage history in
// PostgreSQL tables created on connect.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/dpledger/pkg/errors"
	"github.com/inferloop/dpledger/pkg/interfaces"
	"github.com/inferloop/dpledger/pkg/models"
)

// PostgresConfig holds configuration for PostgreSQL storage
type PostgresConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Database        string        `json:"database"`
	Username        string        `json:"username"`
	Password        string        `json:"password,omitempty"`
	SSLMode         string        `json:"ssl_mode"`
	ConnectTimeout  time.Duration `json:"connect_timeout"`
	QueryTimeout    time.Duration `json:"query_timeout"`
	MaxConnections  int           `json:"max_connections"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	RetentionDays   int           `json:"retention_days"`
}

// PostgresStorage implements AuditSink and UsageSink on a PostgreSQL
// database
type PostgresStorage struct {
	config    *PostgresConfig
	db        *sql.DB
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

// NewPostgresStorage creates a new PostgreSQL storage instance
func NewPostgresStorage(config *PostgresConfig, logger *logrus.Logger) (*PostgresStorage, error) {
	if config == nil {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "PostgreSQL config cannot be nil")
	}

	if config.Database == "" {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "PostgreSQL database name is required")
	}

	if config.Host == "" {
		config.Host = "localhost"
	}
	if config.Port <= 0 {
		config.Port = 5432
	}
	if config.SSLMode == "" {
		config.SSLMode = "prefer"
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = 10 * time.Second
	}
	if config.QueryTimeout <= 0 {
		config.QueryTimeout = 30 * time.Second
	}
	if config.MaxConnections <= 0 {
		config.MaxConnections = 10
	}

	if logger == nil {
		logger = logrus.New()
	}

	return &PostgresStorage{
		config: config,
		logger: logger,
		metrics: &storageMetrics{
			startTime: time.Now(),
		},
	}, nil
}

// Connect opens the database and creates the schema when missing
func (s *PostgresStorage) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return nil
	}

	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		s.config.Host, s.config.Port, s.config.Username, s.config.Password,
		s.config.Database, s.config.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectionFailed, "Failed to open PostgreSQL connection")
	}

	db.SetMaxOpenConns(s.config.MaxConnections)
	db.SetMaxIdleConns(s.config.MaxIdleConns)
	db.SetConnMaxLifetime(s.config.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, s.config.ConnectTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectionFailed, "Failed to ping PostgreSQL")
	}

	s.db = db

	if err := s.initializeSchema(ctx); err != nil {
		db.Close()
		s.db = nil
		return errors.WrapError(err, errors.ErrorTypeStorage, "SCHEMA_INIT_FAILED", "Failed to initialize schema")
	}

	s.connected = true
	s.logger.WithFields(logrus.Fields{
		"host":     s.config.Host,
		"port":     s.config.Port,
		"database": s.config.Database,
	}).Info("Connected to PostgreSQL")

	return nil
}

// Close closes the database connection
func (s *PostgresStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return nil
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return errors.WrapError(err, errors.ErrorTypeStorage, "CLOSE_FAILED", "Failed to close PostgreSQL connection")
		}
		s.db = nil
	}

	s.connected = false
	s.logger.Info("PostgreSQL connection closed")
	return nil
}

// Ping tests the database connection
func (s *PostgresStorage) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.connected || s.db == nil {
		return errors.NewStorageError("NOT_CONNECTED", "PostgreSQL not connected")
	}

	pingCtx, cancel := context.WithTimeout(ctx, s.config.ConnectTimeout)
	defer cancel()

	if err := s.db.PingContext(pingCtx); err != nil {
		s.incrementErrorCount()
		return errors.WrapError(err, errors.ErrorTypeStorage, "PING_FAILED", "PostgreSQL ping failed")
	}

	return nil
}

// GetInfo returns information about the PostgreSQL storage
func (s *PostgresStorage) GetInfo(ctx context.Context) (*interfaces.StorageInfo, error) {
	info := &interfaces.StorageInfo{
		Type:        "postgres",
		Version:     "unknown",
		Name:        "PostgreSQL Storage",
		Description: "Relational store for the audit trail and usage history",
		Features: []string{
			"audit trail",
			"usage history",
			"transactions",
			"time range queries",
			"retention pruning",
		},
		Configuration: map[string]interface{}{
			"host":            s.config.Host,
			"port":            s.config.Port,
			"database":        s.config.Database,
			"ssl_mode":        s.config.SSLMode,
			"max_connections": s.config.MaxConnections,
			"retention_days":  s.config.RetentionDays,
		},
	}

	s.mu.RLock()
	db := s.db
	s.mu.RUnlock()

	if db != nil {
		var version string
		if err := db.QueryRowContext(ctx, "SELECT version()").Scan(&version); err == nil {
			info.Version = version
		}
	}

	return info, nil
}

// Health returns the health status of the storage
func (s *PostgresStorage) Health(ctx context.Context) (*interfaces.HealthStatus, error) {
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

	health := &interfaces.HealthStatus{
		Status:    status,
		LastCheck: time.Now(),
		Latency:   latency,
		Errors:    healthErrors,
		Warnings:  warnings,
		Metadata:  map[string]interface{}{},
	}

	s.mu.RLock()
	db := s.db
	s.mu.RUnlock()

	if db != nil {
		stats := db.Stats()
		health.Connections = stats.OpenConnections
		health.Metadata["in_use"] = stats.InUse
		health.Metadata["idle"] = stats.Idle
		if stats.WaitCount > 0 {
			warnings = append(warnings, "Connection pool contention detected")
			health.Warnings = warnings
		}
	}

	return health, nil
}

// RecordEvent appends one spend event for a scope
func (s *PostgresStorage) RecordEvent(ctx context.Context, scope string, event *models.PrivacyEvent) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.connected || s.db == nil {
		return errors.NewStorageError("NOT_CONNECTED", "PostgreSQL not connected")
	}

	if scope == "" {
		return errors.NewValidationError(errors.CodeInvalidInput, "scope is required")
	}

	if event == nil {
		return errors.NewValidationError(errors.CodeInvalidInput, "event cannot be nil")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		s.incrementErrorCount()
		return errors.WrapError(err, errors.ErrorTypeStorage, "SERIALIZATION_FAILED", "Failed to serialize event")
	}

	recordedAt := event.Timestamp
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}

	queryCtx, cancel := context.WithTimeout(ctx, s.config.QueryTimeout)
	defer cancel()

	query := `
		INSERT INTO privacy_events (scope, event_id, epsilon, delta, model, mechanism, description, payload, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = s.db.ExecContext(queryCtx, query,
		scope, event.ID, event.Epsilon, event.Delta,
		string(event.Model), event.Mechanism, event.Description,
		payload, recordedAt)
	if err != nil {
		s.incrementErrorCount()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed,
			fmt.Sprintf("Failed to record event for scope '%s'", scope))
	}

	s.incrementWriteOps()
	return nil
}

// RecordAlert appends one threshold alert
func (s *PostgresStorage) RecordAlert(ctx context.Context, alert *models.BudgetAlert) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.connected || s.db == nil {
		return errors.NewStorageError("NOT_CONNECTED", "PostgreSQL not connected")
	}

	if alert == nil {
		return errors.NewValidationError(errors.CodeInvalidInput, "alert cannot be nil")
	}

	payload, err := json.Marshal(alert)
	if err != nil {
		s.incrementErrorCount()
		return errors.WrapError(err, errors.ErrorTypeStorage, "SERIALIZATION_FAILED", "Failed to serialize alert")
	}

	recordedAt := alert.Timestamp
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}

	queryCtx, cancel := context.WithTimeout(ctx, s.config.QueryTimeout)
	defer cancel()

	query := `
		INSERT INTO budget_alerts (scope, threshold, ratio, message, payload, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err = s.db.ExecContext(queryCtx, query,
		alert.Scope.String(), alert.Threshold, alert.Ratio, alert.Message,
		payload, recordedAt)
	if err != nil {
		s.incrementErrorCount()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to record alert")
	}

	s.incrementWriteOps()
	return nil
}

// QueryEvents returns the events recorded for a scope within [start, end]
func (s *PostgresStorage) QueryEvents(ctx context.Context, scope string, start, end time.Time) ([]*models.PrivacyEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.connected || s.db == nil {
		return nil, errors.NewStorageError("NOT_CONNECTED", "PostgreSQL not connected")
	}

	queryCtx, cancel := context.WithTimeout(ctx, s.config.QueryTimeout)
	defer cancel()

	query := `
		SELECT payload FROM privacy_events
		WHERE scope = $1 AND recorded_at >= $2 AND recorded_at <= $3
		ORDER BY recorded_at ASC, id ASC`

	rows, err := s.db.QueryContext(queryCtx, query, scope, start, end)
	if err != nil {
		s.incrementErrorCount()
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed,
			fmt.Sprintf("Failed to query events for scope '%s'", scope))
	}
	defer rows.Close()

	var events []*models.PrivacyEvent
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			s.incrementErrorCount()
			return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to scan event row")
		}

		var event models.PrivacyEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			s.logger.WithError(err).Warn("Skipping undecodable event")
			continue
		}

		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		s.incrementErrorCount()
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to iterate event rows")
	}

	s.incrementReadOps()
	return events, nil
}

// QueryAlerts returns the alerts recorded within [start, end]
func (s *PostgresStorage) QueryAlerts(ctx context.Context, start, end time.Time) ([]*models.BudgetAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.connected || s.db == nil {
		return nil, errors.NewStorageError("NOT_CONNECTED", "PostgreSQL not connected")
	}

	queryCtx, cancel := context.WithTimeout(ctx, s.config.QueryTimeout)
	defer cancel()

	query := `
		SELECT payload FROM budget_alerts
		WHERE recorded_at >= $1 AND recorded_at <= $2
		ORDER BY recorded_at ASC, id ASC`

	rows, err := s.db.QueryContext(queryCtx, query, start, end)
	if err != nil {
		s.incrementErrorCount()
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to query alerts")
	}
	defer rows.Close()

	var alerts []*models.BudgetAlert
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			s.incrementErrorCount()
			return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to scan alert row")
		}

		var alert models.BudgetAlert
		if err := json.Unmarshal(payload, &alert); err != nil {
			s.logger.WithError(err).Warn("Skipping undecodable alert")
			continue
		}

		alerts = append(alerts, &alert)
	}

	if err := rows.Err(); err != nil {
		s.incrementErrorCount()
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to iterate alert rows")
	}

	s.incrementReadOps()
	return alerts, nil
}

// WriteUsage writes one usage point
func (s *PostgresStorage) WriteUsage(ctx context.Context, point *models.UsagePoint) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.connected || s.db == nil {
		return errors.NewStorageError("NOT_CONNECTED", "PostgreSQL not connected")
	}

	if point == nil {
		return errors.NewValidationError(errors.CodeInvalidInput, "usage point cannot be nil")
	}

	tagsJSON, err := marshalTags(point.Tags)
	if err != nil {
		s.incrementErrorCount()
		return errors.WrapError(err, errors.ErrorTypeStorage, "SERIALIZATION_FAILED", "Failed to serialize tags")
	}

	queryCtx, cancel := context.WithTimeout(ctx, s.config.QueryTimeout)
	defer cancel()

	query := `
		INSERT INTO budget_usage (scope, epsilon, delta, model, mechanism, user_key, tags, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = s.db.ExecContext(queryCtx, query,
		point.Scope, point.Epsilon, point.Delta,
		string(point.Model), point.Mechanism, point.UserKey,
		tagsJSON, usageTimestamp(point))
	if err != nil {
		s.incrementErrorCount()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to write usage point")
	}

	s.incrementWriteOps()
	return nil
}

// WriteUsageBatch loads multiple usage points through COPY in one
// transaction
func (s *PostgresStorage) WriteUsageBatch(ctx context.Context, points []*models.UsagePoint) error {
	if len(points) == 0 {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.connected || s.db == nil {
		return errors.NewStorageError("NOT_CONNECTED", "PostgreSQL not connected")
	}

	queryCtx, cancel := context.WithTimeout(ctx, s.config.QueryTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(queryCtx, nil)
	if err != nil {
		s.incrementErrorCount()
		return errors.WrapError(err, errors.ErrorTypeStorage, "TRANSACTION_FAILED", "Failed to begin transaction")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(queryCtx, pq.CopyIn("budget_usage",
		"scope", "epsilon", "delta", "model", "mechanism", "user_key", "tags", "recorded_at"))
	if err != nil {
		s.incrementErrorCount()
		return errors.WrapError(err, errors.ErrorTypeStorage, "COPY_PREPARE_FAILED", "Failed to prepare COPY statement")
	}
	defer stmt.Close()

	for _, point := range points {
		if point == nil {
			continue
		}

		tagsJSON, err := marshalTags(point.Tags)
		if err != nil {
			s.incrementErrorCount()
			return errors.WrapError(err, errors.ErrorTypeStorage, "SERIALIZATION_FAILED", "Failed to serialize tags")
		}

		if _, err := stmt.ExecContext(queryCtx,
			point.Scope, point.Epsilon, point.Delta,
			string(point.Model), point.Mechanism, point.UserKey,
			tagsJSON, usageTimestamp(point)); err != nil {
			s.incrementErrorCount()
			return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to buffer usage point")
		}
	}

	// Flush the COPY buffer before commit
	if _, err := stmt.ExecContext(queryCtx); err != nil {
		s.incrementErrorCount()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to flush COPY buffer")
	}

	if err := stmt.Close(); err != nil {
		s.incrementErrorCount()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to close COPY statement")
	}

	if err := tx.Commit(); err != nil {
		s.incrementErrorCount()
		return errors.WrapError(err, errors.ErrorTypeStorage, "TRANSACTION_FAILED", "Failed to commit usage batch")
	}

	s.metrics.mu.Lock()
	s.metrics.writeOps += int64(len(points))
	s.metrics.mu.Unlock()

	s.logger.WithField("count", len(points)).Debug("Usage batch written")
	return nil
}

// QueryUsage returns usage points for a scope within [start, end]
func (s *PostgresStorage) QueryUsage(ctx context.Context, scope string, start, end time.Time) ([]*models.UsagePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.connected || s.db == nil {
		return nil, errors.NewStorageError("NOT_CONNECTED", "PostgreSQL not connected")
	}

	queryCtx, cancel := context.WithTimeout(ctx, s.config.QueryTimeout)
	defer cancel()

	query := `
		SELECT scope, epsilon, delta, model, mechanism, user_key, tags, recorded_at
		FROM budget_usage
		WHERE scope = $1 AND recorded_at >= $2 AND recorded_at <= $3
		ORDER BY recorded_at ASC`

	rows, err := s.db.QueryContext(queryCtx, query, scope, start, end)
	if err != nil {
		s.incrementErrorCount()
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed,
			fmt.Sprintf("Failed to query usage for scope '%s'", scope))
	}
	defer rows.Close()

	var points []*models.UsagePoint
	for rows.Next() {
		var (
			point   models.UsagePoint
			model   string
			tagsRaw []byte
		)

		if err := rows.Scan(&point.Scope, &point.Epsilon, &point.Delta,
			&model, &point.Mechanism, &point.UserKey, &tagsRaw, &point.Timestamp); err != nil {
			s.incrementErrorCount()
			return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to scan usage row")
		}

		point.Model = models.PrivacyModel(model)
		if len(tagsRaw) > 0 {
			if err := json.Unmarshal(tagsRaw, &point.Tags); err != nil {
				s.logger.WithError(err).Warn("Skipping undecodable usage tags")
			}
		}

		points = append(points, &point)
	}

	if err := rows.Err(); err != nil {
		s.incrementErrorCount()
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to iterate usage rows")
	}

	s.incrementReadOps()
	return points, nil
}

// PruneBefore removes audit and usage records older than cutoff and
// returns the number of rows deleted.
func (s *PostgresStorage) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.connected || s.db == nil {
		return 0, errors.NewStorageError("NOT_CONNECTED", "PostgreSQL not connected")
	}

	queryCtx, cancel := context.WithTimeout(ctx, s.config.QueryTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(queryCtx, nil)
	if err != nil {
		s.incrementErrorCount()
		return 0, errors.WrapError(err, errors.ErrorTypeStorage, "TRANSACTION_FAILED", "Failed to begin transaction")
	}
	defer tx.Rollback()

	var total int64
	for _, table := range []string{"privacy_events", "budget_alerts", "budget_usage"} {
		result, err := tx.ExecContext(queryCtx,
			fmt.Sprintf("DELETE FROM %s WHERE recorded_at < $1", table), cutoff)
		if err != nil {
			s.incrementErrorCount()
			return 0, errors.WrapError(err, errors.ErrorTypeStorage, "DELETE_FAILED",
				fmt.Sprintf("Failed to prune %s", table))
		}

		if affected, err := result.RowsAffected(); err == nil {
			total += affected
		}
	}

	if err := tx.Commit(); err != nil {
		s.incrementErrorCount()
		return 0, errors.WrapError(err, errors.ErrorTypeStorage, "TRANSACTION_FAILED", "Failed to commit prune")
	}

	s.incrementDeleteOps()
	s.logger.WithFields(logrus.Fields{
		"cutoff":  cutoff,
		"removed": total,
	}).Info("Pruned aged audit records")

	return total, nil
}

// GetMetrics returns storage performance counters
func (s *PostgresStorage) GetMetrics(ctx context.Context) (*interfaces.StorageMetrics, error) {
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

func (s *PostgresStorage) initializeSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS privacy_events (
			id BIGSERIAL PRIMARY KEY,
			scope VARCHAR(255) NOT NULL,
			event_id VARCHAR(64) NOT NULL,
			epsilon DOUBLE PRECISION NOT NULL,
			delta DOUBLE PRECISION NOT NULL,
			model VARCHAR(32),
			mechanism VARCHAR(64),
			description TEXT,
			payload JSONB NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_privacy_events_scope_time ON privacy_events (scope, recorded_at)`,
		`CREATE TABLE IF NOT EXISTS budget_alerts (
			id BIGSERIAL PRIMARY KEY,
			scope VARCHAR(255) NOT NULL,
			threshold DOUBLE PRECISION NOT NULL,
			ratio DOUBLE PRECISION NOT NULL,
			message TEXT,
			payload JSONB NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_budget_alerts_time ON budget_alerts (recorded_at)`,
		`CREATE TABLE IF NOT EXISTS budget_usage (
			scope VARCHAR(255) NOT NULL,
			epsilon DOUBLE PRECISION NOT NULL,
			delta DOUBLE PRECISION NOT NULL,
			model VARCHAR(32),
			mechanism VARCHAR(64),
			user_key VARCHAR(255),
			tags JSONB,
			recorded_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_budget_usage_scope_time ON budget_usage (scope, recorded_at)`,
	}

	for _, statement := range statements {
		if _, err := s.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

func marshalTags(tags map[string]string) (interface{}, error) {
	if len(tags) == 0 {
		return nil, nil
	}

	data, err := json.Marshal(tags)
	if err != nil {
		return nil, err
	}

	return string(data), nil
}

func usageTimestamp(point *models.UsagePoint) time.Time {
	if point.Timestamp.IsZero() {
		return time.Now().UTC()
	}
	return point.Timestamp
}

// Metrics helpers

func (s *PostgresStorage) incrementReadOps() {
	s.metrics.mu.Lock()
	s.metrics.readOps++
	s.metrics.mu.Unlock()
}

func (s *PostgresStorage) incrementWriteOps() {
	s.metrics.mu.Lock()
	s.metrics.writeOps++
	s.metrics.mu.Unlock()
}

func (s *PostgresStorage) incrementDeleteOps() {
	s.metrics.mu.Lock()
	s.metrics.deleteOps++
	s.metrics.mu.Unlock()
}

func (s *PostgresStorage) incrementErrorCount() {
	s.metrics.mu.Lock()
	s.metrics.errorCount++
	s.metrics.mu.Unlock()
}
