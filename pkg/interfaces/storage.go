package interfaces

import (
	"context"
	"time"

	"github.com/inferloop/dpledger/pkg/models"
)

// Storage defines the interface shared by all persistence backends
type Storage interface {
	// Connect establishes connection to the storage backend
	Connect(ctx context.Context) error

	// Close closes the connection and cleans up resources
	Close() error

	// Ping tests the connection
	Ping(ctx context.Context) error

	// GetInfo returns information about the storage backend
	GetInfo(ctx context.Context) (*StorageInfo, error)

	// Health returns health status of the storage
	Health(ctx context.Context) (*HealthStatus, error)
}

// SnapshotStore extends Storage with accountant snapshot persistence.
// Snapshots are keyed by accountant name; saving overwrites the previous
// snapshot for that name.
type SnapshotStore interface {
	Storage

	// SaveSnapshot persists an accountant snapshot
	SaveSnapshot(ctx context.Context, snapshot *models.AccountantSnapshot) error

	// LoadSnapshot loads the snapshot stored under name
	LoadSnapshot(ctx context.Context, name string) (*models.AccountantSnapshot, error)

	// ListSnapshots lists stored snapshots
	ListSnapshots(ctx context.Context) ([]*models.SnapshotInfo, error)

	// DeleteSnapshot removes the snapshot stored under name
	DeleteSnapshot(ctx context.Context, name string) error
}

// AuditSink extends Storage with an append-only audit trail of spends
// and alerts.
type AuditSink interface {
	Storage

	// RecordEvent appends one spend event for a scope
	RecordEvent(ctx context.Context, scope string, event *models.PrivacyEvent) error

	// RecordAlert appends one threshold alert
	RecordAlert(ctx context.Context, alert *models.BudgetAlert) error

	// QueryEvents returns the events recorded for a scope within [start, end]
	QueryEvents(ctx context.Context, scope string, start, end time.Time) ([]*models.PrivacyEvent, error)

	// QueryAlerts returns the alerts recorded within [start, end]
	QueryAlerts(ctx context.Context, start, end time.Time) ([]*models.BudgetAlert, error)
}

// UsageSink extends Storage with time-series budget consumption points
type UsageSink interface {
	Storage

	// WriteUsage writes one usage point
	WriteUsage(ctx context.Context, point *models.UsagePoint) error

	// WriteUsageBatch writes multiple usage points in a batch
	WriteUsageBatch(ctx context.Context, points []*models.UsagePoint) error

	// QueryUsage returns usage points for a scope within [start, end]
	QueryUsage(ctx context.Context, scope string, start, end time.Time) ([]*models.UsagePoint, error)
}

// StorageFactory creates storage instances
type StorageFactory interface {
	// CreateStorage creates a new storage instance
	CreateStorage(storageType string, config StorageConfig) (Storage, error)

	// GetSupportedTypes returns supported storage types
	GetSupportedTypes() []string

	// RegisterStorage registers a new storage type
	RegisterStorage(storageType string, createFunc StorageCreateFunc) error

	// IsSupported checks if a storage type is supported
	IsSupported(storageType string) bool
}

// StorageCreateFunc is a function that creates a storage instance
type StorageCreateFunc func(config StorageConfig) (Storage, error)

// StorageConfig contains storage configuration
type StorageConfig struct {
	Type             string                 `json:"type"`
	ConnectionString string                 `json:"connection_string"`
	Database         string                 `json:"database,omitempty"`
	Username         string                 `json:"username,omitempty"`
	Password         string                 `json:"password,omitempty"`
	Timeout          time.Duration          `json:"timeout"`
	MaxConnections   int                    `json:"max_connections"`
	RetentionDays    int                    `json:"retention_days,omitempty"`
	BatchSize        int                    `json:"batch_size"`
	TLS              *TLSConfig             `json:"tls,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// TLSConfig contains TLS configuration
type TLSConfig struct {
	Enabled            bool   `json:"enabled"`
	CertFile           string `json:"cert_file,omitempty"`
	KeyFile            string `json:"key_file,omitempty"`
	CAFile             string `json:"ca_file,omitempty"`
	InsecureSkipVerify bool   `json:"insecure_skip_verify"`
}

// StorageInfo contains information about the storage backend
type StorageInfo struct {
	Type          string                 `json:"type"`
	Version       string                 `json:"version"`
	Name          string                 `json:"name"`
	Description   string                 `json:"description"`
	Features      []string               `json:"features"`
	Configuration map[string]interface{} `json:"configuration,omitempty"`
}

// HealthStatus represents storage health status
type HealthStatus struct {
	Status      string                 `json:"status"` // "healthy", "degraded", "unhealthy"
	LastCheck   time.Time              `json:"last_check"`
	Latency     time.Duration          `json:"latency"`
	Connections int                    `json:"connections"`
	Errors      []string               `json:"errors,omitempty"`
	Warnings    []string               `json:"warnings,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// StorageMetrics contains storage performance counters
type StorageMetrics struct {
	ReadOperations   int64         `json:"read_operations"`
	WriteOperations  int64         `json:"write_operations"`
	DeleteOperations int64         `json:"delete_operations"`
	AverageReadTime  time.Duration `json:"average_read_time"`
	AverageWriteTime time.Duration `json:"average_write_time"`
	ErrorCount       int64         `json:"error_count"`
	RecordCount      int64         `json:"record_count"`
	DataSize         int64         `json:"data_size"`
	LastError        string        `json:"last_error,omitempty"`
	Uptime           time.Duration `json:"uptime"`
}

// TimeRange represents a time range
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}
