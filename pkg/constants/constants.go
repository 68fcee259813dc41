package constants

import "time"

// Application constants
const (
	// Application metadata
	AppName        = "dpledger-server"
	AppDescription = "Differential Privacy Budget Ledger"
	AppVersion     = "0.1.0"

	// API constants
	APIVersion = "v1"
	APIPrefix  = "/api/v1"

	// Default configuration values
	DefaultPort            = 8080
	DefaultMetricsPort     = 9090
	DefaultHost            = "0.0.0.0"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "json"
	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 15 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxRequestSize  = 10 << 20
	DefaultRateLimit       = 1000

	// Accounting defaults
	DefaultSlack   = 1e-12
	DefaultEpsilon = 1.0
	DefaultDelta   = 1e-5

	// Local-DP accounting
	AnonymousUserKey = "<anonymous>"

	// Storage defaults
	DefaultStorageTimeout    = 30 * time.Second
	DefaultConnectionTimeout = 10 * time.Second
	DefaultSnapshotTTL       = 24 * time.Hour
	DefaultRetentionDays     = 30
	DefaultSnapshotDir       = "./data/snapshots"
	DefaultMaxConnections    = 10
	DefaultBatchSize         = 1000

	// Worker defaults
	DefaultWorkerConcurrency  = 4
	DefaultSnapshotInterval   = 5 * time.Minute
	DefaultUsageFlushInterval = 30 * time.Second
	DefaultMaxRetries         = 3
	DefaultRetryDelay         = 1 * time.Second
	DefaultJobTimeout         = 5 * time.Minute

	// Pagination defaults
	DefaultPageSize = 100
	MaxPageSize     = 1000
)

// DefaultThresholds are the tracker alert thresholds applied when a caller
// supplies none, as fractions of the total budget.
var DefaultThresholds = []float64{0.5, 0.8, 1.0}

// DefaultMomentOrders is the RDP order ladder tracked by the moment
// accountant when a caller supplies none.
var DefaultMomentOrders = []float64{1.5, 2, 4, 8, 16, 32, 64}

// Storage backend names
const (
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendInfluxDB = "influxdb"
	BackendS3       = "s3"
)

// HTTP headers
const (
	HeaderContentType        = "Content-Type"
	HeaderAccept             = "Accept"
	HeaderRequestID          = "X-Request-ID"
	HeaderCorrelationID      = "X-Correlation-ID"
	HeaderForwardedFor       = "X-Forwarded-For"
	HeaderRealIP             = "X-Real-IP"
	HeaderRateLimit          = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
)

// Content types
const (
	ContentTypeJSON      = "application/json"
	ContentTypeCSV       = "text/csv"
	ContentTypePlainText = "text/plain"
)

// Environment names
const (
	EnvDevelopment = "development"
	EnvTesting     = "testing"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// Log levels
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
	LogLevelFatal = "fatal"
)
