package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/inferloop/dpledger/pkg/constants"
)

type Config struct {
	Host        string
	Port        int
	MetricsPort int
	Environment string

	LogLevel  string
	LogFormat string

	Thresholds      string
	RateLimit       int
	EnableMetrics   bool
	EnableProfiling bool
	EnableCORS      bool

	SnapshotBackend  string
	SnapshotDSN      string
	SnapshotDatabase string
	SnapshotUsername string
	SnapshotPassword string

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

	TLSCert string
	TLSKey  string

	Version bool
}

func ParseFlags() *Config {
	config := &Config{}

	flag.StringVar(&config.Host, "host", constants.DefaultHost, "Server host")
	flag.IntVar(&config.Port, "port", constants.DefaultPort, "Server port")
	flag.IntVar(&config.MetricsPort, "metrics-port", constants.DefaultMetricsPort, "Prometheus metrics port")
	flag.StringVar(&config.Environment, "environment", constants.EnvProduction, "Deployment environment (development, testing, staging, production)")
	flag.StringVar(&config.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.StringVar(&config.LogFormat, "log-format", "json", "Log format (json, text)")

	flag.StringVar(&config.Thresholds, "thresholds", "", "Comma-separated alert thresholds as budget ratios (default 0.5,0.8,1.0)")
	flag.IntVar(&config.RateLimit, "rate-limit", constants.DefaultRateLimit, "Requests per client IP per minute (0 disables)")
	flag.BoolVar(&config.EnableMetrics, "enable-metrics", true, "Serve Prometheus metrics on the metrics port")
	flag.BoolVar(&config.EnableProfiling, "enable-profiling", false, "Expose pprof on the metrics port")
	flag.BoolVar(&config.EnableCORS, "enable-cors", true, "Send CORS headers on API responses")

	flag.StringVar(&config.SnapshotBackend, "snapshot-backend", constants.BackendFile, "Snapshot store backend (file, redis, s3)")
	flag.StringVar(&config.SnapshotDSN, "snapshot-dsn", constants.DefaultSnapshotDir, "Snapshot store connection: base directory (file), address (redis)")
	flag.StringVar(&config.SnapshotDatabase, "snapshot-database", "", "Snapshot store database or bucket name (s3)")
	flag.StringVar(&config.SnapshotUsername, "snapshot-username", "", "Snapshot store username or access key")
	flag.StringVar(&config.SnapshotPassword, "snapshot-password", "", "Snapshot store password, token, or secret key")

	flag.StringVar(&config.AuditBackend, "audit-backend", "", "Audit sink backend (postgres, redis; empty disables auditing)")
	flag.StringVar(&config.AuditDSN, "audit-dsn", "", "Audit sink connection: host (postgres), address (redis)")
	flag.StringVar(&config.AuditDatabase, "audit-database", "dpledger", "Audit sink database name")
	flag.StringVar(&config.AuditUsername, "audit-username", "", "Audit sink username")
	flag.StringVar(&config.AuditPassword, "audit-password", "", "Audit sink password")

	flag.StringVar(&config.UsageBackend, "usage-backend", "", "Usage sink backend (influxdb, postgres; empty disables usage history)")
	flag.StringVar(&config.UsageDSN, "usage-dsn", "", "Usage sink connection: URL (influxdb), host (postgres)")
	flag.StringVar(&config.UsageDatabase, "usage-database", "dpledger", "Usage sink database or bucket name")
	flag.StringVar(&config.UsageUsername, "usage-username", "", "Usage sink username or organization")
	flag.StringVar(&config.UsagePassword, "usage-password", "", "Usage sink password or token")

	flag.StringVar(&config.TLSCert, "tls-cert", "", "Path to TLS certificate")
	flag.StringVar(&config.TLSKey, "tls-key", "", "Path to TLS key")
	flag.BoolVar(&config.Version, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nDifferential Privacy Budget Ledger Server\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if config.Version {
		info := GetBuildInfo()
		fmt.Printf("Version: %s\n", info.Version)
		fmt.Printf("Git Commit: %s\n", info.GitCommit)
		fmt.Printf("Build Date: %s\n", info.BuildDate)
		fmt.Printf("Go Version: %s\n", info.GoVersion)
		fmt.Printf("Platform: %s\n", info.Platform)
		os.Exit(0)
	}

	return config
}

// parseThresholds turns the -thresholds flag into ratio values. An
// empty flag keeps the tracker's defaults.
func parseThresholds(raw string) ([]float64, error) {
	if raw == "" {
		return nil, nil
	}

	parts := strings.Split(raw, ",")
	thresholds := make([]float64, 0, len(parts))
	for _, part := range parts {
		value, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid threshold %q: %w", part, err)
		}
		thresholds = append(thresholds, value)
	}
	return thresholds, nil
}
