package server

import (
	"fmt"
	"time"

	"github.com/inferloop/dpledger/pkg/constants"
)

// Config contains server configuration
type Config struct {
	Host            string        `json:"host" yaml:"host"`
	Port            int           `json:"port" yaml:"port"`
	MetricsPort     int           `json:"metrics_port" yaml:"metrics_port"`
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
	EnableMetrics   bool          `json:"enable_metrics" yaml:"enable_metrics"`
	EnableProfiling bool          `json:"enable_profiling" yaml:"enable_profiling"`
	EnableCORS      bool          `json:"enable_cors" yaml:"enable_cors"`
	MaxRequestSize  int64         `json:"max_request_size" yaml:"max_request_size"`
	RateLimit       int           `json:"rate_limit" yaml:"rate_limit"`
	TLSCertFile     string        `json:"tls_cert_file,omitempty" yaml:"tls_cert_file,omitempty"`
	TLSKeyFile      string        `json:"tls_key_file,omitempty" yaml:"tls_key_file,omitempty"`
}

// DefaultConfig returns the default server configuration. Rate limiting
// is per client IP per minute; zero disables it.
func DefaultConfig() *Config {
	return &Config{
		Host:            constants.DefaultHost,
		Port:            constants.DefaultPort,
		MetricsPort:     constants.DefaultMetricsPort,
		ReadTimeout:     constants.DefaultReadTimeout,
		WriteTimeout:    constants.DefaultWriteTimeout,
		IdleTimeout:     constants.DefaultIdleTimeout,
		ShutdownTimeout: constants.DefaultShutdownTimeout,
		EnableMetrics:   true,
		EnableProfiling: false,
		EnableCORS:      true,
		MaxRequestSize:  constants.DefaultMaxRequestSize,
		RateLimit:       constants.DefaultRateLimit,
	}
}

// Validate validates the server configuration
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.EnableMetrics {
		if c.MetricsPort < 1 || c.MetricsPort > 65535 {
			return fmt.Errorf("invalid metrics port: %d", c.MetricsPort)
		}
		if c.MetricsPort == c.Port {
			return fmt.Errorf("metrics port must differ from the API port")
		}
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive")
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	if c.MaxRequestSize <= 0 {
		return fmt.Errorf("max request size must be positive")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return fmt.Errorf("TLS requires both a certificate and a key file")
	}
	return nil
}

// Address returns the API listen address
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MetricsAddress returns the metrics listen address
func (c *Config) MetricsAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.MetricsPort)
}
