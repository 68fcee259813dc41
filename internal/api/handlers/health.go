package handlers

import (
	"net/http"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/dpledger/internal/api/responses"
	"github.com/inferloop/dpledger/internal/observability/health"
	"github.com/inferloop/dpledger/pkg/constants"
)

// HealthHandler serves the liveness, readiness, and version probes.
// Probe responses skip the error envelope so orchestrators get a flat
// status document either way.
type HealthHandler struct {
	monitor     *health.HealthMonitor
	version     string
	environment string
	startTime   time.Time
	logger      *logrus.Logger
}

// NewHealthHandler creates the probe endpoints. A nil monitor means no
// backend checks are configured and the service reports healthy on its
// own account.
func NewHealthHandler(monitor *health.HealthMonitor, version, environment string, logger *logrus.Logger) *HealthHandler {
	if logger == nil {
		logger = logrus.New()
	}
	if version == "" {
		version = constants.AppVersion
	}
	return &HealthHandler{
		monitor:     monitor,
		version:     version,
		environment: environment,
		startTime:   time.Now().UTC(),
		logger:      logger,
	}
}

// HealthResponse is the document served by GET /health.
type HealthResponse struct {
	Status      health.HealthStatus  `json:"status"`
	Version     string               `json:"version"`
	Environment string               `json:"environment,omitempty"`
	Uptime      string               `json:"uptime"`
	Timestamp   time.Time            `json:"timestamp"`
	System      *health.SystemStatus `json:"system,omitempty"`
}

// systemStatus returns the monitor's view, running the checks once when
// the periodic loop has not reported yet.
func (h *HealthHandler) systemStatus(r *http.Request) *health.SystemStatus {
	if h.monitor == nil {
		return nil
	}
	status := h.monitor.GetStatus()
	if status.LastCheck.IsZero() {
		status = h.monitor.RunAllChecks(r.Context())
	}
	return status
}

// GetHealth handles GET /health. The endpoint reports 503 only when a
// critical backend check fails; a degraded system still serves.
func (h *HealthHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:      health.StatusHealthy,
		Version:     h.version,
		Environment: h.environment,
		Uptime:      time.Since(h.startTime).Round(time.Second).String(),
		Timestamp:   time.Now().UTC(),
	}

	code := http.StatusOK
	if status := h.systemStatus(r); status != nil {
		resp.Status = status.OverallStatus
		resp.System = status
		if status.OverallStatus == health.StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
	}
	responses.WriteJSON(w, code, resp)
}

// GetLiveness handles GET /health/live. Serving the request at all is
// the proof of life.
func (h *HealthHandler) GetLiveness(w http.ResponseWriter, r *http.Request) {
	responses.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "alive",
		"uptime":    time.Since(h.startTime).Round(time.Second).String(),
		"timestamp": time.Now().UTC(),
	})
}

// GetReadiness handles GET /health/ready. Readiness follows the
// critical backend checks, so an instance with an unreachable snapshot
// store is pulled out of rotation instead of failing writes.
func (h *HealthHandler) GetReadiness(w http.ResponseWriter, r *http.Request) {
	status := h.systemStatus(r)
	if status == nil || status.OverallStatus != health.StatusUnhealthy {
		responses.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"status":    "ready",
			"timestamp": time.Now().UTC(),
		})
		return
	}

	h.logger.WithField("critical_issues", status.CriticalIssues).Warn("Readiness probe failing")
	responses.WriteJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
		"status":          "not_ready",
		"critical_issues": status.CriticalIssues,
		"timestamp":       time.Now().UTC(),
	})
}

// GetVersion handles GET /version.
func (h *HealthHandler) GetVersion(w http.ResponseWriter, r *http.Request) {
	responses.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"name":        constants.AppName,
		"version":     h.version,
		"environment": h.environment,
		"go_version":  runtime.Version(),
		"os":          runtime.GOOS,
		"arch":        runtime.GOARCH,
		"goroutines":  runtime.NumGoroutine(),
		"started_at":  h.startTime,
	})
}
