package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// LogNotifier writes alerts to the application log
type LogNotifier struct {
	logger      *logrus.Logger
	minSeverity AlertSeverity
}

// NewLogNotifier creates a notifier that logs alerts at or above minSeverity
func NewLogNotifier(logger *logrus.Logger, minSeverity AlertSeverity) *LogNotifier {
	if logger == nil {
		logger = logrus.New()
	}

	return &LogNotifier{
		logger:      logger,
		minSeverity: minSeverity,
	}
}

// Name returns the notifier name
func (n *LogNotifier) Name() string {
	return "log"
}

// Send logs the alert
func (n *LogNotifier) Send(ctx context.Context, alert *Alert) error {
	entry := n.logger.WithFields(logrus.Fields{
		"alert_id":  alert.ID,
		"scope":     alert.Scope,
		"threshold": alert.Threshold,
		"ratio":     alert.Ratio,
		"status":    alert.Status,
	})

	switch alert.Severity {
	case SeverityCritical:
		entry.Error(alert.Message)
	case SeverityWarning:
		entry.Warn(alert.Message)
	default:
		entry.Info(alert.Message)
	}

	return nil
}

// SupportsSeverity reports whether the notifier handles the given severity
func (n *LogNotifier) SupportsSeverity(severity AlertSeverity) bool {
	return severityRank(severity) >= severityRank(n.minSeverity)
}

// WebhookNotifier delivers alerts as JSON to an HTTP endpoint
type WebhookNotifier struct {
	name        string
	url         string
	client      *http.Client
	minSeverity AlertSeverity
}

// NewWebhookNotifier creates a notifier posting alerts to the given URL
func NewWebhookNotifier(name, url string, timeout time.Duration, minSeverity AlertSeverity) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &WebhookNotifier{
		name:        name,
		url:         url,
		client:      &http.Client{Timeout: timeout},
		minSeverity: minSeverity,
	}
}

// Name returns the notifier name
func (n *WebhookNotifier) Name() string {
	return n.name
}

// Send posts the alert to the webhook endpoint
func (n *WebhookNotifier) Send(ctx context.Context, alert *Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	// Drain the body so the connection can be reused
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

// SupportsSeverity reports whether the notifier handles the given severity
func (n *WebhookNotifier) SupportsSeverity(severity AlertSeverity) bool {
	return severityRank(severity) >= severityRank(n.minSeverity)
}

func severityRank(severity AlertSeverity) int {
	switch severity {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}
