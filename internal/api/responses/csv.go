package responses

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/dpledger/pkg/constants"
	"github.com/inferloop/dpledger/pkg/models"
)

// CSVResponse writes audit exports in CSV format.
type CSVResponse struct {
	logger *logrus.Logger
}

// NewCSVResponse creates a new CSV response writer.
func NewCSVResponse(logger *logrus.Logger) *CSVResponse {
	if logger == nil {
		logger = logrus.New()
	}
	return &CSVResponse{logger: logger}
}

func (r *CSVResponse) setHeaders(w http.ResponseWriter, prefix string) {
	filename := fmt.Sprintf("%s_%s.csv", prefix, time.Now().UTC().Format("20060102_150405"))
	w.Header().Set(constants.HeaderContentType, constants.ContentTypeCSV)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
}

// WriteEvents writes a scope's spend events as CSV rows.
func (r *CSVResponse) WriteEvents(w http.ResponseWriter, scope string, events []*models.PrivacyEvent) error {
	r.setHeaders(w, "events_"+sanitizeFilename(scope))

	writer := csv.NewWriter(w)
	defer writer.Flush()

	headers := []string{"id", "timestamp", "epsilon", "delta", "model", "mechanism", "description"}
	if err := writer.Write(headers); err != nil {
		r.logger.WithError(err).Error("Failed to write CSV headers")
		return err
	}

	for _, event := range events {
		if event == nil {
			continue
		}
		row := []string{
			event.ID,
			event.Timestamp.UTC().Format(time.RFC3339),
			formatFloat(event.Epsilon),
			formatFloat(event.Delta),
			string(event.Model),
			event.Mechanism,
			event.Description,
		}
		if err := writer.Write(row); err != nil {
			r.logger.WithError(err).Error("Failed to write CSV row")
			return err
		}
	}
	return nil
}

// WriteUsage writes budget consumption points as CSV rows.
func (r *CSVResponse) WriteUsage(w http.ResponseWriter, scope string, points []*models.UsagePoint) error {
	r.setHeaders(w, "usage_"+sanitizeFilename(scope))

	writer := csv.NewWriter(w)
	defer writer.Flush()

	headers := []string{"scope", "timestamp", "epsilon", "delta", "model", "mechanism", "user_key"}
	if err := writer.Write(headers); err != nil {
		r.logger.WithError(err).Error("Failed to write CSV headers")
		return err
	}

	for _, point := range points {
		if point == nil {
			continue
		}
		row := []string{
			point.Scope,
			point.Timestamp.UTC().Format(time.RFC3339),
			formatFloat(point.Epsilon),
			formatFloat(point.Delta),
			string(point.Model),
			point.Mechanism,
			point.UserKey,
		}
		if err := writer.Write(row); err != nil {
			r.logger.WithError(err).Error("Failed to write CSV row")
			return err
		}
	}
	return nil
}

// WriteAlerts writes threshold alerts as CSV rows.
func (r *CSVResponse) WriteAlerts(w http.ResponseWriter, alerts []*models.BudgetAlert) error {
	r.setHeaders(w, "alerts")

	writer := csv.NewWriter(w)
	defer writer.Flush()

	headers := []string{"scope", "timestamp", "threshold", "ratio", "spent_epsilon", "spent_delta", "message"}
	if err := writer.Write(headers); err != nil {
		r.logger.WithError(err).Error("Failed to write CSV headers")
		return err
	}

	for _, alert := range alerts {
		if alert == nil {
			continue
		}
		row := []string{
			alert.Scope.String(),
			alert.Timestamp.UTC().Format(time.RFC3339),
			formatFloat(alert.Threshold),
			formatFloat(alert.Ratio),
			formatFloat(alert.Spent.Epsilon),
			formatFloat(alert.Spent.Delta),
			alert.Message,
		}
		if err := writer.Write(row); err != nil {
			r.logger.WithError(err).Error("Failed to write CSV row")
			return err
		}
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// sanitizeFilename keeps filename characters conservative; scopes carry
// a colon separator that some user agents reject in attachments.
func sanitizeFilename(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
