package handlers

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/dpledger/internal/api/responses"
	"github.com/inferloop/dpledger/pkg/errors"
	"github.com/inferloop/dpledger/pkg/interfaces"
	"github.com/inferloop/dpledger/pkg/models"
)

// UsageHandler reports historical spend from the usage sink. Unlike the
// per-scope event listing, this reads the time-series backend, so it
// spans restarts and removed scopes.
type UsageHandler struct {
	usage  interfaces.UsageSink
	csv    *responses.CSVResponse
	logger *logrus.Logger
}

// NewUsageHandler creates the usage reporting endpoint. The sink may be
// nil when no usage backend is configured; the endpoint then reports
// service unavailable.
func NewUsageHandler(usage interfaces.UsageSink, logger *logrus.Logger) *UsageHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &UsageHandler{
		usage:  usage,
		csv:    responses.NewCSVResponse(logger),
		logger: logger,
	}
}

// GetUsage handles GET /api/v1/usage. The scope query parameter narrows
// the report to one kind:identifier scope; start and end bound the time
// range. With format=csv the points are streamed as a CSV download.
func (h *UsageHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	if h.usage == nil {
		responses.WriteError(w, r, errors.NewConfigurationError(errors.CodeInvalidConfig,
			"usage sink is not configured"))
		return
	}

	start, end, err := parseTimeRange(r)
	if err != nil {
		responses.WriteError(w, r, err)
		return
	}
	scope := r.URL.Query().Get("scope")

	points, err := h.usage.QueryUsage(r.Context(), scope, start, end)
	if err != nil {
		h.logger.WithError(err).Error("Failed to query usage points")
		responses.WriteError(w, r, err)
		return
	}

	if wantsCSV(r) {
		label := scope
		if label == "" {
			label = "all"
		}
		if err := h.csv.WriteUsage(w, label, points); err != nil {
			h.logger.WithError(err).Error("Failed to stream usage CSV")
		}
		return
	}

	var total models.PrivacyBudget
	for _, point := range points {
		if point == nil {
			continue
		}
		total.Epsilon += point.Epsilon
		total.Delta += point.Delta
	}

	responses.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"scope":  scope,
		"points": points,
		"count":  len(points),
		"total":  total,
	})
}
