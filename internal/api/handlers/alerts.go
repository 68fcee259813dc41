package handlers

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/dpledger/internal/api/responses"
	"github.com/inferloop/dpledger/internal/observability/alerting"
	"github.com/inferloop/dpledger/pkg/constants"
	"github.com/inferloop/dpledger/pkg/errors"
	"github.com/inferloop/dpledger/pkg/interfaces"
)

// AlertsHandler exposes the dispatcher's live alert state and the
// persisted alert trail.
type AlertsHandler struct {
	dispatcher *alerting.Dispatcher
	audit      interfaces.AuditSink
	csv        *responses.CSVResponse
	logger     *logrus.Logger
}

// NewAlertsHandler creates the alerts handler.
func NewAlertsHandler(dispatcher *alerting.Dispatcher, audit interfaces.AuditSink, logger *logrus.Logger) *AlertsHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &AlertsHandler{
		dispatcher: dispatcher,
		audit:      audit,
		csv:        responses.NewCSVResponse(logger),
		logger:     logger,
	}
}

// GetActive handles GET /alerts/active.
func (h *AlertsHandler) GetActive(w http.ResponseWriter, r *http.Request) {
	if h.dispatcher == nil {
		responses.WriteError(w, r, errors.NewConfigurationError(errors.CodeInvalidConfig,
			"alert dispatcher is not configured"))
		return
	}

	alerts := h.dispatcher.ActiveAlerts()
	responses.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// GetHistory handles GET /alerts/history. The limit query parameter
// caps how many resolved alerts come back, newest last.
func (h *AlertsHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	if h.dispatcher == nil {
		responses.WriteError(w, r, errors.NewConfigurationError(errors.CodeInvalidConfig,
			"alert dispatcher is not configured"))
		return
	}

	limit, err := parseLimit(r, constants.MaxPageSize)
	if err != nil {
		responses.WriteError(w, r, err)
		return
	}

	history := h.dispatcher.History(limit)
	responses.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": history,
		"count":  len(history),
	})
}

// QueryStored handles GET /alerts. Unlike the dispatcher views this
// reads the persisted audit trail, so it spans restarts; start and end
// bound the query and format=csv exports the rows.
func (h *AlertsHandler) QueryStored(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		responses.WriteError(w, r, errors.NewConfigurationError(errors.CodeInvalidConfig,
			"audit trail is not configured"))
		return
	}

	start, end, err := parseTimeRange(r)
	if err != nil {
		responses.WriteError(w, r, err)
		return
	}

	alerts, err := h.audit.QueryAlerts(r.Context(), start, end)
	if err != nil {
		responses.WriteError(w, r, err)
		return
	}

	if wantsCSV(r) {
		if err := h.csv.WriteAlerts(w, alerts); err != nil {
			h.logger.WithError(err).Error("Failed to stream CSV alerts")
		}
		return
	}

	responses.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"count":  len(alerts),
	})
}
