package handlers

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/dpledger/internal/api/responses"
	"github.com/inferloop/dpledger/internal/observability/metrics/dashboards"
	"github.com/inferloop/dpledger/pkg/constants"
	"github.com/inferloop/dpledger/pkg/errors"
)

// DashboardsHandler exports ready-to-import Grafana dashboards built
// from the service's own metric names.
type DashboardsHandler struct {
	logger *logrus.Logger
}

// NewDashboardsHandler creates the dashboard export endpoint.
func NewDashboardsHandler(logger *logrus.Logger) *DashboardsHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &DashboardsHandler{logger: logger}
}

// GetDashboard handles GET /api/v1/dashboards/{template} and returns
// the rendered dashboard model as a JSON download.
func (h *DashboardsHandler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	template := mux.Vars(r)["template"]

	dashboard, err := dashboards.CreateDashboardFromTemplate(template)
	if err != nil {
		responses.WriteError(w, r, errors.NewValidationError(errors.CodeInvalidInput,
			fmt.Sprintf("unknown dashboard template %q, want budget or storage", template)).WithCause(err))
		return
	}

	payload, err := dashboard.ToJSON()
	if err != nil {
		h.logger.WithError(err).Error("Failed to render dashboard")
		responses.WriteError(w, r, errors.NewInternalError("failed to render dashboard").WithCause(err))
		return
	}

	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", "dpledger_"+template+"_dashboard.json"))
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}
