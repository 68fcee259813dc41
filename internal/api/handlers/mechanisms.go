package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/dpledger/internal/api/responses"
	"github.com/inferloop/dpledger/internal/mechanisms"
	"github.com/inferloop/dpledger/internal/observability/metrics"
	"github.com/inferloop/dpledger/pkg/models"
)

// MechanismsHandler serves the mechanism catalog and calibration
// endpoints.
type MechanismsHandler struct {
	factory *mechanisms.Factory
	metrics *metrics.PrometheusMetrics
	logger  *logrus.Logger
}

// NewMechanismsHandler creates the mechanisms handler. A nil factory is
// replaced by one carrying the built-in mechanisms.
func NewMechanismsHandler(factory *mechanisms.Factory, prometheus *metrics.PrometheusMetrics, logger *logrus.Logger) *MechanismsHandler {
	if logger == nil {
		logger = logrus.New()
	}
	if factory == nil {
		factory = mechanisms.NewFactory(logger)
	}
	return &MechanismsHandler{factory: factory, metrics: prometheus, logger: logger}
}

// MechanismInfo describes one registered mechanism.
type MechanismInfo struct {
	Type        models.MechanismType  `json:"type"`
	Name        string                `json:"name"`
	Description string                `json:"description"`
	Models      []models.PrivacyModel `json:"models"`
}

// ListMechanisms handles GET /mechanisms.
func (h *MechanismsHandler) ListMechanisms(w http.ResponseWriter, r *http.Request) {
	types := h.factory.GetAvailableMechanisms()
	infos := make([]MechanismInfo, 0, len(types))
	for _, mechanismType := range types {
		mechanism, err := h.factory.CreateMechanism(mechanismType)
		if err != nil {
			h.logger.WithError(err).WithField("mechanism", mechanismType).
				Warn("Failed to instantiate registered mechanism")
			continue
		}
		infos = append(infos, MechanismInfo{
			Type:        mechanism.GetType(),
			Name:        mechanism.GetName(),
			Description: mechanism.GetDescription(),
			Models:      mechanism.GetSupportedModels(),
		})
	}

	responses.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"mechanisms": infos,
		"count":      len(infos),
	})
}

// CalibrationResponse pairs the derived noise parameters with the
// guarantee the mechanism would spend under them.
type CalibrationResponse struct {
	Result    *models.CalibrationResult `json:"result"`
	Guarantee *models.GuaranteeReport   `json:"guarantee,omitempty"`
}

// Calibrate handles POST /mechanisms/{type}/calibrate.
func (h *MechanismsHandler) Calibrate(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["type"]
	mechanismType, err := models.ParseMechanismType(name)
	if err != nil {
		h.recordCalibration(name, err)
		responses.WriteError(w, r, err)
		return
	}

	var params models.CalibrationParams
	if err := responses.DecodeJSON(r, &params); err != nil {
		h.recordCalibration(string(mechanismType), err)
		responses.WriteError(w, r, err)
		return
	}

	mechanism, err := h.factory.CreateMechanism(mechanismType)
	if err != nil {
		h.recordCalibration(string(mechanismType), err)
		responses.WriteError(w, r, err)
		return
	}

	result, err := mechanism.Calibrate(params)
	h.recordCalibration(string(mechanismType), err)
	if err != nil {
		responses.WriteError(w, r, err)
		return
	}

	resp := CalibrationResponse{Result: result}
	report, err := result.Guarantee.ToReport(models.ConvertOptions{})
	if err != nil {
		h.logger.WithError(err).WithField("mechanism", mechanismType).
			Warn("Calibrated guarantee could not be rendered as a report")
	} else {
		resp.Guarantee = &report
	}

	responses.WriteJSON(w, http.StatusOK, resp)
}

func (h *MechanismsHandler) recordCalibration(mechanism string, err error) {
	if h.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	h.metrics.RecordCalibration(mechanism, status)
}
