package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/dpledger/internal/api/responses"
	"github.com/inferloop/dpledger/internal/composition"
	"github.com/inferloop/dpledger/internal/ledger"
	"github.com/inferloop/dpledger/internal/observability/metrics"
	"github.com/inferloop/dpledger/internal/scheduling"
	"github.com/inferloop/dpledger/pkg/errors"
	"github.com/inferloop/dpledger/pkg/models"
)

// CompositionHandler serves the stateless planning endpoints: composing
// hypothetical event batches, comparing composition paths, converting
// model specs, amplification, and budget scheduling. Nothing here
// touches a ledger.
type CompositionHandler struct {
	metrics *metrics.PrometheusMetrics
	logger  *logrus.Logger
}

// NewCompositionHandler creates the composition handler.
func NewCompositionHandler(prometheus *metrics.PrometheusMetrics, logger *logrus.Logger) *CompositionHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &CompositionHandler{metrics: prometheus, logger: logger}
}

// EventPayload is one hypothetical privacy event in a compose request.
type EventPayload struct {
	Epsilon  float64                `json:"epsilon"`
	Delta    float64                `json:"delta,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

func toEvents(payloads []EventPayload) []models.PrivacyEvent {
	events := make([]models.PrivacyEvent, len(payloads))
	for i, p := range payloads {
		events[i] = models.PrivacyEvent{
			Epsilon:  p.Epsilon,
			Delta:    p.Delta,
			Metadata: p.Metadata,
		}
	}
	return events
}

// ComposeRequest evaluates a batch of events under one accounting
// method. The method-specific knobs mirror the composition dispatch.
type ComposeRequest struct {
	Events      []EventPayload `json:"events"`
	Method      string         `json:"method,omitempty"`
	DeltaPrime  float64        `json:"delta_prime,omitempty"`
	DeltaHat    float64        `json:"delta_hat,omitempty"`
	K           int            `json:"k,omitempty"`
	Order       float64        `json:"order,omitempty"`
	TargetDelta float64        `json:"target_delta,omitempty"`
	RDPEpsilons []float64      `json:"rdp_epsilons,omitempty"`
	Rhos        []float64      `json:"rhos,omitempty"`
	Mus         []float64      `json:"mus,omitempty"`
}

// Compose handles POST /compose.
func (h *CompositionHandler) Compose(w http.ResponseWriter, r *http.Request) {
	var req ComposeRequest
	if err := responses.DecodeJSON(r, &req); err != nil {
		responses.WriteError(w, r, err)
		return
	}

	method := ledger.MethodBasic
	if req.Method != "" {
		parsed, err := ledger.ParseAccountingMethod(req.Method)
		if err != nil {
			responses.WriteError(w, r, err)
			return
		}
		method = parsed
	}

	composer, err := ledger.NewCDPAccountant(ledger.NewUnboundedAccountant("compose-preview"), method)
	if err != nil {
		responses.WriteError(w, r, err)
		return
	}

	start := time.Now()
	result, err := composer.Compose(toEvents(req.Events), ledger.ComposeParams{
		DeltaPrime:  req.DeltaPrime,
		DeltaHat:    req.DeltaHat,
		K:           req.K,
		Order:       req.Order,
		TargetDelta: req.TargetDelta,
		RDPEpsilons: req.RDPEpsilons,
		Rhos:        req.Rhos,
		Mus:         req.Mus,
	})
	h.recordComposition(string(method), err, time.Since(start))
	if err != nil {
		responses.WriteError(w, r, err)
		return
	}

	responses.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"method": string(method),
		"count":  len(req.Events),
		"result": result,
	})
}

// CompareRequest evaluates the strong and advanced bounds side by side.
type CompareRequest struct {
	Events   []EventPayload `json:"events"`
	DeltaHat float64        `json:"delta_hat,omitempty"`
}

// Compare handles POST /compose/compare.
func (h *CompositionHandler) Compare(w http.ResponseWriter, r *http.Request) {
	var req CompareRequest
	if err := responses.DecodeJSON(r, &req); err != nil {
		responses.WriteError(w, r, err)
		return
	}

	deltaHat := req.DeltaHat
	if deltaHat == 0 {
		deltaHat = models.DefaultTargetDelta
	}

	start := time.Now()
	paths, err := composition.CompareCompositionPaths(toEvents(req.Events), deltaHat)
	h.recordComposition("compare", err, time.Since(start))
	if err != nil {
		responses.WriteError(w, r, err)
		return
	}

	responses.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"delta_hat": deltaHat,
		"count":     len(req.Events),
		"paths":     paths,
	})
}

// ConvertRequest renders one model spec as its CDP equivalent.
type ConvertRequest struct {
	Model       string             `json:"model"`
	Params      map[string]float64 `json:"params"`
	TargetDelta float64            `json:"target_delta,omitempty"`
	RDPOrder    float64            `json:"rdp_order,omitempty"`
}

// Convert handles POST /convert.
func (h *CompositionHandler) Convert(w http.ResponseWriter, r *http.Request) {
	var req ConvertRequest
	if err := responses.DecodeJSON(r, &req); err != nil {
		responses.WriteError(w, r, err)
		return
	}

	spec, err := models.ParseModelSpec(req.Model, req.Params)
	if err != nil {
		h.recordConversion(req.Model, err)
		responses.WriteError(w, r, err)
		return
	}

	report, err := models.GuaranteeFromSpec(spec).ToReport(models.ConvertOptions{
		TargetDelta: req.TargetDelta,
		RDPOrder:    req.RDPOrder,
	})
	h.recordConversion(req.Model, err)
	if err != nil {
		responses.WriteError(w, r, err)
		return
	}

	responses.WriteJSON(w, http.StatusOK, report)
}

// AmplifyRequest applies a privacy-amplification rule to one guarantee.
type AmplifyRequest struct {
	Epsilon    float64 `json:"epsilon"`
	Delta      float64 `json:"delta,omitempty"`
	Rule       string  `json:"rule"`
	Rate       float64 `json:"rate,omitempty"`
	Population int     `json:"population,omitempty"`
}

// Amplify handles POST /amplify.
func (h *CompositionHandler) Amplify(w http.ResponseWriter, r *http.Request) {
	var req AmplifyRequest
	if err := responses.DecodeJSON(r, &req); err != nil {
		responses.WriteError(w, r, err)
		return
	}

	var result composition.Result
	var err error
	switch req.Rule {
	case "subsample":
		result, err = composition.Subsample(req.Epsilon, req.Delta, req.Rate)
	case "shuffle":
		result, err = composition.Shuffle(req.Epsilon, req.Delta, req.Population)
	default:
		err = errors.NewValidationError(errors.CodeInvalidInput,
			fmt.Sprintf("unknown amplification rule %q, want subsample or shuffle", req.Rule))
	}
	if err != nil {
		responses.WriteError(w, r, err)
		return
	}

	responses.WriteJSON(w, http.StatusOK, result)
}

// ScheduleRequest splits a total budget across tasks or time windows.
type ScheduleRequest struct {
	TotalEpsilon float64            `json:"total_epsilon"`
	TotalDelta   float64            `json:"total_delta,omitempty"`
	Strategy     string             `json:"strategy"`
	Keys         []string           `json:"keys,omitempty"`
	Weights      map[string]float64 `json:"weights,omitempty"`
	Windows      int                `json:"windows,omitempty"`
	Decay        float64            `json:"decay,omitempty"`
}

// Schedule handles POST /schedule.
func (h *CompositionHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if err := responses.DecodeJSON(r, &req); err != nil {
		responses.WriteError(w, r, err)
		return
	}

	scheduler, err := scheduling.NewScheduler(req.TotalEpsilon, req.TotalDelta)
	if err != nil {
		responses.WriteError(w, r, err)
		return
	}

	payload := map[string]interface{}{
		"strategy": req.Strategy,
		"total":    scheduler.Total(),
	}

	switch req.Strategy {
	case "uniform":
		allocations, err := scheduler.AllocateUniform(req.Keys)
		if err != nil {
			responses.WriteError(w, r, err)
			return
		}
		payload["allocations"] = allocations
		payload["remaining"] = scheduler.RemainingAfterAllocation(allocations)

	case "proportional":
		allocations, err := scheduler.AllocateProportional(req.Weights)
		if err != nil {
			responses.WriteError(w, r, err)
			return
		}
		payload["allocations"] = allocations
		payload["remaining"] = scheduler.RemainingAfterAllocation(allocations)

	case "windows":
		decay := req.Decay
		if decay == 0 {
			decay = 1
		}
		series, err := scheduler.AllocateWindows(req.Windows, decay)
		if err != nil {
			responses.WriteError(w, r, err)
			return
		}
		payload["windows"] = series
		payload["remaining"] = scheduler.RemainingAfterSeries(series)

	default:
		responses.WriteError(w, r, errors.NewValidationError(errors.CodeInvalidInput,
			fmt.Sprintf("unknown scheduling strategy %q, want uniform, proportional, or windows", req.Strategy)))
		return
	}

	responses.WriteJSON(w, http.StatusOK, payload)
}

func (h *CompositionHandler) recordComposition(method string, err error, duration time.Duration) {
	if h.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	h.metrics.RecordComposition(method, status, duration)
}

func (h *CompositionHandler) recordConversion(model string, err error) {
	if h.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	h.metrics.RecordConversion(model, status)
}
