package handlers

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/dpledger/internal/api/responses"
	"github.com/inferloop/dpledger/internal/ledger"
	"github.com/inferloop/dpledger/internal/observability/alerting"
	"github.com/inferloop/dpledger/internal/observability/metrics"
	"github.com/inferloop/dpledger/internal/tracking"
	"github.com/inferloop/dpledger/pkg/errors"
	"github.com/inferloop/dpledger/pkg/interfaces"
	"github.com/inferloop/dpledger/pkg/models"
)

// ScopesHandler serves the scope lifecycle and spend endpoints. The
// audit sink, usage sink, metrics, and alert dispatcher are optional;
// a nil dependency simply skips that side effect.
type ScopesHandler struct {
	tracker    *tracking.Tracker
	audit      interfaces.AuditSink
	usage      interfaces.UsageSink
	metrics    *metrics.PrometheusMetrics
	dispatcher *alerting.Dispatcher
	csv        *responses.CSVResponse
	logger     *logrus.Logger
}

// NewScopesHandler creates the scopes handler.
func NewScopesHandler(
	tracker *tracking.Tracker,
	audit interfaces.AuditSink,
	usage interfaces.UsageSink,
	prometheus *metrics.PrometheusMetrics,
	dispatcher *alerting.Dispatcher,
	logger *logrus.Logger,
) *ScopesHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &ScopesHandler{
		tracker:    tracker,
		audit:      audit,
		usage:      usage,
		metrics:    prometheus,
		dispatcher: dispatcher,
		csv:        responses.NewCSVResponse(logger),
		logger:     logger,
	}
}

// ScopeStatus is the API view of one tracked scope.
type ScopeStatus struct {
	Scope               models.TrackedScope   `json:"scope"`
	TotalBudget         *models.PrivacyBudget `json:"total_budget,omitempty"`
	Spent               models.PrivacyBudget  `json:"spent"`
	Remaining           *models.PrivacyBudget `json:"remaining,omitempty"`
	EpsilonUtilization  float64               `json:"epsilon_utilization"`
	DeltaUtilization    float64               `json:"delta_utilization"`
	EventCount          int                   `json:"event_count"`
	TriggeredThresholds []float64             `json:"triggered_thresholds"`
}

func (h *ScopesHandler) scopeStatus(scope models.TrackedScope) (*ScopeStatus, error) {
	accountant, err := h.tracker.Accountant(scope)
	if err != nil {
		return nil, err
	}
	triggered, err := h.tracker.TriggeredThresholds(scope)
	if err != nil {
		return nil, err
	}

	status := &ScopeStatus{
		Scope:               scope,
		TotalBudget:         accountant.TotalBudget(),
		Spent:               accountant.Spent(),
		Remaining:           accountant.Remaining(),
		EventCount:          accountant.EventCount(),
		TriggeredThresholds: triggered,
	}
	if status.TotalBudget != nil {
		if status.TotalBudget.Epsilon > 0 {
			status.EpsilonUtilization = status.Spent.Epsilon / status.TotalBudget.Epsilon
		}
		if status.TotalBudget.Delta > 0 {
			status.DeltaUtilization = status.Spent.Delta / status.TotalBudget.Delta
		}
	}
	return status, nil
}

func (h *ScopesHandler) publishUtilization(status *ScopeStatus) {
	if h.metrics == nil {
		return
	}
	h.metrics.SetBudgetUtilization(status.Scope.String(),
		status.EpsilonUtilization, status.DeltaUtilization)
}

// CreateScopeRequest registers one scope and its total budget.
type CreateScopeRequest struct {
	Kind         string  `json:"kind"`
	Identifier   string  `json:"identifier"`
	TotalEpsilon float64 `json:"total_epsilon"`
	TotalDelta   float64 `json:"total_delta"`
	Slack        float64 `json:"slack,omitempty"`
}

// CreateScope handles POST /scopes.
func (h *ScopesHandler) CreateScope(w http.ResponseWriter, r *http.Request) {
	var req CreateScopeRequest
	if err := responses.DecodeJSON(r, &req); err != nil {
		responses.WriteError(w, r, err)
		return
	}

	scope, err := h.tracker.RegisterScope(req.Kind, req.Identifier, tracking.ScopeConfig{
		TotalEpsilon: req.TotalEpsilon,
		TotalDelta:   req.TotalDelta,
		Slack:        req.Slack,
	})
	if err != nil {
		responses.WriteError(w, r, err)
		return
	}

	status, err := h.scopeStatus(scope)
	if err != nil {
		responses.WriteError(w, r, err)
		return
	}

	if h.metrics != nil {
		h.metrics.SetScopesTracked(len(h.tracker.Scopes()))
	}
	h.publishUtilization(status)

	h.logger.WithFields(logrus.Fields{
		"scope":         scope.String(),
		"total_epsilon": req.TotalEpsilon,
		"total_delta":   req.TotalDelta,
	}).Info("Scope registered")

	responses.WriteJSON(w, http.StatusCreated, status)
}

// ListScopes handles GET /scopes.
func (h *ScopesHandler) ListScopes(w http.ResponseWriter, r *http.Request) {
	scopes := h.tracker.Scopes()
	statuses := make([]*ScopeStatus, 0, len(scopes))
	for _, scope := range scopes {
		status, err := h.scopeStatus(scope)
		if err != nil {
			// Scope removed between listing and lookup; skip it.
			continue
		}
		statuses = append(statuses, status)
	}

	responses.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"scopes": statuses,
		"count":  len(statuses),
	})
}

// GetScope handles GET /scopes/{kind}/{id}.
func (h *ScopesHandler) GetScope(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromRequest(r)
	if err != nil {
		responses.WriteError(w, r, err)
		return
	}
	status, err := h.scopeStatus(scope)
	if err != nil {
		responses.WriteError(w, r, err)
		return
	}
	responses.WriteJSON(w, http.StatusOK, status)
}

// DeleteScope handles DELETE /scopes/{kind}/{id}.
func (h *ScopesHandler) DeleteScope(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromRequest(r)
	if err != nil {
		responses.WriteError(w, r, err)
		return
	}
	if err := h.tracker.RemoveScope(scope); err != nil {
		responses.WriteError(w, r, err)
		return
	}

	if h.dispatcher != nil {
		h.dispatcher.ResolveScope(scope.String())
	}
	if h.metrics != nil {
		h.metrics.SetScopesTracked(len(h.tracker.Scopes()))
	}

	h.logger.WithField("scope", scope.String()).Info("Scope removed")
	responses.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"scope":  scope,
		"status": "deleted",
	})
}

// ResetScope handles POST /scopes/{kind}/{id}/reset.
func (h *ScopesHandler) ResetScope(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromRequest(r)
	if err != nil {
		responses.WriteError(w, r, err)
		return
	}
	if err := h.tracker.ResetScope(scope); err != nil {
		responses.WriteError(w, r, err)
		return
	}

	if h.dispatcher != nil {
		h.dispatcher.ResolveScope(scope.String())
	}

	status, err := h.scopeStatus(scope)
	if err != nil {
		responses.WriteError(w, r, err)
		return
	}
	h.publishUtilization(status)

	h.logger.WithField("scope", scope.String()).Info("Scope reset")
	responses.WriteJSON(w, http.StatusOK, status)
}

// SpecPayload is one privacy-model declaration inside a spend request.
type SpecPayload struct {
	Model  string             `json:"model"`
	Params map[string]float64 `json:"params"`
}

// SpendRequest charges one release against a scope. Either a bare
// (epsilon, delta) pair or one or more model specs must be supplied;
// specs take precedence and are normalized to their CDP equivalent.
type SpendRequest struct {
	Epsilon     float64                `json:"epsilon,omitempty"`
	Delta       float64                `json:"delta,omitempty"`
	Description string                 `json:"description,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Model       string                 `json:"model,omitempty"`
	Mechanism   string                 `json:"mechanism,omitempty"`
	Parameters  map[string]float64     `json:"parameters,omitempty"`
	Specs       []SpecPayload          `json:"specs,omitempty"`
	TargetDelta float64                `json:"target_delta,omitempty"`
	RDPOrder    float64                `json:"rdp_order,omitempty"`
	UserKey     string                 `json:"user_key,omitempty"`
}

func (req *SpendRequest) toEventRequest() (ledger.EventRequest, error) {
	out := ledger.EventRequest{
		Epsilon:     req.Epsilon,
		Delta:       req.Delta,
		Description: req.Description,
		Metadata:    req.Metadata,
		Mechanism:   req.Mechanism,
		Parameters:  req.Parameters,
		TargetDelta: req.TargetDelta,
		RDPOrder:    req.RDPOrder,
	}
	if req.Model != "" {
		model, err := models.ParsePrivacyModel(req.Model)
		if err != nil {
			return ledger.EventRequest{}, err
		}
		out.Model = model
	}
	for _, payload := range req.Specs {
		spec, err := models.ParseModelSpec(payload.Model, payload.Params)
		if err != nil {
			return ledger.EventRequest{}, err
		}
		out.Specs = append(out.Specs, spec)
	}
	return out, nil
}

// SpendResponse returns the recorded event and the scope's state after
// the charge.
type SpendResponse struct {
	Event  models.PrivacyEvent `json:"event"`
	Status *ScopeStatus        `json:"status"`
}

// Spend handles POST /scopes/{kind}/{id}/spend.
func (h *ScopesHandler) Spend(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromRequest(r)
	if err != nil {
		responses.WriteError(w, r, err)
		return
	}

	var req SpendRequest
	if err := responses.DecodeJSON(r, &req); err != nil {
		h.recordDenied(scope, req.Model, "validation")
		responses.WriteError(w, r, err)
		return
	}

	eventReq, err := req.toEventRequest()
	if err != nil {
		h.recordDenied(scope, req.Model, "validation")
		responses.WriteError(w, r, err)
		return
	}

	event, err := h.tracker.SpendEvent(scope, eventReq)
	if err != nil {
		reason := "validation"
		if errors.IsBudgetExceeded(err) {
			reason = "insufficient_budget"
		}
		h.recordDenied(scope, req.Model, reason)
		responses.WriteError(w, r, err)
		return
	}

	status, statusErr := h.scopeStatus(scope)
	if statusErr != nil {
		responses.WriteError(w, r, statusErr)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordSpend(scope.String(), modelLabel(string(event.Model)), event.Epsilon, event.Delta)
	}
	h.publishUtilization(status)
	h.recordSideEffects(r, scope, event, req.UserKey)

	responses.WriteJSON(w, http.StatusCreated, SpendResponse{Event: event, Status: status})
}

// recordSideEffects appends the event to the audit trail and the usage
// sink. Failures are logged, not surfaced; the spend itself already
// succeeded against the in-memory ledger.
func (h *ScopesHandler) recordSideEffects(r *http.Request, scope models.TrackedScope, event models.PrivacyEvent, userKey string) {
	ctx := r.Context()

	if h.audit != nil {
		if err := h.audit.RecordEvent(ctx, scope.String(), &event); err != nil {
			h.logger.WithError(err).WithField("scope", scope.String()).
				Warn("Failed to record event in audit trail")
		}
	}

	if h.usage != nil {
		point := &models.UsagePoint{
			Scope:     scope.String(),
			Epsilon:   event.Epsilon,
			Delta:     event.Delta,
			Model:     event.Model,
			Mechanism: event.Mechanism,
			UserKey:   userKey,
			Timestamp: event.Timestamp,
		}
		if err := h.usage.WriteUsage(ctx, point); err != nil {
			h.logger.WithError(err).WithField("scope", scope.String()).
				Warn("Failed to record usage point")
		}
	}
}

func (h *ScopesHandler) recordDenied(scope models.TrackedScope, model, reason string) {
	if h.metrics == nil {
		return
	}
	h.metrics.RecordSpendDenied(scope.String(), modelLabel(model), reason)
}

// modelLabel keeps metric labels consistent for bare (epsilon, delta)
// spends, which carry no explicit model.
func modelLabel(model string) string {
	if model == "" {
		return string(models.PrivacyModelCDP)
	}
	return model
}

// CheckRequest asks whether a charge would fit without recording it.
type CheckRequest struct {
	Epsilon float64 `json:"epsilon"`
	Delta   float64 `json:"delta,omitempty"`
}

// CheckAllocation handles POST /scopes/{kind}/{id}/check.
func (h *ScopesHandler) CheckAllocation(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromRequest(r)
	if err != nil {
		responses.WriteError(w, r, err)
		return
	}

	var req CheckRequest
	if err := responses.DecodeJSON(r, &req); err != nil {
		responses.WriteError(w, r, err)
		return
	}

	allowed, err := h.tracker.CanAllocate(scope, req.Epsilon, req.Delta)
	if err != nil {
		responses.WriteError(w, r, err)
		return
	}
	remaining, err := h.tracker.Remaining(scope)
	if err != nil {
		responses.WriteError(w, r, err)
		return
	}

	responses.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"scope":     scope,
		"allowed":   allowed,
		"epsilon":   req.Epsilon,
		"delta":     req.Delta,
		"remaining": remaining,
	})
}

// GetScopeEvents handles GET /scopes/{kind}/{id}/events. The in-memory
// ledger is the source; start and end, when present, filter by event
// timestamp. With format=csv the events are exported as an attachment.
func (h *ScopesHandler) GetScopeEvents(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromRequest(r)
	if err != nil {
		responses.WriteError(w, r, err)
		return
	}
	accountant, err := h.tracker.Accountant(scope)
	if err != nil {
		responses.WriteError(w, r, err)
		return
	}
	start, end, err := parseTimeRange(r)
	if err != nil {
		responses.WriteError(w, r, err)
		return
	}

	all := accountant.Events()
	filtered := make([]*models.PrivacyEvent, 0, len(all))
	for i := range all {
		ts := all[i].Timestamp
		if !start.IsZero() && ts.Before(start) {
			continue
		}
		if ts.After(end) {
			continue
		}
		filtered = append(filtered, &all[i])
	}

	if wantsCSV(r) {
		if err := h.csv.WriteEvents(w, scope.String(), filtered); err != nil {
			h.logger.WithError(err).Error("Failed to stream CSV events")
		}
		return
	}

	responses.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"scope":  scope,
		"events": filtered,
		"count":  len(filtered),
	})
}
