package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/dpledger/internal/observability/alerting"
	"github.com/inferloop/dpledger/pkg/models"
)

func newAlertsTestHandler(audit *memorySink) (*AlertsHandler, *alerting.Dispatcher) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	dispatcher := alerting.NewDispatcher(&alerting.DispatcherConfig{
		Enabled:             true,
		NotificationTimeout: time.Second,
	}, logger)

	var h *AlertsHandler
	if audit != nil {
		h = NewAlertsHandler(dispatcher, audit, logger)
	} else {
		h = NewAlertsHandler(dispatcher, nil, logger)
	}
	return h, dispatcher
}

func budgetAlert(scope string, threshold, ratio float64) *models.BudgetAlert {
	return &models.BudgetAlert{
		Scope:     models.TrackedScope{Kind: "task", Identifier: scope},
		Threshold: threshold,
		Ratio:     ratio,
		Spent:     models.PrivacyBudget{Epsilon: ratio * 10},
		Remaining: models.PrivacyBudget{Epsilon: (1 - ratio) * 10},
		Message:   "threshold crossed",
		Timestamp: time.Now().UTC(),
	}
}

func TestGetActiveAlerts(t *testing.T) {
	h, dispatcher := newAlertsTestHandler(nil)
	dispatcher.Dispatch(context.Background(), budgetAlert("t1", 0.5, 0.6))

	req := httptest.NewRequest("GET", "/api/v1/alerts/active", nil)
	w := httptest.NewRecorder()
	h.GetActive(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Alerts []alerting.Alert `json:"alerts"`
		Count  int              `json:"count"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "task:t1", resp.Alerts[0].Scope)
	assert.Equal(t, alerting.StatusFiring, resp.Alerts[0].Status)
	assert.InDelta(t, 0.6, resp.Alerts[0].Ratio, 1e-12)

	dispatcher.ResolveScope("task:t1")

	w = httptest.NewRecorder()
	h.GetActive(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Zero(t, resp.Count)
}

func TestGetAlertHistory(t *testing.T) {
	h, dispatcher := newAlertsTestHandler(nil)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		dispatcher.Dispatch(ctx, budgetAlert(id, 0.5, 0.7))
		dispatcher.ResolveScope("task:" + id)
	}

	req := httptest.NewRequest("GET", "/api/v1/alerts/history?limit=2", nil)
	w := httptest.NewRecorder()
	h.GetHistory(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Alerts []alerting.Alert `json:"alerts"`
		Count  int              `json:"count"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Equal(t, 2, resp.Count)
	assert.Equal(t, "task:b", resp.Alerts[0].Scope)
	assert.Equal(t, "task:c", resp.Alerts[1].Scope)
	assert.Equal(t, alerting.StatusResolved, resp.Alerts[0].Status)

	t.Run("bad limit", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/v1/alerts/history?limit=-3", nil)
		w := httptest.NewRecorder()
		h.GetHistory(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestQueryStoredAlerts(t *testing.T) {
	sink := newMemorySink()
	h, _ := newAlertsTestHandler(sink)
	ctx := context.Background()

	old := budgetAlert("t1", 0.5, 0.6)
	old.Timestamp = time.Now().UTC().Add(-2 * time.Hour)
	recent := budgetAlert("t1", 0.9, 0.95)
	recent.Timestamp = time.Now().UTC().Add(-time.Minute)
	require.NoError(t, sink.RecordAlert(ctx, old))
	require.NoError(t, sink.RecordAlert(ctx, recent))

	req := httptest.NewRequest("GET", "/api/v1/alerts", nil)
	w := httptest.NewRecorder()
	h.QueryStored(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Alerts []*models.BudgetAlert `json:"alerts"`
		Count  int                   `json:"count"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, 2, resp.Count)

	t.Run("start filter", func(t *testing.T) {
		start := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)
		req := httptest.NewRequest("GET", "/api/v1/alerts?start="+start, nil)
		w := httptest.NewRecorder()
		h.QueryStored(w, req)
		require.Equal(t, http.StatusOK, w.Code)

		var filtered struct {
			Alerts []*models.BudgetAlert `json:"alerts"`
			Count  int                   `json:"count"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&filtered))
		require.Equal(t, 1, filtered.Count)
		assert.InDelta(t, 0.9, filtered.Alerts[0].Threshold, 1e-12)
	})

	t.Run("csv export", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/v1/alerts?format=csv", nil)
		w := httptest.NewRecorder()
		h.QueryStored(w, req)
		require.Equal(t, http.StatusOK, w.Code)

		assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
		lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
		require.Len(t, lines, 3)
		assert.True(t, strings.HasPrefix(lines[0], "scope,timestamp,threshold"))
	})
}

func TestAlertsWithoutBackends(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	h := NewAlertsHandler(nil, nil, logger)

	req := httptest.NewRequest("GET", "/api/v1/alerts/active", nil)
	w := httptest.NewRecorder()
	h.GetActive(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	req = httptest.NewRequest("GET", "/api/v1/alerts", nil)
	w = httptest.NewRecorder()
	h.QueryStored(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
