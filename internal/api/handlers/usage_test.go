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

	"github.com/inferloop/dpledger/pkg/models"
)

func usagePoint(scope string, epsilon float64, at time.Time) *models.UsagePoint {
	return &models.UsagePoint{
		Scope:     scope,
		Epsilon:   epsilon,
		Delta:     1e-6,
		Model:     models.PrivacyModelCDP,
		Mechanism: "gaussian",
		Timestamp: at,
	}
}

func TestGetUsage(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	sink := newMemorySink()
	h := NewUsageHandler(sink, logger)

	now := time.Now().UTC()
	ctx := context.Background()
	require.NoError(t, sink.WriteUsage(ctx, usagePoint("task:t1", 1, now.Add(-3*time.Hour))))
	require.NoError(t, sink.WriteUsageBatch(ctx, []*models.UsagePoint{
		usagePoint("task:t1", 2, now.Add(-time.Hour)),
		usagePoint("task:t2", 5, now.Add(-time.Hour)),
	}))

	type usageResponse struct {
		Scope  string                `json:"scope"`
		Points []*models.UsagePoint  `json:"points"`
		Count  int                   `json:"count"`
		Total  models.PrivacyBudget  `json:"total"`
	}

	t.Run("all scopes", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.GetUsage(w, httptest.NewRequest("GET", "/api/v1/usage", nil))
		require.Equal(t, http.StatusOK, w.Code)

		var resp usageResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Equal(t, 3, resp.Count)
		assert.InDelta(t, 8, resp.Total.Epsilon, 1e-12)
		assert.InDelta(t, 3e-6, resp.Total.Delta, 1e-15)
	})

	t.Run("single scope", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.GetUsage(w, httptest.NewRequest("GET", "/api/v1/usage?scope=task:t1", nil))
		require.Equal(t, http.StatusOK, w.Code)

		var resp usageResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Equal(t, "task:t1", resp.Scope)
		assert.Equal(t, 2, resp.Count)
		assert.InDelta(t, 3, resp.Total.Epsilon, 1e-12)
	})

	t.Run("time window", func(t *testing.T) {
		start := now.Add(-2 * time.Hour).Format(time.RFC3339)
		w := httptest.NewRecorder()
		h.GetUsage(w, httptest.NewRequest("GET", "/api/v1/usage?scope=task:t1&start="+start, nil))
		require.Equal(t, http.StatusOK, w.Code)

		var resp usageResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		require.Equal(t, 1, resp.Count)
		assert.InDelta(t, 2, resp.Points[0].Epsilon, 1e-12)
	})

	t.Run("inverted range", func(t *testing.T) {
		start := now.Format(time.RFC3339)
		end := now.Add(-time.Hour).Format(time.RFC3339)
		w := httptest.NewRecorder()
		h.GetUsage(w, httptest.NewRequest("GET", "/api/v1/usage?start="+start+"&end="+end, nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("csv export", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.GetUsage(w, httptest.NewRequest("GET", "/api/v1/usage?scope=task:t2&format=csv", nil))
		require.Equal(t, http.StatusOK, w.Code)

		assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
		assert.Contains(t, w.Header().Get("Content-Disposition"), "usage_task_t2")
		lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
		require.Len(t, lines, 2)
		assert.True(t, strings.HasPrefix(lines[0], "scope,timestamp,epsilon"))
		assert.Contains(t, lines[1], "task:t2")
	})
}

func TestGetUsageWithoutSink(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	h := NewUsageHandler(nil, logger)

	w := httptest.NewRecorder()
	h.GetUsage(w, httptest.NewRequest("GET", "/api/v1/usage", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
