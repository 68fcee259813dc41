package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/dpledger/internal/tracking"
	"github.com/inferloop/dpledger/pkg/errors"
	"github.com/inferloop/dpledger/pkg/models"
)

func newScopesTestHandler(t *testing.T) (*ScopesHandler, *tracking.Tracker) {
	t.Helper()
	tracker, err := tracking.NewTracker(nil, nil)
	require.NoError(t, err)
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewScopesHandler(tracker, nil, nil, nil, nil, logger), tracker
}

func scopedRequest(method, target string, body io.Reader, kind, id string) *http.Request {
	req := httptest.NewRequest(method, target, body)
	return mux.SetURLVars(req, map[string]string{"kind": kind, "id": id})
}

func createScopeViaAPI(t *testing.T, h *ScopesHandler, kind, id string, epsilon, delta float64) ScopeStatus {
	t.Helper()
	body := fmt.Sprintf(`{"kind":%q,"identifier":%q,"total_epsilon":%g,"total_delta":%g}`,
		kind, id, epsilon, delta)
	req := httptest.NewRequest("POST", "/api/v1/scopes", strings.NewReader(body))
	w := httptest.NewRecorder()

	h.CreateScope(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var status ScopeStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	return status
}

func decodeErrorResponse(t *testing.T, w *httptest.ResponseRecorder) *errors.AppError {
	t.Helper()
	var envelope errors.ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&envelope))
	require.NotNil(t, envelope.Error)
	return envelope.Error
}

func TestCreateScope(t *testing.T) {
	h, _ := newScopesTestHandler(t)

	status := createScopeViaAPI(t, h, "task", "t1", 10, 1e-5)
	assert.Equal(t, "task", status.Scope.Kind)
	assert.Equal(t, "t1", status.Scope.Identifier)
	require.NotNil(t, status.TotalBudget)
	assert.InDelta(t, 10.0, status.TotalBudget.Epsilon, 1e-12)
	assert.InDelta(t, 1e-5, status.TotalBudget.Delta, 1e-18)
	assert.True(t, status.Spent.IsZero())
	assert.Zero(t, status.EpsilonUtilization)
	assert.Zero(t, status.EventCount)

	t.Run("duplicate rejected", func(t *testing.T) {
		body := `{"kind":"task","identifier":"t1","total_epsilon":5}`
		req := httptest.NewRequest("POST", "/api/v1/scopes", strings.NewReader(body))
		w := httptest.NewRecorder()
		h.CreateScope(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		appErr := decodeErrorResponse(t, w)
		assert.Equal(t, errors.CodeScopeExists, appErr.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/v1/scopes", strings.NewReader("{not json"))
		w := httptest.NewRecorder()
		h.CreateScope(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing kind", func(t *testing.T) {
		body := `{"identifier":"t2","total_epsilon":5}`
		req := httptest.NewRequest("POST", "/api/v1/scopes", strings.NewReader(body))
		w := httptest.NewRecorder()
		h.CreateScope(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestListScopes(t *testing.T) {
	h, _ := newScopesTestHandler(t)

	req := httptest.NewRequest("GET", "/api/v1/scopes", nil)
	w := httptest.NewRecorder()
	h.ListScopes(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var empty struct {
		Scopes []ScopeStatus `json:"scopes"`
		Count  int           `json:"count"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&empty))
	assert.Zero(t, empty.Count)
	assert.Empty(t, empty.Scopes)

	createScopeViaAPI(t, h, "task", "t2", 5, 0)
	createScopeViaAPI(t, h, "task", "t1", 10, 0)

	w = httptest.NewRecorder()
	h.ListScopes(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var listed struct {
		Scopes []ScopeStatus `json:"scopes"`
		Count  int           `json:"count"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&listed))
	require.Equal(t, 2, listed.Count)
	assert.Equal(t, "t1", listed.Scopes[0].Scope.Identifier)
	assert.Equal(t, "t2", listed.Scopes[1].Scope.Identifier)
}

func TestGetScope(t *testing.T) {
	h, _ := newScopesTestHandler(t)
	createScopeViaAPI(t, h, "task", "t1", 10, 0)

	req := scopedRequest("GET", "/api/v1/scopes/task/t1", nil, "task", "t1")
	w := httptest.NewRecorder()
	h.GetScope(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var status ScopeStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.Equal(t, "task:t1", status.Scope.String())

	t.Run("unknown scope", func(t *testing.T) {
		req := scopedRequest("GET", "/api/v1/scopes/task/ghost", nil, "task", "ghost")
		w := httptest.NewRecorder()
		h.GetScope(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
		appErr := decodeErrorResponse(t, w)
		assert.Equal(t, errors.CodeScopeNotFound, appErr.Code)
	})
}

func TestSpend(t *testing.T) {
	h, _ := newScopesTestHandler(t)
	createScopeViaAPI(t, h, "task", "t1", 10, 1e-5)

	body := `{"epsilon":3,"delta":1e-6,"description":"histogram query"}`
	req := scopedRequest("POST", "/api/v1/scopes/task/t1/spend", strings.NewReader(body), "task", "t1")
	w := httptest.NewRecorder()
	h.Spend(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp SpendResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.NotEmpty(t, resp.Event.ID)
	assert.InDelta(t, 3.0, resp.Event.Epsilon, 1e-12)
	assert.Equal(t, "histogram query", resp.Event.Description)
	require.NotNil(t, resp.Status)
	assert.InDelta(t, 3.0, resp.Status.Spent.Epsilon, 1e-12)
	assert.InDelta(t, 0.3, resp.Status.EpsilonUtilization, 1e-12)
	assert.Equal(t, 1, resp.Status.EventCount)
}

func TestSpendWithModelSpecs(t *testing.T) {
	h, _ := newScopesTestHandler(t)
	createScopeViaAPI(t, h, "task", "t1", 10, 1e-5)

	body := `{"specs":[{"model":"zcdp","params":{"rho":0.5}}],"target_delta":1e-6}`
	req := scopedRequest("POST", "/api/v1/scopes/task/t1/spend", strings.NewReader(body), "task", "t1")
	w := httptest.NewRecorder()
	h.Spend(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp SpendResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))

	wantEps := 0.5 + 2*math.Sqrt(0.5*math.Log(1e6))
	assert.InDelta(t, wantEps, resp.Event.Epsilon, 1e-9)
	assert.Equal(t, models.PrivacyModelCDP, resp.Event.Model)
	require.NotNil(t, resp.Event.CDPEquivalent)
	require.Len(t, resp.Event.Reports, 1)
}

func TestSpendDenied(t *testing.T) {
	h, _ := newScopesTestHandler(t)
	createScopeViaAPI(t, h, "task", "t1", 10, 1e-5)

	t.Run("budget exceeded", func(t *testing.T) {
		body := `{"epsilon":11}`
		req := scopedRequest("POST", "/api/v1/scopes/task/t1/spend", strings.NewReader(body), "task", "t1")
		w := httptest.NewRecorder()
		h.Spend(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
		appErr := decodeErrorResponse(t, w)
		assert.Equal(t, errors.CodeBudgetExceeded, appErr.Code)
	})

	t.Run("unknown scope", func(t *testing.T) {
		body := `{"epsilon":1}`
		req := scopedRequest("POST", "/api/v1/scopes/task/ghost/spend", strings.NewReader(body), "task", "ghost")
		w := httptest.NewRecorder()
		h.Spend(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("negative epsilon", func(t *testing.T) {
		body := `{"epsilon":-1}`
		req := scopedRequest("POST", "/api/v1/scopes/task/t1/spend", strings.NewReader(body), "task", "t1")
		w := httptest.NewRecorder()
		h.Spend(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown model spec", func(t *testing.T) {
		body := `{"specs":[{"model":"quantum","params":{"q":1}}]}`
		req := scopedRequest("POST", "/api/v1/scopes/task/t1/spend", strings.NewReader(body), "task", "t1")
		w := httptest.NewRecorder()
		h.Spend(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	// Denied spends leave no trace in the ledger.
	req := scopedRequest("GET", "/api/v1/scopes/task/t1", nil, "task", "t1")
	w := httptest.NewRecorder()
	h.GetScope(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var status ScopeStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.True(t, status.Spent.IsZero())
	assert.Zero(t, status.EventCount)
}

func TestCheckAllocation(t *testing.T) {
	h, _ := newScopesTestHandler(t)
	createScopeViaAPI(t, h, "task", "t1", 10, 0)

	check := func(epsilon float64) (bool, models.PrivacyBudget) {
		body := fmt.Sprintf(`{"epsilon":%g}`, epsilon)
		req := scopedRequest("POST", "/api/v1/scopes/task/t1/check", strings.NewReader(body), "task", "t1")
		w := httptest.NewRecorder()
		h.CheckAllocation(w, req)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var resp struct {
			Allowed   bool                 `json:"allowed"`
			Remaining models.PrivacyBudget `json:"remaining"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		return resp.Allowed, resp.Remaining
	}

	allowed, remaining := check(10)
	assert.True(t, allowed)
	assert.InDelta(t, 10.0, remaining.Epsilon, 1e-12)

	body := `{"epsilon":6}`
	req := scopedRequest("POST", "/api/v1/scopes/task/t1/spend", strings.NewReader(body), "task", "t1")
	w := httptest.NewRecorder()
	h.Spend(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	allowed, remaining = check(5)
	assert.False(t, allowed)
	assert.InDelta(t, 4.0, remaining.Epsilon, 1e-12)

	// A probe must not consume anything.
	allowed, _ = check(4)
	assert.True(t, allowed)
}

func TestResetScope(t *testing.T) {
	h, _ := newScopesTestHandler(t)
	createScopeViaAPI(t, h, "task", "t1", 10, 0)

	body := `{"epsilon":6}`
	req := scopedRequest("POST", "/api/v1/scopes/task/t1/spend", strings.NewReader(body), "task", "t1")
	w := httptest.NewRecorder()
	h.Spend(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	req = scopedRequest("POST", "/api/v1/scopes/task/t1/reset", nil, "task", "t1")
	w = httptest.NewRecorder()
	h.ResetScope(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var status ScopeStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.True(t, status.Spent.IsZero())
	assert.Zero(t, status.EventCount)
	assert.Empty(t, status.TriggeredThresholds)
	require.NotNil(t, status.TotalBudget)
	assert.InDelta(t, 10.0, status.TotalBudget.Epsilon, 1e-12)
}

func TestDeleteScope(t *testing.T) {
	h, tracker := newScopesTestHandler(t)
	createScopeViaAPI(t, h, "task", "t1", 10, 0)

	req := scopedRequest("DELETE", "/api/v1/scopes/task/t1", nil, "task", "t1")
	w := httptest.NewRecorder()
	h.DeleteScope(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, tracker.Scopes())

	w = httptest.NewRecorder()
	h.DeleteScope(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetScopeEvents(t *testing.T) {
	h, _ := newScopesTestHandler(t)
	createScopeViaAPI(t, h, "task", "t1", 10, 0)

	for _, body := range []string{
		`{"epsilon":1,"description":"count query"}`,
		`{"epsilon":2,"description":"mean query"}`,
	} {
		req := scopedRequest("POST", "/api/v1/scopes/task/t1/spend", strings.NewReader(body), "task", "t1")
		w := httptest.NewRecorder()
		h.Spend(w, req)
		require.Equal(t, http.StatusCreated, w.Code)
	}

	req := scopedRequest("GET", "/api/v1/scopes/task/t1/events", nil, "task", "t1")
	w := httptest.NewRecorder()
	h.GetScopeEvents(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Events []models.PrivacyEvent `json:"events"`
		Count  int                   `json:"count"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Equal(t, 2, resp.Count)
	assert.Equal(t, "count query", resp.Events[0].Description)

	t.Run("future start filters everything", func(t *testing.T) {
		start := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)
		req := scopedRequest("GET", "/api/v1/scopes/task/t1/events?start="+start, nil, "task", "t1")
		w := httptest.NewRecorder()
		h.GetScopeEvents(w, req)
		require.Equal(t, http.StatusOK, w.Code)

		var filtered struct {
			Count int `json:"count"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&filtered))
		assert.Zero(t, filtered.Count)
	})

	t.Run("bad time range", func(t *testing.T) {
		req := scopedRequest("GET", "/api/v1/scopes/task/t1/events?start=yesterday", nil, "task", "t1")
		w := httptest.NewRecorder()
		h.GetScopeEvents(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("csv export", func(t *testing.T) {
		req := scopedRequest("GET", "/api/v1/scopes/task/t1/events?format=csv", nil, "task", "t1")
		w := httptest.NewRecorder()
		h.GetScopeEvents(w, req)
		require.Equal(t, http.StatusOK, w.Code)

		assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
		assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment")

		lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
		require.Len(t, lines, 3)
		assert.True(t, strings.HasPrefix(lines[0], "id,timestamp,epsilon"))
	})
}
