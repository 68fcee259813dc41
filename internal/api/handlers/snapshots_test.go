package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/dpledger/internal/storage/implementations/file"
	"github.com/inferloop/dpledger/internal/tracking"
	"github.com/inferloop/dpledger/pkg/errors"
	"github.com/inferloop/dpledger/pkg/models"
)

func newSnapshotsTestEnv(t *testing.T) (*SnapshotsHandler, *tracking.Tracker) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store, err := file.NewFileStorage(&file.FileStorageConfig{BasePath: t.TempDir()}, logger)
	require.NoError(t, err)
	require.NoError(t, store.Connect(context.Background()))
	t.Cleanup(func() { store.Close() })

	tracker, err := tracking.NewTracker(nil, nil)
	require.NoError(t, err)
	return NewSnapshotsHandler(tracker, store, logger), tracker
}

func seedScope(t *testing.T, tracker *tracking.Tracker, kind, id string, epsilon float64) models.TrackedScope {
	t.Helper()
	scope, err := tracker.RegisterScope(kind, id, tracking.ScopeConfig{TotalEpsilon: 10, TotalDelta: 1e-5})
	require.NoError(t, err)
	if epsilon > 0 {
		_, err = tracker.Spend(scope, epsilon, 1e-6)
		require.NoError(t, err)
	}
	return scope
}

func namedRequest(method, target string, body io.Reader, name string) *http.Request {
	req := httptest.NewRequest(method, target, body)
	return mux.SetURLVars(req, map[string]string{"name": name})
}

type savedResponse struct {
	Saved []string `json:"saved"`
	Count int      `json:"count"`
}

func TestCreateSnapshotSingleScope(t *testing.T) {
	h, tracker := newSnapshotsTestEnv(t)
	seedScope(t, tracker, "task", "t1", 3)

	body := strings.NewReader(`{"kind": "task", "identifier": "t1"}`)
	req := httptest.NewRequest("POST", "/api/v1/snapshots", body)
	w := httptest.NewRecorder()
	h.CreateSnapshot(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	var resp savedResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, []string{"task:t1"}, resp.Saved)

	w = httptest.NewRecorder()
	h.GetSnapshot(w, namedRequest("GET", "/api/v1/snapshots/task:t1", nil, "task:t1"))
	require.Equal(t, http.StatusOK, w.Code)

	var snap models.AccountantSnapshot
	require.NoError(t, json.NewDecoder(w.Body).Decode(&snap))
	assert.Equal(t, "task:t1", snap.Name)
	assert.InDelta(t, 3, snap.Spent.Epsilon, 1e-12)
	require.NotNil(t, snap.TotalBudget)
	assert.InDelta(t, 10, snap.TotalBudget.Epsilon, 1e-12)
	assert.Len(t, snap.Events, 1)
}

func TestCreateSnapshotAllScopes(t *testing.T) {
	h, tracker := newSnapshotsTestEnv(t)
	seedScope(t, tracker, "task", "b", 1)
	seedScope(t, tracker, "task", "a", 2)

	req := httptest.NewRequest("POST", "/api/v1/snapshots", nil)
	w := httptest.NewRecorder()
	h.CreateSnapshot(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	var resp savedResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, []string{"task:a", "task:b"}, resp.Saved)

	w = httptest.NewRecorder()
	h.ListSnapshots(w, httptest.NewRequest("GET", "/api/v1/snapshots", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var listed struct {
		Snapshots []*models.SnapshotInfo `json:"snapshots"`
		Count     int                    `json:"count"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&listed))
	assert.Equal(t, 2, listed.Count)
}

func TestCreateSnapshotRejectsBadScopes(t *testing.T) {
	h, tracker := newSnapshotsTestEnv(t)
	seedScope(t, tracker, "task", "t1", 1)

	t.Run("unregistered scope", func(t *testing.T) {
		body := strings.NewReader(`{"kind": "task", "identifier": "ghost"}`)
		w := httptest.NewRecorder()
		h.CreateSnapshot(w, httptest.NewRequest("POST", "/api/v1/snapshots", body))
		require.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, errors.CodeScopeNotFound, decodeErrorResponse(t, w).Code)
	})

	t.Run("kind without identifier", func(t *testing.T) {
		body := strings.NewReader(`{"kind": "task"}`)
		w := httptest.NewRecorder()
		h.CreateSnapshot(w, httptest.NewRequest("POST", "/api/v1/snapshots", body))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestRestoreSnapshot(t *testing.T) {
	h, tracker := newSnapshotsTestEnv(t)
	scope := seedScope(t, tracker, "task", "t1", 3)

	w := httptest.NewRecorder()
	h.CreateSnapshot(w, httptest.NewRequest("POST", "/api/v1/snapshots", nil))
	require.Equal(t, http.StatusCreated, w.Code)

	t.Run("scope still registered", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.RestoreSnapshot(w, namedRequest("POST", "/api/v1/snapshots/task:t1/restore", nil, "task:t1"))
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, errors.CodeScopeExists, decodeErrorResponse(t, w).Code)
	})

	require.NoError(t, tracker.RemoveScope(scope))

	w = httptest.NewRecorder()
	h.RestoreSnapshot(w, namedRequest("POST", "/api/v1/snapshots/task:t1/restore", nil, "task:t1"))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Scope  models.TrackedScope `json:"scope"`
		Status string              `json:"status"`
		Events int                 `json:"events"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, scope, resp.Scope)
	assert.Equal(t, "restored", resp.Status)
	assert.Equal(t, 1, resp.Events)

	spent, err := tracker.Spent(scope)
	require.NoError(t, err)
	assert.InDelta(t, 3, spent.Epsilon, 1e-12)

	remaining, err := tracker.Remaining(scope)
	require.NoError(t, err)
	require.NotNil(t, remaining)
	assert.InDelta(t, 7, remaining.Epsilon, 1e-12)

	t.Run("unknown snapshot", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.RestoreSnapshot(w, namedRequest("POST", "/api/v1/snapshots/task:ghost/restore", nil, "task:ghost"))
		require.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, errors.CodeSnapshotNotFound, decodeErrorResponse(t, w).Code)
	})

	t.Run("name without scope encoding", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.RestoreSnapshot(w, namedRequest("POST", "/api/v1/snapshots/nightly/restore", nil, "nightly"))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestDeleteSnapshot(t *testing.T) {
	h, tracker := newSnapshotsTestEnv(t)
	seedScope(t, tracker, "task", "t1", 1)

	w := httptest.NewRecorder()
	h.CreateSnapshot(w, httptest.NewRequest("POST", "/api/v1/snapshots", nil))
	require.Equal(t, http.StatusCreated, w.Code)

	w = httptest.NewRecorder()
	h.DeleteSnapshot(w, namedRequest("DELETE", "/api/v1/snapshots/task:t1", nil, "task:t1"))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	h.GetSnapshot(w, namedRequest("GET", "/api/v1/snapshots/task:t1", nil, "task:t1"))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	h.DeleteSnapshot(w, namedRequest("DELETE", "/api/v1/snapshots/task:t1", nil, "task:t1"))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSnapshotsWithoutStore(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	tracker, err := tracking.NewTracker(nil, nil)
	require.NoError(t, err)
	h := NewSnapshotsHandler(tracker, nil, logger)

	w := httptest.NewRecorder()
	h.ListSnapshots(w, httptest.NewRequest("GET", "/api/v1/snapshots", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = httptest.NewRecorder()
	h.CreateSnapshot(w, httptest.NewRequest("POST", "/api/v1/snapshots", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
