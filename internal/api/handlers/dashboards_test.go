package handlers

import (
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
)

func dashboardRequest(template string) *http.Request {
	req := httptest.NewRequest("GET", "/api/v1/dashboards/"+template, nil)
	return mux.SetURLVars(req, map[string]string{"template": template})
}

func TestGetDashboard(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	h := NewDashboardsHandler(logger)

	for _, template := range []string{"budget", "storage"} {
		t.Run(template, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.GetDashboard(w, dashboardRequest(template))
			require.Equal(t, http.StatusOK, w.Code)
			assert.Contains(t, w.Header().Get("Content-Disposition"), template)

			var dashboard struct {
				Title  string `json:"title"`
				Panels []struct {
					Title string `json:"title"`
				} `json:"panels"`
			}
			require.NoError(t, json.NewDecoder(w.Body).Decode(&dashboard))
			assert.NotEmpty(t, dashboard.Title)
			assert.NotEmpty(t, dashboard.Panels)
		})
	}
}

func TestGetDashboardUnknownTemplate(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	h := NewDashboardsHandler(logger)

	w := httptest.NewRecorder()
	h.GetDashboard(w, dashboardRequest("traffic"))
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "unknown dashboard template"))
}
