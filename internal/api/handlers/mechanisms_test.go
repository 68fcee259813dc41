package handlers

import (
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/dpledger/pkg/models"
)

func newMechanismsTestHandler() *MechanismsHandler {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewMechanismsHandler(nil, nil, logger)
}

func calibrateRequest(mechanismType, body string) *http.Request {
	req := httptest.NewRequest("POST", "/api/v1/mechanisms/"+mechanismType+"/calibrate",
		strings.NewReader(body))
	return mux.SetURLVars(req, map[string]string{"type": mechanismType})
}

func TestListMechanisms(t *testing.T) {
	h := newMechanismsTestHandler()

	req := httptest.NewRequest("GET", "/api/v1/mechanisms", nil)
	w := httptest.NewRecorder()
	h.ListMechanisms(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Mechanisms []MechanismInfo `json:"mechanisms"`
		Count      int             `json:"count"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, 15, resp.Count)

	byType := make(map[models.MechanismType]MechanismInfo, len(resp.Mechanisms))
	for _, info := range resp.Mechanisms {
		byType[info.Type] = info
	}
	require.Contains(t, byType, models.MechanismLaplace)
	require.Contains(t, byType, models.MechanismGaussian)
	require.Contains(t, byType, models.MechanismGRR)
	assert.Equal(t, "Laplace Mechanism", byType[models.MechanismLaplace].Name)
	assert.NotEmpty(t, byType[models.MechanismGaussian].Models)
}

func TestCalibrateLaplace(t *testing.T) {
	h := newMechanismsTestHandler()

	req := calibrateRequest("laplace", `{"epsilon":1,"sensitivity":2}`)
	w := httptest.NewRecorder()
	h.Calibrate(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp CalibrationResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.NotNil(t, resp.Result)
	assert.Equal(t, models.MechanismLaplace, resp.Result.Mechanism)
	assert.Equal(t, models.PrivacyModelPureDP, resp.Result.Model)
	assert.InDelta(t, 2.0, resp.Result.NoiseParams["scale"], 1e-12)

	require.NotNil(t, resp.Guarantee)
	require.NotNil(t, resp.Guarantee.CDPEquivalent)
	assert.InDelta(t, 1.0, resp.Guarantee.CDPEquivalent.Epsilon, 1e-12)
	assert.Zero(t, resp.Guarantee.CDPEquivalent.Delta)
}

func TestCalibrateGaussian(t *testing.T) {
	h := newMechanismsTestHandler()

	req := calibrateRequest("gaussian", `{"epsilon":1,"delta":1e-5,"sensitivity":1}`)
	w := httptest.NewRecorder()
	h.Calibrate(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp CalibrationResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.NotNil(t, resp.Result)

	wantSigma := math.Sqrt(2 * math.Log(1.25/1e-5))
	assert.InDelta(t, wantSigma, resp.Result.NoiseParams["sigma"], 1e-9)
	assert.Equal(t, models.PrivacyModelCDP, resp.Result.Model)
}

func TestCalibrateRejectsBadInput(t *testing.T) {
	h := newMechanismsTestHandler()

	t.Run("unknown mechanism", func(t *testing.T) {
		req := calibrateRequest("quantum", `{"epsilon":1}`)
		w := httptest.NewRecorder()
		h.Calibrate(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("zero epsilon", func(t *testing.T) {
		req := calibrateRequest("laplace", `{"epsilon":0}`)
		w := httptest.NewRecorder()
		h.Calibrate(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("gaussian without delta", func(t *testing.T) {
		req := calibrateRequest("gaussian", `{"epsilon":1}`)
		w := httptest.NewRecorder()
		h.Calibrate(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		req := calibrateRequest("laplace", `{"epsilon":`)
		w := httptest.NewRecorder()
		h.Calibrate(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestCalibrateAcceptsAliases(t *testing.T) {
	h := newMechanismsTestHandler()

	req := calibrateRequest("unary", `{"epsilon":1,"domain_size":16}`)
	w := httptest.NewRecorder()
	h.Calibrate(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp CalibrationResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.NotNil(t, resp.Result)
	assert.Equal(t, models.MechanismUnaryRandomizer, resp.Result.Mechanism)
}
