package handlers

import (
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/dpledger/internal/composition"
	"github.com/inferloop/dpledger/pkg/models"
)

func newCompositionTestHandler() *CompositionHandler {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewCompositionHandler(nil, logger)
}

func postJSON(t *testing.T, handler http.HandlerFunc, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", target, strings.NewReader(body))
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func TestComposeBasic(t *testing.T) {
	h := newCompositionTestHandler()

	body := `{"events":[{"epsilon":1},{"epsilon":1,"delta":1e-6},{"epsilon":1}]}`
	w := postJSON(t, h.Compose, "/api/v1/compose", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Method string             `json:"method"`
		Count  int                `json:"count"`
		Result composition.Result `json:"result"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "basic", resp.Method)
	assert.Equal(t, 3, resp.Count)
	assert.InDelta(t, 3.0, resp.Result.Epsilon, 1e-12)
	assert.InDelta(t, 1e-6, resp.Result.Delta, 1e-18)
}

func TestComposeAdvanced(t *testing.T) {
	h := newCompositionTestHandler()

	body := `{"method":"advanced","delta_prime":1e-6,"events":[` +
		strings.Repeat(`{"epsilon":0.1},`, 9) + `{"epsilon":0.1}]}`
	w := postJSON(t, h.Compose, "/api/v1/compose", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Result composition.Result `json:"result"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))

	sumSq := 10 * 0.1 * 0.1
	tail := 10 * 0.1 * (math.Exp(0.1) - 1)
	want := math.Sqrt(2*math.Log(1e6)*sumSq) + tail
	assert.InDelta(t, want, resp.Result.Epsilon, 1e-9)
	assert.InDelta(t, 1e-6, resp.Result.Delta, 1e-18)
}

func TestComposeZCDPWithExplicitRhos(t *testing.T) {
	h := newCompositionTestHandler()

	body := `{"method":"zcdp","rhos":[0.25,0.25],"target_delta":1e-6,"events":[]}`
	w := postJSON(t, h.Compose, "/api/v1/compose", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Result composition.Result `json:"result"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))

	want := 0.5 + 2*math.Sqrt(0.5*math.Log(1e6))
	assert.InDelta(t, want, resp.Result.Epsilon, 1e-9)
}

func TestComposeRejectsBadInput(t *testing.T) {
	h := newCompositionTestHandler()

	t.Run("unknown method", func(t *testing.T) {
		w := postJSON(t, h.Compose, "/api/v1/compose", `{"method":"quantum","events":[{"epsilon":1}]}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rdp without order", func(t *testing.T) {
		w := postJSON(t, h.Compose, "/api/v1/compose", `{"method":"rdp","target_delta":1e-6,"events":[{"epsilon":1}]}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		w := postJSON(t, h.Compose, "/api/v1/compose", `{"events":[`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestCompare(t *testing.T) {
	h := newCompositionTestHandler()

	body := `{"events":[` + strings.Repeat(`{"epsilon":0.5},`, 4) + `{"epsilon":0.5}]}`
	w := postJSON(t, h.Compare, "/api/v1/compose/compare", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		DeltaHat float64                       `json:"delta_hat"`
		Paths    map[string]composition.Result `json:"paths"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.InDelta(t, models.DefaultTargetDelta, resp.DeltaHat, 1e-18)
	require.Contains(t, resp.Paths, "strong")
	require.Contains(t, resp.Paths, "advanced")
	assert.Greater(t, resp.Paths["strong"].Epsilon, 0.0)
	assert.Greater(t, resp.Paths["advanced"].Epsilon, 0.0)
}

func TestConvert(t *testing.T) {
	h := newCompositionTestHandler()

	body := `{"model":"zcdp","params":{"rho":0.5},"target_delta":1e-6}`
	w := postJSON(t, h.Convert, "/api/v1/convert", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var report models.GuaranteeReport
	require.NoError(t, json.NewDecoder(w.Body).Decode(&report))
	assert.Equal(t, models.PrivacyModelZCDP, report.Model)
	require.NotNil(t, report.CDPEquivalent)

	want := 0.5 + 2*math.Sqrt(0.5*math.Log(1e6))
	assert.InDelta(t, want, report.CDPEquivalent.Epsilon, 1e-9)
	assert.InDelta(t, 1e-6, report.CDPEquivalent.Delta, 1e-18)

	t.Run("unknown model", func(t *testing.T) {
		w := postJSON(t, h.Convert, "/api/v1/convert", `{"model":"quantum","params":{}}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("invalid rho", func(t *testing.T) {
		w := postJSON(t, h.Convert, "/api/v1/convert", `{"model":"zcdp","params":{"rho":-1}}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAmplify(t *testing.T) {
	h := newCompositionTestHandler()

	t.Run("subsample", func(t *testing.T) {
		body := `{"rule":"subsample","epsilon":1,"delta":1e-5,"rate":0.1}`
		w := postJSON(t, h.Amplify, "/api/v1/amplify", body)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var result composition.Result
		require.NoError(t, json.NewDecoder(w.Body).Decode(&result))
		assert.InDelta(t, math.Log(1+0.1*(math.E-1)), result.Epsilon, 1e-9)
		assert.InDelta(t, 1e-6, result.Delta, 1e-18)
	})

	t.Run("shuffle", func(t *testing.T) {
		body := `{"rule":"shuffle","epsilon":1,"population":10000}`
		w := postJSON(t, h.Amplify, "/api/v1/amplify", body)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var result composition.Result
		require.NoError(t, json.NewDecoder(w.Body).Decode(&result))
		assert.InDelta(t, 0.01, result.Epsilon, 1e-12)
	})

	t.Run("unknown rule", func(t *testing.T) {
		w := postJSON(t, h.Amplify, "/api/v1/amplify", `{"rule":"teleport","epsilon":1}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rate out of range", func(t *testing.T) {
		w := postJSON(t, h.Amplify, "/api/v1/amplify", `{"rule":"subsample","epsilon":1,"rate":0}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestSchedule(t *testing.T) {
	h := newCompositionTestHandler()

	t.Run("uniform", func(t *testing.T) {
		body := `{"strategy":"uniform","total_epsilon":2,"total_delta":1e-5,"keys":["a","b","c","d"]}`
		w := postJSON(t, h.Schedule, "/api/v1/schedule", body)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var resp struct {
			Allocations map[string]models.PrivacyBudget `json:"allocations"`
			Remaining   models.PrivacyBudget            `json:"remaining"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		require.Len(t, resp.Allocations, 4)
		assert.InDelta(t, 0.5, resp.Allocations["a"].Epsilon, 1e-12)
		assert.InDelta(t, 0.0, resp.Remaining.Epsilon, 1e-9)
	})

	t.Run("proportional", func(t *testing.T) {
		body := `{"strategy":"proportional","total_epsilon":4,"weights":{"x":1,"y":3}}`
		w := postJSON(t, h.Schedule, "/api/v1/schedule", body)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var resp struct {
			Allocations map[string]models.PrivacyBudget `json:"allocations"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.InDelta(t, 1.0, resp.Allocations["x"].Epsilon, 1e-12)
		assert.InDelta(t, 3.0, resp.Allocations["y"].Epsilon, 1e-12)
	})

	t.Run("windows with decay", func(t *testing.T) {
		body := `{"strategy":"windows","total_epsilon":7,"windows":3,"decay":0.5}`
		w := postJSON(t, h.Schedule, "/api/v1/schedule", body)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var resp struct {
			Windows   []models.PrivacyBudget `json:"windows"`
			Remaining models.PrivacyBudget   `json:"remaining"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		require.Len(t, resp.Windows, 3)
		// Weights 1, 0.5, 0.25 over total 7 give 4, 2, 1.
		assert.InDelta(t, 4.0, resp.Windows[0].Epsilon, 1e-9)
		assert.InDelta(t, 2.0, resp.Windows[1].Epsilon, 1e-9)
		assert.InDelta(t, 1.0, resp.Windows[2].Epsilon, 1e-9)
		assert.InDelta(t, 0.0, resp.Remaining.Epsilon, 1e-9)
	})

	t.Run("unknown strategy", func(t *testing.T) {
		w := postJSON(t, h.Schedule, "/api/v1/schedule", `{"strategy":"greedy","total_epsilon":1}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("negative total", func(t *testing.T) {
		w := postJSON(t, h.Schedule, "/api/v1/schedule", `{"strategy":"uniform","total_epsilon":-1,"keys":["a"]}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
