// Package handlers implements the HTTP handlers of the ledger API.
// Request decoding and error rendering go through the responses
// package so every endpoint reports errors in the same envelope.
package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/inferloop/dpledger/internal/tracking"
	"github.com/inferloop/dpledger/pkg/errors"
	"github.com/inferloop/dpledger/pkg/models"
)

// scopeFromRequest builds the scope addressed by the {kind}/{id} route
// variables.
func scopeFromRequest(r *http.Request) (models.TrackedScope, error) {
	vars := mux.Vars(r)
	return tracking.NewScope(vars["kind"], vars["id"])
}

// parseTimeRange reads the optional start and end query parameters as
// RFC 3339 timestamps. A missing end means now; a missing start means
// the zero time, which storage backends treat as unbounded.
func parseTimeRange(r *http.Request) (time.Time, time.Time, error) {
	params := r.URL.Query()

	var start time.Time
	if raw := params.Get("start"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, errors.NewValidationError(errors.CodeInvalidInput,
				"start must be an RFC 3339 timestamp").WithCause(err)
		}
		start = parsed
	}

	end := time.Now().UTC()
	if raw := params.Get("end"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, errors.NewValidationError(errors.CodeInvalidInput,
				"end must be an RFC 3339 timestamp").WithCause(err)
		}
		end = parsed
	}

	if !start.IsZero() && end.Before(start) {
		return time.Time{}, time.Time{}, errors.NewValidationError(errors.CodeInvalidInput,
			"end must not precede start")
	}
	return start, end, nil
}

// parseLimit reads the optional limit query parameter, clamped to
// [0, max]. Zero means no limit.
func parseLimit(r *http.Request, max int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, errors.NewValidationError(errors.CodeInvalidInput,
			"limit must be a non-negative integer")
	}
	if max > 0 && limit > max {
		limit = max
	}
	return limit, nil
}

// wantsCSV reports whether the caller asked for a CSV export, either
// via the format query parameter or the Accept header.
func wantsCSV(r *http.Request) bool {
	if r.URL.Query().Get("format") == "csv" {
		return true
	}
	return r.Header.Get("Accept") == "text/csv"
}
