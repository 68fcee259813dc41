// Package responses renders ledger API payloads. JSON is the default
// wire format; audit and usage queries can also be exported as CSV.
package responses

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/inferloop/dpledger/pkg/constants"
	"github.com/inferloop/dpledger/pkg/errors"
)

// WriteJSON writes v as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

// WriteError writes err as a structured error response. Application
// errors carry their own HTTP status; anything else is reported as an
// internal error without leaking its message to the client.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := errors.AsAppError(err)
	if !ok {
		appErr = errors.NewInternalError("internal server error").WithCause(err)
	}

	status := appErr.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}

	response := errors.ErrorResponse{
		Error:     appErr,
		RequestID: RequestID(r),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Path:      r.URL.Path,
	}
	WriteJSON(w, status, response)
}

// RequestID returns the request ID the middleware attached to the
// request context, or an empty string.
func RequestID(r *http.Request) string {
	if id, ok := r.Context().Value("request_id").(string); ok {
		return id
	}
	return ""
}

// DecodeJSON decodes the request body into v, rejecting payloads with
// fields the target does not know about.
func DecodeJSON(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return errors.NewValidationError(errors.CodeInvalidInput,
			"request body is not valid JSON").WithCause(err)
	}
	return nil
}
