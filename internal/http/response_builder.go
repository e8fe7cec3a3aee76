package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"ricorrenti/internal/core"
	"ricorrenti/internal/log"
)

type errorBody struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code"`
	Attempt *core.ExecutionAttempt `json:"attempt,omitempty"`
}

// errorClass maps a domain error to its HTTP status and a stable code.
type errorClass struct {
	target error
	status int
	code   string
}

var errorClasses = []errorClass{
	{core.ErrNotFound, http.StatusNotFound, "not_found"},
	{core.ErrInvalidFrequency, http.StatusUnprocessableEntity, "invalid_frequency"},
	{core.ErrMissingAnchor, http.StatusUnprocessableEntity, "missing_anchor"},
	{core.ErrInvalidAnchor, http.StatusUnprocessableEntity, "invalid_anchor"},
	{core.ErrInvalidDateRange, http.StatusUnprocessableEntity, "invalid_date_range"},
	{core.ErrInvalidAmount, http.StatusUnprocessableEntity, "invalid_amount"},
	{core.ErrInvalidType, http.StatusUnprocessableEntity, "invalid_type"},
	{core.ErrEmptyAccount, http.StatusUnprocessableEntity, "empty_account"},
	{core.ErrEmptyDescription, http.StatusUnprocessableEntity, "empty_description"},
	{core.ErrInvalidHorizon, http.StatusUnprocessableEntity, "invalid_horizon"},
	{core.ErrAccountNotFound, http.StatusUnprocessableEntity, "account_not_found"},
	{core.ErrScheduleNotActive, http.StatusConflict, "schedule_not_active"},
	{core.ErrScheduleClosed, http.StatusConflict, "schedule_closed"},
	{core.ErrInvalidStatusTransition, http.StatusConflict, "invalid_status_transition"},
	{core.ErrConflict, http.StatusConflict, "conflict"},
	{core.ErrInsufficientFunds, http.StatusPaymentRequired, "insufficient_funds"},
	{core.ErrGatewayTimeout, http.StatusGatewayTimeout, "gateway_timeout"},
	{core.ErrGateway, http.StatusBadGateway, "gateway_error"},
}

// classifyError returns the HTTP status and code for err. Unknown errors are 500.
func classifyError(err error) (int, string) {
	var bad badRequestError
	if errors.As(err, &bad) {
		return http.StatusBadRequest, "bad_request"
	}
	for _, c := range errorClasses {
		if errors.Is(err, c.target) {
			return c.status, c.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// writeError writes err as a JSON error body. Internal errors are logged
// and their message withheld from the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeAttemptError(w, r, err, nil)
}

func writeAttemptError(w http.ResponseWriter, r *http.Request, err error, attempt *core.ExecutionAttempt) {
	status, code := classifyError(err)
	body := errorBody{Error: err.Error(), Code: code, Attempt: attempt}

	logger := log.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "Request failed",
			log.FieldMethod, r.Method,
			log.FieldPath, r.URL.Path,
			log.FieldStatusCode, status,
			log.FieldError, err)
		if status == http.StatusInternalServerError {
			body.Error = "internal server error"
		}
	} else {
		logger.DebugContext(r.Context(), "Request rejected",
			log.FieldPath, r.URL.Path,
			log.FieldStatusCode, status,
			log.FieldError, err)
	}
	writeJSON(w, status, body)
}
