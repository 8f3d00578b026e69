// Package httpserver contains HTTP handlers and middleware.
//
// Every response, success or error, uses the same JSON envelope:
// status (the HTTP status), code (a stable machine-readable string),
// detail (human-readable), plus data for successes and details for
// error context.
package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fairyhunter13/pagebroker/internal/domain"
)

type envelope struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Detail  string `json:"detail"`
	Data    any    `json:"data,omitempty"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, status int, code, detail string, data any) {
	if code == "" {
		code = "OK"
	}
	writeJSON(w, status, envelope{Status: status, Code: code, Detail: detail, Data: data})
}

// writeOutcome serializes a lifecycle outcome code verbatim.
func writeOutcome(w http.ResponseWriter, status int, code domain.OutcomeCode, detail string, data any) {
	writeData(w, status, string(code), detail, data)
}

func writeError(w http.ResponseWriter, r *http.Request, err error, details any) {
	status := http.StatusInternalServerError
	code := "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		status = http.StatusBadRequest
		code = "INVALID_ARGUMENT"
	case errors.Is(err, domain.ErrUnauthorized):
		status = http.StatusUnauthorized
		code = "UNAUTHORIZED"
	case errors.Is(err, domain.ErrForbidden):
		status = http.StatusForbidden
		code = "FORBIDDEN"
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
		code = "NOT_FOUND"
	case errors.Is(err, domain.ErrNotProcessing):
		status = http.StatusConflict
		code = "JOB_NOT_IN_PROCESSING"
	case errors.Is(err, domain.ErrUncancellable):
		status = http.StatusConflict
		code = "JOB_UNCANCELLABLE"
	case errors.Is(err, domain.ErrResultMissing):
		status = http.StatusConflict
		code = "JOB_RESULT_MISSING"
	case errors.Is(err, domain.ErrIllegalTransition):
		status = http.StatusConflict
		code = "ILLEGAL_TRANSITION"
	case errors.Is(err, domain.ErrPrecondition):
		status = http.StatusConflict
		code = "PRECONDITION_FAILED"
	case errors.Is(err, domain.ErrConflict):
		status = http.StatusConflict
		code = "CONFLICT"
	case errors.Is(err, domain.ErrResultGone):
		status = http.StatusGone
		code = "RESULT_GONE"
	case errors.Is(err, domain.ErrUnsupportedMedia):
		status = http.StatusUnsupportedMediaType
		code = "UNSUPPORTED_MEDIA"
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusUnprocessableEntity
		code = "VALIDATION_FAILED"
	case errors.Is(err, domain.ErrResultNotReady):
		status = http.StatusTooEarly
		code = "RESULT_NOT_READY"
	case errors.Is(err, domain.ErrRateLimited):
		status = http.StatusTooManyRequests
		code = "RATE_LIMITED"
	}
	detail := err.Error()
	if status == http.StatusInternalServerError {
		// Internal details stay in the log, not on the wire.
		LoggerFrom(r).Error("internal error", "error", err)
		detail = "internal error"
	}
	writeJSON(w, status, envelope{Status: status, Code: code, Detail: detail, Details: details})
}
