package middleware

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	goPortal "github.com/MrEthical07/goPortal"
)

type errorBody struct {
	Code           string              `json:"code"`
	Message        string              `json:"message"`
	NonFieldErrors []string            `json:"non_field_errors,omitempty"`
	FieldErrors    map[string][]string `json:"field_errors,omitempty"`
	ResendAt       *time.Time          `json:"resend_at,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("goPortal: write response: %v", err)
	}
}

// writeError maps engine errors to HTTP answers. Visible service errors keep
// their field and non-field messages for the form.
func writeError(w http.ResponseWriter, err error) {
	var se *goPortal.ServiceError
	switch {
	case errors.Is(err, goPortal.ErrEngineNotReady):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Code: "engine_not_ready", Message: err.Error()})
	case errors.Is(err, goPortal.ErrPhoneVerificationDisabled):
		writeJSON(w, http.StatusNotFound, errorBody{Code: "phone_verification_disabled", Message: err.Error()})
	case errors.Is(err, goPortal.ErrPhoneAlreadyVerified):
		writeJSON(w, http.StatusConflict, errorBody{Code: "already_verified", Message: err.Error()})
	case errors.Is(err, goPortal.ErrSubmissionInFlight):
		writeJSON(w, http.StatusConflict, errorBody{Code: "submission_in_flight", Message: err.Error()})
	case errors.Is(err, goPortal.ErrStaleResponse):
		writeJSON(w, http.StatusConflict, errorBody{Code: "stale_response", Message: err.Error()})
	case errors.Is(err, goPortal.ErrPhoneCodeRateLimited):
		writeJSON(w, http.StatusTooManyRequests, errorBody{Code: "rate_limited", Message: err.Error()})
	case errors.Is(err, goPortal.ErrInvalidPhoneNumber), errors.Is(err, goPortal.ErrInvalidCode):
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "invalid_input", Message: err.Error()})
	case errors.As(err, &se) && errors.Is(err, goPortal.ErrValidationRejected):
		writeJSON(w, http.StatusBadRequest, errorBody{
			Code:           "validation_rejected",
			Message:        se.Message(),
			NonFieldErrors: se.NonFieldErrors,
			FieldErrors:    se.FieldErrors,
		})
	case errors.As(err, &se):
		writeJSON(w, http.StatusBadGateway, errorBody{
			Code:           "service_error",
			Message:        se.Message(),
			NonFieldErrors: se.NonFieldErrors,
		})
	default:
		log.Printf("goPortal: action failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Code: "internal", Message: "internal error"})
	}
}

func writeCooldown(w http.ResponseWriter, err error, status goPortal.PhoneTokenStatus) {
	body := errorBody{Code: "cooldown_active", Message: err.Error()}
	if !status.ResendAt.IsZero() {
		at := status.ResendAt.UTC()
		body.ResendAt = &at
	}
	writeJSON(w, http.StatusTooManyRequests, body)
}
