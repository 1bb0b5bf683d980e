package goPortal

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"sort"
	"strconv"
	"time"
)

// Service error kinds. A *ServiceError matches exactly one of them.
var (
	ErrNetworkFailure      = errors.New("network failure")
	ErrValidationRejected  = errors.New("validation rejected")
	ErrNotFound            = errors.New("not found")
	ErrInvalidOrganization = errors.New("invalid organization")
	// ErrTokenInvalid reports a session token rejected by the validator.
	ErrTokenInvalid = errors.New("session token invalid")
)

var (
	// ErrEngineNotReady is returned by methods of a nil or unbuilt Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrCooldownActive rejects a resend before IssuedAt+Cooldown.
	ErrCooldownActive = errors.New("verification token cooldown active")
	// ErrStaleResponse marks a result discarded because the session navigated away.
	ErrStaleResponse = errors.New("response discarded after navigation")
	// ErrSubmissionInFlight rejects a code submission or phone change while a
	// different one for the same session is still outstanding.
	ErrSubmissionInFlight        = errors.New("another submission is in flight for this session")
	ErrPhoneVerificationDisabled = errors.New("mobile phone verification disabled")
	ErrPhoneAlreadyVerified      = errors.New("mobile phone already verified")
	ErrPhoneCodeRateLimited      = errors.New("verification code submissions rate limited")
	ErrPhoneMarkerUnavailable    = errors.New("verification marker backend unavailable")
	ErrInvalidCode               = errors.New("invalid verification code")
	ErrInvalidPhoneNumber        = errors.New("invalid phone number")
	ErrPaymentUnavailable        = errors.New("payment status unavailable")
	// ErrPaymentOriginRejected is reported to the audit sink only; the event
	// itself is ignored.
	ErrPaymentOriginRejected = errors.New("payment event origin rejected")
)

// Response code sent by the token service when the organization slug is unknown.
const responseCodeInvalidOrganization = "INVALID_ORGANIZATION"

// ServiceError is a failure reported by the token or payment service.
//
// Kind is one of ErrNetworkFailure, ErrValidationRejected, ErrNotFound or
// ErrInvalidOrganization and is matched with errors.Is. Payload keeps the raw
// response body for the logging collaborator.
type ServiceError struct {
	Kind           error
	Status         int
	StatusText     string
	ResponseCode   string
	NonFieldErrors []string
	FieldErrors    map[string][]string
	Cooldown       time.Duration
	Payload        json.RawMessage
	Cause          error
}

func (e *ServiceError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Message()
	if e.Kind != nil && msg != e.Kind.Error() {
		return e.Kind.Error() + ": " + msg
	}
	return msg
}

// Unwrap exposes both the kind and the transport cause.
func (e *ServiceError) Unwrap() []error {
	if e == nil {
		return nil
	}
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Cause != nil {
		out = append(out, e.Cause)
	}
	return out
}

// Message returns the most specific user-facing text available: the first
// non-field error, then the first field error (sorted by field), then the
// status text.
func (e *ServiceError) Message() string {
	if e == nil {
		return ""
	}
	if len(e.NonFieldErrors) > 0 && e.NonFieldErrors[0] != "" {
		return e.NonFieldErrors[0]
	}
	if len(e.FieldErrors) > 0 {
		fields := make([]string, 0, len(e.FieldErrors))
		for f := range e.FieldErrors {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		for _, f := range fields {
			if msgs := e.FieldErrors[f]; len(msgs) > 0 && msgs[0] != "" {
				return msgs[0]
			}
		}
	}
	if e.StatusText != "" {
		return e.StatusText
	}
	if e.Status > 0 {
		if text := http.StatusText(e.Status); text != "" {
			return text
		}
		return "status " + strconv.Itoa(e.Status)
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	if e.Kind != nil {
		return e.Kind.Error()
	}
	return "service error"
}

// Visible reports whether the error must be shown to the user. Network
// failures are retried by the transport and NotFound is an expected answer.
func (e *ServiceError) Visible() bool {
	if e == nil {
		return false
	}
	return !errors.Is(e.Kind, ErrNotFound)
}

// NewServiceError maps an HTTP status and decoded error payload to a
// ServiceError. 404 with response code INVALID_ORGANIZATION is
// ErrInvalidOrganization; other 404s are ErrNotFound; other 4xx are
// ErrValidationRejected; 5xx is ErrNetworkFailure.
func NewServiceError(status int, statusText string, payload []byte) *ServiceError {
	e := &ServiceError{
		Status:     status,
		StatusText: statusText,
		Payload:    append(json.RawMessage(nil), payload...),
	}
	decodeServiceErrorPayload(e, payload)

	switch {
	case status == http.StatusNotFound && e.ResponseCode == responseCodeInvalidOrganization:
		e.Kind = ErrInvalidOrganization
	case status == http.StatusNotFound:
		e.Kind = ErrNotFound
	case status >= 400 && status < 500:
		e.Kind = ErrValidationRejected
	default:
		e.Kind = ErrNetworkFailure
	}
	return e
}

// NewNetworkError wraps a transport failure.
func NewNetworkError(cause error) *ServiceError {
	return &ServiceError{Kind: ErrNetworkFailure, Cause: cause}
}

func decodeServiceErrorPayload(e *ServiceError, payload []byte) {
	if len(payload) == 0 {
		return
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return
	}
	for key, value := range raw {
		switch key {
		case "non_field_errors":
			var msgs []string
			if json.Unmarshal(value, &msgs) == nil {
				e.NonFieldErrors = append(msgs, e.NonFieldErrors...)
			}
		case "detail":
			var msg string
			if json.Unmarshal(value, &msg) == nil && msg != "" {
				e.NonFieldErrors = append(e.NonFieldErrors, msg)
			}
		case "cooldown":
			var cooldown float64
			if json.Unmarshal(value, &cooldown) == nil && cooldown > 0 {
				e.Cooldown = time.Duration(math.Round(cooldown*1000)) * time.Millisecond
			}
		case "response_code":
			var code string
			if json.Unmarshal(value, &code) == nil {
				e.ResponseCode = code
			}
		default:
			var msgs []string
			if json.Unmarshal(value, &msgs) == nil {
				if e.FieldErrors == nil {
					e.FieldErrors = map[string][]string{}
				}
				e.FieldErrors[key] = msgs
			}
		}
	}
}

func asServiceError(err error) (*ServiceError, bool) {
	var se *ServiceError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
