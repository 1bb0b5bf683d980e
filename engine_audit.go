package goPortal

import (
	"context"
	"errors"
	"strconv"
	"time"
)

const (
	auditEventRouteRedirect           = "route_redirect"
	auditEventForcedLogout            = "forced_logout"
	auditEventPhoneTokenIssued        = "phone_token_issued"
	auditEventPhoneTokenActive        = "phone_token_active"
	auditEventPhoneTokenFailure       = "phone_token_failure"
	auditEventPhoneTokenResend        = "phone_token_resend"
	auditEventPhoneCodeVerified       = "phone_code_verified"
	auditEventPhoneCodeRejected       = "phone_code_rejected"
	auditEventPhoneCodeRateLimited    = "phone_code_rate_limited"
	auditEventPhoneNumberChanged      = "phone_number_changed"
	auditEventPhoneNumberChangeFailed = "phone_number_change_failed"
	auditEventPaymentResolved         = "payment_resolved"
	auditEventPaymentClosed           = "payment_closed"
	auditEventPaymentOriginRejected   = "payment_origin_rejected"
	auditEventPaymentLookupFailure    = "payment_lookup_failure"
	auditEventSessionLogout           = "session_logout"
	auditEventStaleResponse           = "stale_response_discarded"
	auditEventServiceError            = "service_error"
)

// AuditErrorCode defines a public type used by goPortal APIs.
//
// AuditErrorCode instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditErrorCode string

const (
	auditErrNetwork             AuditErrorCode = "network_failure"
	auditErrValidation          AuditErrorCode = "validation_rejected"
	auditErrNotFound            AuditErrorCode = "not_found"
	auditErrInvalidOrganization AuditErrorCode = "invalid_organization"
	auditErrInvalidToken        AuditErrorCode = "invalid_token"
	auditErrCooldown            AuditErrorCode = "cooldown_active"
	auditErrRateLimited         AuditErrorCode = "rate_limited"
	auditErrStale               AuditErrorCode = "stale_response"
	auditErrDisabled            AuditErrorCode = "feature_disabled"
	auditErrInvalidInput        AuditErrorCode = "invalid_input"
	auditErrOriginRejected      AuditErrorCode = "origin_rejected"
	auditErrUnavailable         AuditErrorCode = "backend_unavailable"
	auditErrCanceled            AuditErrorCode = "canceled"
	auditErrInternal            AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	session SessionState,
	org string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}
	if ua := userAgentFromContext(ctx); ua != "" {
		if metadata == nil {
			metadata = make(map[string]string, 1)
		}
		metadata["user_agent"] = ua
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		SessionID: session.ID,
		Org:       org,
		IP:        clientIPFromContext(ctx),
		RequestID: RequestIDFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}
	if se, ok := asServiceError(err); ok {
		event.Message = se.Message()
		if len(se.Payload) > 0 {
			event.Payload = se.Payload
		}
	}

	e.audit.Emit(ctx, event)
}

// reportServiceError forwards a surfaced service failure, with its original
// payload, to the audit sink. NotFound answers are expected and skipped.
func (e *Engine) reportServiceError(ctx context.Context, op string, session SessionState, org string, err error) {
	se, ok := asServiceError(err)
	if !ok || !se.Visible() {
		return
	}
	e.metricInc(MetricServiceError)
	e.emitAudit(ctx, auditEventServiceError, false, session, org, err, func() map[string]string {
		return map[string]string{"operation": op}
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidOrganization):
		return auditErrInvalidOrganization
	case errors.Is(err, ErrNotFound):
		return auditErrNotFound
	case errors.Is(err, ErrValidationRejected),
		errors.Is(err, ErrInvalidCode):
		return auditErrValidation
	case errors.Is(err, ErrNetworkFailure):
		return auditErrNetwork
	case errors.Is(err, ErrTokenInvalid):
		return auditErrInvalidToken
	case errors.Is(err, ErrCooldownActive):
		return auditErrCooldown
	case errors.Is(err, ErrPhoneCodeRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrStaleResponse):
		return auditErrStale
	case errors.Is(err, ErrPhoneVerificationDisabled),
		errors.Is(err, ErrPhoneAlreadyVerified):
		return auditErrDisabled
	case errors.Is(err, ErrInvalidPhoneNumber):
		return auditErrInvalidInput
	case errors.Is(err, ErrPaymentOriginRejected):
		return auditErrOriginRejected
	case errors.Is(err, ErrPhoneMarkerUnavailable),
		errors.Is(err, ErrPaymentUnavailable),
		errors.Is(err, ErrEngineNotReady):
		return auditErrUnavailable
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return auditErrCanceled
	default:
		return auditErrInternal
	}
}

func durationMillis(d time.Duration) string {
	return strconv.FormatInt(d.Milliseconds(), 10)
}
