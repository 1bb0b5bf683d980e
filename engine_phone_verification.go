package goPortal

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/MrEthical07/goPortal/internal/flight"
	"github.com/MrEthical07/goPortal/internal/limiters"
	"github.com/MrEthical07/goPortal/internal/stores"
)

const (
	flightIssueToken  = "issue-token"
	flightVerifyCode  = "verify-code"
	flightChangePhone = "change-phone"
)

// PhoneTokenPhase is the position of a session in the mobile phone
// verification flow.
type PhoneTokenPhase uint8

const (
	// PhoneNoTokenIssued means no token is known to exist for the session.
	PhoneNoTokenIssued PhoneTokenPhase = iota
	// PhoneTokenPending means a token was issued and a code is awaited.
	PhoneTokenPending
	// PhoneTokenIssuing means another request is issuing the token right now.
	PhoneTokenIssuing
	// PhoneVerified means the code was accepted.
	PhoneVerified
)

func (p PhoneTokenPhase) String() string {
	switch p {
	case PhoneNoTokenIssued:
		return "no_token_issued"
	case PhoneTokenPending:
		return "token_pending"
	case PhoneTokenIssuing:
		return "token_issuing"
	case PhoneVerified:
		return "verified"
	default:
		return "unknown"
	}
}

// PhoneTokenStatus describes the verification token of a session.
//
// IssuedAt is captured once when the token is issued and never recomputed;
// ResendAt = IssuedAt + Cooldown. Reused is true when the session marker
// answered without any call to the token service.
type PhoneTokenStatus struct {
	Phase    PhoneTokenPhase
	IssuedAt time.Time
	Cooldown time.Duration
	ResendAt time.Time
	Reused   bool
}

// CooldownRemaining returns how long resend stays disabled at now.
func (s PhoneTokenStatus) CooldownRemaining(now time.Time) time.Duration {
	if s.ResendAt.IsZero() || !now.Before(s.ResendAt) {
		return 0
	}
	return s.ResendAt.Sub(now)
}

func statusFromRecord(record *stores.PhoneTokenRecord, reused bool) PhoneTokenStatus {
	if record == nil {
		return PhoneTokenStatus{Phase: PhoneNoTokenIssued}
	}
	s := PhoneTokenStatus{
		IssuedAt: record.IssuedAt,
		Cooldown: record.Cooldown,
		ResendAt: record.ResendAt(),
		Reused:   reused,
	}
	switch record.State {
	case stores.PhoneTokenIssued:
		s.Phase = PhoneTokenPending
	case stores.PhoneTokenClaimed:
		s.Phase = PhoneTokenIssuing
	default:
		s.Phase = PhoneNoTokenIssued
	}
	return s
}

// checkPhoneGate rejects phone operations for sessions outside an enabled
// mobile phone verification flow.
func checkPhoneGate(session SessionState, policy OrganizationPolicy) error {
	if !policy.MobilePhoneVerificationEnabled || session.Method != MethodMobilePhone {
		return ErrPhoneVerificationDisabled
	}
	return nil
}

func (e *Engine) phoneRequestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if timeout := e.config.PhoneVerification.RequestTimeout; timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

func (e *Engine) loadPhoneMarker(ctx context.Context, sessionID string) (*stores.PhoneTokenRecord, error) {
	record, err := e.markers.Load(ctx, sessionID)
	if err != nil {
		if errors.Is(err, stores.ErrPhoneTokenNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrPhoneMarkerUnavailable, err)
	}
	return record, nil
}

// EnsurePhoneToken makes sure the session has an active verification token.
//
// When the session marker shows a token was already issued the stored status
// is returned with no network call. Otherwise the token service is asked for
// an active token; a NotFound answer silently proceeds to issuance, an active
// token is recorded as issued. InvalidOrganization and every other failure
// are surfaced and reported, and no token is issued. Concurrent calls for the
// same session share one request.
//
//	Docs: docs/verification.md
func (e *Engine) EnsurePhoneToken(ctx context.Context, session SessionState, policy OrganizationPolicy) (PhoneTokenStatus, error) {
	if e == nil || e.markers == nil {
		return PhoneTokenStatus{}, ErrEngineNotReady
	}
	if err := checkPhoneGate(session, policy); err != nil {
		return PhoneTokenStatus{}, err
	}
	if session.IsVerified {
		return PhoneTokenStatus{Phase: PhoneVerified}, ErrPhoneAlreadyVerified
	}
	if e.tokens == nil {
		return PhoneTokenStatus{}, ErrEngineNotReady
	}

	record, err := e.loadPhoneMarker(ctx, session.ID)
	if err != nil {
		return PhoneTokenStatus{}, err
	}
	if record != nil {
		switch record.State {
		case stores.PhoneTokenIssued, stores.PhoneTokenClaimed:
			e.metricInc(MetricPhoneTokenReused)
			return statusFromRecord(record, true), nil
		case stores.PhoneTokenCooldown:
			if e.now().Before(record.ResendAt()) {
				return statusFromRecord(record, true), nil
			}
		}
	}

	gen := e.generation(session.ID)
	v, shared, err := e.flights.Do(ctx, flight.Key(session.ID, flightIssueToken), func(ctx context.Context) (any, error) {
		return e.ensurePhoneToken(ctx, session, policy)
	})
	if shared {
		e.metricInc(MetricPhoneTokenCoalesced)
	}
	if e.stale(ctx, session, policy.Slug, flightIssueToken, gen) {
		return PhoneTokenStatus{}, ErrStaleResponse
	}
	if err != nil {
		return PhoneTokenStatus{}, err
	}
	status, _ := v.(PhoneTokenStatus)
	return status, nil
}

func (e *Engine) ensurePhoneToken(ctx context.Context, session SessionState, policy OrganizationPolicy) (PhoneTokenStatus, error) {
	org := policy.Slug
	ttl := e.config.PhoneVerification.MarkerTTL

	claimed, err := e.markers.Claim(ctx, session.ID, ttl)
	if err != nil {
		return PhoneTokenStatus{}, fmt.Errorf("%w: %v", ErrPhoneMarkerUnavailable, err)
	}
	if !claimed {
		record, err := e.loadPhoneMarker(ctx, session.ID)
		if err != nil {
			return PhoneTokenStatus{}, err
		}
		e.metricInc(MetricPhoneTokenReused)
		return statusFromRecord(record, true), nil
	}

	reqCtx, cancel := e.phoneRequestContext(ctx)
	defer cancel()

	active, err := e.tokens.ActiveToken(reqCtx, org, session)
	switch {
	case err == nil && active:
		record := &stores.PhoneTokenRecord{State: stores.PhoneTokenIssued, IssuedAt: e.now()}
		e.savePhoneMarker(ctx, session.ID, record)
		e.emitAudit(ctx, auditEventPhoneTokenActive, true, session, org, nil, nil)
		return statusFromRecord(record, false), nil
	case err == nil, errors.Is(err, ErrNotFound):
		// No active token: issue one.
	default:
		e.failPhoneIssue(ctx, session, org, "active_token", err)
		return PhoneTokenStatus{}, err
	}

	return e.issuePhoneToken(reqCtx, ctx, session, org)
}

// issuePhoneToken calls the token service and records the issuance time and
// cooldown on the session marker.
func (e *Engine) issuePhoneToken(reqCtx, ctx context.Context, session SessionState, org string) (PhoneTokenStatus, error) {
	issued, err := e.tokens.IssueToken(reqCtx, org, session)
	if err != nil {
		e.failPhoneIssue(ctx, session, org, "issue_token", err)
		return PhoneTokenStatus{}, err
	}

	record := &stores.PhoneTokenRecord{
		State:    stores.PhoneTokenIssued,
		IssuedAt: e.now(),
		Cooldown: issued.Cooldown,
	}
	e.savePhoneMarker(ctx, session.ID, record)
	e.metricInc(MetricPhoneTokenIssued)
	e.emitAudit(ctx, auditEventPhoneTokenIssued, true, session, org, nil, func() map[string]string {
		return map[string]string{"cooldown_ms": durationMillis(issued.Cooldown)}
	})
	return statusFromRecord(record, false), nil
}

// failPhoneIssue releases the issuance claim and reports err. A cooldown in
// the failure payload is recorded so resend stays disabled for that long.
func (e *Engine) failPhoneIssue(ctx context.Context, session SessionState, org, op string, err error) {
	e.metricInc(MetricPhoneTokenFailure)
	if relErr := e.markers.Release(ctx, session.ID); relErr != nil {
		log.Printf("goPortal: release phone token claim for session %s: %v", session.ID, relErr)
	}
	if se, ok := asServiceError(err); ok && se.Cooldown > 0 {
		cooldown := se.Cooldown
		record := &stores.PhoneTokenRecord{
			State:    stores.PhoneTokenCooldown,
			IssuedAt: e.now(),
			Cooldown: cooldown,
		}
		if saveErr := e.markers.Save(ctx, session.ID, record, cooldown); saveErr != nil {
			log.Printf("goPortal: save phone token cooldown for session %s: %v", session.ID, saveErr)
		}
	}
	e.reportServiceError(ctx, op, session, org, err)
	e.emitAudit(ctx, auditEventPhoneTokenFailure, false, session, org, err, func() map[string]string {
		return map[string]string{"operation": op}
	})
}

func (e *Engine) savePhoneMarker(ctx context.Context, sessionID string, record *stores.PhoneTokenRecord) {
	if err := e.markers.Save(ctx, sessionID, record, e.config.PhoneVerification.MarkerTTL); err != nil {
		log.Printf("goPortal: save phone token marker for session %s: %v", sessionID, err)
	}
}

// ResendPhoneToken issues a new verification token. It fails with
// ErrCooldownActive until the cooldown captured at the previous issuance has
// elapsed; the returned status carries the resend deadline in that case.
func (e *Engine) ResendPhoneToken(ctx context.Context, session SessionState, policy OrganizationPolicy) (PhoneTokenStatus, error) {
	if e == nil || e.markers == nil || e.tokens == nil {
		return PhoneTokenStatus{}, ErrEngineNotReady
	}
	if err := checkPhoneGate(session, policy); err != nil {
		return PhoneTokenStatus{}, err
	}
	if session.IsVerified {
		return PhoneTokenStatus{Phase: PhoneVerified}, ErrPhoneAlreadyVerified
	}

	record, err := e.loadPhoneMarker(ctx, session.ID)
	if err != nil {
		return PhoneTokenStatus{}, err
	}
	if record != nil && e.now().Before(record.ResendAt()) {
		e.metricInc(MetricPhoneResendRejected)
		return statusFromRecord(record, true), ErrCooldownActive
	}

	gen := e.generation(session.ID)
	v, shared, err := e.flights.Do(ctx, flight.Key(session.ID, flightIssueToken), func(ctx context.Context) (any, error) {
		reqCtx, cancel := e.phoneRequestContext(ctx)
		defer cancel()
		e.emitAudit(ctx, auditEventPhoneTokenResend, true, session, policy.Slug, nil, nil)
		return e.issuePhoneToken(reqCtx, ctx, session, policy.Slug)
	})
	if shared {
		e.metricInc(MetricPhoneTokenCoalesced)
	}
	if e.stale(ctx, session, policy.Slug, flightIssueToken, gen) {
		return PhoneTokenStatus{}, ErrStaleResponse
	}
	if err != nil {
		return PhoneTokenStatus{}, err
	}
	status, _ := v.(PhoneTokenStatus)
	return status, nil
}

// PhoneCooldownRemaining returns how long resend stays disabled at now,
// derived from the issuance time stored on the session marker.
func (e *Engine) PhoneCooldownRemaining(ctx context.Context, session SessionState, now time.Time) (time.Duration, error) {
	if e == nil || e.markers == nil {
		return 0, ErrEngineNotReady
	}
	record, err := e.loadPhoneMarker(ctx, session.ID)
	if err != nil || record == nil {
		return 0, err
	}
	return statusFromRecord(record, true).CooldownRemaining(now), nil
}

// SubmitPhoneCode verifies code against the token service.
//
// On success the session becomes active and verified, the phone number
// becomes the username and mustLogin asks the owner for a fresh login. On
// failure the service error is returned with its field and non-field
// messages and the session stays in the token pending phase. One
// submission per session is outstanding at a time: an identical submission
// shares its request and a different code gets ErrSubmissionInFlight.
//
//	Docs: docs/verification.md
func (e *Engine) SubmitPhoneCode(ctx context.Context, session SessionState, policy OrganizationPolicy, code string) (ActionResult, error) {
	if e == nil || e.tokens == nil {
		return ActionResult{}, ErrEngineNotReady
	}
	if err := checkPhoneGate(session, policy); err != nil {
		return ActionResult{}, err
	}
	if session.IsVerified {
		return ActionResult{}, ErrPhoneAlreadyVerified
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return ActionResult{}, ErrInvalidCode
	}

	org := policy.Slug
	gen := e.generation(session.ID)
	_, shared, err := e.flights.DoTagged(ctx, flight.Key(session.ID, flightVerifyCode), code, func(ctx context.Context) (any, error) {
		if err := e.codeLimiter.CheckSubmit(ctx, session.ID); err != nil {
			if errors.Is(err, limiters.ErrPhoneCodeRateLimited) {
				e.metricInc(MetricPhoneCodeRateLimited)
				e.emitAudit(ctx, auditEventPhoneCodeRateLimited, false, session, org, ErrPhoneCodeRateLimited, nil)
				return nil, ErrPhoneCodeRateLimited
			}
			log.Printf("goPortal: phone code limiter for session %s: %v", session.ID, err)
		}

		reqCtx, cancel := e.phoneRequestContext(ctx)
		defer cancel()

		if err := e.tokens.VerifyCode(reqCtx, org, session, code); err != nil {
			e.metricInc(MetricPhoneCodeFailure)
			e.reportServiceError(ctx, "verify_code", session, org, err)
			e.emitAudit(ctx, auditEventPhoneCodeRejected, false, session, org, err, nil)
			return nil, err
		}

		e.clearPhoneState(ctx, session.ID)
		e.metricInc(MetricPhoneCodeSuccess)
		e.emitAudit(ctx, auditEventPhoneCodeVerified, true, session, org, nil, nil)
		return nil, nil
	})
	if errors.Is(err, flight.ErrBusy) {
		return ActionResult{}, ErrSubmissionInFlight
	}
	if shared {
		e.metricInc(MetricPhoneCodeCoalesced)
	}
	if e.stale(ctx, session, org, flightVerifyCode, gen) {
		return ActionResult{}, ErrStaleResponse
	}
	if err != nil {
		return ActionResult{}, err
	}

	return ActionResult{
		Patch:       PhoneVerifiedPatch(session),
		Navigate:    Navigation{Target: RouteStatus, Path: Path(org, RouteStatus)},
		ClearErrors: true,
	}, nil
}

// PhoneVerifiedPatch is the patch applied after a successful code
// submission. The verification method is left unchanged.
func PhoneVerifiedPatch(session SessionState) SessionPatch {
	return SessionPatch{
		FieldIsActive:   Bool(true),
		FieldIsVerified: Bool(true),
		FieldUsername:   String(session.PhoneNumber),
		FieldMustLogin:  Bool(true),
	}
}

// ChangePhoneNumber replaces the phone number of an unverified or verified
// mobile phone session. The session marker is cleared so that the next visit
// to the verification screen issues a token for the new number.
func (e *Engine) ChangePhoneNumber(ctx context.Context, session SessionState, policy OrganizationPolicy, phoneNumber string) (ActionResult, error) {
	if e == nil || e.tokens == nil {
		return ActionResult{}, ErrEngineNotReady
	}
	if err := checkPhoneGate(session, policy); err != nil {
		return ActionResult{}, err
	}
	phoneNumber, ok := NormalizePhoneNumber(phoneNumber)
	if !ok {
		return ActionResult{}, ErrInvalidPhoneNumber
	}

	org := policy.Slug
	gen := e.generation(session.ID)
	_, _, err := e.flights.DoTagged(ctx, flight.Key(session.ID, flightChangePhone), phoneNumber, func(ctx context.Context) (any, error) {
		reqCtx, cancel := e.phoneRequestContext(ctx)
		defer cancel()

		if err := e.tokens.ChangePhoneNumber(reqCtx, org, session, phoneNumber); err != nil {
			e.reportServiceError(ctx, "change_phone_number", session, org, err)
			e.emitAudit(ctx, auditEventPhoneNumberChangeFailed, false, session, org, err, nil)
			return nil, err
		}

		e.clearPhoneState(ctx, session.ID)
		e.metricInc(MetricPhoneNumberChanged)
		e.emitAudit(ctx, auditEventPhoneNumberChanged, true, session, org, nil, nil)
		return nil, nil
	})
	if errors.Is(err, flight.ErrBusy) {
		return ActionResult{}, ErrSubmissionInFlight
	}
	if e.stale(ctx, session, org, flightChangePhone, gen) {
		return ActionResult{}, ErrStaleResponse
	}
	if err != nil {
		return ActionResult{}, err
	}

	return ActionResult{
		Patch: SessionPatch{
			FieldIsVerified:  Bool(false),
			FieldPhoneNumber: String(phoneNumber),
		},
		Navigate:    Navigation{Target: RoutePhoneVerification, Path: Path(org, RoutePhoneVerification)},
		ClearErrors: true,
	}, nil
}

// Logout ends the session from a verification screen. The session marker is
// cleared so a later login starts with a fresh token.
func (e *Engine) Logout(ctx context.Context, session SessionState, policy OrganizationPolicy) ActionResult {
	if e != nil {
		if session.ID != "" {
			e.clearPhoneState(ctx, session.ID)
			e.generations.Forget(session.ID)
		}
		e.metricInc(MetricSessionLogout)
		e.emitAudit(ctx, auditEventSessionLogout, true, session, policy.Slug, nil, nil)
	}
	return ActionResult{
		Patch:    SessionPatch{FieldMustLogout: Bool(true)},
		Navigate: Navigation{Target: RouteStatus, Path: Path(policy.Slug, RouteStatus)},
	}
}

func (e *Engine) clearPhoneState(ctx context.Context, sessionID string) {
	if e.markers != nil {
		if err := e.markers.Delete(ctx, sessionID); err != nil {
			log.Printf("goPortal: clear phone token marker for session %s: %v", sessionID, err)
		}
	}
	if err := e.codeLimiter.Reset(ctx, sessionID); err != nil {
		log.Printf("goPortal: reset phone code limiter for session %s: %v", sessionID, err)
	}
}

// NormalizePhoneNumber strips spaces, dashes, dots and parentheses and
// accepts an optional leading '+' followed by 6 to 15 digits.
func NormalizePhoneNumber(raw string) (string, bool) {
	var b strings.Builder
	b.Grow(len(raw))
	for i, r := range strings.TrimSpace(raw) {
		switch {
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
		default:
			return "", false
		}
	}
	out := b.String()
	digits := len(strings.TrimPrefix(out, "+"))
	if digits < 6 || digits > 15 {
		return "", false
	}
	return out, true
}
