package goPortal

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// ActionResult is the outcome of a user action on a verification or payment
// screen: a patch for the session owner and an optional navigation.
type ActionResult struct {
	Patch       SessionPatch
	Navigate    Navigation
	ClearErrors bool
}

// HasNavigation reports whether the caller must move to another screen.
func (r ActionResult) HasNavigation() bool {
	return r.Navigate.Target != RouteUnknown || r.Navigate.Path != ""
}

// ResolvePayment maps a payment status, the session and the organization
// policy to a decision. Only bank_card sessions take part; every other method
// is sent to status with no patch.
//
//	| status  | verified | requires internet | outcome                                             |
//	|---------|----------|-------------------|-----------------------------------------------------|
//	| success | no       | any               | redirect status                                     |
//	| success | yes      | yes               | redirect status, mustLogin=false mustLogout=true repeatLogin=true |
//	| success | yes      | no                | redirect status, mustLogin=true mustLogout=false repeatLogin=false |
//	| failed  | any      | any               | failed screen                                       |
//	| draft   | no       | yes               | draft screen, mustLogin=true                        |
//	| draft   | no       | no                | draft screen, mustLogin unset                       |
//	| draft   | yes      | any               | redirect status                                     |
//	| other   | any      | any               | redirect status                                     |
//
//	Docs: docs/payment.md
func ResolvePayment(session SessionState, policy OrganizationPolicy, status string) Decision {
	if session.Method != MethodBankCard {
		return Decision{Verdict: Redirect(RouteStatus)}
	}

	switch strings.ToLower(strings.TrimSpace(status)) {
	case PaymentStatusSuccess:
		if !session.IsVerified {
			return Decision{Verdict: Redirect(RouteStatus)}
		}
		if policy.PaymentRequiresInternet {
			return Decision{
				Verdict: Redirect(RouteStatus),
				Patch: SessionPatch{
					FieldMustLogin:   Bool(false),
					FieldMustLogout:  Bool(true),
					FieldRepeatLogin: Bool(true),
				},
				ClearErrors: true,
			}
		}
		return Decision{
			Verdict: Redirect(RouteStatus),
			Patch: SessionPatch{
				FieldMustLogin:   Bool(true),
				FieldMustLogout:  Bool(false),
				FieldRepeatLogin: Bool(false),
			},
			ClearErrors: true,
		}

	case PaymentStatusFailed:
		return Decision{Verdict: Allow(), Screen: ScreenPaymentFailed}

	case PaymentStatusDraft:
		if session.IsVerified {
			return Decision{Verdict: Redirect(RouteStatus)}
		}
		mustLogin := Unset()
		if policy.PaymentRequiresInternet {
			mustLogin = Bool(true)
		}
		return Decision{
			Verdict: Allow(),
			Screen:  ScreenPaymentDraft,
			Patch:   SessionPatch{FieldMustLogin: mustLogin},
		}

	default:
		return Decision{Verdict: Redirect(RouteStatus)}
	}
}

func (e *Engine) resolvePayment(ctx context.Context, session SessionState, policy OrganizationPolicy, status string) Decision {
	d := ResolvePayment(session, policy, status)
	e.metricInc(MetricPaymentResolved)
	e.emitAudit(ctx, auditEventPaymentResolved, true, session, policy.Slug, nil, func() map[string]string {
		return map[string]string{
			"status":  status,
			"verdict": d.Verdict.String(),
			"screen":  string(d.Screen),
		}
	})
	return d
}

// ProceedToPayment is the "proceed to payment" action of the draft screen.
// When the organization requires internet access for payment the owner
// must re-authenticate online first, so the action flags the session and
// returns to status; otherwise it opens the processing screen.
func ProceedToPayment(session SessionState, policy OrganizationPolicy) ActionResult {
	org := policy.Slug
	if policy.PaymentRequiresInternet {
		return ActionResult{
			Patch:    SessionPatch{FieldProceedToPayment: Bool(true)},
			Navigate: Navigation{Target: RouteStatus, Path: Path(org, RouteStatus)},
		}
	}
	return ActionResult{
		Navigate: Navigation{Target: RoutePaymentProcess, Path: Path(org, RoutePaymentProcess)},
	}
}

// PaymentLogout is the logout action of the draft and failed screens.
func PaymentLogout(policy OrganizationPolicy) ActionResult {
	return ActionResult{
		Patch: SessionPatch{
			FieldMustLogout: Bool(true),
			FieldPaymentURL: Null(),
		},
		Navigate: Navigation{Target: RouteStatus, Path: Path(policy.Slug, RouteStatus)},
	}
}

// PaymentLogout wraps the package-level action with metrics and audit.
func (e *Engine) PaymentLogout(ctx context.Context, session SessionState, policy OrganizationPolicy) ActionResult {
	if e != nil {
		if session.ID != "" {
			e.generations.Forget(session.ID)
		}
		e.metricInc(MetricPaymentLogout)
		e.emitAudit(ctx, auditEventSessionLogout, true, session, policy.Slug, nil, func() map[string]string {
			return map[string]string{"screen": "payment"}
		})
	}
	return PaymentLogout(policy)
}

// PaymentProcessEntry decides how the processing screen is entered. A
// session without a payment URL goes back to status. In external redirect
// mode the browser leaves the portal for the payment URL; in iframe mode the
// processing screen renders and listens for payment events.
func PaymentProcessEntry(session SessionState, policy OrganizationPolicy) Decision {
	if !session.HasPaymentURL() {
		return Decision{Verdict: Redirect(RouteStatus)}
	}
	if policy.DeliveryMode() == PaymentExternalRedirect {
		return Decision{Verdict: Allow(), ExternalURL: strings.TrimSpace(session.PaymentURL)}
	}
	return Decision{Verdict: Allow(), Screen: ScreenPaymentProcessing}
}

/*
====================================
PAYMENT SURFACE EVENTS
====================================
*/

// PaymentEventType is the kind of message posted by the embedded payment page.
type PaymentEventType string

const (
	PaymentEventShowLoader   PaymentEventType = "showLoader"
	PaymentEventSetHeight    PaymentEventType = "setHeight"
	PaymentEventPaymentClose PaymentEventType = "paymentClose"
)

// PaymentEvent is one message from the embedded payment page. Origin is the
// MessageEvent origin as relayed by the portal page; the final payment status
// always comes from PaymentStatusLookup, never from the message.
type PaymentEvent struct {
	Origin  string           `json:"origin"`
	Type    PaymentEventType `json:"type"`
	Message json.RawMessage  `json:"message,omitempty"`
}

// Height returns the setHeight payload, or 0.
func (ev PaymentEvent) Height() int {
	var h float64
	if err := json.Unmarshal(ev.Message, &h); err != nil || h < 0 {
		return 0
	}
	return int(h)
}

// PaymentID returns the paymentClose payload identifier, or "".
func (ev PaymentEvent) PaymentID() string {
	var body struct {
		PaymentID string `json:"paymentId"`
	}
	if err := json.Unmarshal(ev.Message, &body); err != nil {
		return ""
	}
	return strings.TrimSpace(body.PaymentID)
}

// PaymentEventResult tells the processing screen what to do with an event.
// Ignored events produce the zero value with Ignored set.
type PaymentEventResult struct {
	Ignored    bool
	ShowLoader bool
	Height     int
	Navigate   Navigation
	Decision   Decision
}

// HandlePaymentEvent processes one event from the embedded payment page.
//
// Events whose origin is not a configured payment origin are ignored with no
// patch and no navigation. showLoader and setHeight are presentation hints.
// paymentClose looks up the final status of the payment, navigates to
// /<org>/payment/<status> and resolves that status through [ResolvePayment].
// A lookup that completes after the user left the screen is discarded with
// ErrStaleResponse.
//
//	Docs: docs/payment.md
func (e *Engine) HandlePaymentEvent(ctx context.Context, session SessionState, policy OrganizationPolicy, ev PaymentEvent) (PaymentEventResult, error) {
	if e == nil {
		return PaymentEventResult{}, ErrEngineNotReady
	}
	if ctx == nil {
		ctx = context.Background()
	}
	org := policy.Slug

	if !e.trustedPaymentOrigin(ev.Origin) {
		e.metricInc(MetricPaymentOriginRejected)
		e.emitAudit(ctx, auditEventPaymentOriginRejected, false, session, org, ErrPaymentOriginRejected, func() map[string]string {
			return map[string]string{
				"origin": ev.Origin,
				"type":   string(ev.Type),
			}
		})
		return PaymentEventResult{Ignored: true}, nil
	}

	switch ev.Type {
	case PaymentEventShowLoader:
		return PaymentEventResult{ShowLoader: true}, nil
	case PaymentEventSetHeight:
		return PaymentEventResult{Height: ev.Height()}, nil
	case PaymentEventPaymentClose:
		return e.closePayment(ctx, session, policy, ev.PaymentID())
	default:
		e.metricInc(MetricPaymentEventIgnored)
		return PaymentEventResult{Ignored: true}, nil
	}
}

func (e *Engine) closePayment(ctx context.Context, session SessionState, policy OrganizationPolicy, paymentID string) (PaymentEventResult, error) {
	org := policy.Slug
	if e.payments == nil {
		return PaymentEventResult{}, ErrPaymentUnavailable
	}

	gen := e.generation(session.ID)

	lookupCtx := ctx
	if timeout := e.config.Payment.LookupTimeout; timeout > 0 {
		var cancel context.CancelFunc
		lookupCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	status, err := e.payments.PaymentStatus(lookupCtx, org, session, paymentID)
	if err != nil {
		e.metricInc(MetricPaymentLookupFailure)
		e.reportServiceError(ctx, "payment_status", session, org, err)
		e.emitAudit(ctx, auditEventPaymentLookupFailure, false, session, org, err, func() map[string]string {
			return map[string]string{"payment_id": paymentID}
		})
		if _, ok := asServiceError(err); ok {
			return PaymentEventResult{}, err
		}
		return PaymentEventResult{}, errors.Join(ErrPaymentUnavailable, err)
	}

	if e.stale(ctx, session, org, "payment_close", gen) {
		return PaymentEventResult{}, ErrStaleResponse
	}

	status = strings.ToLower(strings.Trim(strings.TrimSpace(status), "/"))
	e.metricInc(MetricPaymentClosed)
	e.emitAudit(ctx, auditEventPaymentClosed, true, session, org, nil, func() map[string]string {
		return map[string]string{
			"payment_id": paymentID,
			"status":     status,
		}
	})

	return PaymentEventResult{
		Navigate: Navigation{Target: RoutePaymentStatus, Path: PaymentStatusPath(org, status)},
		Decision: ResolvePayment(session, policy, status),
	}, nil
}

func (e *Engine) trustedPaymentOrigin(origin string) bool {
	if len(e.paymentOrigins) == 0 {
		return false
	}
	normalized, ok := normalizeOrigin(origin)
	if !ok {
		return false
	}
	_, ok = e.paymentOrigins[normalized]
	return ok
}
