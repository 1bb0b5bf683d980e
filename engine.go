package goPortal

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/MrEthical07/goPortal/internal/flight"
	"github.com/MrEthical07/goPortal/internal/limiters"
	"github.com/MrEthical07/goPortal/internal/stores"
)

// Engine composes the access classifier, the token validation port, the
// mobile phone verification gate and the payment status resolver.
//
// Engine is safe for concurrent use. It never persists session state; every
// operation returns patches for the session owner to apply.
//
//	Docs: docs/engine.md
type Engine struct {
	config         Config
	validator      TokenValidator
	tokens         TokenService
	payments       PaymentStatusLookup
	markers        *stores.PhoneTokenStore
	codeLimiter    *limiters.PhoneCodeLimiter
	flights        flight.Group
	generations    *flight.Generations
	paymentOrigins map[string]struct{}
	audit          *auditDispatcher
	metrics        *Metrics
	clock          func() time.Time
}

// Close describes the close operation and its observable behavior.
//
// Close may return an error when input validation, dependency calls, or security checks fail.
// Close does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped describes the auditdropped operation and its observable behavior.
//
// AuditDropped may return an error when input validation, dependency calls, or security checks fail.
// AuditDropped does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// AuditDelivered returns the number of audit events handed to the sink.
func (e *Engine) AuditDelivered() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Delivered()
}

// MetricsSnapshot describes the metricssnapshot operation and its observable behavior.
//
// MetricsSnapshot may return an error when input validation, dependency calls, or security checks fail.
// MetricsSnapshot does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	if e == nil {
		return defaultConfig()
	}
	return cloneConfig(e.config)
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) observe(id MetricID, start time.Time) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Observe(id, time.Since(start))
}

func (e *Engine) now() time.Time {
	if e == nil || e.clock == nil {
		return time.Now()
	}
	return e.clock()
}

// Navigate records that sessionID moved to another screen. Responses of
// verification or payment calls started before the move are discarded with
// ErrStaleResponse. It returns the new generation.
func (e *Engine) Navigate(sessionID string) uint64 {
	if e == nil || sessionID == "" {
		return 0
	}
	return e.generations.Advance(sessionID)
}

func (e *Engine) generation(sessionID string) uint64 {
	if sessionID == "" {
		return 0
	}
	return e.generations.Current(sessionID)
}

// stale reports whether a response started under gen must be dropped.
func (e *Engine) stale(ctx context.Context, session SessionState, org string, op string, gen uint64) bool {
	if session.ID == "" || e.generations.Valid(session.ID, gen) {
		return false
	}
	e.metricInc(MetricStaleResponse)
	e.emitAudit(ctx, auditEventStaleResponse, false, session, org, ErrStaleResponse, func() map[string]string {
		return map[string]string{"operation": op}
	})
	return true
}

// Evaluate classifies a route request and resolves it to a final decision.
//
// A protected route that the classifier allows stays pending until the
// TokenValidator answers; a false answer or an error fails closed with a
// redirect to login and the forced-logout patch. Allowed payment routes are
// then resolved by the payment status table and the processing entry rules.
// The returned verdict is never VerdictPending.
//
//	Docs: docs/routing.md
func (e *Engine) Evaluate(ctx context.Context, session SessionState, policy OrganizationPolicy, req RouteRequest) (Decision, error) {
	if e == nil {
		return Decision{}, ErrEngineNotReady
	}
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	defer e.observe(MetricEvaluateLatency, start)
	e.metricInc(MetricEvaluate)

	org := policy.Slug
	if org == "" {
		org = req.Org()
	}

	verdict := Classify(session, policy, req)
	if verdict.Kind == VerdictRedirect {
		e.metricInc(MetricRouteRedirected)
		e.emitAudit(ctx, auditEventRouteRedirect, true, session, org, nil, func() map[string]string {
			return map[string]string{
				"from": string(req.Route),
				"to":   string(verdict.Target),
			}
		})
		return Decision{Verdict: verdict}, nil
	}

	if session.IsAuthenticated && req.Route.IsProtected() {
		verdict = Pending()
		if !e.validateToken(WithOrganization(ctx, org), session) {
			return e.forcedLogout(ctx, session, org, req.Route), nil
		}
	}

	var d Decision
	switch req.Route {
	case RoutePaymentStatus, RoutePaymentDraft:
		d = e.resolvePayment(ctx, session, policy, req.PaymentStatus())
	case RoutePaymentProcess:
		d = PaymentProcessEntry(session, policy)
	default:
		d = Decision{Verdict: Allow(), Screen: ScreenDefault}
	}

	if d.Verdict.Kind == VerdictRedirect {
		e.metricInc(MetricRouteRedirected)
	} else {
		e.metricInc(MetricRouteAllowed)
	}
	return d, nil
}

// validateToken runs the validation port under the configured timeout. An
// error, a timeout and a false answer are all treated as invalid.
func (e *Engine) validateToken(ctx context.Context, session SessionState) bool {
	if e.validator == nil {
		return false
	}
	start := time.Now()
	defer e.observe(MetricTokenValidationLatency, start)

	if timeout := e.config.TokenValidation.Timeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ok, err := e.validator.Validate(ctx, session)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			log.Printf("goPortal: token validation failed for session %s: %v", session.ID, err)
		}
		return false
	}
	return ok
}

// forcedLogout is the fail-closed outcome of token validation. The phone
// token marker of the session is cleared best-effort.
func (e *Engine) forcedLogout(ctx context.Context, session SessionState, org string, route Route) Decision {
	e.metricInc(MetricTokenValidationFailure)
	e.metricInc(MetricForcedLogout)

	if session.ID != "" && e.markers != nil {
		if err := e.markers.Delete(context.WithoutCancel(ctx), session.ID); err != nil {
			log.Printf("goPortal: clear phone token marker for session %s: %v", session.ID, err)
		}
		e.generations.Forget(session.ID)
	}

	e.emitAudit(ctx, auditEventForcedLogout, false, session, org, ErrTokenInvalid, func() map[string]string {
		return map[string]string{"route": string(route)}
	})

	return Decision{
		Verdict:      Redirect(RouteLogin),
		Patch:        ForcedLogoutPatch(),
		ForcedLogout: true,
	}
}

// ForcedLogoutPatch is the patch applied when the session token is no
// longer valid.
func ForcedLogoutPatch() SessionPatch {
	return SessionPatch{
		FieldIsAuthenticated: Bool(false),
		FieldMustLogout:      Bool(true),
	}
}
