package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	goPortal "github.com/MrEthical07/goPortal"
	"github.com/go-chi/chi/v5"
)

const maxActionBody = 16 << 10

type actions struct {
	engine   *goPortal.Engine
	sessions SessionStore
	policies PolicySource
	opts     Options
}

type actionView struct {
	Navigate    string `json:"navigate,omitempty"`
	ClearErrors bool   `json:"clear_errors,omitempty"`
	IsVerified  bool   `json:"is_verified"`
	MustLogin   bool   `json:"must_login"`
	MustLogout  bool   `json:"must_logout"`
}

type phoneStatusView struct {
	Phase             string     `json:"phase"`
	IssuedAt          *time.Time `json:"issued_at,omitempty"`
	ResendAt          *time.Time `json:"resend_at,omitempty"`
	CooldownRemaining float64    `json:"cooldown_remaining"`
	Reused            bool       `json:"reused"`
}

type paymentEventView struct {
	Ignored     bool   `json:"ignored"`
	ShowLoader  bool   `json:"show_loader,omitempty"`
	Height      int    `json:"height,omitempty"`
	Navigate    string `json:"navigate,omitempty"`
	Verdict     string `json:"verdict,omitempty"`
	Screen      string `json:"screen,omitempty"`
	ClearErrors bool   `json:"clear_errors,omitempty"`
}

// requireSession resolves the organization and an authenticated session for
// the action endpoints.
func (a *actions) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.engine == nil || a.sessions == nil || a.policies == nil {
			writeError(w, goPortal.ErrEngineNotReady)
			return
		}
		ctx := requestContext(w, r)
		org := chi.URLParam(r, "org")

		policy, ok := a.policies.Policy(org)
		if !ok {
			http.NotFound(w, r)
			return
		}
		state, err := loadSession(ctx, r, a.sessions, org, a.opts)
		if err != nil {
			http.Error(w, "service unavailable", http.StatusServiceUnavailable)
			return
		}
		if state.ID == "" || !state.IsAuthenticated {
			writeJSON(w, http.StatusUnauthorized, errorBody{Code: "unauthenticated", Message: "login required"})
			return
		}

		next.ServeHTTP(w, r.WithContext(withGateValues(ctx, state, policy, goPortal.Decision{})))
	})
}

func actionScope(ctx context.Context) (goPortal.SessionState, goPortal.OrganizationPolicy) {
	state, _ := StateFromContext(ctx)
	policy, _ := PolicyFromContext(ctx)
	return state, policy
}

func (a *actions) phoneTokenStatus(w http.ResponseWriter, r *http.Request) {
	state, _ := actionScope(r.Context())
	remaining, err := a.engine.PhoneCooldownRemaining(r.Context(), state, time.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"cooldown_remaining": remaining.Seconds()})
}

func (a *actions) ensurePhoneToken(w http.ResponseWriter, r *http.Request) {
	state, policy := actionScope(r.Context())
	status, err := a.engine.EnsurePhoneToken(r.Context(), state, policy)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, phoneView(status))
}

func (a *actions) resendPhoneToken(w http.ResponseWriter, r *http.Request) {
	state, policy := actionScope(r.Context())
	status, err := a.engine.ResendPhoneToken(r.Context(), state, policy)
	if errors.Is(err, goPortal.ErrCooldownActive) {
		writeCooldown(w, err, status)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, phoneView(status))
}

func (a *actions) submitPhoneCode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Code string `json:"code"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	state, policy := actionScope(r.Context())
	res, err := a.engine.SubmitPhoneCode(r.Context(), state, policy, body.Code)
	if err != nil {
		writeError(w, err)
		return
	}
	a.writeAction(w, r, state, policy, res)
}

func (a *actions) changePhoneNumber(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PhoneNumber string `json:"phone_number"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	state, policy := actionScope(r.Context())
	res, err := a.engine.ChangePhoneNumber(r.Context(), state, policy, body.PhoneNumber)
	if err != nil {
		writeError(w, err)
		return
	}
	a.writeAction(w, r, state, policy, res)
}

func (a *actions) proceedToPayment(w http.ResponseWriter, r *http.Request) {
	state, policy := actionScope(r.Context())
	a.writeAction(w, r, state, policy, goPortal.ProceedToPayment(state, policy))
}

func (a *actions) paymentLogout(w http.ResponseWriter, r *http.Request) {
	state, policy := actionScope(r.Context())
	a.writeAction(w, r, state, policy, a.engine.PaymentLogout(r.Context(), state, policy))
}

func (a *actions) logout(w http.ResponseWriter, r *http.Request) {
	state, policy := actionScope(r.Context())
	a.writeAction(w, r, state, policy, a.engine.Logout(r.Context(), state, policy))
}

// paymentEvent relays a message the portal page received from the payment
// iframe. ev.Origin is the MessageEvent origin forwarded by the page; the
// engine checks it against the payment origins, and the request itself must
// come from a portal page.
func (a *actions) paymentEvent(w http.ResponseWriter, r *http.Request) {
	if !a.opts.fromPortal(r) {
		writeJSON(w, http.StatusForbidden, errorBody{Code: "origin_rejected", Message: "request origin is not a portal page"})
		return
	}
	var ev goPortal.PaymentEvent
	if !decodeBody(w, r, &ev) {
		return
	}
	state, policy := actionScope(r.Context())
	res, err := a.engine.HandlePaymentEvent(r.Context(), state, policy, ev)
	if err != nil {
		writeError(w, err)
		return
	}

	view := paymentEventView{
		Ignored:    res.Ignored,
		ShowLoader: res.ShowLoader,
		Height:     res.Height,
	}
	if res.Navigate.Target != goPortal.RouteUnknown || res.Navigate.Path != "" {
		applyPatch(r.Context(), a.sessions, state, res.Decision.Patch)
		view.Navigate = navigationPath(policy.Slug, res.Navigate)
		view.Verdict = res.Decision.Verdict.String()
		view.Screen = string(res.Decision.Screen)
		view.ClearErrors = res.Decision.ClearErrors
	}
	writeJSON(w, http.StatusOK, view)
}

// writeAction applies the patch of res and answers with the navigation.
func (a *actions) writeAction(w http.ResponseWriter, r *http.Request, state goPortal.SessionState, policy goPortal.OrganizationPolicy, res goPortal.ActionResult) {
	next := applyPatch(r.Context(), a.sessions, state, res.Patch)
	view := actionView{
		ClearErrors: res.ClearErrors,
		IsVerified:  next.IsVerified,
		MustLogin:   next.MustLogin,
		MustLogout:  next.MustLogout,
	}
	if res.HasNavigation() {
		view.Navigate = navigationPath(policy.Slug, res.Navigate)
	}
	writeJSON(w, http.StatusOK, view)
}

func navigationPath(org string, nav goPortal.Navigation) string {
	if nav.Path != "" {
		return nav.Path
	}
	return goPortal.Path(org, nav.Target)
}

func phoneView(status goPortal.PhoneTokenStatus) phoneStatusView {
	view := phoneStatusView{
		Phase:             status.Phase.String(),
		CooldownRemaining: status.CooldownRemaining(time.Now()).Seconds(),
		Reused:            status.Reused,
	}
	if !status.IssuedAt.IsZero() {
		at := status.IssuedAt.UTC()
		view.IssuedAt = &at
	}
	if !status.ResendAt.IsZero() {
		at := status.ResendAt.UTC()
		view.ResendAt = &at
	}
	return view
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxActionBody))
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "invalid_body", Message: "invalid JSON body"})
		return false
	}
	return true
}
