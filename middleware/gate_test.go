package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	goPortal "github.com/MrEthical07/goPortal"
	"github.com/MrEthical07/goPortal/session"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type staticPolicies map[string]goPortal.OrganizationPolicy

func (s staticPolicies) Policy(slug string) (goPortal.OrganizationPolicy, bool) {
	p, ok := s[slug]
	return p, ok
}

type fakeTokens struct {
	verifyCalls atomic.Int32
	verifyErr   error
}

func (f *fakeTokens) ActiveToken(context.Context, string, goPortal.SessionState) (bool, error) {
	return false, goPortal.NewServiceError(http.StatusNotFound, "Not Found", nil)
}

func (f *fakeTokens) IssueToken(context.Context, string, goPortal.SessionState) (goPortal.PhoneTokenIssue, error) {
	return goPortal.PhoneTokenIssue{Cooldown: 30 * time.Second}, nil
}

func (f *fakeTokens) VerifyCode(context.Context, string, goPortal.SessionState, string) error {
	f.verifyCalls.Add(1)
	return f.verifyErr
}

func (f *fakeTokens) ChangePhoneNumber(context.Context, string, goPortal.SessionState, string) error {
	return nil
}

type harness struct {
	engine   *goPortal.Engine
	sessions *session.Store
	handler  http.Handler
	tokens   *fakeTokens
	valid    atomic.Bool
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	h := &harness{tokens: &fakeTokens{}}
	h.valid.Store(true)

	cfg := goPortal.DefaultConfig()
	cfg.Payment.AllowedOrigins = []string{"https://pay.example.com"}
	engine, err := goPortal.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithTokenValidator(goPortal.TokenValidatorFunc(func(context.Context, goPortal.SessionState) (bool, error) {
			return h.valid.Load(), nil
		})).
		WithTokenService(h.tokens).
		WithPaymentStatusLookup(goPortal.PaymentStatusLookupFunc(func(context.Context, string, goPortal.SessionState, string) (string, error) {
			return goPortal.PaymentStatusSuccess, nil
		})).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)

	h.engine = engine
	h.sessions = session.NewStore(rdb, "gps", time.Hour)
	h.handler = NewRouter(RouterConfig{
		Engine:   engine,
		Sessions: h.sessions,
		Policies: staticPolicies{
			"default": {
				Slug:                           "default",
				MobilePhoneVerificationEnabled: true,
				SubscriptionsEnabled:           true,
				PaymentRequiresInternet:        true,
				PasswordChangeExcludedMethods:  goPortal.DefaultPasswordChangeExcludedMethods(),
			},
		},
	})
	return h
}

func (h *harness) newSession(t *testing.T, state goPortal.SessionState) string {
	t.Helper()
	created, err := h.sessions.Create(context.Background(), "default", state)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return created.ID
}

func (h *harness) do(method, path, sessionID string, body any) *httptest.ResponseRecorder {
	return h.doWithHeader(method, path, sessionID, body, nil)
}

func (h *harness) doWithHeader(method, path, sessionID string, body any, header http.Header) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range header {
		req.Header[k] = v
	}
	if sessionID != "" {
		req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: sessionID})
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func TestGateUnknownOrganization(t *testing.T) {
	h := newHarness(t)
	if rec := h.do(http.MethodGet, "/nope/login", "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestGateAnonymousProtectedRedirectsToLogin(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodGet, "/default/status", "", nil)
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/default/login" {
		t.Fatalf("location = %q", loc)
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Fatal("expected request id header")
	}
}

func TestGateUnverifiedMobileGoesToVerification(t *testing.T) {
	h := newHarness(t)
	id := h.newSession(t, goPortal.SessionState{
		IsAuthenticated: true,
		Method:          goPortal.MethodMobilePhone,
		PhoneNumber:     "+393331234567",
	})

	rec := h.do(http.MethodGet, "/default/status", id, nil)
	if loc := rec.Header().Get("Location"); rec.Code != http.StatusFound || loc != "/default/mobile-phone-verification" {
		t.Fatalf("status = %d location = %q", rec.Code, loc)
	}

	rec = h.do(http.MethodGet, "/default/mobile-phone-verification", id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestGateForcedLogoutAppliesPatch(t *testing.T) {
	h := newHarness(t)
	id := h.newSession(t, goPortal.SessionState{
		IsAuthenticated: true,
		IsVerified:      true,
		IsActive:        true,
		Method:          goPortal.MethodMobilePhone,
	})
	h.valid.Store(false)

	rec := h.do(http.MethodGet, "/default/status", id, nil)
	if loc := rec.Header().Get("Location"); rec.Code != http.StatusFound || loc != "/default/login" {
		t.Fatalf("status = %d location = %q", rec.Code, loc)
	}

	record, err := h.sessions.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if record.State.IsAuthenticated || !record.State.MustLogout {
		t.Fatalf("forced logout patch not applied: %+v", record.State)
	}
}

func TestActionsRequireSession(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodPost, "/default/api/v1/phone/token", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestPhoneFlowThroughActions(t *testing.T) {
	h := newHarness(t)
	id := h.newSession(t, goPortal.SessionState{
		IsAuthenticated: true,
		Method:          goPortal.MethodMobilePhone,
		PhoneNumber:     "+393331234567",
	})

	rec := h.do(http.MethodPost, "/default/api/v1/phone/token", id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ensure token status = %d body=%s", rec.Code, rec.Body.String())
	}
	var status phoneStatusView
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Phase != goPortal.PhoneTokenPending.String() || status.ResendAt == nil {
		t.Fatalf("unexpected status: %+v", status)
	}

	rec = h.do(http.MethodPost, "/default/api/v1/phone/token/resend", id, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("resend during cooldown status = %d", rec.Code)
	}

	rec = h.do(http.MethodPost, "/default/api/v1/phone/verify", id, map[string]string{"code": "123456"})
	if rec.Code != http.StatusOK {
		t.Fatalf("verify status = %d body=%s", rec.Code, rec.Body.String())
	}
	var view actionView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Navigate != "/default/status" || !view.IsVerified || !view.MustLogin || !view.ClearErrors {
		t.Fatalf("unexpected action view: %+v", view)
	}

	record, err := h.sessions.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if record.State.Username != "+393331234567" || !record.State.IsActive {
		t.Fatalf("verification patch not applied: %+v", record.State)
	}
}

func TestVerifyCodeValidationErrorKeepsMessages(t *testing.T) {
	h := newHarness(t)
	h.tokens.verifyErr = goPortal.NewServiceError(http.StatusBadRequest, "Bad Request", []byte(`{"code":["Invalid code."]}`))
	id := h.newSession(t, goPortal.SessionState{
		IsAuthenticated: true,
		Method:          goPortal.MethodMobilePhone,
		PhoneNumber:     "+393331234567",
	})

	rec := h.do(http.MethodPost, "/default/api/v1/phone/verify", id, map[string]string{"code": "000000"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Message != "Invalid code." || len(body.FieldErrors["code"]) != 1 {
		t.Fatalf("unexpected error body: %+v", body)
	}
}

func TestPaymentEventFromUntrustedOriginIsIgnored(t *testing.T) {
	h := newHarness(t)
	id := h.newSession(t, goPortal.SessionState{
		IsAuthenticated: true,
		IsVerified:      true,
		Method:          goPortal.MethodBankCard,
		PaymentURL:      "https://pay.example.com/p/1",
	})

	rec := h.do(http.MethodPost, "/default/api/v1/payment/event", id, map[string]any{
		"origin":  "https://evil.example.com",
		"type":    "paymentClose",
		"message": map[string]string{"paymentId": "p-1"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var view paymentEventView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !view.Ignored || view.Navigate != "" {
		t.Fatalf("unexpected view: %+v", view)
	}

	record, err := h.sessions.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if record.State.MustLogout || record.State.RepeatLogin {
		t.Fatalf("session changed by untrusted event: %+v", record.State)
	}
}

func TestPaymentCloseNavigatesToStatus(t *testing.T) {
	h := newHarness(t)
	id := h.newSession(t, goPortal.SessionState{
		IsAuthenticated: true,
		IsVerified:      true,
		Method:          goPortal.MethodBankCard,
		PaymentURL:      "https://pay.example.com/p/1",
	})

	rec := h.do(http.MethodPost, "/default/api/v1/payment/event", id, map[string]any{
		"origin":  "https://pay.example.com",
		"type":    "paymentClose",
		"message": map[string]string{"paymentId": "p-1"},
	})
	var view paymentEventView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Navigate != "/default/payment/success" || view.Verdict != "redirect(status)" {
		t.Fatalf("unexpected view: %+v", view)
	}

	record, err := h.sessions.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if !record.State.MustLogout || !record.State.RepeatLogin || record.State.MustLogin {
		t.Fatalf("success patch not applied: %+v", record.State)
	}
}

func TestPaymentEventRejectsForeignOriginHeader(t *testing.T) {
	h := newHarness(t)
	id := h.newSession(t, goPortal.SessionState{
		IsAuthenticated: true,
		IsVerified:      true,
		Method:          goPortal.MethodBankCard,
		PaymentURL:      "https://pay.example.com/p/1",
	})
	body := map[string]any{
		"origin":  "https://pay.example.com",
		"type":    "paymentClose",
		"message": map[string]string{"paymentId": "p-1"},
	}

	rec := h.doWithHeader(http.MethodPost, "/default/api/v1/payment/event", id, body, http.Header{"Origin": {"https://evil.example"}})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rec.Code)
	}
	record, err := h.sessions.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if record.State.MustLogout || record.State.RepeatLogin {
		t.Fatalf("session changed by foreign request: %+v", record.State)
	}

	// httptest requests are addressed to example.com.
	rec = h.doWithHeader(http.MethodPost, "/default/api/v1/payment/event", id, body, http.Header{"Origin": {"http://example.com"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("same-host status = %d", rec.Code)
	}
	var view paymentEventView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Navigate != "/default/payment/success" {
		t.Fatalf("unexpected view: %+v", view)
	}
}

func TestOptionsFromPortal(t *testing.T) {
	configured := Options{PortalOrigins: []string{" https://Portal.example.net/ ", "http://10.0.0.1:8080"}}
	tests := []struct {
		name   string
		opts   Options
		origin string
		want   bool
	}{
		{"no origin header", Options{}, "", true},
		{"same host", Options{}, "http://example.com", true},
		{"other host", Options{}, "https://evil.example", false},
		{"malformed", Options{}, "not a url", false},
		{"configured origin", configured, "https://portal.example.net", true},
		{"configured with port", configured, "http://10.0.0.1:8080", true},
		{"scheme mismatch", configured, "http://portal.example.net", false},
		{"request host not implied", configured, "http://example.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/default/api/v1/payment/event", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if got := tt.opts.fromPortal(req); got != tt.want {
				t.Fatalf("fromPortal(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}

func TestSubmissionInFlightAnswersConflict(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, goPortal.ErrSubmissionInFlight)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d", rec.Code)
	}
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Code != "submission_in_flight" {
		t.Fatalf("code = %q", body.Code)
	}
}
