package goPortal

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

// fakeTokenService records calls and answers from its function fields. A nil
// field answers success.
type fakeTokenService struct {
	activeCalls atomic.Int64
	issueCalls  atomic.Int64
	verifyCalls atomic.Int64
	changeCalls atomic.Int64

	active func(ctx context.Context, org string, session SessionState) (bool, error)
	issue  func(ctx context.Context, org string, session SessionState) (PhoneTokenIssue, error)
	verify func(ctx context.Context, org string, session SessionState, code string) error
	change func(ctx context.Context, org string, session SessionState, phone string) error
}

func (f *fakeTokenService) ActiveToken(ctx context.Context, org string, session SessionState) (bool, error) {
	f.activeCalls.Add(1)
	if f.active == nil {
		return false, NewServiceError(404, "Not Found", nil)
	}
	return f.active(ctx, org, session)
}

func (f *fakeTokenService) IssueToken(ctx context.Context, org string, session SessionState) (PhoneTokenIssue, error) {
	f.issueCalls.Add(1)
	if f.issue == nil {
		return PhoneTokenIssue{Cooldown: 30 * time.Second}, nil
	}
	return f.issue(ctx, org, session)
}

func (f *fakeTokenService) VerifyCode(ctx context.Context, org string, session SessionState, code string) error {
	f.verifyCalls.Add(1)
	if f.verify == nil {
		return nil
	}
	return f.verify(ctx, org, session, code)
}

func (f *fakeTokenService) ChangePhoneNumber(ctx context.Context, org string, session SessionState, phone string) error {
	f.changeCalls.Add(1)
	if f.change == nil {
		return nil
	}
	return f.change(ctx, org, session, phone)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type engineOptions struct {
	config    *Config
	validator TokenValidator
	tokens    TokenService
	payments  PaymentStatusLookup
	sink      AuditSink
	clock     *testClock
}

func validTokens() TokenValidator {
	return TokenValidatorFunc(func(context.Context, SessionState) (bool, error) { return true, nil })
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Metrics.Enabled = true
	cfg.Payment.AllowedOrigins = []string{"https://pay.example.com"}
	return cfg
}

func newTestEngine(t *testing.T, opts engineOptions) (*Engine, *miniredis.Miniredis) {
	t.Helper()

	mr, rdb := newTestRedis(t)
	cfg := testConfig()
	if opts.config != nil {
		cfg = *opts.config
	}
	if opts.validator == nil {
		opts.validator = validTokens()
	}
	if opts.tokens == nil {
		opts.tokens = &fakeTokenService{}
	}

	b := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithTokenValidator(opts.validator).
		WithTokenService(opts.tokens).
		WithPaymentStatusLookup(opts.payments).
		WithAuditSink(opts.sink)
	if opts.clock != nil {
		b = b.WithClock(opts.clock.Now)
	}

	engine, err := b.Build()
	if err != nil {
		mr.Close()
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	})
	return engine, mr
}

func phonePolicy() OrganizationPolicy {
	return OrganizationPolicy{
		Slug:                           "default",
		MobilePhoneVerificationEnabled: true,
		PasswordChangeExcludedMethods:  DefaultPasswordChangeExcludedMethods(),
	}
}

func cardPolicy(requiresInternet bool) OrganizationPolicy {
	return OrganizationPolicy{
		Slug:                          "default",
		SubscriptionsEnabled:          true,
		PaymentRequiresInternet:       requiresInternet,
		PasswordChangeExcludedMethods: DefaultPasswordChangeExcludedMethods(),
	}
}

func phoneSession() SessionState {
	return SessionState{
		ID:              "s-phone",
		Username:        "alice",
		AuthToken:       "tok",
		IsAuthenticated: true,
		IsActive:        false,
		Method:          MethodMobilePhone,
		PhoneNumber:     "+393401234567",
	}
}

func cardSession(verified bool) SessionState {
	return SessionState{
		ID:              "s-card",
		Username:        "bob",
		AuthToken:       "tok",
		IsAuthenticated: true,
		IsVerified:      verified,
		IsActive:        true,
		Method:          MethodBankCard,
		PaymentURL:      "https://pay.example.com/checkout/42",
	}
}

func request(path string) RouteRequest {
	return ParseRoute(path)
}

func waitEvent(t *testing.T, events <-chan AuditEvent, eventType string) AuditEvent {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.EventType == eventType {
				return ev
			}
		case <-timeout:
			t.Fatalf("audit event %q not received", eventType)
			return AuditEvent{}
		}
	}
}

func assertBool(t *testing.T, p SessionPatch, field PatchField, want bool) {
	t.Helper()
	v, ok := p[field]
	if !ok {
		t.Fatalf("patch missing %s", field)
	}
	got, ok := v.BoolValue()
	if !ok || got != want {
		t.Fatalf("patch %s = %v (set=%v), want %v", field, got, ok, want)
	}
}
