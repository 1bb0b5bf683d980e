//go:build integration
// +build integration

package test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	goPortal "github.com/MrEthical07/goPortal"
	"github.com/MrEthical07/goPortal/middleware"
	"github.com/MrEthical07/goPortal/orgconfig"
	"github.com/MrEthical07/goPortal/session"
	"github.com/MrEthical07/goPortal/tokenapi"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const orgYAML = `name: Default
slug: default
settings:
  mobile_phone_verification: true
  subscriptions: true
  payment_requires_internet: true
`

// accountService is an in-memory account service speaking the radius
// organization API consumed by tokenapi.
type accountService struct {
	mu      sync.Mutex
	valid   map[string]bool
	issued  map[string]bool
	payment string

	issueCalls  atomic.Int32
	verifyCalls atomic.Int32
}

func newAccountService() *accountService {
	return &accountService{
		valid:   make(map[string]bool),
		issued:  make(map[string]bool),
		payment: goPortal.PaymentStatusSuccess,
	}
}

func (a *accountService) allow(token string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.valid[token] = true
}

func (a *accountService) revoke(token string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.valid, token)
}

func (a *accountService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const prefix = "/api/v1/radius/organization/default/"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		http.Error(w, `{"response_code":"INVALID_ORGANIZATION"}`, http.StatusNotFound)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, prefix)
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

	a.mu.Lock()
	defer a.mu.Unlock()

	switch {
	case path == "account/token/validate/":
		var body struct {
			Token string `json:"token"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if !a.valid[body.Token] {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"response_code":"INVALID_USER_TOKEN"}`))
			return
		}
		_, _ = w.Write([]byte(`{"response_code":"AUTH_TOKEN_VALIDATION_SUCCESSFUL"}`))
	case path == "account/phone/token/active/":
		if !a.issued[token] {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"detail":"Not found."}`))
			return
		}
		_, _ = w.Write([]byte(`{"active":true}`))
	case path == "account/phone/token/":
		a.issueCalls.Add(1)
		a.issued[token] = true
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"cooldown":30}`))
	case path == "account/phone/verify/":
		a.verifyCalls.Add(1)
		var body struct {
			Code string `json:"code"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Code != "123456" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":["Invalid code."]}`))
			return
		}
		_, _ = w.Write([]byte(`{}`))
	case path == "account/phone/change/":
		delete(a.issued, token)
		_, _ = w.Write([]byte(`{}`))
	case strings.HasPrefix(path, "payment/"):
		_, _ = w.Write([]byte(`{"status":"` + a.payment + `"}`))
	default:
		http.NotFound(w, r)
	}
}

type portal struct {
	engine   *goPortal.Engine
	sessions *session.Store
	account  *accountService
	handler  http.Handler
}

func newPortal(t *testing.T, rdb redis.UniversalClient) *portal {
	t.Helper()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "default.yaml"), []byte(orgYAML), 0o600); err != nil {
		t.Fatalf("write org: %v", err)
	}
	watcher, err := orgconfig.NewWatcher(dir)
	if err != nil {
		t.Fatalf("orgconfig: %v", err)
	}

	account := newAccountService()
	srv := httptest.NewServer(account)
	t.Cleanup(srv.Close)

	client, err := tokenapi.New(tokenapi.Options{
		BaseURL:      srv.URL,
		Timeout:      2 * time.Second,
		RetryMax:     1,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: 2 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("tokenapi: %v", err)
	}

	cfg := goPortal.DefaultConfig()
	cfg.Payment.AllowedOrigins = []string{"https://pay.example.com"}
	engine, err := goPortal.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithTokenValidator(tokenapi.NewValidator(client)).
		WithTokenService(client).
		WithPaymentStatusLookup(client).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)

	sessions := session.NewStore(rdb, "gps", time.Hour)
	return &portal{
		engine:   engine,
		sessions: sessions,
		account:  account,
		handler: middleware.NewRouter(middleware.RouterConfig{
			Engine:   engine,
			Sessions: sessions,
			Policies: watcher.Registry(),
		}),
	}
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

// login creates a mobile phone session whose token the account service accepts.
func (p *portal) login(t *testing.T, phone string) goPortal.SessionState {
	t.Helper()
	ctx := context.Background()
	state, err := p.sessions.Create(ctx, "default", goPortal.SessionState{
		Username:        phone,
		IsAuthenticated: true,
		Method:          goPortal.MethodMobilePhone,
		PhoneNumber:     phone,
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	state.AuthToken = "tok-" + state.ID
	if err := p.sessions.Save(ctx, "default", state); err != nil {
		t.Fatalf("save session: %v", err)
	}
	p.account.allow(state.AuthToken)
	return state
}

func (p *portal) do(method, path, sessionID, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if sessionID != "" {
		req.AddCookie(&http.Cookie{Name: middleware.DefaultCookieName, Value: sessionID})
	}
	rec := httptest.NewRecorder()
	p.handler.ServeHTTP(rec, req)
	return rec
}
