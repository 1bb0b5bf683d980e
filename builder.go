package goPortal

import (
	"errors"
	"time"

	"github.com/MrEthical07/goPortal/internal/flight"
	"github.com/MrEthical07/goPortal/internal/limiters"
	"github.com/MrEthical07/goPortal/internal/stores"
	"github.com/redis/go-redis/v9"
)

// Builder defines a public type used by goPortal APIs.
//
// Builder instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	validator TokenValidator
	tokens    TokenService
	payments  PaymentStatusLookup
	auditSink AuditSink
	clock     func() time.Time

	built bool
}

// New describes the new operation and its observable behavior.
//
// New may return an error when input validation, dependency calls, or security checks fail.
// New does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig describes the withconfig operation and its observable behavior.
//
// WithConfig may return an error when input validation, dependency calls, or security checks fail.
// WithConfig does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis describes the withredis operation and its observable behavior.
//
// WithRedis may return an error when input validation, dependency calls, or security checks fail.
// WithRedis does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithTokenValidator sets the port consulted before any protected route is
// allowed. It is required.
func (b *Builder) WithTokenValidator(v TokenValidator) *Builder {
	b.validator = v
	return b
}

// WithTokenService sets the verification-code backend used by the mobile
// phone gate.
func (b *Builder) WithTokenService(s TokenService) *Builder {
	b.tokens = s
	return b
}

// WithPaymentStatusLookup sets the lookup used when the payment page closes.
func (b *Builder) WithPaymentStatusLookup(l PaymentStatusLookup) *Builder {
	b.payments = l
	return b
}

// WithAuditSink describes the withauditsink operation and its observable behavior.
//
// WithAuditSink may return an error when input validation, dependency calls, or security checks fail.
// WithAuditSink does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock overrides the wall clock used for issuance timestamps.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

// WithMetricsEnabled describes the withmetricsenabled operation and its observable behavior.
//
// WithMetricsEnabled may return an error when input validation, dependency calls, or security checks fail.
// WithMetricsEnabled does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms describes the withlatencyhistograms operation and its observable behavior.
//
// WithLatencyHistograms may return an error when input validation, dependency calls, or security checks fail.
// WithLatencyHistograms does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build describes the build operation and its observable behavior.
//
// Build may return an error when input validation, dependency calls, or security checks fail.
// Build does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.validator == nil {
		return nil, errors.New("token validator required")
	}

	origins := make(map[string]struct{}, len(cfg.Payment.AllowedOrigins))
	for _, o := range cfg.Payment.AllowedOrigins {
		normalized, _ := normalizeOrigin(o)
		origins[normalized] = struct{}{}
	}

	engine := &Engine{
		config:         cloneConfig(cfg),
		validator:      b.validator,
		tokens:         b.tokens,
		payments:       b.payments,
		generations:    flight.NewGenerations(cfg.PhoneVerification.MarkerTTL, b.clock),
		paymentOrigins: origins,
		clock:          b.clock,
	}

	engine.markers = stores.NewPhoneTokenStore(b.redis, cfg.PhoneVerification.RedisPrefix)
	engine.codeLimiter = limiters.NewPhoneCodeLimiter(b.redis, limiters.PhoneCodeConfig{
		Enabled:     cfg.PhoneVerification.EnableSubmitThrottle,
		Prefix:      cfg.PhoneVerification.RedisPrefix + "c",
		MaxAttempts: cfg.PhoneVerification.MaxSubmitAttempts,
		Window:      cfg.PhoneVerification.SubmitWindow,
	})
	engine.audit = newAuditDispatcher(cfg.Audit, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)

	b.built = true

	return engine, nil
}
