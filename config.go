package goPortal

import (
	"errors"
	"net/url"
	"strings"
	"time"
)

// Config defines a public type used by goPortal APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	TokenValidation   TokenValidationConfig   `envPrefix:"TOKEN_VALIDATION_"`
	PhoneVerification PhoneVerificationConfig `envPrefix:"PHONE_VERIFICATION_"`
	Payment           PaymentConfig           `envPrefix:"PAYMENT_"`
	Audit             AuditConfig             `envPrefix:"AUDIT_"`
	Metrics           MetricsConfig           `envPrefix:"METRICS_"`
}

/*
====================================
TOKEN VALIDATION CONFIG
====================================
*/

// TokenValidationConfig defines a public type used by goPortal APIs.
//
// TokenValidationConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type TokenValidationConfig struct {
	// Timeout bounds one TokenValidator call. Zero means the caller's context only.
	Timeout time.Duration `env:"TIMEOUT"`
}

/*
====================================
PHONE VERIFICATION CONFIG
====================================
*/

// PhoneVerificationConfig defines a public type used by goPortal APIs.
//
// PhoneVerificationConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type PhoneVerificationConfig struct {
	RedisPrefix          string        `env:"REDIS_PREFIX"`
	MarkerTTL            time.Duration `env:"MARKER_TTL"`
	RequestTimeout       time.Duration `env:"REQUEST_TIMEOUT"`
	EnableSubmitThrottle bool          `env:"ENABLE_SUBMIT_THROTTLE"`
	MaxSubmitAttempts    int           `env:"MAX_SUBMIT_ATTEMPTS"`
	SubmitWindow         time.Duration `env:"SUBMIT_WINDOW"`
}

/*
====================================
PAYMENT CONFIG
====================================
*/

// PaymentConfig defines a public type used by goPortal APIs.
//
// PaymentConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type PaymentConfig struct {
	// AllowedOrigins lists the origins (scheme://host[:port]) trusted to post
	// events from the embedded payment surface.
	AllowedOrigins []string      `env:"ALLOWED_ORIGINS" envSeparator:","`
	LookupTimeout  time.Duration `env:"LOOKUP_TIMEOUT"`
}

// AuditConfig defines a public type used by goPortal APIs.
//
// AuditConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditConfig struct {
	Enabled    bool `env:"ENABLED"`
	BufferSize int  `env:"BUFFER_SIZE"`
	DropIfFull bool `env:"DROP_IF_FULL"`
}

// MetricsConfig defines a public type used by goPortal APIs.
//
// MetricsConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsConfig struct {
	Enabled                 bool `env:"ENABLED"`
	EnableLatencyHistograms bool `env:"ENABLE_LATENCY_HISTOGRAMS"`
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the baseline configuration used by [New].
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		TokenValidation: TokenValidationConfig{
			Timeout: 5 * time.Second,
		},
		PhoneVerification: PhoneVerificationConfig{
			RedisPrefix:          "gpv",
			MarkerTTL:            30 * time.Minute,
			RequestTimeout:       10 * time.Second,
			EnableSubmitThrottle: true,
			MaxSubmitAttempts:    10,
			SubmitWindow:         15 * time.Minute,
		},
		Payment: PaymentConfig{
			AllowedOrigins: nil,
			LookupTimeout:  10 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	if cfg.Payment.AllowedOrigins != nil {
		out.Payment.AllowedOrigins = append([]string(nil), cfg.Payment.AllowedOrigins...)
	}
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate describes the validate operation and its observable behavior.
//
// Validate may return an error when input validation, dependency calls, or security checks fail.
// Validate does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (c *Config) Validate() error {
	// Token validation
	if c.TokenValidation.Timeout < 0 {
		return errors.New("TokenValidation Timeout must be >= 0")
	}

	// Phone verification
	if strings.TrimSpace(c.PhoneVerification.RedisPrefix) == "" {
		return errors.New("PhoneVerification RedisPrefix must not be empty")
	}
	if c.PhoneVerification.MarkerTTL <= 0 {
		return errors.New("PhoneVerification MarkerTTL must be > 0")
	}
	if c.PhoneVerification.RequestTimeout < 0 {
		return errors.New("PhoneVerification RequestTimeout must be >= 0")
	}
	if c.PhoneVerification.EnableSubmitThrottle {
		if c.PhoneVerification.MaxSubmitAttempts <= 0 {
			return errors.New("PhoneVerification MaxSubmitAttempts must be > 0 when throttling")
		}
		if c.PhoneVerification.SubmitWindow <= 0 {
			return errors.New("PhoneVerification SubmitWindow must be > 0 when throttling")
		}
	}

	// Payment
	if c.Payment.LookupTimeout < 0 {
		return errors.New("Payment LookupTimeout must be >= 0")
	}
	for _, origin := range c.Payment.AllowedOrigins {
		if _, ok := normalizeOrigin(origin); !ok {
			return errors.New("Payment AllowedOrigins contains an invalid origin: " + origin)
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}

/*
====================================
LINT
====================================
*/

// LintWarning is a non-fatal configuration observation.
type LintWarning struct {
	Code    string
	Message string
}

// LintWarnings is a list of lint observations.
type LintWarnings []LintWarning

// Codes returns the warning codes in order.
func (ws LintWarnings) Codes() []string {
	out := make([]string, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.Code)
	}
	return out
}

// Lint reports settings that are valid but likely unintended.
func (c *Config) Lint() LintWarnings {
	var ws LintWarnings
	if len(c.Payment.AllowedOrigins) == 0 {
		ws = append(ws, LintWarning{
			Code:    "payment_origins_empty",
			Message: "no payment origins configured; every payment surface event will be ignored",
		})
	}
	if !c.PhoneVerification.EnableSubmitThrottle {
		ws = append(ws, LintWarning{
			Code:    "submit_throttle_disabled",
			Message: "verification code submissions are not throttled",
		})
	}
	if c.TokenValidation.Timeout == 0 {
		ws = append(ws, LintWarning{
			Code:    "token_validation_unbounded",
			Message: "token validation has no timeout; a slow validator keeps routes pending",
		})
	}
	if c.Audit.Enabled && !c.Audit.DropIfFull {
		ws = append(ws, LintWarning{
			Code:    "audit_blocking",
			Message: "audit dispatch blocks callers when the buffer is full",
		})
	}
	return ws
}

// normalizeOrigin reduces an origin or URL to scheme://host[:port].
func normalizeOrigin(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host), true
}
