package goPortal

import "testing"

func TestLint_DefaultConfigWarnsAboutMissingOrigins(t *testing.T) {
	// Payment origins have no sensible default, so a fresh config always
	// reports them.
	cfg := defaultConfig()
	codes := cfg.Lint().Codes()

	if !containsCode(codes, "payment_origins_empty") {
		t.Error("expected payment_origins_empty warning")
	}
	if containsCode(codes, "submit_throttle_disabled") {
		t.Error("default config throttles code submissions")
	}
}

func TestLint_ConfiguredOriginsNoWarnings(t *testing.T) {
	cfg := testConfig()
	if ws := cfg.Lint(); len(ws) != 0 {
		t.Fatalf("expected no warnings, got %v", ws.Codes())
	}
}

func TestLint_SubmitThrottleDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.PhoneVerification.EnableSubmitThrottle = false
	if !containsCode(cfg.Lint().Codes(), "submit_throttle_disabled") {
		t.Error("expected submit_throttle_disabled warning")
	}
}

func TestLint_UnboundedTokenValidation(t *testing.T) {
	cfg := testConfig()
	cfg.TokenValidation.Timeout = 0
	if !containsCode(cfg.Lint().Codes(), "token_validation_unbounded") {
		t.Error("expected token_validation_unbounded warning")
	}
}

func TestLint_BlockingAudit(t *testing.T) {
	cfg := testConfig()
	cfg.Audit.Enabled = true
	cfg.Audit.DropIfFull = false
	if !containsCode(cfg.Lint().Codes(), "audit_blocking") {
		t.Error("expected audit_blocking warning")
	}

	cfg.Audit.Enabled = false
	if containsCode(cfg.Lint().Codes(), "audit_blocking") {
		t.Error("disabled audit cannot block")
	}
}

// helpers

func containsCode(codes []string, code string) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}
