package goPortal

import (
	"context"
	"time"
)

// TokenValidator confirms a session token is still valid before a protected
// route may render. A false result or an error forces logout (fail closed).
//
//	Docs: docs/token_validation.md
type TokenValidator interface {
	Validate(ctx context.Context, session SessionState) (bool, error)
}

// TokenValidatorFunc adapts a function to [TokenValidator].
type TokenValidatorFunc func(ctx context.Context, session SessionState) (bool, error)

// Validate calls f.
func (f TokenValidatorFunc) Validate(ctx context.Context, session SessionState) (bool, error) {
	return f(ctx, session)
}

// PhoneTokenIssue is the success payload of a token issuance.
type PhoneTokenIssue struct {
	// Cooldown is the server-specified wait before a resend, zero when absent.
	Cooldown time.Duration
}

// TokenService is the verification-code backend. Failures are returned as
// [*ServiceError]; ActiveToken answers ErrNotFound when no token is active.
//
//	Docs: docs/verification.md
type TokenService interface {
	ActiveToken(ctx context.Context, org string, session SessionState) (bool, error)
	IssueToken(ctx context.Context, org string, session SessionState) (PhoneTokenIssue, error)
	VerifyCode(ctx context.Context, org string, session SessionState, code string) error
	ChangePhoneNumber(ctx context.Context, org string, session SessionState, phoneNumber string) error
}

// PaymentStatusLookup resolves a payment identifier to its route suffix:
// success, failed or pending.
type PaymentStatusLookup interface {
	PaymentStatus(ctx context.Context, org string, session SessionState, paymentID string) (string, error)
}

// PaymentStatusLookupFunc adapts a function to [PaymentStatusLookup].
type PaymentStatusLookupFunc func(ctx context.Context, org string, session SessionState, paymentID string) (string, error)

// PaymentStatus calls f.
func (f PaymentStatusLookupFunc) PaymentStatus(ctx context.Context, org string, session SessionState, paymentID string) (string, error) {
	return f(ctx, org, session, paymentID)
}
