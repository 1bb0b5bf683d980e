package middleware

import (
	"context"

	goPortal "github.com/MrEthical07/goPortal"
)

type stateContextKey struct{}
type policyContextKey struct{}
type decisionContextKey struct{}

// StateFromContext returns the session state the gate evaluated, after its
// patch was applied.
func StateFromContext(ctx context.Context) (goPortal.SessionState, bool) {
	s, ok := ctx.Value(stateContextKey{}).(goPortal.SessionState)
	return s, ok
}

// PolicyFromContext returns the organization policy of the request.
func PolicyFromContext(ctx context.Context) (goPortal.OrganizationPolicy, bool) {
	p, ok := ctx.Value(policyContextKey{}).(goPortal.OrganizationPolicy)
	return p, ok
}

// DecisionFromContext returns the allow decision the gate served.
func DecisionFromContext(ctx context.Context) (goPortal.Decision, bool) {
	d, ok := ctx.Value(decisionContextKey{}).(goPortal.Decision)
	return d, ok
}

func withGateValues(ctx context.Context, state goPortal.SessionState, policy goPortal.OrganizationPolicy, d goPortal.Decision) context.Context {
	ctx = context.WithValue(ctx, stateContextKey{}, state)
	ctx = context.WithValue(ctx, policyContextKey{}, policy)
	return context.WithValue(ctx, decisionContextKey{}, d)
}
