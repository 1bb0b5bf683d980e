// Package goPortal provides the verification and access routing engine of a
// captive portal: it decides which screen an end user may see given their
// session, their organization's policy and the requested route.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// goPortal is the public surface. It exposes [Engine], [Builder], [Config], the
// pure decision functions ([Classify], [ResolvePayment], [ProceedToPayment])
// and the value types they exchange ([SessionState], [OrganizationPolicy],
// [Decision], [SessionPatch]). Verification token markers, submission
// throttles and request coalescing live under internal/ and are never
// exported. Remote collaborators are reached through ports:
// [TokenValidator], [TokenService] and [PaymentStatusLookup].
//
// # What this package must NOT do
//
//   - Render screens or own the session storage format; callers apply the
//     returned [SessionPatch] themselves.
//   - Expose Redis clients, internal stores, or encoding details in its public API.
//   - Import any sub-package that re-imports goPortal (no import cycles).
//
// # Performance contract
//
// Classification is pure and allocation-light. Evaluate performs at most one
// token validation round trip per protected route and never blocks on the
// verification token service.
package goPortal
