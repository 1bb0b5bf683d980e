package goPortal

// Classify maps a session, an organization policy and a requested route to an
// access verdict. Rules are evaluated in order and the first match wins:
//
//  1. anonymous session on a protected route -> login
//  2. authenticated session on a public-only route -> status
//  3. password change for an externally managed credential -> status
//  4. phone change outside an enabled mobile-phone flow -> status
//  5. verification pending and route outside the method's flow -> verification route
//  6. no verification pending and route is a verification route -> status
//  7. allow
//
// Classify is pure. An Allow on a protected route is still subject to token
// validation; [Engine.Evaluate] performs that step.
//
//	Docs: docs/routing.md
func Classify(session SessionState, policy OrganizationPolicy, req RouteRequest) AccessVerdict {
	route := req.Route

	if !session.IsAuthenticated {
		if route.IsProtected() {
			return Redirect(RouteLogin)
		}
		return Allow()
	}

	if route.IsPublicOnly() {
		return Redirect(RouteStatus)
	}

	if route == RoutePasswordChange && policy.ExcludesPasswordChange(session.Method) {
		return Redirect(RouteStatus)
	}

	if route == RoutePhoneChange &&
		(!policy.MobilePhoneVerificationEnabled || session.Method != MethodMobilePhone) {
		return Redirect(RouteStatus)
	}

	needs := NeedsVerification(session, policy)
	if needs && !inVerificationFlow(session.Method, route) {
		return Redirect(VerificationRoute(session.Method))
	}
	if !needs && isVerificationRoute(route) {
		return Redirect(RouteStatus)
	}

	return Allow()
}

// NeedsVerification reports whether the session must complete a
// policy-enabled verification gate before reaching ordinary protected routes.
//
// Methods without an enabled gate (saml, social_login, a disabled flag) are
// trusted as-is. The result is derived from the policy passed in on every
// call, so disabling a gate mid-session releases the user.
func NeedsVerification(session SessionState, policy OrganizationPolicy) bool {
	if !session.IsAuthenticated || session.IsVerified {
		return false
	}
	switch session.Method {
	case MethodMobilePhone:
		return policy.MobilePhoneVerificationEnabled
	case MethodBankCard:
		return policy.SubscriptionsEnabled
	default:
		return false
	}
}

// VerificationRoute returns the entry route of the verification flow for m,
// or RouteStatus when m has no gate.
func VerificationRoute(m VerificationMethod) Route {
	switch m {
	case MethodMobilePhone:
		return RoutePhoneVerification
	case MethodBankCard:
		return RoutePaymentDraft
	default:
		return RouteStatus
	}
}

func inVerificationFlow(m VerificationMethod, r Route) bool {
	switch m {
	case MethodMobilePhone:
		return r == RoutePhoneVerification || r == RoutePhoneChange
	case MethodBankCard:
		return r.IsPayment()
	default:
		return false
	}
}

func isVerificationRoute(r Route) bool {
	return r == RoutePhoneVerification || r == RoutePaymentDraft || r == RoutePaymentProcess
}
