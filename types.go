package goPortal

import "strings"

// VerificationMethod identifies how a user's identity or access was confirmed.
//
//	Docs: docs/verification.md
type VerificationMethod string

const (
	// MethodMobilePhone is an exported constant or variable used by the routing engine.
	MethodMobilePhone VerificationMethod = "mobile_phone"
	// MethodBankCard is an exported constant or variable used by the routing engine.
	MethodBankCard VerificationMethod = "bank_card"
	// MethodSAML is an exported constant or variable used by the routing engine.
	MethodSAML VerificationMethod = "saml"
	// MethodSocialLogin is an exported constant or variable used by the routing engine.
	MethodSocialLogin VerificationMethod = "social_login"
	// MethodOther is an exported constant or variable used by the routing engine.
	MethodOther VerificationMethod = "other"
	// MethodNone is an exported constant or variable used by the routing engine.
	MethodNone VerificationMethod = "none"
)

// ParseVerificationMethod normalizes a raw method string. Empty input maps to
// MethodNone and unrecognized values map to MethodOther.
func ParseVerificationMethod(raw string) VerificationMethod {
	switch m := VerificationMethod(strings.ToLower(strings.TrimSpace(raw))); m {
	case MethodMobilePhone, MethodBankCard, MethodSAML, MethodSocialLogin, MethodOther, MethodNone:
		return m
	case "":
		return MethodNone
	default:
		return MethodOther
	}
}

// PaymentDeliveryMode controls how the payment surface is presented.
type PaymentDeliveryMode string

const (
	// PaymentIframe embeds the payment page and listens for its events.
	PaymentIframe PaymentDeliveryMode = "iframe"
	// PaymentExternalRedirect sends the browser straight to the payment URL.
	PaymentExternalRedirect PaymentDeliveryMode = "external_redirect"
)

// SessionState is a read-only snapshot of a user's identity, verification and
// payment attributes, rebuilt from the authoritative store for every evaluation.
//
// IsVerified is meaningless when IsAuthenticated is false. The engine never
// mutates a SessionState; it returns a [SessionPatch] for the owner to apply.
//
//	Docs: docs/session.md
type SessionState struct {
	ID        string
	Username  string
	AuthToken string

	IsAuthenticated bool
	IsVerified      bool
	IsActive        bool
	Method          VerificationMethod
	PhoneNumber     string
	PaymentURL      string
	PasswordExpired bool

	MustLogin        bool
	MustLogout       bool
	RepeatLogin      bool
	ProceedToPayment bool
}

// HasPhoneNumber reports whether the optional phone number is present.
func (s SessionState) HasPhoneNumber() bool {
	return strings.TrimSpace(s.PhoneNumber) != ""
}

// HasPaymentURL reports whether the optional payment URL is present.
func (s SessionState) HasPaymentURL() bool {
	return strings.TrimSpace(s.PaymentURL) != ""
}

// OrganizationPolicy is the normalized, per-organization feature configuration
// consulted by the engine. Policies are plain values: callers build one per
// organization and never share one across organizations.
//
//	Docs: docs/policy.md
type OrganizationPolicy struct {
	Slug                           string
	MobilePhoneVerificationEnabled bool
	SubscriptionsEnabled           bool
	PaymentRequiresInternet        bool
	PaymentDeliveryMode            PaymentDeliveryMode
	PasswordChangeExcludedMethods  map[VerificationMethod]struct{}
}

// DefaultPasswordChangeExcludedMethods lists the methods whose credentials are
// managed outside the portal.
func DefaultPasswordChangeExcludedMethods() map[VerificationMethod]struct{} {
	return map[VerificationMethod]struct{}{
		MethodSAML:        {},
		MethodSocialLogin: {},
	}
}

// ExcludesPasswordChange reports whether password change is meaningless for m.
func (p OrganizationPolicy) ExcludesPasswordChange(m VerificationMethod) bool {
	_, ok := p.PasswordChangeExcludedMethods[m]
	return ok
}

// DeliveryMode returns the configured delivery mode, defaulting to iframe.
func (p OrganizationPolicy) DeliveryMode() PaymentDeliveryMode {
	if p.PaymentDeliveryMode == PaymentExternalRedirect {
		return PaymentExternalRedirect
	}
	return PaymentIframe
}

// VerdictKind tags an [AccessVerdict].
type VerdictKind uint8

const (
	// VerdictAllow lets the requested view render.
	VerdictAllow VerdictKind = iota
	// VerdictRedirect sends the user to Target.
	VerdictRedirect
	// VerdictPending waits on the token validation port. It is never final.
	VerdictPending
)

func (k VerdictKind) String() string {
	switch k {
	case VerdictAllow:
		return "allow"
	case VerdictRedirect:
		return "redirect"
	case VerdictPending:
		return "pending"
	default:
		return "unknown"
	}
}

// AccessVerdict is the outcome of access classification.
type AccessVerdict struct {
	Kind   VerdictKind
	Target Route
}

// Allow is an exported constant or variable used by the routing engine.
func Allow() AccessVerdict { return AccessVerdict{Kind: VerdictAllow} }

// Redirect is an exported constant or variable used by the routing engine.
func Redirect(target Route) AccessVerdict {
	return AccessVerdict{Kind: VerdictRedirect, Target: target}
}

// Pending is an exported constant or variable used by the routing engine.
func Pending() AccessVerdict { return AccessVerdict{Kind: VerdictPending} }

// IsRedirect reports whether v redirects to target.
func (v AccessVerdict) IsRedirect(target Route) bool {
	return v.Kind == VerdictRedirect && v.Target == target
}

func (v AccessVerdict) String() string {
	if v.Kind == VerdictRedirect {
		return "redirect(" + string(v.Target) + ")"
	}
	return v.Kind.String()
}

// Screen names the view a caller should render once access is allowed.
type Screen string

const (
	ScreenNone              Screen = ""
	ScreenDefault           Screen = "default"
	ScreenPaymentFailed     Screen = "payment_failed"
	ScreenPaymentDraft      Screen = "payment_draft"
	ScreenPaymentProcessing Screen = "payment_processing"
)

// Decision is the final result of [Engine.Evaluate].
//
// Verdict is never VerdictPending. Patch may be empty. ExternalURL is set only
// when the caller must leave the portal (external payment redirect).
// ClearErrors is set on terminal success transitions; the form layer drops any
// error it is still displaying in the same step that applies Patch.
type Decision struct {
	Verdict      AccessVerdict
	Patch        SessionPatch
	Screen       Screen
	ExternalURL  string
	ForcedLogout bool
	ClearErrors  bool
}

// Navigation is a client-side transition requested by an action handler.
type Navigation struct {
	Target Route
	// Path is set when the destination needs organization-specific params,
	// e.g. /<org>/payment/<status>.
	Path string
}
