package goPortal

import "strings"

// Route is the kind of view a path resolves to, independent of organization.
type Route string

const (
	RouteLogin                Route = "login"
	RouteRegistration         Route = "registration"
	RoutePasswordReset        Route = "password/reset"
	RoutePasswordResetConfirm Route = "password/reset/confirm"

	RouteStatus            Route = "status"
	RoutePasswordChange    Route = "change-password"
	RoutePhoneChange       Route = "change-phone-number"
	RoutePhoneVerification Route = "mobile-phone-verification"
	RoutePaymentStatus     Route = "payment/status"
	RoutePaymentDraft      Route = "payment/draft"
	RoutePaymentProcess    Route = "payment/process"

	RouteUnknown Route = ""
)

// Payment status values carried by /<org>/payment/<status>.
const (
	PaymentStatusDraft   = "draft"
	PaymentStatusPending = "pending"
	PaymentStatusSuccess = "success"
	PaymentStatusFailed  = "failed"
)

// Route params.
const (
	ParamOrg    = "org"
	ParamStatus = "status"
	ParamUID    = "uid"
	ParamToken  = "token"
)

var publicOnlyRoutes = map[Route]struct{}{
	RouteLogin:                {},
	RouteRegistration:         {},
	RoutePasswordReset:        {},
	RoutePasswordResetConfirm: {},
}

var protectedRoutes = map[Route]struct{}{
	RouteStatus:            {},
	RoutePasswordChange:    {},
	RoutePhoneChange:       {},
	RoutePhoneVerification: {},
	RoutePaymentStatus:     {},
	RoutePaymentDraft:      {},
	RoutePaymentProcess:    {},
}

// IsProtected reports whether r requires an authenticated session.
func (r Route) IsProtected() bool {
	_, ok := protectedRoutes[r]
	return ok
}

// IsPublicOnly reports whether r is reserved for anonymous users.
func (r Route) IsPublicOnly() bool {
	_, ok := publicOnlyRoutes[r]
	return ok
}

// IsPayment reports whether r belongs to the payment surface.
func (r Route) IsPayment() bool {
	return r == RoutePaymentStatus || r == RoutePaymentDraft || r == RoutePaymentProcess
}

// RouteRequest is one navigation attempt. Route is derived from Path by
// [ParseRoute]; Params carries path and query values such as status, uid and token.
type RouteRequest struct {
	Path   string
	Route  Route
	Params map[string]string
}

// Param returns a request param or "".
func (r RouteRequest) Param(name string) string {
	if r.Params == nil {
		return ""
	}
	return r.Params[name]
}

// Org returns the organization slug of the request.
func (r RouteRequest) Org() string {
	return r.Param(ParamOrg)
}

// PaymentStatus returns the payment status param for payment routes.
func (r RouteRequest) PaymentStatus() string {
	switch r.Route {
	case RoutePaymentDraft:
		return PaymentStatusDraft
	case RoutePaymentStatus:
		return r.Param(ParamStatus)
	default:
		return ""
	}
}

// ParseRoute resolves a portal path of the form /<org>/<route...> into a
// RouteRequest. Payment status paths (/<org>/payment/<status>) carry the status
// as a param; /<org>/payment/draft and /<org>/payment/process get their own kinds.
// Password reset confirmation paths carry uid and token params.
func ParseRoute(path string) RouteRequest {
	req := RouteRequest{Path: path, Params: map[string]string{}}

	segments := splitPath(path)
	if len(segments) == 0 {
		return req
	}
	req.Params[ParamOrg] = segments[0]
	rest := segments[1:]

	switch {
	case len(rest) == 1:
		switch r := Route(rest[0]); r {
		case RouteLogin, RouteRegistration, RouteStatus, RoutePasswordChange,
			RoutePhoneChange, RoutePhoneVerification:
			req.Route = r
		}
	case len(rest) == 2 && rest[0] == "password" && rest[1] == "reset":
		req.Route = RoutePasswordReset
	case len(rest) == 5 && rest[0] == "password" && rest[1] == "reset" && rest[2] == "confirm":
		req.Route = RoutePasswordResetConfirm
		req.Params[ParamUID] = rest[3]
		req.Params[ParamToken] = rest[4]
	case len(rest) == 2 && rest[0] == "payment":
		switch rest[1] {
		case PaymentStatusDraft:
			req.Route = RoutePaymentDraft
		case "process":
			req.Route = RoutePaymentProcess
		default:
			req.Route = RoutePaymentStatus
			req.Params[ParamStatus] = rest[1]
		}
	}

	return req
}

// Path builds the absolute path of r inside org.
func Path(org string, r Route) string {
	return "/" + org + "/" + string(r)
}

// PaymentStatusPath builds /<org>/payment/<status>.
func PaymentStatusPath(org, status string) string {
	return "/" + org + "/payment/" + status
}

func splitPath(path string) []string {
	parts := strings.Split(path, "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
