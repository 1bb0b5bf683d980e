package internaldefs

import (
	goPortal "github.com/MrEthical07/goPortal"
)

// CounterDef names one engine counter.
type CounterDef struct {
	ID   goPortal.MetricID
	Name string
	Help string
}

// HistogramDef names one engine latency histogram.
type HistogramDef struct {
	ID   goPortal.MetricID
	Name string
	Help string
}

// CounterDefs lists the exported counters in MetricID order.
var CounterDefs = []CounterDef{
	{ID: goPortal.MetricEvaluate, Name: "goportal_evaluate_total", Help: "Route evaluations."},
	{ID: goPortal.MetricRouteAllowed, Name: "goportal_route_allowed_total", Help: "Evaluations that allowed the requested route."},
	{ID: goPortal.MetricRouteRedirected, Name: "goportal_route_redirected_total", Help: "Evaluations that redirected the user."},
	{ID: goPortal.MetricTokenValidationFailure, Name: "goportal_token_validation_failure_total", Help: "Token validations that failed or errored."},
	{ID: goPortal.MetricForcedLogout, Name: "goportal_forced_logout_total", Help: "Forced logouts after token validation failure."},
	{ID: goPortal.MetricPhoneTokenIssued, Name: "goportal_phone_token_issued_total", Help: "Verification tokens issued."},
	{ID: goPortal.MetricPhoneTokenReused, Name: "goportal_phone_token_reused_total", Help: "Verification token requests answered from the session marker."},
	{ID: goPortal.MetricPhoneTokenFailure, Name: "goportal_phone_token_failure_total", Help: "Failed verification token issuances."},
	{ID: goPortal.MetricPhoneTokenCoalesced, Name: "goportal_phone_token_coalesced_total", Help: "Token requests that joined an issuance in flight."},
	{ID: goPortal.MetricPhoneResendRejected, Name: "goportal_phone_resend_rejected_total", Help: "Resend requests rejected during cooldown."},
	{ID: goPortal.MetricPhoneCodeSuccess, Name: "goportal_phone_code_success_total", Help: "Accepted verification codes."},
	{ID: goPortal.MetricPhoneCodeFailure, Name: "goportal_phone_code_failure_total", Help: "Rejected verification codes."},
	{ID: goPortal.MetricPhoneCodeCoalesced, Name: "goportal_phone_code_coalesced_total", Help: "Code submissions that joined an identical submission in flight."},
	{ID: goPortal.MetricPhoneCodeRateLimited, Name: "goportal_phone_code_rate_limited_total", Help: "Code submissions denied by the submission limiter."},
	{ID: goPortal.MetricPhoneNumberChanged, Name: "goportal_phone_number_changed_total", Help: "Phone number changes."},
	{ID: goPortal.MetricPaymentResolved, Name: "goportal_payment_resolved_total", Help: "Payment status resolutions."},
	{ID: goPortal.MetricPaymentEventIgnored, Name: "goportal_payment_event_ignored_total", Help: "Payment surface events of unknown type."},
	{ID: goPortal.MetricPaymentOriginRejected, Name: "goportal_payment_origin_rejected_total", Help: "Payment surface events from untrusted origins."},
	{ID: goPortal.MetricPaymentClosed, Name: "goportal_payment_closed_total", Help: "Payment surfaces closed with a resolved status."},
	{ID: goPortal.MetricPaymentLookupFailure, Name: "goportal_payment_lookup_failure_total", Help: "Failed payment status lookups."},
	{ID: goPortal.MetricPaymentLogout, Name: "goportal_payment_logout_total", Help: "Logouts from the payment screens."},
	{ID: goPortal.MetricStaleResponse, Name: "goportal_stale_response_total", Help: "Responses discarded after navigation."},
	{ID: goPortal.MetricServiceError, Name: "goportal_service_error_total", Help: "Service errors surfaced to the user."},
	{ID: goPortal.MetricSessionLogout, Name: "goportal_session_logout_total", Help: "Logouts from the verification screens."},
}

// HistogramDefs lists the latency histograms.
var HistogramDefs = []HistogramDef{
	{ID: goPortal.MetricEvaluateLatency, Name: "goportal_evaluate_latency_seconds", Help: "Evaluate latency histogram."},
	{ID: goPortal.MetricTokenValidationLatency, Name: "goportal_token_validation_latency_seconds", Help: "Token validation latency histogram."},
}

// HistogramBounds are the upper bounds, in seconds, of the engine buckets.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix renders HistogramBounds for metric names.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies a snapshot histogram into a fixed array. Missing
// buckets are zero.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into le-style running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
