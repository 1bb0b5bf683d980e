// Package tokenapi is the HTTP client for the organization account service.
//
// [Client] implements goPortal.TokenService, goPortal.PaymentStatusLookup and
// goPortal.TokenValidator against the JSON API. Transport retries are handled
// by go-retryablehttp; only idempotent requests are retried on 5xx. Every
// call opens an OpenTelemetry client span.
//
// Non-2xx responses are returned as *goPortal.ServiceError built from the
// status and the raw response body, so callers classify them with errors.Is
// against the goPortal kinds.
//
// # What this package must NOT do
//
//   - Decide routing or patch sessions.
//   - Log response bodies (they are handed to the audit sink by the engine).
package tokenapi
