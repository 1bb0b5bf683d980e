// Package prometheus renders goPortal engine metrics in the Prometheus text
// exposition format.
//
// [NewPrometheusExporter] accepts a [goPortal.Engine] and exposes an
// [http.Handler]. Counter names are prefixed goportal_*_total; the latency
// histograms are goportal_evaluate_latency_seconds and
// goportal_token_validation_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry; callers mount the Handler.
//   - Mutate engine state.
package prometheus
