// Package otel publishes goPortal route and verification metrics as
// OpenTelemetry observable instruments.
//
// [NewOTelExporter] registers one Int64ObservableCounter per counter and one
// Int64ObservableGauge per histogram bucket. A single callback reads
// [goPortal.Engine.MetricsSnapshot] on each collection cycle.
//
// The caller owns the MeterProvider and supplies the Meter.
package otel
