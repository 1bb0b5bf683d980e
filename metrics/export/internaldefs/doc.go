// Package internaldefs holds the portal metric names, help strings and
// evaluation latency buckets.
//
// The Prometheus and OTel exporters both read from [CounterDefs] and
// [HistogramDefs], so a rename here renames the series everywhere.
//
// # What this package must NOT do
//
//   - Import an exporter package.
//   - Perform I/O.
package internaldefs
