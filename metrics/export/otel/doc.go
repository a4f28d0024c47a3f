// Package otel binds goRecovery counters to OpenTelemetry observable
// instruments.
//
// [NewOTelExporter] registers one Int64ObservableCounter per metric family,
// told apart by step, outcome or reason attributes, and one
// Int64ObservableGauge of cumulative latency buckets keyed by le. A single
// callback reads the snapshot on each collection cycle.
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Mutate engine state.
package otel
