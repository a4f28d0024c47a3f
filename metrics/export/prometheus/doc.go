// Package prometheus renders goRecovery counters in Prometheus text
// exposition format.
//
// Step outcomes share gorecovery_step_total with step and outcome labels;
// rejections and proxy refusals carry a reason label. The only histogram is
// gorecovery_upstream_latency_seconds. The proxy mounts
// [PrometheusExporter.Handler] at GET /metrics.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry. Callers mount the Handler.
//   - Mutate engine state.
package prometheus
