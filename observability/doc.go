// Package observability provides OpenTelemetry lifecycle metrics for
// mediaflow. MetricsExtension implements the extension hooks and counts
// job creation, claims, completions, failures and retries per job type.
// RegisterPoolGauges exports worker pool occupancy.
//
// For per-execution tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
