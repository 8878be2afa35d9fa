// Package middleware provides composable middleware around executor calls.
//
// A [Middleware] wraps the call that runs a job's executor. Middleware are
// composed with [Chain] and applied to every claimed job. The first
// middleware in the slice is the outermost wrapper.
//
//	// logging → recover → executor
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging]: logs each execution, at Warn or Error by error class
//   - [Recover]: converts executor panics into permanent failures
//   - [Tracing]: wraps each stage in an OpenTelemetry span tagged with its outcome
//   - [Metrics]: records per-stage duration, outcome and reruns
package middleware
