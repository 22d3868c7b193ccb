// Package telemetry provides logging, tracing and metrics for lem.
//
// # Logging
//
// NewLogger builds a zerolog.Logger writing console or JSON lines to
// stdout, stderr or a file. ParseLevel accepts the zerolog level names and
// the upper-case DEBUG, INFO, WARNING, ERROR and CRITICAL spellings.
//
// # Tracing
//
// NewTracer installs an OpenTelemetry tracer provider exporting to stdout
// or to an OTLP gRPC collector. The engine opens a span tree of
// lemniscat.run, capability.<name>, solution.<name> and task.<executor>.
//
// # Metrics
//
// Metrics implements engine.Observer and keeps these series in a private
// registry:
//
//	lemniscat_runs_total{status}
//	lemniscat_run_duration_seconds{status}
//	lemniscat_tasks_total{capability,executor,status}
//	lemniscat_task_duration_seconds{capability,executor}
//	lemniscat_tasks_skipped_total{capability,reason}
//	lemniscat_capability_status{capability}
//
// They are written in Prometheus text format to MetricsConfig.File when the
// Telemetry is shut down.
package telemetry
