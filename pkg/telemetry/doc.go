// Package telemetry provides structured logging, Prometheus metrics, and
// OpenTelemetry tracing for the Ember engine.
//
// The Logger wraps zerolog and travels through context so the scheduler and
// executors log with run and job fields attached. Metrics cover job, step,
// cache, and fuzz campaign activity. The Tracer emits one span per run, job,
// and step.
package telemetry
