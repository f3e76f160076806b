// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing setup, health checks, and graceful shutdown for the
// registry server.
package observability
