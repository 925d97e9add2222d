// Package sinks provides progress.Sink implementations: structured logging
// via zap and metric export via Prometheus.
package sinks
