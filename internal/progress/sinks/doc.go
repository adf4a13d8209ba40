// Package sinks implements progress consumers: structured logging, Prometheus
// collectors, and an in-memory status snapshot served by the API.
package sinks
