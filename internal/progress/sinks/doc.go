// Package sinks implements progress consumers: structured logging,
// Prometheus collectors, and run-summary publication.
package sinks
