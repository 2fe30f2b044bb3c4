// Package sinks implements progress consumers: Prometheus collectors, the
// run repository, and structured logging.
package sinks
