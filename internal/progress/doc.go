// Package progress turns harvest lifecycle callbacks into events and fans
// them out, batched on a background goroutine, to pluggable sinks such as
// Prometheus collectors, the run repository, or the log.
package progress
