// Package progress carries scheduler run and batch events to pluggable sinks.
// Emitters never block: events are buffered, batched on a background goroutine
// and fanned out to sinks such as logs, Prometheus collectors or run history.
package progress
