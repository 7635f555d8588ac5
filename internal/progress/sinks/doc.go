// Package sinks implements progress consumers: structured logs, Prometheus
// collectors and run history persisted through a store.RunRepository.
package sinks
