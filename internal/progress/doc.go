// Package progress provides the event primitives, non-blocking hub, and emitter
// interface used to report scan progress and raised alerts. The hub batches
// events on a background goroutine and fans them out to pluggable sinks such
// as logs, Prometheus metrics or a Pub/Sub topic. Delivery is best-effort.
package progress
