// Package sinks implements concrete progress consumers: Prometheus metrics,
// structured logging and a publisher that forwards alerts and scan outcomes
// to a topic. Each sink satisfies the progress.Sink interface and is safe for
// repeated Consume/Close cycles.
package sinks
