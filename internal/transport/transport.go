// Package transport delivers sanitized log records to external sinks: a
// NATS subject tree for in-cluster streaming and a Loki-style HTTP push
// endpoint. A Batcher sits in front of either sink, absorbing the
// per-record cost of the hot logging path.
package transport

import (
	"context"
	"time"
)

// Record is one transport-bound log entry. Metadata has already been
// through sanitization; transports never inspect or rewrite it.
type Record struct {
	Timestamp time.Time         `json:"timestamp"`
	Level     string            `json:"level"`
	Message   string            `json:"message"`
	Labels    map[string]string `json:"labels,omitempty"`
	Metadata  map[string]any    `json:"metadata,omitempty"`
}

// Transport delivers batches of records to a sink.
type Transport interface {
	// Send delivers records. Delivery order within the batch follows
	// slice order to the extent the sink preserves submission order.
	Send(ctx context.Context, records []Record) error

	// Flush pushes any sink-side buffering.
	Flush(ctx context.Context) error

	// Shutdown flushes and releases the sink. The transport is unusable
	// afterwards.
	Shutdown(ctx context.Context) error
}
