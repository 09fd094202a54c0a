// Package storage gives the rate limiter (and any other shared-counter
// consumer) a uniform, swappable key-value persistence interface with
// three backends: in-process memory, Redis, and an edge-config-style HTTP
// service.
//
// Read/write failure policy is asymmetric on the remote backends: Get
// fails open (returns absent) so a storage outage never blocks the hot
// logging path, while Set and Delete surface their errors so callers can
// detect failed writes for retry or alerting.
package storage

import (
	"context"
	"time"
)

// KV is the storage interface. All operations honor ctx cancellation and
// the backend's configured timeout.
type KV interface {
	// Get returns the value for key, or (nil, nil) when the key is absent
	// or expired. Remote backends also return (nil, nil) on transport
	// errors: reads fail open.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key with the given TTL. A zero ttl uses the
	// backend's configured default. Write errors are returned.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether key is present and unexpired.
	Exists(ctx context.Context, key string) (bool, error)

	// Backend names the implementation for metrics and diagnostics.
	Backend() string
}

// Closer is implemented by backends holding connections.
type Closer interface {
	Close() error
}
