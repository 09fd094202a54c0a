package storage

import (
	"context"
	"sync"
	"time"

	"github.com/fyrsmithlabs/logwarden/internal/metrics"
)

// Memory is an in-process KV with per-entry expiry. Safe for concurrent
// use; disjoint keys never corrupt each other and same-key writers are
// last-write-wins.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry

	defaultTTL time.Duration

	janitorOnce sync.Once
	janitorStop chan struct{}
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemory creates a memory backend using cfg's default TTL.
func NewMemory(cfg *Config) *Memory {
	ttl := time.Hour
	if cfg != nil && cfg.DefaultTTL.Duration() > 0 {
		ttl = cfg.DefaultTTL.Duration()
	}
	return &Memory{
		entries:     make(map[string]memoryEntry),
		defaultTTL:  ttl,
		janitorStop: make(chan struct{}),
	}
}

// Backend implements KV.
func (m *Memory) Backend() string { return TypeMemory }

// Get implements KV.
func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	defer observe(TypeMemory, "get", time.Now())
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok || time.Now().After(entry.expiresAt) {
		return nil, nil
	}
	// Copy so callers cannot mutate the stored value.
	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, nil
}

// Set implements KV.
func (m *Memory) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	defer observe(TypeMemory, "set", time.Now())
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = m.defaultTTL
	}

	stored := make([]byte, len(value))
	copy(stored, value)

	m.mu.Lock()
	m.entries[key] = memoryEntry{value: stored, expiresAt: time.Now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

// Delete implements KV.
func (m *Memory) Delete(ctx context.Context, key string) error {
	defer observe(TypeMemory, "delete", time.Now())
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// Exists implements KV.
func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	v, err := m.Get(ctx, key)
	if err != nil {
		return false, err
	}
	return v != nil, nil
}

// Len returns the number of entries, expired included. For tests.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// StartJanitor begins periodic eviction of expired entries. Stops when ctx
// is cancelled. Safe to call once; later calls are no-ops.
func (m *Memory) StartJanitor(ctx context.Context, every time.Duration) {
	m.janitorOnce.Do(func() {
		t := time.NewTicker(every)
		go func() {
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-m.janitorStop:
					return
				case <-t.C:
					m.evictExpired()
				}
			}
		}()
	})
}

func (m *Memory) evictExpired() {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, e := range m.entries {
		if now.After(e.expiresAt) {
			delete(m.entries, k)
		}
	}
}

// observe records operation latency.
func observe(backend, op string, start time.Time) {
	metrics.ObserveStorageOp(backend, op, time.Since(start))
}
