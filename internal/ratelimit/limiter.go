package ratelimit

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/fyrsmithlabs/logwarden/internal/metrics"
	"github.com/fyrsmithlabs/logwarden/internal/sanitize"
	"github.com/fyrsmithlabs/logwarden/internal/storage"
)

// Limiter binds the pure Check transition to shared key-value storage.
// State is read-modify-written per check; concurrent checks for the same
// key race and the last write wins, which is acceptable for an
// approximate limiter.
//
// Storage failures fail OPEN: a storage outage must never silently drop
// real error signals, so an unreadable or unwritable state allows the
// log through.
type Limiter struct {
	mu    sync.RWMutex
	cfg   Config
	store storage.KV

	// injectable for tests
	clock  func() time.Time
	randFn RandFunc
}

// Option adjusts a Limiter at construction.
type Option func(*Limiter)

// WithClock replaces the time source.
func WithClock(clock func() time.Time) Option {
	return func(l *Limiter) { l.clock = clock }
}

// WithRand replaces the sampling draw.
func WithRand(fn RandFunc) Option {
	return func(l *Limiter) { l.randFn = fn }
}

// NewLimiter validates cfg and builds a limiter over store.
func NewLimiter(cfg Config, store storage.KV, opts ...Option) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	l := &Limiter{
		cfg:    cfg,
		store:  store,
		clock:  time.Now,
		randFn: rand.Float64,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// SetConfig swaps the live configuration, validating first. Persisted
// per-key state is untouched; the next check for each key applies the
// new limits.
func (l *Limiter) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	l.cfg = cfg
	l.mu.Unlock()
	return nil
}

func (l *Limiter) config() Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// Check decides whether one log call for (client, endpoint) may proceed.
func (l *Limiter) Check(ctx context.Context, client, endpoint, level, errType string) Decision {
	now := l.clock()
	cfg := l.config().forEndpoint(endpoint)
	key := sanitize.StateKey(client, endpoint)

	state, ok := l.loadState(ctx, cfg, key, now)
	if !ok {
		metrics.IncLimiterDecision(string(ReasonAllowed))
		return Decision{Allowed: true, Reason: ReasonAllowed, SamplingRate: 1.0}
	}

	decision, next := Check(cfg, state, level, errType, now, l.randFn)
	l.saveState(ctx, key, next)

	metrics.IncLimiterDecision(string(decision.Reason))
	return decision
}

// RecordError notes a classified error for (client, endpoint) so adaptive
// sampling can react to its frequency.
func (l *Limiter) RecordError(ctx context.Context, client, endpoint, errType string) {
	now := l.clock()
	cfg := l.config().forEndpoint(endpoint)
	key := sanitize.StateKey(client, endpoint)

	state, ok := l.loadState(ctx, cfg, key, now)
	if !ok {
		return
	}
	l.saveState(ctx, key, RecordError(cfg, state, errType, now))
}

// Stats summarizes the current state for (client, endpoint).
func (l *Limiter) Stats(ctx context.Context, client, endpoint string) Stats {
	now := l.clock()
	cfg := l.config().forEndpoint(endpoint)
	state, _ := l.loadState(ctx, cfg, sanitize.StateKey(client, endpoint), now)
	return StatsFor(cfg, state, now)
}

// Analyze reports recent error pressure for (client, endpoint).
func (l *Limiter) Analyze(ctx context.Context, client, endpoint string) Analysis {
	now := l.clock()
	cfg := l.config().forEndpoint(endpoint)
	state, _ := l.loadState(ctx, cfg, sanitize.StateKey(client, endpoint), now)
	return AnalyzeErrorFrequency(cfg, state, now)
}

// Reset rebuilds the state for (client, endpoint) at full tokens,
// optionally preserving error history.
func (l *Limiter) Reset(ctx context.Context, client, endpoint string, preserveErrorCounts bool) error {
	now := l.clock()
	cfg := l.config().forEndpoint(endpoint)
	key := sanitize.StateKey(client, endpoint)

	state, ok := l.loadState(ctx, cfg, key, now)
	if !ok {
		state = NewState(cfg, now)
	}
	next := Reset(cfg, state, preserveErrorCounts, now)

	payload, err := json.Marshal(next)
	if err != nil {
		return err
	}
	return l.store.Set(ctx, key, payload, 0)
}

// loadState fetches and decodes the persisted state. The second return is
// false only on a storage read error, signaling the caller to fail open.
// Absent keys and undecodable snapshots both reconstruct a fresh state:
// stored state is disposable, not a migration-sensitive schema.
func (l *Limiter) loadState(ctx context.Context, cfg Config, key string, now time.Time) (State, bool) {
	raw, err := l.store.Get(ctx, key)
	if err != nil {
		return State{}, false
	}
	if raw == nil {
		return NewState(cfg, now), true
	}
	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		return NewState(cfg, now), true
	}
	return state, true
}

// saveState persists the replacement state. Write errors are dropped
// here; the decision already happened and failing open means the check
// outcome stands regardless of persistence.
func (l *Limiter) saveState(ctx context.Context, key string, state State) {
	payload, err := json.Marshal(state)
	if err != nil {
		return
	}
	_ = l.store.Set(ctx, key, payload, 0)
}
