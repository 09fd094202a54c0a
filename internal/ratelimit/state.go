package ratelimit

import "time"

// State is the per-(client, endpoint) limiter snapshot persisted in
// key-value storage. Transitions never mutate a State in place; they
// return a replacement. Stored snapshots are disposable, a failed decode
// simply reconstructs a fresh state.
type State struct {
	Tokens             float64          `json:"tokens"`
	LastRefill         time.Time        `json:"last_refill"`
	ConsecutiveRejects int              `json:"consecutive_rejects"`
	BackoffUntil       time.Time        `json:"backoff_until"`
	TotalRequests      int64            `json:"total_requests"`
	SuccessfulRequests int64            `json:"successful_requests"`
	ErrorCounts        map[string]int64 `json:"error_counts,omitempty"`
	ErrorTimestamps    []time.Time      `json:"error_timestamps,omitempty"`
}

// NewState returns a fresh state at full tokens.
func NewState(cfg Config, now time.Time) State {
	return State{
		Tokens:     cfg.MaxTokens,
		LastRefill: now,
	}
}

// clone deep-copies the state so a transition can build its replacement
// without aliasing the input's map and slice.
func (s State) clone() State {
	out := s
	if s.ErrorCounts != nil {
		out.ErrorCounts = make(map[string]int64, len(s.ErrorCounts))
		for k, v := range s.ErrorCounts {
			out.ErrorCounts[k] = v
		}
	}
	if s.ErrorTimestamps != nil {
		out.ErrorTimestamps = make([]time.Time, len(s.ErrorTimestamps))
		copy(out.ErrorTimestamps, s.ErrorTimestamps)
	}
	return out
}

// Reset produces a fresh state at full tokens and zeroed counters.
// With preserveErrorCounts, error history carries over so adaptive
// sampling keeps its trend across the reset.
func Reset(cfg Config, s State, preserveErrorCounts bool, now time.Time) State {
	out := NewState(cfg, now)
	if preserveErrorCounts {
		prev := s.clone()
		out.ErrorCounts = prev.ErrorCounts
		out.ErrorTimestamps = prev.ErrorTimestamps
	}
	return out
}

// RecordError notes one classified error occurrence on the state,
// pruning history to cfg's adaptive window.
func RecordError(cfg Config, s State, errType string, now time.Time) State {
	out := s.clone()
	if out.ErrorCounts == nil {
		out.ErrorCounts = make(map[string]int64)
	}
	out.ErrorCounts[errType]++
	out.ErrorTimestamps = append(out.ErrorTimestamps, now)
	out.ErrorTimestamps = pruneTimestamps(out.ErrorTimestamps, cfg.adaptiveWindow(), now)
	return out
}

func (c Config) adaptiveWindow() time.Duration {
	if c.AdaptiveWindow.Duration() > 0 {
		return c.AdaptiveWindow.Duration()
	}
	return DefaultAdaptiveWindow
}

func pruneTimestamps(ts []time.Time, window time.Duration, now time.Time) []time.Time {
	cutoff := now.Add(-window)
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	ts = ts[i:]
	if len(ts) > maxErrorTimestamps {
		ts = ts[len(ts)-maxErrorTimestamps:]
	}
	return ts
}

// Stats summarizes a state for diagnostics endpoints.
type Stats struct {
	TotalRequests      int64         `json:"total_requests"`
	SuccessfulRequests int64         `json:"successful_requests"`
	SuccessRate        float64       `json:"success_rate"`
	Utilization        float64       `json:"utilization"`
	InBackoff          bool          `json:"in_backoff"`
	BackoffRemaining   time.Duration `json:"backoff_remaining"`
	ConsecutiveRejects int           `json:"consecutive_rejects"`
}

// StatsFor computes summary statistics for a state.
func StatsFor(cfg Config, s State, now time.Time) Stats {
	st := Stats{
		TotalRequests:      s.TotalRequests,
		SuccessfulRequests: s.SuccessfulRequests,
		ConsecutiveRejects: s.ConsecutiveRejects,
	}
	if s.TotalRequests > 0 {
		st.SuccessRate = float64(s.SuccessfulRequests) / float64(s.TotalRequests)
	}
	if cfg.BurstCapacity > 0 {
		st.Utilization = s.Tokens / cfg.BurstCapacity
	}
	if now.Before(s.BackoffUntil) {
		st.InBackoff = true
		st.BackoffRemaining = s.BackoffUntil.Sub(now)
	}
	return st
}
