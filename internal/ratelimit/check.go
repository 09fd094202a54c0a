package ratelimit

import (
	"math"
	"time"
)

// Reason names a decision branch.
type Reason string

const (
	ReasonAllowed  Reason = "allowed"
	ReasonBackoff  Reason = "backoff"
	ReasonSampling Reason = "sampling"
	ReasonTokens   Reason = "tokens"
)

// Decision is the outcome of one check.
type Decision struct {
	Allowed         bool          `json:"allowed"`
	Reason          Reason        `json:"reason"`
	RetryAfter      time.Duration `json:"retry_after,omitempty"`
	TokensRemaining float64       `json:"tokens_remaining"`
	SamplingRate    float64       `json:"sampling_rate"`
}

// RandFunc supplies the uniform [0,1) draw for sampling. Injectable so
// sampling decisions are deterministic in tests.
type RandFunc func() float64

// Check runs one limiter transition. Pure: no I/O, no mutation of s; the
// replacement state is returned.
//
// Branch order: refill, backoff short-circuit, sampling, token check,
// allow. A backoff rejection still counts in TotalRequests, the attempt
// happened even though it was answered from the backoff window. A
// sampling rejection is a deliberate drop, not a capacity failure: it
// never advances ConsecutiveRejects or the backoff window.
func Check(cfg Config, s State, level, errType string, now time.Time, randFn RandFunc) (Decision, State) {
	next := s.clone()

	// Refill. Negative elapsed (clock skew, state written by a peer with
	// a faster clock) never drains the bucket.
	if !next.LastRefill.IsZero() && cfg.RefillRate > 0 {
		if elapsed := now.Sub(next.LastRefill).Seconds(); elapsed > 0 {
			next.Tokens = math.Min(cfg.BurstCapacity, next.Tokens+elapsed*cfg.RefillRate)
		}
	}
	next.LastRefill = now

	rate := effectiveSamplingRate(cfg, next, level, errType, now)

	// Backoff short-circuit. No token is consumed and ConsecutiveRejects
	// does not grow further.
	if now.Before(next.BackoffUntil) {
		next.TotalRequests++
		return Decision{
			Reason:          ReasonBackoff,
			RetryAfter:      next.BackoffUntil.Sub(now),
			TokensRemaining: next.Tokens,
			SamplingRate:    rate,
		}, next
	}

	// Sampling.
	if rate < 1 && randFn != nil && randFn() > rate {
		next.TotalRequests++
		return Decision{
			Reason:          ReasonSampling,
			TokensRemaining: next.Tokens,
			SamplingRate:    rate,
		}, next
	}

	// Token check.
	if next.Tokens < 1 {
		next.TotalRequests++
		next.ConsecutiveRejects++
		window := backoffWindow(cfg, next.ConsecutiveRejects)
		next.BackoffUntil = now.Add(window)
		return Decision{
			Reason:          ReasonTokens,
			RetryAfter:      retryAfter(cfg, next.Tokens, window),
			TokensRemaining: next.Tokens,
			SamplingRate:    rate,
		}, next
	}

	// Allow.
	next.Tokens--
	next.ConsecutiveRejects = 0
	next.BackoffUntil = time.Time{}
	next.TotalRequests++
	next.SuccessfulRequests++
	return Decision{
		Allowed:         true,
		Reason:          ReasonAllowed,
		TokensRemaining: next.Tokens,
		SamplingRate:    rate,
	}, next
}

// backoffWindow grows exponentially with consecutive rejections, capped
// at MaxBackoff.
func backoffWindow(cfg Config, rejects int) time.Duration {
	window := time.Duration(float64(backoffBase) * math.Pow(cfg.BackoffMultiplier, float64(rejects)))
	if window <= 0 || window > cfg.MaxBackoff.Duration() {
		return cfg.MaxBackoff.Duration()
	}
	return window
}

// retryAfter estimates when the caller should retry: the time for one
// token to refill when refill is configured, otherwise the backoff
// window.
func retryAfter(cfg Config, tokens float64, window time.Duration) time.Duration {
	if cfg.RefillRate > 0 {
		refill := time.Duration((1 - tokens) / cfg.RefillRate * float64(time.Second))
		if refill > window {
			return refill
		}
	}
	return window
}

// effectiveSamplingRate combines the configured rate with the adaptive
// reduction when recent error volume exceeds the threshold. The adaptive
// rate is always at or below the configured rate and never drops under
// the floor.
func effectiveSamplingRate(cfg Config, s State, level, errType string, now time.Time) float64 {
	rate := cfg.samplingRate(level, errType)
	if !cfg.AdaptiveSampling {
		return rate
	}
	epm := errorsPerMinute(s.ErrorTimestamps, now)
	if float64(epm) <= cfg.ErrorThreshold {
		return rate
	}
	adaptive := math.Max(minSamplingRate, cfg.ErrorThreshold/float64(epm))
	return math.Min(rate, adaptive)
}

func errorsPerMinute(ts []time.Time, now time.Time) int {
	cutoff := now.Add(-time.Minute)
	n := 0
	for i := len(ts) - 1; i >= 0; i-- {
		if ts[i].Before(cutoff) {
			break
		}
		n++
	}
	return n
}
