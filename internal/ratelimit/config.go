// Package ratelimit bounds log volume with a token bucket, exponential
// backoff under sustained rejection, and per-level sampling that adapts to
// recent error frequency.
//
// The core algorithm is a pure state transition: Check takes a config and
// a state and returns a decision and a replacement state, touching no I/O.
// Limiter binds that transition to shared key-value storage, where two
// concurrent checks for the same key are a read-modify-write race;
// last-write-wins is accepted, the limiter is approximate by design and a
// marginal false allow or reject is tolerable.
package ratelimit

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/logwarden/internal/config"
)

// Default tunables. AdaptiveWindow bounds how long error timestamps are
// retained; HighVolumeThreshold is the errors-per-minute level above which
// analysis recommends reduced sampling.
const (
	DefaultAdaptiveWindow      = 5 * time.Minute
	DefaultHighVolumeThreshold = 100

	// backoffBase is the unit backoff window before exponential growth.
	backoffBase = time.Second

	// minSamplingRate floors adaptive reduction so no level is ever
	// silenced entirely by volume alone.
	minSamplingRate = 0.1

	// maxErrorTimestamps caps retained error history regardless of window.
	maxErrorTimestamps = 1000
)

// Config holds limiter tuning parameters. Treat instances as immutable:
// they are passed by value and never mutated by the limiter.
type Config struct {
	MaxTokens         float64         `koanf:"max_tokens"`
	RefillRate        float64         `koanf:"refill_rate"` // tokens/sec; zero means a fixed bucket
	BurstCapacity     float64         `koanf:"burst_capacity"`
	BackoffMultiplier float64         `koanf:"backoff_multiplier"`
	MaxBackoff        config.Duration `koanf:"max_backoff"`

	// ErrorThreshold is the errors-per-minute rate above which adaptive
	// sampling engages.
	ErrorThreshold   float64 `koanf:"error_threshold"`
	AdaptiveSampling bool    `koanf:"adaptive_sampling"`

	// SamplingRates maps a log level or error-type name to a pass
	// probability in [0,1]. Missing names default to 1.0.
	SamplingRates map[string]float64 `koanf:"sampling_rates"`

	// Overrides supplies complete per-endpoint configs keyed by endpoint
	// identifier.
	Overrides map[string]Config `koanf:"overrides"`

	AdaptiveWindow      config.Duration `koanf:"adaptive_window"`
	HighVolumeThreshold int             `koanf:"high_volume_threshold"`
}

// NewDefaultConfig returns a permissive steady-state config: one hundred
// tokens refilling at ten per second, everything sampled at 1.0.
func NewDefaultConfig() Config {
	return Config{
		MaxTokens:         100,
		RefillRate:        10,
		BurstCapacity:     150,
		BackoffMultiplier: 2,
		MaxBackoff:        config.Duration(60 * time.Second),
		ErrorThreshold:    10,
		AdaptiveSampling:  true,
		SamplingRates: map[string]float64{
			"trace": 0.1,
			"debug": 0.5,
			"info":  1.0,
			"warn":  1.0,
			"error": 1.0,
			"fatal": 1.0,
		},
		AdaptiveWindow:      config.Duration(DefaultAdaptiveWindow),
		HighVolumeThreshold: DefaultHighVolumeThreshold,
	}
}

// Validate checks the config, overrides included.
func (c Config) Validate() error {
	if c.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be positive, got %v", c.MaxTokens)
	}
	if c.RefillRate < 0 {
		return fmt.Errorf("refill_rate cannot be negative, got %v", c.RefillRate)
	}
	if c.BurstCapacity < c.MaxTokens {
		return fmt.Errorf("burst_capacity (%v) must be at least max_tokens (%v)", c.BurstCapacity, c.MaxTokens)
	}
	if c.BackoffMultiplier <= 1 {
		return fmt.Errorf("backoff_multiplier must exceed 1, got %v", c.BackoffMultiplier)
	}
	if c.MaxBackoff.Duration() <= 0 {
		return fmt.Errorf("max_backoff must be positive, got %s", c.MaxBackoff.Duration())
	}
	if c.ErrorThreshold <= 0 {
		return fmt.Errorf("error_threshold must be positive, got %v", c.ErrorThreshold)
	}
	for name, rate := range c.SamplingRates {
		if rate < 0 || rate > 1 {
			return fmt.Errorf("sampling rate for %q must be in [0,1], got %v", name, rate)
		}
	}
	for endpoint, override := range c.Overrides {
		if err := override.Validate(); err != nil {
			return fmt.Errorf("override for endpoint %q: %w", endpoint, err)
		}
	}
	return nil
}

// forEndpoint resolves the effective config for an endpoint.
func (c Config) forEndpoint(endpoint string) Config {
	if override, ok := c.Overrides[endpoint]; ok {
		return override
	}
	return c
}

// samplingRate returns the configured pass probability, preferring an
// error-type entry over the level entry. Unconfigured names pass.
func (c Config) samplingRate(level, errType string) float64 {
	if errType != "" {
		if rate, ok := c.SamplingRates[errType]; ok {
			return rate
		}
	}
	if rate, ok := c.SamplingRates[level]; ok {
		return rate
	}
	return 1.0
}
