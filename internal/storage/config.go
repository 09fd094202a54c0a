package storage

import (
	"fmt"
	"os"
	"time"

	"github.com/fyrsmithlabs/logwarden/internal/config"
)

// Backend type names.
const (
	TypeMemory     = "memory"
	TypeRedis      = "redis"
	TypeEdgeConfig = "edgeconfig"
)

// Config describes a storage backend. Treat instances as immutable once
// constructed; derive changed copies instead of mutating.
type Config struct {
	Type string `koanf:"type"`

	// Redis backend
	RedisURL config.Secret `koanf:"redis_url"`

	// Edge-config backend
	EdgeConfigURL   string        `koanf:"edge_config_url"`
	EdgeConfigID    string        `koanf:"edge_config_id"`
	EdgeConfigToken config.Secret `koanf:"edge_config_token"`

	DefaultTTL      config.Duration `koanf:"default_ttl"`
	MaxRetries      int             `koanf:"max_retries"`
	Timeout         config.Duration `koanf:"timeout"`
	FallbackEnabled bool            `koanf:"fallback_enabled"`
}

// NewDefaultConfig returns a memory-backed config with standard limits.
func NewDefaultConfig() *Config {
	return &Config{
		Type:            TypeMemory,
		DefaultTTL:      config.Duration(3600 * time.Second),
		MaxRetries:      3,
		Timeout:         config.Duration(5 * time.Second),
		FallbackEnabled: true,
	}
}

// Environment variables consulted by FromEnv, in precedence order.
const (
	envRedisURL        = "LOGWARDEN_STORAGE_REDIS_URL"
	envEdgeConfigID    = "LOGWARDEN_STORAGE_EDGE_CONFIG_ID"
	envEdgeConfigToken = "LOGWARDEN_STORAGE_EDGE_CONFIG_TOKEN"
	envEdgeConfigURL   = "LOGWARDEN_STORAGE_EDGE_CONFIG_URL"
)

// FromEnv derives a config from environment signals: a Redis connection
// string wins, then an edge-config id+token pair, then memory.
func FromEnv() *Config {
	cfg := NewDefaultConfig()

	if url := os.Getenv(envRedisURL); url != "" {
		cfg.Type = TypeRedis
		cfg.RedisURL = config.Secret(url)
		return cfg
	}

	id := os.Getenv(envEdgeConfigID)
	token := os.Getenv(envEdgeConfigToken)
	if id != "" && token != "" {
		cfg.Type = TypeEdgeConfig
		cfg.EdgeConfigID = id
		cfg.EdgeConfigToken = config.Secret(token)
		cfg.EdgeConfigURL = os.Getenv(envEdgeConfigURL)
		return cfg
	}

	return cfg
}

// Validate checks the config for errors.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	switch c.Type {
	case TypeMemory:
	case TypeRedis:
		if !c.RedisURL.IsSet() {
			return fmt.Errorf("redis_url is required for type %q", TypeRedis)
		}
	case TypeEdgeConfig:
		if c.EdgeConfigID == "" {
			return fmt.Errorf("edge_config_id is required for type %q", TypeEdgeConfig)
		}
		if !c.EdgeConfigToken.IsSet() {
			return fmt.Errorf("edge_config_token is required for type %q", TypeEdgeConfig)
		}
	default:
		return fmt.Errorf("unknown storage type %q", c.Type)
	}

	if c.DefaultTTL.Duration() <= 0 {
		return fmt.Errorf("default_ttl must be positive, got %s", c.DefaultTTL.Duration())
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("max_retries must be positive, got %d", c.MaxRetries)
	}
	if c.Timeout.Duration() <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout.Duration())
	}

	return nil
}

// New instantiates the backend described by cfg. An invalid config fails
// closed to a memory backend when FallbackEnabled is set, never silently:
// the returned fallback error carries the reason while the returned KV is
// usable.
func New(cfg *Config) (KV, error) {
	if err := cfg.Validate(); err != nil {
		if cfg != nil && cfg.FallbackEnabled {
			return NewMemory(NewDefaultConfig()), fmt.Errorf("falling back to memory storage: %w", err)
		}
		return nil, err
	}

	switch cfg.Type {
	case TypeRedis:
		kv, err := NewRedis(cfg)
		if err != nil {
			if cfg.FallbackEnabled {
				return NewMemory(cfg), fmt.Errorf("falling back to memory storage: %w", err)
			}
			return nil, err
		}
		return kv, nil
	case TypeEdgeConfig:
		return NewEdgeConfig(cfg), nil
	default:
		return NewMemory(cfg), nil
	}
}
