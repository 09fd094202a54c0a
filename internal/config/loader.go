// Package config provides configuration loading for logwarden.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (LOGWARDEN_LOGGING_LEVEL, LOGWARDEN_STORAGE_TYPE, ...)
//  2. YAML config file
//  3. Package defaults
//
// Section packages (logging, storage, ratelimit, transport, telemetry) own
// their config structs and validation; this package supplies the shared
// wrapper types (Duration, Secret) and the koanf-based loader.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix is the prefix for all logwarden environment variables.
	EnvPrefix = "LOGWARDEN_"

	maxConfigFileSize = 1024 * 1024 // 1MB
)

// Validator is implemented by config structs that can check themselves.
type Validator interface {
	Validate() error
}

// Load populates out from the YAML file at path (if non-empty and present),
// then overrides with LOGWARDEN_* environment variables.
//
// Environment variables map to config keys by lowercasing and splitting on
// the first underscore after the section name:
//
//	LOGWARDEN_LOGGING_LEVEL        -> logging.level
//	LOGWARDEN_STORAGE_REDIS_URL    -> storage.redis_url
//	LOGWARDEN_RATELIMIT_MAX_TOKENS -> ratelimit.max_tokens
//
// If out implements Validator, Validate is called after unmarshaling.
func Load(path string, out any) error {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			content, err := readConfigFile(path)
			if err != nil {
				return err
			}
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKeyTransform), nil); err != nil {
		return fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := k.Unmarshal("", out); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if v, ok := out.(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
	}

	return nil
}

// envKeyTransform maps LOGWARDEN_SECTION_FIELD_NAME to section.field_name.
// The section is everything before the first underscore; the remainder keeps
// its underscores so compound field names survive.
func envKeyTransform(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// readConfigFile opens and reads a config file, validating its properties
// via the open file descriptor to avoid TOCTOU races.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	// World-readable config files can leak connection strings and tokens.
	if info.Mode().Perm()&0o044 != 0 {
		return nil, fmt.Errorf("config file %s must not be group/world readable (have %04o, want 0600)", path, info.Mode().Perm())
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}
