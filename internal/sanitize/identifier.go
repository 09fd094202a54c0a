package sanitize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	// MaxIdentifierLength bounds key components stored in the KV backends.
	// Redis keys are unbounded but edge-config item names are not, and short
	// keys keep SCAN-style tooling usable.
	MaxIdentifierLength = 64

	// hashSuffixLength is the length of the hash suffix added to truncated
	// identifiers: _<8-char-hash>.
	hashSuffixLength = 9

	// DefaultIdentifier is used when sanitization produces an empty result.
	DefaultIdentifier = "default"
)

// Identifier sanitizes a string for use as a storage key component.
//
// Rules applied:
//   - Converts to lowercase
//   - Replaces invalid characters with underscores
//   - Collapses multiple underscores, trims leading/trailing ones
//   - Truncates to MaxIdentifierLength with a hash suffix if too long
//   - Returns DefaultIdentifier if the result would be empty
//
// Examples:
//
//	"api.example.com/v1" -> "api_example_com_v1"
//	"GET /users/:id"     -> "get_users_id"
//	"" or "!!!"          -> "default"
func Identifier(s string) string {
	if s == "" {
		return DefaultIdentifier
	}

	s = strings.ToLower(s)

	var result strings.Builder
	result.Grow(len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			result.WriteRune(r)
		} else {
			result.WriteRune('_')
		}
	}

	sanitized := result.String()
	for strings.Contains(sanitized, "__") {
		sanitized = strings.ReplaceAll(sanitized, "__", "_")
	}
	sanitized = strings.Trim(sanitized, "_")

	if sanitized == "" {
		return DefaultIdentifier
	}

	if len(sanitized) > MaxIdentifierLength {
		sanitized = truncateWithHash(sanitized)
	}

	return sanitized
}

// truncateWithHash truncates to MaxIdentifierLength, appending a hash suffix
// to preserve uniqueness between long identifiers with a shared prefix.
func truncateWithHash(s string) string {
	hash := sha256.Sum256([]byte(s))
	hashSuffix := "_" + hex.EncodeToString(hash[:])[:8]

	truncated := s[:MaxIdentifierLength-hashSuffixLength]
	truncated = strings.TrimRight(truncated, "_")

	return truncated + hashSuffix
}

// StateKey builds the storage key for rate-limiter state of a
// (client, endpoint) pair.
//
// Format: ratelimit:{sanitized_client}:{sanitized_endpoint}
func StateKey(client, endpoint string) string {
	return "ratelimit:" + Identifier(client) + ":" + Identifier(endpoint)
}
