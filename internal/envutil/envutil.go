// Package envutil provides helper functions for environment variable handling.
package envutil

import (
	"fmt"
	"os"
	"strings"
)

// DefaultPrefix is used when ENV_PREFIX is unset.
const DefaultPrefix = "CAPTION"

// Prefix returns ENV_PREFIX, or DefaultPrefix when it is blank.
func Prefix() string {
	if prefix := strings.TrimSpace(os.Getenv("ENV_PREFIX")); prefix != "" {
		return strings.ToUpper(prefix)
	}
	return DefaultPrefix
}

// PrefixedKey combines the active prefix with suffix.
// Example: PrefixedKey("LOG_LEVEL") returns "CAPTION_LOG_LEVEL".
func PrefixedKey(suffix string) string {
	return Prefix() + "_" + strings.TrimSpace(suffix)
}

// Get reads the prefixed variable for suffix.
func Get(suffix string) string {
	return strings.TrimSpace(os.Getenv(PrefixedKey(suffix)))
}

// GetCompatEnv resolves a value from canonical, prefixed and fallback keys.
// Resolution order:
//  1. canonical key (for example CDK_DEFAULT_REGION)
//  2. prefixed key (for example CAPTION_REGION)
//  3. fallback keys in the order given (for example AWS_REGION)
//
// It returns the value and the key it came from.
func GetCompatEnv(suffix, canonicalKey string, fallbacks ...string) (string, string) {
	keys := make([]string, 0, len(fallbacks)+2)
	if trimmed := strings.TrimSpace(canonicalKey); trimmed != "" {
		keys = append(keys, trimmed)
	}
	if trimmed := strings.TrimSpace(suffix); trimmed != "" {
		keys = append(keys, PrefixedKey(trimmed))
	}
	for _, key := range fallbacks {
		if trimmed := strings.TrimSpace(key); trimmed != "" {
			keys = append(keys, trimmed)
		}
	}
	for _, key := range keys {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			return value, key
		}
	}
	return "", ""
}

// SetCompatEnv sets the canonical and prefixed keys. Fallback keys are never written.
func SetCompatEnv(suffix, canonicalKey, value string) error {
	var keys []string
	if trimmed := strings.TrimSpace(canonicalKey); trimmed != "" {
		keys = append(keys, trimmed)
	}
	if trimmed := strings.TrimSpace(suffix); trimmed != "" {
		keys = append(keys, PrefixedKey(trimmed))
	}
	if len(keys) == 0 {
		return fmt.Errorf("set env: canonical key or suffix is required")
	}
	for _, key := range keys {
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("set env %s: %w", key, err)
		}
	}
	return nil
}
