// Package envutil provides shared helpers for environment variable parsing.
package envutil

import (
	"os"
	"strconv"
	"time"
)

// Get returns the env var value or fallback when unset/empty.
func Get(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// GetInt returns the parsed integer env var or fallback on missing/invalid
// values.
func GetInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

// GetBool parses bool values using strconv.ParseBool semantics and uses
// fallback when unset or invalid.
func GetBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return b
}

// GetDuration returns the parsed duration env var or fallback on
// missing/invalid values.
func GetDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}
