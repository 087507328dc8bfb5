// Package util holds small helpers shared across RobotFeed: environment
// parsing, id generation and calendar-date arithmetic.
package util

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// ParseBoolEnv reads a boolean variable. It accepts true/1/yes/on and
// false/0/no/off in any case; anything else yields defaultValue.
func ParseBoolEnv(key string, defaultValue bool) bool {
	return parseEnv(key, defaultValue, func(v string) (bool, bool) {
		switch strings.ToLower(v) {
		case "true", "1", "yes", "on":
			return true, true
		case "false", "0", "no", "off":
			return false, true
		}
		return false, false
	})
}

// ParseIntEnv reads an integer variable, falling back to defaultValue.
func ParseIntEnv(key string, defaultValue int) int {
	return parseEnv(key, defaultValue, func(v string) (int, bool) {
		n, err := strconv.Atoi(v)
		return n, err == nil
	})
}

// ParseFloatEnv reads a float variable, falling back to defaultValue.
func ParseFloatEnv(key string, defaultValue float64) float64 {
	return parseEnv(key, defaultValue, func(v string) (float64, bool) {
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	})
}

// ParseDurationEnv reads a time.ParseDuration value, falling back to defaultValue.
func ParseDurationEnv(key string, defaultValue time.Duration) time.Duration {
	return parseEnv(key, defaultValue, func(v string) (time.Duration, bool) {
		d, err := time.ParseDuration(v)
		return d, err == nil
	})
}

func parseEnv[T any](key string, defaultValue T, parse func(string) (T, bool)) T {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultValue
	}
	v, ok := parse(val)
	if !ok {
		slog.Warn("parseEnv: invalid value, using default", "key", key, "value", val, "default", defaultValue)
		return defaultValue
	}
	return v
}
