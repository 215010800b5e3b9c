// Package environment reads process configuration from environment variables.
//
// Every helper returns either the parsed value or the supplied fallback; only
// RequiredString reports an error, so main can decide how to exit.
package environment

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// lookup returns the trimmed value of name and whether it is non-empty.
func lookup(name string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(name))
	return v, v != ""
}

// StringOr returns the value of name, or fallback when it is unset or blank.
func StringOr(name, fallback string) string {
	if v, ok := lookup(name); ok {
		return v
	}
	return fallback
}

// RequiredString returns the value of name or an error naming the variable.
func RequiredString(name string) (string, error) {
	v, ok := lookup(name)
	if !ok {
		return "", fmt.Errorf("required environment variable %q is not set", name)
	}
	return v, nil
}

// BoolOr parses name with strconv.ParseBool. Unparseable values fall back.
func BoolOr(name string, fallback bool) bool {
	v, ok := lookup(name)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// IntOr parses name as a base-10 integer. Unparseable values fall back.
func IntOr(name string, fallback int) int {
	v, ok := lookup(name)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// FloatOr parses name as a float64. Unparseable values fall back.
func FloatOr(name string, fallback float64) float64 {
	v, ok := lookup(name)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

// DurationOr parses name with time.ParseDuration ("30s", "5m").
func DurationOr(name string, fallback time.Duration) time.Duration {
	v, ok := lookup(name)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// StringSliceOr splits name on commas and drops blank elements. An empty
// result falls back.
func StringSliceOr(name string, fallback []string) []string {
	v, ok := lookup(name)
	if !ok {
		return fallback
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
