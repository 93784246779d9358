// Package util reads service configuration from the environment.
package util

import (
	"os"
	"strconv"
	"strings"
	"time"
)

func lookup(k string) string { return strings.TrimSpace(os.Getenv(k)) }

// parsed returns def for unset or unparsable values.
func parsed[T any](k string, def T, parse func(string) (T, error)) T {
	raw := lookup(k)
	if raw == "" {
		return def
	}
	v, err := parse(raw)
	if err != nil {
		return def
	}
	return v
}

func Env(k, def string) string {
	if v := lookup(k); v != "" {
		return v
	}
	return def
}

// MustEnv panics when k is unset; binaries call it before anything starts.
func MustEnv(k string) string {
	v := lookup(k)
	if v == "" {
		panic("missing env: " + k)
	}
	return v
}

// BoolEnv accepts what strconv.ParseBool does (1, t, true, 0, f, false...).
func BoolEnv(k string, def bool) bool { return parsed(k, def, strconv.ParseBool) }

func IntEnv(k string, def int) int { return parsed(k, def, strconv.Atoi) }

func FloatEnv(k string, def float64) float64 {
	return parsed(k, def, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
}

// DurationEnv takes Go durations such as "90s" or "2m".
func DurationEnv(k string, def time.Duration) time.Duration {
	return parsed(k, def, time.ParseDuration)
}

// CSVEnv splits a comma separated list and drops blanks; an empty result
// means def.
func CSVEnv(k string, def []string) []string {
	var out []string
	for _, p := range strings.Split(os.Getenv(k), ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
