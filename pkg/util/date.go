package util

import (
	"strconv"
	"strings"
	"time"
)

// ParseTime accepts RFC3339, with or without fractional seconds, and unix
// seconds.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil && sec > 0 {
		return time.Unix(sec, 0).UTC(), true
	}
	return time.Time{}, false
}

// ParseTimeDefault parses time or returns def if empty/invalid.
func ParseTimeDefault(s string, def time.Time) time.Time {
	if t, ok := ParseTime(s); ok {
		return t
	}
	return def
}

// ParseSince reads a lower time bound: an absolute time accepted by
// ParseTime, or a lookback from now such as "90d" or "36h". Anything else
// yields def.
func ParseSince(s string, now, def time.Time) time.Time {
	if t, ok := ParseTime(s); ok {
		return t
	}
	if d, ok := parseLookback(strings.TrimSpace(s)); ok {
		return now.Add(-d)
	}
	return def
}

func parseLookback(s string) (time.Duration, bool) {
	if n := len(s); n > 1 && s[n-1] == 'd' {
		days, err := strconv.Atoi(s[:n-1])
		if err != nil || days < 0 {
			return 0, false
		}
		return time.Duration(days) * 24 * time.Hour, true
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, false
	}
	return d, true
}
