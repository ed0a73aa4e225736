package config

import (
	"fmt"
	"strings"
	"time"
)

// MinBridgeInterval is the shortest accepted bridge handshake, ping or
// write timeout. Shorter values drop healthy agents on ordinary jitter.
const MinBridgeInterval = time.Second

// ParseDurationField parses a Go duration string. Empty means unset (0).
func ParseDurationField(path, raw string) (time.Duration, error) {
	return ParseDurationAtLeast(path, raw, 0)
}

// ParseDurationAtLeast is ParseDurationField with a floor for set values.
// Unset stays 0 so callers can still apply their defaults.
func ParseDurationAtLeast(path, raw string, floor time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	if d > 0 && d < floor {
		return 0, fmt.Errorf("%s: %s is below the %s minimum", path, d, floor)
	}
	return d, nil
}

// ParseDurationOrDefault returns def when raw is unset or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
