package config

import (
	"fmt"
	"strings"
	"time"
)

// disabledText is accepted wherever a Duration is written and means zero.
const disabledText = "disabled"

// Duration is a time.Duration written as a Go duration string or
// "disabled".
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Disabled reports whether d is zero.
func (d Duration) Disabled() bool {
	return d == 0
}

// String returns "disabled" for zero.
func (d Duration) String() string {
	if d.Disabled() {
		return disabledText
	}
	return time.Duration(d).String()
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if strings.EqualFold(s, disabledText) || s == "0" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}
