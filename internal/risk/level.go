// Package risk defines the ordinal risk scale shared by tools and safety findings.
package risk

import (
	"fmt"
	"strings"
)

// Level is an ordinal risk classification. The zero value is Unspecified.
type Level int

const (
	Unspecified Level = iota
	Low
	Medium
	High
)

// String returns the lowercase level name.
func (l Level) String() string {
	switch l {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	default:
		return "unspecified"
	}
}

// Parse converts "low", "medium" or "high" (any case) into a Level.
func Parse(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return Low, nil
	case "medium":
		return Medium, nil
	case "high":
		return High, nil
	case "":
		return Unspecified, nil
	default:
		return Unspecified, fmt.Errorf("unknown risk level %q", s)
	}
}

// Max returns the highest of the given levels.
func Max(levels ...Level) Level {
	out := Unspecified
	for _, l := range levels {
		if l > out {
			out = l
		}
	}
	return out
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, so levels decode from
// YAML and JSON descriptor files as plain strings.
func (l *Level) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}
