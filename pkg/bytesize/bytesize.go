// Package bytesize provides utilities for parsing and formatting byte sizes.
package bytesize

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Common byte size units.
const (
	B  uint64 = 1
	KB uint64 = 1024
	MB uint64 = 1024 * KB
	GB uint64 = 1024 * MB
	TB uint64 = 1024 * GB
	PB uint64 = 1024 * TB
)

// sizePattern matches size strings like "100MB", "1.5 GB", "1024", "10Gi"
var sizePattern = regexp.MustCompile(`^\s*(\d+(?:\.\d+)?)\s*([a-zA-Z]*)\s*$`)

// Parse parses a byte size string like "100MB", "1.5GB", or "1024" into bytes.
// Supported units: B, KB, MB, GB, TB, PB (case-insensitive), with the
// Kubernetes-style Ki/Mi/Gi/Ti/Pi and KiB/MiB/... spellings as aliases.
// If no unit is specified, bytes are assumed.
func Parse(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	matches := sizePattern.FindStringSubmatch(s)
	if matches == nil {
		return 0, fmt.Errorf("invalid size format: %q", s)
	}

	unit := strings.TrimSuffix(strings.ToUpper(matches[2]), "IB")
	var multiplier uint64
	switch unit {
	case "", "B":
		multiplier = B
	case "KB", "K", "KI":
		multiplier = KB
	case "MB", "M", "MI":
		multiplier = MB
	case "GB", "G", "GI":
		multiplier = GB
	case "TB", "T", "TI":
		multiplier = TB
	case "PB", "P", "PI":
		multiplier = PB
	default:
		return 0, fmt.Errorf("unknown unit: %q", matches[2])
	}

	// Whole numbers stay exact.
	if n, err := strconv.ParseUint(matches[1], 10, 64); err == nil {
		if n > math.MaxUint64/multiplier {
			return 0, fmt.Errorf("size overflows: %q", s)
		}
		return n * multiplier, nil
	}

	value, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number: %q", matches[1])
	}
	bytes := value * float64(multiplier)
	if bytes >= math.MaxUint64 {
		return 0, fmt.Errorf("size overflows: %q", s)
	}
	return uint64(bytes), nil
}

// MustParse is like Parse but panics on error.
func MustParse(s string) uint64 {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Format formats a byte count into a human-readable string.
func Format(bytes uint64) string {
	if bytes == 0 {
		return "0 B"
	}

	units := []struct {
		threshold uint64
		unit      string
	}{
		{PB, "PB"},
		{TB, "TB"},
		{GB, "GB"},
		{MB, "MB"},
		{KB, "KB"},
	}

	for _, u := range units {
		if bytes >= u.threshold {
			return fmt.Sprintf("%.2f %s", float64(bytes)/float64(u.threshold), u.unit)
		}
	}

	return fmt.Sprintf("%d B", bytes)
}

// FormatLimit is Format, except that zero renders as "unlimited".
func FormatLimit(bytes uint64) string {
	if bytes == 0 {
		return "unlimited"
	}
	return Format(bytes)
}

// Size is a byte size that can be unmarshaled from YAML as either
// a number (bytes) or a string with units ("10Gi", "500Mi", "1TB").
type Size uint64

// UnmarshalYAML implements yaml.Unmarshaler for Size.
func (s *Size) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: size must be a number or string with units (e.g., 10Gi, 500Mi)", node.Line)
	}
	bytes, err := Parse(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: invalid size %q: %w", node.Line, node.Value, err)
	}
	*s = Size(bytes)
	return nil
}

// MarshalYAML writes the size as a plain byte count.
func (s Size) MarshalYAML() (interface{}, error) {
	return uint64(s), nil
}

// UnmarshalText lets flags and environment values use unit strings.
func (s *Size) UnmarshalText(text []byte) error {
	bytes, err := Parse(string(text))
	if err != nil {
		return err
	}
	*s = Size(bytes)
	return nil
}

// Bytes returns the size in bytes.
func (s Size) Bytes() uint64 {
	return uint64(s)
}

// String returns a human-readable representation.
func (s Size) String() string {
	return Format(uint64(s))
}
