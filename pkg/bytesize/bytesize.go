// Package bytesize parses and formats byte counts with binary (1024) units.
//
// Disk thresholds like the free-space floor read better as "500MB" or "2GB"
// than raw byte counts. Units are case-insensitive; a bare number means
// bytes; "KiB"-style spellings are accepted as aliases for the same binary
// multipliers.
package bytesize

import (
	"fmt"
	"strconv"
	"strings"
)

// Size is a byte count.
type Size int64

// Binary unit multipliers.
const (
	B  Size = 1
	KB Size = 1 << 10
	MB Size = 1 << 20
	GB Size = 1 << 30
	TB Size = 1 << 40
	PB Size = 1 << 50
)

var units = map[string]Size{
	"":    B,
	"b":   B,
	"k":   KB,
	"kb":  KB,
	"kib": KB,
	"m":   MB,
	"mb":  MB,
	"mib": MB,
	"g":   GB,
	"gb":  GB,
	"gib": GB,
	"t":   TB,
	"tb":  TB,
	"tib": TB,
	"p":   PB,
	"pb":  PB,
	"pib": PB,
}

// Parse parses strings like "500MB", "1.5 GB" or "1048576".
func Parse(s string) (Size, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("bytesize: empty string")
	}

	split := len(s)
	for i, r := range s {
		if (r < '0' || r > '9') && r != '.' {
			split = i
			break
		}
	}

	number := s[:split]
	unit := strings.ToLower(strings.TrimSpace(s[split:]))

	value, err := strconv.ParseFloat(number, 64)
	if err != nil {
		return 0, fmt.Errorf("bytesize: invalid value %q", s)
	}
	multiplier, ok := units[unit]
	if !ok {
		return 0, fmt.Errorf("bytesize: unknown unit %q", unit)
	}
	return Size(value * float64(multiplier)), nil
}

// Format renders a size with the largest unit that keeps the value at or
// above one. Whole values drop the decimals.
func Format(s Size) string {
	if s == 0 {
		return "0B"
	}

	prefix := ""
	if s < 0 {
		prefix = "-"
		s = -s
	}

	for _, step := range []struct {
		unit string
		size Size
	}{
		{"PB", PB},
		{"TB", TB},
		{"GB", GB},
		{"MB", MB},
		{"KB", KB},
	} {
		if s < step.size {
			continue
		}
		value := float64(s) / float64(step.size)
		if value == float64(int64(value)) {
			return fmt.Sprintf("%s%d%s", prefix, int64(value), step.unit)
		}
		text := strconv.FormatFloat(value, 'f', 2, 64)
		text = strings.TrimRight(strings.TrimRight(text, "0"), ".")
		return prefix + text + step.unit
	}
	return fmt.Sprintf("%s%dB", prefix, s)
}

// Bytes returns the size as an int64 byte count.
func (s Size) Bytes() int64 {
	return int64(s)
}

// String implements fmt.Stringer.
func (s Size) String() string {
	return Format(s)
}
