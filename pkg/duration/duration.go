// Package duration parses and formats durations with day and week units.
//
// Retention windows read better as "7d" or "2w" than "168h". Parse accepts
// Go's standard duration syntax extended with 'd' (24 hours) and 'w' (7
// days); Format renders the largest units first and omits zero components.
package duration

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// Day and Week are the extended units layered over time.ParseDuration.
const (
	Day  = 24 * time.Hour
	Week = 7 * Day
)

// Parse parses a duration string. Day and week components must come before
// any standard Go duration tail: "1w2d12h" works, "12h1d" does not.
func Parse(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("duration: empty string")
	}

	negative := strings.HasPrefix(s, "-")
	if negative {
		s = s[1:]
	}

	var extended time.Duration
	rest := s
	for {
		value, unit, tail, ok := splitLeadingUnit(rest)
		if !ok {
			break
		}
		switch unit {
		case 'd':
			extended += time.Duration(value) * Day
		case 'w':
			extended += time.Duration(value) * Week
		}
		rest = tail
	}

	var std time.Duration
	if rest != "" {
		var err error
		std, err = time.ParseDuration(rest)
		if err != nil {
			return 0, fmt.Errorf("duration: %w", err)
		}
	}

	total := extended + std
	if negative {
		total = -total
	}
	return total, nil
}

// splitLeadingUnit peels one "<int>d" or "<int>w" component off the front of
// s. ok is false when s does not start with such a component.
func splitLeadingUnit(s string) (value int64, unit byte, tail string, ok bool) {
	i := 0
	for i < len(s) && unicode.IsDigit(rune(s[i])) {
		value = value*10 + int64(s[i]-'0')
		i++
	}
	if i == 0 || i >= len(s) {
		return 0, 0, s, false
	}
	if s[i] != 'd' && s[i] != 'w' {
		return 0, 0, s, false
	}
	// "1m30s" must stay with time.ParseDuration; only a bare d/w counts.
	return value, s[i], s[i+1:], true
}

// Format renders a duration using week and day units where they fit, then
// hours, minutes and seconds. Sub-second durations defer to the standard
// formatting.
func Format(d time.Duration) string {
	if d == 0 {
		return "0s"
	}

	var b strings.Builder
	if d < 0 {
		b.WriteByte('-')
		d = -d
	}

	if d < time.Second {
		b.WriteString(d.String())
		return b.String()
	}

	for _, step := range []struct {
		unit string
		size time.Duration
	}{
		{"w", Week},
		{"d", Day},
		{"h", time.Hour},
		{"m", time.Minute},
		{"s", time.Second},
	} {
		if n := d / step.size; n > 0 {
			fmt.Fprintf(&b, "%d%s", n, step.unit)
			d -= n * step.size
		}
	}
	return b.String()
}
