package config

import (
	"encoding/json"
	"time"

	"github.com/storyloom/storyloom/pkg/duration"
)

// Duration is a config-file duration. On top of Go's standard syntax it
// accepts day and week units, so retention windows read as "7d" or "2w"
// instead of "168h". It unmarshals from YAML/Viper text, from JSON strings
// and from raw nanosecond numbers.
type Duration time.Duration

// ParseDuration parses the extended duration syntax.
func ParseDuration(s string) (Duration, error) {
	d, err := duration.Parse(s)
	return Duration(d), err
}

// Duration returns the plain time.Duration value.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

// String renders with the largest fitting units ("1w2d", "12h").
func (d Duration) String() string { return duration.Format(time.Duration(d)) }

// UnmarshalText satisfies encoding.TextUnmarshaler for Viper and YAML.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// UnmarshalJSON accepts either "7d" strings or nanosecond numbers.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return d.UnmarshalText([]byte(s))
	}

	var ns int64
	if err := json.Unmarshal(data, &ns); err != nil {
		return err
	}
	*d = Duration(ns)
	return nil
}

// MarshalJSON renders the human-readable form.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// MarshalText renders the human-readable form.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}
