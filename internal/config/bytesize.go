package config

import (
	"encoding/json"

	"github.com/storyloom/storyloom/pkg/bytesize"
)

// ByteSize is a config-file byte count with human-readable units: "500MB",
// "1.5 GB", or a bare number of bytes. It unmarshals from YAML/Viper text,
// from JSON strings and from raw byte numbers.
type ByteSize int64

// ParseByteSize parses a byte-size string.
func ParseByteSize(s string) (ByteSize, error) {
	size, err := bytesize.Parse(s)
	return ByteSize(size), err
}

// Bytes returns the plain int64 byte count.
func (b ByteSize) Bytes() int64 { return int64(b) }

// String renders with the largest fitting unit ("500MB", "2GB").
func (b ByteSize) String() string { return bytesize.Format(bytesize.Size(b)) }

// UnmarshalText satisfies encoding.TextUnmarshaler for Viper and YAML.
func (b *ByteSize) UnmarshalText(text []byte) error {
	parsed, err := ParseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// UnmarshalJSON accepts either "500MB" strings or raw byte numbers.
func (b *ByteSize) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return b.UnmarshalText([]byte(s))
	}

	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*b = ByteSize(n)
	return nil
}

// MarshalJSON renders the human-readable form.
func (b ByteSize) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}

// MarshalText renders the human-readable form.
func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}
