// Package models defines the GORM models shared by the job store and the
// scene cache, plus the identifier helpers the rest of the service builds on.
package models

import (
	"crypto/rand"
	"database/sql/driver"
	"encoding/hex"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Job ids are random UUIDs rendered as 32 lowercase hex characters with no
// separators, so they embed safely in file names and URL paths.
var jobIDPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

// NewJobID generates an opaque job identifier.
func NewJobID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// IsJobID reports whether s is a well-formed job identifier.
func IsJobID(s string) bool {
	return jobIDPattern.MatchString(s)
}

// Now returns the current time. Model timestamps go through this single
// point so they stay uniform across packages.
func Now() time.Time {
	return time.Now()
}

// BoolPtr returns a pointer to b, for optional request fields that must
// distinguish "unset" from "false".
func BoolPtr(b bool) *bool {
	return &b
}

// BoolVal dereferences an optional bool, treating nil as true. Request
// toggles like background music default to enabled.
func BoolVal(b *bool) bool {
	return b == nil || *b
}

// BoolValDefault dereferences an optional bool with an explicit default.
func BoolValDefault(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

// ULID identifies one worker run of a job. Jobs keep their hex id as the
// primary key; a resumed job gets a fresh run ULID so the two executions
// stay distinguishable in logs and progress records.
type ULID ulid.ULID

// NewULID generates a run identifier from the current time.
func NewULID() ULID {
	return ULID(ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader))
}

// ParseULID parses the 26-character canonical form.
func ParseULID(s string) (ULID, error) {
	id, err := ulid.Parse(s)
	if err != nil {
		return ULID{}, fmt.Errorf("invalid ULID: %w", err)
	}
	return ULID(id), nil
}

func (u ULID) String() string {
	return ulid.ULID(u).String()
}

// IsZero reports whether u is the zero identifier.
func (u ULID) IsZero() bool {
	return u == ULID{}
}

// Value stores the canonical string, or NULL for the zero value.
func (u ULID) Value() (driver.Value, error) {
	if u.IsZero() {
		return nil, nil
	}
	return u.String(), nil
}

// Scan accepts NULL, strings and byte slices.
func (u *ULID) Scan(value any) error {
	var s string
	switch v := value.(type) {
	case nil:
		*u = ULID{}
		return nil
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("unsupported type for ULID: %T", value)
	}
	if s == "" {
		*u = ULID{}
		return nil
	}

	id, err := ulid.Parse(s)
	if err != nil {
		return fmt.Errorf("scanning ULID: %w", err)
	}
	*u = ULID(id)
	return nil
}

// MarshalJSON renders the canonical string, or null for the zero value.
func (u ULID) MarshalJSON() ([]byte, error) {
	if u.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + u.String() + `"`), nil
}

// UnmarshalJSON accepts null, "" and the canonical string form.
func (u *ULID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*u = ULID{}
		return nil
	}
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("invalid ULID JSON: %s", string(data))
	}
	return u.Scan(string(data[1 : len(data)-1]))
}

// GormDataType sizes the column for the canonical form.
func (ULID) GormDataType() string {
	return "varchar(26)"
}
