// Package time handles the gateway wire protocol timestamp format,
// a fixed RFC3339-like layout with a mandatory numeric UTC offset.
package time

import (
	"fmt"
	"time"
)

// WireLayout is the only timestamp layout the gateway speaks, e.g. `2018-06-08T10:34:56+08:00`.
// Fractional seconds and the `Z` zone designator are not part of the protocol.
const WireLayout = "2006-01-02T15:04:05-07:00"

// Time is a time.Time that marshals to and from the gateway wire layout.
type Time struct {
	time.Time
}

// New wraps a time.Time in a wire Time
func New(t time.Time) Time {
	return Time{Time: t}
}

// Parse parses a wire protocol timestamp; any value outside the exact layout is an error
func Parse(value string) (Time, error) {
	t, err := time.Parse(WireLayout, value)
	if err != nil {
		return Time{}, fmt.Errorf("error parsing value %s", value)
	}
	return Time{Time: t}, nil
}

// ParseStringToTime takes a string pointer and returns a wire time value.
// If the pointer value is nil then nil is returned
func ParseStringToTime(value *string) (*Time, error) {
	if value == nil {
		return nil, nil
	}
	t, err := Parse(*value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// String formats the time in the wire layout
func (t Time) String() string {
	return t.Format(WireLayout)
}

// MarshalJSON implements json.Marshaler using the wire layout
func (t Time) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.Format(WireLayout) + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler using the wire layout
func (t *Time) UnmarshalJSON(b []byte) error {
	if len(b) < 2 || b[0] != '"' || b[len(b)-1] != '"' {
		return fmt.Errorf("error parsing value %s", string(b))
	}
	parsed, err := Parse(string(b[1 : len(b)-1]))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
