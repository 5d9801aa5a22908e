package venue

import (
	"bytes"
	"fmt"
)

// Flag decodes the venue's 0/1 integer booleans as well as JSON true/false.
type Flag bool

// UnmarshalJSON implements json.Unmarshaler.
func (f *Flag) UnmarshalJSON(b []byte) error {
	switch string(bytes.Trim(b, `"`)) {
	case "1", "true":
		*f = true
	case "0", "false", "null", "":
		*f = false
	default:
		return fmt.Errorf("venue: invalid flag %s", b)
	}
	return nil
}

// MarshalJSON encodes the flag the way the venue does.
func (f Flag) MarshalJSON() ([]byte, error) {
	if f {
		return []byte("1"), nil
	}
	return []byte("0"), nil
}
