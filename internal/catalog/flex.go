package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Int tolerates integers delivered as JSON numbers, numeric strings or
// booleans. A null leaves the current value untouched so defaults survive,
// and a string that is not a number decodes as 0.
type Int int64

// UnmarshalJSON implements json.Unmarshaler.
func (i *Int) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	switch s {
	case "null":
		return nil
	case `""`, "false":
		*i = 0
		return nil
	case "true":
		*i = 1
		return nil
	}
	quoted := strings.HasPrefix(s, `"`)
	s = strings.TrimSpace(strings.Trim(s, `"`))
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*i = Int(n)
		return nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		*i = Int(f)
		return nil
	}
	if quoted {
		*i = 0
		return nil
	}
	return fmt.Errorf("invalid integer %s", b)
}

// Text tolerates strings delivered as JSON numbers or booleans. A null leaves
// the current value untouched so defaults survive.
type Text string

// UnmarshalJSON implements json.Unmarshaler.
func (t *Text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("invalid string %s: %w", b, err)
		}
		*t = Text(s)
	case '{', '[':
		return fmt.Errorf("invalid string %s", b)
	default:
		*t = Text(b)
	}
	return nil
}

func (t Text) String() string {
	return string(t)
}

func (t Text) int64() int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(string(t)), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func (t Text) float64() float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(string(t)), 64)
	if err != nil {
		return 0
	}
	return f
}
