package event

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Tuple is one raw positional event with its leading type tag stripped.
// Field shapes vary per tag, so access goes through checked accessors that
// surface a decode error instead of panicking on an out-of-range index or a
// mistyped field.
type Tuple []json.RawMessage

// Parse splits a raw update into its numeric tag and the remaining fields.
func Parse(raw json.RawMessage) (int, Tuple, error) {
	var fields []json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return 0, nil, fmt.Errorf("event: malformed tuple: %w", err)
	}
	if len(fields) == 0 {
		return 0, nil, fmt.Errorf("event: empty tuple")
	}

	var tag int
	if err := json.Unmarshal(fields[0], &tag); err != nil {
		return 0, nil, fmt.Errorf("event: non-numeric tag %s: %w", fields[0], err)
	}
	return tag, Tuple(fields[1:]), nil
}

// Len returns the field count.
func (t Tuple) Len() int { return len(t) }

func (t Tuple) field(i int) (json.RawMessage, error) {
	if i < 0 || i >= len(t) {
		return nil, fmt.Errorf("event: field %d out of range (len %d)", i, len(t))
	}
	return t[i], nil
}

// Int reads field i as an integer.
func (t Tuple) Int(i int) (int64, error) {
	raw, err := t.field(i)
	if err != nil {
		return 0, err
	}
	var v int64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("event: field %d is not an integer: %w", i, err)
	}
	return v, nil
}

// String reads field i as a string.
func (t Tuple) String(i int) (string, error) {
	raw, err := t.field(i)
	if err != nil {
		return "", err
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", fmt.Errorf("event: field %d is not a string: %w", i, err)
	}
	return v, nil
}

// Object reads field i as a string-keyed object with raw values.
func (t Tuple) Object(i int) (map[string]json.RawMessage, error) {
	raw, err := t.field(i)
	if err != nil {
		return nil, err
	}
	var v map[string]json.RawMessage
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("event: field %d is not an object: %w", i, err)
	}
	return v, nil
}

// IntSlice reads field i as an array of integers.
func (t Tuple) IntSlice(i int) ([]int64, error) {
	raw, err := t.field(i)
	if err != nil {
		return nil, err
	}
	var v []int64
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("event: field %d is not an integer array: %w", i, err)
	}
	return v, nil
}

// objString renders a raw object value as its string form. String values
// are unquoted; other scalars keep their JSON text.
func objString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// objInt parses a raw object value as an integer, accepting both numeric
// and numeric-string encodings (the extra fields stringify numbers).
func objInt(raw json.RawMessage) (int64, bool) {
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}
