package database

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// KeyVal is one field of an OrderedMap.
type KeyVal struct {
	Key string
	Val any
}

// OrderedMap is a record rendering that keeps column order when encoded as
// JSON.
type OrderedMap []KeyVal

// MarshalJSON implements the json.Marshaler interface. HTML characters are
// written unescaped, so condition strings such as "VersionNT >= 600" keep
// their operators.
func (om OrderedMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	put := func(v any) error {
		if err := enc.Encode(v); err != nil {
			return err
		}
		buf.Truncate(buf.Len() - 1) // Encode appends a newline
		return nil
	}

	buf.WriteByte('{')
	for i, kv := range om {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := put(kv.Key); err != nil {
			return nil, err
		}
		buf.WriteByte(':')
		if err := put(kv.Val); err != nil {
			return nil, fmt.Errorf("field %s: %w", kv.Key, err)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Get returns the value for a key.
func (om OrderedMap) Get(key string) (any, bool) {
	for _, kv := range om {
		if kv.Key == key {
			return kv.Val, true
		}
	}
	return nil, false
}

// ToMap converts to a standard map (losing order)
func (om OrderedMap) ToMap() map[string]any {
	m := make(map[string]any, len(om))
	for _, kv := range om {
		m[kv.Key] = kv.Val
	}
	return m
}

// String implements fmt.Stringer
func (om OrderedMap) String() string {
	b, _ := om.MarshalJSON()
	return string(b)
}
